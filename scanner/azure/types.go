package azure

import "context"

// Rule identities stamped on findings, used by the compliance mapping.
const (
	RuleOpenInbound           = "azure-nsg-open-inbound"
	RuleStoragePublicBlob     = "azure-storage-public-blob"
	RuleStorageInsecureHTTP   = "azure-storage-insecure-http"
	RuleStorageUnencrypted    = "azure-storage-unencrypted"
	RuleStoragePartialEncrypt = "azure-storage-partial-encryption"
	RuleSecurityCenterFinding = "azure-security-center-finding"
	RuleExcessiveOwners       = "azure-rbac-excessive-owners"
	RuleServicePrincipalOwner = "azure-rbac-service-principal-owner"
)

type NetworkSecurityGroup struct {
	ID       string
	Name     string
	Location string
	Rules    []SecurityRule
}

type SecurityRule struct {
	Name                string
	Access              string
	Direction           string
	SourceAddressPrefix string
	DestinationPorts    string
}

type StorageAccount struct {
	ID                    string
	Name                  string
	Location              string
	AllowBlobPublicAccess bool
	HTTPSOnly             bool
	BlobEncryption        bool
	FileEncryption        bool
}

type Assessment struct {
	DisplayName  string
	Description  string
	Remediation  string
	ResourceID   string
	ResourceType string
	Location     string
	StatusCode   string
	Severity     string
}

type RoleAssignment struct {
	ID               string
	PrincipalID      string
	RoleDefinitionID string
}

type RoleDefinition struct {
	ID       string
	RoleName string
}

// ResourceAPI lists raw resource descriptors for one Azure subscription.
type ResourceAPI interface {
	NetworkSecurityGroups(ctx context.Context) ([]NetworkSecurityGroup, error)
	StorageAccounts(ctx context.Context) ([]StorageAccount, error)
	Assessments(ctx context.Context) ([]Assessment, error)
	RoleDefinitions(ctx context.Context) ([]RoleDefinition, error)
	RoleAssignments(ctx context.Context) ([]RoleAssignment, error)
}
