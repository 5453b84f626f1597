package aws

import "context"

// Rule identities stamped on findings, used by the compliance mapping.
const (
	RuleOpenIngress        = "aws-sg-open-ingress"
	RuleBucketUnencrypted  = "aws-s3-unencrypted"
	RuleBucketPublicAccess = "aws-s3-public-access"
	RuleWildcardPolicy     = "aws-iam-wildcard-policy"
	RuleSecurityHubFinding = "aws-securityhub-finding"
	RuleGuardDutyFinding   = "aws-guardduty-finding"
)

// Regions is the scannable region list served by the API.
var Regions = []string{
	"us-east-1", "us-east-2", "us-west-1", "us-west-2",
	"eu-west-1", "eu-west-2", "eu-west-3", "eu-central-1", "eu-north-1",
	"ap-south-1", "ap-southeast-1", "ap-southeast-2",
	"ap-northeast-1", "ap-northeast-2", "ap-northeast-3",
	"ca-central-1", "sa-east-1",
}

// ResourceTypes enumerates the resource types findings can reference.
var ResourceTypes = []string{
	"SecurityGroup", "S3Bucket", "IAMPolicy", "EC2Instance", "AccessKey",
}

// Descriptor types below are constructed once at the provider boundary so
// detectors never depend on the SDK's object model.

type SecurityGroup struct {
	GroupID   string
	GroupName string
	Ingress   []IngressRule
}

// IngressRule ports are nil when the permission spans all ports.
type IngressRule struct {
	Protocol    string
	FromPort    *int64
	ToPort      *int64
	SourceCIDRs []string
}

type Bucket struct {
	Name      string
	Encrypted bool
	// PublicAccess is nil when the block configuration could not be read;
	// such buckets are skipped rather than flagged.
	PublicAccess *PublicAccessBlock
}

type PublicAccessBlock struct {
	BlockPublicACLs       bool
	IgnorePublicACLs      bool
	BlockPublicPolicy     bool
	RestrictPublicBuckets bool
}

func (b PublicAccessBlock) FullyEnabled() bool {
	return b.BlockPublicACLs && b.IgnorePublicACLs && b.BlockPublicPolicy && b.RestrictPublicBuckets
}

type Policy struct {
	PolicyID   string
	PolicyName string
	Statements []PolicyStatement
}

// PolicyStatement holds Action and Resource already flattened to lists;
// the scalar and list wire forms are handled uniformly at decode time.
type PolicyStatement struct {
	Effect    string
	Actions   []string
	Resources []string
}

type HubFinding struct {
	Title         string
	Description   string
	ResourceID    string
	ResourceType  string
	Region        string
	SeverityLabel string
	Remediation   string
}

type GuardDutyFinding struct {
	Title        string
	Description  string
	ResourceID   string
	ResourceType string
	Severity     float64
}

// ResourceAPI lists raw resource descriptors for one AWS account. Listing
// failures carry a model.Error kind so the orchestrator can record and skip
// the group.
type ResourceAPI interface {
	SecurityGroups(ctx context.Context) ([]SecurityGroup, error)
	Buckets(ctx context.Context) ([]Bucket, error)
	Policies(ctx context.Context) ([]Policy, error)
	SecurityHubFindings(ctx context.Context) ([]HubFinding, error)
	GuardDutyFindings(ctx context.Context) ([]GuardDutyFinding, error)
}
