package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/cloudsecops/cloud-scanner/model"
)

const (
	managementEndpoint = "https://management.azure.com"
	managementScope    = managementEndpoint + "/.default"

	networkAPIVersion       = "2023-09-01"
	storageAPIVersion       = "2023-01-01"
	securityAPIVersion      = "2020-01-01"
	authorizationAPIVersion = "2022-04-01"
)

// Provider adapts the Azure Resource Manager REST API to the ResourceAPI
// descriptor contract. Listing calls are plain JSON GETs authorized with a
// bearer token from the credential.
type Provider struct {
	subscriptionID string
	cred           azcore.TokenCredential
	httpClient     *http.Client

	// tokenMu guards the cached token; detector groups share one Provider
	// and run concurrently.
	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewProvider builds a provider from service principal credentials. Empty
// client credentials fall back to the SDK's default credential chain.
func NewProvider(subscriptionID, tenantID, clientID, clientSecret string) (*Provider, error) {
	var cred azcore.TokenCredential
	var err error
	if clientID != "" {
		cred, err = azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	} else {
		cred, err = azidentity.NewDefaultAzureCredential(nil)
	}
	if err != nil {
		return nil, errors.Wrap(err, "creating azure credential")
	}
	log.Infof("initialized Azure provider for subscription %s", subscriptionID)
	return &Provider{
		subscriptionID: subscriptionID,
		cred:           cred,
		httpClient:     &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (p *Provider) SubscriptionID() string { return p.subscriptionID }

func (p *Provider) bearerToken(ctx context.Context) (string, error) {
	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()
	if p.token != "" && time.Until(p.tokenExpiry) > time.Minute {
		return p.token, nil
	}
	tok, err := p.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{managementScope}})
	if err != nil {
		return "", model.WrapPermissionDenied(err, "acquiring management token")
	}
	p.token = tok.Token
	p.tokenExpiry = tok.ExpiresOn
	return p.token, nil
}

// get performs one ARM GET, following nextLink pages, decoding each page
// into out via the page callback.
func (p *Provider) get(ctx context.Context, url string, page func(body []byte) (string, error)) error {
	for url != "" {
		token, err := p.bearerToken(ctx)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return errors.Wrap(err, "building request")
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return errors.Wrap(err, "calling resource manager")
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return errors.Wrap(err, "reading response")
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return model.WrapPermissionDenied(fmt.Errorf("status %d: %s", resp.StatusCode, body), "listing resources")
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusConflict:
			// resource provider not registered for this subscription
			return model.WrapProviderUnavailable(fmt.Errorf("status %d: %s", resp.StatusCode, body), "listing resources")
		case resp.StatusCode != http.StatusOK:
			return errors.Errorf("resource manager returned status %d: %s", resp.StatusCode, body)
		}

		url, err = page(body)
		if err != nil {
			return model.WrapMalformedResource(err, "decoding resource list")
		}
	}
	return nil
}

func (p *Provider) listURL(resourcePath, apiVersion string) string {
	return fmt.Sprintf("%s/subscriptions/%s/providers/%s?api-version=%s",
		managementEndpoint, p.subscriptionID, resourcePath, apiVersion)
}

type nsgList struct {
	Value []struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Location   string `json:"location"`
		Properties struct {
			SecurityRules []struct {
				Name       string `json:"name"`
				Properties struct {
					Access               string `json:"access"`
					Direction            string `json:"direction"`
					SourceAddressPrefix  string `json:"sourceAddressPrefix"`
					DestinationPortRange string `json:"destinationPortRange"`
				} `json:"properties"`
			} `json:"securityRules"`
		} `json:"properties"`
	} `json:"value"`
	NextLink string `json:"nextLink"`
}

func (p *Provider) NetworkSecurityGroups(ctx context.Context) ([]NetworkSecurityGroup, error) {
	var nsgs []NetworkSecurityGroup
	url := p.listURL("Microsoft.Network/networkSecurityGroups", networkAPIVersion)
	err := p.get(ctx, url, func(body []byte) (string, error) {
		var list nsgList
		if err := json.Unmarshal(body, &list); err != nil {
			return "", err
		}
		for _, raw := range list.Value {
			nsg := NetworkSecurityGroup{ID: raw.ID, Name: raw.Name, Location: raw.Location}
			for _, rule := range raw.Properties.SecurityRules {
				nsg.Rules = append(nsg.Rules, SecurityRule{
					Name:                rule.Name,
					Access:              rule.Properties.Access,
					Direction:           rule.Properties.Direction,
					SourceAddressPrefix: rule.Properties.SourceAddressPrefix,
					DestinationPorts:    rule.Properties.DestinationPortRange,
				})
			}
			nsgs = append(nsgs, nsg)
		}
		return list.NextLink, nil
	})
	return nsgs, err
}

type storageList struct {
	Value []struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Location   string `json:"location"`
		Properties struct {
			AllowBlobPublicAccess    bool `json:"allowBlobPublicAccess"`
			SupportsHTTPSTrafficOnly bool `json:"supportsHttpsTrafficOnly"`
			Encryption               struct {
				Services struct {
					Blob struct {
						Enabled bool `json:"enabled"`
					} `json:"blob"`
					File struct {
						Enabled bool `json:"enabled"`
					} `json:"file"`
				} `json:"services"`
			} `json:"encryption"`
		} `json:"properties"`
	} `json:"value"`
	NextLink string `json:"nextLink"`
}

func (p *Provider) StorageAccounts(ctx context.Context) ([]StorageAccount, error) {
	var accounts []StorageAccount
	url := p.listURL("Microsoft.Storage/storageAccounts", storageAPIVersion)
	err := p.get(ctx, url, func(body []byte) (string, error) {
		var list storageList
		if err := json.Unmarshal(body, &list); err != nil {
			return "", err
		}
		for _, raw := range list.Value {
			accounts = append(accounts, StorageAccount{
				ID:                    raw.ID,
				Name:                  raw.Name,
				Location:              raw.Location,
				AllowBlobPublicAccess: raw.Properties.AllowBlobPublicAccess,
				HTTPSOnly:             raw.Properties.SupportsHTTPSTrafficOnly,
				BlobEncryption:        raw.Properties.Encryption.Services.Blob.Enabled,
				FileEncryption:        raw.Properties.Encryption.Services.File.Enabled,
			})
		}
		return list.NextLink, nil
	})
	return accounts, err
}

type assessmentList struct {
	Value []struct {
		Properties struct {
			DisplayName string `json:"displayName"`
			Status      struct {
				Code     string `json:"code"`
				Severity string `json:"severity"`
			} `json:"status"`
			ResourceDetails struct {
				ID string `json:"id"`
			} `json:"resourceDetails"`
			Metadata struct {
				Description            string `json:"description"`
				RemediationDescription string `json:"remediationDescription"`
				Severity               string `json:"severity"`
			} `json:"metadata"`
		} `json:"properties"`
	} `json:"value"`
	NextLink string `json:"nextLink"`
}

// resourceTypeFromID extracts the type segment of an ARM resource id.
func resourceTypeFromID(resourceID string) string {
	parts := strings.Split(resourceID, "/")
	if len(parts) < 2 {
		return "Unknown"
	}
	return parts[len(parts)-2]
}

func (p *Provider) Assessments(ctx context.Context) ([]Assessment, error) {
	var assessments []Assessment
	url := p.listURL("Microsoft.Security/assessments", securityAPIVersion)
	err := p.get(ctx, url, func(body []byte) (string, error) {
		var list assessmentList
		if err := json.Unmarshal(body, &list); err != nil {
			return "", err
		}
		for _, raw := range list.Value {
			sev := raw.Properties.Status.Severity
			if sev == "" {
				sev = raw.Properties.Metadata.Severity
			}
			resourceID := raw.Properties.ResourceDetails.ID
			if resourceID == "" {
				resourceID = "Unknown"
			}
			assessments = append(assessments, Assessment{
				DisplayName:  raw.Properties.DisplayName,
				Description:  raw.Properties.Metadata.Description,
				Remediation:  raw.Properties.Metadata.RemediationDescription,
				ResourceID:   resourceID,
				ResourceType: resourceTypeFromID(resourceID),
				StatusCode:   raw.Properties.Status.Code,
				Severity:     sev,
			})
		}
		return list.NextLink, nil
	})
	return assessments, err
}

type roleDefinitionList struct {
	Value []struct {
		ID         string `json:"id"`
		Properties struct {
			RoleName string `json:"roleName"`
		} `json:"properties"`
	} `json:"value"`
	NextLink string `json:"nextLink"`
}

func (p *Provider) RoleDefinitions(ctx context.Context) ([]RoleDefinition, error) {
	var defs []RoleDefinition
	url := p.listURL("Microsoft.Authorization/roleDefinitions", authorizationAPIVersion)
	err := p.get(ctx, url, func(body []byte) (string, error) {
		var list roleDefinitionList
		if err := json.Unmarshal(body, &list); err != nil {
			return "", err
		}
		for _, raw := range list.Value {
			defs = append(defs, RoleDefinition{ID: raw.ID, RoleName: raw.Properties.RoleName})
		}
		return list.NextLink, nil
	})
	return defs, err
}

type roleAssignmentList struct {
	Value []struct {
		ID         string `json:"id"`
		Properties struct {
			PrincipalID      string `json:"principalId"`
			RoleDefinitionID string `json:"roleDefinitionId"`
		} `json:"properties"`
	} `json:"value"`
	NextLink string `json:"nextLink"`
}

func (p *Provider) RoleAssignments(ctx context.Context) ([]RoleAssignment, error) {
	var assignments []RoleAssignment
	url := p.listURL("Microsoft.Authorization/roleAssignments", authorizationAPIVersion)
	err := p.get(ctx, url, func(body []byte) (string, error) {
		var list roleAssignmentList
		if err := json.Unmarshal(body, &list); err != nil {
			return "", err
		}
		for _, raw := range list.Value {
			assignments = append(assignments, RoleAssignment{
				ID:               raw.ID,
				PrincipalID:      raw.Properties.PrincipalID,
				RoleDefinitionID: raw.Properties.RoleDefinitionID,
			})
		}
		return list.NextLink, nil
	})
	return assignments, err
}
