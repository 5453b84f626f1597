package azure

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

type countingCredential struct {
	calls int32
}

func (c *countingCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	atomic.AddInt32(&c.calls, 1)
	return azcore.AccessToken{Token: "tok-1", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func TestBearerTokenConcurrentAccess(t *testing.T) {
	cred := &countingCredential{}
	p := &Provider{
		subscriptionID: "s",
		cred:           cred,
		httpClient:     &http.Client{},
	}

	const goroutines = 8
	tokens := make([]string, goroutines)
	errs := make([]error, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = p.bearerToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < goroutines; i++ {
		if errs[i] != nil {
			t.Fatalf("goroutine %d: unexpected error: %v", i, errs[i])
		}
		if tokens[i] != "tok-1" {
			t.Errorf("goroutine %d: expected tok-1, got %s", i, tokens[i])
		}
	}
	if got := atomic.LoadInt32(&cred.calls); got != 1 {
		t.Errorf("expected a single credential call for a fresh token, got %d", got)
	}
}

func TestBearerTokenRefreshOnExpiry(t *testing.T) {
	cred := &countingCredential{}
	p := &Provider{
		subscriptionID: "s",
		cred:           cred,
		httpClient:     &http.Client{},
		token:          "stale",
		tokenExpiry:    time.Now().Add(30 * time.Second),
	}

	tok, err := p.bearerToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "tok-1" {
		t.Errorf("expected refreshed token, got %s", tok)
	}
	if cred.calls != 1 {
		t.Errorf("expected 1 credential call, got %d", cred.calls)
	}
}

func TestResourceTypeFromID(t *testing.T) {
	tests := []struct {
		id       string
		expected string
	}{
		{"/subscriptions/s/resourceGroups/rg/providers/Microsoft.Compute/virtualMachines/vm1", "virtualMachines"},
		{"/subscriptions/s/resourceGroups/rg/providers/Microsoft.Storage/storageAccounts/acct", "storageAccounts"},
		{"opaque", "Unknown"},
		{"", "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := resourceTypeFromID(tt.id); got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestStorageListDecoding(t *testing.T) {
	body := `{
		"value": [{
			"id": "/subscriptions/s/resourceGroups/rg/providers/Microsoft.Storage/storageAccounts/acct",
			"name": "acct",
			"location": "westeurope",
			"properties": {
				"allowBlobPublicAccess": true,
				"supportsHttpsTrafficOnly": false,
				"encryption": {"services": {"blob": {"enabled": true}, "file": {"enabled": false}}}
			}
		}],
		"nextLink": "https://management.azure.com/page2"
	}`

	var list storageList
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list.Value) != 1 {
		t.Fatalf("expected 1 account, got %d", len(list.Value))
	}
	props := list.Value[0].Properties
	if !props.AllowBlobPublicAccess || props.SupportsHTTPSTrafficOnly {
		t.Errorf("unexpected property decode: %+v", props)
	}
	if !props.Encryption.Services.Blob.Enabled || props.Encryption.Services.File.Enabled {
		t.Errorf("unexpected encryption decode: %+v", props.Encryption)
	}
	if list.NextLink != "https://management.azure.com/page2" {
		t.Errorf("expected nextLink preserved, got %q", list.NextLink)
	}
}

func TestNSGListDecoding(t *testing.T) {
	body := `{
		"value": [{
			"id": "/subscriptions/s/resourceGroups/rg/providers/Microsoft.Network/networkSecurityGroups/web",
			"name": "web",
			"location": "westeurope",
			"properties": {
				"securityRules": [{
					"name": "allow-ssh",
					"properties": {
						"access": "Allow",
						"direction": "Inbound",
						"sourceAddressPrefix": "*",
						"destinationPortRange": "22"
					}
				}]
			}
		}]
	}`

	var list nsgList
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list.Value) != 1 || len(list.Value[0].Properties.SecurityRules) != 1 {
		t.Fatalf("unexpected decode: %+v", list)
	}
	rule := list.Value[0].Properties.SecurityRules[0]
	if rule.Properties.Access != "Allow" || rule.Properties.DestinationPortRange != "22" {
		t.Errorf("unexpected rule decode: %+v", rule)
	}
}
