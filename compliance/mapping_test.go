package compliance

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudsecops/cloud-scanner/model"
)

func TestDerive(t *testing.T) {
	m := DefaultMapping()

	findings := []model.Finding{
		{
			ID:            "v-1",
			RuleID:        "aws-sg-open-ingress",
			Title:         "Security Group web has overly permissive ingress rule",
			CloudProvider: model.CloudProviderAWS,
			DetectedAt:    time.Now().UTC(),
		},
		{
			ID:            "v-2",
			RuleID:        "aws-securityhub-finding", // no mapping
			CloudProvider: model.CloudProviderAWS,
		},
	}

	derived := Derive(findings, m)

	if len(derived) != 2 {
		t.Fatalf("expected 2 compliance findings for the mapped rule only, got %d", len(derived))
	}
	for _, cf := range derived {
		if cf.VulnerabilityID != "v-1" {
			t.Errorf("expected parent v-1, got %s", cf.VulnerabilityID)
		}
		if cf.IsCompliant {
			t.Errorf("derived findings must be non-compliant")
		}
		if cf.CloudProvider != model.CloudProviderAWS {
			t.Errorf("expected provider denormalized onto compliance finding")
		}
		if cf.ID == "" {
			t.Errorf("expected generated id")
		}
	}
	if derived[0].Standard != "CIS" || derived[0].ControlID != "4.1" {
		t.Errorf("unexpected first control: %+v", derived[0])
	}
}

func TestLoadMapping(t *testing.T) {
	content := `rules:
  aws-sg-open-ingress:
    - standard: CIS
      control_id: "4.1"
      description: Restrict administrative ingress
  custom-rule:
    - standard: SOC2
      control_id: CC6.1
      description: Logical access controls
    - standard: HIPAA
      control_id: "164.312"
      description: Technical safeguards
`
	path := filepath.Join(t.TempDir(), "mapping.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	m, err := LoadMapping(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	controls := m.ControlsFor("custom-rule")
	if len(controls) != 2 {
		t.Fatalf("expected 2 controls, got %d", len(controls))
	}
	if controls[0].Standard != "SOC2" || controls[0].ControlID != "CC6.1" {
		t.Errorf("unexpected control: %+v", controls[0])
	}
	if got := m.ControlsFor("absent-rule"); got != nil {
		t.Errorf("expected nil for absent rule, got %v", got)
	}
}

func TestLoadMappingErrors(t *testing.T) {
	if _, err := LoadMapping(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Errorf("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("rules: [not: a: map"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadMapping(path); err == nil {
		t.Errorf("expected error for malformed yaml")
	}
}

func TestDefaultMappingCoversDetectorRules(t *testing.T) {
	m := DefaultMapping()
	for _, rule := range []string{
		"aws-sg-open-ingress",
		"aws-s3-unencrypted",
		"aws-s3-public-access",
		"aws-iam-wildcard-policy",
		"azure-nsg-open-inbound",
		"azure-storage-public-blob",
		"azure-storage-insecure-http",
		"azure-storage-unencrypted",
		"azure-storage-partial-encryption",
		"azure-rbac-excessive-owners",
		"azure-rbac-service-principal-owner",
	} {
		if len(m.ControlsFor(rule)) == 0 {
			t.Errorf("expected mapping for rule %s", rule)
		}
	}
}
