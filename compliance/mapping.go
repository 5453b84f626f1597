// Package compliance derives standard/control scoped judgments from
// findings and rolls them up into compliance summaries.
package compliance

import (
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/cloudsecops/cloud-scanner/model"
)

// Standard describes one supported compliance standard.
type Standard struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Standards is the built-in catalogue.
var Standards = []Standard{
	{Name: "CIS", Description: "Center for Internet Security Benchmarks"},
	{Name: "NIST_800-53", Description: "NIST Special Publication 800-53 Security Controls"},
	{Name: "PCI_DSS", Description: "Payment Card Industry Data Security Standard"},
	{Name: "ISO_27001", Description: "ISO/IEC 27001 Information Security Standard"},
	{Name: "HIPAA", Description: "Health Insurance Portability and Accountability Act"},
	{Name: "GDPR", Description: "General Data Protection Regulation"},
	{Name: "SOC2", Description: "Service Organization Control 2"},
}

// Control identifies one control within a standard.
type Control struct {
	Standard    string `yaml:"standard"`
	ControlID   string `yaml:"control_id"`
	Description string `yaml:"description"`
}

// Mapping resolves a detector rule to the controls it evidences. A rule
// absent from the mapping contributes no compliance findings.
type Mapping struct {
	rules map[string][]Control
}

type mappingFile struct {
	Rules map[string][]Control `yaml:"rules"`
}

// LoadMapping reads a rule-to-control mapping from a yaml file.
func LoadMapping(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading compliance mapping")
	}
	var file mappingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "parsing compliance mapping")
	}
	log.Infof("loaded compliance mapping with %d rules from %s", len(file.Rules), path)
	return &Mapping{rules: file.Rules}, nil
}

// DefaultMapping covers the built-in detector rules.
func DefaultMapping() *Mapping {
	return &Mapping{rules: map[string][]Control{
		"aws-sg-open-ingress": {
			{Standard: "CIS", ControlID: "4.1", Description: "Ensure no security groups allow ingress from 0.0.0.0/0 to remote administration ports"},
			{Standard: "NIST_800-53", ControlID: "SC-7", Description: "Boundary Protection"},
		},
		"aws-s3-unencrypted": {
			{Standard: "CIS", ControlID: "2.1.1", Description: "Ensure S3 buckets employ encryption-at-rest"},
			{Standard: "PCI_DSS", ControlID: "3.4", Description: "Render stored cardholder data unreadable"},
		},
		"aws-s3-public-access": {
			{Standard: "CIS", ControlID: "2.1.5", Description: "Ensure S3 buckets block public access"},
		},
		"aws-iam-wildcard-policy": {
			{Standard: "CIS", ControlID: "1.16", Description: "Ensure IAM policies that allow full administrative privileges are not attached"},
			{Standard: "NIST_800-53", ControlID: "AC-6", Description: "Least Privilege"},
		},
		"azure-nsg-open-inbound": {
			{Standard: "CIS", ControlID: "6.1", Description: "Ensure RDP and SSH access is restricted from the internet"},
			{Standard: "NIST_800-53", ControlID: "SC-7", Description: "Boundary Protection"},
		},
		"azure-storage-public-blob": {
			{Standard: "CIS", ControlID: "3.5", Description: "Ensure public access level is disabled for storage accounts"},
		},
		"azure-storage-insecure-http": {
			{Standard: "CIS", ControlID: "3.1", Description: "Ensure secure transfer is enabled for storage accounts"},
			{Standard: "PCI_DSS", ControlID: "4.1", Description: "Use strong cryptography during transmission"},
		},
		"azure-storage-unencrypted": {
			{Standard: "CIS", ControlID: "3.2", Description: "Ensure storage service encryption is enabled"},
		},
		"azure-storage-partial-encryption": {
			{Standard: "CIS", ControlID: "3.2", Description: "Ensure storage service encryption is enabled"},
		},
		"azure-rbac-excessive-owners": {
			{Standard: "CIS", ControlID: "1.23", Description: "Ensure a minimal number of subscription owners"},
		},
		"azure-rbac-service-principal-owner": {
			{Standard: "NIST_800-53", ControlID: "AC-6", Description: "Least Privilege"},
		},
	}}
}

// ControlsFor returns the controls evidenced by a rule, or nil when the
// rule has no mapping.
func (m *Mapping) ControlsFor(ruleID string) []Control {
	return m.rules[ruleID]
}

// Derive joins findings with the mapping, producing one non-compliant
// ComplianceFinding per (finding, control) pair. Findings whose rule has no
// mapping contribute nothing.
func Derive(findings []model.Finding, m *Mapping) []model.ComplianceFinding {
	var derived []model.ComplianceFinding
	for _, f := range findings {
		for _, c := range m.ControlsFor(f.RuleID) {
			derived = append(derived, model.ComplianceFinding{
				ID:              uuid.NewString(),
				VulnerabilityID: f.ID,
				Standard:        c.Standard,
				ControlID:       c.ControlID,
				Description:     c.Description,
				IsCompliant:     false,
				Evidence:        f.Title,
				CloudProvider:   f.CloudProvider,
			})
		}
	}
	return derived
}
