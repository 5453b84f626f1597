package model

import (
	"fmt"
	"strings"
	"time"
)

type CloudProvider string

const (
	CloudProviderAWS   CloudProvider = "aws"
	CloudProviderAzure CloudProvider = "azure"
)

// ParseCloudProvider accepts any casing and returns the canonical
// lowercase value.
func ParseCloudProvider(s string) (CloudProvider, error) {
	switch CloudProvider(strings.ToLower(s)) {
	case CloudProviderAWS:
		return CloudProviderAWS, nil
	case CloudProviderAzure:
		return CloudProviderAzure, nil
	}
	return "", NewValidationError(fmt.Sprintf("invalid cloud provider %q, must be one of: %s, %s", s, CloudProviderAWS, CloudProviderAzure))
}

type SeverityLevel string

const (
	SeverityCritical SeverityLevel = "critical"
	SeverityHigh     SeverityLevel = "high"
	SeverityMedium   SeverityLevel = "medium"
	SeverityLow      SeverityLevel = "low"
	SeverityInfo     SeverityLevel = "info"
)

// Rank orders severities for sorting, critical highest.
func (s SeverityLevel) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

func ParseSeverity(s string) (SeverityLevel, error) {
	sev := SeverityLevel(strings.ToLower(s))
	if sev.Rank() == 0 {
		return "", NewValidationError(fmt.Sprintf("invalid severity %q, must be one of: %s, %s, %s, %s, %s",
			s, SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo))
	}
	return sev, nil
}

type VulnerabilityStatus string

const (
	StatusOpen          VulnerabilityStatus = "open"
	StatusAcknowledged  VulnerabilityStatus = "acknowledged"
	StatusResolved      VulnerabilityStatus = "resolved"
	StatusFalsePositive VulnerabilityStatus = "false_positive"
)

func ParseStatus(s string) (VulnerabilityStatus, error) {
	switch st := VulnerabilityStatus(strings.ToLower(s)); st {
	case StatusOpen, StatusAcknowledged, StatusResolved, StatusFalsePositive:
		return st, nil
	}
	return "", NewValidationError(fmt.Sprintf("invalid status %q, must be one of: %s, %s, %s, %s",
		s, StatusOpen, StatusAcknowledged, StatusResolved, StatusFalsePositive))
}

// Finding is the canonical vulnerability record produced by detectors.
// DetectedAt is set once at creation; Status is mutated only through the
// store's status update, never by the scan pipeline.
type Finding struct {
	ID               string              `json:"id"`
	RuleID           string              `json:"rule_id,omitempty"`
	Title            string              `json:"title"`
	Description      string              `json:"description"`
	ResourceID       string              `json:"resource_id"`
	ResourceType     string              `json:"resource_type"`
	CloudProvider    CloudProvider       `json:"cloud_provider"`
	Region           string              `json:"region"`
	Severity         SeverityLevel       `json:"severity"`
	Status           VulnerabilityStatus `json:"status"`
	RemediationSteps string              `json:"remediation_steps,omitempty"`
	CvssScore        float64             `json:"cvss_score,omitempty"`
	DetectedAt       time.Time           `json:"detected_at"`
}

// GlobalRegion marks account or subscription scoped findings.
const GlobalRegion = "global"

// ComplianceFinding is a standard/control scoped judgment derived from a
// Finding. CloudProvider is denormalized from the parent finding so
// compliance queries can filter without a join.
type ComplianceFinding struct {
	ID              string        `json:"id"`
	VulnerabilityID string        `json:"vulnerability_id"`
	Standard        string        `json:"standard"`
	ControlID       string        `json:"control_id"`
	Description     string        `json:"description"`
	IsCompliant     bool          `json:"is_compliant"`
	Evidence        string        `json:"evidence,omitempty"`
	CloudProvider   CloudProvider `json:"cloud_provider,omitempty"`
}

// ScanResult is the batch output of one orchestrator invocation. Detector
// groups that failed contribute no findings and are recorded in GroupErrors.
type ScanResult struct {
	ScanID      string            `json:"scan_id"`
	Findings    []Finding         `json:"findings"`
	GroupErrors map[string]string `json:"group_errors,omitempty"`
	Cancelled   bool              `json:"cancelled,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
}
