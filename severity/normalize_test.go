package severity

import (
	"testing"

	"github.com/cloudsecops/cloud-scanner/model"
)

func TestFromScore(t *testing.T) {
	tests := []struct {
		name     string
		score    float64
		expected model.SeverityLevel
	}{
		{"ten", 10.0, model.SeverityCritical},
		{"critical lower bound", 7.0, model.SeverityCritical},
		{"just below critical", 6.9, model.SeverityHigh},
		{"high lower bound", 5.0, model.SeverityHigh},
		{"medium lower bound", 3.0, model.SeverityMedium},
		{"low lower bound", 1.0, model.SeverityLow},
		{"below one", 0.9, model.SeverityInfo},
		{"zero", 0, model.SeverityInfo},
		{"negative", -1, model.SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromScore(tt.score); got != tt.expected {
				t.Errorf("FromScore(%v): expected %s, got %s", tt.score, tt.expected, got)
			}
		})
	}
}

func TestSecurityHubLabels(t *testing.T) {
	tests := []struct {
		label    string
		expected model.SeverityLevel
	}{
		{"CRITICAL", model.SeverityCritical},
		{"HIGH", model.SeverityHigh},
		{"MEDIUM", model.SeverityMedium},
		{"LOW", model.SeverityLow},
		{"INFORMATIONAL", model.SeverityInfo},
		{"informational", model.SeverityInfo},
		{"Critical", model.SeverityCritical},
		// unknown labels default to low, never critical
		{"SEVERE", model.SeverityLow},
		{"", model.SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			if got := SecurityHubLabels.Normalize(tt.label); got != tt.expected {
				t.Errorf("Normalize(%q): expected %s, got %s", tt.label, tt.expected, got)
			}
		})
	}
}

func TestSecurityCenterLabels(t *testing.T) {
	tests := []struct {
		label    string
		expected model.SeverityLevel
	}{
		{"High", model.SeverityHigh},
		{"Medium", model.SeverityMedium},
		{"Low", model.SeverityLow},
		{"LOW", model.SeverityLow},
		// Security Center keeps its own default for unknown labels
		{"Severe", model.SeverityMedium},
		{"", model.SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			if got := SecurityCenterLabels.Normalize(tt.label); got != tt.expected {
				t.Errorf("Normalize(%q): expected %s, got %s", tt.label, tt.expected, got)
			}
		})
	}
}
