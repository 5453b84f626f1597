// Package severity reconciles provider-native severity signals into the
// canonical 5-level scale. Mapping tables are data, one per source; each
// source keeps its own historical default for unmapped labels.
package severity

import (
	"strings"

	"github.com/cloudsecops/cloud-scanner/model"
)

// FromScore maps a numeric score (roughly 0-10, GuardDuty style) to a
// canonical severity. Thresholds are inclusive on the lower bound and
// evaluated in descending order.
func FromScore(score float64) model.SeverityLevel {
	switch {
	case score >= 7.0:
		return model.SeverityCritical
	case score >= 5.0:
		return model.SeverityHigh
	case score >= 3.0:
		return model.SeverityMedium
	case score >= 1.0:
		return model.SeverityLow
	default:
		return model.SeverityInfo
	}
}

// LabelTable maps one source's categorical vocabulary, case-insensitively.
// Labels outside the vocabulary map to the table's fallback.
type LabelTable struct {
	labels   map[string]model.SeverityLevel
	fallback model.SeverityLevel
}

func (t LabelTable) Normalize(label string) model.SeverityLevel {
	if sev, ok := t.labels[strings.ToLower(label)]; ok {
		return sev
	}
	return t.fallback
}

// SecurityHubLabels covers the AWS Security Hub vocabulary. Unknown labels
// fall back to low.
var SecurityHubLabels = LabelTable{
	labels: map[string]model.SeverityLevel{
		"critical":      model.SeverityCritical,
		"high":          model.SeverityHigh,
		"medium":        model.SeverityMedium,
		"low":           model.SeverityLow,
		"informational": model.SeverityInfo,
	},
	fallback: model.SeverityLow,
}

// SecurityCenterLabels covers the Azure Security Center vocabulary, which
// has no critical tier. Unknown labels fall back to medium, matching the
// source's historical default.
var SecurityCenterLabels = LabelTable{
	labels: map[string]model.SeverityLevel{
		"high":   model.SeverityHigh,
		"medium": model.SeverityMedium,
		"low":    model.SeverityLow,
	},
	fallback: model.SeverityMedium,
}
