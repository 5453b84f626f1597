package output

import (
	"time"

	"github.com/cloudsecops/cloud-scanner/model"
)

// ScanDetail is the summary record attached to a completed scan.
type ScanDetail struct {
	ScanID   string `json:"scan_id,omitempty"`
	Provider string `json:"cloud_provider,omitempty"`
	Severity struct {
		Critical int `json:"critical,omitempty"`
		High     int `json:"high,omitempty"`
		Medium   int `json:"medium,omitempty"`
		Low      int `json:"low,omitempty"`
		Info     int `json:"info,omitempty"`
	} `json:"severity,omitempty"`
	MaxCvssScore float64   `json:"max_cvss_score,omitempty"`
	TimeStamp    time.Time `json:"time_stamp,omitempty"`
	Total        int       `json:"total,omitempty"`
}

// Summarize tallies the findings of one scan by severity.
func Summarize(result *model.ScanResult, provider string) *ScanDetail {
	detail := &ScanDetail{
		ScanID:    result.ScanID,
		Provider:  provider,
		TimeStamp: result.CompletedAt,
		Total:     len(result.Findings),
	}
	for _, f := range result.Findings {
		switch f.Severity {
		case model.SeverityCritical:
			detail.Severity.Critical++
		case model.SeverityHigh:
			detail.Severity.High++
		case model.SeverityMedium:
			detail.Severity.Medium++
		case model.SeverityLow:
			detail.Severity.Low++
		case model.SeverityInfo:
			detail.Severity.Info++
		}
		if f.CvssScore > detail.MaxCvssScore {
			detail.MaxCvssScore = f.CvssScore
		}
	}
	return detail
}
