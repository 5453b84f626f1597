package output

import (
	"encoding/json"
	"io"
	"os"
	"sort"

	tw "github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"

	"github.com/cloudsecops/cloud-scanner/model"
	"github.com/cloudsecops/cloud-scanner/utils"
)

// SortFindings orders findings for display, most severe first and newest
// first within a severity.
func SortFindings(findings []model.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		ri, rj := findings[i].Severity.Rank(), findings[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return findings[i].DetectedAt.After(findings[j].DetectedAt)
	})
}

func TableOutput(findings []model.Finding) error {
	table := tw.NewWriter(os.Stdout)
	table.SetHeader([]string{"Severity", "Resource", "Type", "Region", "Title"})
	table.SetHeaderLine(true)
	table.SetBorder(true)
	table.SetAutoWrapText(true)
	table.SetAutoFormatHeaders(true)
	table.SetColMinWidth(0, 10)
	table.SetColMinWidth(1, 20)
	table.SetColMinWidth(2, 15)
	table.SetColMinWidth(3, 12)
	table.SetColMinWidth(4, 50)

	for _, f := range findings {
		table.Append([]string{string(f.Severity), f.ResourceID, f.ResourceType, f.Region, f.Title})
	}
	table.Render()
	return nil
}

func JSONOutput(w io.Writer, result *model.ScanResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func ExitOnSeverityScore(score float64, failOnScore float64) {
	log.Debugf("ExitOnSeverityScore score=%f failOnScore=%f", score, failOnScore)
	if score >= failOnScore {
		log.Fatalf("Exit cloud scan. CVSS score (%f) reached/exceeded the limit (%f).",
			score, failOnScore)
	}
}

func ExitOnSeverity(severity string, count int, failOnCount int) {
	log.Debugf("ExitOnSeverity severity=%s count=%d failOnCount=%d", severity, count, failOnCount)
	if count >= failOnCount {
		if len(severity) > 0 {
			msg := "Exit cloud scan. Number of %s findings (%d) reached/exceeded the limit (%d)."
			log.Fatalf(msg, severity, count, failOnCount)
		}
		msg := "Exit cloud scan. Number of findings (%d) reached/exceeded the limit (%d)."
		log.Fatalf(msg, count, failOnCount)
	}
}

// ExceedsThresholds reports whether any configured fail-on threshold is hit.
// FailOn delegates here before terminating the process.
func ExceedsThresholds(cfg *utils.Config, detail *ScanDetail) (string, int, int, bool) {
	if cfg.FailOnCount > 0 && detail.Total >= cfg.FailOnCount {
		return "", detail.Total, cfg.FailOnCount, true
	}
	if cfg.FailOnCriticalCount > 0 && detail.Severity.Critical >= cfg.FailOnCriticalCount {
		return string(model.SeverityCritical), detail.Severity.Critical, cfg.FailOnCriticalCount, true
	}
	if cfg.FailOnHighCount > 0 && detail.Severity.High >= cfg.FailOnHighCount {
		return string(model.SeverityHigh), detail.Severity.High, cfg.FailOnHighCount, true
	}
	if cfg.FailOnMediumCount > 0 && detail.Severity.Medium >= cfg.FailOnMediumCount {
		return string(model.SeverityMedium), detail.Severity.Medium, cfg.FailOnMediumCount, true
	}
	if cfg.FailOnLowCount > 0 && detail.Severity.Low >= cfg.FailOnLowCount {
		return string(model.SeverityLow), detail.Severity.Low, cfg.FailOnLowCount, true
	}
	return "", 0, 0, false
}

func FailOn(cfg *utils.Config, detail *ScanDetail) {
	if severity, count, limit, hit := ExceedsThresholds(cfg, detail); hit {
		ExitOnSeverity(severity, count, limit)
	}
	if cfg.FailOnScore > 0.0 {
		ExitOnSeverityScore(detail.MaxCvssScore, cfg.FailOnScore)
	}
}
