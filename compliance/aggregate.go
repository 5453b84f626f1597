package compliance

import (
	"math"
	"sort"

	"github.com/cloudsecops/cloud-scanner/model"
)

// Filter narrows an aggregation to one standard and/or one cloud provider.
// Zero values match everything.
type Filter struct {
	Standard string
	Provider model.CloudProvider
}

type ControlSummary struct {
	ControlID            string  `json:"control_id"`
	TotalResources       int     `json:"total_resources"`
	CompliantResources   int     `json:"compliant_resources"`
	CompliancePercentage float64 `json:"compliance_percentage"`
}

type StandardSummary struct {
	Standard             string           `json:"standard"`
	Controls             []ControlSummary `json:"controls,omitempty"`
	TotalControls        int              `json:"total_controls"`
	CompliantControls    int              `json:"compliant_controls"`
	CompliancePercentage float64          `json:"compliance_percentage"`
}

type Overall struct {
	TotalControls        int     `json:"total_controls"`
	CompliantControls    int     `json:"compliant_controls"`
	CompliancePercentage float64 `json:"compliance_percentage"`
}

type Summary struct {
	Standards []StandardSummary `json:"summary"`
	Overall   Overall           `json:"overall"`
}

// Percentage computes compliant/total*100 rounded to two decimals, and 0
// when the denominator is zero.
func Percentage(compliant, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(compliant)/float64(total)*10000) / 100
}

func (f Filter) matches(cf model.ComplianceFinding) bool {
	if f.Standard != "" && cf.Standard != f.Standard {
		return false
	}
	if f.Provider != "" && cf.CloudProvider != f.Provider {
		return false
	}
	return true
}

// Summarize groups compliance findings by (standard, control) and rolls the
// counts up to per-control, per-standard and overall granularity. A
// compliant finding counts toward both numerator and denominator, a
// non-compliant one toward the denominator only.
func Summarize(findings []model.ComplianceFinding, filter Filter) *Summary {
	type key struct {
		standard string
		control  string
	}
	type counts struct {
		total     int
		compliant int
	}

	grouped := make(map[key]*counts)
	for _, cf := range findings {
		if !filter.matches(cf) {
			continue
		}
		k := key{standard: cf.Standard, control: cf.ControlID}
		c, ok := grouped[k]
		if !ok {
			c = &counts{}
			grouped[k] = c
		}
		c.total++
		if cf.IsCompliant {
			c.compliant++
		}
	}

	byStandard := make(map[string]*StandardSummary)
	for k, c := range grouped {
		s, ok := byStandard[k.standard]
		if !ok {
			s = &StandardSummary{Standard: k.standard}
			byStandard[k.standard] = s
		}
		s.Controls = append(s.Controls, ControlSummary{
			ControlID:            k.control,
			TotalResources:       c.total,
			CompliantResources:   c.compliant,
			CompliancePercentage: Percentage(c.compliant, c.total),
		})
		s.TotalControls += c.total
		s.CompliantControls += c.compliant
	}

	summary := &Summary{Standards: make([]StandardSummary, 0, len(byStandard))}
	for _, s := range byStandard {
		sort.Slice(s.Controls, func(i, j int) bool { return s.Controls[i].ControlID < s.Controls[j].ControlID })
		s.CompliancePercentage = Percentage(s.CompliantControls, s.TotalControls)
		summary.Standards = append(summary.Standards, *s)
		summary.Overall.TotalControls += s.TotalControls
		summary.Overall.CompliantControls += s.CompliantControls
	}
	sort.Slice(summary.Standards, func(i, j int) bool { return summary.Standards[i].Standard < summary.Standards[j].Standard })
	summary.Overall.CompliancePercentage = Percentage(summary.Overall.CompliantControls, summary.Overall.TotalControls)
	return summary
}
