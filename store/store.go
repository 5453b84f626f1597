// Package store persists findings and compliance findings and serves the
// filtered queries used by the API layer.
package store

import (
	"context"

	"github.com/cloudsecops/cloud-scanner/model"
)

// Filter narrows a finding query. Zero values match everything; Limit
// defaults to 100 rows.
type Filter struct {
	Provider     model.CloudProvider
	Severities   []model.SeverityLevel
	Statuses     []model.VulnerabilityStatus
	ResourceType string
	Region       string
	Limit        int
	Offset       int
}

const DefaultQueryLimit = 100

// limit resolves the effective row cap: the default for zero, unlimited
// (reported as -1) for negative values.
func (f Filter) limit() int {
	if f.Limit == 0 {
		return DefaultQueryLimit
	}
	if f.Limit < 0 {
		return -1
	}
	return f.Limit
}

// ComplianceFilter narrows a compliance finding query.
type ComplianceFilter struct {
	Standard    string
	Provider    model.CloudProvider
	IsCompliant *bool
	Limit       int
	Offset      int
}

func (f ComplianceFilter) limit() int {
	if f.Limit == 0 {
		return DefaultQueryLimit
	}
	if f.Limit < 0 {
		return -1
	}
	return f.Limit
}

// Statistics summarizes the stored findings for one provider, or all
// providers when the filter is empty.
type Statistics struct {
	Total          int                               `json:"total"`
	BySeverity     map[model.SeverityLevel]int       `json:"by_severity"`
	ByStatus       map[model.VulnerabilityStatus]int `json:"by_status"`
	ByProvider     map[model.CloudProvider]int       `json:"by_cloud_provider"`
	ByResourceType map[string]int                    `json:"by_resource_type"`
	Recent24h      int                               `json:"recent_24h"`
}

// Store is the persistence collaborator for the scan pipeline. The pipeline
// only creates findings; status transitions happen exclusively through
// UpdateStatus.
type Store interface {
	StoreFindings(ctx context.Context, findings []model.Finding) error
	Query(ctx context.Context, filter Filter) ([]model.Finding, error)
	// UpdateStatus returns a not-found error when the id is unknown.
	UpdateStatus(ctx context.Context, id string, status model.VulnerabilityStatus) error
	StoreComplianceFindings(ctx context.Context, findings []model.ComplianceFinding) error
	QueryCompliance(ctx context.Context, filter ComplianceFilter) ([]model.ComplianceFinding, error)
	Statistics(ctx context.Context, provider model.CloudProvider) (*Statistics, error)
	Close() error
}
