package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cloudsecops/cloud-scanner/model"
)

// MemoryStore is an in-memory Store used when no database is configured.
// Contents are lost on process exit.
type MemoryStore struct {
	mu         sync.RWMutex
	findings   []model.Finding
	compliance []model.ComplianceFinding
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) StoreFindings(_ context.Context, findings []model.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findings = append(s.findings, findings...)
	return nil
}

func (f Filter) matches(v model.Finding) bool {
	if f.Provider != "" && v.CloudProvider != f.Provider {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, v.Severity) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, v.Status) {
		return false
	}
	if f.ResourceType != "" && v.ResourceType != f.ResourceType {
		return false
	}
	if f.Region != "" && v.Region != f.Region {
		return false
	}
	return true
}

func containsSeverity(levels []model.SeverityLevel, level model.SeverityLevel) bool {
	for _, l := range levels {
		if l == level {
			return true
		}
	}
	return false
}

func containsStatus(statuses []model.VulnerabilityStatus, status model.VulnerabilityStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (s *MemoryStore) Query(_ context.Context, filter Filter) ([]model.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.Finding
	for _, v := range s.findings {
		if filter.matches(v) {
			matched = append(matched, v)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		ri, rj := matched[i].Severity.Rank(), matched[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return matched[i].DetectedAt.After(matched[j].DetectedAt)
	})

	if filter.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[filter.Offset:]
	if limit := filter.limit(); limit >= 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status model.VulnerabilityStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.findings {
		if s.findings[i].ID == id {
			s.findings[i].Status = status
			return nil
		}
	}
	return model.NewNotFoundError(fmt.Sprintf("vulnerability %s not found", id))
}

func (s *MemoryStore) StoreComplianceFindings(_ context.Context, findings []model.ComplianceFinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compliance = append(s.compliance, findings...)
	return nil
}

func (s *MemoryStore) QueryCompliance(_ context.Context, filter ComplianceFilter) ([]model.ComplianceFinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []model.ComplianceFinding
	for _, cf := range s.compliance {
		if filter.Standard != "" && cf.Standard != filter.Standard {
			continue
		}
		if filter.Provider != "" && cf.CloudProvider != filter.Provider {
			continue
		}
		if filter.IsCompliant != nil && cf.IsCompliant != *filter.IsCompliant {
			continue
		}
		matched = append(matched, cf)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Standard != matched[j].Standard {
			return matched[i].Standard < matched[j].Standard
		}
		return matched[i].ControlID < matched[j].ControlID
	})

	if filter.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[filter.Offset:]
	if limit := filter.limit(); limit >= 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) Statistics(_ context.Context, provider model.CloudProvider) (*Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Statistics{
		BySeverity:     make(map[model.SeverityLevel]int),
		ByStatus:       make(map[model.VulnerabilityStatus]int),
		ByProvider:     make(map[model.CloudProvider]int),
		ByResourceType: make(map[string]int),
	}
	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	for _, v := range s.findings {
		if provider != "" && v.CloudProvider != provider {
			continue
		}
		stats.Total++
		stats.BySeverity[v.Severity]++
		stats.ByStatus[v.Status]++
		stats.ByProvider[v.CloudProvider]++
		stats.ByResourceType[v.ResourceType]++
		if !v.DetectedAt.Before(cutoff) {
			stats.Recent24h++
		}
	}
	return stats, nil
}
