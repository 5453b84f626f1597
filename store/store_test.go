package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudsecops/cloud-scanner/model"
)

func sampleFindings(now time.Time) []model.Finding {
	return []model.Finding{
		{
			ID:            "f-1",
			RuleID:        "aws-sg-open-ingress",
			Title:         "Security Group web has overly permissive ingress rule",
			ResourceID:    "sg-1234",
			ResourceType:  "SecurityGroup",
			CloudProvider: model.CloudProviderAWS,
			Region:        "us-east-1",
			Severity:      model.SeverityCritical,
			Status:        model.StatusOpen,
			DetectedAt:    now.Add(-1 * time.Hour),
		},
		{
			ID:            "f-2",
			RuleID:        "aws-s3-unencrypted",
			Title:         "S3 bucket data lacks default encryption",
			ResourceID:    "data",
			ResourceType:  "S3Bucket",
			CloudProvider: model.CloudProviderAWS,
			Region:        "us-east-1",
			Severity:      model.SeverityHigh,
			Status:        model.StatusOpen,
			DetectedAt:    now.Add(-2 * time.Hour),
		},
		{
			ID:            "f-3",
			RuleID:        "azure-storage-public-blob",
			Title:         "Storage account logs allows public blob access",
			ResourceID:    "/subscriptions/s/resourceGroups/rg/providers/Microsoft.Storage/storageAccounts/logs",
			ResourceType:  "StorageAccount",
			CloudProvider: model.CloudProviderAzure,
			Region:        "eastus",
			Severity:      model.SeverityHigh,
			Status:        model.StatusAcknowledged,
			DetectedAt:    now.Add(-48 * time.Hour),
		},
	}
}

// openStores builds each Store implementation so the behavioral tests run
// against both.
func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), 2)
	if err != nil {
		t.Fatalf("opening sqlite store: %v", err)
	}
	t.Cleanup(func() { sqlStore.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlStore,
	}
}

func TestStoreAndQuery(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.StoreFindings(ctx, sampleFindings(now)); err != nil {
				t.Fatalf("storing findings: %v", err)
			}

			all, err := s.Query(ctx, Filter{})
			if err != nil {
				t.Fatalf("querying: %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("expected 3 findings, got %d", len(all))
			}
			if all[0].ID != "f-1" {
				t.Errorf("expected critical finding first, got %s (%s)", all[0].ID, all[0].Severity)
			}
			if all[1].ID != "f-2" || all[2].ID != "f-3" {
				t.Errorf("expected newest-first within a severity, got %s then %s", all[1].ID, all[2].ID)
			}

			aws, err := s.Query(ctx, Filter{Provider: model.CloudProviderAWS})
			if err != nil {
				t.Fatalf("querying: %v", err)
			}
			if len(aws) != 2 {
				t.Errorf("expected 2 aws findings, got %d", len(aws))
			}

			high, err := s.Query(ctx, Filter{Severities: []model.SeverityLevel{model.SeverityHigh}})
			if err != nil {
				t.Fatalf("querying: %v", err)
			}
			if len(high) != 2 {
				t.Errorf("expected 2 high findings, got %d", len(high))
			}

			acked, err := s.Query(ctx, Filter{Statuses: []model.VulnerabilityStatus{model.StatusAcknowledged}})
			if err != nil {
				t.Fatalf("querying: %v", err)
			}
			if len(acked) != 1 || acked[0].ID != "f-3" {
				t.Errorf("expected only f-3 acknowledged, got %v", acked)
			}

			byType, err := s.Query(ctx, Filter{ResourceType: "S3Bucket", Region: "us-east-1"})
			if err != nil {
				t.Fatalf("querying: %v", err)
			}
			if len(byType) != 1 || byType[0].ID != "f-2" {
				t.Errorf("expected only f-2, got %v", byType)
			}
		})
	}
}

func TestQueryPagination(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.StoreFindings(ctx, sampleFindings(now)); err != nil {
				t.Fatalf("storing findings: %v", err)
			}

			page, err := s.Query(ctx, Filter{Limit: 2})
			if err != nil {
				t.Fatalf("querying: %v", err)
			}
			if len(page) != 2 {
				t.Fatalf("expected 2 findings on first page, got %d", len(page))
			}

			page, err = s.Query(ctx, Filter{Limit: 2, Offset: 2})
			if err != nil {
				t.Fatalf("querying: %v", err)
			}
			if len(page) != 1 || page[0].ID != "f-3" {
				t.Errorf("expected only f-3 on second page, got %v", page)
			}

			page, err = s.Query(ctx, Filter{Offset: 10})
			if err != nil {
				t.Fatalf("querying: %v", err)
			}
			if len(page) != 0 {
				t.Errorf("expected empty page past the end, got %d findings", len(page))
			}
		})
	}
}

func TestUpdateStatus(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.StoreFindings(ctx, sampleFindings(now)); err != nil {
				t.Fatalf("storing findings: %v", err)
			}

			if err := s.UpdateStatus(ctx, "f-2", model.StatusResolved); err != nil {
				t.Fatalf("updating status: %v", err)
			}
			resolved, err := s.Query(ctx, Filter{Statuses: []model.VulnerabilityStatus{model.StatusResolved}})
			if err != nil {
				t.Fatalf("querying: %v", err)
			}
			if len(resolved) != 1 || resolved[0].ID != "f-2" {
				t.Errorf("expected f-2 resolved, got %v", resolved)
			}

			err = s.UpdateStatus(ctx, "no-such-id", model.StatusResolved)
			if err == nil {
				t.Fatalf("expected error for unknown id")
			}
			if !model.IsNotFound(err) {
				t.Errorf("expected not-found error, got %v", err)
			}
		})
	}
}

func TestComplianceRoundTrip(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			findings := []model.ComplianceFinding{
				{ID: "c-1", VulnerabilityID: "f-1", Standard: "CIS", ControlID: "4.1", IsCompliant: false, CloudProvider: model.CloudProviderAWS},
				{ID: "c-2", VulnerabilityID: "f-1", Standard: "NIST_800-53", ControlID: "SC-7", IsCompliant: false, CloudProvider: model.CloudProviderAWS},
				{ID: "c-3", VulnerabilityID: "f-3", Standard: "CIS", ControlID: "3.1", IsCompliant: true, CloudProvider: model.CloudProviderAzure},
			}
			if err := s.StoreComplianceFindings(ctx, findings); err != nil {
				t.Fatalf("storing compliance findings: %v", err)
			}

			cis, err := s.QueryCompliance(ctx, ComplianceFilter{Standard: "CIS"})
			if err != nil {
				t.Fatalf("querying: %v", err)
			}
			if len(cis) != 2 {
				t.Fatalf("expected 2 CIS findings, got %d", len(cis))
			}
			if cis[0].ControlID != "3.1" || cis[1].ControlID != "4.1" {
				t.Errorf("expected control ordering 3.1, 4.1; got %s, %s", cis[0].ControlID, cis[1].ControlID)
			}

			compliant := true
			ok, err := s.QueryCompliance(ctx, ComplianceFilter{IsCompliant: &compliant})
			if err != nil {
				t.Fatalf("querying: %v", err)
			}
			if len(ok) != 1 || ok[0].ID != "c-3" {
				t.Errorf("expected only c-3 compliant, got %v", ok)
			}

			azure, err := s.QueryCompliance(ctx, ComplianceFilter{Provider: model.CloudProviderAzure})
			if err != nil {
				t.Fatalf("querying: %v", err)
			}
			if len(azure) != 1 {
				t.Errorf("expected 1 azure finding, got %d", len(azure))
			}
		})
	}
}

func TestStatistics(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.StoreFindings(ctx, sampleFindings(now)); err != nil {
				t.Fatalf("storing findings: %v", err)
			}

			stats, err := s.Statistics(ctx, "")
			if err != nil {
				t.Fatalf("statistics: %v", err)
			}
			if stats.Total != 3 {
				t.Errorf("expected total 3, got %d", stats.Total)
			}
			if stats.BySeverity[model.SeverityHigh] != 2 || stats.BySeverity[model.SeverityCritical] != 1 {
				t.Errorf("unexpected severity counts: %v", stats.BySeverity)
			}
			if stats.ByProvider[model.CloudProviderAWS] != 2 || stats.ByProvider[model.CloudProviderAzure] != 1 {
				t.Errorf("unexpected provider counts: %v", stats.ByProvider)
			}
			if stats.ByResourceType["SecurityGroup"] != 1 {
				t.Errorf("unexpected resource type counts: %v", stats.ByResourceType)
			}
			if stats.Recent24h != 2 {
				t.Errorf("expected 2 findings in last 24h, got %d", stats.Recent24h)
			}

			awsStats, err := s.Statistics(ctx, model.CloudProviderAWS)
			if err != nil {
				t.Fatalf("statistics: %v", err)
			}
			if awsStats.Total != 2 || awsStats.ByProvider[model.CloudProviderAzure] != 0 {
				t.Errorf("expected aws-only stats, got %+v", awsStats)
			}
		})
	}
}
