package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudsecops/cloud-scanner/compliance"
	"github.com/cloudsecops/cloud-scanner/model"
	"github.com/cloudsecops/cloud-scanner/scanner"
	"github.com/cloudsecops/cloud-scanner/store"
	"github.com/cloudsecops/cloud-scanner/utils"
)

func newTestServer(t *testing.T, groups GroupSource) (*Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	s := New(utils.Config{ScanConcurrency: 2}, st, compliance.DefaultMapping(), groups)
	t.Cleanup(s.Close)
	return s, st
}

func doRequest(t *testing.T, s *Server, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
}

func seedFindings(t *testing.T, st *store.MemoryStore) {
	t.Helper()
	now := time.Now().UTC()
	err := st.StoreFindings(context.Background(), []model.Finding{
		{
			ID: "f-1", RuleID: "aws-sg-open-ingress", Title: "open ingress",
			ResourceID: "sg-1", ResourceType: "SecurityGroup",
			CloudProvider: model.CloudProviderAWS, Region: "us-east-1",
			Severity: model.SeverityCritical, Status: model.StatusOpen, DetectedAt: now,
		},
		{
			ID: "f-2", RuleID: "azure-storage-public-blob", Title: "public blob",
			ResourceID: "acct-1", ResourceType: "StorageAccount",
			CloudProvider: model.CloudProviderAzure, Region: "eastus",
			Severity: model.SeverityHigh, Status: model.StatusOpen, DetectedAt: now,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func staticGroups(findings []model.Finding) GroupSource {
	return func(model.CloudProvider) ([]scanner.DetectorGroup, error) {
		return []scanner.DetectorGroup{
			scanner.NewGroup("static", func(context.Context) ([]model.Finding, error) {
				return findings, nil
			}),
		}, nil
	}
}

func waitForScan(t *testing.T, s *Server, scanID string) ScanStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		w := doRequest(t, s, http.MethodGet, "/api/v1/scans/"+scanID, "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 for scan status, got %d", w.Code)
		}
		var status ScanStatus
		decodeBody(t, w, &status)
		if status.Status == ScanStatusCompleted || status.Status == ScanStatusFailed {
			return status
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("scan %s did not finish", scanID)
	return ScanStatus{}
}

func TestScanLifecycle(t *testing.T) {
	finding := model.Finding{
		ID: "f-scan", RuleID: "aws-sg-open-ingress", Title: "open ingress",
		ResourceID: "sg-9", ResourceType: "SecurityGroup",
		CloudProvider: model.CloudProviderAWS, Region: "us-east-1",
		Severity: model.SeverityCritical, Status: model.StatusOpen,
		DetectedAt: time.Now().UTC(),
	}
	s, st := newTestServer(t, staticGroups([]model.Finding{finding}))

	w := doRequest(t, s, http.MethodPost, "/api/v1/aws/scan", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var accepted struct {
		ScanID string `json:"scan_id"`
		Status string `json:"status"`
	}
	decodeBody(t, w, &accepted)
	if accepted.ScanID == "" || accepted.Status != "started" {
		t.Fatalf("unexpected accept response: %+v", accepted)
	}

	status := waitForScan(t, s, accepted.ScanID)
	if status.Status != ScanStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", status.Status, status.Error)
	}
	if status.Result == nil || len(status.Result.Findings) != 1 {
		t.Fatalf("expected 1 finding in result, got %+v", status.Result)
	}

	stored, err := st.Query(context.Background(), store.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].ID != "f-scan" {
		t.Errorf("expected finding persisted, got %v", stored)
	}
	derived, err := st.QueryCompliance(context.Background(), store.ComplianceFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(derived) == 0 {
		t.Errorf("expected compliance findings derived from mapped rule")
	}
}

func TestScanFailure(t *testing.T) {
	s, _ := newTestServer(t, func(model.CloudProvider) ([]scanner.DetectorGroup, error) {
		return nil, model.WrapPermissionDenied(nil, "credentials rejected")
	})

	w := doRequest(t, s, http.MethodPost, "/api/v1/azure/scan", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	var accepted struct {
		ScanID string `json:"scan_id"`
	}
	decodeBody(t, w, &accepted)

	status := waitForScan(t, s, accepted.ScanID)
	if status.Status != ScanStatusFailed {
		t.Fatalf("expected failed, got %s", status.Status)
	}
	if status.Error == "" {
		t.Errorf("expected error message on failed scan")
	}
}

func TestGetScanNotFound(t *testing.T) {
	s, _ := newTestServer(t, staticGroups(nil))
	w := doRequest(t, s, http.MethodGet, "/api/v1/scans/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestListVulnerabilities(t *testing.T) {
	s, st := newTestServer(t, staticGroups(nil))
	seedFindings(t, st)

	w := doRequest(t, s, http.MethodGet, "/api/v1/vulnerabilities", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Vulnerabilities []model.Finding `json:"vulnerabilities"`
		Count           int             `json:"count"`
	}
	decodeBody(t, w, &resp)
	if resp.Count != 2 {
		t.Errorf("expected 2 vulnerabilities, got %d", resp.Count)
	}

	w = doRequest(t, s, http.MethodGet, "/api/v1/vulnerabilities?cloud_provider=azure&severity=high", "")
	decodeBody(t, w, &resp)
	if resp.Count != 1 || resp.Vulnerabilities[0].ID != "f-2" {
		t.Errorf("expected only f-2, got %+v", resp.Vulnerabilities)
	}

	w = doRequest(t, s, http.MethodGet, "/api/v1/aws/vulnerabilities", "")
	decodeBody(t, w, &resp)
	if resp.Count != 1 || resp.Vulnerabilities[0].ID != "f-1" {
		t.Errorf("expected only f-1 on the aws route, got %+v", resp.Vulnerabilities)
	}

	w = doRequest(t, s, http.MethodGet, "/api/v1/vulnerabilities?severity=catastrophic", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad severity, got %d", w.Code)
	}
	w = doRequest(t, s, http.MethodGet, "/api/v1/vulnerabilities?cloud_provider=gcp", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad provider, got %d", w.Code)
	}
	w = doRequest(t, s, http.MethodGet, "/api/v1/vulnerabilities?limit=x", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}
}

func TestUpdateVulnerabilityStatus(t *testing.T) {
	s, st := newTestServer(t, staticGroups(nil))
	seedFindings(t, st)

	w := doRequest(t, s, http.MethodPost, "/api/v1/vulnerabilities/f-1/status", `{"status":"resolved"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resolved, err := st.Query(context.Background(), store.Filter{Statuses: []model.VulnerabilityStatus{model.StatusResolved}})
	if err != nil {
		t.Fatal(err)
	}
	if len(resolved) != 1 || resolved[0].ID != "f-1" {
		t.Errorf("expected f-1 resolved, got %v", resolved)
	}

	w = doRequest(t, s, http.MethodPost, "/api/v1/vulnerabilities/missing/status", `{"status":"resolved"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", w.Code)
	}

	w = doRequest(t, s, http.MethodPost, "/api/v1/vulnerabilities/f-1/status", `{"status":"bogus"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad status, got %d", w.Code)
	}

	w = doRequest(t, s, http.MethodPost, "/api/v1/vulnerabilities/f-1/status", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing status, got %d", w.Code)
	}
}

func TestStatisticsEndpoint(t *testing.T) {
	s, st := newTestServer(t, staticGroups(nil))
	seedFindings(t, st)

	w := doRequest(t, s, http.MethodGet, "/api/v1/statistics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats store.Statistics
	decodeBody(t, w, &stats)
	if stats.Total != 2 || stats.BySeverity[model.SeverityCritical] != 1 {
		t.Errorf("unexpected statistics: %+v", stats)
	}

	w = doRequest(t, s, http.MethodGet, "/api/v1/statistics?cloud_provider=aws", "")
	decodeBody(t, w, &stats)
	if stats.Total != 1 {
		t.Errorf("expected 1 aws finding, got %d", stats.Total)
	}

	w = doRequest(t, s, http.MethodGet, "/api/v1/azure/statistics", "")
	decodeBody(t, w, &stats)
	if stats.Total != 1 || stats.ByProvider[model.CloudProviderAzure] != 1 {
		t.Errorf("expected azure-only stats, got %+v", stats)
	}
}

func TestComplianceEndpoints(t *testing.T) {
	s, st := newTestServer(t, staticGroups(nil))
	err := st.StoreComplianceFindings(context.Background(), []model.ComplianceFinding{
		{ID: "c-1", VulnerabilityID: "f-1", Standard: "CIS", ControlID: "4.1", IsCompliant: false, CloudProvider: model.CloudProviderAWS},
		{ID: "c-2", VulnerabilityID: "f-1", Standard: "CIS", ControlID: "4.1", IsCompliant: true, CloudProvider: model.CloudProviderAWS},
		{ID: "c-3", VulnerabilityID: "f-2", Standard: "SOC2", ControlID: "CC6.1", IsCompliant: false, CloudProvider: model.CloudProviderAzure},
	})
	if err != nil {
		t.Fatal(err)
	}

	w := doRequest(t, s, http.MethodGet, "/api/v1/compliance/findings?standard=CIS", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, w, &list)
	if list.Count != 2 {
		t.Errorf("expected 2 CIS findings, got %d", list.Count)
	}

	w = doRequest(t, s, http.MethodGet, "/api/v1/compliance/standards/CIS/summary", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var summary compliance.Summary
	decodeBody(t, w, &summary)
	if summary.Overall.TotalControls != 2 || summary.Overall.CompliantControls != 1 {
		t.Errorf("unexpected summary: %+v", summary.Overall)
	}
	if summary.Overall.CompliancePercentage != 50.0 {
		t.Errorf("expected 50.0, got %v", summary.Overall.CompliancePercentage)
	}

	w = doRequest(t, s, http.MethodGet, "/api/v1/compliance/summary", "")
	decodeBody(t, w, &summary)
	if summary.Overall.TotalControls != 3 {
		t.Errorf("expected 3 findings in overall summary, got %d", summary.Overall.TotalControls)
	}

	w = doRequest(t, s, http.MethodGet, "/api/v1/compliance/standards", "")
	var standards struct {
		Standards []compliance.Standard `json:"standards"`
	}
	decodeBody(t, w, &standards)
	if len(standards.Standards) != 7 {
		t.Errorf("expected 7 standards, got %d", len(standards.Standards))
	}
}

func TestStaticCatalogues(t *testing.T) {
	s, _ := newTestServer(t, staticGroups(nil))

	w := doRequest(t, s, http.MethodGet, "/api/v1/aws/regions", "")
	var regions struct {
		Regions []string `json:"regions"`
	}
	decodeBody(t, w, &regions)
	if len(regions.Regions) == 0 || !utils.Contains(regions.Regions, "us-east-1") {
		t.Errorf("expected us-east-1 in regions, got %v", regions.Regions)
	}

	w = doRequest(t, s, http.MethodGet, "/api/v1/aws/resource-types", "")
	var types struct {
		ResourceTypes []string `json:"resource_types"`
	}
	decodeBody(t, w, &types)
	if !utils.Contains(types.ResourceTypes, "S3Bucket") {
		t.Errorf("expected S3Bucket in resource types, got %v", types.ResourceTypes)
	}
}
