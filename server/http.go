// Package server exposes the scan pipeline and the stored findings over an
// HTTP API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Jeffail/tunny"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cloudsecops/cloud-scanner/compliance"
	"github.com/cloudsecops/cloud-scanner/model"
	"github.com/cloudsecops/cloud-scanner/scanner"
	"github.com/cloudsecops/cloud-scanner/scanner/aws"
	"github.com/cloudsecops/cloud-scanner/scanner/azure"
	"github.com/cloudsecops/cloud-scanner/store"
	"github.com/cloudsecops/cloud-scanner/utils"
)

const (
	ScanStatusPending   = "pending"
	ScanStatusRunning   = "running"
	ScanStatusCompleted = "completed"
	ScanStatusFailed    = "failed"

	DefaultScanTimeout = 10 * time.Minute
)

// ScanStatus tracks one requested scan through its lifecycle.
type ScanStatus struct {
	ScanID   string            `json:"scan_id"`
	Provider string            `json:"cloud_provider"`
	Status   string            `json:"status"`
	Error    string            `json:"error,omitempty"`
	Result   *model.ScanResult `json:"result,omitempty"`
}

// GroupSource builds the detector groups for one provider. Production wiring
// talks to real cloud APIs; tests substitute fakes.
type GroupSource func(provider model.CloudProvider) ([]scanner.DetectorGroup, error)

type scanJob struct {
	scanID   string
	provider model.CloudProvider
}

type Server struct {
	cfg     utils.Config
	store   store.Store
	mapping *compliance.Mapping
	orch    *scanner.Orchestrator
	jobs    *tunny.Pool
	groups  GroupSource

	mu    sync.RWMutex
	scans map[string]*ScanStatus
}

// New wires a Server around the given store and compliance mapping. A nil
// groups source connects to the real cloud providers using the credentials
// in cfg.
func New(cfg utils.Config, st store.Store, mapping *compliance.Mapping, groups GroupSource) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		mapping: mapping,
		orch:    scanner.NewOrchestrator(cfg.ScanConcurrency),
		groups:  groups,
		scans:   make(map[string]*ScanStatus),
	}
	if s.groups == nil {
		s.groups = s.providerGroups
	}
	s.jobs = tunny.NewFunc(2, s.processScanJob)
	return s
}

func (s *Server) providerGroups(provider model.CloudProvider) ([]scanner.DetectorGroup, error) {
	switch provider {
	case model.CloudProviderAWS:
		p, err := aws.NewProvider(s.cfg.AWSAccessKeyID, s.cfg.AWSSecretAccessKey, s.cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		return aws.Groups(p, s.cfg.AWSRegion), nil
	case model.CloudProviderAzure:
		p, err := azure.NewProvider(s.cfg.AzureSubscriptionID, s.cfg.AzureTenantID, s.cfg.AzureClientID, s.cfg.AzureClientSecret)
		if err != nil {
			return nil, err
		}
		return azure.Groups(p, s.cfg.AzureSubscriptionID), nil
	}
	return nil, model.NewValidationError(fmt.Sprintf("unsupported cloud provider %q", provider))
}

func (s *Server) scanTimeout() time.Duration {
	if s.cfg.ScanTimeoutSeconds > 0 {
		return time.Duration(s.cfg.ScanTimeoutSeconds) * time.Second
	}
	return DefaultScanTimeout
}

func (s *Server) setScanStatus(scanID, status, errMsg string, result *model.ScanResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.scans[scanID]
	if !ok {
		return
	}
	st.Status = status
	st.Error = errMsg
	st.Result = result
}

func (s *Server) processScanJob(payload interface{}) interface{} {
	job, ok := payload.(scanJob)
	if !ok {
		log.Error().Msg("unexpected scan job payload")
		return nil
	}
	s.setScanStatus(job.scanID, ScanStatusRunning, "", nil)

	ctx, cancel := context.WithTimeout(context.Background(), s.scanTimeout())
	defer cancel()

	groups, err := s.groups(job.provider)
	if err != nil {
		log.Error().Err(err).Str("scan_id", job.scanID).Msg("building detector groups")
		s.setScanStatus(job.scanID, ScanStatusFailed, err.Error(), nil)
		return nil
	}

	result := s.orch.Scan(ctx, job.scanID, groups)

	if err := s.store.StoreFindings(ctx, result.Findings); err != nil {
		log.Error().Err(err).Str("scan_id", job.scanID).Msg("persisting findings")
		s.setScanStatus(job.scanID, ScanStatusFailed, err.Error(), result)
		return nil
	}
	derived := compliance.Derive(result.Findings, s.mapping)
	if err := s.store.StoreComplianceFindings(ctx, derived); err != nil {
		log.Error().Err(err).Str("scan_id", job.scanID).Msg("persisting compliance findings")
		s.setScanStatus(job.scanID, ScanStatusFailed, err.Error(), result)
		return nil
	}

	s.setScanStatus(job.scanID, ScanStatusCompleted, "", result)
	return nil
}

func (s *Server) startScan(c *gin.Context, provider model.CloudProvider) {
	scanID := uuid.NewString()
	s.mu.Lock()
	s.scans[scanID] = &ScanStatus{
		ScanID:   scanID,
		Provider: string(provider),
		Status:   ScanStatusPending,
	}
	s.mu.Unlock()

	go s.jobs.Process(scanJob{scanID: scanID, provider: provider})

	log.Info().Str("scan_id", scanID).Str("provider", string(provider)).Msg("scan accepted")
	c.JSON(http.StatusAccepted, gin.H{"scan_id": scanID, "status": "started"})
}

func (s *Server) getScan(c *gin.Context) {
	s.mu.RLock()
	st, ok := s.scans[c.Param("id")]
	s.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "scan not found"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func parseListParam[T any](c *gin.Context, key string, parse func(string) (T, error)) ([]T, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	var out []T
	for _, part := range strings.Split(raw, ",") {
		v, err := parse(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func parsePagination(c *gin.Context) (int, int, error) {
	limit, offset := 0, 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, 0, model.NewValidationError(fmt.Sprintf("invalid limit %q", raw))
		}
		limit = n
	}
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, 0, model.NewValidationError(fmt.Sprintf("invalid offset %q", raw))
		}
		offset = n
	}
	return limit, offset, nil
}

// listVulnerabilities serves both the provider-scoped routes (forced set)
// and the flat route with an optional cloud_provider query param.
func (s *Server) listVulnerabilities(c *gin.Context, forced model.CloudProvider) {
	filter := store.Filter{Provider: forced}
	if raw := c.Query("cloud_provider"); raw != "" && forced == "" {
		provider, err := model.ParseCloudProvider(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Provider = provider
	}
	severities, err := parseListParam(c, "severity", model.ParseSeverity)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter.Severities = severities
	statuses, err := parseListParam(c, "status", model.ParseStatus)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter.Statuses = statuses
	filter.ResourceType = c.Query("resource_type")
	filter.Region = c.Query("region")
	if filter.Limit, filter.Offset, err = parsePagination(c); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	findings, err := s.store.Query(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if findings == nil {
		findings = []model.Finding{}
	}
	c.JSON(http.StatusOK, gin.H{"vulnerabilities": findings, "count": len(findings)})
}

type statusUpdateRequest struct {
	Status string `json:"status" binding:"required"`
}

func (s *Server) updateVulnerabilityStatus(c *gin.Context) {
	var req statusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}
	status, err := model.ParseStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err = s.store.UpdateStatus(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		if model.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": string(status)})
}

func (s *Server) statistics(c *gin.Context, forced model.CloudProvider) {
	provider := forced
	if raw := c.Query("cloud_provider"); raw != "" && forced == "" {
		p, err := model.ParseCloudProvider(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		provider = p
	}
	stats, err := s.store.Statistics(c.Request.Context(), provider)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) complianceFilter(c *gin.Context) (store.ComplianceFilter, error) {
	var filter store.ComplianceFilter
	filter.Standard = c.Query("standard")
	if raw := c.Query("cloud_provider"); raw != "" {
		provider, err := model.ParseCloudProvider(raw)
		if err != nil {
			return filter, err
		}
		filter.Provider = provider
	}
	if raw := c.Query("is_compliant"); raw != "" {
		compliant, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, model.NewValidationError(fmt.Sprintf("invalid is_compliant %q", raw))
		}
		filter.IsCompliant = &compliant
	}
	var err error
	filter.Limit, filter.Offset, err = parsePagination(c)
	return filter, err
}

func (s *Server) listComplianceFindings(c *gin.Context) {
	filter, err := s.complianceFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	findings, err := s.store.QueryCompliance(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if findings == nil {
		findings = []model.ComplianceFinding{}
	}
	c.JSON(http.StatusOK, gin.H{"compliance_findings": findings, "count": len(findings)})
}

func (s *Server) complianceSummary(c *gin.Context, standard string) {
	filter := compliance.Filter{Standard: standard}
	if raw := c.Query("cloud_provider"); raw != "" {
		provider, err := model.ParseCloudProvider(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Provider = provider
	}

	findings, err := s.store.QueryCompliance(c.Request.Context(), store.ComplianceFilter{
		Standard: standard,
		Provider: filter.Provider,
		Limit:    -1,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, compliance.Summarize(findings, filter))
}

func (s *Server) listStandards(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"standards": compliance.Standards})
}

func (s *Server) awsRegions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"regions": aws.Regions})
}

func (s *Server) awsResourceTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"resource_types": aws.ResourceTypes})
}

// Router assembles the gin engine. Split from RunHTTPServer so tests can
// drive it with httptest.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api/v1")
	{
		api.POST("/aws/scan", func(c *gin.Context) { s.startScan(c, model.CloudProviderAWS) })
		api.POST("/azure/scan", func(c *gin.Context) { s.startScan(c, model.CloudProviderAzure) })
		api.GET("/scans/:id", s.getScan)

		api.GET("/vulnerabilities", func(c *gin.Context) { s.listVulnerabilities(c, "") })
		api.GET("/aws/vulnerabilities", func(c *gin.Context) { s.listVulnerabilities(c, model.CloudProviderAWS) })
		api.GET("/azure/vulnerabilities", func(c *gin.Context) { s.listVulnerabilities(c, model.CloudProviderAzure) })
		api.POST("/vulnerabilities/:id/status", s.updateVulnerabilityStatus)
		api.GET("/statistics", func(c *gin.Context) { s.statistics(c, "") })
		api.GET("/aws/statistics", func(c *gin.Context) { s.statistics(c, model.CloudProviderAWS) })
		api.GET("/azure/statistics", func(c *gin.Context) { s.statistics(c, model.CloudProviderAzure) })

		api.GET("/compliance/findings", s.listComplianceFindings)
		api.GET("/compliance/summary", func(c *gin.Context) { s.complianceSummary(c, c.Query("standard")) })
		api.GET("/compliance/standards", s.listStandards)
		api.GET("/compliance/standards/:standard/summary", func(c *gin.Context) {
			s.complianceSummary(c, c.Param("standard"))
		})

		api.GET("/aws/regions", s.awsRegions)
		api.GET("/aws/resource-types", s.awsResourceTypes)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

// Close releases the worker pools. In-flight scans finish first.
func (s *Server) Close() {
	s.jobs.Close()
	s.orch.Close()
}

func RunHTTPServer(cfg utils.Config, st store.Store, mapping *compliance.Mapping) error {
	if cfg.Port == "" {
		return fmt.Errorf("http-server mode requires port to be set")
	}
	s := New(cfg, st, mapping, nil)
	defer s.Close()

	log.Info().Str("port", cfg.Port).Msg("Starting server")
	return s.Router().Run(fmt.Sprintf(":%s", cfg.Port))
}
