// Package scanner runs detector groups concurrently and merges their
// findings into a single ScanResult with best-effort, partial-result
// semantics.
package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Jeffail/tunny"
	log "github.com/sirupsen/logrus"

	"github.com/cloudsecops/cloud-scanner/model"
)

const DefaultScanConcurrency = 5

// DetectorGroup is the set of detectors sharing one resource-listing call.
// Run returns zero or more findings; a failed group never aborts the scan.
type DetectorGroup interface {
	Name() string
	Run(ctx context.Context) ([]model.Finding, error)
}

type group struct {
	name string
	run  func(ctx context.Context) ([]model.Finding, error)
}

func (g *group) Name() string { return g.name }

func (g *group) Run(ctx context.Context) ([]model.Finding, error) { return g.run(ctx) }

// NewGroup wraps a function as a DetectorGroup.
func NewGroup(name string, run func(ctx context.Context) ([]model.Finding, error)) DetectorGroup {
	return &group{name: name, run: run}
}

type groupJob struct {
	ctx   context.Context
	group DetectorGroup
}

type groupResult struct {
	name     string
	findings []model.Finding
	err      error
}

// Orchestrator executes detector groups on a bounded worker pool. Groups
// have no data dependency on each other, so wall-clock scan time is bounded
// by the slowest group rather than the sum of all groups.
type Orchestrator struct {
	pool *tunny.Pool
}

func NewOrchestrator(concurrency int) *Orchestrator {
	if concurrency <= 0 {
		concurrency = DefaultScanConcurrency
	}
	return &Orchestrator{pool: tunny.NewFunc(concurrency, runGroup)}
}

func runGroup(payload interface{}) interface{} {
	job, ok := payload.(groupJob)
	if !ok {
		return groupResult{err: errors.New("unexpected job payload")}
	}
	if err := job.ctx.Err(); err != nil {
		return groupResult{name: job.group.Name(), err: err}
	}
	findings, err := job.group.Run(job.ctx)
	return groupResult{name: job.group.Name(), findings: findings, err: err}
}

// Scan runs every group and merges the results. Failed groups contribute an
// empty result and an entry in GroupErrors; cancellation marks the result
// and returns whatever groups had already completed. The merged finding set
// has no ordering guarantee.
func (o *Orchestrator) Scan(ctx context.Context, scanID string, groups []DetectorGroup) *model.ScanResult {
	result := &model.ScanResult{
		ScanID:      scanID,
		GroupErrors: make(map[string]string),
		StartedAt:   time.Now().UTC(),
	}

	results := make(chan groupResult, len(groups))
	var wg sync.WaitGroup
	for _, g := range groups {
		wg.Add(1)
		go func(g DetectorGroup) {
			defer wg.Done()
			payload, err := o.pool.ProcessCtx(ctx, groupJob{ctx: ctx, group: g})
			if err != nil {
				// pool rejected the job, context is done
				results <- groupResult{name: g.Name(), err: err}
				return
			}
			results <- payload.(groupResult)
		}(g)
	}
	wg.Wait()
	close(results)

	for r := range results {
		if r.err != nil {
			if errors.Is(r.err, context.Canceled) || errors.Is(r.err, context.DeadlineExceeded) {
				result.Cancelled = true
			}
			if model.IsRecoverable(r.err) {
				log.Warnf("detector group %s skipped: %v", r.name, r.err)
			} else {
				log.Errorf("detector group %s failed: %v", r.name, r.err)
			}
			result.GroupErrors[r.name] = r.err.Error()
			continue
		}
		result.Findings = append(result.Findings, r.findings...)
	}

	result.CompletedAt = time.Now().UTC()
	log.Infof("scan %s completed: %d findings, %d group errors", scanID, len(result.Findings), len(result.GroupErrors))
	return result
}

// Close releases the worker pool. In-flight groups finish first.
func (o *Orchestrator) Close() {
	o.pool.Close()
}
