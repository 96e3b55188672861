// Package batch runs the periodic alert tick across all active tenants.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/stockalert/internal/metrics"
	"github.com/good-yellow-bee/stockalert/internal/models"
	"github.com/good-yellow-bee/stockalert/internal/pipeline"
)

// TenantLister enumerates the tenants a tick covers.
type TenantLister interface {
	ListActive(ctx context.Context) ([]*models.Tenant, error)
}

// TenantProcessor processes all rules of one tenant.
type TenantProcessor interface {
	ProcessTenant(ctx context.Context, tenantID string) (pipeline.TenantStats, error)
}

// OrchestratorOptions configures a tick.
type OrchestratorOptions struct {
	Workers int // Tenants processed concurrently (default: 1, sequential)
	Logger  *zap.Logger
}

// DefaultOrchestratorOptions returns sequential processing.
func DefaultOrchestratorOptions() *OrchestratorOptions {
	return &OrchestratorOptions{Workers: 1}
}

// Orchestrator runs the pipeline for every active tenant.
type Orchestrator struct {
	tenants   TenantLister
	processor TenantProcessor
	workers   int
	logger    *zap.Logger
}

// NewOrchestrator creates a batch orchestrator.
func NewOrchestrator(tenants TenantLister, processor TenantProcessor, opts *OrchestratorOptions) *Orchestrator {
	if opts == nil {
		opts = DefaultOrchestratorOptions()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		tenants:   tenants,
		processor: processor,
		workers:   workers,
		logger:    logger.With(zap.String("component", "orchestrator")),
	}
}

// RunTick processes all active tenants once. Listing tenants is the only
// failure that aborts the tick; tenant failures are recorded in the report.
func (o *Orchestrator) RunTick(ctx context.Context) (*Report, error) {
	report := &Report{
		TickID:    uuid.New().String(),
		StartTime: time.Now().UTC(),
	}
	log := o.logger.With(zap.String("tick_id", report.TickID))

	tenants, err := o.tenants.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}

	report.Tenants = make([]*TenantReport, len(tenants))

	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, tenant := range tenants {
		g.Go(func() error {
			report.Tenants[i] = o.runTenant(ctx, log, tenant.ID)
			return nil
		})
	}
	g.Wait()

	report.EndTime = time.Now().UTC()
	report.Duration = report.EndTime.Sub(report.StartTime)
	report.Summary = Aggregate(report.Tenants)

	log.Info("tick complete",
		zap.Int("tenants_processed", report.Summary.TenantsProcessed),
		zap.Int("tenants_failed", report.Summary.TenantsFailed),
		zap.Int("rules_evaluated", report.Summary.RulesEvaluated),
		zap.Int("alerts_triggered", report.Summary.AlertsTriggered),
		zap.Int("alerts_suppressed", report.Summary.AlertsSuppressed),
		zap.Int("notifications_sent", report.Summary.NotificationsSent),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// runTenant is the tenant failure boundary.
func (o *Orchestrator) runTenant(ctx context.Context, log *zap.Logger, tenantID string) (tr *TenantReport) {
	start := time.Now()
	tr = &TenantReport{TenantID: tenantID}
	log = log.With(zap.String("tenant_id", tenantID))

	defer func() {
		if r := recover(); r != nil {
			tr.Error = fmt.Sprintf("panic: %v", r)
			log.Error("tenant processing panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		tr.Duration = time.Since(start)

		result := "ok"
		if tr.Failed() {
			result = "failed"
		}
		metrics.TenantsProcessed.WithLabelValues(result).Inc()
	}()

	stats, err := o.processor.ProcessTenant(ctx, tenantID)
	tr.Stats = stats
	if err != nil {
		tr.Error = err.Error()
		log.Error("tenant processing failed", zap.Error(err))
	}
	return tr
}
