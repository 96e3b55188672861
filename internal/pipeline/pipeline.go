// Package pipeline runs the evaluate, dedup, record and notify sequence for alert rules.
// Scheduled ticks and manual rule tests share the same ProcessRule path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/stockalert/internal/alerting"
	"github.com/good-yellow-bee/stockalert/internal/metrics"
	"github.com/good-yellow-bee/stockalert/internal/models"
	"github.com/good-yellow-bee/stockalert/internal/notifier"
)

// ErrRuleNotFound is returned by TestRule when the tenant has no such rule.
var ErrRuleNotFound = errors.New("rule not found")

// Outcome is what ProcessRule did with one rule.
type Outcome string

const (
	OutcomeSkipped      Outcome = "skipped"
	OutcomeNotTriggered Outcome = "not_triggered"
	OutcomeSuppressed   Outcome = "suppressed"
	OutcomeFired        Outcome = "fired"
)

// RuleStore reads tenant rules.
type RuleStore interface {
	GetByID(ctx context.Context, tenantID, id string) (*models.AlertRule, error)
	ListActiveByTenant(ctx context.Context, tenantID string) ([]*models.AlertRule, error)
}

// Dispatcher sends a recorded event to the rule's recipients.
type Dispatcher interface {
	Dispatch(ctx context.Context, rule *models.AlertRule, event *models.AlertEvent) (*notifier.Report, error)
}

// EventSink receives every dispatched event, e.g. for publishing downstream.
type EventSink interface {
	Publish(ctx context.Context, event *models.AlertEvent) error
}

// Firing pairs a rule with a triggered, non-duplicate result.
type Firing struct {
	Rule   *models.AlertRule      `json:"rule"`
	Result *alerting.FiringResult `json:"result"`
}

// ProcessOptions changes how ProcessRule treats a rule.
type ProcessOptions struct {
	// Force bypasses the dedup gate and fires a test result when the condition does not hold.
	Force bool
	// Note is attached to substituted test results.
	Note string
}

// RuleResult is the outcome of ProcessRule.
type RuleResult struct {
	RuleID  string             `json:"rule_id"`
	Outcome Outcome            `json:"outcome"`
	Event   *models.AlertEvent `json:"event,omitempty"`
	Report  *notifier.Report   `json:"report,omitempty"`
	Err     error              `json:"-"`
}

// TenantStats aggregates ProcessTenant results.
type TenantStats struct {
	TenantID          string `json:"tenant_id"`
	RulesEvaluated    int    `json:"rules_evaluated"`
	RulesTriggered    int    `json:"rules_triggered"`
	AlertsSuppressed  int    `json:"alerts_suppressed"`
	NotificationsSent int    `json:"notifications_sent"`
	RecipientsReached int    `json:"recipients_reached"`
	RuleErrors        int    `json:"rule_errors"`
}

// Add records one rule result.
func (s *TenantStats) Add(r *RuleResult) {
	s.RulesEvaluated++
	switch r.Outcome {
	case OutcomeSkipped:
		s.RuleErrors++
	case OutcomeSuppressed:
		s.AlertsSuppressed++
	case OutcomeFired:
		s.RulesTriggered++
		if r.Report != nil {
			s.RecipientsReached += r.Report.Sent()
		}
		if r.Err == nil {
			s.NotificationsSent++
		}
	}
}

// Options configures a Service.
type Options struct {
	Sink   EventSink
	Logger *zap.Logger
}

// Service wires the alerting stages together.
type Service struct {
	rules      RuleStore
	evaluator  *alerting.Evaluator
	gate       *alerting.Gate
	recorder   *alerting.Recorder
	dispatcher Dispatcher
	sink       EventSink
	logger     *zap.Logger
}

// NewService creates a pipeline service.
func NewService(rules RuleStore, evaluator *alerting.Evaluator, gate *alerting.Gate,
	recorder *alerting.Recorder, dispatcher Dispatcher, opts *Options) *Service {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		rules:      rules,
		evaluator:  evaluator,
		gate:       gate,
		recorder:   recorder,
		dispatcher: dispatcher,
		sink:       opts.Sink,
		logger:     logger.With(zap.String("component", "pipeline")),
	}
}

// EvaluateAllAlerts returns the triggered, non-duplicate firings of a tenant's
// active rules without recording or sending anything.
func (s *Service) EvaluateAllAlerts(ctx context.Context, tenantID string) ([]Firing, error) {
	rules, err := s.rules.ListActiveByTenant(ctx, tenantID)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("list_rules").Inc()
		return nil, fmt.Errorf("list rules for tenant %s: %w", tenantID, err)
	}

	var firings []Firing
	for _, rule := range rules {
		result, err := s.evaluate(ctx, rule)
		if err != nil {
			s.logger.Warn("rule evaluation failed",
				zap.String("tenant_id", tenantID),
				zap.String("rule_id", rule.ID),
				zap.Error(err),
			)
			continue
		}
		if !result.Triggered {
			continue
		}

		dup, err := s.gate.IsDuplicate(ctx, rule, result.SubjectIDs)
		if err != nil {
			metrics.StorageErrors.WithLabelValues("dedup_lookup").Inc()
			s.logger.Warn("dedup lookup failed",
				zap.String("tenant_id", tenantID),
				zap.String("rule_id", rule.ID),
				zap.Error(err),
			)
			continue
		}
		if dup {
			continue
		}
		firings = append(firings, Firing{Rule: rule, Result: result})
	}
	return firings, nil
}

// CreateHistoryEntry records the audit event for a firing.
func (s *Service) CreateHistoryEntry(ctx context.Context, rule *models.AlertRule, result *alerting.FiringResult) (*models.AlertEvent, error) {
	event, err := s.recorder.Record(ctx, rule, result)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("record_event").Inc()
		return nil, err
	}
	metrics.AlertsFired.WithLabelValues(string(rule.Kind), string(event.Severity)).Inc()
	return event, nil
}

// SendAlertNotifications dispatches a recorded event and persists its delivery flags.
func (s *Service) SendAlertNotifications(ctx context.Context, rule *models.AlertRule, event *models.AlertEvent) (*notifier.Report, error) {
	return s.dispatcher.Dispatch(ctx, rule, event)
}

// ProcessRule evaluates one rule and, when it fires, records and notifies.
// It never panics; failures are reported as OutcomeSkipped with Err set.
func (s *Service) ProcessRule(ctx context.Context, rule *models.AlertRule, opts ProcessOptions) (res *RuleResult) {
	res = &RuleResult{RuleID: rule.ID}
	log := s.logger.With(zap.String("tenant_id", rule.TenantID), zap.String("rule_id", rule.ID))

	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeSkipped
			res.Err = fmt.Errorf("panic processing rule %s: %v", rule.ID, r)
			log.Error("rule processing panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	result, err := s.evaluate(ctx, rule)
	if err != nil {
		log.Warn("rule evaluation failed", zap.String("kind", string(rule.Kind)), zap.Error(err))
		res.Outcome = OutcomeSkipped
		res.Err = err
		return res
	}

	if !result.Triggered {
		if !opts.Force {
			res.Outcome = OutcomeNotTriggered
			return res
		}
		result = testResult(rule, opts.Note)
	}

	if !opts.Force {
		dup, err := s.gate.IsDuplicate(ctx, rule, result.SubjectIDs)
		if err != nil {
			metrics.StorageErrors.WithLabelValues("dedup_lookup").Inc()
			log.Warn("dedup lookup failed", zap.Error(err))
			res.Outcome = OutcomeSkipped
			res.Err = err
			return res
		}
		if dup {
			metrics.AlertsSuppressed.WithLabelValues(string(rule.Kind)).Inc()
			log.Debug("firing suppressed as duplicate", zap.Int("subjects", len(result.SubjectIDs)))
			res.Outcome = OutcomeSuppressed
			return res
		}
	}

	event, err := s.CreateHistoryEntry(ctx, rule, result)
	if err != nil {
		log.Error("failed to record alert event", zap.Error(err))
		res.Outcome = OutcomeSkipped
		res.Err = err
		return res
	}
	res.Outcome = OutcomeFired
	res.Event = event
	log = log.With(zap.String("event_id", event.ID))
	log.Info("alert fired",
		zap.String("severity", string(event.Severity)),
		zap.Int("subjects", len(result.SubjectIDs)),
		zap.Bool("test", event.Details.Test),
	)

	report, err := s.SendAlertNotifications(ctx, rule, event)
	res.Report = report
	if err != nil {
		metrics.StorageErrors.WithLabelValues("update_delivery").Inc()
		log.Error("failed to persist delivery flags", zap.Error(err))
		res.Err = err
	}

	s.publish(ctx, log, event)
	return res
}

// ProcessTenant runs ProcessRule for every active rule of a tenant.
// Only a failure to list rules or a cancelled ctx is returned.
func (s *Service) ProcessTenant(ctx context.Context, tenantID string) (TenantStats, error) {
	stats := TenantStats{TenantID: tenantID}

	rules, err := s.rules.ListActiveByTenant(ctx, tenantID)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("list_rules").Inc()
		return stats, fmt.Errorf("list rules for tenant %s: %w", tenantID, err)
	}

	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Add(s.ProcessRule(ctx, rule, ProcessOptions{}))
	}
	return stats, nil
}

// TestRule fires a tenant's rule on demand, bypassing deduplication.
func (s *Service) TestRule(ctx context.Context, tenantID, ruleID, note string) (*RuleResult, error) {
	rule, err := s.rules.GetByID(ctx, tenantID, ruleID)
	if err != nil {
		return nil, fmt.Errorf("load rule %s: %w", ruleID, err)
	}
	if rule == nil {
		return nil, ErrRuleNotFound
	}

	res := s.ProcessRule(ctx, rule, ProcessOptions{Force: true, Note: note})
	return res, res.Err
}

func (s *Service) evaluate(ctx context.Context, rule *models.AlertRule) (result *alerting.FiringResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &alerting.EvaluationError{RuleID: rule.ID, Kind: rule.Kind, Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			metrics.EvaluationErrors.WithLabelValues(string(rule.Kind)).Inc()
		}
	}()

	metrics.RulesEvaluated.WithLabelValues(string(rule.Kind)).Inc()
	return s.evaluator.Evaluate(ctx, rule)
}

func (s *Service) publish(ctx context.Context, log *zap.Logger, event *models.AlertEvent) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Publish(ctx, event); err != nil {
		log.Warn("failed to publish alert event", zap.Error(err))
	}
}

// testResult is the firing substituted for a manual test when the condition does not hold.
func testResult(rule *models.AlertRule, note string) *alerting.FiringResult {
	if note == "" {
		note = fmt.Sprintf("Manual test at %s", time.Now().UTC().Format("2006-01-02 15:04:05 MST"))
	}
	return &alerting.FiringResult{
		Triggered: true,
		Message:   fmt.Sprintf("TEST - alert rule %q", rule.Name),
		Severity:  models.SeverityLow,
		Details:   models.Details{Test: true, Note: note},
	}
}
