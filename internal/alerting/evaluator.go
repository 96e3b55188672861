// Package alerting evaluates tenant alert rules and decides which firings are recorded.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/good-yellow-bee/stockalert/internal/models"
)

const (
	// DefaultServiceThreshold is the service-level percentage used when a rule sets none.
	DefaultServiceThreshold = 90.0
	// ServiceWindowDays is how many calendar days of sales the service level covers.
	ServiceWindowDays = 7

	maxListedProducts = 5
)

// ErrUnknownKind is wrapped by EvaluationError for rules of an unsupported kind.
var ErrUnknownKind = errors.New("unknown rule kind")

// StockSource answers the product stock queries.
type StockSource interface {
	ListOutOfStock(ctx context.Context, tenantID string, productIDs, categoryIDs []string) ([]*models.Product, error)
	ListLowStock(ctx context.Context, tenantID string, productIDs, categoryIDs []string) ([]*models.Product, error)
}

// SalesSource answers the order completion query.
type SalesSource interface {
	CompletionStats(ctx context.Context, tenantID string, since time.Time) (models.CompletionStats, error)
}

// FiringResult is the outcome of evaluating one rule.
// SubjectIDs is empty for rules without per-product subjects.
type FiringResult struct {
	Triggered  bool            `json:"triggered"`
	SubjectIDs []string        `json:"subject_ids"`
	Message    string          `json:"message,omitempty"`
	Severity   models.Severity `json:"severity,omitempty"`
	Details    models.Details  `json:"details"`
}

// EvaluationError reports a rule that could not be evaluated.
type EvaluationError struct {
	RuleID string
	Kind   models.RuleKind
	Err    error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate rule %s (%s): %v", e.RuleID, e.Kind, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// EvaluatorStats tracks evaluator statistics using atomic operations for lock-free access.
type EvaluatorStats struct {
	RulesEvaluated atomic.Int64
	RulesTriggered atomic.Int64
	Errors         atomic.Int64
}

// Evaluator computes FiringResults for rules. It has no side effects.
type Evaluator struct {
	stock StockSource
	sales SalesSource
	stats EvaluatorStats
}

// NewEvaluator creates an evaluator over the given data sources.
func NewEvaluator(stock StockSource, sales SalesSource) *Evaluator {
	return &Evaluator{stock: stock, sales: sales}
}

// Evaluate evaluates a rule against current data.
func (e *Evaluator) Evaluate(ctx context.Context, rule *models.AlertRule) (*FiringResult, error) {
	return e.EvaluateAt(ctx, rule, time.Now())
}

// EvaluateAt evaluates a rule as of now (useful for testing).
func (e *Evaluator) EvaluateAt(ctx context.Context, rule *models.AlertRule, now time.Time) (*FiringResult, error) {
	e.stats.RulesEvaluated.Add(1)

	var (
		result *FiringResult
		err    error
	)
	switch rule.Kind {
	case models.KindStockOutage:
		result, err = e.evaluateStockOutage(ctx, rule)
	case models.KindLowStock:
		result, err = e.evaluateLowStock(ctx, rule)
	case models.KindServiceLevel:
		result, err = e.evaluateServiceLevel(ctx, rule, now)
	default:
		err = ErrUnknownKind
	}

	if err != nil {
		e.stats.Errors.Add(1)
		return nil, &EvaluationError{RuleID: rule.ID, Kind: rule.Kind, Err: err}
	}
	if result.Triggered {
		e.stats.RulesTriggered.Add(1)
	}
	return result, nil
}

func (e *Evaluator) evaluateStockOutage(ctx context.Context, rule *models.AlertRule) (*FiringResult, error) {
	products, err := e.stock.ListOutOfStock(ctx, rule.TenantID, rule.Conditions.ProductIDs, rule.Conditions.CategoryIDs)
	if err != nil {
		return nil, fmt.Errorf("list out of stock products: %w", err)
	}
	if len(products) == 0 {
		return notTriggered(), nil
	}

	severity := models.SeverityHigh
	if len(products) > 10 {
		severity = models.SeverityCritical
	}
	headline := fmt.Sprintf("STOCK OUTAGE - %d product(s) out of stock", len(products))
	return productResult(headline, severity, products), nil
}

func (e *Evaluator) evaluateLowStock(ctx context.Context, rule *models.AlertRule) (*FiringResult, error) {
	products, err := e.stock.ListLowStock(ctx, rule.TenantID, rule.Conditions.ProductIDs, rule.Conditions.CategoryIDs)
	if err != nil {
		return nil, fmt.Errorf("list low stock products: %w", err)
	}
	if len(products) == 0 {
		return notTriggered(), nil
	}

	severity := models.SeverityHigh
	if len(products) < 5 {
		severity = models.SeverityMedium
	}
	headline := fmt.Sprintf("LOW STOCK - %d product(s) below minimum stock", len(products))
	return productResult(headline, severity, products), nil
}

func (e *Evaluator) evaluateServiceLevel(ctx context.Context, rule *models.AlertRule, now time.Time) (*FiringResult, error) {
	threshold := DefaultServiceThreshold
	if rule.Conditions.Threshold != nil {
		threshold = *rule.Conditions.Threshold
	}

	stats, err := e.sales.CompletionStats(ctx, rule.TenantID, ServiceWindowStart(now))
	if err != nil {
		return nil, fmt.Errorf("query completion stats: %w", err)
	}
	if stats.Total == 0 {
		return notTriggered(), nil
	}

	rate := float64(stats.Delivered) / float64(stats.Total) * 100
	if rate >= threshold {
		return notTriggered(), nil
	}

	severity := models.SeverityHigh
	if rate > threshold-10 {
		severity = models.SeverityMedium
	}

	rounded := math.Round(rate*100) / 100
	return &FiringResult{
		Triggered:  true,
		SubjectIDs: []string{},
		Message: fmt.Sprintf("SERVICE LEVEL LOW - %.1f%% (threshold: %s%%)",
			rate, strconv.FormatFloat(threshold, 'f', -1, 64)),
		Severity: severity,
		Details: models.Details{
			ProductIDs:      []string{},
			ServiceRate:     &rounded,
			Threshold:       &threshold,
			TotalOrders:     stats.Total,
			DeliveredOrders: stats.Delivered,
		},
	}, nil
}

// ServiceWindowStart returns midnight UTC, ServiceWindowDays before now.
func ServiceWindowStart(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -ServiceWindowDays)
}

// EvaluatorStatsSnapshot is a point-in-time copy of EvaluatorStats.
type EvaluatorStatsSnapshot struct {
	RulesEvaluated int64
	RulesTriggered int64
	Errors         int64
}

// Stats returns a snapshot of evaluator statistics.
func (e *Evaluator) Stats() EvaluatorStatsSnapshot {
	return EvaluatorStatsSnapshot{
		RulesEvaluated: e.stats.RulesEvaluated.Load(),
		RulesTriggered: e.stats.RulesTriggered.Load(),
		Errors:         e.stats.Errors.Load(),
	}
}

func notTriggered() *FiringResult {
	return &FiringResult{Triggered: false, SubjectIDs: []string{}}
}

func productResult(headline string, severity models.Severity, products []*models.Product) *FiringResult {
	ids := make([]string, len(products))
	names := make([]string, len(products))
	for i, p := range products {
		ids[i] = p.ID
		names[i] = p.Name
	}

	return &FiringResult{
		Triggered:  true,
		SubjectIDs: ids,
		Message:    headline + ": " + ListNames(names, maxListedProducts),
		Severity:   severity,
		Details: models.Details{
			ProductIDs:   ids,
			ProductNames: names,
			ProductCount: len(products),
		},
	}
}

// ListNames joins up to limit names and summarizes the rest as "and N more".
func ListNames(names []string, limit int) string {
	if len(names) <= limit {
		return strings.Join(names, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(names[:limit], ", "), len(names)-limit)
}
