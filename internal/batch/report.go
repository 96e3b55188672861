package batch

import (
	"time"

	"github.com/good-yellow-bee/stockalert/internal/pipeline"
)

// Report contains the results of one batch tick.
type Report struct {
	TickID    string          `json:"tick_id"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
	Duration  time.Duration   `json:"duration_ms"`
	Tenants   []*TenantReport `json:"tenants"`
	Summary   *Summary        `json:"summary"`
}

// TenantReport is the outcome of one tenant within a tick.
type TenantReport struct {
	TenantID string               `json:"tenant_id"`
	Stats    pipeline.TenantStats `json:"stats"`
	Error    string               `json:"error,omitempty"`
	Duration time.Duration        `json:"duration_ms"`
}

// Failed reports whether the tenant hit an error.
func (t *TenantReport) Failed() bool {
	return t.Error != ""
}

// Summary aggregates statistics across all tenants of a tick.
type Summary struct {
	TenantsProcessed  int `json:"tenants_processed"`
	TenantsFailed     int `json:"tenants_failed"`
	RulesEvaluated    int `json:"rules_evaluated"`
	AlertsTriggered   int `json:"alerts_triggered"`
	AlertsSuppressed  int `json:"alerts_suppressed"`
	NotificationsSent int `json:"notifications_sent"`
	RecipientsReached int `json:"recipients_reached"`
	RuleErrors        int `json:"rule_errors"`
}

// Aggregate combines tenant reports into a Summary.
// TenantsProcessed includes failed tenants. Counts from a failed tenant still
// include the rules processed before the failure.
func Aggregate(tenants []*TenantReport) *Summary {
	s := &Summary{}
	for _, t := range tenants {
		if t == nil {
			continue
		}
		s.TenantsProcessed++
		if t.Failed() {
			s.TenantsFailed++
		}
		s.RulesEvaluated += t.Stats.RulesEvaluated
		s.AlertsTriggered += t.Stats.RulesTriggered
		s.AlertsSuppressed += t.Stats.AlertsSuppressed
		s.NotificationsSent += t.Stats.NotificationsSent
		s.RecipientsReached += t.Stats.RecipientsReached
		s.RuleErrors += t.Stats.RuleErrors
	}
	return s
}
