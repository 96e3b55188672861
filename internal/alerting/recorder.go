package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/stockalert/internal/models"
)

// EventWriter persists new alert events.
type EventWriter interface {
	Create(ctx context.Context, event *models.AlertEvent) error
}

// Recorder writes the audit entry for a firing. The entry is committed
// before any notification is attempted, with all delivery flags false.
type Recorder struct {
	events EventWriter
	now    func() time.Time
}

// NewRecorder creates a recorder over the event store.
func NewRecorder(events EventWriter) *Recorder {
	return &Recorder{events: events, now: time.Now}
}

// WithClock replaces the recorder's clock.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Record creates the AlertEvent for a firing.
func (r *Recorder) Record(ctx context.Context, rule *models.AlertRule, result *FiringResult) (*models.AlertEvent, error) {
	details := result.Details
	details.ProductIDs = append([]string{}, result.SubjectIDs...)

	event := &models.AlertEvent{
		ID:       uuid.New().String(),
		TenantID: rule.TenantID,
		RuleID:   rule.ID,
		RuleName: rule.Name,
		FiredAt:  r.now().UTC(),
		Kind:     rule.Kind,
		Severity: result.Severity,
		Message:  result.Message,
		Details:  details,
	}

	if err := r.events.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("record alert event for rule %s: %w", rule.ID, err)
	}
	return event, nil
}
