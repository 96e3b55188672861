package alerting

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/good-yellow-bee/stockalert/internal/models"
)

const (
	// DedupWindow is how far back a prior event can suppress a new firing.
	DedupWindow = 30 * time.Minute
	// DedupOverlap is the subject overlap above which a firing is a duplicate.
	DedupOverlap = 0.8
)

// EventLookup finds the most recent prior event of a rule.
type EventLookup interface {
	LatestForRule(ctx context.Context, tenantID, ruleID string, since time.Time) (*models.AlertEvent, error)
}

// Gate suppresses firings that repeat a recent event of the same rule.
// It keeps no state of its own; the event store is the source of truth.
type Gate struct {
	events     EventLookup
	now        func() time.Time
	suppressed atomic.Int64
}

// NewGate creates a deduplication gate over the event store.
func NewGate(events EventLookup) *Gate {
	return &Gate{events: events, now: time.Now}
}

// WithClock replaces the gate's clock.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// IsDuplicate reports whether a firing with the given subjects should be suppressed.
//
// With no event in the window the firing is new. When the stored and current
// subject sets are both empty it is a duplicate. Otherwise the share of stored
// subjects still present must exceed DedupOverlap.
func (g *Gate) IsDuplicate(ctx context.Context, rule *models.AlertRule, subjectIDs []string) (bool, error) {
	since := g.now().UTC().Add(-DedupWindow)
	recent, err := g.events.LatestForRule(ctx, rule.TenantID, rule.ID, since)
	if err != nil {
		return false, fmt.Errorf("lookup recent event for rule %s: %w", rule.ID, err)
	}
	if recent == nil {
		return false, nil
	}

	stored := toSet(recent.Details.ProductIDs)
	current := toSet(subjectIDs)

	dup := false
	switch {
	case len(stored) == 0 && len(current) == 0:
		dup = true
	case len(stored) > 0:
		dup = Overlap(stored, current) > DedupOverlap
	}

	if dup {
		g.suppressed.Add(1)
	}
	return dup, nil
}

// Suppressed returns how many firings the gate has suppressed.
func (g *Gate) Suppressed() int64 {
	return g.suppressed.Load()
}

// Overlap returns |stored ∩ current| / |stored|, or 0 when stored is empty.
func Overlap(stored, current map[string]struct{}) float64 {
	if len(stored) == 0 {
		return 0
	}
	shared := 0
	for id := range stored {
		if _, ok := current[id]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(stored))
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
