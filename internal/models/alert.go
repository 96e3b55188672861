package models

import (
	"encoding/json"
	"strings"
	"time"
)

// RuleKind identifies which condition an alert rule evaluates.
type RuleKind string

const (
	KindStockOutage  RuleKind = "STOCK_OUTAGE"
	KindLowStock     RuleKind = "LOW_STOCK"
	KindServiceLevel RuleKind = "SERVICE_LEVEL"
)

// Kind names written by earlier versions of the product catalogue.
const (
	legacyKindStockOutage  = "RUPTURE_STOCK"
	legacyKindServiceLevel = "BAISSE_TAUX_SERVICE"
)

// ParseRuleKind converts a stored kind to RuleKind.
// Unknown values are returned as-is so evaluation can reject them with context.
func ParseRuleKind(s string) RuleKind {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(KindStockOutage), legacyKindStockOutage:
		return KindStockOutage
	case string(KindLowStock):
		return KindLowStock
	case string(KindServiceLevel), legacyKindServiceLevel:
		return KindServiceLevel
	default:
		return RuleKind(s)
	}
}

// Known reports whether the kind is one the evaluator handles.
func (k RuleKind) Known() bool {
	switch k {
	case KindStockOutage, KindLowStock, KindServiceLevel:
		return true
	}
	return false
}

// Severity represents alert severity level.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ParseSeverity converts a string to Severity, case-insensitively.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return SeverityLow
	case "MEDIUM":
		return SeverityMedium
	case "HIGH":
		return SeverityHigh
	case "CRITICAL":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// Conditions narrows what a rule looks at.
// Empty allowlists mean "all products of the tenant".
type Conditions struct {
	ProductIDs  []string `json:"product_ids,omitempty" yaml:"product_ids,omitempty"`
	CategoryIDs []string `json:"category_ids,omitempty" yaml:"category_ids,omitempty"`
	// Threshold is the service-level percentage below which the rule fires.
	Threshold *float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// AlertRule is a tenant-owned rule definition. It is read-only for the engine.
type AlertRule struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Name       string     `json:"name"`
	Kind       RuleKind   `json:"kind"`
	Conditions Conditions `json:"conditions"`
	Routing    Routing    `json:"routing"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewAlertRule creates a new active AlertRule with initialized timestamps.
func NewAlertRule(tenantID, name string, kind RuleKind) *AlertRule {
	now := time.Now().UTC()
	return &AlertRule{
		TenantID:  tenantID,
		Name:      name,
		Kind:      kind,
		Active:    true,
		Routing:   NewRouting(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// EncodeConditions returns the conditions as JSON for storage.
func (a *AlertRule) EncodeConditions() (string, error) {
	data, err := json.Marshal(a.Conditions)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeConditions parses stored conditions JSON. Empty input leaves the zero value.
func DecodeConditions(raw string) (Conditions, error) {
	var c Conditions
	if strings.TrimSpace(raw) == "" || raw == "null" {
		return c, nil
	}
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Conditions{}, err
	}
	return c, nil
}
