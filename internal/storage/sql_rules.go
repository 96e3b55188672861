package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/stockalert/internal/models"
)

type sqlRuleRepo struct {
	conn
}

const ruleColumns = `id, tenant_id, name, kind, conditions_json, channels_json,
	recipients_json, active, created_at, updated_at`

func (r *sqlRuleRepo) Create(ctx context.Context, rule *models.AlertRule) error {
	conditions, err := rule.EncodeConditions()
	if err != nil {
		return fmt.Errorf("marshal conditions: %w", err)
	}
	channels, recipients, err := rule.Routing.Encode()
	if err != nil {
		return fmt.Errorf("marshal routing: %w", err)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = now
	}

	query := `INSERT INTO alert_rules (` + ruleColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.exec(ctx, query,
		rule.ID, rule.TenantID, rule.Name, string(rule.Kind), conditions, channels, recipients,
		boolToInt(rule.Active), rule.CreatedAt.UTC(), rule.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert alert rule: %w", err)
	}
	return nil
}

func (r *sqlRuleRepo) GetByID(ctx context.Context, tenantID, id string) (*models.AlertRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE tenant_id = ? AND id = ?`
	rule, err := scanRule(r.queryRow(ctx, query, tenantID, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func (r *sqlRuleRepo) ListActiveByTenant(ctx context.Context, tenantID string) ([]*models.AlertRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE tenant_id = ? AND active = ? ORDER BY created_at, id`
	rows, err := r.query(ctx, query, tenantID, 1)
	if err != nil {
		return nil, fmt.Errorf("query alert rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// scanRule reads one row and normalizes its routing encoding.
func scanRule(s scanner) (*models.AlertRule, error) {
	rule := &models.AlertRule{}
	var kind string
	var conditions, channels, recipients sql.NullString
	var active int

	err := s.Scan(&rule.ID, &rule.TenantID, &rule.Name, &kind, &conditions, &channels,
		&recipients, &active, &rule.CreatedAt, &rule.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert rule: %w", err)
	}

	rule.Kind = models.ParseRuleKind(kind)
	rule.Active = active != 0

	rule.Conditions, err = models.DecodeConditions(conditions.String)
	if err != nil {
		return nil, fmt.Errorf("decode conditions of rule %s: %w", rule.ID, err)
	}
	rule.Routing, err = models.NormalizeRouting(channels.String, recipients.String)
	if err != nil {
		return nil, fmt.Errorf("decode routing of rule %s: %w", rule.ID, err)
	}
	return rule, nil
}
