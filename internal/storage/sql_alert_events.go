package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/good-yellow-bee/stockalert/internal/models"
)

type sqlAlertEventRepo struct {
	conn
}

const alertEventColumns = `id, tenant_id, rule_id, rule_name, fired_at, kind, severity,
	message, details_json, sent_whatsapp, sent_email, sent_slack`

func (r *sqlAlertEventRepo) Create(ctx context.Context, e *models.AlertEvent) error {
	details, err := e.Details.Encode()
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	query := `INSERT INTO alert_events (` + alertEventColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.exec(ctx, query,
		e.ID, e.TenantID, e.RuleID, e.RuleName, e.FiredAt.UTC(), string(e.Kind), string(e.Severity),
		e.Message, details,
		boolToInt(e.Delivery.WhatsApp), boolToInt(e.Delivery.Email), boolToInt(e.Delivery.Slack),
	)
	if err != nil {
		return fmt.Errorf("create alert event: %w", err)
	}
	return nil
}

func (r *sqlAlertEventRepo) LatestForRule(ctx context.Context, tenantID, ruleID string, since time.Time) (*models.AlertEvent, error) {
	query := `SELECT ` + alertEventColumns + ` FROM alert_events
		WHERE tenant_id = ? AND rule_id = ? AND fired_at >= ?
		ORDER BY fired_at DESC LIMIT 1`
	e, err := scanAlertEvent(r.queryRow(ctx, query, tenantID, ruleID, since.UTC()))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *sqlAlertEventRepo) UpdateDelivery(ctx context.Context, tenantID, id string, d models.Delivery) error {
	result, err := r.exec(ctx,
		"UPDATE alert_events SET sent_whatsapp = ?, sent_email = ?, sent_slack = ? WHERE tenant_id = ? AND id = ?",
		boolToInt(d.WhatsApp), boolToInt(d.Email), boolToInt(d.Slack), tenantID, id,
	)
	if err != nil {
		return fmt.Errorf("update alert event delivery: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("alert event %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *sqlAlertEventRepo) ListByRule(ctx context.Context, tenantID, ruleID string, limit int) ([]*models.AlertEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + alertEventColumns + ` FROM alert_events
		WHERE tenant_id = ? AND rule_id = ? ORDER BY fired_at DESC LIMIT ?`
	rows, err := r.query(ctx, query, tenantID, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("query alert events: %w", err)
	}
	defer rows.Close()

	var events []*models.AlertEvent
	for rows.Next() {
		e, err := scanAlertEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanAlertEvent(s scanner) (*models.AlertEvent, error) {
	e := &models.AlertEvent{}
	var kind, severity, details string
	var whatsapp, email, slack int

	err := s.Scan(&e.ID, &e.TenantID, &e.RuleID, &e.RuleName, &e.FiredAt, &kind, &severity,
		&e.Message, &details, &whatsapp, &email, &slack)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert event: %w", err)
	}

	e.FiredAt = e.FiredAt.UTC()
	e.Kind = models.ParseRuleKind(kind)
	e.Severity = models.ParseSeverity(severity)
	e.Delivery = models.Delivery{WhatsApp: whatsapp != 0, Email: email != 0, Slack: slack != 0}
	e.Details, err = models.DecodeDetails(details)
	if err != nil {
		return nil, fmt.Errorf("decode details of alert event %s: %w", e.ID, err)
	}
	return e, nil
}
