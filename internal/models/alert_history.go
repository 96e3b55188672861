// Package models defines domain models for stockalert.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Details is the structured payload stored with every alert event.
// ProductIDs is the subject-id set later firings are compared against.
type Details struct {
	ProductIDs      []string `json:"product_ids"`
	ProductNames    []string `json:"product_names,omitempty"`
	ProductCount    int      `json:"product_count,omitempty"`
	ServiceRate     *float64 `json:"service_rate,omitempty"`
	Threshold       *float64 `json:"threshold,omitempty"`
	TotalOrders     int      `json:"total_orders,omitempty"`
	DeliveredOrders int      `json:"delivered_orders,omitempty"`
	Test            bool     `json:"test,omitempty"`
	Note            string   `json:"note,omitempty"`
}

// DecodeDetails parses stored details JSON. Empty input yields zero Details.
func DecodeDetails(raw string) (Details, error) {
	var d Details
	if strings.TrimSpace(raw) == "" || raw == "null" {
		return d, nil
	}
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Details{}, err
	}
	return d, nil
}

// Encode returns the details as JSON.
func (d Details) Encode() (string, error) {
	if d.ProductIDs == nil {
		d.ProductIDs = []string{}
	}
	data, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Delivery holds the per-channel "at least one recipient succeeded" flags.
type Delivery struct {
	WhatsApp bool `json:"sent_whatsapp"`
	Email    bool `json:"sent_email"`
	Slack    bool `json:"sent_slack"`
}

// Set records the outcome for one channel.
func (d *Delivery) Set(ch Channel, ok bool) {
	switch ch {
	case ChannelWhatsApp:
		d.WhatsApp = ok
	case ChannelEmail:
		d.Email = ok
	case ChannelSlack:
		d.Slack = ok
	}
}

// Get returns the flag for one channel.
func (d Delivery) Get(ch Channel) bool {
	switch ch {
	case ChannelWhatsApp:
		return d.WhatsApp
	case ChannelEmail:
		return d.Email
	case ChannelSlack:
		return d.Slack
	}
	return false
}

// AlertEvent records one non-duplicate firing of a rule.
// Only Delivery changes after creation.
type AlertEvent struct {
	ID       string    `json:"id"`
	TenantID string    `json:"tenant_id"`
	RuleID   string    `json:"rule_id"`
	RuleName string    `json:"rule_name"`
	FiredAt  time.Time `json:"fired_at"`
	Kind     RuleKind  `json:"kind"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	Details  Details   `json:"details"`
	Delivery Delivery  `json:"delivery"`
}
