package notifier

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/good-yellow-bee/stockalert/internal/models"
)

func TestLoadTemplates(t *testing.T) {
	templates, err := LoadTemplates()
	if err != nil {
		t.Fatalf("LoadTemplates() error = %v", err)
	}
	if templates.text == nil || templates.html == nil {
		t.Error("expected text and html templates")
	}
}

func TestTemplatesRender(t *testing.T) {
	templates, err := LoadTemplates()
	if err != nil {
		t.Fatalf("LoadTemplates() error = %v", err)
	}

	rate := 72.5
	threshold := 95.0

	tests := []struct {
		name     string
		kind     models.RuleKind
		details  models.Details
		channel  models.Channel
		contains []string
		excludes []string
	}{
		{
			name:     "stock outage whatsapp",
			kind:     models.KindStockOutage,
			details:  models.Details{ProductNames: []string{"Widget", "Gadget"}, ProductCount: 2},
			channel:  models.ChannelWhatsApp,
			contains: []string{"*STOCK OUTAGE ALERT*", "*2*", "- Widget", "- Gadget", "_Rule_"},
			excludes: []string{"more"},
		},
		{
			name:     "low stock email is plain",
			kind:     models.KindLowStock,
			details:  models.Details{ProductNames: []string{"A"}, ProductCount: 1},
			channel:  models.ChannelEmail,
			contains: []string{"LOW STOCK ALERT", "- A"},
			excludes: []string{"*LOW STOCK ALERT*"},
		},
		{
			name:     "low stock lists five then remainder",
			kind:     models.KindLowStock,
			details:  models.Details{ProductNames: []string{"a", "b", "c", "d", "e", "f", "g"}, ProductCount: 7},
			channel:  models.ChannelSlack,
			contains: []string{"- e", "... and 2 more"},
			excludes: []string{"- f"},
		},
		{
			name: "service level",
			kind: models.KindServiceLevel,
			details: models.Details{
				ServiceRate: &rate, Threshold: &threshold, TotalOrders: 40, DeliveredOrders: 29,
			},
			channel:  models.ChannelSlack,
			contains: []string{"*72.5%*", "Target: 95%", "Last 7 days", "Total orders: 40", "Delivered: 29"},
		},
		{
			name:     "unknown kind uses generic",
			kind:     models.RuleKind("CUSTOM"),
			channel:  models.ChannelEmail,
			contains: []string{"ALERT: Rule", "Severity: HIGH", "message text"},
		},
		{
			name:     "test firing",
			kind:     models.KindStockOutage,
			details:  models.Details{Test: true, Note: "manual check"},
			channel:  models.ChannelWhatsApp,
			contains: []string{"*TEST NOTIFICATION*", "manual check"},
			excludes: []string{"STOCK OUTAGE ALERT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := models.NewAlertRule("t1", "Rule", tt.kind)
			event := &models.AlertEvent{
				Kind:     tt.kind,
				Severity: models.SeverityHigh,
				Message:  "message text",
				Details:  tt.details,
			}
			out, err := templates.Render(NewTemplateData(rule, event, tt.channel))
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			for _, s := range tt.contains {
				if !strings.Contains(out, s) {
					t.Errorf("output missing %q:\n%s", s, out)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(out, s) {
					t.Errorf("output should not contain %q:\n%s", s, out)
				}
			}
		})
	}
}

func TestRenderCapsLength(t *testing.T) {
	templates, err := LoadTemplates()
	if err != nil {
		t.Fatalf("LoadTemplates() error = %v", err)
	}

	rule := models.NewAlertRule("t1", strings.Repeat("very long rule name ", 200), models.KindStockOutage)
	event := &models.AlertEvent{Kind: models.KindStockOutage, Severity: models.SeverityHigh}
	out, err := templates.Render(NewTemplateData(rule, event, models.ChannelWhatsApp))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if n := utf8.RuneCountInString(out); n != MaxMessageLength {
		t.Errorf("rendered length = %d, want %d", n, MaxMessageLength)
	}
	if !strings.HasSuffix(out, "...") {
		t.Error("truncated message should end with ...")
	}
}

func TestRenderHTML(t *testing.T) {
	templates, err := LoadTemplates()
	if err != nil {
		t.Fatalf("LoadTemplates() error = %v", err)
	}

	rule := models.NewAlertRule("t1", "<b>Rule</b>", models.KindLowStock)
	event := &models.AlertEvent{Kind: models.KindLowStock, Severity: models.SeverityCritical}
	out, err := templates.RenderHTML(NewTemplateData(rule, event, models.ChannelEmail), "body & text")
	if err != nil {
		t.Fatalf("RenderHTML() error = %v", err)
	}
	if strings.Contains(out, "<b>Rule</b>") {
		t.Error("rule name should be escaped")
	}
	if !strings.Contains(out, "#d32f2f") {
		t.Error("expected critical color")
	}
	if !strings.Contains(out, "body &amp; text") {
		t.Error("expected escaped body")
	}
}

func TestRenderHTML_CapsBody(t *testing.T) {
	templates, err := LoadTemplates()
	if err != nil {
		t.Fatalf("LoadTemplates() error = %v", err)
	}

	rule := models.NewAlertRule("t1", "Rule", models.KindLowStock)
	event := &models.AlertEvent{Kind: models.KindLowStock, Severity: models.SeverityMedium}
	body := strings.Repeat("x", 3*MaxMessageLength)
	out, err := templates.RenderHTML(NewTemplateData(rule, event, models.ChannelEmail), body)
	if err != nil {
		t.Fatalf("RenderHTML() error = %v", err)
	}

	capped := Truncate(body, MaxMessageLength)
	if !strings.Contains(out, capped) {
		t.Error("expected capped body in HTML")
	}
	if strings.Contains(out, strings.Repeat("x", MaxMessageLength)) {
		t.Errorf("HTML body exceeds %d characters", MaxMessageLength)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		limit int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"ééééé", 4, "é..."},
		{"abc", 2, "ab"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.input, tt.limit), func(t *testing.T) {
			if got := Truncate(tt.input, tt.limit); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.input, tt.limit, got, tt.want)
			}
		})
	}
}

func TestSeverityColor(t *testing.T) {
	tests := []struct {
		severity models.Severity
		want     string
	}{
		{models.SeverityCritical, "#d32f2f"},
		{models.SeverityHigh, "#f57c00"},
		{models.SeverityMedium, "#fbc02d"},
		{models.SeverityLow, "#388e3c"},
		{models.Severity("other"), "#757575"},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			if got := severityColor(tt.severity); got != tt.want {
				t.Errorf("severityColor(%q) = %q, want %q", tt.severity, got, tt.want)
			}
		})
	}
}

func TestEmailSubject(t *testing.T) {
	rule := models.NewAlertRule("t1", "Outage", models.KindStockOutage)

	event := &models.AlertEvent{Severity: models.SeverityCritical}
	if got := EmailSubject(rule, event); got != "[CRITICAL] Stock alert: Outage" {
		t.Errorf("EmailSubject() = %q", got)
	}

	event.Details.Test = true
	if got := EmailSubject(rule, event); got != "[TEST] Stock alert: Outage" {
		t.Errorf("EmailSubject() test = %q", got)
	}
}
