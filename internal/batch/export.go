package batch

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/good-yellow-bee/stockalert/internal/pipeline"
)

// ExportFormat defines the output format for exports.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// ParseExportFormat parses a string to ExportFormat.
func ParseExportFormat(s string) (ExportFormat, bool) {
	switch s {
	case "json":
		return ExportJSON, true
	case "csv":
		return ExportCSV, true
	default:
		return "", false
	}
}

// Exporter writes tick reports and dry-run firings for the CLI.
type Exporter struct {
	format ExportFormat
	writer io.Writer
}

// NewExporter creates an exporter for the given format.
func NewExporter(format ExportFormat, w io.Writer) *Exporter {
	return &Exporter{
		format: format,
		writer: w,
	}
}

// ExportReport writes a tick report in the configured format.
func (e *Exporter) ExportReport(report *Report) error {
	switch e.format {
	case ExportCSV:
		return e.exportReportCSV(report)
	default:
		return e.exportJSON(report)
	}
}

func (e *Exporter) exportJSON(v any) error {
	encoder := json.NewEncoder(e.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func (e *Exporter) exportReportCSV(report *Report) error {
	w := csv.NewWriter(e.writer)
	defer w.Flush()

	s := report.Summary
	w.Write([]string{"# Summary"})
	w.Write([]string{"tick_id", report.TickID})
	w.Write([]string{"tenants_processed", strconv.Itoa(s.TenantsProcessed)})
	w.Write([]string{"tenants_failed", strconv.Itoa(s.TenantsFailed)})
	w.Write([]string{"rules_evaluated", strconv.Itoa(s.RulesEvaluated)})
	w.Write([]string{"alerts_triggered", strconv.Itoa(s.AlertsTriggered)})
	w.Write([]string{"alerts_suppressed", strconv.Itoa(s.AlertsSuppressed)})
	w.Write([]string{"notifications_sent", strconv.Itoa(s.NotificationsSent)})
	w.Write([]string{"rule_errors", strconv.Itoa(s.RuleErrors)})
	w.Write([]string{"duration_ms", strconv.FormatInt(report.Duration.Milliseconds(), 10)})
	w.Write([]string{})

	w.Write([]string{"# Tenants"})
	w.Write([]string{"tenant_id", "rules_evaluated", "triggered", "suppressed", "notifications_sent", "rule_errors", "error", "duration_ms"})
	for _, t := range report.Tenants {
		w.Write([]string{
			t.TenantID,
			strconv.Itoa(t.Stats.RulesEvaluated),
			strconv.Itoa(t.Stats.RulesTriggered),
			strconv.Itoa(t.Stats.AlertsSuppressed),
			strconv.Itoa(t.Stats.NotificationsSent),
			strconv.Itoa(t.Stats.RuleErrors),
			t.Error,
			strconv.FormatInt(t.Duration.Milliseconds(), 10),
		})
	}

	return w.Error()
}

// ExportFirings writes dry-run firings in the configured format.
func (e *Exporter) ExportFirings(firings []pipeline.Firing) error {
	if e.format != ExportCSV {
		if firings == nil {
			firings = []pipeline.Firing{}
		}
		return e.exportJSON(firings)
	}

	w := csv.NewWriter(e.writer)
	defer w.Flush()

	w.Write([]string{"rule_id", "rule_name", "kind", "severity", "subjects", "message"})
	for _, f := range firings {
		w.Write([]string{
			f.Rule.ID,
			f.Rule.Name,
			string(f.Rule.Kind),
			string(f.Result.Severity),
			strings.Join(f.Result.SubjectIDs, ";"),
			f.Result.Message,
		})
	}

	return w.Error()
}
