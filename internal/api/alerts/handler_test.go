package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/stockalert/internal/alerting"
	"github.com/good-yellow-bee/stockalert/internal/models"
	"github.com/good-yellow-bee/stockalert/internal/notifier"
	"github.com/good-yellow-bee/stockalert/internal/pipeline"
)

type mockService struct {
	result  *pipeline.RuleResult
	err     error
	firings []pipeline.Firing

	gotTenant string
	gotRule   string
	gotNote   string
}

func (m *mockService) TestRule(ctx context.Context, tenantID, ruleID, note string) (*pipeline.RuleResult, error) {
	m.gotTenant, m.gotRule, m.gotNote = tenantID, ruleID, note
	return m.result, m.err
}

func (m *mockService) EvaluateAllAlerts(ctx context.Context, tenantID string) ([]pipeline.Firing, error) {
	m.gotTenant = tenantID
	return m.firings, m.err
}

type mockHistory struct {
	events   []*models.AlertEvent
	err      error
	gotLimit int
}

func (m *mockHistory) ListByRule(ctx context.Context, tenantID, ruleID string, limit int) ([]*models.AlertEvent, error) {
	m.gotLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.AlertEvent
	for _, e := range m.events {
		if e.TenantID == tenantID && e.RuleID == ruleID {
			out = append(out, e)
		}
	}
	return out, nil
}

func newTestRouter(svc Service, history HistoryReader) http.Handler {
	h := NewHandler(svc, history, time.Second, nil)
	r := chi.NewRouter()
	r.Route("/api/v1/tenants/{tenantID}", h.Routes)
	return r
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func firedResult() *pipeline.RuleResult {
	delivery := models.Delivery{WhatsApp: true, Email: false}
	return &pipeline.RuleResult{
		RuleID:  "r1",
		Outcome: pipeline.OutcomeFired,
		Event: &models.AlertEvent{
			ID:       "ev-1",
			TenantID: "t1",
			RuleID:   "r1",
			Severity: models.SeverityLow,
			Message:  "Test alert",
			Details:  models.Details{Test: true},
		},
		Report: &notifier.Report{
			Delivery: delivery,
			Channels: []*notifier.ChannelReport{
				{Channel: models.ChannelWhatsApp, Succeeded: []string{"+15550001", "+15550002"}},
				{Channel: models.ChannelEmail, Failed: []notifier.Failure{{Recipient: "bad@", Class: notifier.ClassInvalidRecipient, Error: "invalid recipient"}}},
			},
		},
	}
}

func TestHandler_TestRule(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		result     *pipeline.RuleResult
		err        error
		wantStatus int
		wantCode   string
		hidden     string
	}{
		{
			name:       "fired",
			body:       `{"note":"  checking routing  "}`,
			result:     firedResult(),
			wantStatus: http.StatusOK,
		},
		{
			name:       "empty body",
			result:     firedResult(),
			wantStatus: http.StatusOK,
		},
		{
			name:       "delivery persist warning",
			result:     firedResult(),
			err:        errors.New("update delivery: database is locked"),
			wantStatus: http.StatusOK,
			hidden:     "database is locked",
		},
		{
			name:       "rule not found",
			err:        pipeline.ErrRuleNotFound,
			wantStatus: http.StatusNotFound,
			wantCode:   errCodeNotFound,
		},
		{
			name:       "evaluation failed",
			result:     &pipeline.RuleResult{RuleID: "r1", Outcome: pipeline.OutcomeSkipped},
			err:        &alerting.EvaluationError{RuleID: "r1", Kind: "BOGUS", Err: alerting.ErrUnknownKind},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   errCodeUnprocessable,
			hidden:     "BOGUS",
		},
		{
			name:       "storage failure",
			err:        fmt.Errorf("load rule r1: %w", errors.New("connection reset")),
			wantStatus: http.StatusInternalServerError,
			wantCode:   errCodeInternalError,
			hidden:     "connection reset",
		},
		{
			name:       "invalid body",
			body:       `{"note":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   errCodeBadRequest,
		},
		{
			name:       "note too long",
			body:       `{"note":"` + strings.Repeat("x", 201) + `"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   errCodeValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockService{result: tt.result, err: tt.err}
			rec := do(t, newTestRouter(svc, &mockHistory{}), "POST", "/api/v1/tenants/t1/rules/r1/test", tt.body)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.hidden != "" && strings.Contains(rec.Body.String(), tt.hidden) {
				t.Errorf("response exposes internal error %q: %s", tt.hidden, rec.Body.String())
			}
			if tt.wantCode != "" {
				var resp errorResponse
				json.NewDecoder(rec.Body).Decode(&resp)
				if resp.Error.Code != tt.wantCode {
					t.Errorf("error code = %q, want %q", resp.Error.Code, tt.wantCode)
				}
				return
			}

			var resp struct {
				Data TestRuleResponse `json:"data"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if svc.gotTenant != "t1" || svc.gotRule != "r1" {
				t.Errorf("service called with %q/%q, want t1/r1", svc.gotTenant, svc.gotRule)
			}
			if tt.body != "" && svc.gotNote != "checking routing" {
				t.Errorf("note = %q, want trimmed note", svc.gotNote)
			}
			d := resp.Data
			if d.Outcome != "fired" || d.HistoryID != "ev-1" {
				t.Errorf("outcome/history = %q/%q, want fired/ev-1", d.Outcome, d.HistoryID)
			}
			if !d.Delivery.WhatsApp || d.Delivery.Email {
				t.Errorf("Delivery = %+v, want whatsapp only", d.Delivery)
			}
			if len(d.Channels) != 2 || d.Channels[0].Sent != 2 || d.Channels[1].Failed != 1 {
				t.Errorf("Channels = %+v", d.Channels)
			}
			if tt.err != nil && d.Warning == "" {
				t.Error("Warning is empty, want a warning")
			}
		})
	}
}

func TestHandler_Evaluation(t *testing.T) {
	svc := &mockService{
		firings: []pipeline.Firing{
			{
				Rule: &models.AlertRule{ID: "r1", Name: "Out of stock", Kind: models.KindStockOutage},
				Result: &alerting.FiringResult{
					Triggered:  true,
					SubjectIDs: []string{"p1"},
					Message:    "1 product out of stock",
					Severity:   models.SeverityHigh,
				},
			},
			{
				Rule:   &models.AlertRule{ID: "r2", Name: "Service level", Kind: models.KindServiceLevel},
				Result: &alerting.FiringResult{Triggered: true, Severity: models.SeverityMedium},
			},
		},
	}

	rec := do(t, newTestRouter(svc, &mockHistory{}), "GET", "/api/v1/tenants/t9/evaluation", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Data EvaluationResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if svc.gotTenant != "t9" {
		t.Errorf("tenant = %q, want t9", svc.gotTenant)
	}
	if resp.Data.Count != 2 || len(resp.Data.Firings) != 2 {
		t.Fatalf("Count = %d, want 2", resp.Data.Count)
	}
	if resp.Data.Firings[0].Severity != "HIGH" {
		t.Errorf("Severity = %q, want HIGH", resp.Data.Firings[0].Severity)
	}
	if resp.Data.Firings[1].SubjectIDs == nil {
		t.Error("SubjectIDs = nil, want empty list")
	}
}

func TestHandler_EvaluationError(t *testing.T) {
	svc := &mockService{err: errors.New("list rules: boom")}

	rec := do(t, newTestRouter(svc, &mockHistory{}), "GET", "/api/v1/tenants/t1/evaluation", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Errorf("body leaks internal error: %s", rec.Body.String())
	}
}

func TestHandler_History(t *testing.T) {
	fired := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	history := &mockHistory{
		events: []*models.AlertEvent{
			{ID: "e1", TenantID: "t1", RuleID: "r1", FiredAt: fired, Severity: models.SeverityHigh},
			{ID: "e2", TenantID: "t2", RuleID: "r1", FiredAt: fired},
		},
	}
	router := newTestRouter(&mockService{}, history)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantLimit  int
	}{
		{name: "default limit", wantStatus: http.StatusOK, wantLimit: defaultHistoryLimit},
		{name: "custom limit", query: "?limit=5", wantStatus: http.StatusOK, wantLimit: 5},
		{name: "zero limit", query: "?limit=0", wantStatus: http.StatusBadRequest},
		{name: "too large", query: "?limit=1000", wantStatus: http.StatusBadRequest},
		{name: "not a number", query: "?limit=abc", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history.gotLimit = 0
			rec := do(t, router, "GET", "/api/v1/tenants/t1/rules/r1/history"+tt.query, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if history.gotLimit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", history.gotLimit, tt.wantLimit)
			}

			var resp struct {
				Data []AlertEventResponse `json:"data"`
			}
			json.NewDecoder(rec.Body).Decode(&resp)
			if len(resp.Data) != 1 || resp.Data[0].ID != "e1" {
				t.Errorf("events = %+v, want only e1", resp.Data)
			}
			if resp.Data[0].FiredAt != "2024-03-01T09:00:00Z" {
				t.Errorf("FiredAt = %q", resp.Data[0].FiredAt)
			}
		})
	}
}
