// Package alerts serves the tenant-scoped rule test, dry-run and history endpoints.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/stockalert/internal/api/middleware"
	"github.com/good-yellow-bee/stockalert/internal/models"
	"github.com/good-yellow-bee/stockalert/internal/pipeline"
)

// Response helpers
type errorResponse struct {
	Error errorBody `json:"error"`
}
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
type dataResponse struct {
	Data any `json:"data"`
}

const (
	errCodeBadRequest       = "BAD_REQUEST"
	errCodeValidationFailed = "VALIDATION_FAILED"
	errCodeNotFound         = "NOT_FOUND"
	errCodeUnprocessable    = "EVALUATION_FAILED"
	errCodeInternalError    = "INTERNAL_ERROR"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
	maxNoteLength       = 200
)

func (h *Handler) jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}}); err != nil {
		h.logger.Warn("json encode error", zap.Error(err))
	}
}

func (h *Handler) jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(dataResponse{Data: data}); err != nil {
		h.logger.Warn("json encode error", zap.Error(err))
	}
}

// Service is the pipeline surface the handler drives.
type Service interface {
	TestRule(ctx context.Context, tenantID, ruleID, note string) (*pipeline.RuleResult, error)
	EvaluateAllAlerts(ctx context.Context, tenantID string) ([]pipeline.Firing, error)
}

// HistoryReader lists recorded alert events for a rule.
type HistoryReader interface {
	ListByRule(ctx context.Context, tenantID, ruleID string, limit int) ([]*models.AlertEvent, error)
}

// Handler handles alert endpoints.
type Handler struct {
	service Service
	history HistoryReader
	timeout time.Duration
	logger  *zap.Logger
}

// NewHandler creates an alerts handler. timeout bounds each request's pipeline work.
func NewHandler(service Service, history HistoryReader, timeout time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handler{
		service: service,
		history: history,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "api.alerts")),
	}
}

// Routes mounts the tenant-scoped endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/evaluation", h.Evaluation)
	r.Post("/rules/{ruleID}/test", h.TestRule)
	r.Get("/rules/{ruleID}/history", h.History)
}

// TestRuleRequest is the optional body of a test firing.
type TestRuleRequest struct {
	Note string `json:"note"`
}

// ChannelResult summarizes one channel of a dispatch.
type ChannelResult struct {
	Channel string   `json:"channel"`
	Sent    int      `json:"sent"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// TestRuleResponse is returned by the test endpoint.
type TestRuleResponse struct {
	RuleID    string          `json:"rule_id"`
	Outcome   string          `json:"outcome"`
	HistoryID string          `json:"history_id,omitempty"`
	Severity  string          `json:"severity,omitempty"`
	Message   string          `json:"message,omitempty"`
	Delivery  models.Delivery `json:"delivery"`
	Channels  []ChannelResult `json:"channels"`
	Warning   string          `json:"warning,omitempty"`
}

// FiringResponse is one rule that would fire.
type FiringResponse struct {
	RuleID     string   `json:"rule_id"`
	RuleName   string   `json:"rule_name"`
	Kind       string   `json:"kind"`
	Severity   string   `json:"severity"`
	Message    string   `json:"message"`
	SubjectIDs []string `json:"subject_ids"`
}

// EvaluationResponse is returned by the dry-run endpoint.
type EvaluationResponse struct {
	TenantID string            `json:"tenant_id"`
	Count    int               `json:"count"`
	Firings  []*FiringResponse `json:"firings"`
}

// AlertEventResponse is one recorded firing.
type AlertEventResponse struct {
	ID       string          `json:"id"`
	RuleID   string          `json:"rule_id"`
	RuleName string          `json:"rule_name"`
	Kind     string          `json:"kind"`
	Severity string          `json:"severity"`
	Message  string          `json:"message"`
	FiredAt  string          `json:"fired_at"`
	Test     bool            `json:"test"`
	Delivery models.Delivery `json:"delivery"`
}

// TestRule fires a rule on demand, bypassing deduplication.
func (h *Handler) TestRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	ruleID := chi.URLParam(r, "ruleID")
	log := h.logger.With(
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.String("tenant_id", tenantID),
		zap.String("rule_id", ruleID),
	)

	var req TestRuleRequest
	if r.Body != nil {
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
			return
		}
	}
	req.Note = strings.TrimSpace(req.Note)
	if len(req.Note) > maxNoteLength {
		h.jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "note must be at most 200 characters")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.service.TestRule(ctx, tenantID, ruleID, req.Note)
	switch {
	case errors.Is(err, pipeline.ErrRuleNotFound):
		h.jsonError(w, http.StatusNotFound, errCodeNotFound, "rule not found")
		return
	case res == nil:
		log.Error("test rule failed", zap.Error(err))
		h.jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	case res.Outcome == pipeline.OutcomeSkipped:
		log.Warn("test rule skipped", zap.Error(err))
		h.jsonError(w, http.StatusUnprocessableEntity, errCodeUnprocessable, "rule could not be evaluated")
		return
	}

	resp := ruleResultToResponse(res)
	if err != nil {
		log.Warn("test rule completed with errors", zap.Error(err))
		resp.Warning = "test completed with errors, see server logs"
	}
	h.jsonOK(w, resp)
}

// Evaluation returns the rules of a tenant that would fire now, without side effects.
func (h *Handler) Evaluation(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	firings, err := h.service.EvaluateAllAlerts(ctx, tenantID)
	if err != nil {
		h.logger.Error("evaluation failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		h.jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	resp := &EvaluationResponse{
		TenantID: tenantID,
		Count:    len(firings),
		Firings:  make([]*FiringResponse, len(firings)),
	}
	for i, f := range firings {
		resp.Firings[i] = firingToResponse(f)
	}
	h.jsonOK(w, resp)
}

// History lists the most recent alert events of a rule, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	ruleID := chi.URLParam(r, "ruleID")

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryLimit {
			h.jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	events, err := h.history.ListByRule(ctx, tenantID, ruleID, limit)
	if err != nil {
		h.logger.Error("list alert history failed",
			zap.String("tenant_id", tenantID),
			zap.String("rule_id", ruleID),
			zap.Error(err),
		)
		h.jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	resp := make([]*AlertEventResponse, len(events))
	for i, e := range events {
		resp[i] = eventToResponse(e)
	}
	h.jsonOK(w, resp)
}

func ruleResultToResponse(res *pipeline.RuleResult) *TestRuleResponse {
	resp := &TestRuleResponse{
		RuleID:   res.RuleID,
		Outcome:  string(res.Outcome),
		Channels: []ChannelResult{},
	}
	if res.Event != nil {
		resp.HistoryID = res.Event.ID
		resp.Severity = string(res.Event.Severity)
		resp.Message = res.Event.Message
		resp.Delivery = res.Event.Delivery
	}
	if res.Report != nil {
		resp.Delivery = res.Report.Delivery
		for _, c := range res.Report.Channels {
			cr := ChannelResult{
				Channel: string(c.Channel),
				Sent:    len(c.Succeeded),
				Failed:  len(c.Failed),
			}
			for _, f := range c.Failed {
				cr.Errors = append(cr.Errors, f.Recipient+": "+f.Error)
			}
			resp.Channels = append(resp.Channels, cr)
		}
	}
	return resp
}

func firingToResponse(f pipeline.Firing) *FiringResponse {
	resp := &FiringResponse{
		RuleID:     f.Rule.ID,
		RuleName:   f.Rule.Name,
		Kind:       string(f.Rule.Kind),
		SubjectIDs: []string{},
	}
	if f.Result != nil {
		resp.Severity = string(f.Result.Severity)
		resp.Message = f.Result.Message
		if f.Result.SubjectIDs != nil {
			resp.SubjectIDs = f.Result.SubjectIDs
		}
	}
	return resp
}

func eventToResponse(e *models.AlertEvent) *AlertEventResponse {
	return &AlertEventResponse{
		ID:       e.ID,
		RuleID:   e.RuleID,
		RuleName: e.RuleName,
		Kind:     string(e.Kind),
		Severity: string(e.Severity),
		Message:  e.Message,
		FiredAt:  e.FiredAt.UTC().Format(time.RFC3339),
		Test:     e.Details.Test,
		Delivery: e.Delivery,
	}
}
