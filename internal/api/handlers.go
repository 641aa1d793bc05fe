package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/davidahmann/creditgate/internal/auth"
	"github.com/davidahmann/creditgate/internal/workflow"
	"github.com/davidahmann/creditgate/pkg/types"
)

const ServiceName = "creditgate"

// MetricsReader is satisfied by the OpenTelemetry SDK's manual reader.
type MetricsReader interface {
	Collect(ctx context.Context, rm *metricdata.ResourceMetrics) error
}

type Handler struct {
	Service *workflow.Service
	Auth    auth.Authenticator
	Metrics MetricsReader
	Logger  *slog.Logger
	Version string
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": ServiceName,
		"version": h.version(),
	})
}

func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ensureAuth(w, r); !ok {
		return
	}
	var req types.CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	created, err := h.Service.CreateRequest(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ensureAuth(w, r); !ok {
		return
	}
	req, err := h.Service.GetRequest(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ensureAuth(w, r); !ok {
		return
	}
	customers, err := h.Service.ListCustomers(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ensureAuth(w, r); !ok {
		return
	}
	snap, err := h.Service.GetCustomer(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// StartWorkflow admits the run and returns before it finishes.
func (h *Handler) StartWorkflow(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ensureAuth(w, r); !ok {
		return
	}
	id := r.PathValue("id")
	run, err := h.Service.StartWorkflow(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"request_id":  run.RequestID,
		"status":      string(run.Status),
		"monitor_url": "/v1/workflows/" + id + "/status",
	})
}

type approvalRequest struct {
	Decision      types.DecisionKind `json:"decision"`
	ApprovedLimit *float64           `json:"approved_limit,omitempty"`
	Comments      string             `json:"comments"`
}

func (h *Handler) SubmitApproval(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.ensureAuth(w, r)
	if !ok {
		return
	}
	if !claims.CanApprove() {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": auth.ErrForbidden.Error()})
		return
	}
	var body approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	id := r.PathValue("id")
	submittedBy := claims.Subject
	if claims.Email != "" {
		submittedBy = claims.Email
	}
	err := h.Service.SubmitApproval(r.Context(), id, types.ApprovalDecision{
		Decision:      body.Decision,
		ApprovedLimit: body.ApprovedLimit,
		Comments:      body.Comments,
		SubmittedBy:   submittedBy,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"request_id": id,
		"status":     "accepted",
	})
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ensureAuth(w, r); !ok {
		return
	}
	run, err := h.Service.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetEvents returns the latest attempt, or every attempt with ?history=true.
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ensureAuth(w, r); !ok {
		return
	}
	id := r.PathValue("id")
	var (
		events []types.WorkflowEvent
		err    error
	)
	if r.URL.Query().Get("history") == "true" {
		events, err = h.Service.GetHistory(r.Context(), id)
	} else {
		events, err = h.Service.GetEvents(r.Context(), id)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	if events == nil {
		events = []types.WorkflowEvent{}
	}
	resp := map[string]any{"request_id": id, "events": events, "chain_valid": true}
	if err := h.Service.VerifyEvents(r.Context(), id); err != nil {
		resp["chain_valid"] = false
		resp["chain_error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ensureAuth(w, r); !ok {
		return
	}
	summary, err := h.Service.GetSummary(r.Context(), r.PathValue("id"))
	if err != nil {
		var notReady *workflow.NotReadyError
		if errors.As(err, &notReady) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error":  err.Error(),
				"status": string(notReady.Run.Status),
				"state":  string(notReady.Run.State),
			})
			return
		}
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ensureAuth(w, r); !ok {
		return
	}
	report, err := h.Service.GetReceipt(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) QuickRun(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ensureAuth(w, r); !ok {
		return
	}
	summary, err := h.Service.QuickRun(r.Context(), r.PathValue("scenario"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ensureAuth(w, r); !ok {
		return
	}
	pending := h.Service.PendingApprovals()
	if pending == nil {
		pending = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

type metricPoint struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      int64             `json:"value"`
}

// DebugMetrics renders the workflow counters collected by Metrics.
func (h *Handler) DebugMetrics(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.ensureAuth(w, r); !ok {
		return
	}
	if h.Metrics == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "metrics not configured"})
		return
	}
	var rm metricdata.ResourceMetrics
	if err := h.Metrics.Collect(r.Context(), &rm); err != nil {
		h.writeError(w, err)
		return
	}
	points := []metricPoint{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				attrs := map[string]string{}
				for _, kv := range dp.Attributes.ToSlice() {
					attrs[string(kv.Key)] = kv.Value.Emit()
				}
				points = append(points, metricPoint{Name: m.Name, Attributes: attrs, Value: dp.Value})
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": points})
}

func (h *Handler) ensureAuth(w http.ResponseWriter, r *http.Request) (auth.Claims, bool) {
	claims, err := h.Authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return auth.Claims{}, false
	}
	return claims, true
}

func (h *Handler) Authenticate(r *http.Request) (auth.Claims, error) {
	if h.Auth == nil {
		return auth.Claims{}, auth.ErrInvalidToken
	}
	return h.Auth.Authenticate(r)
}

func (h *Handler) version() string {
	if strings.TrimSpace(h.Version) == "" {
		return "dev"
	}
	return h.Version
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
