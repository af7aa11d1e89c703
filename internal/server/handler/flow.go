package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/yieldbridge/internal/service"
)

// FlowRunner starts and looks up bridge flows.
type FlowRunner interface {
	StartFlow(ctx context.Context, req service.FlowRequest) (*service.FlowHandle, error)
	Flow(id string) (*service.FlowHandle, error)
	Flows() []*service.FlowHandle
	MaxMintable(ctx context.Context, btcAmount decimal.Decimal) (decimal.Decimal, error)
}

// FlowHandler serves the bridge orchestrator.
type FlowHandler struct {
	flows  FlowRunner
	logger *slog.Logger
}

func NewFlowHandler(flows FlowRunner, logger *slog.Logger) *FlowHandler {
	return &FlowHandler{flows: flows, logger: logger}
}

// StartFlow validates and dispatches a flow. Validation errors map to 422
// and create nothing; a flow that failed after dispatch is still returned
// with 202 so the client can inspect its records.
// POST /api/flows
func (h *FlowHandler) StartFlow(w http.ResponseWriter, r *http.Request) {
	var req service.FlowRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	f, err := h.flows.StartFlow(context.WithoutCancel(r.Context()), req)
	if f == nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: start flow failed",
				slog.String("error", err.Error()),
			)
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, f.Snapshot())
}

// GetFlow handles GET /api/flows/{id}.
func (h *FlowHandler) GetFlow(w http.ResponseWriter, r *http.Request) {
	f, err := h.flows.Flow(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), "flow not found")
		return
	}
	writeJSON(w, http.StatusOK, f.Snapshot())
}

// ListFlows handles GET /api/flows.
func (h *FlowHandler) ListFlows(w http.ResponseWriter, _ *http.Request) {
	flows := h.flows.Flows()
	out := make([]service.FlowSnapshot, 0, len(flows))
	for _, f := range flows {
		out = append(out, f.Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]any{"flows": out})
}

// MaxMintable handles GET /api/flows/mintable?bitcoin=0.05.
func (h *FlowHandler) MaxMintable(w http.ResponseWriter, r *http.Request) {
	amount, err := decimal.NewFromString(r.URL.Query().Get("bitcoin"))
	if err != nil || amount.IsNegative() {
		writeError(w, http.StatusBadRequest, "bitcoin must be a non-negative decimal")
		return
	}
	limit, err := h.flows.MaxMintable(r.Context(), amount)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: max mintable failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bitcoin_amount": amount,
		"max_mintable":   limit,
	})
}
