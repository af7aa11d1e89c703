package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/yieldbridge/internal/domain"
)

// TransactionReader is the read side of the transaction ledger.
type TransactionReader interface {
	Get(ctx context.Context, id string) (domain.TransactionRecord, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.TransactionRecord, error)
	ListPending(ctx context.Context) ([]domain.TransactionRecord, error)
	ListByFlow(ctx context.Context, flowID string) ([]domain.TransactionRecord, error)
}

// TransactionHandler serves the ledger.
type TransactionHandler struct {
	ledger TransactionReader
	logger *slog.Logger
}

func NewTransactionHandler(ledger TransactionReader, logger *slog.Logger) *TransactionHandler {
	return &TransactionHandler{ledger: ledger, logger: logger}
}

type listTransactionsResponse struct {
	Transactions []domain.TransactionRecord `json:"transactions"`
}

// ListTransactions returns records newest first. ?flow_id= narrows to one
// flow in step order; ?status=pending returns only in-flight records.
// GET /api/transactions
func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		recs []domain.TransactionRecord
		err  error
	)
	switch {
	case q.Get("flow_id") != "":
		recs, err = h.ledger.ListByFlow(r.Context(), q.Get("flow_id"))
	case q.Get("status") == string(domain.TxStatusPending):
		recs, err = h.ledger.ListPending(r.Context())
	case q.Get("status") != "":
		writeError(w, http.StatusBadRequest, "status filter supports only pending")
		return
	default:
		recs, err = h.ledger.List(r.Context(), parseListOpts(r))
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list transactions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	if recs == nil {
		recs = []domain.TransactionRecord{}
	}
	writeJSON(w, http.StatusOK, listTransactionsResponse{Transactions: recs})
}

// GetTransaction handles GET /api/transactions/{id}.
func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	rec, err := h.ledger.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		status := statusFor(err)
		if status == http.StatusNotFound {
			writeError(w, status, "transaction not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get transaction failed",
			slog.String("id", r.PathValue("id")),
			slog.String("error", err.Error()),
		)
		writeError(w, status, "failed to load transaction")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
