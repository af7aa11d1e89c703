package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/yieldbridge/internal/domain"
	"github.com/alanyoungcy/yieldbridge/internal/service"
)

// LoanReader computes loan health.
type LoanReader interface {
	LoanPosition(ctx context.Context, address string) (domain.LoanPosition, error)
}

// DepositReader describes the custody deposit address.
type DepositReader interface {
	DepositInfo(ctx context.Context) (service.DepositInfo, error)
}

// LoanHandler serves loan health and custody deposit details.
type LoanHandler struct {
	risk     LoanReader
	deposits DepositReader
	logger   *slog.Logger
}

func NewLoanHandler(risk LoanReader, deposits DepositReader, logger *slog.Logger) *LoanHandler {
	return &LoanHandler{risk: risk, deposits: deposits, logger: logger}
}

// GetLoan handles GET /api/loan/{address}. "self" reads the service wallet.
func (h *LoanHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("address")
	if addr == "self" {
		addr = ""
	}
	pos, err := h.risk.LoanPosition(r.Context(), addr)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: loan position failed",
			slog.String("address", addr),
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// GetDeposit handles GET /api/deposit.
func (h *LoanHandler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	if h.deposits == nil {
		writeError(w, http.StatusServiceUnavailable, "bitcoin custody not configured")
		return
	}
	info, err := h.deposits.DepositInfo(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: deposit info failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), err.Error())
		return
	}
	if info.UTXOs == nil {
		info.UTXOs = []domain.UTXO{}
	}
	writeJSON(w, http.StatusOK, info)
}
