package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
)

// PriceStore reads and overrides spot prices.
type PriceStore interface {
	SpotPrice(ctx context.Context, asset string) (decimal.Decimal, error)
	SetPrice(ctx context.Context, asset string, price decimal.Decimal) error
}

// PriceHandler serves spot prices.
type PriceHandler struct {
	prices PriceStore
	logger *slog.Logger
}

func NewPriceHandler(prices PriceStore, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{prices: prices, logger: logger}
}

type priceBody struct {
	Asset string          `json:"asset"`
	Price decimal.Decimal `json:"price"`
}

// GetPrice handles GET /api/prices/{asset}.
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	asset := strings.ToUpper(r.PathValue("asset"))
	p, err := h.prices.SpotPrice(r.Context(), asset)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, priceBody{Asset: asset, Price: p})
}

// SetPrice handles POST /api/prices/{asset} with {"price":"97000"}.
func (h *PriceHandler) SetPrice(w http.ResponseWriter, r *http.Request) {
	var body priceBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	body.Asset = strings.ToUpper(r.PathValue("asset"))
	if err := h.prices.SetPrice(r.Context(), body.Asset, body.Price); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: set price failed", slog.String("error", err.Error()))
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, body)
}
