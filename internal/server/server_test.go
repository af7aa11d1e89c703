package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldbridge/internal/domain"
	"github.com/alanyoungcy/yieldbridge/internal/metrics"
	"github.com/alanyoungcy/yieldbridge/internal/server/handler"
	"github.com/alanyoungcy/yieldbridge/internal/service"
	"github.com/alanyoungcy/yieldbridge/internal/store/memory"
)

func TestServerRoutesAndAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewFakeClock()
	m := metrics.New()
	ledger := service.NewLedger(memory.NewTransactionStore(), clock, 10, service.LedgerDeps{Metrics: m}, logger)

	rec, err := ledger.Append(context.Background(), domain.TransactionRecord{
		Kind: domain.TxKindDeposit, Asset: "BTC", Amount: decimal.RequireFromString("0.03"),
	})
	require.NoError(t, err)

	srv := NewServer(Config{APIKey: "secret"}, Handlers{
		Health:       handler.NewHealthHandler("serve", clock),
		Transactions: handler.NewTransactionHandler(ledger, logger),
		Metrics:      m.Handler(),
	}, nil, nil, logger)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	get := func(path, key string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		require.NoError(t, err)
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusOK, get("/api/health", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get("/api/transactions", "").StatusCode)
	assert.Equal(t, http.StatusOK, get("/api/transactions", "secret").StatusCode)
	assert.Equal(t, http.StatusOK, get("/api/transactions/"+rec.ID, "secret").StatusCode)
	assert.Equal(t, http.StatusNotFound, get("/api/flows", "secret").StatusCode, "flows not wired")

	resp := get("/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "yieldbridge_ledger_appended_total 1")
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
