package bitcoin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldbridge/internal/crypto"
	"github.com/alanyoungcy/yieldbridge/internal/domain"
)

func newTestServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var addressCalls int32
	auth := &crypto.HMACAuth{Key: "k", Secret: "s"}

	mux := http.NewServeMux()
	verify := func(w http.ResponseWriter, r *http.Request, body string) bool {
		if !auth.Verify(r.Method, r.URL.Path, body, r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature)) {
			http.Error(w, "bad signature", http.StatusUnauthorized)
			return false
		}
		return true
	}
	mux.HandleFunc("GET /v1/wallets/w1/address", func(w http.ResponseWriter, r *http.Request) {
		if !verify(w, r, "") {
			return
		}
		atomic.AddInt32(&addressCalls, 1)
		_, _ = io.WriteString(w, `{"address":"bc1qcustody"}`)
	})
	mux.HandleFunc("GET /v1/addresses/bc1qcustody/balance", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"confirmed":3000000,"unconfirmed":5000}`)
	})
	mux.HandleFunc("GET /v1/addresses/bc1qcustody/utxos", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"txid":"ab","vout":1,"value":3000000,"height":840000}]`)
	})
	mux.HandleFunc("POST /v1/transfers", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !verify(w, r, string(body)) {
			return
		}
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		if req["amount_sats"].(float64) != 1000 {
			http.Error(w, "bad amount", http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"txid":"deadbeef"}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &addressCalls
}

func TestClient(t *testing.T) {
	srv, addressCalls := newTestServer(t)
	c := NewClient(Config{BaseURL: srv.URL + "/", WalletID: "w1", APIKey: "k", APISecret: "s"})
	ctx := context.Background()

	addr, err := c.DepositAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bc1qcustody", addr)
	_, err = c.DepositAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(addressCalls))

	bal, err := c.Balance(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, int64(3_000_000), bal)

	utxos, err := c.UTXOs(ctx, addr)
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	assert.Equal(t, domain.UTXO{TxID: "ab", Vout: 1, Value: 3_000_000, Height: 840000}, utxos[0])

	txid, err := c.Send(ctx, "bc1qother", 1000)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", txid)
}

func TestClientErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	unsigned := NewClient(Config{BaseURL: srv.URL, WalletID: "w1"})
	_, err := unsigned.DepositAddress(ctx)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	c := NewClient(Config{BaseURL: srv.URL, WalletID: "w1", APIKey: "k", APISecret: "s"})
	_, err = c.Balance(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = c.Send(ctx, "bc1qother", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}
