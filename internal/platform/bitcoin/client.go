// Package bitcoin is the REST client for the Bitcoin custody service that
// holds the collateral deposit address.
package bitcoin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/yieldbridge/internal/crypto"
	"github.com/alanyoungcy/yieldbridge/internal/domain"
)

// Config configures the custody client.
type Config struct {
	BaseURL   string
	WalletID  string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// Client implements domain.BitcoinLedger against the custody REST API.
type Client struct {
	baseURL    string
	walletID   string
	httpClient *http.Client
	auth       *crypto.HMACAuth

	mu      sync.Mutex
	address string
}

// NewClient creates a custody client. Requests are HMAC-signed when an API
// key is configured.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		walletID:   cfg.WalletID,
		httpClient: &http.Client{Timeout: timeout},
	}
	if cfg.APIKey != "" {
		c.auth = &crypto.HMACAuth{Key: cfg.APIKey, Secret: cfg.APISecret}
	}
	return c
}

// DepositAddress returns the wallet's deposit address. The address is
// fetched once and cached.
func (c *Client) DepositAddress(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.address
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	path := fmt.Sprintf("/v1/wallets/%s/address", url.PathEscape(c.walletID))
	var resp struct {
		Address string `json:"address"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", fmt.Errorf("bitcoin: deposit address: %w", err)
	}
	if resp.Address == "" {
		return "", fmt.Errorf("bitcoin: deposit address: empty response")
	}

	c.mu.Lock()
	c.address = resp.Address
	c.mu.Unlock()
	return resp.Address, nil
}

// Balance returns the confirmed balance of address in satoshis.
func (c *Client) Balance(ctx context.Context, address string) (int64, error) {
	path := fmt.Sprintf("/v1/addresses/%s/balance", url.PathEscape(address))
	var resp struct {
		Confirmed   int64 `json:"confirmed"`
		Unconfirmed int64 `json:"unconfirmed"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, fmt.Errorf("bitcoin: balance %s: %w", address, err)
	}
	return resp.Confirmed, nil
}

// UTXOs lists unspent outputs at address.
func (c *Client) UTXOs(ctx context.Context, address string) ([]domain.UTXO, error) {
	path := fmt.Sprintf("/v1/addresses/%s/utxos", url.PathEscape(address))
	var utxos []domain.UTXO
	if err := c.do(ctx, http.MethodGet, path, nil, &utxos); err != nil {
		return nil, fmt.Errorf("bitcoin: utxos %s: %w", address, err)
	}
	return utxos, nil
}

// Send transfers sats from the wallet to address and returns the txid.
func (c *Client) Send(ctx context.Context, address string, sats int64) (string, error) {
	if sats <= 0 {
		return "", fmt.Errorf("bitcoin: send: %w", domain.ErrInvalidAmount)
	}
	body := map[string]any{
		"wallet_id":   c.walletID,
		"to":          address,
		"amount_sats": sats,
	}
	var resp struct {
		TxID string `json:"txid"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", body, &resp); err != nil {
		return "", fmt.Errorf("bitcoin: send %d sats to %s: %w", sats, address, err)
	}
	return resp.TxID, nil
}

// do sends a signed request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var (
		reader  io.Reader
		payload string
	)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		payload = string(b)
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		for k, v := range c.auth.Headers(method, path, payload) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, msg)
	}
}

var _ domain.BitcoinLedger = (*Client)(nil)
