package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	cfg.Wallet.SolanaPrivateKey = "solana-secret"
	cfg.Bitcoin.BaseURL = "https://custody.example"
	cfg.Bitcoin.WalletID = "w-1"
	cfg.Lending.RPCURL = "https://rpc.test.mezo.org"
	cfg.Lending.VaultAddress = "0x00000000000000000000000000000000000000aa"
	cfg.Flow.StaticPrices = map[string]float64{"BTC": 95000, "MUSD": 1}
	return cfg
}

func TestDefaultsNeedWallet(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet: private_key or encrypted_key_path is required")
	assert.Contains(t, err.Error(), "lending: rpc_url must not be empty")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad mode", mutate: func(c *Config) { c.Mode = "trade" }, wantErr: `unknown mode "trade"`},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "unknown log_level"},
		{name: "encrypted key without password", mutate: func(c *Config) {
			c.Wallet.PrivateKey = ""
			c.Wallet.EncryptedKeyPath = "/keys/evm.json"
		}, wantErr: "key_password is required"},
		{name: "monitor mode skips bitcoin", mutate: func(c *Config) {
			c.Mode = "monitor"
			c.Bitcoin = BitcoinConfig{}
		}},
		{name: "flow mode needs bitcoin", mutate: func(c *Config) {
			c.Mode = "flow"
			c.Bitcoin.WalletID = ""
		}, wantErr: "bitcoin: wallet_id"},
		{name: "memory ledger needs opt-in", mutate: func(c *Config) { c.Ledger.Backend = "memory" }, wantErr: "memory backend loses pending records"},
		{name: "ephemeral memory ledger", mutate: func(c *Config) {
			c.Ledger.Backend = "memory"
			c.Ledger.Ephemeral = true
		}},
		{name: "postgres without host", mutate: func(c *Config) {
			c.Postgres.Host = ""
			c.Postgres.DSN = ""
		}, wantErr: "host or dsn is required"},
		{name: "unknown backend", mutate: func(c *Config) { c.Ledger.Backend = "sqlite" }, wantErr: `unknown backend "sqlite"`},
		{name: "postgres pool", mutate: func(c *Config) {
			c.Ledger.Backend = "postgres"
			c.Postgres.PoolMinConns = 20
		}, wantErr: "pool_min_conns must not exceed"},
		{name: "kafka without brokers", mutate: func(c *Config) { c.Kafka.Enabled = true }, wantErr: "kafka: brokers"},
		{name: "target above max", mutate: func(c *Config) { c.Flow.TargetLTV = 95 }, wantErr: "flow: target_ltv"},
		{name: "buffer not above one", mutate: func(c *Config) { c.Loan.LiquidationBuffer = 1 }, wantErr: "liquidation_buffer"},
		{name: "no price source", mutate: func(c *Config) { c.Flow.StaticPrices = nil }, wantErr: "static_prices"},
		{name: "redis price source", mutate: func(c *Config) {
			c.Flow.StaticPrices = nil
			c.Redis.Enabled = true
		}},
		{name: "poll window", mutate: func(c *Config) {
			c.Monitor.MaxPollingDuration = duration{time.Second}
		}, wantErr: "max_polling_duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "monitor"

[monitor]
poll_interval = "5s"
max_retries = 5

[flow]
static_prices = { BTC = 90000.0 }

[kafka]
brokers = ["k1:9092"]
`), 0o600))

	t.Setenv("YIELDBRIDGE_MONITOR_MAX_RETRIES", "7")
	t.Setenv("YIELDBRIDGE_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("YIELDBRIDGE_FLOW_STATIC_PRICES", "btc=96000,bad,musd=1")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 5*time.Second, cfg.Monitor.PollInterval.Duration)
	assert.Equal(t, 30*time.Minute, cfg.Monitor.MaxPollingDuration.Duration)
	assert.Equal(t, 7, cfg.Monitor.MaxRetries)
	assert.Equal(t, []string{"k1:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, map[string]float64{"BTC": 96000, "MUSD": 1}, cfg.Flow.StaticPrices)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[monitor]\npoll_interval = \"soon\"\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Bitcoin.APISecret = "btc-secret"
	cfg.Server.APIKey = "api-key"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Wallet.SolanaPrivateKey)
	assert.Equal(t, "***", out.Bitcoin.APISecret)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Redis.Password)
	assert.Equal(t, "https://custody.example", out.Bitcoin.BaseURL)

	out.Flow.StaticPrices["BTC"] = 1
	assert.Equal(t, 95000.0, cfg.Flow.StaticPrices["BTC"])
	assert.NotEqual(t, "***", cfg.Wallet.PrivateKey)
}
