// Package config defines the yieldbridge configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration. Fields come from a TOML file and may be
// overridden by YIELDBRIDGE_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Bitcoin  BitcoinConfig  `toml:"bitcoin"`
	Lending  LendingConfig  `toml:"lending"`
	Solana   SolanaConfig   `toml:"solana"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Kafka    KafkaConfig    `toml:"kafka"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Loan     LoanConfig     `toml:"loan"`
	Flow     FlowConfig     `toml:"flow"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the signing keys. Each key is given raw or as an
// encrypted key file unlocked with key_password.
type WalletConfig struct {
	PrivateKey             string `toml:"private_key"`
	EncryptedKeyPath       string `toml:"encrypted_key_path"`
	SolanaPrivateKey       string `toml:"solana_private_key"`
	SolanaEncryptedKeyPath string `toml:"solana_encrypted_key_path"`
	KeyPassword            string `toml:"key_password"`
}

// BitcoinConfig points at the custody REST API.
type BitcoinConfig struct {
	BaseURL   string   `toml:"base_url"`
	WalletID  string   `toml:"wallet_id"`
	APIKey    string   `toml:"api_key"`
	APISecret string   `toml:"api_secret"`
	Timeout   duration `toml:"timeout"`
}

// LendingConfig points at the EVM lending vault.
type LendingConfig struct {
	RPCURL         string   `toml:"rpc_url"`
	ChainID        int64    `toml:"chain_id"`
	VaultAddress   string   `toml:"vault_address"`
	Decimals       int      `toml:"decimals"`
	GasLimit       uint64   `toml:"gas_limit"`
	ConfirmTimeout duration `toml:"confirm_timeout"`
	PollInterval   duration `toml:"poll_interval"`
}

// SolanaConfig points at the second ledger. An empty mint moves lamports.
type SolanaConfig struct {
	RPCURL     string `toml:"rpc_url"`
	Mint       string `toml:"mint"`
	Decimals   int    `toml:"decimals"`
	YieldVault string `toml:"yield_vault"`
}

// PostgresConfig holds the durable ledger connection.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig enables the shared flow lock, price cache, rate limiter and
// event bus.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	PriceTTL     duration `toml:"price_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// S3Config enables archiving of evicted records.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// KafkaConfig enables settled-record events.
type KafkaConfig struct {
	Enabled      bool     `toml:"enabled"`
	Brokers      []string `toml:"brokers"`
	Topic        string   `toml:"topic"`
	WriteTimeout duration `toml:"write_timeout"`
}

// MonitorConfig tunes the transaction monitor.
type MonitorConfig struct {
	PollInterval        duration `toml:"poll_interval"`
	MaxPollingDuration  duration `toml:"max_polling_duration"`
	MaxRetries          int      `toml:"max_retries"`
	StaleAfter          duration `toml:"stale_after"`
	MaxConcurrentChecks int      `toml:"max_concurrent_checks"`
}

// LoanConfig holds the lending protocol limits.
type LoanConfig struct {
	MaxLTV            float64 `toml:"max_ltv"`
	LiquidationBuffer float64 `toml:"liquidation_buffer"`
}

// FlowConfig holds orchestrator limits and the static price table.
type FlowConfig struct {
	CollateralAsset    string             `toml:"collateral_asset"`
	StablecoinAsset    string             `toml:"stablecoin_asset"`
	StablecoinDecimals int                `toml:"stablecoin_decimals"`
	MinCollateralUSD   float64            `toml:"min_collateral_usd"`
	TargetLTV          float64            `toml:"target_ltv"`
	LockTTL            duration           `toml:"lock_ttl"`
	MaxFlows           int                `toml:"max_flows"`
	StaticPrices       map[string]float64 `toml:"static_prices"`
	PriceMaxAge        duration           `toml:"price_max_age"`
}

// LedgerConfig selects the record store. The memory backend forgets
// pending records on restart and is only accepted with Ephemeral set.
type LedgerConfig struct {
	Backend    string `toml:"backend"` // postgres or memory
	Ephemeral  bool   `toml:"ephemeral"`
	MaxRecords int    `toml:"max_records"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration decodes TOML strings such as "10s" or "30m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the configuration used when the file leaves a value out.
func Defaults() Config {
	return Config{
		Bitcoin: BitcoinConfig{
			Timeout: duration{30 * time.Second},
		},
		Lending: LendingConfig{
			ChainID:        31611,
			Decimals:       18,
			GasLimit:       300_000,
			ConfirmTimeout: duration{30 * time.Second},
			PollInterval:   duration{2 * time.Second},
		},
		Solana: SolanaConfig{
			RPCURL:   "https://api.devnet.solana.com",
			Decimals: 6,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "yieldbridge",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			PriceTTL:     duration{5 * time.Minute},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "yieldbridge-archive",
			ForcePathStyle: true,
		},
		Kafka: KafkaConfig{
			Topic:        "yieldbridge.transactions",
			WriteTimeout: duration{10 * time.Second},
		},
		Monitor: MonitorConfig{
			PollInterval:        duration{10 * time.Second},
			MaxPollingDuration:  duration{30 * time.Minute},
			MaxRetries:          3,
			StaleAfter:          duration{time.Hour},
			MaxConcurrentChecks: 16,
		},
		Loan: LoanConfig{
			MaxLTV:            90,
			LiquidationBuffer: 1.1,
		},
		Flow: FlowConfig{
			CollateralAsset:    "BTC",
			StablecoinAsset:    "MUSD",
			StablecoinDecimals: 6,
			MinCollateralUSD:   1800,
			TargetLTV:          50,
			LockTTL:            duration{2 * time.Hour},
			MaxFlows:           100,
			StaticPrices:       map[string]float64{},
			PriceMaxAge:        duration{5 * time.Minute},
		},
		Ledger: LedgerConfig{
			Backend:    "postgres",
			MaxRecords: 100,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:  duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"tx_failed", "flow_failed"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"serve":   true,
	"monitor": true,
	"flow":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsBitcoin reports whether the mode starts flows.
func (c *Config) NeedsBitcoin() bool {
	return c.Mode == "serve" || c.Mode == "flow"
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: serve, monitor, flow)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Wallet
	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		add("wallet: private_key or encrypted_key_path is required")
	}
	if c.Wallet.SolanaPrivateKey == "" && c.Wallet.SolanaEncryptedKeyPath == "" {
		add("wallet: solana_private_key or solana_encrypted_key_path is required")
	}
	if (c.Wallet.EncryptedKeyPath != "" || c.Wallet.SolanaEncryptedKeyPath != "") && c.Wallet.KeyPassword == "" {
		add("wallet: key_password is required with an encrypted key file")
	}

	// Ledgers
	if c.NeedsBitcoin() {
		if c.Bitcoin.BaseURL == "" {
			add("bitcoin: base_url must not be empty")
		}
		if c.Bitcoin.WalletID == "" {
			add("bitcoin: wallet_id must not be empty")
		}
	}
	if c.Lending.RPCURL == "" {
		add("lending: rpc_url must not be empty")
	}
	if c.Lending.ChainID <= 0 {
		add("lending: chain_id must be positive")
	}
	if c.Lending.VaultAddress == "" {
		add("lending: vault_address must not be empty")
	}
	if c.Solana.RPCURL == "" {
		add("solana: rpc_url must not be empty")
	}
	if c.Solana.Decimals < 0 || c.Solana.Decimals > 18 {
		add("solana: decimals must be 0-18, got %d", c.Solana.Decimals)
	}

	// Ledger store
	switch c.Ledger.Backend {
	case "memory":
		if !c.Ledger.Ephemeral {
			add("ledger: memory backend loses pending records on restart; use postgres or set ledger.ephemeral = true")
		}
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" && c.Postgres.Host == "" {
			add("postgres: host or dsn is required for the postgres ledger")
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		add("ledger: unknown backend %q (valid: postgres, memory)", c.Ledger.Backend)
	}
	if c.Ledger.MaxRecords < 1 {
		add("ledger: max_records must be >= 1")
	}

	// Optional infrastructure
	if c.Redis.Enabled && c.Redis.Addr == "" {
		add("redis: addr must not be empty when enabled")
	}
	if c.S3.Enabled && c.S3.Bucket == "" {
		add("s3: bucket must not be empty when enabled")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			add("kafka: brokers must not be empty when enabled")
		}
		if c.Kafka.Topic == "" {
			add("kafka: topic must not be empty when enabled")
		}
	}

	// Monitor
	if c.Monitor.PollInterval.Duration <= 0 {
		add("monitor: poll_interval must be > 0")
	}
	if c.Monitor.MaxPollingDuration.Duration < c.Monitor.PollInterval.Duration {
		add("monitor: max_polling_duration must be >= poll_interval")
	}
	if c.Monitor.MaxRetries < 1 {
		add("monitor: max_retries must be >= 1")
	}
	if c.Monitor.StaleAfter.Duration <= 0 {
		add("monitor: stale_after must be > 0")
	}

	// Loan
	if c.Loan.MaxLTV <= 0 || c.Loan.MaxLTV > 100 {
		add("loan: max_ltv must be in (0, 100], got %v", c.Loan.MaxLTV)
	}
	if c.Loan.LiquidationBuffer <= 1 {
		add("loan: liquidation_buffer must be > 1, got %v", c.Loan.LiquidationBuffer)
	}

	// Flow
	if c.Flow.TargetLTV <= 0 || c.Flow.TargetLTV > c.Loan.MaxLTV {
		add("flow: target_ltv must be in (0, max_ltv], got %v", c.Flow.TargetLTV)
	}
	if c.Flow.MinCollateralUSD < 0 {
		add("flow: min_collateral_usd must be >= 0")
	}
	if c.Flow.StablecoinDecimals < 0 || c.Flow.StablecoinDecimals > 18 {
		add("flow: stablecoin_decimals must be 0-18, got %d", c.Flow.StablecoinDecimals)
	}
	for asset, p := range c.Flow.StaticPrices {
		if p <= 0 {
			add("flow: static price for %s must be > 0", asset)
		}
	}
	if !c.Redis.Enabled && len(c.Flow.StaticPrices) == 0 && c.NeedsBitcoin() {
		add("flow: static_prices must be set when redis price cache is disabled")
	}

	// Server
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		add("server: rate_limit must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
