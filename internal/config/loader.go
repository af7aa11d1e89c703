package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults, then applies
// YIELDBRIDGE_* environment overrides. An empty path skips the file. The
// result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "YIELDBRIDGE_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "YIELDBRIDGE_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.SolanaPrivateKey, "YIELDBRIDGE_WALLET_SOLANA_PRIVATE_KEY")
	setStr(&cfg.Wallet.SolanaEncryptedKeyPath, "YIELDBRIDGE_WALLET_SOLANA_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "YIELDBRIDGE_WALLET_KEY_PASSWORD")

	// ── Bitcoin custody ──
	setStr(&cfg.Bitcoin.BaseURL, "YIELDBRIDGE_BITCOIN_BASE_URL")
	setStr(&cfg.Bitcoin.WalletID, "YIELDBRIDGE_BITCOIN_WALLET_ID")
	setStr(&cfg.Bitcoin.APIKey, "YIELDBRIDGE_BITCOIN_API_KEY")
	setStr(&cfg.Bitcoin.APISecret, "YIELDBRIDGE_BITCOIN_API_SECRET")
	setDuration(&cfg.Bitcoin.Timeout, "YIELDBRIDGE_BITCOIN_TIMEOUT")

	// ── Lending ──
	setStr(&cfg.Lending.RPCURL, "YIELDBRIDGE_LENDING_RPC_URL")
	setInt64(&cfg.Lending.ChainID, "YIELDBRIDGE_LENDING_CHAIN_ID")
	setStr(&cfg.Lending.VaultAddress, "YIELDBRIDGE_LENDING_VAULT_ADDRESS")
	setInt(&cfg.Lending.Decimals, "YIELDBRIDGE_LENDING_DECIMALS")
	setDuration(&cfg.Lending.ConfirmTimeout, "YIELDBRIDGE_LENDING_CONFIRM_TIMEOUT")

	// ── Solana ──
	setStr(&cfg.Solana.RPCURL, "YIELDBRIDGE_SOLANA_RPC_URL")
	setStr(&cfg.Solana.Mint, "YIELDBRIDGE_SOLANA_MINT")
	setInt(&cfg.Solana.Decimals, "YIELDBRIDGE_SOLANA_DECIMALS")
	setStr(&cfg.Solana.YieldVault, "YIELDBRIDGE_SOLANA_YIELD_VAULT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "YIELDBRIDGE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "YIELDBRIDGE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "YIELDBRIDGE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "YIELDBRIDGE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "YIELDBRIDGE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "YIELDBRIDGE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "YIELDBRIDGE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "YIELDBRIDGE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "YIELDBRIDGE_POSTGRES_POOL_MIN_CONNS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "YIELDBRIDGE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "YIELDBRIDGE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "YIELDBRIDGE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "YIELDBRIDGE_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "YIELDBRIDGE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "YIELDBRIDGE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "YIELDBRIDGE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "YIELDBRIDGE_S3_REGION")
	setStr(&cfg.S3.Bucket, "YIELDBRIDGE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "YIELDBRIDGE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "YIELDBRIDGE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "YIELDBRIDGE_S3_USE_SSL")

	// ── Kafka ──
	setBool(&cfg.Kafka.Enabled, "YIELDBRIDGE_KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "YIELDBRIDGE_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "YIELDBRIDGE_KAFKA_TOPIC")

	// ── Monitor ──
	setDuration(&cfg.Monitor.PollInterval, "YIELDBRIDGE_MONITOR_POLL_INTERVAL")
	setDuration(&cfg.Monitor.MaxPollingDuration, "YIELDBRIDGE_MONITOR_MAX_POLLING_DURATION")
	setInt(&cfg.Monitor.MaxRetries, "YIELDBRIDGE_MONITOR_MAX_RETRIES")
	setDuration(&cfg.Monitor.StaleAfter, "YIELDBRIDGE_MONITOR_STALE_AFTER")

	// ── Loan / flow ──
	setFloat64(&cfg.Loan.MaxLTV, "YIELDBRIDGE_LOAN_MAX_LTV")
	setFloat64(&cfg.Loan.LiquidationBuffer, "YIELDBRIDGE_LOAN_LIQUIDATION_BUFFER")
	setFloat64(&cfg.Flow.TargetLTV, "YIELDBRIDGE_FLOW_TARGET_LTV")
	setFloat64(&cfg.Flow.MinCollateralUSD, "YIELDBRIDGE_FLOW_MIN_COLLATERAL_USD")
	setPriceMap(&cfg.Flow.StaticPrices, "YIELDBRIDGE_FLOW_STATIC_PRICES")

	// ── Ledger ──
	setStr(&cfg.Ledger.Backend, "YIELDBRIDGE_LEDGER_BACKEND")
	setBool(&cfg.Ledger.Ephemeral, "YIELDBRIDGE_LEDGER_EPHEMERAL")
	setInt(&cfg.Ledger.MaxRecords, "YIELDBRIDGE_LEDGER_MAX_RECORDS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "YIELDBRIDGE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "YIELDBRIDGE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "YIELDBRIDGE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "YIELDBRIDGE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "YIELDBRIDGE_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "YIELDBRIDGE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "YIELDBRIDGE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "YIELDBRIDGE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "YIELDBRIDGE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "YIELDBRIDGE_MODE")
	setStr(&cfg.LogLevel, "YIELDBRIDGE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the variable is
// set and parses.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setPriceMap parses "BTC=95000,MUSD=1". Malformed pairs are skipped.
func setPriceMap(dst *map[string]float64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	out := make(map[string]float64)
	for _, pair := range strings.Split(v, ",") {
		asset, raw, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(asset))] = f
	}
	if len(out) > 0 {
		*dst = out
	}
}
