package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/yieldbridge/internal/blob/s3"
	"github.com/alanyoungcy/yieldbridge/internal/cache/redis"
	"github.com/alanyoungcy/yieldbridge/internal/config"
	"github.com/alanyoungcy/yieldbridge/internal/crypto"
	"github.com/alanyoungcy/yieldbridge/internal/domain"
	"github.com/alanyoungcy/yieldbridge/internal/events/kafka"
	"github.com/alanyoungcy/yieldbridge/internal/loan"
	"github.com/alanyoungcy/yieldbridge/internal/metrics"
	"github.com/alanyoungcy/yieldbridge/internal/notify"
	"github.com/alanyoungcy/yieldbridge/internal/platform/bitcoin"
	"github.com/alanyoungcy/yieldbridge/internal/platform/evm"
	"github.com/alanyoungcy/yieldbridge/internal/platform/solana"
	"github.com/alanyoungcy/yieldbridge/internal/server/handler"
	"github.com/alanyoungcy/yieldbridge/internal/server/middleware"
	"github.com/alanyoungcy/yieldbridge/internal/service"
	"github.com/alanyoungcy/yieldbridge/internal/store/memory"
	"github.com/alanyoungcy/yieldbridge/internal/store/postgres"
)

// Dependencies bundles everything the modes need. It is built by Wire and
// torn down by the cleanup function Wire returns.
type Dependencies struct {
	Clock   clockwork.Clock
	Metrics *metrics.Metrics

	// HealthChecks ping the optional backends for GET /api/health.
	HealthChecks map[string]handler.HealthCheckFunc

	// Storage
	Store domain.TransactionStore
	Audit domain.AuditStore

	// Coordination
	Locks       domain.LockManager
	Bus         domain.SignalBus
	PriceCache  domain.PriceCache
	RateLimiter middleware.RateLimiter

	// Fan-out
	Archiver domain.RecordArchiver
	Events   domain.EventPublisher
	Notifier *notify.Notifier

	// External ledgers
	Bitcoin domain.BitcoinLedger
	Lending domain.LendingLedger
	Second  domain.SecondLedger

	// Services
	Ledger       *service.Ledger
	Monitor      *service.Monitor
	Orchestrator *service.Orchestrator
	Prices       *service.PriceService
	Risk         *service.RiskService
}

// Wire builds every dependency from cfg. On error, whatever was already
// opened is closed before returning.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Clock:        clockwork.NewRealClock(),
		Metrics:      metrics.New(),
		HealthChecks: make(map[string]handler.HealthCheckFunc),
	}

	// --- Ledger store ---
	switch cfg.Ledger.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)
		deps.HealthChecks["postgres"] = pgClient.Ping

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Store = postgres.NewTransactionStore(pgClient.Pool())
		deps.Audit = postgres.NewAuditStore(pgClient.Pool())
	default:
		deps.Store = memory.NewTransactionStore()
		deps.Audit = memory.NewAuditStore()
	}

	// --- Redis (optional; memory fallbacks for lock and bus) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.HealthChecks["redis"] = redisClient.Ping

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	} else {
		deps.Locks = memory.NewLockManager(deps.Clock)
		deps.Bus = memory.NewSignalBus()
	}

	// --- S3 archive (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.HealthChecks["s3"] = s3Client.Health
		deps.Archiver = s3blob.NewRecordArchiver(s3blob.NewWriter(s3Client), deps.Audit)
	}

	// --- Kafka events (optional) ---
	if cfg.Kafka.Enabled {
		pub := kafka.NewPublisher(kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout.Duration,
		})
		closers = append(closers, func() { _ = pub.Close() })
		deps.Events = pub
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- External ledgers ---
	if err := wireLedgers(ctx, cfg, deps, &closers); err != nil {
		return fail(err)
	}

	// --- Services ---
	loanParams := loan.Params{
		MaxLTV:            decimal.NewFromFloat(cfg.Loan.MaxLTV),
		LiquidationBuffer: decimal.NewFromFloat(cfg.Loan.LiquidationBuffer),
	}

	deps.Ledger = service.NewLedger(deps.Store, deps.Clock, cfg.Ledger.MaxRecords, service.LedgerDeps{
		Archiver: deps.Archiver,
		Bus:      deps.Bus,
		Events:   deps.Events,
		Audit:    deps.Audit,
		Notifier: deps.Notifier,
		Metrics:  deps.Metrics,
	}, logger)

	deps.Monitor = service.NewMonitor(deps.Ledger, deps.Lending, deps.Second, nil, deps.Clock, service.MonitorConfig{
		PollInterval:        cfg.Monitor.PollInterval.Duration,
		MaxPollingDuration:  cfg.Monitor.MaxPollingDuration.Duration,
		MaxRetries:          cfg.Monitor.MaxRetries,
		StaleAfter:          cfg.Monitor.StaleAfter.Duration,
		MaxConcurrentChecks: cfg.Monitor.MaxConcurrentChecks,
	}, deps.Metrics, logger)
	closers = append(closers, deps.Monitor.Close)

	static := make(map[string]decimal.Decimal, len(cfg.Flow.StaticPrices))
	for asset, p := range cfg.Flow.StaticPrices {
		static[strings.ToUpper(asset)] = decimal.NewFromFloat(p)
	}
	deps.Prices = service.NewPriceService(deps.PriceCache, deps.Bus, static, cfg.Flow.PriceMaxAge.Duration, deps.Clock, logger)
	deps.Risk = service.NewRiskService(deps.Lending, deps.Prices, cfg.Flow.CollateralAsset, loanParams, logger)

	if deps.Bitcoin != nil {
		deps.Orchestrator = service.NewOrchestrator(deps.Ledger, deps.Monitor, service.OrchestratorDeps{
			Bitcoin:  deps.Bitcoin,
			Lending:  deps.Lending,
			Second:   deps.Second,
			Prices:   deps.Prices,
			Locks:    deps.Locks,
			Bus:      deps.Bus,
			Notifier: deps.Notifier,
			Metrics:  deps.Metrics,
		}, service.OrchestratorConfig{
			CollateralAsset:    cfg.Flow.CollateralAsset,
			StablecoinAsset:    cfg.Flow.StablecoinAsset,
			StablecoinDecimals: int32(cfg.Flow.StablecoinDecimals),
			MinCollateralUSD:   decimal.NewFromFloat(cfg.Flow.MinCollateralUSD),
			TargetLTV:          decimal.NewFromFloat(cfg.Flow.TargetLTV),
			YieldVault:         cfg.Solana.YieldVault,
			LockTTL:            cfg.Flow.LockTTL.Duration,
			MaxFlows:           cfg.Flow.MaxFlows,
			Loan:               loanParams,
		}, deps.Clock, logger)
	}

	return deps, cleanup, nil
}

// wireLedgers loads the wallet keys and connects the bitcoin custody,
// lending and second-ledger clients. Bitcoin is skipped when no custody
// API is configured.
func wireLedgers(ctx context.Context, cfg *config.Config, deps *Dependencies, closers *[]func()) error {
	evmKey, err := crypto.LoadEVMKey(crypto.KeyConfig{
		Raw:           cfg.Wallet.PrivateKey,
		EncryptedPath: cfg.Wallet.EncryptedKeyPath,
		Password:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("wire: evm key: %w", err)
	}
	signer, err := crypto.NewTxSigner(evmKey, cfg.Lending.ChainID)
	if err != nil {
		return fmt.Errorf("wire: evm signer: %w", err)
	}

	lending, closeLending, err := evm.Dial(ctx, cfg.Lending.RPCURL, signer, evm.Config{
		VaultAddress:   cfg.Lending.VaultAddress,
		Decimals:       int32(cfg.Lending.Decimals),
		GasLimit:       cfg.Lending.GasLimit,
		ConfirmTimeout: cfg.Lending.ConfirmTimeout.Duration,
		PollInterval:   cfg.Lending.PollInterval.Duration,
	}, deps.Clock)
	if err != nil {
		return fmt.Errorf("wire: lending: %w", err)
	}
	*closers = append(*closers, closeLending)
	deps.Lending = lending

	solKey, err := crypto.LoadSecret("solana", crypto.KeyConfig{
		Raw:           cfg.Wallet.SolanaPrivateKey,
		EncryptedPath: cfg.Wallet.SolanaEncryptedKeyPath,
		Password:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("wire: solana key: %w", err)
	}
	second, err := solana.New(solana.Config{
		RPCURL:     cfg.Solana.RPCURL,
		PrivateKey: solKey,
		Mint:       cfg.Solana.Mint,
		Decimals:   uint8(cfg.Solana.Decimals),
	})
	if err != nil {
		return fmt.Errorf("wire: solana: %w", err)
	}
	deps.Second = second

	if cfg.Bitcoin.BaseURL != "" {
		deps.Bitcoin = bitcoin.NewClient(bitcoin.Config{
			BaseURL:   cfg.Bitcoin.BaseURL,
			WalletID:  cfg.Bitcoin.WalletID,
			APIKey:    cfg.Bitcoin.APIKey,
			APISecret: cfg.Bitcoin.APISecret,
			Timeout:   cfg.Bitcoin.Timeout.Duration,
		})
	}
	return nil
}
