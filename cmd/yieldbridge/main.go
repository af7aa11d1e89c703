// Command yieldbridge runs the BTC to stablecoin to yield bridge service.
// It loads and validates configuration, wires dependencies, and runs the
// configured mode until SIGINT or SIGTERM.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/yieldbridge/internal/app"
	"github.com/alanyoungcy/yieldbridge/internal/config"
	"github.com/alanyoungcy/yieldbridge/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override the configured mode (serve, monitor, flow)")
	amount := flag.String("amount", "", "flow mode: BTC collateral to deposit")
	mint := flag.String("mint", "", "flow mode: stablecoin to mint (default: target LTV)")
	to := flag.String("to", "", "flow mode: second-ledger destination (default: own wallet)")
	seal := flag.String("seal", "", "encrypt a key read from stdin (evm or solana) and exit")
	out := flag.String("out", "", "with -seal: key file to write")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if *seal != "" {
		if err := sealKey(*seal, *out, cfg.Wallet.KeyPassword); err != nil {
			fmt.Fprintf(os.Stderr, "seal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Debug("configuration loaded", slog.Any("config", config.RedactedConfig(cfg)))

	opts, err := flowOptions(cfg.Mode, *amount, *mint, *to)
	if err != nil {
		logger.Error("invalid flow arguments", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("yieldbridge starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, opts, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		application.Close()
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger.Info("yieldbridge stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func flowOptions(mode, amount, mint, to string) (app.Options, error) {
	if mode != "flow" {
		return app.Options{}, nil
	}
	if amount == "" {
		return app.Options{}, fmt.Errorf("-amount is required in flow mode")
	}
	btc, err := decimal.NewFromString(amount)
	if err != nil {
		return app.Options{}, fmt.Errorf("-amount: %w", err)
	}
	opts := app.Options{BitcoinAmount: btc, Destination: to}
	if mint != "" {
		if opts.MintAmount, err = decimal.NewFromString(mint); err != nil {
			return app.Options{}, fmt.Errorf("-mint: %w", err)
		}
	}
	return opts, nil
}

func sealKey(kind, path, password string) error {
	if kind != "evm" && kind != "solana" {
		return fmt.Errorf("unknown key kind %q", kind)
	}
	if path == "" {
		return fmt.Errorf("-out is required")
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read key: %w", err)
	}
	blob, err := crypto.EncryptSecret(kind, []byte(strings.TrimSpace(line)), password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}
