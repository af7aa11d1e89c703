// Package app wires the ledger, monitor and orchestrator together and runs
// them in the configured mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/yieldbridge/internal/config"
)

// Options carries per-invocation inputs that do not belong in the config
// file. Only flow mode reads them.
type Options struct {
	BitcoinAmount decimal.Decimal
	MintAmount    decimal.Decimal
	Destination   string
}

// App owns the configuration, logger and the cleanup functions run on
// shutdown.
type App struct {
	cfg     *config.Config
	opts    Options
	logger  *slog.Logger
	closers []func()
}

// New creates an App.
func New(cfg *config.Config, opts Options, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		opts:   opts,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies, runs the selected mode and blocks until it ends.
// Cancellation of ctx is a clean exit.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.String("ledger_backend", a.cfg.Ledger.Backend),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "serve":
		err = a.ServeMode(ctx, deps)
	case "monitor":
		err = a.MonitorMode(ctx, deps)
	case "flow":
		err = a.FlowMode(ctx, deps)
	default:
		err = fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close runs the cleanup functions in reverse order. Later calls are
// no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
