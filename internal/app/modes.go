package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/yieldbridge/internal/domain"
	"github.com/alanyoungcy/yieldbridge/internal/server"
	"github.com/alanyoungcy/yieldbridge/internal/server/handler"
	"github.com/alanyoungcy/yieldbridge/internal/server/ws"
	"github.com/alanyoungcy/yieldbridge/internal/service"
)

// ServeMode resumes monitoring of pending records and serves the HTTP API
// and WebSocket feed until ctx is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	if err := a.resume(ctx, deps); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deps.Monitor.Run(ctx)
	})
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// MonitorMode only reconciles pending records. The HTTP server runs when
// enabled, without flow endpoints.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	if err := a.resume(ctx, deps); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deps.Monitor.Run(ctx)
	})
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// FlowMode runs one flow from the command-line amount and returns when it
// completes or fails.
func (a *App) FlowMode(ctx context.Context, deps *Dependencies) error {
	if deps.Orchestrator == nil {
		return fmt.Errorf("app: flow mode needs bitcoin custody configured")
	}
	a.logger.InfoContext(ctx, "starting flow mode",
		slog.String("bitcoin_amount", a.opts.BitcoinAmount.String()),
		slog.String("mint_amount", a.opts.MintAmount.String()),
	)

	if err := a.resume(ctx, deps); err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return deps.Monitor.Run(gctx)
	})

	flowErr := func() error {
		h, err := deps.Orchestrator.StartFlow(gctx, service.FlowRequest{
			BitcoinAmount: a.opts.BitcoinAmount,
			MintAmount:    a.opts.MintAmount,
			Destination:   a.opts.Destination,
		})
		if err != nil {
			return fmt.Errorf("app: start flow: %w", err)
		}
		if err := h.Wait(gctx); err != nil {
			return fmt.Errorf("app: flow %s: %w", h.ID, err)
		}
		snap := h.Snapshot()
		a.logger.InfoContext(ctx, "flow completed",
			slog.String("flow_id", snap.ID),
			slog.String("minted", snap.Mint.String()),
			slog.Any("records", snap.RecordIDs),
		)
		return nil
	}()

	stop()
	_ = g.Wait()
	return flowErr
}

// resume re-monitors pending records left by a previous run. Expiry
// failures are logged, not fatal.
func (a *App) resume(ctx context.Context, deps *Dependencies) error {
	resumed, expired, err := deps.Monitor.Resume(ctx)
	if err != nil {
		if resumed == 0 && expired == 0 {
			return fmt.Errorf("app: resume monitoring: %w", err)
		}
		a.logger.WarnContext(ctx, "resume finished with errors",
			slog.Int("resumed", resumed),
			slog.Int("expired", expired),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// startHTTPServer adds the WebSocket hub and the API server to g. Both stop
// when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.Bus, ws.Config{
		Channels: []string{domain.ChannelTransactions, domain.ChannelFlows, service.ChannelPrices},
		Snapshot: func() any { return deps.Monitor.Status() },
	}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	health := handler.NewHealthHandler(a.cfg.Mode, deps.Clock)
	for name, check := range deps.HealthChecks {
		health.WithCheck(name, check)
	}

	h := server.Handlers{
		Health:       health,
		Transactions: handler.NewTransactionHandler(deps.Ledger, a.logger),
		Monitor:      handler.NewMonitorHandler(deps.Monitor),
		Prices:       handler.NewPriceHandler(deps.Prices, a.logger),
		Metrics:      deps.Metrics.Handler(),
	}
	var deposits handler.DepositReader
	if deps.Orchestrator != nil && a.cfg.Mode != "monitor" {
		h.Flows = handler.NewFlowHandler(deps.Orchestrator, a.logger)
		deposits = deps.Orchestrator
	}
	h.Loans = handler.NewLoanHandler(deps.Risk, deposits, a.logger)

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, h, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Run(ctx)
	})
}
