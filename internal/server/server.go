// Package server exposes the ledger, the orchestrator and the monitor over
// HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/yieldbridge/internal/server/handler"
	"github.com/alanyoungcy/yieldbridge/internal/server/middleware"
	"github.com/alanyoungcy/yieldbridge/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication

	RateLimit  int // requests per window per client; 0 disables
	RateWindow time.Duration
}

// Handlers aggregates the route handlers. Nil members leave their routes
// unregistered.
type Handlers struct {
	Health       *handler.HealthHandler
	Transactions *handler.TransactionHandler
	Flows        *handler.FlowHandler
	Loans        *handler.LoanHandler
	Monitor      *handler.MonitorHandler
	Prices       *handler.PriceHandler
	Metrics      http.Handler
}

// Server is the API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in CORS, logging,
// optional rate limiting and auth.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter middleware.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	if h.Transactions != nil {
		mux.HandleFunc("GET /api/transactions", h.Transactions.ListTransactions)
		mux.HandleFunc("GET /api/transactions/{id}", h.Transactions.GetTransaction)
	}
	if h.Flows != nil {
		mux.HandleFunc("GET /api/flows", h.Flows.ListFlows)
		mux.HandleFunc("POST /api/flows", h.Flows.StartFlow)
		mux.HandleFunc("GET /api/flows/mintable", h.Flows.MaxMintable)
		mux.HandleFunc("GET /api/flows/{id}", h.Flows.GetFlow)
	}
	if h.Loans != nil {
		mux.HandleFunc("GET /api/loan/{address}", h.Loans.GetLoan)
		mux.HandleFunc("GET /api/deposit", h.Loans.GetDeposit)
	}
	if h.Monitor != nil {
		mux.HandleFunc("GET /api/monitor", h.Monitor.GetStatus)
	}
	if h.Prices != nil {
		mux.HandleFunc("GET /api/prices/{asset}", h.Prices.GetPrice)
		mux.HandleFunc("POST /api/prices/{asset}", h.Prices.SetPrice)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var chain http.Handler = mux
	chain = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(chain)
	if limiter != nil && cfg.RateLimit > 0 {
		chain = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(chain)
	}
	chain = middleware.Logging(logger)(chain)
	chain = middleware.CORS(cfg.CORSOrigins)(chain)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           chain,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Run starts the server and shuts it down when ctx ends.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}
