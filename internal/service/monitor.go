package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/yieldbridge/internal/domain"
	"github.com/alanyoungcy/yieldbridge/internal/metrics"
)

// MonitorConfig holds the polling budget of the transaction monitor.
type MonitorConfig struct {
	PollInterval        time.Duration
	MaxPollingDuration  time.Duration
	MaxRetries          int
	StaleAfter          time.Duration
	MaxConcurrentChecks int
}

// DefaultMonitorConfig returns the production polling budget.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		PollInterval:        10 * time.Second,
		MaxPollingDuration:  30 * time.Minute,
		MaxRetries:          3,
		StaleAfter:          time.Hour,
		MaxConcurrentChecks: 16,
	}
}

// SettleFunc is invoked once, on its own goroutine, after a monitored record
// reaches a terminal status.
type SettleFunc func(ctx context.Context, rec domain.TransactionRecord)

// Phase is the monitor-internal progress of an entry.
type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseConfirming Phase = "confirming"
)

// MonitoredEntry is a read-only snapshot of one monitored record.
type MonitoredEntry struct {
	ID                string        `json:"id"`
	Kind              domain.TxKind `json:"kind"`
	Phase             Phase         `json:"phase"`
	StartedAt         time.Time     `json:"started_at"`
	AttemptCount      int           `json:"attempt_count"`
	ConsecutiveErrors int           `json:"consecutive_errors"`
	LastError         string        `json:"last_error,omitempty"`
}

// MonitorStatus summarises the monitor for operators.
type MonitorStatus struct {
	Running bool             `json:"running"`
	Count   int              `json:"count"`
	Entries []MonitoredEntry `json:"entries"`
}

type monitoredEntry struct {
	id        string
	kind      domain.TxKind
	phase     Phase
	startedAt time.Time
	attempts  int
	errs      []error
	onSettle  SettleFunc
}

// Monitor reconciles pending records against the external ledgers. It is
// the only component that moves a monitored record to a terminal status.
type Monitor struct {
	ledger  *Ledger
	lending domain.LendingLedger
	second  domain.SecondLedger
	sched   Scheduler
	clock   clockwork.Clock
	cfg     MonitorConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*monitoredEntry
	running bool

	// tickMu serialises ticks so each entry is checked at most once at a time.
	tickMu sync.Mutex

	baseCtx   context.Context
	cancel    context.CancelFunc
	callbacks sync.WaitGroup
}

// NewMonitor creates a Monitor. A nil sched selects a TickerScheduler on
// clock at cfg.PollInterval.
func NewMonitor(
	ledger *Ledger,
	lending domain.LendingLedger,
	second domain.SecondLedger,
	sched Scheduler,
	clock clockwork.Clock,
	cfg MonitorConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Monitor {
	def := DefaultMonitorConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxPollingDuration <= 0 {
		cfg.MaxPollingDuration = def.MaxPollingDuration
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.MaxConcurrentChecks <= 0 {
		cfg.MaxConcurrentChecks = def.MaxConcurrentChecks
	}
	if sched == nil {
		sched = NewTickerScheduler(clock, cfg.PollInterval)
	}
	if m == nil {
		m = metrics.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		ledger:  ledger,
		lending: lending,
		second:  second,
		sched:   sched,
		clock:   clock,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With(slog.String("component", "monitor")),
		entries: make(map[string]*monitoredEntry),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// StartMonitoring registers id for reconciliation. Registering an id that is
// already monitored is a no-op. The polling loop starts with the first entry.
func (m *Monitor) StartMonitoring(id string, kind domain.TxKind) {
	m.StartMonitoringFunc(id, kind, nil)
}

// StartMonitoringFunc is StartMonitoring with a continuation that runs once
// the record settles.
func (m *Monitor) StartMonitoringFunc(id string, kind domain.TxKind, onSettle SettleFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[id]; ok {
		if e.onSettle == nil {
			e.onSettle = onSettle
		}
		return
	}

	m.entries[id] = &monitoredEntry{
		id:        id,
		kind:      kind,
		phase:     PhasePending,
		startedAt: m.clock.Now(),
		onSettle:  onSettle,
	}
	m.metrics.MonitoredEntries.Set(float64(len(m.entries)))

	if !m.running {
		m.running = true
		m.sched.Start(m.Tick)
	}
	m.logger.Info("monitoring started",
		slog.String("id", id),
		slog.String("kind", string(kind)),
		slog.Int("monitored", len(m.entries)),
	)
}

// StopMonitoring deregisters id. A check already in flight for id completes
// but its result is discarded. The loop stops once no entries remain.
func (m *Monitor) StopMonitoring(id string) {
	m.deregister(id)
}

func (m *Monitor) deregister(id string) SettleFunc {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil
	}
	delete(m.entries, id)
	m.metrics.MonitoredEntries.Set(float64(len(m.entries)))

	if len(m.entries) == 0 && m.running {
		m.running = false
		m.sched.Stop()
	}
	return e.onSettle
}

// Tick checks every registered entry once. Checks run concurrently up to
// MaxConcurrentChecks and Tick returns when all of them have finished.
func (m *Monitor) Tick(ctx context.Context) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	start := m.clock.Now()
	ids := m.ids()
	if len(ids) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(m.cfg.MaxConcurrentChecks)
	for _, id := range ids {
		g.Go(func() error {
			m.check(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	m.metrics.TickDuration.Observe(m.clock.Since(start).Seconds())
	m.logger.DebugContext(ctx, "tick complete", slog.Int("checked", len(ids)))
}

func (m *Monitor) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Monitor) startedAt(id string) (time.Time, domain.TxKind, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return time.Time{}, "", false
	}
	return e.startedAt, e.kind, true
}

// check runs one reconciliation step for id. The timeout is evaluated before
// the ledger is queried so a slow record cannot outlive its budget.
func (m *Monitor) check(ctx context.Context, id string) {
	startedAt, kind, ok := m.startedAt(id)
	if !ok {
		return
	}

	if elapsed := m.clock.Since(startedAt); elapsed > m.cfg.MaxPollingDuration {
		m.logger.WarnContext(ctx, "monitoring timed out",
			slog.String("id", id),
			slog.Duration("elapsed", elapsed),
		)
		m.metrics.MonitorChecks.WithLabelValues(string(kind), "timeout").Inc()
		msg := (&domain.TimeoutError{ID: id, Elapsed: elapsed}).Error()
		if rec, err := m.ledger.Get(ctx, id); err == nil {
			if _, perr := recordProof(rec); perr != nil {
				msg += ": " + perr.Error()
			}
		}
		m.finish(ctx, id, kind, domain.Failed(msg))
		return
	}

	rec, err := m.ledger.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			m.settle(id, kind, domain.TransactionRecord{
				ID: id, Kind: kind, Status: domain.TxStatusFailed, ErrorMessage: "record no longer exists",
			})
			return
		}
		m.logger.WarnContext(ctx, "load record failed", slog.String("id", id), slog.String("error", err.Error()))
		return
	}
	if rec.IsTerminal() {
		m.settle(id, kind, rec)
		return
	}

	status, qerr := m.query(ctx, rec)

	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	e.attempts++

	if qerr != nil {
		e.errs = append(e.errs, qerr)
		errs := append([]error(nil), e.errs...)
		m.mu.Unlock()

		m.metrics.MonitorChecks.WithLabelValues(string(kind), "error").Inc()
		m.logger.WarnContext(ctx, "status check failed",
			slog.String("id", id),
			slog.Int("consecutive_errors", len(errs)),
			slog.String("error", qerr.Error()),
		)
		if len(errs) >= m.cfg.MaxRetries {
			m.finish(ctx, id, kind, domain.Failed(retriesMessage(errs)))
		}
		return
	}

	e.errs = nil
	if status == domain.ChainConfirming {
		e.phase = PhaseConfirming
	}
	m.mu.Unlock()
	m.metrics.MonitorChecks.WithLabelValues(string(kind), string(status)).Inc()

	switch status {
	case domain.ChainConfirmed:
		m.finish(ctx, id, kind, domain.Confirmed())
	case domain.ChainFailed:
		m.finish(ctx, id, kind, domain.Failed(failureMessage(kind)))
	}
}

// query asks the ledger that owns rec's proof for its status.
func (m *Monitor) query(ctx context.Context, rec domain.TransactionRecord) (domain.ChainStatus, error) {
	proof, err := recordProof(rec)
	if errors.Is(err, domain.ErrMissingProof) {
		// not broadcast yet, or the proof write was lost; the timeout decides
		return domain.ChainPending, nil
	}
	if err != nil {
		return "", err
	}

	switch rec.Kind {
	case domain.TxKindDeposit, domain.TxKindMint:
		receipt, err := m.lending.Receipt(ctx, proof)
		if err != nil {
			return "", &domain.RemoteCallError{Ledger: "lending", Op: "receipt", Err: err}
		}
		switch {
		case receipt == nil:
			return domain.ChainPending, nil
		case receipt.Success:
			return domain.ChainConfirmed, nil
		default:
			return domain.ChainFailed, nil
		}
	default:
		status, err := m.second.TransactionStatus(ctx, proof)
		if err != nil {
			return "", &domain.RemoteCallError{Ledger: "second-ledger", Op: "transaction status", Err: err}
		}
		return status, nil
	}
}

// recordProof returns the proof that identifies rec on the ledger that
// settles it.
func recordProof(rec domain.TransactionRecord) (string, error) {
	var proof *string
	switch rec.Kind {
	case domain.TxKindDeposit, domain.TxKindMint:
		proof = rec.SourceTxProof
	case domain.TxKindBridge, domain.TxKindSend:
		proof = rec.DestinationTxProof
	default:
		return "", fmt.Errorf("unknown record kind %q", rec.Kind)
	}
	if proof == nil || *proof == "" {
		return "", fmt.Errorf("%s record %s: %w", rec.Kind, rec.ID, domain.ErrMissingProof)
	}
	return *proof, nil
}

// finish writes the terminal patch once. A storage failure keeps the entry
// so the next tick tries again.
func (m *Monitor) finish(ctx context.Context, id string, kind domain.TxKind, patch domain.RecordPatch) {
	rec, err := m.ledger.Update(ctx, id, patch)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrRecordTerminal):
		// settled by another writer; report what is stored
	case errors.Is(err, domain.ErrNotFound):
		rec = domain.TransactionRecord{ID: id, Kind: kind, Status: domain.TxStatusFailed, ErrorMessage: "record no longer exists"}
	default:
		m.logger.ErrorContext(ctx, "persist terminal status failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	m.settle(id, kind, rec)
}

func (m *Monitor) settle(id string, kind domain.TxKind, rec domain.TransactionRecord) {
	onSettle := m.deregister(id)
	m.metrics.MonitorSettled.WithLabelValues(string(kind), string(rec.Status)).Inc()
	m.logger.Info("monitoring finished",
		slog.String("id", id),
		slog.String("status", string(rec.Status)),
	)

	if onSettle == nil {
		return
	}
	m.callbacks.Add(1)
	go func() {
		defer m.callbacks.Done()
		onSettle(m.baseCtx, rec)
	}()
}

// Resume rebuilds the monitored set from pending records. Records younger
// than StaleAfter are monitored again; older ones are failed as expired.
// Calling Resume twice yields the same monitored set.
func (m *Monitor) Resume(ctx context.Context) (resumed, expired int, err error) {
	pending, err := m.ledger.ListPending(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("monitor: resume: %w", err)
	}

	var errs []error
	for _, rec := range pending {
		if m.clock.Since(rec.CreatedAt) < m.cfg.StaleAfter {
			m.StartMonitoring(rec.ID, rec.Kind)
			resumed++
			continue
		}
		if _, uerr := m.ledger.Update(ctx, rec.ID, domain.Failed("transaction expired")); uerr != nil {
			if !isSettledElsewhere(uerr) {
				errs = append(errs, uerr)
			}
			continue
		}
		expired++
	}

	m.logger.InfoContext(ctx, "monitoring resumed",
		slog.Int("resumed", resumed),
		slog.Int("expired", expired),
	)
	if len(errs) > 0 {
		return resumed, expired, fmt.Errorf("monitor: resume: %w", errors.Join(errs...))
	}
	return resumed, expired, nil
}

// Status returns a snapshot of the monitored set.
func (m *Monitor) Status() MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := MonitorStatus{
		Running: m.running,
		Count:   len(m.entries),
		Entries: make([]MonitoredEntry, 0, len(m.entries)),
	}
	for _, e := range m.entries {
		me := MonitoredEntry{
			ID:                e.id,
			Kind:              e.kind,
			Phase:             e.phase,
			StartedAt:         e.startedAt,
			AttemptCount:      e.attempts,
			ConsecutiveErrors: len(e.errs),
		}
		if n := len(e.errs); n > 0 {
			me.LastError = e.errs[n-1].Error()
		}
		out.Entries = append(out.Entries, me)
	}
	sort.Slice(out.Entries, func(i, j int) bool { return out.Entries[i].ID < out.Entries[j].ID })
	return out
}

// Run blocks until ctx is cancelled, then closes the monitor.
func (m *Monitor) Run(ctx context.Context) error {
	<-ctx.Done()
	m.Close()
	return ctx.Err()
}

// Close stops the loop, drops every entry and waits for running
// continuations.
func (m *Monitor) Close() {
	m.mu.Lock()
	m.entries = make(map[string]*monitoredEntry)
	if m.running {
		m.running = false
		m.sched.Stop()
	}
	m.mu.Unlock()

	m.cancel()
	m.callbacks.Wait()
}

func retriesMessage(errs []error) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return fmt.Sprintf("failed after %d retries: %s", len(errs), strings.Join(parts, "; "))
}

func failureMessage(kind domain.TxKind) string {
	switch kind {
	case domain.TxKindDeposit, domain.TxKindMint:
		return "transaction reverted"
	default:
		return "second-ledger transaction failed"
	}
}
