package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/alanyoungcy/yieldbridge/internal/domain"
	"github.com/alanyoungcy/yieldbridge/internal/metrics"
)

// DefaultMaxRecords is the retention cap when none is configured.
const DefaultMaxRecords = 100

// Notifier delivers operator alerts for settled records.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// LedgerDeps are the optional collaborators of a Ledger. Any nil field is
// skipped.
type LedgerDeps struct {
	Archiver domain.RecordArchiver
	Bus      domain.SignalBus
	Events   domain.EventPublisher
	Audit    domain.AuditStore
	Notifier Notifier
	Metrics  *metrics.Metrics
}

// Ledger is the source of truth for in-flight and settled transactions. It
// assigns identity and timestamps, enforces terminal monotonicity through
// the store, caps retention, and fans settled records out to subscribers.
type Ledger struct {
	store      domain.TransactionStore
	deps       LedgerDeps
	clock      clockwork.Clock
	maxRecords int
	logger     *slog.Logger
}

// NewLedger creates a Ledger over store.
func NewLedger(
	store domain.TransactionStore,
	clock clockwork.Clock,
	maxRecords int,
	deps LedgerDeps,
	logger *slog.Logger,
) *Ledger {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Ledger{
		store:      store,
		deps:       deps,
		clock:      clock,
		maxRecords: maxRecords,
		logger:     logger.With(slog.String("component", "ledger")),
	}
}

// Append stores rec as a new pending record with a fresh id and creation
// time, and returns the stored copy.
func (l *Ledger) Append(ctx context.Context, rec domain.TransactionRecord) (domain.TransactionRecord, error) {
	if !rec.Kind.Valid() {
		return domain.TransactionRecord{}, fmt.Errorf("ledger: append: unknown kind %q", rec.Kind)
	}

	now := l.clock.Now().UTC()
	rec.ID = uuid.NewString()
	rec.Status = domain.TxStatusPending
	rec.ErrorMessage = ""
	rec.CreatedAt = now
	rec.UpdatedAt = now

	if err := l.store.Insert(ctx, rec); err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("ledger: append: %w", err)
	}
	l.deps.Metrics.RecordsAppended.Inc()

	l.logger.InfoContext(ctx, "record appended",
		slog.String("id", rec.ID),
		slog.String("flow_id", rec.FlowID),
		slog.String("kind", string(rec.Kind)),
		slog.String("amount", rec.Amount.String()),
	)
	l.publish(ctx, "transaction_created", rec)
	l.enforceRetention(ctx)

	return rec, nil
}

// Update merges patch into the record with the given id. It fails with
// domain.ErrNotFound for an unknown id and domain.ErrRecordTerminal once the
// record is confirmed or failed.
func (l *Ledger) Update(ctx context.Context, id string, patch domain.RecordPatch) (domain.TransactionRecord, error) {
	rec, err := l.store.Update(ctx, id, patch, l.clock.Now().UTC())
	if err != nil {
		return rec, fmt.Errorf("ledger: update %s: %w", id, err)
	}

	if !rec.IsTerminal() {
		l.publish(ctx, "transaction_updated", rec)
		return rec, nil
	}

	l.logger.InfoContext(ctx, "record settled",
		slog.String("id", rec.ID),
		slog.String("kind", string(rec.Kind)),
		slog.String("status", string(rec.Status)),
		slog.String("error_message", rec.ErrorMessage),
	)
	l.publish(ctx, "transaction_settled", rec)
	l.settled(ctx, rec)
	return rec, nil
}

// Get returns one record.
func (l *Ledger) Get(ctx context.Context, id string) (domain.TransactionRecord, error) {
	rec, err := l.store.Get(ctx, id)
	if err != nil {
		return rec, fmt.Errorf("ledger: get %s: %w", id, err)
	}
	return rec, nil
}

// List returns records newest first.
func (l *Ledger) List(ctx context.Context, opts domain.ListOpts) ([]domain.TransactionRecord, error) {
	recs, err := l.store.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	return recs, nil
}

// ListPending returns every record still awaiting finality.
func (l *Ledger) ListPending(ctx context.Context) ([]domain.TransactionRecord, error) {
	recs, err := l.store.ListByStatus(ctx, domain.TxStatusPending)
	if err != nil {
		return nil, fmt.Errorf("ledger: list pending: %w", err)
	}
	return recs, nil
}

// ListByFlow returns a flow's records in step order.
func (l *Ledger) ListByFlow(ctx context.Context, flowID string) ([]domain.TransactionRecord, error) {
	recs, err := l.store.ListByFlow(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list flow %s: %w", flowID, err)
	}
	return recs, nil
}

// enforceRetention evicts terminal records beyond the cap, oldest first.
// Pending records are never evicted. Failures are logged; the append that
// triggered the pass has already succeeded.
func (l *Ledger) enforceRetention(ctx context.Context) {
	evict, err := l.store.Evictable(ctx, l.maxRecords)
	if err != nil {
		l.logger.WarnContext(ctx, "retention scan failed", slog.String("error", err.Error()))
		return
	}
	if len(evict) == 0 {
		return
	}

	if l.deps.Archiver != nil {
		path, err := l.deps.Archiver.ArchiveRecords(ctx, evict)
		if err != nil && path == "" {
			l.logger.WarnContext(ctx, "archive before eviction failed, keeping records",
				slog.Int("count", len(evict)),
				slog.String("error", err.Error()),
			)
			return
		}
		l.logger.DebugContext(ctx, "evicted records archived", slog.String("path", path))
	}

	ids := make([]string, len(evict))
	for i, r := range evict {
		ids[i] = r.ID
	}
	n, err := l.store.Delete(ctx, ids)
	if err != nil {
		l.logger.WarnContext(ctx, "eviction delete failed", slog.String("error", err.Error()))
		return
	}
	l.deps.Metrics.RecordsEvicted.Add(float64(n))
	l.logger.InfoContext(ctx, "records evicted", slog.Int64("count", n))
}

type recordEvent struct {
	Event  string                   `json:"event"`
	Record domain.TransactionRecord `json:"record"`
}

func (l *Ledger) publish(ctx context.Context, event string, rec domain.TransactionRecord) {
	if l.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(recordEvent{Event: event, Record: rec})
	if err != nil {
		return
	}
	if err := l.deps.Bus.Publish(ctx, domain.ChannelTransactions, payload); err != nil {
		l.logger.WarnContext(ctx, "publish record event failed",
			slog.String("id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := l.deps.Bus.StreamAppend(ctx, domain.StreamTransactions, payload); err != nil {
		l.logger.WarnContext(ctx, "stream append failed",
			slog.String("id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

// settled forwards a terminal record to the broker, the audit log and the
// operator notifier.
func (l *Ledger) settled(ctx context.Context, rec domain.TransactionRecord) {
	event := "tx_confirmed"
	if rec.Status == domain.TxStatusFailed {
		event = "tx_failed"
	}

	if l.deps.Events != nil {
		payload, err := json.Marshal(recordEvent{Event: event, Record: rec})
		if err == nil {
			err = l.deps.Events.Publish(ctx, rec.ID, payload)
		}
		if err != nil {
			l.logger.WarnContext(ctx, "settled event publish failed",
				slog.String("id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if l.deps.Audit != nil {
		detail := map[string]any{
			"id":      rec.ID,
			"flow_id": rec.FlowID,
			"kind":    string(rec.Kind),
			"amount":  rec.Amount.String(),
		}
		if rec.ErrorMessage != "" {
			detail["error"] = rec.ErrorMessage
		}
		if err := l.deps.Audit.Log(ctx, event, detail); err != nil {
			l.logger.WarnContext(ctx, "audit log failed",
				slog.String("id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if l.deps.Notifier != nil {
		title := fmt.Sprintf("%s %s %s", rec.Kind, rec.Amount.String(), rec.Asset)
		msg := fmt.Sprintf("record %s is %s", rec.ID, rec.Status)
		if rec.ErrorMessage != "" {
			msg += ": " + rec.ErrorMessage
		}
		if err := l.deps.Notifier.Notify(ctx, event, title, msg); err != nil {
			l.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
		}
	}
}

// isSettledElsewhere reports errors that mean the record no longer needs
// this caller's attention.
func isSettledElsewhere(err error) bool {
	return errors.Is(err, domain.ErrRecordTerminal) || errors.Is(err, domain.ErrNotFound)
}
