package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldbridge/internal/domain"
	"github.com/alanyoungcy/yieldbridge/internal/store/memory"
)

func TestLedgerAppendAssignsIdentity(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testEpoch)
	bus := &fakeBus{}
	l := NewLedger(memory.NewTransactionStore(), clock, 10, LedgerDeps{Bus: bus}, discardLogger())

	rec, err := l.Append(context.Background(), domain.TransactionRecord{
		ID:           "caller-id",
		Kind:         domain.TxKindMint,
		Asset:        "MUSD",
		Amount:       decimal.NewFromInt(1500),
		Status:       domain.TxStatusConfirmed,
		ErrorMessage: "stale",
	})
	require.NoError(t, err)

	assert.NotEqual(t, "caller-id", rec.ID)
	assert.Len(t, rec.ID, 36)
	assert.Equal(t, domain.TxStatusPending, rec.Status)
	assert.Empty(t, rec.ErrorMessage)
	assert.Equal(t, testEpoch, rec.CreatedAt)
	assert.Equal(t, 1, bus.count(domain.ChannelTransactions))
}

func TestLedgerAppendRejectsUnknownKind(t *testing.T) {
	l := NewLedger(memory.NewTransactionStore(), clockwork.NewFakeClock(), 10, LedgerDeps{}, discardLogger())
	_, err := l.Append(context.Background(), domain.TransactionRecord{Kind: "swap"})
	assert.Error(t, err)
}

func TestLedgerTerminalIsFinal(t *testing.T) {
	ctx := context.Background()
	notifier := &fakeNotifier{}
	audit := memory.NewAuditStore()
	l := NewLedger(memory.NewTransactionStore(), clockwork.NewFakeClockAt(testEpoch), 10,
		LedgerDeps{Notifier: notifier, Audit: audit}, discardLogger())

	rec, err := l.Append(ctx, domain.TransactionRecord{Kind: domain.TxKindBridge, Asset: "MUSD", Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)

	_, err = l.Update(ctx, rec.ID, domain.Failed("bridge rejected"))
	require.NoError(t, err)

	_, err = l.Update(ctx, rec.ID, domain.Confirmed())
	assert.ErrorIs(t, err, domain.ErrRecordTerminal)

	got, err := l.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusFailed, got.Status)
	assert.Equal(t, "bridge rejected", got.ErrorMessage)

	assert.Equal(t, []string{"tx_failed"}, notifier.events())
	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tx_failed", entries[0].Event)

	_, err = l.Update(ctx, "missing", domain.Confirmed())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLedgerConcurrentSettlement(t *testing.T) {
	ctx := context.Background()
	notifier := &fakeNotifier{}
	audit := memory.NewAuditStore()
	l := NewLedger(memory.NewTransactionStore(), clockwork.NewFakeClockAt(testEpoch), 100,
		LedgerDeps{Notifier: notifier, Audit: audit}, discardLogger())

	rec, err := l.Append(ctx, domain.TransactionRecord{Kind: domain.TxKindBridge, Asset: "MUSD", Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)

	const writers = 16
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			patch := domain.Confirmed()
			if i%2 == 1 {
				patch = domain.Failed("bridge rejected")
			}
			_, errs[i] = l.Update(ctx, rec.ID, patch)
		}()
	}
	wg.Wait()

	var won int
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrRecordTerminal)
	}
	assert.Equal(t, 1, won)

	got, err := l.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.IsTerminal())
	assert.Len(t, notifier.events(), 1, "terminal side effects run once")
	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLedgerRetention(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(testEpoch)
	archiver := &fakeArchiver{}
	l := NewLedger(memory.NewTransactionStore(), clock, 3, LedgerDeps{Archiver: archiver}, discardLogger())

	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := l.Append(ctx, domain.TransactionRecord{Kind: domain.TxKindSend, Asset: "MUSD", Amount: decimal.NewFromInt(1)})
		require.NoError(t, err)
		ids = append(ids, rec.ID)
		clock.Advance(time.Second)
	}
	// oldest stays pending, the next two settle
	_, err := l.Update(ctx, ids[1], domain.Confirmed())
	require.NoError(t, err)
	_, err = l.Update(ctx, ids[2], domain.Failed("x"))
	require.NoError(t, err)

	_, err = l.Append(ctx, domain.TransactionRecord{Kind: domain.TxKindSend, Asset: "MUSD", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)

	all, err := l.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	_, err = l.Get(ctx, ids[0])
	assert.NoError(t, err, "pending records are never evicted")
	_, err = l.Get(ctx, ids[1])
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.Len(t, archiver.batches, 1)
	assert.Equal(t, ids[1], archiver.batches[0][0].ID)
}

func TestLedgerRetentionKeepsRecordsWhenArchiveFails(t *testing.T) {
	ctx := context.Background()
	archiver := &fakeArchiver{err: errors.New("bucket unavailable")}
	l := NewLedger(memory.NewTransactionStore(), clockwork.NewFakeClockAt(testEpoch), 1, LedgerDeps{Archiver: archiver}, discardLogger())

	first, err := l.Append(ctx, domain.TransactionRecord{Kind: domain.TxKindSend, Asset: "MUSD", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	_, err = l.Update(ctx, first.ID, domain.Confirmed())
	require.NoError(t, err)

	_, err = l.Append(ctx, domain.TransactionRecord{Kind: domain.TxKindSend, Asset: "MUSD", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)

	all, err := l.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPriceServiceFallsBackToStatic(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(testEpoch)
	bus := &fakeBus{}
	svc := NewPriceService(nil, bus, map[string]decimal.Decimal{"btc": decimal.NewFromInt(95000)}, time.Minute, clock, discardLogger())

	p, err := svc.SpotPrice(ctx, "BTC")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(95000)))

	require.NoError(t, svc.SetPrice(ctx, "btc", decimal.NewFromInt(101000)))
	p, err = svc.SpotPrice(ctx, "btc")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.NewFromInt(101000)))
	assert.Equal(t, 1, bus.count(ChannelPrices))

	_, err = svc.SpotPrice(ctx, "ETH")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, svc.SetPrice(ctx, "BTC", decimal.Zero), domain.ErrInvalidAmount)
}
