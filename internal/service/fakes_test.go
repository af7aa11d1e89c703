package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/yieldbridge/internal/domain"
	"github.com/alanyoungcy/yieldbridge/internal/store/memory"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// manualScheduler records Start/Stop; tests drive Monitor.Tick directly.
type manualScheduler struct {
	mu      sync.Mutex
	running bool
	starts  int
}

func (s *manualScheduler) Start(func(context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.starts++
}

func (s *manualScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

func (s *manualScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

type fakeBitcoin struct {
	mu      sync.Mutex
	address string
	sats    int64
	utxos   []domain.UTXO
}

func (b *fakeBitcoin) DepositAddress(context.Context) (string, error) { return b.address, nil }

func (b *fakeBitcoin) Balance(context.Context, string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sats, nil
}

func (b *fakeBitcoin) UTXOs(context.Context, string) ([]domain.UTXO, error) { return b.utxos, nil }

func (b *fakeBitcoin) Send(context.Context, string, int64) (string, error) {
	return "", errors.New("not supported")
}

type fakeLending struct {
	mu sync.Mutex

	address    string
	collateral decimal.Decimal
	debt       decimal.Decimal

	depositStatus domain.ChainStatus
	mintStatus    domain.ChainStatus
	depositErr    error
	mintErr       error

	receipts   map[string]*domain.Receipt
	receiptErr error

	depositCalls int
	mintCalls    int
	receiptCalls int
}

func newFakeLending() *fakeLending {
	return &fakeLending{
		address:       "0xwallet",
		depositStatus: domain.ChainConfirmed,
		mintStatus:    domain.ChainConfirmed,
		receipts:      make(map[string]*domain.Receipt),
	}
}

func (l *fakeLending) Address() string { return l.address }

func (l *fakeLending) DepositCollateral(_ context.Context, amount decimal.Decimal) (domain.DepositResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.depositCalls++
	if l.depositErr != nil {
		return domain.DepositResult{}, l.depositErr
	}
	l.collateral = l.collateral.Add(amount)
	return domain.DepositResult{TxHash: fmt.Sprintf("0xdeposit%d", l.depositCalls), Status: l.depositStatus}, nil
}

func (l *fakeLending) MintStablecoin(_ context.Context, amount decimal.Decimal) (domain.MintResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mintCalls++
	if l.mintErr != nil {
		return domain.MintResult{}, l.mintErr
	}
	l.debt = l.debt.Add(amount)
	return domain.MintResult{
		TxHash:       fmt.Sprintf("0xmint%d", l.mintCalls),
		Status:       l.mintStatus,
		MintedAmount: amount,
	}, nil
}

func (l *fakeLending) Position(context.Context, string) (domain.LendingPosition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.LendingPosition{CollateralAmount: l.collateral, DebtAmount: l.debt}, nil
}

func (l *fakeLending) Receipt(_ context.Context, hash string) (*domain.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receiptCalls++
	if l.receiptErr != nil {
		return nil, l.receiptErr
	}
	return l.receipts[hash], nil
}

func (l *fakeLending) setReceipt(hash string, r *domain.Receipt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receipts[hash] = r
}

func (l *fakeLending) setReceiptErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receiptErr = err
}

func (l *fakeLending) calls() (deposit, mint, receipt int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.depositCalls, l.mintCalls, l.receiptCalls
}

type sentTransfer struct {
	To    string
	Units uint64
}

type fakeSecond struct {
	mu sync.Mutex

	address  string
	sendErr  error
	sendFail bool
	finality domain.ChainStatus // reported for signatures without a status
	statuses map[string]domain.ChainStatus
	statErr  error
	sent     []sentTransfer
}

func newFakeSecond() *fakeSecond {
	return &fakeSecond{address: "SoLWallet111", statuses: make(map[string]domain.ChainStatus)}
}

func (s *fakeSecond) Address(context.Context) (string, error) { return s.address, nil }

func (s *fakeSecond) Balance(context.Context, string) (domain.SecondLedgerBalance, error) {
	return domain.SecondLedgerBalance{}, nil
}

func (s *fakeSecond) Send(_ context.Context, to string, units uint64) (domain.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return domain.SendResult{}, s.sendErr
	}
	s.sent = append(s.sent, sentTransfer{To: to, Units: units})
	sig := fmt.Sprintf("sig%d", len(s.sent))
	if s.sendFail {
		return domain.SendResult{Signature: sig, Status: domain.ChainFailed, Message: "insufficient funds"}, nil
	}
	return domain.SendResult{Signature: sig, Status: domain.ChainPending}, nil
}

func (s *fakeSecond) TransactionStatus(_ context.Context, sig string) (domain.ChainStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statErr != nil {
		return "", s.statErr
	}
	if st, ok := s.statuses[sig]; ok {
		return st, nil
	}
	if s.finality != "" {
		return s.finality, nil
	}
	return domain.ChainPending, nil
}

func (s *fakeSecond) setStatus(sig string, st domain.ChainStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[sig] = st
}

func (s *fakeSecond) transfers() []sentTransfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentTransfer(nil), s.sent...)
}

type notification struct {
	Event, Title, Message string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *fakeNotifier) Notify(_ context.Context, event, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{event, title, message})
	return nil
}

func (n *fakeNotifier) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	for i, s := range n.sent {
		out[i] = s.Event
	}
	return out
}

type published struct {
	Channel string
	Payload []byte
}

type fakeBus struct {
	mu      sync.Mutex
	msgs    []published
	streams []published
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, published{channel, payload})
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams = append(b.streams, published{stream, payload})
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *fakeBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, m := range b.msgs {
		if m.Channel == channel {
			n++
		}
	}
	return n
}

type fakeArchiver struct {
	mu      sync.Mutex
	batches [][]domain.TransactionRecord
	err     error
}

func (a *fakeArchiver) ArchiveRecords(_ context.Context, recs []domain.TransactionRecord) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.batches = append(a.batches, recs)
	return fmt.Sprintf("archive/%d.jsonl", len(a.batches)), nil
}

// harness wires a ledger, monitor and orchestrator over fakes.
type harness struct {
	clock   *clockwork.FakeClock
	sched   *manualScheduler
	store   *memory.TransactionStore
	ledger  *Ledger
	monitor *Monitor
	orch    *Orchestrator
	bitcoin *fakeBitcoin
	lending *fakeLending
	second  *fakeSecond
	prices  *PriceService
	notify  *fakeNotifier
	bus     *fakeBus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, nil)
}

// newHarnessWithStore lets wrap decorate the memory store the ledger uses.
func newHarnessWithStore(t *testing.T, wrap func(domain.TransactionStore) domain.TransactionStore) *harness {
	t.Helper()

	h := &harness{
		clock:   clockwork.NewFakeClockAt(testEpoch),
		sched:   &manualScheduler{},
		store:   memory.NewTransactionStore(),
		bitcoin: &fakeBitcoin{address: "bc1qcustody", sats: 5_000_000},
		lending: newFakeLending(),
		second:  newFakeSecond(),
		notify:  &fakeNotifier{},
		bus:     &fakeBus{},
	}
	logger := discardLogger()

	var store domain.TransactionStore = h.store
	if wrap != nil {
		store = wrap(h.store)
	}
	h.ledger = NewLedger(store, h.clock, 100, LedgerDeps{Bus: h.bus, Notifier: h.notify}, logger)
	h.monitor = NewMonitor(h.ledger, h.lending, h.second, h.sched, h.clock, DefaultMonitorConfig(), nil, logger)
	h.prices = NewPriceService(nil, nil, map[string]decimal.Decimal{"BTC": decimal.NewFromInt(100000)}, 0, h.clock, logger)

	cfg := DefaultOrchestratorConfig()
	cfg.YieldVault = "VauLt111"
	h.orch = NewOrchestrator(h.ledger, h.monitor, OrchestratorDeps{
		Bitcoin:  h.bitcoin,
		Lending:  h.lending,
		Second:   h.second,
		Prices:   h.prices,
		Locks:    memory.NewLockManager(h.clock),
		Bus:      h.bus,
		Notifier: h.notify,
	}, cfg, h.clock, logger)

	t.Cleanup(h.monitor.Close)
	return h
}

func (h *harness) record(t *testing.T, id string) domain.TransactionRecord {
	t.Helper()
	rec, err := h.ledger.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return rec
}

// proofWriteFailingStore rejects patches that only record a proof, as a
// store that loses its connection right after a broadcast would.
type proofWriteFailingStore struct {
	domain.TransactionStore
}

func (s proofWriteFailingStore) Update(ctx context.Context, id string, patch domain.RecordPatch, at time.Time) (domain.TransactionRecord, error) {
	if patch.Status == nil && (patch.DestinationTxProof != nil || patch.SourceTxProof != nil) {
		return domain.TransactionRecord{}, errors.New("write tcp 10.0.0.5:5432: connection reset by peer")
	}
	return s.TransactionStore.Update(ctx, id, patch, at)
}
