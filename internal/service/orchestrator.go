package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/yieldbridge/internal/domain"
	"github.com/alanyoungcy/yieldbridge/internal/loan"
	"github.com/alanyoungcy/yieldbridge/internal/metrics"
)

const satsPerBTC = 8

// OrchestratorConfig holds flow-level limits and asset naming.
type OrchestratorConfig struct {
	CollateralAsset    string
	StablecoinAsset    string
	StablecoinDecimals int32
	MinCollateralUSD   decimal.Decimal
	TargetLTV          decimal.Decimal // percent used when a request names no mint amount
	YieldVault         string          // second-ledger address funds are deployed to; empty skips the step
	LockTTL            time.Duration
	MaxFlows           int
	Loan               loan.Params
}

// DefaultOrchestratorConfig returns the production flow limits.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		CollateralAsset:    "BTC",
		StablecoinAsset:    "MUSD",
		StablecoinDecimals: 6,
		MinCollateralUSD:   decimal.NewFromInt(1800),
		TargetLTV:          decimal.NewFromInt(50),
		LockTTL:            2 * time.Hour,
		MaxFlows:           100,
		Loan:               loan.DefaultParams(),
	}
}

// FlowRequest starts a bridge flow. A zero MintAmount mints at TargetLTV.
// An empty Destination bridges to the service's own second-ledger wallet.
type FlowRequest struct {
	BitcoinAmount decimal.Decimal `json:"bitcoin_amount"`
	MintAmount    decimal.Decimal `json:"mint_amount"`
	Destination   string          `json:"destination,omitempty"`
}

// FlowState is the coarse progress of a flow.
type FlowState string

const (
	FlowRunning   FlowState = "running"
	FlowAwaiting  FlowState = "awaiting"
	FlowCompleted FlowState = "completed"
	FlowFailed    FlowState = "failed"
)

// Step names, in execution order.
const (
	StepDeposit = "deposit_collateral"
	StepMint    = "mint_stablecoin"
	StepBridge  = "bridge"
	StepDeploy  = "deploy_yield"
)

// FlowHandle tracks one running flow.
type FlowHandle struct {
	ID        string
	Wallet    string
	Request   FlowRequest
	CreatedAt time.Time

	mint        decimal.Decimal
	destination string

	mu      sync.Mutex
	state   FlowState
	step    string
	err     error
	records []string
	done    chan struct{}
	once    sync.Once
	unlock  func()
}

// FlowSnapshot is the JSON view of a flow.
type FlowSnapshot struct {
	ID          string          `json:"id"`
	Wallet      string          `json:"wallet"`
	State       FlowState       `json:"state"`
	Step        string          `json:"step"`
	Error       string          `json:"error,omitempty"`
	Bitcoin     decimal.Decimal `json:"bitcoin_amount"`
	Mint        decimal.Decimal `json:"mint_amount"`
	RecordIDs   []string        `json:"record_ids"`
	CreatedAt   time.Time       `json:"created_at"`
	Destination string          `json:"destination,omitempty"`
}

// State returns the current state.
func (f *FlowHandle) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Step returns the step currently running or last attempted.
func (f *FlowHandle) Step() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// Err returns the error that ended the flow, if any.
func (f *FlowHandle) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Done is closed once the flow completes or fails.
func (f *FlowHandle) Done() <-chan struct{} {
	return f.done
}

// Records returns the ids of the records created so far, in step order.
func (f *FlowHandle) Records() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.records...)
}

// Wait blocks until the flow ends or ctx is done.
func (f *FlowHandle) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a consistent copy for serialization.
func (f *FlowHandle) Snapshot() FlowSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := FlowSnapshot{
		ID:          f.ID,
		Wallet:      f.Wallet,
		State:       f.state,
		Step:        f.step,
		Bitcoin:     f.Request.BitcoinAmount,
		Mint:        f.mint,
		RecordIDs:   append([]string(nil), f.records...),
		CreatedAt:   f.CreatedAt,
		Destination: f.destination,
	}
	if f.err != nil {
		s.Error = f.err.Error()
	}
	return s
}

// set is ignored once the flow has ended, so a continuation that settled
// early cannot be overwritten by the step that registered it.
func (f *FlowHandle) set(state FlowState, step string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finished() {
		return
	}
	f.state = state
	if step != "" {
		f.step = step
	}
}

func (f *FlowHandle) addRecord(id string) {
	f.mu.Lock()
	f.records = append(f.records, id)
	f.mu.Unlock()
}

func (f *FlowHandle) finished() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

type stepOutcome int

const (
	stepDone stepOutcome = iota
	stepAwaiting
	stepFailed
)

type flowStep struct {
	name string
	run  func(ctx context.Context, f *FlowHandle, next SettleFunc) (stepOutcome, error)
}

// OrchestratorDeps are the collaborators of an Orchestrator. Locks, Bus and
// Notifier may be nil.
type OrchestratorDeps struct {
	Bitcoin  domain.BitcoinLedger
	Lending  domain.LendingLedger
	Second   domain.SecondLedger
	Prices   domain.PriceFeed
	Locks    domain.LockManager
	Bus      domain.SignalBus
	Notifier Notifier
	Metrics  *metrics.Metrics
}

// Orchestrator drives deposit, mint, bridge and deploy in order. Each step
// appends a record before its mutating call. Steps whose finality is only
// known by polling are handed to the Monitor with a continuation that
// resumes the flow.
type Orchestrator struct {
	ledger  *Ledger
	monitor *Monitor
	deps    OrchestratorDeps
	cfg     OrchestratorConfig
	clock   clockwork.Clock
	logger  *slog.Logger
	steps   []flowStep

	mu    sync.Mutex
	flows map[string]*FlowHandle
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	ledger *Ledger,
	monitor *Monitor,
	deps OrchestratorDeps,
	cfg OrchestratorConfig,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Orchestrator {
	def := DefaultOrchestratorConfig()
	if cfg.CollateralAsset == "" {
		cfg.CollateralAsset = def.CollateralAsset
	}
	if cfg.StablecoinAsset == "" {
		cfg.StablecoinAsset = def.StablecoinAsset
	}
	if cfg.StablecoinDecimals <= 0 {
		cfg.StablecoinDecimals = def.StablecoinDecimals
	}
	if !cfg.TargetLTV.IsPositive() {
		cfg.TargetLTV = def.TargetLTV
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.MaxFlows <= 0 {
		cfg.MaxFlows = def.MaxFlows
	}
	if !cfg.Loan.MaxLTV.IsPositive() {
		cfg.Loan = def.Loan
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	o := &Orchestrator{
		ledger:  ledger,
		monitor: monitor,
		deps:    deps,
		cfg:     cfg,
		clock:   clock,
		logger:  logger.With(slog.String("component", "orchestrator")),
		flows:   make(map[string]*FlowHandle),
	}
	o.steps = []flowStep{
		{name: StepDeposit, run: o.depositCollateral},
		{name: StepMint, run: o.mintStablecoin},
		{name: StepBridge, run: o.bridge},
		{name: StepDeploy, run: o.deployToYield},
	}
	return o
}

// StartFlow validates req and runs steps until the first one that needs
// polling. Validation failures return a nil handle and create no record.
// Once any step has been dispatched the handle is returned, together with
// the error if the flow already failed.
func (o *Orchestrator) StartFlow(ctx context.Context, req FlowRequest) (*FlowHandle, error) {
	if !req.BitcoinAmount.IsPositive() || req.MintAmount.IsNegative() {
		return nil, fmt.Errorf("orchestrator: start flow: %w", domain.ErrInvalidAmount)
	}

	addr, err := o.deps.Bitcoin.DepositAddress(ctx)
	if err != nil {
		return nil, &domain.RemoteCallError{Ledger: "bitcoin", Op: "deposit address", Err: err}
	}
	sats := req.BitcoinAmount.Shift(satsPerBTC).Truncate(0).IntPart()
	balance, err := o.deps.Bitcoin.Balance(ctx, addr)
	if err != nil {
		return nil, &domain.RemoteCallError{Ledger: "bitcoin", Op: "balance", Err: err}
	}
	if balance < sats {
		return nil, &domain.InsufficientCollateralError{
			Required:  req.BitcoinAmount,
			Available: decimal.New(balance, -satsPerBTC),
			Unit:      o.cfg.CollateralAsset,
		}
	}

	price, err := o.deps.Prices.SpotPrice(ctx, o.cfg.CollateralAsset)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: spot price: %w", err)
	}
	value := req.BitcoinAmount.Mul(price)
	if value.LessThan(o.cfg.MinCollateralUSD) {
		return nil, &domain.InsufficientCollateralError{
			Required:  o.cfg.MinCollateralUSD,
			Available: value.Round(2),
			Unit:      "USD",
		}
	}

	mint := req.MintAmount
	if mint.IsZero() {
		mint = value.Mul(o.cfg.TargetLTV).Div(decimal.NewFromInt(100)).RoundDown(2)
	}

	wallet := o.deps.Lending.Address()
	unlock := func() {}
	if o.deps.Locks != nil {
		unlock, err = o.deps.Locks.Acquire(ctx, "flow:"+wallet, o.cfg.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: flow lock for %s: %w", wallet, err)
		}
	}

	f := &FlowHandle{
		ID:          uuid.NewString(),
		Wallet:      wallet,
		Request:     req,
		CreatedAt:   o.clock.Now().UTC(),
		mint:        mint,
		destination: req.Destination,
		state:       FlowRunning,
		done:        make(chan struct{}),
		unlock:      unlock,
	}
	o.track(f)
	o.deps.Metrics.FlowsStarted.Inc()
	o.logger.InfoContext(ctx, "flow started",
		slog.String("flow_id", f.ID),
		slog.String("wallet", wallet),
		slog.String("bitcoin", req.BitcoinAmount.String()),
		slog.String("mint", mint.String()),
	)
	o.publish(ctx, "flow_started", f)

	o.runFrom(ctx, f, 0)

	if f.State() == FlowFailed {
		return f, f.Err()
	}
	return f, nil
}

// Flow returns a tracked flow by id.
func (o *Orchestrator) Flow(id string) (*FlowHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.flows[id]
	if !ok {
		return nil, fmt.Errorf("orchestrator: flow %s: %w", id, domain.ErrNotFound)
	}
	return f, nil
}

// Flows returns tracked flows, newest first.
func (o *Orchestrator) Flows() []*FlowHandle {
	o.mu.Lock()
	out := make([]*FlowHandle, 0, len(o.flows))
	for _, f := range o.flows {
		out = append(out, f)
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// track registers f and forgets the oldest finished flows beyond MaxFlows.
func (o *Orchestrator) track(f *FlowHandle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.flows[f.ID] = f

	if len(o.flows) <= o.cfg.MaxFlows {
		return
	}
	var finished []*FlowHandle
	for _, h := range o.flows {
		if h.finished() {
			finished = append(finished, h)
		}
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].CreatedAt.Before(finished[j].CreatedAt) })
	for _, h := range finished {
		if len(o.flows) <= o.cfg.MaxFlows {
			break
		}
		delete(o.flows, h.ID)
	}
}

// runFrom executes steps sequentially starting at idx until one is handed
// to the monitor, one fails, or the flow completes.
func (o *Orchestrator) runFrom(ctx context.Context, f *FlowHandle, idx int) {
	for i := idx; i < len(o.steps); i++ {
		step := o.steps[i]
		f.set(FlowRunning, step.name)

		outcome, err := step.run(ctx, f, o.continuation(f, i+1))
		switch outcome {
		case stepAwaiting:
			o.logger.InfoContext(ctx, "flow awaiting finality",
				slog.String("flow_id", f.ID),
				slog.String("step", step.name),
			)
			return
		case stepFailed:
			o.finish(ctx, f, fmt.Errorf("%s: %w", step.name, err))
			return
		}
	}
	o.finish(ctx, f, nil)
}

// continuation resumes f at step next once the monitored record settles.
func (o *Orchestrator) continuation(f *FlowHandle, next int) SettleFunc {
	return func(ctx context.Context, rec domain.TransactionRecord) {
		if rec.Status != domain.TxStatusConfirmed {
			o.finish(ctx, f, fmt.Errorf("%s: %s record %s failed: %s",
				f.Step(), rec.Kind, rec.ID, rec.ErrorMessage))
			return
		}
		o.runFrom(ctx, f, next)
	}
}

func (o *Orchestrator) finish(ctx context.Context, f *FlowHandle, err error) {
	f.once.Do(func() {
		f.mu.Lock()
		if err != nil {
			f.state = FlowFailed
			f.err = err
		} else {
			f.state = FlowCompleted
		}
		close(f.done)
		f.mu.Unlock()
		f.unlock()

		if err != nil {
			o.deps.Metrics.FlowsFinished.WithLabelValues(string(FlowFailed)).Inc()
			o.logger.WarnContext(ctx, "flow failed",
				slog.String("flow_id", f.ID),
				slog.String("error", err.Error()),
			)
			o.publish(ctx, "flow_failed", f)
			if o.deps.Notifier != nil {
				if nerr := o.deps.Notifier.Notify(ctx, "flow_failed", "flow "+f.ID+" failed", err.Error()); nerr != nil {
					o.logger.WarnContext(ctx, "notify failed", slog.String("error", nerr.Error()))
				}
			}
			return
		}
		o.deps.Metrics.FlowsFinished.WithLabelValues(string(FlowCompleted)).Inc()
		o.logger.InfoContext(ctx, "flow completed", slog.String("flow_id", f.ID))
		o.publish(ctx, "flow_completed", f)
	})
}

type flowEvent struct {
	Event string       `json:"event"`
	Flow  FlowSnapshot `json:"flow"`
}

func (o *Orchestrator) publish(ctx context.Context, event string, f *FlowHandle) {
	if o.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(flowEvent{Event: event, Flow: f.Snapshot()})
	if err != nil {
		return
	}
	if err := o.deps.Bus.Publish(ctx, domain.ChannelFlows, payload); err != nil {
		o.logger.WarnContext(ctx, "publish flow event failed",
			slog.String("flow_id", f.ID),
			slog.String("error", err.Error()),
		)
	}
}

// failRecord writes a failed patch to rec. The flow's outcome does not
// depend on whether the write succeeds; if it does not, the record is left
// to the monitor so it still reaches a terminal state.
func (o *Orchestrator) failRecord(ctx context.Context, rec domain.TransactionRecord, patch domain.RecordPatch) {
	_, err := o.ledger.Update(ctx, rec.ID, patch)
	if err == nil || errors.Is(err, domain.ErrRecordTerminal) || errors.Is(err, domain.ErrNotFound) {
		return
	}
	o.logger.ErrorContext(ctx, "mark record failed",
		slog.String("id", rec.ID),
		slog.String("error", err.Error()),
	)
	o.monitor.StartMonitoring(rec.ID, rec.Kind)
}

// await hands rec to the monitor; next resumes f once it settles. The flow
// is marked awaiting first because next may run before this returns.
func (o *Orchestrator) await(f *FlowHandle, rec domain.TransactionRecord, next SettleFunc) (stepOutcome, error) {
	f.set(FlowAwaiting, "")
	o.monitor.StartMonitoringFunc(rec.ID, rec.Kind, next)
	return stepAwaiting, nil
}

// writeProof stores the broadcast proof. Funds have already moved when it
// runs, so a failed write is logged and the record is still monitored;
// without a proof it stays pending until the timeout fails it.
func (o *Orchestrator) writeProof(ctx context.Context, rec domain.TransactionRecord, patch domain.RecordPatch) {
	if _, err := o.ledger.Update(ctx, rec.ID, patch); err != nil {
		o.logger.ErrorContext(ctx, "record proof failed",
			slog.String("id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

// settleSync applies a synchronous lending result to rec: confirmed and
// failed results are written directly, pending ones are monitored.
func (o *Orchestrator) settleSync(
	ctx context.Context,
	f *FlowHandle,
	rec domain.TransactionRecord,
	status domain.ChainStatus,
	patch domain.RecordPatch,
	next SettleFunc,
) (stepOutcome, error) {
	switch status {
	case domain.ChainConfirmed:
		confirmed := patch
		confirmed.Status = domain.Ptr(domain.TxStatusConfirmed)
		if _, err := o.ledger.Update(ctx, rec.ID, confirmed); err != nil {
			o.logger.ErrorContext(ctx, "record confirmation failed",
				slog.String("id", rec.ID),
				slog.String("error", err.Error()),
			)
			o.writeProof(ctx, rec, patch)
			return o.await(f, rec, next)
		}
		return stepDone, nil
	case domain.ChainFailed:
		msg := "transaction reverted"
		patch.Status = domain.Ptr(domain.TxStatusFailed)
		patch.ErrorMessage = &msg
		o.failRecord(ctx, rec, patch)
		return stepFailed, errors.New(msg)
	default:
		o.writeProof(ctx, rec, patch)
		return o.await(f, rec, next)
	}
}

func (o *Orchestrator) depositCollateral(ctx context.Context, f *FlowHandle, next SettleFunc) (stepOutcome, error) {
	source, err := o.deps.Bitcoin.DepositAddress(ctx)
	if err != nil {
		return stepFailed, &domain.RemoteCallError{Ledger: "bitcoin", Op: "deposit address", Err: err}
	}
	rec, err := o.ledger.Append(ctx, domain.TransactionRecord{
		FlowID:             f.ID,
		Kind:               domain.TxKindDeposit,
		Asset:              o.cfg.CollateralAsset,
		Amount:             f.Request.BitcoinAmount,
		SourceAddress:      source,
		DestinationAddress: o.deps.Lending.Address(),
	})
	if err != nil {
		return stepFailed, err
	}
	f.addRecord(rec.ID)

	res, err := o.deps.Lending.DepositCollateral(ctx, f.Request.BitcoinAmount)
	if err != nil {
		rerr := &domain.RemoteCallError{Ledger: "lending", Op: "deposit collateral", Err: err}
		o.failRecord(ctx, rec, domain.Failed(rerr.Error()))
		return stepFailed, rerr
	}

	return o.settleSync(ctx, f, rec, res.Status, domain.RecordPatch{SourceTxProof: &res.TxHash}, next)
}

func (o *Orchestrator) mintStablecoin(ctx context.Context, f *FlowHandle, next SettleFunc) (stepOutcome, error) {
	wallet := o.deps.Lending.Address()
	pos, err := o.deps.Lending.Position(ctx, wallet)
	if err != nil {
		return stepFailed, &domain.RemoteCallError{Ledger: "lending", Op: "position", Err: err}
	}
	price, err := o.deps.Prices.SpotPrice(ctx, o.cfg.CollateralAsset)
	if err != nil {
		return stepFailed, fmt.Errorf("spot price: %w", err)
	}
	projected := loan.ProjectedLTV(pos.CollateralAmount, pos.DebtAmount, f.mint, price)
	if projected.GreaterThan(o.cfg.Loan.MaxLTV) {
		return stepFailed, &domain.LoanToValueExceededError{Projected: projected, Max: o.cfg.Loan.MaxLTV}
	}

	rec, err := o.ledger.Append(ctx, domain.TransactionRecord{
		FlowID:             f.ID,
		Kind:               domain.TxKindMint,
		Asset:              o.cfg.StablecoinAsset,
		Amount:             f.mint,
		SourceAddress:      wallet,
		DestinationAddress: wallet,
	})
	if err != nil {
		return stepFailed, err
	}
	f.addRecord(rec.ID)

	res, err := o.deps.Lending.MintStablecoin(ctx, f.mint)
	if err != nil {
		rerr := &domain.RemoteCallError{Ledger: "lending", Op: "mint stablecoin", Err: err}
		o.failRecord(ctx, rec, domain.Failed(rerr.Error()))
		return stepFailed, rerr
	}

	patch := domain.RecordPatch{SourceTxProof: &res.TxHash}
	if res.MintedAmount.IsPositive() && !res.MintedAmount.Equal(f.mint) {
		minted := res.MintedAmount
		patch.Amount = &minted
		f.mu.Lock()
		f.mint = minted
		f.mu.Unlock()
	}
	return o.settleSync(ctx, f, rec, res.Status, patch, next)
}

func (o *Orchestrator) bridge(ctx context.Context, f *FlowHandle, next SettleFunc) (stepOutcome, error) {
	dest := f.destination
	if dest == "" {
		addr, err := o.deps.Second.Address(ctx)
		if err != nil {
			return stepFailed, &domain.RemoteCallError{Ledger: "second-ledger", Op: "address", Err: err}
		}
		dest = addr
		f.mu.Lock()
		f.destination = addr
		f.mu.Unlock()
	}
	return o.transfer(ctx, f, domain.TxKindBridge, o.deps.Lending.Address(), dest, next)
}

func (o *Orchestrator) deployToYield(ctx context.Context, f *FlowHandle, next SettleFunc) (stepOutcome, error) {
	if o.cfg.YieldVault == "" {
		o.logger.InfoContext(ctx, "no yield vault configured, skipping deploy", slog.String("flow_id", f.ID))
		return stepDone, nil
	}
	f.mu.Lock()
	source := f.destination
	f.mu.Unlock()
	return o.transfer(ctx, f, domain.TxKindSend, source, o.cfg.YieldVault, next)
}

// transfer moves the minted amount on the second ledger. Its finality is
// always established by the monitor.
func (o *Orchestrator) transfer(
	ctx context.Context,
	f *FlowHandle,
	kind domain.TxKind,
	source, dest string,
	next SettleFunc,
) (stepOutcome, error) {
	f.mu.Lock()
	amount := f.mint
	f.mu.Unlock()

	rec, err := o.ledger.Append(ctx, domain.TransactionRecord{
		FlowID:             f.ID,
		Kind:               kind,
		Asset:              o.cfg.StablecoinAsset,
		Amount:             amount,
		SourceAddress:      source,
		DestinationAddress: dest,
	})
	if err != nil {
		return stepFailed, err
	}
	f.addRecord(rec.ID)

	units := domain.ToNativeUnits(amount, o.cfg.StablecoinDecimals)
	if !units.IsUint64() || units.Sign() == 0 {
		o.failRecord(ctx, rec, domain.Failed(domain.ErrInvalidAmount.Error()))
		return stepFailed, domain.ErrInvalidAmount
	}

	res, err := o.deps.Second.Send(ctx, dest, units.Uint64())
	if err != nil {
		rerr := &domain.RemoteCallError{Ledger: "second-ledger", Op: "send", Err: err}
		o.failRecord(ctx, rec, domain.Failed(rerr.Error()))
		return stepFailed, rerr
	}
	if res.Status == domain.ChainFailed {
		cause := errors.New(res.Message)
		if res.Message == "" {
			cause = errors.New("second-ledger transaction failed")
		}
		patch := domain.Failed(cause.Error())
		if res.Signature != "" {
			patch.DestinationTxProof = &res.Signature
		}
		o.failRecord(ctx, rec, patch)
		return stepFailed, cause
	}

	o.writeProof(ctx, rec, domain.RecordPatch{DestinationTxProof: &res.Signature})
	return o.await(f, rec, next)
}

// DepositInfo describes the custody deposit address.
type DepositInfo struct {
	Address     string          `json:"address"`
	BalanceSats int64           `json:"balance_sats"`
	Balance     decimal.Decimal `json:"balance"`
	UTXOs       []domain.UTXO   `json:"utxos"`
}

// DepositInfo returns the custody address with its balance and UTXOs.
func (o *Orchestrator) DepositInfo(ctx context.Context) (DepositInfo, error) {
	addr, err := o.deps.Bitcoin.DepositAddress(ctx)
	if err != nil {
		return DepositInfo{}, &domain.RemoteCallError{Ledger: "bitcoin", Op: "deposit address", Err: err}
	}
	bal, err := o.deps.Bitcoin.Balance(ctx, addr)
	if err != nil {
		return DepositInfo{}, &domain.RemoteCallError{Ledger: "bitcoin", Op: "balance", Err: err}
	}
	utxos, err := o.deps.Bitcoin.UTXOs(ctx, addr)
	if err != nil {
		return DepositInfo{}, &domain.RemoteCallError{Ledger: "bitcoin", Op: "utxos", Err: err}
	}
	return DepositInfo{
		Address:     addr,
		BalanceSats: bal,
		Balance:     decimal.New(bal, -satsPerBTC),
		UTXOs:       utxos,
	}, nil
}

// MaxMintable returns how much stablecoin could be minted after depositing
// btcAmount more collateral, keeping the position at MaxLTV.
func (o *Orchestrator) MaxMintable(ctx context.Context, btcAmount decimal.Decimal) (decimal.Decimal, error) {
	pos, err := o.deps.Lending.Position(ctx, o.deps.Lending.Address())
	if err != nil {
		return decimal.Zero, &domain.RemoteCallError{Ledger: "lending", Op: "position", Err: err}
	}
	price, err := o.deps.Prices.SpotPrice(ctx, o.cfg.CollateralAsset)
	if err != nil {
		return decimal.Zero, fmt.Errorf("orchestrator: spot price: %w", err)
	}
	return loan.MaxMintable(pos.CollateralAmount.Add(btcAmount), pos.DebtAmount, price, o.cfg.Loan), nil
}
