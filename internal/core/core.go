/*
Core drives one instrument through the decision and reconciliation pipeline.

# Module
  - signal manager: decaying strategy signals and directional consensus
  - intake dispatcher: static strategy table, one evaluator pass per tick
  - risk engine: gates every entry decision against limits and the daily P&L
  - position ledger: round-trip records, pending intents and realized P&L
  - synchronizer: pairs split broker notifications before they reach the ledger

# Source
 1. market ticks from the feed (tick goroutine)
 2. broker notifications from the bridge (background goroutines)

# Produce
  - leg submissions and cancels to the bridge
  - journal frames, telemetry messages and daily P&L
*/
package core

import (
	stderrors "errors"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"hftcore/internal/intake"
	"hftcore/internal/ledger"
	"hftcore/internal/obs"
	"hftcore/internal/og"
	"hftcore/internal/recorder"
	"hftcore/internal/risk"
	"hftcore/internal/schema"
	"hftcore/internal/signal"
	"hftcore/internal/state"
	"hftcore/internal/telemetry"
	"hftcore/pkg/exception"
)

const defaultPatternID = "consensus"

// Config is the per-instrument trading setup.
type Config struct {
	Quantity        schema.Quantity
	ExitOnConsensus bool
	Ledger          ledger.Config
	Sync            og.SyncConfig
}

// Deps are the collaborators the engine drives. Journal, Telemetry and Gateway may be nil.
type Deps struct {
	Signals   *signal.Manager
	Intake    *intake.Dispatcher
	Risk      *risk.Engine
	PnL       *state.DailyPnL
	Journal   *recorder.Journal
	Telemetry *telemetry.Relay
	Gateway   *og.Gateway
	Metrics   *obs.Metrics
}

// TickReport summarises one OnTick pass.
type TickReport struct {
	Time         time.Time
	Price        float64
	Bull         float64
	Bear         float64
	Listing      []string
	Dispatch     intake.Report
	Decision     *schema.EntryDecision
	Risk         *schema.RiskDecision
	Opened       bool
	ExitRequests int
	Sweep        ledger.SweepReport
	Orphans      []string
	Stats        ledger.Stats
	DailyPnL     float64
}

// Engine owns the tick loop for one instrument. OnTick must be called from a single goroutine;
// the notification entry points are safe from any goroutine.
type Engine struct {
	cfg     Config
	deps    Deps
	ledger  *ledger.Ledger
	syncer  *og.Synchronizer
	metrics *obs.Metrics

	lastEntry time.Time

	haltMu   sync.Mutex
	haltErr  error
	flattens int
}

// New builds the ledger and synchronizer around bridge and wires their outputs to deps.
func New(cfg Config, bridge ledger.Bridge, deps Deps, opts ...ledger.Option) (*Engine, error) {
	if deps.Signals == nil || deps.Intake == nil || deps.Risk == nil {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "core: signals, intake and risk are required")
	}
	if cfg.Quantity <= 0 {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "core: quantity %d", cfg.Quantity)
	}
	if deps.PnL == nil {
		deps.PnL = state.NewDailyPnL(time.UTC)
	}

	e := &Engine{cfg: cfg, deps: deps, metrics: deps.Metrics}

	l, err := ledger.New(cfg.Ledger, bridge, ledger.Hooks{
		OnOpened: e.onOpened,
		OnClosed: e.onClosed,
		OnFault:  e.onFault,
	}, deps.Metrics, opts...)
	if err != nil {
		return nil, err
	}
	e.ledger = l

	syncer, err := og.NewSynchronizer(cfg.Sync, og.Handlers{
		OnLegState: e.onLegState,
		OnPaired:   e.onPaired,
	}, deps.Metrics)
	if err != nil {
		return nil, err
	}
	e.syncer = syncer
	return e, nil
}

// Ledger exposes the position ledger for inspection.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// Synchronizer exposes the notification synchronizer.
func (e *Engine) Synchronizer() *og.Synchronizer {
	return e.syncer
}

// UpdateRisk swaps the risk limits.
func (e *Engine) UpdateRisk(cfg risk.Config) {
	e.deps.Risk.UpdateConfig(cfg)
	logs.Infof("risk limits updated to version %d (kill switch %v)", cfg.Version, cfg.KillSwitch)
}

// OnTick runs the decision pipeline for one market snapshot.
func (e *Engine) OnTick(market schema.MarketState) (TickReport, error) {
	rep := TickReport{Time: market.Timestamp, Price: market.Price}
	if err := e.Halted(); err != nil {
		return rep, errors.Wrap(exception.ErrCoreHalted, err.Error())
	}
	start := time.Now()
	defer func() { e.metrics.ObserveTick(time.Since(start)) }()

	now := market.Timestamp
	if err := e.deps.Journal.Market(market); err != nil {
		logs.Errorf("journal market: %v", err)
	}
	if e.deps.PnL.Roll(now) {
		logs.Infof("daily P&L rolled at %s", now.Format(time.RFC3339))
	}

	sig := e.deps.Signals
	sig.OnTick(market)
	rep.Dispatch = e.deps.Intake.Dispatch(market)
	rep.Bull, rep.Bear = sig.Aggregate(market)

	if e.cfg.ExitOnConsensus {
		rep.ExitRequests = e.requestConsensusExits(market)
	}

	if d, ok := sig.Evaluate(market); ok {
		rep.Decision = &d
		opened, rd, err := e.enter(d, market)
		rep.Risk = &rd
		rep.Opened = opened
		if err != nil {
			return rep, err
		}
	}

	if _, err := e.ledger.MarkPrice(market.Price, now); err != nil {
		return rep, e.ledgerErr("mark price", err)
	}
	sweep, err := e.ledger.Sweep(now)
	if err != nil {
		return rep, e.ledgerErr("sweep", err)
	}
	rep.Sweep = sweep
	rep.Orphans = e.syncer.Sweep(now).Orphans

	rep.Listing = sig.Listing(market)
	rep.Stats = e.ledger.Stats()
	rep.DailyPnL = e.deps.PnL.RealizedFloat()
	return rep, nil
}

func (e *Engine) requestConsensusExits(market schema.MarketState) int {
	n := 0
	for _, rec := range e.ledger.Records() {
		if !rec.IsOpen() || rec.Supplemental.ForceExit {
			continue
		}
		if !e.deps.Signals.ShouldExit(rec.Direction, market) {
			continue
		}
		if err := e.ledger.RequestExit(rec.Handle, schema.ExitReasonConsensus); err != nil {
			logs.Errorf("exit request for record %d: %v", rec.ID, err)
			continue
		}
		n++
	}
	return n
}

func (e *Engine) enter(d schema.EntryDecision, market schema.MarketState) (bool, schema.RiskDecision, error) {
	if err := e.deps.Journal.EntryDecision(d); err != nil {
		logs.Errorf("journal entry decision: %v", err)
	}

	stats := e.ledger.Stats()
	evalStart := time.Now()
	rd := e.deps.Risk.Evaluate(d, e.cfg.Quantity, risk.StateView{
		OpenPositions: stats.Open + stats.Pending,
		DailyRealized: e.deps.PnL.RealizedFloat(),
		LastEntry:     e.lastEntry,
		Halted:        e.Halted() != nil,
		Now:           market.Timestamp,
	})
	e.metrics.ObserveRiskEval(time.Since(evalStart))
	if err := e.deps.Journal.RiskDecision(rd, market.Timestamp); err != nil {
		logs.Errorf("journal risk decision: %v", err)
	}
	if !rd.Allowed() {
		logs.Infof("entry %s denied: %s (open %d, daily %.2f)", d.Direction, rd.Reason, rd.OpenPositions, rd.DailyRealized)
		return false, rd, nil
	}

	pattern, ok := e.deps.Signals.Strongest(d.Direction, market)
	if !ok {
		pattern = defaultPatternID
	}
	if _, err := e.ledger.Open(d, e.cfg.Quantity, pattern, market.Timestamp); err != nil {
		return false, rd, e.ledgerErr("open", err)
	}
	e.lastEntry = market.Timestamp
	return true, rd, nil
}

// ledgerErr halts on a ledger fault; other errors are logged and swallowed.
func (e *Engine) ledgerErr(op string, err error) error {
	if stderrors.Is(err, exception.ErrLedgerFault) {
		e.halt(err)
		return errors.Wrap(exception.ErrCoreHalted, op)
	}
	logs.Errorf("ledger %s: %v", op, err)
	return nil
}

// OnStateTransition accepts the order-state half of a split notification.
func (e *Engine) OnStateTransition(st schema.StateTransition) error {
	if err := e.deps.Journal.StateTransition(st); err != nil {
		logs.Errorf("journal state: %v", err)
	}
	return e.syncer.OnStateTransition(st)
}

// OnFillConfirmation accepts the execution half of a split notification.
func (e *Engine) OnFillConfirmation(fill schema.FillConfirmation) error {
	if err := e.deps.Journal.Fill(fill); err != nil {
		logs.Errorf("journal fill: %v", err)
	}
	return e.syncer.OnFillConfirmation(fill)
}

// OnUnified accepts a notification carrying both halves.
func (e *Engine) OnUnified(pe schema.PairedEvent) error {
	if pe.State != nil {
		if err := e.deps.Journal.StateTransition(*pe.State); err != nil {
			logs.Errorf("journal state: %v", err)
		}
	}
	if pe.Fill != nil {
		if err := e.deps.Journal.Fill(*pe.Fill); err != nil {
			logs.Errorf("journal fill: %v", err)
		}
	}
	return e.syncer.OnUnified(pe)
}

func (e *Engine) onLegState(st schema.StateTransition) {
	if e.deps.Gateway != nil {
		e.deps.Gateway.ObserveState(st)
	}
	if err := e.ledger.OnLegState(st); err != nil {
		_ = e.ledgerErr("leg state", err)
	}
}

func (e *Engine) onPaired(pe schema.PairedEvent) {
	if e.deps.Gateway != nil {
		e.deps.Gateway.ObservePaired(pe)
	}
	if err := e.ledger.OnPaired(pe); err != nil {
		_ = e.ledgerErr("paired", err)
	}
}

func (e *Engine) onOpened(ev schema.PositionOpened) {
	if err := e.deps.Journal.Opened(ev); err != nil {
		logs.Errorf("journal opened: %v", err)
	}
	e.deps.Telemetry.Opened(ev)
}

func (e *Engine) onClosed(ev schema.PositionClosed) {
	if !e.deps.PnL.Apply(ev) {
		logs.Infof("record %d closed on %s, outside the current P&L day", ev.RecordID, ev.ClosedAt.Format(time.DateOnly))
	}
	if err := e.deps.Journal.Closed(ev); err != nil {
		logs.Errorf("journal closed: %v", err)
	}
	e.deps.Telemetry.Closed(ev)
	logs.Infof("record %d closed %s x%d %s -> %s realized %s (%s)",
		ev.RecordID, ev.Direction, ev.Quantity, ev.EntryPrice, ev.ExitPrice, ev.Realized, ev.ExitReason)
}

func (e *Engine) onFault(err error) {
	e.halt(errors.Wrapf(exception.ErrLedgerFault, "%v", err))
}

// halt records the first fault and flattens the book once.
func (e *Engine) halt(err error) {
	e.haltMu.Lock()
	if e.haltErr != nil {
		e.haltMu.Unlock()
		return
	}
	e.haltErr = err
	e.haltMu.Unlock()

	logs.Errorf("core halted: %+v", err)
	n := e.ledger.Flatten(schema.ExitReasonFlatten)

	e.haltMu.Lock()
	e.flattens += n
	e.haltMu.Unlock()
	logs.Errorf("flatten submitted %d closing orders", n)
}

// Halt stops new entries and flattens open positions.
func (e *Engine) Halt(reason string) {
	e.halt(errors.Wrap(exception.ErrCoreHalted, reason))
}

// Halted returns the error that halted the engine, or nil.
func (e *Engine) Halted() error {
	e.haltMu.Lock()
	defer e.haltMu.Unlock()
	return e.haltErr
}

// Flattened returns how many closing orders the halt path submitted.
func (e *Engine) Flattened() int {
	e.haltMu.Lock()
	defer e.haltMu.Unlock()
	return e.flattens
}

// Flatten closes every open position without halting the engine.
func (e *Engine) Flatten(reason schema.ExitReason) int {
	return e.ledger.Flatten(reason)
}

// Stats returns the ledger counters.
func (e *Engine) Stats() ledger.Stats {
	return e.ledger.Stats()
}

// DailyPnL returns the running daily summary.
func (e *Engine) DailyPnL() state.Summary {
	return e.deps.PnL.Summary()
}
