package ledger

import (
	stderrors "errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	hfterrors "hftcore/internal/errors"
	"hftcore/internal/obs"
	"hftcore/internal/og"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// Config holds the instrument arithmetic and the protective offsets applied to every record.
type Config struct {
	PointValue     float64       `json:"pointValue"`
	TickSize       float64       `json:"tickSize"`
	StopTicks      int           `json:"stopTicks"`
	TargetTicks    int           `json:"targetTicks"`
	ConfirmTimeout time.Duration `json:"confirmTimeout"`
	Capacity       int           `json:"capacity"`
}

// Bridge is the outbound side of the broker connection.
type Bridge interface {
	SubmitLeg(correlationID string, action schema.OrderAction, qty schema.Quantity) error
	CancelLeg(correlationID string) error
}

// Hooks receive position lifecycle events. They run after the ledger lock is released.
type Hooks struct {
	OnOpened func(schema.PositionOpened)
	OnClosed func(schema.PositionClosed)
	OnFault  func(error)
}

// Leg is a confirmed fill for one side of a record.
type Leg struct {
	CorrelationID string
	ExecutionID   string
	Price         decimal.Decimal
	Quantity      schema.Quantity
	ConfirmedAt   time.Time
}

// PriceStats tracks the money side of a record.
type PriceStats struct {
	EntryPrice      decimal.Decimal
	ExitPrice       decimal.Decimal
	RunningProfit   decimal.Decimal
	HighWaterProfit decimal.Decimal
	LowWaterProfit  decimal.Decimal
	StopPrice       decimal.Decimal
	TargetPrice     decimal.Decimal
}

// Supplemental carries flags that do not belong to the leg lifecycle.
type Supplemental struct {
	ForceExit            bool
	ExitReason           schema.ExitReason
	PatternID            string
	RegisteredExternally bool
	CancelRequested      bool
}

// Record is one round trip: an entry leg and its exit leg.
type Record struct {
	Handle             Handle
	ID                 uint64
	Direction          schema.Direction
	Quantity           schema.Quantity
	Decision           schema.EntryDecision
	EntryCorrelationID string
	ExitCorrelationID  string
	EntryLeg           *Leg
	ExitLeg            *Leg
	EntryState         schema.LegState
	ExitState          schema.LegState
	Stats              PriceStats
	Supplemental       Supplemental
	OpenedAt           time.Time
	SubmittedAt        time.Time
}

// IsOpen reports whether the entry is filled and the exit is not.
func (r Record) IsOpen() bool {
	return r.EntryLeg != nil && r.ExitLeg == nil
}

func (r *Record) legState(kind schema.LegKind) schema.LegState {
	if kind == schema.LegKindEntry {
		return r.EntryState
	}
	return r.ExitState
}

func (r *Record) setLegState(kind schema.LegKind, s schema.LegState) {
	if kind == schema.LegKindEntry {
		r.EntryState = s
		return
	}
	r.ExitState = s
}

// Stats summarises the ledger.
type Stats struct {
	Realized   decimal.Decimal
	Unrealized decimal.Decimal
	Open       int
	Pending    int
	Closed     int
}

// SweepReport counts what one Sweep did.
type SweepReport struct {
	Submitted  int
	ForceExits int
	Timeouts   int
	Compacted  int
	Drained    int
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithIDGenerator replaces the uuid correlation id generator.
func WithIDGenerator(fn func() string) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.newID = fn
		}
	}
}

// WithClock replaces time.Now for notifications that carry no timestamp.
func WithClock(fn func() time.Time) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.now = fn
		}
	}
}

type legRef struct {
	record Handle
	kind   schema.LegKind
}

// faultError marks a broken ledger invariant.
type faultError struct {
	err error
}

func (e *faultError) Error() string { return e.err.Error() }
func (e *faultError) Unwrap() error { return e.err }

func fault(err error) error {
	return &faultError{err: err}
}

// Ledger owns the position records and their legs. Every method is safe for concurrent use;
// bridge calls and hooks are collected under the lock and executed after it is released.
type Ledger struct {
	cfg        Config
	bridge     Bridge
	hooks      Hooks
	metrics    *obs.Metrics
	newID      func() string
	now        func() time.Time
	pointValue decimal.Decimal

	mu       sync.Mutex
	records  *Arena[Record]
	intents  *IntentQueue
	refs     map[string]legRef
	lastID   uint64
	realized decimal.Decimal
	closed   int
	faulted  error
}

// New creates a ledger that works orders through bridge.
func New(cfg Config, bridge Bridge, hooks Hooks, metrics *obs.Metrics, opts ...Option) (*Ledger, error) {
	if bridge == nil {
		return nil, exception.ErrOrderNilBridge
	}
	if !(cfg.PointValue > 0) {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "point value %v", cfg.PointValue)
	}
	if (cfg.StopTicks > 0 || cfg.TargetTicks > 0) && !(cfg.TickSize > 0) {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "tick size %v with stop/target offsets", cfg.TickSize)
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 16
	}

	l := &Ledger{
		cfg:        cfg,
		bridge:     bridge,
		hooks:      hooks,
		metrics:    metrics,
		newID:      uuid.NewString,
		now:        time.Now,
		pointValue: decimal.NewFromFloat(cfg.PointValue),
		records:    NewArena[Record](cfg.Capacity),
		intents:    NewIntentQueue(),
		refs:       make(map[string]legRef, cfg.Capacity*2),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

type actionKind uint8

const (
	actSubmit actionKind = iota + 1
	actCancel
	actOpened
	actClosed
)

type action struct {
	kind   actionKind
	id     string
	order  schema.OrderAction
	qty    schema.Quantity
	record Handle
	opened schema.PositionOpened
	closed schema.PositionClosed
}

type outbox []action

func (ob *outbox) submit(id string, order schema.OrderAction, qty schema.Quantity) {
	*ob = append(*ob, action{kind: actSubmit, id: id, order: order, qty: qty})
}

func (ob *outbox) cancel(id string) {
	*ob = append(*ob, action{kind: actCancel, id: id})
}

func (ob *outbox) opened(h Handle, ev schema.PositionOpened) {
	*ob = append(*ob, action{kind: actOpened, record: h, opened: ev})
}

func (ob *outbox) closedEvent(ev schema.PositionClosed) {
	*ob = append(*ob, action{kind: actClosed, closed: ev})
}

// do runs fn under the lock with panic recovery. Faults poison the ledger and drop the outbox.
func (l *Ledger) do(op string, fn func(ob *outbox) error) error {
	var ob outbox

	l.mu.Lock()
	if l.faulted != nil {
		cause := l.faulted
		l.mu.Unlock()
		return errors.Wrapf(exception.ErrLedgerFault, "%s: %v", op, cause)
	}
	err := hfterrors.Guard(op, func() error { return fn(&ob) })
	ferr := asFault(err)
	if ferr != nil {
		l.faulted = ferr
	}
	l.mu.Unlock()

	if ferr != nil {
		l.metrics.Inc(obs.CounterLedgerFault)
		logs.Errorf("ledger fault in %s: %v", op, ferr)
		if l.hooks.OnFault != nil {
			l.hooks.OnFault(ferr)
		}
		return errors.Wrapf(exception.ErrLedgerFault, "%s: %v", op, ferr)
	}

	l.flush(ob)
	return err
}

func asFault(err error) error {
	if err == nil {
		return nil
	}
	var pe *hfterrors.PanicError
	if stderrors.As(err, &pe) {
		return pe
	}
	var fe *faultError
	if stderrors.As(err, &fe) {
		return fe
	}
	return nil
}

func (l *Ledger) flush(ob outbox) {
	for _, a := range ob {
		switch a.kind {
		case actSubmit:
			err := l.bridge.SubmitLeg(a.id, a.order, a.qty)
			if err == nil {
				continue
			}
			if stderrors.Is(err, exception.ErrOrderGatewayOffline) {
				logs.Infof("leg %s queued for resend: %v", a.id, err)
				continue
			}
			logs.Errorf("submit leg %s: %v", a.id, err)
			_ = l.OnLegState(schema.StateTransition{
				CorrelationID: a.id,
				State:         schema.OrderStateRejected,
				Quantity:      a.qty,
				Time:          l.now(),
				Error:         err.Error(),
			})
		case actCancel:
			if err := l.bridge.CancelLeg(a.id); err != nil {
				logs.Errorf("cancel leg %s: %v", a.id, err)
			}
		case actOpened:
			if l.hooks.OnOpened != nil {
				l.hooks.OnOpened(a.opened)
				l.markRegistered(a.record)
			}
		case actClosed:
			if l.hooks.OnClosed != nil {
				l.hooks.OnClosed(a.closed)
			}
		}
	}
}

func (l *Ledger) markRegistered(h Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.records.Get(h); ok {
		rec.Supplemental.RegisteredExternally = true
	}
}

// Open creates a record for an allowed entry decision. The entry leg is submitted by the next Sweep.
func (l *Ledger) Open(d schema.EntryDecision, qty schema.Quantity, patternID string, now time.Time) (Handle, error) {
	var h Handle
	err := l.do("ledger.open", func(ob *outbox) error {
		if !d.Direction.IsValid() {
			return errors.Wrapf(exception.ErrLedgerInvalidDecision, "direction %s", d.Direction)
		}
		if qty <= 0 {
			return errors.Wrapf(exception.ErrLedgerInvalidQuantity, "%d", qty)
		}

		entryID, exitID := l.newID(), l.newID()
		if entryID == "" || exitID == "" || entryID == exitID {
			return fault(errors.Errorf("correlation id generator returned %q and %q", entryID, exitID))
		}
		if _, ok := l.refs[entryID]; ok {
			return fault(errors.Errorf("correlation id %s reused", entryID))
		}
		if _, ok := l.refs[exitID]; ok {
			return fault(errors.Errorf("correlation id %s reused", exitID))
		}

		l.lastID++
		h = l.records.Insert(Record{
			ID:                 l.lastID,
			Direction:          d.Direction,
			Quantity:           qty,
			Decision:           d,
			EntryCorrelationID: entryID,
			ExitCorrelationID:  exitID,
			EntryState:         schema.LegStateIntent,
			ExitState:          schema.LegStateIntent,
			Supplemental:       Supplemental{PatternID: patternID},
			OpenedAt:           now,
		})
		rec, _ := l.records.Get(h)
		rec.Handle = h

		if _, err := l.intents.Enqueue(PendingIntent{
			CorrelationID: entryID,
			Record:        h,
			Kind:          schema.LegKindEntry,
			Action:        schema.EntryAction(d.Direction),
			Quantity:      qty,
			Ready:         true,
			CreatedAt:     now,
		}); err != nil {
			return fault(err)
		}
		if _, err := l.intents.Enqueue(PendingIntent{
			CorrelationID: exitID,
			Record:        h,
			Kind:          schema.LegKindExit,
			Action:        schema.ExitAction(d.Direction),
			Quantity:      qty,
			CreatedAt:     now,
		}); err != nil {
			return fault(err)
		}
		l.refs[entryID] = legRef{record: h, kind: schema.LegKindEntry}
		l.refs[exitID] = legRef{record: h, kind: schema.LegKindExit}

		logs.Infof("record %d opened %s x%d (entry %s, strength %.2f vs %.2f)",
			rec.ID, d.Direction, qty, entryID, d.Strength, d.OpposingStrength)
		return nil
	})
	return h, err
}

// OnLegState applies a non-fill order state to the matching leg.
func (l *Ledger) OnLegState(st schema.StateTransition) error {
	return l.do("ledger.leg_state", func(ob *outbox) error {
		ref, ok := l.refs[st.CorrelationID]
		if !ok {
			l.metrics.Inc(obs.CounterUnknownCorrelation)
			logs.Infof("drop %s state for unknown correlation %s", st.State, st.CorrelationID)
			return nil
		}
		rec, ok := l.records.Get(ref.record)
		if !ok {
			return fault(errors.Errorf("correlation %s points at missing record %s", st.CorrelationID, ref.record))
		}

		next, ok := og.LegFromOrderState(st.State)
		if !ok {
			return errors.Wrapf(exception.ErrOrderUnknownState, "%s for %s", st.State, st.CorrelationID)
		}
		if next == schema.LegStateConfirmed {
			return errors.Wrapf(exception.ErrOrderInvalidTransition, "fill state for %s without a fill", st.CorrelationID)
		}

		cur := rec.legState(ref.kind)
		if err := og.Transition(cur, next); err != nil {
			logs.Infof("ignore stale %s state for record %d: %v", ref.kind, rec.ID, err)
			return nil
		}

		switch next {
		case schema.LegStateSubmitted:
			rec.setLegState(ref.kind, next)
			if ref.kind == schema.LegKindEntry && rec.SubmittedAt.IsZero() {
				rec.SubmittedAt = st.Time
			}
		case schema.LegStateCancelled, schema.LegStateRejected:
			if next == schema.LegStateRejected {
				l.metrics.Inc(obs.CounterRejectedLeg)
			} else {
				l.metrics.Inc(obs.CounterCancelledLeg)
			}
			if ref.kind == schema.LegKindEntry {
				logs.Errorf("entry %s %s for record %d: %s", st.CorrelationID, next, rec.ID, st.Error)
				l.releaseLocked(rec)
				return nil
			}
			logs.Errorf("exit %s %s for record %d: %s", st.CorrelationID, next, rec.ID, st.Error)
			return l.rearmExitLocked(rec)
		}
		return nil
	})
}

// releaseLocked drops a record whose entry never filled.
func (l *Ledger) releaseLocked(rec *Record) {
	l.intents.Supersede(rec.EntryCorrelationID)
	l.intents.Supersede(rec.ExitCorrelationID)
	delete(l.refs, rec.EntryCorrelationID)
	delete(l.refs, rec.ExitCorrelationID)
	l.records.Remove(rec.Handle)
}

// rearmExitLocked replaces a dead exit leg with a fresh intent that waits for a new exit request.
func (l *Ledger) rearmExitLocked(rec *Record) error {
	old := rec.ExitCorrelationID
	id := l.newID()
	if id == "" {
		return fault(errors.Errorf("correlation id generator returned empty id"))
	}
	if _, ok := l.refs[id]; ok {
		return fault(errors.Errorf("correlation id %s reused", id))
	}

	l.intents.Supersede(old)
	delete(l.refs, old)

	if _, err := l.intents.Enqueue(PendingIntent{
		CorrelationID: id,
		Record:        rec.Handle,
		Kind:          schema.LegKindExit,
		Action:        schema.ExitAction(rec.Direction),
		Quantity:      rec.Quantity,
		CreatedAt:     l.now(),
	}); err != nil {
		return fault(err)
	}
	l.refs[id] = legRef{record: rec.Handle, kind: schema.LegKindExit}
	rec.ExitCorrelationID = id
	rec.ExitState = schema.LegStateIntent
	rec.Supplemental.ForceExit = false
	rec.Supplemental.ExitReason = schema.ExitReasonNone
	return nil
}

// OnPaired confirms a leg from a completed pair. Each leg is confirmed at most once.
func (l *Ledger) OnPaired(pe schema.PairedEvent) error {
	return l.do("ledger.paired", func(ob *outbox) error {
		if pe.Fill == nil {
			return errors.Wrapf(exception.ErrOrderInvalidFill, "pair %s without fill", pe.CorrelationID)
		}
		id := pe.CorrelationID
		if id == "" {
			id = pe.Fill.CorrelationID
		}
		ref, ok := l.refs[id]
		if !ok {
			l.metrics.Inc(obs.CounterUnknownCorrelation)
			logs.Infof("drop fill for unknown correlation %s", id)
			return nil
		}
		rec, ok := l.records.Get(ref.record)
		if !ok {
			return fault(errors.Errorf("correlation %s points at missing record %s", id, ref.record))
		}

		fill := *pe.Fill
		if !(fill.Price > 0) || math.IsInf(fill.Price, 0) || fill.Quantity <= 0 {
			return fault(errors.Wrapf(exception.ErrOrderInvalidFill, "%s price %v qty %d", id, fill.Price, fill.Quantity))
		}
		if fill.Time.IsZero() {
			fill.Time = l.now()
		}

		if ref.kind == schema.LegKindEntry {
			return l.confirmEntryLocked(ob, rec, fill)
		}
		return l.confirmExitLocked(ob, rec, fill)
	})
}

func (l *Ledger) confirmEntryLocked(ob *outbox, rec *Record, fill schema.FillConfirmation) error {
	if rec.EntryLeg != nil {
		l.metrics.Inc(obs.CounterDuplicateHalf)
		logs.Infof("entry of record %d already confirmed, drop %s", rec.ID, fill.ExecutionID)
		return nil
	}
	if err := og.Transition(rec.EntryState, schema.LegStateConfirmed); err != nil {
		logs.Infof("ignore entry fill for record %d: %v", rec.ID, err)
		return nil
	}

	price := decimal.NewFromFloat(fill.Price)
	rec.EntryLeg = &Leg{
		CorrelationID: rec.EntryCorrelationID,
		ExecutionID:   fill.ExecutionID,
		Price:         price,
		Quantity:      fill.Quantity,
		ConfirmedAt:   fill.Time,
	}
	rec.EntryState = schema.LegStateConfirmed
	rec.Quantity = fill.Quantity
	rec.Stats.EntryPrice = price
	rec.Stats.RunningProfit = decimal.Zero
	rec.Stats.HighWaterProfit = decimal.Zero
	rec.Stats.LowWaterProfit = decimal.Zero

	sign := decimal.NewFromInt(rec.Direction.Sign())
	tick := decimal.NewFromFloat(l.cfg.TickSize)
	if l.cfg.StopTicks > 0 {
		rec.Stats.StopPrice = price.Sub(sign.Mul(tick).Mul(decimal.NewFromInt(int64(l.cfg.StopTicks))))
	}
	if l.cfg.TargetTicks > 0 {
		rec.Stats.TargetPrice = price.Add(sign.Mul(tick).Mul(decimal.NewFromInt(int64(l.cfg.TargetTicks))))
	}

	l.intents.Supersede(rec.EntryCorrelationID)
	exit, ok := l.intents.Get(rec.ExitCorrelationID)
	if !ok {
		return fault(errors.Errorf("record %d has no exit intent %s", rec.ID, rec.ExitCorrelationID))
	}
	exit.Ready = true
	exit.Quantity = rec.Quantity

	ob.opened(rec.Handle, schema.PositionOpened{
		RecordID:      rec.ID,
		CorrelationID: rec.EntryCorrelationID,
		Direction:     rec.Direction,
		Quantity:      rec.Quantity,
		EntryPrice:    price,
		PatternID:     rec.Supplemental.PatternID,
		OpenedAt:      fill.Time,
	})
	logs.Infof("record %d entry confirmed %s x%d @ %s", rec.ID, rec.Direction, rec.Quantity, price)

	if rec.Supplemental.CancelRequested {
		l.metrics.Inc(obs.CounterEmergencyClose)
		logs.Errorf("record %d filled after cancel request, closing", rec.ID)
		rec.Supplemental.ExitReason = schema.ExitReasonTimeout
		l.submitExitLocked(ob, rec, exit, fill.Time)
	}
	return nil
}

func (l *Ledger) confirmExitLocked(ob *outbox, rec *Record, fill schema.FillConfirmation) error {
	if rec.ExitLeg != nil {
		l.metrics.Inc(obs.CounterDuplicateHalf)
		logs.Infof("exit of record %d already confirmed, drop %s", rec.ID, fill.ExecutionID)
		return nil
	}
	if rec.EntryLeg == nil {
		return fault(errors.Errorf("exit %s of record %d confirmed before its entry", rec.ExitCorrelationID, rec.ID))
	}
	if err := og.Transition(rec.ExitState, schema.LegStateConfirmed); err != nil {
		logs.Infof("ignore exit fill for record %d: %v", rec.ID, err)
		return nil
	}

	price := decimal.NewFromFloat(fill.Price)
	rec.ExitLeg = &Leg{
		CorrelationID: rec.ExitCorrelationID,
		ExecutionID:   fill.ExecutionID,
		Price:         price,
		Quantity:      fill.Quantity,
		ConfirmedAt:   fill.Time,
	}
	rec.ExitState = schema.LegStateConfirmed
	rec.Stats.ExitPrice = price

	realized := l.profit(rec, price)
	rec.Stats.RunningProfit = realized
	l.watermark(rec)

	reason := rec.Supplemental.ExitReason
	if reason == schema.ExitReasonNone {
		reason = schema.ExitReasonManual
	}

	l.realized = l.realized.Add(realized)
	l.closed++

	l.intents.Supersede(rec.EntryCorrelationID)
	l.intents.Supersede(rec.ExitCorrelationID)
	delete(l.refs, rec.EntryCorrelationID)
	delete(l.refs, rec.ExitCorrelationID)
	l.records.Remove(rec.Handle)

	ob.closedEvent(schema.PositionClosed{
		RecordID:   rec.ID,
		Direction:  rec.Direction,
		Quantity:   rec.Quantity,
		EntryPrice: rec.Stats.EntryPrice,
		ExitPrice:  price,
		Realized:   realized,
		ExitReason: reason,
		PatternID:  rec.Supplemental.PatternID,
		OpenedAt:   rec.EntryLeg.ConfirmedAt,
		ClosedAt:   fill.Time,
	})
	logs.Infof("record %d closed %s @ %s realized %s (%s)", rec.ID, rec.Direction, price, realized, reason)
	return nil
}

// profit is (price-entry) x sign x qty x pointValue.
func (l *Ledger) profit(rec *Record, price decimal.Decimal) decimal.Decimal {
	return price.Sub(rec.Stats.EntryPrice).
		Mul(decimal.NewFromInt(rec.Direction.Sign())).
		Mul(decimal.NewFromInt(int64(rec.Quantity))).
		Mul(l.pointValue)
}

func (l *Ledger) watermark(rec *Record) {
	if rec.Stats.RunningProfit.GreaterThan(rec.Stats.HighWaterProfit) {
		rec.Stats.HighWaterProfit = rec.Stats.RunningProfit
	}
	if rec.Stats.RunningProfit.LessThan(rec.Stats.LowWaterProfit) {
		rec.Stats.LowWaterProfit = rec.Stats.RunningProfit
	}
}

func (l *Ledger) submitExitLocked(ob *outbox, rec *Record, exit *PendingIntent, now time.Time) {
	exit.Ready = false
	exit.Sent = true
	exit.SentAt = now
	rec.Supplemental.ForceExit = false
	ob.submit(exit.CorrelationID, exit.Action, exit.Quantity)
}

// MarkPrice revalues open records at price and returns the total unrealized profit.
// Records crossing their stop or target are flagged for exit.
func (l *Ledger) MarkPrice(price float64, now time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	err := l.do("ledger.mark", func(ob *outbox) error {
		if !(price > 0) || math.IsInf(price, 0) {
			return errors.Wrapf(exception.ErrInvalidArgument, "mark price %v", price)
		}
		p := decimal.NewFromFloat(price)
		var ferr error
		l.records.Each(func(_ Handle, rec *Record) bool {
			if !rec.IsOpen() {
				return true
			}
			rec.Stats.RunningProfit = l.profit(rec, p)
			l.watermark(rec)
			total = total.Add(rec.Stats.RunningProfit)

			if reason, hit := l.protectiveHit(rec, p); hit {
				if err := l.requestExitLocked(rec, reason); err != nil {
					ferr = err
					return false
				}
			}
			return true
		})
		return ferr
	})
	return total, err
}

func (l *Ledger) protectiveHit(rec *Record, p decimal.Decimal) (schema.ExitReason, bool) {
	if rec.Supplemental.ForceExit || rec.ExitState != schema.LegStateIntent {
		return schema.ExitReasonNone, false
	}
	stop, target := rec.Stats.StopPrice, rec.Stats.TargetPrice
	switch rec.Direction {
	case schema.DirectionLong:
		if stop.IsPositive() && p.LessThanOrEqual(stop) {
			return schema.ExitReasonStopLoss, true
		}
		if target.IsPositive() && p.GreaterThanOrEqual(target) {
			return schema.ExitReasonTarget, true
		}
	case schema.DirectionShort:
		if stop.IsPositive() && p.GreaterThanOrEqual(stop) {
			return schema.ExitReasonStopLoss, true
		}
		if target.IsPositive() && p.LessThanOrEqual(target) {
			return schema.ExitReasonTarget, true
		}
	}
	return schema.ExitReasonNone, false
}

// RequestExit flags an open record for exit. The closing order goes out on the next Sweep.
func (l *Ledger) RequestExit(h Handle, reason schema.ExitReason) error {
	return l.do("ledger.request_exit", func(ob *outbox) error {
		rec, ok := l.records.Get(h)
		if !ok {
			return errors.Wrapf(exception.ErrLedgerUnknownRecord, "handle %s", h)
		}
		if !rec.IsOpen() {
			return errors.Wrapf(exception.ErrLedgerNotOpen, "record %d", rec.ID)
		}
		return l.requestExitLocked(rec, reason)
	})
}

func (l *Ledger) requestExitLocked(rec *Record, reason schema.ExitReason) error {
	exit, ok := l.intents.Get(rec.ExitCorrelationID)
	if !ok {
		return fault(errors.Errorf("record %d has no exit intent %s", rec.ID, rec.ExitCorrelationID))
	}
	if exit.Sent {
		return nil
	}
	if rec.Supplemental.ExitReason == schema.ExitReasonNone {
		rec.Supplemental.ExitReason = reason
	}
	if !rec.Supplemental.ForceExit {
		rec.Supplemental.ForceExit = true
		l.metrics.Inc(obs.CounterForceExit)
		logs.Infof("record %d flagged for exit (%s)", rec.ID, rec.Supplemental.ExitReason)
	}
	exit.Ready = true
	return nil
}

// Cancel withdraws a record whose entry has not filled. An unsent entry is dropped at once;
// a sent one gets a cancel request and is released when the cancel is confirmed.
// For an open record with an exit in flight the exit order is cancelled instead.
func (l *Ledger) Cancel(h Handle) error {
	return l.do("ledger.cancel", func(ob *outbox) error {
		rec, ok := l.records.Get(h)
		if !ok {
			return errors.Wrapf(exception.ErrLedgerUnknownRecord, "handle %s", h)
		}
		if rec.EntryLeg != nil {
			if exit, ok := l.intents.Get(rec.ExitCorrelationID); ok && exit.Sent && rec.ExitLeg == nil {
				ob.cancel(exit.CorrelationID)
				return nil
			}
			return errors.Wrapf(exception.ErrLedgerAlreadyFilled, "record %d", rec.ID)
		}

		entry, ok := l.intents.Get(rec.EntryCorrelationID)
		if !ok {
			return fault(errors.Errorf("record %d has no entry intent %s", rec.ID, rec.EntryCorrelationID))
		}
		if !entry.Sent {
			logs.Infof("record %d cancelled before submission", rec.ID)
			l.releaseLocked(rec)
			return nil
		}
		if rec.Supplemental.CancelRequested {
			return nil
		}
		rec.Supplemental.CancelRequested = true
		ob.cancel(entry.CorrelationID)
		return nil
	})
}

// Sweep submits ready legs, cancels entries past the confirmation timeout, compacts the arena
// and drains superseded intents, in that order.
func (l *Ledger) Sweep(now time.Time) (SweepReport, error) {
	var rep SweepReport
	err := l.do("ledger.sweep", func(ob *outbox) error {
		var ferr error
		l.intents.Each(func(p *PendingIntent) bool {
			if !p.Ready || p.Sent {
				return true
			}
			rec, ok := l.records.Get(p.Record)
			if !ok {
				ferr = fault(errors.Errorf("intent %s points at missing record %s", p.CorrelationID, p.Record))
				return false
			}
			switch p.Kind {
			case schema.LegKindEntry:
				p.Ready = false
				p.Sent = true
				p.SentAt = now
				if rec.SubmittedAt.IsZero() {
					rec.SubmittedAt = now
				}
				ob.submit(p.CorrelationID, p.Action, p.Quantity)
				rep.Submitted++
			case schema.LegKindExit:
				if !rec.Supplemental.ForceExit || !rec.IsOpen() {
					return true
				}
				l.submitExitLocked(ob, rec, p, now)
				rep.ForceExits++
			}
			return true
		})
		if ferr != nil {
			return ferr
		}

		if l.cfg.ConfirmTimeout > 0 {
			l.records.Each(func(_ Handle, rec *Record) bool {
				if rec.EntryLeg != nil || rec.Supplemental.CancelRequested {
					return true
				}
				entry, ok := l.intents.Get(rec.EntryCorrelationID)
				if !ok || !entry.Sent || now.Sub(entry.SentAt) < l.cfg.ConfirmTimeout {
					return true
				}
				rec.Supplemental.CancelRequested = true
				l.metrics.Inc(obs.CounterConfirmTimeout)
				logs.Errorf("record %d entry %s unconfirmed after %s, cancelling", rec.ID, entry.CorrelationID, now.Sub(entry.SentAt))
				ob.cancel(entry.CorrelationID)
				rep.Timeouts++
				return true
			})
		}

		rep.Compacted = l.records.Compact()
		rep.Drained = l.intents.Drain()
		return nil
	})
	return rep, err
}

// Flatten closes everything it can: open records get a closing order, unsent entries are
// dropped and sent entries are cancelled. It keeps working after a fault and returns the
// number of closing orders submitted.
func (l *Ledger) Flatten(reason schema.ExitReason) int {
	var ob outbox
	n := 0

	l.mu.Lock()
	err := hfterrors.Guard("ledger.flatten", func() error {
		now := l.now()
		l.records.Each(func(_ Handle, rec *Record) bool {
			if rec.IsOpen() {
				exit, ok := l.intents.Get(rec.ExitCorrelationID)
				if !ok || exit.Sent {
					return true
				}
				if rec.Supplemental.ExitReason == schema.ExitReasonNone {
					rec.Supplemental.ExitReason = reason
				}
				l.submitExitLocked(&ob, rec, exit, now)
				n++
				return true
			}
			if rec.EntryLeg != nil {
				return true
			}
			entry, ok := l.intents.Get(rec.EntryCorrelationID)
			if !ok {
				return true
			}
			if !entry.Sent {
				l.releaseLocked(rec)
				return true
			}
			if !rec.Supplemental.CancelRequested {
				rec.Supplemental.CancelRequested = true
				ob.cancel(entry.CorrelationID)
			}
			return true
		})
		return nil
	})
	l.mu.Unlock()

	if err != nil {
		logs.Errorf("flatten: %v", err)
	}
	logs.Infof("flatten (%s): %d closing orders", reason, n)
	l.flush(ob)
	return n
}

// Faulted returns the fault that poisoned the ledger, if any.
func (l *Ledger) Faulted() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.faulted
}

// Stats returns realized and unrealized profit with record counts.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{Realized: l.realized, Closed: l.closed, Unrealized: decimal.Zero}
	l.records.Each(func(_ Handle, rec *Record) bool {
		if rec.IsOpen() {
			s.Open++
			s.Unrealized = s.Unrealized.Add(rec.Stats.RunningProfit)
		} else if rec.EntryLeg == nil {
			s.Pending++
		}
		return true
	})
	return s
}

// Record returns a copy of the live record at h.
func (l *Ledger) Record(h Handle) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records.Get(h)
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Records returns copies of every live record in slot order.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, 0, l.records.Len())
	l.records.Each(func(_ Handle, rec *Record) bool {
		out = append(out, *rec)
		return true
	})
	return out
}

// Intent returns a copy of the queued intent for correlationID.
func (l *Ledger) Intent(correlationID string) (PendingIntent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.intents.Get(correlationID)
	if !ok {
		return PendingIntent{}, false
	}
	return *p, true
}

// PendingIntents returns the number of queued intents, superseded ones included.
func (l *Ledger) PendingIntents() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.intents.Len()
}
