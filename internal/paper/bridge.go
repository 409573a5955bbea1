package paper

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"hftcore/internal/chaos"
	"hftcore/internal/og"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// Receiver is the notification side of the engine.
type Receiver interface {
	OnStateTransition(schema.StateTransition) error
	OnFillConfirmation(schema.FillConfirmation) error
	OnUnified(schema.PairedEvent) error
}

// Config controls the simulated broker.
type Config struct {
	Unified       bool          `json:"unified"`
	FillDelay     time.Duration `json:"fillDelay"`
	RejectRate    float64       `json:"rejectRate"`
	SlippageTicks int           `json:"slippageTicks"`
	TickSize      float64       `json:"tickSize"`
	Seed          int64         `json:"seed"`
	Chaos         chaos.Config  `json:"chaos"`

	// OutageEvery takes order entry offline for the last OutageMarks of every OutageEvery marks.
	OutageEvery int `json:"outageEvery"`
	OutageMarks int `json:"outageMarks"`
}

type order struct {
	action schema.OrderAction
	qty    schema.Quantity
	state  schema.OrderState
}

// Bridge fills every leg at the last marked price, delivering notifications on background
// goroutines the way a live broker callback thread would.
type Bridge struct {
	cfg Config
	wg  sync.WaitGroup

	mu       sync.Mutex
	rng      *rand.Rand
	chaos    *chaos.Injector[og.Notification]
	receiver Receiver
	price    float64
	orders   map[string]*order
	execSeq  uint64
	marks    int
	offline  bool
	closed   bool
}

// New validates cfg. Chaos is applied only in split mode.
func New(cfg Config) (*Bridge, error) {
	if cfg.RejectRate < 0 || cfg.RejectRate > 1 {
		return nil, errors.Wrapf(exception.ErrConfigInvalid, "paper reject rate %v", cfg.RejectRate)
	}
	if cfg.FillDelay < 0 || cfg.SlippageTicks < 0 {
		return nil, errors.Wrapf(exception.ErrConfigInvalid, "paper delay %s slippage %d", cfg.FillDelay, cfg.SlippageTicks)
	}
	if cfg.OutageEvery < 0 || cfg.OutageMarks < 0 || (cfg.OutageMarks > 0 && cfg.OutageMarks >= cfg.OutageEvery) {
		return nil, errors.Wrapf(exception.ErrConfigInvalid, "paper outage %d of every %d marks", cfg.OutageMarks, cfg.OutageEvery)
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	b := &Bridge{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		orders: make(map[string]*order),
	}
	if cfg.Chaos.Enabled() && !cfg.Unified {
		inj, err := chaos.NewInjector[og.Notification](cfg.Chaos)
		if err != nil {
			return nil, err
		}
		b.chaos = inj
		logs.Infof("paper bridge chaos enabled (seed %d)", inj.Seed())
	}
	return b, nil
}

// Attach sets the receiver. It must be called before the first SubmitLeg.
func (b *Bridge) Attach(r Receiver) {
	b.mu.Lock()
	b.receiver = r
	b.mu.Unlock()
}

// Mark records the price used for the next fills and advances the outage schedule.
func (b *Bridge) Mark(price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.price = price
	if b.cfg.OutageMarks == 0 {
		return
	}
	b.marks++
	offline := b.marks%b.cfg.OutageEvery >= b.cfg.OutageEvery-b.cfg.OutageMarks
	if offline != b.offline {
		logs.Infof("paper bridge order entry online=%v after %d marks", !offline, b.marks)
	}
	b.offline = offline
}

// Online reports whether order entry is accepting legs.
func (b *Bridge) Online() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed && !b.offline
}

func (b *Bridge) SubmitLeg(correlationID string, action schema.OrderAction, qty schema.Quantity) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.closed || b.offline:
		return exception.ErrOrderGatewayOffline
	case b.receiver == nil:
		return errors.Wrap(exception.ErrOrderNilHandler, "paper bridge has no receiver")
	case action == schema.OrderActionUnknown:
		return errors.Wrapf(exception.ErrOrderUnsupportedAction, "%s", action)
	}
	if _, ok := b.orders[correlationID]; ok {
		return errors.Wrapf(exception.ErrOrderDuplicateLeg, "%s", correlationID)
	}
	o := &order{action: action, qty: qty, state: schema.OrderStateSubmitted}
	b.orders[correlationID] = o

	now := time.Now().UTC()
	b.emitLocked(og.StateNotification(schema.StateTransition{
		CorrelationID: correlationID, State: schema.OrderStateAccepted, Quantity: qty, Time: now,
	}))

	reject := b.cfg.RejectRate > 0 && b.rng.Float64() < b.cfg.RejectRate
	b.wg.Add(1)
	go b.work(correlationID, reject)
	return nil
}

func (b *Bridge) CancelLeg(correlationID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.offline {
		return exception.ErrOrderGatewayOffline
	}
	o, ok := b.orders[correlationID]
	if !ok {
		return errors.Wrapf(exception.ErrOrderUnknownLeg, "%s", correlationID)
	}
	switch o.state {
	case schema.OrderStateFilled, schema.OrderStateCancelled, schema.OrderStateRejected:
		return nil
	}
	o.state = schema.OrderStateCancelled
	b.emitLocked(og.StateNotification(schema.StateTransition{
		CorrelationID: correlationID, State: schema.OrderStateCancelled, Quantity: o.qty, Time: time.Now().UTC(),
	}))
	return nil
}

func (b *Bridge) work(id string, reject bool) {
	defer b.wg.Done()
	if b.cfg.FillDelay > 0 {
		time.Sleep(b.cfg.FillDelay)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	o := b.orders[id]
	if o.state != schema.OrderStateSubmitted {
		return
	}
	now := time.Now().UTC()
	if reject {
		o.state = schema.OrderStateRejected
		b.emitLocked(og.StateNotification(schema.StateTransition{
			CorrelationID: id, State: schema.OrderStateRejected, Quantity: o.qty, Time: now, Error: "paper: random reject",
		}))
		return
	}

	o.state = schema.OrderStateFilled
	b.execSeq++
	st := schema.StateTransition{CorrelationID: id, State: schema.OrderStateFilled, Quantity: o.qty, Filled: o.qty, Time: now}
	fill := schema.FillConfirmation{
		CorrelationID: id,
		ExecutionID:   fmt.Sprintf("paper-%d", b.execSeq),
		Price:         b.fillPrice(o.action),
		Quantity:      o.qty,
		Time:          now,
	}
	if b.cfg.Unified {
		b.deliverLocked(0, []og.Notification{{State: &st, Fill: &fill}})
		return
	}
	// broker callbacks do not promise which half lands first
	if b.rng.Intn(2) == 0 {
		b.emitLocked(og.FillNotification(fill))
		b.emitLocked(og.StateNotification(st))
	} else {
		b.emitLocked(og.StateNotification(st))
		b.emitLocked(og.FillNotification(fill))
	}
}

func (b *Bridge) fillPrice(action schema.OrderAction) float64 {
	slip := float64(b.cfg.SlippageTicks) * b.cfg.TickSize
	switch action {
	case schema.OrderActionBuy, schema.OrderActionBuyToCover:
		return b.price + slip
	default:
		return b.price - slip
	}
}

// emitLocked passes n through the chaos injector and schedules whatever it releases.
func (b *Bridge) emitLocked(n og.Notification) {
	out := b.chaos.Process(n)
	if len(out) == 0 {
		return
	}
	b.deliverLocked(b.chaos.Delay(), out)
}

func (b *Bridge) deliverLocked(delay time.Duration, batch []og.Notification) {
	r := b.receiver
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if delay > 0 {
			time.Sleep(delay)
		}
		for _, n := range batch {
			if err := deliver(r, n); err != nil {
				logs.Infof("paper notification %s: %v", n.CorrelationID(), err)
			}
		}
	}()
}

func deliver(r Receiver, n og.Notification) error {
	switch {
	case n.State != nil && n.Fill != nil:
		return r.OnUnified(schema.PairedEvent{CorrelationID: n.CorrelationID(), State: n.State, Fill: n.Fill})
	case n.State != nil:
		return r.OnStateTransition(*n.State)
	default:
		return r.OnFillConfirmation(*n.Fill)
	}
}

// Flush releases notifications the chaos injector is still holding back.
func (b *Bridge) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if out := b.chaos.Flush(); len(out) > 0 {
		b.deliverLocked(0, out)
	}
}

// Close stops accepting legs and waits for every scheduled delivery.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
	b.Flush()
	b.wg.Wait()
}

// Stats returns the chaos counters.
func (b *Bridge) Stats() chaos.Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chaos.Stats()
}
