package og

import (
	"sort"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"hftcore/internal/obs"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// Mode selects how broker notifications reach the synchronizer.
type Mode uint8

const (
	// ModeSplit pairs separately delivered state-transition and fill-confirmation halves.
	ModeSplit Mode = iota
	// ModeUnified accepts notifications that already carry both halves.
	ModeUnified
)

func (m Mode) String() string {
	if m == ModeUnified {
		return "unified"
	}
	return "split"
}

// ParseMode maps "split"/"unified".
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", "split":
		return ModeSplit, true
	case "unified":
		return ModeUnified, true
	default:
		return ModeSplit, false
	}
}

const (
	defaultOrphanWindow = 10 * time.Second
	defaultRetention    = 10 * time.Minute
)

// SyncConfig controls pairing and orphan detection.
type SyncConfig struct {
	Mode         Mode
	OrphanWindow time.Duration
	Retention    time.Duration
	Now          func() time.Time
}

func (c SyncConfig) withDefaults() SyncConfig {
	if c.OrphanWindow <= 0 {
		c.OrphanWindow = defaultOrphanWindow
	}
	if c.Retention <= 0 {
		c.Retention = defaultRetention
	}
	if c.Retention < c.OrphanWindow {
		c.Retention = c.OrphanWindow
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Handlers receive synchronizer output. Both are called without any synchronizer lock held.
type Handlers struct {
	// OnLegState receives non-fill state transitions (submitted, working, part-filled, cancelled, rejected).
	OnLegState func(schema.StateTransition)
	// OnPaired receives each completed pair exactly once.
	OnPaired func(schema.PairedEvent)
}

type slot struct {
	state    *schema.StateTransition
	fill     *schema.FillConfirmation
	execIDs  map[string]struct{}
	first    time.Time
	reported bool
}

// complete reports whether the stored fill quantity covers the filled state.
func (s *slot) complete() bool {
	if s.state == nil || s.fill == nil {
		return false
	}
	want := s.state.Filled
	if want <= 0 {
		want = s.state.Quantity
	}
	return s.fill.Quantity >= want
}

// SyncReport is returned by Sweep.
type SyncReport struct {
	Orphans []string
	Pruned  int
	Pending int
}

// Synchronizer turns the two broker notification streams into exactly-once paired events.
type Synchronizer struct {
	cfg      SyncConfig
	handlers Handlers
	metrics  *obs.Metrics

	mu        sync.Mutex
	slots     map[string]*slot
	completed map[string]time.Time
}

// NewSynchronizer builds a synchronizer. Both handlers are required.
func NewSynchronizer(cfg SyncConfig, handlers Handlers, metrics *obs.Metrics) (*Synchronizer, error) {
	if handlers.OnLegState == nil || handlers.OnPaired == nil {
		return nil, exception.ErrOrderNilHandler
	}
	return &Synchronizer{
		cfg:       cfg.withDefaults(),
		handlers:  handlers,
		metrics:   metrics,
		slots:     make(map[string]*slot),
		completed: make(map[string]time.Time),
	}, nil
}

// Mode returns the configured mode.
func (s *Synchronizer) Mode() Mode {
	return s.cfg.Mode
}

// OnStateTransition accepts the order-state half.
func (s *Synchronizer) OnStateTransition(st schema.StateTransition) error {
	if st.CorrelationID == "" {
		return exception.ErrOrderEmptyCorrelation
	}

	if st.State != schema.OrderStateFilled {
		s.mu.Lock()
		_, done := s.completed[st.CorrelationID]
		s.mu.Unlock()
		if done {
			return s.anomaly(exception.ErrOrderAlreadyPaired, obs.CounterAlreadyPaired, st.CorrelationID, "state "+st.State.String())
		}
		s.handlers.OnLegState(st)
		return nil
	}

	if s.cfg.Mode != ModeSplit {
		return errors.Wrapf(exception.ErrOrderWrongMode, "filled state for %s in %s mode", st.CorrelationID, s.cfg.Mode)
	}

	s.mu.Lock()
	if _, done := s.completed[st.CorrelationID]; done {
		s.mu.Unlock()
		return s.anomaly(exception.ErrOrderAlreadyPaired, obs.CounterAlreadyPaired, st.CorrelationID, "filled state")
	}
	sl := s.slotLocked(st.CorrelationID)
	if sl.state != nil {
		s.mu.Unlock()
		return s.anomaly(exception.ErrOrderDuplicateHalf, obs.CounterDuplicateHalf, st.CorrelationID, "filled state")
	}
	cp := st
	sl.state = &cp
	pe, ok := s.consumeLocked(st.CorrelationID, sl)
	s.mu.Unlock()

	if ok {
		s.handlers.OnPaired(pe)
	}
	return nil
}

// OnFillConfirmation accepts the execution half. Executions with distinct ids for the same
// correlation are merged into one volume-weighted fill.
func (s *Synchronizer) OnFillConfirmation(fill schema.FillConfirmation) error {
	if fill.CorrelationID == "" {
		return exception.ErrOrderEmptyCorrelation
	}
	if s.cfg.Mode != ModeSplit {
		return errors.Wrapf(exception.ErrOrderWrongMode, "fill for %s in %s mode", fill.CorrelationID, s.cfg.Mode)
	}
	if fill.Quantity <= 0 {
		return errors.Wrapf(exception.ErrOrderInvalidFill, "correlation: %s, quantity: %d", fill.CorrelationID, fill.Quantity)
	}

	s.mu.Lock()
	if _, done := s.completed[fill.CorrelationID]; done {
		s.mu.Unlock()
		return s.anomaly(exception.ErrOrderAlreadyPaired, obs.CounterAlreadyPaired, fill.CorrelationID, "fill "+fill.ExecutionID)
	}
	sl := s.slotLocked(fill.CorrelationID)
	if sl.fill != nil {
		_, seen := sl.execIDs[fill.ExecutionID]
		if fill.ExecutionID == "" || seen {
			s.mu.Unlock()
			return s.anomaly(exception.ErrOrderDuplicateHalf, obs.CounterDuplicateHalf, fill.CorrelationID, "fill "+fill.ExecutionID)
		}
		sl.fill = mergeFill(*sl.fill, fill)
	} else {
		cp := fill
		sl.fill = &cp
	}
	sl.execIDs[fill.ExecutionID] = struct{}{}
	pe, ok := s.consumeLocked(fill.CorrelationID, sl)
	s.mu.Unlock()

	if ok {
		s.handlers.OnPaired(pe)
	}
	return nil
}

// OnUnified forwards a notification that already carries both halves, once per correlation id.
// A unified notification whose state is not filled is routed as a plain state transition.
func (s *Synchronizer) OnUnified(pe schema.PairedEvent) error {
	if s.cfg.Mode != ModeUnified {
		return errors.Wrapf(exception.ErrOrderWrongMode, "unified %s in %s mode", pe.CorrelationID, s.cfg.Mode)
	}
	if pe.CorrelationID == "" {
		return exception.ErrOrderEmptyCorrelation
	}
	if pe.State != nil && pe.State.State != schema.OrderStateFilled {
		st := *pe.State
		st.CorrelationID = pe.CorrelationID
		return s.OnStateTransition(st)
	}
	if pe.Fill == nil || pe.Fill.Quantity <= 0 {
		return errors.Wrapf(exception.ErrOrderInvalidFill, "unified %s without a positive fill", pe.CorrelationID)
	}

	s.mu.Lock()
	if _, done := s.completed[pe.CorrelationID]; done {
		s.mu.Unlock()
		return s.anomaly(exception.ErrOrderAlreadyPaired, obs.CounterAlreadyPaired, pe.CorrelationID, "unified")
	}
	s.completed[pe.CorrelationID] = s.cfg.Now()
	s.mu.Unlock()

	s.handlers.OnPaired(pe)
	return nil
}

// Sweep reports slots holding a single half for longer than the orphan window, once each,
// and forgets completed correlation ids older than the retention.
func (s *Synchronizer) Sweep(now time.Time) SyncReport {
	var rep SyncReport
	s.mu.Lock()
	for id, sl := range s.slots {
		if !sl.reported && now.Sub(sl.first) >= s.cfg.OrphanWindow {
			sl.reported = true
			rep.Orphans = append(rep.Orphans, id)
		}
	}
	for id, at := range s.completed {
		if now.Sub(at) >= s.cfg.Retention {
			delete(s.completed, id)
			rep.Pruned++
		}
	}
	rep.Pending = len(s.slots)
	s.mu.Unlock()

	sort.Strings(rep.Orphans)
	for _, id := range rep.Orphans {
		s.metrics.Inc(obs.CounterOrphan)
		logs.Errorf("pairing orphan: correlation %s has waited more than %s for its other half", id, s.cfg.OrphanWindow)
	}
	return rep
}

// Pending returns the number of half-filled slots.
func (s *Synchronizer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// Completed reports whether id has already been forwarded.
func (s *Synchronizer) Completed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.completed[id]
	return ok
}

func (s *Synchronizer) slotLocked(id string) *slot {
	sl, ok := s.slots[id]
	if !ok {
		sl = &slot{execIDs: make(map[string]struct{}, 1), first: s.cfg.Now()}
		s.slots[id] = sl
	}
	return sl
}

func (s *Synchronizer) consumeLocked(id string, sl *slot) (schema.PairedEvent, bool) {
	if !sl.complete() {
		return schema.PairedEvent{}, false
	}
	now := s.cfg.Now()
	delete(s.slots, id)
	s.completed[id] = now
	s.metrics.ObservePairing(now.Sub(sl.first))
	return schema.PairedEvent{CorrelationID: id, State: sl.state, Fill: sl.fill}, true
}

func (s *Synchronizer) anomaly(err error, c obs.Counter, id, what string) error {
	s.metrics.Inc(c)
	logs.Errorf("notification anomaly: %s for correlation %s dropped (%v)", what, id, err)
	return errors.Wrapf(err, "correlation: %s", id)
}

func mergeFill(prev, next schema.FillConfirmation) *schema.FillConfirmation {
	total := prev.Quantity + next.Quantity
	merged := next
	merged.Quantity = total
	merged.Price = (prev.Price*float64(prev.Quantity) + next.Price*float64(next.Quantity)) / float64(total)
	if prev.Time.After(next.Time) {
		merged.Time = prev.Time
	}
	if merged.MarketPosition == schema.DirectionUnknown {
		merged.MarketPosition = prev.MarketPosition
	}
	return &merged
}
