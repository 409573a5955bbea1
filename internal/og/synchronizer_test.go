package og

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/obs"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type capture struct {
	mu     sync.Mutex
	states []schema.StateTransition
	paired []schema.PairedEvent
}

func (c *capture) handlers() Handlers {
	return Handlers{
		OnLegState: func(st schema.StateTransition) {
			c.mu.Lock()
			c.states = append(c.states, st)
			c.mu.Unlock()
		},
		OnPaired: func(pe schema.PairedEvent) {
			c.mu.Lock()
			c.paired = append(c.paired, pe)
			c.mu.Unlock()
		},
	}
}

func (c *capture) pairedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.paired)
}

func newTestSync(t *testing.T, mode Mode) (*Synchronizer, *capture, *fakeClock, *obs.Metrics) {
	t.Helper()
	clock := newFakeClock()
	c := &capture{}
	metrics := obs.NewMetrics()
	s, err := NewSynchronizer(SyncConfig{Mode: mode, OrphanWindow: 5 * time.Second, Retention: time.Minute, Now: clock.Now}, c.handlers(), metrics)
	require.NoError(t, err)
	return s, c, clock, metrics
}

func filledState(id string, qty schema.Quantity) schema.StateTransition {
	return schema.StateTransition{CorrelationID: id, State: schema.OrderStateFilled, Quantity: qty, Filled: qty}
}

func fillHalf(id, exec string, price float64, qty schema.Quantity) schema.FillConfirmation {
	return schema.FillConfirmation{CorrelationID: id, ExecutionID: exec, Price: price, Quantity: qty, MarketPosition: schema.DirectionLong}
}

func TestNewSynchronizerRequiresHandlers(t *testing.T) {
	_, err := NewSynchronizer(SyncConfig{}, Handlers{OnPaired: func(schema.PairedEvent) {}}, nil)
	assert.ErrorIs(t, err, exception.ErrOrderNilHandler)
}

func TestPairingCommutativity(t *testing.T) {
	st := filledState("E1", 2)
	fill := fillHalf("E1", "x1", 100, 2)

	s1, c1, _, _ := newTestSync(t, ModeSplit)
	require.NoError(t, s1.OnStateTransition(st))
	assert.Equal(t, 0, c1.pairedCount())
	require.NoError(t, s1.OnFillConfirmation(fill))

	s2, c2, _, _ := newTestSync(t, ModeSplit)
	require.NoError(t, s2.OnFillConfirmation(fill))
	assert.Equal(t, 0, c2.pairedCount())
	require.NoError(t, s2.OnStateTransition(st))

	require.Len(t, c1.paired, 1)
	require.Len(t, c2.paired, 1)
	a, b := c1.paired[0], c2.paired[0]
	assert.Equal(t, a.CorrelationID, b.CorrelationID)
	assert.Equal(t, *a.State, *b.State)
	assert.Equal(t, *a.Fill, *b.Fill)
	assert.True(t, a.Complete())
	assert.Equal(t, 0, s1.Pending())
	assert.True(t, s1.Completed("E1"))
}

func TestDuplicateHalvesDropped(t *testing.T) {
	s, c, _, metrics := newTestSync(t, ModeSplit)

	require.NoError(t, s.OnStateTransition(filledState("E2", 1)))
	assert.ErrorIs(t, s.OnStateTransition(filledState("E2", 1)), exception.ErrOrderDuplicateHalf)
	require.NoError(t, s.OnFillConfirmation(fillHalf("E2", "x1", 50, 1)))
	assert.ErrorIs(t, s.OnFillConfirmation(fillHalf("E2", "x1", 50, 1)), exception.ErrOrderAlreadyPaired)
	assert.ErrorIs(t, s.OnStateTransition(filledState("E2", 1)), exception.ErrOrderAlreadyPaired)

	assert.Equal(t, 1, c.pairedCount())
	assert.Equal(t, uint64(1), metrics.Count(obs.CounterDuplicateHalf))
	assert.Equal(t, uint64(2), metrics.Count(obs.CounterAlreadyPaired))

	// a repeated fill half on a pending slot never overwrites the first one
	require.NoError(t, s.OnFillConfirmation(fillHalf("E3", "y1", 10, 1)))
	assert.ErrorIs(t, s.OnFillConfirmation(fillHalf("E3", "y1", 99, 1)), exception.ErrOrderDuplicateHalf)
	require.NoError(t, s.OnStateTransition(filledState("E3", 1)))
	require.Equal(t, 2, c.pairedCount())
	assert.Equal(t, 10.0, c.paired[1].Fill.Price)
}

func TestNonFillStatesForwarded(t *testing.T) {
	s, c, _, _ := newTestSync(t, ModeSplit)
	for _, state := range []schema.OrderState{schema.OrderStateSubmitted, schema.OrderStateWorking, schema.OrderStatePartFilled, schema.OrderStateRejected} {
		require.NoError(t, s.OnStateTransition(schema.StateTransition{CorrelationID: "L1", State: state}))
	}
	assert.Len(t, c.states, 4)
	assert.Equal(t, 0, s.Pending())

	require.NoError(t, s.OnStateTransition(filledState("L2", 1)))
	require.NoError(t, s.OnFillConfirmation(fillHalf("L2", "z", 1, 1)))
	assert.ErrorIs(t, s.OnStateTransition(schema.StateTransition{CorrelationID: "L2", State: schema.OrderStateCancelled}), exception.ErrOrderAlreadyPaired)
	assert.Len(t, c.states, 4)
}

func TestPartialExecutionsMerge(t *testing.T) {
	s, c, _, _ := newTestSync(t, ModeSplit)
	require.NoError(t, s.OnFillConfirmation(fillHalf("P1", "a", 100, 1)))
	require.NoError(t, s.OnStateTransition(filledState("P1", 3)))
	assert.Equal(t, 0, c.pairedCount(), "one of three contracts filled")

	require.NoError(t, s.OnFillConfirmation(fillHalf("P1", "b", 103, 2)))
	require.Equal(t, 1, c.pairedCount())
	fill := c.paired[0].Fill
	assert.Equal(t, schema.Quantity(3), fill.Quantity)
	assert.InDelta(t, 102.0, fill.Price, 1e-9)
}

func TestNonPositiveFillRejected(t *testing.T) {
	s, c, _, _ := newTestSync(t, ModeSplit)
	assert.ErrorIs(t, s.OnFillConfirmation(fillHalf("Z1", "a", 100, 0)), exception.ErrOrderInvalidFill)
	assert.ErrorIs(t, s.OnFillConfirmation(fillHalf("Z1", "b", 100, -1)), exception.ErrOrderInvalidFill)
	assert.Equal(t, 0, s.Pending())

	require.NoError(t, s.OnStateTransition(filledState("Z1", 1)))
	assert.ErrorIs(t, s.OnFillConfirmation(fillHalf("Z1", "c", 100, 0)), exception.ErrOrderInvalidFill)
	require.NoError(t, s.OnFillConfirmation(fillHalf("Z1", "d", 101, 1)))
	require.Equal(t, 1, c.pairedCount())
	assert.Equal(t, 101.0, c.paired[0].Fill.Price)

	u, _, _, _ := newTestSync(t, ModeUnified)
	st := filledState("Z2", 1)
	zero := fillHalf("Z2", "e", 100, 0)
	assert.ErrorIs(t, u.OnUnified(schema.PairedEvent{CorrelationID: "Z2", State: &st, Fill: &zero}), exception.ErrOrderInvalidFill)
}

func TestUnifiedMode(t *testing.T) {
	s, c, _, _ := newTestSync(t, ModeUnified)
	st := filledState("U1", 1)
	fill := fillHalf("U1", "u", 10, 1)

	require.NoError(t, s.OnUnified(schema.PairedEvent{CorrelationID: "U1", State: &st, Fill: &fill}))
	assert.ErrorIs(t, s.OnUnified(schema.PairedEvent{CorrelationID: "U1", State: &st, Fill: &fill}), exception.ErrOrderAlreadyPaired)
	assert.Equal(t, 1, c.pairedCount())

	working := schema.StateTransition{State: schema.OrderStateWorking}
	require.NoError(t, s.OnUnified(schema.PairedEvent{CorrelationID: "U2", State: &working}))
	require.Len(t, c.states, 1)
	assert.Equal(t, "U2", c.states[0].CorrelationID)

	assert.ErrorIs(t, s.OnFillConfirmation(fill), exception.ErrOrderWrongMode)
	assert.ErrorIs(t, s.OnUnified(schema.PairedEvent{CorrelationID: "U3"}), exception.ErrOrderInvalidFill)

	split, _, _, _ := newTestSync(t, ModeSplit)
	assert.ErrorIs(t, split.OnUnified(schema.PairedEvent{CorrelationID: "U1", State: &st, Fill: &fill}), exception.ErrOrderWrongMode)
}

func TestSweepOrphansAndRetention(t *testing.T) {
	s, _, clock, metrics := newTestSync(t, ModeSplit)
	require.NoError(t, s.OnStateTransition(filledState("O1", 1)))
	require.NoError(t, s.OnStateTransition(filledState("C1", 1)))
	require.NoError(t, s.OnFillConfirmation(fillHalf("C1", "c", 1, 1)))

	rep := s.Sweep(clock.Now().Add(time.Second))
	assert.Empty(t, rep.Orphans)
	assert.Equal(t, 1, rep.Pending)

	clock.Advance(6 * time.Second)
	rep = s.Sweep(clock.Now())
	assert.Equal(t, []string{"O1"}, rep.Orphans)
	rep = s.Sweep(clock.Now())
	assert.Empty(t, rep.Orphans, "orphans are reported once")
	assert.Equal(t, uint64(1), metrics.Count(obs.CounterOrphan))

	// a late half still completes an orphaned slot
	require.NoError(t, s.OnFillConfirmation(fillHalf("O1", "o", 1, 1)))
	assert.Equal(t, 0, s.Pending())

	clock.Advance(time.Minute)
	rep = s.Sweep(clock.Now())
	assert.Equal(t, 2, rep.Pruned)
	assert.False(t, s.Completed("C1"))
}

func TestHandlerRunsOutsideLock(t *testing.T) {
	var s *Synchronizer
	done := make(chan struct{})
	h := Handlers{
		OnLegState: func(schema.StateTransition) {},
		OnPaired: func(pe schema.PairedEvent) {
			_ = s.Pending()
			_ = s.OnFillConfirmation(fillHalf(pe.CorrelationID, "again", 1, 1))
			close(done)
		},
	}
	var err error
	s, err = NewSynchronizer(SyncConfig{}, h, nil)
	require.NoError(t, err)

	require.NoError(t, s.OnStateTransition(filledState("R1", 1)))
	require.NoError(t, s.OnFillConfirmation(fillHalf("R1", "r", 1, 1)))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("handler deadlocked on the synchronizer lock")
	}
}

func TestConcurrentDeliveryPairsExactlyOnce(t *testing.T) {
	s, c, _, _ := newTestSync(t, ModeSplit)
	const n = 200

	type delivery func() error
	var work []delivery
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("C%03d", i)
		st, fill := filledState(id, 1), fillHalf(id, "x"+id, 100, 1)
		work = append(work,
			func() error { return s.OnStateTransition(st) },
			func() error { return s.OnFillConfirmation(fill) },
			func() error { return s.OnFillConfirmation(fill) },
		)
	}
	rand.New(rand.NewSource(7)).Shuffle(len(work), func(i, j int) { work[i], work[j] = work[j], work[i] })

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < len(work); i += 8 {
				_ = work[i]()
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, n, c.pairedCount())
	seen := make(map[string]bool, n)
	for _, pe := range c.paired {
		require.False(t, seen[pe.CorrelationID], "paired twice: %s", pe.CorrelationID)
		seen[pe.CorrelationID] = true
	}
	assert.Equal(t, 0, s.Pending())
}
