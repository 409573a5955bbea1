package intake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/obs"
	"hftcore/internal/schema"
	"hftcore/internal/signal"
	"hftcore/pkg/exception"
)

type recordingSink struct {
	got []schema.Signal
	err error
}

func (s *recordingSink) AddOrUpdateSignal(sig schema.Signal, _ time.Time) error {
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, sig)
	return nil
}

type fixedEvaluator struct {
	id    string
	emit  Emission
	calls int
}

func (f *fixedEvaluator) ID() string { return f.id }

func (f *fixedEvaluator) Evaluate(schema.MarketState) Emission {
	f.calls++
	return f.emit
}

type panicEvaluator struct{}

func (panicEvaluator) ID() string { return "PANIC" }

func (panicEvaluator) Evaluate(schema.MarketState) Emission { panic("index out of range") }

func TestNewRegistryValidation(t *testing.T) {
	ev := &fixedEvaluator{id: "A"}
	_, err := NewRegistry(Descriptor{ID: "A", Evaluator: ev}, Descriptor{ID: "A", Evaluator: ev})
	assert.ErrorIs(t, err, exception.ErrIntakeDuplicateID)

	_, err = NewRegistry(Descriptor{ID: "B"})
	assert.ErrorIs(t, err, exception.ErrIntakeNilEvaluator)

	_, err = NewRegistry(Descriptor{ID: "C", Evaluator: ev, DecayRate: 1.2})
	assert.ErrorIs(t, err, exception.ErrSignalInvalidDecay)

	r, err := NewRegistry(Descriptor{Evaluator: ev})
	require.NoError(t, err)
	d, ok := r.Lookup("A")
	require.True(t, ok)
	assert.Equal(t, "A", d.ID)
}

func TestDispatchOrderAndDefaults(t *testing.T) {
	first := &fixedEvaluator{id: "FIRST", emit: Emit(schema.Signal{Direction: schema.DirectionLong, Confidence: 1, InitialStrength: 10})}
	second := &fixedEvaluator{id: "SECOND", emit: Emit(schema.Signal{Name: "custom", Direction: schema.DirectionShort, Confidence: 1, InitialStrength: 5, DecayRate: 0.5})}
	silent := &fixedEvaluator{id: "SILENT", emit: NoSignal()}

	reg, err := NewRegistry(
		Descriptor{ID: "FIRST", Evaluator: first, DecayRate: 0.9, ContradictionTag: "fam"},
		Descriptor{ID: "SILENT", Evaluator: silent},
		Descriptor{ID: "SECOND", Evaluator: second, DecayRate: 0.8},
	)
	require.NoError(t, err)

	sink := &recordingSink{}
	rep := NewDispatcher(reg, sink, nil).Dispatch(schema.MarketState{Price: 1})

	assert.Equal(t, Report{Evaluated: 3, Emitted: 2}, rep)
	require.Len(t, sink.got, 2)
	assert.Equal(t, "FIRST", sink.got[0].Name)
	assert.Equal(t, 0.9, sink.got[0].DecayRate)
	assert.Equal(t, "fam", sink.got[0].ContradictionTag)
	assert.Equal(t, "custom", sink.got[1].Name)
	assert.Equal(t, 0.5, sink.got[1].DecayRate)
}

func TestDispatchMinTicks(t *testing.T) {
	ev := &fixedEvaluator{id: "WARM", emit: Emit(schema.Signal{Direction: schema.DirectionLong, Confidence: 1, InitialStrength: 10, DecayRate: 0.9})}
	reg, err := NewRegistry(Descriptor{ID: "WARM", Evaluator: ev, MinTicks: 3})
	require.NoError(t, err)

	sink := &recordingSink{}
	d := NewDispatcher(reg, sink, nil)
	for i := 0; i < 3; i++ {
		d.Dispatch(schema.MarketState{})
	}
	assert.Equal(t, 3, ev.calls, "evaluator is called during warm-up")
	assert.Len(t, sink.got, 1, "only the third tick is forwarded")
}

func TestDispatchRecoversPanics(t *testing.T) {
	after := &fixedEvaluator{id: "AFTER", emit: Emit(schema.Signal{Direction: schema.DirectionLong, Confidence: 1, InitialStrength: 10, DecayRate: 0.9})}
	reg, err := NewRegistry(Descriptor{Evaluator: panicEvaluator{}}, Descriptor{Evaluator: after})
	require.NoError(t, err)

	metrics := obs.NewMetrics()
	sink := &recordingSink{}
	var rep Report
	require.NotPanics(t, func() { rep = NewDispatcher(reg, sink, metrics).Dispatch(schema.MarketState{}) })
	assert.Equal(t, 1, rep.Panics)
	assert.Equal(t, 1, rep.Emitted)
	assert.Equal(t, uint64(1), metrics.Count(obs.CounterEvaluatorPanic))
}

func TestDispatchCountsRejections(t *testing.T) {
	ev := &fixedEvaluator{id: "BAD", emit: Emit(schema.Signal{Direction: schema.DirectionLong, Confidence: 2, InitialStrength: 10, DecayRate: 0.9})}
	reg, err := NewRegistry(Descriptor{Evaluator: ev})
	require.NoError(t, err)

	m, err := signal.NewManager(signal.DefaultConfig(), nil)
	require.NoError(t, err)
	rep := NewDispatcher(reg, m, nil).Dispatch(schema.MarketState{})
	assert.Equal(t, 1, rep.Rejected)
	assert.Equal(t, 0, m.Len())
}

func TestBreakoutEvaluator(t *testing.T) {
	b := NewBreakout(BreakoutConfig{Lookback: 3, InitialStrength: 80, DecayRate: 0.95})
	for _, p := range []float64{100, 101, 100.5} {
		assert.False(t, b.Evaluate(schema.MarketState{Price: p, TickSize: 0.25}).OK)
	}
	assert.False(t, b.Evaluate(schema.MarketState{Price: 100.75, TickSize: 0.25}).OK, "inside channel")

	em := b.Evaluate(schema.MarketState{Price: 101.5, TickSize: 0.25})
	require.True(t, em.OK)
	assert.Equal(t, schema.DirectionLong, em.Signal.Direction)
	assert.InDelta(t, 0.7, em.Signal.Confidence, 1e-9)
	assert.Equal(t, 80.0, em.Signal.InitialStrength)

	em = b.Evaluate(schema.MarketState{Price: 99, TickSize: 0.25})
	require.True(t, em.OK)
	assert.Equal(t, schema.DirectionShort, em.Signal.Direction)
	assert.Equal(t, 1.0, em.Signal.Confidence)
}

func TestCrossoverEvaluator(t *testing.T) {
	c := NewCrossover(CrossoverConfig{FastPeriod: 2, SlowPeriod: 4, InitialStrength: 60})
	assert.False(t, c.Evaluate(schema.MarketState{Price: 100}).OK)

	em := c.Evaluate(schema.MarketState{Price: 102})
	require.True(t, em.OK)
	assert.Equal(t, schema.DirectionLong, em.Signal.Direction)
	assert.Equal(t, "crossover", em.Signal.ContradictionTag)

	assert.False(t, c.Evaluate(schema.MarketState{Price: 103}).OK, "no new cross")

	var short Emission
	for _, p := range []float64{98, 95, 92} {
		if em := c.Evaluate(schema.MarketState{Price: p}); em.OK {
			short = em
			break
		}
	}
	require.True(t, short.OK)
	assert.Equal(t, schema.DirectionShort, short.Signal.Direction)
}

func TestDefaultRegistryFeedsManager(t *testing.T) {
	reg, err := DefaultRegistry(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	m, err := signal.NewManager(signal.DefaultConfig(), nil)
	require.NoError(t, err)
	d := NewDispatcher(reg, m, nil)

	price := 5000.0
	for i := 0; i < 40; i++ {
		price += 0.25
		d.Dispatch(schema.MarketState{Price: price, TickSize: 0.25, Timestamp: time.Unix(int64(i), 0)})
	}
	_, ok := m.Get("BREAKOUT", schema.DirectionLong)
	assert.True(t, ok, "steady climb breaks the channel every tick")
}
