package signal

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/obs"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

var (
	t0      = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	neutral = schema.MarketState{Symbol: "ES", Price: 5000, TickSize: 0.25, PointValue: 50, Volatility: 1}
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *obs.Metrics) {
	t.Helper()
	metrics := obs.NewMetrics()
	m, err := NewManager(cfg, metrics)
	require.NoError(t, err)
	return m, metrics
}

func breakout(dir schema.Direction) schema.Signal {
	return schema.Signal{
		Name:            "BREAKOUT",
		Direction:       dir,
		Confidence:      1.0,
		InitialStrength: 80,
		DecayRate:       0.95,
	}
}

func TestRefreshResetsStrengthAndAge(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	sig := breakout(schema.DirectionLong)
	sig.Confidence = 0.8

	require.NoError(t, m.AddOrUpdateSignal(sig, t0))
	for i := 0; i < 3; i++ {
		m.OnTick(neutral)
	}
	a, ok := m.Get("BREAKOUT", schema.DirectionLong)
	require.True(t, ok)
	assert.Equal(t, 3, a.BarsSinceFired)

	require.NoError(t, m.AddOrUpdateSignal(sig, t0.Add(3*time.Second)))
	a, _ = m.Get("BREAKOUT", schema.DirectionLong)
	assert.Equal(t, 0, a.BarsSinceFired)
	assert.InDelta(t, 64.0, a.CurrentStrength, 1e-9)

	// refreshing twice in a row is idempotent
	require.NoError(t, m.AddOrUpdateSignal(sig, t0.Add(4*time.Second)))
	b, _ := m.Get("BREAKOUT", schema.DirectionLong)
	assert.Equal(t, a.CurrentStrength, b.CurrentStrength)
	assert.Equal(t, 1, m.Len())
}

func TestAccumulationCap(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	sig := schema.Signal{
		Name:            "VOLUME",
		Direction:       schema.DirectionShort,
		Confidence:      1,
		InitialStrength: 40,
		DecayRate:       0.9,
		Accumulates:     true,
	}

	for n := 0; n < 10; n++ {
		require.NoError(t, m.AddOrUpdateSignal(sig, t0))
		a, _ := m.Get("VOLUME", schema.DirectionShort)
		if a.CurrentStrength > 1.5*sig.InitialStrength+1e-9 {
			t.Fatalf("strength mismatch after %d fires: got %v want <= %v", n+1, a.CurrentStrength, 1.5*sig.InitialStrength)
		}
	}
	a, _ := m.Get("VOLUME", schema.DirectionShort)
	assert.InDelta(t, 60.0, a.CurrentStrength, 1e-9)

	sig.Name = "CAPPED"
	sig.StrengthCap = 50
	for n := 0; n < 4; n++ {
		require.NoError(t, m.AddOrUpdateSignal(sig, t0))
	}
	a, _ = m.Get("CAPPED", schema.DirectionShort)
	assert.InDelta(t, 50.0, a.CurrentStrength, 1e-9)
}

func TestAccumulationKeepsAge(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	sig := schema.Signal{
		Name:            "VOLUME",
		Direction:       schema.DirectionLong,
		Confidence:      1,
		InitialStrength: 40,
		DecayRate:       0.9,
		Accumulates:     true,
	}

	require.NoError(t, m.AddOrUpdateSignal(sig, t0))
	m.OnTick(neutral)
	m.OnTick(neutral)
	require.NoError(t, m.AddOrUpdateSignal(sig, t0.Add(2*time.Second)))

	a, ok := m.Get("VOLUME", schema.DirectionLong)
	require.True(t, ok)
	assert.Equal(t, 2, a.BarsSinceFired)
	assert.InDelta(t, 60.0, a.CurrentStrength, 1e-9)
}

func TestDecayMonotonicWithNeutralMultiplier(t *testing.T) {
	m, _ := newTestManager(t, Config{EntryThreshold: 100, MinStrength: 1e-9})
	require.NoError(t, m.AddOrUpdateSignal(breakout(schema.DirectionLong), t0))

	prev := math.Inf(1)
	for i := 0; i < 50; i++ {
		a, ok := m.Get("BREAKOUT", schema.DirectionLong)
		require.True(t, ok)
		cur := m.DecayedStrength(&a, neutral)
		if cur > prev {
			t.Fatalf("decay mismatch at bar %d: got %v want <= %v", i, cur, prev)
		}
		prev = cur
		m.OnTick(neutral)
	}
}

func TestBreakoutDecayScenario(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	require.NoError(t, m.AddOrUpdateSignal(breakout(schema.DirectionLong), t0))

	a, _ := m.Get("BREAKOUT", schema.DirectionLong)
	assert.InDelta(t, 80.0, a.CurrentStrength, 1e-9)

	for i := 0; i < 5; i++ {
		m.OnTick(neutral)
	}
	bull, bear := m.Aggregate(neutral)
	assert.InDelta(t, 80*math.Pow(0.95, 5), bull, 1e-9)
	assert.InDelta(t, 61.5, bull, 0.5)
	assert.Zero(t, bear)
}

func TestContradictionKillSameName(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	require.NoError(t, m.AddOrUpdateSignal(breakout(schema.DirectionLong), t0))
	require.NoError(t, m.AddOrUpdateSignal(breakout(schema.DirectionShort), t0))

	_, longOK := m.Get("BREAKOUT", schema.DirectionLong)
	short, shortOK := m.Get("BREAKOUT", schema.DirectionShort)
	assert.False(t, longOK)
	require.True(t, shortOK)
	assert.InDelta(t, 80.0, short.CurrentStrength, 1e-9)
	assert.Equal(t, 1, m.Len())
}

func TestContradictionTagAndGroup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContradictionGroups = [][]string{{"ema_cross", "macd_cross"}}
	m, _ := newTestManager(t, cfg)

	add := func(name string, dir schema.Direction, tag string) {
		t.Helper()
		sig := breakout(dir)
		sig.Name = name
		sig.ContradictionTag = tag
		require.NoError(t, m.AddOrUpdateSignal(sig, t0))
	}

	add("EMA_9_21", schema.DirectionLong, "ema_cross")
	add("MACD", schema.DirectionLong, "macd_cross")
	add("RSI", schema.DirectionLong, "")
	add("EMA_20_50", schema.DirectionShort, "ema_cross")

	_, ok := m.Get("EMA_9_21", schema.DirectionLong)
	assert.False(t, ok, "same tag, opposite side")
	_, ok = m.Get("MACD", schema.DirectionLong)
	assert.False(t, ok, "same group, opposite side")
	_, ok = m.Get("RSI", schema.DirectionLong)
	assert.True(t, ok, "untagged signals survive")
	_, ok = m.Get("EMA_20_50", schema.DirectionShort)
	assert.True(t, ok)
}

func TestThresholdBoundaryIsStrict(t *testing.T) {
	cfg := Config{EntryThreshold: 100, DominanceRatio: 2}
	m, _ := newTestManager(t, cfg)

	bull := schema.Signal{Name: "BULL", Direction: schema.DirectionLong, Confidence: 1, InitialStrength: 100, DecayRate: 0.5}
	bear := schema.Signal{Name: "BEAR", Direction: schema.DirectionShort, Confidence: 1, InitialStrength: 50, DecayRate: 0.5}
	require.NoError(t, m.AddOrUpdateSignal(bull, t0))
	require.NoError(t, m.AddOrUpdateSignal(bear, t0))

	b, s := m.Aggregate(neutral)
	assert.Equal(t, 100.0, b)
	assert.Equal(t, 50.0, s)
	assert.False(t, m.ShouldEnterLong(neutral))
	assert.False(t, m.ShouldEnterShort(neutral))
	_, ok := m.Evaluate(neutral)
	assert.False(t, ok)

	m.Reset()
	bull.InitialStrength = 100 + 1e-6
	require.NoError(t, m.AddOrUpdateSignal(bull, t0))
	assert.True(t, m.ShouldEnterLong(neutral))
	d, ok := m.Evaluate(neutral)
	require.True(t, ok)
	assert.Equal(t, schema.DirectionLong, d.Direction)
	assert.Zero(t, d.OpposingStrength)
}

func TestEvaluateBlockedByDominance(t *testing.T) {
	m, metrics := newTestManager(t, Config{EntryThreshold: 50, DominanceRatio: 1.5})
	require.NoError(t, m.AddOrUpdateSignal(schema.Signal{Name: "A", Direction: schema.DirectionLong, Confidence: 1, InitialStrength: 90, DecayRate: 0.9}, t0))
	require.NoError(t, m.AddOrUpdateSignal(schema.Signal{Name: "B", Direction: schema.DirectionShort, Confidence: 1, InitialStrength: 70, DecayRate: 0.9}, t0))

	_, ok := m.Evaluate(neutral)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), metrics.Count(obs.CounterBlockedEntry))
}

func TestEvaluateConfidenceIsStrengthWeighted(t *testing.T) {
	m, _ := newTestManager(t, Config{EntryThreshold: 10, DominanceRatio: 1})
	require.NoError(t, m.AddOrUpdateSignal(schema.Signal{Name: "A", Direction: schema.DirectionLong, Confidence: 1, InitialStrength: 40, DecayRate: 0.9}, t0))
	require.NoError(t, m.AddOrUpdateSignal(schema.Signal{Name: "B", Direction: schema.DirectionLong, Confidence: 0.5, InitialStrength: 40, DecayRate: 0.9}, t0))

	// A decays to 40, B to 40*0.5*0.75=15
	d, ok := m.Evaluate(withTime(neutral, t0))
	require.True(t, ok)
	assert.InDelta(t, 55.0, d.Strength, 1e-9)
	assert.InDelta(t, (40*1+15*0.5)/55.0, d.Confidence, 1e-9)
	assert.Equal(t, t0, d.DecidedAt)
}

func TestShouldExit(t *testing.T) {
	m, _ := newTestManager(t, Config{EntryThreshold: 100, ExitThreshold: 60})
	require.NoError(t, m.AddOrUpdateSignal(breakout(schema.DirectionShort), t0))

	assert.True(t, m.ShouldExit(schema.DirectionLong, neutral))
	assert.False(t, m.ShouldExit(schema.DirectionShort, neutral))
	assert.False(t, m.ShouldExit(schema.DirectionUnknown, neutral))
}

func TestOnTickCollectsWeakSignals(t *testing.T) {
	m, _ := newTestManager(t, Config{EntryThreshold: 100, MinStrength: 10})
	sig := schema.Signal{Name: "FADE", Direction: schema.DirectionLong, Confidence: 1, InitialStrength: 20, DecayRate: 0.5}
	require.NoError(t, m.AddOrUpdateSignal(sig, t0))

	m.OnTick(neutral) // 10, not below floor
	assert.Equal(t, 1, m.Len())
	m.OnTick(neutral) // 5
	assert.Equal(t, 0, m.Len())
}

func TestMultiplierFaultsAreNeutral(t *testing.T) {
	m, metrics := newTestManager(t, DefaultConfig())
	m.RegisterCondition("panics", func(schema.MarketState, schema.Direction) (float64, error) { panic("bad indicator") })
	m.RegisterCondition("errors", func(schema.MarketState, schema.Direction) (float64, error) { return 0, errors.New("stale") })
	m.RegisterCondition("nan", func(schema.MarketState, schema.Direction) (float64, error) { return math.NaN(), nil })
	m.RegisterCondition("negative", func(schema.MarketState, schema.Direction) (float64, error) { return -1, nil })

	for _, tag := range []string{"panics", "errors", "nan", "negative"} {
		t.Run(tag, func(t *testing.T) {
			a := &ActiveSignal{Name: tag, Direction: schema.DirectionLong, CurrentStrength: 80, DecayRate: 0.95, DecayCondition: tag, Confidence: 1}
			assert.InDelta(t, 80.0, m.DecayedStrength(a, neutral), 1e-9)
		})
	}
	assert.Equal(t, uint64(4), metrics.Count(obs.CounterMultiplierFault))

	// a faulting multiplier never aborts the tick
	require.NoError(t, m.AddOrUpdateSignal(schema.Signal{Name: "P", Direction: schema.DirectionLong, Confidence: 1, InitialStrength: 50, DecayRate: 0.9, DecayCondition: "panics"}, t0))
	assert.NotPanics(t, func() { m.OnTick(neutral) })
	assert.Equal(t, 1, m.Len())
}

func TestConfiguredConditionRule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Conditions = []ConditionRule{{Tag: "trend", Metric: MetricTrend, Above: 0, Boost: 1.1, Damp: 0.9, Directional: true}}
	m, _ := newTestManager(t, cfg)

	up := neutral
	up.Trend = 1
	long := &ActiveSignal{Name: "L", Direction: schema.DirectionLong, CurrentStrength: 100, DecayRate: 0.9, DecayCondition: "Trend", Confidence: 1}
	short := &ActiveSignal{Name: "S", Direction: schema.DirectionShort, CurrentStrength: 100, DecayRate: 0.9, DecayCondition: "trend", Confidence: 1}

	assert.InDelta(t, 110.0, m.DecayedStrength(long, up), 1e-9)
	assert.InDelta(t, 90.0, m.DecayedStrength(short, up), 1e-9)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Conditions = []ConditionRule{{Tag: "x", Metric: "rsi", Boost: 1, Damp: 1}}
	_, err := NewManager(cfg, nil)
	assert.ErrorIs(t, err, exception.ErrConfigInvalid)

	cfg = DefaultConfig()
	cfg.EntryThreshold = math.NaN()
	_, err = NewManager(cfg, nil)
	assert.ErrorIs(t, err, exception.ErrConfigInvalid)
}

func TestInvalidSignalsRejected(t *testing.T) {
	m, metrics := newTestManager(t, DefaultConfig())
	valid := breakout(schema.DirectionLong)

	tests := []struct {
		name   string
		mutate func(*schema.Signal)
		want   error
	}{
		{"empty name", func(s *schema.Signal) { s.Name = "" }, exception.ErrSignalEmptyName},
		{"no direction", func(s *schema.Signal) { s.Direction = schema.DirectionUnknown }, exception.ErrSignalInvalidSide},
		{"decay one", func(s *schema.Signal) { s.DecayRate = 1 }, exception.ErrSignalInvalidDecay},
		{"decay zero", func(s *schema.Signal) { s.DecayRate = 0 }, exception.ErrSignalInvalidDecay},
		{"confidence", func(s *schema.Signal) { s.Confidence = 1.2 }, exception.ErrSignalInvalidConf},
		{"strength", func(s *schema.Signal) { s.InitialStrength = 0 }, exception.ErrSignalInvalidStrength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := valid
			tt.mutate(&sig)
			assert.ErrorIs(t, m.AddOrUpdateSignal(sig, t0), tt.want)
		})
	}
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, uint64(len(tests)), metrics.Count(obs.CounterInvalidSignal))
}

func TestListingOrder(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	require.NoError(t, m.AddOrUpdateSignal(schema.Signal{Name: "WEAK", Direction: schema.DirectionShort, Confidence: 1, InitialStrength: 10, DecayRate: 0.9}, t0))
	require.NoError(t, m.AddOrUpdateSignal(breakout(schema.DirectionLong), t0))

	rows := m.Listing(neutral)
	require.Len(t, rows, 2)
	assert.Contains(t, rows[0], "BREAKOUT long")
	assert.Contains(t, rows[1], "WEAK short")
}

func withTime(m schema.MarketState, ts time.Time) schema.MarketState {
	m.Timestamp = ts
	return m
}

func TestStrongest(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig())
	_, ok := m.Strongest(schema.DirectionLong, neutral)
	assert.False(t, ok)

	require.NoError(t, m.AddOrUpdateSignal(breakout(schema.DirectionLong), t0))
	weak := breakout(schema.DirectionLong)
	weak.Name = "EMA_CROSS"
	weak.InitialStrength = 20
	require.NoError(t, m.AddOrUpdateSignal(weak, t0))

	name, ok := m.Strongest(schema.DirectionLong, neutral)
	require.True(t, ok)
	assert.Equal(t, "BREAKOUT", name)
	_, ok = m.Strongest(schema.DirectionShort, neutral)
	assert.False(t, ok)
}
