package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hftcore/internal/obs"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

var now = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func long() schema.EntryDecision {
	return schema.EntryDecision{Direction: schema.DirectionLong, Strength: 150, DecidedAt: now}
}

func TestEvaluateDenials(t *testing.T) {
	cfg := Config{
		Version:           3,
		MaxOpenPositions:  2,
		MaxOrderQty:       5,
		MinEntrySpacing:   time.Minute,
		DailyLossLimit:    500,
		DailyProfitTarget: 1000,
	}

	cases := []struct {
		name   string
		kill   bool
		qty    schema.Quantity
		state  StateView
		reason schema.RiskReason
	}{
		{name: "allow", qty: 1, state: StateView{Now: now}, reason: schema.RiskReasonNone},
		{name: "halted", qty: 1, state: StateView{Now: now, Halted: true}, reason: schema.RiskReasonHalted},
		{name: "kill switch", kill: true, qty: 1, state: StateView{Now: now}, reason: schema.RiskReasonKillSwitch},
		{name: "qty", qty: 6, state: StateView{Now: now}, reason: schema.RiskReasonMaxQty},
		{name: "zero qty", qty: 0, state: StateView{Now: now}, reason: schema.RiskReasonMaxQty},
		{name: "capacity", qty: 1, state: StateView{Now: now, OpenPositions: 2}, reason: schema.RiskReasonCapacity},
		{name: "daily loss", qty: 1, state: StateView{Now: now, DailyRealized: -500}, reason: schema.RiskReasonDailyLoss},
		{name: "daily profit", qty: 1, state: StateView{Now: now, DailyRealized: 1000}, reason: schema.RiskReasonDailyProfit},
		{name: "spacing", qty: 1, state: StateView{Now: now, LastEntry: now.Add(-30 * time.Second)}, reason: schema.RiskReasonEntrySpacing},
		{name: "spacing elapsed", qty: 1, state: StateView{Now: now, LastEntry: now.Add(-time.Minute)}, reason: schema.RiskReasonNone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := cfg
			c.KillSwitch = tc.kill
			d := NewEngine(c, nil).Evaluate(long(), tc.qty, tc.state)
			assert.Equal(t, tc.reason, d.Reason)
			assert.Equal(t, tc.reason == schema.RiskReasonNone, d.Allowed())
			assert.Equal(t, uint16(3), d.Version)
			assert.Equal(t, schema.DirectionLong, d.Direction)
		})
	}
}

func TestRateLimitWindow(t *testing.T) {
	m := obs.NewMetrics()
	e := NewEngine(Config{OrderRateLimit: 2, OrderRateWindow: time.Second}, m)

	assert.True(t, e.Evaluate(long(), 1, StateView{Now: now}).Allowed())
	assert.True(t, e.Evaluate(long(), 1, StateView{Now: now.Add(100 * time.Millisecond)}).Allowed())
	d := e.Evaluate(long(), 1, StateView{Now: now.Add(200 * time.Millisecond)})
	assert.Equal(t, schema.RiskReasonRateLimit, d.Reason)
	assert.True(t, e.Evaluate(long(), 1, StateView{Now: now.Add(time.Second)}).Allowed())

	snap := m.Snapshot()
	assert.Equal(t, uint64(3), snap.RiskReasonCounts[schema.RiskReasonNone])
	assert.Equal(t, uint64(1), snap.RiskReasonCounts[schema.RiskReasonRateLimit])
}

func TestDeniedEntriesDoNotConsumeRate(t *testing.T) {
	e := NewEngine(Config{OrderRateLimit: 1, OrderRateWindow: time.Minute, MaxOrderQty: 1}, nil)
	assert.False(t, e.Evaluate(long(), 2, StateView{Now: now}).Allowed())
	assert.True(t, e.Evaluate(long(), 1, StateView{Now: now}).Allowed())
}

func TestUpdateConfig(t *testing.T) {
	e := NewEngine(Config{}, nil)
	assert.True(t, e.Evaluate(long(), 1, StateView{Now: now}).Allowed())

	e.UpdateConfig(Config{KillSwitch: true, Version: 7})
	d := e.Evaluate(long(), 1, StateView{Now: now})
	assert.Equal(t, schema.RiskReasonKillSwitch, d.Reason)
	assert.Equal(t, uint16(7), e.Config().Version)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{MaxOpenPositions: 2, OrderRateLimit: 5, OrderRateWindow: time.Second}.Validate())
	for _, cfg := range []Config{
		{MaxOpenPositions: -1},
		{MinEntrySpacing: -time.Second},
		{DailyLossLimit: -100},
		{OrderRateLimit: 3},
	} {
		assert.ErrorIs(t, cfg.Validate(), exception.ErrConfigInvalid, "%+v", cfg)
	}
}
