package risk

import (
	"sync"
	"time"

	"github.com/yanun0323/errors"

	"hftcore/internal/obs"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// Config defines the entry limits. Zero disables a limit.
type Config struct {
	Version           uint16          `json:"version"`
	KillSwitch        bool            `json:"killSwitch"`
	MaxOpenPositions  int             `json:"maxOpenPositions"`
	MaxOrderQty       schema.Quantity `json:"maxOrderQty"`
	MinEntrySpacing   time.Duration   `json:"minEntrySpacing"`
	DailyLossLimit    float64         `json:"dailyLossLimit"`
	DailyProfitTarget float64         `json:"dailyProfitTarget"`
	OrderRateLimit    int             `json:"orderRateLimit"`
	OrderRateWindow   time.Duration   `json:"orderRateWindow"`
}

// Validate rejects negative limits and a rate limit without a window.
func (c Config) Validate() error {
	switch {
	case c.MaxOpenPositions < 0, c.MaxOrderQty < 0, c.OrderRateLimit < 0:
		return errors.Wrapf(exception.ErrConfigInvalid, "risk: negative limit %+v", c)
	case c.MinEntrySpacing < 0, c.OrderRateWindow < 0:
		return errors.Wrapf(exception.ErrConfigInvalid, "risk: negative duration %+v", c)
	case c.DailyLossLimit < 0, c.DailyProfitTarget < 0:
		return errors.Wrapf(exception.ErrConfigInvalid, "risk: daily limits are magnitudes, got loss %v profit %v", c.DailyLossLimit, c.DailyProfitTarget)
	case c.OrderRateLimit > 0 && c.OrderRateWindow == 0:
		return errors.Wrapf(exception.ErrConfigInvalid, "risk: orderRateLimit %d without orderRateWindow", c.OrderRateLimit)
	}
	return nil
}

// StateView is what the gate needs to know about the book.
type StateView struct {
	OpenPositions int
	DailyRealized float64
	LastEntry     time.Time
	Halted        bool
	Now           time.Time
}

// Engine evaluates entry decisions against the configured limits.
type Engine struct {
	metrics *obs.Metrics

	mu              sync.Mutex
	cfg             Config
	rateWindowStart time.Time
	rateCount       int
}

// NewEngine creates a risk engine.
func NewEngine(cfg Config, metrics *obs.Metrics) *Engine {
	return &Engine{cfg: cfg, metrics: metrics}
}

// Config returns the active limits.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// UpdateConfig swaps the limits. The rate window restarts when its size changes.
func (e *Engine) UpdateConfig(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cfg.OrderRateWindow != e.cfg.OrderRateWindow || cfg.OrderRateLimit != e.cfg.OrderRateLimit {
		e.rateWindowStart = time.Time{}
		e.rateCount = 0
	}
	e.cfg = cfg
}

// Evaluate decides whether an entry of qty contracts may go out.
func (e *Engine) Evaluate(d schema.EntryDecision, qty schema.Quantity, state StateView) schema.RiskDecision {
	e.mu.Lock()
	decision := e.evaluateLocked(d, qty, state)
	e.mu.Unlock()

	e.metrics.IncRiskReason(decision.Reason)
	return decision
}

func (e *Engine) evaluateLocked(d schema.EntryDecision, qty schema.Quantity, state StateView) schema.RiskDecision {
	decision := schema.RiskDecision{
		Action:        schema.RiskActionAllow,
		Reason:        schema.RiskReasonNone,
		Version:       e.cfg.Version,
		Direction:     d.Direction,
		ProposedQty:   qty,
		OpenPositions: state.OpenPositions,
		DailyRealized: state.DailyRealized,
	}
	deny := func(r schema.RiskReason) schema.RiskDecision {
		decision.Action = schema.RiskActionDeny
		decision.Reason = r
		return decision
	}

	now := state.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if state.Halted {
		return deny(schema.RiskReasonHalted)
	}
	if e.cfg.KillSwitch {
		return deny(schema.RiskReasonKillSwitch)
	}
	if qty <= 0 || (e.cfg.MaxOrderQty > 0 && qty > e.cfg.MaxOrderQty) {
		return deny(schema.RiskReasonMaxQty)
	}
	if e.cfg.MaxOpenPositions > 0 && state.OpenPositions >= e.cfg.MaxOpenPositions {
		return deny(schema.RiskReasonCapacity)
	}
	if e.cfg.DailyLossLimit > 0 && state.DailyRealized <= -e.cfg.DailyLossLimit {
		return deny(schema.RiskReasonDailyLoss)
	}
	if e.cfg.DailyProfitTarget > 0 && state.DailyRealized >= e.cfg.DailyProfitTarget {
		return deny(schema.RiskReasonDailyProfit)
	}
	if e.cfg.MinEntrySpacing > 0 && !state.LastEntry.IsZero() && now.Sub(state.LastEntry) < e.cfg.MinEntrySpacing {
		return deny(schema.RiskReasonEntrySpacing)
	}

	if e.cfg.OrderRateLimit > 0 && e.cfg.OrderRateWindow > 0 {
		if e.rateWindowStart.IsZero() || now.Sub(e.rateWindowStart) >= e.cfg.OrderRateWindow {
			e.rateWindowStart = now
			e.rateCount = 0
		}
		if e.rateCount >= e.cfg.OrderRateLimit {
			return deny(schema.RiskReasonRateLimit)
		}
		e.rateCount++
	}

	return decision
}
