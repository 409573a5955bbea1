package intake

import (
	"math"

	"hftcore/internal/schema"
)

// BreakoutConfig configures the channel-break evaluator.
type BreakoutConfig struct {
	Lookback        int     `json:"lookback"`
	InitialStrength float64 `json:"initialStrength"`
	DecayRate       float64 `json:"decayRate"`
}

// Breakout fires when price leaves the high/low channel of the previous Lookback ticks.
type Breakout struct {
	cfg    BreakoutConfig
	prices []float64
	next   int
	filled bool
}

func NewBreakout(cfg BreakoutConfig) *Breakout {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 20
	}
	if cfg.InitialStrength <= 0 {
		cfg.InitialStrength = 80
	}
	return &Breakout{cfg: cfg, prices: make([]float64, cfg.Lookback)}
}

func (b *Breakout) ID() string { return "BREAKOUT" }

func (b *Breakout) Evaluate(market schema.MarketState) Emission {
	defer b.push(market.Price)
	if !b.filled {
		return NoSignal()
	}

	hi, lo := math.Inf(-1), math.Inf(1)
	for _, p := range b.prices {
		hi = math.Max(hi, p)
		lo = math.Min(lo, p)
	}

	var (
		dir    schema.Direction
		beyond float64
	)
	switch {
	case market.Price > hi:
		dir, beyond = schema.DirectionLong, market.Price-hi
	case market.Price < lo:
		dir, beyond = schema.DirectionShort, lo-market.Price
	default:
		return NoSignal()
	}

	ticks := beyond
	if market.TickSize > 0 {
		ticks = beyond / market.TickSize
	}
	return Emit(schema.Signal{
		Name:            b.ID(),
		Direction:       dir,
		Confidence:      clamp(0.5+0.1*ticks, 0, 1),
		InitialStrength: b.cfg.InitialStrength,
	})
}

func (b *Breakout) push(price float64) {
	b.prices[b.next] = price
	b.next++
	if b.next == len(b.prices) {
		b.next = 0
		b.filled = true
	}
}

// CrossoverConfig configures the EMA crossover evaluator.
type CrossoverConfig struct {
	FastPeriod      int     `json:"fastPeriod"`
	SlowPeriod      int     `json:"slowPeriod"`
	InitialStrength float64 `json:"initialStrength"`
	DecayRate       float64 `json:"decayRate"`
}

// Crossover fires when the fast EMA crosses the slow EMA.
type Crossover struct {
	cfg        CrossoverConfig
	fast, slow float64
	prevDiff   float64
	ticks      int
}

func NewCrossover(cfg CrossoverConfig) *Crossover {
	if cfg.FastPeriod <= 0 {
		cfg.FastPeriod = 9
	}
	if cfg.SlowPeriod <= cfg.FastPeriod {
		cfg.SlowPeriod = cfg.FastPeriod * 2
	}
	if cfg.InitialStrength <= 0 {
		cfg.InitialStrength = 60
	}
	return &Crossover{cfg: cfg}
}

func (c *Crossover) ID() string { return "EMA_CROSS" }

func (c *Crossover) Evaluate(market schema.MarketState) Emission {
	c.ticks++
	if c.ticks == 1 {
		c.fast, c.slow = market.Price, market.Price
		return NoSignal()
	}
	c.fast = ema(c.fast, market.Price, c.cfg.FastPeriod)
	c.slow = ema(c.slow, market.Price, c.cfg.SlowPeriod)

	diff := c.fast - c.slow
	prev := c.prevDiff
	c.prevDiff = diff

	var dir schema.Direction
	switch {
	case prev <= 0 && diff > 0:
		dir = schema.DirectionLong
	case prev >= 0 && diff < 0:
		dir = schema.DirectionShort
	default:
		return NoSignal()
	}

	spread := math.Abs(diff)
	if market.TickSize > 0 {
		spread /= market.TickSize
	}
	return Emit(schema.Signal{
		Name:             c.ID(),
		Direction:        dir,
		Confidence:       clamp(0.6+0.05*spread, 0, 1),
		InitialStrength:  c.cfg.InitialStrength,
		ContradictionTag: "crossover",
	})
}

func ema(prev, price float64, period int) float64 {
	k := 2 / (float64(period) + 1)
	return prev + k*(price-prev)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
