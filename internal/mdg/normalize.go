package mdg

import (
	"math"
	"time"

	"github.com/yanun0323/errors"

	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// RawTick is one trade print before feature extraction.
type RawTick struct {
	Symbol  string
	Price   float64
	TsEvent int64
	TsRecv  int64
}

// FeatureConfig sets the windows used to derive trend, volatility and momentum.
type FeatureConfig struct {
	FastPeriod       int `json:"fastPeriod"`
	SlowPeriod       int `json:"slowPeriod"`
	MomentumLookback int `json:"momentumLookback"`
	ShortWindow      int `json:"shortWindow"`
	LongWindow       int `json:"longWindow"`
}

func (c FeatureConfig) withDefaults() FeatureConfig {
	if c.FastPeriod <= 0 {
		c.FastPeriod = 8
	}
	if c.SlowPeriod <= c.FastPeriod {
		c.SlowPeriod = c.FastPeriod * 3
	}
	if c.MomentumLookback <= 0 {
		c.MomentumLookback = 5
	}
	if c.ShortWindow <= 0 {
		c.ShortWindow = 10
	}
	if c.LongWindow <= c.ShortWindow {
		c.LongWindow = c.ShortWindow * 5
	}
	return c
}

// Normalizer maps raw ticks to schema.MarketState for one instrument.
type Normalizer struct {
	inst    schema.Instrument
	cfg     FeatureConfig
	fast    float64
	slow    float64
	seeded  bool
	history []float64
	next    int
	count   int
}

// NewNormalizer creates a normalizer for inst.
func NewNormalizer(inst schema.Instrument, cfg FeatureConfig) *Normalizer {
	cfg = cfg.withDefaults()
	size := max(cfg.LongWindow, cfg.MomentumLookback+1)
	return &Normalizer{inst: inst, cfg: cfg, history: make([]float64, size)}
}

// Normalize converts a raw tick into the market state seen by the engine.
func (n *Normalizer) Normalize(tick RawTick) (schema.MarketState, error) {
	if tick.Symbol != n.inst.Name {
		return schema.MarketState{}, errors.Wrapf(exception.ErrInvalidArgument, "symbol not found: %s", tick.Symbol)
	}
	if tick.Price <= 0 || math.IsNaN(tick.Price) || math.IsInf(tick.Price, 0) {
		return schema.MarketState{}, errors.Wrapf(exception.ErrInvalidArgument, "invalid price %v for %s", tick.Price, tick.Symbol)
	}
	if tick.TsRecv == 0 {
		tick.TsRecv = time.Now().UTC().UnixNano()
	}
	if tick.TsEvent == 0 {
		tick.TsEvent = tick.TsRecv
	}

	price := n.inst.RoundToTick(tick.Price)
	n.push(price)

	if !n.seeded {
		n.fast, n.slow, n.seeded = price, price, true
	} else {
		n.fast = ema(n.fast, price, n.cfg.FastPeriod)
		n.slow = ema(n.slow, price, n.cfg.SlowPeriod)
	}

	return schema.MarketState{
		Symbol:     n.inst.Name,
		Price:      price,
		Timestamp:  time.Unix(0, tick.TsEvent).UTC(),
		TickSize:   n.inst.TickSize,
		PointValue: n.inst.PointValue,
		Trend:      sign(n.fast - n.slow),
		Volatility: n.volatility(),
		Momentum:   n.momentum(price),
	}, nil
}

func (n *Normalizer) push(price float64) {
	n.history[n.next] = price
	n.next = (n.next + 1) % len(n.history)
	if n.count < len(n.history) {
		n.count++
	}
}

// back returns the price k ticks before the latest one.
func (n *Normalizer) back(k int) float64 {
	idx := (n.next - 1 - k) % len(n.history)
	if idx < 0 {
		idx += len(n.history)
	}
	return n.history[idx]
}

func (n *Normalizer) momentum(price float64) float64 {
	k := min(n.cfg.MomentumLookback, n.count-1)
	if k <= 0 {
		return 0
	}
	return (price - n.back(k)) / n.inst.TickSize
}

// volatility compares the short and long ranges, each scaled by the square
// root of its window. A steady random walk reads close to 1.
func (n *Normalizer) volatility() float64 {
	ws, wl := min(n.cfg.ShortWindow, n.count), min(n.cfg.LongWindow, n.count)
	long := n.rangeOf(wl)
	if long == 0 || ws == wl {
		return 1
	}
	short := n.rangeOf(ws)
	return (short / math.Sqrt(float64(ws))) / (long / math.Sqrt(float64(wl)))
}

func (n *Normalizer) rangeOf(window int) float64 {
	if window == 0 {
		return 0
	}
	hi, lo := math.Inf(-1), math.Inf(1)
	for k := 0; k < window; k++ {
		p := n.back(k)
		hi = math.Max(hi, p)
		lo = math.Min(lo, p)
	}
	return hi - lo
}

func ema(prev, price float64, period int) float64 {
	alpha := 2 / (float64(period) + 1)
	return prev + alpha*(price-prev)
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
