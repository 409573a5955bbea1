package mdg

import (
	"math/rand"
	"time"

	"github.com/yanun0323/errors"

	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// GeneratorConfig shapes the synthetic random walk.
type GeneratorConfig struct {
	BasePrice float64 `json:"basePrice"`
	// MaxStep is the largest move per tick, in ticks.
	MaxStep int `json:"maxStep"`
	// UpBias is the probability that a non-zero move goes up. 0.5 is a fair walk.
	UpBias float64 `json:"upBias"`
	// RegimeTicks flips the bias every N ticks so the walk trends both ways.
	RegimeTicks int   `json:"regimeTicks"`
	Seed        int64 `json:"seed"`
}

// Generator creates synthetic trade prints for one instrument.
type Generator struct {
	inst  schema.Instrument
	cfg   GeneratorConfig
	rng   *rand.Rand
	price float64
	index int
}

// NewGenerator creates a seeded generator snapped to the instrument tick grid.
func NewGenerator(inst schema.Instrument, cfg GeneratorConfig) (*Generator, error) {
	if inst.Name == "" || inst.TickSize <= 0 {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "generator needs a named instrument with a tick size")
	}
	if cfg.BasePrice <= 0 {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "base price must be > 0, got %v", cfg.BasePrice)
	}
	if cfg.UpBias < 0 || cfg.UpBias > 1 {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "up bias must be within [0,1], got %v", cfg.UpBias)
	}
	if cfg.MaxStep <= 0 {
		cfg.MaxStep = 2
	}
	if cfg.UpBias == 0 {
		cfg.UpBias = 0.5
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Generator{
		inst:  inst,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		price: inst.RoundToTick(cfg.BasePrice),
	}, nil
}

// Seed returns the seed actually used.
func (g *Generator) Seed() int64 {
	return g.cfg.Seed
}

// Next creates the next raw tick in sequence.
func (g *Generator) Next(now time.Time) RawTick {
	bias := g.cfg.UpBias
	if g.cfg.RegimeTicks > 0 && (g.index/g.cfg.RegimeTicks)%2 == 1 {
		bias = 1 - bias
	}
	g.index++

	step := g.rng.Intn(g.cfg.MaxStep + 1)
	if step > 0 && g.rng.Float64() >= bias {
		step = -step
	}
	next := g.price + float64(step)*g.inst.TickSize
	if next < g.inst.TickSize {
		next = g.inst.TickSize
	}
	g.price = g.inst.RoundToTick(next)

	return RawTick{
		Symbol:  g.inst.Name,
		Price:   g.price,
		TsEvent: now.UnixNano(),
		TsRecv:  now.UnixNano(),
	}
}
