package intake

import (
	"time"

	"github.com/yanun0323/errors"

	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// Emission is the result of one evaluator call. OK=false is the "no signal" variant.
type Emission struct {
	Signal schema.Signal
	OK     bool
}

// NoSignal is the empty emission.
func NoSignal() Emission {
	return Emission{}
}

// Emit wraps sig as an emission.
func Emit(sig schema.Signal) Emission {
	return Emission{Signal: sig, OK: true}
}

// Evaluator produces at most one signal per tick.
type Evaluator interface {
	ID() string
	Evaluate(market schema.MarketState) Emission
}

// Category groups evaluators for dashboards.
type Category string

const (
	CategoryBreakout  Category = "breakout"
	CategoryTrend     Category = "trend"
	CategoryReversion Category = "reversion"
)

// Descriptor is one row of the static strategy table.
type Descriptor struct {
	ID        string
	Category  Category
	MinTicks  int
	Evaluator Evaluator

	// Decay parameters applied when the evaluator leaves them unset.
	DecayRate        float64
	DecayCondition   string
	StrengthCap      float64
	ContradictionTag string
}

// Registry is an ordered, immutable table of descriptors.
type Registry struct {
	descriptors []Descriptor
	index       map[string]int
}

// NewRegistry validates and freezes descs in the given order.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{
		descriptors: make([]Descriptor, 0, len(descs)),
		index:       make(map[string]int, len(descs)),
	}
	for _, d := range descs {
		if d.Evaluator == nil {
			return nil, errors.Wrapf(exception.ErrIntakeNilEvaluator, "strategy: %s", d.ID)
		}
		if d.ID == "" {
			d.ID = d.Evaluator.ID()
		}
		if _, ok := r.index[d.ID]; ok {
			return nil, errors.Wrapf(exception.ErrIntakeDuplicateID, "strategy: %s", d.ID)
		}
		if d.DecayRate != 0 && !(d.DecayRate > 0 && d.DecayRate < 1) {
			return nil, errors.Wrapf(exception.ErrSignalInvalidDecay, "strategy %s decay rate: %v", d.ID, d.DecayRate)
		}
		r.index[d.ID] = len(r.descriptors)
		r.descriptors = append(r.descriptors, d)
	}
	return r, nil
}

// Descriptors returns the table in registry order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Lookup returns the descriptor registered under id.
func (r *Registry) Lookup(id string) (Descriptor, bool) {
	i, ok := r.index[id]
	if !ok {
		return Descriptor{}, false
	}
	return r.descriptors[i], true
}

// Len returns the number of registered strategies.
func (r *Registry) Len() int {
	return len(r.descriptors)
}

// Config configures the reference evaluators.
type Config struct {
	Breakout  BreakoutConfig  `json:"breakout"`
	Crossover CrossoverConfig `json:"crossover"`
}

// DefaultConfig returns the reference evaluator settings.
func DefaultConfig() Config {
	return Config{
		Breakout: BreakoutConfig{
			Lookback:        20,
			InitialStrength: 80,
			DecayRate:       0.95,
		},
		Crossover: CrossoverConfig{
			FastPeriod:      9,
			SlowPeriod:      21,
			InitialStrength: 60,
			DecayRate:       0.9,
		},
	}
}

// DefaultRegistry builds the static table of reference strategies.
func DefaultRegistry(cfg Config) (*Registry, error) {
	breakout := NewBreakout(cfg.Breakout)
	crossover := NewCrossover(cfg.Crossover)
	return NewRegistry(
		Descriptor{
			ID:             breakout.ID(),
			Category:       CategoryBreakout,
			MinTicks:       breakout.cfg.Lookback,
			Evaluator:      breakout,
			DecayRate:      breakout.cfg.DecayRate,
			DecayCondition: "volatility",
		},
		Descriptor{
			ID:               crossover.ID(),
			Category:         CategoryTrend,
			MinTicks:         crossover.cfg.SlowPeriod,
			Evaluator:        crossover,
			DecayRate:        crossover.cfg.DecayRate,
			DecayCondition:   "trend",
			ContradictionTag: "crossover",
		},
	)
}

// Sink receives signals forwarded by the dispatcher.
type Sink interface {
	AddOrUpdateSignal(sig schema.Signal, now time.Time) error
}
