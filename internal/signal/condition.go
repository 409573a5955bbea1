package signal

import (
	"math"
	"strings"

	"github.com/yanun0323/errors"

	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// Multiplier scales a signal's decayed strength from live market state.
// Implementations may return an error; the manager then falls back to a neutral 1.0.
type Multiplier func(market schema.MarketState, dir schema.Direction) (float64, error)

// Metric names the MarketState field a ConditionRule reads.
type Metric string

const (
	MetricTrend      Metric = "trend"
	MetricVolatility Metric = "volatility"
	MetricMomentum   Metric = "momentum"
)

// ConditionRule is a configured decay multiplier: Boost when the metric is above the
// threshold, Damp otherwise. Directional rules flip the metric sign for short signals.
type ConditionRule struct {
	Tag         string  `json:"tag"`
	Metric      Metric  `json:"metric"`
	Above       float64 `json:"above"`
	Boost       float64 `json:"boost"`
	Damp        float64 `json:"damp"`
	Directional bool    `json:"directional"`
}

func (r ConditionRule) validate() error {
	if r.Tag == "" {
		return errors.Wrap(exception.ErrConfigInvalid, "condition rule without tag")
	}
	switch r.Metric {
	case MetricTrend, MetricVolatility, MetricMomentum:
	default:
		return errors.Wrapf(exception.ErrConfigInvalid, "condition %s: unknown metric %q", r.Tag, r.Metric)
	}
	if r.Boost <= 0 || r.Damp <= 0 {
		return errors.Wrapf(exception.ErrConfigInvalid, "condition %s: boost and damp must be > 0", r.Tag)
	}
	return nil
}

// Multiplier builds the function for the rule.
func (r ConditionRule) Multiplier() Multiplier {
	return func(market schema.MarketState, dir schema.Direction) (float64, error) {
		var v float64
		switch r.Metric {
		case MetricTrend:
			v = market.Trend
		case MetricVolatility:
			v = market.Volatility
		case MetricMomentum:
			v = market.Momentum
		default:
			return 0, errors.Errorf("unknown metric %q", r.Metric)
		}
		if r.Directional {
			v *= float64(dir.Sign())
		}
		if v > r.Above {
			return r.Boost, nil
		}
		return r.Damp, nil
	}
}

// conditions maps a decay condition tag to its multiplier.
type conditions map[string]Multiplier

func newConditions(rules []ConditionRule) conditions {
	c := make(conditions, len(rules))
	for _, rule := range rules {
		c[normalizeTag(rule.Tag)] = rule.Multiplier()
	}
	return c
}

// eval returns the multiplier for tag and whether it faulted. Unknown tags are neutral.
func (c conditions) eval(tag string, market schema.MarketState, dir schema.Direction) (mult float64, fault error) {
	if tag == "" {
		return 1, nil
	}
	fn, ok := c[normalizeTag(tag)]
	if !ok || fn == nil {
		return 1, nil
	}

	defer func() {
		if r := recover(); r != nil {
			mult = 1
			fault = errors.Errorf("condition %s panicked: %v", tag, r)
		}
	}()

	v, err := fn(market, dir)
	if err != nil {
		return 1, errors.Wrapf(err, "condition %s", tag)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 1, errors.Errorf("condition %s returned %v", tag, v)
	}
	return v, nil
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
