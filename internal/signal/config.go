package signal

import (
	"math"

	"github.com/yanun0323/errors"

	"hftcore/pkg/exception"
)

const (
	defaultAccumulateStep = 0.5
	defaultAccumulateCap  = 1.5
	defaultMinStrength    = 0.5
	defaultDominanceRatio = 1.5
)

// Config controls consensus thresholds and decay behaviour.
type Config struct {
	// EntryThreshold is the aggregate strength one direction must strictly exceed to enter.
	EntryThreshold float64 `json:"entryThreshold"`
	// DominanceRatio is the multiple by which the entering side must strictly exceed the other side.
	DominanceRatio float64 `json:"dominanceRatio"`
	// ExitThreshold is the opposite-side aggregate above which an open position should exit. 0 disables.
	ExitThreshold float64 `json:"exitThreshold"`
	// MinStrength is the decayed strength under which an active signal is collected.
	MinStrength float64 `json:"minStrength"`

	AccumulateStep float64 `json:"accumulateStep"`
	AccumulateCap  float64 `json:"accumulateCap"`

	// ContradictionGroups lists tag families; opposite-direction signals in the same family kill each other.
	ContradictionGroups [][]string      `json:"contradictionGroups"`
	Conditions          []ConditionRule `json:"conditions"`
}

// DefaultConfig returns the thresholds used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		EntryThreshold: 100,
		DominanceRatio: defaultDominanceRatio,
		ExitThreshold:  120,
		MinStrength:    defaultMinStrength,
		AccumulateStep: defaultAccumulateStep,
		AccumulateCap:  defaultAccumulateCap,
	}
}

func (c Config) withDefaults() Config {
	if c.DominanceRatio <= 0 {
		c.DominanceRatio = defaultDominanceRatio
	}
	if c.MinStrength <= 0 {
		c.MinStrength = defaultMinStrength
	}
	if c.AccumulateStep <= 0 {
		c.AccumulateStep = defaultAccumulateStep
	}
	if c.AccumulateCap <= 0 {
		c.AccumulateCap = defaultAccumulateCap
	}
	return c
}

// Validate checks that thresholds are usable.
func (c Config) Validate() error {
	for name, v := range map[string]float64{
		"entryThreshold": c.EntryThreshold,
		"dominanceRatio": c.DominanceRatio,
		"exitThreshold":  c.ExitThreshold,
		"minStrength":    c.MinStrength,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return errors.Wrapf(exception.ErrConfigInvalid, "signal %s: %v", name, v)
		}
	}
	if c.AccumulateCap < 1 {
		return errors.Wrapf(exception.ErrConfigInvalid, "signal accumulateCap must be >= 1, got %v", c.AccumulateCap)
	}
	for _, rule := range c.Conditions {
		if err := rule.validate(); err != nil {
			return err
		}
	}
	return nil
}
