package chaos

import (
	"math/rand"
	"time"

	"github.com/yanun0323/errors"

	"hftcore/pkg/exception"
)

// Config controls fault injection. Rates are probabilities in [0,1].
type Config struct {
	Seed          int64         `json:"seed"`
	DropRate      float64       `json:"dropRate"`
	DuplicateRate float64       `json:"duplicateRate"`
	ReorderWindow int           `json:"reorderWindow"`
	MaxDelay      time.Duration `json:"maxDelay"`
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	switch {
	case c.DropRate < 0 || c.DropRate > 1:
		return errors.Wrapf(exception.ErrConfigInvalid, "chaos drop rate %v", c.DropRate)
	case c.DuplicateRate < 0 || c.DuplicateRate > 1:
		return errors.Wrapf(exception.ErrConfigInvalid, "chaos duplicate rate %v", c.DuplicateRate)
	case c.ReorderWindow < 0:
		return errors.Wrapf(exception.ErrConfigInvalid, "chaos reorder window %d", c.ReorderWindow)
	case c.MaxDelay < 0:
		return errors.Wrapf(exception.ErrConfigInvalid, "chaos max delay %s", c.MaxDelay)
	}
	return nil
}

// Enabled reports whether any fault is configured.
func (c Config) Enabled() bool {
	return c.DropRate > 0 || c.DuplicateRate > 0 || c.ReorderWindow > 1 || c.MaxDelay > 0
}

// Stats counts injected faults.
type Stats struct {
	In         int
	Out        int
	Dropped    int
	Duplicated int
	Reordered  int
}

// Injector drops, duplicates and reorders a stream of T. It is not safe for concurrent use.
type Injector[T any] struct {
	cfg     Config
	rng     *rand.Rand
	pending []T
	stats   Stats
}

// NewInjector validates cfg. A zero seed picks one from the clock.
func NewInjector[T any](cfg Config) (*Injector[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReorderWindow == 0 {
		cfg.ReorderWindow = 1
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Injector[T]{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}, nil
}

// Seed returns the seed in use so a run can be reproduced.
func (in *Injector[T]) Seed() int64 {
	return in.cfg.Seed
}

// Process feeds one item and returns whatever the injector releases.
// A nil injector passes items straight through.
func (in *Injector[T]) Process(v T) []T {
	if in == nil {
		return []T{v}
	}
	in.stats.In++
	if in.cfg.DropRate > 0 && in.rng.Float64() < in.cfg.DropRate {
		in.stats.Dropped++
		return nil
	}
	if in.cfg.ReorderWindow <= 1 {
		return in.release(v)
	}
	in.pending = append(in.pending, v)
	if len(in.pending) < in.cfg.ReorderWindow {
		return nil
	}
	return in.release(in.take())
}

// Flush releases everything still held for reordering.
func (in *Injector[T]) Flush() []T {
	if in == nil {
		return nil
	}
	var out []T
	for len(in.pending) > 0 {
		out = append(out, in.release(in.take())...)
	}
	return out
}

// Delay draws a delivery delay in [0, MaxDelay].
func (in *Injector[T]) Delay() time.Duration {
	if in == nil || in.cfg.MaxDelay <= 0 {
		return 0
	}
	return time.Duration(in.rng.Int63n(int64(in.cfg.MaxDelay) + 1))
}

// Stats returns the counts so far.
func (in *Injector[T]) Stats() Stats {
	if in == nil {
		return Stats{}
	}
	return in.stats
}

func (in *Injector[T]) take() T {
	idx := in.rng.Intn(len(in.pending))
	if idx != 0 {
		in.stats.Reordered++
	}
	v := in.pending[idx]
	in.pending = append(in.pending[:idx], in.pending[idx+1:]...)
	return v
}

func (in *Injector[T]) release(v T) []T {
	out := []T{v}
	if in.cfg.DuplicateRate > 0 && in.rng.Float64() < in.cfg.DuplicateRate {
		out = append(out, v)
		in.stats.Duplicated++
	}
	in.stats.Out += len(out)
	return out
}
