package intake

import (
	"github.com/yanun0323/logs"

	hfterrors "hftcore/internal/errors"
	"hftcore/internal/obs"
	"hftcore/internal/schema"
)

// Report summarises one dispatch pass.
type Report struct {
	Evaluated int
	Emitted   int
	Rejected  int
	Panics    int
}

// Dispatcher calls every registered evaluator once per tick, in registry order.
// Evaluators are called from the first tick so they can warm up; emissions are
// discarded until a strategy has seen MinTicks ticks.
type Dispatcher struct {
	registry *Registry
	sink     Sink
	metrics  *obs.Metrics
	seen     []int
}

// NewDispatcher wires registry into sink.
func NewDispatcher(registry *Registry, sink Sink, metrics *obs.Metrics) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		sink:     sink,
		metrics:  metrics,
		seen:     make([]int, registry.Len()),
	}
}

// Dispatch runs one tick.
func (d *Dispatcher) Dispatch(market schema.MarketState) Report {
	var rep Report
	for i, desc := range d.registry.descriptors {
		d.seen[i]++
		rep.Evaluated++

		em, err := d.evaluate(desc, market)
		if err != nil {
			rep.Panics++
			d.metrics.Inc(obs.CounterEvaluatorPanic)
			logs.Errorf("strategy %s evaluate: %+v", desc.ID, err)
			continue
		}
		if !em.OK || d.seen[i] < desc.MinTicks {
			continue
		}

		sig := applyDefaults(desc, em.Signal)
		if err := d.sink.AddOrUpdateSignal(sig, market.Timestamp); err != nil {
			rep.Rejected++
			continue
		}
		rep.Emitted++
	}
	return rep
}

func (d *Dispatcher) evaluate(desc Descriptor, market schema.MarketState) (em Emission, err error) {
	err = hfterrors.Guard("intake."+desc.ID, func() error {
		em = desc.Evaluator.Evaluate(market)
		return nil
	})
	return em, err
}

func applyDefaults(desc Descriptor, sig schema.Signal) schema.Signal {
	if sig.Name == "" {
		sig.Name = desc.ID
	}
	if sig.DecayRate == 0 {
		sig.DecayRate = desc.DecayRate
	}
	if sig.DecayCondition == "" {
		sig.DecayCondition = desc.DecayCondition
	}
	if sig.StrengthCap == 0 {
		sig.StrengthCap = desc.StrengthCap
	}
	if sig.ContradictionTag == "" {
		sig.ContradictionTag = desc.ContradictionTag
	}
	return sig
}
