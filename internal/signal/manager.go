package signal

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"hftcore/internal/obs"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

type key struct {
	name string
	dir  schema.Direction
}

// ActiveSignal is a fired signal that keeps contributing while it decays.
type ActiveSignal struct {
	Name             string
	Direction        schema.Direction
	InitialStrength  float64
	CurrentStrength  float64
	BarsSinceFired   int
	DecayRate        float64
	DecayCondition   string
	ContradictionTag string
	StrengthCap      float64
	Confidence       float64
	LastUpdate       time.Time
}

// Manager owns the active signal set. It is driven by a single tick goroutine and is not safe
// for concurrent use.
type Manager struct {
	cfg        Config
	active     map[key]*ActiveSignal
	conditions conditions
	groups     map[string]int
	metrics    *obs.Metrics
}

// NewManager builds a manager from cfg. metrics may be nil.
func NewManager(cfg Config, metrics *obs.Metrics) (*Manager, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	groups := make(map[string]int)
	for i, group := range cfg.ContradictionGroups {
		for _, tag := range group {
			groups[normalizeTag(tag)] = i
		}
	}

	return &Manager{
		cfg:        cfg,
		active:     make(map[key]*ActiveSignal),
		conditions: newConditions(cfg.Conditions),
		groups:     groups,
		metrics:    metrics,
	}, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// RegisterCondition installs a multiplier for tag, replacing any configured rule.
func (m *Manager) RegisterCondition(tag string, fn Multiplier) {
	m.conditions[normalizeTag(tag)] = fn
}

// AddOrUpdateSignal creates or refreshes the active signal keyed by name and direction,
// then removes every active signal it contradicts.
func (m *Manager) AddOrUpdateSignal(sig schema.Signal, now time.Time) error {
	if err := validateSignal(sig); err != nil {
		m.metrics.Inc(obs.CounterInvalidSignal)
		logs.Errorf("signal %s rejected: %+v", sig.Name, err)
		return err
	}

	k := key{name: sig.Name, dir: sig.Direction}
	if cur, ok := m.active[k]; ok {
		if sig.Accumulates {
			limit := m.cfg.AccumulateCap * sig.InitialStrength
			if sig.StrengthCap > 0 && sig.StrengthCap < limit {
				limit = sig.StrengthCap
			}
			cur.CurrentStrength = math.Min(cur.CurrentStrength+m.cfg.AccumulateStep*sig.InitialStrength, limit)
		} else {
			cur.CurrentStrength = sig.InitialStrength * sig.Confidence
			cur.BarsSinceFired = 0
		}
		cur.InitialStrength = sig.InitialStrength
		cur.DecayRate = sig.DecayRate
		cur.DecayCondition = sig.DecayCondition
		cur.ContradictionTag = sig.ContradictionTag
		cur.StrengthCap = sig.StrengthCap
		cur.Confidence = sig.Confidence
		cur.LastUpdate = now
	} else {
		m.active[k] = &ActiveSignal{
			Name:             sig.Name,
			Direction:        sig.Direction,
			InitialStrength:  sig.InitialStrength,
			CurrentStrength:  sig.InitialStrength * sig.Confidence,
			DecayRate:        sig.DecayRate,
			DecayCondition:   sig.DecayCondition,
			ContradictionTag: sig.ContradictionTag,
			StrengthCap:      sig.StrengthCap,
			Confidence:       sig.Confidence,
			LastUpdate:       now,
		}
	}

	m.resolveContradictions(sig)
	return nil
}

func validateSignal(sig schema.Signal) error {
	switch {
	case sig.Name == "":
		return errors.Wrap(exception.ErrSignalEmptyName, "add signal")
	case !sig.Direction.IsValid():
		return errors.Wrapf(exception.ErrSignalInvalidSide, "direction: %d", sig.Direction)
	case !(sig.DecayRate > 0 && sig.DecayRate < 1):
		return errors.Wrapf(exception.ErrSignalInvalidDecay, "decay rate: %v", sig.DecayRate)
	case !(sig.Confidence >= 0 && sig.Confidence <= 1):
		return errors.Wrapf(exception.ErrSignalInvalidConf, "confidence: %v", sig.Confidence)
	case !(sig.InitialStrength > 0) || math.IsInf(sig.InitialStrength, 0):
		return errors.Wrapf(exception.ErrSignalInvalidStrength, "initial strength: %v", sig.InitialStrength)
	}
	return nil
}

func (m *Manager) resolveContradictions(sig schema.Signal) {
	opposite := sig.Direction.Opposite()
	if _, ok := m.active[key{name: sig.Name, dir: opposite}]; ok {
		delete(m.active, key{name: sig.Name, dir: opposite})
		logs.Infof("signal %s %s killed by opposite fire", sig.Name, opposite)
	}

	if sig.ContradictionTag == "" {
		return
	}
	tag := normalizeTag(sig.ContradictionTag)
	group, grouped := m.groups[tag]
	for k, a := range m.active {
		if k.dir != opposite || a.ContradictionTag == "" {
			continue
		}
		other := normalizeTag(a.ContradictionTag)
		same := other == tag
		if !same && grouped {
			g, ok := m.groups[other]
			same = ok && g == group
		}
		if same {
			delete(m.active, k)
			logs.Infof("signal %s %s killed by contradiction tag %s from %s", a.Name, a.Direction, sig.ContradictionTag, sig.Name)
		}
	}
}

// DecayedStrength is the contribution of a to the aggregate under market.
func (m *Manager) DecayedStrength(a *ActiveSignal, market schema.MarketState) float64 {
	if a == nil {
		return 0
	}
	mult, err := m.conditions.eval(a.DecayCondition, market, a.Direction)
	if err != nil {
		m.metrics.Inc(obs.CounterMultiplierFault)
		logs.Errorf("signal %s multiplier fault, using 1.0: %+v", a.Name, err)
	}
	v := a.CurrentStrength * math.Pow(a.DecayRate, float64(a.BarsSinceFired)) * mult * (0.5 + 0.5*a.Confidence)
	if !(v > 0) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// OnTick ages every active signal by one bar and collects the ones below the floor.
func (m *Manager) OnTick(market schema.MarketState) {
	for _, a := range m.active {
		a.BarsSinceFired++
	}
	for k, a := range m.active {
		if m.DecayedStrength(a, market) < m.cfg.MinStrength {
			delete(m.active, k)
		}
	}
}

// Aggregate sums decayed strength per direction.
func (m *Manager) Aggregate(market schema.MarketState) (bull, bear float64) {
	agg := m.aggregate(market)
	return agg.bull, agg.bear
}

type aggregate struct {
	bull, bear         float64
	bullConf, bearConf float64
}

func (m *Manager) aggregate(market schema.MarketState) aggregate {
	var agg aggregate
	for _, a := range m.active {
		s := m.DecayedStrength(a, market)
		switch a.Direction {
		case schema.DirectionLong:
			agg.bull += s
			agg.bullConf += s * a.Confidence
		case schema.DirectionShort:
			agg.bear += s
			agg.bearConf += s * a.Confidence
		}
	}
	return agg
}

func (m *Manager) passes(side, other float64) bool {
	return side > m.cfg.EntryThreshold && side > other*m.cfg.DominanceRatio
}

// ShouldEnterLong reports whether bull strength strictly clears both the threshold and the dominance ratio.
func (m *Manager) ShouldEnterLong(market schema.MarketState) bool {
	bull, bear := m.Aggregate(market)
	return m.passes(bull, bear)
}

// ShouldEnterShort is the mirror of ShouldEnterLong.
func (m *Manager) ShouldEnterShort(market schema.MarketState) bool {
	bull, bear := m.Aggregate(market)
	return m.passes(bear, bull)
}

// Evaluate returns an entry decision when one direction clears the gate. A direction that clears
// the threshold but not the dominance ratio is logged with its exact aggregates.
func (m *Manager) Evaluate(market schema.MarketState) (schema.EntryDecision, bool) {
	agg := m.aggregate(market)
	longOK := m.passes(agg.bull, agg.bear)
	shortOK := m.passes(agg.bear, agg.bull)

	dir := schema.DirectionUnknown
	switch {
	case longOK && shortOK:
		if agg.bull >= agg.bear {
			dir = schema.DirectionLong
		} else {
			dir = schema.DirectionShort
		}
	case longOK:
		dir = schema.DirectionLong
	case shortOK:
		dir = schema.DirectionShort
	}

	if dir == schema.DirectionUnknown {
		if agg.bull > m.cfg.EntryThreshold || agg.bear > m.cfg.EntryThreshold {
			m.metrics.Inc(obs.CounterBlockedEntry)
			logs.Infof("entry blocked: bull=%.4f bear=%.4f threshold=%.4f dominance=%.4f bull_needs>%.4f bear_needs>%.4f",
				agg.bull, agg.bear, m.cfg.EntryThreshold, m.cfg.DominanceRatio,
				agg.bear*m.cfg.DominanceRatio, agg.bull*m.cfg.DominanceRatio)
		}
		return schema.EntryDecision{}, false
	}

	d := schema.EntryDecision{Direction: dir, DecidedAt: market.Timestamp}
	if dir == schema.DirectionLong {
		d.Strength, d.OpposingStrength = agg.bull, agg.bear
		d.Confidence = agg.bullConf / agg.bull
	} else {
		d.Strength, d.OpposingStrength = agg.bear, agg.bull
		d.Confidence = agg.bearConf / agg.bear
	}
	return d, true
}

// ShouldExit reports whether the side against dir has built more than ExitThreshold.
func (m *Manager) ShouldExit(dir schema.Direction, market schema.MarketState) bool {
	if m.cfg.ExitThreshold <= 0 || !dir.IsValid() {
		return false
	}
	bull, bear := m.Aggregate(market)
	if dir == schema.DirectionLong {
		return bear > m.cfg.ExitThreshold
	}
	return bull > m.cfg.ExitThreshold
}

// Get returns a copy of the active signal for name and dir.
func (m *Manager) Get(name string, dir schema.Direction) (ActiveSignal, bool) {
	a, ok := m.active[key{name: name, dir: dir}]
	if !ok {
		return ActiveSignal{}, false
	}
	return *a, true
}

// Remove drops an active signal.
func (m *Manager) Remove(name string, dir schema.Direction) {
	delete(m.active, key{name: name, dir: dir})
}

// Len returns the number of active signals.
func (m *Manager) Len() int {
	return len(m.active)
}

// Reset clears every active signal.
func (m *Manager) Reset() {
	clear(m.active)
}

// Listing renders the active set, strongest first, for dashboards.
func (m *Manager) Listing(market schema.MarketState) []string {
	type row struct {
		a       *ActiveSignal
		decayed float64
	}
	rows := make([]row, 0, len(m.active))
	for _, a := range m.active {
		rows = append(rows, row{a: a, decayed: m.DecayedStrength(a, market)})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].decayed != rows[j].decayed {
			return rows[i].decayed > rows[j].decayed
		}
		if rows[i].a.Name != rows[j].a.Name {
			return rows[i].a.Name < rows[j].a.Name
		}
		return rows[i].a.Direction < rows[j].a.Direction
	})

	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, fmt.Sprintf("%s %s strength=%.2f decayed=%.2f bars=%d conf=%.2f",
			r.a.Name, r.a.Direction, r.a.CurrentStrength, r.decayed, r.a.BarsSinceFired, r.a.Confidence))
	}
	return out
}

// Strongest returns the name of the active signal contributing most to dir.
func (m *Manager) Strongest(dir schema.Direction, market schema.MarketState) (string, bool) {
	var (
		name string
		best float64
	)
	for k, a := range m.active {
		if k.dir != dir {
			continue
		}
		s := m.DecayedStrength(a, market)
		if s > best || (s == best && s > 0 && a.Name < name) {
			name, best = a.Name, s
		}
	}
	return name, name != ""
}
