package obs

import (
	"sync/atomic"
	"time"

	"hftcore/internal/schema"
)

const (
	maxEventType  = int(schema.EventPositionClosed)
	maxRiskReason = int(schema.RiskReasonHalted)
)

// Counter enumerates the anomaly and flow counters tracked by Metrics.
type Counter uint8

const (
	CounterDuplicateHalf Counter = iota
	CounterAlreadyPaired
	CounterOrphan
	CounterMultiplierFault
	CounterEvaluatorPanic
	CounterInvalidSignal
	CounterBlockedEntry
	CounterRejectedLeg
	CounterCancelledLeg
	CounterUnknownCorrelation
	CounterConfirmTimeout
	CounterEmergencyClose
	CounterForceExit
	CounterLedgerFault
	CounterQueueDrop
	CounterQueueClosed
	CounterTelemetryError
	counterCount
)

var counterNames = [counterCount]string{
	CounterDuplicateHalf:      "duplicate_half",
	CounterAlreadyPaired:      "already_paired",
	CounterOrphan:             "orphan",
	CounterMultiplierFault:    "multiplier_fault",
	CounterEvaluatorPanic:     "evaluator_panic",
	CounterInvalidSignal:      "invalid_signal",
	CounterBlockedEntry:       "blocked_entry",
	CounterRejectedLeg:        "rejected_leg",
	CounterCancelledLeg:       "cancelled_leg",
	CounterUnknownCorrelation: "unknown_correlation",
	CounterConfirmTimeout:     "confirm_timeout",
	CounterEmergencyClose:     "emergency_close",
	CounterForceExit:          "force_exit",
	CounterLedgerFault:        "ledger_fault",
	CounterQueueDrop:          "queue_drop",
	CounterQueueClosed:        "queue_closed",
	CounterTelemetryError:     "telemetry_error",
}

func (c Counter) String() string {
	if c < counterCount {
		return counterNames[c]
	}
	return "unknown"
}

// Metrics collects lightweight counters and latency stats.
type Metrics struct {
	eventCounts      [maxEventType + 1]uint64
	riskReasonCounts [maxRiskReason + 1]uint64
	counters         [counterCount]uint64

	pairingLatency  LatencyStats
	riskEvalLatency LatencyStats
	tickLatency     LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	EventCounts      map[schema.EventType]uint64
	RiskReasonCounts map[schema.RiskReason]uint64
	Counters         map[Counter]uint64
	PairingLatency   LatencySnapshot
	RiskEvalLatency  LatencySnapshot
	TickLatency      LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Inc increments one of the named counters.
func (m *Metrics) Inc(c Counter) {
	if m == nil || c >= counterCount {
		return
	}
	atomic.AddUint64(&m.counters[c], 1)
}

// Count returns the current value of a counter.
func (m *Metrics) Count(c Counter) uint64 {
	if m == nil || c >= counterCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[c])
}

// ObserveEvent increments counters and tracks event latency when timestamps are present.
func (m *Metrics) ObserveEvent(header schema.EventHeader) {
	if m == nil {
		return
	}
	idx := int(header.Type)
	if idx >= 0 && idx < len(m.eventCounts) {
		atomic.AddUint64(&m.eventCounts[idx], 1)
	}
}

// IncRiskReason increments the risk reason counter.
func (m *Metrics) IncRiskReason(reason schema.RiskReason) {
	if m == nil {
		return
	}
	idx := int(reason)
	if idx >= 0 && idx < len(m.riskReasonCounts) {
		atomic.AddUint64(&m.riskReasonCounts[idx], 1)
	}
}

// ObservePairing measures the time between the first half and the completed pair.
func (m *Metrics) ObservePairing(d time.Duration) {
	if m == nil {
		return
	}
	m.pairingLatency.Observe(d)
}

// ObserveRiskEval measures risk evaluation latency.
func (m *Metrics) ObserveRiskEval(d time.Duration) {
	if m == nil {
		return
	}
	m.riskEvalLatency.Observe(d)
}

// ObserveTick measures one full tick of the core engine.
func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	eventCounts := make(map[schema.EventType]uint64)
	for i := range m.eventCounts {
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			eventCounts[schema.EventType(i)] = v
		}
	}
	riskCounts := make(map[schema.RiskReason]uint64)
	for i := range m.riskReasonCounts {
		if v := atomic.LoadUint64(&m.riskReasonCounts[i]); v > 0 {
			riskCounts[schema.RiskReason(i)] = v
		}
	}
	counters := make(map[Counter]uint64, counterCount)
	for i := range m.counters {
		counters[Counter(i)] = atomic.LoadUint64(&m.counters[i])
	}
	return Snapshot{
		EventCounts:      eventCounts,
		RiskReasonCounts: riskCounts,
		Counters:         counters,
		PairingLatency:   m.pairingLatency.Snapshot(),
		RiskEvalLatency:  m.riskEvalLatency.Snapshot(),
		TickLatency:      m.tickLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		cur := atomic.LoadUint64(&l.min)
		if cur != 0 && nanos >= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, cur, nanos) {
			break
		}
	}

	for {
		cur := atomic.LoadUint64(&l.max)
		if nanos <= cur {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, cur, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(sum / count),
	}
}
