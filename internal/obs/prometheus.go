package obs

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/logs"
)

const namespace = "hftcore"

var (
	descCounter = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "core", "anomalies_total"),
		"Anomaly and flow counters by kind.",
		[]string{"kind"}, nil,
	)
	descEvents = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "journal", "events_total"),
		"Journaled events by type.",
		[]string{"type"}, nil,
	)
	descRisk = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "risk", "decisions_total"),
		"Risk decisions by reason.",
		[]string{"reason"}, nil,
	)
	descLatency = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "core", "latency_avg_seconds"),
		"Average latency by stage.",
		[]string{"stage"}, nil,
	)
	descLatencyMax = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "core", "latency_max_seconds"),
		"Maximum latency by stage.",
		[]string{"stage"}, nil,
	)
)

// Collector exports a Metrics snapshot to Prometheus on every scrape.
type Collector struct {
	m *Metrics
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector wraps m for registration with a Prometheus registry.
func NewCollector(m *Metrics) *Collector {
	return &Collector{m: m}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descCounter
	ch <- descEvents
	ch <- descRisk
	ch <- descLatency
	ch <- descLatencyMax
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.m.Snapshot()
	for kind, v := range snap.Counters {
		ch <- prometheus.MustNewConstMetric(descCounter, prometheus.CounterValue, float64(v), kind.String())
	}
	for typ, v := range snap.EventCounts {
		ch <- prometheus.MustNewConstMetric(descEvents, prometheus.CounterValue, float64(v), typ.String())
	}
	for reason, v := range snap.RiskReasonCounts {
		ch <- prometheus.MustNewConstMetric(descRisk, prometheus.CounterValue, float64(v), reason.String())
	}
	for stage, l := range map[string]LatencySnapshot{
		"pairing":   snap.PairingLatency,
		"risk_eval": snap.RiskEvalLatency,
		"tick":      snap.TickLatency,
	} {
		ch <- prometheus.MustNewConstMetric(descLatency, prometheus.GaugeValue, l.Avg.Seconds(), stage)
		ch <- prometheus.MustNewConstMetric(descLatencyMax, prometheus.GaugeValue, l.Max.Seconds(), stage)
	}
}

// Serve exposes /metrics for m on addr until ctx is done.
func Serve(ctx context.Context, addr string, m *Metrics) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(m)); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logs.Infof("metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
