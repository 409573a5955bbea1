package telemetry

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"

	"hftcore/internal/bus"
	"hftcore/internal/obs"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

const (
	defaultQueueSize      = 1024
	defaultPublishTimeout = 2 * time.Second
	defaultRedisChannel   = "hftcore:positions"
)

// Config describes the telemetry endpoints. Empty addresses disable the matching sink.
type Config struct {
	RedisAddr      string        `json:"redisAddr"`
	RedisChannel   string        `json:"redisChannel"`
	RedisOpenKey   string        `json:"redisOpenKey"`
	PostgresDSN    string        `json:"postgresDsn"`
	QueueSize      int           `json:"queueSize"`
	PublishTimeout time.Duration `json:"publishTimeout"`
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.RedisChannel == "" {
		c.RedisChannel = defaultRedisChannel
	}
	if c.RedisOpenKey == "" {
		c.RedisOpenKey = c.RedisChannel + ":open"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = defaultPublishTimeout
	}
	return c
}

// Sink receives every relayed message.
type Sink interface {
	Name() string
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Relay decouples the ledger hooks from slow sinks. Enqueue never blocks; a full queue drops.
type Relay struct {
	cfg     Config
	queue   *bus.Queue[Message]
	sinks   []Sink
	metrics *obs.Metrics
}

// NewRelay builds a relay over sinks.
func NewRelay(cfg Config, metrics *obs.Metrics, sinks ...Sink) (*Relay, error) {
	for _, s := range sinks {
		if s == nil {
			return nil, exception.ErrTelemetryNilSink
		}
	}
	cfg = cfg.WithDefaults()
	return &Relay{
		cfg:     cfg,
		queue:   bus.NewQueue[Message](cfg.QueueSize),
		sinks:   sinks,
		metrics: metrics,
	}, nil
}

// Opened enqueues a position-opened message. Safe on a nil relay.
func (r *Relay) Opened(ev schema.PositionOpened) {
	r.enqueue(FromOpened(ev))
}

// Closed enqueues a position-closed message. Safe on a nil relay.
func (r *Relay) Closed(ev schema.PositionClosed) {
	r.enqueue(FromClosed(ev))
}

func (r *Relay) enqueue(msg Message) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	switch err := r.queue.TryPublish(msg); {
	case err == nil:
	case stderrors.Is(err, bus.ErrQueueClosed):
		r.metrics.Inc(obs.CounterQueueClosed)
	default:
		r.metrics.Inc(obs.CounterQueueDrop)
		logs.Errorf("telemetry drop %s record %d: %v", msg.Kind, msg.RecordID, exception.ErrTelemetryQueueFull)
	}
}

// Pending returns the number of queued messages.
func (r *Relay) Pending() int {
	if r == nil {
		return 0
	}
	return r.queue.Len()
}

// Run delivers queued messages until ctx is done or Close drained the queue. Sinks are
// closed on return.
func (r *Relay) Run(ctx context.Context) error {
	defer r.closeSinks()
	r.queue.Run(ctx, func(msg Message) {
		r.deliver(ctx, msg)
	})
	return nil
}

// Close stops accepting messages; Run returns once the backlog is delivered.
func (r *Relay) Close() {
	if r == nil {
		return
	}
	r.queue.Close()
}

func (r *Relay) deliver(ctx context.Context, msg Message) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	defer cancel()

	var eg errgroup.Group
	for _, s := range r.sinks {
		eg.Go(func() error {
			if err := s.Publish(ctx, msg); err != nil {
				r.metrics.Inc(obs.CounterTelemetryError)
				return errors.Wrapf(err, "sink %s", s.Name())
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		logs.Errorf("telemetry %s record %d: %v", msg.Kind, msg.RecordID, err)
	}
}

func (r *Relay) closeSinks() {
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			logs.Errorf("close telemetry sink %s: %v", s.Name(), err)
		}
	}
}
