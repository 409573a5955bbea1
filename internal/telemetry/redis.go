package telemetry

import (
	"context"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/errors"
)

// RedisSink publishes every message on a pub/sub channel and mirrors open positions
// into a hash keyed by record id.
type RedisSink struct {
	client  *redis.Client
	channel string
	openKey string
}

// NewRedisSink wraps an existing client.
func NewRedisSink(client *redis.Client, cfg Config) *RedisSink {
	cfg = cfg.WithDefaults()
	return &RedisSink{client: client, channel: cfg.RedisChannel, openKey: cfg.RedisOpenKey}
}

// DialRedis connects to addr and checks it with PING.
func DialRedis(ctx context.Context, cfg Config) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis %s", cfg.RedisAddr)
	}
	return NewRedisSink(client, cfg), nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, msg Message) error {
	payload, err := sonic.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}
	field := strconv.FormatUint(msg.RecordID, 10)

	pipe := s.client.TxPipeline()
	pipe.Publish(ctx, s.channel, payload)
	switch msg.Kind {
	case KindPositionOpened:
		pipe.HSet(ctx, s.openKey, field, payload)
	case KindPositionClosed:
		pipe.HDel(ctx, s.openKey, field)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "redis publish %s", msg.Kind)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
