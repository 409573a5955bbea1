package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"hftcore/internal/obs"
	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

var t0 = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

type memSink struct {
	mu     sync.Mutex
	msgs   []Message
	fail   error
	closed bool
}

func (s *memSink) Name() string { return "mem" }

func (s *memSink) Publish(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *memSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func opened() schema.PositionOpened {
	return schema.PositionOpened{
		RecordID:      7,
		CorrelationID: "c1",
		Direction:     schema.DirectionLong,
		Quantity:      2,
		EntryPrice:    decimal.RequireFromString("100.25"),
		PatternID:     "BREAKOUT",
		OpenedAt:      t0,
	}
}

func closed() schema.PositionClosed {
	return schema.PositionClosed{
		RecordID:   7,
		Direction:  schema.DirectionLong,
		Quantity:   2,
		EntryPrice: decimal.RequireFromString("100.25"),
		ExitPrice:  decimal.RequireFromString("103.25"),
		Realized:   decimal.NewFromInt(30),
		ExitReason: schema.ExitReasonTarget,
		PatternID:  "BREAKOUT",
		OpenedAt:   t0,
		ClosedAt:   t0.Add(time.Minute),
	}
}

func TestNewRelayRejectsNilSink(t *testing.T) {
	_, err := NewRelay(Config{}, nil, &memSink{}, nil)
	assert.ErrorIs(t, err, exception.ErrTelemetryNilSink)
}

func TestRelayDeliversInOrder(t *testing.T) {
	sink := &memSink{}
	relay, err := NewRelay(Config{}, obs.NewMetrics(), sink)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- relay.Run(context.Background()) }()

	relay.Opened(opened())
	relay.Closed(closed())
	relay.Close()
	require.NoError(t, <-done)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.msgs, 2)
	assert.Equal(t, KindPositionOpened, sink.msgs[0].Kind)
	assert.Equal(t, KindPositionClosed, sink.msgs[1].Kind)
	assert.Equal(t, "target", sink.msgs[1].ExitReason)
	assert.True(t, sink.msgs[1].Realized.Equal(decimal.NewFromInt(30)))
	assert.True(t, sink.closed)
}

func TestRelayDropsWhenFullAndCountsClosed(t *testing.T) {
	m := obs.NewMetrics()
	relay, err := NewRelay(Config{QueueSize: 1}, m, &memSink{})
	require.NoError(t, err)

	relay.Opened(opened())
	relay.Opened(opened())
	assert.Equal(t, uint64(1), m.Count(obs.CounterQueueDrop))
	assert.Equal(t, 1, relay.Pending())

	relay.Close()
	relay.Closed(closed())
	assert.Equal(t, uint64(1), m.Count(obs.CounterQueueClosed))
}

func TestRelaySinkErrorsAreCounted(t *testing.T) {
	m := obs.NewMetrics()
	good, bad := &memSink{}, &memSink{fail: errors.New("down")}
	relay, err := NewRelay(Config{}, m, good, bad)
	require.NoError(t, err)

	relay.Closed(closed())
	relay.Close()
	require.NoError(t, relay.Run(context.Background()))

	assert.Equal(t, uint64(1), m.Count(obs.CounterTelemetryError))
	assert.Len(t, good.msgs, 1)
}

func TestNilRelayIsInert(t *testing.T) {
	var relay *Relay
	relay.Opened(opened())
	relay.Close()
	assert.Zero(t, relay.Pending())
}

func TestRedisSink(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := miniredis.RunT(t)
	cfg := Config{RedisAddr: srv.Addr(), RedisChannel: "positions"}
	sink, err := DialRedis(ctx, cfg)
	require.NoError(t, err)
	defer sink.Close()

	sub := redis.NewClient(&redis.Options{Addr: srv.Addr()}).Subscribe(ctx, "positions")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)
	ch := sub.Channel()

	require.NoError(t, sink.Publish(ctx, FromOpened(opened())))
	select {
	case raw := <-ch:
		var got Message
		require.NoError(t, sonic.Unmarshal([]byte(raw.Payload), &got))
		assert.Equal(t, KindPositionOpened, got.Kind)
		assert.Equal(t, uint64(7), got.RecordID)
		assert.True(t, got.EntryPrice.Equal(decimal.RequireFromString("100.25")))
	case <-ctx.Done():
		t.Fatal("no pub/sub message")
	}
	assert.NotEmpty(t, srv.HGet("positions:open", "7"))

	require.NoError(t, sink.Publish(ctx, FromClosed(closed())))
	select {
	case raw := <-ch:
		assert.Contains(t, raw.Payload, `"kind":"position_closed"`)
	case <-ctx.Done():
		t.Fatal("no pub/sub message")
	}
	assert.Empty(t, srv.HGet("positions:open", "7"))
}

func TestRowFromMessage(t *testing.T) {
	row := rowFromMessage(FromOpened(opened()))
	assert.Equal(t, statusOpen, row.Status)
	assert.Nil(t, row.ClosedAt)
	assert.Equal(t, "long", row.Direction)

	row = rowFromMessage(FromClosed(closed()))
	assert.Equal(t, statusClosed, row.Status)
	require.NotNil(t, row.ClosedAt)
	assert.Equal(t, t0.Add(time.Minute), *row.ClosedAt)
	assert.Equal(t, "target", row.ExitReason)
	assert.True(t, row.Realized.Equal(decimal.NewFromInt(30)))
	assert.Equal(t, "trades", TradeRow{}.TableName())
}
