package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueTryPublish(t *testing.T) {
	q := NewQueue[int](2)
	require.NoError(t, q.TryPublish(1))
	require.NoError(t, q.TryPublish(2))
	if err := q.TryPublish(3); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("publish mismatch: got %v want %v", err, ErrQueueFull)
	}
	assert.Equal(t, 2, q.Len())
}

func TestQueueCloseDrains(t *testing.T) {
	q := NewQueue[string](4)
	require.NoError(t, q.TryPublish("a"))
	require.NoError(t, q.TryPublish("b"))
	q.Close()
	q.Close()

	if err := q.TryPublish("c"); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("publish mismatch: got %v want %v", err, ErrQueueClosed)
	}

	var got []string
	q.Run(context.Background(), func(s string) { got = append(got, s) })
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestQueueRunStopsOnContext(t *testing.T) {
	q := NewQueue[Event](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q.Run(ctx, func(Event) { t.Fatalf("handler should not run") })
}
