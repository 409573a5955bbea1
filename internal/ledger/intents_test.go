package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

func TestIntentQueueFIFODrain(t *testing.T) {
	q := NewIntentQueue()
	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := q.Enqueue(PendingIntent{CorrelationID: id, Kind: schema.LegKindEntry, Ready: true})
		require.NoError(t, err)
	}

	assert.True(t, q.Supersede("b"))
	assert.False(t, q.Supersede("b"))
	assert.True(t, q.Supersede("d"))

	p, ok := q.Get("b")
	require.True(t, ok, "superseded intents stay addressable until drained")
	assert.False(t, p.Ready)

	assert.Equal(t, []string{"a", "c"}, q.IDs())
	assert.Equal(t, 4, q.Len())

	assert.Equal(t, 2, q.Drain())
	assert.Equal(t, 2, q.Len())
	_, ok = q.Get("b")
	assert.False(t, ok)
	assert.Equal(t, []string{"a", "c"}, q.IDs())
	assert.Equal(t, 0, q.Drain())
}

func TestIntentQueueRejects(t *testing.T) {
	q := NewIntentQueue()
	_, err := q.Enqueue(PendingIntent{})
	assert.ErrorIs(t, err, exception.ErrOrderEmptyCorrelation)

	_, err = q.Enqueue(PendingIntent{CorrelationID: "x"})
	require.NoError(t, err)
	_, err = q.Enqueue(PendingIntent{CorrelationID: "x"})
	assert.ErrorIs(t, err, exception.ErrOrderDuplicateLeg)
}

func TestIntentQueueEachMutates(t *testing.T) {
	q := NewIntentQueue()
	_, _ = q.Enqueue(PendingIntent{CorrelationID: "a"})
	_, _ = q.Enqueue(PendingIntent{CorrelationID: "b"})
	q.Each(func(p *PendingIntent) bool {
		p.Sent = true
		return true
	})
	a, _ := q.Get("a")
	b, _ := q.Get("b")
	assert.True(t, a.Sent)
	assert.True(t, b.Sent)
}
