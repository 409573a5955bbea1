package ledger

import (
	"time"

	"github.com/yanun0323/errors"

	"hftcore/internal/schema"
	"hftcore/pkg/exception"
)

// PendingIntent is the placeholder for a leg the broker has not confirmed yet.
type PendingIntent struct {
	CorrelationID string
	Record        Handle
	Kind          schema.LegKind
	Action        schema.OrderAction
	Quantity      schema.Quantity
	// Ready allows the sweep to submit the leg. Exit intents become ready once the entry is confirmed.
	Ready bool
	// Sent is set once the leg was handed to the bridge.
	Sent       bool
	Superseded bool
	CreatedAt  time.Time
	SentAt     time.Time
}

// IntentQueue is a FIFO of pending intents indexed by correlation id.
type IntentQueue struct {
	items []*PendingIntent
	index map[string]*PendingIntent
}

// NewIntentQueue returns an empty queue.
func NewIntentQueue() *IntentQueue {
	return &IntentQueue{index: make(map[string]*PendingIntent)}
}

// Enqueue appends pi.
func (q *IntentQueue) Enqueue(pi PendingIntent) (*PendingIntent, error) {
	if pi.CorrelationID == "" {
		return nil, exception.ErrOrderEmptyCorrelation
	}
	if _, ok := q.index[pi.CorrelationID]; ok {
		return nil, errors.Wrapf(exception.ErrOrderDuplicateLeg, "intent %s", pi.CorrelationID)
	}
	p := &pi
	q.items = append(q.items, p)
	q.index[pi.CorrelationID] = p
	return p, nil
}

// Get returns the intent for id, superseded or not, until it is drained.
func (q *IntentQueue) Get(id string) (*PendingIntent, bool) {
	p, ok := q.index[id]
	return p, ok
}

// Supersede marks id for removal at the next Drain.
func (q *IntentQueue) Supersede(id string) bool {
	p, ok := q.index[id]
	if !ok || p.Superseded {
		return false
	}
	p.Superseded = true
	p.Ready = false
	return true
}

// Each visits live intents in FIFO order until fn returns false.
func (q *IntentQueue) Each(fn func(*PendingIntent) bool) {
	for _, p := range q.items {
		if p.Superseded {
			continue
		}
		if !fn(p) {
			return
		}
	}
}

// Drain removes superseded intents, keeping the FIFO order of the rest.
func (q *IntentQueue) Drain() int {
	kept := q.items[:0]
	n := 0
	for _, p := range q.items {
		if p.Superseded {
			delete(q.index, p.CorrelationID)
			n++
			continue
		}
		kept = append(kept, p)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	return n
}

// Len returns the number of queued intents, superseded ones included.
func (q *IntentQueue) Len() int {
	return len(q.items)
}

// IDs returns live correlation ids in FIFO order.
func (q *IntentQueue) IDs() []string {
	out := make([]string, 0, len(q.items))
	q.Each(func(p *PendingIntent) bool {
		out = append(out, p.CorrelationID)
		return true
	})
	return out
}
