package ledger

import "fmt"

// Handle addresses an arena slot. A handle goes stale once its slot is reused.
type Handle struct {
	Index uint32
	Gen   uint32
}

// IsZero reports whether h was never issued.
func (h Handle) IsZero() bool {
	return h.Gen == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.Index, h.Gen)
}

type slotState uint8

const (
	slotEmpty slotState = iota
	slotLive
	slotTombstone
)

type entry[T any] struct {
	val   T
	gen   uint32
	state slotState
}

// Arena is a stable slot map. Remove only tombstones a slot; Compact frees tombstoned slots
// for reuse, so iteration never observes a slot being recycled.
type Arena[T any] struct {
	slots      []entry[T]
	free       []uint32
	live       int
	tombstones int
}

// NewArena returns an arena with room for capacity records.
func NewArena[T any](capacity int) *Arena[T] {
	return &Arena[T]{slots: make([]entry[T], 0, capacity)}
}

// Insert stores v and returns its handle.
func (a *Arena[T]) Insert(v T) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, entry[T]{})
		idx = uint32(len(a.slots) - 1)
	}
	e := &a.slots[idx]
	e.gen++
	e.val = v
	e.state = slotLive
	a.live++
	return Handle{Index: idx, Gen: e.gen}
}

// Get returns a pointer to the live value at h.
func (a *Arena[T]) Get(h Handle) (*T, bool) {
	if h.IsZero() || int(h.Index) >= len(a.slots) {
		return nil, false
	}
	e := &a.slots[h.Index]
	if e.state != slotLive || e.gen != h.Gen {
		return nil, false
	}
	return &e.val, true
}

// Remove tombstones the slot at h.
func (a *Arena[T]) Remove(h Handle) bool {
	if _, ok := a.Get(h); !ok {
		return false
	}
	a.slots[h.Index].state = slotTombstone
	a.live--
	a.tombstones++
	return true
}

// Compact releases every tombstoned slot and returns how many were released.
func (a *Arena[T]) Compact() int {
	if a.tombstones == 0 {
		return 0
	}
	var zero T
	n := 0
	for i := range a.slots {
		e := &a.slots[i]
		if e.state != slotTombstone {
			continue
		}
		e.val = zero
		e.state = slotEmpty
		a.free = append(a.free, uint32(i))
		n++
	}
	a.tombstones = 0
	return n
}

// Each calls fn for every live slot in index order until fn returns false.
func (a *Arena[T]) Each(fn func(Handle, *T) bool) {
	for i := range a.slots {
		e := &a.slots[i]
		if e.state != slotLive {
			continue
		}
		if !fn(Handle{Index: uint32(i), Gen: e.gen}, &e.val) {
			return
		}
	}
}

// Len returns the number of live slots.
func (a *Arena[T]) Len() int {
	return a.live
}

// Tombstones returns the number of slots awaiting compaction.
func (a *Arena[T]) Tombstones() int {
	return a.tombstones
}
