package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaInsertGetRemove(t *testing.T) {
	a := NewArena[int](2)
	h1 := a.Insert(10)
	h2 := a.Insert(20)
	require.False(t, h1.IsZero())
	assert.Equal(t, 2, a.Len())

	v, ok := a.Get(h2)
	require.True(t, ok)
	assert.Equal(t, 20, *v)

	assert.True(t, a.Remove(h1))
	assert.False(t, a.Remove(h1))
	_, ok = a.Get(h1)
	assert.False(t, ok)
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 1, a.Tombstones())

	_, ok = a.Get(Handle{})
	assert.False(t, ok)
}

func TestArenaTombstoneNotReusedBeforeCompact(t *testing.T) {
	a := NewArena[string](4)
	h1 := a.Insert("a")
	a.Remove(h1)

	h2 := a.Insert("b")
	assert.NotEqual(t, h1.Index, h2.Index)

	assert.Equal(t, 1, a.Compact())
	assert.Equal(t, 0, a.Tombstones())

	h3 := a.Insert("c")
	assert.Equal(t, h1.Index, h3.Index)
	assert.NotEqual(t, h1.Gen, h3.Gen)

	_, ok := a.Get(h1)
	assert.False(t, ok, "stale handle must not resolve to the reused slot")
	v, ok := a.Get(h3)
	require.True(t, ok)
	assert.Equal(t, "c", *v)
}

func TestArenaEachRemoveDuringIteration(t *testing.T) {
	a := NewArena[int](8)
	for i := 0; i < 5; i++ {
		a.Insert(i)
	}

	seen := 0
	a.Each(func(h Handle, v *int) bool {
		seen++
		if *v%2 == 0 {
			a.Remove(h)
		}
		return true
	})
	assert.Equal(t, 5, seen)
	assert.Equal(t, 2, a.Len())
	assert.Equal(t, 3, a.Compact())

	var left []int
	a.Each(func(_ Handle, v *int) bool {
		left = append(left, *v)
		return true
	})
	assert.Equal(t, []int{1, 3}, left)
}

func TestArenaEachStops(t *testing.T) {
	a := NewArena[int](4)
	a.Insert(1)
	a.Insert(2)
	n := 0
	a.Each(func(Handle, *int) bool {
		n++
		return false
	})
	assert.Equal(t, 1, n)
}
