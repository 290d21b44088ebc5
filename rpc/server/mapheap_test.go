package server

import (
	"container/heap"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapHeapSetAndGet(t *testing.T) {
	h := newMapHeap()
	h.set("a", 100)
	h.set("b", 200)
	h.set("c", 50)

	require.Equal(t, 3, h.Len())
	assert.Equal(t, "c", h.items[0].key)

	p, ok := h.get("a")
	assert.True(t, ok)
	assert.Equal(t, int64(100), p)

	_, ok = h.get("missing")
	assert.False(t, ok)

	// an update restores the heap order
	h.set("c", 300)
	assert.Equal(t, "a", h.items[0].key)
	assert.Equal(t, 3, h.Len())
}

func TestMapHeapPopOlderThan(t *testing.T) {
	h := newMapHeap()
	for i, key := range []string{"a", "b", "c", "d"} {
		h.set(key, int64(i*10))
	}

	assert.Equal(t, 2, h.popOlderThan(10))
	assert.Equal(t, 2, h.Len())
	_, ok := h.get("b")
	assert.False(t, ok)
	_, ok = h.get("c")
	assert.True(t, ok)

	assert.Equal(t, 0, h.popOlderThan(-1))
	assert.Equal(t, 2, h.popOlderThan(1000))
	assert.Equal(t, 0, h.Len())
	assert.Empty(t, h.itemsMap)
}

func TestMapHeapOrder(t *testing.T) {
	h := newMapHeap()
	rng := rand.New(rand.NewSource(1))
	var priorities []int64
	for i := 0; i < 200; i++ {
		p := rng.Int63n(1000)
		priorities = append(priorities, p)
		h.set(string(rune('A'+i%26))+string(rune('a'+i/26)), p)
	}
	sort.Slice(priorities, func(i, j int) bool { return priorities[i] < priorities[j] })

	for _, want := range priorities {
		it := heap.Pop(h).(*heapItem)
		assert.Equal(t, want, it.priority)
		assert.Equal(t, -1, it.index)
	}
	assert.Empty(t, h.itemsMap)
}
