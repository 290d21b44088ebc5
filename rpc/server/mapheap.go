package server

import (
	"container/heap"
)

// This file provides a priority queue with key based access, used to expire
// remembered authors in admission order.
//
// A binary heap ordered by priority is combined with a map from key to heap
// slot:
//   - O(log n) for Push, Pop and priority updates
//   - O(1) for key lookups
//
// The queue is not thread-safe, the suppressor guards it with its mutex.

// heapItem is an entry of the queue
type heapItem struct {
	key      string
	priority int64 // admission time in unix nanoseconds
	index    int   // index in the heap, maintained by the heap package
}

// mapHeap is a min-heap of heapItems by priority with key based access
type mapHeap struct {
	items    []*heapItem
	itemsMap map[string]*heapItem
}

func newMapHeap() *mapHeap {
	return &mapHeap{
		items:    make([]*heapItem, 0),
		itemsMap: make(map[string]*heapItem),
	}
}

// Len is part of heap.Interface
func (h *mapHeap) Len() int { return len(h.items) }

// Less is part of heap.Interface, the oldest item comes first
func (h *mapHeap) Less(i, j int) bool {
	return h.items[i].priority < h.items[j].priority
}

// Swap is part of heap.Interface
func (h *mapHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

// Push is part of heap.Interface, use set instead
func (h *mapHeap) Push(x interface{}) {
	it := x.(*heapItem)
	it.index = len(h.items)
	h.items = append(h.items, it)
	h.itemsMap[it.key] = it
}

// Pop is part of heap.Interface, use popOlderThan instead
func (h *mapHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // avoid memory leak
	it.index = -1
	h.items = old[:n-1]
	delete(h.itemsMap, it.key)
	return it
}

// set adds key or updates its priority
func (h *mapHeap) set(key string, priority int64) {
	if it, ok := h.itemsMap[key]; ok {
		it.priority = priority
		heap.Fix(h, it.index)
		return
	}
	heap.Push(h, &heapItem{key: key, priority: priority})
}

// get returns the priority of key
func (h *mapHeap) get(key string) (int64, bool) {
	it, ok := h.itemsMap[key]
	if !ok {
		return 0, false
	}
	return it.priority, true
}

// popOlderThan removes every item with a priority <= limit and returns how many were removed
func (h *mapHeap) popOlderThan(limit int64) int {
	removed := 0
	for len(h.items) > 0 && h.items[0].priority <= limit {
		heap.Pop(h)
		removed++
	}
	return removed
}
