package memory

import "sync"

// WorkingMemory is a bounded FIFO ring of recent items. It is transient by
// contract: never persisted, cleared on Initialize.
type WorkingMemory struct {
	mu       sync.Mutex
	items    []Item
	capacity int
	start    int
	size     int
}

// NewWorkingMemory creates a ring with the given capacity (default 10).
func NewWorkingMemory(capacity int) *WorkingMemory {
	if capacity <= 0 {
		capacity = 10
	}
	return &WorkingMemory{items: make([]Item, capacity), capacity: capacity}
}

// Push inserts an item, evicting the oldest on overflow.
func (w *WorkingMemory) Push(item Item) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.size < w.capacity {
		w.items[(w.start+w.size)%w.capacity] = item
		w.size++
		return
	}
	w.items[w.start] = item
	w.start = (w.start + 1) % w.capacity
}

// Recent returns items oldest-first.
func (w *WorkingMemory) Recent() []Item {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Item, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.items[(w.start+i)%w.capacity]
	}
	return out
}

// Clear empties the ring.
func (w *WorkingMemory) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.start, w.size = 0, 0
}

// Len returns the current item count.
func (w *WorkingMemory) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Capacity returns the fixed capacity.
func (w *WorkingMemory) Capacity() int { return w.capacity }
