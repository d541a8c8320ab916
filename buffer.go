package audiostream

import (
	"sync"
	"sync/atomic"
)

// Buffer is a bounded FIFO of media units placed between the junction and a
// branch.
//
// Push never blocks: when Capacity units are pending the unit is dropped and
// Push returns false. Pop never blocks either; the consumer polls it from its
// processing cycle and may wait on Ready between polls.
//
// Thread-safety: safe for concurrent Push (upstream) and Pop (downstream).
type Buffer struct {
	mu     sync.Mutex
	units  []Unit
	head   int // index of the oldest pending unit
	count  int
	closed bool

	ready chan struct{}

	pushed  uint64
	dropped uint64
}

// NewBuffer creates a buffer holding at most capacity units.
// Capacity values below 1 are raised to 1.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		units: make([]Unit, capacity),
		ready: make(chan struct{}, 1),
	}
}

// Push appends u. Returns false if the buffer is full or closed.
func (b *Buffer) Push(u Unit) bool {
	b.mu.Lock()
	if b.closed || b.count == len(b.units) {
		b.mu.Unlock()
		atomic.AddUint64(&b.dropped, 1)
		return false
	}
	b.units[(b.head+b.count)%len(b.units)] = u
	b.count++
	b.mu.Unlock()

	atomic.AddUint64(&b.pushed, 1)
	b.signal()
	return true
}

// Pop removes and returns the oldest unit. Returns false when empty.
func (b *Buffer) Pop() (Unit, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return Unit{}, false
	}
	u := b.units[b.head]
	b.units[b.head] = Unit{} // release Data for GC
	b.head = (b.head + 1) % len(b.units)
	b.count--
	return u, true
}

// Close marks the end of the stream. Pending units stay poppable.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.signal()
}

// Drained reports whether the buffer is closed and empty; the consumer has
// seen every unit and may flush.
func (b *Buffer) Drained() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed && b.count == 0
}

// Ready is signalled after Push and Close. It carries no data; consumers
// must still Pop until empty.
func (b *Buffer) Ready() <-chan struct{} {
	return b.ready
}

// Len returns the number of pending units.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the capacity in units.
func (b *Buffer) Cap() int {
	return len(b.units)
}

// Dropped returns the number of units rejected by Push.
func (b *Buffer) Dropped() uint64 {
	return atomic.LoadUint64(&b.dropped)
}

// Pushed returns the number of units accepted by Push.
func (b *Buffer) Pushed() uint64 {
	return atomic.LoadUint64(&b.pushed)
}

func (b *Buffer) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}
