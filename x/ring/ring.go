// Package ring is a fixed-size history buffer that overwrites its oldest
// entry when full.
package ring

import "sync"

// Ring keeps the most recent Cap() values pushed into it. Indices are
// monotonic and masked on access, so size must be a power of two.
type Ring[T any] struct {
	mu   sync.Mutex
	buf  []T
	mask uint64
	rd   uint64 // oldest retained
	wr   uint64 // next write
}

func New[T any](size int) *Ring[T] {
	if size < 2 || (size&(size-1)) != 0 {
		panic("ring: size must be power of two >= 2")
	}
	return &Ring[T]{buf: make([]T, size), mask: uint64(size - 1)}
}

func (r *Ring[T]) Cap() int { return len(r.buf) }

// Push appends v, dropping the oldest value when the ring is full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	r.buf[r.wr&r.mask] = v
	r.wr++
	if r.wr-r.rd > uint64(len(r.buf)) {
		r.rd++
	}
	r.mu.Unlock()
}

func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.wr - r.rd)
}

// Dropped is how many values have been overwritten so far.
func (r *Ring[T]) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rd
}

// Last copies out up to n of the newest values, oldest first. n <= 0 means all.
func (r *Ring[T]) Last(n int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	avail := int(r.wr - r.rd)
	if n <= 0 || n > avail {
		n = avail
	}
	out := make([]T, 0, n)
	for i := r.wr - uint64(n); i != r.wr; i++ {
		out = append(out, r.buf[i&r.mask])
	}
	return out
}

// Reset empties the ring without releasing its storage.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.rd, r.wr = 0, 0
	r.mu.Unlock()
}
