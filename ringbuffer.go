package serialtelnet

import (
	"fmt"
	"sync"
)

// MaxBufferSize is the largest capacity a RingBuffer can be given.
const MaxBufferSize = 0xFFFF

// allocate provides backing storage for a RingBuffer. Tests replace it to
// exercise the allocation failure paths.
var allocate = func(n int) ([]byte, error) {
	if n < 0 || n > MaxBufferSize {
		return nil, ErrAllocation
	}
	return make([]byte, n), nil
}

// RingBuffer is a fixed-capacity circular byte FIFO. A RingBuffer with
// capacity 0 is disabled: pushes are ignored and pops report ErrEmpty.
//
// The (used, read, write) triple is only ever changed under a short
// non-blocking lock, so one producer and one consumer may run on different
// goroutines. No lock is ever held across I/O.
type RingBuffer struct {
	mu   sync.Mutex
	data []byte
	used int
	rd   int
	wr   int
}

// NewRingBuffer creates a ring buffer holding up to capacity bytes.
func NewRingBuffer(capacity int) (*RingBuffer, error) {
	r := &RingBuffer{}
	if err := r.Resize(capacity); err != nil {
		return nil, err
	}
	return r, nil
}

// Cap returns the capacity, 0 when the buffer is disabled.
func (r *RingBuffer) Cap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

// Len returns the number of buffered bytes.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used
}

// Free returns the number of bytes that can be pushed without overwriting.
func (r *RingBuffer) Free() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data) - r.used
}

// Full reports whether the next Push would overwrite the oldest byte.
// A disabled buffer is never full.
func (r *RingBuffer) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data) > 0 && r.used == len(r.data)
}

// Push appends c. When the buffer is full the oldest byte is overwritten.
func (r *RingBuffer) Push(c byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.data)
	if n == 0 {
		return
	}
	r.data[r.wr] = c
	if r.used == n {
		r.rd = (r.rd + 1) % n
	} else {
		r.used++
	}
	r.wr = (r.wr + 1) % n
}

// TryPush appends c unless the buffer is full or disabled. It reports
// whether c was stored.
func (r *RingBuffer) TryPush(c byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.data)
	if r.used == n {
		return false
	}
	r.data[r.wr] = c
	r.wr = (r.wr + 1) % n
	r.used++
	return true
}

// Pop removes and returns the oldest byte.
func (r *RingBuffer) Pop() (byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used == 0 {
		return 0, ErrEmpty
	}
	c := r.data[r.rd]
	r.rd = (r.rd + 1) % len(r.data)
	r.used--
	return c, nil
}

// Peek returns the oldest byte without removing it.
func (r *RingBuffer) Peek() (byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used == 0 {
		return 0, ErrEmpty
	}
	return r.data[r.rd], nil
}

// Read moves up to len(p) of the oldest bytes into p and returns how many
// were moved. It never blocks and returns 0 when the buffer is empty.
func (r *RingBuffer) Read(p []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := min(len(p), r.used)
	for i := 0; i < n; {
		chunk := copy(p[i:n], r.data[r.rd:])
		r.rd = (r.rd + chunk) % len(r.data)
		i += chunk
	}
	r.used -= n
	if r.used == 0 {
		r.rd, r.wr = 0, 0
	}
	return n
}

// Snapshot returns a copy of the buffered bytes, oldest first.
func (r *RingBuffer) Snapshot() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.linearLocked(r.used)
}

// Reset discards all buffered bytes.
func (r *RingBuffer) Reset() {
	r.mu.Lock()
	r.used, r.rd, r.wr = 0, 0, 0
	r.mu.Unlock()
}

// Resize changes the capacity. The most recently written bytes that fit in
// the new capacity are kept, in order. A capacity of 0 disables the buffer
// and releases its storage. If storage cannot be allocated the buffer is
// left unchanged and an error wrapping ErrAllocation is returned.
func (r *RingBuffer) Resize(capacity int) error {
	if capacity == r.Cap() {
		return nil
	}
	if capacity == 0 {
		r.mu.Lock()
		r.data = nil
		r.used, r.rd, r.wr = 0, 0, 0
		r.mu.Unlock()
		return nil
	}
	buf, err := allocate(capacity)
	if err != nil {
		return fmt.Errorf("resize ring buffer to %d: %w", capacity, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	keep := min(r.used, capacity)
	copy(buf, r.linearLocked(keep))
	r.data = buf
	r.used = keep
	r.rd = 0
	r.wr = keep % capacity
	return nil
}

// resizeHalving tries size, halving it after every allocation failure. Once
// the size would drop below floor, floor is tried a last time.
func (r *RingBuffer) resizeHalving(size, floor int) (int, error) {
	for {
		err := r.Resize(size)
		if err == nil {
			return size, nil
		}
		size >>= 1
		if size < floor {
			if err := r.Resize(floor); err != nil {
				return 0, err
			}
			return floor, nil
		}
	}
}

// linearLocked copies the newest n buffered bytes, oldest first.
func (r *RingBuffer) linearLocked(n int) []byte {
	out := make([]byte, n)
	if n == 0 {
		return out
	}
	start := (r.rd + r.used - n) % len(r.data)
	first := copy(out, r.data[start:])
	if first < n {
		copy(out[first:], r.data[:n-first])
	}
	return out
}
