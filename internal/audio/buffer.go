package audio

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrNotPowerOfTwo is returned when a ring buffer is created with a capacity
// that is not a positive power of two.
var ErrNotPowerOfTwo = errors.New("capacity must be a positive power of two")

// RingBuffer is a fixed-capacity byte ring shared by exactly one writer and
// one reader. Writes and reads never block: they either transfer the whole
// request or nothing.
//
// The cursors are free-running byte counts, so
// ReadAvailable()+WriteAvailable() == Capacity() holds at every instant.
// The writer only advances the write cursor and the reader only the read
// cursor; using more than one writer or reader needs external locking.
type RingBuffer struct {
	name string
	data []byte
	mask uint64

	writePos atomic.Uint64
	readPos  atomic.Uint64

	overflows  atomic.Uint64
	underflows atomic.Uint64
}

// RingStats represents ring buffer state for monitoring
type RingStats struct {
	Name           string `json:"name"`
	Capacity       int    `json:"capacity"`
	ReadAvailable  int    `json:"read_available"`
	WriteAvailable int    `json:"write_available"`
	Overflows      uint64 `json:"overflows"`
	Underflows     uint64 `json:"underflows"`
}

// NewRingBuffer creates a ring buffer holding capacity bytes.
func NewRingBuffer(name string, capacity int) (*RingBuffer, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("ring buffer %s: %w, got %d", name, ErrNotPowerOfTwo, capacity)
	}

	return &RingBuffer{
		name: name,
		data: make([]byte, capacity),
		mask: uint64(capacity - 1),
	}, nil
}

// NextPowerOfTwo returns the smallest power of two >= n (1 for n <= 1).
func NextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Name returns the label the buffer was created with.
func (rb *RingBuffer) Name() string {
	return rb.name
}

// Capacity returns the total capacity of the buffer in bytes.
func (rb *RingBuffer) Capacity() int {
	return len(rb.data)
}

// ReadAvailable returns the number of bytes that can be read.
func (rb *RingBuffer) ReadAvailable() int {
	return int(rb.writePos.Load() - rb.readPos.Load())
}

// WriteAvailable returns the number of bytes that can be written.
func (rb *RingBuffer) WriteAvailable() int {
	return len(rb.data) - rb.ReadAvailable()
}

// Write copies p into the buffer. It returns false and leaves the buffer
// untouched when there is not enough free space for all of p.
func (rb *RingBuffer) Write(p []byte) bool {
	if len(p) == 0 {
		return true
	}

	w := rb.writePos.Load()
	r := rb.readPos.Load()
	if uint64(len(p)) > uint64(len(rb.data))-(w-r) {
		rb.overflows.Add(1)
		return false
	}

	start := w & rb.mask
	n := copy(rb.data[start:], p)
	if n < len(p) {
		copy(rb.data, p[n:])
	}

	rb.writePos.Store(w + uint64(len(p)))
	return true
}

// ReadInto fills dst from the buffer. It returns false and consumes nothing
// when fewer than len(dst) bytes are available.
func (rb *RingBuffer) ReadInto(dst []byte) bool {
	if len(dst) == 0 {
		return true
	}

	r := rb.readPos.Load()
	w := rb.writePos.Load()
	if uint64(len(dst)) > w-r {
		rb.underflows.Add(1)
		return false
	}

	start := r & rb.mask
	n := copy(dst, rb.data[start:])
	if n < len(dst) {
		copy(dst[n:], rb.data)
	}

	rb.readPos.Store(r + uint64(len(dst)))
	return true
}

// Read returns the next n bytes, or false when fewer are available.
func (rb *RingBuffer) Read(n int) ([]byte, bool) {
	buf := make([]byte, n)
	if !rb.ReadInto(buf) {
		return nil, false
	}
	return buf, true
}

// Reset discards all buffered data. It must not race with Read or Write.
func (rb *RingBuffer) Reset() {
	rb.readPos.Store(rb.writePos.Load())
}

// Stats returns a snapshot of the buffer counters.
func (rb *RingBuffer) Stats() RingStats {
	readable := rb.ReadAvailable()
	return RingStats{
		Name:           rb.name,
		Capacity:       len(rb.data),
		ReadAvailable:  readable,
		WriteAvailable: len(rb.data) - readable,
		Overflows:      rb.overflows.Load(),
		Underflows:     rb.underflows.Load(),
	}
}
