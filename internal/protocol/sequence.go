package protocol

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
)

// SequenceCounter generates 32-bit frame sequence numbers that wrap to 0
// after math.MaxUint32. Safe for concurrent use.
type SequenceCounter struct {
	next atomic.Uint32
}

// NewSequenceCounter returns a counter whose first value is start.
func NewSequenceCounter(start uint32) *SequenceCounter {
	c := &SequenceCounter{}
	c.next.Store(start)
	return c
}

// Next returns the current value and advances the counter.
func (c *SequenceCounter) Next() uint32 {
	return c.next.Add(1) - 1
}

// NextBytes returns Next() encoded big-endian.
func (c *SequenceCounter) NextBytes() [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], c.Next())
	return b
}

// Peek returns the value the next call to Next will produce.
func (c *SequenceCounter) Peek() uint32 {
	return c.next.Load()
}

// Reset sets the counter back to start.
func (c *SequenceCounter) Reset(start uint32) {
	c.next.Store(start)
}

// Outcome classifies a received sequence number.
type Outcome int

const (
	OutcomeBaseline Outcome = iota // first value seen
	OutcomeOK                      // exactly last+1
	OutcomeWrap                    // 0 after a non-zero value
	OutcomeGap                     // anything else; baseline moved to the received value
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBaseline:
		return "baseline"
	case OutcomeOK:
		return "ok"
	case OutcomeWrap:
		return "wrap"
	case OutcomeGap:
		return "gap"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Validation is the result of checking one received sequence number.
type Validation struct {
	Outcome  Outcome
	Expected uint32
	Got      uint32
}

// SequenceValidator tracks an incoming sequence stream. A gap never fails
// the stream; the baseline is resynchronised to the received value.
type SequenceValidator struct {
	mu      sync.Mutex
	started bool
	last    uint32

	accepted uint64
	wraps    uint64
	gaps     uint64
}

// SequenceStats represents validator counters for monitoring
type SequenceStats struct {
	Last     uint32 `json:"last"`
	Accepted uint64 `json:"accepted"`
	Wraps    uint64 `json:"wraps"`
	Gaps     uint64 `json:"gaps"`
}

// NewSequenceValidator creates a validator with no baseline.
func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{}
}

// Validate checks received against the expected next value.
func (v *SequenceValidator) Validate(received uint32) Validation {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.started {
		v.started = true
		v.last = received
		v.accepted++
		return Validation{Outcome: OutcomeBaseline, Expected: received, Got: received}
	}

	expected := v.last + 1
	result := Validation{Expected: expected, Got: received}

	switch {
	case received == expected:
		result.Outcome = OutcomeOK
		v.accepted++
	case received == 0 && v.last != 0:
		result.Outcome = OutcomeWrap
		v.accepted++
		v.wraps++
	default:
		result.Outcome = OutcomeGap
		v.gaps++
	}

	v.last = received
	return result
}

// Reset forgets the baseline so the next value is accepted unconditionally.
func (v *SequenceValidator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.started = false
	v.last = 0
}

// Stats returns validator counters.
func (v *SequenceValidator) Stats() SequenceStats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return SequenceStats{
		Last:     v.last,
		Accepted: v.accepted,
		Wraps:    v.wraps,
		Gaps:     v.gaps,
	}
}
