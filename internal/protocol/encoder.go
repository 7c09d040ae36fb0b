package protocol

import (
	"encoding/binary"
	"math"
)

// Encoder builds outgoing EP2 frames. Each frame consumes two control
// records from the store and one sequence number.
type Encoder struct {
	control  *ControlStore
	sequence *SequenceCounter
	frame    []byte
}

// NewEncoder creates an encoder over the given control store and counter.
func NewEncoder(control *ControlStore, sequence *SequenceCounter) *Encoder {
	return &Encoder{
		control:  control,
		sequence: sequence,
		frame:    make([]byte, FrameSize),
	}
}

// Encode builds a frame around payload, which holds both sub-frame
// payloads back to back. The returned slice is reused by the next call.
func (e *Encoder) Encode(payload []byte) ([]byte, error) {
	cc1 := e.control.NextForTransmission()
	cc2 := e.control.NextForTransmission()
	if err := BuildFrame(e.frame, EP2, e.sequence.Next(), cc1, cc2, payload); err != nil {
		return nil, err
	}
	return e.frame, nil
}

// ToInt16 converts a sample in [-1, 1] to int16, saturating out of range
// values.
func ToInt16(v float64) int16 {
	s := math.Round(v * OutScale)
	if s > math.MaxInt16 {
		return math.MaxInt16
	}
	if s < math.MinInt16 {
		return math.MinInt16
	}
	return int16(s)
}

// PackOutputSample writes one L, R, I, Q group as big-endian int16 values.
func PackOutputSample(dst []byte, left, right, i, q float64) {
	binary.BigEndian.PutUint16(dst[0:], uint16(ToInt16(left)))
	binary.BigEndian.PutUint16(dst[2:], uint16(ToInt16(right)))
	binary.BigEndian.PutUint16(dst[4:], uint16(ToInt16(i)))
	binary.BigEndian.PutUint16(dst[6:], uint16(ToInt16(q)))
}

// UnpackOutputSample is the inverse of PackOutputSample.
func UnpackOutputSample(src []byte) (left, right, i, q int16) {
	return int16(binary.BigEndian.Uint16(src[0:])),
		int16(binary.BigEndian.Uint16(src[2:])),
		int16(binary.BigEndian.Uint16(src[4:])),
		int16(binary.BigEndian.Uint16(src[6:]))
}
