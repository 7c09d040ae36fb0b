package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Sample scale factors
const (
	IQScale  = 1.0 / (1 << 23)
	MicScale = 1.0 / (1<<15 - 1)
	OutScale = 1 << 15
)

// Decoder separates the interleaved IQ and Mic bytes of incoming frames.
// It keeps the mic skip counter between frames, so one Decoder serves one
// stream.
type Decoder struct {
	numRX      int
	multiplier int
	nskip      int
	skip       int

	groups int
	iq     []byte
	mic    []byte
}

// SplitResult holds the contiguous byte runs extracted from one frame. The
// slices are owned by the Decoder and valid until the next Split.
type SplitResult struct {
	IQ           []byte
	Mic          []byte
	MicForwarded bool
}

// RateMultiplier returns rate/48000 for the supported rates.
func RateMultiplier(rate int) (int, error) {
	switch rate {
	case 48000, 96000, 192000, 384000:
		return rate / BaseRate, nil
	default:
		return 0, fmt.Errorf("unsupported sample rate %d", rate)
	}
}

// MicSkipCount returns how many frames are withheld after each forwarded
// mic run: 1 at x4, 3 at x8, 0 otherwise.
func MicSkipCount(multiplier int) int {
	switch multiplier {
	case 4:
		return 1
	case 8:
		return 3
	default:
		return 0
	}
}

// NewDecoder creates a decoder for numRX receivers at the given input rate.
func NewDecoder(numRX, rate int) (*Decoder, error) {
	if numRX < 1 || numRX > MaxReceivers {
		return nil, fmt.Errorf("receiver count must be between 1 and %d, got %d", MaxReceivers, numRX)
	}
	multiplier, err := RateMultiplier(rate)
	if err != nil {
		return nil, err
	}

	d := &Decoder{
		numRX:      numRX,
		multiplier: multiplier,
		nskip:      MicSkipCount(multiplier),
		groups:     GroupsPerSubFrame(numRX),
	}
	d.iq = make([]byte, d.IQBytesPerFrame())
	d.mic = make([]byte, d.MicBytesPerFrame())
	return d, nil
}

// IQBytesPerFrame returns the IQ run length produced by one frame.
func (d *Decoder) IQBytesPerFrame() int {
	return 2 * d.groups * d.numRX * IQBytes
}

// MicBytesPerFrame returns the mic run length of a forwarded frame. Above
// the base rate only the first sub-frame's mic groups are kept.
func (d *Decoder) MicBytesPerFrame() int {
	if d.multiplier == 1 {
		return 2 * d.groups * MicBytes
	}
	return d.groups * MicBytes
}

// Split walks both sub-frame payloads through the IQ/Mic state machine.
func (d *Decoder) Split(payload1, payload2 []byte) SplitResult {
	forward := d.skip == 0

	iqn, micn := 0, 0
	for sub, payload := range [2][]byte{payload1, payload2} {
		takeMic := forward && (sub == 0 || d.multiplier == 1)
		iqn, micn = d.splitSubFrame(payload, iqn, micn, takeMic)
	}

	if forward {
		d.skip = d.nskip
	} else {
		d.skip--
	}

	return SplitResult{
		IQ:           d.iq[:iqn],
		Mic:          d.mic[:micn],
		MicForwarded: forward,
	}
}

func (d *Decoder) splitSubFrame(payload []byte, iqn, micn int, takeMic bool) (int, int) {
	group := d.numRX*IQBytes + MicBytes
	for g := 0; g < d.groups; g++ {
		base := g * group
		iqn += copy(d.iq[iqn:], payload[base:base+d.numRX*IQBytes])
		if takeMic {
			micn += copy(d.mic[micn:], payload[base+d.numRX*IQBytes:base+group])
		}
	}
	return iqn, micn
}

// Reset clears the mic skip counter.
func (d *Decoder) Reset() {
	d.skip = 0
}

// Int24 sign-extends a big-endian 24-bit value.
func Int24(b []byte) int32 {
	return int32(uint32(b[0])<<24|uint32(b[1])<<16|uint32(b[2])<<8) >> 8
}

// DecodeIQ converts a contiguous IQ run into per-receiver interleaved I,Q
// arrays scaled to [-1, 1). It returns the samples decoded per receiver.
func DecodeIQ(raw []byte, numRX int, dst [][]float64) int {
	stride := numRX * IQBytes
	n := 0
	for base := 0; base+stride <= len(raw); base += stride {
		for rx := 0; rx < numRX; rx++ {
			off := base + rx*IQBytes
			dst[rx][2*n] = IQScale * float64(Int24(raw[off:]))
			dst[rx][2*n+1] = IQScale * float64(Int24(raw[off+3:]))
		}
		n++
	}
	return n
}

// DecodeMic converts a mic run into complex pairs with a zero imaginary part.
func DecodeMic(raw []byte, dst []float64) int {
	n := 0
	for i := 0; i+MicBytes <= len(raw); i += MicBytes {
		v := int16(binary.BigEndian.Uint16(raw[i:]))
		dst[2*n] = MicScale * float64(v)
		dst[2*n+1] = 0
		n++
	}
	return n
}

// EncodeIQ is the inverse of DecodeIQ.
func EncodeIQ(src [][]float64, numRX int, dst []byte) int {
	samples := len(src[0]) / 2
	off := 0
	for n := 0; n < samples; n++ {
		for rx := 0; rx < numRX; rx++ {
			putInt24(dst[off:], toInt24(src[rx][2*n]))
			putInt24(dst[off+3:], toInt24(src[rx][2*n+1]))
			off += IQBytes
		}
	}
	return off
}

// EncodeMic is the inverse of DecodeMic; only the real parts are used.
func EncodeMic(src []float64, dst []byte) int {
	off := 0
	for n := 0; n+1 < len(src); n += 2 {
		v := math.Round(src[n] / MicScale)
		binary.BigEndian.PutUint16(dst[off:], uint16(int16(clamp(v, math.MinInt16, math.MaxInt16))))
		off += MicBytes
	}
	return off
}

func toInt24(v float64) int32 {
	return int32(clamp(math.Round(v/IQScale), -(1 << 23), 1<<23-1))
}

func putInt24(b []byte, v int32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
