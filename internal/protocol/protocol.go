package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame layout constants. Both directions use the same 1032 byte frame:
// an 8 byte header followed by two 512 byte USB style sub-frames.
const (
	FrameSize        = 1032
	HeaderSize       = 8
	SubFrameSize     = 512
	SyncSize         = 3
	ControlSize      = 5
	PayloadSize      = 504
	FramePayloadSize = 2 * PayloadSize

	// Header field offsets
	SequenceOffset = 4

	// Sub-frame offsets
	SubFrame1SyncOffset    = 8
	SubFrame1ControlOffset = 11
	SubFrame1PayloadOffset = 16
	SubFrame2SyncOffset    = 520
	SubFrame2ControlOffset = 523
	SubFrame2PayloadOffset = 528

	// Wideband scope frames carry raw bytes after the header
	ScopePayloadSize = FrameSize - HeaderSize
)

// Marker and type bytes
const (
	SyncByte0      = 0xEF
	SyncByte1      = 0xFE
	SubFrameSync   = 0x7F
	PacketData     = 0x01
	PacketDiscover = 0x02
	PacketControl  = 0x04

	EP2 = 0x02 // PC to radio: audio, TX IQ and control bytes
	EP4 = 0x04 // radio to PC: wideband scope samples
	EP6 = 0x06 // radio to PC: receiver IQ and mic samples
)

// Sample format constants
const (
	BaseRate       = 48000
	IQBytes        = 6 // 24 bit I + 24 bit Q
	MicBytes       = 2
	OutSampleBytes = 8 // 16 bit L, R, I, Q
	MaxReceivers   = 3
)

var (
	ErrFrameSize  = errors.New("invalid frame size")
	ErrSync       = errors.New("missing sync marker")
	ErrPacketType = errors.New("unexpected packet type")
	ErrEndpoint   = errors.New("unexpected endpoint")
)

// Header represents the 8-byte frame header
// Layout: [0xEF 0xFE][PacketType:1][Endpoint:1][Sequence:4]
type Header struct {
	PacketType uint8
	Endpoint   uint8
	Sequence   uint32
}

// Frame is a parsed view over a raw frame. Payload and Control slices alias
// the input buffer.
type Frame struct {
	Header  *Header
	Control [2][]byte // EP2/EP6 only
	Payload [2][]byte // EP2/EP6 only
	Scope   []byte    // EP4 only
}

// ParseHeader parses the 8-byte frame header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	if data[0] != SyncByte0 || data[1] != SyncByte1 {
		return nil, fmt.Errorf("%w: got 0x%02x%02x", ErrSync, data[0], data[1])
	}

	return &Header{
		PacketType: data[2],
		Endpoint:   data[3],
		Sequence:   binary.BigEndian.Uint32(data[SequenceOffset : SequenceOffset+4]),
	}, nil
}

// ParseFrame validates a complete frame and returns views over its parts.
func ParseFrame(data []byte) (*Frame, error) {
	if len(data) != FrameSize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrFrameSize, FrameSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}

	if header.PacketType != PacketData {
		return nil, fmt.Errorf("%w: 0x%02x", ErrPacketType, header.PacketType)
	}

	frame := &Frame{Header: header}

	switch header.Endpoint {
	case EP2, EP6:
		if !hasSubFrameSync(data[SubFrame1SyncOffset:]) || !hasSubFrameSync(data[SubFrame2SyncOffset:]) {
			return nil, fmt.Errorf("%w: sub-frame sync", ErrSync)
		}
		frame.Control[0] = data[SubFrame1ControlOffset:SubFrame1PayloadOffset]
		frame.Control[1] = data[SubFrame2ControlOffset:SubFrame2PayloadOffset]
		frame.Payload[0] = data[SubFrame1PayloadOffset : SubFrame1PayloadOffset+PayloadSize]
		frame.Payload[1] = data[SubFrame2PayloadOffset : SubFrame2PayloadOffset+PayloadSize]
	case EP4:
		frame.Scope = data[HeaderSize:]
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrEndpoint, header.Endpoint)
	}

	return frame, nil
}

// BuildFrame writes a data frame into dst, which must be FrameSize bytes.
// payload holds both sub-frame payloads back to back.
func BuildFrame(dst []byte, endpoint uint8, sequence uint32, cc1, cc2 [ControlSize]byte, payload []byte) error {
	if len(dst) != FrameSize {
		return fmt.Errorf("%w: destination must be %d bytes, got %d", ErrFrameSize, FrameSize, len(dst))
	}
	if len(payload) != FramePayloadSize {
		return fmt.Errorf("payload must be %d bytes, got %d", FramePayloadSize, len(payload))
	}

	dst[0] = SyncByte0
	dst[1] = SyncByte1
	dst[2] = PacketData
	dst[3] = endpoint
	binary.BigEndian.PutUint32(dst[SequenceOffset:], sequence)

	putSubFrame(dst[SubFrame1SyncOffset:SubFrame2SyncOffset], cc1, payload[:PayloadSize])
	putSubFrame(dst[SubFrame2SyncOffset:], cc2, payload[PayloadSize:])

	return nil
}

func putSubFrame(dst []byte, cc [ControlSize]byte, payload []byte) {
	dst[0], dst[1], dst[2] = SubFrameSync, SubFrameSync, SubFrameSync
	copy(dst[SyncSize:SyncSize+ControlSize], cc[:])
	copy(dst[SyncSize+ControlSize:], payload)
}

func hasSubFrameSync(b []byte) bool {
	return b[0] == SubFrameSync && b[1] == SubFrameSync && b[2] == SubFrameSync
}

// GroupsPerSubFrame returns how many IQ+Mic sample groups fit in one
// sub-frame payload for the given receiver count.
func GroupsPerSubFrame(numRX int) int {
	if numRX < 1 {
		return 0
	}
	return PayloadSize / (numRX*IQBytes + MicBytes)
}

// SamplesPerFrame returns IQ samples per receiver carried by one frame.
func SamplesPerFrame(numRX int) int {
	return 2 * GroupsPerSubFrame(numRX)
}

// OutSamplesPerFrame returns the number of L/R/I/Q samples in an outgoing frame.
func OutSamplesPerFrame() int {
	return FramePayloadSize / OutSampleBytes
}

// FramePeriodNanos returns the nanoseconds of signal carried by one
// outgoing frame at the base rate.
func FramePeriodNanos() int64 {
	return int64(OutSamplesPerFrame()) * 1e9 / BaseRate
}

// EndpointString converts an endpoint byte to a human-readable string
func EndpointString(ep uint8) string {
	switch ep {
	case EP2:
		return "EP2"
	case EP4:
		return "EP4"
	case EP6:
		return "EP6"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", ep)
	}
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	return fmt.Sprintf("Header{Type:0x%02x, Endpoint:%s, Sequence:%d}",
		h.PacketType, EndpointString(h.Endpoint), h.Sequence)
}
