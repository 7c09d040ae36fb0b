package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

const wavHeaderSize = 44

// WAVHeader represents the header structure of a PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

func newWAVHeader(channels, sampleRate int, dataSize uint32) WAVHeader {
	const bitsPerSample = 16
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(channels) * bitsPerSample / 8,
		BlockAlign:    uint16(channels) * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

var errRecorderClosed = errors.New("recorder closed")

// WAVRecorder streams little-endian PCM-16 data into a WAV file. The header
// is written with a zero data size and patched on Close.
type WAVRecorder struct {
	mu         sync.Mutex
	path       string
	channels   int
	sampleRate int
	file       *os.File
	written    uint32
}

// NewWAVRecorder prepares a recorder; the file is created by Open.
func NewWAVRecorder(path string, channels, sampleRate int) *WAVRecorder {
	return &WAVRecorder{path: path, channels: channels, sampleRate: sampleRate}
}

// Open creates the file and writes a placeholder header.
func (r *WAVRecorder) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return nil
	}

	f, err := os.Create(r.path)
	if err != nil {
		return fmt.Errorf("failed to create recording %s: %w", r.path, err)
	}
	if err := binary.Write(f, binary.LittleEndian, newWAVHeader(r.channels, r.sampleRate, 0)); err != nil {
		f.Close()
		return fmt.Errorf("failed to write WAV header: %w", err)
	}

	r.file = f
	r.written = 0
	return nil
}

// Write appends raw PCM bytes.
func (r *WAVRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return 0, errRecorderClosed
	}
	n, err := r.file.Write(p)
	r.written += uint32(n)
	return n, err
}

// Close patches the header sizes and closes the file.
func (r *WAVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	defer func() { r.file = nil }()

	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to rewind recording: %w", err)
	}
	if err := binary.Write(r.file, binary.LittleEndian, newWAVHeader(r.channels, r.sampleRate, r.written)); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to finalise WAV header: %w", err)
	}
	return r.file.Close()
}

// BytesWritten returns the PCM bytes recorded so far.
func (r *WAVRecorder) BytesWritten() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}
