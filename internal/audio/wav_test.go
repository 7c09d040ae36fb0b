package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

type wavInfo struct {
	SampleRate uint32
	Channels   uint16
	DataSize   uint32
	NumFrames  uint32
}

// decodeWAV reads back a 16-bit PCM file written by WAVRecorder.
func decodeWAV(data []byte) ([]int16, *wavInfo, error) {
	if len(data) < wavHeaderSize {
		return nil, nil, fmt.Errorf("WAV data too short: %d bytes", len(data))
	}
	var h WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &h); err != nil {
		return nil, nil, err
	}
	if string(h.ChunkID[:]) != "RIFF" || string(h.Format[:]) != "WAVE" ||
		string(h.Subchunk1ID[:]) != "fmt " || string(h.Subchunk2ID[:]) != "data" {
		return nil, nil, fmt.Errorf("invalid WAV chunk layout")
	}
	if h.AudioFormat != 1 || h.BitsPerSample != 16 || h.BlockAlign == 0 {
		return nil, nil, fmt.Errorf("unsupported format %d/%d bit", h.AudioFormat, h.BitsPerSample)
	}
	if h.ChunkSize != 36+h.Subchunk2Size {
		return nil, nil, fmt.Errorf("chunk size %d does not match data size %d", h.ChunkSize, h.Subchunk2Size)
	}
	if wavHeaderSize+int(h.Subchunk2Size) > len(data) {
		return nil, nil, fmt.Errorf("WAV data truncated")
	}

	samples := make([]int16, h.Subchunk2Size/2)
	if err := binary.Read(bytes.NewReader(data[wavHeaderSize:]), binary.LittleEndian, samples); err != nil {
		return nil, nil, err
	}
	return samples, &wavInfo{
		SampleRate: h.SampleRate,
		Channels:   h.NumChannels,
		DataSize:   h.Subchunk2Size,
		NumFrames:  h.Subchunk2Size / uint32(h.BlockAlign),
	}, nil
}

func TestWAVHeaderFields(t *testing.T) {
	tests := []struct {
		channels, rate int
		dataSize       uint32
		byteRate       uint32
		blockAlign     uint16
	}{
		{1, 8000, 0, 16000, 2},
		{2, 48000, 1000, 192000, 4},
	}

	for _, tt := range tests {
		h := newWAVHeader(tt.channels, tt.rate, tt.dataSize)
		if h.ByteRate != tt.byteRate {
			t.Errorf("%d ch @ %d: expected byte rate %d, got %d", tt.channels, tt.rate, tt.byteRate, h.ByteRate)
		}
		if h.BlockAlign != tt.blockAlign {
			t.Errorf("%d ch @ %d: expected block align %d, got %d", tt.channels, tt.rate, tt.blockAlign, h.BlockAlign)
		}
		if h.ChunkSize != 36+tt.dataSize || h.Subchunk2Size != tt.dataSize {
			t.Errorf("Expected sizes %d/%d, got %d/%d", 36+tt.dataSize, tt.dataSize, h.ChunkSize, h.Subchunk2Size)
		}
		if binary.Size(h) != wavHeaderSize {
			t.Errorf("Expected %d byte header, got %d", wavHeaderSize, binary.Size(h))
		}
	}
}

func TestWAVRecorderEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.wav")
	rec := NewWAVRecorder(path, 1, 8000)
	if err := rec.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != wavHeaderSize {
		t.Errorf("Expected a bare %d byte header, got %d bytes", wavHeaderSize, len(data))
	}
	_, info, err := decodeWAV(data)
	if err != nil {
		t.Fatalf("Recorded file is invalid: %v", err)
	}
	if info.DataSize != 0 || info.SampleRate != 8000 || info.Channels != 1 {
		t.Errorf("Expected empty 8000Hz mono file, got %+v", info)
	}
}

func TestWAVRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.wav")
	rec := NewWAVRecorder(path, 2, 48000)

	if _, err := rec.Write([]byte{1, 2}); err == nil {
		t.Error("Expected write before open to fail")
	}
	if err := rec.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	pcm := []byte{0x01, 0x00, 0xFF, 0xFF, 0x02, 0x00, 0xFE, 0xFF}
	for i := 0; i < 3; i++ {
		if _, err := rec.Write(pcm); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if rec.BytesWritten() != uint32(3*len(pcm)) {
		t.Errorf("Expected %d bytes written, got %d", 3*len(pcm), rec.BytesWritten())
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	samples, info, err := decodeWAV(data)
	if err != nil {
		t.Fatalf("Recorded file is invalid: %v", err)
	}
	if info.NumFrames != 6 {
		t.Errorf("Expected 6 frames, got %d", info.NumFrames)
	}
	want := []int16{1, -1, 2, -2}
	for i, w := range want {
		if samples[i] != w {
			t.Errorf("Sample %d: expected %d, got %d", i, w, samples[i])
		}
	}

	if err := rec.Close(); err != nil {
		t.Errorf("Expected second close to be a no-op, got %v", err)
	}
}
