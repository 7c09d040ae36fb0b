package scope

import (
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/hpsdr-server/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// tone returns n samples of a cosine completing cycles periods, encoded as
// 16-bit little-endian.
func tone(n, cycles int, amplitude float64) []byte {
	buf := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		v := amplitude * math.Cos(2*math.Pi*float64(cycles)*float64(i)/float64(n))
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(int16(v)))
	}
	return buf
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"size not power of two", func(c *Config) { c.Size = 1000 }, true},
		{"zero smooth", func(c *Config) { c.Smooth = 0 }, true},
		{"width above size", func(c *Config) { c.Width = 8192 }, true},
		{"zero width", func(c *Config) { c.Width = 0 }, true},
		{"negative period", func(c *Config) { c.Period = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestScopeFindsTone(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	var published []Spectrum
	cfg := Config{Size: 64, Smooth: 4, GainAdjust: 0, Width: 16, Period: 0}
	s, err := New(cfg, func(spec Spectrum) { published = append(published, spec) }, testLogger(), m)
	if err != nil {
		t.Fatal(err)
	}

	block := tone(64, 8, 16000)
	if s.AddFrame(block[:64]) {
		t.Fatal("Expected no spectrum from half a block")
	}
	if !s.AddFrame(block[64:]) {
		t.Fatal("Expected a spectrum once the block is complete")
	}

	spec, ok := s.Latest()
	if !ok {
		t.Fatal("Expected a latest spectrum")
	}
	if len(spec.Bins) != 16 {
		t.Fatalf("Expected 16 bins, got %d", len(spec.Bins))
	}

	// Cycle 8 of 64 lands on padded bin 16, group 16/4
	best := 0
	for i, v := range spec.Bins {
		if v > spec.Bins[best] {
			best = i
		}
	}
	if best != 4 {
		t.Errorf("Expected peak in group 4, got %d (%v)", best, spec.Bins)
	}

	if len(published) != 1 || published[0].Sequence != 1 {
		t.Errorf("Expected one published spectrum, got %d", len(published))
	}
	if got := testutil.ToFloat64(m.ScopeSpectra); got != 1 {
		t.Errorf("Expected 1 spectrum counted, got %v", got)
	}
}

func TestScopeSmoothingIsStable(t *testing.T) {
	cfg := Config{Size: 64, Smooth: 4, GainAdjust: 10, Width: 16, Period: 0}
	s, err := New(cfg, nil, testLogger(), nil)
	if err != nil {
		t.Fatal(err)
	}

	block := tone(64, 8, 16000)
	s.AddFrame(block)
	first, _ := s.Latest()

	for i := 0; i < 20; i++ {
		s.AddFrame(block)
	}
	last, _ := s.Latest()

	// A constant input keeps the averaged level constant
	for i := range first.Bins {
		if math.Abs(float64(first.Bins[i]-last.Bins[i])) > 1e-3 {
			t.Errorf("Bin %d drifted from %v to %v", i, first.Bins[i], last.Bins[i])
		}
	}
}

func TestScopePublishPeriod(t *testing.T) {
	var count int
	cfg := Config{Size: 64, Smooth: 1, Width: 8, Period: time.Hour}
	s, err := New(cfg, func(Spectrum) { count++ }, testLogger(), nil)
	if err != nil {
		t.Fatal(err)
	}

	block := tone(64, 4, 1000)
	for i := 0; i < 5; i++ {
		s.AddFrame(block)
	}
	if count != 1 {
		t.Errorf("Expected 1 publish within the period, got %d", count)
	}
}

func TestScopeSetDisplay(t *testing.T) {
	s, err := New(DefaultConfig(), nil, testLogger(), nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SetDisplay(0, time.Second); err == nil {
		t.Error("Expected error for zero width")
	}
	if err := s.SetDisplay(512, 50*time.Millisecond); err != nil {
		t.Fatalf("SetDisplay failed: %v", err)
	}
	if w, p := s.Display(); w != 512 || p != 50*time.Millisecond {
		t.Errorf("Expected 512/50ms, got %d/%s", w, p)
	}

	s.Reset()
	if _, ok := s.Latest(); ok {
		t.Error("Expected no spectrum after reset")
	}
}
