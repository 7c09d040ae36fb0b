// Package scope turns the raw ADC samples carried by EP4 frames into a
// smoothed wideband power spectrum.
package scope

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"

	"github.com/skypro1111/hpsdr-server/internal/metrics"
)

const (
	DefaultSize       = 4096
	DefaultSmooth     = 10
	DefaultGainAdjust = 85.0
	DefaultWidth      = 1024
	DefaultPeriod     = 100 * time.Millisecond

	sampleBytes = 2
	inputScale  = 1.0 / (1 << 15)
	powerFloor  = 1e-180
)

// Config holds the spectrum geometry.
type Config struct {
	Size       int           // raw samples per FFT
	Smooth     int           // running average length in spectra
	GainAdjust float64       // dB subtracted from every bin
	Width      int           // points per published spectrum
	Period     time.Duration // minimum interval between publishes
}

// DefaultConfig returns a 4096 sample scope reduced to 1024 points.
func DefaultConfig() Config {
	return Config{
		Size:       DefaultSize,
		Smooth:     DefaultSmooth,
		GainAdjust: DefaultGainAdjust,
		Width:      DefaultWidth,
		Period:     DefaultPeriod,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Size <= 0 || c.Size&(c.Size-1) != 0 {
		return fmt.Errorf("scope size must be a positive power of two, got %d", c.Size)
	}
	if c.Smooth <= 0 {
		return fmt.Errorf("scope smooth must be positive, got %d", c.Smooth)
	}
	return validateDisplay(c.Size, c.Width, c.Period)
}

func validateDisplay(size, width int, period time.Duration) error {
	if width <= 0 || width > size {
		return fmt.Errorf("scope width must be between 1 and %d, got %d", size, width)
	}
	if period < 0 {
		return fmt.Errorf("scope period must not be negative, got %s", period)
	}
	return nil
}

// Spectrum is one published display line in dB, lowest frequency first.
type Spectrum struct {
	Sequence uint64    `json:"sequence"`
	Time     time.Time `json:"time"`
	Bins     []float32 `json:"bins"`
}

// PublishFunc receives each spectrum that passes the publish period.
type PublishFunc func(Spectrum)

// Scope accumulates EP4 payloads until a full block of Size samples is
// available, then computes and smooths its spectrum. AddFrame is called
// from the frame reader only; the display accessors may be called from
// any goroutine.
type Scope struct {
	size       int
	smoothN    int
	gainAdjust float64

	fft     *fourier.FFT
	window  []float64
	acc     []float64
	fill    int
	padded  []float64
	coeffs  []complex128
	results []float64
	smooth  []float64
	count   int

	publish PublishFunc
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu          sync.RWMutex
	width       int
	period      time.Duration
	latest      Spectrum
	hasLatest   bool
	lastPublish time.Time
	sequence    uint64
}

// New creates a scope. publish may be nil.
func New(cfg Config, publish PublishFunc, logger *slog.Logger, m *metrics.Metrics) (*Scope, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Zero padding to twice the block doubles the bin density.
	n := 2 * cfg.Size

	win := make([]float64, cfg.Size)
	for i := range win {
		win[i] = 1
	}
	window.Hann(win)

	return &Scope{
		size:       cfg.Size,
		smoothN:    cfg.Smooth,
		gainAdjust: cfg.GainAdjust,
		fft:        fourier.NewFFT(n),
		window:     win,
		acc:        make([]float64, cfg.Size),
		padded:     make([]float64, n),
		coeffs:     make([]complex128, n/2+1),
		results:    make([]float64, cfg.Size),
		smooth:     make([]float64, cfg.Size),
		publish:    publish,
		logger:     logger,
		metrics:    m,
		width:      cfg.Width,
		period:     cfg.Period,
	}, nil
}

// AddFrame appends one EP4 payload of 16-bit little-endian samples. It
// reports whether a spectrum was computed.
func (s *Scope) AddFrame(payload []byte) bool {
	computed := false
	for i := 0; i+sampleBytes <= len(payload); i += sampleBytes {
		s.acc[s.fill] = inputScale * float64(int16(binary.LittleEndian.Uint16(payload[i:])))
		s.fill++
		if s.fill == s.size {
			s.fill = 0
			s.process()
			computed = true
		}
	}
	return computed
}

// process computes one spectrum from the accumulated block.
func (s *Scope) process() {
	// Remove the DC offset then window
	mean := floats.Sum(s.acc) / float64(s.size)
	floats.AddConst(-mean, s.acc)
	floats.MulTo(s.padded[:s.size], s.acc, s.window)
	clear(s.padded[s.size:])

	s.fft.Coefficients(s.coeffs, s.padded)
	for i := range s.results {
		c := s.coeffs[i]
		s.results[i] = 10 * math.Log10(real(c)*real(c)+imag(c)*imag(c)+powerFloor)
	}

	// Running sum that settles at Smooth times the mean level
	if s.count < s.smoothN {
		floats.Add(s.smooth, s.results)
	} else {
		floats.Scale(1-1/float64(s.smoothN), s.smooth)
		floats.Add(s.smooth, s.results)
	}
	s.count++

	s.metrics.RecordScopeSpectrum()
	s.maybePublish()
}

func (s *Scope) maybePublish() {
	s.mu.Lock()
	now := time.Now()
	due := !s.hasLatest || now.Sub(s.lastPublish) >= s.period
	if !due {
		s.mu.Unlock()
		return
	}
	s.sequence++
	spec := Spectrum{
		Sequence: s.sequence,
		Time:     now,
		Bins:     s.reduce(s.width),
	}
	s.latest = spec
	s.hasLatest = true
	s.lastPublish = now
	publish := s.publish
	s.mu.Unlock()

	if publish != nil {
		publish(spec)
	}
}

// reduce takes the peak of each group of bins so the line is width
// points wide.
func (s *Scope) reduce(width int) []float32 {
	factor := s.size / width
	out := make([]float32, 0, width)
	div := float64(min(s.count, s.smoothN))
	for i := 0; i+factor <= s.size && len(out) < width; i += factor {
		peak := floats.Max(s.smooth[i:i+factor]) / div
		out = append(out, float32(peak-s.gainAdjust))
	}
	return out
}

// SetDisplay changes the published width and period.
func (s *Scope) SetDisplay(width int, period time.Duration) error {
	if err := validateDisplay(s.size, width, period); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width = width
	s.period = period
	s.logger.Info("Scope display changed",
		slog.Int("width", width),
		slog.Duration("period", period))
	return nil
}

// Display returns the published width and period.
func (s *Scope) Display() (int, time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.period
}

// Latest returns the most recent spectrum.
func (s *Scope) Latest() (Spectrum, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.hasLatest
}

// Reset discards partial blocks and the smoothing history. It must not
// race with AddFrame.
func (s *Scope) Reset() {
	s.fill = 0
	s.count = 0
	clear(s.smooth)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasLatest = false
	s.latest = Spectrum{}
}
