package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var (
	ErrNoSpace      = errors.New("no space in audio ring buffer")
	ErrOutputFailed = errors.New("audio output failed")
)

// SourceType selects which DSP stream feeds a local output.
type SourceType int

const (
	SourceAF SourceType = iota
	SourceCWSkimmer
	SourceWSPR
	SourceIQ
)

func (t SourceType) String() string {
	switch t {
	case SourceAF:
		return "AF"
	case SourceCWSkimmer:
		return "CWSkimmer"
	case SourceWSPR:
		return "WSPR"
	case SourceIQ:
		return "IQ"
	default:
		return fmt.Sprintf("SourceType(%d)", int(t))
	}
}

// UsesIQ reports whether the output is fed the receiver IQ rather than the
// demodulated audio.
func (t SourceType) UsesIQ() bool {
	return t == SourceCWSkimmer || t == SourceWSPR || t == SourceIQ
}

// ParseSourceType parses a source type name, case-insensitively.
func ParseSourceType(s string) (SourceType, error) {
	switch strings.ToLower(s) {
	case "af", "":
		return SourceAF, nil
	case "cwskimmer":
		return SourceCWSkimmer, nil
	case "wspr":
		return SourceWSPR, nil
	case "iq":
		return SourceIQ, nil
	default:
		return 0, fmt.Errorf("unknown audio source type %q", s)
	}
}

// Stream is the playback side of an Output: it drains the output ring once
// started.
type Stream interface {
	Start() error
	Stop() error
}

// Output is a local audio destination. The pipeline worker is its only
// producer; the attached Stream is its only consumer.
type Output struct {
	name string
	typ  SourceType
	ring *RingBuffer

	mu                  sync.Mutex
	left, right         int
	defaultLeft         int
	defaultRight        int
	stream              Stream
	prime, primeCounter int
	open                bool
	failed              bool
	delivered           uint64
	dropped             uint64
}

// OutputStats represents local output state for monitoring
type OutputStats struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Left      int    `json:"left"`
	Right     int    `json:"right"`
	Open      bool   `json:"open"`
	Failed    bool   `json:"failed"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// NewOutput creates an output reading DSP channels left and right. The
// stream is started after prime blocks have been delivered.
func NewOutput(name string, typ SourceType, left, right int, ring *RingBuffer, prime int) *Output {
	return &Output{
		name:         name,
		typ:          typ,
		ring:         ring,
		left:         left,
		right:        right,
		defaultLeft:  left,
		defaultRight: right,
		prime:        prime,
		primeCounter: prime,
	}
}

func (o *Output) Name() string      { return o.name }
func (o *Output) Type() SourceType  { return o.typ }
func (o *Output) Ring() *RingBuffer { return o.ring }

// Attach sets the stream that drains the ring.
func (o *Output) Attach(stream Stream) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stream = stream
}

// Channels returns the DSP channels feeding left and right.
func (o *Output) Channels() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.left, o.right
}

// SetChannels changes the DSP channels feeding the output.
func (o *Output) SetChannels(left, right int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.left, o.right = left, right
}

// RevertChannels restores the channels the output was created with.
func (o *Output) RevertChannels() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.left, o.right = o.defaultLeft, o.defaultRight
}

// Deliver queues one block of interleaved LE int16 stereo samples. Once the
// priming count is exhausted the stream is started; a start failure marks
// the output failed until Reset.
func (o *Output) Deliver(block []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.failed {
		return ErrOutputFailed
	}

	var err error
	if o.ring.Write(block) {
		o.delivered++
	} else {
		o.dropped++
		err = ErrNoSpace
	}

	if !o.open {
		if o.primeCounter <= 0 {
			if serr := o.startLocked(); serr != nil {
				return serr
			}
		}
		o.primeCounter--
	}
	return err
}

func (o *Output) startLocked() error {
	if o.stream == nil {
		o.open = true
		return nil
	}
	if err := o.stream.Start(); err != nil {
		o.failed = true
		return fmt.Errorf("%w: %s: %v", ErrOutputFailed, o.name, err)
	}
	o.open = true
	return nil
}

// Close stops the stream if it was started.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.open || o.stream == nil {
		o.open = false
		return nil
	}
	o.open = false
	return o.stream.Stop()
}

// Reset clears the failed state and rearms priming. The stream must have
// been closed.
func (o *Output) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = false
	o.open = false
	o.primeCounter = o.prime
	o.ring.Reset()
}

// Stats returns the output counters.
func (o *Output) Stats() OutputStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return OutputStats{
		Name:      o.name,
		Type:      o.typ.String(),
		Left:      o.left,
		Right:     o.right,
		Open:      o.open,
		Failed:    o.failed,
		Delivered: o.delivered,
		Dropped:   o.dropped,
	}
}

// FileStream drains an output ring into a WAV recording.
type FileStream struct {
	ring     *RingBuffer
	recorder *WAVRecorder
	interval time.Duration
	logger   *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewFileStream creates a stream that polls ring every interval.
func NewFileStream(ring *RingBuffer, recorder *WAVRecorder, interval time.Duration, logger *slog.Logger) *FileStream {
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	return &FileStream{
		ring:     ring,
		recorder: recorder,
		interval: interval,
		logger:   logger,
	}
}

// Start opens the recording and begins draining.
func (s *FileStream) Start() error {
	if s.done != nil {
		return nil
	}
	if err := s.recorder.Open(); err != nil {
		return err
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run()
	return nil
}

// Stop drains what is left and finalises the recording.
func (s *FileStream) Stop() error {
	if s.done == nil {
		return nil
	}
	close(s.stop)
	<-s.done
	s.done = nil

	s.drain(make([]byte, s.ring.Capacity()))
	return s.recorder.Close()
}

func (s *FileStream) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	buf := make([]byte, s.ring.Capacity())
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.drain(buf)
		}
	}
}

func (s *FileStream) drain(buf []byte) {
	// Whole stereo frames only
	n := s.ring.ReadAvailable() &^ 3
	if n == 0 {
		return
	}
	if !s.ring.ReadInto(buf[:n]) {
		return
	}
	if _, err := s.recorder.Write(buf[:n]); err != nil {
		s.logger.Error("Failed to write recording",
			slog.String("ring", s.ring.Name()),
			slog.String("error", err.Error()))
	}
}

// SwapInt16 copies 16-bit samples from src to dst reversing the byte order
// of each, converting between little- and big-endian. It returns the bytes
// written.
func SwapInt16(dst, src []byte) int {
	n := min(len(dst), len(src)) &^ 1
	for i := 0; i < n; i += 2 {
		dst[i], dst[i+1] = src[i+1], src[i]
	}
	return n
}
