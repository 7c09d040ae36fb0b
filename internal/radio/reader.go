package radio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/skypro1111/hpsdr-server/internal/audio"
	"github.com/skypro1111/hpsdr-server/internal/metrics"
	"github.com/skypro1111/hpsdr-server/internal/pipeline"
	"github.com/skypro1111/hpsdr-server/internal/protocol"
	"github.com/skypro1111/hpsdr-server/internal/scope"
)

const (
	readTimeout = time.Second

	// Large enough to see oversized datagrams instead of truncating them
	readBufferSize = 2048
)

var (
	ErrRingFull = errors.New("no write space in ring buffer")
	ErrDropped  = errors.New("frame dropped")
)

// ReaderOptions configures a FrameReader.
type ReaderOptions struct {
	Decoder  *protocol.Decoder
	IQRing   *audio.RingBuffer
	MicRing  *audio.RingBuffer
	LocalMic *audio.RingBuffer // replaces the radio mic when set
	Notifier *pipeline.Notifier
	Scope    *scope.Scope

	// OnFrame runs after every EP6 frame whose IQ reached the ring. The
	// writer hooks in here when it is driven by the receive stream.
	OnFrame func()

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// FrameReader validates incoming frames and feeds the pipeline rings. It
// is used from one goroutine only.
type FrameReader struct {
	decoder  *protocol.Decoder
	iqRing   *audio.RingBuffer
	micRing  *audio.RingBuffer
	localMic *audio.RingBuffer
	notifier *pipeline.Notifier
	scope    *scope.Scope
	onFrame  func()
	logger   *slog.Logger
	metrics  *metrics.Metrics

	ep6 *protocol.SequenceValidator
	ep4 *protocol.SequenceValidator

	localRaw []byte
	localBE  []byte

	framesReceived atomic.Uint64
	framesDropped  atomic.Uint64
	ringOverflows  atomic.Uint64
	scopeFrames    atomic.Uint64
}

// ReaderStatistics represents frame reader counters for monitoring
type ReaderStatistics struct {
	FramesReceived uint64                 `json:"frames_received"`
	FramesDropped  uint64                 `json:"frames_dropped"`
	RingOverflows  uint64                 `json:"ring_overflows"`
	ScopeFrames    uint64                 `json:"scope_frames"`
	EP6Sequence    protocol.SequenceStats `json:"ep6_sequence"`
	EP4Sequence    protocol.SequenceStats `json:"ep4_sequence"`
}

// NewFrameReader creates a reader. Decoder, rings and notifier are
// required.
func NewFrameReader(opts ReaderOptions) (*FrameReader, error) {
	if opts.Decoder == nil || opts.IQRing == nil || opts.MicRing == nil || opts.Notifier == nil {
		return nil, fmt.Errorf("frame reader needs a decoder, both rings and a notifier")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	micLen := opts.Decoder.MicBytesPerFrame()
	return &FrameReader{
		decoder:  opts.Decoder,
		iqRing:   opts.IQRing,
		micRing:  opts.MicRing,
		localMic: opts.LocalMic,
		notifier: opts.Notifier,
		scope:    opts.Scope,
		onFrame:  opts.OnFrame,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		ep6:      protocol.NewSequenceValidator(),
		ep4:      protocol.NewSequenceValidator(),
		localRaw: make([]byte, micLen),
		localBE:  make([]byte, micLen),
	}, nil
}

// HandleFrame processes one received datagram. Frames that fail
// validation are counted and dropped; an error is returned so callers can
// tell what happened, but none of them stop the stream.
func (r *FrameReader) HandleFrame(data []byte) error {
	frame, err := protocol.ParseFrame(data)
	if err != nil {
		r.drop(dropReason(err))
		return fmt.Errorf("%w: %w", ErrDropped, err)
	}

	endpoint := protocol.EndpointString(frame.Header.Endpoint)
	switch frame.Header.Endpoint {
	case protocol.EP6:
		r.framesReceived.Add(1)
		r.metrics.RecordFrameReceived(endpoint)
		r.checkSequence(r.ep6, endpoint, frame.Header.Sequence)
		if err := r.handleIQ(frame); err != nil {
			return err
		}
		if r.onFrame != nil {
			r.onFrame()
		}
		return nil

	case protocol.EP4:
		if r.scope == nil {
			return nil
		}
		r.scopeFrames.Add(1)
		r.metrics.RecordFrameReceived(endpoint)
		r.checkSequence(r.ep4, endpoint, frame.Header.Sequence)
		r.scope.AddFrame(frame.Scope)
		return nil

	default:
		r.drop("endpoint")
		return fmt.Errorf("%w: %w: %s", ErrDropped, protocol.ErrEndpoint, endpoint)
	}
}

func (r *FrameReader) handleIQ(frame *protocol.Frame) error {
	split := r.decoder.Split(frame.Payload[0], frame.Payload[1])

	micNeeded := 0
	if split.MicForwarded {
		micNeeded = len(split.Mic)
	}

	// The IQ and mic runs are written together or not at all, and local
	// mic audio is only consumed once both fit.
	if r.iqRing.WriteAvailable() < len(split.IQ) {
		return r.overflow(r.iqRing)
	}
	if r.micRing.WriteAvailable() < micNeeded {
		return r.overflow(r.micRing)
	}

	r.iqRing.Write(split.IQ)
	if micNeeded > 0 {
		mic := split.Mic
		if r.localMic != nil {
			mic = r.takeLocalMic(micNeeded)
		}
		r.micRing.Write(mic)
	}
	r.notifier.Notify()
	return nil
}

// takeLocalMic returns n bytes of big-endian mic samples from the local
// input, or silence if the input has not produced enough yet.
func (r *FrameReader) takeLocalMic(n int) []byte {
	raw := r.localRaw[:n]
	if !r.localMic.ReadInto(raw) {
		clear(raw)
	}
	audio.SwapInt16(r.localBE[:n], raw)
	return r.localBE[:n]
}

func (r *FrameReader) overflow(ring *audio.RingBuffer) error {
	r.ringOverflows.Add(1)
	r.metrics.RecordRingOverflow(ring.Name())
	r.logger.Warn("No write space in ring buffer", slog.String("ring", ring.Name()))
	return fmt.Errorf("%w: %s", ErrRingFull, ring.Name())
}

func (r *FrameReader) checkSequence(v *protocol.SequenceValidator, endpoint string, seq uint32) {
	result := v.Validate(seq)
	switch result.Outcome {
	case protocol.OutcomeGap:
		r.metrics.RecordSequenceEvent(endpoint, result.Outcome.String())
		r.logger.Warn("Sequence gap",
			slog.String("endpoint", endpoint),
			slog.Uint64("expected", uint64(result.Expected)),
			slog.Uint64("got", uint64(result.Got)))
	case protocol.OutcomeWrap:
		r.metrics.RecordSequenceEvent(endpoint, result.Outcome.String())
		r.logger.Debug("Sequence wrapped", slog.String("endpoint", endpoint))
	}
}

func (r *FrameReader) drop(reason string) {
	r.framesDropped.Add(1)
	r.metrics.RecordFrameDropped(reason)
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrFrameSize):
		return "size"
	case errors.Is(err, protocol.ErrSync):
		return "sync"
	case errors.Is(err, protocol.ErrPacketType):
		return "type"
	case errors.Is(err, protocol.ErrEndpoint):
		return "endpoint"
	default:
		return "invalid"
	}
}

// Run reads frames from conn until ctx is cancelled or conn is closed.
// The read deadline is refreshed every second so cancellation is noticed
// without traffic.
func (r *FrameReader) Run(ctx context.Context, conn net.PacketConn) error {
	buf := make([]byte, readBufferSize)

	r.logger.Info("Frame reader started", slog.String("local_addr", conn.LocalAddr().String()))
	defer r.logger.Info("Frame reader stopped",
		slog.Uint64("frames_received", r.framesReceived.Load()),
		slog.Uint64("frames_dropped", r.framesDropped.Load()),
		slog.Uint64("ring_overflows", r.ringOverflows.Load()))

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}

		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.logger.Error("Failed to read frame", slog.String("error", err.Error()))
			continue
		}

		if err := r.HandleFrame(buf[:n]); err != nil && errors.Is(err, ErrDropped) {
			r.logger.Debug("Frame dropped",
				slog.String("remote_addr", addr.String()),
				slog.Int("size", n),
				slog.String("error", err.Error()))
		}
	}
}

// Reset clears the sequence baselines and the decoder state.
func (r *FrameReader) Reset() {
	r.ep6.Reset()
	r.ep4.Reset()
	r.decoder.Reset()
}

// GetStatistics returns the reader counters.
func (r *FrameReader) GetStatistics() ReaderStatistics {
	return ReaderStatistics{
		FramesReceived: r.framesReceived.Load(),
		FramesDropped:  r.framesDropped.Load(),
		RingOverflows:  r.ringOverflows.Load(),
		ScopeFrames:    r.scopeFrames.Load(),
		EP6Sequence:    r.ep6.Stats(),
		EP4Sequence:    r.ep4.Stats(),
	}
}
