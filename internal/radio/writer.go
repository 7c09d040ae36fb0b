package radio

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/skypro1111/hpsdr-server/internal/audio"
	"github.com/skypro1111/hpsdr-server/internal/metrics"
	"github.com/skypro1111/hpsdr-server/internal/protocol"
)

// PrimeFrames is how many control frames are sent before the radio is
// started.
const PrimeFrames = 4

// Sender delivers an encoded frame to the radio.
type Sender interface {
	Send(frame []byte) error
}

// ConnSender sends frames over a packet connection to a fixed address.
type ConnSender struct {
	conn net.PacketConn
	addr net.Addr
}

// NewConnSender creates a sender writing to addr through conn.
func NewConnSender(conn net.PacketConn, addr net.Addr) *ConnSender {
	return &ConnSender{conn: conn, addr: addr}
}

func (s *ConnSender) Send(frame []byte) error {
	_, err := s.conn.WriteTo(frame, s.addr)
	return err
}

// WriterMode selects what drives the frame writer.
type WriterMode string

const (
	// WriterPaced sends on a ticker at the outgoing frame rate.
	WriterPaced WriterMode = "paced"
	// WriterOnReceive sends after every received EP6 frame.
	WriterOnReceive WriterMode = "on_receive"
)

// ParseWriterMode validates a writer mode name.
func ParseWriterMode(s string) (WriterMode, error) {
	switch WriterMode(s) {
	case WriterPaced, WriterOnReceive:
		return WriterMode(s), nil
	case "":
		return WriterPaced, nil
	default:
		return "", fmt.Errorf("unknown writer mode %q", s)
	}
}

// FrameWriter drains the out ring one frame payload at a time and sends
// encoded EP2 frames.
type FrameWriter struct {
	ring    *audio.RingBuffer
	encoder *protocol.Encoder
	sender  Sender
	logger  *slog.Logger
	metrics *metrics.Metrics

	payload []byte

	framesSent atomic.Uint64
	sendErrors atomic.Uint64
}

// WriterStatistics represents frame writer counters for monitoring
type WriterStatistics struct {
	FramesSent uint64 `json:"frames_sent"`
	SendErrors uint64 `json:"send_errors"`
}

// NewFrameWriter creates a writer reading from ring.
func NewFrameWriter(ring *audio.RingBuffer, encoder *protocol.Encoder, sender Sender, logger *slog.Logger, m *metrics.Metrics) *FrameWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameWriter{
		ring:    ring,
		encoder: encoder,
		sender:  sender,
		logger:  logger,
		metrics: m,
		payload: make([]byte, protocol.FramePayloadSize),
	}
}

// WriteNext sends one frame if the ring holds a full payload. It reports
// whether a frame was sent.
func (w *FrameWriter) WriteNext() bool {
	if !w.ring.ReadInto(w.payload) {
		return false
	}
	return w.send()
}

// Prime sends PrimeFrames frames with an empty payload so the radio
// receives every control record before it starts streaming.
func (w *FrameWriter) Prime() error {
	clear(w.payload)
	for i := 0; i < PrimeFrames; i++ {
		if !w.send() {
			return fmt.Errorf("failed to prime radio after %d frames", i)
		}
	}
	return nil
}

func (w *FrameWriter) send() bool {
	frame, err := w.encoder.Encode(w.payload)
	if err != nil {
		w.logger.Error("Failed to encode frame", slog.String("error", err.Error()))
		return false
	}

	if err := w.sender.Send(frame); err != nil {
		w.sendErrors.Add(1)
		w.metrics.RecordSendError()
		w.logger.Error("Failed to send frame", slog.String("error", err.Error()))
		return false
	}

	w.framesSent.Add(1)
	w.metrics.RecordFrameSent()
	return true
}

// Run sends frames on a ticker at period until ctx is cancelled. A tick
// with no complete payload in the ring sends nothing.
func (w *FrameWriter) Run(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = time.Duration(protocol.FramePeriodNanos())
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	w.logger.Info("Frame writer started", slog.Duration("period", period))
	defer w.logger.Info("Frame writer stopped",
		slog.Uint64("frames_sent", w.framesSent.Load()),
		slog.Uint64("send_errors", w.sendErrors.Load()))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.WriteNext()
		}
	}
}

// GetStatistics returns the writer counters.
func (w *FrameWriter) GetStatistics() WriterStatistics {
	return WriterStatistics{
		FramesSent: w.framesSent.Load(),
		SendErrors: w.sendErrors.Load(),
	}
}
