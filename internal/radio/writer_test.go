package radio

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/hpsdr-server/internal/audio"
	"github.com/skypro1111/hpsdr-server/internal/metrics"
	"github.com/skypro1111/hpsdr-server/internal/protocol"
)

func newTestWriter(t *testing.T, sender Sender) (*FrameWriter, *audio.RingBuffer, *metrics.Metrics) {
	t.Helper()
	ring, err := audio.NewRingBuffer("out", 4096)
	if err != nil {
		t.Fatal(err)
	}
	encoder := protocol.NewEncoder(protocol.NewControlStore(), protocol.NewSequenceCounter(0))
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return NewFrameWriter(ring, encoder, sender, testLogger(), m), ring, m
}

func TestParseWriterMode(t *testing.T) {
	tests := []struct {
		input   string
		want    WriterMode
		wantErr bool
	}{
		{"", WriterPaced, false},
		{"paced", WriterPaced, false},
		{"on_receive", WriterOnReceive, false},
		{"burst", "", true},
	}

	for _, tt := range tests {
		got, err := ParseWriterMode(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseWriterMode(%q): expected error %v, got %v", tt.input, tt.wantErr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseWriterMode(%q): expected %q, got %q", tt.input, tt.want, got)
		}
	}
}

func TestWriteNextNeedsFullPayload(t *testing.T) {
	sender := &captureSender{}
	writer, ring, _ := newTestWriter(t, sender)

	ring.Write(make([]byte, protocol.FramePayloadSize-1))
	if writer.WriteNext() {
		t.Error("Expected no frame from a partial payload")
	}
	if ring.ReadAvailable() != protocol.FramePayloadSize-1 {
		t.Error("Expected partial payload left in the ring")
	}

	ring.Write([]byte{0xAB})
	if !writer.WriteNext() {
		t.Fatal("Expected a frame from a full payload")
	}
	if sender.count() != 1 {
		t.Fatalf("Expected 1 frame sent, got %d", sender.count())
	}

	frame, err := protocol.ParseFrame(sender.frame(0))
	if err != nil {
		t.Fatalf("Sent frame does not parse: %v", err)
	}
	if frame.Header.Endpoint != protocol.EP2 {
		t.Errorf("Expected EP2, got 0x%02x", frame.Header.Endpoint)
	}
	if frame.Payload[1][protocol.PayloadSize-1] != 0xAB {
		t.Error("Expected the last payload byte at the end of sub-frame 2")
	}
	if ring.ReadAvailable() != 0 {
		t.Errorf("Expected ring drained, got %d bytes", ring.ReadAvailable())
	}
}

func TestPrime(t *testing.T) {
	sender := &captureSender{}
	writer, _, _ := newTestWriter(t, sender)

	if err := writer.Prime(); err != nil {
		t.Fatalf("Prime failed: %v", err)
	}
	if sender.count() != PrimeFrames {
		t.Fatalf("Expected %d frames, got %d", PrimeFrames, sender.count())
	}

	wantC0 := [][2]byte{{0x00, 0x02}, {0x04, 0x06}, {0x08, 0x12}, {0x14, 0x00}}
	for i := 0; i < PrimeFrames; i++ {
		f := sender.frame(i)
		if seq := binary.BigEndian.Uint32(f[protocol.SequenceOffset:]); seq != uint32(i) {
			t.Errorf("Frame %d: expected sequence %d, got %d", i, i, seq)
		}
		c0 := [2]byte{f[protocol.SubFrame1ControlOffset], f[protocol.SubFrame2ControlOffset]}
		if c0 != wantC0[i] {
			t.Errorf("Frame %d: expected C0 % x, got % x", i, wantC0[i], c0)
		}
		for _, b := range f[protocol.SubFrame1PayloadOffset : protocol.SubFrame1PayloadOffset+protocol.PayloadSize] {
			if b != 0 {
				t.Errorf("Frame %d: expected an empty payload", i)
				break
			}
		}
	}
}

func TestSendError(t *testing.T) {
	sender := &captureSender{err: errors.New("network unreachable")}
	writer, ring, m := newTestWriter(t, sender)

	if err := writer.Prime(); err == nil {
		t.Error("Expected Prime to fail")
	}

	ring.Write(make([]byte, protocol.FramePayloadSize))
	if writer.WriteNext() {
		t.Error("Expected WriteNext to report failure")
	}

	stats := writer.GetStatistics()
	if stats.SendErrors != 2 {
		t.Errorf("Expected 2 send errors, got %d", stats.SendErrors)
	}
	if stats.FramesSent != 0 {
		t.Errorf("Expected 0 frames sent, got %d", stats.FramesSent)
	}
	if got := testutil.ToFloat64(m.SendErrors); got != 2 {
		t.Errorf("Expected send error metric 2, got %v", got)
	}
}

func TestWriterRunPaced(t *testing.T) {
	sender := &captureSender{}
	writer, ring, _ := newTestWriter(t, sender)

	ring.Write(make([]byte, 3*protocol.FramePayloadSize))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		writer.Run(ctx, time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	<-done

	if sender.count() != 3 {
		t.Errorf("Expected 3 frames, got %d", sender.count())
	}
	if writer.GetStatistics().FramesSent != 3 {
		t.Errorf("Expected 3 frames counted, got %d", writer.GetStatistics().FramesSent)
	}
}

func TestConnSender(t *testing.T) {
	server, radioConn := loopback(t)
	sender := NewConnSender(server, radioConn.LocalAddr())

	if err := sender.Send([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	radioConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, _, err := radioConn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom failed: %v", err)
	}
	if n != 3 || buf[2] != 3 {
		t.Errorf("Expected 3 bytes ending in 3, got % x", buf[:n])
	}
}
