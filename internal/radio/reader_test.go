package radio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/hpsdr-server/internal/audio"
	"github.com/skypro1111/hpsdr-server/internal/bus"
	"github.com/skypro1111/hpsdr-server/internal/metrics"
	"github.com/skypro1111/hpsdr-server/internal/pipeline"
	"github.com/skypro1111/hpsdr-server/internal/protocol"
	"github.com/skypro1111/hpsdr-server/internal/scope"
)

type readerRig struct {
	reader   *FrameReader
	iq, mic  *audio.RingBuffer
	notifier *pipeline.Notifier
	metrics  *metrics.Metrics
}

func newReaderRig(t *testing.T, numRX, rate, iqCap, micCap int, mutate func(*ReaderOptions)) *readerRig {
	t.Helper()

	decoder, err := protocol.NewDecoder(numRX, rate)
	if err != nil {
		t.Fatal(err)
	}
	iq, err := audio.NewRingBuffer("iq", iqCap)
	if err != nil {
		t.Fatal(err)
	}
	mic, err := audio.NewRingBuffer("mic", micCap)
	if err != nil {
		t.Fatal(err)
	}

	m := metrics.NewMetrics(prometheus.NewRegistry())
	opts := ReaderOptions{
		Decoder:  decoder,
		IQRing:   iq,
		MicRing:  mic,
		Notifier: pipeline.NewNotifier(),
		Logger:   testLogger(),
		Metrics:  m,
	}
	if mutate != nil {
		mutate(&opts)
	}

	reader, err := NewFrameReader(opts)
	if err != nil {
		t.Fatal(err)
	}
	return &readerRig{reader: reader, iq: iq, mic: mic, notifier: opts.Notifier, metrics: m}
}

func notified(n *pipeline.Notifier) bool {
	select {
	case <-n.C():
		return true
	default:
		return false
	}
}

func TestNewFrameReaderValidation(t *testing.T) {
	if _, err := NewFrameReader(ReaderOptions{}); err == nil {
		t.Error("Expected error for missing components")
	}
}

func TestHandleFrameDrops(t *testing.T) {
	good := ep6Frame(0, 1, constIQ(1, 2), constMic(3))

	tests := []struct {
		name   string
		frame  func() []byte
		reason string
	}{
		{"short", func() []byte { return good[:1000] }, "size"},
		{"long", func() []byte { return append(append([]byte{}, good...), 0) }, "size"},
		{"bad sync", func() []byte { f := append([]byte{}, good...); f[1] = 0x00; return f }, "sync"},
		{"bad type", func() []byte { f := append([]byte{}, good...); f[2] = 0x02; return f }, "type"},
		{"bad endpoint", func() []byte { f := append([]byte{}, good...); f[3] = 0x09; return f }, "endpoint"},
		{"ep2", func() []byte { f := append([]byte{}, good...); f[3] = protocol.EP2; return f }, "endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newReaderRig(t, 1, 48000, 4096, 1024, nil)

			err := rig.reader.HandleFrame(tt.frame())
			if !errors.Is(err, ErrDropped) {
				t.Fatalf("Expected ErrDropped, got %v", err)
			}
			if rig.iq.ReadAvailable() != 0 || rig.mic.ReadAvailable() != 0 {
				t.Error("Expected nothing written for a dropped frame")
			}
			if notified(rig.notifier) {
				t.Error("Expected no notification for a dropped frame")
			}
			if got := testutil.ToFloat64(rig.metrics.FramesDropped.WithLabelValues(tt.reason)); got != 1 {
				t.Errorf("Expected 1 drop with reason %s, got %v", tt.reason, got)
			}
			if rig.reader.GetStatistics().FramesDropped != 1 {
				t.Error("Expected dropped frame counted")
			}
		})
	}
}

func TestHandleFrameWritesRings(t *testing.T) {
	rig := newReaderRig(t, 1, 48000, 4096, 1024, nil)

	if err := rig.reader.HandleFrame(ep6Frame(0, 1, constIQ(0x123456, -1), constMic(0x0102))); err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}

	if rig.iq.ReadAvailable() != 126*protocol.IQBytes {
		t.Errorf("Expected %d IQ bytes, got %d", 126*protocol.IQBytes, rig.iq.ReadAvailable())
	}
	if rig.mic.ReadAvailable() != 126*protocol.MicBytes {
		t.Errorf("Expected %d mic bytes, got %d", 126*protocol.MicBytes, rig.mic.ReadAvailable())
	}
	if !notified(rig.notifier) {
		t.Error("Expected worker notification")
	}

	iq, _ := rig.iq.Read(protocol.IQBytes)
	want := []byte{0x12, 0x34, 0x56, 0xFF, 0xFF, 0xFF}
	for i := range want {
		if iq[i] != want[i] {
			t.Errorf("IQ byte %d: expected 0x%02x, got 0x%02x", i, want[i], iq[i])
		}
	}
	mic, _ := rig.mic.Read(2)
	if mic[0] != 0x01 || mic[1] != 0x02 {
		t.Errorf("Expected mic 01 02, got % x", mic)
	}
}

func TestHandleFrameRingFull(t *testing.T) {
	// Room for one frame of IQ only
	rig := newReaderRig(t, 1, 48000, 1024, 1024, nil)
	frame := ep6Frame(0, 1, constIQ(1, 1), constMic(1))

	if err := rig.reader.HandleFrame(frame); err != nil {
		t.Fatalf("First frame failed: %v", err)
	}
	notified(rig.notifier)

	second := ep6Frame(1, 1, constIQ(1, 1), constMic(1))
	err := rig.reader.HandleFrame(second)
	if !errors.Is(err, ErrRingFull) {
		t.Fatalf("Expected ErrRingFull, got %v", err)
	}
	if rig.mic.ReadAvailable() != 126*protocol.MicBytes {
		t.Errorf("Expected mic write skipped with IQ, got %d bytes", rig.mic.ReadAvailable())
	}
	if notified(rig.notifier) {
		t.Error("Expected no notification for a dropped cycle")
	}
	if got := testutil.ToFloat64(rig.metrics.RingOverflows.WithLabelValues("iq")); got != 1 {
		t.Errorf("Expected 1 iq overflow, got %v", got)
	}
}

func TestHandleFrameMicDecimation(t *testing.T) {
	tests := []struct {
		rate     int
		wantRuns int
	}{
		{48000, 16},
		{96000, 16},
		{192000, 8},
		{384000, 4},
	}

	for _, tt := range tests {
		rig := newReaderRig(t, 1, tt.rate, 32768, 8192, nil)
		decoder, _ := protocol.NewDecoder(1, tt.rate)
		perRun := decoder.MicBytesPerFrame()

		for seq := uint32(0); seq < 16; seq++ {
			if err := rig.reader.HandleFrame(ep6Frame(seq, 1, constIQ(1, 1), constMic(1))); err != nil {
				t.Fatalf("rate %d frame %d: %v", tt.rate, seq, err)
			}
		}

		if got := rig.mic.ReadAvailable() / perRun; got != tt.wantRuns {
			t.Errorf("rate %d: expected %d mic runs, got %d", tt.rate, tt.wantRuns, got)
		}
		if rig.iq.ReadAvailable() != 16*126*protocol.IQBytes {
			t.Errorf("rate %d: expected every IQ run, got %d bytes", tt.rate, rig.iq.ReadAvailable())
		}
	}
}

func TestHandleFrameLocalMic(t *testing.T) {
	local, _ := audio.NewRingBuffer("local-mic", 1024)
	rig := newReaderRig(t, 1, 48000, 4096, 1024, func(o *ReaderOptions) { o.LocalMic = local })

	pcm := make([]byte, 126*protocol.MicBytes)
	for i := 0; i < len(pcm); i += 2 {
		pcm[i], pcm[i+1] = 0x34, 0x12 // 0x1234 little-endian
	}
	local.Write(pcm)

	if err := rig.reader.HandleFrame(ep6Frame(0, 1, constIQ(0, 0), constMic(0x7777))); err != nil {
		t.Fatal(err)
	}
	mic, _ := rig.mic.Read(4)
	if mic[0] != 0x12 || mic[1] != 0x34 || mic[2] != 0x12 {
		t.Errorf("Expected local mic big-endian, got % x", mic)
	}

	// Underrun on the local side sends silence
	rig.mic.Reset()
	if err := rig.reader.HandleFrame(ep6Frame(1, 1, constIQ(0, 0), constMic(0x7777))); err != nil {
		t.Fatal(err)
	}
	mic, _ = rig.mic.Read(2)
	if mic[0] != 0 || mic[1] != 0 {
		t.Errorf("Expected silence on local underrun, got % x", mic)
	}
}

func TestHandleFrameSequence(t *testing.T) {
	rig := newReaderRig(t, 1, 48000, 32768, 8192, nil)

	for _, seq := range []uint32{0, 1, 5, 6} {
		rig.reader.HandleFrame(ep6Frame(seq, 1, constIQ(0, 0), constMic(0)))
	}

	stats := rig.reader.GetStatistics().EP6Sequence
	if stats.Gaps != 1 {
		t.Errorf("Expected 1 gap, got %d", stats.Gaps)
	}
	if stats.Last != 6 {
		t.Errorf("Expected last 6, got %d", stats.Last)
	}
	if got := testutil.ToFloat64(rig.metrics.SequenceEvents.WithLabelValues("EP6", "gap")); got != 1 {
		t.Errorf("Expected 1 gap event, got %v", got)
	}
}

func TestHandleFrameScope(t *testing.T) {
	frame := ep4Frame(0, make([]int16, 512))

	rig := newReaderRig(t, 1, 48000, 4096, 1024, nil)
	if err := rig.reader.HandleFrame(frame); err != nil {
		t.Errorf("Expected EP4 ignored without a scope, got %v", err)
	}
	if rig.reader.GetStatistics().ScopeFrames != 0 {
		t.Error("Expected no scope frames counted")
	}

	sc, err := scope.New(scope.Config{Size: 512, Smooth: 1, Width: 64}, nil, testLogger(), nil)
	if err != nil {
		t.Fatal(err)
	}
	rig = newReaderRig(t, 1, 48000, 4096, 1024, func(o *ReaderOptions) { o.Scope = sc })
	if err := rig.reader.HandleFrame(frame); err != nil {
		t.Fatal(err)
	}
	if rig.reader.GetStatistics().ScopeFrames != 1 {
		t.Error("Expected one scope frame")
	}
	if _, ok := sc.Latest(); !ok {
		t.Error("Expected a spectrum from a full scope block")
	}
	if rig.iq.ReadAvailable() != 0 {
		t.Error("Expected scope frames kept out of the IQ ring")
	}
}

func TestHandleFrameOnFrameHook(t *testing.T) {
	calls := 0
	rig := newReaderRig(t, 1, 48000, 4096, 1024, func(o *ReaderOptions) { o.OnFrame = func() { calls++ } })

	rig.reader.HandleFrame(ep6Frame(0, 1, constIQ(0, 0), constMic(0)))
	rig.reader.HandleFrame(ep6Frame(1, 1, constIQ(0, 0), constMic(0))[:10])
	if calls != 1 {
		t.Errorf("Expected hook called once, got %d", calls)
	}
}

func TestHandleFrameOnFrameSkippedOnOverflow(t *testing.T) {
	calls := 0
	// Room for one frame of IQ only
	rig := newReaderRig(t, 1, 48000, 1024, 1024, func(o *ReaderOptions) { o.OnFrame = func() { calls++ } })

	if err := rig.reader.HandleFrame(ep6Frame(0, 1, constIQ(0, 0), constMic(0))); err != nil {
		t.Fatal(err)
	}
	if err := rig.reader.HandleFrame(ep6Frame(1, 1, constIQ(0, 0), constMic(0))); !errors.Is(err, ErrRingFull) {
		t.Fatalf("Expected ErrRingFull, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected hook skipped for the overflowed frame, got %d calls", calls)
	}
}

func TestHandleFrameLocalMicKeptOnOverflow(t *testing.T) {
	local, _ := audio.NewRingBuffer("local-mic", 1024)
	rig := newReaderRig(t, 1, 48000, 1024, 1024, func(o *ReaderOptions) { o.LocalMic = local })

	pcm := make([]byte, 126*protocol.MicBytes)
	local.Write(pcm)
	if err := rig.reader.HandleFrame(ep6Frame(0, 1, constIQ(0, 0), constMic(0))); err != nil {
		t.Fatal(err)
	}
	if local.ReadAvailable() != 0 {
		t.Fatalf("Expected local mic consumed by the first frame, %d bytes left", local.ReadAvailable())
	}

	local.Write(pcm)
	if err := rig.reader.HandleFrame(ep6Frame(1, 1, constIQ(0, 0), constMic(0))); !errors.Is(err, ErrRingFull) {
		t.Fatalf("Expected ErrRingFull, got %v", err)
	}
	if local.ReadAvailable() != len(pcm) {
		t.Errorf("Expected local mic untouched by a dropped frame, got %d of %d bytes", local.ReadAvailable(), len(pcm))
	}
}

func TestHandleFrameScopeStalledSubscriber(t *testing.T) {
	eventBus := bus.New(1, testLogger())
	defer eventBus.Close()
	// Subscribed and never drained
	eventBus.Subscribe(bus.TopicScope)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	relay := bus.NewRelay(eventBus, bus.TopicScope)
	go relay.Run(ctx)

	sc, err := scope.New(scope.Config{Size: 512, Smooth: 1, Width: 64},
		func(s scope.Spectrum) { relay.Offer(s) }, testLogger(), nil)
	if err != nil {
		t.Fatal(err)
	}
	rig := newReaderRig(t, 1, 48000, 4096, 1024, func(o *ReaderOptions) { o.Scope = sc })

	for seq := uint32(0); seq < 50; seq++ {
		done := make(chan error, 1)
		go func() { done <- rig.reader.HandleFrame(ep4Frame(seq, make([]int16, 512))) }()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("EP4 frame %d: %v", seq, err)
			}
		case <-time.After(time.Second):
			t.Fatalf("EP4 frame %d blocked the reader", seq)
		}
	}
	if got := rig.reader.GetStatistics().ScopeFrames; got != 50 {
		t.Errorf("Expected 50 scope frames, got %d", got)
	}

	if err := rig.reader.HandleFrame(ep6Frame(0, 1, constIQ(1, 1), constMic(1))); err != nil {
		t.Fatalf("EP6 after scope frames failed: %v", err)
	}
	if rig.iq.ReadAvailable() == 0 {
		t.Error("Expected IQ to reach the ring after the scope frames")
	}
}

func TestReaderRunLoopback(t *testing.T) {
	server, radioConn := loopback(t)
	rig := newReaderRig(t, 1, 48000, 4096, 1024, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rig.reader.Run(ctx, server) }()

	if _, err := radioConn.WriteTo(ep6Frame(0, 1, constIQ(1, 1), constMic(1)), server.LocalAddr()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for rig.reader.GetStatistics().FramesReceived == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rig.reader.GetStatistics().FramesReceived != 1 {
		t.Fatal("Expected one frame received over loopback")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean exit, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Reader did not stop after cancel")
	}
}
