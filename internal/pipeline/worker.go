package pipeline

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/skypro1111/hpsdr-server/internal/audio"
	"github.com/skypro1111/hpsdr-server/internal/metrics"
	"github.com/skypro1111/hpsdr-server/internal/protocol"
)

const (
	DefaultGain    = 0.2
	DefaultMicGain = 1.0
	DefaultDrive   = 1.0

	stopPolls    = 10
	stopInterval = 100 * time.Millisecond
)

var ErrStopTimeout = errors.New("pipeline worker did not stop in time")

// DisplayFunc receives each receiver's raw decoded IQ block. The slice is
// reused after the call returns.
type DisplayFunc func(rx int, iq []float32)

// Options configures a Worker.
type Options struct {
	Config    Config
	IQRing    *audio.RingBuffer
	MicRing   *audio.RingBuffer
	OutRing   *audio.RingBuffer
	Notifier  *Notifier
	Exchanger Exchanger
	Outputs   []*audio.Output
	Display   DisplayFunc
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Worker is the single pipeline goroutine. Each cycle it reads one IQ and
// one mic block, runs them through the DSP exchange, feeds the local audio
// outputs and appends the remixed outgoing payload to the out ring.
type Worker struct {
	cfg   Config
	sizes Sizes

	iqRing, micRing, outRing *audio.RingBuffer
	notifier                 *Notifier
	exchanger                Exchanger
	outputs                  []*audio.Output
	logger                   *slog.Logger
	metrics                  *metrics.Metrics

	mu             sync.RWMutex
	gain           [protocol.MaxReceivers]float64
	micGain, drive float64
	routing        Routing
	display        DisplayFunc
	displayOn      bool

	// Cycle buffers, owned by the worker goroutine
	rdIQ, rdMic []byte
	decIQ       [][]float64
	decMic      []float64
	dspLR       [numDSPChannels][]float64
	dspIQ       []float64
	local       []byte
	out         []byte
	disp        []float32

	cycles uint64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  bool
}

// NewWorker validates opts and allocates the cycle buffers.
func NewWorker(opts Options) (*Worker, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.IQRing == nil || opts.MicRing == nil || opts.OutRing == nil {
		return nil, fmt.Errorf("pipeline rings must not be nil")
	}
	if opts.Notifier == nil {
		opts.Notifier = NewNotifier()
	}
	if opts.Exchanger == nil {
		opts.Exchanger = Passthrough{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	cfg := opts.Config
	sizes := cfg.Sizes()

	w := &Worker{
		cfg:       cfg,
		sizes:     sizes,
		iqRing:    opts.IQRing,
		micRing:   opts.MicRing,
		outRing:   opts.OutRing,
		notifier:  opts.Notifier,
		exchanger: opts.Exchanger,
		outputs:   opts.Outputs,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		micGain:   DefaultMicGain,
		drive:     DefaultDrive,
		routing:   DefaultRouting(),
		display:   opts.Display,
		displayOn: opts.Display != nil,

		rdIQ:   make([]byte, sizes.InIQ),
		rdMic:  make([]byte, sizes.InMic),
		decIQ:  make([][]float64, cfg.NumRX),
		decMic: make([]float64, sizes.DecMic),
		dspIQ:  make([]float64, sizes.DSPIQ),
		local:  make([]byte, sizes.DSPLR*2),
		out:    make([]byte, sizes.Out),
		disp:   make([]float32, sizes.DecIQ),

		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	for i := range w.gain {
		w.gain[i] = DefaultGain
	}
	for i := range w.decIQ {
		w.decIQ[i] = make([]float64, sizes.DecIQ)
	}
	for i := range w.dspLR {
		w.dspLR[i] = make([]float64, sizes.DSPLR)
	}

	return w, nil
}

// Sizes returns the derived sizes the worker was built with.
func (w *Worker) Sizes() Sizes {
	return w.sizes
}

// Notifier returns the notifier the worker waits on.
func (w *Worker) Notifier() *Notifier {
	return w.notifier
}

// Start launches the worker goroutine.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	go w.run()
}

// Stop asks the worker to exit and waits for it, polling up to ten times
// at 100ms intervals.
func (w *Worker) Stop() error {
	w.mu.RLock()
	started := w.started
	w.mu.RUnlock()
	if !started {
		return nil
	}

	w.stopOnce.Do(func() { close(w.stop) })
	for i := 0; i < stopPolls; i++ {
		select {
		case <-w.done:
			return nil
		case <-time.After(stopInterval):
		}
	}
	return ErrStopTimeout
}

func (w *Worker) run() {
	defer close(w.done)

	w.logger.Info("Pipeline worker started",
		slog.Int("num_rx", w.cfg.NumRX),
		slog.Int("in_iq_bytes", w.sizes.InIQ),
		slog.Int("in_mic_bytes", w.sizes.InMic),
		slog.Int("out_bytes", w.sizes.Out))

	for {
		select {
		case <-w.stop:
			w.logger.Info("Pipeline worker stopped", slog.Uint64("cycles", w.cycles))
			return
		case <-w.notifier.C():
		}

		// A wake may cover several frames; run every complete block.
		for !w.stopping() && w.Process() {
		}
	}
}

func (w *Worker) stopping() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// Process runs one cycle if both rings hold a full block and reports
// whether it did. It must only be called from the worker goroutine, or
// by a caller that has not started it.
func (w *Worker) Process() bool {
	if w.iqRing.ReadAvailable() < w.sizes.InIQ || w.micRing.ReadAvailable() < w.sizes.InMic {
		return false
	}
	if !w.iqRing.ReadInto(w.rdIQ) || !w.micRing.ReadInto(w.rdMic) {
		return false
	}

	start := time.Now()

	w.mu.RLock()
	gain := w.gain
	micGain, drive := w.micGain, w.drive
	left, right := w.routing.Channels()
	display := w.display
	displayOn := w.displayOn
	w.mu.RUnlock()

	w.decode()
	if displayOn && display != nil {
		w.pushDisplay(display)
	}
	w.dsp(gain, micGain, drive)
	w.localAudio()
	if w.encode(left, right) {
		if !w.outRing.Write(w.out) {
			w.metrics.RecordRingOverflow(w.outRing.Name())
		}
	}

	w.cycles++
	w.metrics.RecordPipelineCycle(time.Since(start).Seconds())
	w.metrics.SetRingFill(w.iqRing.Name(), w.iqRing.ReadAvailable())
	w.metrics.SetRingFill(w.micRing.Name(), w.micRing.ReadAvailable())
	w.metrics.SetRingFill(w.outRing.Name(), w.outRing.ReadAvailable())
	return true
}

func (w *Worker) decode() {
	protocol.DecodeIQ(w.rdIQ, w.cfg.NumRX, w.decIQ)
	protocol.DecodeMic(w.rdMic, w.decMic)
}

func (w *Worker) pushDisplay(display DisplayFunc) {
	for rx, iq := range w.decIQ {
		for j, v := range iq {
			w.disp[j] = float32(v)
		}
		display(rx, w.disp)
	}
}

func (w *Worker) dsp(gain [protocol.MaxReceivers]float64, micGain, drive float64) {
	for rx := 0; rx < w.cfg.NumRX; rx++ {
		out := w.dspLR[rx]
		clear(out)
		if err := w.exchanger.Exchange(rx, w.decIQ[rx], out); err != nil {
			w.logExchangeError(rx, err)
		}
		floats.Scale(gain[rx], out)
		clampUnit(out)
	}

	if w.cfg.NumTX == 0 {
		clear(w.dspIQ)
		return
	}

	// Mic gain applies to the real parts only
	for j := 0; j < len(w.decMic); j += 2 {
		w.decMic[j] = clamp(w.decMic[j] * micGain)
	}

	if err := w.exchanger.Exchange(TXChannel, w.decMic, w.dspIQ); err != nil {
		w.logExchangeError(TXChannel, err)
	}
	floats.Scale(drive, w.dspIQ)
	clampUnit(w.dspIQ)
}

func (w *Worker) logExchangeError(channel int, err error) {
	w.metrics.RecordDSPError()
	var xerr *ExchangeError
	if errors.As(err, &xerr) {
		w.logger.Warn("DSP exchange error",
			slog.Int("channel", channel),
			slog.Int("code", xerr.Code))
		return
	}
	w.logger.Warn("DSP exchange error",
		slog.Int("channel", channel),
		slog.String("error", err.Error()))
}

func (w *Worker) localAudio() {
	for _, o := range w.outputs {
		l, r := o.Channels()

		var srcL, srcR []float64
		if o.Type().UsesIQ() {
			srcL, srcR = w.channelIQ(l), w.channelIQ(r)
		} else {
			srcL, srcR = w.channelLR(l), w.channelLR(r)
		}

		for j, k := 0, 0; j+1 < w.sizes.DSPLR; j, k = j+2, k+4 {
			binary.LittleEndian.PutUint16(w.local[k:], uint16(sample(srcL, j)))
			binary.LittleEndian.PutUint16(w.local[k+2:], uint16(sample(srcR, j+1)))
		}

		err := o.Deliver(w.local)
		switch {
		case err == nil:
		case errors.Is(err, audio.ErrNoSpace):
			w.metrics.RecordLocalAudioDrop(o.Name())
			w.logger.Warn("No space in audio ring buffer", slog.String("output", o.Name()))
		case errors.Is(err, audio.ErrOutputFailed):
			// The bare sentinel means the output already failed and is
			// skipped until reset.
			w.metrics.RecordLocalAudioDrop(o.Name())
			if err != audio.ErrOutputFailed {
				w.logger.Error("Failed to start audio output",
					slog.String("output", o.Name()),
					slog.String("error", err.Error()))
			}
		}
	}
}

func (w *Worker) channelLR(ch int) []float64 {
	if ch < 0 || ch >= len(w.dspLR) {
		return nil
	}
	return w.dspLR[ch]
}

func (w *Worker) channelIQ(ch int) []float64 {
	if ch < 0 || ch >= len(w.decIQ) {
		return nil
	}
	return w.decIQ[ch]
}

// sample converts src[i] to int16, reading silence past the end of src.
func sample(src []float64, i int) int16 {
	if i >= len(src) {
		return 0
	}
	return protocol.ToInt16(src[i])
}

// encode interleaves big-endian L, R, I, Q into the outgoing payload. It
// reports false when the audio and transmit IQ blocks differ in length.
func (w *Worker) encode(left, right int) bool {
	if !w.sizes.Consistent() {
		w.metrics.RecordConfigError()
		w.logger.Error("Pipeline block size mismatch, cycle skipped",
			slog.Int("audio_size", w.sizes.DSPLR),
			slog.Int("iq_size", w.sizes.DSPIQ))
		return false
	}

	lr, rr := w.dspLR[left], w.dspLR[right]
	for dest, src := 0, 0; dest+protocol.OutSampleBytes <= len(w.out); dest, src = dest+protocol.OutSampleBytes, src+2 {
		protocol.PackOutputSample(w.out[dest:], lr[src], rr[src+1], w.dspIQ[src], w.dspIQ[src+1])
	}
	return true
}

// SetGain sets the audio gain of receiver rx (1-based).
func (w *Worker) SetGain(rx int, gain float64) error {
	if rx < 1 || rx > protocol.MaxReceivers {
		return fmt.Errorf("receiver must be between 1 and %d, got %d", protocol.MaxReceivers, rx)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gain[rx-1] = gain
	return nil
}

// Gain returns the audio gain of receiver rx (1-based).
func (w *Worker) Gain(rx int) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if rx < 1 || rx > protocol.MaxReceivers {
		return 0
	}
	return w.gain[rx-1]
}

// SetMicGain sets the microphone gain.
func (w *Worker) SetMicGain(gain float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.micGain = gain
}

// SetDrive sets the transmit drive level.
func (w *Worker) SetDrive(drive float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.drive = drive
}

// Levels returns the mic gain and drive.
func (w *Worker) Levels() (micGain, drive float64) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.micGain, w.drive
}

// SetRouting replaces the hardware output routes.
func (w *Worker) SetRouting(r Routing) error {
	if err := r.Validate(w.cfg.NumRX); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.routing = r
	return nil
}

// RevertRouting restores the default routes.
func (w *Worker) RevertRouting() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.routing = DefaultRouting()
}

// Routing returns the current routes.
func (w *Worker) Routing() Routing {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.routing
}

// SetDisplay installs or removes the display hook.
func (w *Worker) SetDisplay(fn DisplayFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.display = fn
	w.displayOn = fn != nil
}

// SetDisplayEnabled pauses or resumes the display hook.
func (w *Worker) SetDisplayEnabled(on bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.displayOn = on
}

// Outputs returns the local audio outputs.
func (w *Worker) Outputs() []*audio.Output {
	return w.outputs
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

func clampUnit(buf []float64) {
	for i, v := range buf {
		buf[i] = clamp(v)
	}
}
