package radio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/skypro1111/hpsdr-server/internal/audio"
	"github.com/skypro1111/hpsdr-server/internal/metrics"
	"github.com/skypro1111/hpsdr-server/internal/pipeline"
	"github.com/skypro1111/hpsdr-server/internal/protocol"
	"github.com/skypro1111/hpsdr-server/internal/scope"
)

var (
	ErrRunning    = errors.New("radio is running")
	ErrNotRunning = errors.New("radio is not running")
	ErrNoOutput   = errors.New("no local audio output configured")
	ErrNoScope    = errors.New("wideband scope not configured")
	ErrNoAddress  = errors.New("radio address unknown")
)

// Hardware is the control side of the radio link: the socket frames
// travel over and the start/stop commands.
type Hardware interface {
	Conn() net.PacketConn
	RadioAddr() net.Addr
	SendStart(wideband bool) error
	SendStop() error
}

// Options configures a Radio.
type Options struct {
	Pipeline   pipeline.Config
	Exchanger  pipeline.Exchanger
	Outputs    []*audio.Output
	LocalMic   *audio.RingBuffer
	Scope      *scope.Scope
	Wideband   bool
	WriterMode WriterMode
	Display    pipeline.DisplayFunc
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Radio owns every buffer, counter, store and goroutine of one radio
// session. Stream geometry may only change while stopped; levels,
// frequencies, routing and control settings apply immediately.
type Radio struct {
	mu sync.Mutex

	cfg     pipeline.Config
	control *protocol.ControlStore
	ep2     *protocol.SequenceCounter

	gain    [protocol.MaxReceivers]float64
	micGain float64
	drive   float64
	routing pipeline.Routing

	exchanger  pipeline.Exchanger
	outputs    []*audio.Output
	localMic   *audio.RingBuffer
	scope      *scope.Scope
	wideband   bool
	writerMode WriterMode
	display    pipeline.DisplayFunc

	hw      Hardware
	running bool
	started time.Time
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	worker *pipeline.Worker
	reader *FrameReader
	writer *FrameWriter
	rings  []*audio.RingBuffer

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Status represents radio state for monitoring
type Status struct {
	Running    bool                `json:"running"`
	Uptime     string              `json:"uptime,omitempty"`
	NumRX      int                 `json:"num_rx"`
	NumTX      int                 `json:"num_tx"`
	InRate     int                 `json:"in_rate"`
	OutRate    int                 `json:"out_rate"`
	IQBlock    int                 `json:"iq_block"`
	MicBlock   int                 `json:"mic_block"`
	Duplex     bool                `json:"duplex"`
	MOX        bool                `json:"mox"`
	Wideband   bool                `json:"wideband"`
	WriterMode WriterMode          `json:"writer_mode"`
	Sizes      pipeline.Sizes      `json:"sizes"`
	Reader     *ReaderStatistics   `json:"reader,omitempty"`
	Writer     *WriterStatistics   `json:"writer,omitempty"`
	Rings      []audio.RingStats   `json:"rings,omitempty"`
	Outputs    []audio.OutputStats `json:"outputs"`
}

// Levels holds the audio levels.
type Levels struct {
	Gain    []float64 `json:"gain"`
	MicGain float64   `json:"mic_gain"`
	Drive   float64   `json:"drive"`
}

// New creates a stopped radio. The control store starts from its power-on
// defaults with the stream geometry of opts.Pipeline applied.
func New(opts Options) (*Radio, error) {
	if err := opts.Pipeline.Validate(); err != nil {
		return nil, err
	}
	if opts.Exchanger == nil {
		opts.Exchanger = pipeline.Passthrough{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	mode, err := ParseWriterMode(string(opts.WriterMode))
	if err != nil {
		return nil, err
	}

	r := &Radio{
		cfg:        opts.Pipeline,
		control:    protocol.NewControlStore(),
		ep2:        protocol.NewSequenceCounter(0),
		micGain:    pipeline.DefaultMicGain,
		drive:      pipeline.DefaultDrive,
		routing:    pipeline.DefaultRouting(),
		exchanger:  opts.Exchanger,
		outputs:    opts.Outputs,
		localMic:   opts.LocalMic,
		scope:      opts.Scope,
		wideband:   opts.Wideband,
		writerMode: mode,
		display:    opts.Display,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
	for i := range r.gain {
		r.gain[i] = pipeline.DefaultGain
	}

	if err := r.applyGeometry(r.cfg); err != nil {
		return nil, err
	}
	return r, nil
}

// applyGeometry writes the speed and receiver count into the control
// store.
func (r *Radio) applyGeometry(cfg pipeline.Config) error {
	speed, err := protocol.SpeedForRate(cfg.InRate)
	if err != nil {
		return err
	}
	if err := r.control.Set(protocol.SettingSpeed, speed); err != nil {
		return err
	}
	return r.control.Set(protocol.SettingNumRX, cfg.NumRX-1)
}

// Control returns the control byte store.
func (r *Radio) Control() *protocol.ControlStore {
	return r.control
}

// Config returns the stream geometry.
func (r *Radio) Config() pipeline.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Running reports whether the stream is running.
func (r *Radio) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// updateGeometry applies fn to a copy of the geometry and commits it if
// the radio is stopped and the result is valid.
func (r *Radio) updateGeometry(name string, fn func(*pipeline.Config)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("cannot change %s: %w", name, ErrRunning)
	}

	cfg := r.cfg
	fn(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := r.applyGeometry(cfg); err != nil {
		return err
	}
	if err := r.routing.Validate(cfg.NumRX); err != nil {
		r.routing = pipeline.DefaultRouting()
	}
	r.cfg = cfg

	r.logger.Info("Stream geometry changed",
		slog.String("setting", name),
		slog.Int("num_rx", cfg.NumRX),
		slog.Int("num_tx", cfg.NumTX),
		slog.Int("in_rate", cfg.InRate),
		slog.Int("out_rate", cfg.OutRate),
		slog.Int("iq_block", cfg.IQBlock),
		slog.Int("mic_block", cfg.MicBlock))
	return nil
}

// SetNumRX sets the number of receivers, 1 to 3.
func (r *Radio) SetNumRX(n int) error {
	return r.updateGeometry("num_rx", func(c *pipeline.Config) { c.NumRX = n })
}

// SetNumTX enables (1) or disables (0) the transmit exchange.
func (r *Radio) SetNumTX(n int) error {
	return r.updateGeometry("num_tx", func(c *pipeline.Config) { c.NumTX = n })
}

// SetInRate sets the radio sample rate.
func (r *Radio) SetInRate(rate int) error {
	return r.updateGeometry("in_rate", func(c *pipeline.Config) { c.InRate = rate })
}

// SetOutRate sets the demodulated audio rate.
func (r *Radio) SetOutRate(rate int) error {
	return r.updateGeometry("out_rate", func(c *pipeline.Config) { c.OutRate = rate })
}

// SetIQBlockSize sets the IQ samples per receiver per pipeline cycle.
func (r *Radio) SetIQBlockSize(n int) error {
	return r.updateGeometry("iq_block", func(c *pipeline.Config) { c.IQBlock = n })
}

// SetMicBlockSize sets the mic samples per pipeline cycle.
func (r *Radio) SetMicBlockSize(n int) error {
	return r.updateGeometry("mic_block", func(c *pipeline.Config) { c.MicBlock = n })
}

// SetDuplex selects full duplex, where the transmitter has its own NCO.
func (r *Radio) SetDuplex(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("cannot change duplex: %w", ErrRunning)
	}
	return r.control.Set(protocol.SettingDuplex, boolValue(on))
}

// Duplex reports whether full duplex is selected.
func (r *Radio) Duplex() bool {
	return r.control.Get(protocol.SettingDuplex) == protocol.On
}

// SetSetting sets any catalogue setting by name. Settings that change the
// stream geometry go through their typed setters.
func (r *Radio) SetSetting(name string, value int) error {
	setting, err := protocol.ParseSetting(name)
	if err != nil {
		return err
	}
	if value < 0 || value >= setting.Values() {
		return fmt.Errorf("%w: %s accepts 0 to %d, got %d", protocol.ErrInvalidValue, name, setting.Values()-1, value)
	}

	switch setting {
	case protocol.SettingNumRX:
		return r.SetNumRX(value + 1)
	case protocol.SettingSpeed:
		return r.SetInRate(protocol.BaseRate << value)
	case protocol.SettingDuplex:
		return r.SetDuplex(value == protocol.On)
	}

	if err := r.control.Set(setting, value); err != nil {
		return err
	}
	r.logger.Debug("Control setting changed", slog.String("setting", name), slog.Int("value", value))
	return nil
}

// SetGain sets the audio gain of receiver rx (1-based).
func (r *Radio) SetGain(rx int, gain float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rx < 1 || rx > protocol.MaxReceivers {
		return fmt.Errorf("receiver must be between 1 and %d, got %d", protocol.MaxReceivers, rx)
	}
	r.gain[rx-1] = gain
	if r.worker != nil {
		return r.worker.SetGain(rx, gain)
	}
	return nil
}

// SetMicGain sets the microphone gain.
func (r *Radio) SetMicGain(gain float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.micGain = gain
	if r.worker != nil {
		r.worker.SetMicGain(gain)
	}
}

// SetDrive sets the transmit drive level.
func (r *Radio) SetDrive(drive float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drive = drive
	if r.worker != nil {
		r.worker.SetDrive(drive)
	}
}

// Levels returns the gains and drive.
func (r *Radio) Levels() Levels {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Levels{
		Gain:    append([]float64(nil), r.gain[:]...),
		MicGain: r.micGain,
		Drive:   r.drive,
	}
}

// SetMOX keys or unkeys the transmitter.
func (r *Radio) SetMOX(on bool) {
	r.control.SetMOX(on)
	r.logger.Info("MOX changed", slog.Bool("mox", on))
}

// SetRXFrequency tunes receiver rx (1-based) to hz.
func (r *Radio) SetRXFrequency(rx int, hz uint32) error {
	return r.control.SetRXFrequency(rx, hz)
}

// SetTXFrequency tunes the transmitter to hz.
func (r *Radio) SetTXFrequency(hz uint32) {
	r.control.SetTXFrequency(hz)
}

// Frequencies returns the receiver frequencies followed by the transmitter.
func (r *Radio) Frequencies() (rx [protocol.MaxReceivers]uint32, tx uint32) {
	rx[0] = r.control.Frequency(protocol.SlotRX1Freq)
	rx[1] = r.control.Frequency(protocol.SlotRX2Freq)
	rx[2] = r.control.Frequency(protocol.SlotRX3Freq)
	return rx, r.control.Frequency(protocol.SlotRX1TXFreq)
}

// SetRouting changes which receivers feed the hardware audio output.
func (r *Radio) SetRouting(routing pipeline.Routing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := routing.Validate(r.cfg.NumRX); err != nil {
		return err
	}
	r.routing = routing
	if r.worker != nil {
		return r.worker.SetRouting(routing)
	}
	return nil
}

// RevertRouting restores the default hardware output routes.
func (r *Radio) RevertRouting() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routing = pipeline.DefaultRouting()
	if r.worker != nil {
		r.worker.RevertRouting()
	}
}

// Routing returns the hardware output routes.
func (r *Radio) Routing() pipeline.Routing {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.routing
}

// SetOutputChannels changes the DSP channels feeding the first local
// output.
func (r *Radio) SetOutputChannels(left, right int) error {
	if len(r.outputs) == 0 {
		return ErrNoOutput
	}
	for _, ch := range []int{left, right} {
		if ch < 0 || ch >= protocol.MaxReceivers {
			return fmt.Errorf("dsp channel must be between 0 and %d, got %d", protocol.MaxReceivers-1, ch)
		}
	}
	r.outputs[0].SetChannels(left, right)
	return nil
}

// RevertOutputChannels restores the configured channels of the first
// local output.
func (r *Radio) RevertOutputChannels() error {
	if len(r.outputs) == 0 {
		return ErrNoOutput
	}
	r.outputs[0].RevertChannels()
	return nil
}

// SetDisplay changes the scope width and publish period.
func (r *Radio) SetDisplay(width int, period time.Duration) error {
	if r.scope == nil {
		return ErrNoScope
	}
	return r.scope.SetDisplay(width, period)
}

// Scope returns the wideband scope, or nil.
func (r *Radio) Scope() *scope.Scope {
	return r.scope
}

// Start builds the pipeline for the current geometry, primes the radio
// with control frames, tells it to start streaming and launches the
// reader, worker and (in paced mode) writer goroutines.
func (r *Radio) Start(hw Hardware) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrRunning
	}
	if hw == nil {
		return fmt.Errorf("no radio hardware")
	}
	if hw.RadioAddr() == nil {
		return ErrNoAddress
	}

	if err := r.build(hw); err != nil {
		return err
	}

	if err := r.writer.Prime(); err != nil {
		r.teardown()
		return err
	}
	if err := hw.SendStart(r.wideband); err != nil {
		r.teardown()
		return fmt.Errorf("failed to start radio: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.worker.Start()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.reader.Run(ctx, hw.Conn()); err != nil {
			r.logger.Error("Frame reader failed", slog.String("error", err.Error()))
		}
	}()

	if r.writerMode == WriterPaced {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.writer.Run(ctx, time.Duration(protocol.FramePeriodNanos()))
		}()
	}

	r.hw = hw
	r.running = true
	r.started = time.Now()
	r.metrics.SetRunning(true)

	r.logger.Info("Radio started",
		slog.String("radio_addr", hw.RadioAddr().String()),
		slog.Int("num_rx", r.cfg.NumRX),
		slog.Int("in_rate", r.cfg.InRate),
		slog.Bool("wideband", r.wideband),
		slog.String("writer_mode", string(r.writerMode)))
	return nil
}

// build allocates the rings and components for one session.
func (r *Radio) build(hw Hardware) error {
	sizes := r.cfg.Sizes()

	iq, err := audio.NewRingBuffer("iq", sizes.IQRing)
	if err != nil {
		return err
	}
	mic, err := audio.NewRingBuffer("mic", sizes.MicRing)
	if err != nil {
		return err
	}
	out, err := audio.NewRingBuffer("out", sizes.OutRing)
	if err != nil {
		return err
	}

	decoder, err := protocol.NewDecoder(r.cfg.NumRX, r.cfg.InRate)
	if err != nil {
		return err
	}

	notifier := pipeline.NewNotifier()
	worker, err := pipeline.NewWorker(pipeline.Options{
		Config:    r.cfg,
		IQRing:    iq,
		MicRing:   mic,
		OutRing:   out,
		Notifier:  notifier,
		Exchanger: r.exchanger,
		Outputs:   r.outputs,
		Display:   r.display,
		Logger:    r.logger.With(slog.String("component", "pipeline")),
		Metrics:   r.metrics,
	})
	if err != nil {
		return err
	}
	for i, g := range r.gain {
		if err := worker.SetGain(i+1, g); err != nil {
			return err
		}
	}
	worker.SetMicGain(r.micGain)
	worker.SetDrive(r.drive)
	if err := worker.SetRouting(r.routing); err != nil {
		return err
	}

	r.control.Rewind()
	r.ep2.Reset(0)
	writer := NewFrameWriter(out, protocol.NewEncoder(r.control, r.ep2),
		NewConnSender(hw.Conn(), hw.RadioAddr()),
		r.logger.With(slog.String("component", "writer")), r.metrics)

	var onFrame func()
	if r.writerMode == WriterOnReceive {
		onFrame = func() { writer.WriteNext() }
	}

	reader, err := NewFrameReader(ReaderOptions{
		Decoder:  decoder,
		IQRing:   iq,
		MicRing:  mic,
		LocalMic: r.localMic,
		Notifier: notifier,
		Scope:    r.scope,
		OnFrame:  onFrame,
		Logger:   r.logger.With(slog.String("component", "reader")),
		Metrics:  r.metrics,
	})
	if err != nil {
		return err
	}

	for _, o := range r.outputs {
		o.Reset()
	}
	if r.localMic != nil {
		r.localMic.Reset()
	}
	if r.scope != nil {
		r.scope.Reset()
	}

	r.worker = worker
	r.reader = reader
	r.writer = writer
	r.rings = []*audio.RingBuffer{iq, mic, out}
	return nil
}

func (r *Radio) teardown() {
	r.worker = nil
	r.reader = nil
	r.writer = nil
	r.rings = nil
}

// Stop tells the radio to stop streaming, then stops the goroutines and
// closes the local outputs. The worker is given a bounded time to exit;
// ErrStopTimeout is returned if it does not.
func (r *Radio) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return ErrNotRunning
	}

	if err := r.hw.SendStop(); err != nil {
		r.logger.Warn("Failed to send stop to radio", slog.String("error", err.Error()))
	}

	r.cancel()
	r.wg.Wait()
	stopErr := r.worker.Stop()

	for _, o := range r.outputs {
		if err := o.Close(); err != nil {
			r.logger.Warn("Failed to close audio output",
				slog.String("output", o.Name()),
				slog.String("error", err.Error()))
		}
	}

	r.running = false
	r.metrics.SetRunning(false)
	r.logger.Info("Radio stopped", slog.Duration("uptime", time.Since(r.started)))

	if stopErr != nil {
		r.logger.Error("Pipeline worker did not stop", slog.String("error", stopErr.Error()))
	}
	return stopErr
}

// Status returns a snapshot of the radio state.
func (r *Radio) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		Running:    r.running,
		NumRX:      r.cfg.NumRX,
		NumTX:      r.cfg.NumTX,
		InRate:     r.cfg.InRate,
		OutRate:    r.cfg.OutRate,
		IQBlock:    r.cfg.IQBlock,
		MicBlock:   r.cfg.MicBlock,
		Duplex:     r.control.Get(protocol.SettingDuplex) == protocol.On,
		MOX:        r.control.MOX(),
		Wideband:   r.wideband,
		WriterMode: r.writerMode,
		Sizes:      r.cfg.Sizes(),
		Outputs:    make([]audio.OutputStats, 0, len(r.outputs)),
	}
	if r.running {
		st.Uptime = time.Since(r.started).Round(time.Second).String()
	}
	if r.reader != nil {
		rs := r.reader.GetStatistics()
		st.Reader = &rs
	}
	if r.writer != nil {
		ws := r.writer.GetStatistics()
		st.Writer = &ws
	}
	for _, ring := range r.rings {
		st.Rings = append(st.Rings, ring.Stats())
	}
	for _, o := range r.outputs {
		st.Outputs = append(st.Outputs, o.Stats())
	}
	return st
}

func boolValue(on bool) int {
	if on {
		return protocol.On
	}
	return protocol.Off
}
