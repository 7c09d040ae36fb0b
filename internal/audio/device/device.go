// Package device connects audio rings to sound hardware through PortAudio:
// playback streams for local outputs and a capture stream used as a local
// microphone.
package device

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/skypro1111/hpsdr-server/internal/audio"
)

var (
	paMu    sync.Mutex
	paUsers int
)

// acquire initialises PortAudio on first use.
func acquire() error {
	paMu.Lock()
	defer paMu.Unlock()
	if paUsers == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize PortAudio: %w", err)
		}
	}
	paUsers++
	return nil
}

func release() {
	paMu.Lock()
	defer paMu.Unlock()
	if paUsers == 0 {
		return
	}
	paUsers--
	if paUsers == 0 {
		portaudio.Terminate()
	}
}

// Config selects a device and stream geometry.
type Config struct {
	Device          string // empty for the host default
	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

func findDevice(name string, output bool) (*portaudio.DeviceInfo, error) {
	if name == "" {
		if output {
			return portaudio.DefaultOutputDevice()
		}
		return portaudio.DefaultInputDevice()
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get device list: %w", err)
	}
	for _, d := range devices {
		if d.Name != name {
			continue
		}
		if output && d.MaxOutputChannels > 0 || !output && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("audio device %q not found", name)
}

// Playback drains an output ring of interleaved LE int16 frames into a
// sound card. It implements audio.Stream.
type Playback struct {
	cfg    Config
	ring   *audio.RingBuffer
	logger *slog.Logger

	stream *portaudio.Stream
	buf    []byte
}

// NewPlayback creates a playback stream for ring.
func NewPlayback(cfg Config, ring *audio.RingBuffer, logger *slog.Logger) *Playback {
	return &Playback{cfg: cfg, ring: ring, logger: logger}
}

// Start opens the device and begins playback.
func (p *Playback) Start() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("PortAudio panic: %v", r)
		}
	}()

	if err := acquire(); err != nil {
		return err
	}

	dev, err := findDevice(p.cfg.Device, true)
	if err != nil {
		release()
		return err
	}

	params := portaudio.LowLatencyParameters(nil, dev)
	params.Output.Channels = p.cfg.Channels
	params.SampleRate = float64(p.cfg.SampleRate)
	params.FramesPerBuffer = p.cfg.FramesPerBuffer

	stream, err := portaudio.OpenStream(params, p.callback)
	if err != nil {
		release()
		return fmt.Errorf("failed to open audio stream on %s: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		release()
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	p.stream = stream
	p.logger.Info("Audio playback started",
		slog.String("device", dev.Name),
		slog.String("ring", p.ring.Name()),
		slog.Int("sample_rate", p.cfg.SampleRate))
	return nil
}

func (p *Playback) callback(out []int16) {
	n := len(out) * 2
	if cap(p.buf) < n {
		p.buf = make([]byte, n)
	}
	buf := p.buf[:n]

	if !p.ring.ReadInto(buf) {
		// Underrun: play silence rather than a partial block
		clear(out)
		return
	}
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
	}
}

// Stop halts playback and releases the device.
func (p *Playback) Stop() error {
	if p.stream == nil {
		return nil
	}
	defer release()

	stream := p.stream
	p.stream = nil
	if err := stream.Stop(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to stop audio stream: %w", err)
	}
	return stream.Close()
}

// Capture records mono int16 samples from a sound card into a ring as
// little-endian bytes. It implements audio.Stream.
type Capture struct {
	cfg    Config
	ring   *audio.RingBuffer
	logger *slog.Logger

	stream  *portaudio.Stream
	buf     []byte
	dropped uint64
}

// NewCapture creates a capture stream writing into ring.
func NewCapture(cfg Config, ring *audio.RingBuffer, logger *slog.Logger) *Capture {
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	return &Capture{cfg: cfg, ring: ring, logger: logger}
}

// Start opens the input device and begins capturing.
func (c *Capture) Start() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("PortAudio panic: %v", r)
		}
	}()

	if err := acquire(); err != nil {
		return err
	}

	dev, err := findDevice(c.cfg.Device, false)
	if err != nil {
		release()
		return err
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = c.cfg.Channels
	params.SampleRate = float64(c.cfg.SampleRate)
	params.FramesPerBuffer = c.cfg.FramesPerBuffer

	stream, err := portaudio.OpenStream(params, c.callback)
	if err != nil {
		release()
		return fmt.Errorf("failed to open capture stream on %s: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		release()
		return fmt.Errorf("failed to start capture stream: %w", err)
	}

	c.stream = stream
	c.logger.Info("Local microphone started",
		slog.String("device", dev.Name),
		slog.Int("sample_rate", c.cfg.SampleRate))
	return nil
}

func (c *Capture) callback(in []int16) {
	n := len(in) * 2
	if cap(c.buf) < n {
		c.buf = make([]byte, n)
	}
	buf := c.buf[:n]
	for i, v := range in {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
	}
	if !c.ring.Write(buf) {
		c.dropped++
	}
}

// Stop halts capture and releases the device.
func (c *Capture) Stop() error {
	if c.stream == nil {
		return nil
	}
	defer release()

	stream := c.stream
	c.stream = nil
	if err := stream.Stop(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to stop capture stream: %w", err)
	}
	if c.dropped > 0 {
		c.logger.Warn("Local microphone dropped buffers", slog.Uint64("dropped", c.dropped))
	}
	return stream.Close()
}
