package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skypro1111/hpsdr-server/internal/audio"
	"github.com/skypro1111/hpsdr-server/internal/pipeline"
	"github.com/skypro1111/hpsdr-server/internal/protocol"
	"github.com/skypro1111/hpsdr-server/internal/radio"
	"github.com/skypro1111/hpsdr-server/internal/scope"
)

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Radio   RadioConfig   `yaml:"radio"`
	Audio   AudioConfig   `yaml:"audio"`
	Scope   ScopeConfig   `yaml:"scope"`
	HTTP    HTTPConfig    `yaml:"http"`
	Metrics MetricsConfig `yaml:"metrics"`
	MDNS    MDNSConfig    `yaml:"mdns"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains the radio link UDP configuration
type ServerConfig struct {
	BindAddress       string `yaml:"bind_address"`
	LocalPort         int    `yaml:"local_port"`    // 0 picks a free port
	RadioAddress      string `yaml:"radio_address"` // empty to discover by broadcast
	RadioPort         int    `yaml:"radio_port"`
	BroadcastAddress  string `yaml:"broadcast_address"`
	BufferSize        int    `yaml:"buffer_size"`
	DiscoveryAttempts int    `yaml:"discovery_attempts"`
	DiscoveryInterval int    `yaml:"discovery_interval"` // milliseconds
}

// RadioConfig contains the stream geometry, levels and power-on control
// settings.
type RadioConfig struct {
	NumRX      int            `yaml:"num_rx"`
	NumTX      int            `yaml:"num_tx"`
	InRate     int            `yaml:"in_rate"`
	OutRate    int            `yaml:"out_rate"`
	IQBlock    int            `yaml:"iq_block"`
	MicBlock   int            `yaml:"mic_block"`
	Duplex     bool           `yaml:"duplex"`
	Wideband   bool           `yaml:"wideband"`
	WriterMode string         `yaml:"writer_mode"`
	Exchanger  string         `yaml:"exchanger"`
	Gain       []float64      `yaml:"gain"` // per receiver
	MicGain    float64        `yaml:"mic_gain"`
	Drive      float64        `yaml:"drive"`
	RXFreq     []uint32       `yaml:"rx_frequencies"`
	TXFreq     uint32         `yaml:"tx_frequency"`
	Settings   map[string]int `yaml:"settings"`
	AutoStart  bool           `yaml:"auto_start"`
}

// AudioConfig contains the local audio outputs and microphone input
type AudioConfig struct {
	Outputs  []OutputConfig `yaml:"outputs"`
	LocalMic LocalMicConfig `yaml:"local_mic"`
}

// OutputConfig describes one local audio output
type OutputConfig struct {
	Name         string `yaml:"name"`
	Type         string `yaml:"type"` // af, cwskimmer, wspr or iq
	Left         int    `yaml:"left"`
	Right        int    `yaml:"right"`
	Sink         string `yaml:"sink"` // device or file
	Device       string `yaml:"device"`
	Path         string `yaml:"path"`
	Prime        int    `yaml:"prime"`         // blocks delivered before the sink starts
	BufferBlocks int    `yaml:"buffer_blocks"` // ring capacity in pipeline blocks
}

// LocalMicConfig selects a capture device to replace the radio microphone
type LocalMicConfig struct {
	Enabled bool   `yaml:"enabled"`
	Device  string `yaml:"device"`
}

// ScopeConfig contains the wideband scope configuration
type ScopeConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Size          int     `yaml:"size"`
	Smooth        int     `yaml:"smooth"`
	GainAdjust    float64 `yaml:"gain_adjust"`
	Width         int     `yaml:"width"`
	Period        int     `yaml:"period"` // milliseconds
	QueueCapacity int     `yaml:"queue_capacity"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// MetricsConfig contains Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MDNSConfig contains the zeroconf advertisement of the HTTP API
type MDNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
	Service  string `yaml:"service"`
	Domain   string `yaml:"domain"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Default returns the configuration used for any value the file leaves
// unset.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:       "0.0.0.0",
			RadioPort:         1024,
			BroadcastAddress:  "255.255.255.255",
			BufferSize:        1 << 20,
			DiscoveryAttempts: 10,
			DiscoveryInterval: 200,
		},
		Radio: RadioConfig{
			NumRX:      1,
			NumTX:      1,
			InRate:     48000,
			OutRate:    48000,
			IQBlock:    1024,
			MicBlock:   1024,
			WriterMode: string(radio.WriterPaced),
			Exchanger:  "passthrough",
			MicGain:    pipeline.DefaultMicGain,
			Drive:      pipeline.DefaultDrive,
		},
		Scope: ScopeConfig{
			Size:          scope.DefaultSize,
			Smooth:        scope.DefaultSmooth,
			GainAdjust:    scope.DefaultGainAdjust,
			Width:         scope.DefaultWidth,
			Period:        int(scope.DefaultPeriod / time.Millisecond),
			QueueCapacity: 4,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		MDNS: MDNSConfig{
			Instance: "hpsdr-server",
			Service:  "_hpsdr-server._tcp",
			Domain:   "local.",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Radio.Validate(); err != nil {
		return fmt.Errorf("radio config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Scope.Validate(); err != nil {
		return fmt.Errorf("scope config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.MDNS.Validate(); err != nil {
		return fmt.Errorf("mdns config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.LocalPort < 0 || s.LocalPort > 65535 {
		return fmt.Errorf("local_port must be between 0 and 65535, got %d", s.LocalPort)
	}

	if s.RadioPort < 1 || s.RadioPort > 65535 {
		return fmt.Errorf("radio_port must be between 1 and 65535, got %d", s.RadioPort)
	}

	if s.RadioAddress == "" && s.BroadcastAddress == "" {
		return fmt.Errorf("broadcast_address cannot be empty when radio_address is not set")
	}

	if s.BufferSize < protocol.FrameSize {
		return fmt.Errorf("buffer_size must be at least %d bytes, got %d", protocol.FrameSize, s.BufferSize)
	}

	if s.DiscoveryAttempts < 1 {
		return fmt.Errorf("discovery_attempts must be at least 1, got %d", s.DiscoveryAttempts)
	}

	if s.DiscoveryInterval < 1 {
		return fmt.Errorf("discovery_interval must be at least 1 ms, got %d", s.DiscoveryInterval)
	}

	return nil
}

// Validate validates radio configuration
func (r *RadioConfig) Validate() error {
	if err := r.Pipeline().Validate(); err != nil {
		return err
	}

	if _, err := radio.ParseWriterMode(r.WriterMode); err != nil {
		return fmt.Errorf("writer_mode: %w", err)
	}

	if _, err := pipeline.NewExchanger(r.Exchanger); err != nil {
		return fmt.Errorf("exchanger: %w", err)
	}

	if len(r.Gain) > protocol.MaxReceivers {
		return fmt.Errorf("gain accepts at most %d values, got %d", protocol.MaxReceivers, len(r.Gain))
	}

	if len(r.RXFreq) > protocol.MaxReceivers {
		return fmt.Errorf("rx_frequencies accepts at most %d values, got %d", protocol.MaxReceivers, len(r.RXFreq))
	}

	for name, value := range r.Settings {
		setting, err := protocol.ParseSetting(name)
		if err != nil {
			return fmt.Errorf("settings: %w", err)
		}
		if value < 0 || value >= setting.Values() {
			return fmt.Errorf("settings: %s must be between 0 and %d, got %d", name, setting.Values()-1, value)
		}
	}

	return nil
}

// Pipeline returns the stream geometry.
func (r *RadioConfig) Pipeline() pipeline.Config {
	return pipeline.Config{
		NumRX:    r.NumRX,
		NumTX:    r.NumTX,
		InRate:   r.InRate,
		OutRate:  r.OutRate,
		IQBlock:  r.IQBlock,
		MicBlock: r.MicBlock,
	}
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	names := make(map[string]bool, len(a.Outputs))
	for i := range a.Outputs {
		o := &a.Outputs[i]
		if err := o.Validate(); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
		if names[o.Name] {
			return fmt.Errorf("output %d: duplicate name %q", i, o.Name)
		}
		names[o.Name] = true
	}
	return nil
}

// Validate validates one output
func (o *OutputConfig) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	if _, err := audio.ParseSourceType(o.Type); err != nil {
		return err
	}

	for _, ch := range []int{o.Left, o.Right} {
		if ch < 0 || ch >= protocol.MaxReceivers {
			return fmt.Errorf("channels must be between 0 and %d, got %d", protocol.MaxReceivers-1, ch)
		}
	}

	switch o.Sink {
	case "device":
	case "file":
		if o.Path == "" {
			return fmt.Errorf("path cannot be empty for a file sink")
		}
	default:
		return fmt.Errorf("sink must be 'device' or 'file', got '%s'", o.Sink)
	}

	if o.Prime < 0 {
		return fmt.Errorf("prime cannot be negative, got %d", o.Prime)
	}

	if o.BufferBlocks < 0 {
		return fmt.Errorf("buffer_blocks cannot be negative, got %d", o.BufferBlocks)
	}

	return nil
}

// Validate validates scope configuration
func (s *ScopeConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	if s.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be at least 1, got %d", s.QueueCapacity)
	}
	return s.Scope().Validate()
}

// Scope returns the scope parameters.
func (s *ScopeConfig) Scope() scope.Config {
	return scope.Config{
		Size:       s.Size,
		Smooth:     s.Smooth,
		GainAdjust: s.GainAdjust,
		Width:      s.Width,
		Period:     s.GetPeriodDuration(),
	}
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	if m.Enabled && (m.Path == "" || m.Path[0] != '/') {
		return fmt.Errorf("metrics path must start with '/', got '%s'", m.Path)
	}
	return nil
}

// Validate validates mDNS configuration
func (m *MDNSConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	if m.Instance == "" {
		return fmt.Errorf("instance cannot be empty when mDNS is enabled")
	}
	if m.Service == "" {
		return fmt.Errorf("service cannot be empty when mDNS is enabled")
	}
	if m.Domain == "" {
		return fmt.Errorf("domain cannot be empty when mDNS is enabled")
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout or stderr is a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// GetDiscoveryIntervalDuration returns the discovery retry interval as a
// time.Duration
func (s *ServerConfig) GetDiscoveryIntervalDuration() time.Duration {
	return time.Duration(s.DiscoveryInterval) * time.Millisecond
}

// GetPeriodDuration returns the scope publish period as a time.Duration
func (s *ScopeConfig) GetPeriodDuration() time.Duration {
	return time.Duration(s.Period) * time.Millisecond
}
