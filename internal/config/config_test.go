package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "invalid radio port",
			mutate:      func(c *Config) { c.Server.RadioPort = 70000 },
			expectError: true,
			errorMsg:    "radio_port must be between 1 and 65535",
		},
		{
			name:        "too many receivers",
			mutate:      func(c *Config) { c.Radio.NumRX = 4 },
			expectError: true,
			errorMsg:    "num_rx must be between 1 and 3",
		},
		{
			name:        "unsupported input rate",
			mutate:      func(c *Config) { c.Radio.InRate = 44100 },
			expectError: true,
			errorMsg:    "in_rate",
		},
		{
			name:        "unknown writer mode",
			mutate:      func(c *Config) { c.Radio.WriterMode = "burst" },
			expectError: true,
			errorMsg:    "writer_mode",
		},
		{
			name:        "unknown exchanger",
			mutate:      func(c *Config) { c.Radio.Exchanger = "wdsp" },
			expectError: true,
			errorMsg:    "exchanger",
		},
		{
			name:        "unknown control setting",
			mutate:      func(c *Config) { c.Radio.Settings = map[string]int{"turbo": 1} },
			expectError: true,
			errorMsg:    "invalid setting",
		},
		{
			name:        "control setting out of range",
			mutate:      func(c *Config) { c.Radio.Settings = map[string]int{"attenuator": 4} },
			expectError: true,
			errorMsg:    "attenuator must be between 0 and 3",
		},
		{
			name:        "too many gains",
			mutate:      func(c *Config) { c.Radio.Gain = []float64{1, 1, 1, 1} },
			expectError: true,
			errorMsg:    "gain accepts at most 3 values",
		},
		{
			name: "file output without path",
			mutate: func(c *Config) {
				c.Audio.Outputs = []OutputConfig{{Name: "rec", Type: "af", Sink: "file"}}
			},
			expectError: true,
			errorMsg:    "path cannot be empty",
		},
		{
			name: "duplicate output names",
			mutate: func(c *Config) {
				c.Audio.Outputs = []OutputConfig{
					{Name: "a", Type: "af", Sink: "device"},
					{Name: "a", Type: "iq", Sink: "device"},
				}
			},
			expectError: true,
			errorMsg:    "duplicate name",
		},
		{
			name: "output channel out of range",
			mutate: func(c *Config) {
				c.Audio.Outputs = []OutputConfig{{Name: "a", Type: "af", Sink: "device", Right: 3}}
			},
			expectError: true,
			errorMsg:    "channels must be between 0 and 2",
		},
		{
			name: "scope width larger than size",
			mutate: func(c *Config) {
				c.Scope.Enabled = true
				c.Scope.Width = 8192
			},
			expectError: true,
			errorMsg:    "scope width",
		},
		{
			name:        "disabled scope is not checked",
			mutate:      func(c *Config) { c.Scope.Size = 1000 },
			expectError: false,
		},
		{
			name: "mdns without service",
			mutate: func(c *Config) {
				c.MDNS.Enabled = true
				c.MDNS.Service = ""
			},
			expectError: true,
			errorMsg:    "service cannot be empty",
		},
		{
			name:        "relative metrics path",
			mutate:      func(c *Config) { c.Metrics.Path = "metrics" },
			expectError: true,
			errorMsg:    "metrics path must start with '/'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	// Create a temporary directory for test files
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
server:
  bind_address: "0.0.0.0"
  radio_address: "192.168.1.20"
radio:
  num_rx: 2
  in_rate: 192000
  out_rate: 48000
  iq_block: 1024
  mic_block: 256
  writer_mode: on_receive
  gain: [0.5, 0.25]
  rx_frequencies: [7074000, 14074000]
  settings:
    preamp: 1
audio:
  outputs:
    - name: skimmer
      type: cwskimmer
      sink: file
      path: /tmp/skimmer.wav
scope:
  enabled: true
  width: 512
  period: 250
logging:
  level: "debug"
  format: "json"
  output: "stdout"
`,
			expectError: false,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
radio:
  num_rx: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "empty bind address",
			configYAML: `
server:
  bind_address: ""
`,
			expectError: true,
			errorMsg:    "bind_address cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Create temporary config file
			configPath := filepath.Join(tempDir, "config.yaml")
			err := os.WriteFile(configPath, []byte(tt.configYAML), 0644)
			if err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			// Load configuration
			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if config == nil {
					t.Errorf("Expected config to be loaded but got nil")
				}
			}
		})
	}
}

func TestConfigLoadKeepsDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("radio:\n  num_rx: 3\n"), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}

	if config.Radio.NumRX != 3 {
		t.Errorf("Expected num_rx 3, got %d", config.Radio.NumRX)
	}
	if config.Radio.InRate != 48000 {
		t.Errorf("Expected default in_rate 48000, got %d", config.Radio.InRate)
	}
	if config.Server.RadioPort != 1024 {
		t.Errorf("Expected default radio_port 1024, got %d", config.Server.RadioPort)
	}
	if config.Radio.WriterMode != "paced" {
		t.Errorf("Expected default writer_mode paced, got %s", config.Radio.WriterMode)
	}
}

func TestExampleConfig(t *testing.T) {
	config, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("Expected example config to load, got: %v", err)
	}
	if len(config.Audio.Outputs) != 1 || config.Audio.Outputs[0].Sink != "device" {
		t.Errorf("Expected one device output, got %+v", config.Audio.Outputs)
	}
	if config.Radio.RXFreq[0] != 7100000 {
		t.Errorf("Expected RX1 7100000, got %d", config.Radio.RXFreq[0])
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatalf("Expected error for nonexistent file but got none")
	}
	if !contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	server := ServerConfig{DiscoveryInterval: 200}
	if server.GetDiscoveryIntervalDuration() != 200*time.Millisecond {
		t.Errorf("Expected 200ms, got %v", server.GetDiscoveryIntervalDuration())
	}

	scope := ScopeConfig{Period: 1500}
	if scope.GetPeriodDuration() != 1500*time.Millisecond {
		t.Errorf("Expected 1.5 seconds, got %v", scope.GetPeriodDuration())
	}
	if scope.Scope().Period != 1500*time.Millisecond {
		t.Errorf("Expected scope period 1.5 seconds, got %v", scope.Scope().Period)
	}
}

func TestRadioPipeline(t *testing.T) {
	radio := RadioConfig{NumRX: 2, NumTX: 0, InRate: 96000, OutRate: 48000, IQBlock: 512, MicBlock: 256}
	p := radio.Pipeline()

	if p.NumRX != 2 || p.NumTX != 0 || p.InRate != 96000 || p.OutRate != 48000 || p.IQBlock != 512 || p.MicBlock != 256 {
		t.Errorf("Unexpected pipeline config %+v", p)
	}
}

func TestServerConfigValidation(t *testing.T) {
	valid := func() ServerConfig { return Default().Server }

	tests := []struct {
		name   string
		mutate func(*ServerConfig)
		valid  bool
	}{
		{"valid config", func(s *ServerConfig) {}, true},
		{"ephemeral local port", func(s *ServerConfig) { s.LocalPort = 0 }, true},
		{"local port too high", func(s *ServerConfig) { s.LocalPort = 70000 }, false},
		{"radio port too low", func(s *ServerConfig) { s.RadioPort = 0 }, false},
		{"empty bind address", func(s *ServerConfig) { s.BindAddress = "" }, false},
		{"buffer too small", func(s *ServerConfig) { s.BufferSize = 512 }, false},
		{"no broadcast and no radio", func(s *ServerConfig) { s.BroadcastAddress = "" }, false},
		{"fixed radio without broadcast", func(s *ServerConfig) {
			s.BroadcastAddress = ""
			s.RadioAddress = "10.0.0.5"
		}, true},
		{"no discovery attempts", func(s *ServerConfig) { s.DiscoveryAttempts = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(&config)
			err := config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		valid  bool
	}{
		{
			name: "valid json to stdout",
			config: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
			valid: true,
		},
		{
			name: "valid text to file",
			config: LoggingConfig{
				Level:  "debug",
				Format: "text",
				Output: "/var/log/hpsdr-server.log",
			},
			valid: true,
		},
		{
			name: "invalid log level",
			config: LoggingConfig{
				Level:  "trace",
				Format: "json",
				Output: "stdout",
			},
			valid: false,
		},
		{
			name: "invalid format",
			config: LoggingConfig{
				Level:  "info",
				Format: "xml",
				Output: "stdout",
			},
			valid: false,
		},
		{
			name: "empty output",
			config: LoggingConfig{
				Level:  "info",
				Format: "text",
			},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}

// Helper function to check if a string contains a substring
func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}
