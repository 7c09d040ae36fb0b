package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/skypro1111/hpsdr-server/internal/audio"
	"github.com/skypro1111/hpsdr-server/internal/audio/device"
	"github.com/skypro1111/hpsdr-server/internal/bus"
	"github.com/skypro1111/hpsdr-server/internal/config"
	"github.com/skypro1111/hpsdr-server/internal/metrics"
	"github.com/skypro1111/hpsdr-server/internal/pipeline"
	"github.com/skypro1111/hpsdr-server/internal/protocol"
	"github.com/skypro1111/hpsdr-server/internal/radio"
	"github.com/skypro1111/hpsdr-server/internal/scope"
	"github.com/skypro1111/hpsdr-server/internal/server"
)

const (
	defaultConfigPath   = "configs/config.yaml"
	serviceName         = "hpsdr-server"
	defaultBufferBlocks = 8
)

var version = "dev"

func main() {
	// Parse command line flags
	configPath := pflag.StringP("config", "c", defaultConfigPath, "Path to configuration file")
	logLevel := pflag.String("log-level", "", "Override the configured log level (debug, info, warn, error)")
	showVersion := pflag.BoolP("version", "v", false, "Print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", serviceName, version)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
		if err := cfg.Logging.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --log-level: %v\n", err)
			os.Exit(1)
		}
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)
	instanceID := uuid.New().String()

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", version),
		slog.String("instance_id", instanceID),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.String("radio_address", cfg.Server.RadioAddress),
		slog.Int("num_rx", cfg.Radio.NumRX),
		slog.Int("in_rate", cfg.Radio.InRate),
		slog.Int("out_rate", cfg.Radio.OutRate),
		slog.Int("iq_block", cfg.Radio.IQBlock),
		slog.Int("mic_block", cfg.Radio.MicBlock),
		slog.String("writer_mode", cfg.Radio.WriterMode),
		slog.String("exchanger", cfg.Radio.Exchanger),
		slog.Int("outputs", len(cfg.Audio.Outputs)),
		slog.Bool("scope", cfg.Scope.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initialize Prometheus metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	eventBus := bus.New(cfg.Scope.QueueCapacity, logger.With(slog.String("component", "bus")))

	outputs, err := buildOutputs(cfg, logger)
	if err != nil {
		logger.Error("Failed to configure audio outputs", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var capture *device.Capture
	var localMic *audio.RingBuffer
	if cfg.Audio.LocalMic.Enabled {
		localMic, capture, err = startCapture(cfg, logger)
		if err != nil {
			logger.Error("Failed to start local microphone", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	var sc *scope.Scope
	if cfg.Scope.Enabled {
		relay := bus.NewRelay(eventBus, bus.TopicScope)
		go relay.Run(ctx)
		publish := func(s scope.Spectrum) { relay.Offer(s) }
		sc, err = scope.New(cfg.Scope.Scope(), publish, logger.With(slog.String("component", "scope")), appMetrics)
		if err != nil {
			logger.Error("Failed to create scope", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	exchanger, err := pipeline.NewExchanger(cfg.Radio.Exchanger)
	if err != nil {
		logger.Error("Failed to create exchanger", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rad, err := radio.New(radio.Options{
		Pipeline:   cfg.Radio.Pipeline(),
		Exchanger:  exchanger,
		Outputs:    outputs,
		LocalMic:   localMic,
		Scope:      sc,
		Wideband:   cfg.Radio.Wideband,
		WriterMode: radio.WriterMode(cfg.Radio.WriterMode),
		Logger:     logger.With(slog.String("component", "radio")),
		Metrics:    appMetrics,
	})
	if err != nil {
		logger.Error("Failed to create radio", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := applyRadioConfig(rad, &cfg.Radio); err != nil {
		logger.Error("Failed to apply radio configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize UDP server
	udpServer := server.NewUDPServer(&cfg.Server, logger.With(slog.String("component", "link")))
	if err := udpServer.Start(); err != nil {
		logger.Error("Failed to start UDP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if !udpServer.HasRadio() {
		if _, err := udpServer.Discover(ctx); err != nil {
			logger.Warn("Radio discovery failed, will retry on start", slog.String("error", err.Error()))
		}
	}

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	var mdns *zeroconf.Server
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(server.HTTPOptions{
			Config:     cfg,
			Radio:      rad,
			Link:       udpServer,
			Bus:        eventBus,
			Metrics:    appMetrics,
			Gatherer:   registry,
			InstanceID: instanceID,
			Version:    version,
			Logger:     logger.With(slog.String("component", "http")),
		})
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}

		if cfg.MDNS.Enabled {
			mdns, err = zeroconf.Register(cfg.MDNS.Instance, cfg.MDNS.Service, cfg.MDNS.Domain, cfg.HTTP.Port,
				[]string{"id=" + instanceID, "version=" + version}, nil)
			if err != nil {
				logger.Warn("Failed to register mDNS service", slog.String("error", err.Error()))
			} else {
				logger.Info("mDNS service registered",
					slog.String("instance", cfg.MDNS.Instance),
					slog.String("service", cfg.MDNS.Service),
					slog.Int("port", cfg.HTTP.Port),
				)
			}
		}
	}

	if cfg.Radio.AutoStart {
		if err := startRadio(ctx, rad, udpServer); err != nil {
			logger.Error("Failed to start radio", slog.String("error", err.Error()))
		} else {
			eventBus.Publish(bus.TopicState, rad.Status())
		}
	}

	logger.Info("Service started successfully, waiting for signals...")

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
		shutdownCancel()
	}
	if mdns != nil {
		mdns.Shutdown()
	}

	if rad.Running() {
		if err := rad.Stop(); err != nil {
			logger.Error("Error stopping radio", slog.String("error", err.Error()))
		}
	}
	if capture != nil {
		if err := capture.Stop(); err != nil {
			logger.Error("Error stopping local microphone", slog.String("error", err.Error()))
		}
	}

	if err := udpServer.Stop(); err != nil {
		logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
	}
	eventBus.Close()

	// Get final statistics
	stats := udpServer.GetStatistics()
	logger.Info("Final link statistics",
		slog.String("radio_address", stats.RadioAddress),
		slog.Uint64("discoveries", stats.Discoveries),
		slog.Uint64("starts_sent", stats.StartsSent),
		slog.Uint64("stops_sent", stats.StopsSent),
	)

	logger.Info("Service stopped")
}

// buildOutputs creates the local audio outputs and attaches their sinks.
func buildOutputs(cfg *config.Config, logger *slog.Logger) ([]*audio.Output, error) {
	sizes := cfg.Radio.Pipeline().Sizes()

	var outputs []*audio.Output
	for _, oc := range cfg.Audio.Outputs {
		typ, err := audio.ParseSourceType(oc.Type)
		if err != nil {
			return nil, err
		}
		blocks := oc.BufferBlocks
		if blocks <= 0 {
			blocks = defaultBufferBlocks
		}
		ring, err := audio.NewRingBuffer(oc.Name, audio.NextPowerOfTwo(sizes.DSPLR*2*blocks))
		if err != nil {
			return nil, err
		}

		out := audio.NewOutput(oc.Name, typ, oc.Left, oc.Right, ring, oc.Prime)
		outLogger := logger.With(slog.String("output", oc.Name))
		switch oc.Sink {
		case "file":
			recorder := audio.NewWAVRecorder(oc.Path, 2, cfg.Radio.OutRate)
			out.Attach(audio.NewFileStream(ring, recorder, 0, outLogger))
		default:
			out.Attach(device.NewPlayback(device.Config{
				Device:          oc.Device,
				SampleRate:      cfg.Radio.OutRate,
				Channels:        2,
				FramesPerBuffer: sizes.DSPLR / 2,
			}, ring, outLogger))
		}

		logger.Info("Audio output configured",
			slog.String("name", oc.Name),
			slog.String("type", typ.String()),
			slog.String("sink", oc.Sink),
			slog.Int("ring_bytes", ring.Capacity()),
		)
		outputs = append(outputs, out)
	}
	return outputs, nil
}

// startCapture opens the local microphone. The radio microphone always
// runs at 48 kHz.
func startCapture(cfg *config.Config, logger *slog.Logger) (*audio.RingBuffer, *device.Capture, error) {
	sizes := cfg.Radio.Pipeline().Sizes()
	ring, err := audio.NewRingBuffer("local_mic", sizes.MicRing)
	if err != nil {
		return nil, nil, err
	}
	capture := device.NewCapture(device.Config{
		Device:          cfg.Audio.LocalMic.Device,
		SampleRate:      protocol.BaseRate,
		Channels:        1,
		FramesPerBuffer: cfg.Radio.MicBlock,
	}, ring, logger.With(slog.String("component", "local_mic")))
	if err := capture.Start(); err != nil {
		return nil, nil, err
	}
	return ring, capture, nil
}

// applyRadioConfig applies levels, frequencies and control settings.
func applyRadioConfig(rad *radio.Radio, cfg *config.RadioConfig) error {
	for i, gain := range cfg.Gain {
		if err := rad.SetGain(i+1, gain); err != nil {
			return err
		}
	}
	rad.SetMicGain(cfg.MicGain)
	rad.SetDrive(cfg.Drive)

	for i, hz := range cfg.RXFreq {
		if err := rad.SetRXFrequency(i+1, hz); err != nil {
			return err
		}
	}
	if cfg.TXFreq != 0 {
		rad.SetTXFrequency(cfg.TXFreq)
	}
	if cfg.Duplex {
		if err := rad.SetDuplex(true); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(cfg.Settings))
	for name := range cfg.Settings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := rad.SetSetting(name, cfg.Settings[name]); err != nil {
			return err
		}
	}
	return nil
}

func startRadio(ctx context.Context, rad *radio.Radio, link *server.UDPServer) error {
	if !link.HasRadio() {
		if _, err := link.Discover(ctx); err != nil {
			return err
		}
	}
	return rad.Start(link)
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
