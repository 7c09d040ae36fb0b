package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/hpsdr-server/internal/bus"
	"github.com/skypro1111/hpsdr-server/internal/config"
	"github.com/skypro1111/hpsdr-server/internal/metrics"
	"github.com/skypro1111/hpsdr-server/internal/pipeline"
	"github.com/skypro1111/hpsdr-server/internal/protocol"
	"github.com/skypro1111/hpsdr-server/internal/radio"
	"github.com/skypro1111/hpsdr-server/internal/scope"
)

const (
	serviceName  = "hpsdr-server"
	wsWriteWait  = 5 * time.Second
	maxBodyBytes = 1 << 16
)

// RadioLink is the hardware side the API drives: the radio socket plus
// discovery.
type RadioLink interface {
	radio.Hardware
	Discover(ctx context.Context) (*protocol.DiscoveryReply, error)
	HasRadio() bool
	GetStatistics() ServerStatistics
}

// HTTPOptions wires the API to the rest of the server. Bus and Gatherer
// may be nil.
type HTTPOptions struct {
	Config     *config.Config
	Radio      *radio.Radio
	Link       RadioLink
	Bus        bus.MessageBus
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	InstanceID string
	Version    string
	Logger     *slog.Logger
}

// HTTPServer provides HTTP API endpoints for monitoring and control
type HTTPServer struct {
	server   *http.Server
	router   *mux.Router
	upgrader websocket.Upgrader
	logger   *slog.Logger
	config   *config.Config
	radio    *radio.Radio
	link     RadioLink
	bus      bus.MessageBus
	metrics  *metrics.Metrics

	// lifecycle serialises discovery with starting and stopping the radio.
	lifecycle sync.Mutex

	instanceID string
	version    string
	startTime  time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(opts HTTPOptions) *HTTPServer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &HTTPServer{
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16384,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:     opts.Logger,
		config:     opts.Config,
		radio:      opts.Radio,
		link:       opts.Link,
		bus:        opts.Bus,
		metrics:    opts.Metrics,
		instanceID: opts.InstanceID,
		version:    opts.Version,
		startTime:  time.Now(),
	}
	h.setupRoutes(opts.Gatherer)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", opts.Config.HTTP.Address, opts.Config.HTTP.Port),
		Handler:      h.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(gatherer prometheus.Gatherer) {
	// Websocket and Prometheus routes bypass the gzip wrapper
	h.router.HandleFunc("/ws/scope", h.handleScopeStream).Methods(http.MethodGet)
	if gatherer != nil && h.config.Metrics.Enabled {
		h.router.Handle(h.config.Metrics.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	api := h.router.PathPrefix("/").Subrouter()
	api.Use(h.withMetrics)
	api.Use(func(next http.Handler) http.Handler { return gzhttp.GzipHandler(next) })

	api.HandleFunc("/", h.handleRoot).Methods(http.MethodGet)
	api.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/status", h.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/config", h.handleConfig).Methods(http.MethodGet)
	api.HandleFunc("/stats", h.handleStats).Methods(http.MethodGet)

	api.HandleFunc("/control", h.handleControl).Methods(http.MethodGet)
	api.HandleFunc("/control/{setting}", h.handleSetControl).Methods(http.MethodPost)

	api.HandleFunc("/receivers/{rx:[0-9]+}/frequency", h.handleRXFrequency).Methods(http.MethodPost)
	api.HandleFunc("/receivers/{rx:[0-9]+}/gain", h.handleRXGain).Methods(http.MethodPost)
	api.HandleFunc("/transmitter/{param}", h.handleTransmitter).Methods(http.MethodPost)
	api.HandleFunc("/general/{param}", h.handleGeneral).Methods(http.MethodPost)

	api.HandleFunc("/routing", h.handleGetRouting).Methods(http.MethodGet)
	api.HandleFunc("/routing", h.handleSetRouting).Methods(http.MethodPost)
	api.HandleFunc("/routing", h.handleRevertRouting).Methods(http.MethodDelete)
	api.HandleFunc("/outputs/channels", h.handleSetOutputChannels).Methods(http.MethodPost)
	api.HandleFunc("/outputs/channels", h.handleRevertOutputChannels).Methods(http.MethodDelete)

	api.HandleFunc("/start", h.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/stop", h.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/discover", h.handleDiscover).Methods(http.MethodPost)

	api.HandleFunc("/scope", h.handleScope).Methods(http.MethodGet)
	api.HandleFunc("/scope/display", h.handleScopeDisplay).Methods(http.MethodPost)
}

// Handler returns the routed handler, for tests and embedding.
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		// Record error if status code indicates an error
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, radio.ErrRunning), errors.Is(err, radio.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, protocol.ErrInvalidSetting), errors.Is(err, radio.ErrNoOutput), errors.Is(err, radio.ErrNoScope):
		return http.StatusNotFound
	case errors.Is(err, ErrNoRadio), errors.Is(err, radio.ErrNoAddress):
		return http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrStopTimeout):
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

type valueRequest[T any] struct {
	Value *T `json:"value"`
}

// decodeValue reads a {"value": v} body.
func decodeValue[T any](r *http.Request) (T, error) {
	var req valueRequest[T]
	var zero T
	if err := decodeBody(r, &req); err != nil {
		return zero, err
	}
	if req.Value == nil {
		return zero, fmt.Errorf("missing value")
	}
	return *req.Value, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	link := h.link.GetStatistics()

	radioStatus := "stopped"
	if h.radio.Running() {
		radioStatus = "running"
	}

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]any{
			"name":        serviceName,
			"version":     h.version,
			"instance_id": h.instanceID,
		},
		"components": map[string]any{
			"radio": map[string]any{
				"status": radioStatus,
			},
			"link": map[string]any{
				"local_address": link.LocalAddress,
				"radio_address": link.RadioAddress,
				"board":         link.Board,
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.radio.Status())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.radio.Config()
	routing := h.radio.Routing()
	levels := h.radio.Levels()
	rx, tx := h.radio.Frequencies()

	response := map[string]any{
		"server": map[string]any{
			"bind_address":      h.config.Server.BindAddress,
			"local_port":        h.config.Server.LocalPort,
			"radio_address":     h.config.Server.RadioAddress,
			"radio_port":        h.config.Server.RadioPort,
			"broadcast_address": h.config.Server.BroadcastAddress,
		},
		"radio": map[string]any{
			"num_rx":         cfg.NumRX,
			"num_tx":         cfg.NumTX,
			"in_rate":        cfg.InRate,
			"out_rate":       cfg.OutRate,
			"iq_block":       cfg.IQBlock,
			"mic_block":      cfg.MicBlock,
			"duplex":         h.radio.Duplex(),
			"wideband":       h.config.Radio.Wideband,
			"writer_mode":    h.config.Radio.WriterMode,
			"exchanger":      h.config.Radio.Exchanger,
			"gain":           levels.Gain,
			"mic_gain":       levels.MicGain,
			"drive":          levels.Drive,
			"rx_frequencies": rx[:cfg.NumRX],
			"tx_frequency":   tx,
			"routing":        routing,
		},
		"scope": map[string]any{
			"enabled": h.config.Scope.Enabled,
		},
		"logging": map[string]any{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}
	if sc := h.radio.Scope(); sc != nil {
		width, period := sc.Display()
		response["scope"] = map[string]any{
			"enabled":   true,
			"size":      h.config.Scope.Size,
			"width":     width,
			"period_ms": period.Milliseconds(),
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	status := h.radio.Status()

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"link":      h.link.GetStatistics(),
		"reader":    status.Reader,
		"writer":    status.Writer,
		"rings":     status.Rings,
		"outputs":   status.Outputs,
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleControl implements the /control endpoint
func (h *HTTPServer) handleControl(w http.ResponseWriter, r *http.Request) {
	store := h.radio.Control()

	settings := make(map[string]int)
	for _, name := range protocol.SettingNames() {
		setting, _ := protocol.ParseSetting(name)
		settings[name] = store.Get(setting)
	}

	records := make(map[string]string, protocol.NumSlots)
	for slot, record := range store.Snapshot() {
		records[protocol.Slot(slot).String()] = fmt.Sprintf("% x", record[:])
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"settings": settings,
		"mox":      store.MOX(),
		"records":  records,
	})
}

// handleSetControl implements POST /control/{setting}
func (h *HTTPServer) handleSetControl(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["setting"]
	value, err := decodeValue[int](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.radio.SetSetting(name, value); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"setting": name, "value": value})
}

func receiverParam(r *http.Request) int {
	rx, _ := strconv.Atoi(mux.Vars(r)["rx"])
	return rx
}

// handleRXFrequency implements POST /receivers/{rx}/frequency
func (h *HTTPServer) handleRXFrequency(w http.ResponseWriter, r *http.Request) {
	rx := receiverParam(r)
	hz, err := decodeValue[uint32](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.radio.SetRXFrequency(rx, hz); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rx": rx, "frequency": hz})
}

// handleRXGain implements POST /receivers/{rx}/gain
func (h *HTTPServer) handleRXGain(w http.ResponseWriter, r *http.Request) {
	rx := receiverParam(r)
	gain, err := decodeValue[float64](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.radio.SetGain(rx, gain); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rx": rx, "gain": gain})
}

// handleTransmitter implements POST /transmitter/{param}
func (h *HTTPServer) handleTransmitter(w http.ResponseWriter, r *http.Request) {
	param := mux.Vars(r)["param"]

	var (
		value any
		err   error
	)
	switch param {
	case "frequency":
		var hz uint32
		if hz, err = decodeValue[uint32](r); err == nil {
			h.radio.SetTXFrequency(hz)
			value = hz
		}
	case "drive":
		var drive float64
		if drive, err = decodeValue[float64](r); err == nil {
			h.radio.SetDrive(drive)
			value = drive
		}
	case "mic_gain":
		var gain float64
		if gain, err = decodeValue[float64](r); err == nil {
			h.radio.SetMicGain(gain)
			value = gain
		}
	case "mox":
		var on bool
		if on, err = decodeValue[bool](r); err == nil {
			h.radio.SetMOX(on)
			value = on
		}
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown transmitter parameter %q", param))
		return
	}

	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{param: value})
}

// handleGeneral implements POST /general/{param}. These change the stream
// geometry and are refused while the radio runs.
func (h *HTTPServer) handleGeneral(w http.ResponseWriter, r *http.Request) {
	param := mux.Vars(r)["param"]

	if param == "duplex" {
		on, err := decodeValue[bool](r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.radio.SetDuplex(on); err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{param: on})
		return
	}

	setters := map[string]func(int) error{
		"num_rx":    h.radio.SetNumRX,
		"num_tx":    h.radio.SetNumTX,
		"in_rate":   h.radio.SetInRate,
		"out_rate":  h.radio.SetOutRate,
		"iq_block":  h.radio.SetIQBlockSize,
		"mic_block": h.radio.SetMicBlockSize,
	}
	set, ok := setters[param]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown general parameter %q", param))
		return
	}

	value, err := decodeValue[int](r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := set(value); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{param: value, "sizes": h.radio.Config().Sizes()})
}

func (h *HTTPServer) handleGetRouting(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.radio.Routing())
}

// handleSetRouting implements POST /routing with a two-entry route table
func (h *HTTPServer) handleSetRouting(w http.ResponseWriter, r *http.Request) {
	var routing pipeline.Routing
	if err := decodeBody(r, &routing); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.radio.SetRouting(routing); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, h.radio.Routing())
}

func (h *HTTPServer) handleRevertRouting(w http.ResponseWriter, r *http.Request) {
	h.radio.RevertRouting()
	writeJSON(w, http.StatusOK, h.radio.Routing())
}

type channelsRequest struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

func (h *HTTPServer) handleSetOutputChannels(w http.ResponseWriter, r *http.Request) {
	var req channelsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.radio.SetOutputChannels(req.Left, req.Right); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *HTTPServer) handleRevertOutputChannels(w http.ResponseWriter, r *http.Request) {
	if err := h.radio.RevertOutputChannels(); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStart implements POST /start, discovering the radio first if its
// address is not known yet.
func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	if !h.link.HasRadio() {
		if _, err := h.link.Discover(r.Context()); err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
	}
	if err := h.radio.Start(h.link); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	h.publishState()
	writeJSON(w, http.StatusOK, h.radio.Status())
}

// handleStop implements POST /stop
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	err := h.radio.Stop()
	h.publishState()
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, h.radio.Status())
}

// handleDiscover implements POST /discover
func (h *HTTPServer) handleDiscover(w http.ResponseWriter, r *http.Request) {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	if h.radio.Running() {
		writeError(w, http.StatusConflict, radio.ErrRunning)
		return
	}
	reply, err := h.link.Discover(r.Context())
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":  reply.Address.String(),
		"board":    protocol.BoardName(reply.BoardID),
		"mac":      reply.MAC.String(),
		"firmware": reply.Firmware,
		"running":  reply.Running,
	})
}

func (h *HTTPServer) publishState() {
	if h.bus != nil {
		h.bus.Publish(bus.TopicState, h.radio.Status())
	}
}

// handleScope implements GET /scope with the latest spectrum
func (h *HTTPServer) handleScope(w http.ResponseWriter, r *http.Request) {
	sc := h.radio.Scope()
	if sc == nil {
		writeError(w, http.StatusNotFound, radio.ErrNoScope)
		return
	}
	spec, ok := sc.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

type displayRequest struct {
	Width    int   `json:"width"`
	PeriodMS int64 `json:"period_ms"`
}

// handleScopeDisplay implements POST /scope/display
func (h *HTTPServer) handleScopeDisplay(w http.ResponseWriter, r *http.Request) {
	var req displayRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.radio.SetDisplay(req.Width, time.Duration(req.PeriodMS)*time.Millisecond); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// wsMessage is one websocket event
type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// handleScopeStream implements GET /ws/scope. Spectra and state changes
// are forwarded as they are published; a client that falls behind only
// gets the newest spectrum.
func (h *HTTPServer) handleScopeStream(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusNotFound, radio.ErrNoScope)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	sub := h.bus.Subscribe(bus.TopicScope, bus.TopicState)
	defer func() {
		// Publishers block on a full channel, so keep draining until the
		// bus closes it.
		go h.bus.Unsubscribe(sub)
		for range sub {
		}
	}()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Debug("Scope stream opened", slog.String("remote_addr", r.RemoteAddr))
	defer h.logger.Debug("Scope stream closed", slog.String("remote_addr", r.RemoteAddr))

	for {
		select {
		case <-closed:
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			msg = latest(sub, msg)
			if err := h.writeEvent(conn, msg); err != nil {
				return
			}
		}
	}
}

// latest skips queued spectra behind msg, keeping state changes.
func latest(sub bus.Subscription, msg any) any {
	for {
		if _, isSpectrum := msg.(scope.Spectrum); !isSpectrum {
			return msg
		}
		select {
		case next, ok := <-sub:
			if !ok {
				return msg
			}
			msg = next
		default:
			return msg
		}
	}
}

func (h *HTTPServer) writeEvent(conn *websocket.Conn, msg any) error {
	var event wsMessage
	switch v := msg.(type) {
	case scope.Spectrum:
		event = wsMessage{Type: bus.TopicScope, Data: v}
	case radio.Status:
		event = wsMessage{Type: bus.TopicState, Data: v}
	default:
		return nil
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(event)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	endpoints := map[string]string{
		"GET /":                          "API documentation",
		"GET /health":                    "Service health check",
		"GET /status":                    "Radio state and counters",
		"GET /config":                    "Current configuration",
		"GET /stats":                     "Link, frame and ring statistics",
		"GET /control":                   "Control settings and records",
		"POST /control/{setting}":        "Set a control setting",
		"POST /receivers/{rx}/frequency": "Tune a receiver",
		"POST /receivers/{rx}/gain":      "Set a receiver audio gain",
		"POST /transmitter/{param}":      "Set frequency, drive, mic_gain or mox",
		"POST /general/{param}":          "Change stream geometry while stopped",
		"GET|POST|DELETE /routing":       "Hardware audio routing",
		"POST|DELETE /outputs/channels":  "Local output channels",
		"POST /start":                    "Start streaming",
		"POST /stop":                     "Stop streaming",
		"POST /discover":                 "Discover the radio",
		"GET /scope":                     "Latest wideband spectrum",
		"POST /scope/display":            "Set scope width and period",
		"GET /ws/scope":                  "Websocket of spectra and state changes",
	}
	if h.config.Metrics.Enabled {
		endpoints["GET "+h.config.Metrics.Path] = "Prometheus metrics"
	}

	apiDoc := map[string]any{
		"service":   serviceName,
		"version":   h.version,
		"endpoints": endpoints,
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
