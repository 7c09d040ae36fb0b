package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the HPSDR server. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Frame metrics
	FramesReceived *prometheus.CounterVec
	FramesDropped  *prometheus.CounterVec
	SequenceEvents *prometheus.CounterVec
	FramesSent     prometheus.Counter
	SendErrors     prometheus.Counter

	// Ring buffer metrics
	RingOverflows *prometheus.CounterVec
	RingFill      *prometheus.GaugeVec

	// Pipeline metrics
	PipelineCycles        prometheus.Counter
	PipelineCycleDuration prometheus.Histogram
	DSPErrors             prometheus.Counter
	ConfigErrors          prometheus.Counter
	LocalAudioDrops       *prometheus.CounterVec

	// Scope metrics
	ScopeSpectra prometheus.Counter

	// Radio state
	Running prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Frame metrics
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hpsdr_frames_received_total",
			Help: "Total number of frames received from the radio",
		}, []string{"endpoint"}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hpsdr_frames_dropped_total",
			Help: "Total number of received frames dropped before decoding",
		}, []string{"reason"}),
		SequenceEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hpsdr_sequence_events_total",
			Help: "Sequence validation outcomes other than in-order",
		}, []string{"endpoint", "outcome"}),
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "hpsdr_frames_sent_total",
			Help: "Total number of frames sent to the radio",
		}),
		SendErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "hpsdr_send_errors_total",
			Help: "Total number of failed frame sends",
		}),

		// Ring buffer metrics
		RingOverflows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hpsdr_ring_overflows_total",
			Help: "Writes rejected for lack of ring buffer space",
		}, []string{"ring"}),
		RingFill: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hpsdr_ring_fill_bytes",
			Help: "Bytes waiting to be read from a ring buffer",
		}, []string{"ring"}),

		// Pipeline metrics
		PipelineCycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "hpsdr_pipeline_cycles_total",
			Help: "Total number of completed pipeline cycles",
		}),
		PipelineCycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hpsdr_pipeline_cycle_duration_seconds",
			Help:    "Time spent in one pipeline cycle",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 14), // 10us to ~80ms
		}),
		DSPErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "hpsdr_dsp_errors_total",
			Help: "Total number of nonzero DSP exchange results",
		}),
		ConfigErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "hpsdr_pipeline_config_errors_total",
			Help: "Pipeline cycles skipped because of inconsistent block sizes",
		}),
		LocalAudioDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hpsdr_local_audio_drops_total",
			Help: "Blocks not delivered to a local audio output",
		}, []string{"output"}),

		// Scope metrics
		ScopeSpectra: factory.NewCounter(prometheus.CounterOpts{
			Name: "hpsdr_scope_spectra_total",
			Help: "Total number of wideband spectra computed",
		}),

		Running: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hpsdr_running",
			Help: "1 while the radio stream is running",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hpsdr_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hpsdr_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hpsdr_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordFrameReceived increments the received counter for an endpoint
func (m *Metrics) RecordFrameReceived(endpoint string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(endpoint).Inc()
}

// RecordFrameDropped increments the dropped counter for a reason
func (m *Metrics) RecordFrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordSequenceEvent records a wrap or gap on an incoming stream
func (m *Metrics) RecordSequenceEvent(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.SequenceEvents.WithLabelValues(endpoint, outcome).Inc()
}

// RecordFrameSent increments the sent counter
func (m *Metrics) RecordFrameSent() {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
}

// RecordSendError increments the send error counter
func (m *Metrics) RecordSendError() {
	if m == nil {
		return
	}
	m.SendErrors.Inc()
}

// RecordRingOverflow records a rejected ring write
func (m *Metrics) RecordRingOverflow(ring string) {
	if m == nil {
		return
	}
	m.RingOverflows.WithLabelValues(ring).Inc()
}

// SetRingFill sets the readable bytes of a ring
func (m *Metrics) SetRingFill(ring string, bytes int) {
	if m == nil {
		return
	}
	m.RingFill.WithLabelValues(ring).Set(float64(bytes))
}

// RecordPipelineCycle records a completed pipeline cycle
func (m *Metrics) RecordPipelineCycle(durationSeconds float64) {
	if m == nil {
		return
	}
	m.PipelineCycles.Inc()
	m.PipelineCycleDuration.Observe(durationSeconds)
}

// RecordDSPError increments the DSP error counter
func (m *Metrics) RecordDSPError() {
	if m == nil {
		return
	}
	m.DSPErrors.Inc()
}

// RecordConfigError increments the skipped-cycle counter
func (m *Metrics) RecordConfigError() {
	if m == nil {
		return
	}
	m.ConfigErrors.Inc()
}

// RecordLocalAudioDrop records a block a local output did not take
func (m *Metrics) RecordLocalAudioDrop(output string) {
	if m == nil {
		return
	}
	m.LocalAudioDrops.WithLabelValues(output).Inc()
}

// RecordScopeSpectrum increments the scope spectrum counter
func (m *Metrics) RecordScopeSpectrum() {
	if m == nil {
		return
	}
	m.ScopeSpectra.Inc()
}

// SetRunning sets the running gauge
func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.Running.Set(1)
	} else {
		m.Running.Set(0)
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
