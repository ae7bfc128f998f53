// Package metrics exposes fixgw's Prometheus metrics and implements the
// gateway package's Counters and MessageTimingSink seams.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns every metric fixgw exports and implements the gateway
// package's Counters interface; TimingSink adapts it to
// MessageTimingSink.
type Registry struct {
	bytesInBuffer           *prometheus.GaugeVec
	invalidLibraryAttempts  *prometheus.CounterVec
	slowConsumer            *prometheus.GaugeVec
	partialWrites           *prometheus.CounterVec
	throttleRejects         *prometheus.CounterVec
	slowConsumerDisconnects prometheus.Counter
	messageFlushLatency     prometheus.Histogram
	endpointsActive         prometheus.Gauge
}

// NewRegistry builds and registers every metric against a fresh
// prometheus.Registry.
func NewRegistry() (*Registry, *prometheus.Registry) {
	reg := prometheus.NewRegistry()

	r := &Registry{
		bytesInBuffer: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fixgw_bytes_in_buffer",
			Help: "Bytes currently queued in the active reattempt stream, per connection",
		}, []string{"connection_id"}),

		invalidLibraryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fixgw_invalid_library_attempts_total",
			Help: "Inputs dropped because their library id did not match the endpoint",
		}, []string{"connection_id"}),

		slowConsumer: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fixgw_slow_consumer",
			Help: "1 if the connection is currently flagged as a slow consumer, else 0",
		}, []string{"connection_id"}),

		partialWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fixgw_partial_writes_total",
			Help: "Socket writes that returned fewer bytes than requested",
		}, []string{"connection_id"}),

		throttleRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fixgw_throttle_rejects_total",
			Help: "Business Message Rejects skipped because the reject rate limit was exhausted",
		}, []string{"connection_id"}),

		slowConsumerDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fixgw_slow_consumer_disconnects_total",
			Help: "Connections torn down for SLOW_CONSUMER (overflow or watchdog timeout)",
		}),

		messageFlushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fixgw_message_flush_seconds",
			Help:    "Wall-clock time between a message's submission and its full flush to the socket",
			Buckets: prometheus.DefBuckets,
		}),

		endpointsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fixgw_endpoints_active",
			Help: "Currently registered sender endpoints",
		}),
	}

	reg.MustRegister(
		r.bytesInBuffer,
		r.invalidLibraryAttempts,
		r.slowConsumer,
		r.partialWrites,
		r.throttleRejects,
		r.slowConsumerDisconnects,
		r.messageFlushLatency,
		r.endpointsActive,
	)

	return r, reg
}

// Handler returns the /metrics HTTP handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func label(connectionID uint64) string {
	return strconv.FormatUint(connectionID, 10)
}

// --- gateway.Counters ---

func (r *Registry) SetBytesInBuffer(connectionID uint64, v int64) {
	r.bytesInBuffer.WithLabelValues(label(connectionID)).Set(float64(v))
}

func (r *Registry) IncInvalidLibraryAttempts(connectionID uint64) {
	r.invalidLibraryAttempts.WithLabelValues(label(connectionID)).Inc()
}

func (r *Registry) SetSlowConsumer(connectionID uint64, slow bool) {
	v := 0.0
	if slow {
		v = 1.0
	}
	r.slowConsumer.WithLabelValues(label(connectionID)).Set(v)
}

func (r *Registry) IncPartialWrite(connectionID uint64) {
	r.partialWrites.WithLabelValues(label(connectionID)).Inc()
}

func (r *Registry) IncThrottleReject(connectionID uint64) {
	r.throttleRejects.WithLabelValues(label(connectionID)).Inc()
}

// DisconnectObserved records a connection leaving the endpoint table.
// Only slow-consumer disconnects are counted; other reasons are not.
// Called by the wiring layer (not the gateway package itself) when
// Framer.CompleteDisconnect fires.
func (r *Registry) DisconnectObserved(slowConsumer bool) {
	if slowConsumer {
		r.slowConsumerDisconnects.Inc()
	}
}

// EndpointCreated/EndpointRemoved track the active-endpoint gauge.
func (r *Registry) EndpointCreated() { r.endpointsActive.Inc() }
func (r *Registry) EndpointRemoved() { r.endpointsActive.Dec() }

// --- gateway.MessageTimingSink ---

// TimingSink adapts Registry to gateway.MessageTimingSink. It measures
// elapsed time from submission to flush using a caller-supplied clock
// rather than an internal one, so it stays deterministic under test.
type TimingSink struct {
	reg *Registry
	now func() int64
}

// NewTimingSink builds a TimingSink; now returns the current time in
// milliseconds.
func NewTimingSink(reg *Registry, now func() int64) *TimingSink {
	return &TimingSink{reg: reg, now: now}
}

// OnMessage implements gateway.MessageTimingSink. The meta blob for a
// flushed message is read as an 8-byte little-endian submit timestamp
// (milliseconds) supplied by the submitter; if metaLen is too small to
// hold one, the observation is skipped.
func (t *TimingSink) OnMessage(seq int32, connectionID uint64, buf []byte, metaOffset, metaLen int) {
	if metaLen < 8 {
		return
	}
	submitMs := decodeSubmitMs(buf[metaOffset : metaOffset+8])
	elapsed := float64(t.now()-submitMs) / 1000.0
	if elapsed < 0 {
		elapsed = 0
	}
	t.reg.messageFlushLatency.Observe(elapsed)
}

func decodeSubmitMs(b []byte) int64 {
	var v int64
	for i := 7; i >= 0; i-- {
		v = v<<8 | int64(b[i])
	}
	return v
}
