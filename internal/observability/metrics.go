package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus registry and the session meters.
type Metrics struct {
	Registry *prometheus.Registry

	SendsTotal       *prometheus.CounterVec
	ReceivesTotal    prometheus.Counter
	RetriesTotal     prometheus.Counter
	ReconnectsTotal  prometheus.Counter
	SpilledTotal     *prometheus.CounterVec
	ReplayedTotal    *prometheus.CounterVec
	DroppedTotal     *prometheus.CounterVec
	CallbackPanics   prometheus.Counter
	InFlight         prometheus.Gauge
	QueueDepth       *prometheus.GaugeVec
	RequestDuration  *prometheus.HistogramVec
}

// NewMetrics creates a custom Prometheus registry with the session meters.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	sends := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nodewire_sends_total",
		Help: "Payloads handed to the transport, by outcome.",
	}, []string{"status"})

	receives := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nodewire_receives_total",
		Help: "Payloads read from the transport.",
	})

	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nodewire_connect_retries_total",
		Help: "Failed connect attempts.",
	})

	reconnects := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nodewire_reconnects_total",
		Help: "Repair cycles after an established connection was lost.",
	})

	spilled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nodewire_spilled_total",
		Help: "Payloads written to the overflow store.",
	}, []string{"direction"})

	replayed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nodewire_replayed_total",
		Help: "Payloads drained back from the overflow store.",
	}, []string{"direction"})

	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nodewire_dropped_total",
		Help: "Payloads discarded, by reason.",
	}, []string{"reason"})

	panics := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nodewire_callback_panics_total",
		Help: "Recovered panics in user callbacks and tasks.",
	})

	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nodewire_requests_in_flight",
		Help: "RPC requests awaiting a response.",
	})

	depth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nodewire_queue_depth",
		Help: "In-memory queue occupancy.",
	}, []string{"direction"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nodewire_request_duration_seconds",
		Help:    "RPC round-trip duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})

	reg.MustRegister(sends, receives, retries, reconnects, spilled, replayed, dropped, panics, inFlight, depth, duration)

	return &Metrics{
		Registry:        reg,
		SendsTotal:      sends,
		ReceivesTotal:   receives,
		RetriesTotal:    retries,
		ReconnectsTotal: reconnects,
		SpilledTotal:    spilled,
		ReplayedTotal:   replayed,
		DroppedTotal:    dropped,
		CallbackPanics:  panics,
		InFlight:        inFlight,
		QueueDepth:      depth,
		RequestDuration: duration,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
