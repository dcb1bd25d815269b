// Prometheus collectors describing the realtime fan-out in Shipper.

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Publish paths.
const (
	PathBackbone = "backbone"
	PathLocal    = "local"
	PathFallback = "fallback"
)

// Metrics is safe to use as a nil pointer, every method is then a no-op.
type Metrics struct {
	connections    *prometheus.GaugeVec
	published      *prometheus.CounterVec
	delivered      *prometheus.CounterVec
	pruned         *prometheus.CounterVec
	malformed      prometheus.Counter
	batchFragments prometheus.Histogram
	gatherer       prometheus.Gatherer
}

// New registers the Shipper collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shipper_sse_connections",
			Help: "Open event stream connections by channel kind.",
		}, []string{"kind"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipper_events_published_total",
			Help: "Published events by delivery path (backbone, local, fallback).",
		}, []string{"path"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipper_events_delivered_total",
			Help: "Frames handed to connections by channel kind.",
		}, []string{"kind"}),
		pruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shipper_clients_pruned_total",
			Help: "Connections removed after a failed write.",
		}, []string{"kind"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shipper_malformed_messages_total",
			Help: "Backbone messages dropped because they could not be decoded.",
		}),
		batchFragments: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shipper_chunk_batch_fragments",
			Help:    "Fragments coalesced into a single chunk event.",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 250},
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.connections, m.published, m.delivered, m.pruned, m.malformed, m.batchFragments)
	return m
}

// NewWithRuntime is New plus the Go runtime and process collectors, used by the server binary.
func NewWithRuntime() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return New(reg)
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ClientConnected(kind string) {
	if m != nil {
		m.connections.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ClientDisconnected(kind string) {
	if m != nil {
		m.connections.WithLabelValues(kind).Dec()
	}
}

func (m *Metrics) Delivered(kind string, frames int) {
	if m != nil && frames > 0 {
		m.delivered.WithLabelValues(kind).Add(float64(frames))
	}
}

func (m *Metrics) Pruned(kind string) {
	if m != nil {
		m.pruned.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Published(path string) {
	if m != nil {
		m.published.WithLabelValues(path).Inc()
	}
}

func (m *Metrics) Malformed() {
	if m != nil {
		m.malformed.Inc()
	}
}

func (m *Metrics) BatchFlushed(fragments int) {
	if m != nil {
		m.batchFragments.Observe(float64(fragments))
	}
}
