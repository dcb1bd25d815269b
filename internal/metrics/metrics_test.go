package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ClientConnected("project")
	m.ClientConnected("project")
	m.ClientDisconnected("project")
	m.Published(PathFallback)
	m.Delivered("project", 3)
	m.Delivered("project", 0)
	m.Pruned("file-events")
	m.Malformed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections.WithLabelValues("project")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.published.WithLabelValues(PathFallback)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.delivered.WithLabelValues("project")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pruned.WithLabelValues("file-events")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.malformed))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ClientConnected("project")
		m.Published(PathLocal)
		m.BatchFlushed(4)
	})
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.BatchFlushed(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "shipper_chunk_batch_fragments_count 1")
}
