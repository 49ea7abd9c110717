package ingest

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// promMetrics is the /metrics view of the session registry. Each Server has
// its own registry.
type promMetrics struct {
	registry *prometheus.Registry

	created prometheus.Counter
	ended   *prometheus.CounterVec
	events  *prometheus.CounterVec
	batch   prometheus.Histogram
}

func newPromMetrics(s *Server) *promMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "uxai_sessions_live",
		Help: "Capture sessions currently running",
	}, func() float64 { return float64(s.Len()) })

	return &promMetrics{
		registry: reg,
		created: f.NewCounter(prometheus.CounterOpts{
			Name: "uxai_sessions_created_total",
			Help: "Capture sessions opened",
		}),
		ended: f.NewCounterVec(prometheus.CounterOpts{
			Name: "uxai_sessions_ended_total",
			Help: "Capture sessions ended, by how they ended",
		}, []string{"action"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "uxai_events_total",
			Help: "Raw events received, by whether the engine queue took them",
		}, []string{"outcome"}),
		batch: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "uxai_event_batch_size",
			Help:    "Events per posted batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
	}
}

func (m *promMetrics) observed(accepted, dropped int) {
	m.batch.Observe(float64(accepted + dropped))
	m.events.WithLabelValues("accepted").Add(float64(accepted))
	if dropped > 0 {
		m.events.WithLabelValues("dropped").Add(float64(dropped))
	}
}

func (m *promMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
