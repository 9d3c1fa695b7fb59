package llmclient

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics carries the Prometheus instruments and the per-model request
// counters used for weighted round-robin tie-breaking and service status. It
// is built before the Client so the router can use it as its tie-breaker.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	fallback *prometheus.CounterVec

	mu       sync.RWMutex
	perModel map[string]int64
}

// NewMetrics builds the client instruments, registering them when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modelplane",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "LLM backend requests by model and outcome.",
		}, []string{"model_id", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "modelplane",
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM backend request latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"model_id"}),
		fallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "modelplane",
			Subsystem: "llm",
			Name:      "fallbacks_total",
			Help:      "Static fallback responses served, by layer.",
		}, []string{"layer"}),
		perModel: map[string]int64{},
	}

	if reg != nil {
		reg.MustRegister(m.requests, m.latency, m.fallback)
	}
	return m
}

func (m *Metrics) observe(modelID, outcome string, seconds float64) {
	m.requests.WithLabelValues(modelID, outcome).Inc()
	m.latency.WithLabelValues(modelID).Observe(seconds)

	m.mu.Lock()
	m.perModel[modelID]++
	m.mu.Unlock()
}

func (m *Metrics) observeFallback(layer string) {
	m.fallback.WithLabelValues(layer).Inc()
}

// RequestCount reports how many requests a model has served from this
// process. Implements the router's tie-breaker.
func (m *Metrics) RequestCount(modelID string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.perModel[modelID]
}

// RequestCounts snapshots the per-model counters for service status.
func (m *Metrics) RequestCounts() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int64, len(m.perModel))
	for id, n := range m.perModel {
		out[id] = n
	}
	return out
}
