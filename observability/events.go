package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"vouchlend/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking structured protocol events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vouchlend",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of protocol events segmented by event type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// Record increments the event counter for the supplied event type.
func (m *eventMetrics) Record(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	m.emitted.WithLabelValues(normalized).Inc()
}

// MetricsEmitter counts every emitted protocol event by type. It satisfies
// the engine emitter surface so event volume shows up on dashboards without a
// dedicated event pipeline.
type MetricsEmitter struct {
	metrics *eventMetrics
}

// NewMetricsEmitter constructs an emitter backed by the shared event registry.
func NewMetricsEmitter() *MetricsEmitter {
	return &MetricsEmitter{metrics: Events()}
}

// Emit records the event type on the event counter.
func (e *MetricsEmitter) Emit(evt events.Event) {
	if e == nil || evt == nil {
		return
	}
	e.metrics.Record(evt.EventType())
}
