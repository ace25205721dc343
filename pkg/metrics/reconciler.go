package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReconcilerMetrics tracks notification state mutations.
type ReconcilerMetrics struct {
	pushes   *prometheus.CounterVec
	fetches  *prometheus.CounterVec
	marks    *prometheus.CounterVec
	unread   prometheus.Gauge
	listSize prometheus.Gauge
}

// NewReconcilerMetrics registers reconciler metrics on the provided registerer.
func NewReconcilerMetrics(reg prometheus.Registerer) *ReconcilerMetrics {
	if reg == nil {
		return &ReconcilerMetrics{}
	}
	m := &ReconcilerMetrics{
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: "reconciler",
			Name:      "pushes_total",
			Help:      "Realtime pushes by outcome.",
		}, []string{"outcome"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: "reconciler",
			Name:      "fetches_total",
			Help:      "REST fetches by kind and outcome.",
		}, []string{"kind", "outcome"}),
		marks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: "reconciler",
			Name:      "marks_total",
			Help:      "Read-state mutations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		unread: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Subsystem: "reconciler",
			Name:      "unread",
			Help:      "Current unread counter.",
		}),
		listSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Subsystem: "reconciler",
			Name:      "list_size",
			Help:      "Entries held in the working set.",
		}),
	}
	reg.MustRegister(m.pushes, m.fetches, m.marks, m.unread, m.listSize)
	return m
}

func (m *ReconcilerMetrics) IncPush(outcome string) {
	if m == nil || m.pushes == nil {
		return
	}
	m.pushes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *ReconcilerMetrics) IncFetch(kind string, ok bool) {
	if m == nil || m.fetches == nil {
		return
	}
	m.fetches.WithLabelValues(normalizeLabel(kind), outcomeLabel(ok)).Inc()
}

func (m *ReconcilerMetrics) IncMark(kind string, ok bool) {
	if m == nil || m.marks == nil {
		return
	}
	m.marks.WithLabelValues(normalizeLabel(kind), outcomeLabel(ok)).Inc()
}

// SetState publishes the current unread counter and list length.
func (m *ReconcilerMetrics) SetState(unread, size int) {
	if m == nil || m.unread == nil {
		return
	}
	m.unread.Set(float64(unread))
	m.listSize.Set(float64(size))
}

func outcomeLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
