package metrics

import "github.com/prometheus/client_golang/prometheus"

// RealtimeMetrics tracks the push channel lifecycle.
type RealtimeMetrics struct {
	dials      prometheus.Counter
	opens      prometheus.Counter
	closes     *prometheus.CounterVec
	frames     *prometheus.CounterVec
	reconnects prometheus.Counter
	giveUps    prometheus.Counter
	connected  prometheus.Gauge
}

// NewRealtimeMetrics registers realtime metrics on the provided registerer.
// A nil registerer yields a no-op collector.
func NewRealtimeMetrics(reg prometheus.Registerer) *RealtimeMetrics {
	if reg == nil {
		return &RealtimeMetrics{}
	}
	m := &RealtimeMetrics{
		dials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: "realtime",
			Name:      "dials_total",
			Help:      "Push channel dial attempts.",
		}),
		opens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: "realtime",
			Name:      "opens_total",
			Help:      "Push channel handshakes that completed.",
		}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: "realtime",
			Name:      "closes_total",
			Help:      "Push channel closes by cause.",
		}, []string{"cause"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: "realtime",
			Name:      "frames_total",
			Help:      "Inbound frames by outcome.",
		}, []string{"outcome"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: "realtime",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect timers scheduled.",
		}),
		giveUps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Subsystem: "realtime",
			Name:      "give_ups_total",
			Help:      "Times the reconnect budget was exhausted.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricNamespace,
			Subsystem: "realtime",
			Name:      "connected",
			Help:      "1 while the push channel is open.",
		}),
	}
	reg.MustRegister(m.dials, m.opens, m.closes, m.frames, m.reconnects, m.giveUps, m.connected)
	return m
}

func (m *RealtimeMetrics) IncDial() {
	if m == nil || m.dials == nil {
		return
	}
	m.dials.Inc()
}

func (m *RealtimeMetrics) IncOpen() {
	if m == nil || m.opens == nil {
		return
	}
	m.opens.Inc()
	m.connected.Set(1)
}

func (m *RealtimeMetrics) IncClose(intentional bool) {
	if m == nil || m.closes == nil {
		return
	}
	cause := "dropped"
	if intentional {
		cause = "intentional"
	}
	m.closes.WithLabelValues(cause).Inc()
	m.connected.Set(0)
}

func (m *RealtimeMetrics) IncFrameDelivered() {
	if m == nil || m.frames == nil {
		return
	}
	m.frames.WithLabelValues("delivered").Inc()
}

func (m *RealtimeMetrics) IncFrameDropped() {
	if m == nil || m.frames == nil {
		return
	}
	m.frames.WithLabelValues("dropped").Inc()
}

func (m *RealtimeMetrics) IncReconnectScheduled() {
	if m == nil || m.reconnects == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *RealtimeMetrics) IncGiveUp() {
	if m == nil || m.giveUps == nil {
		return
	}
	m.giveUps.Inc()
}
