package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngagementMetrics exposes counters/histograms for the widget engine.
type EngagementMetrics struct {
	proactiveTotal  *prometheus.CounterVec
	gatewayTotal    *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
	bookingOutcomes *prometheus.CounterVec
	timersCancelled *prometheus.CounterVec
}

func NewEngagementMetrics(reg prometheus.Registerer) *EngagementMetrics {
	m := &EngagementMetrics{
		proactiveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engage",
			Subsystem: "widget",
			Name:      "proactive_messages_total",
			Help:      "Proactive messages sent, by kind",
		}, []string{"kind"}),
		gatewayTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engage",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Upstream chat API requests",
		}, []string{"kind", "status"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "engage",
			Subsystem: "gateway",
			Name:      "request_latency_seconds",
			Help:      "Latency of upstream chat API requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		bookingOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engage",
			Subsystem: "booking",
			Name:      "submissions_total",
			Help:      "Booking submissions, by operation and outcome",
		}, []string{"operation", "outcome"}),
		timersCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engage",
			Subsystem: "scheduler",
			Name:      "timers_cancelled_total",
			Help:      "Proactive timers cancelled before firing",
		}, []string{"timer"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.proactiveTotal, m.gatewayTotal, m.gatewayLatency, m.bookingOutcomes, m.timersCancelled)
	return m
}

func (m *EngagementMetrics) ObserveProactive(kind string) {
	if m == nil {
		return
	}
	m.proactiveTotal.WithLabelValues(kind).Inc()
}

func (m *EngagementMetrics) ObserveGateway(kind, status string, seconds float64) {
	if m == nil {
		return
	}
	m.gatewayTotal.WithLabelValues(kind, status).Inc()
	m.gatewayLatency.WithLabelValues(kind).Observe(seconds)
}

func (m *EngagementMetrics) ObserveBooking(operation, outcome string) {
	if m == nil {
		return
	}
	m.bookingOutcomes.WithLabelValues(operation, outcome).Inc()
}

func (m *EngagementMetrics) ObserveTimerCancelled(timer string) {
	if m == nil {
		return
	}
	m.timersCancelled.WithLabelValues(timer).Inc()
}
