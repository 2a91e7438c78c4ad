package metrics

import "github.com/prometheus/client_golang/prometheus"

// PaymentMetrics exposes counters for payment flows.
type PaymentMetrics struct {
	createdTotal   *prometheus.CounterVec
	callbackTotal  *prometheus.CounterVec
	refundTotal    *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	m := &PaymentMetrics{
		createdTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "payments",
			Name:      "created_total",
			Help:      "Total payments created",
		}, []string{"provider"}),
		callbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "payments",
			Name:      "callback_total",
			Help:      "Total provider callbacks processed",
		}, []string{"provider", "outcome"}),
		refundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "payments",
			Name:      "refund_total",
			Help:      "Total refunds issued",
		}, []string{"provider"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "consult",
			Subsystem: "payments",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of provider webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.createdTotal, m.callbackTotal, m.refundTotal, m.webhookLatency)
	return m
}

func (m *PaymentMetrics) ObserveCreated(provider string) {
	if m == nil {
		return
	}
	m.createdTotal.WithLabelValues(provider).Inc()
}

func (m *PaymentMetrics) ObserveCallback(provider, outcome string) {
	if m == nil {
		return
	}
	m.callbackTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *PaymentMetrics) ObserveRefund(provider string) {
	if m == nil {
		return
	}
	m.refundTotal.WithLabelValues(provider).Inc()
}

func (m *PaymentMetrics) ObserveWebhookLatency(provider string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(provider).Observe(seconds)
}

// BookingMetrics exposes counters for the booking flow.
type BookingMetrics struct {
	consultationsTotal *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
	slotConflictsTotal prometheus.Counter
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		consultationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "booking",
			Name:      "consultations_total",
			Help:      "Total consultations created",
		}, []string{"type"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Total consultation state transitions",
		}, []string{"event"}),
		slotConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "booking",
			Name:      "slot_conflicts_total",
			Help:      "Total slot reservations lost to a concurrent booking",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.consultationsTotal, m.transitionsTotal, m.slotConflictsTotal)
	return m
}

func (m *BookingMetrics) ObserveConsultation(consultationType string) {
	if m == nil {
		return
	}
	m.consultationsTotal.WithLabelValues(consultationType).Inc()
}

func (m *BookingMetrics) ObserveTransition(event string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(event).Inc()
}

func (m *BookingMetrics) ObserveSlotConflict() {
	if m == nil {
		return
	}
	m.slotConflictsTotal.Inc()
}
