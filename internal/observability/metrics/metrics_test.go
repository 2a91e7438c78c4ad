package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPaymentMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPaymentMetrics(reg)
	m.ObserveCreated("click")
	m.ObserveCallback("click", "completed")
	m.ObserveRefund("payme")
	m.ObserveWebhookLatency("uzum", 0.2)
}

func TestBookingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)
	m.ObserveConsultation("online")
	m.ObserveTransition("reschedule")
	m.ObserveSlotConflict()
}

func TestMetricsNilSafe(t *testing.T) {
	var pm *PaymentMetrics
	pm.ObserveCreated("click")
	pm.ObserveCallback("click", "completed")
	pm.ObserveRefund("click")
	pm.ObserveWebhookLatency("click", 0.1)

	var bm *BookingMetrics
	bm.ObserveConsultation("office")
	bm.ObserveTransition("cancel")
	bm.ObserveSlotConflict()
}
