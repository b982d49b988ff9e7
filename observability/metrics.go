package observability

import (
	gu "github.com/xraph/go-utils/metrics"
)

// Metrics holds metric instruments for Courier, backed by any go-utils
// MetricFactory.
type Metrics struct {
	EventsIngestedTotal gu.Counter
	EventsRejectedTotal gu.Counter
	DeliveriesTotal     gu.Counter
	DeliveryLatency     gu.Histogram
	PendingDeliveries   gu.Gauge
}

// NewMetrics creates Courier metric instruments using the supplied factory.
// Use metrics.NewMetricsCollector() for standalone usage.
func NewMetrics(factory gu.MetricFactory) *Metrics {
	return &Metrics{
		EventsIngestedTotal: factory.Counter("courier_events_ingested_total"),
		EventsRejectedTotal: factory.Counter("courier_events_rejected_total"),
		DeliveriesTotal:     factory.Counter("courier_deliveries_total"),
		DeliveryLatency:     factory.Histogram("courier_delivery_latency_seconds"),
		PendingDeliveries:   factory.Gauge("courier_pending_deliveries"),
	}
}

// RecordDelivery records a delivery attempt with the given status and latency.
func (m *Metrics) RecordDelivery(status string, latencySeconds float64) {
	m.DeliveriesTotal.WithLabels(map[string]string{"status": status}).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}

// RecordRejection records an ingest rejection with the given reason.
func (m *Metrics) RecordRejection(reason string) {
	m.EventsRejectedTotal.WithLabels(map[string]string{"reason": reason}).Inc()
}
