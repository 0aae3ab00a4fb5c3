package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the scanning pipeline.
type Metrics struct {
	ItemsScanned      prometheus.Counter
	EventsNew         prometheus.Counter
	EventsDuplicate   prometheus.Counter
	SinkDeliveries    *prometheus.CounterVec
	SinkFailures      *prometheus.CounterVec
	WebhookDeliveries *prometheus.CounterVec
	ExportedRecords   *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		ItemsScanned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sentry_items_scanned_total",
			Help: "Total number of source items scanned",
		}),
		EventsNew: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sentry_events_new_total",
			Help: "Total number of newly recorded leak events",
		}),
		EventsDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sentry_events_duplicate_total",
			Help: "Total number of events suppressed as duplicates",
		}),
		SinkDeliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sentry_sink_deliveries_total",
			Help: "Successful sink deliveries by sink name",
		}, []string{"sink"}),
		SinkFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sentry_sink_failures_total",
			Help: "Failed sink deliveries by sink name",
		}, []string{"sink"}),
		WebhookDeliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sentry_webhook_deliveries_total",
			Help: "Webhook delivery attempts by terminal status",
		}, []string{"status"}),
		ExportedRecords: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sentry_exported_records_total",
			Help: "Records exported by destination key",
		}, []string{"destination"}),
	}
}
