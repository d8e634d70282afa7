package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bsphn_events_published_total",
			Help: "Events published to the tenant fan-out, by backend",
		},
		[]string{"backend"}, // redis|kafka
	)

	PublishFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bsphn_publish_failures_total",
			Help: "Failed batch publishes, by backend",
		},
		[]string{"backend"},
	)

	DeliveryLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bsphn_delivery_latency_seconds",
			Help:    "Time from event creation to successful publish",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms .. ~100s
		},
	)

	DeadLetteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bsphn_dead_lettered_total",
			Help: "Events migrated to the dead-letter table",
		},
	)

	PrunedRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bsphn_pruned_rows_total",
			Help: "Rows deleted by the retention pruner, by table",
		},
		[]string{"table"}, // events|dead_letters
	)

	CursorSkipsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bsphn_cursor_skips_total",
			Help: "Tenant cycles skipped because a peer held the cursor lock",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		EventsPublishedTotal,
		PublishFailuresTotal,
		DeliveryLatency,
		DeadLetteredTotal,
		PrunedRowsTotal,
		CursorSkipsTotal,
	)
}
