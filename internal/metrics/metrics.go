package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CaptureJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epcis_capture_jobs_total",
		Help: "Total number of finished capture jobs, labelled by final status.",
	}, []string{"status"})

	EventsCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "epcis_events_captured_total",
		Help: "Total number of events durably stored by capture jobs.",
	})

	EventsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "epcis_events_rejected_total",
		Help: "Total number of events that failed validation or storage.",
	})

	EventsRolledBack = promauto.NewCounter(prometheus.CounterOpts{
		Name: "epcis_events_rolled_back_total",
		Help: "Total number of stored events removed by capture rollbacks.",
	})

	QueriesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epcis_queries_executed_total",
		Help: "Total number of query executions, labelled by outcome.",
	}, []string{"outcome"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epcis_webhook_deliveries_total",
		Help: "Total number of subscription webhook deliveries, labelled by status.",
	}, []string{"status"})

	WebhookDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "epcis_webhook_delivery_duration_ms",
		Help:    "Subscription webhook delivery latency in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})

	SchedulerTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "epcis_scheduler_ticks_total",
		Help: "Total number of delivery scheduler ticks.",
	})

	RateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epcis_rate_limit_denials_total",
		Help: "Total number of requests denied by the rate limiter, labelled by namespace.",
	}, []string{"namespace"})

	StreamSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "epcis_stream_sessions",
		Help: "Number of open streaming subscription sessions.",
	})
)
