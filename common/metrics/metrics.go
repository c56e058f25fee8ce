package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics contains HTTP-related Prometheus metrics
type HTTPMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// BrokerMetrics contains broker consumer/publisher metrics
type BrokerMetrics struct {
	MessagesConsumed *prometheus.CounterVec
	MessagesDeadLettered *prometheus.CounterVec
	PublishFailures  *prometheus.CounterVec
}

// DispatchMetrics contains business-specific metrics for the dispatch pipeline
type DispatchMetrics struct {
	OrdersCreated      prometheus.Counter
	DispatchPushes     prometheus.Counter
	DispatchSkipped    prometheus.Counter
	AcceptsWon         prometheus.Counter
	AcceptsLost        prometheus.Counter
	AcceptsCompensated prometheus.Counter
	RateLimitRejections prometheus.Counter
	WatchdogReverts    prometheus.Counter
}

// NewHTTPMetrics creates HTTP metrics for a service
func NewHTTPMetrics(serviceName string) *HTTPMetrics {
	return &HTTPMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    serviceName + "_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// NewBrokerMetrics creates broker metrics for a service
func NewBrokerMetrics(serviceName string) *BrokerMetrics {
	return &BrokerMetrics{
		MessagesConsumed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_broker_messages_consumed_total",
				Help: "Total number of broker messages consumed",
			},
			[]string{"queue", "outcome"},
		),
		MessagesDeadLettered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_broker_messages_dead_lettered_total",
				Help: "Total number of messages nacked to the DLX",
			},
			[]string{"queue"},
		),
		PublishFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_broker_publish_failures_total",
				Help: "Total number of failed publishes",
			},
			[]string{"exchange", "routing_key"},
		),
	}
}

// NewDispatchMetrics creates business metrics for the dispatch pipeline
func NewDispatchMetrics(serviceName string) *DispatchMetrics {
	return &DispatchMetrics{
		OrdersCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_orders_created_total",
				Help: "Total number of orders created",
			},
		),
		DispatchPushes: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_dispatch_pushes_total",
				Help: "Total number of dispatch notifications pushed to drivers",
			},
		),
		DispatchSkipped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_dispatch_skipped_total",
				Help: "Total number of dispatch events with no connected candidate",
			},
		),
		AcceptsWon: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_accepts_won_total",
				Help: "Total number of successful driver acceptances",
			},
		),
		AcceptsLost: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_accepts_lost_total",
				Help: "Total number of acceptance attempts lost to the availability CAS",
			},
		),
		AcceptsCompensated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_accepts_compensated_total",
				Help: "Total number of acceptances rolled back after a publish failure",
			},
		),
		RateLimitRejections: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_rate_limit_rejections_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
		),
		WatchdogReverts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_watchdog_reverts_total",
				Help: "Total number of stuck drivers reverted to available",
			},
		),
	}
}

// RecordHTTPRequest records an HTTP request metric
func (m *HTTPMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
