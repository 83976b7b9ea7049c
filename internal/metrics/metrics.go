package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// FixesProcessed counts fixes by filter verdict (accepted, accuracy, stationary, unknown-speed, idle)
	FixesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tracking_fixes_total", Help: "Location fixes processed by verdict."},
		[]string{"result"},
	)
	// Trips counts stop outcomes (recorded, discarded, persist_failed, manual) by category
	Trips = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tracking_trips_total", Help: "Trip outcomes by category."},
		[]string{"outcome", "category"},
	)
	// TripDistance observes recorded trip distances in miles
	TripDistance = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "tracking_trip_distance_miles", Help: "Recorded trip distance in miles.", Buckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250}},
	)
	// TrackingActive is 1 while a session is open
	TrackingActive = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "tracking_active", Help: "1 while a tracking session is active."},
	)

	// WebhookDeliveries counts ledger delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(FixesProcessed)
		Registry.MustRegister(Trips)
		Registry.MustRegister(TripDistance)
		Registry.MustRegister(TrackingActive)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
