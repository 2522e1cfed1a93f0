package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmclean_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wmclean_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Removal metrics
	removalRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmclean_removal_requests_total",
			Help: "Total number of watermark removal requests",
		},
		[]string{"source", "strategy", "status"}, // source: http, websocket
	)

	removalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wmclean_removal_duration_seconds",
			Help:    "Watermark removal duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"strategy"},
	)

	removalRegionPixels = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wmclean_removal_region_pixels",
			Help:    "Number of pixels in the reconstructed corner region",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		},
		[]string{"strategy"},
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmclean_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // type: minute, hour, requests, data
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wmclean_upload_size_bytes",
			Help:    "Size of uploaded images in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024, 100 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wmclean_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmclean_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)
