package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	statusTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_status_transitions_total",
			Help: "Total number of committed order status transitions",
		},
		[]string{"from", "to"},
	)

	cartMergesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_merges_total",
			Help: "Total number of guest cart merge attempts",
		},
		[]string{"result"},
	)

	streamSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "order_stream_subscribers",
			Help: "Number of open order status stream connections",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(statusTransitionsTotal)
	prometheus.MustRegister(cartMergesTotal)
	prometheus.MustRegister(streamSubscribers)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func RecordStatusTransition(from, to string) {
	statusTransitionsTotal.WithLabelValues(from, to).Inc()
}

func RecordCartMerge(result string) {
	cartMergesTotal.WithLabelValues(result).Inc()
}

func StreamOpened() {
	streamSubscribers.Inc()
}

func StreamClosed() {
	streamSubscribers.Dec()
}
