package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	gatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_gateway_requests_total",
			Help: "Total number of HTTP requests issued through the mutation gateway.",
		},
		[]string{"method", "status"},
	)
	tokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_token_refresh_total",
			Help: "Total number of anti-forgery token refresh attempts.",
		},
		[]string{"result"},
	)
	csrfRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_csrf_retries_total",
			Help: "Total number of refresh-and-retry cycles after an anti-forgery rejection.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_ws_events_total",
			Help: "Total number of push-channel events by type.",
		},
		[]string{"event"},
	)
	wsReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_ws_reconnects_total",
			Help: "Total number of push-channel reconnects.",
		},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_backend_http_requests_total",
			Help: "Total number of HTTP requests processed by the reference backend.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_backend_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_backend_ws_active_connections",
			Help: "Number of active websocket connections on the reference backend.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		gatewayRequestsTotal,
		tokenRefreshTotal,
		csrfRetriesTotal,
		wsEventsTotal,
		wsReconnectsTotal,
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		amqpPublishErrorsTotal,
	)
}

// HTTPMetricsMiddleware records request counts and latencies per route.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncGatewayRequest(method string, status int) {
	gatewayRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func IncTokenRefresh(result string) {
	tokenRefreshTotal.WithLabelValues(result).Inc()
}

func IncCSRFRetry() {
	csrfRetriesTotal.Inc()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncWSReconnect() {
	wsReconnectsTotal.Inc()
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
