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

	borrowingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "library_borrowings_total",
			Help: "Borrow attempts by result code",
		},
		[]string{"result"},
	)

	returnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "library_returns_total",
			Help: "Committed book returns by charge type",
		},
		[]string{"type"},
	)

	checkoutSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "library_checkout_sessions_total",
			Help: "Checkout session creation attempts by result",
		},
		[]string{"result"},
	)

	paymentsConfirmedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "library_payment_confirmations_total",
			Help: "Payment confirmation outcomes",
		},
		[]string{"outcome"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "library_notifications_total",
			Help: "Notifications by kind and delivery result",
		},
		[]string{"kind", "result"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(borrowingsTotal)
	prometheus.MustRegister(returnsTotal)
	prometheus.MustRegister(checkoutSessionsTotal)
	prometheus.MustRegister(paymentsConfirmedTotal)
	prometheus.MustRegister(notificationsTotal)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
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

func RecordBorrow(result string)               { borrowingsTotal.WithLabelValues(result).Inc() }
func RecordReturn(chargeType string)           { returnsTotal.WithLabelValues(chargeType).Inc() }
func RecordCheckoutSession(result string)      { checkoutSessionsTotal.WithLabelValues(result).Inc() }
func RecordPaymentConfirmation(outcome string) { paymentsConfirmedTotal.WithLabelValues(outcome).Inc() }
func RecordNotification(kind, result string)   { notificationsTotal.WithLabelValues(kind, result).Inc() }
