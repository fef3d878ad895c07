// Prometheus instrumentation for the ingest surface.
//
// Labels are kept low-cardinality on purpose: the route template from Gin
// (never the raw URL), the method verb, and the numeric status. The calling
// adapter is labelled on the request counter only; adapter IDs are a small
// deployment-fixed set, so the product of labels stays bounded.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	reqTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "eventrouter",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route, status, and adapter.",
		},
		[]string{"method", "path", "status", "adapter"},
	)

	// Status is omitted from the histogram to keep series count down.
	reqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eventrouter",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	reqInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "eventrouter",
			Subsystem: "http",
			Name:      "requests_inflight",
			Help:      "Requests currently being processed.",
		},
	)

	// Outcome envelopes are small; batch results can reach a few hundred KiB.
	respBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "eventrouter",
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "Response body size.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8), // 256B .. 4MiB
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(reqTotal, reqDuration, reqInflight, respBytes)
}

// Metrics instruments every request. Mount it before the handlers and expose
// promhttp.Handler() on /metrics.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqInflight.Inc()
		defer reqInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			// 404s and the like have no route template.
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())
		adapter := c.GetHeader(HeaderAdapterID)
		if adapter == "" {
			adapter = "unknown"
		}

		reqTotal.WithLabelValues(method, path, status, adapter).Inc()
		reqDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			respBytes.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}
