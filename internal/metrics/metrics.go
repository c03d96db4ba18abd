// Package metrics exposes the bridge's Prometheus collectors: a counter of
// tools/call invocations by tool name and outcome, a histogram of upstream
// OData request latency, and a gauge of CSRF-token state — grounded on the
// gin+promhttp wiring used across the Nexus Agent Protocol registry.
package metrics

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "odata_mcp_tool_calls_total",
		Help: "Total tools/call invocations by tool name and outcome.",
	}, []string{"tool", "outcome"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odata_mcp_upstream_request_duration_seconds",
		Help:    "Duration of outbound OData requests by method and status class.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status_class"})

	csrfTokenState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "odata_mcp_csrf_token_present",
		Help: "1 if a CSRF token is currently held, 0 otherwise.",
	})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "odata_mcp_http_requests_total",
		Help: "Total HTTP requests served by the SSE/RPC transport by path and status.",
	}, []string{"path", "status"})
)

// RecordToolCall records one tools/call outcome ("success" or "error").
func RecordToolCall(tool, outcome string) {
	toolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// ObserveUpstreamRequest records one outbound OData request's duration,
// bucketed by status class ("2xx", "4xx", "5xx", "error").
func ObserveUpstreamRequest(method, statusClass string, seconds float64) {
	upstreamRequestDuration.WithLabelValues(method, statusClass).Observe(seconds)
}

// SetCSRFTokenHeld reports whether the client currently holds a CSRF token.
func SetCSRFTokenHeld(held bool) {
	if held {
		csrfTokenState.Set(1)
		return
	}
	csrfTokenState.Set(0)
}

// Middleware returns a Gin middleware that counts requests by path and
// status code.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		httpRequestsTotal.WithLabelValues(path, http.StatusText(c.Writer.Status())).Inc()
	}
}

// Handler serves the /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// StatusClass buckets an HTTP status code into "2xx"/"4xx"/"5xx"/"other".
func StatusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "other"
	}
}
