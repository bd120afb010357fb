package middleware

import (
	"strconv"
	"time"

	"donation-payments/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// Metrics records request counts and latencies per route. The route template
// (not the raw path) is used as the label so transaction IDs don't explode
// cardinality.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		metrics.HTTPRequestsTotal.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Inc()
		metrics.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, route).
			Observe(time.Since(start).Seconds())
	}
}
