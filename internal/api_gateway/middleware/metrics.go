package middleware

import (
	"time"

	"github.com/credit-ledger/internal/platform/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics records request latency per matched route. Unmatched paths share one label
// so probes for random URLs cannot grow the series count.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
