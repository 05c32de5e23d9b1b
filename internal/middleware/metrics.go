package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zeh237/taskly/pkg/metrics"
)

// unmatchedRoute labels requests that hit no route so arbitrary paths cannot grow the
// label set.
const unmatchedRoute = "unmatched"

// Metrics observes request latency labelled by route template, method and status.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		metrics.APILatency.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
