package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware records request count and latency per matched route.
func Middleware(r *Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		r.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
