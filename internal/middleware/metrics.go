package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/volunteerhub/vms-api/internal/service"
)

// Metrics records per-request duration and status through the metrics
// service. Unmatched routes fall back to the raw URL path.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
