package middleware

import (
	"net"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/synthiacore/synthia/internal/apimetrics"
	"github.com/synthiacore/synthia/internal/clock"
)

// APIMetrics feeds the rolling request window that the busy rating reads.
// Monitoring and documentation paths are excluded by the collector.
func APIMetrics(collector *apimetrics.Collector, clk clock.Clock, trustProxyHeaders bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if collector.Excluded(path) {
			c.Next()
			return
		}

		collector.Begin()
		start := time.Now()
		arrivedAt := clk.Now()

		defer func() {
			collector.Record(apimetrics.Event{
				ArrivedAt:  arrivedAt,
				Path:       path,
				Client:     clientIP(c, trustProxyHeaders),
				StatusCode: c.Writer.Status(),
				DurationMS: float64(time.Since(start).Microseconds()) / 1000,
			})
			collector.End()
		}()

		c.Next()
	}
}

func clientIP(c *gin.Context, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
			return strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		}
	}
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}
