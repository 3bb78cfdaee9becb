package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LoggerMiddleware logs mutating requests. Scrape and health endpoints and
// plain GETs are skipped; the event ingest path is hot and its outcomes are
// already counted, so only the request envelope is logged here.
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		if method == "GET" ||
			strings.Contains(path, "/metrics") ||
			strings.Contains(path, "/health") {
			return
		}

		logger.Info("request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", method),
			zap.String("path", path),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
