package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"swap-escrow/internal/domain"
	"swap-escrow/internal/observability"
)

// observe records request metrics and logs each request at debug level.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		observability.RecordHTTPRequest(route, strconv.Itoa(c.Writer.Status()), elapsed.Seconds())

		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", elapsed),
		)
	}
}

// caller returns the identity the gateway authenticated. It is not
// validated here; the registry rejects malformed callers.
func caller(c *gin.Context) domain.Identity {
	return domain.Identity(c.GetHeader(CallerHeader))
}
