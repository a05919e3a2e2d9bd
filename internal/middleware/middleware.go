package middleware

import (
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"waqf-reconciliation-backend/internal/config"
)

// RateLimit limits requests per client IP. A nil RequestsPerSecond disables it.
func RateLimit(cnf config.RateLimitConfig) gin.HandlerFunc {
	if cnf.RequestsPerSecond == nil {
		return func(c *gin.Context) { c.Next() }
	}

	ttl := time.Hour
	if cnf.CleanupIntervalSec != nil {
		ttl = time.Duration(*cnf.CleanupIntervalSec) * time.Second
	}
	lmt := tollbooth.NewLimiter(*cnf.RequestsPerSecond, &limiter.ExpirableOptions{
		DefaultExpirationTTL: ttl,
	})
	if cnf.Burst != nil {
		lmt.SetBurst(*cnf.Burst)
	}
	lmt.SetIPLookups([]string{"X-Forwarded-For", "X-Real-IP", "RemoteAddr"})

	return func(c *gin.Context) {
		if httpError := tollbooth.LimitByRequest(lmt, c.Writer, c.Request); httpError != nil {
			c.AbortWithStatusJSON(httpError.StatusCode, gin.H{"error": httpError.Message})
			return
		}
		c.Next()
	}
}

func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logrus.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		})
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			entry = entry.WithField("trace_id", sc.TraceID().String())
		}
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("request failed")
		case len(c.Errors) > 0:
			entry.WithField("errors", c.Errors.String()).Warn("request completed with errors")
		default:
			entry.Debug("request completed")
		}
	}
}
