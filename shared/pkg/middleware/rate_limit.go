// shared/pkg/middleware/rate_limit.go
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// WindowCounter is a shared fixed-window counter store.
type WindowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimit limits requests per client IP using a counter store shared by
// every instance. Counter failures let the request through.
func RateLimit(counter WindowCounter, limit int, window time.Duration, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		bucket := time.Now().UTC().Truncate(window).Unix()
		key := fmt.Sprintf("ratelimit:ip:%s:%d", c.ClientIP(), bucket)

		count, err := counter.IncrWindow(c.Request.Context(), key, window)
		if err != nil {
			log.Error("rate limiter unavailable", zap.Error(err), zap.String("client_ip", c.ClientIP()))
			c.Next()
			return
		}

		remaining := int64(limit) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(limit) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "Too many requests",
				"reason":  "rate_limited",
			})
			return
		}
		c.Next()
	}
}
