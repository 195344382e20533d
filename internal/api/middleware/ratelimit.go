package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"voltify/internal/pkg/metrics"
	"voltify/internal/pkg/ratelimit"

	"github.com/gin-gonic/gin"
)

// KeyFunc 从请求中提取限流键（按 IP 或按用户）。
type KeyFunc func(c *gin.Context) string

// KeyByClientIP 以客户端 IP 为限流键。
func KeyByClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// KeyByIdentity 以已认证的用户名为限流键，匿名请求退回 IP。
func KeyByIdentity(c *gin.Context) string {
	if id := Identity(c); id != "" {
		return id
	}
	return c.ClientIP()
}

// RateLimit 对单个路由应用 Redis 令牌桶限流。
//
// Redis 不可用时放行并记日志：限流是保护手段，不能成为单点。
func RateLimit(limiter *ratelimit.Limiter, route string, keyFunc KeyFunc, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := route + ":" + keyFunc(c)
		allowed, err := limiter.Allow(c.Request.Context(), key, time.Now().UnixMilli())
		if err != nil {
			if logger != nil {
				logger.Warn("rate limiter unavailable, allowing request",
					slog.String("route", route),
					slog.String("error", err.Error()))
			}
			c.Next()
			return
		}
		if !allowed {
			metrics.RateLimitRejectedTotal.WithLabelValues(route).Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}
