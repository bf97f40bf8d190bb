package http

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/yanqian/sunspot/internal/infra/config"
)

// clientIdleTTL drops a client's limiter after this much inactivity.
const clientIdleTTL = 5 * time.Minute

func rateLimitMiddleware(cfg config.RateLimitConfig, logger *slog.Logger) gin.HandlerFunc {
	if !cfg.Enabled || cfg.RequestsPerMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	limiters := newClientLimiters(cfg)
	retryAfter := strconv.Itoa(int(math.Ceil(60 / float64(cfg.RequestsPerMinute))))
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if limiters.allow(ip) {
			c.Next()
			return
		}
		logger.Warn("rate limit exceeded", "ip", ip, "path", c.Request.URL.Path)
		c.Header("Retry-After", retryAfter)
		abortWithError(c, NewHTTPError(http.StatusTooManyRequests, "rate_limit_exceeded", "too many requests", nil))
	}
}

// clientLimiters keeps one token bucket per client address.
type clientLimiters struct {
	limit   rate.Limit
	burst   int
	clients *gocache.Cache
}

func newClientLimiters(cfg config.RateLimitConfig) *clientLimiters {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiters{
		limit:   rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute)),
		burst:   burst,
		clients: gocache.New(clientIdleTTL, clientIdleTTL),
	}
}

func (l *clientLimiters) allow(ip string) bool {
	var limiter *rate.Limiter
	if cached, ok := l.clients.Get(ip); ok {
		limiter = cached.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(l.limit, l.burst)
		if err := l.clients.Add(ip, limiter, gocache.DefaultExpiration); err != nil {
			// Lost the race; use the limiter that won.
			if cached, ok := l.clients.Get(ip); ok {
				limiter = cached.(*rate.Limiter)
			}
		}
	}
	// Sliding expiry: each request keeps the client's bucket alive.
	l.clients.Set(ip, limiter, gocache.DefaultExpiration)
	return limiter.Allow()
}
