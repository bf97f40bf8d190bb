package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// corsPolicy holds the browser origins allowed to read patio data.
type corsPolicy struct {
	anyOrigin bool
	origins   map[string]struct{}
}

func newCORSPolicy(allowed []string) corsPolicy {
	p := corsPolicy{origins: make(map[string]struct{}, len(allowed))}
	if len(allowed) == 0 {
		p.anyOrigin = true
	}
	for _, origin := range allowed {
		origin = strings.ToLower(strings.TrimSpace(origin))
		if origin == "*" {
			p.anyOrigin = true
			continue
		}
		if origin != "" {
			p.origins[origin] = struct{}{}
		}
	}
	return p
}

// allowOrigin returns the Access-Control-Allow-Origin value, or "" when the
// origin is not allowed.
func (p corsPolicy) allowOrigin(origin string) string {
	if p.anyOrigin {
		return "*"
	}
	if _, ok := p.origins[strings.ToLower(origin)]; ok {
		return origin
	}
	return ""
}

// corsMiddleware answers preflights and echoes allowed origins.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	policy := newCORSPolicy(allowed)
	return func(c *gin.Context) {
		headers := c.Writer.Header()
		headers.Add("Vary", "Origin")
		if origin := policy.allowOrigin(c.GetHeader("Origin")); origin != "" {
			headers.Set("Access-Control-Allow-Origin", origin)
			headers.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			headers.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			headers.Set("Access-Control-Max-Age", "600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
