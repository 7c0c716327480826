package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// HeadersConfig controls the protective headers set on operational responses.
type HeadersConfig struct {
	// HSTSMaxAge is the Strict-Transport-Security max-age in seconds; zero omits the header
	HSTSMaxAge int
	// ContentSecurityPolicy is omitted when empty
	ContentSecurityPolicy string
	// CacheControl is omitted when empty
	CacheControl string
}

// DefaultHeadersConfig suits JSON probe responses: never cached, never framed.
func DefaultHeadersConfig() HeadersConfig {
	return HeadersConfig{
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		CacheControl:          "no-store",
	}
}

// SecurityHeadersMiddleware adds cfg's headers plus the fixed JSON-only set to
// every response.
func SecurityHeadersMiddleware(cfg HeadersConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.HSTSMaxAge > 0 {
			c.Header("Strict-Transport-Security", "max-age="+strconv.Itoa(cfg.HSTSMaxAge)+"; includeSubDomains")
		}
		if cfg.ContentSecurityPolicy != "" {
			c.Header("Content-Security-Policy", cfg.ContentSecurityPolicy)
		}
		if cfg.CacheControl != "" {
			c.Header("Cache-Control", cfg.CacheControl)
		}

		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")

		c.Next()
	}
}
