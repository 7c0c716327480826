// Package middleware provides the Gin middleware of the operational HTTP
// listener (health and readiness probes). Every handler registered in
// internal/api runs behind the same chain:
//
//	router.Use(gin.Recovery())
//	router.Use(middleware.RequestIDMiddleware())
//	router.Use(middleware.SecurityHeadersMiddleware(middleware.DefaultHeadersConfig()))
//	router.Use(middleware.MetricsMiddleware())
//	router.Use(middleware.LoggerMiddleware())
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/npm-registry/npm-registry/internal/telemetry"
)

// noRoute labels requests that matched no route, so unknown paths do not
// grow label cardinality.
const noRoute = "<no-route>"

// MetricsMiddleware records telemetry.HTTPRequestsTotal and
// telemetry.HTTPRequestDuration for every request. The path label is the
// matched route template from c.FullPath().
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRoute
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
