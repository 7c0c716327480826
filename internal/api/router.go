// Package api serves the registry's operational HTTP surface: liveness and
// readiness probes for the metadata core. Registry protocol routes are mounted
// by the front end that embeds the services package, not here.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/npm-registry/npm-registry/internal/middleware"
)

// ReadinessCheck is one named dependency probed by /ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// NewRouter builds the probe router. The database is always checked; extra
// checks (the change feed, for instance) are run in order after it.
func NewRouter(db *sql.DB, checks ...ReadinessCheck) *gin.Engine {
	router := gin.New()

	// Order matters: the request ID must exist before the logger reads it.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.DefaultHeadersConfig()))
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware())

	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, checks))

	return router
}

// healthCheckHandler reports liveness. Only the database is pinged.
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler reports whether every dependency the metadata core writes
// to is reachable. The first failing check ends the probe.
func readinessHandler(db *sql.DB, extra []ReadinessCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		checks := gin.H{}

		if err := db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		for _, check := range extra {
			if err := check.Check(ctx); err != nil {
				checks[check.Name] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  check.Name + " not ready",
				})
				return
			}
			checks[check.Name] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}
