package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/event-pipeline/internal/auth"
	"github.com/PratikDhanave/event-pipeline/internal/handlers"
	"github.com/PratikDhanave/event-pipeline/internal/ingest"
	"github.com/PratikDhanave/event-pipeline/internal/store"
)

// RouterConfig carries the constructed dependencies of the HTTP
// surface. Everything is injected; the router owns no state.
type RouterConfig struct {
	Verifier *auth.HMACVerifier
	Tokens   *auth.TokenVerifier
	Pipeline *ingest.Pipeline
	Events   store.EventStore
	Log      *slog.Logger

	// Ready reports whether the store dependency is reachable. Nil
	// means always ready (tests).
	Ready func(ctx context.Context) error
}

// NewRouter wires public endpoints and authenticated APIs.
// Public: /health, /ready
// HMAC-signed: POST /v1/events
// Bearer-token: GET /v1/events, GET /v1/metrics
func NewRouter(rc RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms the DB dependency is reachable.
	r.GET("/ready", func(c *gin.Context) {
		if rc.Ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
			defer cancel()

			if err := rc.Ready(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// The ingestion endpoint does its own HMAC check inside the handler
	// because the signature covers the raw body.
	handlers.RegisterIngestRoutes(r, rc.Verifier, rc.Pipeline, rc.Log)

	// Query endpoints sit behind bearer-token auth.
	queryGroup := r.Group("/")
	queryGroup.Use(auth.BearerMiddleware(rc.Tokens))
	handlers.RegisterQueryRoutes(queryGroup, rc.Events, rc.Log)
	handlers.RegisterMetricRoutes(queryGroup, rc.Events, rc.Log)

	return r
}
