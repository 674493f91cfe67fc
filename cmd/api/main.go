package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/PratikDhanave/event-pipeline/internal/auth"
	"github.com/PratikDhanave/event-pipeline/internal/config"
	"github.com/PratikDhanave/event-pipeline/internal/httpserver"
	"github.com/PratikDhanave/event-pipeline/internal/ingest"
	"github.com/PratikDhanave/event-pipeline/internal/store"
)

// main boots the API: config → DB → schema → HTTP server.
func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		fatal(log, "loading config", err)
	}
	if cfg.JWTSecret == "" {
		fatal(log, "loading config", errors.New("JWT_SECRET required"))
	}

	ctx := context.Background()

	// Durable storage (Postgres) behind a connection pool shared by all
	// concurrent requests.
	db, err := store.NewPostgresStore(ctx, cfg.DBURL)
	if err != nil {
		fatal(log, "connecting to database", err)
	}
	defer db.Close()

	// Ensure required tables/indexes exist so `docker compose up` is
	// enough.
	if err := db.EnsureSchema(ctx); err != nil {
		fatal(log, "applying schema", err)
	}

	// Ingestion credentials come from the projects table unless
	// API_KEYS overrides them for local development.
	var creds auth.CredentialStore = db
	static, err := cfg.StaticCredentials()
	if err != nil {
		fatal(log, "loading config", err)
	}
	if static != nil {
		creds = static
	}

	router := httpserver.NewRouter(httpserver.RouterConfig{
		Verifier: auth.NewHMACVerifier(creds),
		Tokens:   auth.NewTokenVerifier([]byte(cfg.JWTSecret)),
		Pipeline: ingest.New(db),
		Events:   db,
		Log:      log,
		Ready:    db.Ping,
	})

	log.Info("server started", "addr", cfg.ListenAddr)
	if err := router.Run(cfg.ListenAddr); err != nil {
		fatal(log, "server stopped", err)
	}
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
