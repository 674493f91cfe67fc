package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/PratikDhanave/event-pipeline/internal/config"
	"github.com/PratikDhanave/event-pipeline/internal/pubsub"
	"github.com/PratikDhanave/event-pipeline/internal/rollup"
	"github.com/PratikDhanave/event-pipeline/internal/store"
)

// main boots the rollup worker: config → DB → Redis → timer loop. The
// worker shares nothing with the API process except the database and
// the fanout channel.
func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		fatal(log, "loading config", err)
	}

	ctx := context.Background()

	db, err := store.NewPostgresStore(ctx, cfg.DBURL)
	if err != nil {
		fatal(log, "connecting to database", err)
	}
	defer db.Close()

	pub, err := pubsub.NewRedisPublisher(ctx, cfg.RedisURL)
	if err != nil {
		fatal(log, "connecting to redis", err)
	}
	defer pub.Close()

	worker := rollup.NewWorker(db, pub, log)
	worker.Start()
	log.Info("rollup worker started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	worker.Stop()
	log.Info("rollup worker stopped")
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
