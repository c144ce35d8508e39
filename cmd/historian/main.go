// cmd/historian/main.go is an asynchronous historian service that pops journaled draft actions from
// a Redis queue and persists them to PostgreSQL.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/draftsync/internal/cache"
	"github.com/jason-s-yu/draftsync/internal/config"
	"github.com/jason-s-yu/draftsync/internal/database"
	"github.com/jason-s-yu/draftsync/internal/historian"
	"github.com/jason-s-yu/draftsync/internal/logging"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("logging: %v", err)
	}
	if cfg.PostgresURL == "" {
		logger.Fatal("historian needs DRAFTSYNC_POSTGRES_URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatalf("postgres: %v", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		logger.Fatalf("schema: %v", err)
	}

	rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	hc := historian.DefaultConfig
	hc.Queue = cfg.ArchiveQueue
	svc := historian.New(rdb, database.NewArchive(pool), hc, logger)
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("historian: %v", err)
	}
}
