// cmd/server/main.go serves the spectator gateway and sweeps expired presence leases.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/draftsync/internal/cache"
	"github.com/jason-s-yu/draftsync/internal/config"
	"github.com/jason-s-yu/draftsync/internal/database"
	"github.com/jason-s-yu/draftsync/internal/handlers"
	"github.com/jason-s-yu/draftsync/internal/logging"
	"github.com/jason-s-yu/draftsync/internal/room"
	"github.com/jason-s-yu/draftsync/internal/store"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()
	st := store.NewRedis(rdb, store.RedisOptions{Prefix: cfg.RedisPrefix, LeaseTTL: cfg.LeaseTTL}, logger)

	issuer, err := cfg.Issuer()
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	gw := &handlers.Gateway{
		Rooms:   room.NewDirectory(st, logger, cfg.RetryPolicy()),
		Store:   st,
		Issuer:  issuer,
		Log:     logger,
		Origins: cfg.AllowedOrigins,
	}
	if cfg.PostgresURL != "" {
		pool, err := database.Connect(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Fatalf("postgres: %v", err)
		}
		defer pool.Close()
		gw.Archive = database.NewArchive(pool)
	}

	go sweep(ctx, st, cfg.SweepInterval, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           gw.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			logger.WithError(err).Warn("http shutdown")
		}
		// spectator streams are hijacked and not covered by Shutdown
		if err := st.Close(shutdown); err != nil {
			logger.WithError(err).Warn("store close")
		}
	}()

	logger.Infof("Running on %s", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server exited: %v", err)
	}
}

// sweep applies the disconnect hooks of clients whose presence lease has run out.
func sweep(ctx context.Context, st *store.Redis, every time.Duration, logger logrus.FieldLogger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.SweepExpired(ctx)
			if err != nil {
				logger.WithError(err).Warn("presence sweep failed")
				continue
			}
			if n > 0 {
				logger.WithField("hooks", n).Info("applied expired disconnect hooks")
			}
		}
	}
}
