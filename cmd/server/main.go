// Package main provides the opsdiag dashboard server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kamilpajak/opsdiag/internal/auth"
	"github.com/kamilpajak/opsdiag/internal/cache"
	"github.com/kamilpajak/opsdiag/internal/config"
	"github.com/kamilpajak/opsdiag/internal/dashboard"
	"github.com/kamilpajak/opsdiag/internal/database"
	"github.com/kamilpajak/opsdiag/internal/diagnosis"
	"github.com/kamilpajak/opsdiag/internal/tracker"
	"github.com/kamilpajak/opsdiag/pkg/logger"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Config file")
		addr        = flag.String("addr", "", "Listen address (overrides dashboard.addr)")
		migrateOnly = flag.Bool("migrate", false, "Run migrations and exit")
	)
	flag.Parse()

	if err := run(*configPath, *addr, *migrateOnly); err != nil {
		fmt.Fprintf(os.Stderr, "opsdiag-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr string, migrateOnly bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Dashboard.Addr = addr
	}
	log := logger.New(cfg.Log.Level)
	gin.SetMode(gin.ReleaseMode)

	ctx := context.Background()

	var db *database.DB
	if cfg.Database.URL != "" {
		log.Info("running database migrations")
		if err := database.Migrate(cfg.Database.URL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		log.Info("migrations complete")

		if migrateOnly {
			return nil
		}
		if db, err = database.New(ctx, cfg.Database.URL); err != nil {
			return err
		}
		defer db.Close()
	} else if migrateOnly {
		return fmt.Errorf("-migrate needs database.url")
	}

	// The session token is re-read from the configuration when the backend
	// rejects it, so a rotated token is picked up without a restart.
	session := auth.NewSession(cfg.API.Token, func(context.Context) (string, error) {
		fresh, err := config.Load(configPath)
		if err != nil {
			return "", err
		}
		return fresh.API.Token, nil
	})

	client, err := diagnosis.New(cfg.API.BaseURL,
		diagnosis.WithTokenSource(session),
		diagnosis.WithRateLimit(cfg.API.RateLimit, cfg.API.Burst),
		diagnosis.WithTimeout(30*time.Second),
		diagnosis.WithLogger(log),
	)
	if err != nil {
		return err
	}

	stream := tracker.NewBroadcaster()
	opts := []tracker.Option{
		tracker.WithInterval(cfg.Poll.Interval),
		tracker.WithPageSize(cfg.Poll.PageSize),
		tracker.WithEmitter(stream),
		tracker.WithSessionRefresher(session),
		tracker.WithLogger(log),
	}
	if db != nil {
		opts = append(opts, tracker.WithJournal(db))
	}
	if cfg.Redis.Addr != "" {
		store, err := cache.NewRedisStore(cfg.Redis.Addr, cfg.Redis.DB, cfg.Redis.Password, cfg.Redis.TTL, log)
		if err != nil {
			log.Warn("list snapshots disabled", "error", err)
		} else {
			defer store.Close()
			opts = append(opts, tracker.WithSnapshotStore(store))
		}
	}

	ctrl := tracker.New(client, opts...)
	defer ctrl.Shutdown()
	if err := ctrl.Restore(ctx); err != nil {
		log.Warn("failed to restore list snapshot", "error", err)
	}

	handlerOpts := []dashboard.Option{dashboard.WithLogger(log)}
	if db != nil {
		handlerOpts = append(handlerOpts, dashboard.WithHistory(db))
	}

	// No WriteTimeout: the event stream stays open for as long as a
	// dashboard is connected. Streams end when the base context is cancelled
	// on shutdown.
	baseCtx, cancelStreams := context.WithCancel(ctx)
	defer cancelStreams()
	httpServer := &http.Server{
		Addr:              cfg.Dashboard.Addr,
		Handler:           dashboard.NewHandler(ctrl, stream, handlerOpts...),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	httpServer.RegisterOnShutdown(cancelStreams)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting dashboard", "addr", cfg.Dashboard.Addr, "api", cfg.API.BaseURL,
			"journal", db != nil, "snapshots", cfg.Redis.Addr != "")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("shutting down dashboard")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ctrl.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info("dashboard stopped")
	return nil
}
