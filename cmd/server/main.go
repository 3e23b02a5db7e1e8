/*
main.go - Application entry point

PURPOSE:
  Starts the leave ledger server: configuration, logging, store,
  notification sinks, HTTP router, scheduler and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment), then apply flags
  2. Install the slog handler
  3. Open the SQLite store (migrations run on open)
  4. Build notification sinks (Slack webhook, Redis queue) if configured
  5. Create the API handler, router and scheduler
  6. Serve until SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting connections, drain active requests (30s timeout)
  3. Close the Redis queue and the database

EXAMPLES:
  ./server -db="./data/leave.db"
  LEAVE_WORKFLOW=staged SLACK_WEBHOOK_URL=https://hooks.slack.com/... ./server
*/
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/warp/leave-ledger/api"
	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/notify"
	"github.com/warp/leave-ledger/store/sqlite"
	"github.com/warp/leave-ledger/timeoff"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()
	cfg.Port, cfg.DBPath = *port, *dbPath

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return err
		}
	}
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	notifier, closeNotifier, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	handler := api.NewHandler(api.Deps{
		Store:    store,
		Notifier: notifier,
		Workflow: cfg.Workflow,
		Accrual:  cfg.Accrual,
		PayCycle: cfg.PayCycle,
		Options:  timeoff.Options{Retries: cfg.Retries, Logger: logger},
	})

	routerCfg := api.RouterConfig{CORSOrigins: cfg.CORSOrigins}
	if rate, ok, err := cfg.Rate(); err != nil {
		return err
	} else if ok {
		routerCfg.Rate = &rate
	}

	scheduler := api.NewScheduler(handler, api.SchedulerConfig{
		Interval:    cfg.SchedulerInterval,
		Enabled:     cfg.SchedulerEnabled,
		AutoAccrual: cfg.AutoAccrual,
	})
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handler, routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "db", cfg.DBPath,
			"leave_workflow", cfg.Workflow.LeaveMode, "compoff_workflow", cfg.Workflow.CompOffMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// newNotifier composes the configured sinks. With none configured events
// are only logged.
func newNotifier(cfg config.Config, logger *slog.Logger) (timeoff.Notifier, func(), error) {
	var sinks notify.Multi
	closeFn := func() {}

	if cfg.SlackWebhookURL != "" {
		sinks = append(sinks, notify.NewSlack(cfg.SlackWebhookURL, cfg.AppURL, nil))
	}
	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		queue, err := notify.DialQueue(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.NotifyQueueKey)
		if err != nil {
			return nil, closeFn, err
		}
		sinks = append(sinks, queue)
		closeFn = func() {
			if err := queue.Close(); err != nil {
				logger.Warn("closing notification queue", "error", err)
			}
		}
	}

	var next timeoff.Notifier = notify.Nop{}
	if len(sinks) > 0 {
		next = sinks
	}
	logger.Info("notifications configured", "slack", cfg.SlackWebhookURL != "", "redis", cfg.RedisAddr != "")
	return notify.Logged(logger, next), closeFn, nil
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
