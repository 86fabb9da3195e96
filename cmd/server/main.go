/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the insurance tracker server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Initialize logger and SQLite store
  3. Build the mailer and the notification scheduler
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (default: search ./configs and .)
  -port    HTTP server port, overrides server.port
  -db      SQLite database path, overrides database.path
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the notification scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close Redis and database connections

EXAMPLES:
  ./server -db="./data/insurance.db"
  ./server -config=./configs/config.yaml -port=3000
  MAIL_PROVIDER=ses MAIL_FROM=noreply@example.com ./server

SEE ALSO:
  - config/loader.go: Defaults and environment overrides
  - api/server.go: Router configuration
  - notify/scheduler.go: Notification sweep
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/warp/insurance-tracker/api"
	"github.com/warp/insurance-tracker/config"
	"github.com/warp/insurance-tracker/insurance"
	"github.com/warp/insurance-tracker/logger"
	"github.com/warp/insurance-tracker/mail"
	"github.com/warp/insurance-tracker/notify"
	"github.com/warp/insurance-tracker/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	log := logger.NewStructured(cfg.Logging.Level, cfg.Logging.Format)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("server exited", nil)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func run(cfg *config.Config, log logger.Logger) error {
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	manager := insurance.NewManager(store)
	manager.DefaultSettings = insurance.NotificationSettings{
		DefaultLeadDays:  cfg.Notifications.DefaultLeadDays,
		FollowUpLeadDays: cfg.Notifications.FollowUpLeadDays,
		DeadlineLeadDays: cfg.Notifications.DeadlineLeadDays,
	}

	mailer, err := mail.New(context.Background(), cfg.Mail, log)
	if err != nil {
		return fmt.Errorf("initialize mailer: %w", err)
	}

	scheduler := notify.NewScheduler(store, manager, mailer, log)
	scheduler.Metrics = notify.NewMetrics(prometheus.DefaultRegisterer)
	scheduler.Interval = cfg.Scheduler.Interval
	scheduler.RunOnStart = cfg.Scheduler.RunOnStart

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Address, err)
		}
		scheduler.Lease = notify.NewRedisLease(client, cfg.Redis.LeaseTTL)
	}

	if cfg.Scheduler.Enabled {
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer scheduler.Stop()
	}

	handler := api.NewHandler(manager, scheduler, log)
	router := api.NewRouter(handler, cfg.Server, prometheus.DefaultGatherer)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", map[string]interface{}{
			"addr":           server.Addr,
			"database":       cfg.Database.Path,
			"mail_provider":  cfg.Mail.Provider,
			"demo_scenarios": cfg.Server.DemoScenarios,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("shutting down server", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped", nil)
	return nil
}
