package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"hookrelay/internal/config"
	"hookrelay/internal/constants"
	"hookrelay/internal/database"
	"hookrelay/internal/events"
	"hookrelay/internal/models"
	"hookrelay/internal/queue"
	"hookrelay/internal/redisstore"
	"hookrelay/internal/retry"
	"hookrelay/internal/service"
	"hookrelay/internal/tracing"
	"hookrelay/pkg/notify"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("HookRelay %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting HookRelay")

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)
	}

	tracingManager := tracing.NewManager(tracing.Config{
		ServiceName:    "hookrelay",
		ServiceVersion: Version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
		UseStdout:      cfg.Tracing.UseStdout,
	}, logger)

	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// Open the database with exponential backoff; on fresh deployments
	// the data directory may not be ready immediately.
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})
	err = backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	defer db.Close()

	jobStore, closeJobStore, err := buildJobStore(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	defer closeJobStore()

	q := queue.New(jobStore, logger, queue.Options{
		PollInterval:       time.Duration(cfg.Queue.PollIntervalSec) * time.Second,
		Concurrency:        cfg.Queue.Concurrency,
		JobTimeout:         time.Duration(cfg.Queue.JobTimeoutSec) * time.Second,
		DefaultMaxAttempts: cfg.Queue.MaxAttempts,
	})

	hub := events.NewHub(logger)

	senders := service.NewSenderRegistry(logger)
	senders.RegisterDefaults()

	orchestrator := service.NewOrchestrator(db, senders, hub, logger)
	orchestrator.SetJobEnqueuer(service.QueueEnqueuer{Queue: q})

	handlers := service.NewJobHandlers(orchestrator, q, db, notify.NewEmailSender(), notify.EmailConfig{
		GatewayURL: cfg.Senders.MailGatewayURL,
		APIKey:     cfg.Senders.MailAPIKey,
		From:       cfg.Senders.MailFrom,
	}, logger)
	handlers.Register()

	go q.Start(ctx)
	defer q.Stop()

	scheduler := service.NewScheduler(q, cfg.Cleanup.RetentionDays,
		time.Duration(cfg.Cleanup.IntervalHours)*time.Hour, logger)
	go scheduler.Start(ctx)
	defer scheduler.Stop()

	server := NewServer(cfg, db, orchestrator, q, hub, logger)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.GracefulTimeoutSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// buildJobStore selects the queue backend. Sqlite shares the primary
// database; redis keeps job scheduling off the sqlite write path.
func buildJobStore(ctx context.Context, cfg *models.Config, db *database.Database, logger *logrus.Logger) (queue.Store, func(), error) {
	switch strings.ToLower(cfg.Database.Driver) {
	case "", "sqlite":
		return db, func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: cfg.Database.RedisAddr,
			DB:   cfg.Database.RedisDB,
		})
		store := redisstore.New(client)
		if err := store.Ping(ctx); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.WithField("addr", cfg.Database.RedisAddr).Info("Using redis job store")
		return store, func() {
			if err := client.Close(); err != nil {
				logger.Warnf("Failed to close redis client: %v", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}
