package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ignite/batch-mailer/internal/api"
	"github.com/ignite/batch-mailer/internal/config"
	"github.com/ignite/batch-mailer/internal/dispatch"
	"github.com/ignite/batch-mailer/internal/mailer"
	"github.com/ignite/batch-mailer/internal/pkg/distlock"
	"github.com/ignite/batch-mailer/internal/pkg/logger"
	"github.com/ignite/batch-mailer/internal/report"
	"github.com/ignite/batch-mailer/internal/repository/memory"
	"github.com/ignite/batch-mailer/internal/repository/postgres"
	"github.com/ignite/batch-mailer/internal/service/batch"
	"github.com/ignite/batch-mailer/internal/stream"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

// checkPortAvailable fails fast when another process already holds the
// listen address.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %w", addr, err)
	}
	return ln.Close()
}

// dsnHost returns the host part of a postgres URL for logging without the
// password.
func dsnHost(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(logger.Options{
		Level:     logger.ParseLevel(cfg.Logging.Level),
		Debug:     cfg.Logging.Debug,
		RedactPII: cfg.Logging.ShouldRedact(),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("server exited", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr := cfg.Server.Addr()
	if err := checkPortAvailable(addr); err != nil {
		return fmt.Errorf("pre-flight check: %w", err)
	}

	// Recipient store
	var (
		repo batch.Repository
		db   *sql.DB
	)
	switch cfg.Storage.Driver {
	case "postgres":
		var err error
		db, err = sql.Open("postgres", cfg.Storage.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Storage.MaxOpenConns)
		db.SetConnMaxIdleTime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping database at %s: %w", dsnHost(cfg.Storage.DatabaseURL), err)
		}
		applied, err := postgres.Migrate(ctx, db)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("postgres store ready", "host", dsnHost(cfg.Storage.DatabaseURL), "migrations_applied", len(applied))
		repo = postgres.NewBatchRepo(db)
	default:
		logger.Warn("using in-memory store; batches are lost on restart")
		repo = memory.NewBatchRepo()
	}

	// Cross-process dispatch lock
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable; dispatch locks will fail until it recovers", "error", err)
		}
	}
	// Advisory locks pin a connection for a whole run, so they get a pool of
	// their own and never starve the store's status writes.
	var lockDB *sql.DB
	if redisClient == nil && db != nil {
		var err error
		lockDB, err = sql.Open("postgres", cfg.Storage.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open lock database: %w", err)
		}
		defer lockDB.Close()
		lockDB.SetConnMaxIdleTime(5 * time.Minute)
	}
	locks := distlock.NewFactory(redisClient, lockDB, cfg.Dispatch.LockTTL())
	if !locks.Enabled() {
		logger.Info("cross-process dispatch lock disabled (no redis or postgres)")
	}

	// Mail transport
	var transports mailer.Factory
	switch cfg.Mail.Transport {
	case "ses":
		client, err := mailer.NewSESClient(ctx, cfg.Mail.SESRegion, cfg.Mail.SESAccessKey, cfg.Mail.SESSecretKey)
		if err != nil {
			return err
		}
		transports = mailer.SESFactory(client)
	default:
		transports = mailer.SMTPFactory(mailer.SMTPConfig{
			Host:               cfg.Mail.SMTPHost,
			Port:               cfg.Mail.SMTPPort,
			InsecureSkipVerify: cfg.Mail.InsecureSkipVerify,
		})
	}
	tmpl, err := mailer.LoadTemplate(cfg.Mail.Subject, cfg.Mail.TemplatePath)
	if err != nil {
		return err
	}

	batches := batch.NewService(repo)
	registry := dispatch.NewRegistry(cfg.Dispatch.SessionRetention())
	dispatcher := dispatch.New(repo, registry, transports, dispatch.Options{
		SendDelay:     cfg.Dispatch.SendDelay(),
		AllowedDomain: cfg.Mail.AllowedDomain,
		TransportName: cfg.Mail.Transport,
		SendTimeout:   cfg.Mail.Timeout(),
		Template:      tmpl,
		Locks:         locks,
	})

	// Delivery reports
	var reports api.Pinger
	if cfg.Reports.Enabled {
		s3Client, err := report.NewS3Client(ctx, cfg.Reports.S3Region)
		if err != nil {
			return err
		}
		archiver := report.NewArchiver(s3Client, report.Config{
			Bucket: cfg.Reports.S3Bucket,
			Prefix: cfg.Reports.Prefix,
			Region: cfg.Reports.S3Region,
		}, batches)
		dispatcher.OnComplete(archiver.Hook())
		reports = archiver
		logger.Info("delivery reports enabled", "bucket", cfg.Reports.S3Bucket, "prefix", cfg.Reports.Prefix)
	}

	publisher := stream.NewPublisher(registry, repo, stream.Options{
		PollInterval: cfg.Stream.PollInterval(),
		Heartbeat:    cfg.Stream.Heartbeat(),
		StallTimeout: cfg.Stream.StallTimeout(),
	})

	server := api.NewServer(cfg.Server,
		api.NewHandlers(batches, dispatcher, publisher),
		api.NewHealthChecker(db, redisClient, reports, registry))

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", addr, "store", cfg.Storage.Driver, "transport", cfg.Mail.Transport)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-done:
	case err := <-serveErr:
		return err
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}
	// Let in-flight runs finish so every attempted recipient is persisted.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Dispatch.DrainTimeout())
	defer drainCancel()
	if err := dispatcher.Wait(drainCtx); err != nil {
		logger.Warn("dispatch runs still active at shutdown", "active", registry.Active(), "error", err)
	}

	logger.Info("server stopped")
	return nil
}
