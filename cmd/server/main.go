package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/shortlink/config"
	"github.com/sifan077/shortlink/internal/app/auth"
	apprepository "github.com/sifan077/shortlink/internal/app/repository"
	appserver "github.com/sifan077/shortlink/internal/app/server"
	"github.com/sifan077/shortlink/internal/app/service"
	"github.com/sifan077/shortlink/internal/infra/logger"
	infraNATS "github.com/sifan077/shortlink/internal/infra/nats"
	infraPostgres "github.com/sifan077/shortlink/internal/infra/postgres"
	infraPrometheus "github.com/sifan077/shortlink/internal/infra/prometheus"
	infraRedis "github.com/sifan077/shortlink/internal/infra/redis"
	"go.uber.org/zap"
)

const defaultShutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		// The logger is configured from cfg, so fall back to a bootstrap one.
		logger.L().Fatal("Failed to load config", zap.Error(err))
	}

	log := logger.MustInit(logger.Config{
		Development: !cfg.IsProduction(),
		Level:       cfg.App.LogLevel,
		File: logger.FileConfig{
			Path:       cfg.App.LogFile.Path,
			MaxSizeMB:  cfg.App.LogFile.MaxSizeMB,
			MaxBackups: cfg.App.LogFile.MaxBackups,
			MaxAgeDays: cfg.App.LogFile.MaxAgeDays,
			Compress:   cfg.App.LogFile.Compress,
		},
	})
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	log.Info("Configuration loaded successfully",
		zap.String("env", cfg.App.Env),
		zap.String("addr", cfg.Server.Addr),
		zap.String("postgres_host", cfg.Postgres.Host),
		zap.Int("postgres_port", cfg.Postgres.Port),
		zap.String("postgres_db", cfg.Postgres.Database),
		zap.String("redis_host", cfg.Redis.Host),
		zap.Int("redis_port", cfg.Redis.Port),
		zap.String("nats_host", cfg.NATS.Host),
		zap.Int("code_length", cfg.Shortener.CodeLength),
	)

	gormDB, err := infraPostgres.NewGorm(cfg.Postgres, log)
	if err != nil {
		log.Fatal("Failed to open GORM connection", zap.Error(err))
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		log.Fatal("Failed to access underlying SQL DB", zap.Error(err))
	}
	defer sqlDB.Close()

	if err := infraPostgres.AutoMigrate(ctx, gormDB); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}

	pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer pool.Close()
	log.Info("Connected to Postgres successfully")

	redisClient, err := infraRedis.NewClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	log.Info("Connected to Redis successfully")

	notifier, closeNATS := startClickStream(ctx, cfg.NATS, log)
	defer closeNATS()

	if cfg.IsProduction() {
		promServer := infraPrometheus.NewServer(cfg.Prometheus, nil)
		go func() {
			log.Info("Starting Prometheus metrics server", zap.Int("port", cfg.Prometheus.Port))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
			}
		}()
		defer func() {
			if err := promServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("Failed to close Prometheus server", zap.Error(err))
			}
		}()
	} else {
		log.Info("Skipping Prometheus metrics server in development mode")
	}

	tokens, err := auth.NewTokenVerifier(cfg.Auth, auth.NewRedisRevocationStore(redisClient))
	if err != nil {
		log.Fatal("Failed to build token verifier", zap.Error(err))
	}

	shortener := service.NewShortenerService(service.ShortenerDeps{
		URLs:        apprepository.NewShortenedURLRepository(gormDB),
		Clicks:      apprepository.NewURLClickRepository(gormDB),
		Generator:   service.NewRandomCodeGenerator(cfg.Shortener.CodeLength),
		Notifier:    notifier,
		Logger:      log.Named("shortener"),
		MaxAttempts: cfg.Shortener.MaxAttempts,
	})

	server := appserver.New(appserver.Dependencies{
		Logger:          log,
		Postgres:        pool,
		Redis:           redisClient,
		Shortener:       shortener,
		Tokens:          tokens,
		BaseURL:         cfg.Server.BaseURL,
		CORSAllowOrigin: cfg.Server.CORSAllowOrigin,
	})

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		serveErr <- server.Listen(cfg.Server.Addr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			log.Error("Fiber server exited", zap.Error(err))
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg.Server.ShutdownTimeout))
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Graceful shutdown did not complete", zap.Error(err))
	}
	log.Info("Server stopped")
}

// startClickStream wires the optional JetStream side channel. Without NATS
// the shortener runs with no notifier.
func startClickStream(ctx context.Context, cfg config.NATSConfig, log *zap.Logger) (service.ClickNotifier, func()) {
	conn, js, err := infraNATS.Connect(cfg)
	if errors.Is(err, infraNATS.ErrDisabled) {
		log.Info("NATS not configured, click stream disabled")
		return nil, func() {}
	}
	if err != nil {
		log.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	log.Info("Connected to NATS successfully")

	// The consumer declares the stream, so it must start before publishing.
	consumer := service.NewClickConsumer(js, log.Named("click-consumer"))
	if err := consumer.Start(ctx); err != nil {
		log.Fatal("Failed to start click consumer", zap.Error(err))
	}

	return service.NewClickPublisher(js), func() { drain(conn, js, log) }
}

func drain(conn *nats.Conn, js nats.JetStreamContext, log *zap.Logger) {
	select {
	case <-js.PublishAsyncComplete():
	case <-time.After(5 * time.Second):
		log.Warn("Timed out waiting for pending click events", zap.Int("pending", js.PublishAsyncPending()))
	}
	if err := conn.Drain(); err != nil {
		log.Warn("Failed to drain NATS connection", zap.Error(err))
	}
}

func shutdownTimeout(raw string) time.Duration {
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return defaultShutdownTimeout
}
