package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"shopbot/internal/backend"
	"shopbot/internal/cache"
	"shopbot/internal/config"
	"shopbot/internal/convo"
	"shopbot/internal/httpserver"
	"shopbot/internal/logging"
	"shopbot/internal/metrics"
	"shopbot/internal/repo"
	"shopbot/internal/session"
	"shopbot/internal/tg"
	"shopbot/internal/wa"
	"shopbot/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting shopbot", "env", cfg.AppEnv, "session_store", cfg.SessionStore, "backend_url", cfg.BackendURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	sessions, durable, closeStore, err := openSessionStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	backendClient := backend.New(backend.Config{
		BaseURL: cfg.BackendURL,
		Timeout: cfg.BackendTimeout,
	}, logger, metricRegistry)
	if err := backendClient.Health(ctx); err != nil {
		logger.Warn("backend health check failed", "error", err)
	}

	var journal repo.Journal
	if durable != nil {
		journal = durable
	}

	engine := convo.New(backendClient, sessions, logger, metricRegistry, convo.Config{
		ImageDir:      cfg.ImageDir,
		PaymentMethod: cfg.PaymentMethod,
	})

	var (
		wg       sync.WaitGroup
		handlers httpserver.Handlers
	)

	if cfg.TelegramEnabled() {
		tgClient, err := tg.New(tg.Config{
			Token:         cfg.TelegramToken,
			Mode:          cfg.TelegramMode,
			PollTimeout:   cfg.TelegramPollTimeout,
			WebhookURL:    cfg.TelegramWebhookURL,
			WebhookSecret: cfg.TelegramWebhookSecret,
			Debug:         cfg.TelegramDebug,
			Metrics:       metricRegistry,
			Journal:       journal,
		}, engine, logger)
		if err != nil {
			return fmt.Errorf("init telegram client: %w", err)
		}
		if cfg.TelegramMode == config.TelegramWebhook {
			handlers.TelegramWebhook = tgClient.Webhook()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tgClient.Start(ctx); err != nil {
				logger.Error("telegram client stopped", "error", err)
				stop()
			}
		}()
	}

	if cfg.WhatsAppEnabled {
		waClient, err := wa.New(ctx, wa.Config{
			StorePath:   cfg.WhatsAppStorePath,
			LogLevel:    cfg.WhatsAppLogLevel,
			Metrics:     metricRegistry,
			Journal:     journal,
			QRImagePath: cfg.WhatsAppQRPath,
		}, engine, logger)
		if err != nil {
			return fmt.Errorf("init whatsapp client: %w", err)
		}
		defer waClient.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := waClient.Start(ctx); err != nil {
				logger.Error("whatsapp client stopped", "error", err)
				stop()
			}
		}()
	}

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, handlers, cfg.PublicBasePath)
	checks := []httpserver.Check{{Name: "backend", Fn: backendClient.Health}}
	if p, ok := sessions.(session.Pinger); ok {
		checks = append(checks, httpserver.Check{Name: "sessions", Fn: p.Ping})
	}
	deps := httpserver.Dependencies{Checks: checks}
	if durable != nil {
		deps.Messages = durable
	}
	httpSrv.SetDependencies(deps)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("transports did not stop before shutdown deadline")
	}

	return nil
}

// openSessionStore returns the configured session store, the SQL repository
// behind it (nil for memory and redis) and a cleanup func.
func openSessionStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (session.Store, repo.Store, func(), error) {
	switch cfg.SessionStore {
	case config.StoreRedis:
		redisClient := cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
		}, logger)
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
		closeFn := func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}
		return session.NewRedisStore(redisClient, cfg.SessionTTL), nil, closeFn, nil

	case config.StorePostgres:
		repository, err := repo.New(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init repository: %w", err)
		}
		return migrated(ctx, repository, migrations.Postgres(), "postgres", logger)

	case config.StoreSQLite:
		repository, err := repo.NewSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init sqlite repository: %w", err)
		}
		return migrated(ctx, repository, migrations.SQLite(), "sqlite", logger)

	default:
		return session.NewMemoryStore(), nil, func() {}, nil
	}
}

func migrated(ctx context.Context, store repo.Store, files fs.FS, dialect string, logger *slog.Logger) (session.Store, repo.Store, func(), error) {
	if err := store.RunMigrations(ctx, files); err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("run %s migrations: %w", dialect, err)
	}
	logger.Info("database migrated", "dialect", dialect)
	return store, store, store.Close, nil
}
