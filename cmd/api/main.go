package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/nyashahama/clinical-risk-backend/internal/api"
	"github.com/nyashahama/clinical-risk-backend/internal/cache"
	"github.com/nyashahama/clinical-risk-backend/internal/config"
	"github.com/nyashahama/clinical-risk-backend/internal/db"
	"github.com/nyashahama/clinical-risk-backend/internal/email"
	"github.com/nyashahama/clinical-risk-backend/internal/notes"
	"github.com/nyashahama/clinical-risk-backend/internal/risk"
	"github.com/nyashahama/clinical-risk-backend/internal/store"
	"github.com/nyashahama/clinical-risk-backend/internal/transport"
	"github.com/nyashahama/clinical-risk-backend/internal/worker"
)

func main() {
	// ── Logger ────────────────────────────────────────────────────────────────
	// JSON in production, text in development.
	var logger *slog.Logger
	if os.Getenv("ENV") == "production" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// ── Config ────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger.Info("config loaded", "env", cfg.Env, "port", cfg.Port)

	// Root context cancelled by OS signal. Worker and transport both respect it.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ──────────────────────────────────────────────────────────────
	pool, err := openDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()

	st := store.New(pool, db.New(pool))
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	logger.Info("database connected and migrated")

	// ── AI ────────────────────────────────────────────────────────────────────
	gen, err := cfg.Providers().Generator(logger)
	if err != nil {
		return err
	}

	// ── Risk pipeline ─────────────────────────────────────────────────────────
	// Redis is optional. Without it every assessment goes to the model.
	var (
		assessor risk.Assessor = risk.NewEngine(gen, logger)
		rc       *cache.Redis
	)
	if cfg.RedisURL != "" {
		rc, err = cache.Open(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("cache: %w", err)
		}
		defer rc.Close()
		assessor = risk.NewCachedEngine(assessor, rc, cfg.CacheTTL, logger)
		logger.Info("risk: assessment cache enabled", "ttl", cfg.CacheTTL)
	} else {
		logger.Info("risk: REDIS_URL not set, assessment cache disabled")
	}

	noteWriter := notes.NewWriter(gen, logger)

	// ── Email (Resend) ────────────────────────────────────────────────────────
	mailer := email.NewResendClient(cfg.ResendAPIKey, cfg.EmailFromAddr, cfg.EmailFromName, "")

	// ── Worker ────────────────────────────────────────────────────────────────
	job := worker.NewJob(st, assessor, logger)
	runner := worker.NewRunner(job, st, st.Q(), worker.RunnerConfig{
		Workers:      cfg.WorkerCount,
		PollInterval: cfg.PollInterval,
		JobTimeout:   cfg.JobTimeout,
		MaxRetries:   cfg.MaxRetries,
	}, logger)

	// ── HTTP + gRPC health ────────────────────────────────────────────────────
	health := dependencyCheck(pool, rc)
	handler := api.NewServer(api.Deps{
		Q:        st.Q(),
		Store:    st,
		Assessor: assessor,
		Notes:    noteWriter,
		Chat:     gen,
		Worker:   runner, // *Runner satisfies worker.Enqueuer
		Mailer:   mailer,
		Health:   health,
	}, api.Config{
		APIKey: cfg.APIKey,
		Env:    cfg.Env,
	}, logger)

	srv := transport.New(handler, transport.DefaultConfig(), logger)
	go srv.WatchHealth(ctx, health, healthInterval)

	// Start the worker pool. It blocks until ctx is done.
	workerDone := make(chan struct{})
	go func() {
		runner.Start(ctx)
		close(workerDone)
	}()

	// Serve blocks until ctx is cancelled, then drains in-flight requests.
	serveErr := srv.ListenAndServe(ctx, ":"+cfg.Port)
	stop()
	<-workerDone

	if serveErr != nil {
		return fmt.Errorf("server: %w", serveErr)
	}
	logger.Info("shutdown complete")
	return nil
}

// healthInterval is how often the gRPC health status is refreshed.
const healthInterval = 15 * time.Second

// dependencyCheck pings Postgres and, when configured, Redis.
func dependencyCheck(pool *sql.DB, rc *cache.Redis) api.HealthCheck {
	return func(ctx context.Context) error {
		if err := pool.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if rc != nil {
			if err := rc.Ping(ctx); err != nil {
				return fmt.Errorf("cache: %w", err)
			}
		}
		return nil
	}
}

// openDB opens the connection pool and verifies it is reachable.
func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	pool, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	pool.SetMaxOpenConns(25)
	pool.SetMaxIdleConns(10)
	pool.SetConnMaxLifetime(5 * time.Minute)
	pool.SetConnMaxIdleTime(2 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}
