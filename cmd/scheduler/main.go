package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tutorbook/internal/api"
	"tutorbook/internal/booking"
	"tutorbook/internal/config"
	"tutorbook/internal/database"
	"tutorbook/internal/metrics"
	"tutorbook/internal/slots"
	"tutorbook/internal/tutorapi"
)

func main() {
	// Optional .env with secrets for local runs.
	_ = godotenv.Load()

	bootLogger := newLogger("info", "console")
	cfg, err := config.Load(os.Getenv("TUTORBOOK_CONFIG_PATH"))
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg.Log.Level, cfg.Log.Format)

	if cfg.Backend.BaseURL == "" {
		logger.Fatal().Msg("set backend.base_url in config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	client := tutorapi.NewClient(cfg.Backend.BaseURL, cfg.Backend.APIKey, cfg.BackendTimeout())
	client.UseRateLimit(cfg.Backend.RequestsPerSecond, cfg.Backend.Burst)
	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if ttl := cfg.CacheTTL(); ttl > 0 {
			client.UseRedisCache(rdb, ttl)
		}
	}

	// Initial load + hot reload of the scheduling policy.
	policy := config.NewLivePolicy(slots.DefaultPolicy())
	if err := config.WatchPolicy(ctx, cfg.Policy.Path, cfg.PolicyReloadInterval(), &logger, func(updated *config.PolicyConfig) {
		p, err := updated.ToPolicy()
		if err != nil {
			logger.Error().Err(err).Msg("failed to apply policy")
			return
		}
		policy.Store(p)
		logger.Info().
			Int("block_minutes", p.BlockMinutes).
			Int("max_blocks", p.MaxBlocks).
			Int("holidays", len(p.Blackouts)).
			Str("timezone", p.Loc().String()).
			Msg("scheduling policy applied")
	}); err != nil {
		logger.Error().Err(err).Str("path", cfg.Policy.Path).Msg("policy watch failed, using defaults")
	}

	store := booking.NewStore(booking.Deps{
		Backend: client,
		Journal: db,
		Policy:  policy.Get,
		Clock:   booking.RealClock{},
		Logger:  &logger,
	}, cfg.SessionIdleTimeout())
	go store.RunCleanup(ctx, cfg.SessionCleanupInterval())

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, client, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	backup := database.NewBackupService(db, cfg.Backup, &logger)
	go backup.Start(ctx)

	server := api.NewHTTPServer(fmt.Sprintf(":%d", cfg.HTTP.Port), api.Deps{
		Sessions:          store,
		Availability:      client,
		Journal:           db,
		Policy:            policy.Get,
		Clock:             booking.RealClock{},
		Logger:            &logger,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
		TrustForwardedFor: cfg.HTTP.TrustForwardedFor,
	})
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			logger.Error().Err(err).Msg("api shutdown error")
		}
	}()

	logger.Info().Int("port", cfg.HTTP.Port).Msg("scheduler started")
	if err := server.Start(); err != nil {
		logger.Error().Err(err).Msg("api server error")
	}
	logger.Info().Msg("scheduler stopped")
}

func newLogger(level, format string) zerolog.Logger {
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	if format == "json" {
		out = os.Stdout
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

func startHealthServer(ctx context.Context, port int, db *database.DB, rdb *redis.Client, backend *tutorapi.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := db.Ping(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		if err := backend.HealthCheck(ctxPing); err != nil {
			logger.Warn().Err(err).Msg("backend health check failed")
			http.Error(w, "backend not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
