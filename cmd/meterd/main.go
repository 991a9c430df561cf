package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/agentmeter/config"
	"github.com/vnmchuo/agentmeter/internal/agent"
	"github.com/vnmchuo/agentmeter/internal/api"
	"github.com/vnmchuo/agentmeter/internal/audit"
	"github.com/vnmchuo/agentmeter/internal/auth"
	"github.com/vnmchuo/agentmeter/internal/metering"
	"github.com/vnmchuo/agentmeter/internal/metrics"
	"github.com/vnmchuo/agentmeter/internal/pricing"
	"github.com/vnmchuo/agentmeter/internal/quota"
	"github.com/vnmchuo/agentmeter/internal/seeder"
	"github.com/vnmchuo/agentmeter/internal/telemetry"
	"github.com/vnmchuo/agentmeter/internal/usage"
	"github.com/vnmchuo/agentmeter/internal/worker"
	"github.com/vnmchuo/agentmeter/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := newLogger(cfg)

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("agentmeter", cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracer")
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect postgres")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping postgres")
	}
	log.Info().Msg("postgres connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping redis")
	}
	log.Info().Msg("redis connected")

	// 5. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(reg)

	// 6. Stores
	authStore := auth.NewPostgresStore(pool)
	agentStore := agent.NewPostgresStore(pool)
	auditStore := audit.NewPostgresStore(pool)
	recordStore := metering.NewPostgresStore(pool)
	rateStore := pricing.NewPostgresStore(pool)

	// 7. Domain services
	tracer := otel.GetTracerProvider().Tracer("agentmeter")
	resolver := pricing.NewResolver(rateStore, nil, log)
	meteringSvc := metering.NewService(recordStore, agentStore, resolver, collector, tracer, log)
	enforcer := quota.NewEnforcer(agentStore, agentStore, auditStore, cfg.DefaultTokenQuotaPerAgent, collector, log)
	sweeper := quota.NewSweeper(agentStore, enforcer, tracer, collector, log)
	normalizer := usage.NewNormalizer(log)
	limiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitRPM)

	authMiddleware := auth.NewMiddleware(authStore, rdb, log)
	handler := api.NewHandler(meteringSvc, enforcer, sweeper, normalizer, agentStore, limiter, tracer, log)

	// 8. Seed demo data if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedDemoData(ctx, pool, authStore, log)
	}

	// 9. Periodic jobs
	schedCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()
	scheduler := worker.NewScheduler(sweeper, meteringSvc, cfg.DailySweepHour, cfg.MonthlyResetHour, log)
	go scheduler.Run(schedCtx)

	// 10. Router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"agentmeter"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// Tenant routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/v1/usage", handler.HandleRecordUsage)
		r.Get("/v1/usage", handler.HandleTenantUsage)
		r.Get("/v1/agents/{agentID}/usage", handler.HandleAgentUsage)
		r.Get("/v1/agents/{agentID}/quota", handler.HandleQuotaCheck)
		r.Post("/v1/agents/{agentID}/resume", handler.HandleResume)
	})

	// Operator triggers
	r.Group(func(r chi.Router) {
		r.Use(api.AdminOnly(cfg.AdminToken))
		r.Post("/internal/sweep", handler.HandleSweep)
		r.Post("/internal/reset", handler.HandleReset)
	})

	// 11. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quitCh := make(chan os.Signal, 1)
	signal.Notify(quitCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("agentmeter starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-quitCh
	log.Info().Msg("shutting down gracefully")
	stopScheduler()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var out = os.Stderr
	if cfg.LogPretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}
