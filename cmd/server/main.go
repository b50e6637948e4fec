package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/snips/portfolio-engine/internal/account"
	"github.com/snips/portfolio-engine/internal/api"
	"github.com/snips/portfolio-engine/internal/config"
	"github.com/snips/portfolio-engine/internal/events"
	"github.com/snips/portfolio-engine/internal/jobs"
	"github.com/snips/portfolio-engine/internal/ledger"
	"github.com/snips/portfolio-engine/internal/metrics"
	"github.com/snips/portfolio-engine/internal/rewards"
	"github.com/snips/portfolio-engine/internal/stats"
	"github.com/snips/portfolio-engine/internal/store"
	"github.com/snips/portfolio-engine/internal/xp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Event sinks ---
	hub := events.NewHub()
	go hub.Run(ctx)
	publishers := events.Multi{hub}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		cleanup = append(cleanup, func() {
			if err := kp.Close(); err != nil {
				slog.Error("kafka writer close failed", "err", err)
			}
		})
		publishers = append(publishers, kp)
		slog.Info("Kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	// --- Engines ---
	agg := stats.New(st, cfg.Stats, nil)
	ledgerEng := ledger.New(st, cfg.Ledger, ledger.WithStats(agg), ledger.WithPublisher(publishers))
	xpEng := xp.New(st, cfg.XP, publishers, nil)
	rewardEng, err := rewards.New(st, cfg.Rewards,
		rewards.WithStats(agg),
		rewards.WithXP(xpEng),
		rewards.WithPublisher(publishers),
	)
	if err != nil {
		slog.Error("invalid reward configuration", "err", err)
		os.Exit(1)
	}
	accounts := account.New(st, cfg.Account, xpEng, nil)

	// --- Maintenance jobs ---
	sched := jobs.New(ctx)
	if err := jobs.Register(sched, cfg.Jobs, jobs.Deps{
		XP:           xpEng,
		Accounts:     accounts,
		Stats:        agg,
		StatsTimeout: cfg.Stats.RefreshTimeout,
	}); err != nil {
		slog.Error("invalid job schedule", "err", err)
		os.Exit(1)
	}
	sched.Start()

	svc := &api.Service{
		Ledger:   ledgerEng,
		Stats:    agg,
		Rewards:  rewardEng,
		XP:       xpEng,
		Accounts: accounts,
		Hub:      hub,
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", api.UserHeader},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"portfolio-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", svc.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("portfolio-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down portfolio-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	sched.Stop()
	agg.Wait()
	fmt.Println("portfolio-engine stopped")
}
