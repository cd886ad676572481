package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/predictfi/updown-engine/internal/bank"
	"github.com/predictfi/updown-engine/internal/config"
	"github.com/predictfi/updown-engine/internal/metrics"
	"github.com/predictfi/updown-engine/internal/model"
	"github.com/predictfi/updown-engine/internal/oracle"
	"github.com/predictfi/updown-engine/internal/service"
	"github.com/predictfi/updown-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Store.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Store.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Store.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.Store.RedisURL)
			if err != nil {
				slog.Error("invalid redis URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Store.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.Store.CacheTTL)
		}
	} else {
		slog.Warn("database URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	if err := seedConfig(context.Background(), st, cfg.Market); err != nil {
		slog.Error("seeding market config failed", "err", err)
		os.Exit(1)
	}

	// --- Price feed ---
	var feed oracle.PriceFeed
	if cfg.Oracle.URL != "" {
		feed = oracle.NewHTTPFeed(cfg.Oracle.URL, cfg.Oracle.Timeout)
		slog.Info("price feed configured", "url", cfg.Oracle.URL)
	} else {
		slog.Warn("oracle URL not set, using static price feed (local testing only)")
		feed = oracle.NewStaticFeed(decimal.NewFromInt(100))
	}

	// --- Funds custody ---
	// In-process ledger of player balances. A production deployment would
	// back this with a payments or chain integration.
	bk := bank.NewMemoryBank()

	// --- WebSocket hub ---
	hub := service.NewHub()
	go hub.Run()

	// --- Engine service ---
	svc := service.NewService(st, feed, bk, hub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(service.RateLimit(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst))

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"updown-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time market events.
		r.Get("/ws", hub.HandleWS)

		// Commands.
		r.Post("/bets", svc.PlaceBet)
		r.Post("/rounds/advance", svc.AdvanceRound)
		r.Post("/claims", svc.CollectWinnings)

		// Queries.
		r.Get("/config", svc.GetConfig)
		r.Get("/status", svc.GetStatus)
		r.Get("/rounds/{id}", svc.GetFinishedRound)
		r.Get("/players/{player}/position", svc.GetPosition)
		r.Get("/players/{player}/bets", svc.ListBets)
		r.Get("/players/{player}/reward", svc.GetPendingReward)

		// Admin.
		r.Group(func(r chi.Router) {
			r.Use(service.AdminOnly(cfg.Server.AdminKey))
			r.Put("/config", svc.SetConfig)
			r.Post("/pause", svc.Pause)
			r.Post("/resume", svc.Resume)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("updown-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down updown-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("updown-engine stopped")
}

// seedConfig writes the initial market parameters the first time the engine
// boots against an empty store. An existing config wins over file settings.
func seedConfig(ctx context.Context, st store.Store, market config.MarketConfig) error {
	_, err := st.GetConfig(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return err
	}

	minBet, err := market.MinimumBetDecimal()
	if err != nil {
		return err
	}
	seed := model.Config{
		RoundSeconds: market.RoundSeconds,
		MinimumBet:   minBet,
		FeeBps:       market.FeeBps,
	}
	if err := st.SetConfig(ctx, seed); err != nil {
		return err
	}
	slog.Info("seeded market config",
		"round_seconds", seed.RoundSeconds,
		"minimum_bet", seed.MinimumBet.String(),
		"fee_bps", seed.FeeBps,
	)
	return nil
}
