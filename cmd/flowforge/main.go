package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/FlowForge/internal/adapter/memory"
	ffnats "github.com/Strob0t/FlowForge/internal/adapter/nats"
	"github.com/Strob0t/FlowForge/internal/adapter/natskv"
	ffotel "github.com/Strob0t/FlowForge/internal/adapter/otel"
	"github.com/Strob0t/FlowForge/internal/adapter/postgres"
	"github.com/Strob0t/FlowForge/internal/adapter/ristretto"
	"github.com/Strob0t/FlowForge/internal/adapter/tiered"
	"github.com/Strob0t/FlowForge/internal/config"
	"github.com/Strob0t/FlowForge/internal/logger"
	"github.com/Strob0t/FlowForge/internal/port/cache"
	"github.com/Strob0t/FlowForge/internal/port/database"
	"github.com/Strob0t/FlowForge/internal/port/messagequeue"
	"github.com/Strob0t/FlowForge/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"durable_store", cfg.Postgres.DSN != "",
		"nats", cfg.NATS.URL != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---
	shutdownMetrics, err := ffotel.InitMetrics(ctx, cfg.Logging.Service, cfg.Otel.Endpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(offCtx)
	}()
	metrics, err := ffotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Durable store ---
	// An empty DSN runs single-process with the in-memory store.
	var (
		store database.Store
		pool  *pgxpool.Pool
	)
	if cfg.Postgres.DSN != "" {
		pool, err = postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		store = postgres.NewStore(pool)
		slog.Info("postgres connected, migrations applied")
	} else {
		store = memory.NewStore()
		slog.Info("running with in-memory store")
	}

	// --- NATS: event stream and L2 cache ---
	var queue messagequeue.Queue
	var natsConn *ffnats.Queue
	if cfg.NATS.URL != "" {
		natsConn, err = ffnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = natsConn.Close() }()
		queue = natsConn
		slog.Info("nats connected", "url", cfg.NATS.URL)
	}

	// --- Result cache: ristretto L1, optional NATS KV L2 ---
	l1, err := ristretto.New(cfg.Cache.MaxCostBytes)
	if err != nil {
		return fmt.Errorf("ristretto: %w", err)
	}
	defer l1.Close()

	var resultCache cache.Cache = l1
	if natsConn != nil {
		kv, err := natsConn.KeyValue(ctx, cfg.NATS.CacheBucket, cfg.Cache.DefaultTTL)
		if err != nil {
			return fmt.Errorf("nats kv: %w", err)
		}
		resultCache = tiered.New(l1, natskv.New(kv), cfg.Cache.L1Expire)
	}

	// --- Services ---
	results := service.NewResultCacheService(resultCache, store, cfg.Cache.DefaultTTL)
	limiter := service.NewLimiterService(store, queue)
	if err := limiter.Load(ctx); err != nil {
		return fmt.Errorf("limits: %w", err)
	}
	orch := service.NewOrchestrator(store, results, limiter, queue, metrics, cfg)
	defer orch.Shutdown()

	if queue != nil {
		cancelEvents, err := service.StartEventLogger(ctx, queue)
		if err != nil {
			return fmt.Errorf("event subscriber: %w", err)
		}
		defer cancelEvents()
	}

	// --- HTTP: health only ---
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(10 * time.Second))
	r.Get("/health", healthHandler(pool, natsConn))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := orch.StartPauseSweeper(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("pause sweeper: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// healthHandler reports the engine's backend connectivity.
func healthHandler(pool *pgxpool.Pool, queue *ffnats.Queue) http.HandlerFunc {
	type healthStatus struct {
		Status   string `json:"status"`
		Postgres string `json:"postgres"`
		NATS     string `json:"nats"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{Status: "ok", Postgres: "disabled", NATS: "disabled"}

		if pool != nil {
			pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := pool.Ping(pingCtx); err != nil {
				status.Status = "degraded"
				status.Postgres = "unreachable"
			} else {
				status.Postgres = "ok"
			}
		}
		if queue != nil {
			if queue.IsConnected() {
				status.NATS = "ok"
			} else {
				status.Status = "degraded"
				status.NATS = "disconnected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if status.Status == "ok" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	}
}
