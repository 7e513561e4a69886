package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/AdarBahar/MyTrip-sub004/config"
	"github.com/AdarBahar/MyTrip-sub004/internal/handler"
	"github.com/AdarBahar/MyTrip-sub004/internal/middleware"
	"github.com/AdarBahar/MyTrip-sub004/internal/optimizer"
	"github.com/AdarBahar/MyTrip-sub004/internal/preview"
	"github.com/AdarBahar/MyTrip-sub004/internal/provider"
	"github.com/AdarBahar/MyTrip-sub004/internal/repository"
	"github.com/AdarBahar/MyTrip-sub004/internal/service"
	"github.com/AdarBahar/MyTrip-sub004/pkg/cache"
	"github.com/AdarBahar/MyTrip-sub004/pkg/db"
)

func main() {
	// ── Load configuration ──────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	// ── Connect to PostgreSQL ───────────────────────────
	pgPool, err := db.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	defer pgPool.Close()
	log.Println("✓ PostgreSQL connected")

	// ── Connect to Redis ────────────────────────────────
	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("✓ Redis connected")

	// ── Routing runtime (adapters, breaker, cache) ──────
	orchestrator := buildOrchestrator(cfg)
	solver := optimizer.New(orchestrator)

	// ── Initialize layers ───────────────────────────────
	dayRepo := repository.NewDayRepository(pgPool)
	placeRepo := repository.NewPlaceRepository(pgPool)
	versionRepo := repository.NewVersionRepository(pgPool)
	previewStore := preview.NewRedisStore(redisClient)

	breakdownSvc := service.NewBreakdownService(orchestrator, solver, placeRepo, dayRepo, previewStore, service.BreakdownConfig{
		MaxConcurrency: int64(cfg.Breakdown.MaxConcurrency),
		SoftDeadline:   cfg.Breakdown.SoftDeadline,
		PreviewTTL:     cfg.Preview.TTL,
	})
	versionSvc := service.NewVersionService(versionRepo, previewStore, dayRepo)

	routeHandler := handler.NewRouteHandler(breakdownSvc)
	versionHandler := handler.NewVersionHandler(versionSvc)

	// ── Setup router ────────────────────────────────────
	router := mux.NewRouter()

	// Health check endpoint.
	router.HandleFunc("/health", healthHandler(pgPool, redisClient)).Methods(http.MethodGet)

	// API v1 routes.
	api := router.PathPrefix("/api/v1").Subrouter()
	// Route computation and commit lifecycle
	api.HandleFunc("/trips/{trip_id}/days/{day_id}/route/compute", routeHandler.ComputeBreakdown).Methods(http.MethodPost)
	api.HandleFunc("/route/commit", versionHandler.Commit).Methods(http.MethodPost)
	// Version management
	api.HandleFunc("/days/{day_id}/route/versions", versionHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/days/{day_id}/route/active", versionHandler.GetActive).Methods(http.MethodGet)
	api.HandleFunc("/days/{day_id}/route/active", versionHandler.SetActive).Methods(http.MethodPut)
	// Day lifecycle
	api.HandleFunc("/days/{day_id}", versionHandler.DeleteDay).Methods(http.MethodDelete)

	// Middleware chain, outermost first.
	chained := middleware.CORS(middleware.RequestID(middleware.RequestLogger(middleware.Recoverer(router))))

	// ── Start HTTP server ───────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.ServerAddr(),
		Handler:      chained,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in a goroutine so we can listen for shutdown signals.
	go func() {
		log.Printf("🚀 Server listening on %s", cfg.Server.ServerAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// ── Graceful shutdown ───────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("⏳ Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Println("✅ Server gracefully stopped")
}

// buildOrchestrator constructs the provider adapters selected by the
// routing mode and wraps them with the breaker, backoff, and matrix cache.
func buildOrchestrator(cfg *config.Config) *provider.Orchestrator {
	var cloud, selfhost provider.Provider
	if cfg.Routing.CloudBaseURL != "" {
		cloud = provider.NewCloudProvider(cfg.Routing.CloudBaseURL, cfg.Routing.CloudAPIKey, cfg.Routing.CloudTimeout)
	}
	if cfg.Routing.SelfHostBaseURL != "" {
		selfhost = provider.NewSelfHostProvider(cfg.Routing.SelfHostBaseURL, cfg.Routing.SelfHostTimeout)
	}

	return provider.NewOrchestrator(
		provider.Mode(cfg.Routing.Mode),
		cfg.Routing.UseCloudMatrix,
		cloud,
		selfhost,
		provider.BreakerConfig{
			Failures: cfg.Breaker.Failures,
			Window:   cfg.Breaker.Window,
			Cooldown: cfg.Breaker.Cooldown,
		},
		provider.BackoffConfig{
			Base:        cfg.Backoff.Base,
			Factor:      cfg.Backoff.Factor,
			Jitter:      cfg.Backoff.Jitter,
			MaxAttempts: cfg.Backoff.MaxAttempts,
			CapTotal:    cfg.Backoff.CapTotal,
		},
		provider.MatrixCacheConfig{
			TTL:        cfg.MatrixCache.TTL,
			MaxEntries: cfg.MatrixCache.MaxEntries,
		},
	)
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// healthHandler returns an HTTP handler that checks PG and Redis connectivity.
func healthHandler(pgPool *pgxpool.Pool, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Services: make(map[string]string),
		}

		if err := db.HealthCheck(r.Context(), pgPool); err != nil {
			resp.Status = "degraded"
			resp.Services["postgres"] = "unhealthy: " + err.Error()
		} else {
			resp.Services["postgres"] = "healthy"
		}

		if err := cache.HealthCheck(r.Context(), redisClient); err != nil {
			resp.Status = "degraded"
			resp.Services["redis"] = "unhealthy: " + err.Error()
		} else {
			resp.Services["redis"] = "healthy"
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	}
}
