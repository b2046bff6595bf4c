// cmd/api/main.go
// Main entry point for the compass matching service
// This file bootstraps all components and starts the server

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/imadgeboyega/kiekky-compass/internal/auth"
	"github.com/imadgeboyega/kiekky-compass/internal/common/database"
	"github.com/imadgeboyega/kiekky-compass/internal/common/utils"
	"github.com/imadgeboyega/kiekky-compass/internal/compass"
	"github.com/imadgeboyega/kiekky-compass/internal/config"
	"github.com/imadgeboyega/kiekky-compass/internal/logging"
)

var startTime = time.Now()

func main() {
	// 1. Load environment variables
	envErr := godotenv.Load()

	// 2. Load and validate configuration
	cfg := config.Load()
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if envErr != nil {
		logging.Debug().Err(envErr).Msg("no .env file, using environment variables")
	}
	if err := cfg.Validate(); err != nil {
		logging.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 3. Connect to PostgreSQL and migrate
	db, err := database.NewPostgresDB(ctx, &database.PostgresConfig{
		URL:          cfg.DatabaseURL,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db); err != nil {
		logging.Fatal().Err(err).Msg("failed to run migrations")
	}

	// 4. Connect to Redis (optional)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedisClientFromURL(ctx, cfg.RedisURL)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer redisClient.Close()
	} else {
		logging.Warn().Msg("REDIS_URL not set: swipe stream disabled, dedup and job lock fall back to Postgres and local state")
	}

	// 5. Build the compass service
	repo := compass.NewPostgresRepository(db)

	slots, err := repo.LoadInterestSlots(ctx)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load interest slots")
	}
	registry, err := compass.NewInterestRegistry(slots)
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid interest slot table")
	}

	hub := compass.NewHub()
	go hub.Run(ctx)

	opts := compass.Options{
		DiscoverTimeout: cfg.DiscoverTimeout,
		ScoringWorkers:  cfg.ScoringWorkers,
		Notifier:        hub,
		Source:          compass.NewBreakerSource(repo, 5, 30*time.Second),
		Deduper:         compass.NewPostgresDeduper(db),
		JobLock:         compass.NewLocalJobLock(),
	}
	if redisClient != nil {
		opts.Deduper = compass.NewRedisDeduper(redisClient, cfg.EventDedupTTL)
		opts.JobLock = compass.NewRedisJobLock(redisClient)
	}

	service := compass.NewService(repo, registry, opts)
	handler := compass.NewHandler(service)
	authMiddleware := auth.NewMiddleware(cfg.JWTSecret)

	// 6. Background workers
	compass.NewScheduler(service, cfg.RefillHour).Start(ctx)

	if redisClient != nil {
		consumer := compass.NewSwipeEventConsumer(redisClient, cfg.SwipeStream, cfg.SwipeConsumerGroup, cfg.SwipeConsumerName, service)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logging.Error().Err(err).Msg("swipe event consumer stopped")
			}
		}()
	}

	// 7. Routes
	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	compass.RegisterRoutes(router, handler, hub, authMiddleware)

	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware)
	router.Use(corsMiddleware)

	// 8. Serve
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logging.Info().Str("addr", srv.Addr).Str("environment", cfg.Environment).Msg("compass server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutdown signal received")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server forced to shutdown")
	}

	logging.Info().Msg("server exited gracefully")
}

// healthCheck returns server health status
func healthCheck(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(startTime).String(),
	})
}

// requestIDMiddleware tags each request with an id for log correlation
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs all requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		logging.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration", time.Since(start)).
			Str("request_id", w.Header().Get("X-Request-ID")).
			Msg("request")
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working through the wrapper
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
