package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/atriumhr/telework-engine/internal/api"
	"github.com/atriumhr/telework-engine/internal/config"
	"github.com/atriumhr/telework-engine/internal/logger"
	"github.com/atriumhr/telework-engine/internal/metrics"
	"github.com/atriumhr/telework-engine/internal/notify"
	"github.com/atriumhr/telework-engine/internal/ratelimit"
	"github.com/atriumhr/telework-engine/internal/store"
)

func main() {
	_ = godotenv.Load()
	logger.SetupDefault(os.Stdout)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
		log.Fatalf("migrate db: %v", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	st := store.New(pool)
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	limiter := ratelimit.New()
	notifier := notify.NewStoreNotifier(st)

	handler := api.NewRouter(cfg, st, notifier, collector, registry, limiter)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("telework-engine api listening on %s", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server: %v", err)
	}
}
