package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/atriumhr/telework-engine/internal/config"
	"github.com/atriumhr/telework-engine/internal/jobs"
	"github.com/atriumhr/telework-engine/internal/logger"
	"github.com/atriumhr/telework-engine/internal/metrics"
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

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	st := store.New(pool)
	collector := metrics.NewCollector(prometheus.NewRegistry())
	jobs.NewRunner(st, jobs.Config{
		StaleSessionMaxAge:    cfg.StaleSessionMaxAge,
		NotificationRetention: cfg.NotificationRetention,
		AuditRetention:        cfg.AuditRetention,
	}, collector).Start(ctx)

	log.Printf("telework-engine jobs worker started")
	<-ctx.Done()
	log.Printf("telework-engine jobs worker stopping")
}
