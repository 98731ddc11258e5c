package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/atriumhr/telework-engine/internal/metrics"
)

type Store interface {
	AutoCloseStaleSessions(ctx context.Context, maxAge time.Duration) (int64, error)
	PurgeReadNotifications(ctx context.Context, retention time.Duration) (int64, error)
	PurgeAuditLog(ctx context.Context, retention time.Duration) (int64, error)
}

type Config struct {
	StaleSessionMaxAge    time.Duration
	NotificationRetention time.Duration
	AuditRetention        time.Duration
}

type Runner struct {
	store     Store
	cfg       Config
	collector *metrics.Collector
}

func NewRunner(store Store, cfg Config, collector *metrics.Collector) *Runner {
	return &Runner{store: store, cfg: cfg, collector: collector}
}

func (r *Runner) Start(ctx context.Context) {
	go r.runEvery(ctx, "stale_session_autoclose", 10*time.Minute, func(c context.Context) (int64, error) {
		return r.store.AutoCloseStaleSessions(c, r.cfg.StaleSessionMaxAge)
	})
	go r.runEvery(ctx, "notification_retention", 6*time.Hour, func(c context.Context) (int64, error) {
		return r.store.PurgeReadNotifications(c, r.cfg.NotificationRetention)
	})
	go r.runEvery(ctx, "audit_retention", 24*time.Hour, func(c context.Context) (int64, error) {
		return r.store.PurgeAuditLog(c, r.cfg.AuditRetention)
	})
}

func (r *Runner) runEvery(ctx context.Context, name string, interval time.Duration, fn func(context.Context) (int64, error)) {
	r.runOnce(ctx, name, fn)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, name, fn)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	start := time.Now()
	affected, err := fn(ctx)
	elapsed := time.Since(start)
	if err != nil {
		slog.Error("job run failed",
			slog.String("job", name),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
			slog.String("error", err.Error()),
		)
		if r.collector != nil {
			r.collector.RecordJobRun(name, "error", elapsed)
		}
		return
	}
	slog.Info("job run",
		slog.String("job", name),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
		slog.Int64("rows_affected", affected),
	)
	if r.collector != nil {
		r.collector.RecordJobRun(name, "ok", elapsed)
	}
}
