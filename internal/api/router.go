package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/atriumhr/telework-engine/internal/auth"
	"github.com/atriumhr/telework-engine/internal/config"
	"github.com/atriumhr/telework-engine/internal/metrics"
	"github.com/atriumhr/telework-engine/internal/model"
	"github.com/atriumhr/telework-engine/internal/notify"
	"github.com/atriumhr/telework-engine/internal/ratelimit"
	"github.com/atriumhr/telework-engine/internal/store"
)

type Store interface {
	CheckIn(ctx context.Context, in store.CheckInInput) (*model.TeleworkSession, error)
	Heartbeat(ctx context.Context, in store.HeartbeatInput) (*model.TeleworkSession, error)
	Checkout(ctx context.Context, in store.CheckoutInput) (*model.TeleworkSession, error)
	ForceClose(ctx context.Context, in store.ForceCloseInput) (*model.TeleworkSession, error)
	GetActiveSession(ctx context.Context, userID string) (*model.TeleworkSession, error)
	GetSessionByID(ctx context.Context, sessionID string) (*model.TeleworkSession, error)
	GetProfile(ctx context.Context, profileID string) (*model.Profile, error)
	GetPermissionProfile(ctx context.Context, profileID string) (*model.PermissionProfile, error)
}

type Server struct {
	cfg       config.Config
	store     Store
	notifier  notify.Notifier
	collector *metrics.Collector
}

func NewRouter(cfg config.Config, st Store, notifier notify.Notifier, collector *metrics.Collector, gatherer prometheus.Gatherer, limiter *ratelimit.Limiter) http.Handler {
	s := &Server{cfg: cfg, store: st, notifier: notifier, collector: collector}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	if gatherer != nil {
		r.Get("/metrics", metrics.Handler(gatherer).ServeHTTP)
	}

	var obs ratelimit.Observer
	if collector != nil {
		obs = collector
	}
	sensitiveCfg := ratelimit.Config{Window: cfg.RateWindow, MaxRequests: cfg.ForcedMaxRequests}
	moderateCfg := ratelimit.Config{Window: cfg.RateWindow, MaxRequests: cfg.CheckInMaxRequests}
	frequentCfg := ratelimit.Config{Window: cfg.RateWindow, MaxRequests: cfg.HeartbeatMaxRequests}

	r.Route("/api/v1/presence", func(pr chi.Router) {
		pr.Use(auth.Middleware(cfg.JWTSecret))
		pr.Get("/active", s.instrument("active", s.handleActiveSession))
		pr.With(ratelimit.Middleware(limiter, "checkin", moderateCfg, obs)).
			Post("/checkin", s.instrument("checkin", s.handleCheckIn))
		pr.With(ratelimit.Middleware(limiter, "heartbeat", frequentCfg, obs)).
			Post("/heartbeat", s.instrument("heartbeat", s.handleHeartbeat))
		pr.With(ratelimit.Middleware(limiter, "status", frequentCfg, obs)).
			Post("/status", s.instrument("status", s.handleStatusUpdate))
		pr.With(ratelimit.Middleware(limiter, "checkout", moderateCfg, obs)).
			Post("/checkout", s.instrument("checkout", s.handleCheckout))
		pr.With(ratelimit.Middleware(limiter, "force_checkout", sensitiveCfg, obs)).
			Post("/force-checkout", s.instrument("force_checkout", s.handleForceCheckout))
	})

	return r
}

func (s *Server) instrument(operation string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h(w, r)
		if s.collector != nil {
			s.collector.RecordRequestDuration(operation, time.Since(start))
		}
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

type apiError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		SessionID string `json:"session_id,omitempty"`
	} `json:"error"`
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	var payload apiError
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
