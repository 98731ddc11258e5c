package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/atriumhr/telework-engine/internal/auth"
	"github.com/atriumhr/telework-engine/internal/sanitize"
)

// Observer is notified when a request is throttled. Wired to metrics by the
// router; nil disables observation.
type Observer interface {
	RecordRateLimited(operation string)
}

// Middleware enforces cfg for one operation, keyed by the authenticated
// caller. It must run after the auth middleware. Successful requests carry
// the remaining quota and window reset as X-RateLimit headers; rejected
// requests get 429 with Retry-After and reach no handler state.
func Middleware(l *Limiter, operation string, cfg Config, obs Observer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			callerID, ok := auth.ProfileIDFromContext(r.Context())
			if !ok {
				http.Error(w, `{"error":{"code":"unauthorized","message":"missing caller identity"}}`, http.StatusUnauthorized)
				return
			}

			res := l.Check(operation+":"+callerID, cfg)
			resetSec := int(math.Ceil(res.ResetIn.Seconds()))
			if resetSec < 1 {
				resetSec = 1
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(resetSec))

			if !res.Allowed {
				if obs != nil {
					obs.RecordRateLimited(operation)
				}
				slog.Warn("rate limit exceeded",
					slog.String("operation", operation),
					slog.String("caller", sanitize.ShortID(callerID)),
				)
				w.Header().Set("Retry-After", strconv.Itoa(resetSec))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{
						"code":        sanitize.CodeTooManyRequests,
						"message":     sanitize.SafeMessage(sanitize.CodeTooManyRequests),
						"retry_after": resetSec,
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
