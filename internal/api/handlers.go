package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mileusna/useragent"

	"github.com/atriumhr/telework-engine/internal/auth"
	"github.com/atriumhr/telework-engine/internal/model"
	"github.com/atriumhr/telework-engine/internal/notify"
	"github.com/atriumhr/telework-engine/internal/perm"
	"github.com/atriumhr/telework-engine/internal/sanitize"
	"github.com/atriumhr/telework-engine/internal/store"
)

type checkInRequest struct {
	Activity string `json:"activity"`
}

type heartbeatRequest struct {
	SessionID     string   `json:"session_id"`
	ActiveSeconds *float64 `json:"active_seconds"`
	CurrentStatus *string  `json:"current_status"`
	Activity      string   `json:"activity"`
}

type statusUpdateRequest struct {
	SessionID     string `json:"session_id"`
	CurrentStatus string `json:"current_status"`
}

type checkoutRequest struct {
	SessionID     string `json:"session_id"`
	FinalActivity string `json:"final_activity"`
}

type forceCheckoutRequest struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	callerID, ok := auth.ProfileIDFromContext(r.Context())
	if !ok {
		writeAPIError(w, http.StatusUnauthorized, "unauthorized", "missing caller identity")
		return
	}

	profile, err := s.store.GetProfile(r.Context(), callerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeAPIError(w, http.StatusForbidden, "inactive_account", sanitize.SafeMessage(sanitize.CodePermissionDenied))
			return
		}
		s.writeInternalError(w, "checkin", err)
		return
	}
	if !profile.IsActive {
		writeAPIError(w, http.StatusForbidden, "inactive_account", sanitize.SafeMessage(sanitize.CodePermissionDenied))
		return
	}

	var req checkInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	sess, err := s.store.CheckIn(r.Context(), store.CheckInInput{
		UserID:          callerID,
		InitialActivity: sanitize.Text(req.Activity, sanitize.MaxActivityLen),
		Country:         countryFromHeaders(r),
		Device:          deviceFromUserAgent(r.Header.Get("User-Agent")),
		IPAddress:       clientIP(r),
	})
	if err != nil {
		var active *store.AlreadyActiveError
		if errors.As(err, &active) {
			var payload apiError
			payload.Error.Code = "session_active"
			payload.Error.Message = sanitize.SafeMessage(sanitize.CodeDuplicate)
			payload.Error.SessionID = active.SessionID
			writeJSON(w, http.StatusConflict, payload)
			return
		}
		s.writeInternalError(w, "checkin", err)
		return
	}

	if s.collector != nil {
		s.collector.RecordCheckIn()
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id":     sess.ID,
		"check_in":       sess.CheckIn.UTC().Format(time.RFC3339),
		"current_status": string(sess.CurrentStatus),
		"country":        sess.Country,
	})
}

func (s *Server) handleActiveSession(w http.ResponseWriter, r *http.Request) {
	callerID, ok := auth.ProfileIDFromContext(r.Context())
	if !ok {
		writeAPIError(w, http.StatusUnauthorized, "unauthorized", "missing caller identity")
		return
	}
	sess, err := s.store.GetActiveSession(r.Context(), callerID)
	if err != nil {
		s.writeInternalError(w, "active", err)
		return
	}
	if sess == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":     sess.ID,
		"check_in":       sess.CheckIn.UTC().Format(time.RFC3339),
		"current_status": string(sess.CurrentStatus),
		"active_seconds": sess.ActiveSeconds,
		"country":        sess.Country,
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	callerID, ok := auth.ProfileIDFromContext(r.Context())
	if !ok {
		writeAPIError(w, http.StatusUnauthorized, "unauthorized", "missing caller identity")
		return
	}

	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if !sanitize.ValidSessionID(req.SessionID) {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", sanitize.SafeMessage(sanitize.CodeInvalidReference))
		return
	}

	var status *model.SessionStatus
	if req.CurrentStatus != nil {
		parsed, ok := sanitize.ParseStatus(*req.CurrentStatus)
		if !ok {
			writeAPIError(w, http.StatusBadRequest, "invalid_request", sanitize.SafeMessage(sanitize.CodeInvalidReference))
			return
		}
		status = &parsed
	}

	sess, err := s.store.Heartbeat(r.Context(), store.HeartbeatInput{
		UserID:       callerID,
		SessionID:    req.SessionID,
		DeltaSeconds: sanitize.ClampSeconds(req.ActiveSeconds, s.cfg.HeartbeatMaxSeconds),
		Status:       status,
		ActivityNote: sanitize.Text(req.Activity, sanitize.MaxActivityLen),
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeAPIError(w, http.StatusNotFound, "not_found", sanitize.SafeMessage(sanitize.CodeNotFound))
			return
		}
		s.writeInternalError(w, "heartbeat", err)
		return
	}

	if s.collector != nil {
		s.collector.RecordHeartbeat(string(sess.CurrentStatus))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":     sess.ID,
		"active_seconds": sess.ActiveSeconds,
		"current_status": string(sess.CurrentStatus),
	})
}

func (s *Server) handleStatusUpdate(w http.ResponseWriter, r *http.Request) {
	callerID, ok := auth.ProfileIDFromContext(r.Context())
	if !ok {
		writeAPIError(w, http.StatusUnauthorized, "unauthorized", "missing caller identity")
		return
	}

	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if !sanitize.ValidSessionID(req.SessionID) {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", sanitize.SafeMessage(sanitize.CodeInvalidReference))
		return
	}
	status, ok := sanitize.ParseStatus(req.CurrentStatus)
	if !ok {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", sanitize.SafeMessage(sanitize.CodeInvalidReference))
		return
	}

	sess, err := s.store.Heartbeat(r.Context(), store.HeartbeatInput{
		UserID:    callerID,
		SessionID: req.SessionID,
		Status:    &status,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeAPIError(w, http.StatusNotFound, "not_found", sanitize.SafeMessage(sanitize.CodeNotFound))
			return
		}
		s.writeInternalError(w, "status", err)
		return
	}

	if s.collector != nil {
		s.collector.RecordHeartbeat(string(sess.CurrentStatus))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":     sess.ID,
		"active_seconds": sess.ActiveSeconds,
		"current_status": string(sess.CurrentStatus),
	})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	callerID, ok := auth.ProfileIDFromContext(r.Context())
	if !ok {
		writeAPIError(w, http.StatusUnauthorized, "unauthorized", "missing caller identity")
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if !sanitize.ValidSessionID(req.SessionID) {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", sanitize.SafeMessage(sanitize.CodeInvalidReference))
		return
	}

	sess, err := s.store.Checkout(r.Context(), store.CheckoutInput{
		UserID:    callerID,
		SessionID: req.SessionID,
		FinalNote: sanitize.Text(req.FinalActivity, sanitize.MaxActivityLen),
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeAPIError(w, http.StatusNotFound, "not_found", sanitize.SafeMessage(sanitize.CodeNotFound))
			return
		}
		s.writeInternalError(w, "checkout", err)
		return
	}

	duration := sess.DurationSeconds(time.Now().UTC())
	if s.collector != nil {
		s.collector.RecordCheckout()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":         sess.ID,
		"check_in":           sess.CheckIn.UTC().Format(time.RFC3339),
		"check_out":          sess.CheckOut.UTC().Format(time.RFC3339),
		"duration_seconds":   duration,
		"duration_formatted": formatDuration(duration),
	})
}

func (s *Server) handleForceCheckout(w http.ResponseWriter, r *http.Request) {
	callerID, ok := auth.ProfileIDFromContext(r.Context())
	if !ok {
		writeAPIError(w, http.StatusUnauthorized, "unauthorized", "missing caller identity")
		return
	}

	var req forceCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if !sanitize.ValidSessionID(req.SessionID) {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", sanitize.SafeMessage(sanitize.CodeInvalidReference))
		return
	}

	actor, err := s.store.GetPermissionProfile(r.Context(), callerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeAPIError(w, http.StatusForbidden, "permission_denied", sanitize.SafeMessage(sanitize.CodePermissionDenied))
			return
		}
		s.writeInternalError(w, "force_checkout", err)
		return
	}

	target, err := s.store.GetSessionByID(r.Context(), req.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeAPIError(w, http.StatusNotFound, "not_found", sanitize.SafeMessage(sanitize.CodeNotFound))
			return
		}
		s.writeInternalError(w, "force_checkout", err)
		return
	}

	owner, err := s.store.GetProfile(r.Context(), target.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeAPIError(w, http.StatusNotFound, "not_found", sanitize.SafeMessage(sanitize.CodeNotFound))
			return
		}
		s.writeInternalError(w, "force_checkout", err)
		return
	}

	decision := perm.CanForceCheckout(actor, owner)
	if !decision.Allowed {
		// The precise reason stays in the server-side audit trail.
		slog.Info("force checkout denied",
			slog.String("actor", sanitize.ShortID(callerID)),
			slog.String("target", sanitize.ShortID(target.UserID)),
			slog.String("reason", decision.Reason),
		)
		msg := sanitize.SafeMessage(sanitize.CodePermissionDenied)
		if decision.Reason == perm.ReasonNotDirectReport {
			msg = "you can only act on members of your own team"
		}
		writeAPIError(w, http.StatusForbidden, "permission_denied", msg)
		return
	}

	reason := sanitize.Text(req.Reason, sanitize.MaxReasonLen)
	sess, err := s.store.ForceClose(r.Context(), store.ForceCloseInput{
		ActorID:   callerID,
		SessionID: req.SessionID,
		Reason:    reason,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeAPIError(w, http.StatusNotFound, "not_found", sanitize.SafeMessage(sanitize.CodeNotFound))
			return
		}
		s.writeInternalError(w, "force_checkout", err)
		return
	}

	message := "Votre session de télétravail a été terminée par " + actor.FullName
	if reason != "" {
		message += ": " + reason
	}
	if err := s.notifier.Notify(r.Context(), notify.Notification{
		UserID:  target.UserID,
		Kind:    "forced_checkout",
		Title:   "Session terminée",
		Message: message,
	}); err != nil {
		slog.Warn("forced checkout notification failed",
			slog.String("session", sanitize.ShortID(sess.ID)),
			slog.String("error", err.Error()),
		)
	}

	if s.collector != nil {
		s.collector.RecordForcedCheckout()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":      sess.ID,
		"check_out":       sess.CheckOut.UTC().Format(time.RFC3339),
		"forced_checkout": true,
	})
}

func (s *Server) writeInternalError(w http.ResponseWriter, operation string, err error) {
	// Full detail stays server-side; the caller gets the sanitized phrase.
	slog.Error("operation failed",
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
	writeAPIError(w, http.StatusInternalServerError, "internal_error", sanitize.SafeMessage(sanitize.CodeInternal))
}

func countryFromHeaders(r *http.Request) string {
	raw := r.Header.Get("CF-IPCountry")
	if raw == "" {
		raw = r.Header.Get("X-Geo-Country")
	}
	return sanitize.Text(raw, sanitize.MaxMetadataLen)
}

func deviceFromUserAgent(raw string) string {
	if raw == "" {
		return ""
	}
	ua := useragent.Parse(raw)
	device := strings.TrimSpace(ua.Name + " " + ua.Version)
	if ua.OS != "" {
		device = strings.TrimSpace(device + " / " + ua.OS)
	}
	return sanitize.Text(device, sanitize.MaxMetadataLen)
}

func clientIP(r *http.Request) string {
	// RealIP middleware rewrites RemoteAddr from proxy headers; a direct
	// connection still carries a port.
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func formatDuration(seconds int) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	return fmt.Sprintf("%dh %02dm", h, m)
}
