package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/atriumhr/telework-engine/internal/auth"
	"github.com/atriumhr/telework-engine/internal/config"
	"github.com/atriumhr/telework-engine/internal/model"
	"github.com/atriumhr/telework-engine/internal/notify"
	"github.com/atriumhr/telework-engine/internal/ratelimit"
	"github.com/atriumhr/telework-engine/internal/store"
)

const testSessionID = "tws_0f4be62a-1a2b-4c3d-8e4f-5a6b7c8d9e0f"

type mockStore struct {
	checkIn              func(ctx context.Context, in store.CheckInInput) (*model.TeleworkSession, error)
	heartbeat            func(ctx context.Context, in store.HeartbeatInput) (*model.TeleworkSession, error)
	checkout             func(ctx context.Context, in store.CheckoutInput) (*model.TeleworkSession, error)
	forceClose           func(ctx context.Context, in store.ForceCloseInput) (*model.TeleworkSession, error)
	getActiveSession     func(ctx context.Context, userID string) (*model.TeleworkSession, error)
	getSessionByID       func(ctx context.Context, sessionID string) (*model.TeleworkSession, error)
	getProfile           func(ctx context.Context, profileID string) (*model.Profile, error)
	getPermissionProfile func(ctx context.Context, profileID string) (*model.PermissionProfile, error)
}

func (m *mockStore) CheckIn(ctx context.Context, in store.CheckInInput) (*model.TeleworkSession, error) {
	return m.checkIn(ctx, in)
}
func (m *mockStore) Heartbeat(ctx context.Context, in store.HeartbeatInput) (*model.TeleworkSession, error) {
	return m.heartbeat(ctx, in)
}
func (m *mockStore) Checkout(ctx context.Context, in store.CheckoutInput) (*model.TeleworkSession, error) {
	return m.checkout(ctx, in)
}
func (m *mockStore) ForceClose(ctx context.Context, in store.ForceCloseInput) (*model.TeleworkSession, error) {
	return m.forceClose(ctx, in)
}
func (m *mockStore) GetActiveSession(ctx context.Context, userID string) (*model.TeleworkSession, error) {
	return m.getActiveSession(ctx, userID)
}
func (m *mockStore) GetSessionByID(ctx context.Context, sessionID string) (*model.TeleworkSession, error) {
	return m.getSessionByID(ctx, sessionID)
}
func (m *mockStore) GetProfile(ctx context.Context, profileID string) (*model.Profile, error) {
	return m.getProfile(ctx, profileID)
}
func (m *mockStore) GetPermissionProfile(ctx context.Context, profileID string) (*model.PermissionProfile, error) {
	return m.getPermissionProfile(ctx, profileID)
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:            "test-secret",
		HeartbeatMaxSeconds:  300,
		RateWindow:           time.Minute,
		CheckInMaxRequests:   30,
		HeartbeatMaxRequests: 120,
		ForcedMaxRequests:    10,
	}
}

func testJWT(t *testing.T, secret, profileID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		ProfileID: profileID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestRouter(cfg config.Config, ms *mockStore, fake *notify.FakeNotifier) http.Handler {
	return NewRouter(cfg, ms, fake, nil, nil, ratelimit.New())
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func errorField(t *testing.T, rec *httptest.ResponseRecorder, key string) string {
	t.Helper()
	body := decodeBody(t, rec)
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error object in %q", rec.Body.String())
	}
	s, _ := errObj[key].(string)
	return s
}

func activeProfile(id string) *model.Profile {
	return &model.Profile{ID: id, FullName: "Ada Martin", IsActive: true}
}

func TestRoutes_RejectMissingToken(t *testing.T) {
	h := newTestRouter(testConfig(), &mockStore{}, notify.NewFakeNotifier())

	rec := doJSON(t, h, http.MethodPost, "/api/v1/presence/checkin", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unauthorized") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestCheckIn_CreatesSession(t *testing.T) {
	var captured store.CheckInInput
	ms := &mockStore{
		getProfile: func(_ context.Context, id string) (*model.Profile, error) {
			return activeProfile(id), nil
		},
		checkIn: func(_ context.Context, in store.CheckInInput) (*model.TeleworkSession, error) {
			captured = in
			return &model.TeleworkSession{
				ID:            testSessionID,
				UserID:        in.UserID,
				CheckIn:       time.Now().UTC(),
				CurrentStatus: model.StatusConnected,
				Country:       in.Country,
			}, nil
		},
	}
	h := newTestRouter(testConfig(), ms, notify.NewFakeNotifier())
	token := testJWT(t, "test-secret", "usr_1")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/presence/checkin", token,
		map[string]any{"activity": "  Revue   des <b>tickets</b>  "})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if captured.UserID != "usr_1" {
		t.Fatalf("captured user = %q", captured.UserID)
	}
	if captured.InitialActivity != "Revue des tickets" {
		t.Fatalf("activity not sanitized: %q", captured.InitialActivity)
	}
	body := decodeBody(t, rec)
	if body["session_id"] != testSessionID {
		t.Fatalf("session_id = %v", body["session_id"])
	}
	if body["current_status"] != string(model.StatusConnected) {
		t.Fatalf("current_status = %v", body["current_status"])
	}
}

func TestCheckIn_ActiveSessionConflict(t *testing.T) {
	ms := &mockStore{
		getProfile: func(_ context.Context, id string) (*model.Profile, error) {
			return activeProfile(id), nil
		},
		checkIn: func(_ context.Context, _ store.CheckInInput) (*model.TeleworkSession, error) {
			return nil, &store.AlreadyActiveError{SessionID: testSessionID}
		},
	}
	h := newTestRouter(testConfig(), ms, notify.NewFakeNotifier())
	token := testJWT(t, "test-secret", "usr_1")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/presence/checkin", token, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if code := errorField(t, rec, "code"); code != "session_active" {
		t.Fatalf("error code = %q", code)
	}
	if id := errorField(t, rec, "session_id"); id != testSessionID {
		t.Fatalf("error session_id = %q", id)
	}
}

func TestCheckIn_InactiveAccount(t *testing.T) {
	ms := &mockStore{
		getProfile: func(_ context.Context, id string) (*model.Profile, error) {
			return &model.Profile{ID: id, IsActive: false}, nil
		},
	}
	h := newTestRouter(testConfig(), ms, notify.NewFakeNotifier())
	token := testJWT(t, "test-secret", "usr_1")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/presence/checkin", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if code := errorField(t, rec, "code"); code != "inactive_account" {
		t.Fatalf("error code = %q", code)
	}
}

func TestActiveSession_NoneIs204(t *testing.T) {
	ms := &mockStore{
		getActiveSession: func(_ context.Context, _ string) (*model.TeleworkSession, error) {
			return nil, nil
		},
	}
	h := newTestRouter(testConfig(), ms, notify.NewFakeNotifier())
	token := testJWT(t, "test-secret", "usr_1")

	rec := doJSON(t, h, http.MethodGet, "/api/v1/presence/active", token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestHeartbeat_RejectsMalformedSessionID(t *testing.T) {
	h := newTestRouter(testConfig(), &mockStore{}, notify.NewFakeNotifier())
	token := testJWT(t, "test-secret", "usr_1")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/presence/heartbeat", token,
		map[string]any{"session_id": "tws_'; drop table telework_sessions; --"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHeartbeat_RejectsInvalidStatus(t *testing.T) {
	h := newTestRouter(testConfig(), &mockStore{}, notify.NewFakeNotifier())
	token := testJWT(t, "test-secret", "usr_1")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/presence/heartbeat", token,
		map[string]any{"session_id": testSessionID, "current_status": "hors_ligne"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHeartbeat_ClampsReportedSeconds(t *testing.T) {
	var captured store.HeartbeatInput
	ms := &mockStore{
		heartbeat: func(_ context.Context, in store.HeartbeatInput) (*model.TeleworkSession, error) {
			captured = in
			return &model.TeleworkSession{
				ID: in.SessionID, UserID: in.UserID,
				CheckIn: time.Now().UTC(), CurrentStatus: model.StatusConnected,
				ActiveSeconds: 900,
			}, nil
		},
	}
	h := newTestRouter(testConfig(), ms, notify.NewFakeNotifier())
	token := testJWT(t, "test-secret", "usr_1")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/presence/heartbeat", token,
		map[string]any{"session_id": testSessionID, "active_seconds": 99999.9})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if captured.DeltaSeconds != 300 {
		t.Fatalf("delta = %d, want clamped 300", captured.DeltaSeconds)
	}
	if captured.Status != nil {
		t.Fatalf("status should be absent, got %v", *captured.Status)
	}
	body := decodeBody(t, rec)
	if body["active_seconds"] != float64(900) {
		t.Fatalf("active_seconds = %v", body["active_seconds"])
	}
}

func TestHeartbeat_UnknownSessionIs404(t *testing.T) {
	ms := &mockStore{
		heartbeat: func(_ context.Context, _ store.HeartbeatInput) (*model.TeleworkSession, error) {
			return nil, store.ErrNotFound
		},
	}
	h := newTestRouter(testConfig(), ms, notify.NewFakeNotifier())
	token := testJWT(t, "test-secret", "usr_1")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/presence/heartbeat", token,
		map[string]any{"session_id": testSessionID})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStatusUpdate_RequiresStatus(t *testing.T) {
	h := newTestRouter(testConfig(), &mockStore{}, notify.NewFakeNotifier())
	token := testJWT(t, "test-secret", "usr_1")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/presence/status", token,
		map[string]any{"session_id": testSessionID})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCheckout_ReportsDuration(t *testing.T) {
	checkIn := time.Now().UTC().Add(-90 * time.Minute)
	checkOut := checkIn.Add(90 * time.Minute)
	ms := &mockStore{
		checkout: func(_ context.Context, in store.CheckoutInput) (*model.TeleworkSession, error) {
			return &model.TeleworkSession{
				ID: in.SessionID, UserID: in.UserID,
				CheckIn: checkIn, CheckOut: &checkOut,
				CurrentStatus: model.StatusOffline, ActiveSeconds: 5400,
			}, nil
		},
	}
	h := newTestRouter(testConfig(), ms, notify.NewFakeNotifier())
	token := testJWT(t, "test-secret", "usr_1")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/presence/checkout", token,
		map[string]any{"session_id": testSessionID, "final_activity": "Fin de journée"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["duration_seconds"] != float64(5400) {
		t.Fatalf("duration_seconds = %v", body["duration_seconds"])
	}
	if body["duration_formatted"] != "1h 30m" {
		t.Fatalf("duration_formatted = %v", body["duration_formatted"])
	}
}

func TestForceCheckout_DeniedWithoutFlag(t *testing.T) {
	forceCloseCalled := false
	ms := &mockStore{
		getPermissionProfile: func(_ context.Context, id string) (*model.PermissionProfile, error) {
			return &model.PermissionProfile{
				Profile: model.Profile{ID: id, FullName: "Ada Martin", IsActive: true},
				Grade:   model.Grade{ID: "grd_staff", Name: "Staff"},
			}, nil
		},
		getSessionByID: func(_ context.Context, id string) (*model.TeleworkSession, error) {
			return &model.TeleworkSession{ID: id, UserID: "usr_target", CheckIn: time.Now().UTC(), CurrentStatus: model.StatusConnected}, nil
		},
		getProfile: func(_ context.Context, id string) (*model.Profile, error) {
			return activeProfile(id), nil
		},
		forceClose: func(_ context.Context, _ store.ForceCloseInput) (*model.TeleworkSession, error) {
			forceCloseCalled = true
			return nil, nil
		},
	}
	fake := notify.NewFakeNotifier()
	h := newTestRouter(testConfig(), ms, fake)
	token := testJWT(t, "test-secret", "usr_mgr")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/presence/force-checkout", token,
		map[string]any{"session_id": testSessionID, "reason": "oubli"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if forceCloseCalled {
		t.Fatal("ForceClose called despite denial")
	}
	if len(fake.Sent) != 0 {
		t.Fatalf("notification sent despite denial: %+v", fake.Sent)
	}
}

func TestForceCheckout_NotDirectReport(t *testing.T) {
	otherManager := "usr_other_mgr"
	ms := &mockStore{
		getPermissionProfile: func(_ context.Context, id string) (*model.PermissionProfile, error) {
			return &model.PermissionProfile{
				Profile: model.Profile{ID: id, FullName: "Ada Martin", IsActive: true},
				Grade:   model.Grade{ID: "grd_lead", Name: "Team Lead", CanForceCheckout: true},
			}, nil
		},
		getSessionByID: func(_ context.Context, id string) (*model.TeleworkSession, error) {
			return &model.TeleworkSession{ID: id, UserID: "usr_target", CheckIn: time.Now().UTC(), CurrentStatus: model.StatusConnected}, nil
		},
		getProfile: func(_ context.Context, id string) (*model.Profile, error) {
			return &model.Profile{ID: id, FullName: "Lee Target", ManagerID: &otherManager, IsActive: true}, nil
		},
	}
	h := newTestRouter(testConfig(), ms, notify.NewFakeNotifier())
	token := testJWT(t, "test-secret", "usr_mgr")

	rec := doJSON(t, h, http.MethodPost, "/api/v1/presence/force-checkout", token,
		map[string]any{"session_id": testSessionID})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if msg := errorField(t, rec, "message"); !strings.Contains(msg, "your own team") {
		t.Fatalf("message = %q", msg)
	}
}

func TestForceCheckout_ClosesAndNotifies(t *testing.T) {
	manager := "usr_mgr"
	checkOut := time.Now().UTC()
	var captured store.ForceCloseInput
	ms := &mockStore{
		getPermissionProfile: func(_ context.Context, id string) (*model.PermissionProfile, error) {
			return &model.PermissionProfile{
				Profile: model.Profile{ID: id, FullName: "Ada Martin", IsActive: true},
				Grade:   model.Grade{ID: "grd_lead", Name: "Team Lead", CanForceCheckout: true},
			}, nil
		},
		getSessionByID: func(_ context.Context, id string) (*model.TeleworkSession, error) {
			return &model.TeleworkSession{ID: id, UserID: "usr_target", CheckIn: time.Now().UTC(), CurrentStatus: model.StatusMeeting}, nil
		},
		getProfile: func(_ context.Context, id string) (*model.Profile, error) {
			return &model.Profile{ID: id, FullName: "Lee Target", ManagerID: &manager, IsActive: true}, nil
		},
		forceClose: func(_ context.Context, in store.ForceCloseInput) (*model.TeleworkSession, error) {
			captured = in
			return &model.TeleworkSession{
				ID: in.SessionID, UserID: "usr_target",
				CheckIn: time.Now().UTC().Add(-time.Hour), CheckOut: &checkOut,
				CurrentStatus: model.StatusOffline, ForcedCheckout: true, ForcedBy: &in.ActorID,
			}, nil
		},
	}
	fake := notify.NewFakeNotifier()
	h := newTestRouter(testConfig(), ms, fake)
	token := testJWT(t, "test-secret", manager)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/presence/force-checkout", token,
		map[string]any{"session_id": testSessionID, "reason": "Oubli de déconnexion"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if captured.ActorID != manager {
		t.Fatalf("actor = %q, want %s", captured.ActorID, manager)
	}
	body := decodeBody(t, rec)
	if body["forced_checkout"] != true {
		t.Fatalf("forced_checkout = %v", body["forced_checkout"])
	}
	if len(fake.Sent) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(fake.Sent))
	}
	n := fake.Sent[0]
	if n.UserID != "usr_target" || n.Kind != "forced_checkout" {
		t.Fatalf("unexpected notification %+v", n)
	}
	if !strings.Contains(n.Message, "Ada Martin") {
		t.Fatalf("message does not name the actor: %q", n.Message)
	}
}

func TestRateLimit_CheckInReturns429(t *testing.T) {
	calls := 0
	ms := &mockStore{
		getProfile: func(_ context.Context, id string) (*model.Profile, error) {
			return activeProfile(id), nil
		},
		checkIn: func(_ context.Context, in store.CheckInInput) (*model.TeleworkSession, error) {
			calls++
			return &model.TeleworkSession{
				ID: testSessionID, UserID: in.UserID,
				CheckIn: time.Now().UTC(), CurrentStatus: model.StatusConnected,
			}, nil
		},
	}
	cfg := testConfig()
	cfg.CheckInMaxRequests = 1
	h := newTestRouter(cfg, ms, notify.NewFakeNotifier())
	token := testJWT(t, "test-secret", "usr_1")

	if rec := doJSON(t, h, http.MethodPost, "/api/v1/presence/checkin", token, nil); rec.Code != http.StatusCreated {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec := doJSON(t, h, http.MethodPost, "/api/v1/presence/checkin", token, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}
	if code := errorField(t, rec, "code"); code != "rate_limit_exceeded" {
		t.Fatalf("error code = %q", code)
	}
	if calls != 1 {
		t.Fatalf("store called %d times, want 1", calls)
	}
}

func TestHealthz_NoAuthRequired(t *testing.T) {
	h := newTestRouter(testConfig(), &mockStore{}, notify.NewFakeNotifier())

	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
