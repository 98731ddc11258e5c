package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/atriumhr/telework-engine/internal/model"
	"github.com/atriumhr/telework-engine/internal/sanitize"
)

var ErrNotFound = errors.New("not found")

// AlreadyActiveError signals a check-in attempt while an open session exists.
// The existing id is safe to disclose: it belongs to the caller.
type AlreadyActiveError struct {
	SessionID string
}

func (e *AlreadyActiveError) Error() string {
	return "session already active: " + e.SessionID
}

type Store struct {
	db DB
}

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

func New(db DB) *Store {
	return &Store{db: db}
}

type CheckInInput struct {
	UserID          string
	InitialActivity string
	Country         string
	Device          string
	IPAddress       string
}

type HeartbeatInput struct {
	UserID       string
	SessionID    string
	DeltaSeconds int
	Status       *model.SessionStatus
	ActivityNote string
}

type CheckoutInput struct {
	UserID    string
	SessionID string
	FinalNote string
}

type ForceCloseInput struct {
	ActorID   string
	SessionID string
	Reason    string
}

const sessionColumns = `id, user_id, check_in, check_out, current_status, active_seconds, activities, country, device, ip_address, forced_checkout, forced_by`

const selectOpenSessionByUser = `
select ` + sessionColumns + `
from telework_sessions
where user_id = $1 and check_out is null
order by check_in desc
limit 1`

const selectOwnedOpenSession = `
select ` + sessionColumns + `
from telework_sessions
where id = $1 and user_id = $2 and check_out is null
limit 1`

const selectSessionByID = `
select ` + sessionColumns + `
from telework_sessions
where id = $1
limit 1`

// CheckIn creates a new open session for the user unless one already exists.
// The read-then-insert runs in one transaction and the partial unique index
// on (user_id) where check_out is null backstops the race: a losing insert
// surfaces as the same already-active conflict.
func (s *Store) CheckIn(ctx context.Context, in CheckInInput) (*model.TeleworkSession, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	existing, err := scanSessionRow(tx.QueryRow(ctx, selectOpenSessionByUser, in.UserID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if existing != nil {
		return nil, &AlreadyActiveError{SessionID: existing.ID}
	}

	now := time.Now().UTC()
	activities := []model.Activity{}
	if in.InitialActivity != "" {
		activities = append(activities, model.Activity{
			Timestamp:   now,
			Description: in.InitialActivity,
			Type:        string(model.StatusConnected),
		})
	}
	activitiesJSON, err := json.Marshal(activities)
	if err != nil {
		return nil, err
	}

	sess := &model.TeleworkSession{
		ID:            sanitize.NewSessionID(),
		UserID:        in.UserID,
		CheckIn:       now,
		CurrentStatus: model.StatusConnected,
		Activities:    activities,
		Country:       in.Country,
		Device:        in.Device,
		IPAddress:     in.IPAddress,
	}

	const insertSession = `
insert into telework_sessions
  (id, user_id, check_in, check_out, current_status, active_seconds, activities, country, device, ip_address, forced_checkout, created_at, updated_at)
values
  ($1, $2, $3, null, 'connecte', 0, $4::jsonb, $5, $6, $7, false, $3, $3)`
	if _, err := tx.Exec(ctx, insertSession,
		sess.ID, in.UserID, now, activitiesJSON, in.Country, in.Device, in.IPAddress,
	); err != nil {
		if conflict := s.asOpenSessionConflict(ctx, err, in.UserID); conflict != nil {
			return nil, conflict
		}
		return nil, err
	}

	if err := appendAuditTx(ctx, tx, in.UserID, "presence_checkin", sess.ID, nil, sessionSnapshot(sess)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

// asOpenSessionConflict maps a unique-violation on the open-session index to
// AlreadyActiveError carrying the winner's id.
func (s *Store) asOpenSessionConflict(ctx context.Context, err error, userID string) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}
	winner, scanErr := scanSessionRow(s.db.QueryRow(ctx, selectOpenSessionByUser, userID))
	if scanErr != nil || winner == nil {
		return &AlreadyActiveError{}
	}
	return &AlreadyActiveError{SessionID: winner.ID}
}

// Heartbeat applies the provided subset of fields to the caller's open
// session. The mutation is scoped to "still open", so a session closed by a
// concurrent checkout observes ErrNotFound instead of reopening.
func (s *Store) Heartbeat(ctx context.Context, in HeartbeatInput) (*model.TeleworkSession, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	curr, err := scanSessionRow(tx.QueryRow(ctx, selectOwnedOpenSession, in.SessionID, in.UserID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	effective := curr.CurrentStatus
	if in.Status != nil {
		effective = *in.Status
	}
	var entries []model.Activity
	if in.ActivityNote != "" {
		entries = append(entries, model.Activity{
			Timestamp:   time.Now().UTC(),
			Description: in.ActivityNote,
			Type:        string(effective),
		})
	}
	entriesJSON, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entriesJSON = []byte("[]")
	}

	const updateSession = `
update telework_sessions
set active_seconds = active_seconds + $3,
    current_status = $4,
    activities = activities || $5::jsonb,
    updated_at = now()
where id = $1 and user_id = $2 and check_out is null`
	tag, err := tx.Exec(ctx, updateSession, in.SessionID, in.UserID, in.DeltaSeconds, string(effective), entriesJSON)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	updated, err := scanSessionRow(tx.QueryRow(ctx, selectOwnedOpenSession, in.SessionID, in.UserID))
	if err != nil {
		return nil, err
	}
	if err := appendAuditTx(ctx, tx, in.UserID, "presence_heartbeat", in.SessionID, sessionSnapshot(curr), sessionSnapshot(updated)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

// Checkout terminates the caller's open session. Duration comes from the
// server clock; active_seconds never regresses below either its accumulated
// value or the observed wall-clock duration.
func (s *Store) Checkout(ctx context.Context, in CheckoutInput) (*model.TeleworkSession, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	curr, err := scanSessionRow(tx.QueryRow(ctx, selectOwnedOpenSession, in.SessionID, in.UserID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	entriesJSON, err := json.Marshal(closingEntries(now, in.FinalNote, curr.CurrentStatus, "Session terminée"))
	if err != nil {
		return nil, err
	}

	const closeSession = `
update telework_sessions
set check_out = $3,
    current_status = 'hors_ligne',
    active_seconds = greatest(active_seconds, floor(extract(epoch from ($3 - check_in)))::integer),
    activities = activities || $4::jsonb,
    updated_at = $3
where id = $1 and user_id = $2 and check_out is null`
	tag, err := tx.Exec(ctx, closeSession, in.SessionID, in.UserID, now, entriesJSON)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	closed, err := scanSessionRow(tx.QueryRow(ctx, selectSessionByID, in.SessionID))
	if err != nil {
		return nil, err
	}
	if err := appendAuditTx(ctx, tx, in.UserID, "presence_checkout", in.SessionID, sessionSnapshot(curr), sessionSnapshot(closed)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return closed, nil
}

// ForceClose terminates another user's open session on behalf of actor. The
// permission decision happens before this call; the store only enforces the
// still-open scoping and records who forced the termination.
func (s *Store) ForceClose(ctx context.Context, in ForceCloseInput) (*model.TeleworkSession, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	curr, err := scanSessionRow(tx.QueryRow(ctx, selectSessionByID, in.SessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !curr.Open() {
		return nil, ErrNotFound
	}

	now := time.Now().UTC()
	terminal := "Session terminée par le responsable"
	if in.Reason != "" {
		terminal += ": " + in.Reason
	}
	entriesJSON, err := json.Marshal(closingEntries(now, "", curr.CurrentStatus, terminal))
	if err != nil {
		return nil, err
	}

	const forceCloseSession = `
update telework_sessions
set check_out = $2,
    current_status = 'hors_ligne',
    active_seconds = greatest(active_seconds, floor(extract(epoch from ($2 - check_in)))::integer),
    activities = activities || $3::jsonb,
    forced_checkout = true,
    forced_by = $4,
    updated_at = $2
where id = $1 and check_out is null`
	tag, err := tx.Exec(ctx, forceCloseSession, in.SessionID, now, entriesJSON, in.ActorID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}

	closed, err := scanSessionRow(tx.QueryRow(ctx, selectSessionByID, in.SessionID))
	if err != nil {
		return nil, err
	}
	if err := appendAuditTx(ctx, tx, in.ActorID, "presence_force_checkout", in.SessionID, sessionSnapshot(curr), sessionSnapshot(closed)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return closed, nil
}

// GetActiveSession returns the user's open session, or nil when none exists.
func (s *Store) GetActiveSession(ctx context.Context, userID string) (*model.TeleworkSession, error) {
	sess, err := scanSessionRow(s.db.QueryRow(ctx, selectOpenSessionByUser, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sess, nil
}

// GetSessionByID fetches a session regardless of owner or state. Used by the
// forced-checkout path before the permission decision.
func (s *Store) GetSessionByID(ctx context.Context, sessionID string) (*model.TeleworkSession, error) {
	sess, err := scanSessionRow(s.db.QueryRow(ctx, selectSessionByID, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

func closingEntries(now time.Time, finalNote string, currentStatus model.SessionStatus, terminal string) []model.Activity {
	entries := make([]model.Activity, 0, 2)
	if finalNote != "" {
		entries = append(entries, model.Activity{
			Timestamp:   now,
			Description: finalNote,
			Type:        string(currentStatus),
		})
	}
	entries = append(entries, model.Activity{
		Timestamp:   now,
		Description: terminal,
		Type:        string(model.StatusOffline),
	})
	return entries
}

func sessionSnapshot(s *model.TeleworkSession) []byte {
	snap := map[string]any{
		"current_status":  string(s.CurrentStatus),
		"active_seconds":  s.ActiveSeconds,
		"forced_checkout": s.ForcedCheckout,
	}
	if s.CheckOut != nil {
		snap["check_out"] = s.CheckOut.UTC().Format(time.RFC3339)
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return nil
	}
	return b
}

func appendAuditTx(ctx context.Context, tx pgx.Tx, actorID, action, targetID string, before, after []byte) error {
	const q = `
insert into audit_log (actor_id, action, target_table, target_id, before, after, created_at)
values ($1, $2, 'telework_sessions', $3, $4, $5, now())`
	_, err := tx.Exec(ctx, q, actorID, action, targetID, before, after)
	return err
}

type row interface {
	Scan(dest ...any) error
}

func scanSessionRow(r row) (*model.TeleworkSession, error) {
	var out model.TeleworkSession
	var checkOut *time.Time
	var forcedBy *string
	var activitiesJSON []byte
	if err := r.Scan(
		&out.ID, &out.UserID, &out.CheckIn, &checkOut, &out.CurrentStatus, &out.ActiveSeconds,
		&activitiesJSON, &out.Country, &out.Device, &out.IPAddress, &out.ForcedCheckout, &forcedBy,
	); err != nil {
		return nil, err
	}
	out.CheckOut = checkOut
	out.ForcedBy = forcedBy
	if len(activitiesJSON) > 0 {
		if err := json.Unmarshal(activitiesJSON, &out.Activities); err != nil {
			return nil, err
		}
	}
	return &out, nil
}
