package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/atriumhr/telework-engine/internal/model"
)

// AutoCloseStaleSessions terminates sessions left open longer than maxAge,
// applying the same greatest() duration reconciliation as a normal checkout.
// Returns the number of sessions closed.
func (s *Store) AutoCloseStaleSessions(ctx context.Context, maxAge time.Duration) (int64, error) {
	now := time.Now().UTC()
	entriesJSON, err := json.Marshal([]model.Activity{{
		Timestamp:   now,
		Description: "Session terminée automatiquement",
		Type:        string(model.StatusOffline),
	}})
	if err != nil {
		return 0, err
	}

	const q = `
update telework_sessions
set check_out = $2,
    current_status = 'hors_ligne',
    active_seconds = greatest(active_seconds, floor(extract(epoch from ($2 - check_in)))::integer),
    activities = activities || $3::jsonb,
    updated_at = $2
where check_out is null and check_in <= $2 - make_interval(secs => $1)`
	tag, err := s.db.Exec(ctx, q, maxAge.Seconds(), now, entriesJSON)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PurgeReadNotifications deletes read notifications older than the retention
// window.
func (s *Store) PurgeReadNotifications(ctx context.Context, retention time.Duration) (int64, error) {
	const q = `delete from notifications where read and created_at <= now() - make_interval(secs => $1)`
	tag, err := s.db.Exec(ctx, q, retention.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PurgeAuditLog deletes audit rows past the retention window.
func (s *Store) PurgeAuditLog(ctx context.Context, retention time.Duration) (int64, error) {
	const q = `delete from audit_log where created_at <= now() - make_interval(secs => $1)`
	tag, err := s.db.Exec(ctx, q, retention.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
