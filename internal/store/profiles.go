package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/atriumhr/telework-engine/internal/model"
)

const selectProfile = `
select id, full_name, email, manager_id, grade_id, is_active
from profiles
where id = $1
limit 1`

func (s *Store) GetProfile(ctx context.Context, profileID string) (*model.Profile, error) {
	var out model.Profile
	if err := s.db.QueryRow(ctx, selectProfile, profileID).Scan(
		&out.ID, &out.FullName, &out.Email, &out.ManagerID, &out.GradeID, &out.IsActive,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

// GetPermissionProfile resolves a profile joined with its grade flags as one
// optional value.
func (s *Store) GetPermissionProfile(ctx context.Context, profileID string) (*model.PermissionProfile, error) {
	const q = `
select p.id, p.full_name, p.email, p.manager_id, p.grade_id, p.is_active,
       g.id, g.name, g.can_force_checkout, g.can_manage_team, g.can_view_all_data
from profiles p
join grades g on g.id = p.grade_id
where p.id = $1
limit 1`

	var out model.PermissionProfile
	if err := s.db.QueryRow(ctx, q, profileID).Scan(
		&out.ID, &out.FullName, &out.Email, &out.ManagerID, &out.GradeID, &out.IsActive,
		&out.Grade.ID, &out.Grade.Name, &out.Grade.CanForceCheckout, &out.Grade.CanManageTeam, &out.Grade.CanViewAllData,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

// CreateNotification persists one notification row addressed to a user.
func (s *Store) CreateNotification(ctx context.Context, n model.Notification) error {
	const q = `
insert into notifications (id, user_id, kind, title, message, read, created_at)
values ($1, $2, $3, $4, $5, false, now())`
	id := n.ID
	if id == "" {
		id = "ntf_" + uuid.NewString()
	}
	_, err := s.db.Exec(ctx, q, id, n.UserID, n.Kind, n.Title, n.Message)
	return err
}
