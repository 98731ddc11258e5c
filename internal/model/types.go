package model

import "time"

type SessionStatus string

const (
	StatusConnected SessionStatus = "connecte"
	StatusPaused    SessionStatus = "pause"
	StatusMeeting   SessionStatus = "reunion"
	StatusOffline   SessionStatus = "hors_ligne"
)

// Activity is one append-only entry of a session's activity log.
type Activity struct {
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	Type        string    `json:"type"`
}

type TeleworkSession struct {
	ID             string
	UserID         string
	CheckIn        time.Time
	CheckOut       *time.Time
	CurrentStatus  SessionStatus
	ActiveSeconds  int
	Activities     []Activity
	Country        string
	Device         string
	IPAddress      string
	ForcedCheckout bool
	ForcedBy       *string
}

// Open reports whether the session has not been terminated. CheckOut is the
// single source of truth; a closed session always carries StatusOffline.
func (s *TeleworkSession) Open() bool {
	return s.CheckOut == nil
}

// DurationSeconds is the wall-clock span from check-in to check-out, or to
// now for an open session.
func (s *TeleworkSession) DurationSeconds(now time.Time) int {
	end := now
	if s.CheckOut != nil {
		end = *s.CheckOut
	}
	d := int(end.Sub(s.CheckIn).Seconds())
	if d < 0 {
		return 0
	}
	return d
}

type Profile struct {
	ID        string
	FullName  string
	Email     string
	ManagerID *string
	GradeID   string
	IsActive  bool
}

type Grade struct {
	ID               string
	Name             string
	CanForceCheckout bool
	CanManageTeam    bool
	CanViewAllData   bool
}

// PermissionProfile is a profile joined with its grade, resolved as a single
// optional value rather than a collection.
type PermissionProfile struct {
	Profile
	Grade Grade
}

type Notification struct {
	ID        string
	UserID    string
	Kind      string
	Title     string
	Message   string
	Read      bool
	CreatedAt time.Time
}

type AuditEntry struct {
	ID          int64
	ActorID     string
	Action      string
	TargetTable string
	TargetID    string
	Before      []byte
	After       []byte
	CreatedAt   time.Time
}
