package session

import (
	"errors"
	"strings"
	"time"
)

type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RoleCashier Role = "cashier"
)

// ParseRole accepts the role names of the fixed role set in any case.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleOwner, RoleAdmin, RoleCashier:
		return r, true
	default:
		return "", false
	}
}

// ShiftReference is the snapshot of an open cashier shift kept in the session.
type ShiftReference struct {
	ShiftID   string    `json:"shift_id"`
	Status    string    `json:"status"`
	StartTime time.Time `json:"start_time"`
	Workers   []string  `json:"workers,omitempty"`
}

// Session is the locally held record of the authenticated principal.
type Session struct {
	UserID         string          `json:"id"`
	DisplayName    string          `json:"name"`
	Username       string          `json:"username"`
	Role           Role            `json:"role"`
	Permissions    []string        `json:"permissions,omitempty"`
	Token          string          `json:"token"`
	TokenExpiresAt time.Time       `json:"token_expires_at"`
	Shift          *ShiftReference `json:"shift,omitempty"`
	LoginTime      time.Time       `json:"login_time"`
}

func (s *Session) HasPermission(tag string) bool {
	for _, p := range s.Permissions {
		if p == tag {
			return true
		}
	}
	return false
}

func (s *Session) HasAnyPermission(tags []string) bool {
	for _, tag := range tags {
		if s.HasPermission(tag) {
			return true
		}
	}
	return false
}

func (s *Session) IsCashier() bool {
	return s.Role == RoleCashier
}

// TokenExpired reports whether the bearer token lapsed at now.
func (s *Session) TokenExpired(now time.Time) bool {
	return !s.TokenExpiresAt.IsZero() && !now.Before(s.TokenExpiresAt)
}

var (
	ErrNoSession         = errors.New("session: no active session")
	ErrIncompleteSession = errors.New("session: user id and token are required")
)
