// Package auth signs a terminal in and out against the remote authority and
// runs the cashier shift open/close flows on the stored session.
package auth

import (
	"context"
	"time"

	authoritytypes "github.com/frahmantamala/restaurant-pos/internal/core/datamodel/authority"
	"github.com/frahmantamala/restaurant-pos/internal/session"
)

// Authority is the subset of the remote authority used by sign-in flows.
type Authority interface {
	Login(ctx context.Context, username, password string) (*authoritytypes.LoginData, error)
	ShiftsByUser(ctx context.Context, token, userID string) ([]authoritytypes.ShiftRecord, error)
	OpenShift(ctx context.Context, token string, workers []string) (*authoritytypes.ShiftRecord, error)
	CloseShift(ctx context.Context, token, shiftID string) error
}

// TokenLifecycle is the background renewal bound to the stored session.
type TokenLifecycle interface {
	Restart(ctx context.Context) error
	Stop()
}

// ServiceAPI is what the HTTP handler needs from the service.
type ServiceAPI interface {
	Login(ctx context.Context, dto LoginDTO) (*session.Session, error)
	Logout(ctx context.Context) error
	Current(ctx context.Context) (*session.Session, error)
	OpenShift(ctx context.Context, dto OpenShiftDTO) (*session.Session, error)
	CloseShift(ctx context.Context) (*session.Session, error)
}

// SessionView is the session as reported to clients. The bearer token never
// leaves the server.
type SessionView struct {
	UserID         string                  `json:"id"`
	DisplayName    string                  `json:"name"`
	Username       string                  `json:"username"`
	Role           session.Role            `json:"role"`
	Permissions    []string                `json:"permissions"`
	OwnerAccess    bool                    `json:"owner_access"`
	TokenExpiresAt *time.Time              `json:"token_expires_at,omitempty"`
	Shift          *session.ShiftReference `json:"shift,omitempty"`
	LoginTime      time.Time               `json:"login_time"`
}

// ToView converts a stored session to its client shape.
func ToView(sess *session.Session, ownerAccess bool) SessionView {
	view := SessionView{
		UserID:      sess.UserID,
		DisplayName: sess.DisplayName,
		Username:    sess.Username,
		Role:        sess.Role,
		Permissions: sess.Permissions,
		OwnerAccess: ownerAccess,
		Shift:       sess.Shift,
		LoginTime:   sess.LoginTime,
	}
	if view.Permissions == nil {
		view.Permissions = []string{}
	}
	if !sess.TokenExpiresAt.IsZero() {
		exp := sess.TokenExpiresAt
		view.TokenExpiresAt = &exp
	}
	return view
}
