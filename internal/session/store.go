// Package session persists the current principal and answers queries about it.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/frahmantamala/restaurant-pos/internal/storage"
)

// Persisted keys. Every writer keeps all three consistent.
const (
	KeyCurrentUser     = "currentUser"
	KeyAuthToken       = "authToken"
	KeyTokenExpiration = "tokenExpiration"
)

// Keys lists every key owned by the session store.
var Keys = []string{KeyCurrentUser, KeyAuthToken, KeyTokenExpiration}

// DefaultOwnerPermissions grant owner privileges without the owner role.
var DefaultOwnerPermissions = []string{"owner", "full_access"}

// Store is the sole writer of the persisted session.
type Store struct {
	kv               storage.KeyValue
	ownerPermissions []string
	logger           *slog.Logger
}

type Option func(*Store)

// WithOwnerPermissions replaces the owner-equivalent capability tags.
func WithOwnerPermissions(tags ...string) Option {
	return func(s *Store) { s.ownerPermissions = tags }
}

func NewStore(kv storage.KeyValue, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		kv:               kv,
		ownerPermissions: DefaultOwnerPermissions,
		logger:           logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Read returns the persisted session, or nil when there is none. A missing,
// malformed or partially written record reads as no session. The error is
// reserved for failures of the medium itself.
func (s *Store) Read(ctx context.Context) (*Session, error) {
	raw, found, err := s.kv.Get(ctx, KeyCurrentUser)
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", KeyCurrentUser, err)
	}
	if !found || raw == "" {
		return nil, nil
	}

	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		s.logger.Warn("discarding malformed session record", "error", err)
		return nil, nil
	}
	if sess.UserID == "" {
		s.logger.Warn("discarding session record without user id")
		return nil, nil
	}

	token, found, err := s.kv.Get(ctx, KeyAuthToken)
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", KeyAuthToken, err)
	}
	if !found || token == "" {
		s.logger.Warn("session record present without auth token, treating as signed out", "user_id", sess.UserID)
		return nil, nil
	}
	sess.Token = token

	if rawExp, found, err := s.kv.Get(ctx, KeyTokenExpiration); err != nil {
		return nil, fmt.Errorf("session: read %s: %w", KeyTokenExpiration, err)
	} else if found && rawExp != "" {
		if exp, ok := parseExpiration(rawExp); ok {
			sess.TokenExpiresAt = exp
		} else {
			s.logger.Warn("ignoring unparseable token expiration", "value", rawExp)
		}
	}

	return &sess, nil
}

// Write replaces the persisted record and its token markers in one write.
func (s *Store) Write(ctx context.Context, sess *Session) error {
	if sess == nil || sess.UserID == "" || sess.Token == "" {
		return ErrIncompleteSession
	}

	record, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: encode record: %w", err)
	}

	entries := map[string]string{
		KeyCurrentUser:     string(record),
		KeyAuthToken:       sess.Token,
		KeyTokenExpiration: formatExpiration(sess.TokenExpiresAt),
	}
	if err := s.kv.SetMany(ctx, entries); err != nil {
		return fmt.Errorf("session: write: %w", err)
	}
	return nil
}

// UpdateToken swaps the credential of the current session after a renewal.
func (s *Store) UpdateToken(ctx context.Context, token string, expiresAt time.Time) error {
	sess, err := s.Read(ctx)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNoSession
	}

	sess.Token = token
	sess.TokenExpiresAt = expiresAt
	return s.Write(ctx, sess)
}

// UpdateShift records a shift open (non-nil) or close (nil) on the session.
func (s *Store) UpdateShift(ctx context.Context, shift *ShiftReference) error {
	sess, err := s.Read(ctx)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNoSession
	}

	sess.Shift = shift
	return s.Write(ctx, sess)
}

// Clear removes every session key. Clearing an empty store is a no-op.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.RemoveMany(ctx, Keys...); err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	return nil
}

// OwnerEquivalent reports whether sess carries owner privileges, either by
// role or by an owner-equivalent permission tag.
func (s *Store) OwnerEquivalent(sess *Session) bool {
	if sess == nil {
		return false
	}
	return sess.Role == RoleOwner || sess.HasAnyPermission(s.ownerPermissions)
}

func (s *Store) IsAuthenticated(ctx context.Context) bool {
	sess, err := s.Read(ctx)
	return err == nil && sess != nil
}

// Role returns the current role, or "" when signed out.
func (s *Store) Role(ctx context.Context) Role {
	sess, err := s.Read(ctx)
	if err != nil || sess == nil {
		return ""
	}
	return sess.Role
}

func (s *Store) HasPermission(ctx context.Context, tag string) bool {
	sess, err := s.Read(ctx)
	if err != nil || sess == nil {
		return false
	}
	return sess.HasPermission(tag)
}

func (s *Store) HasOwnerAccess(ctx context.Context) bool {
	sess, err := s.Read(ctx)
	if err != nil {
		return false
	}
	return s.OwnerEquivalent(sess)
}

func formatExpiration(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseExpiration accepts RFC 3339 or epoch milliseconds.
func parseExpiration(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, true
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}
	return time.Time{}, false
}
