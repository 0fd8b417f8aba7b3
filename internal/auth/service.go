package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/frahmantamala/restaurant-pos/internal"
	"github.com/frahmantamala/restaurant-pos/internal/authority"
	"github.com/frahmantamala/restaurant-pos/internal/clock"
	authoritytypes "github.com/frahmantamala/restaurant-pos/internal/core/datamodel/authority"
	"github.com/frahmantamala/restaurant-pos/internal/core/events"
	"github.com/frahmantamala/restaurant-pos/internal/metrics"
	"github.com/frahmantamala/restaurant-pos/internal/session"
	"github.com/frahmantamala/restaurant-pos/internal/shift"
)

var errNoOpenShift = internal.NewConflictError("No shift is open on this session", internal.ErrCodeShiftConflict)

// Service is the main auth service with dependencies
type Service struct {
	authority Authority
	store     *session.Store
	tokens    TokenLifecycle
	clock     clock.Clock
	events    events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Deps struct {
	Authority Authority
	Store     *session.Store
	Tokens    TokenLifecycle
	Clock     clock.Clock
	Events    events.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// NewService creates a new auth service
func NewService(deps Deps) *Service {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		authority: deps.Authority,
		store:     deps.Store,
		tokens:    deps.Tokens,
		clock:     deps.Clock,
		events:    deps.Events,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}
}

// Login exchanges credentials for a session and persists it. A cashier's open
// shift, if the authority reports one, is attached to the new session.
func (s *Service) Login(ctx context.Context, dto LoginDTO) (*session.Session, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	data, err := s.authority.Login(ctx, dto.Username, dto.Password)
	if err != nil {
		if errors.Is(err, authority.ErrInvalidCredentials) {
			return nil, internal.ErrInvalidCredentials
		}
		return nil, authorityError(err)
	}

	role, ok := session.ParseRole(data.User.Role)
	if !ok {
		s.logger.Warn("authority returned unknown role", "user_id", data.User.ID, "role", data.User.Role)
		return nil, internal.ErrRoleMismatch
	}

	now := s.clock.Now()
	sess := &session.Session{
		UserID:      data.User.ID,
		DisplayName: data.User.Name,
		Username:    data.User.Username,
		Role:        role,
		Permissions: data.User.Permissions,
		Token:       data.Token,
		LoginTime:   now,
	}
	if data.ExpiresIn > 0 {
		sess.TokenExpiresAt = now.Add(time.Duration(data.ExpiresIn) * time.Second)
	}

	if sess.IsCashier() {
		sess.Shift = s.openShiftOf(ctx, sess)
	}

	if err := s.store.Write(ctx, sess); err != nil {
		return nil, storageError(err)
	}

	// renewals outlive the login request
	if err := s.tokens.Restart(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("failed to schedule token renewal", "user_id", sess.UserID, "error", err)
	}

	s.logger.Info("user signed in", "user_id", sess.UserID, "role", string(sess.Role), "has_shift", sess.Shift != nil)
	return sess, nil
}

// Logout clears the session. Signing out of an empty store succeeds.
func (s *Service) Logout(ctx context.Context) error {
	sess, err := s.store.Read(ctx)
	if err != nil {
		s.logger.Warn("failed to read session before logout", "error", err)
	}

	s.tokens.Stop()
	if err := s.store.Clear(ctx); err != nil {
		return storageError(err)
	}
	if sess == nil {
		return nil
	}

	s.metrics.RecordSessionCleared("logout")
	if s.events != nil {
		if err := s.events.Publish(ctx, events.NewSessionClearedEvent(sess.UserID, "logout")); err != nil {
			s.logger.Warn("failed to publish session cleared event", "error", err)
		}
	}
	s.logger.Info("user signed out", "user_id", sess.UserID)
	return nil
}

// Current returns the stored session or ErrUnauthenticated.
func (s *Service) Current(ctx context.Context) (*session.Session, error) {
	sess, err := s.store.Read(ctx)
	if err != nil {
		return nil, storageError(err)
	}
	if sess == nil {
		return nil, internal.ErrUnauthenticated
	}
	return sess, nil
}

// OpenShift opens a shift for the signed-in cashier and records it.
func (s *Service) OpenShift(ctx context.Context, dto OpenShiftDTO) (*session.Session, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	sess, err := s.cashier(ctx)
	if err != nil {
		return nil, err
	}

	record, err := s.authority.OpenShift(ctx, sess.Token, dto.Workers)
	if err != nil {
		return nil, authorityError(err)
	}

	sess.Shift = toReference(record)
	if err := s.store.UpdateShift(ctx, sess.Shift); err != nil {
		return nil, storageError(err)
	}
	s.logger.Info("shift opened", "user_id", sess.UserID, "shift_id", record.ShiftID)
	return sess, nil
}

// CloseShift closes the session's shift on the authority and detaches it.
func (s *Service) CloseShift(ctx context.Context) (*session.Session, error) {
	sess, err := s.cashier(ctx)
	if err != nil {
		return nil, err
	}
	if sess.Shift == nil {
		return nil, errNoOpenShift
	}

	if err := s.authority.CloseShift(ctx, sess.Token, sess.Shift.ShiftID); err != nil {
		return nil, authorityError(err)
	}

	closed := sess.Shift.ShiftID
	sess.Shift = nil
	if err := s.store.UpdateShift(ctx, nil); err != nil {
		return nil, storageError(err)
	}
	s.logger.Info("shift closed", "user_id", sess.UserID, "shift_id", closed)
	return sess, nil
}

// OwnerAccess reports whether sess carries owner privileges.
func (s *Service) OwnerAccess(sess *session.Session) bool {
	return s.store.OwnerEquivalent(sess)
}

func (s *Service) cashier(ctx context.Context) (*session.Session, error) {
	sess, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	if !sess.IsCashier() {
		return nil, internal.ErrRoleMismatch
	}
	return sess, nil
}

func (s *Service) openShiftOf(ctx context.Context, sess *session.Session) *session.ShiftReference {
	records, err := s.authority.ShiftsByUser(ctx, sess.Token, sess.UserID)
	if err != nil {
		s.logger.Warn("could not look up open shift at sign in", "user_id", sess.UserID, "error", err)
		return nil
	}

	return toReference(shift.Select(records, ""))
}

func toReference(r *authoritytypes.ShiftRecord) *session.ShiftReference {
	if r == nil {
		return nil
	}
	return &session.ShiftReference{
		ShiftID:   r.ShiftID,
		Status:    r.Status,
		StartTime: r.StartTime,
		Workers:   r.Workers,
	}
}

func authorityError(err error) error {
	if errors.Is(err, authority.ErrUnauthorized) {
		return internal.ErrTokenExpired
	}
	var statusErr *authority.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict {
		return internal.NewConflictError("The authority rejected the shift change", internal.ErrCodeShiftConflict).WithCause(err)
	}
	return internal.NewExternalError("Authority unavailable", internal.ErrCodeAuthorityUnavailable, err)
}

func storageError(err error) error {
	appErr := internal.NewInternalError("Session storage failed", err)
	appErr.Code = internal.ErrCodeSessionStorage
	return appErr
}
