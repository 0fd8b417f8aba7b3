// Package token keeps the session's bearer token fresh and forces a logout
// when it can no longer be renewed.
package token

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/restaurant-pos/internal/authority"
	"github.com/frahmantamala/restaurant-pos/internal/clock"
	authoritytypes "github.com/frahmantamala/restaurant-pos/internal/core/datamodel/authority"
	"github.com/frahmantamala/restaurant-pos/internal/core/events"
	"github.com/frahmantamala/restaurant-pos/internal/metrics"
	"github.com/frahmantamala/restaurant-pos/internal/notice"
	"github.com/frahmantamala/restaurant-pos/internal/session"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultBuffer is how long before expiry the token is renewed.
const DefaultBuffer = 5 * time.Minute

type State int

const (
	StateIdle State = iota
	StateScheduled
	StateRenewing
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateRenewing:
		return "renewing"
	case StateExpired:
		return "expired"
	default:
		return "idle"
	}
}

type Renewer interface {
	RenewToken(ctx context.Context, token string) (*authoritytypes.RenewResponse, error)
}

type ProfileChecker interface {
	Profile(ctx context.Context, token string) (*authoritytypes.Profile, error)
}

type Config struct {
	Buffer       time.Duration
	RenewTimeout time.Duration
	// VerifyProfile asks the authority to confirm the token on Start.
	VerifyProfile bool
}

type Manager struct {
	store     *session.Store
	renewer   Renewer
	profiles  ProfileChecker
	clock     clock.Clock
	notifier  notice.Notifier
	navigator notice.Navigator
	events    events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	config    Config

	mu        sync.Mutex
	state     State
	gen       uint64
	timer     clock.Timer
	refreshAt time.Time
	ctx       context.Context
}

type Deps struct {
	Store     *session.Store
	Renewer   Renewer
	Profiles  ProfileChecker
	Clock     clock.Clock
	Notifier  notice.Notifier
	Navigator notice.Navigator
	Events    events.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

func NewManager(deps Deps, config Config) *Manager {
	if config.Buffer <= 0 {
		config.Buffer = DefaultBuffer
	}
	if config.RenewTimeout <= 0 {
		config.RenewTimeout = 15 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	return &Manager{
		store:     deps.Store,
		renewer:   deps.Renewer,
		profiles:  deps.Profiles,
		clock:     deps.Clock,
		notifier:  deps.Notifier,
		navigator: deps.Navigator,
		events:    deps.Events,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		config:    config,
		ctx:       context.Background(),
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RefreshAt returns when the armed renewal fires.
func (m *Manager) RefreshAt() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshAt, m.state == StateScheduled
}

// Start schedules renewal for the current session. ctx bounds every later
// renewal; once it ends, pending work is dropped without touching the session.
// A running schedule is replaced.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	gen := m.reset()
	m.ctx = ctx
	m.mu.Unlock()

	sess, err := m.store.Read(ctx)
	if err != nil {
		return err
	}
	if sess == nil {
		m.logger.Debug("no session, token renewal idle")
		return nil
	}

	if m.config.VerifyProfile && m.profiles != nil {
		if _, err := m.profiles.Profile(ctx, sess.Token); err != nil {
			if errors.Is(err, authority.ErrUnauthorized) {
				m.logger.Warn("authority rejected stored token", "user_id", sess.UserID)
				m.expire(gen, sess.UserID, "token_rejected")
				return nil
			}
			m.logger.Warn("profile check failed, continuing with stored session", "user_id", sess.UserID, "error", err)
		}
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return nil
	}
	expired := m.schedule(gen, sess, false)
	m.mu.Unlock()

	if expired {
		m.logger.Info("stored token already expired", "user_id", sess.UserID)
		m.expire(gen, sess.UserID, "token_expired")
	}
	return nil
}

// Restart re-reads the session and reschedules.
func (m *Manager) Restart(ctx context.Context) error {
	return m.Start(ctx)
}

// Stop releases the pending timer. The session is left untouched and any
// renewal in flight is discarded.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
}

// reset cancels current work and returns the new generation. Caller holds mu.
func (m *Manager) reset() uint64 {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.state = StateIdle
	m.refreshAt = time.Time{}
	return m.gen
}

// schedule arms the renewal timer for sess and reports whether the token has
// already lapsed. Caller holds mu.
func (m *Manager) schedule(gen uint64, sess *session.Session, renewed bool) bool {
	now := m.clock.Now()

	expiresAt := sess.TokenExpiresAt
	if expiresAt.IsZero() {
		expiresAt = expiryFromClaims(sess.Token)
	}
	if expiresAt.IsZero() {
		m.logger.Warn("token expiry unknown, renewal not scheduled", "user_id", sess.UserID)
		m.state = StateIdle
		return false
	}
	if !now.Before(expiresAt) {
		return true
	}

	refreshAt := expiresAt.Add(-m.config.Buffer)
	delay := refreshAt.Sub(now)
	if delay < 0 {
		if renewed {
			// the authority hands out tokens shorter than the buffer
			delay = expiresAt.Sub(now) / 2
		} else {
			// inside the buffer but still valid, renew right away
			delay = 0
		}
		refreshAt = now.Add(delay)
	}

	m.state = StateScheduled
	m.refreshAt = refreshAt
	m.timer = m.clock.AfterFunc(delay, func() { m.fire(gen) })
	m.logger.Debug("token renewal scheduled",
		"user_id", sess.UserID,
		"refresh_at", refreshAt,
		"expires_at", expiresAt)
	return false
}

func (m *Manager) fire(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateScheduled {
		m.mu.Unlock()
		return
	}
	m.state = StateRenewing
	m.timer = nil
	ctx := m.ctx
	m.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	sess, err := m.store.Read(ctx)
	if err != nil {
		m.logger.Error("failed to read session for renewal", "error", err)
		m.expire(gen, "", "storage_unavailable")
		return
	}
	if sess == nil {
		// logged out elsewhere
		m.mu.Lock()
		if gen == m.gen {
			m.state = StateIdle
		}
		m.mu.Unlock()
		return
	}

	rctx, cancel := context.WithTimeout(ctx, m.config.RenewTimeout)
	resp, err := m.renewer.RenewToken(rctx, sess.Token)
	cancel()

	if ctx.Err() != nil || !m.current(gen) {
		m.logger.Debug("discarding renewal result after stop", "user_id", sess.UserID)
		return
	}
	if err != nil {
		m.metrics.RecordTokenRenewal("failure")
		m.logger.Warn("token renewal failed", "user_id", sess.UserID, "error", err)
		m.expire(gen, sess.UserID, "renewal_failed")
		return
	}

	now := m.clock.Now()
	var expiresAt time.Time
	if resp.ExpiresIn > 0 {
		expiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	} else {
		expiresAt = expiryFromClaims(resp.Token)
	}

	if err := m.store.UpdateToken(ctx, resp.Token, expiresAt); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			m.mu.Lock()
			if gen == m.gen {
				m.state = StateIdle
			}
			m.mu.Unlock()
			return
		}
		m.logger.Error("failed to store renewed token", "user_id", sess.UserID, "error", err)
		m.expire(gen, sess.UserID, "storage_unavailable")
		return
	}
	m.metrics.RecordTokenRenewal("success")
	m.logger.Info("token renewed", "user_id", sess.UserID, "expires_at", expiresAt)
	m.publish(ctx, events.NewTokenRenewedEvent(sess.UserID, expiresAt))

	sess.Token = resp.Token
	sess.TokenExpiresAt = expiresAt

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	expired := m.schedule(gen, sess, true)
	m.mu.Unlock()
	if expired {
		m.expire(gen, sess.UserID, "token_expired")
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen
}

// expire clears the session and sends the user to login, once per generation.
func (m *Manager) expire(gen uint64, userID, cause string) {
	m.mu.Lock()
	if gen != m.gen || m.state == StateExpired {
		m.mu.Unlock()
		return
	}
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.state = StateExpired
	m.refreshAt = time.Time{}
	ctx := m.ctx
	m.mu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("failed to clear expired session", "user_id", userID, "error", err)
	}
	m.metrics.RecordSessionCleared(cause)
	m.publish(ctx, events.NewSessionClearedEvent(userID, cause))

	if m.notifier != nil {
		m.notifier.Notify(ctx, notice.New(notice.ReasonSessionExpired))
	}
	if m.navigator != nil {
		m.navigator.NavigateToLogin(ctx, notice.ReasonSessionExpired)
	}
}

func (m *Manager) publish(ctx context.Context, e events.Event) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(ctx, e); err != nil {
		m.logger.Warn("failed to publish event", "event_type", e.EventType(), "error", err)
	}
}

// expiryFromClaims reads the exp claim without verifying the signature; the
// authority is the one that enforces it.
func expiryFromClaims(raw string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
