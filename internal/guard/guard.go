// Package guard decides whether the current session may open a protected view.
package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/frahmantamala/restaurant-pos/internal/core/events"
	"github.com/frahmantamala/restaurant-pos/internal/metrics"
	"github.com/frahmantamala/restaurant-pos/internal/notice"
	"github.com/frahmantamala/restaurant-pos/internal/session"
	"github.com/frahmantamala/restaurant-pos/internal/shift"
)

type Outcome int

const (
	Pending Outcome = iota
	Allow
	Deny
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "pending"
	}
}

// Decision is the result of one evaluation. It is never persisted.
type Decision struct {
	Outcome Outcome
	Reason  notice.Reason
}

func allow() Decision { return Decision{Outcome: Allow} }

func deny(r notice.Reason) Decision { return Decision{Outcome: Deny, Reason: r} }

// Requirement is declared per protected view.
type Requirement struct {
	// Roles admitted; empty admits any authenticated role.
	Roles []session.Role
	// RequireActiveShift makes cashiers prove an open shift.
	RequireActiveShift bool
	// Permissions of which at least one must be held; empty skips the check.
	Permissions []string
	// OwnerBypass admits owner-equivalent sessions whatever their role.
	OwnerBypass bool
}

func (r Requirement) admitsRole(role session.Role) bool {
	if len(r.Roles) == 0 {
		return true
	}
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

type ShiftChecker interface {
	Validate(ctx context.Context, sess *session.Session) shift.Verdict
}

type Guard struct {
	store     *session.Store
	shifts    ShiftChecker
	notifier  notice.Notifier
	navigator notice.Navigator
	events    events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Deps struct {
	Store     *session.Store
	Shifts    ShiftChecker
	Notifier  notice.Notifier
	Navigator notice.Navigator
	Events    events.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

func New(deps Deps) *Guard {
	return &Guard{
		store:     deps.Store,
		shifts:    deps.Shifts,
		notifier:  deps.Notifier,
		navigator: deps.Navigator,
		events:    deps.Events,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}
}

// Evaluate runs the checks in order: authentication, role, permission, shift.
// On DENY the user is notified and sent to login. The error is non-nil only
// when ctx ended first, in which case nothing was changed.
func (g *Guard) Evaluate(ctx context.Context, req Requirement) (Decision, error) {
	start := time.Now()
	decision, sess, err := g.decide(ctx, req)
	if err != nil {
		return Decision{Outcome: Pending}, err
	}

	if err := ctx.Err(); err != nil {
		return Decision{Outcome: Pending}, err
	}

	g.metrics.RecordDecision(decision.Outcome.String(), string(decision.Reason), time.Since(start).Seconds())
	if decision.Outcome == Deny {
		g.onDeny(ctx, sess, decision.Reason)
	}
	return decision, nil
}

func (g *Guard) decide(ctx context.Context, req Requirement) (Decision, *session.Session, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, nil, err
	}

	sess, err := g.store.Read(ctx)
	if err != nil {
		g.logger.Error("failed to read session, denying", "error", err)
		return deny(notice.ReasonUnauthenticated), nil, nil
	}
	if sess == nil {
		return deny(notice.ReasonUnauthenticated), nil, nil
	}

	if !req.admitsRole(sess.Role) && !(req.OwnerBypass && g.store.OwnerEquivalent(sess)) {
		return deny(notice.ReasonRoleMismatch), sess, nil
	}

	if len(req.Permissions) > 0 && !sess.HasAnyPermission(req.Permissions) {
		return deny(notice.ReasonInsufficientPermission), sess, nil
	}

	if req.RequireActiveShift && sess.IsCashier() {
		verdict := g.shifts.Validate(ctx, sess)
		if err := ctx.Err(); err != nil {
			return Decision{}, nil, err
		}

		switch {
		case verdict.Result == shift.Active:
			return allow(), sess, nil
		case verdict.Result == shift.Stale && !verdict.Unverifiable:
			if err := g.store.Clear(ctx); err != nil {
				g.logger.Error("failed to clear session with stale shift", "user_id", sess.UserID, "error", err)
			}
			g.metrics.RecordSessionCleared("shift_stale")
			g.publish(ctx, events.NewSessionClearedEvent(sess.UserID, "shift_stale"))
			return deny(notice.ReasonShiftExpired), sess, nil
		default:
			// unreachable authority or unusable answer: keep the user working
			shiftID := ""
			if sess.Shift != nil {
				shiftID = sess.Shift.ShiftID
			}
			g.logger.Warn("shift could not be verified, allowing access",
				"user_id", sess.UserID,
				"shift_id", shiftID,
				"unverifiable", verdict.Unverifiable,
				"error", verdict.Err)
			g.publish(ctx, events.NewVerificationDegradedEvent(sess.UserID, shiftID, verdict.Err))
			if verdict.Unverifiable {
				if n := notifierFrom(ctx, g.notifier); n != nil {
					n.Notify(ctx, notice.New(notice.ReasonShiftUnverified))
				}
			}
			return allow(), sess, nil
		}
	}

	return allow(), sess, nil
}

func (g *Guard) onDeny(ctx context.Context, sess *session.Session, reason notice.Reason) {
	userID := ""
	if sess != nil {
		userID = sess.UserID
	}
	g.logger.Info("access denied", "user_id", userID, "reason", reason, "target", targetFrom(ctx))
	g.publish(ctx, events.NewAccessDeniedEvent(userID, string(reason), targetFrom(ctx)))

	if n := notifierFrom(ctx, g.notifier); n != nil {
		n.Notify(ctx, notice.New(reason))
	}
	if nav := navigatorFrom(ctx, g.navigator); nav != nil {
		nav.NavigateToLogin(ctx, reason)
	}
}

func (g *Guard) publish(ctx context.Context, e events.Event) {
	if g.events == nil {
		return
	}
	if err := g.events.Publish(ctx, e); err != nil {
		g.logger.Warn("failed to publish event", "event_type", e.EventType(), "error", err)
	}
}
