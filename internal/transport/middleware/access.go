package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/frahmantamala/restaurant-pos/internal"
	"github.com/frahmantamala/restaurant-pos/internal/guard"
	"github.com/frahmantamala/restaurant-pos/internal/notice"
	"github.com/frahmantamala/restaurant-pos/internal/session"
	"github.com/frahmantamala/restaurant-pos/pkg/logger"
)

// LoginPath is where denied page requests are redirected.
const LoginPath = "/login"

type Evaluator interface {
	Evaluate(ctx context.Context, req guard.Requirement) (guard.Decision, error)
}

type SessionReader interface {
	Read(ctx context.Context) (*session.Session, error)
}

// RequireAccess admits a request only when the guard allows req. Denied page
// requests are redirected to the login entry point with the reason in the
// query; denied API requests get the matching AppError.
func RequireAccess(g Evaluator, store SessionReader, req guard.Requirement, lg *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nav := &requestNavigator{}
			ctx := guard.WithNavigator(r.Context(), nav)
			ctx = guard.WithTarget(ctx, r.URL.Path)

			decision, err := g.Evaluate(ctx, req)
			if err != nil {
				// client went away before the decision resolved
				lg.Debug("access evaluation abandoned", "path", r.URL.Path, "error", err)
				return
			}

			if decision.Outcome == guard.Allow {
				sess, err := store.Read(r.Context())
				if err != nil || sess == nil {
					// cleared by another writer between the decision and now
					denyRequest(w, r, notice.ReasonUnauthenticated)
					return
				}
				ctx := internal.ContextWithSession(r.Context(), sess)
				ctx = logger.With(ctx, "user_id", sess.UserID, "role", string(sess.Role))
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			reason := decision.Reason
			if navigated, ok := nav.reason(); ok {
				reason = navigated
			}
			lg.Warn("access denied",
				"path", r.URL.Path,
				"reason", string(reason),
				"required_roles", req.Roles,
				"required_permissions", req.Permissions)
			denyRequest(w, r, reason)
		})
	}
}

// DenyError maps a denial reason to the API error reported for it.
func DenyError(reason notice.Reason) *internal.AppError {
	var base *internal.AppError
	switch reason {
	case notice.ReasonRoleMismatch:
		base = internal.ErrRoleMismatch
	case notice.ReasonInsufficientPermission:
		base = internal.ErrInsufficientPermission
	case notice.ReasonShiftExpired:
		base = internal.ErrShiftExpired
	case notice.ReasonShiftUnverified:
		base = internal.ErrShiftUnverified
	case notice.ReasonSessionExpired:
		base = internal.ErrTokenExpired
	default:
		base = internal.ErrUnauthenticated
	}

	appErr := *base
	return appErr.WithDetails(map[string]string{
		"reason": string(reason),
		"notice": notice.Message(reason),
	})
}

// LoginURL builds the login location carrying reason.
func LoginURL(reason notice.Reason) string {
	if reason == notice.ReasonNone {
		return LoginPath
	}
	return LoginPath + "?" + url.Values{"reason": {string(reason)}}.Encode()
}

func denyRequest(w http.ResponseWriter, r *http.Request, reason notice.Reason) {
	if isAPIRequest(r) {
		status, body := DenyError(reason).ToHTTPResponse()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
		return
	}
	http.Redirect(w, r, LoginURL(reason), http.StatusSeeOther)
}

func isAPIRequest(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/")
}

// requestNavigator captures the guard's navigation for a single request.
type requestNavigator struct {
	mu        sync.Mutex
	navigated bool
	last      notice.Reason
}

func (n *requestNavigator) NavigateToLogin(_ context.Context, reason notice.Reason) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.navigated = true
	n.last = reason
}

func (n *requestNavigator) reason() (notice.Reason, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last, n.navigated
}
