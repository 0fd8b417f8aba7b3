package rest

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/restaurant-pos/internal"
	"github.com/frahmantamala/restaurant-pos/internal/auth"
	"github.com/frahmantamala/restaurant-pos/internal/guard"
	"github.com/frahmantamala/restaurant-pos/internal/notice"
	"github.com/frahmantamala/restaurant-pos/internal/session"
	"github.com/frahmantamala/restaurant-pos/internal/transport"
	"github.com/frahmantamala/restaurant-pos/pkg/logger"
)

// View is a protected page and the requirement guarding it.
type View struct {
	Name        string
	Path        string
	Requirement guard.Requirement
}

// ReportsPermission gates the reporting dashboard.
const ReportsPermission = "reports.view"

// Views lists the dashboards served by the front-end.
func Views() []View {
	return []View{
		{
			Name: "cashier",
			Path: "/cashier",
			Requirement: guard.Requirement{
				Roles:              []session.Role{session.RoleCashier},
				RequireActiveShift: true,
				OwnerBypass:        true,
			},
		},
		{
			Name: "admin",
			Path: "/admin",
			Requirement: guard.Requirement{
				Roles:       []session.Role{session.RoleAdmin},
				OwnerBypass: true,
			},
		},
		{
			Name: "reports",
			Path: "/admin/reports",
			Requirement: guard.Requirement{
				Roles:       []session.Role{session.RoleAdmin, session.RoleOwner},
				Permissions: []string{ReportsPermission},
				OwnerBypass: true,
			},
		},
		{
			Name: "owner",
			Path: "/owner",
			Requirement: guard.Requirement{
				Roles:       []session.Role{session.RoleOwner},
				OwnerBypass: true,
			},
		},
	}
}

// NoticeSource exposes the notices raised by the guard and token manager.
type NoticeSource interface {
	Latest() (notice.Notice, bool)
	Notices() []notice.Notice
}

type ViewHandler struct {
	*transport.BaseHandler
	notices     NoticeSource
	ownerAccess func(*session.Session) bool
}

func NewViewHandler(notices NoticeSource, ownerAccess func(*session.Session) bool, lg *slog.Logger) *ViewHandler {
	return &ViewHandler{
		BaseHandler: transport.NewBaseHandler(lg),
		notices:     notices,
		ownerAccess: ownerAccess,
	}
}

type pageResponse struct {
	View   string            `json:"view"`
	User   *auth.SessionView `json:"user,omitempty"`
	Notice *notice.Notice    `json:"notice,omitempty"`
}

// Login renders the unauthenticated entry point with the notice for the
// reason it was reached.
func (h *ViewHandler) Login(w http.ResponseWriter, r *http.Request) {
	resp := pageResponse{View: "login"}
	if reason := notice.Reason(r.URL.Query().Get("reason")); reason != notice.ReasonNone {
		n := notice.New(reason)
		if latest, ok := h.notices.Latest(); ok && latest.Reason == reason {
			n = latest
		}
		resp.Notice = &n
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

// Page renders a dashboard admitted by the access middleware.
func (h *ViewHandler) Page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := internal.SessionFromContext(r.Context())
		if !ok {
			h.WriteAppError(w, internal.ErrUnauthenticated)
			return
		}
		logger.From(r.Context()).Debug("page served", "view", name, "user_id", internal.UserIDFromContext(r.Context()))
		view := auth.ToView(sess, h.ownerAccess(sess))
		h.WriteJSON(w, http.StatusOK, pageResponse{View: name, User: &view})
	}
}

// Notices lists recent user-facing notices, newest last.
func (h *ViewHandler) Notices(w http.ResponseWriter, r *http.Request) {
	notices := h.notices.Notices()
	if notices == nil {
		notices = []notice.Notice{}
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"notices": notices})
}
