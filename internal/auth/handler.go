package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/restaurant-pos/internal"
	"github.com/frahmantamala/restaurant-pos/internal/session"
	"github.com/frahmantamala/restaurant-pos/internal/transport"
	"github.com/frahmantamala/restaurant-pos/pkg/logger"
)

type Handler struct {
	*transport.BaseHandler
	Service     ServiceAPI
	ownerAccess func(*session.Session) bool
}

func NewHandler(svc *Service) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     svc,
		ownerAccess: svc.OwnerAccess,
	}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var dto LoginDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteAppError(w, internal.NewValidationError("invalid request body", internal.ErrCodeValidationFailed))
		return
	}

	sess, err := h.Service.Login(r.Context(), dto)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, h.view(sess))
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Logout(r.Context()); err != nil {
		h.WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Session reports the stored session without running the access checks.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Service.Current(r.Context())
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, h.view(sess))
}

func (h *Handler) OpenShift(w http.ResponseWriter, r *http.Request) {
	var dto OpenShiftDTO
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
			h.WriteAppError(w, internal.NewValidationError("invalid request body", internal.ErrCodeValidationFailed))
			return
		}
	}

	sess, err := h.Service.OpenShift(r.Context(), dto)
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, h.view(sess))
}

func (h *Handler) CloseShift(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Service.CloseShift(r.Context())
	if err != nil {
		h.WriteAppError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, h.view(sess))
}

func (h *Handler) view(sess *session.Session) SessionView {
	owner := false
	if h.ownerAccess != nil {
		owner = h.ownerAccess(sess)
	}
	return ToView(sess, owner)
}
