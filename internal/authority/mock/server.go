// Package mock is an in-memory stand-in for the remote authority, used for
// local development and end-to-end tests.
package mock

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	authoritytypes "github.com/frahmantamala/restaurant-pos/internal/core/datamodel/authority"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

//go:embed openapi.yml
var openAPIDocument []byte

// UserSpec describes a user the mock authority accepts.
type UserSpec struct {
	ID          string   `mapstructure:"id"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	Name        string   `mapstructure:"name"`
	Role        string   `mapstructure:"role"`
	Permissions []string `mapstructure:"permissions"`
}

// DefaultUsers is one user per role, all with the password "password".
func DefaultUsers() []UserSpec {
	return []UserSpec{
		{ID: "u-owner", Username: "owner", Password: "password", Name: "مالك المطعم", Role: "owner", Permissions: []string{"reports.view", "full_access"}},
		{ID: "u-admin", Username: "admin", Password: "password", Name: "مدير الفرع", Role: "admin", Permissions: []string{"reports.view", "menu.edit"}},
		{ID: "u-cashier", Username: "cashier", Password: "password", Name: "أمين الصندوق", Role: "cashier", Permissions: []string{"pos.sell"}},
	}
}

type account struct {
	user         authoritytypes.User
	passwordHash []byte
}

type Server struct {
	mu       sync.Mutex
	accounts map[string]*account
	byID     map[string]*account
	shifts   map[string][]authoritytypes.ShiftRecord
	revoked  map[string]bool

	// faults
	shiftStatus int
	shiftBody   string

	tokens     *TokenIssuer
	bcryptCost int
	router     routers.Router
	logger     *slog.Logger
}

func NewServer(tokens *TokenIssuer, logger *slog.Logger) (*Server, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openAPIDocument)
	if err != nil {
		return nil, fmt.Errorf("failed to load authority OpenAPI document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid authority OpenAPI document: %w", err)
	}
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to build OpenAPI router: %w", err)
	}

	return &Server{
		accounts:   make(map[string]*account),
		byID:       make(map[string]*account),
		shifts:     make(map[string][]authoritytypes.ShiftRecord),
		revoked:    make(map[string]bool),
		tokens:     tokens,
		bcryptCost: bcrypt.MinCost,
		router:     router,
		logger:     logger,
	}, nil
}

// AddUser registers a user, hashing its password.
func (s *Server) AddUser(spec UserSpec) error {
	if spec.Username == "" || spec.Password == "" {
		return errors.New("username and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(spec.Password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}

	acc := &account{
		user: authoritytypes.User{
			ID:          spec.ID,
			Name:        spec.Name,
			Username:    spec.Username,
			Role:        spec.Role,
			Permissions: spec.Permissions,
		},
		passwordHash: hash,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[spec.Username] = acc
	s.byID[spec.ID] = acc
	return nil
}

// SetShifts replaces the shifts reported for userID.
func (s *Server) SetShifts(userID string, shifts ...authoritytypes.ShiftRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shifts[userID] = append([]authoritytypes.ShiftRecord(nil), shifts...)
}

// FailShiftLookups makes shift lookups answer with status and a raw body.
// A zero status restores normal behaviour.
func (s *Server) FailShiftLookups(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shiftStatus = status
	s.shiftBody = body
}

// Revoke makes every later call with token unauthorized.
func (s *Server) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[token] = true
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.validateRequest)

	r.Post("/api/auth/login", s.login)
	r.Group(func(pr chi.Router) {
		pr.Use(s.authenticate)
		pr.Post("/api/auth/refresh-token", s.refreshToken)
		pr.Get("/api/auth/profile", s.profile)
		pr.Get("/api/shifts/user/{userId}", s.shiftsByUser)
		pr.Post("/api/shifts/open", s.openShift)
		pr.Post("/api/shifts/{shiftId}/close", s.closeShift)
	})
	return r
}

func (s *Server) validateRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, pathParams, err := s.router.FindRoute(r)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "message": "not found"})
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: pathParams,
			Route:      route,
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			s.logger.Debug("mock authority rejected request", "path", r.URL.Path, "error", err)
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": err.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type claimsKey struct{}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "message": "missing bearer token"})
			return
		}

		s.mu.Lock()
		revoked := s.revoked[token]
		s.mu.Unlock()
		if revoked {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "message": "token revoked"})
			return
		}

		claims, err := s.tokens.Validate(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "message": err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func claimsFrom(r *http.Request) *Claims {
	claims, _ := r.Context().Value(claimsKey{}).(*Claims)
	return claims
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req authoritytypes.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": "invalid request body"})
		return
	}

	s.mu.Lock()
	acc, ok := s.accounts[req.Username]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(req.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "message": "invalid credentials"})
		return
	}

	token, ttl, err := s.tokens.Issue(acc.user.ID, acc.user.Role)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "message": "failed to issue token"})
		return
	}

	s.logger.Info("mock authority login", "user_id", acc.user.ID, "role", acc.user.Role)
	writeJSON(w, http.StatusOK, authoritytypes.LoginResponse{
		Success: true,
		Data: authoritytypes.LoginData{
			User:      acc.user,
			Token:     token,
			ExpiresIn: int64(ttl / time.Second),
		},
	})
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	token, ttl, err := s.tokens.Issue(claims.UserID, claims.Role)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "message": "failed to issue token"})
		return
	}
	writeJSON(w, http.StatusOK, authoritytypes.RenewResponse{Token: token, ExpiresIn: int64(ttl / time.Second)})
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	s.mu.Lock()
	acc, ok := s.byID[claims.UserID]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "message": "unknown user"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data": authoritytypes.Profile{
			ID:          acc.user.ID,
			Name:        acc.user.Name,
			Username:    acc.user.Username,
			Role:        acc.user.Role,
			Permissions: acc.user.Permissions,
		},
	})
}

func (s *Server) shiftsByUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	s.mu.Lock()
	status, body := s.shiftStatus, s.shiftBody
	shifts := append([]authoritytypes.ShiftRecord{}, s.shifts[userID]...)
	s.mu.Unlock()

	if status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": shifts})
}

func (s *Server) openShift(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	var req authoritytypes.OpenShiftRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "message": "invalid request body"})
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.shifts[claims.UserID] {
		if !existing.IsClosed {
			writeJSON(w, http.StatusConflict, map[string]interface{}{"success": false, "message": "a shift is already open"})
			return
		}
	}

	shift := authoritytypes.ShiftRecord{
		ShiftID:   uuid.NewString(),
		Status:    "ACTIVE",
		StartTime: s.tokens.Now().UTC(),
		Workers:   req.Workers,
	}
	s.shifts[claims.UserID] = append(s.shifts[claims.UserID], shift)

	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "data": shift})
}

func (s *Server) closeShift(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	shiftID := chi.URLParam(r, "shiftId")

	s.mu.Lock()
	defer s.mu.Unlock()
	shifts := s.shifts[claims.UserID]
	for i := range shifts {
		if shifts[i].ShiftID == shiftID {
			shifts[i].IsClosed = true
			shifts[i].Status = "closed"
			writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": shifts[i]})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "message": "unknown shift"})
}

// Usernames lists registered users in name order.
func (s *Server) Usernames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.accounts))
	for name := range s.accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
