package middleware_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/frahmantamala/restaurant-pos/internal"
	"github.com/frahmantamala/restaurant-pos/internal/guard"
	"github.com/frahmantamala/restaurant-pos/internal/notice"
	"github.com/frahmantamala/restaurant-pos/internal/session"
	"github.com/frahmantamala/restaurant-pos/internal/transport/middleware"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestMiddleware(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Middleware Suite")
}

type stubGuard struct {
	decision guard.Decision
	err      error
}

func (s *stubGuard) Evaluate(context.Context, guard.Requirement) (guard.Decision, error) {
	return s.decision, s.err
}

type stubStore struct {
	sess *session.Session
	err  error
}

func (s *stubStore) Read(context.Context) (*session.Session, error) { return s.sess, s.err }

var _ = Describe("RequireAccess", func() {
	var (
		logger  *slog.Logger
		g       *stubGuard
		store   *stubStore
		reached *session.Session
		handler http.Handler
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		g = &stubGuard{}
		store = &stubStore{}
		reached = nil

		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reached, _ = internal.SessionFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		})
		handler = middleware.RequireAccess(g, store, guard.Requirement{}, logger)(next)
	})

	serve := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	It("should pass the admitted session downstream", func() {
		g.decision = guard.Decision{Outcome: guard.Allow}
		store.sess = &session.Session{UserID: "u1", Role: session.RoleAdmin, Token: "t"}

		rec := serve("/admin")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(reached).NotTo(BeNil())
		Expect(reached.UserID).To(Equal("u1"))
	})

	It("should treat a session cleared after the decision as signed out", func() {
		g.decision = guard.Decision{Outcome: guard.Allow}

		rec := serve("/admin")
		Expect(rec.Code).To(Equal(http.StatusSeeOther))
		Expect(rec.Header().Get("Location")).To(Equal("/login?reason=unauthenticated"))
		Expect(reached).To(BeNil())
	})

	It("should redirect denied pages", func() {
		g.decision = guard.Decision{Outcome: guard.Deny, Reason: notice.ReasonInsufficientPermission}

		rec := serve("/admin/reports")
		Expect(rec.Code).To(Equal(http.StatusSeeOther))
		Expect(rec.Header().Get("Location")).To(Equal("/login?reason=insufficient-permission"))
	})

	It("should answer denied API calls with JSON", func() {
		g.decision = guard.Decision{Outcome: guard.Deny, Reason: notice.ReasonShiftUnverified}

		rec := serve("/api/v1/shifts/close")
		Expect(rec.Code).To(Equal(http.StatusForbidden))
		Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))
		Expect(rec.Body.String()).To(ContainSubstring("SHIFT_UNVERIFIED"))
	})

	It("should write nothing when the evaluation was abandoned", func() {
		g.err = context.Canceled

		rec := serve("/admin")
		Expect(rec.Body.Len()).To(BeZero())
		Expect(reached).To(BeNil())
	})
})

var _ = Describe("DenyError", func() {
	DescribeTable("should map every reason to an API error",
		func(reason notice.Reason, status int, code internal.ErrorCode) {
			appErr := middleware.DenyError(reason)
			Expect(appErr.StatusCode).To(Equal(status))
			Expect(appErr.Code).To(Equal(code))
			Expect(appErr.Details).To(HaveKeyWithValue("notice", notice.Message(reason)))
		},
		Entry("unauthenticated", notice.ReasonUnauthenticated, http.StatusUnauthorized, internal.ErrCodeUnauthenticated),
		Entry("role mismatch", notice.ReasonRoleMismatch, http.StatusForbidden, internal.ErrCodeRoleMismatch),
		Entry("permission", notice.ReasonInsufficientPermission, http.StatusForbidden, internal.ErrCodeInsufficientPermission),
		Entry("shift expired", notice.ReasonShiftExpired, http.StatusUnauthorized, internal.ErrCodeShiftExpired),
		Entry("shift unverified", notice.ReasonShiftUnverified, http.StatusForbidden, internal.ErrCodeShiftUnverified),
		Entry("session expired", notice.ReasonSessionExpired, http.StatusUnauthorized, internal.ErrCodeTokenExpired),
	)

	It("should not mutate the shared error values", func() {
		middleware.DenyError(notice.ReasonRoleMismatch)
		Expect(internal.ErrRoleMismatch.Details).To(BeNil())
	})
})

var _ = Describe("LoginLimiter", func() {
	It("should throttle a client after its burst", func() {
		limiter := middleware.NewLoginLimiter(2)
		handler := limiter.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		codes := make([]int, 0, 3)
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
			req.RemoteAddr = "10.0.0.1:5000"
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			codes = append(codes, rec.Code)
		}
		Expect(codes).To(Equal([]int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}))

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.RemoteAddr = "10.0.0.2:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	attempt := func(handler http.Handler, remoteAddr string, headers map[string]string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.RemoteAddr = remoteAddr
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	It("should ignore forwarding headers from a client that is not a trusted proxy", func() {
		handler := middleware.NewLoginLimiter(2).Handler(ok)

		codes := make([]int, 0, 4)
		for i, spoofed := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4"} {
			headers := map[string]string{"X-Forwarded-For": spoofed}
			if i%2 == 1 {
				headers = map[string]string{"X-Real-IP": spoofed}
			}
			codes = append(codes, attempt(handler, "203.0.113.7:40000", headers))
		}
		Expect(codes).To(Equal([]int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}))
	})

	It("should key on the forwarded client behind a trusted proxy", func() {
		trusted, err := middleware.ParseTrustedProxies([]string{"10.0.0.0/8"})
		Expect(err).NotTo(HaveOccurred())
		handler := middleware.NewLoginLimiter(1, middleware.WithTrustedProxies(trusted...)).Handler(ok)

		Expect(attempt(handler, "10.1.2.3:5000", map[string]string{"X-Forwarded-For": "198.51.100.1"})).To(Equal(http.StatusOK))
		Expect(attempt(handler, "10.1.2.3:5000", map[string]string{"X-Forwarded-For": "198.51.100.1"})).To(Equal(http.StatusTooManyRequests))
		Expect(attempt(handler, "10.1.2.3:5000", map[string]string{"X-Forwarded-For": "198.51.100.2"})).To(Equal(http.StatusOK))
	})

	It("should not let a client prepend addresses to the chain it sends through a trusted proxy", func() {
		trusted, err := middleware.ParseTrustedProxies([]string{"10.0.0.5"})
		Expect(err).NotTo(HaveOccurred())
		handler := middleware.NewLoginLimiter(1, middleware.WithTrustedProxies(trusted...)).Handler(ok)

		Expect(attempt(handler, "10.0.0.5:5000", map[string]string{"X-Forwarded-For": "1.1.1.1, 198.51.100.9"})).To(Equal(http.StatusOK))
		Expect(attempt(handler, "10.0.0.5:5000", map[string]string{"X-Forwarded-For": "2.2.2.2, 198.51.100.9"})).To(Equal(http.StatusTooManyRequests))
	})

	It("should reject trusted proxies that are not addresses", func() {
		_, err := middleware.ParseTrustedProxies([]string{"lb.internal"})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("RecoveryMiddleware", func() {
	It("should turn a panic into an internal error envelope", func() {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		handler := middleware.RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic(errors.New("boom"))
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		Expect(rec.Body.String()).To(ContainSubstring("INTERNAL_ERROR"))
		Expect(rec.Body.String()).NotTo(ContainSubstring("boom"))
	})
})

var _ = Describe("CORS", func() {
	It("should answer preflight requests for allowed origins", func() {
		handler := middleware.CORS("https://pos.example.com")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodOptions, "/api/v1/session", nil)
		req.Header.Set("Origin", "https://pos.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("https://pos.example.com"))
	})
})

var _ = Describe("LoggingMiddleware", func() {
	var (
		buf     *bytes.Buffer
		logger  *slog.Logger
		seen    string
		handler http.Handler
	)

	BeforeEach(func() {
		buf = &bytes.Buffer{}
		logger = slog.New(slog.NewJSONHandler(buf, nil))
		seen = ""
	})

	It("should redact credentials in API bodies and keep the body readable", func() {
		handler = middleware.LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, _ := io.ReadAll(r.Body)
			seen = string(raw)
			w.WriteHeader(http.StatusOK)
		}))

		body := `{"username":"cashier","password":"hunter2"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		Expect(seen).To(Equal(body))
		Expect(buf.String()).To(ContainSubstring("cashier"))
		Expect(buf.String()).To(ContainSubstring("[REDACTED]"))
		Expect(buf.String()).NotTo(ContainSubstring("hunter2"))
	})

	It("should record the deny reason of a login redirect", func() {
		handler = middleware.LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, middleware.LoginURL(notice.ReasonShiftExpired), http.StatusSeeOther)
		}))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/cashier", nil))

		Expect(buf.String()).To(ContainSubstring(`"deny_reason":"shift-expired"`))
		Expect(buf.String()).To(ContainSubstring(`"status":303`))
	})

	It("should record the code of an API error", func() {
		handler = middleware.LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			status, body := internal.ErrRoleMismatch.ToHTTPResponse()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(body)
		}))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/shifts/open", nil))

		Expect(buf.String()).To(ContainSubstring(`"error_code":"ROLE_MISMATCH"`))
		Expect(buf.String()).To(ContainSubstring(`"level":"WARN"`))
	})
})

var _ = Describe("RequestID", func() {
	It("should echo a client supplied id", func() {
		var fromCtx string
		handler := middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			fromCtx = middleware.RequestIDFrom(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(middleware.RequestIDHeader, "req-42")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		Expect(fromCtx).To(Equal("req-42"))
		Expect(rec.Header().Get(middleware.RequestIDHeader)).To(Equal("req-42"))
	})

	It("should generate an id when none is supplied", func() {
		rec := httptest.NewRecorder()
		middleware.RequestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
			ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		Expect(rec.Header().Get(middleware.RequestIDHeader)).NotTo(BeEmpty())
	})
})
