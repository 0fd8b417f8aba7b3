package internal_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/frahmantamala/restaurant-pos/internal"
	"github.com/frahmantamala/restaurant-pos/internal/session"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestInternal(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Internal Suite")
}

func validConfig() *internal.Config {
	return &internal.Config{
		Server: internal.ServerConfig{
			Port:              8080,
			AllowedOrigins:    "*",
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			LoginPerMinute:    10,
		},
		Storage:   internal.StorageConfig{Driver: internal.StorageDriverMemory},
		Authority: internal.AuthorityConfig{BaseURL: "http://localhost:8081", Timeout: 10 * time.Second},
		Session:   internal.SessionConfig{RefreshBuffer: 5 * time.Minute, RenewTimeout: 15 * time.Second},
		Observability: internal.ObservabilityConfig{
			Metrics: internal.MetricsConfig{Enabled: true, Path: "/metrics"},
			Logging: internal.LoggingConfig{Level: "info", Format: "json"},
		},
	}
}

func setenv(key, value string) {
	Expect(os.Setenv(key, value)).To(Succeed())
	DeferCleanup(os.Unsetenv, key)
}

var _ = Describe("Config", func() {
	It("accepts a complete in-memory configuration", func() {
		Expect(validConfig().Validate()).To(Succeed())
	})

	DescribeTable("rejects invalid settings",
		func(mutate func(*internal.Config), message string) {
			cfg := validConfig()
			mutate(cfg)
			err := cfg.Validate()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring(message))
		},
		Entry("port out of range", func(c *internal.Config) { c.Server.Port = 70000 }, "invalid port"),
		Entry("negative login limit", func(c *internal.Config) { c.Server.LoginPerMinute = -1 }, "login_per_minute"),
		Entry("trusted proxy that is not an address", func(c *internal.Config) { c.Server.TrustedProxies = []string{"lb.internal"} }, "trusted_proxies"),
		Entry("read timeout below header timeout", func(c *internal.Config) { c.Server.ReadTimeout = time.Second }, "read_timeout"),
		Entry("unknown storage driver", func(c *internal.Config) { c.Storage.Driver = "redis" }, "unknown driver"),
		Entry("sqlite without a source", func(c *internal.Config) { c.Storage.Driver = internal.StorageDriverSQLite }, "source is required"),
		Entry("idle above open connections", func(c *internal.Config) {
			c.Storage = internal.StorageConfig{Driver: internal.StorageDriverPostgres, Source: "postgres://x", MaxOpenConns: 1, MaxIdleConns: 2}
		}, "max_idle_conns"),
		Entry("authority without a scheme", func(c *internal.Config) { c.Authority.BaseURL = "localhost:8081" }, "invalid base_url"),
		Entry("missing authority", func(c *internal.Config) { c.Authority.BaseURL = "" }, "base_url is required"),
		Entry("negative refresh buffer", func(c *internal.Config) { c.Session.RefreshBuffer = -time.Second }, "refresh_buffer"),
		Entry("relative metrics path", func(c *internal.Config) { c.Observability.Metrics.Path = "metrics" }, "metrics path"),
		Entry("unknown log level", func(c *internal.Config) { c.Observability.Logging.Level = "trace" }, "unknown log level"),
	)

	It("reports every failing section at once", func() {
		cfg := validConfig()
		cfg.Server.Port = 0
		cfg.Authority.BaseURL = ""

		err := cfg.Validate()
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("server config"))
		Expect(err.Error()).To(ContainSubstring("authority config"))
	})

	Describe("MockAuthorityConfig", func() {
		It("requires a long secret and a usable token lifetime", func() {
			cfg := internal.MockAuthorityConfig{JWTSecret: "short", TokenTTL: time.Hour}
			Expect(cfg.Validate()).NotTo(Succeed())

			cfg.JWTSecret = "0123456789abcdef0123456789abcdef"
			Expect(cfg.Validate()).To(Succeed())

			cfg.TokenTTL = time.Second
			Expect(cfg.Validate()).NotTo(Succeed())
		})

		It("requires credentials for every configured user", func() {
			cfg := internal.MockAuthorityConfig{
				JWTSecret: "0123456789abcdef0123456789abcdef",
				TokenTTL:  time.Hour,
				Users:     []internal.MockUserConfig{{Username: "cashier"}},
			}
			Expect(cfg.Validate()).NotTo(Succeed())
		})
	})

	Describe("LoadConfigFromEnv", func() {
		It("reads typed values and falls back on malformed ones", func() {
			setenv("HTTP_PORT", "9090")
			setenv("HTTP_LOGIN_PER_MINUTE", "many")
			setenv("STORAGE_DRIVER", internal.StorageDriverSQLite)
			setenv("STORAGE_SOURCE", "file:test.db")
			setenv("SESSION_REFRESH_BUFFER", "90s")
			setenv("SESSION_VERIFY_PROFILE", "false")
			setenv("SESSION_OWNER_PERMISSIONS", " owner , ,super ")
			setenv("HTTP_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.10")

			cfg := internal.LoadConfigFromEnv()

			Expect(cfg.Server.Port).To(Equal(9090))
			Expect(cfg.Server.LoginPerMinute).To(Equal(10))
			Expect(cfg.Storage.Driver).To(Equal(internal.StorageDriverSQLite))
			Expect(cfg.Session.RefreshBuffer).To(Equal(90 * time.Second))
			Expect(cfg.Session.VerifyProfile).To(BeFalse())
			Expect(cfg.Session.OwnerPermissions).To(Equal([]string{"owner", "super"}))
			Expect(cfg.Server.TrustedProxies).To(Equal([]string{"10.0.0.0/8", "192.168.1.10"}))
			Expect(cfg.Validate()).To(Succeed())
		})
	})
})

var _ = Describe("AppError", func() {
	It("serializes inside the error envelope without internal fields", func() {
		appErr := internal.NewExternalError("Authority unavailable", internal.ErrCodeAuthorityUnavailable, errors.New("dial tcp: refused"))

		status, body := appErr.ToHTTPResponse()
		Expect(status).To(Equal(http.StatusBadGateway))

		raw, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw)).To(MatchJSON(`{"error":{"type":"EXTERNAL_ERROR","code":"AUTHORITY_UNAVAILABLE","message":"Authority unavailable"}}`))
	})

	It("surfaces the field message of a validation error", func() {
		appErr := internal.NewValidationFieldError("username", "username is required", internal.ErrCodeValidationFailed)

		Expect(appErr.Error()).To(Equal("username is required"))
		Expect(appErr.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("is found through wrapping", func() {
		cause := errors.New("disk full")
		wrapped := errors.Join(errors.New("saving session"), internal.NewInternalError("Storage failed", cause))

		appErr, ok := internal.IsAppError(wrapped)
		Expect(ok).To(BeTrue())
		Expect(appErr.StatusCode).To(Equal(http.StatusInternalServerError))
		Expect(errors.Is(appErr, cause)).To(BeTrue())
	})

	It("does not match plain errors", func() {
		_, ok := internal.IsAppError(errors.New("plain"))
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Context helpers", func() {
	It("carries the admitted session and its user", func() {
		sess := &session.Session{UserID: "u-cashier"}
		ctx := internal.ContextWithSession(context.Background(), sess)

		got, ok := internal.SessionFromContext(ctx)
		Expect(ok).To(BeTrue())
		Expect(got).To(BeIdenticalTo(sess))
		Expect(internal.UserIDFromContext(ctx)).To(Equal("u-cashier"))
	})

	It("reports an empty context", func() {
		_, ok := internal.SessionFromContext(context.Background())
		Expect(ok).To(BeFalse())
		Expect(internal.UserIDFromContext(context.Background())).To(BeEmpty())
	})

	It("defaults a non-positive timeout", func() {
		ctx, cancel := internal.WithTimeout(context.Background(), 0)
		defer cancel()

		deadline, ok := ctx.Deadline()
		Expect(ok).To(BeTrue())
		Expect(time.Until(deadline)).To(BeNumerically("~", 5*time.Second, time.Second))
	})
})
