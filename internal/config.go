package internal

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Authority     AuthorityConfig     `mapstructure:"authority"`
	Session       SessionConfig       `mapstructure:"session"`
	MockAuthority MockAuthorityConfig `mapstructure:"mock_authority"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	LoginPerMinute    int           `mapstructure:"login_per_minute"`
	// TrustedProxies may name the client through X-Forwarded-For. Empty means
	// the connection's peer address is always used.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

const (
	StorageDriverMemory   = "memory"
	StorageDriverSQLite   = "sqlite"
	StorageDriverPostgres = "postgres"
)

// StorageConfig selects the medium the session is persisted in.
type StorageConfig struct {
	Driver          string        `mapstructure:"driver"`
	Source          string        `mapstructure:"source"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	NotifyChannel   string        `mapstructure:"notify_channel"`
}

type AuthorityConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SessionConfig struct {
	RefreshBuffer    time.Duration `mapstructure:"refresh_buffer"`
	RenewTimeout     time.Duration `mapstructure:"renew_timeout"`
	VerifyProfile    bool          `mapstructure:"verify_profile"`
	OwnerPermissions []string      `mapstructure:"owner_permissions"`
}

type MockAuthorityConfig struct {
	Port      int              `mapstructure:"port"`
	JWTSecret string           `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration    `mapstructure:"token_ttl"`
	Users     []MockUserConfig `mapstructure:"users"`
}

type MockUserConfig struct {
	ID          string   `mapstructure:"id"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	Name        string   `mapstructure:"name"`
	Role        string   `mapstructure:"role"`
	Permissions []string `mapstructure:"permissions"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfigFromEnv builds the configuration from plain environment
// variables, for container deployments without a config file.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_PORT", 8080),
			BaseURL:           getEnv("HTTP_BASE_URL", "http://localhost:8080"),
			AllowedOrigins:    getEnv("HTTP_ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
			LoginPerMinute:    getEnvAsInt("HTTP_LOGIN_PER_MINUTE", 10),
			TrustedProxies:    getEnvAsList("HTTP_TRUSTED_PROXIES", nil),
		},
		Storage: StorageConfig{
			Driver:          getEnv("STORAGE_DRIVER", StorageDriverPostgres),
			Source:          getEnv("STORAGE_SOURCE", ""),
			MaxOpenConns:    getEnvAsInt("STORAGE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("STORAGE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("STORAGE_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("STORAGE_CONN_MAX_IDLE_TIME", 5*time.Minute),
			NotifyChannel:   getEnv("STORAGE_NOTIFY_CHANNEL", "pos_session_changes"),
		},
		Authority: AuthorityConfig{
			BaseURL: getEnv("AUTHORITY_BASE_URL", "http://localhost:8081"),
			Timeout: getEnvAsDuration("AUTHORITY_TIMEOUT", 10*time.Second),
		},
		Session: SessionConfig{
			RefreshBuffer:    getEnvAsDuration("SESSION_REFRESH_BUFFER", 5*time.Minute),
			RenewTimeout:     getEnvAsDuration("SESSION_RENEW_TIMEOUT", 15*time.Second),
			VerifyProfile:    getEnvAsBool("SESSION_VERIFY_PROFILE", true),
			OwnerPermissions: getEnvAsList("SESSION_OWNER_PERMISSIONS", []string{"owner", "full_access"}),
		},
		MockAuthority: MockAuthorityConfig{
			Port:      getEnvAsInt("MOCK_AUTHORITY_PORT", 8081),
			JWTSecret: getEnv("MOCK_AUTHORITY_JWT_SECRET", ""),
			TokenTTL:  getEnvAsDuration("MOCK_AUTHORITY_TOKEN_TTL", time.Hour),
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: getEnvAsBool("METRICS_ENABLED", true),
				Path:    getEnv("METRICS_PATH", "/metrics"),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvAsList(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("storage config: %v", err))
	}

	if err := c.Authority.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("authority config: %v", err))
	}

	if err := c.Session.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("session config: %v", err))
	}

	if err := c.Observability.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("observability config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.LoginPerMinute < 0 {
		return errors.New("login_per_minute cannot be negative")
	}
	for _, proxy := range c.TrustedProxies {
		if _, err := netip.ParsePrefix(proxy); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(proxy); err != nil {
			return fmt.Errorf("invalid trusted_proxies entry %q", proxy)
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *StorageConfig) Validate() error {
	switch c.Driver {
	case StorageDriverMemory:
		return nil
	case StorageDriverSQLite, StorageDriverPostgres:
		if c.Source == "" {
			return fmt.Errorf("source is required for driver %s", c.Driver)
		}
	default:
		return fmt.Errorf("unknown driver %q", c.Driver)
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *StorageConfig) GetDSN() string {
	return c.Source
}

func (c *AuthorityConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base_url %q", c.BaseURL)
	}
	return nil
}

func (c *SessionConfig) Validate() error {
	if c.RefreshBuffer < 0 {
		return errors.New("refresh_buffer cannot be negative")
	}
	if c.RenewTimeout < 0 {
		return errors.New("renew_timeout cannot be negative")
	}
	return nil
}

// Validate is only called by the mock-authority command.
func (c *MockAuthorityConfig) Validate() error {
	if len(c.JWTSecret) < 32 {
		return errors.New("jwt_secret must be at least 32 characters")
	}
	if c.TokenTTL < time.Minute {
		return errors.New("token_ttl must be at least 1m")
	}
	for _, u := range c.Users {
		if u.Username == "" || u.Password == "" {
			return errors.New("every user needs a username and a password")
		}
	}
	return nil
}

func (c *ObservabilityConfig) Validate() error {
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.New("metrics path must start with /")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}
