// Package authority talks to the remote API that owns identities, tokens and
// shifts.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	authoritytypes "github.com/frahmantamala/restaurant-pos/internal/core/datamodel/authority"
)

var (
	ErrUnauthorized       = errors.New("authority: unauthorized")
	// ErrMalformedResponse means the authority decoded fine and reported
	// success, but the payload lacks what the call needs.
	ErrMalformedResponse  = errors.New("authority: malformed response")
	// ErrUnreadableResponse means the body could not be read or decoded at
	// all, as with a cut connection or a proxy error page. It is a transport
	// failure, not a statement by the authority.
	ErrUnreadableResponse = errors.New("authority: unreadable response")
	ErrUnsuccessful       = errors.New("authority: request reported failure")
	ErrMissingToken       = errors.New("authority: bearer token is required")
	ErrInvalidCredentials = errors.New("authority: invalid credentials")
)

// StatusError is returned for any non-success HTTP status other than 401.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("authority: %s %s returned status %d", e.Method, e.Path, e.StatusCode)
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Login exchanges credentials for a user record and a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (*authoritytypes.LoginData, error) {
	req := &authoritytypes.LoginRequest{Username: username, Password: password}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("authority: %w", err)
	}

	var resp authoritytypes.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", "", req, &resp); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !resp.Success {
		return nil, ErrInvalidCredentials
	}
	if resp.Data.Token == "" || resp.Data.User.ID == "" {
		return nil, ErrMalformedResponse
	}

	c.logger.Info("authority login succeeded", "user_id", resp.Data.User.ID, "role", resp.Data.User.Role)
	return &resp.Data, nil
}

// RenewToken trades a still valid token for a fresh one.
func (c *Client) RenewToken(ctx context.Context, token string) (*authoritytypes.RenewResponse, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	var resp authoritytypes.RenewResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/refresh-token", token, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, ErrMalformedResponse
	}
	return &resp, nil
}

// ShiftsByUser lists the shifts of userID. A response flagged successful but
// without a usable list yields ErrMalformedResponse; one flagged unsuccessful
// yields ErrUnsuccessful. A body that is not a readable envelope yields
// ErrUnreadableResponse.
func (c *Client) ShiftsByUser(ctx context.Context, token, userID string) ([]authoritytypes.ShiftRecord, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	path := "/api/shifts/user/" + url.PathEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, token, nil, &envelope); err != nil {
		return nil, err
	}
	if !envelope.Success {
		return nil, ErrUnsuccessful
	}

	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || data[0] != '[' {
		return nil, ErrMalformedResponse
	}
	var records []authoritytypes.ShiftRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return records, nil
}

// Profile returns the profile bound to token.
func (c *Client) Profile(ctx context.Context, token string) (*authoritytypes.Profile, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	var envelope struct {
		Data *authoritytypes.Profile `json:"data"`
	}
	raw := json.RawMessage{}
	if err := c.do(ctx, http.MethodGet, "/api/auth/profile", token, nil, &raw); err != nil {
		return nil, err
	}
	// both a bare profile and an enveloped one are accepted
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Data != nil {
		return envelope.Data, nil
	}
	var profile authoritytypes.Profile
	if err := json.Unmarshal(raw, &profile); err != nil || profile.ID == "" {
		return nil, ErrMalformedResponse
	}
	return &profile, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("authority: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("authority: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("authority: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("authority call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrUnreadableResponse, method, path, err)
	}
	return nil
}

// OpenShift opens a shift for the token's user.
func (c *Client) OpenShift(ctx context.Context, token string, workers []string) (*authoritytypes.ShiftRecord, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	var envelope struct {
		Success bool                        `json:"success"`
		Data    *authoritytypes.ShiftRecord `json:"data"`
	}
	req := &authoritytypes.OpenShiftRequest{Workers: workers}
	if err := c.do(ctx, http.MethodPost, "/api/shifts/open", token, req, &envelope); err != nil {
		return nil, err
	}
	if !envelope.Success {
		return nil, ErrUnsuccessful
	}
	if envelope.Data == nil || envelope.Data.ShiftID == "" {
		return nil, ErrMalformedResponse
	}
	return envelope.Data, nil
}

func (c *Client) CloseShift(ctx context.Context, token, shiftID string) error {
	if token == "" {
		return ErrMissingToken
	}

	var envelope struct {
		Success bool `json:"success"`
	}
	path := "/api/shifts/" + url.PathEscape(shiftID) + "/close"
	if err := c.do(ctx, http.MethodPost, path, token, nil, &envelope); err != nil {
		return err
	}
	if !envelope.Success {
		return ErrUnsuccessful
	}
	return nil
}
