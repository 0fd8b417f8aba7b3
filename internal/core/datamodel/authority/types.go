package authority

import (
	"errors"
	"time"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r *LoginRequest) Validate() error {
	if r.Username == "" {
		return errors.New("username is required")
	}
	if r.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

type User struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

type LoginData struct {
	User      User   `json:"user"`
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn,omitempty"`
}

type LoginResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
	Data    LoginData `json:"data"`
}

// RenewResponse carries the new token and its lifetime in seconds.
type RenewResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn,omitempty"`
}

// ShiftRecord is one shift as reported by the authority.
type ShiftRecord struct {
	ShiftID   string    `json:"shift_id"`
	IsClosed  bool      `json:"is_closed"`
	Status    string    `json:"status"`
	StartTime time.Time `json:"start_time"`
	Workers   []string  `json:"workers,omitempty"`
}

type Profile struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

type OpenShiftRequest struct {
	Workers []string `json:"workers,omitempty"`
}
