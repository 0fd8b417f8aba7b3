package auth

import (
	"strings"

	"github.com/frahmantamala/restaurant-pos/internal"
)

// LoginDTO is the transport shape used by the HTTP handler to accept login requests.
type LoginDTO struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate checks required fields and returns a validation AppError on failure.
func (d LoginDTO) Validate() error {
	if strings.TrimSpace(d.Username) == "" {
		return internal.NewValidationFieldError("username", "username is required", internal.ErrCodeValidationFailed)
	}
	if d.Password == "" {
		return internal.NewValidationFieldError("password", "password is required", internal.ErrCodeValidationFailed)
	}
	return nil
}

// OpenShiftDTO lists the workers joining the cashier on the new shift.
type OpenShiftDTO struct {
	Workers []string `json:"workers"`
}

func (d OpenShiftDTO) Validate() error {
	for _, w := range d.Workers {
		if strings.TrimSpace(w) == "" {
			return internal.NewValidationFieldError("workers", "worker ids cannot be blank", internal.ErrCodeValidationFailed)
		}
	}
	return nil
}
