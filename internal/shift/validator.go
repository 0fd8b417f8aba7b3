// Package shift confirms with the remote authority that a cashier's shift is
// still open.
package shift

import (
	"context"
	"errors"
	"log/slog"

	"github.com/frahmantamala/restaurant-pos/internal/authority"
	authoritytypes "github.com/frahmantamala/restaurant-pos/internal/core/datamodel/authority"
	"github.com/frahmantamala/restaurant-pos/internal/metrics"
	"github.com/frahmantamala/restaurant-pos/internal/session"
	"golang.org/x/sync/singleflight"
)

type Result int

const (
	// Unknown means the authority could not be asked. Callers must neither
	// clear the session nor deny.
	Unknown Result = iota
	Active
	// Stale means no open shift backs the session.
	Stale
)

func (r Result) String() string {
	switch r {
	case Active:
		return "active"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Verdict is the outcome of one validation.
type Verdict struct {
	Result Result
	// Unverifiable is set with Stale when the authority answered without a
	// usable shift list. Callers neither clear the session nor deny.
	Unverifiable bool
	// Shift is the matching open record when Result is Active.
	Shift *authoritytypes.ShiftRecord
	// Err is the lookup failure behind Unknown or Unverifiable.
	Err error
}

// Lookup lists the shifts of a user.
type Lookup interface {
	ShiftsByUser(ctx context.Context, token, userID string) ([]authoritytypes.ShiftRecord, error)
}

type Validator struct {
	lookup  Lookup
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewValidator(lookup Lookup, m *metrics.Metrics, logger *slog.Logger) *Validator {
	return &Validator{lookup: lookup, metrics: m, logger: logger}
}

// Validate reports whether sess is backed by an open shift.
func (v *Validator) Validate(ctx context.Context, sess *session.Session) Verdict {
	verdict := v.validate(ctx, sess)
	v.metrics.RecordShiftVerification(verdictLabel(verdict))
	return verdict
}

func (v *Validator) validate(ctx context.Context, sess *session.Session) Verdict {
	if sess == nil || sess.Shift == nil {
		return Verdict{Result: Stale}
	}
	if sess.Token == "" {
		// no call is made without a credential
		return Verdict{Result: Stale}
	}

	records, err := v.shifts(ctx, sess)
	switch {
	case errors.Is(err, authority.ErrMalformedResponse):
		v.logger.Warn("shift lookup returned no usable list",
			"user_id", sess.UserID,
			"shift_id", sess.Shift.ShiftID,
			"error", err)
		return Verdict{Result: Stale, Unverifiable: true, Err: err}
	case err != nil:
		v.logger.Warn("shift verification degraded, allowing",
			"user_id", sess.UserID,
			"shift_id", sess.Shift.ShiftID,
			"error", err)
		return Verdict{Result: Unknown, Err: err}
	}

	match := Select(records, sess.Shift.ShiftID)
	if match == nil {
		v.logger.Info("no open shift for session",
			"user_id", sess.UserID,
			"shift_id", sess.Shift.ShiftID,
			"records", len(records))
		return Verdict{Result: Stale}
	}
	return Verdict{Result: Active, Shift: match}
}

// shifts coalesces concurrent lookups for the same user and token.
func (v *Validator) shifts(ctx context.Context, sess *session.Session) ([]authoritytypes.ShiftRecord, error) {
	key := sess.UserID + "\x00" + sess.Token
	ch := v.group.DoChan(key, func() (interface{}, error) {
		return v.lookup.ShiftsByUser(context.WithoutCancel(ctx), sess.Token, sess.UserID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]authoritytypes.ShiftRecord), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsOpen reports whether a record authorizes cashier access.
func IsOpen(r authoritytypes.ShiftRecord) bool {
	return !r.IsClosed && NormalizeStatus(r.Status) == StatusOpen
}

// Select picks the open record backing the session: the one with the
// session's shift id if any, otherwise the most recently started, earlier
// entries winning ties.
func Select(records []authoritytypes.ShiftRecord, shiftID string) *authoritytypes.ShiftRecord {
	var best *authoritytypes.ShiftRecord
	for i := range records {
		r := &records[i]
		if !IsOpen(*r) {
			continue
		}
		if shiftID != "" && r.ShiftID == shiftID {
			return r
		}
		if best == nil || r.StartTime.After(best.StartTime) {
			best = r
		}
	}
	return best
}

func verdictLabel(v Verdict) string {
	if v.Unverifiable {
		return "unverifiable"
	}
	return v.Result.String()
}
