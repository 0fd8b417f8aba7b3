package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeSessionCleared        = "session.cleared"
	EventTypeTokenRenewed          = "session.token_renewed"
	EventTypeAccessDenied          = "access.denied"
	EventTypeVerificationDegraded  = "shift.verification_degraded"
	EventTypeSessionResynchronized = "session.resynchronized"
)

// AllSessionEventTypes lists every event type emitted by session components.
var AllSessionEventTypes = []string{
	EventTypeSessionCleared,
	EventTypeTokenRenewed,
	EventTypeAccessDenied,
	EventTypeVerificationDegraded,
	EventTypeSessionResynchronized,
}

func newBase(eventType string, data map[string]interface{}) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// SessionClearedEvent is emitted whenever the session is destroyed. Cause
// names the path that destroyed it.
type SessionClearedEvent struct {
	BaseEvent
	UserID string `json:"user_id"`
	Cause  string `json:"cause"`
}

func NewSessionClearedEvent(userID, cause string) *SessionClearedEvent {
	return &SessionClearedEvent{
		BaseEvent: newBase(EventTypeSessionCleared, map[string]interface{}{
			"user_id": userID,
			"cause":   cause,
		}),
		UserID: userID,
		Cause:  cause,
	}
}

type TokenRenewedEvent struct {
	BaseEvent
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewTokenRenewedEvent(userID string, expiresAt time.Time) *TokenRenewedEvent {
	return &TokenRenewedEvent{
		BaseEvent: newBase(EventTypeTokenRenewed, map[string]interface{}{
			"user_id":    userID,
			"expires_at": expiresAt,
		}),
		UserID:    userID,
		ExpiresAt: expiresAt,
	}
}

type AccessDeniedEvent struct {
	BaseEvent
	UserID string `json:"user_id,omitempty"`
	Reason string `json:"reason"`
	Target string `json:"target,omitempty"`
}

func NewAccessDeniedEvent(userID, reason, target string) *AccessDeniedEvent {
	return &AccessDeniedEvent{
		BaseEvent: newBase(EventTypeAccessDenied, map[string]interface{}{
			"user_id": userID,
			"reason":  reason,
			"target":  target,
		}),
		UserID: userID,
		Reason: reason,
		Target: target,
	}
}

// VerificationDegradedEvent records that a shift could not be confirmed and
// access was granted anyway.
type VerificationDegradedEvent struct {
	BaseEvent
	UserID  string `json:"user_id"`
	ShiftID string `json:"shift_id"`
	Error   string `json:"error"`
}

func NewVerificationDegradedEvent(userID, shiftID string, cause error) *VerificationDegradedEvent {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &VerificationDegradedEvent{
		BaseEvent: newBase(EventTypeVerificationDegraded, map[string]interface{}{
			"user_id":  userID,
			"shift_id": shiftID,
			"error":    msg,
		}),
		UserID:  userID,
		ShiftID: shiftID,
		Error:   msg,
	}
}

type SessionResynchronizedEvent struct {
	BaseEvent
	Key    string `json:"key"`
	Origin string `json:"origin"`
}

func NewSessionResynchronizedEvent(key, origin string) *SessionResynchronizedEvent {
	return &SessionResynchronizedEvent{
		BaseEvent: newBase(EventTypeSessionResynchronized, map[string]interface{}{
			"key":    key,
			"origin": origin,
		}),
		Key:    key,
		Origin: origin,
	}
}
