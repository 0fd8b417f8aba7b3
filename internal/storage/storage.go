// Package storage is the persisted key-value medium shared by view instances.
//
// Writes made through a View are announced to every other View opened on the
// same medium. A View never receives notifications for its own writes.
package storage

import (
	"context"
	"errors"
	"time"
)

// KeyValue is the contract the session store persists through.
type KeyValue interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// SetMany replaces all given keys in one atomic write.
	SetMany(ctx context.Context, entries map[string]string) error
	// RemoveMany deletes the given keys in one atomic write. Missing keys are ignored.
	RemoveMany(ctx context.Context, keys ...string) error
}

// Backend is a KeyValue that does not emit change notifications by itself.
type Backend interface {
	KeyValue
}

// Event announces that a key was written or removed by the view Origin.
type Event struct {
	Key     string    `json:"key"`
	Origin  string    `json:"origin"`
	Removed bool      `json:"removed,omitempty"`
	At      time.Time `json:"at"`
}

// Notifier fans storage events out to subscribers.
type Notifier interface {
	Publish(ctx context.Context, event Event) error
	Subscribe() (<-chan Event, func())
}

var ErrEmptyKey = errors.New("storage: empty key")
