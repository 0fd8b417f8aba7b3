// Package crosstab reacts to session changes made by other views sharing the
// same persisted medium.
package crosstab

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/restaurant-pos/internal/session"
	"github.com/frahmantamala/restaurant-pos/internal/storage"
)

var (
	ErrAlreadySubscribed = errors.New("crosstab: a subscriber is already registered")
	ErrNoSubscriber      = errors.New("crosstab: no subscriber registered")
)

// SessionChanged reports that another view wrote one session key.
type SessionChanged struct {
	Key     string
	Origin  string
	Removed bool
	At      time.Time
}

type Handler func(ctx context.Context, change SessionChanged)

// Feed is a view's stream of writes made by other views.
type Feed interface {
	Changes() (<-chan storage.Event, func())
}

type Sync struct {
	feed   Feed
	keys   map[string]bool
	logger *slog.Logger

	mu      sync.Mutex
	handler Handler
}

func New(feed Feed, logger *slog.Logger) *Sync {
	keys := make(map[string]bool, len(session.Keys))
	for _, k := range session.Keys {
		keys[k] = true
	}
	return &Sync{feed: feed, keys: keys, logger: logger}
}

// Subscribe registers the view's single handler.
func (s *Sync) Subscribe(h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler != nil {
		return ErrAlreadySubscribed
	}
	s.handler = h
	return nil
}

// Run delivers one SessionChanged per changed session key until ctx ends or
// the feed closes.
func (s *Sync) Run(ctx context.Context) error {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return ErrNoSubscriber
	}

	changes, stop := s.feed.Changes()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-changes:
			if !ok {
				return nil
			}
			if !s.keys[e.Key] {
				continue
			}
			s.logger.Debug("session changed in another view", "key", e.Key, "origin", e.Origin, "removed", e.Removed)
			h(ctx, SessionChanged{Key: e.Key, Origin: e.Origin, Removed: e.Removed, At: e.At})
		}
	}
}
