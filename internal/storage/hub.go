package storage

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const subscriberBuffer = 64

// Hub is an in-process Notifier.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	logger      *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]*subscriber),
		logger:      logger,
	}
}

// Publish never blocks on a slow subscriber. Events it cannot take yet wait in
// a backlog that keeps only the latest event per key, so a subscriber that
// falls behind still sees the final state of every key.
func (h *Hub) Publish(_ context.Context, e Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, sub := range h.subscribers {
		if sub.push(e) && h.logger != nil {
			h.logger.Debug("storage event coalesced, subscriber behind",
				"subscriber_id", id,
				"key", e.Key)
		}
	}
	return nil
}

func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := uuid.NewString()
	sub := newSubscriber()
	h.subscribers[id] = sub
	go sub.pump()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subscribers[id]; ok {
				close(sub.done)
				delete(h.subscribers, id)
			}
		})
	}

	return sub.out, unsubscribe
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

type subscriber struct {
	out  chan Event
	wake chan struct{}
	done chan struct{}

	mu sync.Mutex
	// at most one event per key, in the order the keys first changed
	pending []Event
}

func newSubscriber() *subscriber {
	return &subscriber{
		out:  make(chan Event, subscriberBuffer),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// push queues e and reports whether it replaced an undelivered event for the
// same key.
func (s *subscriber) push(e Event) bool {
	s.mu.Lock()
	coalesced := false
	for i := range s.pending {
		if s.pending[i].Key == e.Key {
			s.pending[i] = e
			coalesced = true
			break
		}
	}
	if !coalesced {
		s.pending = append(s.pending, e)
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return coalesced
}

func (s *subscriber) next() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return Event{}, false
	}
	e := s.pending[0]
	s.pending = s.pending[1:]
	return e, true
}

// pump moves the backlog into out until the subscription ends.
func (s *subscriber) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.wake:
		case <-s.done:
			return
		}
		for {
			e, ok := s.next()
			if !ok {
				break
			}
			select {
			case s.out <- e:
			case <-s.done:
				return
			}
		}
	}
}
