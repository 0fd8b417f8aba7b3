package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// View is one application window's handle on the shared medium.
type View struct {
	id       string
	backend  Backend
	notifier Notifier
	logger   *slog.Logger
}

func NewView(backend Backend, notifier Notifier, logger *slog.Logger) *View {
	return &View{
		id:       uuid.NewString(),
		backend:  backend,
		notifier: notifier,
		logger:   logger,
	}
}

// ID identifies this view as the origin of its writes.
func (v *View) ID() string { return v.id }

func (v *View) Get(ctx context.Context, key string) (string, bool, error) {
	return v.backend.Get(ctx, key)
}

func (v *View) SetMany(ctx context.Context, entries map[string]string) error {
	changed := make([]string, 0, len(entries))
	for k, val := range entries {
		old, found, err := v.backend.Get(ctx, k)
		if err != nil {
			return fmt.Errorf("storage: read %q before write: %w", k, err)
		}
		if !found || old != val {
			changed = append(changed, k)
		}
	}

	if err := v.backend.SetMany(ctx, entries); err != nil {
		return err
	}

	v.announce(ctx, changed, false)
	return nil
}

func (v *View) RemoveMany(ctx context.Context, keys ...string) error {
	present := make([]string, 0, len(keys))
	for _, k := range keys {
		_, found, err := v.backend.Get(ctx, k)
		if err != nil {
			return fmt.Errorf("storage: read %q before remove: %w", k, err)
		}
		if found {
			present = append(present, k)
		}
	}

	if err := v.backend.RemoveMany(ctx, keys...); err != nil {
		return err
	}

	v.announce(ctx, present, true)
	return nil
}

// Changes delivers writes made by other views. The returned func stops the
// feed and closes the channel.
func (v *View) Changes() (<-chan Event, func()) {
	raw, unsubscribe := v.notifier.Subscribe()
	out := make(chan Event, subscriberBuffer)
	done := make(chan struct{})

	go func() {
		defer close(out)
		for {
			select {
			case e, ok := <-raw:
				if !ok {
					return
				}
				if e.Origin == v.id {
					continue
				}
				select {
				case out <- e:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			unsubscribe()
		})
	}
	return out, stop
}

func (v *View) announce(ctx context.Context, keys []string, removed bool) {
	sort.Strings(keys)
	now := time.Now()
	for _, k := range keys {
		e := Event{Key: k, Origin: v.id, Removed: removed, At: now}
		if err := v.notifier.Publish(ctx, e); err != nil {
			// the write already landed; other views resync on their next load
			v.logger.Warn("failed to announce storage change", "key", k, "error", err)
		}
	}
}
