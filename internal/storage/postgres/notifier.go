package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/restaurant-pos/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultChannel is the LISTEN/NOTIFY channel used for session changes.
const DefaultChannel = "pos_session_changes"

// Notifier propagates storage events between processes that share one
// PostgreSQL database. Local subscribers are served by an in-process hub fed
// from LISTEN.
type Notifier struct {
	pool    *pgxpool.Pool
	channel string
	hub     *storage.Hub
	logger  *slog.Logger
}

func NewNotifier(pool *pgxpool.Pool, channel string, logger *slog.Logger) *Notifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Notifier{
		pool:    pool,
		channel: channel,
		hub:     storage.NewHub(logger),
		logger:  logger,
	}
}

// Publish sends the event through pg_notify. Values are never part of the
// payload; listeners re-read the medium.
func (n *Notifier) Publish(ctx context.Context, e storage.Event) error {
	payload, err := EncodePayload(e)
	if err != nil {
		return err
	}
	if _, err := n.pool.Exec(ctx, "SELECT pg_notify($1, $2)", n.channel, payload); err != nil {
		return fmt.Errorf("storage/postgres: notify: %w", err)
	}
	return nil
}

func (n *Notifier) Subscribe() (<-chan storage.Event, func()) {
	return n.hub.Subscribe()
}

// Listen blocks until ctx is done, relaying notifications to local subscribers.
func (n *Notifier) Listen(ctx context.Context) error {
	conn, err := n.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("storage/postgres: acquire listen conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{n.channel}.Sanitize()); err != nil {
		return fmt.Errorf("storage/postgres: listen: %w", err)
	}
	n.logger.Info("listening for session changes", "channel", n.channel)

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("storage/postgres: wait for notification: %w", err)
		}

		e, err := DecodePayload(notification.Payload)
		if err != nil {
			n.logger.Warn("ignoring malformed session change notification",
				"channel", notification.Channel,
				"error", err)
			continue
		}
		_ = n.hub.Publish(ctx, e)
	}
}

func EncodePayload(e storage.Event) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("storage/postgres: encode payload: %w", err)
	}
	return string(data), nil
}

func DecodePayload(payload string) (storage.Event, error) {
	var e storage.Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return storage.Event{}, fmt.Errorf("storage/postgres: decode payload: %w", err)
	}
	if e.Key == "" || e.Origin == "" {
		return storage.Event{}, errors.New("storage/postgres: payload missing key or origin")
	}
	return e, nil
}
