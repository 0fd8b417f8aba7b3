package crosstab

import (
	"context"
	"log/slog"

	"github.com/frahmantamala/restaurant-pos/internal/core/events"
	"github.com/frahmantamala/restaurant-pos/internal/metrics"
)

// Restarter reloads state derived from the session.
type Restarter interface {
	Restart(ctx context.Context) error
}

// Resync returns the handler that brings a view back in line with the
// persisted session: every restarter is reloaded and the change is recorded.
func Resync(m *metrics.Metrics, publisher events.Publisher, logger *slog.Logger, restarters ...Restarter) Handler {
	return func(ctx context.Context, change SessionChanged) {
		for _, r := range restarters {
			if err := r.Restart(ctx); err != nil {
				logger.Error("failed to resynchronize after session change", "key", change.Key, "error", err)
			}
		}
		m.RecordResync(change.Key)
		if publisher != nil {
			if err := publisher.Publish(ctx, events.NewSessionResynchronizedEvent(change.Key, change.Origin)); err != nil {
				logger.Warn("failed to publish resync event", "error", err)
			}
		}
		logger.Info("view resynchronized", "key", change.Key, "origin", change.Origin)
	}
}
