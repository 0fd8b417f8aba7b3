package cmd

import (
	"context"
	"log/slog"

	"github.com/frahmantamala/restaurant-pos/internal"
	"github.com/frahmantamala/restaurant-pos/internal/auth"
	"github.com/frahmantamala/restaurant-pos/internal/authority"
	"github.com/frahmantamala/restaurant-pos/internal/core/events"
	"github.com/frahmantamala/restaurant-pos/internal/guard"
	"github.com/frahmantamala/restaurant-pos/internal/metrics"
	"github.com/frahmantamala/restaurant-pos/internal/notice"
	"github.com/frahmantamala/restaurant-pos/internal/session"
	"github.com/frahmantamala/restaurant-pos/internal/shift"
	"github.com/frahmantamala/restaurant-pos/internal/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Dependencies is one view instance of the front-end wired to its medium.
type Dependencies struct {
	Config    *internal.Config
	Logger    *slog.Logger
	Medium    *medium
	Store     *session.Store
	Authority *authority.Client
	Shifts    *shift.Validator
	Guard     *guard.Guard
	Tokens    *token.Manager
	Auth      *auth.Service
	Inbox     *notice.Inbox
	Events    *events.EventBus
	Metrics   *metrics.Metrics
	Registry  *prometheus.Registry
}

func initializeDependencies(ctx context.Context, cfg *internal.Config, lg *slog.Logger) (*Dependencies, error) {
	med, err := openStorage(ctx, cfg.Storage, lg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	if cfg.Observability.Metrics.Enabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := metrics.New(cfg.Observability.Metrics.Enabled, registry)

	bus := events.NewEventBus(lg)
	bus.SubscribeAll(auditLog(lg), events.AllSessionEventTypes...)

	store := session.NewStore(med.View, lg.With("component", "session_store"),
		session.WithOwnerPermissions(cfg.Session.OwnerPermissions...))
	client := authority.NewClient(authority.Config{
		BaseURL: cfg.Authority.BaseURL,
		Timeout: cfg.Authority.Timeout,
	}, lg.With("component", "authority"))
	inbox := notice.NewInbox(50, lg.With("component", "notice"))

	validator := shift.NewValidator(client, m, lg.With("component", "shift_validator"))
	g := guard.New(guard.Deps{
		Store:     store,
		Shifts:    validator,
		Notifier:  inbox,
		Navigator: inbox,
		Events:    bus,
		Metrics:   m,
		Logger:    lg.With("component", "access_guard"),
	})
	tokens := token.NewManager(token.Deps{
		Store:     store,
		Renewer:   client,
		Profiles:  client,
		Notifier:  inbox,
		Navigator: inbox,
		Events:    bus,
		Metrics:   m,
		Logger:    lg.With("component", "token_manager"),
	}, token.Config{
		Buffer:        cfg.Session.RefreshBuffer,
		RenewTimeout:  cfg.Session.RenewTimeout,
		VerifyProfile: cfg.Session.VerifyProfile,
	})
	authService := auth.NewService(auth.Deps{
		Authority: client,
		Store:     store,
		Tokens:    tokens,
		Events:    bus,
		Metrics:   m,
		Logger:    lg.With("component", "auth"),
	})

	return &Dependencies{
		Config:    cfg,
		Logger:    lg,
		Medium:    med,
		Store:     store,
		Authority: client,
		Shifts:    validator,
		Guard:     g,
		Tokens:    tokens,
		Auth:      authService,
		Inbox:     inbox,
		Events:    bus,
		Metrics:   m,
		Registry:  registry,
	}, nil
}

// Close stops background work and releases the medium.
func (d *Dependencies) Close() {
	d.Tokens.Stop()
	d.Events.Wait()
	d.Medium.Close()
}

func auditLog(lg *slog.Logger) events.Handler {
	return func(_ context.Context, e events.Event) error {
		lg.Info("session event",
			"event_id", e.EventID(),
			"event_type", e.EventType(),
			"occurred_at", e.OccurredAt(),
			"payload", e.Payload())
		return nil
	}
}
