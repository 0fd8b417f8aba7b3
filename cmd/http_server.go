package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/restaurant-pos/internal/auth"
	"github.com/frahmantamala/restaurant-pos/internal/crosstab"
	"github.com/frahmantamala/restaurant-pos/internal/metrics"
	"github.com/frahmantamala/restaurant-pos/internal/transport/rest"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the POS front-end: dashboards, sign-in and shift endpoints, token renewal and session sync`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

func startHTTPServer() {
	cfg, lg := mustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := initializeDependencies(ctx, cfg, lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	if err := deps.Tokens.Start(ctx); err != nil {
		lg.Error("failed to start token renewal", "error", err)
	}

	tabs := crosstab.New(deps.Medium.View, lg.With("component", "crosstab"))
	if err := tabs.Subscribe(crosstab.Resync(deps.Metrics, deps.Events, lg, deps.Tokens)); err != nil {
		lg.Error("failed to subscribe to session changes", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := tabs.Run(ctx); err != nil {
			lg.Error("session sync stopped", "error", err)
		}
	}()
	if deps.Medium.Listen != nil {
		go func() {
			if err := deps.Medium.Listen(ctx); err != nil {
				lg.Error("storage change listener stopped", "error", err)
			}
		}()
	}

	router := chi.NewRouter()
	setupRoutes(router, deps)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	lg.Info("Starting HTTP server", "address", addr, "storage", cfg.Storage.Driver, "authority", cfg.Authority.BaseURL)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		lg.Info("Received signal, shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("Server failed to start", "error", err)
			deps.Close()
			os.Exit(1)
		}
	}

	lg.Info("Server stopped")
}

func setupRoutes(router chi.Router, deps *Dependencies) {
	var metricsHandler http.Handler
	if deps.Config.Observability.Metrics.Enabled {
		metricsHandler = metrics.Handler(deps.Registry)
	}

	rest.RegisterAllRoutes(router, rest.RouterDeps{
		Guard:          deps.Guard,
		Store:          deps.Store,
		AuthHandler:    auth.NewHandler(deps.Auth),
		Notices:        deps.Inbox,
		OwnerAccess:    deps.Store.OwnerEquivalent,
		Health:         deps.Medium.Health,
		Metrics:        metricsHandler,
		MetricsPath:    deps.Config.Observability.Metrics.Path,
		AllowedOrigins: deps.Config.Server.AllowedOrigins,
		LoginPerMinute: deps.Config.Server.LoginPerMinute,
		TrustedProxies: deps.Config.Server.TrustedProxies,
		Logger:         deps.Logger,
	})
}
