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

	"github.com/frahmantamala/restaurant-pos/internal/authority/mock"
	"github.com/spf13/cobra"
)

var mockAuthorityCmd = &cobra.Command{
	Use:   "mock-authority",
	Short: "Start a local authority for development",
	Long: `Serve the authority endpoints (login, refresh, profile, shifts) from memory so the
front-end can be run without the real backend. Users come from mock_authority.users,
or one user per role with the password "password" when none are configured.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, lg := mustLoad()
		if err := cfg.MockAuthority.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid mock authority config: %v\n", err)
			os.Exit(1)
		}
		lg = lg.With("component", "mock_authority")

		srv, err := mock.NewServer(mock.NewTokenIssuer(cfg.MockAuthority.JWTSecret, cfg.MockAuthority.TokenTTL), lg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to build mock authority: %v\n", err)
			os.Exit(1)
		}

		users := mock.DefaultUsers()
		if len(cfg.MockAuthority.Users) > 0 {
			users = users[:0]
			for _, u := range cfg.MockAuthority.Users {
				users = append(users, mock.UserSpec{
					ID:          u.ID,
					Username:    u.Username,
					Password:    u.Password,
					Name:        u.Name,
					Role:        u.Role,
					Permissions: u.Permissions,
				})
			}
		}
		for _, u := range users {
			if err := srv.AddUser(u); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to add user %q: %v\n", u.Username, err)
				os.Exit(1)
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		addr := fmt.Sprintf(":%d", cfg.MockAuthority.Port)
		server := &http.Server{
			Addr:              addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.ListenAndServe()
		}()
		lg.Info("Mock authority listening", "address", addr, "users", srv.Usernames())

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				lg.Error("Mock authority shutdown error", "error", err)
			}
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				lg.Error("Mock authority failed", "error", err)
				os.Exit(1)
			}
		}
		lg.Info("Mock authority stopped")
	},
}
