package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/frahmantamala/restaurant-pos/internal"
	"github.com/frahmantamala/restaurant-pos/internal/auth"
	"github.com/spf13/cobra"
)

var (
	seedUsername string
	seedPassword string
	seedWorkers  []string
	seedOpen     bool
	clearData    bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Sign the terminal in from the command line",
	Long: `Sign in against the authority and store the session in the configured medium,
so dashboards served from the same medium open without the login page. Cashiers
can open a shift in the same step.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, lg := mustLoad()
		if cfg.Storage.Driver == internal.StorageDriverMemory {
			lg.Warn("seeding an in-memory medium has no effect on other processes")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		deps, err := initializeDependencies(ctx, cfg, lg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
			os.Exit(1)
		}
		defer deps.Close()

		if clearData {
			if err := deps.Auth.Logout(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to clear the stored session: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Cleared the stored session")
		}

		sess, err := deps.Auth.Login(ctx, auth.LoginDTO{Username: seedUsername, Password: seedPassword})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Sign in failed: %v\n", err)
			os.Exit(1)
		}

		if seedOpen && sess.IsCashier() && sess.Shift == nil {
			sess, err = deps.Auth.OpenShift(ctx, auth.OpenShiftDTO{Workers: seedWorkers})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to open a shift: %v\n", err)
				os.Exit(1)
			}
		}

		out, _ := json.MarshalIndent(auth.ToView(sess, deps.Store.OwnerEquivalent(sess)), "", "  ")
		fmt.Println(string(out))
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedUsername, "username", "u", "cashier", "username to sign in with")
	seedCmd.Flags().StringVarP(&seedPassword, "password", "p", "password", "password to sign in with")
	seedCmd.Flags().BoolVar(&seedOpen, "open-shift", false, "open a shift when signing a cashier in without one")
	seedCmd.Flags().StringSliceVar(&seedWorkers, "workers", nil, "workers joining the opened shift")
	seedCmd.Flags().BoolVar(&clearData, "clear", false, "Clear the stored session before signing in")
}
