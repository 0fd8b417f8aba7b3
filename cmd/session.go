package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/frahmantamala/restaurant-pos/internal/auth"
	"github.com/frahmantamala/restaurant-pos/internal/guard"
	"github.com/frahmantamala/restaurant-pos/internal/notice"
	"github.com/frahmantamala/restaurant-pos/internal/transport/rest"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect the stored session",
	Long:  `Show, clear or check the session stored in the configured medium`,
}

var showSessionCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored session",
	Run: func(cmd *cobra.Command, args []string) {
		withDependencies(func(ctx context.Context, deps *Dependencies) int {
			sess, err := deps.Store.Read(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to read session: %v\n", err)
				return 1
			}
			if sess == nil {
				fmt.Println("No session is stored")
				return 0
			}
			out, _ := json.MarshalIndent(auth.ToView(sess, deps.Store.OwnerEquivalent(sess)), "", "  ")
			fmt.Println(string(out))
			return 0
		})
	},
}

var clearSessionCmd = &cobra.Command{
	Use:   "clear",
	Short: "Sign the terminal out",
	Run: func(cmd *cobra.Command, args []string) {
		withDependencies(func(ctx context.Context, deps *Dependencies) int {
			if err := deps.Auth.Logout(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to clear session: %v\n", err)
				return 1
			}
			fmt.Println("Session cleared")
			return 0
		})
	},
}

var checkSessionCmd = &cobra.Command{
	Use:   "check [view]",
	Short: "Run the access checks of a dashboard against the stored session",
	Long: `Run the access checks of a dashboard (cashier, admin, reports, owner) against
the stored session, exactly as opening the page would. A denial that invalidates
the session, such as a closed shift, clears it.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		view, ok := findView(args[0])
		if !ok {
			fmt.Fprintf(os.Stderr, "Unknown view %q\n", args[0])
			os.Exit(2)
		}

		withDependencies(func(ctx context.Context, deps *Dependencies) int {
			ctx = guard.WithNotifier(ctx, printNotifier{})
			ctx = guard.WithTarget(ctx, view.Path)

			eval := deps.Guard.Start(ctx, view.Requirement)
			decision, err := eval.Wait()
			if err != nil {
				fmt.Fprintln(os.Stderr, "Check abandoned")
				return 130
			}

			fmt.Printf("%s: %s", view.Name, decision.Outcome)
			if decision.Reason != notice.ReasonNone {
				fmt.Printf(" (%s)", decision.Reason)
			}
			fmt.Println()
			if decision.Outcome != guard.Allow {
				return 3
			}
			return 0
		})
	},
}

func findView(name string) (rest.View, bool) {
	for _, v := range rest.Views() {
		if strings.EqualFold(v.Name, name) || v.Path == name {
			return v, true
		}
	}
	return rest.View{}, false
}

// withDependencies runs fn with the wired view and exits with its code.
func withDependencies(fn func(ctx context.Context, deps *Dependencies) int) {
	cfg, lg := mustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	deps, err := initializeDependencies(ctx, cfg, lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	code := fn(ctx, deps)
	deps.Close()
	if code != 0 {
		os.Exit(code)
	}
}

type printNotifier struct{}

func (printNotifier) Notify(_ context.Context, n notice.Notice) {
	fmt.Fprintln(os.Stderr, n.Message)
}

func init() {
	sessionCmd.AddCommand(showSessionCmd)
	sessionCmd.AddCommand(clearSessionCmd)
	sessionCmd.AddCommand(checkSessionCmd)
}
