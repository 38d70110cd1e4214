package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"lifeline/internal/domain"
)

var (
	verbose bool
	asJSON  bool

	current *app
)

var rootCmd = &cobra.Command{
	Use:   "lifeline",
	Short: "Command-line client for the Lifeline blood donation platform",
	Long: `lifeline talks to the Lifeline REST API: sign in, post and answer
donation requests, manage users and read notifications.

Configuration comes from the environment (API_BASE_URL is required), an
optional .env file and the YAML file named by LIFELINE_CONFIG.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.HasParent() && cmd.Parent().Name() == "completion" {
			return nil
		}
		a, err := openApp(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		current = a
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print results as JSON")

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd, registerCmd, profileCmd)
	rootCmd.AddCommand(requestsCmd, usersCmd, notificationsCmd, dashboardCmd)
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	// Cobra skips post-run hooks when RunE fails.
	if current != nil {
		current.close()
	}
	stop()
	if err != nil {
		// Manager errors were already shown as notices.
		if !shown(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func shown(err error) bool {
	var (
		authErr *domain.AuthError
		valErr  *domain.ValidationError
		elErr   *domain.EligibilityError
		netErr  *domain.NetworkError
		srvErr  *domain.ServerError
	)
	return errors.As(err, &authErr) || errors.As(err, &valErr) || errors.As(err, &elErr) ||
		errors.As(err, &netErr) || errors.As(err, &srvErr)
}
