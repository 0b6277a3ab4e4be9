package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-storefront-checkout/internal/middleware"
)

// NewTokenCommand creates the token command group. Tokens are signed with
// JWT_SECRET and need no AWS access.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue bearer tokens for local testing",
	}

	var (
		userID string
		admin  bool
		ttl    time.Duration
		secret string
	)
	issue := &cobra.Command{
		Use:           "issue",
		Short:         "Sign a token for a user",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			if secret == "" {
				return WrapExitError(ExitCommandError, "JWT_SECRET or --secret is required", nil)
			}
			role := ""
			if admin {
				role = middleware.RoleAdmin
			}
			tok, err := middleware.IssueToken([]byte(secret), userID, role, ttl)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to sign token", err)
			}
			out := map[string]string{"token": tok, "userId": userID}
			return render(cmd, rootOpts, out, func(w io.Writer) { fmt.Fprintln(w, tok) })
		},
	}
	issue.Flags().StringVar(&userID, "user", "", "user id (required)")
	_ = issue.MarkFlagRequired("user")
	issue.Flags().BoolVar(&admin, "admin", false, "grant the admin role")
	issue.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	issue.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to $JWT_SECRET)")

	cmd.AddCommand(issue)
	return cmd
}
