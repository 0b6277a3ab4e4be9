package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-storefront-checkout/internal/tables"
)

// NewTablesCommand creates the tables command group.
func NewTablesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Manage the DynamoDB tables",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create missing tables and enable TTL on carts",
		Long: `Create every table the service uses. Existing tables are left alone,
so the command is safe to run on each deploy.

Examples:
  storectl tables create
  AWS_ENDPOINT_URL=http://localhost:8000 storectl tables create`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, rootOpts, func(ctx context.Context, b *Backend) error {
				created, err := tables.Create(ctx, b.Client, b.Config.Tables)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to create tables", err)
				}
				if created == nil {
					created = []string{}
				}
				return render(cmd, rootOpts, map[string][]string{"created": created}, func(w io.Writer) {
					if len(created) == 0 {
						fmt.Fprintln(w, "all tables already exist")
						return
					}
					for _, name := range created {
						fmt.Fprintf(w, "created %s\n", name)
					}
				})
			})
		},
	})
	return cmd
}
