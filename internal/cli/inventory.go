package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-storefront-checkout/internal/inventory"
)

// InventoryOptions holds flags for the stock movement commands.
type InventoryOptions struct {
	*RootOptions
	ProductID      string
	Quantity       int64
	IdempotencyKey string
	OrderID        string
}

// movement is a ledger operation as a method expression.
type movement func(l *inventory.Ledger, ctx context.Context, productID string, qty int64, opts inventory.Options) (*inventory.Result, error)

// NewInventoryCommand creates the inventory command group.
func NewInventoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Move stock through the ledger and read its log",
		Long: `Stock movements run through the same conditional ledger operations
the checkout uses and are logged with performed_by=admin. Pass --key to make
a movement safe to repeat.`,
	}
	cmd.AddCommand(
		newMovementCommand(rootOpts, "restock", "Add new stock on hand",
			(*inventory.Ledger).Restock),
		newMovementCommand(rootOpts, "reserve", "Hold stock without selling it",
			(*inventory.Ledger).ReserveStock),
		newMovementCommand(rootOpts, "release", "Give back reserved stock",
			(*inventory.Ledger).ReleaseReservedStock),
		newMovementCommand(rootOpts, "confirm", "Turn reserved stock into a sale, e.g. a backorder after restock",
			(*inventory.Ledger).ConfirmSale),
		newMovementCommand(rootOpts, "restore", "Put sold stock back on hand",
			(*inventory.Ledger).RestoreStock),
		newHistoryCommand(rootOpts),
	)
	return cmd
}

func newMovementCommand(rootOpts *RootOptions, use, short string, op movement) *cobra.Command {
	opts := &InventoryOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, rootOpts, func(ctx context.Context, b *Backend) error {
				res, err := op(b.App.Ledger, ctx, opts.ProductID, opts.Quantity, inventory.Options{
					IdempotencyKey: opts.IdempotencyKey,
					OrderID:        opts.OrderID,
					PerformedBy:    inventory.ActorAdmin,
				})
				if err != nil {
					return ledgerError(use, err)
				}
				return render(cmd, rootOpts, res, func(w io.Writer) {
					if res.Replayed {
						fmt.Fprintln(w, "already applied, nothing changed")
					}
					writeProduct(w, res.Product)
					if res.LowStock {
						fmt.Fprintln(w, "  warning: low stock")
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&opts.ProductID, "product", "", "product id (required)")
	_ = cmd.MarkFlagRequired("product")
	cmd.Flags().Int64Var(&opts.Quantity, "qty", 0, "units to move (required)")
	_ = cmd.MarkFlagRequired("qty")
	cmd.Flags().StringVar(&opts.IdempotencyKey, "key", "", "idempotency key")
	cmd.Flags().StringVar(&opts.OrderID, "order", "", "order the movement belongs to")
	return cmd
}

func ledgerError(op string, err error) error {
	switch {
	case errors.Is(err, inventory.ErrNotMatched):
		return WrapExitError(ExitFailure, op+" refused", err)
	case errors.Is(err, inventory.ErrProductNotFound):
		return WrapExitError(ExitFailure, op+" failed", err)
	}
	return storeError(op+" failed", err)
}

func newHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		productID string
		limit     int32
		cursor    string
	)
	cmd := &cobra.Command{
		Use:           "history",
		Short:         "List the inventory log of a product, newest first",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 || limit > 100 {
				return WrapExitError(ExitCommandError, "limit must be between 1 and 100", nil)
			}
			return withBackend(cmd, rootOpts, func(ctx context.Context, b *Backend) error {
				entries, next, err := b.App.Ledger.Log().ListByProduct(ctx, productID, limit, cursor)
				if err != nil {
					return storeError("failed to read inventory log", err)
				}
				if entries == nil {
					entries = []inventory.Entry{}
				}
				out := struct {
					Entries    []inventory.Entry `json:"entries"`
					NextCursor string            `json:"nextCursor,omitempty"`
				}{entries, next}
				return render(cmd, rootOpts, out, func(w io.Writer) {
					for _, e := range entries {
						fmt.Fprintf(w, "%s  %-11s %+d  %d -> %d  by=%s",
							e.CreatedAt.Format("2006-01-02T15:04:05Z"), e.Type, e.Quantity,
							e.PreviousQuantity, e.NewQuantity, e.PerformedBy)
						if e.OrderID != "" {
							fmt.Fprintf(w, " order=%s", e.OrderID)
						}
						fmt.Fprintln(w)
					}
					if next != "" {
						fmt.Fprintf(w, "next cursor: %s\n", next)
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&productID, "product", "", "product id (required)")
	_ = cmd.MarkFlagRequired("product")
	cmd.Flags().Int32Var(&limit, "limit", 20, "entries per page")
	cmd.Flags().StringVar(&cursor, "cursor", "", "cursor from a previous page")
	return cmd
}
