package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-storefront-checkout/internal/checkout"
	"github.com/imrishuroy/go-storefront-checkout/internal/orders"
)

// NewOrdersCommand creates the orders command group.
func NewOrdersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect, cancel and refund orders",
	}
	cmd.AddCommand(newOrderShowCommand(rootOpts), newOrderCancelCommand(rootOpts), newOrderRefundCommand(rootOpts))
	return cmd
}

func newOrderShowCommand(rootOpts *RootOptions) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:           "show",
		Short:         "Show an order",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, rootOpts, func(ctx context.Context, b *Backend) error {
				o, err := b.App.Orders.Get(ctx, id)
				if err != nil {
					return storeError("failed to load order", err)
				}
				if o == nil {
					return WrapExitError(ExitFailure, "order not found", nil)
				}
				return renderOrder(cmd, rootOpts, o)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "order id (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newOrderCancelCommand(rootOpts *RootOptions) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel an order that has not shipped and return its stock",
		Long: `Cancel an order on behalf of the store. Sold lines go back on hand,
backordered lines release their reservation. Running the command again
finishes any line a previous run did not reach.

Examples:
  storectl orders cancel --id 0b4c1f2e-...`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, rootOpts, func(ctx context.Context, b *Backend) error {
				o, err := b.App.Checkout.Cancel(ctx, checkout.CancelRequest{OrderID: id, Admin: true})
				if err != nil {
					return storeError("failed to cancel order", err)
				}
				return renderOrder(cmd, rootOpts, o)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "order id (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newOrderRefundCommand(rootOpts *RootOptions) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "refund",
		Short: "Mark an order refunded and return its stock and spend",
		Long: `Refund a confirmed, processing, shipped or delivered order. An order the
payment provider already reported as refunded is settled without another
status change.

Examples:
  storectl orders refund --id 0b4c1f2e-...`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, rootOpts, func(ctx context.Context, b *Backend) error {
				o, err := b.App.Checkout.Refund(ctx, id)
				if err != nil {
					return storeError("failed to refund order", err)
				}
				return renderOrder(cmd, rootOpts, o)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "order id (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func renderOrder(cmd *cobra.Command, opts *RootOptions, o *orders.Order) error {
	return render(cmd, opts, o.Summary(), func(w io.Writer) {
		fmt.Fprintf(w, "%s  %s  user=%s status=%s payment=%s total=%s %s\n",
			o.OrderNumber, o.OrderID, o.UserID, o.Status, o.PaymentStatus, o.Total, o.Currency)
		for _, it := range o.Items {
			fmt.Fprintf(w, "  %-12s x%d  %s", it.SKU, it.Quantity, it.Subtotal)
			if it.Backordered {
				fmt.Fprint(w, "  (backordered)")
			}
			fmt.Fprintln(w)
		}
	})
}
