package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
	"github.com/imrishuroy/go-storefront-checkout/internal/money"
)

// ProductOptions holds flags for products create.
type ProductOptions struct {
	*RootOptions
	ID             string
	SKU            string
	Title          string
	Price          string
	Quantity       int64
	Track          bool
	AllowBackorder bool
	LowStock       int64
	Inactive       bool
}

// NewProductsCommand creates the products command group.
func NewProductsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "products",
		Short: "Seed and inspect products",
	}
	cmd.AddCommand(newProductCreateCommand(rootOpts), newProductShowCommand(rootOpts))
	return cmd
}

func newProductCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProductOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a product with its opening stock",
		Long: `Create a product. The opening quantity is the only stock value set
directly; later movements go through the inventory commands.

Examples:
  storectl products create --id p1 --sku MUG-1 --title "Mug" --price 12.50 --quantity 40
  storectl products create --id gift --sku GIFT --price 25 --track=false`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProductCreate(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "product id (required)")
	_ = cmd.MarkFlagRequired("id")
	cmd.Flags().StringVar(&opts.SKU, "sku", "", "stock keeping unit (required)")
	_ = cmd.MarkFlagRequired("sku")
	cmd.Flags().StringVar(&opts.Title, "title", "", "display title")
	cmd.Flags().StringVar(&opts.Price, "price", "", "unit price in major units, e.g. 12.50 (required)")
	_ = cmd.MarkFlagRequired("price")
	cmd.Flags().Int64Var(&opts.Quantity, "quantity", 0, "opening on-hand quantity")
	cmd.Flags().BoolVar(&opts.Track, "track", true, "track stock for this product")
	cmd.Flags().BoolVar(&opts.AllowBackorder, "allow-backorder", false, "accept orders beyond available stock")
	cmd.Flags().Int64Var(&opts.LowStock, "low-stock", 0, "low-stock threshold (0 disables)")
	cmd.Flags().BoolVar(&opts.Inactive, "inactive", false, "create the product unlisted")
	return cmd
}

func runProductCreate(cmd *cobra.Command, opts *ProductOptions) error {
	price, err := decimal.NewFromString(opts.Price)
	if err != nil || price.IsNegative() {
		return WrapExitError(ExitCommandError, fmt.Sprintf("invalid price %q", opts.Price), err)
	}
	title := opts.Title
	if title == "" {
		title = opts.SKU
	}
	return withBackend(cmd, opts.RootOptions, func(ctx context.Context, b *Backend) error {
		p, err := b.App.Products.Create(ctx, catalog.Product{
			ProductID:         opts.ID,
			SKU:               opts.SKU,
			Title:             title,
			Price:             money.FromDecimal(price),
			IsActive:          !opts.Inactive,
			Quantity:          opts.Quantity,
			TrackQuantity:     opts.Track,
			AllowBackorder:    opts.AllowBackorder,
			LowStockThreshold: opts.LowStock,
		})
		if errors.Is(err, catalog.ErrExists) {
			return WrapExitError(ExitFailure, "product already exists", err)
		}
		if err != nil {
			return storeError("failed to create product", err)
		}
		return render(cmd, opts.RootOptions, p, func(w io.Writer) { writeProduct(w, p) })
	})
}

func newProductShowCommand(rootOpts *RootOptions) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:           "show",
		Short:         "Show a product and its stock counters",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, rootOpts, func(ctx context.Context, b *Backend) error {
				p, err := b.App.Products.GetConsistent(ctx, id)
				if err != nil {
					return storeError("failed to load product", err)
				}
				if p == nil {
					return WrapExitError(ExitFailure, "product not found", nil)
				}
				return render(cmd, rootOpts, p, func(w io.Writer) { writeProduct(w, p) })
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "product id (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func writeProduct(w io.Writer, p *catalog.Product) {
	fmt.Fprintf(w, "%s  %s  %s  price=%s active=%t\n", p.ProductID, p.SKU, p.Title, p.Price, p.IsActive)
	if !p.TrackQuantity {
		fmt.Fprintf(w, "  stock not tracked, sold=%d\n", p.SalesCount)
		return
	}
	fmt.Fprintf(w, "  on_hand=%d reserved=%d available=%d sold=%d backorder=%t\n",
		p.Quantity, p.ReservedQuantity, p.AvailableQuantity(), p.SalesCount, p.AllowBackorder)
}
