// Package cli implements storectl, the operator tool for the storefront
// tables: provisioning, product seeding, manual stock movements, order
// inspection and cancellation, and test tokens.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/app"
	"github.com/imrishuroy/go-storefront-checkout/internal/aws"
	"github.com/imrishuroy/go-storefront-checkout/internal/config"
	"github.com/imrishuroy/go-storefront-checkout/internal/events"
	"github.com/imrishuroy/go-storefront-checkout/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Connect opens the backend. Tests replace it with an in-memory one.
	Connect func(ctx context.Context, opts *RootOptions) (*Backend, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Backend is what a command runs against.
type Backend struct {
	Client aws.DynamoDBAdminAPI
	Config *config.Config
	App    *app.App
	Close  func() error
}

// NewBackend wires the services against client.
func NewBackend(client aws.DynamoDBAdminAPI, cfg *config.Config, publisher events.Publisher, logger *zap.Logger) *Backend {
	return &Backend{
		Client: client,
		Config: cfg,
		App:    app.New(client, cfg.Tables, cfg.Policy, publisher, nil, logger),
		Close:  func() error { return nil },
	}
}

// Connect loads the configuration from the environment and dials AWS.
func Connect(ctx context.Context, opts *RootOptions) (*Backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := zap.NewNop()
	if opts.Verbose {
		if logger, err = logging.New(true); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to init logger", err)
		}
	}
	clients, err := app.Clients(ctx, cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to init aws clients", err)
	}
	publisher, closePublisher, err := app.NewPublisher(cfg, clients)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to init event publisher", err)
	}
	b := NewBackend(clients.DynamoDB, cfg, publisher, logger)
	b.Close = closePublisher
	return b, nil
}

// NewRootCommand creates the root command for storectl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(Connect)
}

func newRootCommand(connect func(ctx context.Context, opts *RootOptions) (*Backend, error)) *cobra.Command {
	opts := &RootOptions{Connect: connect}

	cmd := &cobra.Command{
		Use:   "storectl",
		Short: "Operate the storefront checkout tables",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewTablesCommand(opts))
	cmd.AddCommand(NewProductsCommand(opts))
	cmd.AddCommand(NewInventoryCommand(opts))
	cmd.AddCommand(NewOrdersCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// withBackend connects, runs fn and closes the backend.
func withBackend(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, b *Backend) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := opts.Connect(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	return fn(ctx, b)
}
