// Package cli implements opsctl, the operator command line for ledger audits and price maintenance.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vitrina/api/internal/di"
	"github.com/vitrina/api/internal/platform/config"
	"github.com/vitrina/api/internal/platform/observability"
)

// Opener builds the container a command runs against.
type Opener func(ctx context.Context) (*di.Container, error)

// NewRootCommand assembles the opsctl command tree. open is called lazily by each subcommand.
func NewRootCommand(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:   "opsctl",
		Short: "Operator tooling for the vitrina API",
		Long: `opsctl runs maintenance tasks against the same stores the API uses.

It audits the inventory ledger, exports stock valuations to a spreadsheet,
and publishes or applies the USD to ARS exchange rate.`,
		SilenceUsage: true,
	}
	root.AddCommand(newLedgerCommand(open), newRatesCommand(open))
	return root
}

// Execute runs opsctl with configuration loaded from the environment.
func Execute() {
	if err := NewRootCommand(openFromEnvironment).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openFromEnvironment(ctx context.Context) (*di.Container, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return di.Open(ctx, cfg, logger.Named("opsctl"))
}

// withContainer opens the container for one command invocation and always closes it.
func withContainer(cmd *cobra.Command, open Opener, fn func(ctx context.Context, c *di.Container) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	container, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := container.Close(context.Background()); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: close container: %v\n", err)
		}
	}()
	return fn(ctx, container)
}
