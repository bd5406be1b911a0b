package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/vitrina/api/internal/di"
)

type ratePublisher interface {
	Publish(ctx context.Context, rate decimal.Decimal) error
}

func newRatesCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rates",
		Short: "Manage the USD to ARS exchange rate",
	}
	cmd.AddCommand(newRatesSetCommand(open), newRatesRefreshCommand(open))
	return cmd
}

func newRatesSetCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "set RATE",
		Short: "Publish a new exchange rate for every API instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rate, err := decimal.NewFromString(args[0])
			if err != nil || !rate.IsPositive() {
				return fmt.Errorf("rate must be a positive decimal, got %q", args[0])
			}
			return withContainer(cmd, open, func(ctx context.Context, c *di.Container) error {
				publisher, ok := c.Rates.(ratePublisher)
				if !ok {
					return errors.New("exchange rate provider does not accept published rates")
				}
				if err := publisher.Publish(ctx, rate); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "published rate %s\n", rate.String())
				return nil
			})
		},
	}
}

func newRatesRefreshCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Recompute every stored ARS price from the current rate",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd, open, func(ctx context.Context, c *di.Container) error {
				if c.Services.Prices == nil {
					return errors.New("price refresher unavailable; redis is required for the refresh lock")
				}
				result, err := c.Services.Prices.RefreshARSPrices(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rate=%s scanned=%d updated=%d\n", result.Rate, result.Scanned, result.Updated)
				return nil
			})
		},
	}
}
