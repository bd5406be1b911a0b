package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vitrina/api/internal/di"
	domain "github.com/vitrina/api/internal/domain"
	"github.com/vitrina/api/internal/repositories"
)

const variantPageSize = 200

var errLedgerMismatch = errors.New("ledger mismatch detected")

func newLedgerCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Audit and export the inventory ledger",
	}
	cmd.AddCommand(newLedgerVerifyCommand(open), newLedgerExportCommand(open))
	return cmd
}

func newLedgerVerifyCommand(open Opener) *cobra.Command {
	var variantIDs []string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Replay movements and compare them with stored stock",
		Long: `verify sums every movement of each variant and compares the total with the
variant's stored stock. It exits non-zero when any variant disagrees.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd, open, func(ctx context.Context, c *di.Container) error {
				return verifyLedger(ctx, cmd, c, variantIDs)
			})
		},
	}
	cmd.Flags().StringSliceVar(&variantIDs, "variant", nil, "Variant ids to verify (default: every variant)")
	return cmd
}

func verifyLedger(ctx context.Context, cmd *cobra.Command, c *di.Container, variantIDs []string) error {
	out := cmd.OutOrStdout()
	checked, mismatched := 0, 0
	check := func(id string) error {
		result, err := c.Services.Ledger.VerifyVariant(ctx, id)
		if err != nil {
			return fmt.Errorf("verify %s: %w", id, err)
		}
		checked++
		if !result.Consistent {
			mismatched++
			fmt.Fprintf(out, "MISMATCH\t%s\tstock=%d\tledger=%d\tmovements=%d\n", result.VariantID, result.Stock, result.LedgerSum, result.MovementCount)
		}
		return nil
	}

	if len(variantIDs) > 0 {
		for _, id := range variantIDs {
			if id = strings.TrimSpace(id); id == "" {
				continue
			}
			if err := check(id); err != nil {
				return err
			}
		}
	} else {
		err := eachVariant(ctx, c.Repositories.Variants(), func(v domain.ProductVariant) error {
			return check(v.ID)
		})
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "checked %d variants, %d mismatched\n", checked, mismatched)
	if mismatched > 0 {
		return fmt.Errorf("%w: %d of %d variants", errLedgerMismatch, mismatched, checked)
	}
	return nil
}

func newLedgerExportCommand(open Opener) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a stock valuation workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd, open, func(ctx context.Context, c *di.Container) error {
				rate, err := c.Rates.CurrentRate(ctx)
				if err != nil {
					return fmt.Errorf("resolve exchange rate: %w", err)
				}
				file, err := os.Create(output)
				if err != nil {
					return err
				}
				rows, writeErr := writeStockWorkbook(ctx, c.Repositories.Variants(), rate, file)
				if err := file.Close(); err != nil && writeErr == nil {
					writeErr = err
				}
				if writeErr != nil {
					return writeErr
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d variants to %s\n", rows, output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "stock.xlsx", "Destination workbook path")
	return cmd
}

// eachVariant pages through every variant in id order.
func eachVariant(ctx context.Context, variants repositories.VariantRepository, fn func(domain.ProductVariant) error) error {
	after := ""
	for {
		page, err := variants.List(ctx, repositories.VariantListFilter{AfterID: after, Limit: variantPageSize})
		if err != nil {
			return err
		}
		for _, variant := range page {
			if err := fn(variant); err != nil {
				return err
			}
		}
		if len(page) < variantPageSize {
			return nil
		}
		after = page[len(page)-1].ID
	}
}
