package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	domain "github.com/vitrina/api/internal/domain"
	"github.com/vitrina/api/internal/repositories"
	"github.com/vitrina/api/internal/services"
)

const stockSheet = "Stock"

var stockHeaders = []any{
	"Variant", "Product", "Color", "Hex", "Stock",
	"Avg cost USD", "Stock value USD", "Price USD", "Price ARS", "Price ARS (label)",
}

// writeStockWorkbook writes one row per variant plus a totals row and returns the variant count.
// ARS prices are recomputed from rate rather than read from the stored snapshot.
func writeStockWorkbook(ctx context.Context, variants repositories.VariantRepository, rate decimal.Decimal, w io.Writer) (int, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", stockSheet); err != nil {
		return 0, err
	}
	if err := f.SetSheetRow(stockSheet, "A1", &stockHeaders); err != nil {
		return 0, err
	}

	row := 1
	totalUnits := 0
	totalValue := decimal.Zero
	err := eachVariant(ctx, variants, func(v domain.ProductVariant) error {
		row++
		value := v.AverageCostUSD.Mul(decimal.NewFromInt(int64(v.Stock))).Round(2)
		ars := v.PriceUSD.Mul(rate).Round(2)
		totalUnits += v.Stock
		totalValue = totalValue.Add(value)

		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		values := []any{
			v.ID,
			v.ProductID,
			v.Color.Name,
			v.Color.Hex,
			v.Stock,
			v.AverageCostUSD.Round(4).InexactFloat64(),
			value.InexactFloat64(),
			v.PriceUSD.InexactFloat64(),
			ars.InexactFloat64(),
			services.FormatARS(ars),
		}
		return f.SetSheetRow(stockSheet, cell, &values)
	})
	if err != nil {
		return 0, fmt.Errorf("export stock: %w", err)
	}

	count := row - 1
	totals := []any{"TOTAL", "", "", "", totalUnits, "", totalValue.InexactFloat64()}
	cell, err := excelize.CoordinatesToCellName(1, row+1)
	if err != nil {
		return 0, err
	}
	if err := f.SetSheetRow(stockSheet, cell, &totals); err != nil {
		return 0, err
	}
	if err := f.SetPanes(stockSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return 0, err
	}
	if _, err := f.WriteTo(w); err != nil {
		return 0, fmt.Errorf("write workbook: %w", err)
	}
	return count, nil
}
