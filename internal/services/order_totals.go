package services

import (
	"github.com/shopspring/decimal"

	domain "github.com/vitrina/api/internal/domain"
)

// DefaultBankTransferFeeRate is applied to the subtotal of bank transfer orders when no rate is configured.
var DefaultBankTransferFeeRate = decimal.RequireFromString("0.03")

// lineAmounts derives an item's subtotal and contribution margin from its snapshot price and cost.
func lineAmounts(price, cogs decimal.Decimal, quantity int) (decimal.Decimal, decimal.Decimal) {
	qty := decimal.NewFromInt(int64(quantity))
	subTotal := price.Mul(qty).Round(2)
	cogsTotal := cogs.Mul(qty).Round(2)
	return subTotal, subTotal.Sub(cogsTotal)
}

// recalculateTotals rebuilds every line amount and aggregate from the item set. Nothing is carried
// over from the previous totals.
func recalculateTotals(order *domain.Order, bankTransferFeeRate decimal.Decimal) {
	subTotal := decimal.Zero
	cogsTotal := decimal.Zero
	marginTotal := decimal.Zero

	for i := range order.Items {
		item := &order.Items[i]
		item.SubTotal, item.ContributionMarginUSD = lineAmounts(item.PriceUSDAtPurchase, item.CogsUSDAtPurchase, item.Quantity)
		subTotal = subTotal.Add(item.SubTotal)
		cogsTotal = cogsTotal.Add(item.SubTotal.Sub(item.ContributionMarginUSD))
		marginTotal = marginTotal.Add(item.ContributionMarginUSD)
	}

	fee := decimal.Zero
	if order.PaymentMethod == domain.PaymentMethodBankTransfer {
		fee = subTotal.Mul(bankTransferFeeRate).Round(2)
	}
	total := subTotal.Add(order.ShippingCost).Add(fee).Round(2)

	order.Totals = domain.OrderTotals{
		SubTotal:                   subTotal,
		TotalCogsUSD:               cogsTotal,
		TotalContributionMarginUSD: marginTotal,
		BankTransferExpense:        fee,
		TotalAmount:                total,
		TotalAmountARS:             total.Mul(order.ExchangeRate).Round(2),
	}
}
