package services

import (
	"testing"

	domain "github.com/vitrina/api/internal/domain"
)

func TestRecalculateTotalsBankTransfer(t *testing.T) {
	order := domain.Order{
		PaymentMethod: domain.PaymentMethodBankTransfer,
		ShippingCost:  dec(t, "10"),
		ExchangeRate:  dec(t, "1000"),
		Items: []domain.OrderItem{
			{ProductVariantID: "a", Quantity: 2, PriceUSDAtPurchase: dec(t, "25.50"), CogsUSDAtPurchase: dec(t, "12.3333")},
			{ProductVariantID: "b", Quantity: 1, PriceUSDAtPurchase: dec(t, "49"), CogsUSDAtPurchase: dec(t, "20")},
		},
	}

	recalculateTotals(&order, DefaultBankTransferFeeRate)

	assertDecimal(t, "line subtotal", order.Items[0].SubTotal, "51")
	assertDecimal(t, "line margin", order.Items[0].ContributionMarginUSD, "26.33")
	assertDecimal(t, "subtotal", order.Totals.SubTotal, "100")
	assertDecimal(t, "cogs", order.Totals.TotalCogsUSD, "44.67")
	assertDecimal(t, "margin", order.Totals.TotalContributionMarginUSD, "55.33")
	assertDecimal(t, "fee", order.Totals.BankTransferExpense, "3")
	assertDecimal(t, "total", order.Totals.TotalAmount, "113")
	assertDecimal(t, "total ars", order.Totals.TotalAmountARS, "113000")
}

func TestRecalculateTotalsSkipsFeeForOtherMethods(t *testing.T) {
	order := domain.Order{
		PaymentMethod: domain.PaymentMethodCash,
		ExchangeRate:  dec(t, "950.5"),
		Items:         []domain.OrderItem{{Quantity: 3, PriceUSDAtPurchase: dec(t, "9.99"), CogsUSDAtPurchase: dec(t, "4")}},
	}

	recalculateTotals(&order, DefaultBankTransferFeeRate)

	assertDecimal(t, "fee", order.Totals.BankTransferExpense, "0")
	assertDecimal(t, "total", order.Totals.TotalAmount, "29.97")
	assertDecimal(t, "total ars", order.Totals.TotalAmountARS, "28486.49")
}

func TestRecalculateTotalsEmptyOrder(t *testing.T) {
	order := domain.Order{PaymentMethod: domain.PaymentMethodBankTransfer, ShippingCost: dec(t, "5"), ExchangeRate: dec(t, "2")}
	recalculateTotals(&order, DefaultBankTransferFeeRate)
	assertDecimal(t, "total", order.Totals.TotalAmount, "5")
	assertDecimal(t, "total ars", order.Totals.TotalAmountARS, "10")
}
