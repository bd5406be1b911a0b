package firestore

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/vitrina/api/internal/domain"
)

func TestOrderDocumentPreservesDecimalsAndRefund(t *testing.T) {
	now := time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)
	totals := domain.OrderTotals{
		SubTotal:                   decimal.RequireFromString("30.10"),
		TotalCogsUSD:               decimal.RequireFromString("12.3456"),
		TotalContributionMarginUSD: decimal.RequireFromString("17.7544"),
		BankTransferExpense:        decimal.RequireFromString("0.75"),
		TotalAmount:                decimal.RequireFromString("30.85"),
		TotalAmountARS:             decimal.RequireFromString("36557.25"),
	}
	order := domain.Order{
		ID:             "ord-1",
		OrderNumber:    "0001",
		Status:         domain.OrderStatusRefunded,
		PaymentMethod:  domain.PaymentMethodBankTransfer,
		ShippingMethod: domain.ShippingMethodPickup,
		ExchangeRate:   decimal.RequireFromString("1185"),
		Items: []domain.OrderItem{{
			ProductVariantID:   "p-mug_ff0000",
			ProductID:          "p-mug",
			Color:              domain.Color{Name: "Red", Hex: "#ff0000"},
			Quantity:           2,
			PriceUSDAtPurchase: decimal.RequireFromString("15.05"),
			CogsUSDAtPurchase:  decimal.RequireFromString("6.1728"),
			SubTotal:           decimal.RequireFromString("30.10"),
		}},
		Totals: totals,
		Refund: &domain.Refund{
			Type:           domain.RefundTypePercentage,
			Amount:         decimal.NewFromInt(10),
			AppliedAmount:  decimal.RequireFromString("3.09"),
			ProcessedAt:    now,
			OriginalTotals: totals,
			PreviousStatus: domain.OrderStatusCompleted,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	doc := newOrderDocument(order)
	if len(doc.VariantIDs) != 1 || doc.VariantIDs[0] != "p-mug_ff0000" {
		t.Fatalf("expected variant ids to be indexed, got %v", doc.VariantIDs)
	}

	decoded, err := doc.toDomain("ord-1")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Items[0].CogsUSDAtPurchase.Equal(decimal.RequireFromString("6.1728")) {
		t.Fatalf("cogs lost precision: %s", decoded.Items[0].CogsUSDAtPurchase)
	}
	if decoded.Refund == nil || !decoded.Refund.OriginalTotals.TotalAmount.Equal(totals.TotalAmount) {
		t.Fatalf("unexpected refund %+v", decoded.Refund)
	}
	if decoded.Refund.PreviousStatus != domain.OrderStatusCompleted {
		t.Fatalf("unexpected previous status %s", decoded.Refund.PreviousStatus)
	}
}

func TestDocumentDecodeReportsMalformedDecimals(t *testing.T) {
	doc := variantDocument{ProductID: "p-mug", PriceUSD: "12,50"}
	_, err := doc.toDomain("p-mug_ff0000")
	if err == nil || !strings.Contains(err.Error(), "priceUsd") {
		t.Fatalf("expected field-scoped decode error, got %v", err)
	}

	empty := variantDocument{ProductID: "p-mug"}
	variant, err := empty.toDomain("p-mug_ff0000")
	if err != nil || !variant.AverageCostUSD.IsZero() {
		t.Fatalf("expected blank decimals to decode as zero, got %s %v", variant.AverageCostUSD, err)
	}
}

func TestMovementDocumentKeepsOptionalUnitCost(t *testing.T) {
	cost := decimal.RequireFromString("3.3333")
	withCost := newMovementDocument(domain.StockMovement{Delta: 3, UnitCostUSD: &cost})
	withoutCost := newMovementDocument(domain.StockMovement{Delta: -1})
	if withCost.UnitCostUSD == nil || *withCost.UnitCostUSD != "3.3333" {
		t.Fatalf("unexpected unit cost %v", withCost.UnitCostUSD)
	}
	if withoutCost.UnitCostUSD != nil {
		t.Fatalf("expected nil unit cost, got %v", *withoutCost.UnitCostUSD)
	}
	decoded, err := withoutCost.toDomain("m-1")
	if err != nil || decoded.UnitCostUSD != nil {
		t.Fatalf("expected nil unit cost after decode, got %v %v", decoded.UnitCostUSD, err)
	}
}
