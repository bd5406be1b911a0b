package services

import (
	"errors"
	"testing"

	domain "github.com/vitrina/api/internal/domain"
)

func TestResolvePricePrecedence(t *testing.T) {
	adjustments := []domain.PriceAdjustment{
		{CategoryID: "cat", PercentageIncrease: dec(t, "10")},
		{SubcategoryID: "sub", PercentageIncrease: dec(t, "20")},
		{CategoryID: "cat", SubcategoryID: "sub", PercentageIncrease: dec(t, "30")},
		{SubcategoryID: "other-sub", PercentageIncrease: dec(t, "50")},
	}

	tests := []struct {
		name          string
		categoryID    string
		subcategoryID string
		adjustments   []domain.PriceAdjustment
		want          string
	}{
		{name: "exact wins", categoryID: "cat", subcategoryID: "sub", adjustments: adjustments, want: "130"},
		{name: "subcategory over category", categoryID: "cat", subcategoryID: "sub", adjustments: adjustments[:2], want: "120"},
		{name: "category fallback", categoryID: "cat", subcategoryID: "unlisted", adjustments: adjustments, want: "110"},
		{name: "subcategory without category match", categoryID: "elsewhere", subcategoryID: "other-sub", adjustments: adjustments, want: "150"},
		{name: "no match keeps base", categoryID: "x", subcategoryID: "y", adjustments: adjustments, want: "100"},
		{name: "no adjustments", categoryID: "cat", subcategoryID: "sub", want: "100"},
	}

	for _, tc := range tests {
		got := ResolvePrice(dec(t, "100"), tc.categoryID, tc.subcategoryID, tc.adjustments)
		if !got.Equal(dec(t, tc.want)) {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestResolvePriceRoundsToCents(t *testing.T) {
	got := ResolvePrice(dec(t, "19.99"), "cat", "", []domain.PriceAdjustment{{CategoryID: "cat", PercentageIncrease: dec(t, "12.5")}})
	if got.String() != "22.49" {
		t.Fatalf("expected 22.49, got %s", got)
	}
}

func TestValidateAdjustments(t *testing.T) {
	if err := ValidateAdjustments([]domain.PriceAdjustment{{CategoryID: "cat", PercentageIncrease: dec(t, "0")}, {SubcategoryID: "s", PercentageIncrease: dec(t, "1000")}}); err != nil {
		t.Fatalf("expected valid adjustments, got %v", err)
	}

	invalid := [][]domain.PriceAdjustment{
		{{PercentageIncrease: dec(t, "5")}},
		{{CategoryID: "cat", PercentageIncrease: dec(t, "-1")}},
		{{CategoryID: "cat", PercentageIncrease: dec(t, "1000.01")}},
	}
	for i, adjs := range invalid {
		if err := ValidateAdjustments(adjs); !errors.Is(err, ErrPricingInvalidAdjustment) {
			t.Fatalf("case %d: expected invalid adjustment, got %v", i, err)
		}
	}
}
