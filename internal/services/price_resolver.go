package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/vitrina/api/internal/domain"
)

// ErrPricingInvalidAdjustment indicates a malformed price adjustment.
var ErrPricingInvalidAdjustment = errors.New("pricing: invalid adjustment")

var (
	hundred               = decimal.NewFromInt(100)
	maxPercentageIncrease = decimal.NewFromInt(1000)
)

// ResolvePrice applies the most specific matching adjustment to base. An adjustment naming both the
// category and the subcategory wins over a subcategory-only one, which wins over a category-only one.
// The first adjustment of each kind is used; without a match the base price is returned unchanged.
func ResolvePrice(base decimal.Decimal, categoryID, subcategoryID string, adjustments []domain.PriceAdjustment) decimal.Decimal {
	var exact, bySubcategory, byCategory *domain.PriceAdjustment
	for i := range adjustments {
		adj := &adjustments[i]
		cat := strings.TrimSpace(adj.CategoryID)
		sub := strings.TrimSpace(adj.SubcategoryID)
		switch {
		case cat != "" && sub != "":
			if exact == nil && cat == categoryID && sub == subcategoryID {
				exact = adj
			}
		case sub != "":
			if bySubcategory == nil && sub == subcategoryID {
				bySubcategory = adj
			}
		case cat != "":
			if byCategory == nil && cat == categoryID {
				byCategory = adj
			}
		}
	}

	chosen := exact
	if chosen == nil {
		chosen = bySubcategory
	}
	if chosen == nil {
		chosen = byCategory
	}
	if chosen == nil {
		return base
	}
	factor := decimal.NewFromInt(1).Add(chosen.PercentageIncrease.Div(hundred))
	return base.Mul(factor).Round(2)
}

// ValidateAdjustments checks that every adjustment targets something and stays within 0..1000 percent.
func ValidateAdjustments(adjustments []domain.PriceAdjustment) error {
	for i, adj := range adjustments {
		if strings.TrimSpace(adj.CategoryID) == "" && strings.TrimSpace(adj.SubcategoryID) == "" {
			return fmt.Errorf("%w: adjustment %d needs a category or subcategory", ErrPricingInvalidAdjustment, i)
		}
		if adj.PercentageIncrease.IsNegative() || adj.PercentageIncrease.GreaterThan(maxPercentageIncrease) {
			return fmt.Errorf("%w: adjustment %d percentage must be between 0 and 1000", ErrPricingInvalidAdjustment, i)
		}
	}
	return nil
}
