package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/vitrina/api/internal/domain"
	"github.com/vitrina/api/internal/repositories"
)

const (
	maxCatalogSelectionIDs = 200
	maxCatalogProducts     = 2000
	maxCatalogVariants     = 10000
	maxCatalogAdjustments  = 100
)

var (
	// ErrCatalogInvalidRequest signals the catalog request is malformed.
	ErrCatalogInvalidRequest = errors.New("catalog: invalid request")
	// ErrCatalogEmpty indicates no product survived the selection and filters.
	ErrCatalogEmpty = errors.New("catalog: no products match the selection")
)

// NormaliseCatalogRequest deduplicates selection ids and validates the request.
func NormaliseCatalogRequest(req CatalogRequest) (CatalogRequest, error) {
	req.CategoryIDs = uniqueTrimmed(req.CategoryIDs)
	req.SubcategoryIDs = uniqueTrimmed(req.SubcategoryIDs)
	switch {
	case len(req.CategoryIDs) == 0 && len(req.SubcategoryIDs) == 0 && !req.InStockOnly:
		return req, fmt.Errorf("%w: select at least one category or subcategory, or request in-stock items only", ErrCatalogInvalidRequest)
	case len(req.CategoryIDs)+len(req.SubcategoryIDs) > maxCatalogSelectionIDs:
		return req, fmt.Errorf("%w: at most %d categories and subcategories", ErrCatalogInvalidRequest, maxCatalogSelectionIDs)
	case len(req.Adjustments) > maxCatalogAdjustments:
		return req, fmt.Errorf("%w: at most %d price adjustments", ErrCatalogInvalidRequest, maxCatalogAdjustments)
	}
	adjustments := make([]domain.PriceAdjustment, len(req.Adjustments))
	for i, adj := range req.Adjustments {
		adj.CategoryID = strings.TrimSpace(adj.CategoryID)
		adj.SubcategoryID = strings.TrimSpace(adj.SubcategoryID)
		adjustments[i] = adj
	}
	req.Adjustments = adjustments
	if err := ValidateAdjustments(req.Adjustments); err != nil {
		return req, fmt.Errorf("%w: %w", ErrCatalogInvalidRequest, err)
	}
	return req, nil
}

// catalogSelection is the resolved set of categories and subcategories to include.
type catalogSelection struct {
	categories    []domain.Category
	subcategories map[string][]domain.Subcategory
	subIndex      map[string]domain.Subcategory
}

// resolveSelection expands the requested ids. A category contributes every subcategory unless the request
// names at least one of its subcategories explicitly; a subcategory always brings its parent category.
func (s *catalogService) resolveSelection(ctx context.Context, req CatalogRequest) (catalogSelection, error) {
	explicit, err := s.catalog.ListSubcategories(ctx, req.SubcategoryIDs)
	if err != nil {
		return catalogSelection{}, err
	}

	categoryIDs := append([]string(nil), req.CategoryIDs...)
	explicitByCategory := make(map[string][]domain.Subcategory)
	for _, sub := range explicit {
		explicitByCategory[sub.CategoryID] = append(explicitByCategory[sub.CategoryID], sub)
		categoryIDs = append(categoryIDs, sub.CategoryID)
	}

	var categories []domain.Category
	switch {
	case len(categoryIDs) > 0:
		categories, err = s.catalog.ListCategories(ctx, uniqueTrimmed(categoryIDs))
	case len(req.CategoryIDs) == 0 && len(req.SubcategoryIDs) == 0:
		categories, err = s.catalog.ListCategories(ctx, nil)
	}
	if err != nil {
		return catalogSelection{}, err
	}

	var implicitIDs []string
	for _, category := range categories {
		if _, ok := explicitByCategory[category.ID]; !ok {
			implicitIDs = append(implicitIDs, category.ID)
		}
	}
	implicit, err := s.catalog.ListSubcategoriesByCategory(ctx, implicitIDs)
	if err != nil {
		return catalogSelection{}, err
	}

	selection := catalogSelection{
		categories:    categories,
		subcategories: explicitByCategory,
		subIndex:      make(map[string]domain.Subcategory),
	}
	for _, sub := range implicit {
		selection.subcategories[sub.CategoryID] = append(selection.subcategories[sub.CategoryID], sub)
	}
	for categoryID, subs := range selection.subcategories {
		sort.SliceStable(subs, func(i, j int) bool {
			if subs[i].Order == subs[j].Order {
				return subs[i].Name < subs[j].Name
			}
			return subs[i].Order < subs[j].Order
		})
		selection.subcategories[categoryID] = subs
		for _, sub := range subs {
			selection.subIndex[sub.ID] = sub
		}
	}
	return selection, nil
}

// assemble fetches the selected products and variants, prices every variant and prunes empty branches.
func (s *catalogService) assemble(ctx context.Context, req CatalogRequest) (CatalogDocument, error) {
	selection, err := s.resolveSelection(ctx, req)
	if err != nil {
		return CatalogDocument{}, err
	}
	rate, err := s.rates.CurrentRate(ctx)
	if err != nil {
		return CatalogDocument{}, fmt.Errorf("catalog: exchange rate unavailable: %w", err)
	}
	doc := CatalogDocument{
		Categories:   []CatalogCategory{},
		GeneratedAt:  s.clock(),
		ExchangeRate: rate.StringFixed(2),
		ShowPrices:   req.ShowPrices,
	}
	if len(selection.subIndex) == 0 {
		return doc, nil
	}

	subIDs := make([]string, 0, len(selection.subIndex))
	for id := range selection.subIndex {
		subIDs = append(subIDs, id)
	}
	sort.Strings(subIDs)
	products, err := s.catalog.ListProducts(ctx, repositories.ProductFilter{SubcategoryIDs: subIDs, Limit: s.productLimit + 1})
	if err != nil {
		return CatalogDocument{}, err
	}
	if len(products) > s.productLimit {
		return CatalogDocument{}, fmt.Errorf("%w: selection too large, more than %d products", ErrCatalogInvalidRequest, s.productLimit)
	}

	productsBySub := make(map[string][]domain.Product)
	productIDs := make([]string, 0, len(products))
	for _, product := range products {
		sub, ok := selection.subIndex[product.SubcategoryID]
		if !ok || !product.Active || sub.CategoryID != product.CategoryID {
			continue
		}
		productsBySub[product.SubcategoryID] = append(productsBySub[product.SubcategoryID], product)
		productIDs = append(productIDs, product.ID)
	}
	if len(productIDs) == 0 {
		return doc, nil
	}

	variants, err := s.variants.ListByProducts(ctx, productIDs, repositories.VariantFilter{InStockOnly: req.InStockOnly, Limit: s.variantLimit + 1})
	if err != nil {
		return CatalogDocument{}, err
	}
	if len(variants) > s.variantLimit {
		return CatalogDocument{}, fmt.Errorf("%w: selection too large, more than %d variants", ErrCatalogInvalidRequest, s.variantLimit)
	}
	variantsByProduct := make(map[string][]domain.ProductVariant)
	for _, variant := range variants {
		variantsByProduct[variant.ProductID] = append(variantsByProduct[variant.ProductID], variant)
	}

	for _, category := range selection.categories {
		node := CatalogCategory{ID: category.ID, Name: category.Name}
		for _, sub := range selection.subcategories[category.ID] {
			subNode := CatalogSubcategory{ID: sub.ID, Name: sub.Name}
			subProducts := productsBySub[sub.ID]
			sort.SliceStable(subProducts, func(i, j int) bool { return subProducts[i].Name < subProducts[j].Name })
			for _, product := range subProducts {
				productNode := CatalogProduct{ID: product.ID, Name: product.Name, Description: product.Description}
				for _, variant := range variantsByProduct[product.ID] {
					productNode.Variants = append(productNode.Variants, s.priceVariant(product, variant, rate, req))
				}
				if len(productNode.Variants) == 0 {
					continue
				}
				sort.SliceStable(productNode.Variants, func(i, j int) bool {
					return productNode.Variants[i].ColorName < productNode.Variants[j].ColorName
				})
				subNode.Products = append(subNode.Products, productNode)
			}
			if len(subNode.Products) > 0 {
				node.Subcategories = append(node.Subcategories, subNode)
			}
		}
		if len(node.Subcategories) > 0 {
			doc.Categories = append(doc.Categories, node)
		}
	}
	return doc, nil
}

func (s *catalogService) priceVariant(product domain.Product, variant domain.ProductVariant, rate decimal.Decimal, req CatalogRequest) CatalogVariant {
	node := CatalogVariant{
		ID:        variant.ID,
		ColorName: variant.Color.Name,
		ColorHex:  variant.Color.Hex,
		Stock:     variant.Stock,
	}
	if !req.ShowPrices {
		return node
	}
	usd := ResolvePrice(variant.PriceUSD, product.CategoryID, product.SubcategoryID, req.Adjustments)
	ars := usd.Mul(rate).Round(2)
	node.PriceUSD = usd.StringFixed(2)
	node.PriceARS = ars.StringFixed(2)
	node.PriceARSLabel = FormatARS(ars)
	return node
}

// FormatARS renders an amount the way Argentine customers read prices: "$ 1.234.567,89".
// The amount is rounded half away from zero to cents before formatting.
func FormatARS(amount decimal.Decimal) string {
	rounded := amount.Round(2)
	whole, cents, _ := strings.Cut(rounded.Abs().StringFixed(2), ".")
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
	}
	return "$ " + sign + groupThousands(whole) + "," + cents
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	b.Grow(len(digits) + len(digits)/3)
	head := len(digits) % 3
	if head == 0 {
		head = 3
	}
	b.WriteString(digits[:head])
	for i := head; i < len(digits); i += 3 {
		b.WriteByte('.')
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

func countCatalogProducts(doc CatalogDocument) int {
	total := 0
	for _, category := range doc.Categories {
		for _, sub := range category.Subcategories {
			total += len(sub.Products)
		}
	}
	return total
}
