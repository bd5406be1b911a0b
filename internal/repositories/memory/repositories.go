package memory

import (
	"context"
	"sort"
	"strings"

	domain "github.com/vitrina/api/internal/domain"
	"github.com/vitrina/api/internal/repositories"
)

const defaultListLimit = 100

type variantRepository struct{ s *Store }

func (r variantRepository) Insert(ctx context.Context, variant domain.ProductVariant) error {
	return r.s.write(ctx, func(st *state) error {
		if _, exists := st.variants[variant.ID]; exists {
			return conflict("variants.insert")
		}
		for _, existing := range st.variants {
			if existing.ProductID == variant.ProductID && strings.EqualFold(existing.Color.Hex, variant.Color.Hex) {
				return conflict("variants.insert")
			}
		}
		st.variants[variant.ID] = variant
		return nil
	})
}

func (r variantRepository) Update(ctx context.Context, variant domain.ProductVariant) error {
	return r.s.write(ctx, func(st *state) error {
		if _, exists := st.variants[variant.ID]; !exists {
			return notFound("variants.update")
		}
		st.variants[variant.ID] = variant
		return nil
	})
}

func (r variantRepository) FindByID(ctx context.Context, variantID string) (domain.ProductVariant, error) {
	var variant domain.ProductVariant
	err := r.s.read(ctx, func(st *state) error {
		found, ok := st.variants[variantID]
		if !ok {
			return notFound("variants.get")
		}
		variant = found
		return nil
	})
	return variant, err
}

func (r variantRepository) FindByIDs(ctx context.Context, variantIDs []string) (map[string]domain.ProductVariant, error) {
	result := make(map[string]domain.ProductVariant, len(variantIDs))
	err := r.s.read(ctx, func(st *state) error {
		for _, id := range variantIDs {
			if variant, ok := st.variants[id]; ok {
				result[id] = variant
			}
		}
		return nil
	})
	return result, err
}

func (r variantRepository) ListByProducts(ctx context.Context, productIDs []string, filter repositories.VariantFilter) ([]domain.ProductVariant, error) {
	wanted := toSet(productIDs)
	var result []domain.ProductVariant
	err := r.s.read(ctx, func(st *state) error {
		for _, variant := range st.variants {
			if _, ok := wanted[variant.ProductID]; !ok {
				continue
			}
			if filter.InStockOnly && variant.Stock <= 0 {
				continue
			}
			result = append(result, variant)
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return truncate(result, filter.Limit), err
}

func (r variantRepository) List(ctx context.Context, filter repositories.VariantListFilter) ([]domain.ProductVariant, error) {
	var result []domain.ProductVariant
	err := r.s.read(ctx, func(st *state) error {
		for _, variant := range st.variants {
			if variant.ID > filter.AfterID {
				result = append(result, variant)
			}
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	return truncate(result, limit), err
}

type movementRepository struct{ s *Store }

func (r movementRepository) Append(ctx context.Context, movement domain.StockMovement) error {
	return r.s.write(ctx, func(st *state) error {
		for _, existing := range st.movements {
			if existing.ID == movement.ID {
				return conflict("movements.append")
			}
		}
		st.movements = append(st.movements, movement)
		return nil
	})
}

func (r movementRepository) ListByVariant(ctx context.Context, variantID string, filter repositories.MovementListFilter) ([]domain.StockMovement, error) {
	var result []domain.StockMovement
	err := r.s.read(ctx, func(st *state) error {
		for _, movement := range st.movements {
			if movement.VariantID == variantID {
				result = append(result, movement)
			}
		}
		return nil
	})
	// Appends are chronological, so insertion order breaks timestamp ties.
	if !filter.Ascending {
		for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
			result[i], result[j] = result[j], result[i]
		}
	}
	return truncate(result, filter.Limit), err
}

type orderRepository struct{ s *Store }

func (r orderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.s.write(ctx, func(st *state) error {
		if _, exists := st.orders[order.ID]; exists {
			return conflict("orders.insert")
		}
		st.orders[order.ID] = cloneOrder(order)
		return nil
	})
}

func (r orderRepository) Update(ctx context.Context, order domain.Order) error {
	return r.s.write(ctx, func(st *state) error {
		if _, exists := st.orders[order.ID]; !exists {
			return notFound("orders.update")
		}
		st.orders[order.ID] = cloneOrder(order)
		return nil
	})
}

func (r orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var order domain.Order
	err := r.s.read(ctx, func(st *state) error {
		found, ok := st.orders[orderID]
		if !ok {
			return notFound("orders.get")
		}
		order = cloneOrder(found)
		return nil
	})
	return order, err
}

func (r orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	var result []domain.Order
	err := r.s.read(ctx, func(st *state) error {
		for _, order := range st.orders {
			if order.Hidden && !filter.IncludeHidden {
				continue
			}
			if filter.Status != "" && order.Status != filter.Status {
				continue
			}
			result = append(result, cloneOrder(order))
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	return truncate(result, limit), err
}

type catalogRepository struct{ s *Store }

func (r catalogRepository) ListCategories(ctx context.Context, categoryIDs []string) ([]domain.Category, error) {
	var result []domain.Category
	wanted := toSet(categoryIDs)
	err := r.s.read(ctx, func(st *state) error {
		for id, category := range st.categories {
			if _, ok := wanted[id]; ok || len(wanted) == 0 {
				result = append(result, category)
			}
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool {
		if result[i].Order == result[j].Order {
			return result[i].Name < result[j].Name
		}
		return result[i].Order < result[j].Order
	})
	return result, err
}

func (r catalogRepository) ListSubcategories(ctx context.Context, subcategoryIDs []string) ([]domain.Subcategory, error) {
	var result []domain.Subcategory
	err := r.s.read(ctx, func(st *state) error {
		for id := range toSet(subcategoryIDs) {
			if subcategory, ok := st.subcategories[id]; ok {
				result = append(result, subcategory)
			}
		}
		return nil
	})
	sortSubcategories(result)
	return result, err
}

func (r catalogRepository) ListSubcategoriesByCategory(ctx context.Context, categoryIDs []string) ([]domain.Subcategory, error) {
	wanted := toSet(categoryIDs)
	var result []domain.Subcategory
	err := r.s.read(ctx, func(st *state) error {
		for _, subcategory := range st.subcategories {
			if _, ok := wanted[subcategory.CategoryID]; ok {
				result = append(result, subcategory)
			}
		}
		return nil
	})
	sortSubcategories(result)
	return result, err
}

func (r catalogRepository) ListProducts(ctx context.Context, filter repositories.ProductFilter) ([]domain.Product, error) {
	categories := toSet(filter.CategoryIDs)
	subcategories := toSet(filter.SubcategoryIDs)
	var result []domain.Product
	err := r.s.read(ctx, func(st *state) error {
		for _, product := range st.products {
			if !product.Active {
				continue
			}
			if len(categories) > 0 {
				if _, ok := categories[product.CategoryID]; !ok {
					continue
				}
			}
			if len(subcategories) > 0 {
				if _, ok := subcategories[product.SubcategoryID]; !ok {
					continue
				}
			}
			result = append(result, product)
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name == result[j].Name {
			return result[i].ID < result[j].ID
		}
		return result[i].Name < result[j].Name
	})
	return truncate(result, filter.Limit), err
}

func (r catalogRepository) FindProduct(ctx context.Context, productID string) (domain.Product, error) {
	var product domain.Product
	err := r.s.read(ctx, func(st *state) error {
		found, ok := st.products[productID]
		if !ok {
			return notFound("products.get")
		}
		product = found
		return nil
	})
	return product, err
}

type counterRepository struct{ s *Store }

func (r counterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if step <= 0 {
		step = 1
	}
	var value int64
	err := r.s.write(ctx, func(st *state) error {
		st.counters[counterID] += step
		value = st.counters[counterID]
		return nil
	})
	return value, err
}

func sortSubcategories(items []domain.Subcategory) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Order == items[j].Order {
			return items[i].Name < items[j].Name
		}
		return items[i].Order < items[j].Order
	})
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			set[value] = struct{}{}
		}
	}
	return set
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
