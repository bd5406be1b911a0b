package repositories

import (
	"context"

	domain "github.com/vitrina/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Variants() VariantRepository
	Movements() MovementRepository
	Orders() OrderRepository
	Catalog() CatalogRepository
	Counters() CounterRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Calls nested inside an active unit of work join it instead of opening a new one.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// VariantRepository persists product variants and their stock/cost state.
type VariantRepository interface {
	Insert(ctx context.Context, variant domain.ProductVariant) error
	Update(ctx context.Context, variant domain.ProductVariant) error
	FindByID(ctx context.Context, variantID string) (domain.ProductVariant, error)
	// FindByIDs returns the variants that exist; missing ids are omitted.
	FindByIDs(ctx context.Context, variantIDs []string) (map[string]domain.ProductVariant, error)
	ListByProducts(ctx context.Context, productIDs []string, filter VariantFilter) ([]domain.ProductVariant, error)
	List(ctx context.Context, filter VariantListFilter) ([]domain.ProductVariant, error)
}

// MovementRepository appends immutable stock movements. There is no update or delete.
type MovementRepository interface {
	Append(ctx context.Context, movement domain.StockMovement) error
	ListByVariant(ctx context.Context, variantID string, filter MovementListFilter) ([]domain.StockMovement, error)
}

// OrderRepository persists order aggregates including their items and refund record.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
}

// CatalogRepository reads the category tree and products used by catalog generation and order snapshots.
type CatalogRepository interface {
	// ListCategories returns every category when categoryIDs is empty.
	ListCategories(ctx context.Context, categoryIDs []string) ([]domain.Category, error)
	ListSubcategories(ctx context.Context, subcategoryIDs []string) ([]domain.Subcategory, error)
	// ListSubcategoriesByCategory is the single rule deciding which subcategories belong to a category.
	ListSubcategoriesByCategory(ctx context.Context, categoryIDs []string) ([]domain.Subcategory, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]domain.Product, error)
	FindProduct(ctx context.Context, productID string) (domain.Product, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository probes downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

// VariantFilter narrows variant listings for catalog assembly.
type VariantFilter struct {
	InStockOnly bool
	Limit       int
}

// VariantListFilter pages through every variant ordered by id.
type VariantListFilter struct {
	AfterID string
	Limit   int
}

// MovementListFilter controls ledger listing order and size. Limit <= 0 returns every movement.
type MovementListFilter struct {
	Limit     int
	Ascending bool
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	Status        domain.OrderStatus
	IncludeHidden bool
	Limit         int
}

// ProductFilter selects active products by category/subcategory membership.
type ProductFilter struct {
	CategoryIDs    []string
	SubcategoryIDs []string
	Limit          int
}
