package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/vitrina/api/internal/domain"
	pfirestore "github.com/vitrina/api/internal/platform/firestore"
	"github.com/vitrina/api/internal/repositories"
)

const (
	categoriesCollection    = "categories"
	subcategoriesCollection = "subcategories"
	productsCollection      = "products"
)

// CatalogRepository reads the category tree and products. The tree is maintained outside this service.
type CatalogRepository struct {
	categories    *pfirestore.BaseRepository[categoryDocument]
	subcategories *pfirestore.BaseRepository[subcategoryDocument]
	products      *pfirestore.BaseRepository[productDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		categories:    pfirestore.NewBaseRepository[categoryDocument](provider, categoriesCollection),
		subcategories: pfirestore.NewBaseRepository[subcategoryDocument](provider, subcategoriesCollection),
		products:      pfirestore.NewBaseRepository[productDocument](provider, productsCollection),
	}, nil
}

func (r *CatalogRepository) ListCategories(ctx context.Context, categoryIDs []string) ([]domain.Category, error) {
	var result []domain.Category
	if len(pfirestore.Chunk(categoryIDs, 1)) == 0 {
		docs, ids, err := r.categories.Query(ctx, nil)
		if err != nil {
			return nil, err
		}
		for i, doc := range docs {
			result = append(result, domain.Category{ID: ids[i], Name: doc.Name, Order: doc.Order})
		}
	} else {
		docs, err := r.categories.GetAll(ctx, categoryIDs)
		if err != nil {
			return nil, err
		}
		for id, doc := range docs {
			result = append(result, domain.Category{ID: id, Name: doc.Name, Order: doc.Order})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Order == result[j].Order {
			return result[i].Name < result[j].Name
		}
		return result[i].Order < result[j].Order
	})
	return result, nil
}

func (r *CatalogRepository) ListSubcategories(ctx context.Context, subcategoryIDs []string) ([]domain.Subcategory, error) {
	docs, err := r.subcategories.GetAll(ctx, subcategoryIDs)
	if err != nil {
		return nil, err
	}
	result := make([]domain.Subcategory, 0, len(docs))
	for id, doc := range docs {
		result = append(result, doc.toDomain(id))
	}
	sortSubcategories(result)
	return result, nil
}

func (r *CatalogRepository) ListSubcategoriesByCategory(ctx context.Context, categoryIDs []string) ([]domain.Subcategory, error) {
	docs, ids, err := r.subcategories.QueryIn(ctx, categoryIDs, func(q firestore.Query, chunk []string) firestore.Query {
		return q.Where("categoryId", "in", chunk)
	})
	if err != nil {
		return nil, err
	}
	result := make([]domain.Subcategory, 0, len(docs))
	for i, doc := range docs {
		result = append(result, doc.toDomain(ids[i]))
	}
	sortSubcategories(result)
	return result, nil
}

// ListProducts returns active products. Subcategory ids drive the query when present; category ids
// are applied in memory on top so both filters can combine without a composite "in" query.
func (r *CatalogRepository) ListProducts(ctx context.Context, filter repositories.ProductFilter) ([]domain.Product, error) {
	var (
		docs []productDocument
		ids  []string
		err  error
	)
	switch {
	case len(filter.SubcategoryIDs) > 0:
		docs, ids, err = r.products.QueryIn(ctx, filter.SubcategoryIDs, func(q firestore.Query, chunk []string) firestore.Query {
			return q.Where("active", "==", true).Where("subcategoryId", "in", chunk)
		})
	case len(filter.CategoryIDs) > 0:
		docs, ids, err = r.products.QueryIn(ctx, filter.CategoryIDs, func(q firestore.Query, chunk []string) firestore.Query {
			return q.Where("active", "==", true).Where("categoryId", "in", chunk)
		})
	default:
		docs, ids, err = r.products.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("active", "==", true)
		})
	}
	if err != nil {
		return nil, err
	}

	categories := make(map[string]struct{}, len(filter.CategoryIDs))
	for _, id := range filter.CategoryIDs {
		if id = strings.TrimSpace(id); id != "" {
			categories[id] = struct{}{}
		}
	}
	result := make([]domain.Product, 0, len(docs))
	for i, doc := range docs {
		if len(categories) > 0 {
			if _, ok := categories[doc.CategoryID]; !ok {
				continue
			}
		}
		result = append(result, doc.toDomain(ids[i]))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name == result[j].Name {
			return result[i].ID < result[j].ID
		}
		return result[i].Name < result[j].Name
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (r *CatalogRepository) FindProduct(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.toDomain(productID), nil
}

func (d subcategoryDocument) toDomain(id string) domain.Subcategory {
	return domain.Subcategory{ID: id, CategoryID: d.CategoryID, Name: d.Name, Order: d.Order}
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:            id,
		Name:          d.Name,
		Description:   d.Description,
		CategoryID:    d.CategoryID,
		SubcategoryID: d.SubcategoryID,
		Active:        d.Active,
	}
}

func sortSubcategories(items []domain.Subcategory) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Order == items[j].Order {
			return items[i].Name < items[j].Name
		}
		return items[i].Order < items[j].Order
	})
}
