package firestore

import (
	"context"
	"errors"
	"sort"

	"cloud.google.com/go/firestore"

	domain "github.com/vitrina/api/internal/domain"
	pfirestore "github.com/vitrina/api/internal/platform/firestore"
	"github.com/vitrina/api/internal/repositories"
)

const (
	variantsCollection = "product_variants"
	defaultListLimit   = 100
)

// VariantRepository stores product variants. Document ids are the deterministic variant ids,
// so a second variant with the same product and color collides on Create.
type VariantRepository struct {
	base *pfirestore.BaseRepository[variantDocument]
}

// NewVariantRepository constructs a Firestore-backed variant repository.
func NewVariantRepository(provider *pfirestore.Provider) (*VariantRepository, error) {
	if provider == nil {
		return nil, errors.New("variant repository requires firestore provider")
	}
	return &VariantRepository{base: pfirestore.NewBaseRepository[variantDocument](provider, variantsCollection)}, nil
}

func (r *VariantRepository) Insert(ctx context.Context, variant domain.ProductVariant) error {
	return r.base.Create(ctx, variant.ID, newVariantDocument(variant))
}

func (r *VariantRepository) Update(ctx context.Context, variant domain.ProductVariant) error {
	if _, err := r.base.Get(ctx, variant.ID); err != nil {
		return err
	}
	return r.base.Set(ctx, variant.ID, newVariantDocument(variant))
}

func (r *VariantRepository) FindByID(ctx context.Context, variantID string) (domain.ProductVariant, error) {
	doc, err := r.base.Get(ctx, variantID)
	if err != nil {
		return domain.ProductVariant{}, err
	}
	return doc.toDomain(variantID)
}

func (r *VariantRepository) FindByIDs(ctx context.Context, variantIDs []string) (map[string]domain.ProductVariant, error) {
	docs, err := r.base.GetAll(ctx, variantIDs)
	if err != nil {
		return nil, err
	}
	result := make(map[string]domain.ProductVariant, len(docs))
	for id, doc := range docs {
		variant, err := doc.toDomain(id)
		if err != nil {
			return nil, err
		}
		result[id] = variant
	}
	return result, nil
}

func (r *VariantRepository) ListByProducts(ctx context.Context, productIDs []string, filter repositories.VariantFilter) ([]domain.ProductVariant, error) {
	docs, ids, err := r.base.QueryIn(ctx, productIDs, func(q firestore.Query, chunk []string) firestore.Query {
		q = q.Where("productId", "in", chunk)
		if filter.InStockOnly {
			q = q.Where("stock", ">", 0)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	variants, err := decodeVariants(docs, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(variants, func(i, j int) bool { return variants[i].ID < variants[j].ID })
	if filter.Limit > 0 && len(variants) > filter.Limit {
		variants = variants[:filter.Limit]
	}
	return variants, nil
}

// List pages through every variant in document id order.
func (r *VariantRepository) List(ctx context.Context, filter repositories.VariantListFilter) ([]domain.ProductVariant, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	docs, ids, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.OrderBy(firestore.DocumentID, firestore.Asc)
		if filter.AfterID != "" {
			q = q.StartAfter(filter.AfterID)
		}
		return q.Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	return decodeVariants(docs, ids)
}

func decodeVariants(docs []variantDocument, ids []string) ([]domain.ProductVariant, error) {
	variants := make([]domain.ProductVariant, 0, len(docs))
	for i, doc := range docs {
		variant, err := doc.toDomain(ids[i])
		if err != nil {
			return nil, err
		}
		variants = append(variants, variant)
	}
	return variants, nil
}
