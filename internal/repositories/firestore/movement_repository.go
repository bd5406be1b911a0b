package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	domain "github.com/vitrina/api/internal/domain"
	pfirestore "github.com/vitrina/api/internal/platform/firestore"
	"github.com/vitrina/api/internal/repositories"
)

const movementsCollection = "stock_movements"

// MovementRepository is the append-only stock ledger.
type MovementRepository struct {
	base *pfirestore.BaseRepository[movementDocument]
}

// NewMovementRepository constructs a Firestore-backed movement repository.
func NewMovementRepository(provider *pfirestore.Provider) (*MovementRepository, error) {
	if provider == nil {
		return nil, errors.New("movement repository requires firestore provider")
	}
	return &MovementRepository{base: pfirestore.NewBaseRepository[movementDocument](provider, movementsCollection)}, nil
}

func (r *MovementRepository) Append(ctx context.Context, movement domain.StockMovement) error {
	return r.base.Create(ctx, movement.ID, newMovementDocument(movement))
}

// ListByVariant orders by creation time; ULID document ids break ties in append order.
func (r *MovementRepository) ListByVariant(ctx context.Context, variantID string, filter repositories.MovementListFilter) ([]domain.StockMovement, error) {
	direction := firestore.Desc
	if filter.Ascending {
		direction = firestore.Asc
	}
	docs, ids, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("variantId", "==", variantID).
			OrderBy("createdAt", direction).
			OrderBy(firestore.DocumentID, direction)
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	movements := make([]domain.StockMovement, 0, len(docs))
	for i, doc := range docs {
		movement, err := doc.toDomain(ids[i])
		if err != nil {
			return nil, err
		}
		movements = append(movements, movement)
	}
	return movements, nil
}
