package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/vitrina/api/internal/platform/firestore"
	"github.com/vitrina/api/internal/repositories"
)

// Registry wires the Firestore repositories over a shared provider and exposes its unit of work.
type Registry struct {
	provider  *pfirestore.Provider
	variants  *VariantRepository
	movements *MovementRepository
	orders    *OrderRepository
	catalog   *CatalogRepository
	counters  *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every Firestore repository against provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	reg := &Registry{provider: provider}
	var err error
	if reg.variants, err = NewVariantRepository(provider); err != nil {
		return nil, err
	}
	if reg.movements, err = NewMovementRepository(provider); err != nil {
		return nil, err
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.catalog, err = NewCatalogRepository(provider); err != nil {
		return nil, err
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Variants() repositories.VariantRepository   { return r.variants }
func (r *Registry) Movements() repositories.MovementRepository { return r.movements }
func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }
func (r *Registry) Catalog() repositories.CatalogRepository    { return r.catalog }
func (r *Registry) Counters() repositories.CounterRepository   { return r.counters }

// RunInTx implements repositories.UnitOfWork.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunInTx(ctx, fn)
}
