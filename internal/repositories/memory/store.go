// Package memory provides process-local repositories used by tests and by the memory persistence driver.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	domain "github.com/vitrina/api/internal/domain"
	"github.com/vitrina/api/internal/repositories"
)

// Error implements repositories.RepositoryError for the in-memory store.
type Error struct {
	op       string
	notFound bool
	conflict bool
}

func (e *Error) Error() string {
	switch {
	case e.notFound:
		return fmt.Sprintf("memory: %s: not found", e.op)
	case e.conflict:
		return fmt.Sprintf("memory: %s: conflict", e.op)
	default:
		return fmt.Sprintf("memory: %s", e.op)
	}
}

// IsNotFound reports whether the record was missing.
func (e *Error) IsNotFound() bool { return e.notFound }

// IsConflict reports whether the write collided with an existing record.
func (e *Error) IsConflict() bool { return e.conflict }

// IsUnavailable is always false for the in-memory store.
func (e *Error) IsUnavailable() bool { return false }

func notFound(op string) error { return &Error{op: op, notFound: true} }

func conflict(op string) error { return &Error{op: op, conflict: true} }

type txKey struct{}

type state struct {
	variants      map[string]domain.ProductVariant
	movements     []domain.StockMovement
	orders        map[string]domain.Order
	categories    map[string]domain.Category
	subcategories map[string]domain.Subcategory
	products      map[string]domain.Product
	counters      map[string]int64
}

func newState() state {
	return state{
		variants:      make(map[string]domain.ProductVariant),
		orders:        make(map[string]domain.Order),
		categories:    make(map[string]domain.Category),
		subcategories: make(map[string]domain.Subcategory),
		products:      make(map[string]domain.Product),
		counters:      make(map[string]int64),
	}
}

func (s state) clone() state {
	out := newState()
	for k, v := range s.variants {
		out.variants[k] = v
	}
	out.movements = append([]domain.StockMovement(nil), s.movements...)
	for k, v := range s.orders {
		out.orders[k] = cloneOrder(v)
	}
	for k, v := range s.categories {
		out.categories[k] = v
	}
	for k, v := range s.subcategories {
		out.subcategories[k] = v
	}
	for k, v := range s.products {
		out.products[k] = v
	}
	for k, v := range s.counters {
		out.counters[k] = v
	}
	return out
}

// Store is an in-memory implementation of repositories.Registry. Transactions are serialised and
// roll back to a snapshot when the callback fails; nested calls join the active transaction.
type Store struct {
	txMu sync.Mutex

	mu   sync.RWMutex
	data state
}

var _ repositories.Registry = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{data: newState()}
}

// RunInTx implements repositories.UnitOfWork.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("memory: transaction function is nil")
	}
	if s.inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Variants() repositories.VariantRepository   { return variantRepository{s} }
func (s *Store) Movements() repositories.MovementRepository { return movementRepository{s} }
func (s *Store) Orders() repositories.OrderRepository       { return orderRepository{s} }
func (s *Store) Catalog() repositories.CatalogRepository    { return catalogRepository{s} }
func (s *Store) Counters() repositories.CounterRepository   { return counterRepository{s} }

func (s *Store) inTx(ctx context.Context) bool {
	owner, ok := ctx.Value(txKey{}).(*Store)
	return ok && owner == s
}

// write applies fn under the store lock. Writes outside a transaction wait for the active one to finish
// so a rollback never discards them.
func (s *Store) write(ctx context.Context, fn func(*state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.inTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.data)
}

func (s *Store) read(ctx context.Context, fn func(*state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&s.data)
}

// SeedCategory stores a category for catalog reads.
func (s *Store) SeedCategory(category domain.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.categories[category.ID] = category
}

// SeedSubcategory stores a subcategory for catalog reads.
func (s *Store) SeedSubcategory(subcategory domain.Subcategory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.subcategories[subcategory.ID] = subcategory
}

// SeedProduct stores a product for catalog reads.
func (s *Store) SeedProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.products[product.ID] = product
}

// SeedVariant stores a variant as-is, bypassing the ledger. Tests use it to simulate drift.
func (s *Store) SeedVariant(variant domain.ProductVariant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.variants[variant.ID] = variant
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	order.StatusHistory = append([]domain.OrderStatusChange(nil), order.StatusHistory...)
	if order.Refund != nil {
		refund := *order.Refund
		order.Refund = &refund
	}
	return order
}
