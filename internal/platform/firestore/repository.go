package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

const (
	// inQueryLimit is the maximum number of values Firestore accepts in an "in" filter.
	inQueryLimit = 30
	getAllLimit  = 100
)

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// BaseRepository provides typed, transaction-aware helpers over a single collection.
// Inside RunInTx reads go through the transaction and writes are staged until commit;
// a document written earlier in the same transaction is read back from the stage.
type BaseRepository[T any] struct {
	provider   *Provider
	collection string
}

// NewBaseRepository constructs a BaseRepository bound to a collection.
func NewBaseRepository[T any](provider *Provider, collection string) *BaseRepository[T] {
	return &BaseRepository[T]{
		provider:   provider,
		collection: strings.TrimSpace(collection),
	}
}

// Get loads and decodes the document by id.
func (r *BaseRepository[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	ref, err := r.DocumentRef(ctx, id)
	if err != nil {
		return zero, err
	}
	if session, ok := sessionFrom(ctx); ok {
		if staged, ok := session.lookup(ref); ok {
			if value, ok := staged.(T); ok {
				return value, nil
			}
		}
	}

	snapshot, err := getSnapshot(ctx, ref)
	if err != nil {
		return zero, WrapError(r.op("get"), err)
	}
	var value T
	if err := snapshot.DataTo(&value); err != nil {
		return zero, fmt.Errorf("firestore: decode %s/%s: %w", r.collection, id, err)
	}
	return value, nil
}

// GetAll loads the documents that exist among ids. Missing documents are omitted from the result.
func (r *BaseRepository[T]) GetAll(ctx context.Context, ids []string) (map[string]T, error) {
	out := make(map[string]T, len(ids))
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, err
	}
	session, inTx := sessionFrom(ctx)
	for _, chunk := range Chunk(ids, getAllLimit) {
		refs := make([]*firestore.DocumentRef, 0, len(chunk))
		for _, id := range chunk {
			ref := coll.Doc(id)
			if inTx {
				if staged, ok := session.lookup(ref); ok {
					if value, ok := staged.(T); ok {
						out[id] = value
						continue
					}
				}
			}
			refs = append(refs, ref)
		}
		if len(refs) == 0 {
			continue
		}

		var snapshots []*firestore.DocumentSnapshot
		if inTx {
			snapshots, err = session.tx.GetAll(refs)
		} else {
			var client *firestore.Client
			if client, err = r.provider.Client(ctx); err == nil {
				snapshots, err = client.GetAll(ctx, refs)
			}
		}
		if err != nil {
			return nil, WrapError(r.op("get_all"), err)
		}
		for _, snapshot := range snapshots {
			if snapshot == nil || !snapshot.Exists() {
				continue
			}
			var value T
			if err := snapshot.DataTo(&value); err != nil {
				return nil, fmt.Errorf("firestore: decode %s/%s: %w", r.collection, snapshot.Ref.ID, err)
			}
			out[snapshot.Ref.ID] = value
		}
	}
	return out, nil
}

// Set upserts the document. Within a transaction the write is staged.
func (r *BaseRepository[T]) Set(ctx context.Context, id string, value T) error {
	ref, err := r.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if session, ok := sessionFrom(ctx); ok {
		session.stage(ref, value, false)
		return nil
	}
	if _, err := ref.Set(ctx, value); err != nil {
		return WrapError(r.op("set"), err)
	}
	return nil
}

// Create inserts the document and fails with a conflict when it already exists.
func (r *BaseRepository[T]) Create(ctx context.Context, id string, value T) error {
	ref, err := r.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if session, ok := sessionFrom(ctx); ok {
		session.stage(ref, value, true)
		return nil
	}
	if _, err := ref.Create(ctx, value); err != nil {
		return WrapError(r.op("create"), err)
	}
	return nil
}

// Query executes a collection query and returns the decoded documents keyed in result order.
func (r *BaseRepository[T]) Query(ctx context.Context, build QueryBuilder) ([]T, []string, error) {
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, nil, err
	}

	query := coll.Query
	if build != nil {
		query = build(query)
	}

	iter := queryDocuments(ctx, query)
	defer iter.Stop()

	var (
		values []T
		ids    []string
	)
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, nil, WrapError(r.op("query"), err)
		}
		var value T
		if err := snapshot.DataTo(&value); err != nil {
			return nil, nil, fmt.Errorf("firestore: decode %s/%s: %w", r.collection, snapshot.Ref.ID, err)
		}
		values = append(values, value)
		ids = append(ids, snapshot.Ref.ID)
	}
	return values, ids, nil
}

// QueryIn runs build once per chunk of values so "in" filters stay within Firestore limits.
func (r *BaseRepository[T]) QueryIn(ctx context.Context, values []string, build func(query firestore.Query, chunk []string) firestore.Query) ([]T, []string, error) {
	var (
		out []T
		ids []string
	)
	for _, chunk := range Chunk(values, inQueryLimit) {
		chunk := chunk
		docs, docIDs, err := r.Query(ctx, func(q firestore.Query) firestore.Query {
			return build(q, chunk)
		})
		if err != nil {
			return nil, nil, err
		}
		out = append(out, docs...)
		ids = append(ids, docIDs...)
	}
	return out, ids, nil
}

// DocumentRef exposes the underlying document reference.
func (r *BaseRepository[T]) DocumentRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(r.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (r *BaseRepository[T]) collectionRef(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, WrapError(r.op("collection"), errors.New("firestore: provider is nil"))
	}
	if r.collection == "" {
		return nil, WrapError(r.op("collection"), errors.New("firestore: collection name is required"))
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(r.collection), nil
}

func (r *BaseRepository[T]) op(action string) string {
	name := "firestore"
	if r != nil && r.collection != "" {
		name = r.collection
	}
	return fmt.Sprintf("%s.%s", name, strings.ToLower(action))
}

// Chunk splits values into deduplicated slices of at most size elements, skipping blanks.
func Chunk(values []string, size int) [][]string {
	if size <= 0 {
		size = inQueryLimit
	}
	seen := make(map[string]struct{}, len(values))
	var (
		chunks  [][]string
		current []string
	)
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		current = append(current, value)
		if len(current) == size {
			chunks = append(chunks, current)
			current = nil
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}
