package firestore

import (
	"context"
	"errors"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	txAttempts = 5
	txTimeout  = 15 * time.Second
)

// TxFunc runs inside a unit of work. Repository calls made with the supplied ctx read through the
// transaction and stage their writes until TxFunc returns.
type TxFunc func(ctx context.Context) error

type sessionKey struct{}

type stagedWrite struct {
	ref    *firestore.DocumentRef
	data   any
	create bool
}

// txWriter is the write half of *firestore.Transaction.
type txWriter interface {
	Create(dr *firestore.DocumentRef, data interface{}) error
	Set(dr *firestore.DocumentRef, data interface{}, opts ...firestore.SetOption) error
}

// txSession buffers writes so every transactional read precedes the first write.
type txSession struct {
	tx *firestore.Transaction

	mu     sync.Mutex
	order  []string
	writes map[string]*stagedWrite
}

func newSession(tx *firestore.Transaction) *txSession {
	return &txSession{tx: tx, writes: make(map[string]*stagedWrite)}
}

// stage records a write. A later write to the same document replaces the data but keeps its slot.
func (s *txSession) stage(ref *firestore.DocumentRef, data any, create bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.writes[ref.Path]; ok {
		existing.data = data
		return
	}
	s.order = append(s.order, ref.Path)
	s.writes[ref.Path] = &stagedWrite{ref: ref, data: data, create: create}
}

func (s *txSession) lookup(ref *firestore.DocumentRef) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	write, ok := s.writes[ref.Path]
	if !ok {
		return nil, false
	}
	return write.data, true
}

func (s *txSession) flush(w txWriter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, path := range s.order {
		write := s.writes[path]
		var err error
		if write.create {
			err = w.Create(write.ref, write.data)
		} else {
			err = w.Set(write.ref, write.data)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func sessionFrom(ctx context.Context) (*txSession, bool) {
	if ctx == nil {
		return nil, false
	}
	session, ok := ctx.Value(sessionKey{}).(*txSession)
	return session, ok && session != nil
}

// InTransaction reports whether ctx carries an active unit of work.
func InTransaction(ctx context.Context) bool {
	_, ok := sessionFrom(ctx)
	return ok
}

// RunTransaction executes fn as a unit of work on client. A ctx that already carries one is joined
// instead of opening a nested transaction. Errors from fn are returned untouched so callers can
// match domain errors; only Firestore failures are wrapped.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc) error {
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}
	if InTransaction(ctx) {
		return fn(ctx)
	}
	if client == nil {
		return WrapError("transaction", errors.New("firestore: client is nil"))
	}

	txCtx := ctx
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > txTimeout {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, txTimeout)
		defer cancel()
	}

	var fnErr error
	err := client.RunTransaction(txCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		session := newSession(tx)
		fnErr = fn(context.WithValue(ctx, sessionKey{}, session))
		if fnErr != nil {
			return fnErr
		}
		return session.flush(tx)
	}, firestore.MaxAttempts(txAttempts))
	if fnErr != nil {
		return fnErr
	}
	return WrapError("transaction", err)
}

func getSnapshot(ctx context.Context, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	if session, ok := sessionFrom(ctx); ok {
		return session.tx.Get(ref)
	}
	return ref.Get(ctx)
}

func queryDocuments(ctx context.Context, query firestore.Query) *firestore.DocumentIterator {
	if session, ok := sessionFrom(ctx); ok {
		return session.tx.Documents(query)
	}
	return query.Documents(ctx)
}
