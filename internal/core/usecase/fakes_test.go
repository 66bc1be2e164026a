package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
	"github.com/atvirokodosprendimai/doctrail/internal/core/ports"
)

type stubConn string

func (c stubConn) ConnID() string { return string(c) }

type stubOwner struct {
	conn domain.Connection
}

func (o stubOwner) Connection() domain.Connection { return o.conn }

func (o stubOwner) Save(_ context.Context, doc *domain.Document) error {
	doc.MarkPersisted(time.Now().UTC())
	return nil
}

// memWriter keeps appended entries in memory. failOn makes the n-th append
// (1-based) fail.
type memWriter struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	appends int
	failOn  int
	err     error
}

func (w *memWriter) Append(_ context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.appends++
	if w.failOn > 0 && w.appends == w.failOn {
		return domain.AuditEntry{}, w.err
	}
	if err := entry.Validate(); err != nil {
		return domain.AuditEntry{}, err
	}
	entry.ID = int64(len(w.entries) + 1)
	entry.EntryID = "entry-" + entry.TargetID
	entry.CreatedAt = time.Now().UTC()
	w.entries = append(w.entries, entry)
	return entry, nil
}

func (w *memWriter) Entries() []domain.AuditEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]domain.AuditEntry, len(w.entries))
	copy(out, w.entries)
	return out
}

func writerFactory(w ports.AuditWriter) ports.AuditWriterFactory {
	return func(context.Context, domain.Connection) (ports.AuditWriter, error) {
		return w, nil
	}
}

type stubTarget struct {
	kinds        map[string]domain.EntityKind
	interceptors map[string]ports.MutationInterceptor
	err          error
}

func (t *stubTarget) Intercept(kind domain.EntityKind, interceptor ports.MutationInterceptor) error {
	if t.err != nil {
		return t.err
	}
	if t.kinds == nil {
		t.kinds = map[string]domain.EntityKind{}
		t.interceptors = map[string]ports.MutationInterceptor{}
	}
	t.kinds[kind.Collection] = kind
	t.interceptors[kind.Collection] = interceptor
	return nil
}

// stubDocumentStore is a function-field DocumentStore. Unset functions
// return zero values.
type stubDocumentStore struct {
	stubTarget

	getFn        func(ctx context.Context, tenantID, collection, id string) (*domain.Document, error)
	findFn       func(ctx context.Context, query domain.Query) ([]*domain.Document, error)
	saveFn       func(ctx context.Context, doc *domain.Document) error
	softDeleteFn func(ctx context.Context, doc *domain.Document) error
	restoreFn    func(ctx context.Context, doc *domain.Document) error
	deleteFn     func(ctx context.Context, doc *domain.Document) error
	deleteOneFn  func(ctx context.Context, query domain.Query) (bool, error)
	deleteManyFn func(ctx context.Context, query domain.Query) (int, error)
	updateOneFn  func(ctx context.Context, query domain.Query, patch domain.Patch) (*domain.Document, error)
	updateManyFn func(ctx context.Context, query domain.Query, patch domain.Patch) (int, error)
}

var _ ports.DocumentStore = (*stubDocumentStore)(nil)

func (s *stubDocumentStore) Get(ctx context.Context, tenantID, collection, id string) (*domain.Document, error) {
	if s.getFn != nil {
		return s.getFn(ctx, tenantID, collection, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubDocumentStore) Find(ctx context.Context, query domain.Query) ([]*domain.Document, error) {
	if s.findFn != nil {
		return s.findFn(ctx, query)
	}
	return nil, nil
}

func (s *stubDocumentStore) FindOne(ctx context.Context, query domain.Query) (*domain.Document, error) {
	docs, err := s.Find(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, domain.ErrNotFound
	}
	return docs[0], nil
}

func (s *stubDocumentStore) Save(ctx context.Context, doc *domain.Document) error {
	if s.saveFn != nil {
		return s.saveFn(ctx, doc)
	}
	doc.MarkPersisted(time.Now().UTC())
	return nil
}

func (s *stubDocumentStore) SoftDelete(ctx context.Context, doc *domain.Document) error {
	if s.softDeleteFn != nil {
		return s.softDeleteFn(ctx, doc)
	}
	return nil
}

func (s *stubDocumentStore) Restore(ctx context.Context, doc *domain.Document) error {
	if s.restoreFn != nil {
		return s.restoreFn(ctx, doc)
	}
	return nil
}

func (s *stubDocumentStore) Delete(ctx context.Context, doc *domain.Document) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, doc)
	}
	return nil
}

func (s *stubDocumentStore) DeleteOne(ctx context.Context, query domain.Query) (bool, error) {
	if s.deleteOneFn != nil {
		return s.deleteOneFn(ctx, query)
	}
	return false, nil
}

func (s *stubDocumentStore) DeleteMany(ctx context.Context, query domain.Query) (int, error) {
	if s.deleteManyFn != nil {
		return s.deleteManyFn(ctx, query)
	}
	return 0, nil
}

func (s *stubDocumentStore) UpdateOne(ctx context.Context, query domain.Query, patch domain.Patch) (*domain.Document, error) {
	if s.updateOneFn != nil {
		return s.updateOneFn(ctx, query, patch)
	}
	return nil, domain.ErrNotFound
}

func (s *stubDocumentStore) UpdateMany(ctx context.Context, query domain.Query, patch domain.Patch) (int, error) {
	if s.updateManyFn != nil {
		return s.updateManyFn(ctx, query, patch)
	}
	return 0, nil
}

var errBoom = errors.New("boom")
