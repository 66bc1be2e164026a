package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
	"github.com/atvirokodosprendimai/doctrail/internal/core/ports"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// DocumentService validates requests and drives the document store. Auditing
// happens inside the store through the interceptors attached to it.
type DocumentService struct {
	store  ports.DocumentStore
	schema *SchemaService
}

type DocumentServiceOption func(*DocumentService)

// WithSchemaService validates document fields against collection schemas on write.
func WithSchemaService(schema *SchemaService) DocumentServiceOption {
	return func(s *DocumentService) {
		s.schema = schema
	}
}

func NewDocumentService(store ports.DocumentStore, opts ...DocumentServiceOption) *DocumentService {
	s := &DocumentService{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put creates the document or replaces all of its fields. The bool reports creation.
func (s *DocumentService) Put(ctx context.Context, tenantID, collection, id string, fields map[string]any) (*domain.Document, bool, error) {
	if err := validateRef(tenantID, collection, id); err != nil {
		return nil, false, err
	}

	created := false
	doc, err := s.store.Get(ctx, tenantID, collection, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		doc = domain.NewDocument(tenantID, collection, id, fields)
		created = true
	case err != nil:
		return nil, false, err
	default:
		if err := doc.Replace(fields); err != nil {
			return nil, false, err
		}
	}

	if err := s.validate(ctx, doc); err != nil {
		return nil, false, err
	}
	if err := s.store.Save(ctx, doc); err != nil {
		return nil, false, err
	}
	return doc, created, nil
}

// Patch sets and unsets dotted paths on an existing document.
func (s *DocumentService) Patch(ctx context.Context, tenantID, collection, id string, set map[string]any, unset []string) (*domain.Document, error) {
	if err := validateRef(tenantID, collection, id); err != nil {
		return nil, err
	}
	doc, err := s.store.Get(ctx, tenantID, collection, id)
	if err != nil {
		return nil, err
	}
	for _, path := range sortedKeys(set) {
		if err := doc.Set(path, set[path]); err != nil {
			return nil, fmt.Errorf("set %s: %w", path, err)
		}
	}
	for _, path := range unset {
		if err := doc.Unset(path); err != nil {
			return nil, fmt.Errorf("unset %s: %w", path, err)
		}
	}
	if err := s.validate(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *DocumentService) Get(ctx context.Context, tenantID, collection, id string) (*domain.Document, error) {
	if err := validateRef(tenantID, collection, id); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, tenantID, collection, id)
}

func (s *DocumentService) List(ctx context.Context, query domain.Query) ([]*domain.Document, error) {
	query, err := normalizeQuery(query)
	if err != nil {
		return nil, err
	}
	return s.store.Find(ctx, query)
}

func (s *DocumentService) SoftDelete(ctx context.Context, tenantID, collection, id string) (*domain.Document, error) {
	if err := validateRef(tenantID, collection, id); err != nil {
		return nil, err
	}
	doc, err := s.store.Get(ctx, tenantID, collection, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.SoftDelete(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *DocumentService) Restore(ctx context.Context, tenantID, collection, id string) (*domain.Document, error) {
	if err := validateRef(tenantID, collection, id); err != nil {
		return nil, err
	}
	doc, err := s.store.Get(ctx, tenantID, collection, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.Restore(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Delete hard-deletes one document. A missing document reports false.
func (s *DocumentService) Delete(ctx context.Context, tenantID, collection, id string) (bool, error) {
	if err := validateRef(tenantID, collection, id); err != nil {
		return false, err
	}
	doc, err := s.store.Get(ctx, tenantID, collection, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := s.store.Delete(ctx, doc); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteWhere removes the first match, or every match when many is set.
func (s *DocumentService) DeleteWhere(ctx context.Context, query domain.Query, many bool) (int, error) {
	query, err := normalizeCriteria(query)
	if err != nil {
		return 0, err
	}
	if !many {
		deleted, err := s.store.DeleteOne(ctx, query)
		if err != nil || !deleted {
			return 0, err
		}
		return 1, nil
	}
	return s.store.DeleteMany(ctx, query)
}

// UpdateWhere applies patch to the first match, or every match when many is set.
func (s *DocumentService) UpdateWhere(ctx context.Context, query domain.Query, patch domain.Patch, many bool) (int, error) {
	query, err := normalizeCriteria(query)
	if err != nil {
		return 0, err
	}
	if len(patch) == 0 {
		return 0, fmt.Errorf("%w: empty", domain.ErrInvalidPatch)
	}
	if !many {
		_, err := s.store.UpdateOne(ctx, query, patch)
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		return 1, nil
	}
	return s.store.UpdateMany(ctx, query, patch)
}

func (s *DocumentService) validate(ctx context.Context, doc *domain.Document) error {
	if s.schema == nil {
		return nil
	}
	data, err := json.Marshal(doc.Fields())
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	return s.schema.Validate(ctx, doc.TenantID, doc.Collection, data)
}

func validateRef(tenantID, collection, id string) error {
	if err := domain.ValidateKey(tenantID); err != nil {
		return err
	}
	if err := domain.ValidateCategory(collection); err != nil {
		return err
	}
	return domain.ValidateKey(id)
}

func normalizeQuery(query domain.Query) (domain.Query, error) {
	if err := query.Validate(); err != nil {
		return domain.Query{}, err
	}
	if query.Limit <= 0 {
		query.Limit = defaultListLimit
	}
	if query.Limit > maxListLimit {
		query.Limit = maxListLimit
	}
	return query, nil
}

// normalizeCriteria validates a query used as mutation criteria. A zero limit
// means every match.
func normalizeCriteria(query domain.Query) (domain.Query, error) {
	if err := query.Validate(); err != nil {
		return domain.Query{}, err
	}
	if query.Limit < 0 {
		query.Limit = 0
	}
	return query, nil
}
