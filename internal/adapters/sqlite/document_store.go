package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/doctrail/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
	"github.com/atvirokodosprendimai/doctrail/internal/core/ports"
)

var ErrAlreadyIntercept = errors.New("collection already has an interceptor")

// BulkFailureMode decides what a failed audit write does to a bulk pathway.
type BulkFailureMode string

const (
	// BulkPartial writes audit entries outside the mutation. Entries written
	// before a failure stay; the bulk mutation is not applied.
	BulkPartial BulkFailureMode = "partial"
	// BulkAtomic runs fetch, audit writes and mutation in one write
	// transaction, so a failure leaves neither entries nor changes.
	BulkAtomic BulkFailureMode = "atomic"
)

func ParseBulkFailureMode(s string) (BulkFailureMode, error) {
	switch BulkFailureMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", BulkPartial:
		return BulkPartial, nil
	case BulkAtomic:
		return BulkAtomic, nil
	default:
		return "", fmt.Errorf("unknown bulk failure mode %q", s)
	}
}

type documentModel struct {
	TenantID   string         `gorm:"column:tenant_id;primaryKey"`
	Collection string         `gorm:"column:collection;primaryKey"`
	ID         string         `gorm:"column:id;primaryKey"`
	Data       datatypes.JSON `gorm:"column:data;not null"`
	CreatedAt  time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;not null"`
}

func (documentModel) TableName() string {
	return "documents"
}

// DocumentStore persists documents and runs the interceptor registered for a
// collection on every mutation pathway of that collection.
type DocumentStore struct {
	db       *gormsqlite.DB
	log      logrus.FieldLogger
	bulkMode BulkFailureMode
	now      func() time.Time

	mu           sync.RWMutex
	kinds        map[string]domain.EntityKind
	interceptors map[string]ports.MutationInterceptor
}

var (
	_ ports.DocumentStore = (*DocumentStore)(nil)
	_ domain.Owner        = (*DocumentStore)(nil)
)

type DocumentStoreOption func(*DocumentStore)

func WithStoreLogger(log logrus.FieldLogger) DocumentStoreOption {
	return func(s *DocumentStore) {
		if log != nil {
			s.log = log
		}
	}
}

func WithBulkFailureMode(mode BulkFailureMode) DocumentStoreOption {
	return func(s *DocumentStore) {
		if mode != "" {
			s.bulkMode = mode
		}
	}
}

// WithClock sets the time source for timestamps and tombstone values.
func WithClock(now func() time.Time) DocumentStoreOption {
	return func(s *DocumentStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewDocumentStore(db *gormsqlite.DB, opts ...DocumentStoreOption) *DocumentStore {
	s := &DocumentStore{
		db:           db,
		log:          logrus.StandardLogger(),
		bulkMode:     BulkPartial,
		now:          func() time.Time { return time.Now().UTC() },
		kinds:        make(map[string]domain.EntityKind),
		interceptors: make(map[string]ports.MutationInterceptor),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connection is the handle documents loaded from this store report.
func (s *DocumentStore) Connection() domain.Connection {
	return s.db
}

func (s *DocumentStore) Intercept(kind domain.EntityKind, interceptor ports.MutationInterceptor) error {
	kind = kind.Normalize()
	if err := kind.Validate(); err != nil {
		return err
	}
	if interceptor == nil {
		return errors.New("interceptor is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.interceptors[kind.Collection]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyIntercept, kind.Collection)
	}
	s.kinds[kind.Collection] = kind
	s.interceptors[kind.Collection] = interceptor
	return nil
}

func (s *DocumentStore) interceptor(collection string) (ports.MutationInterceptor, domain.EntityKind, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.interceptors[collection]
	if !ok {
		return nil, domain.EntityKind{Collection: collection}.Normalize(), false
	}
	return i, s.kinds[collection], true
}

func (s *DocumentStore) Get(ctx context.Context, tenantID, collection, id string) (*domain.Document, error) {
	var model documentModel
	err := s.db.Reader(ctx).
		Where("tenant_id = ? AND collection = ? AND id = ?", tenantID, collection, id).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return s.toDocument(model)
}

func (s *DocumentStore) Find(ctx context.Context, query domain.Query) ([]*domain.Document, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	q := s.db.Reader(ctx).Model(&documentModel{}).
		Where("tenant_id = ? AND collection = ?", query.TenantID, query.Collection)
	if query.Prefix != "" {
		q = q.Where("id >= ? AND id < ?", query.Prefix, query.Prefix+"\uffff")
	}
	if query.After != "" {
		q = q.Where("id > ?", query.After)
	}
	q, err := applyJSONFilter(q, query.JSON)
	if err != nil {
		return nil, err
	}
	q = q.Order("id ASC")
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}

	var models []documentModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("find documents: %w", err)
	}

	docs := make([]*domain.Document, 0, len(models))
	for _, model := range models {
		doc, err := s.toDocument(model)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *DocumentStore) FindOne(ctx context.Context, query domain.Query) (*domain.Document, error) {
	query.Limit = 1
	docs, err := s.Find(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, domain.ErrNotFound
	}
	return docs[0], nil
}

func (s *DocumentStore) Save(ctx context.Context, doc *domain.Document) error {
	return s.save(ctx, doc, ports.SaveDirect)
}

func (s *DocumentStore) save(ctx context.Context, doc *domain.Document, cause ports.SaveCause) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	if doc.Owner() == nil {
		doc.Bind(s)
	}
	if doc.IsNew() {
		if _, err := s.Get(ctx, doc.TenantID, doc.Collection, doc.ID); err == nil {
			return domain.ErrAlreadyExists
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}

	if interceptor, _, ok := s.interceptor(doc.Collection); ok {
		if err := interceptor.BeforeSave(ctx, doc, cause); err != nil {
			return fmt.Errorf("save %s/%s: %w", doc.Collection, doc.ID, err)
		}
	}

	data, err := json.Marshal(doc.Fields())
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	now := s.now()

	err = s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		if doc.IsNew() {
			var count int64
			if err := tx.Model(&documentModel{}).
				Where("tenant_id = ? AND collection = ? AND id = ?", doc.TenantID, doc.Collection, doc.ID).
				Count(&count).Error; err != nil {
				return fmt.Errorf("check document: %w", err)
			}
			if count > 0 {
				return domain.ErrAlreadyExists
			}
			model := documentModel{
				TenantID:   doc.TenantID,
				Collection: doc.Collection,
				ID:         doc.ID,
				Data:       datatypes.JSON(data),
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := tx.Create(&model).Error; err != nil {
				return fmt.Errorf("insert document: %w", err)
			}
			return nil
		}

		res := tx.Model(&documentModel{}).
			Where("tenant_id = ? AND collection = ? AND id = ?", doc.TenantID, doc.Collection, doc.ID).
			Updates(map[string]any{"data": datatypes.JSON(data), "updated_at": now})
		if res.Error != nil {
			return fmt.Errorf("update document: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	doc.MarkPersisted(now)
	return nil
}

// SoftDelete stamps the tombstone field with the current time and saves.
func (s *DocumentStore) SoftDelete(ctx context.Context, doc *domain.Document) error {
	interceptor, kind, tracked := s.interceptor(doc.Collection)
	if err := doc.Set(kind.TombstoneField, s.now().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	if err := s.save(ctx, doc, ports.SaveSoftDelete); err != nil {
		return err
	}
	if tracked {
		if err := interceptor.AfterSoftDelete(ctx, doc, kind.TombstoneField); err != nil {
			return fmt.Errorf("soft delete %s/%s: %w", doc.Collection, doc.ID, err)
		}
	}
	return nil
}

// Restore clears the tombstone field and saves.
func (s *DocumentStore) Restore(ctx context.Context, doc *domain.Document) error {
	interceptor, kind, tracked := s.interceptor(doc.Collection)
	if err := doc.Unset(kind.TombstoneField); err != nil {
		return err
	}
	if err := s.save(ctx, doc, ports.SaveRestore); err != nil {
		return err
	}
	if tracked {
		if err := interceptor.AfterRestore(ctx, doc, kind.TombstoneField); err != nil {
			return fmt.Errorf("restore %s/%s: %w", doc.Collection, doc.ID, err)
		}
	}
	return nil
}

func (s *DocumentStore) Delete(ctx context.Context, doc *domain.Document) error {
	if interceptor, _, ok := s.interceptor(doc.Collection); ok {
		if err := interceptor.BeforeRemove(ctx, doc); err != nil {
			return fmt.Errorf("delete %s/%s: %w", doc.Collection, doc.ID, err)
		}
	}

	var affected int64
	err := s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Where("tenant_id = ? AND collection = ? AND id = ?", doc.TenantID, doc.Collection, doc.ID).
			Delete(&documentModel{})
		if res.Error != nil {
			return fmt.Errorf("delete document: %w", res.Error)
		}
		affected = res.RowsAffected
		return nil
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteOne hard-deletes the first match. The document is fetched first so
// its state can be audited.
func (s *DocumentStore) DeleteOne(ctx context.Context, query domain.Query) (bool, error) {
	doc, err := s.FindOne(ctx, query)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := s.Delete(ctx, doc); err != nil {
		return false, err
	}
	return true, nil
}

func (s *DocumentStore) DeleteMany(ctx context.Context, query domain.Query) (int, error) {
	var deleted int
	err := s.bulk(ctx, func(ctx context.Context) error {
		docs, err := s.Find(ctx, query)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return nil
		}
		if interceptor, _, ok := s.interceptor(query.Collection); ok {
			if err := interceptor.BeforeRemoveMany(ctx, docs); err != nil {
				return fmt.Errorf("delete many %s: %w", query.Collection, err)
			}
		}

		return s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
			res := tx.Where("tenant_id = ? AND collection = ? AND id IN ?", query.TenantID, query.Collection, documentIDs(docs)).
				Delete(&documentModel{})
			if res.Error != nil {
				return fmt.Errorf("delete documents: %w", res.Error)
			}
			deleted = int(res.RowsAffected)
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{"collection": query.Collection, "deleted": deleted, "mode": s.bulkMode}).Debug("bulk delete applied")
	return deleted, nil
}

// UpdateOne applies patch to the first match and saves it as an instance update.
func (s *DocumentStore) UpdateOne(ctx context.Context, query domain.Query, patch domain.Patch) (*domain.Document, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}
	doc, err := s.FindOne(ctx, query)
	if err != nil {
		return nil, err
	}
	if err := applyPatch(doc, patch); err != nil {
		return nil, err
	}
	if err := s.save(ctx, doc, ports.SaveDirect); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *DocumentStore) UpdateMany(ctx context.Context, query domain.Query, patch domain.Patch) (int, error) {
	if err := validatePatch(patch); err != nil {
		return 0, err
	}

	var updated int
	err := s.bulk(ctx, func(ctx context.Context) error {
		docs, err := s.Find(ctx, query)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return nil
		}
		if interceptor, _, ok := s.interceptor(query.Collection); ok {
			if err := interceptor.BeforeUpdateMany(ctx, docs, patch); err != nil {
				return fmt.Errorf("update many %s: %w", query.Collection, err)
			}
		}

		now := s.now()
		return s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
			for _, doc := range docs {
				if err := applyPatch(doc, patch); err != nil {
					return err
				}
				data, err := json.Marshal(doc.Fields())
				if err != nil {
					return fmt.Errorf("encode document: %w", err)
				}
				res := tx.Model(&documentModel{}).
					Where("tenant_id = ? AND collection = ? AND id = ?", doc.TenantID, doc.Collection, doc.ID).
					Updates(map[string]any{"data": datatypes.JSON(data), "updated_at": now})
				if res.Error != nil {
					return fmt.Errorf("update document %s: %w", doc.ID, res.Error)
				}
				updated += int(res.RowsAffected)
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{"collection": query.Collection, "updated": updated, "mode": s.bulkMode}).Debug("bulk update applied")
	return updated, nil
}

// bulk runs fn directly in partial mode, or inside one write transaction
// carried by the context in atomic mode. A transaction already carried by ctx
// is joined, so its owner decides the outcome.
func (s *DocumentStore) bulk(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.bulkMode != BulkAtomic {
		return fn(ctx)
	}
	if s.db.InTx(ctx) {
		s.log.Debug("bulk operation joins caller transaction")
	}
	return s.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return fn(tx.Context())
	})
}

func (s *DocumentStore) toDocument(model documentModel) (*domain.Document, error) {
	fields := map[string]any{}
	if len(model.Data) > 0 {
		if err := json.Unmarshal(model.Data, &fields); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", model.ID, err)
		}
	}
	return domain.LoadDocument(s, model.TenantID, model.Collection, model.ID, fields, model.CreatedAt, model.UpdatedAt), nil
}

func documentIDs(docs []*domain.Document) []string {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids
}

func applyJSONFilter(q *gorm.DB, filter domain.JSONPathFilter) (*gorm.DB, error) {
	if filter.Path == "" {
		return q, nil
	}
	jsonPath := dotPathToSQLiteJSONPath(filter.Path)
	switch filter.Operator() {
	case "eq":
		return q.Where("CAST(json_extract(data, ?) AS TEXT) = ?", jsonPath, filter.Value), nil
	case "ne":
		return q.Where("CAST(json_extract(data, ?) AS TEXT) <> ?", jsonPath, filter.Value), nil
	case "contains":
		return q.Where("instr(lower(CAST(json_extract(data, ?) AS TEXT)), lower(?)) > 0", jsonPath, filter.Value), nil
	case "exists":
		return q.Where("json_type(data, ?) IS NOT NULL", jsonPath), nil
	case "missing":
		return q.Where("json_type(data, ?) IS NULL", jsonPath), nil
	default:
		return nil, domain.ErrInvalidFilter
	}
}

func dotPathToSQLiteJSONPath(path string) string {
	segments := domain.SplitJSONPath(path)
	if len(segments) == 0 {
		return "$"
	}
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range segments {
		b.WriteString(`."`)
		b.WriteString(seg)
		b.WriteString(`"`)
	}
	return b.String()
}

// validatePatch accepts plain dotted paths plus the $set and $unset operators.
func validatePatch(patch domain.Patch) error {
	if len(patch) == 0 {
		return fmt.Errorf("%w: empty", domain.ErrInvalidPatch)
	}
	for key, value := range patch {
		switch key {
		case "$set":
			set, ok := value.(map[string]any)
			if !ok {
				return fmt.Errorf("%w: $set takes an object", domain.ErrInvalidPatch)
			}
			for p := range set {
				if err := validatePatchPath(p); err != nil {
					return err
				}
			}
		case "$unset":
			paths, err := unsetPaths(value)
			if err != nil {
				return err
			}
			for _, p := range paths {
				if err := validatePatchPath(p); err != nil {
					return err
				}
			}
		default:
			if strings.HasPrefix(key, "$") {
				return fmt.Errorf("%w: unsupported operator %s", domain.ErrInvalidPatch, key)
			}
			if err := validatePatchPath(key); err != nil {
				return err
			}
		}
	}
	return nil
}

func validatePatchPath(path string) error {
	if err := domain.ValidatePath(path); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidPatch, path, err)
	}
	return nil
}

func applyPatch(doc *domain.Document, patch domain.Patch) error {
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch key {
		case "$set":
			set := patch[key].(map[string]any)
			paths := make([]string, 0, len(set))
			for p := range set {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			for _, p := range paths {
				if err := doc.Set(p, set[p]); err != nil {
					return fmt.Errorf("%w: %s: %v", domain.ErrInvalidPatch, p, err)
				}
			}
		case "$unset":
			paths, err := unsetPaths(patch[key])
			if err != nil {
				return err
			}
			for _, p := range paths {
				if err := doc.Unset(p); err != nil {
					return fmt.Errorf("%w: %s: %v", domain.ErrInvalidPatch, p, err)
				}
			}
		default:
			if err := doc.Set(key, patch[key]); err != nil {
				return fmt.Errorf("%w: %s: %v", domain.ErrInvalidPatch, key, err)
			}
		}
	}
	return nil
}

// unsetPaths reads $unset as either an object whose keys are paths or an
// array of path strings.
func unsetPaths(value any) ([]string, error) {
	var paths []string
	switch v := value.(type) {
	case map[string]any:
		for p := range v {
			paths = append(paths, p)
		}
	case []any:
		for _, item := range v {
			p, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: $unset paths must be strings", domain.ErrInvalidPatch)
			}
			paths = append(paths, p)
		}
	case []string:
		paths = append(paths, v...)
	default:
		return nil, fmt.Errorf("%w: $unset takes an object or array", domain.ErrInvalidPatch)
	}
	sort.Strings(paths)
	return paths, nil
}
