package domain

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	ErrInvalidKey      = errors.New("invalid key")
	ErrInvalidCategory = errors.New("invalid category")
	ErrInvalidFilter   = errors.New("invalid filter")
	ErrInvalidPath     = errors.New("invalid field path")
	ErrInvalidPatch    = errors.New("invalid patch")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
)

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9._:/-]+$`)

func ValidateKey(key string) error {
	if key == "" || !keyPattern.MatchString(key) {
		return ErrInvalidKey
	}
	return nil
}

func ValidateCategory(category string) error {
	if category == "" || !keyPattern.MatchString(category) {
		return ErrInvalidCategory
	}
	return nil
}

// Connection identifies the storage connection a document was loaded from.
// Implementations must return a stable, unique id for the lifetime of the
// connection.
type Connection interface {
	ConnID() string
}

// Owner is the store a document belongs to.
type Owner interface {
	Connection() Connection
	Save(ctx context.Context, doc *Document) error
}

// Document is a JSON document with modified-path tracking. Fields are plain
// JSON values (map[string]any, []any, string, float64, bool, nil).
type Document struct {
	TenantID   string
	Collection string
	ID         string
	CreatedAt  time.Time
	UpdatedAt  time.Time

	fields   map[string]any
	modified []string
	isNew    bool
	owner    Owner
}

// NewDocument returns an unsaved document. Every field counts as modified.
func NewDocument(tenantID, collection, id string, fields map[string]any) *Document {
	if fields == nil {
		fields = map[string]any{}
	}
	d := &Document{
		TenantID:   tenantID,
		Collection: collection,
		ID:         id,
		fields:     fields,
		isNew:      true,
	}
	for _, k := range sortedKeys(fields) {
		d.modified = append(d.modified, k)
	}
	return d
}

// LoadDocument returns a persisted document bound to owner, with no pending
// modifications.
func LoadDocument(owner Owner, tenantID, collection, id string, fields map[string]any, createdAt, updatedAt time.Time) *Document {
	if fields == nil {
		fields = map[string]any{}
	}
	return &Document{
		TenantID:   tenantID,
		Collection: collection,
		ID:         id,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
		fields:     fields,
		owner:      owner,
	}
}

func (d *Document) Validate() error {
	if err := ValidateKey(d.TenantID); err != nil {
		return err
	}
	if err := ValidateCategory(d.Collection); err != nil {
		return err
	}
	return ValidateKey(d.ID)
}

// Fields returns the live field map. Callers must not mutate it; use Set.
func (d *Document) Fields() map[string]any {
	return d.fields
}

func (d *Document) IsNew() bool {
	return d.isNew
}

// ModifiedPaths lists paths changed since the document was loaded or last
// saved, in the order they were first modified.
func (d *Document) ModifiedPaths() []string {
	out := make([]string, len(d.modified))
	copy(out, d.modified)
	return out
}

func (d *Document) IsModified(path string) bool {
	for _, p := range d.modified {
		if p == path {
			return true
		}
	}
	return false
}

// Connection returns the owning connection, or nil for a document that was
// never bound to a store.
func (d *Document) Connection() Connection {
	if d.owner == nil {
		return nil
	}
	return d.owner.Connection()
}

func (d *Document) Owner() Owner {
	return d.owner
}

// Bind attaches the document to a store. Stores call it before saving a new document.
func (d *Document) Bind(owner Owner) {
	d.owner = owner
}

// Save persists the document through its owner.
func (d *Document) Save(ctx context.Context) error {
	if d.owner == nil {
		return errors.New("document is not bound to a store")
	}
	return d.owner.Save(ctx, d)
}

// MarkPersisted clears tracking state after a successful write.
func (d *Document) MarkPersisted(updatedAt time.Time) {
	if d.isNew {
		d.CreatedAt = updatedAt
	}
	d.UpdatedAt = updatedAt
	d.isNew = false
	d.modified = nil
}

// Get reads a dotted path.
func (d *Document) Get(path string) (any, bool) {
	return lookupPath(d.fields, SplitJSONPath(path))
}

// Set writes a dotted path, creating intermediate objects. The path is marked
// modified only when the stored value actually changes.
func (d *Document) Set(path string, value any) error {
	segments := SplitJSONPath(path)
	if len(segments) == 0 {
		return ErrInvalidPath
	}
	if current, ok := lookupPath(d.fields, segments); ok && reflect.DeepEqual(current, value) {
		return nil
	}
	parent := d.fields
	for _, seg := range segments[:len(segments)-1] {
		next, ok := parent[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			parent[seg] = next
		}
		parent = next
	}
	parent[segments[len(segments)-1]] = value
	d.markModified(strings.Join(segments, "."))
	return nil
}

// Unset removes a dotted path. Removing a missing path is a no-op.
func (d *Document) Unset(path string) error {
	segments := SplitJSONPath(path)
	if len(segments) == 0 {
		return ErrInvalidPath
	}
	parent := d.fields
	for _, seg := range segments[:len(segments)-1] {
		next, ok := parent[seg].(map[string]any)
		if !ok {
			return nil
		}
		parent = next
	}
	last := segments[len(segments)-1]
	if _, ok := parent[last]; !ok {
		return nil
	}
	delete(parent, last)
	d.markModified(strings.Join(segments, "."))
	return nil
}

// Replace sets every field in fields and unsets top-level fields missing from it.
func (d *Document) Replace(fields map[string]any) error {
	for _, k := range sortedKeys(d.fields) {
		if _, ok := fields[k]; !ok {
			if err := d.Unset(k); err != nil {
				return err
			}
		}
	}
	for _, k := range sortedKeys(fields) {
		if err := d.Set(k, fields[k]); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) markModified(path string) {
	if d.IsModified(path) {
		return
	}
	d.modified = append(d.modified, path)
}

func lookupPath(fields map[string]any, segments []string) (any, bool) {
	if len(segments) == 0 {
		return nil, false
	}
	var current any = fields
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EntityKind describes a tracked collection.
type EntityKind struct {
	Collection     string
	EntityType     string
	TombstoneField string
}

const DefaultTombstoneField = "deleted_at"

func (k EntityKind) Normalize() EntityKind {
	if k.TombstoneField == "" {
		k.TombstoneField = DefaultTombstoneField
	}
	return k
}

func (k EntityKind) Validate() error {
	if err := ValidateCategory(k.Collection); err != nil {
		return err
	}
	if k.EntityType == "" {
		return errors.New("entity type is required")
	}
	if len(SplitJSONPath(k.TombstoneField)) == 0 {
		return ErrInvalidPath
	}
	return nil
}
