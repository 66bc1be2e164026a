package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidEntry = errors.New("invalid audit entry")

// AuditAction is the kind of state transition an entry records.
type AuditAction string

const (
	AuditActionCreate     AuditAction = "create"
	AuditActionUpdate     AuditAction = "update"
	AuditActionSoftDelete AuditAction = "soft_delete"
	AuditActionHardDelete AuditAction = "hard_delete"
	AuditActionRestore    AuditAction = "restore"
)

func (a AuditAction) String() string { return string(a) }

func (a AuditAction) IsValid() bool {
	switch a {
	case AuditActionCreate, AuditActionUpdate, AuditActionSoftDelete, AuditActionHardDelete, AuditActionRestore:
		return true
	}
	return false
}

// FieldChange is one path/value pair of a change payload.
type FieldChange struct {
	Path  string
	Value any
}

// FieldChanges is an ordered path → value mapping. It encodes as a JSON
// object with keys in slice order.
type FieldChanges []FieldChange

func (f FieldChanges) Map() map[string]any {
	out := make(map[string]any, len(f))
	for _, c := range f {
		out[c.Path] = c.Value
	}
	return out
}

func (f FieldChanges) Paths() []string {
	out := make([]string, 0, len(f))
	for _, c := range f {
		out = append(out, c.Path)
	}
	return out
}

func (f FieldChanges) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c.Path)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(c.Value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", c.Path, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (f *FieldChanges) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("field changes must be a json object")
	}
	out := FieldChanges{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return errors.New("field change key must be a string")
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return err
		}
		out = append(out, FieldChange{Path: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*f = out
	return nil
}

// Changes is the payload of an audit entry. The concrete type determines the
// action; only the variants in this package implement it.
type Changes interface {
	Action() AuditAction
	Fields() FieldChanges
	isChanges()
}

// CreateChanges carries the complete field map of a new document.
type CreateChanges struct {
	Values FieldChanges
}

// UpdateChanges carries modified paths, or the raw patch of an update-by-query.
type UpdateChanges struct {
	Values FieldChanges
}

// SoftDeleteChanges records the tombstone value that was set.
type SoftDeleteChanges struct {
	Field string
	Value any
}

// RestoreChanges records the tombstone field that was cleared.
type RestoreChanges struct {
	Field string
}

// HardDeleteChanges is always empty; the snapshot holds the removed state.
type HardDeleteChanges struct{}

func (CreateChanges) Action() AuditAction     { return AuditActionCreate }
func (UpdateChanges) Action() AuditAction     { return AuditActionUpdate }
func (SoftDeleteChanges) Action() AuditAction { return AuditActionSoftDelete }
func (RestoreChanges) Action() AuditAction    { return AuditActionRestore }
func (HardDeleteChanges) Action() AuditAction { return AuditActionHardDelete }

func (c CreateChanges) Fields() FieldChanges { return nonNil(c.Values) }
func (c UpdateChanges) Fields() FieldChanges { return nonNil(c.Values) }
func (c SoftDeleteChanges) Fields() FieldChanges {
	return FieldChanges{{Path: c.Field, Value: c.Value}}
}
func (c RestoreChanges) Fields() FieldChanges {
	return FieldChanges{{Path: c.Field, Value: nil}}
}
func (HardDeleteChanges) Fields() FieldChanges { return FieldChanges{} }

func (CreateChanges) isChanges()     {}
func (UpdateChanges) isChanges()     {}
func (SoftDeleteChanges) isChanges() {}
func (RestoreChanges) isChanges()    {}
func (HardDeleteChanges) isChanges() {}

func nonNil(f FieldChanges) FieldChanges {
	if f == nil {
		return FieldChanges{}
	}
	return f
}

// DecodeChanges rebuilds the payload variant for a stored action.
func DecodeChanges(action AuditAction, fields FieldChanges) (Changes, error) {
	switch action {
	case AuditActionCreate:
		return CreateChanges{Values: fields}, nil
	case AuditActionUpdate:
		return UpdateChanges{Values: fields}, nil
	case AuditActionSoftDelete:
		if len(fields) != 1 {
			return nil, fmt.Errorf("%w: soft delete must carry exactly one field", ErrInvalidEntry)
		}
		return SoftDeleteChanges{Field: fields[0].Path, Value: fields[0].Value}, nil
	case AuditActionRestore:
		if len(fields) != 1 {
			return nil, fmt.Errorf("%w: restore must carry exactly one field", ErrInvalidEntry)
		}
		return RestoreChanges{Field: fields[0].Path}, nil
	case AuditActionHardDelete:
		if len(fields) != 0 {
			return nil, fmt.Errorf("%w: hard delete carries no fields", ErrInvalidEntry)
		}
		return HardDeleteChanges{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidEntry, action)
	}
}

// AuditEntry is one immutable state transition of a tracked document.
type AuditEntry struct {
	ID         int64
	EntryID    string
	TenantID   string
	TargetID   string
	EntityType string
	Changes    Changes
	Snapshot   map[string]any
	ActorID    string
	CreatedAt  time.Time
}

func (e AuditEntry) Action() AuditAction {
	if e.Changes == nil {
		return ""
	}
	return e.Changes.Action()
}

func (e AuditEntry) Validate() error {
	if e.TargetID == "" {
		return fmt.Errorf("%w: target id is required", ErrInvalidEntry)
	}
	if e.EntityType == "" {
		return fmt.Errorf("%w: entity type is required", ErrInvalidEntry)
	}
	if e.Changes == nil || !e.Action().IsValid() {
		return fmt.Errorf("%w: action is required", ErrInvalidEntry)
	}
	return nil
}

// HistoryFilter selects stored entries for one tenant.
type HistoryFilter struct {
	TenantID   string
	EntityType string
	TargetID   string
	Action     AuditAction
	AfterID    int64
	Limit      int
}
