package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidSchema = errors.New("invalid json schema")

// ErrSchemaViolation is returned when a document's fields do not conform to
// the collection's JSON schema. Errors holds one message per failing keyword.
type ErrSchemaViolation struct {
	Errors []string
}

func (e *ErrSchemaViolation) Error() string {
	return fmt.Sprintf("schema validation failed: %s", strings.Join(e.Errors, "; "))
}

// CollectionSchema is the JSON Schema document configured for a collection.
// UpdatedBy is the actor behind the last change, empty when unknown.
type CollectionSchema struct {
	TenantID   string
	Collection string
	Schema     json.RawMessage
	UpdatedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (s CollectionSchema) Key() string {
	return s.TenantID + "/" + s.Collection
}
