package ports

import (
	"context"

	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
)

// CollectionSchemaRepository persists one JSON schema per tenant collection.
// Upsert keeps the original CreatedAt and stores UpdatedBy as given; an empty
// UpdatedBy is stored as unknown.
type CollectionSchemaRepository interface {
	Upsert(ctx context.Context, schema domain.CollectionSchema) (domain.CollectionSchema, error)
	Get(ctx context.Context, tenantID, collection string) (domain.CollectionSchema, error)
	Delete(ctx context.Context, tenantID, collection string) (bool, error)
}
