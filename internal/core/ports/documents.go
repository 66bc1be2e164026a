package ports

import (
	"context"

	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
)

// DocumentStore is the host persistence layer. Every mutating method runs the
// interceptors registered for the document's collection.
type DocumentStore interface {
	InterceptTarget

	Get(ctx context.Context, tenantID, collection, id string) (*domain.Document, error)
	Find(ctx context.Context, query domain.Query) ([]*domain.Document, error)
	FindOne(ctx context.Context, query domain.Query) (*domain.Document, error)

	Save(ctx context.Context, doc *domain.Document) error
	SoftDelete(ctx context.Context, doc *domain.Document) error
	Restore(ctx context.Context, doc *domain.Document) error
	Delete(ctx context.Context, doc *domain.Document) error

	DeleteOne(ctx context.Context, query domain.Query) (bool, error)
	DeleteMany(ctx context.Context, query domain.Query) (int, error)
	UpdateOne(ctx context.Context, query domain.Query, patch domain.Patch) (*domain.Document, error)
	UpdateMany(ctx context.Context, query domain.Query, patch domain.Patch) (int, error)
}
