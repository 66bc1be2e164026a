package ports

import (
	"context"

	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
)

// SaveCause tells a BeforeSave hook why the save is happening.
type SaveCause int

const (
	SaveDirect SaveCause = iota
	SaveSoftDelete
	SaveRestore
)

func (c SaveCause) String() string {
	switch c {
	case SaveSoftDelete:
		return "soft_delete"
	case SaveRestore:
		return "restore"
	default:
		return "direct"
	}
}

// MutationInterceptor is called by a store on every mutation pathway of a
// tracked collection. A non-nil error aborts the pathway before the primary
// mutation is applied.
type MutationInterceptor interface {
	// BeforeSave runs before a new or modified document is written.
	BeforeSave(ctx context.Context, doc *domain.Document, cause SaveCause) error
	// AfterSoftDelete runs after the tombstone field was set and saved.
	AfterSoftDelete(ctx context.Context, doc *domain.Document, field string) error
	// AfterRestore runs after the tombstone field was cleared and saved.
	AfterRestore(ctx context.Context, doc *domain.Document, field string) error
	// BeforeRemove runs before a single document is hard-deleted.
	BeforeRemove(ctx context.Context, doc *domain.Document) error
	// BeforeRemoveMany runs before a delete-by-query removes docs.
	BeforeRemoveMany(ctx context.Context, docs []*domain.Document) error
	// BeforeUpdateMany runs before patch is applied to docs by an update-by-query.
	BeforeUpdateMany(ctx context.Context, docs []*domain.Document, patch domain.Patch) error
}

// InterceptTarget is a store that accepts interceptors per entity kind.
type InterceptTarget interface {
	Intercept(kind domain.EntityKind, interceptor MutationInterceptor) error
}
