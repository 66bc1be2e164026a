package ports

import (
	"context"

	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
)

// AuditWriter appends entries to a history store. It deliberately has no
// update or delete operation.
type AuditWriter interface {
	Append(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error)
}

// AuditWriterFactory builds the writer bound to one connection's history store.
type AuditWriterFactory func(ctx context.Context, conn domain.Connection) (AuditWriter, error)

// ActorProvider resolves who is acting in the current operation.
type ActorProvider interface {
	Actor(ctx context.Context) (string, bool)
}

// HistoryReader lists stored entries, oldest first.
type HistoryReader interface {
	List(ctx context.Context, filter domain.HistoryFilter) ([]domain.AuditEntry, error)
}
