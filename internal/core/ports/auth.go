package ports

import (
	"context"

	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
)

// APIKeyRepository stores keys by token hash. FindByTokenHash returns
// domain.ErrNotFound for an unknown hash, active or not.
type APIKeyRepository interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (domain.APIKey, error)
	Upsert(ctx context.Context, key domain.APIKey) error
}
