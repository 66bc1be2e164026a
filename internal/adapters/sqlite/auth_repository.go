package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atvirokodosprendimai/doctrail/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
	"github.com/atvirokodosprendimai/doctrail/internal/core/ports"
)

type apiKeyModel struct {
	TokenHash string    `gorm:"column:token_hash;primaryKey"`
	TenantID  string    `gorm:"column:tenant_id;not null"`
	Name      string    `gorm:"column:name;not null"`
	ActorID   string    `gorm:"column:actor_id;not null"`
	Active    bool      `gorm:"column:active;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (apiKeyModel) TableName() string {
	return "api_keys"
}

// APIKeyRepository stores API keys and the actor each one acts as.
type APIKeyRepository struct {
	db *gormsqlite.DB
}

var _ ports.APIKeyRepository = (*APIKeyRepository)(nil)

func NewAPIKeyRepository(db *gormsqlite.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) FindByTokenHash(ctx context.Context, tokenHash string) (domain.APIKey, error) {
	var model apiKeyModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("token_hash = ?", tokenHash).Take(&model).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.APIKey{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.APIKey{}, fmt.Errorf("find api key: %w", err)
	}
	return model.toDomain(), nil
}

// Upsert inserts key or, for a known token hash, replaces everything but its
// creation time.
func (r *APIKeyRepository) Upsert(ctx context.Context, key domain.APIKey) error {
	model := apiKeyModel{
		TokenHash: key.TokenHash,
		TenantID:  key.TenantID,
		Name:      key.Name,
		ActorID:   key.ActorID,
		Active:    key.Active,
		CreatedAt: key.CreatedAt.UTC(),
	}
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{"tenant_id", "name", "actor_id", "active"}),
		}).Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("upsert api key %s: %w", key.Name, err)
	}
	return nil
}

func (m apiKeyModel) toDomain() domain.APIKey {
	return domain.APIKey{
		TokenHash: m.TokenHash,
		TenantID:  m.TenantID,
		Name:      m.Name,
		ActorID:   m.ActorID,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
	}
}
