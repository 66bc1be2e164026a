package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atvirokodosprendimai/doctrail/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
	"github.com/atvirokodosprendimai/doctrail/internal/core/ports"
)

type collectionSchemaModel struct {
	TenantID   string         `gorm:"column:tenant_id;primaryKey"`
	Collection string         `gorm:"column:collection;primaryKey"`
	SchemaJSON datatypes.JSON `gorm:"column:schema_json;not null"`
	UpdatedBy  *string        `gorm:"column:updated_by"`
	CreatedAt  time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;not null"`
}

func (collectionSchemaModel) TableName() string {
	return "collection_schemas"
}

// SchemaRepository keeps collection schemas together with the actor that
// last changed each one.
type SchemaRepository struct {
	db  *gormsqlite.DB
	now func() time.Time
}

var _ ports.CollectionSchemaRepository = (*SchemaRepository)(nil)

func NewSchemaRepository(db *gormsqlite.DB) *SchemaRepository {
	return &SchemaRepository{db: db, now: time.Now}
}

func (r *SchemaRepository) Upsert(ctx context.Context, schema domain.CollectionSchema) (domain.CollectionSchema, error) {
	now := r.now().UTC()
	model := collectionSchemaModel{
		TenantID:   schema.TenantID,
		Collection: schema.Collection,
		SchemaJSON: datatypes.JSON(schema.Schema),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if schema.UpdatedBy != "" {
		model.UpdatedBy = &schema.UpdatedBy
	}

	var saved collectionSchemaModel
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "collection"}},
			DoUpdates: clause.AssignmentColumns([]string{"schema_json", "updated_by", "updated_at"}),
		}).Create(&model).Error
		if err != nil {
			return fmt.Errorf("upsert schema %s: %w", schema.Key(), err)
		}
		return tx.Where("tenant_id = ? AND collection = ?", schema.TenantID, schema.Collection).Take(&saved).Error
	})
	if err != nil {
		return domain.CollectionSchema{}, err
	}
	return saved.toDomain(), nil
}

func (r *SchemaRepository) Get(ctx context.Context, tenantID, collection string) (domain.CollectionSchema, error) {
	var model collectionSchemaModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("tenant_id = ? AND collection = ?", tenantID, collection).Take(&model).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.CollectionSchema{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.CollectionSchema{}, fmt.Errorf("get schema: %w", err)
	}
	return model.toDomain(), nil
}

func (r *SchemaRepository) Delete(ctx context.Context, tenantID, collection string) (bool, error) {
	var affected int64
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		res := tx.Where("tenant_id = ? AND collection = ?", tenantID, collection).Delete(&collectionSchemaModel{})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, fmt.Errorf("delete schema: %w", err)
	}
	return affected > 0, nil
}

func (m collectionSchemaModel) toDomain() domain.CollectionSchema {
	out := domain.CollectionSchema{
		TenantID:   m.TenantID,
		Collection: m.Collection,
		Schema:     json.RawMessage(m.SchemaJSON),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
	if m.UpdatedBy != nil {
		out.UpdatedBy = *m.UpdatedBy
	}
	return out
}
