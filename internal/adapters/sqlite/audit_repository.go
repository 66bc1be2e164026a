package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/atvirokodosprendimai/doctrail/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
	"github.com/atvirokodosprendimai/doctrail/internal/core/ports"
)

type auditEntryModel struct {
	ID         int64          `gorm:"column:id;primaryKey;autoIncrement"`
	EntryID    string         `gorm:"column:entry_id;not null"`
	TenantID   string         `gorm:"column:tenant_id;not null"`
	TargetID   string         `gorm:"column:target_id;not null"`
	EntityType string         `gorm:"column:entity_type;not null"`
	Action     string         `gorm:"column:action;not null"`
	Changes    datatypes.JSON `gorm:"column:changes;not null"`
	Snapshot   datatypes.JSON `gorm:"column:snapshot"`
	ActorID    *string        `gorm:"column:actor_id"`
	CreatedAt  time.Time      `gorm:"column:created_at;not null"`
}

func (auditEntryModel) TableName() string {
	return "audit_entries"
}

// HistoryWriter appends audit entries to the audit_entries table of one
// database. It joins the write transaction carried by the context, if any.
type HistoryWriter struct {
	db  *gormsqlite.DB
	now func() time.Time
}

var _ ports.AuditWriter = (*HistoryWriter)(nil)

func NewHistoryWriter(db *gormsqlite.DB) *HistoryWriter {
	return &HistoryWriter{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (w *HistoryWriter) Append(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	if err := entry.Validate(); err != nil {
		return domain.AuditEntry{}, &domain.WriteError{Action: entry.Action(), TargetID: entry.TargetID, Err: err}
	}

	changes, err := json.Marshal(entry.Changes.Fields())
	if err != nil {
		return domain.AuditEntry{}, &domain.WriteError{Action: entry.Action(), TargetID: entry.TargetID, Err: fmt.Errorf("encode changes: %w", err)}
	}
	var snapshot datatypes.JSON
	if entry.Snapshot != nil {
		snapshot, err = json.Marshal(entry.Snapshot)
		if err != nil {
			return domain.AuditEntry{}, &domain.WriteError{Action: entry.Action(), TargetID: entry.TargetID, Err: fmt.Errorf("encode snapshot: %w", err)}
		}
	}

	entry.EntryID = uuid.NewString()
	entry.CreatedAt = w.now()

	model := auditEntryModel{
		EntryID:    entry.EntryID,
		TenantID:   entry.TenantID,
		TargetID:   entry.TargetID,
		EntityType: entry.EntityType,
		Action:     entry.Action().String(),
		Changes:    datatypes.JSON(changes),
		Snapshot:   snapshot,
		CreatedAt:  entry.CreatedAt,
	}
	if entry.ActorID != "" {
		actorID := entry.ActorID
		model.ActorID = &actorID
	}

	if err := w.db.Conn(ctx).Create(&model).Error; err != nil {
		return domain.AuditEntry{}, &domain.WriteError{Action: entry.Action(), TargetID: entry.TargetID, Err: fmt.Errorf("insert audit entry: %w", err)}
	}
	entry.ID = model.ID
	return entry, nil
}

// NewHistoryWriterFactory builds writers for *gormsqlite.DB connections. A
// connection qualifies when it answers a ping and has the audit_entries table.
func NewHistoryWriterFactory() ports.AuditWriterFactory {
	return func(ctx context.Context, conn domain.Connection) (ports.AuditWriter, error) {
		db, ok := conn.(*gormsqlite.DB)
		if !ok {
			return nil, fmt.Errorf("unsupported connection type %T", conn)
		}
		if err := db.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping: %w", err)
		}
		table := auditEntryModel{}.TableName()
		if !db.HasTable(ctx, table) {
			return nil, errors.New("table " + table + " does not exist")
		}
		return NewHistoryWriter(db), nil
	}
}

// HistoryRepository reads audit entries back, oldest first.
type HistoryRepository struct {
	db *gormsqlite.DB
}

var _ ports.HistoryReader = (*HistoryRepository)(nil)

func NewHistoryRepository(db *gormsqlite.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) List(ctx context.Context, filter domain.HistoryFilter) ([]domain.AuditEntry, error) {
	var models []auditEntryModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		query := tx.Model(&auditEntryModel{}).Where("tenant_id = ?", filter.TenantID)
		if filter.EntityType != "" {
			query = query.Where("entity_type = ?", filter.EntityType)
		}
		if filter.TargetID != "" {
			query = query.Where("target_id = ?", filter.TargetID)
		}
		if filter.Action != "" {
			query = query.Where("action = ?", filter.Action.String())
		}
		if filter.AfterID > 0 {
			query = query.Where("id > ?", filter.AfterID)
		}
		query = query.Order("id ASC")
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
		return query.Find(&models).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}

	out := make([]domain.AuditEntry, 0, len(models))
	for _, model := range models {
		entry, err := toAuditEntry(model)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func toAuditEntry(model auditEntryModel) (domain.AuditEntry, error) {
	var fields domain.FieldChanges
	if err := json.Unmarshal(model.Changes, &fields); err != nil {
		return domain.AuditEntry{}, fmt.Errorf("decode changes of entry %d: %w", model.ID, err)
	}
	changes, err := domain.DecodeChanges(domain.AuditAction(model.Action), fields)
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("entry %d: %w", model.ID, err)
	}

	entry := domain.AuditEntry{
		ID:         model.ID,
		EntryID:    model.EntryID,
		TenantID:   model.TenantID,
		TargetID:   model.TargetID,
		EntityType: model.EntityType,
		Changes:    changes,
		CreatedAt:  model.CreatedAt,
	}
	if len(model.Snapshot) > 0 {
		if err := json.Unmarshal(model.Snapshot, &entry.Snapshot); err != nil {
			return domain.AuditEntry{}, fmt.Errorf("decode snapshot of entry %d: %w", model.ID, err)
		}
	}
	if model.ActorID != nil {
		entry.ActorID = *model.ActorID
	}
	return entry, nil
}
