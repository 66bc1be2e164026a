package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/doctrail/internal/core/actor"
	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
	"github.com/atvirokodosprendimai/doctrail/internal/core/ports"
)

func newTestInterceptor(t *testing.T, w *memWriter, opts ...AuditorOption) (*AuditInterceptor, *countingMetrics) {
	t.Helper()
	metrics := newCountingMetrics()
	logger, _ := test.NewNullLogger()
	registry := NewWriterRegistry(writerFactory(w), logger, metrics)
	opts = append([]AuditorOption{WithAuditMetrics(metrics), WithAuditLogger(logger)}, opts...)
	auditor := NewAuditor(registry, opts...)

	interceptor, err := auditor.Attach(&stubTarget{}, domain.EntityKind{Collection: "widgets", EntityType: "Widget"})
	require.NoError(t, err)
	return interceptor, metrics
}

func boundDocument(fields map[string]any) *domain.Document {
	doc := domain.NewDocument("tenant-a", "widgets", "w1", fields)
	doc.Bind(stubOwner{conn: stubConn("conn-1")})
	return doc
}

func loadedDocument(id string, fields map[string]any) *domain.Document {
	return domain.LoadDocument(stubOwner{conn: stubConn("conn-1")}, "tenant-a", "widgets", id, fields, time.Time{}, time.Time{})
}

func TestAttachNormalizesKindAndRegisters(t *testing.T) {
	target := &stubTarget{}
	auditor := NewAuditor(NewWriterRegistry(writerFactory(&memWriter{}), nil, nil))

	interceptor, err := auditor.Attach(target, domain.EntityKind{Collection: "widgets", EntityType: "Widget"})
	require.NoError(t, err)

	assert.Equal(t, "deleted_at", interceptor.Kind().TombstoneField)
	assert.Same(t, interceptor, target.interceptors["widgets"])
}

func TestAttachRejectsInvalidKind(t *testing.T) {
	auditor := NewAuditor(NewWriterRegistry(writerFactory(&memWriter{}), nil, nil))

	_, err := auditor.Attach(&stubTarget{}, domain.EntityKind{Collection: "widgets"})
	assert.Error(t, err)

	_, err = auditor.Attach(&stubTarget{err: errBoom}, domain.EntityKind{Collection: "widgets", EntityType: "Widget"})
	assert.ErrorIs(t, err, errBoom)
}

func TestWidgetLifecycleProducesCreateUpdateHardDelete(t *testing.T) {
	w := &memWriter{}
	interceptor, metrics := newTestInterceptor(t, w)
	ctx := actor.WithID(context.Background(), "u1")

	doc := boundDocument(map[string]any{"name": "A", "size": float64(3)})
	require.NoError(t, interceptor.BeforeSave(ctx, doc, ports.SaveDirect))
	doc.MarkPersisted(time.Now().UTC())

	require.NoError(t, doc.Set("size", float64(4)))
	require.NoError(t, interceptor.BeforeSave(ctx, doc, ports.SaveDirect))
	doc.MarkPersisted(time.Now().UTC())

	require.NoError(t, interceptor.BeforeRemove(ctx, doc))

	entries := w.Entries()
	require.Len(t, entries, 3)

	assert.Equal(t, domain.AuditActionCreate, entries[0].Action())
	assert.Equal(t, map[string]any{"name": "A", "size": float64(3)}, entries[0].Changes.Fields().Map())
	assert.Equal(t, map[string]any{"name": "A", "size": float64(3)}, entries[0].Snapshot)

	assert.Equal(t, domain.AuditActionUpdate, entries[1].Action())
	assert.Equal(t, domain.FieldChanges{{Path: "size", Value: float64(4)}}, entries[1].Changes.Fields())
	assert.Equal(t, map[string]any{"name": "A", "size": float64(4)}, entries[1].Snapshot)

	assert.Equal(t, domain.AuditActionHardDelete, entries[2].Action())
	assert.Empty(t, entries[2].Changes.Fields())
	assert.Equal(t, map[string]any{"name": "A", "size": float64(4)}, entries[2].Snapshot)

	for _, e := range entries {
		assert.Equal(t, "u1", e.ActorID)
		assert.Equal(t, "w1", e.TargetID)
		assert.Equal(t, "Widget", e.EntityType)
		assert.Equal(t, "tenant-a", e.TenantID)
	}
	assert.Equal(t, 1, metrics.appended[domain.AuditActionCreate])
	assert.Equal(t, 1, metrics.appended[domain.AuditActionUpdate])
	assert.Equal(t, 1, metrics.appended[domain.AuditActionHardDelete])
	assert.Equal(t, 1, metrics.registered)
}

func TestActorAbsentLeavesActorEmpty(t *testing.T) {
	w := &memWriter{}
	interceptor, _ := newTestInterceptor(t, w)

	require.NoError(t, interceptor.BeforeSave(context.Background(), boundDocument(map[string]any{"name": "A"}), ports.SaveDirect))

	require.Len(t, w.Entries(), 1)
	assert.Empty(t, w.Entries()[0].ActorID)
}

type fixedActor string

func (a fixedActor) Actor(context.Context) (string, bool) { return string(a), true }

func TestCustomActorProvider(t *testing.T) {
	w := &memWriter{}
	interceptor, _ := newTestInterceptor(t, w, WithActorProvider(fixedActor("system")))

	require.NoError(t, interceptor.BeforeSave(context.Background(), boundDocument(map[string]any{"name": "A"}), ports.SaveDirect))
	assert.Equal(t, "system", w.Entries()[0].ActorID)
}

func TestSnapshotIsIndependentOfLaterMutation(t *testing.T) {
	w := &memWriter{}
	interceptor, _ := newTestInterceptor(t, w)
	doc := boundDocument(map[string]any{"tags": []any{"x"}})

	require.NoError(t, interceptor.BeforeSave(context.Background(), doc, ports.SaveDirect))
	doc.Fields()["tags"].([]any)[0] = "y"

	assert.Equal(t, []any{"x"}, w.Entries()[0].Snapshot["tags"])
}

func softDelete(t *testing.T, interceptor *AuditInterceptor, doc *domain.Document) {
	t.Helper()
	require.NoError(t, doc.Set("deleted_at", "2024-05-01T10:00:00Z"))
	require.NoError(t, interceptor.BeforeSave(context.Background(), doc, ports.SaveSoftDelete))
	doc.MarkPersisted(time.Now().UTC())
	require.NoError(t, interceptor.AfterSoftDelete(context.Background(), doc, "deleted_at"))
}

func TestSoftDeleteWritesUpdateAndSoftDeleteByDefault(t *testing.T) {
	w := &memWriter{}
	interceptor, _ := newTestInterceptor(t, w)
	doc := loadedDocument("w1", map[string]any{"name": "A"})

	softDelete(t, interceptor, doc)

	entries := w.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, domain.AuditActionUpdate, entries[0].Action())
	assert.Equal(t, domain.AuditActionSoftDelete, entries[1].Action())
	assert.Equal(t, domain.FieldChanges{{Path: "deleted_at", Value: "2024-05-01T10:00:00Z"}}, entries[1].Changes.Fields())
	assert.Equal(t, "2024-05-01T10:00:00Z", entries[1].Snapshot["deleted_at"])
}

func TestCollapseTombstoneSavesKeepsOnlyExplicitEntry(t *testing.T) {
	w := &memWriter{}
	interceptor, _ := newTestInterceptor(t, w, WithCollapseTombstoneSaves(true))
	doc := loadedDocument("w1", map[string]any{"name": "A"})

	softDelete(t, interceptor, doc)

	require.NoError(t, doc.Unset("deleted_at"))
	require.NoError(t, interceptor.BeforeSave(context.Background(), doc, ports.SaveRestore))
	doc.MarkPersisted(time.Now().UTC())
	require.NoError(t, interceptor.AfterRestore(context.Background(), doc, "deleted_at"))

	entries := w.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, domain.AuditActionSoftDelete, entries[0].Action())
	assert.Equal(t, domain.AuditActionRestore, entries[1].Action())
	assert.Equal(t, domain.FieldChanges{{Path: "deleted_at", Value: nil}}, entries[1].Changes.Fields())
	assert.NotContains(t, entries[1].Snapshot, "deleted_at")
}

func TestBulkRemoveWritesOneEntryPerDocumentInOrder(t *testing.T) {
	w := &memWriter{}
	interceptor, _ := newTestInterceptor(t, w)
	docs := []*domain.Document{
		loadedDocument("w1", map[string]any{"status": "old"}),
		loadedDocument("w2", map[string]any{"status": "old"}),
		loadedDocument("w3", map[string]any{"status": "old"}),
	}

	require.NoError(t, interceptor.BeforeRemoveMany(context.Background(), docs))

	entries := w.Entries()
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, docs[i].ID, e.TargetID)
		assert.Equal(t, domain.AuditActionHardDelete, e.Action())
		assert.Equal(t, map[string]any{"status": "old"}, e.Snapshot)
	}
}

func TestBulkRemoveFailureLeavesPartialTrail(t *testing.T) {
	w := &memWriter{failOn: 3, err: errBoom}
	interceptor, metrics := newTestInterceptor(t, w)
	var docs []*domain.Document
	for _, id := range []string{"w1", "w2", "w3", "w4"} {
		docs = append(docs, loadedDocument(id, map[string]any{"n": id}))
	}

	err := interceptor.BeforeRemoveMany(context.Background(), docs)

	var writeErr *domain.WriteError
	require.True(t, errors.As(err, &writeErr))
	assert.Equal(t, "w3", writeErr.TargetID)
	assert.Equal(t, domain.AuditActionHardDelete, writeErr.Action)
	assert.ErrorIs(t, err, errBoom)
	assert.Len(t, w.Entries(), 2)
	assert.Equal(t, 1, metrics.failed[domain.AuditActionHardDelete])
}

func TestBulkUpdateRecordsRawPatchAndMergedSnapshot(t *testing.T) {
	w := &memWriter{}
	interceptor, _ := newTestInterceptor(t, w)
	docs := []*domain.Document{
		loadedDocument("w1", map[string]any{"status": "active", "name": "a"}),
		loadedDocument("w2", map[string]any{"status": "active", "name": "b"}),
	}
	patch := domain.Patch{"status": "archived"}

	require.NoError(t, interceptor.BeforeUpdateMany(context.Background(), docs, patch))

	entries := w.Entries()
	require.Len(t, entries, 2)
	for i, e := range entries {
		assert.Equal(t, domain.AuditActionUpdate, e.Action())
		assert.Equal(t, domain.FieldChanges{{Path: "status", Value: "archived"}}, e.Changes.Fields())
		assert.Equal(t, "archived", e.Snapshot["status"])
		assert.Equal(t, docs[i].Fields()["name"], e.Snapshot["name"])
	}
	assert.Equal(t, "active", docs[0].Fields()["status"])
}

func TestUnboundDocumentFailsRegistration(t *testing.T) {
	w := &memWriter{}
	interceptor, _ := newTestInterceptor(t, w)
	doc := domain.NewDocument("tenant-a", "widgets", "w1", map[string]any{"name": "A"})

	err := interceptor.BeforeSave(context.Background(), doc, ports.SaveDirect)

	var regErr *domain.RegistrationError
	assert.True(t, errors.As(err, &regErr))
	assert.Empty(t, w.Entries())
}

func TestCaptureFailureWritesNothing(t *testing.T) {
	w := &memWriter{}
	interceptor, _ := newTestInterceptor(t, w)
	doc := boundDocument(map[string]any{"ch": make(chan int)})

	err := interceptor.BeforeSave(context.Background(), doc, ports.SaveDirect)

	var captureErr *domain.CaptureError
	assert.True(t, errors.As(err, &captureErr))
	assert.Empty(t, w.Entries())
}

func TestSoftDeleteWithoutTombstoneValueFails(t *testing.T) {
	w := &memWriter{}
	interceptor, _ := newTestInterceptor(t, w)
	doc := loadedDocument("w1", map[string]any{"name": "A"})

	err := interceptor.AfterSoftDelete(context.Background(), doc, "deleted_at")

	var captureErr *domain.CaptureError
	assert.True(t, errors.As(err, &captureErr))
}
