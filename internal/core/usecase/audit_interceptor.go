package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/atvirokodosprendimai/doctrail/internal/core/actor"
	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
	"github.com/atvirokodosprendimai/doctrail/internal/core/ports"
)

// Auditor attaches audit interceptors to stores. All interceptors it creates
// share one writer registry.
type Auditor struct {
	registry               *WriterRegistry
	actors                 ports.ActorProvider
	metrics                AuditMetrics
	log                    logrus.FieldLogger
	collapseTombstoneSaves bool
}

type AuditorOption func(*Auditor)

func WithActorProvider(p ports.ActorProvider) AuditorOption {
	return func(a *Auditor) {
		if p != nil {
			a.actors = p
		}
	}
}

func WithAuditMetrics(m AuditMetrics) AuditorOption {
	return func(a *Auditor) {
		if m != nil {
			a.metrics = m
		}
	}
}

func WithAuditLogger(log logrus.FieldLogger) AuditorOption {
	return func(a *Auditor) {
		if log != nil {
			a.log = log
		}
	}
}

// WithCollapseTombstoneSaves drops the generic update entry written by the save
// inside a soft delete or restore, leaving only the explicit tombstone entry.
func WithCollapseTombstoneSaves(collapse bool) AuditorOption {
	return func(a *Auditor) {
		a.collapseTombstoneSaves = collapse
	}
}

func NewAuditor(registry *WriterRegistry, opts ...AuditorOption) *Auditor {
	a := &Auditor{
		registry: registry,
		actors:   actor.ContextProvider{},
		metrics:  nopMetrics{},
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Attach installs an audit interceptor for kind on target.
func (a *Auditor) Attach(target ports.InterceptTarget, kind domain.EntityKind) (*AuditInterceptor, error) {
	kind = kind.Normalize()
	if err := kind.Validate(); err != nil {
		return nil, fmt.Errorf("attach %s: %w", kind.Collection, err)
	}
	interceptor := &AuditInterceptor{
		auditor: a,
		kind:    kind,
		log:     a.log.WithFields(logrus.Fields{"collection": kind.Collection, "entity_type": kind.EntityType}),
	}
	if err := target.Intercept(kind, interceptor); err != nil {
		return nil, fmt.Errorf("attach %s: %w", kind.Collection, err)
	}
	interceptor.log.Debug("audit interceptor attached")
	return interceptor, nil
}

// AuditInterceptor records one audit entry per document per mutation pathway.
type AuditInterceptor struct {
	auditor *Auditor
	kind    domain.EntityKind
	log     logrus.FieldLogger
}

var _ ports.MutationInterceptor = (*AuditInterceptor)(nil)

func (i *AuditInterceptor) Kind() domain.EntityKind {
	return i.kind
}

func (i *AuditInterceptor) BeforeSave(ctx context.Context, doc *domain.Document, cause ports.SaveCause) error {
	if doc.IsNew() {
		changes, err := ExtractCreate(doc)
		if err != nil {
			return err
		}
		return i.record(ctx, doc, changes, doc.Fields())
	}

	if cause != ports.SaveDirect && i.auditor.collapseTombstoneSaves {
		return nil
	}
	changes, err := ExtractUpdate(doc)
	if err != nil {
		return err
	}
	return i.record(ctx, doc, changes, doc.Fields())
}

func (i *AuditInterceptor) AfterSoftDelete(ctx context.Context, doc *domain.Document, field string) error {
	changes, err := ExtractSoftDelete(doc, field)
	if err != nil {
		return err
	}
	return i.record(ctx, doc, changes, doc.Fields())
}

func (i *AuditInterceptor) AfterRestore(ctx context.Context, doc *domain.Document, field string) error {
	return i.record(ctx, doc, ExtractRestore(field), doc.Fields())
}

func (i *AuditInterceptor) BeforeRemove(ctx context.Context, doc *domain.Document) error {
	return i.record(ctx, doc, domain.HardDeleteChanges{}, doc.Fields())
}

// BeforeRemoveMany writes one entry per document in order, stopping at the
// first failure. Entries already written stay.
func (i *AuditInterceptor) BeforeRemoveMany(ctx context.Context, docs []*domain.Document) error {
	for n, doc := range docs {
		if err := i.record(ctx, doc, domain.HardDeleteChanges{}, doc.Fields()); err != nil {
			return fmt.Errorf("bulk delete entry %d of %d: %w", n+1, len(docs), err)
		}
	}
	return nil
}

// BeforeUpdateMany writes one entry per document in order, each carrying the
// raw patch and a snapshot of the document merged with it.
func (i *AuditInterceptor) BeforeUpdateMany(ctx context.Context, docs []*domain.Document, patch domain.Patch) error {
	changes, err := ExtractPatch(patch)
	if err != nil {
		return err
	}
	for n, doc := range docs {
		merged, err := MergePatch(doc.Fields(), patch)
		if err != nil {
			return fmt.Errorf("bulk update entry %d of %d: %w", n+1, len(docs), err)
		}
		if err := i.record(ctx, doc, changes, merged); err != nil {
			return fmt.Errorf("bulk update entry %d of %d: %w", n+1, len(docs), err)
		}
	}
	return nil
}

func (i *AuditInterceptor) record(ctx context.Context, doc *domain.Document, changes domain.Changes, state map[string]any) error {
	snapshot, err := Snapshot(state)
	if err != nil {
		return err
	}

	conn := doc.Connection()
	if conn == nil {
		return &domain.RegistrationError{Err: errors.New("document " + doc.ID + " is not bound to a connection")}
	}
	writer, err := i.auditor.registry.Writer(ctx, conn)
	if err != nil {
		return err
	}

	entry := domain.AuditEntry{
		TenantID:   doc.TenantID,
		TargetID:   doc.ID,
		EntityType: i.kind.EntityType,
		Changes:    changes,
		Snapshot:   snapshot,
	}
	if id, ok := i.auditor.actors.Actor(ctx); ok {
		entry.ActorID = id
	}

	action := changes.Action()
	saved, err := writer.Append(ctx, entry)
	if err != nil {
		i.auditor.metrics.AppendFailed(action)
		var writeErr *domain.WriteError
		if !errors.As(err, &writeErr) {
			err = &domain.WriteError{Action: action, TargetID: doc.ID, Err: err}
		}
		i.log.WithError(err).WithFields(logrus.Fields{"target_id": doc.ID, "action": action}).Warn("audit append failed")
		return err
	}

	i.auditor.metrics.EntryAppended(action)
	i.log.WithFields(logrus.Fields{
		"target_id": doc.ID,
		"action":    action,
		"entry_id":  saved.EntryID,
		"actor_id":  saved.ActorID,
	}).Debug("audit entry appended")
	return nil
}
