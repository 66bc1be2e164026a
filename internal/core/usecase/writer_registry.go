package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
	"github.com/atvirokodosprendimai/doctrail/internal/core/ports"
)

// AuditMetrics receives audit counters. A nil AuditMetrics disables them.
type AuditMetrics interface {
	EntryAppended(action domain.AuditAction)
	AppendFailed(action domain.AuditAction)
	WriterRegistered()
}

type nopMetrics struct{}

func (nopMetrics) EntryAppended(domain.AuditAction) {}
func (nopMetrics) AppendFailed(domain.AuditAction)  {}
func (nopMetrics) WriterRegistered()                {}

// WriterRegistry caches one audit writer per storage connection. Writers are
// created on first use; concurrent first use of the same connection builds
// exactly one writer. The registry never closes connections.
type WriterRegistry struct {
	factory ports.AuditWriterFactory
	log     logrus.FieldLogger
	metrics AuditMetrics

	mu      sync.RWMutex
	writers map[string]ports.AuditWriter
	group   singleflight.Group
}

func NewWriterRegistry(factory ports.AuditWriterFactory, log logrus.FieldLogger, metrics AuditMetrics) *WriterRegistry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &WriterRegistry{
		factory: factory,
		log:     log,
		metrics: metrics,
		writers: make(map[string]ports.AuditWriter),
	}
}

// Writer returns the writer bound to conn, building it on first access. A
// failed build is not cached, so a later call retries.
func (r *WriterRegistry) Writer(ctx context.Context, conn domain.Connection) (ports.AuditWriter, error) {
	if conn == nil {
		return nil, &domain.RegistrationError{Err: errors.New("nil connection")}
	}
	id := conn.ConnID()
	if w, ok := r.lookup(id); ok {
		return w, nil
	}

	v, err, _ := r.group.Do(id, func() (any, error) {
		if w, ok := r.lookup(id); ok {
			return w, nil
		}
		w, err := r.factory(ctx, conn)
		if err != nil {
			return nil, &domain.RegistrationError{ConnID: id, Err: err}
		}
		if w == nil {
			return nil, &domain.RegistrationError{ConnID: id, Err: errors.New("factory returned no writer")}
		}

		r.mu.Lock()
		r.writers[id] = w
		r.mu.Unlock()

		r.metrics.WriterRegistered()
		r.log.WithField("conn_id", id).Info("audit writer registered")
		return w, nil
	})
	if err != nil {
		r.log.WithError(err).WithField("conn_id", id).Warn("audit writer registration failed")
		return nil, err
	}
	return v.(ports.AuditWriter), nil
}

// Release forgets the writer of conn. Call it when the connection is closed.
func (r *WriterRegistry) Release(conn domain.Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	delete(r.writers, conn.ConnID())
	r.mu.Unlock()
}

func (r *WriterRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.writers)
}

func (r *WriterRegistry) lookup(id string) (ports.AuditWriter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.writers[id]
	return w, ok
}
