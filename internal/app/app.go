package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm/logger"

	"github.com/atvirokodosprendimai/doctrail/internal/adapters/httpapi"
	"github.com/atvirokodosprendimai/doctrail/internal/adapters/metrics"
	sqliteadapter "github.com/atvirokodosprendimai/doctrail/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/doctrail/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/doctrail/internal/config"
	"github.com/atvirokodosprendimai/doctrail/internal/core/domain"
	"github.com/atvirokodosprendimai/doctrail/internal/core/usecase"
	"github.com/atvirokodosprendimai/doctrail/migrations"
)

type Config struct {
	Addr             string
	DBPath           string
	BootstrapAPIKey  string
	BootstrapTenant  string
	BootstrapKeyName string
	// BootstrapActorID overrides the actor recorded for the bootstrap key.
	BootstrapActorID string

	// Audit selects tracked collections and audit policies. Nil tracks nothing.
	Audit *config.Audit

	Logger *logrus.Logger
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewLogger builds the process logger. format is "text" or "json".
func NewLogger(level, format string) (*logrus.Logger, error) {
	log := logrus.New()

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	log.SetLevel(lvl)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339Nano})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	return log, nil
}

func NewServer(ctx context.Context, cfg Config) (*http.Server, io.Closer, error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	auditCfg := cfg.Audit
	if auditCfg == nil {
		auditCfg = config.DefaultAudit()
	}

	kinds, err := auditCfg.EntityKinds()
	if err != nil {
		return nil, nil, err
	}
	bulkMode, err := sqliteadapter.ParseBulkFailureMode(auditCfg.BulkFailureMode)
	if err != nil {
		return nil, nil, err
	}

	gormLevel := logger.Silent
	if log.IsLevelEnabled(logrus.DebugLevel) {
		gormLevel = logger.Warn
	}
	db, err := gormsqlite.Open(cfg.DBPath, gormsqlite.WithLogger(log.WithField("component", "gorm"), gormLevel))
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}

	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("resolve writer sql db: %w", err)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := migrations.Up(migrateCtx, writeSQLDB); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	auditMetrics, err := metrics.NewAuditMetrics(registry)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	store := sqliteadapter.NewDocumentStore(db,
		sqliteadapter.WithStoreLogger(log.WithField("component", "document_store")),
		sqliteadapter.WithBulkFailureMode(bulkMode),
	)
	writers := usecase.NewWriterRegistry(sqliteadapter.NewHistoryWriterFactory(), log.WithField("component", "audit_writers"), auditMetrics)
	auditor := usecase.NewAuditor(writers,
		usecase.WithAuditLogger(log.WithField("component", "audit")),
		usecase.WithAuditMetrics(auditMetrics),
		usecase.WithCollapseTombstoneSaves(auditCfg.CollapseTombstoneSaves),
	)
	for _, kind := range kinds {
		if _, err := auditor.Attach(store, kind); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		log.WithFields(logrus.Fields{
			"collection":      kind.Collection,
			"entity_type":     kind.EntityType,
			"tombstone_field": kind.TombstoneField,
		}).Info("tracking collection")
	}

	schemaRepo := sqliteadapter.NewSchemaRepository(db)

	schemaService, err := usecase.NewSchemaService(schemaRepo)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	documentService := usecase.NewDocumentService(store, usecase.WithSchemaService(schemaService))
	authService := usecase.NewAuthService(sqliteadapter.NewAPIKeyRepository(db))

	if cfg.BootstrapAPIKey != "" {
		tenant := cfg.BootstrapTenant
		if tenant == "" {
			tenant = "default"
		}
		name := cfg.BootstrapKeyName
		if name == "" {
			name = "bootstrap"
		}

		bootstrapCtx, bootstrapCancel := context.WithTimeout(ctx, 5*time.Second)
		err := authService.Issue(bootstrapCtx, cfg.BootstrapAPIKey, domain.APIKey{
			TenantID: tenant,
			Name:     name,
			ActorID:  cfg.BootstrapActorID,
		})
		bootstrapCancel()
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("bootstrap api key: %w", err)
		}
	}

	handler := httpapi.NewHandler(documentService, schemaService, authService,
		httpapi.WithLogger(log.WithField("component", "http")),
		httpapi.WithMetrics(registry),
	)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	releaseWriter := closerFunc(func() error {
		writers.Release(db)
		return nil
	})
	return server, resourceCloser{closers: []io.Closer{releaseWriter, db}}, nil
}
