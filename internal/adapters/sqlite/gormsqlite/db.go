package gormsqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	gormdriver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// DB is one opened SQLite database with a reader pool and a single writer
// connection. Each DB gets a unique connection id when opened.
type DB struct {
	R *gorm.DB
	W *gorm.DB

	id string
}

type Tx struct {
	*gorm.DB

	owner *DB
	ctx   context.Context
}

// Context returns a context carrying this transaction. Code that receives it
// and calls Conn or WriteTX on the same DB joins the transaction.
func (tx *Tx) Context() context.Context {
	return tx.ctx
}

type cbfn func(tx *Tx) error

type txKey struct{}

func (db *DB) ConnID() string {
	return db.id
}

func (db *DB) ReadTX(ctx context.Context, fn cbfn) error {
	if tx, ok := db.txFromContext(ctx); ok {
		return fn(tx)
	}
	return db.R.WithContext(ctx).Transaction(func(g *gorm.DB) error {
		return fn(db.wrap(ctx, g))
	}, &sql.TxOptions{ReadOnly: true})
}

// WriteTX runs fn in a write transaction. When ctx already carries a write
// transaction of this DB, fn joins it instead of opening a new one.
func (db *DB) WriteTX(ctx context.Context, fn cbfn) error {
	if tx, ok := db.txFromContext(ctx); ok {
		return fn(tx)
	}
	return db.W.WithContext(ctx).Transaction(func(g *gorm.DB) error {
		return fn(db.wrap(ctx, g))
	})
}

// Conn returns the transaction carried by ctx, or the writer.
func (db *DB) Conn(ctx context.Context) *gorm.DB {
	if tx, ok := db.txFromContext(ctx); ok {
		return tx.DB
	}
	return db.W.WithContext(ctx)
}

// Reader returns the transaction carried by ctx, or the reader pool.
func (db *DB) Reader(ctx context.Context) *gorm.DB {
	if tx, ok := db.txFromContext(ctx); ok {
		return tx.DB
	}
	return db.R.WithContext(ctx)
}

// InTx reports whether ctx carries a transaction of this DB.
func (db *DB) InTx(ctx context.Context) bool {
	_, ok := db.txFromContext(ctx)
	return ok
}

// Ping checks the reader pool. It never waits for the writer connection.
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.R.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (db *DB) HasTable(ctx context.Context, table string) bool {
	return db.R.WithContext(ctx).Migrator().HasTable(table)
}

func (db *DB) WriteSQLDB() (*sql.DB, error) {
	return db.W.DB()
}

func (db *DB) wrap(ctx context.Context, g *gorm.DB) *Tx {
	tx := &Tx{DB: g, owner: db}
	tx.ctx = context.WithValue(ctx, txKey{}, tx)
	return tx
}

func (db *DB) txFromContext(ctx context.Context) (*Tx, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txKey{}).(*Tx)
	if !ok || tx.owner != db {
		return nil, false
	}
	return tx, true
}

func (db *DB) Close() error {
	var firstErr error
	closeOne := func(g *gorm.DB) {
		if g == nil {
			return
		}
		sqlDB, err := g.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		if err := sqlDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	closeOne(db.R)
	closeOne(db.W)
	return firstErr
}

var _ io.Closer = (*DB)(nil)

type Option func(*options)

type options struct {
	log      logrus.FieldLogger
	logLevel logger.LogLevel
}

// WithLogger routes gorm's own log output through log at the given level.
func WithLogger(log logrus.FieldLogger, level logger.LogLevel) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
			o.logLevel = level
		}
	}
}

func Open(file string, opts ...Option) (*DB, error) {
	o := options{log: logrus.StandardLogger(), logLevel: logger.Silent}
	for _, opt := range opts {
		opt(&o)
	}

	newLogger := logger.New(
		o.log,
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  o.logLevel,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		},
	)

	reader, err := gorm.Open(gormdriver.Dialector{DriverName: "sqlite", DSN: buildDSN(file, true)}, &gorm.Config{
		PrepareStmt: true,
		Logger:      newLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open read db: %w", err)
	}

	writer, err := gorm.Open(gormdriver.Dialector{DriverName: "sqlite", DSN: buildDSN(file, false)}, &gorm.Config{
		PrepareStmt: true,
		Logger:      newLogger,
	})
	if err != nil {
		_ = closeGORM(reader)
		return nil, fmt.Errorf("open write db: %w", err)
	}

	rdb, err := reader.DB()
	if err != nil {
		_ = closeGORM(reader)
		_ = closeGORM(writer)
		return nil, fmt.Errorf("reader sql db: %w", err)
	}
	wdb, err := writer.DB()
	if err != nil {
		_ = closeGORM(reader)
		_ = closeGORM(writer)
		return nil, fmt.Errorf("writer sql db: %w", err)
	}

	rdb.SetMaxOpenConns(runtime.NumCPU())
	rdb.SetMaxIdleConns(runtime.NumCPU())
	rdb.SetConnMaxLifetime(0)
	rdb.SetConnMaxIdleTime(0)

	wdb.SetMaxOpenConns(1)
	wdb.SetMaxIdleConns(1)
	wdb.SetConnMaxLifetime(0)
	wdb.SetConnMaxIdleTime(0)

	return &DB{R: reader, W: writer, id: uuid.NewString()}, nil
}

// buildDSN encodes pragmas as _pragma query parameters so every pooled
// connection gets them, not only the first one.
func buildDSN(file string, readOnly bool) string {
	pragmas := []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"temp_store(MEMORY)",
		"wal_autocheckpoint(1000)",
		"cache_size(-20000)",
		"mmap_size(268435456)",
		"foreign_keys(1)",
		"busy_timeout(5000)",
		"trusted_schema(OFF)",
	}
	if readOnly {
		pragmas = append(pragmas, "query_only(1)")
	} else {
		pragmas = append(pragmas, "query_only(0)")
	}

	params := make([]string, 0, len(pragmas)+1)
	for _, p := range pragmas {
		params = append(params, "_pragma="+p)
	}
	if !readOnly {
		params = append(params, "_txlock=immediate")
	}

	sep := "?"
	if strings.Contains(file, "?") {
		sep = "&"
	}
	return "file:" + strings.TrimPrefix(file, "file:") + sep + strings.Join(params, "&")
}

func closeGORM(g *gorm.DB) error {
	if g == nil {
		return nil
	}
	sqlDB, err := g.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
