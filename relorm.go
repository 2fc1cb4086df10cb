// Package relorm provides a relational data-access layer for Go: a
// parameterized SQL builder, a declarative association registry, eager
// loading without N+1 queries and keyset batch iteration.
package relorm

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/pay-theory/relorm/pkg/association"
	"github.com/pay-theory/relorm/pkg/batch"
	"github.com/pay-theory/relorm/pkg/core"
	"github.com/pay-theory/relorm/pkg/eager"
	"github.com/pay-theory/relorm/pkg/errors"
	"github.com/pay-theory/relorm/pkg/logger"
	"github.com/pay-theory/relorm/pkg/marshal"
	"github.com/pay-theory/relorm/pkg/model"
	"github.com/pay-theory/relorm/pkg/query"
	"github.com/pay-theory/relorm/pkg/session"
)

// DB is the main relorm instance: a registry of types bound to an executor
type DB struct {
	registry  *model.Registry
	exec      core.Executor
	mapper    core.Mapper
	loader    *eager.Loader
	resolver  *association.Resolver
	logger    *slog.Logger
	session   *session.Session
	batchSize int
	parallel  bool
}

// Option configures a DB
type Option func(*DB)

// WithMapper replaces the struct decoder used by Scan
func WithMapper(m core.Mapper) Option {
	return func(db *DB) { db.mapper = m }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) { db.logger = l }
}

// WithParallelEager runs the separate eager-loading queries of one round
// concurrently
func WithParallelEager(enabled bool) Option {
	return func(db *DB) { db.parallel = enabled }
}

// WithBatchSize sets the default size for FindEach and FindInBatches
func WithBatchSize(n int) Option {
	return func(db *DB) { db.batchSize = n }
}

// New creates a DB over registry and exec
func New(registry *model.Registry, exec core.Executor, opts ...Option) *DB {
	db := &DB{
		registry:  registry,
		exec:      exec,
		batchSize: batch.DefaultSize,
	}
	for _, opt := range opts {
		opt(db)
	}
	db.logger = logger.Or(db.logger)
	if db.mapper == nil {
		db.mapper = marshal.NewDecoder(registry)
	}
	db.resolver = association.NewResolver(registry)
	db.loader = eager.NewLoader(registry, exec, eager.WithLogger(db.logger), eager.WithParallel(db.parallel))
	return db
}

// Connect opens a session from cfg, loads its schema file into a fresh
// registry and returns a DB over them. Close releases the connection.
func Connect(ctx context.Context, cfg *session.Config, opts ...Option) (*DB, error) {
	if cfg == nil {
		cfg = session.DefaultConfig()
	}
	registry := model.NewRegistry()
	if cfg.SchemaFile != "" {
		if err := registry.LoadSchemaFile(cfg.SchemaFile); err != nil {
			return nil, fmt.Errorf("failed to load schema: %w", err)
		}
	}

	sess, err := session.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	defaults := []Option{WithLogger(sess.Logger()), WithParallelEager(cfg.ParallelEager)}
	if cfg.BatchSize > 0 {
		defaults = append(defaults, WithBatchSize(cfg.BatchSize))
	}
	db := New(registry, sess.Executor(), append(defaults, opts...)...)
	db.session = sess
	return db, nil
}

// Registry returns the type registry
func (db *DB) Registry() *model.Registry { return db.registry }

// Executor returns the executor statements run through
func (db *DB) Executor() core.Executor { return db.exec }

// Session returns the session opened by Connect, nil otherwise
func (db *DB) Session() *session.Session { return db.session }

// Close releases the session opened by Connect
func (db *DB) Close() error {
	if db.session == nil {
		return nil
	}
	return db.session.Close()
}

// Model starts a relation on a type given by name, by registered struct
// value or by struct type, registering the struct on first use. The type's
// default scope is applied. Lookup failures surface when the relation runs.
func (db *DB) Model(m any) *Relation {
	typ, err := db.resolveType(m)
	if err != nil {
		return &Relation{db: db, q: query.New("invalid"), err: err}
	}
	return &Relation{
		db:  db,
		typ: typ,
		q:   typ.DefaultScope().Apply(query.New(typ.Table)),
	}
}

func (db *DB) resolveType(m any) (*model.Type, error) {
	switch v := m.(type) {
	case string:
		return db.registry.Type(v)
	case *model.Type:
		if v == nil {
			return nil, fmt.Errorf("%w: nil type", errors.ErrModelNotRegistered)
		}
		return v, nil
	case reflect.Type:
		return db.registry.RegisterModel(reflect.New(v).Interface())
	}
	if typ, err := db.registry.TypeOf(m); err == nil {
		return typ, nil
	}
	return db.registry.RegisterModel(m)
}
