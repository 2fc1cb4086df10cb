// Package session provides connection management and configuration for relorm
package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	_ "modernc.org/sqlite"

	"github.com/pay-theory/relorm/pkg/core"
	"github.com/pay-theory/relorm/pkg/dialect"
	"github.com/pay-theory/relorm/pkg/executor"
	"github.com/pay-theory/relorm/pkg/logger"
)

// Drivers accepted by Open
const (
	DriverSQLite  = "sqlite"
	DriverPgx     = "pgx"     // database/sql over pgx/v5/stdlib
	DriverPgxPool = "pgxpool" // native pgx pool
)

// EnvPrefix is the prefix of environment overrides: RELORM_DSN, RELORM_LOG_LEVEL
const EnvPrefix = "RELORM"

// these are variables to allow mocking connections in tests
var (
	sqlOpenFunc = sql.Open
	poolNewFunc = func(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
		cfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		if maxConns > 0 {
			cfg.MaxConns = maxConns
		}
		return pgxpool.NewWithConfig(ctx, cfg)
	}
)

// LogConfig configures the session logger
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Config holds the configuration for relorm
type Config struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	Dialect         string        `mapstructure:"dialect" yaml:"dialect"` // defaults from Driver
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	Log             LogConfig     `mapstructure:"log" yaml:"log"`
	EnableMetrics   bool          `mapstructure:"metrics" yaml:"metrics"`
	SchemaFile      string        `mapstructure:"schema_file" yaml:"schema_file"`
	ParallelEager   bool          `mapstructure:"parallel_eager" yaml:"parallel_eager"`
	BatchSize       int           `mapstructure:"batch_size" yaml:"batch_size"`
}

// DefaultConfig returns the default configuration: in-memory sqlite with a
// single connection
func DefaultConfig() *Config {
	return &Config{
		Driver:       DriverSQLite,
		DSN:          ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		Log:          LogConfig{Level: "info", Format: "text"},
		BatchSize:    1000,
	}
}

// LoadConfig reads an optional YAML file and RELORM_ environment variables
// over the defaults. An empty path reads the environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	def := DefaultConfig()
	v.SetDefault("driver", def.Driver)
	v.SetDefault("dsn", def.DSN)
	v.SetDefault("dialect", def.Dialect)
	v.SetDefault("max_open_conns", def.MaxOpenConns)
	v.SetDefault("max_idle_conns", def.MaxIdleConns)
	v.SetDefault("conn_max_lifetime", def.ConnMaxLifetime)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("metrics", def.EnableMetrics)
	v.SetDefault("schema_file", def.SchemaFile)
	v.SetDefault("parallel_eager", def.ParallelEager)
	v.SetDefault("batch_size", def.BatchSize)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the driver, dialect and sizes
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSQLite, DriverPgx, DriverPgxPool:
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn is required")
	}
	if _, err := c.ResolveDialect(); err != nil {
		return err
	}
	if c.BatchSize < 0 || c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return fmt.Errorf("batch and pool sizes cannot be negative")
	}
	return nil
}

// ResolveDialect returns the configured dialect, defaulting from the driver
func (c *Config) ResolveDialect() (dialect.Dialect, error) {
	if c.Dialect != "" {
		return dialect.Lookup(c.Dialect)
	}
	if c.Driver == DriverPgx || c.Driver == DriverPgxPool {
		return dialect.Dollar{}, nil
	}
	return dialect.Question{}, nil
}

// Option configures Open
type Option func(*options)

type options struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
}

// WithLogger overrides the logger built from the config
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegisterer sets where metrics register; defaults to the global registry
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// Session owns a connection and the executor built on it
type Session struct {
	config  *Config
	dialect dialect.Dialect
	logger  *slog.Logger
	db      *sql.DB
	pool    *pgxpool.Pool
	exec    core.Executor
}

// Open connects according to cfg. A nil cfg uses DefaultConfig.
func Open(ctx context.Context, cfg *Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	}

	d, err := cfg.ResolveDialect()
	if err != nil {
		return nil, err
	}
	s := &Session{config: cfg, dialect: d, logger: o.logger}

	switch cfg.Driver {
	case DriverPgxPool:
		pool, err := poolNewFunc(ctx, cfg.DSN, int32(cfg.MaxOpenConns))
		if err != nil {
			return nil, fmt.Errorf("failed to create pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		s.pool = pool
		s.exec = executor.NewPgx(pool, executor.WithLogger(o.logger))
	default:
		db, err := sqlOpenFunc(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", cfg.Driver, err)
		}
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		s.db = db
		s.exec = executor.NewSQL(db, d, executor.WithLogger(o.logger))
	}

	if cfg.EnableMetrics {
		s.exec = executor.NewInstrumented(s.exec, executor.NewMetrics(o.registerer))
	}
	o.logger.Debug("session opened", "driver", cfg.Driver, "dialect", d.Name(), "metrics", cfg.EnableMetrics)
	return s, nil
}

// Executor returns the executor statements run through
func (s *Session) Executor() core.Executor { return s.exec }

// DB returns the database/sql handle, nil for pgxpool sessions
func (s *Session) DB() *sql.DB { return s.db }

// Pool returns the pgx pool, nil for database/sql sessions
func (s *Session) Pool() *pgxpool.Pool { return s.pool }

// Dialect returns the placeholder dialect
func (s *Session) Dialect() dialect.Dialect { return s.dialect }

// Logger returns the session logger
func (s *Session) Logger() *slog.Logger { return s.logger }

// Config returns the session configuration
func (s *Session) Config() *Config { return s.config }

// Close releases the connection
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
