package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Config struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// Store is an open database. Queries are built with ent's dialect-aware
// builder so the same repository code runs on Postgres, MySQL and SQLite.
type Store struct {
	drv     *entsql.Driver
	dialect string
	pool    *pgxpool.Pool // only for Postgres
	logger  *slog.Logger
}

// Dialect returns the ent dialect name of the store.
func (s *Store) Dialect() string { return s.dialect }

// DB exposes the underlying *sql.DB.
func (s *Store) DB() *sql.DB { return s.drv.DB() }

func (s *Store) builder() *entsql.DialectBuilder { return entsql.Dialect(s.dialect) }

// Open connects to the database named by cfg.DSN. The scheme picks the driver:
// postgres:// or postgresql:// (pgx pool), mysql://, sqlite:// (modernc, pure Go).
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	scheme, rest, ok := strings.Cut(cfg.DSN, "://")
	if !ok {
		return nil, fmt.Errorf("database url %q has no scheme", redact(cfg.DSN))
	}
	logger.Info("db.connect", "dialect", scheme, "dsn", redact(cfg.DSN))

	var (
		st  *Store
		err error
	)
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		st, err = openPostgres(ctx, cfg)
	case "mysql":
		st, err = openMySQL(cfg, rest)
	case "sqlite", "sqlite3", "file":
		st, err = openSQLite(rest)
	default:
		err = fmt.Errorf("unsupported database scheme %q", scheme)
	}
	if err != nil {
		logger.Error("db.connect.failed", "error", err)
		return nil, err
	}
	st.logger = logger
	logger.Info("db.connect.ok", "dialect", st.dialect)
	return st, nil
}

func openPostgres(ctx context.Context, cfg Config) (*Store, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "ticket-tracker"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}

	// Wrap pool as *sql.DB for the ent driver
	db := stdlib.OpenDBFromPool(pool)
	return &Store{drv: entsql.OpenDB(dialect.Postgres, db), dialect: dialect.Postgres, pool: pool}, nil
}

func openMySQL(cfg Config, dsn string) (*Store, error) {
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	// DATETIME columns must scan into time.Time
	mc.ParseTime = true
	mc.Loc = time.UTC
	// RowsAffected counts matched rows, so an idempotent UPDATE is not a miss
	mc.ClientFoundRows = true
	if cfg.DialTimeout > 0 {
		mc.Timeout = cfg.DialTimeout
	}
	db, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(int(cfg.MaxConns))
	}
	db.SetMaxIdleConns(int(cfg.MinConns))
	db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)
	return &Store{drv: entsql.OpenDB(dialect.MySQL, db), dialect: dialect.MySQL}, nil
}

func openSQLite(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+"_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	// one writer; an in-memory database also only exists per connection
	db.SetMaxOpenConns(1)
	return &Store{drv: entsql.OpenDB(dialect.SQLite, db), dialect: dialect.SQLite}, nil
}

// Close closes the database connections gracefully
func (s *Store) Close() {
	if s == nil {
		return
	}
	s.logger.Info("db.close")
	if err := s.drv.Close(); err != nil {
		s.logger.Error("db.close.failed", "error", err)
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// HealthCheck pings using database/sql to catch DSN issues early.
func (s *Store) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := s.drv.DB().PingContext(ctx); err != nil {
		s.logger.Error("db.ping.failed", "error", err)
		return err
	}
	s.logger.Debug("db.ping.ok")
	return nil
}

// redact hides the password of a URL-style DSN.
func redact(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return dsn
	}
	user, _, hasPass := strings.Cut(rest[:at], ":")
	if !hasPass {
		return dsn
	}
	return scheme + "://" + user + ":***" + rest[at:]
}
