package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	// SQLSTATE too_many_connections.
	codeTooManyConnections = "53300"
)

var retryInterval = 500 * time.Millisecond

type Options struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	Logger       *zap.Logger
}

type Store struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
	now    func() time.Time
}

// New opens an sqlite store at dbPath. ":memory:" gives a private in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(Options{Driver: DriverSQLite, DSN: SQLiteDSN(dbPath)})
}

func Open(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var driverName string
	switch opts.Driver {
	case DriverSQLite, "":
		opts.Driver = DriverSQLite
		driverName = "sqlite"
	case DriverPostgres:
		driverName = "pgx"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := sql.Open(driverName, opts.DSN)
	if err != nil {
		return nil, err
	}
	if opts.Driver == DriverSQLite {
		// one connection keeps :memory: databases and pragmas consistent
		db.SetMaxOpenConns(1)
	} else if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	return &Store{db: db, driver: opts.Driver, logger: logger, now: time.Now}, nil
}

// SQLiteDSN turns a file path into a modernc DSN with foreign keys enabled.
func SQLiteDSN(dbPath string) string {
	if dbPath == ":memory:" {
		return "file::memory:?_pragma=foreign_keys(1)"
	}
	return "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.retry(ctx, func() error {
		return s.db.PingContext(ctx)
	})
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at BIGINT NOT NULL
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := make(map[string]struct{})
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return err
		}
		applied[version] = struct{}{}
	}
	if err := rows.Close(); err != nil {
		return err
	}

	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		if _, ok := applied[file]; ok {
			continue
		}
		content, err := migrations.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}
		if err := s.applyMigration(ctx, file, string(content)); err != nil {
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
		s.logger.Info("migration applied", zap.String("version", file))
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, version, content string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, content); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`), version, s.now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

// retry runs op until it succeeds, fails with anything other than connection
// exhaustion, or ctx is done. Exhaustion is retried every retryInterval forever.
func (s *Store) retry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.NewConstantBackOff(retryInterval), ctx)
	return backoff.RetryNotify(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if IsTooManyConnections(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, func(err error, wait time.Duration) {
		s.logger.Warn("database connections exhausted, retrying", zap.Duration("wait", wait), zap.Error(err))
	})
}

func IsTooManyConnections(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeTooManyConnections
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	var affected int64
	err := s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

func queryAll[T any](ctx context.Context, s *Store, dec decoder[T], query string, args ...any) ([]T, error) {
	var items []T
	err := s.retry(ctx, func() error {
		items = items[:0]
		rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		columns, err := rows.Columns()
		if err != nil {
			return err
		}
		for rows.Next() {
			item, err := dec.decode(rows, columns)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// queryOne returns ErrNotFound when the query yields no rows.
func queryOne[T any](ctx context.Context, s *Store, dec decoder[T], query string, args ...any) (T, error) {
	var zero T
	items, err := queryAll(ctx, s, dec, query, args...)
	if err != nil {
		return zero, err
	}
	if len(items) == 0 {
		return zero, ErrNotFound
	}
	return items[0], nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
