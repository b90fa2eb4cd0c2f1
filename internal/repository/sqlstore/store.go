// Package sqlstore implements the repository interfaces on database/sql.
//
// Two backends share one set of queries:
//   - SQLite through modernc.org/sqlite (pure Go, the default; tests use ":memory:")
//   - PostgreSQL through the pgx stdlib driver, picked when the DSN is a
//     postgres:// or postgresql:// URL
//
// Queries are written with "?" placeholders and rebound to "$n" for Postgres.
// The schema lives in migrations/ and is applied with goose on Open.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Dialect identifies the SQL backend behind a Store.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DialectFor picks the backend for a connection string.
func DialectFor(dsn string) Dialect {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// driverName maps a dialect to the database/sql driver registered for it.
func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

// Store wraps a sql.DB connection pool and provides repository methods.
// It is safe for concurrent use; all per-request state lives in the
// context and the transaction.
type Store struct {
	conn    *sql.DB
	dialect Dialect
	logger  *slog.Logger

	// newID generates candidate user IDs. Replaced in tests to force collisions.
	newID func() int64
}

// Open connects to dsn, verifies the connection and applies migrations.
//
// dsn examples:
//   - "data/docx.db"                          → SQLite file
//   - ":memory:"                              → in-memory SQLite (tests)
//   - "postgres://user:pw@host:5432/docx"     → PostgreSQL
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	dialect := DialectFor(dsn)

	conn, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: opening %s database: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// SQLite allows one writer at a time. A single connection serialises
		// transactions (no SQLITE_BUSY) and keeps ":memory:" databases from
		// splitting into one private database per pooled connection.
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlstore: pinging %s database: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlstore: setting WAL mode: %w", err)
		}
	}

	s := &Store{
		conn:    conn,
		dialect: dialect,
		logger:  logger,
		newID:   randomUserID,
	}

	if err := s.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlstore: running migrations: %w", err)
	}

	return s, nil
}

// Close closes the connection pool. Call it once on shutdown.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlstore: ping: %w", err)
	}
	return nil
}

// Dialect reports which backend this store talks to.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// migrate applies all pending migrations from the embedded migrations/ dir.
func (s *Store) migrate(ctx context.Context) error {
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("creating migrations sub filesystem: %w", err)
	}

	gooseDialect := database.DialectSQLite3
	if s.dialect == DialectPostgres {
		gooseDialect = database.DialectPostgres
	}

	provider, err := goose.NewProvider(gooseDialect, s.conn, migrationFS)
	if err != nil {
		return fmt.Errorf("creating goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	for _, r := range results {
		s.logger.Info("migration applied",
			slog.Int64("version", r.Source.Version),
			slog.Duration("duration", r.Duration),
		)
	}
	return nil
}

// rebind rewrites "?" placeholders into the "$1, $2, ..." form Postgres wants.
// None of our queries contain literal question marks.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
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

// withTx runs fn inside a transaction. fn's error (or a failed commit) rolls
// everything back; nothing partial survives.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sql.Tx) { _ = tx.Rollback() }

// isUniqueViolation reports a UNIQUE constraint failure on either backend.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE ||
			sqliteErr.Code() == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
