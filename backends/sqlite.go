package backends

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS Cache (
	Uri  TEXT PRIMARY KEY NOT NULL,
	Path TEXT NOT NULL
);
`

// Pragmas applied to every pooled connection. WAL lets lookups from a CLI
// process run while the player process is inserting.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
}

// SQLite stores the index in a single Cache(Uri, Path) table. Every Insert
// and Remove is its own committed transaction, so Save is a no-op and nothing
// is lost if the process dies without an orderly shutdown.
type SQLite struct {
	pool   *sqlitex.Pool
	path   string
	logger *slog.Logger
}

// NewSQLite opens (creating if necessary) the database at path.
func NewSQLite(path string, poolSize int, logger *slog.Logger) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("%w: failed to create database directory: %v", ErrUnavailable, err)
		}
	}
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareSQLiteConn,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", ErrUnavailable, path, err)
	}

	s := &SQLite{pool: pool, path: path, logger: logger}

	// Take one connection eagerly so a broken database surfaces at startup
	// rather than on the first lookup.
	conn, err := pool.Take(context.Background())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to connect to %s: %v", ErrUnavailable, path, err)
	}
	pool.Put(conn)

	logger.Info("sqlite index opened", "path", path, "pool_size", poolSize)
	return s, nil
}

func prepareSQLiteConn(conn *sqlite.Conn) error {
	for _, pragma := range sqlitePragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
}

func (s *SQLite) Load(ctx context.Context) (map[string]string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	entries := map[string]string{}
	err = sqlitex.Execute(conn, "SELECT Uri, Path FROM Cache", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entries[stmt.ColumnText(0)] = stmt.ColumnText(1)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query cache table: %w", err)
	}
	return entries, nil
}

func (s *SQLite) Insert(ctx context.Context, sourceURL, path string) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer endFn(&err)

	err = sqlitex.Execute(conn,
		"INSERT INTO Cache (Uri, Path) VALUES (?, ?) ON CONFLICT(Uri) DO UPDATE SET Path = excluded.Path",
		&sqlitex.ExecOptions{Args: []any{sourceURL, path}})
	if err != nil {
		return fmt.Errorf("failed to insert cache row: %w", err)
	}
	return nil
}

func (s *SQLite) Remove(ctx context.Context, sourceURL string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("failed to take connection: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, "DELETE FROM Cache WHERE Uri = ?", &sqlitex.ExecOptions{
		Args: []any{sourceURL},
	}); err != nil {
		return fmt.Errorf("failed to delete cache row: %w", err)
	}
	return nil
}

// Save is a no-op: every Insert has already been committed.
func (s *SQLite) Save(ctx context.Context, entries map[string]string) error { return nil }

func (s *SQLite) Transactional() bool { return true }

func (s *SQLite) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", s.path, err)
	}
	return nil
}
