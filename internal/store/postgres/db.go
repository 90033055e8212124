package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"
)

const (
	defaultStatementTimeout = 30 * time.Second
	maxStatementTimeout     = time.Hour
	defaultConnMaxIdleTime  = 2 * time.Minute

	// DefaultQueryTimeout bounds every non-transactional query issued by the repos.
	DefaultQueryTimeout = 15 * time.Second

	migrationTimeout     = 5 * time.Minute
	migrationLockTimeout = "10s"

	uniqueViolationCode = "23505"
)

//go:embed migrations/*.up.sql
var embeddedMigrations embed.FS

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

type DB struct {
	*sql.DB
}

type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// StatementTimeout is applied server-side to every pooled connection.
	// Zero selects 30s, negative disables it.
	StatementTimeout time.Duration
}

func (c Config) statementTimeout() (time.Duration, error) {
	switch {
	case c.StatementTimeout == 0:
		return defaultStatementTimeout, nil
	case c.StatementTimeout < 0:
		return 0, nil
	case c.StatementTimeout > maxStatementTimeout:
		return 0, fmt.Errorf("statement timeout %s exceeds %s", c.StatementTimeout, maxStatementTimeout)
	}
	return c.StatementTimeout, nil
}

func New(cfg Config) (*DB, error) {
	timeout, err := cfg.statementTimeout()
	if err != nil {
		return nil, err
	}
	dsn := cfg.URL
	if timeout > 0 {
		dsn = withStatementTimeout(dsn, timeout)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	idle := cfg.ConnMaxIdleTime
	if idle <= 0 {
		idle = defaultConnMaxIdleTime
	}
	db.SetConnMaxIdleTime(idle)

	ctx, cancel := withTimeout(context.Background(), DefaultQueryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// withStatementTimeout adds a statement_timeout startup option to the DSN so
// it applies to every connection in the pool.
func withStatementTimeout(dsn string, d time.Duration) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "options=" + url.QueryEscape(fmt.Sprintf("-c statement_timeout=%d", d.Milliseconds()))
}

func (db *DB) Close() error {
	return db.DB.Close()
}

type migration struct {
	version string
	sql     string
}

// loadMigrations reads *.up.sql in lexical order from dir, or from the files
// compiled into the binary when dir is empty.
func loadMigrations(dir string) ([]migration, error) {
	var source fs.FS = embeddedMigrations
	pattern := "migrations/*.up.sql"
	if dir != "" {
		source = os.DirFS(dir)
		pattern = "*.up.sql"
	}

	files, err := fs.Glob(source, pattern)
	if err != nil {
		return nil, fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(files)

	out := make([]migration, 0, len(files))
	for _, f := range files {
		content, err := fs.ReadFile(source, f)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", f, err)
		}
		out = append(out, migration{version: path.Base(f), sql: string(content)})
	}
	return out, nil
}

// RunMigrations applies every migration not yet recorded in schema_migrations.
func (db *DB) RunMigrations(ctx context.Context, dir string) error {
	migrations, err := loadMigrations(dir)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if err := db.apply(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (db *DB) apply(ctx context.Context, m migration) error {
	started := time.Now()
	ctx, cancel := withTimeout(ctx, migrationTimeout)
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", m.version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []struct {
		query string
		args  []any
	}{
		{"SET LOCAL lock_timeout = '" + migrationLockTimeout + "'", nil},
		{m.sql, nil},
		{"INSERT INTO schema_migrations (version) VALUES ($1)", []any{m.version}},
	} {
		if _, err := tx.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
			return fmt.Errorf("migration %s: %w", m.version, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.version, err)
	}

	slog.Info("migration applied", "version", m.version, "elapsed", time.Since(started).String())
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode
}
