// Package store is the relational persistence layer behind every
// content-addressed entity in spec.md §3: repositories, blobs, trees,
// commits, refs, stage runs, stage files, log lines, and pull requests.
//
// Grounded on the teacher's pkg/serve/database package (plain
// database/sql, no ORM, hand-written queries) but backend-agnostic: both
// the go-sql-driver/mysql and modernc.org/sqlite drivers accept `?`
// placeholders, so one query set serves both. The dialect differences (DSN
// handling, schema DDL types, insert-if-absent and upsert syntax) are
// switched on DB.dialect inside this package.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// DB wraps a *sql.DB with the full set of queries the control plane needs.
// A single struct (rather than one interface per component) matches the
// teacher's pkg/serve/database.DB shape: one fat type that serves both
// backends, branching on its dialect field where their SQL differs.
type DB struct {
	sql    *sql.DB
	dialect dialect
}

type dialect int

const (
	dialectSQLite dialect = iota
	dialectMySQL
)

// OpenSQLite opens (creating if needed) a modernc.org/sqlite-backed store.
// Used for local/dev control planes and the package test suite — no cgo
// required, unlike the libgit2-based navytux-git-backup teacher candidate
// we passed over.
func OpenSQLite(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway
	db := &DB{sql: sqlDB, dialect: dialectSQLite}
	if err := db.migrate(context.Background()); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenMySQL opens a go-sql-driver/mysql-backed store, mirroring the
// teacher's pkg/serve/database.NewDB connection-pool tuning.
func OpenMySQL(dsn string) (*DB, error) {
	sqlDB, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open mysql: %w", err)
	}
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	db := &DB{sql: sqlDB, dialect: dialectMySQL}
	if err := db.migrate(context.Background()); err != nil {
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.sql.Close()
}

// Raw exposes the underlying *sql.DB for callers (e.g. health checks) that
// need it directly.
func (db *DB) Raw() *sql.DB {
	return db.sql
}

func (db *DB) autoIncrement() string {
	if db.dialect == dialectMySQL {
		return "BIGINT AUTO_INCREMENT PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (db *DB) textType() string {
	if db.dialect == dialectMySQL {
		return "MEDIUMTEXT"
	}
	return "TEXT"
}

// insertIgnore rewrites insertSQL into the dialect-specific statement that
// is a no-op on a conflict over conflictCols ("insert if absent, else
// return existing", spec.md §9's content-addressable insert pattern).
// MySQL has no ON CONFLICT clause, so for MySQL the statement becomes
// INSERT IGNORE; for SQLite an ON CONFLICT ... DO NOTHING clause is
// appended. The full statement is returned.
func (db *DB) insertIgnore(insertSQL string, conflictCols string) string {
	if db.dialect == dialectMySQL {
		return "INSERT IGNORE" + insertSQL[len("INSERT"):]
	}
	return insertSQL + " ON CONFLICT (" + conflictCols + ") DO NOTHING"
}

// upsertRefSQL returns the dialect-specific full "insert or update on
// conflict" statement for the refs table, keyed on (repository_id, name),
// used by ref moves.
func (db *DB) upsertRefSQL() string {
	if db.dialect == dialectMySQL {
		return `INSERT INTO refs (repository_id, name, commit_hash) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE commit_hash = VALUES(commit_hash)`
	}
	return `INSERT INTO refs (repository_id, name, commit_hash) VALUES (?, ?, ?)
		 ON CONFLICT (repository_id, name) DO UPDATE SET commit_hash = excluded.commit_hash`
}

func (db *DB) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS repositories (
			id ` + db.autoIncrement() + `,
			name VARCHAR(255) NOT NULL UNIQUE,
			description ` + db.textType() + `,
			main_branch VARCHAR(255) NOT NULL DEFAULT 'main'
		)`,
		`CREATE TABLE IF NOT EXISTS blobs (
			repository_id INTEGER NOT NULL,
			hash CHAR(64) NOT NULL,
			size BIGINT NOT NULL,
			storage_key VARCHAR(512) NOT NULL,
			PRIMARY KEY (repository_id, hash)
		)`,
		`CREATE TABLE IF NOT EXISTS trees (
			repository_id INTEGER NOT NULL,
			hash CHAR(64) NOT NULL,
			PRIMARY KEY (repository_id, hash)
		)`,
		`CREATE TABLE IF NOT EXISTS tree_entries (
			repository_id INTEGER NOT NULL,
			tree_hash CHAR(64) NOT NULL,
			position INTEGER NOT NULL,
			name VARCHAR(1024) NOT NULL,
			kind VARCHAR(8) NOT NULL,
			target_hash CHAR(64) NOT NULL,
			mode INTEGER NOT NULL,
			PRIMARY KEY (repository_id, tree_hash, position)
		)`,
		`CREATE TABLE IF NOT EXISTS commits (
			repository_id INTEGER NOT NULL,
			hash CHAR(64) NOT NULL,
			tree_hash CHAR(64) NOT NULL,
			parent_hash CHAR(64),
			author VARCHAR(255) NOT NULL,
			author_email VARCHAR(255) NOT NULL,
			message ` + db.textType() + ` NOT NULL,
			committed_at VARCHAR(64) NOT NULL,
			PRIMARY KEY (repository_id, hash)
		)`,
		`CREATE TABLE IF NOT EXISTS refs (
			repository_id INTEGER NOT NULL,
			name VARCHAR(512) NOT NULL,
			commit_hash CHAR(64) NOT NULL,
			PRIMARY KEY (repository_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS stage_runs (
			id CHAR(64) PRIMARY KEY,
			parent_id CHAR(64),
			repo_name VARCHAR(255) NOT NULL,
			commit_hash CHAR(64) NOT NULL,
			workflow_file VARCHAR(1024) NOT NULL,
			stage_name VARCHAR(255) NOT NULL,
			arguments ` + db.textType() + ` NOT NULL,
			status VARCHAR(16) NOT NULL,
			started_at VARCHAR(64),
			completed_at VARCHAR(64),
			result_value ` + db.textType() + `,
			error_message ` + db.textType() + `,
			triggered_by VARCHAR(255),
			trigger_event VARCHAR(255),
			created_at VARCHAR(64) NOT NULL,
			updated_at VARCHAR(64) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS stage_files (
			id CHAR(64) PRIMARY KEY,
			stage_run_id CHAR(64) NOT NULL,
			file_path VARCHAR(1024) NOT NULL,
			content_hash CHAR(64) NOT NULL,
			storage_key VARCHAR(512) NOT NULL,
			size BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS stage_log_lines (
			id ` + db.autoIncrement() + `,
			stage_run_id CHAR(64) NOT NULL,
			log_line_index INTEGER NOT NULL,
			timestamp VARCHAR(64) NOT NULL,
			log_contents ` + db.textType() + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pull_requests (
			id ` + db.autoIncrement() + `,
			repo_name VARCHAR(255) NOT NULL,
			number INTEGER NOT NULL,
			base_branch VARCHAR(255) NOT NULL,
			head_branch VARCHAR(255) NOT NULL,
			title VARCHAR(1024) NOT NULL,
			description ` + db.textType() + `,
			author VARCHAR(255) NOT NULL,
			status VARCHAR(16) NOT NULL,
			merge_commit_hash CHAR(64),
			merged_at VARCHAR(64),
			merged_by VARCHAR(255)
		)`,
		`CREATE TABLE IF NOT EXISTS pull_request_comments (
			id ` + db.autoIncrement() + `,
			pr_id INTEGER NOT NULL,
			author VARCHAR(255) NOT NULL,
			body ` + db.textType() + ` NOT NULL,
			created_at VARCHAR(64) NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// NotFoundError is the equivalent of spec.md §7's NotFound kind for
// queries in this package; internal/httpapi's renderError maps it to 404.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("store: %s %q not found", e.Entity, e.Key)
}

func notFound(entity, key string) error {
	return &NotFoundError{Entity: entity, Key: key}
}
