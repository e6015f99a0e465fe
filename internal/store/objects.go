package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/stagegraph/stagegraph/internal/filemode"
	"github.com/stagegraph/stagegraph/internal/objhash"
)

// BlobRow is the persisted shape of spec.md §3's Blob: (repo, hash) -> size, storage_key.
type BlobRow struct {
	RepositoryID int64
	Hash         objhash.Hash
	Size         int64
	StorageKey   string
}

// UpsertBlob records that hash's bytes live at storageKey, sized size.
// Idempotent per (I1): storing the same hash twice is a no-op.
func (db *DB) UpsertBlob(ctx context.Context, repoID int64, hash objhash.Hash, size int64, storageKey string) error {
	stmt := db.insertIgnore(`INSERT INTO blobs (repository_id, hash, size, storage_key) VALUES (?, ?, ?, ?)`, "repository_id, hash")
	_, err := db.sql.ExecContext(ctx, stmt, repoID, hash.String(), size, storageKey)
	if err != nil {
		return fmt.Errorf("store: upsert blob: %w", err)
	}
	return nil
}

// GetBlob returns the blob row for (repoID, hash).
func (db *DB) GetBlob(ctx context.Context, repoID int64, hash objhash.Hash) (*BlobRow, error) {
	row := db.sql.QueryRowContext(ctx,
		`SELECT size, storage_key FROM blobs WHERE repository_id = ? AND hash = ?`, repoID, hash.String())
	var b BlobRow
	b.RepositoryID = repoID
	b.Hash = hash
	if err := row.Scan(&b.Size, &b.StorageKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("blob", hash.String())
		}
		return nil, err
	}
	return &b, nil
}

// UpsertTree persists a tree's entries inside one transaction (spec.md
// §4.2's "sorts by name, rejects duplicate names, upserts Tree and
// TreeEntry rows in one transaction").
func (db *DB) UpsertTree(ctx context.Context, repoID int64, hash objhash.Hash, entries []TreeEntryRow) error {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: upsert tree: begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trees WHERE repository_id = ? AND hash = ?`, repoID, hash.String()).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return tx.Commit()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO trees (repository_id, hash) VALUES (?, ?)`, repoID, hash.String()); err != nil {
		return fmt.Errorf("store: insert tree: %w", err)
	}
	for i, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tree_entries (repository_id, tree_hash, position, name, kind, target_hash, mode)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			repoID, hash.String(), i, e.Name, e.Kind, e.TargetHash.String(), uint32(e.Mode)); err != nil {
			return fmt.Errorf("store: insert tree entry: %w", err)
		}
	}
	return tx.Commit()
}

// TreeEntryRow mirrors object.TreeEntry for persistence (avoids a storage
// dependency on the object package's EntryKind enum string names).
type TreeEntryRow struct {
	Name       string
	Kind       string // "BLOB" | "TREE"
	TargetHash objhash.Hash
	Mode       filemode.FileMode
}

// GetTreeEntries returns a tree's entries in stored (name-sorted) order.
func (db *DB) GetTreeEntries(ctx context.Context, repoID int64, hash objhash.Hash) ([]TreeEntryRow, error) {
	var count int
	if err := db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trees WHERE repository_id = ? AND hash = ?`, repoID, hash.String()).Scan(&count); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, notFound("tree", hash.String())
	}
	rows, err := db.sql.QueryContext(ctx,
		`SELECT name, kind, target_hash, mode FROM tree_entries
		 WHERE repository_id = ? AND tree_hash = ? ORDER BY position`, repoID, hash.String())
	if err != nil {
		return nil, fmt.Errorf("store: get tree entries: %w", err)
	}
	defer rows.Close()
	var out []TreeEntryRow
	for rows.Next() {
		var e TreeEntryRow
		var targetHex string
		var mode uint32
		if err := rows.Scan(&e.Name, &e.Kind, &targetHex, &mode); err != nil {
			return nil, err
		}
		e.TargetHash = objhash.MustFromHex(targetHex)
		e.Mode = filemode.FileMode(mode)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CommitRow mirrors object.Commit for persistence.
type CommitRow struct {
	Hash        objhash.Hash
	TreeHash    objhash.Hash
	ParentHash  objhash.Hash
	Author      string
	AuthorEmail string
	Message     string
	CommittedAt string // RFC3339Nano
}

// UpsertCommit inserts a commit row if absent (idempotent by hash, per I1).
func (db *DB) UpsertCommit(ctx context.Context, repoID int64, c CommitRow) error {
	var parent any
	if !c.ParentHash.IsZero() {
		parent = c.ParentHash.String()
	}
	stmt := db.insertIgnore(`INSERT INTO commits (repository_id, hash, tree_hash, parent_hash, author, author_email, message, committed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, "repository_id, hash")
	_, err := db.sql.ExecContext(ctx, stmt,
		repoID, c.Hash.String(), c.TreeHash.String(), parent, c.Author, c.AuthorEmail, c.Message, c.CommittedAt)
	if err != nil {
		return fmt.Errorf("store: upsert commit: %w", err)
	}
	return nil
}

// GetCommit returns the commit row for hash, or NotFoundError.
func (db *DB) GetCommit(ctx context.Context, repoID int64, hash objhash.Hash) (*CommitRow, error) {
	row := db.sql.QueryRowContext(ctx,
		`SELECT hash, tree_hash, parent_hash, author, author_email, message, committed_at
		 FROM commits WHERE repository_id = ? AND hash = ?`, repoID, hash.String())
	return scanCommit(row)
}

func scanCommit(row *sql.Row) (*CommitRow, error) {
	var c CommitRow
	var hashHex, treeHex, authorMsg string
	var parent sql.NullString
	if err := row.Scan(&hashHex, &treeHex, &parent, &c.Author, &c.AuthorEmail, &authorMsg, &c.CommittedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("commit", "")
		}
		return nil, err
	}
	c.Hash = objhash.MustFromHex(hashHex)
	c.TreeHash = objhash.MustFromHex(treeHex)
	c.Message = authorMsg
	if parent.Valid && parent.String != "" {
		c.ParentHash = objhash.MustFromHex(parent.String)
	}
	return &c, nil
}

// RefRow mirrors spec.md §3's Ref entity.
type RefRow struct {
	Name       string
	CommitHash objhash.Hash
}

// UpsertRef creates or moves a ref to commitHash (spec.md §4.2
// create_or_update_ref: "upsert; no ordering check").
func (db *DB) UpsertRef(ctx context.Context, repoID int64, name string, commitHash objhash.Hash) error {
	_, err := db.sql.ExecContext(ctx, db.upsertRefSQL(), repoID, name, commitHash.String())
	if err != nil {
		return fmt.Errorf("store: upsert ref: %w", err)
	}
	return nil
}

// ErrRefExists is returned by CreateRefOnly when the ref already exists.
var ErrRefExists = errors.New("store: ref already exists")

// CreateRefOnly creates name only if absent (spec.md §4.2 create_branch:
// "create-only; fails if ref exists").
func (db *DB) CreateRefOnly(ctx context.Context, repoID int64, name string, commitHash objhash.Hash) error {
	if _, err := db.GetRef(ctx, repoID, name); err == nil {
		return ErrRefExists
	}
	_, err := db.sql.ExecContext(ctx,
		`INSERT INTO refs (repository_id, name, commit_hash) VALUES (?, ?, ?)`,
		repoID, name, commitHash.String())
	if err != nil {
		return fmt.Errorf("store: create ref: %w", err)
	}
	return nil
}

// GetRef looks up a ref by its full name.
func (db *DB) GetRef(ctx context.Context, repoID int64, name string) (*RefRow, error) {
	row := db.sql.QueryRowContext(ctx,
		`SELECT name, commit_hash FROM refs WHERE repository_id = ? AND name = ?`, repoID, name)
	var r RefRow
	var hashHex string
	if err := row.Scan(&r.Name, &hashHex); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("ref", name)
		}
		return nil, err
	}
	r.CommitHash = objhash.MustFromHex(hashHex)
	return &r, nil
}
