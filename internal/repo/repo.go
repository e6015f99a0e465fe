// Package repo implements spec.md §4.2's repository operations: creating
// blobs/trees/commits/refs, navigating paths, branch operations,
// fast-forward merge, the commit-affects-path filter, and unified
// path-history. Grounded on the teacher's modules/zeta tree-synthesis
// pattern (modules/zeta/object/tree.go, pkg/serve/repo/*.go) adapted from
// BLAKE3 to SHA-256 content addressing.
package repo

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/stagegraph/stagegraph/internal/object"
	"github.com/stagegraph/stagegraph/internal/objhash"
	"github.com/stagegraph/stagegraph/internal/objstore"
	"github.com/stagegraph/stagegraph/internal/store"
)

// Repo is a handle scoped to one repository row, bundling the relational
// store and the blob backend the way the teacher's pkg/serve/odb.ODB
// bundles a *backend.Database with an oss.Bucket.
type Repo struct {
	db   *store.DB
	blob objstore.Store
	Row  *store.Repository
}

// DB exposes the underlying relational store for packages (vfs, diff,
// stagerun) that need queries beyond the Repo's own surface.
func (r *Repo) DB() *store.DB { return r.db }

// Open looks up an existing repository by name.
func Open(ctx context.Context, db *store.DB, blob objstore.Store, name string) (*Repo, error) {
	row, err := db.GetRepositoryByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Repo{db: db, blob: blob, Row: row}, nil
}

// Create registers a new repository row.
func Create(ctx context.Context, db *store.DB, blob objstore.Store, name, description, mainBranch string) (*Repo, error) {
	row, err := db.CreateRepository(ctx, name, description, mainBranch)
	if err != nil {
		return nil, err
	}
	return &Repo{db: db, blob: blob, Row: row}, nil
}

// CreateBlob stores bytes and upserts the Blob row (spec.md §4.2). Idempotent
// by hash within the repository (I1).
func (r *Repo) CreateBlob(ctx context.Context, data []byte) (*object.Blob, error) {
	hash, key, size, err := r.blob.Store(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("repo: create blob: %w", err)
	}
	if err := r.db.UpsertBlob(ctx, r.Row.ID, hash, size, key); err != nil {
		return nil, err
	}
	return &object.Blob{Hash: hash, Size: size, StorageKey: key}, nil
}

// GetBlob fetches a blob's metadata (not bytes) by hash.
func (r *Repo) GetBlob(ctx context.Context, hash objhash.Hash) (*object.Blob, error) {
	row, err := r.db.GetBlob(ctx, r.Row.ID, hash)
	if err != nil {
		return nil, err
	}
	return &object.Blob{Hash: hash, Size: row.Size, StorageKey: row.StorageKey}, nil
}

// ReadBlob returns a blob's bytes.
func (r *Repo) ReadBlob(ctx context.Context, hash objhash.Hash) ([]byte, error) {
	b, err := r.blob.Retrieve(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("repo: read blob: %w", err)
	}
	if b == nil {
		return nil, objstore.ErrNotFound
	}
	return b, nil
}

// CreateTree sorts entries by name, rejects duplicates, and upserts the
// Tree/TreeEntry rows in one transaction (spec.md §4.2).
func (r *Repo) CreateTree(ctx context.Context, entries []object.TreeEntry) (*object.Tree, error) {
	t, err := object.NewTree(entries)
	if err != nil {
		return nil, err
	}
	rows := make([]store.TreeEntryRow, len(t.Entries))
	for i, e := range t.Entries {
		rows[i] = store.TreeEntryRow{
			Name:       e.Name,
			Kind:       entryKindString(e.Kind),
			TargetHash: e.TargetHash,
			Mode:       e.Mode,
		}
	}
	if err := r.db.UpsertTree(ctx, r.Row.ID, t.Hash, rows); err != nil {
		return nil, err
	}
	return t, nil
}

func entryKindString(k object.EntryKind) string {
	if k == object.EntryTree {
		return "TREE"
	}
	return "BLOB"
}

func entryKindFromString(s string) object.EntryKind {
	if s == "TREE" {
		return object.EntryTree
	}
	return object.EntryBlob
}

// GetTree fetches a tree's entries by hash.
func (r *Repo) GetTree(ctx context.Context, hash objhash.Hash) (*object.Tree, error) {
	rows, err := r.db.GetTreeEntries(ctx, r.Row.ID, hash)
	if err != nil {
		return nil, err
	}
	entries := make([]object.TreeEntry, len(rows))
	for i, row := range rows {
		entries[i] = object.TreeEntry{
			Name:       row.Name,
			Kind:       entryKindFromString(row.Kind),
			TargetHash: row.TargetHash,
			Mode:       row.Mode,
		}
	}
	return &object.Tree{Hash: hash, Entries: entries}, nil
}

// CreateCommit computes the commit hash and upserts the row (idempotent by
// hash per spec.md §4.2).
func (r *Repo) CreateCommit(ctx context.Context, treeHash, parentHash objhash.Hash, message, author, email string) (*object.Commit, error) {
	c, err := object.NewCommit(treeHash, parentHash, author, email, message, time.Now())
	if err != nil {
		return nil, err
	}
	if err := r.db.UpsertCommit(ctx, r.Row.ID, store.CommitRow{
		Hash: c.Hash, TreeHash: c.TreeHash, ParentHash: c.ParentHash,
		Author: c.Author, AuthorEmail: c.AuthorEmail, Message: c.Message,
		CommittedAt: c.CommittedAt.UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return nil, err
	}
	return c, nil
}

// GetCommit fetches a commit by hash.
func (r *Repo) GetCommit(ctx context.Context, hash objhash.Hash) (*object.Commit, error) {
	row, err := r.db.GetCommit(ctx, r.Row.ID, hash)
	if err != nil {
		return nil, err
	}
	return commitFromRow(row), nil
}

func commitFromRow(row *store.CommitRow) *object.Commit {
	committedAt, _ := time.Parse(time.RFC3339Nano, row.CommittedAt)
	return &object.Commit{
		Hash: row.Hash, TreeHash: row.TreeHash, ParentHash: row.ParentHash,
		Author: row.Author, AuthorEmail: row.AuthorEmail, Message: row.Message,
		CommittedAt: committedAt,
	}
}

// CreateOrUpdateRef upserts name -> commitHash with no ordering check
// (spec.md §4.2).
func (r *Repo) CreateOrUpdateRef(ctx context.Context, name string, commitHash objhash.Hash) error {
	return r.db.UpsertRef(ctx, r.Row.ID, name, commitHash)
}

// CreateBranch creates refs/heads/<name> only if absent.
func (r *Repo) CreateBranch(ctx context.Context, name string, commitHash objhash.Hash) error {
	return r.db.CreateRefOnly(ctx, r.Row.ID, branchRef(name), commitHash)
}

func branchRef(name string) string { return "refs/heads/" + name }
func tagRef(name string) string    { return "refs/tags/" + name }

// GetRef looks up a ref by its full name (e.g. "refs/heads/main").
func (r *Repo) GetRef(ctx context.Context, fullName string) (objhash.Hash, error) {
	row, err := r.db.GetRef(ctx, r.Row.ID, fullName)
	if err != nil {
		return objhash.Hash{}, err
	}
	return row.CommitHash, nil
}

// ResolveRefOrCommit tries refs/heads/<token>, then refs/tags/<token>, then
// treats token as a raw commit hash (spec.md §4.2).
func (r *Repo) ResolveRefOrCommit(ctx context.Context, token string) (objhash.Hash, error) {
	if h, err := r.GetRef(ctx, branchRef(token)); err == nil {
		return h, nil
	}
	if h, err := r.GetRef(ctx, tagRef(token)); err == nil {
		return h, nil
	}
	if h, err := objhash.FromHex(token); err == nil {
		if _, err := r.GetCommit(ctx, h); err == nil {
			return h, nil
		}
	}
	return objhash.Hash{}, fmt.Errorf("repo: resolve %q: %w", token, objstore.ErrNotFound)
}

// GetBlobHashFromPath walks tree_hash down a slash-separated path,
// returning (hash, false) if any segment is missing or of the wrong kind
// (spec.md §4.2).
func (r *Repo) GetBlobHashFromPath(ctx context.Context, treeHash objhash.Hash, p string) (objhash.Hash, bool, error) {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" || p == "." {
		return objhash.Hash{}, false, nil
	}
	segments := strings.Split(p, "/")
	current := treeHash
	for i, seg := range segments {
		t, err := r.GetTree(ctx, current)
		if err != nil {
			return objhash.Hash{}, false, nil
		}
		entry, ok := t.Find(seg)
		if !ok {
			return objhash.Hash{}, false, nil
		}
		isLast := i == len(segments)-1
		if isLast {
			if entry.Kind != object.EntryBlob {
				return objhash.Hash{}, false, nil
			}
			return entry.TargetHash, true, nil
		}
		if entry.Kind != object.EntryTree {
			return objhash.Hash{}, false, nil
		}
		current = entry.TargetHash
	}
	return objhash.Hash{}, false, nil
}

// GetCommitHistory walks the parent chain from head, newest first, up to
// limit entries (spec.md §4.2). limit <= 0 means unbounded.
func (r *Repo) GetCommitHistory(ctx context.Context, head objhash.Hash, limit int) ([]*object.Commit, error) {
	var out []*object.Commit
	current := head
	for {
		if limit > 0 && len(out) >= limit {
			break
		}
		c, err := r.GetCommit(ctx, current)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
		if !c.HasParent() {
			break
		}
		current = c.ParentHash
	}
	return out, nil
}

// MergeBranches fast-forwards base to head's current commit. Not a
// three-way merge (explicit non-goal, spec.md §1/§9).
func (r *Repo) MergeBranches(ctx context.Context, base, head string) error {
	headHash, err := r.GetRef(ctx, branchRef(head))
	if err != nil {
		return err
	}
	return r.CreateOrUpdateRef(ctx, branchRef(base), headHash)
}
