// Package object defines the three immutable, content-addressed entities
// of the repository model: Blob, Tree, and Commit (spec.md §3). Hashing is
// grounded in the teacher's modules/zeta/object package, adapted from
// BLAKE3 to the SHA-256 addressing spec.md mandates.
package object

import (
	"errors"
	"sort"
	"time"

	"github.com/stagegraph/stagegraph/internal/filemode"
	"github.com/stagegraph/stagegraph/internal/objhash"
)

// ErrDuplicateEntry is returned by NewTree when two entries share a name.
var ErrDuplicateEntry = errors.New("object: duplicate entry name in tree")

// ErrEmptyField is returned when a required Commit field is blank.
var ErrEmptyField = errors.New("object: required field is empty")

// Kind distinguishes the three object families.
type Kind int

const (
	KindBlob Kind = iota
	KindTree
	KindCommit
)

// Blob is an immutable byte payload. The engine only ever stores its
// metadata here; bytes live in the blob store (internal/objstore) keyed by
// the same hash.
type Blob struct {
	Hash       objhash.Hash
	Size       int64
	StorageKey string
}

// TreeEntry is one named child of a Tree: either a blob (file) or a nested
// tree (directory).
type TreeEntry struct {
	Name       string
	Kind       EntryKind
	TargetHash objhash.Hash
	Mode       filemode.FileMode
}

// EntryKind is the TreeEntry.Kind enumeration from spec.md §3.
type EntryKind int

const (
	EntryBlob EntryKind = iota
	EntryTree
)

// Tree is an immutable, ordered (by name) set of entries. Hash is SHA-256
// over the canonical JSON of entries sorted by name (spec.md §3, §4.2).
type Tree struct {
	Hash    objhash.Hash
	Entries []TreeEntry
}

type treeEntryJSON struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	TargetHash string `json:"target_hash"`
	Mode       uint32 `json:"mode"`
}

func entryKindString(k EntryKind) string {
	if k == EntryTree {
		return "TREE"
	}
	return "BLOB"
}

// NewTree sorts entries by name, rejects duplicate names, and computes the
// tree hash. It does not touch storage; callers persist the result.
func NewTree(entries []TreeEntry) (*Tree, error) {
	sorted := make([]TreeEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Name == sorted[i-1].Name {
			return nil, ErrDuplicateEntry
		}
	}

	jsonEntries := make([]treeEntryJSON, len(sorted))
	for i, e := range sorted {
		jsonEntries[i] = treeEntryJSON{
			Name:       e.Name,
			Kind:       entryKindString(e.Kind),
			TargetHash: e.TargetHash.String(),
			Mode:       uint32(e.Mode),
		}
	}
	canon, err := objhash.Canonical(jsonEntries)
	if err != nil {
		return nil, err
	}
	return &Tree{Hash: objhash.Sum(canon), Entries: sorted}, nil
}

// Find returns the entry named name, if present.
func (t *Tree) Find(name string) (TreeEntry, bool) {
	for _, e := range t.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return TreeEntry{}, false
}

// Commit is an immutable pairing of a tree with authorship and an optional
// parent (spec.md §3).
type Commit struct {
	Hash         objhash.Hash
	TreeHash     objhash.Hash
	ParentHash   objhash.Hash // Zero if root commit
	Author       string
	AuthorEmail  string
	Message      string
	CommittedAt  time.Time
}

type commitJSON struct {
	Tree      string `json:"tree"`
	Parent    string `json:"parent"`
	Author    string `json:"author"`
	Email     string `json:"author_email"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// NewCommit validates required fields and computes the commit hash per
// spec.md §3: SHA-256 over canonical JSON of
// {tree, parent, author, author_email, message, timestamp}.
//
// The Open Question in spec.md §9 ("commit hash includes timestamp,
// defeating content-addressability for logically-identical commits") is
// left unchanged in behaviour: timestamp participates in the hash, so two
// commits with identical tree/author/message created at different instants
// get different hashes. Callers who want a canonicalised hash should pass
// a caller-supplied committedAt with second (not nanosecond) precision.
func NewCommit(treeHash, parentHash objhash.Hash, author, authorEmail, message string, committedAt time.Time) (*Commit, error) {
	if author == "" || authorEmail == "" || message == "" {
		return nil, ErrEmptyField
	}
	parent := ""
	if !parentHash.IsZero() {
		parent = parentHash.String()
	}
	cj := commitJSON{
		Tree:      treeHash.String(),
		Parent:    parent,
		Author:    author,
		Email:     authorEmail,
		Message:   message,
		Timestamp: committedAt.UTC().Format(time.RFC3339Nano),
	}
	canon, err := objhash.Canonical(cj)
	if err != nil {
		return nil, err
	}
	return &Commit{
		Hash:        objhash.Sum(canon),
		TreeHash:    treeHash,
		ParentHash:  parentHash,
		Author:      author,
		AuthorEmail: authorEmail,
		Message:     message,
		CommittedAt: committedAt,
	}, nil
}

// HasParent reports whether c has a parent commit.
func (c *Commit) HasParent() bool {
	return !c.ParentHash.IsZero()
}
