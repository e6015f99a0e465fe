// Package vfs implements spec.md §4.4's lazy, polymorphic tree that unifies
// base git objects (Tree/Blob) with derived invocation outputs
// (StageRun/StageFile) into one streamable view, so the diff engine and the
// HTTP browse API can walk both through the same interface. Grounded on the
// teacher's modules/zeta/fsobject lazy-tree pattern (pkg/vfs in the
// teacher's server), generalised from "Git entries" to "Git entries plus
// stage-run subtrees".
package vfs

import (
	"context"
	"fmt"
	"sort"

	"github.com/stagegraph/stagegraph/internal/object"
	"github.com/stagegraph/stagegraph/internal/objhash"
	"github.com/stagegraph/stagegraph/internal/repo"
	"github.com/stagegraph/stagegraph/internal/store"
)

// Kind is Node.kind() from spec.md §4.4.
type Kind int

const (
	KindTree Kind = iota
	KindBlob
	KindStageRun
	KindStageFile
)

func (k Kind) String() string {
	switch k {
	case KindTree:
		return "TREE"
	case KindBlob:
		return "BLOB"
	case KindStageRun:
		return "STAGERUN"
	case KindStageFile:
		return "STAGEFILE"
	default:
		return "UNKNOWN"
	}
}

// Content is the leaf payload a node's content() call resolves, whether a
// real Blob row or a StageFile's pseudo-blob (spec.md §4.4: "content()
// fabricates a pseudo-blob whose hash is the stage file's content_hash").
type Content struct {
	Hash       objhash.Hash
	Size       int64
	StorageKey string
}

// Child pairs a name with its lazily-resolvable Node, per Node.children().
type Child struct {
	Name string
	Node Node
}

// Node is spec.md §4.4's one interface over four node variants.
type Node interface {
	Name() string
	Path() string
	Kind() Kind
	Children(ctx context.Context) ([]Child, error)
	Content(ctx context.Context) (*Content, error)
	TypeLabel() string
}

// Tree wraps a *repo.Repo and the repository name/commit a path resolves
// against, the entry point for walking a commit's VFS.
type Tree struct {
	R *repo.Repo
}

// Root returns the VFS root for a commit: TreeNode(commit.tree_hash) with
// an empty name, per spec.md §4.4.
func (t *Tree) Root(ctx context.Context, commit *object.Commit, repoName, commitHash string) (Node, error) {
	return &TreeNode{r: t.R, hash: commit.TreeHash, name: "", path: "", repoName: repoName, commitHash: commitHash}, nil
}

// TreeNode wraps a content-addressed Tree; children are resolved from
// TreeEntry rows, and a blob-kind entry becomes a BlobNode carrying the
// (repoName, commitHash) pair BlobNode needs to look up attached stage
// runs.
type TreeNode struct {
	r          *repo.Repo
	hash       objhash.Hash
	name       string
	path       string
	repoName   string
	commitHash string
}

func (n *TreeNode) Name() string  { return n.name }
func (n *TreeNode) Path() string  { return n.path }
func (n *TreeNode) Kind() Kind    { return KindTree }
func (n *TreeNode) TypeLabel() string { return "base tree" }
func (n *TreeNode) Content(ctx context.Context) (*Content, error) { return nil, nil }

func (n *TreeNode) Children(ctx context.Context) ([]Child, error) {
	t, err := n.r.GetTree(ctx, n.hash)
	if err != nil {
		return nil, err
	}
	out := make([]Child, 0, len(t.Entries))
	for _, e := range t.Entries {
		childPath := e.Name
		if n.path != "" {
			childPath = n.path + "/" + e.Name
		}
		var child Node
		if e.Kind == object.EntryTree {
			child = &TreeNode{r: n.r, hash: e.TargetHash, name: e.Name, path: childPath, repoName: n.repoName, commitHash: n.commitHash}
		} else {
			child = &BlobNode{r: n.r, hash: e.TargetHash, name: e.Name, path: childPath, repoName: n.repoName, commitHash: n.commitHash}
		}
		out = append(out, Child{Name: e.Name, Node: child})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// BlobNode wraps a content-addressed Blob. Its children are the root stage
// runs attached to this file's full path at its owning commit (spec.md
// §4.4's "crucial twist": a blob is both a file and a directory of its
// invocations).
type BlobNode struct {
	r          *repo.Repo
	hash       objhash.Hash
	name       string
	path       string
	repoName   string
	commitHash string
}

func (n *BlobNode) Name() string      { return n.name }
func (n *BlobNode) Path() string      { return n.path }
func (n *BlobNode) Kind() Kind        { return KindBlob }
func (n *BlobNode) TypeLabel() string { return "base blob" }

func (n *BlobNode) Content(ctx context.Context) (*Content, error) {
	b, err := n.r.GetBlob(ctx, n.hash)
	if err != nil {
		return nil, err
	}
	return &Content{Hash: b.Hash, Size: b.Size, StorageKey: b.StorageKey}, nil
}

func (n *BlobNode) Children(ctx context.Context) ([]Child, error) {
	rows, err := n.r.DB().ListRootStageRunsForWorkflowFile(ctx, n.repoName, n.commitHash, n.path)
	if err != nil {
		return nil, err
	}
	out := make([]Child, 0, len(rows))
	for _, row := range rows {
		childPath := n.path + "/" + row.StageName
		out = append(out, Child{Name: row.StageName, Node: &StageRunNode{r: n.r, row: row, path: childPath}})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// StageRunNode wraps an invocation row. Children are its StageFiles
// followed by its direct child stage runs, per spec.md §4.4.
type StageRunNode struct {
	r    *repo.Repo
	row  *store.StageRunRow
	path string
}

func (n *StageRunNode) Name() string      { return n.row.StageName }
func (n *StageRunNode) Path() string      { return n.path }
func (n *StageRunNode) Kind() Kind        { return KindStageRun }
func (n *StageRunNode) TypeLabel() string { return "StageRun" }
func (n *StageRunNode) Content(ctx context.Context) (*Content, error) { return nil, nil }

// Row exposes the underlying row for callers (e.g. the HTTP API) that need
// status/result beyond the VFS view.
func (n *StageRunNode) Row() *store.StageRunRow { return n.row }

func (n *StageRunNode) Children(ctx context.Context) ([]Child, error) {
	var out []Child

	files, err := n.r.DB().ListStageFiles(ctx, n.row.ID)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		childPath := n.path + "/" + f.FilePath
		out = append(out, Child{Name: f.FilePath, Node: &StageFileNode{r: n.r, row: f, path: childPath}})
	}

	children, err := n.r.DB().ListChildStageRuns(ctx, n.row.ID)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		childPath := n.path + "/" + c.StageName
		out = append(out, Child{Name: c.StageName, Node: &StageRunNode{r: n.r, row: c, path: childPath}})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// StageFileNode is a leaf: content() fabricates a pseudo-blob whose hash is
// the stage file's content_hash (spec.md §4.4).
type StageFileNode struct {
	r    *repo.Repo
	row  *store.StageFileRow
	path string
}

func (n *StageFileNode) Name() string      { return n.row.FilePath }
func (n *StageFileNode) Path() string      { return n.path }
func (n *StageFileNode) Kind() Kind        { return KindStageFile }
func (n *StageFileNode) TypeLabel() string { return "StageFile" }

func (n *StageFileNode) Children(ctx context.Context) ([]Child, error) { return nil, nil }

func (n *StageFileNode) Content(ctx context.Context) (*Content, error) {
	hash, err := objhash.FromHex(n.row.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("vfs: stage file content hash: %w", err)
	}
	return &Content{Hash: hash, Size: n.row.Size, StorageKey: n.row.StorageKey}, nil
}

// Row exposes the underlying row.
func (n *StageFileNode) Row() *store.StageFileRow { return n.row }

// Resolve walks root down a slash-separated path using the stage-view
// language from spec.md §4.4: "<workflow_file>/<stage_name>/.../
// [<output_file_name>]" — resolution is just repeated Children() lookup by
// name, valid uniformly across node kinds since every variant implements
// Children().
func Resolve(ctx context.Context, root Node, segments []string) (Node, error) {
	current := root
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		children, err := current.Children(ctx)
		if err != nil {
			return nil, err
		}
		found := false
		for _, c := range children {
			if c.Name == seg {
				current = c.Node
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("vfs: path segment %q not found under %q", seg, current.Path())
		}
	}
	return current, nil
}
