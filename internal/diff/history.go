package diff

import (
	"context"

	"github.com/stagegraph/stagegraph/internal/object"
	"github.com/stagegraph/stagegraph/internal/repo"
	"github.com/stagegraph/stagegraph/internal/vfs"
)

// rootFor builds the VFS root node for a commit, the shared entry point
// every path-history helper below walks from.
func rootFor(r *repo.Repo, repoName, commitHash string, c *object.Commit) vfs.Node {
	t := &vfs.Tree{R: r}
	root, _ := t.Root(context.Background(), c, repoName, commitHash)
	return root
}

// CommitAffectsPathByHash is the commit-hash-addressed form of
// CommitAffectsPath used by callers that only have hashes, not VFS roots
// (spec.md §4.2's commit_affects_path). A root commit (no parent) affects
// every path it contains.
func CommitAffectsPathByHash(ctx context.Context, r *repo.Repo, repoName string, commit *object.Commit, path string) (bool, error) {
	if !commit.HasParent() {
		commitRoot := rootFor(r, repoName, commit.Hash.String(), commit)
		return CommitAffectsPath(ctx, nil, commitRoot, path)
	}
	parent, err := r.GetCommit(ctx, commit.ParentHash)
	if err != nil {
		return false, err
	}
	parentRoot := rootFor(r, repoName, parent.Hash.String(), parent)
	commitRoot := rootFor(r, repoName, commit.Hash.String(), commit)
	return CommitAffectsPath(ctx, parentRoot, commitRoot, path)
}

// GetLatestCommitForPath implements spec.md §4.3's get_latest_commit_for_path:
// linearly walks parents from head and returns the first commit whose
// diff-to-parent affects path.
func GetLatestCommitForPath(ctx context.Context, r *repo.Repo, repoName string, head object.Commit, path string, limit int) (*object.Commit, error) {
	current := &head
	for i := 0; limit <= 0 || i < limit; i++ {
		affects, err := CommitAffectsPathByHash(ctx, r, repoName, current, path)
		if err != nil {
			return nil, err
		}
		if affects {
			return current, nil
		}
		if !current.HasParent() {
			return nil, nil
		}
		parent, err := r.GetCommit(ctx, current.ParentHash)
		if err != nil {
			return nil, err
		}
		current = parent
	}
	return nil, nil
}

// TreeEntryWithCommit pairs a directory entry with the most recent
// ancestor commit that affected it, for get_tree_entries_with_commits
// (spec.md §4.2).
type TreeEntryWithCommit struct {
	Name         string
	Kind         vfs.Kind
	LatestCommit *object.Commit
}

// GetTreeEntriesWithCommits lists dirPath's children under commit plus,
// per entry, the most recent ancestor commit that affected
// <dirPath>/<entry> (spec.md §4.2/§4.3).
func GetTreeEntriesWithCommits(ctx context.Context, r *repo.Repo, repoName string, commit *object.Commit, dirPath string, historyLimit int) ([]TreeEntryWithCommit, error) {
	commitRoot := rootFor(r, repoName, commit.Hash.String(), commit)
	var dirNode vfs.Node = commitRoot
	if dirPath != "" {
		resolved, err := vfs.Resolve(ctx, commitRoot, splitPath(dirPath))
		if err != nil {
			return nil, err
		}
		dirNode = resolved
	}

	children, err := dirNode.Children(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]TreeEntryWithCommit, 0, len(children))
	for _, c := range children {
		entryPath := c.Name
		if dirPath != "" {
			entryPath = dirPath + "/" + c.Name
		}
		latest, err := GetLatestCommitForPath(ctx, r, repoName, *commit, entryPath, historyLimit)
		if err != nil {
			return nil, err
		}
		out = append(out, TreeEntryWithCommit{Name: c.Name, Kind: c.Node.Kind(), LatestCommit: latest})
	}
	return out, nil
}

func splitPath(p string) []string {
	var out []string
	start := 0
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			if i > start {
				out = append(out, p[start:i])
			}
			start = i + 1
		}
	}
	if start < len(p) {
		out = append(out, p[start:])
	}
	return out
}
