package repo

import (
	"fmt"
	"strings"

	"github.com/stagegraph/stagegraph/internal/filemode"
	"github.com/stagegraph/stagegraph/internal/object"
	"github.com/stagegraph/stagegraph/internal/objhash"

	"context"
)

// ErrPathNotFound is spec.md §7's PathNotFound error kind: a segmented
// walk hit a missing or wrong-kind segment.
type ErrPathNotFound struct {
	Path string
}

func (e *ErrPathNotFound) Error() string {
	return fmt.Sprintf("repo: path not found: %s", e.Path)
}

// UpdateFile implements spec.md §4.2's update_file: store the blob, then
// synthesise a new tree chain by copying existing entries at each level
// along path and substituting the new blob leaf (inserting it with mode
// 100644 if absent at the final segment only — intermediate directory
// segments that don't exist are rejected, matching the teacher's
// _update_in_tree raising on a missing directory).
func (r *Repo) UpdateFile(ctx context.Context, branch, filePath string, content []byte, message, author, email string) (*object.Commit, error) {
	refName := branchRef(branch)
	if strings.HasPrefix(branch, "refs/") {
		refName = branch
	}
	headHash, err := r.GetRef(ctx, refName)
	if err != nil {
		return nil, err
	}
	baseCommit, err := r.GetCommit(ctx, headHash)
	if err != nil {
		return nil, err
	}
	blob, err := r.CreateBlob(ctx, content)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(strings.Trim(filePath, "/"), "/")
	newTreeHash, err := r.updateInTree(ctx, baseCommit.TreeHash, parts, blob.Hash)
	if err != nil {
		return nil, err
	}
	commit, err := r.CreateCommit(ctx, newTreeHash, baseCommit.Hash, message, author, email)
	if err != nil {
		return nil, err
	}
	if err := r.CreateOrUpdateRef(ctx, refName, commit.Hash); err != nil {
		return nil, err
	}
	return commit, nil
}

func (r *Repo) updateInTree(ctx context.Context, treeHash objhash.Hash, parts []string, blobHash objhash.Hash) (objhash.Hash, error) {
	t, err := r.GetTree(ctx, treeHash)
	if err != nil {
		return objhash.Hash{}, err
	}

	if len(parts) == 1 {
		target := parts[0]
		entries := make([]object.TreeEntry, 0, len(t.Entries)+1)
		found := false
		for _, e := range t.Entries {
			if e.Name == target {
				found = true
				entries = append(entries, object.TreeEntry{Name: e.Name, Kind: object.EntryBlob, TargetHash: blobHash, Mode: e.Mode})
				continue
			}
			entries = append(entries, e)
		}
		if !found {
			entries = append(entries, object.TreeEntry{Name: target, Kind: object.EntryBlob, TargetHash: blobHash, Mode: filemode.Regular})
		}
		newTree, err := r.CreateTree(ctx, entries)
		if err != nil {
			return objhash.Hash{}, err
		}
		return newTree.Hash, nil
	}

	dirName := parts[0]
	entries := make([]object.TreeEntry, 0, len(t.Entries))
	found := false
	for _, e := range t.Entries {
		if e.Name == dirName && e.Kind == object.EntryTree {
			found = true
			newSubtree, err := r.updateInTree(ctx, e.TargetHash, parts[1:], blobHash)
			if err != nil {
				return objhash.Hash{}, err
			}
			entries = append(entries, object.TreeEntry{Name: e.Name, Kind: object.EntryTree, TargetHash: newSubtree, Mode: e.Mode})
			continue
		}
		entries = append(entries, e)
	}
	if !found {
		return objhash.Hash{}, &ErrPathNotFound{Path: dirName}
	}
	newTree, err := r.CreateTree(ctx, entries)
	if err != nil {
		return objhash.Hash{}, err
	}
	return newTree.Hash, nil
}

// DeleteFile implements spec.md §4.2's delete_file: same tree synthesis as
// UpdateFile, but removes the leaf. Fails if the path or any segment is
// missing.
func (r *Repo) DeleteFile(ctx context.Context, baseCommitHash objhash.Hash, filePath, message, author, email string) (*object.Commit, error) {
	baseCommit, err := r.GetCommit(ctx, baseCommitHash)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(strings.Trim(filePath, "/"), "/")
	newTreeHash, err := r.deleteFromTree(ctx, baseCommit.TreeHash, parts)
	if err != nil {
		return nil, err
	}
	return r.CreateCommit(ctx, newTreeHash, baseCommit.Hash, message, author, email)
}

func (r *Repo) deleteFromTree(ctx context.Context, treeHash objhash.Hash, parts []string) (objhash.Hash, error) {
	t, err := r.GetTree(ctx, treeHash)
	if err != nil {
		return objhash.Hash{}, err
	}

	if len(parts) == 1 {
		target := parts[0]
		entries := make([]object.TreeEntry, 0, len(t.Entries))
		found := false
		for _, e := range t.Entries {
			if e.Name == target {
				found = true
				continue
			}
			entries = append(entries, e)
		}
		if !found {
			return objhash.Hash{}, &ErrPathNotFound{Path: target}
		}
		newTree, err := r.CreateTree(ctx, entries)
		if err != nil {
			return objhash.Hash{}, err
		}
		return newTree.Hash, nil
	}

	dirName := parts[0]
	entries := make([]object.TreeEntry, 0, len(t.Entries))
	found := false
	for _, e := range t.Entries {
		if e.Name == dirName && e.Kind == object.EntryTree {
			found = true
			newSubtree, err := r.deleteFromTree(ctx, e.TargetHash, parts[1:])
			if err != nil {
				return objhash.Hash{}, err
			}
			entries = append(entries, object.TreeEntry{Name: e.Name, Kind: object.EntryTree, TargetHash: newSubtree, Mode: e.Mode})
			continue
		}
		entries = append(entries, e)
	}
	if !found {
		return objhash.Hash{}, &ErrPathNotFound{Path: dirName}
	}
	newTree, err := r.CreateTree(ctx, entries)
	if err != nil {
		return objhash.Hash{}, err
	}
	return newTree.Hash, nil
}
