package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagegraph/stagegraph/internal/object"
	"github.com/stagegraph/stagegraph/internal/objhash"
)

func TestUpdateFileInsertsNewLeafAtRoot(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	tree, err := r.CreateTree(ctx, nil)
	require.NoError(t, err)
	base, err := r.CreateCommit(ctx, tree.Hash, objhash.Zero, "init", "Author", "a@b.com")
	require.NoError(t, err)
	require.NoError(t, r.CreateBranch(ctx, "main", base.Hash))

	commit, err := r.UpdateFile(ctx, "main", "new.txt", []byte("hi"), "add file", "Author", "a@b.com")
	require.NoError(t, err)

	got, found, err := r.GetBlobHashFromPath(ctx, commit.TreeHash, "new.txt")
	require.NoError(t, err)
	require.True(t, found)

	data, err := r.ReadBlob(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	headHash, err := r.GetRef(ctx, "refs/heads/main")
	require.NoError(t, err)
	assert.Equal(t, commit.Hash, headHash)
}

func TestUpdateFileReplacesExistingLeafInNestedDir(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	b1, err := r.CreateBlob(ctx, []byte("v1"))
	require.NoError(t, err)
	inner, err := r.CreateTree(ctx, []object.TreeEntry{
		{Name: "file.txt", Kind: object.EntryBlob, TargetHash: b1.Hash, Mode: 0100644},
	})
	require.NoError(t, err)
	outer, err := r.CreateTree(ctx, []object.TreeEntry{
		{Name: "dir", Kind: object.EntryTree, TargetHash: inner.Hash, Mode: 0040000},
	})
	require.NoError(t, err)
	base, err := r.CreateCommit(ctx, outer.Hash, objhash.Zero, "init", "Author", "a@b.com")
	require.NoError(t, err)
	require.NoError(t, r.CreateBranch(ctx, "main", base.Hash))

	commit, err := r.UpdateFile(ctx, "main", "dir/file.txt", []byte("v2"), "update", "Author", "a@b.com")
	require.NoError(t, err)

	hash, found, err := r.GetBlobHashFromPath(ctx, commit.TreeHash, "dir/file.txt")
	require.NoError(t, err)
	require.True(t, found)
	data, err := r.ReadBlob(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestUpdateFileRejectsMissingIntermediateDirectory(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	tree, err := r.CreateTree(ctx, nil)
	require.NoError(t, err)
	base, err := r.CreateCommit(ctx, tree.Hash, objhash.Zero, "init", "Author", "a@b.com")
	require.NoError(t, err)
	require.NoError(t, r.CreateBranch(ctx, "main", base.Hash))

	_, err = r.UpdateFile(ctx, "main", "missing-dir/file.txt", []byte("x"), "msg", "Author", "a@b.com")
	require.Error(t, err)
	var pathErr *ErrPathNotFound
	assert.ErrorAs(t, err, &pathErr)
}

func TestDeleteFileRemovesLeaf(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	b, err := r.CreateBlob(ctx, []byte("content"))
	require.NoError(t, err)
	tree, err := r.CreateTree(ctx, []object.TreeEntry{
		{Name: "keep.txt", Kind: object.EntryBlob, TargetHash: b.Hash, Mode: 0100644},
		{Name: "gone.txt", Kind: object.EntryBlob, TargetHash: b.Hash, Mode: 0100644},
	})
	require.NoError(t, err)
	base, err := r.CreateCommit(ctx, tree.Hash, objhash.Zero, "init", "Author", "a@b.com")
	require.NoError(t, err)

	commit, err := r.DeleteFile(ctx, base.Hash, "gone.txt", "remove", "Author", "a@b.com")
	require.NoError(t, err)

	_, found, err := r.GetBlobHashFromPath(ctx, commit.TreeHash, "gone.txt")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = r.GetBlobHashFromPath(ctx, commit.TreeHash, "keep.txt")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestDeleteFileFailsOnMissingPath(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	tree, err := r.CreateTree(ctx, nil)
	require.NoError(t, err)
	base, err := r.CreateCommit(ctx, tree.Hash, objhash.Zero, "init", "Author", "a@b.com")
	require.NoError(t, err)

	_, err = r.DeleteFile(ctx, base.Hash, "missing.txt", "remove", "Author", "a@b.com")
	require.Error(t, err)
	var pathErr *ErrPathNotFound
	assert.ErrorAs(t, err, &pathErr)
}
