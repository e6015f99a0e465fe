package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagegraph/stagegraph/internal/object"
	"github.com/stagegraph/stagegraph/internal/objhash"
	"github.com/stagegraph/stagegraph/internal/objstore"
	"github.com/stagegraph/stagegraph/internal/store"
)

func newTestRepo(t *testing.T) *Repo {
	t.Helper()
	db, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	blob, err := objstore.NewFilesystemStore(t.TempDir(), false)
	require.NoError(t, err)

	r, err := Create(context.Background(), db, blob, "acme", "", "main")
	require.NoError(t, err)
	return r
}

func TestCreateBlobIsIdempotentAndReadable(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	b1, err := r.CreateBlob(ctx, []byte("hello"))
	require.NoError(t, err)
	b2, err := r.CreateBlob(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, b1.Hash, b2.Hash)

	got, err := r.ReadBlob(ctx, b1.Hash)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestCreateTreeSortsAndRejectsDuplicates(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	b, err := r.CreateBlob(ctx, []byte("data"))
	require.NoError(t, err)

	tree, err := r.CreateTree(ctx, []object.TreeEntry{
		{Name: "b.txt", Kind: object.EntryBlob, TargetHash: b.Hash, Mode: 0100644},
		{Name: "a.txt", Kind: object.EntryBlob, TargetHash: b.Hash, Mode: 0100644},
	})
	require.NoError(t, err)

	got, err := r.GetTree(ctx, tree.Hash)
	require.NoError(t, err)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, "a.txt", got.Entries[0].Name)
	assert.Equal(t, "b.txt", got.Entries[1].Name)
}

func TestGetBlobHashFromPathWalksNestedTrees(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	b, err := r.CreateBlob(ctx, []byte("leaf"))
	require.NoError(t, err)

	inner, err := r.CreateTree(ctx, []object.TreeEntry{
		{Name: "leaf.txt", Kind: object.EntryBlob, TargetHash: b.Hash, Mode: 0100644},
	})
	require.NoError(t, err)

	outer, err := r.CreateTree(ctx, []object.TreeEntry{
		{Name: "dir", Kind: object.EntryTree, TargetHash: inner.Hash, Mode: 0040000},
	})
	require.NoError(t, err)

	hash, ok, err := r.GetBlobHashFromPath(ctx, outer.Hash, "dir/leaf.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, b.Hash, hash)

	_, ok, err = r.GetBlobHashFromPath(ctx, outer.Hash, "dir/missing.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = r.GetBlobHashFromPath(ctx, outer.Hash, "dir")
	require.NoError(t, err)
	assert.False(t, ok, "a tree-kind path segment is not a blob")
}

func TestCreateCommitIdempotentAndHistoryWalksParents(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	tree, err := r.CreateTree(ctx, nil)
	require.NoError(t, err)

	root, err := r.CreateCommit(ctx, tree.Hash, objhash.Zero, "root", "Author", "a@b.com")
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	child, err := r.CreateCommit(ctx, tree.Hash, root.Hash, "child", "Author", "a@b.com")
	require.NoError(t, err)

	reread, err := r.GetCommit(ctx, child.Hash)
	require.NoError(t, err)
	assert.Equal(t, root.Hash, reread.ParentHash)

	history, err := r.GetCommitHistory(ctx, child.Hash, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, child.Hash, history[0].Hash)
	assert.Equal(t, root.Hash, history[1].Hash)
}

func TestBranchAndResolveRefOrCommit(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	tree, err := r.CreateTree(ctx, nil)
	require.NoError(t, err)
	c, err := r.CreateCommit(ctx, tree.Hash, objhash.Zero, "init", "Author", "a@b.com")
	require.NoError(t, err)

	require.NoError(t, r.CreateBranch(ctx, "main", c.Hash))
	err = r.CreateBranch(ctx, "main", c.Hash)
	assert.Error(t, err, "creating an existing branch ref must fail")

	resolved, err := r.ResolveRefOrCommit(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, c.Hash, resolved)

	resolved, err = r.ResolveRefOrCommit(ctx, c.Hash.String())
	require.NoError(t, err)
	assert.Equal(t, c.Hash, resolved)
}

func TestMergeBranchesFastForwardsBase(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	tree, err := r.CreateTree(ctx, nil)
	require.NoError(t, err)
	c1, err := r.CreateCommit(ctx, tree.Hash, objhash.Zero, "init", "Author", "a@b.com")
	require.NoError(t, err)
	c2, err := r.CreateCommit(ctx, tree.Hash, c1.Hash, "second", "Author", "a@b.com")
	require.NoError(t, err)

	require.NoError(t, r.CreateBranch(ctx, "main", c1.Hash))
	require.NoError(t, r.CreateBranch(ctx, "feature", c2.Hash))

	require.NoError(t, r.MergeBranches(ctx, "main", "feature"))

	got, err := r.GetRef(ctx, "refs/heads/main")
	require.NoError(t, err)
	assert.Equal(t, c2.Hash, got)
}
