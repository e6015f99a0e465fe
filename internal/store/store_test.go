package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stagegraph/stagegraph/internal/objhash"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBlobUpsertIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo, err := db.CreateRepository(ctx, "r1", "", "main")
	require.NoError(t, err)

	h := objhash.Sum([]byte("content"))
	require.NoError(t, db.UpsertBlob(ctx, repo.ID, h, 7, "ab/cdef"))
	require.NoError(t, db.UpsertBlob(ctx, repo.ID, h, 7, "ab/cdef")) // second insert is a no-op

	row, err := db.GetBlob(ctx, repo.ID, h)
	require.NoError(t, err)
	require.Equal(t, int64(7), row.Size)
}

func TestGetBlobNotFound(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo, err := db.CreateRepository(ctx, "r1", "", "main")
	require.NoError(t, err)

	_, err = db.GetBlob(ctx, repo.ID, objhash.Sum([]byte("missing")))
	require.Error(t, err)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestUpsertTreePersistsEntries(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo, err := db.CreateRepository(ctx, "r1", "", "main")
	require.NoError(t, err)

	treeHash := objhash.Sum([]byte("tree"))
	entries := []TreeEntryRow{{Name: "a.txt", Kind: "BLOB", TargetHash: objhash.Sum([]byte("a")), Mode: 0100644}}
	require.NoError(t, db.UpsertTree(ctx, repo.ID, treeHash, entries))

	got, err := db.GetTreeEntries(ctx, repo.ID, treeHash)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "a.txt", got[0].Name)
}

func TestRefUpsertMoves(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo, err := db.CreateRepository(ctx, "r1", "", "main")
	require.NoError(t, err)

	c1 := objhash.Sum([]byte("c1"))
	c2 := objhash.Sum([]byte("c2"))
	require.NoError(t, db.UpsertRef(ctx, repo.ID, "refs/heads/main", c1))
	ref, err := db.GetRef(ctx, repo.ID, "refs/heads/main")
	require.NoError(t, err)
	require.Equal(t, c1, ref.CommitHash)

	require.NoError(t, db.UpsertRef(ctx, repo.ID, "refs/heads/main", c2))
	ref, err = db.GetRef(ctx, repo.ID, "refs/heads/main")
	require.NoError(t, err)
	require.Equal(t, c2, ref.CommitHash)
}

func TestCreateRefOnlyFailsIfExists(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo, err := db.CreateRepository(ctx, "r1", "", "main")
	require.NoError(t, err)

	c1 := objhash.Sum([]byte("c1"))
	require.NoError(t, db.CreateRefOnly(ctx, repo.ID, "refs/heads/feature", c1))
	err = db.CreateRefOnly(ctx, repo.ID, "refs/heads/feature", c1)
	require.Error(t, err)
}
