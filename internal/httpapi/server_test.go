package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagegraph/stagegraph/internal/client"
	"github.com/stagegraph/stagegraph/internal/object"
	"github.com/stagegraph/stagegraph/internal/objhash"
	"github.com/stagegraph/stagegraph/internal/objstore"
	"github.com/stagegraph/stagegraph/internal/repo"
	"github.com/stagegraph/stagegraph/internal/store"
)

type testServer struct {
	db   *store.DB
	blob objstore.Store
	repo *repo.Repo
	cli  *client.Client
	url  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	db, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	blob, err := objstore.NewFilesystemStore(t.TempDir(), false)
	require.NoError(t, err)

	rp, err := repo.Create(ctx, db, blob, "acme", "", "main")
	require.NoError(t, err)

	s := New(Config{DB: db, Blob: blob, Addr: ":0"})
	srv := httptest.NewServer(s.loggingMiddleware(s.router))
	t.Cleanup(srv.Close)

	return &testServer{db: db, blob: blob, repo: rp, cli: client.New(srv.URL), url: srv.URL}
}

func (ts *testServer) seedCommitWithFile(t *testing.T, path, content string) *object.Commit {
	t.Helper()
	ctx := context.Background()

	b, err := ts.repo.CreateBlob(ctx, []byte(content))
	require.NoError(t, err)
	segments := strings.Split(path, "/")
	tree, err := ts.repo.CreateTree(ctx, []object.TreeEntry{
		{Name: segments[len(segments)-1], Kind: object.EntryBlob, TargetHash: b.Hash, Mode: 0100644},
	})
	require.NoError(t, err)
	for i := len(segments) - 2; i >= 0; i-- {
		tree, err = ts.repo.CreateTree(ctx, []object.TreeEntry{
			{Name: segments[i], Kind: object.EntryTree, TargetHash: tree.Hash, Mode: 0040000},
		})
		require.NoError(t, err)
	}
	c, err := ts.repo.CreateCommit(ctx, tree.Hash, objhash.Zero, "seed", "Author", "a@b.com")
	require.NoError(t, err)
	return c
}

// postJSON is a thin helper for the PR endpoints the client package does
// not cover.
func (ts *testServer) postJSON(t *testing.T, path string, body any) (int, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.url+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestCreateCallLifecycleEndToEnd(t *testing.T) {
	ts := newTestServer(t)
	commit := ts.seedCommitWithFile(t, "w.py", "print('hi')")
	ctx := context.Background()

	id, err := ts.cli.CreateCall(ctx, client.CreateCallRequest{
		FunctionName: "build",
		RepoName:     "acme",
		CommitHash:   commit.Hash.String(),
		WorkflowFile: "w.py",
		Arguments:    client.CallArguments{Args: []any{}, Kwargs: map[string]any{}},
	})
	require.NoError(t, err)
	assert.Len(t, id, 64)

	state, err := ts.cli.GetCall(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "PENDING", state.Status)

	require.NoError(t, ts.cli.Start(ctx, id, "worker-1"))
	state, err = ts.cli.GetCall(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", state.Status)

	require.NoError(t, ts.cli.Finish(ctx, id, true, map[string]any{"ok": true}, ""))
	state, err = ts.cli.GetCall(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", state.Status)
}

func TestCreateCallIsIdempotentOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	commit := ts.seedCommitWithFile(t, "w.py", "print('hi')")
	ctx := context.Background()

	req := client.CreateCallRequest{
		FunctionName: "build",
		RepoName:     "acme",
		CommitHash:   commit.Hash.String(),
		WorkflowFile: "w.py",
		Arguments:    client.CallArguments{Args: []any{}, Kwargs: map[string]any{}},
	}
	id1, err := ts.cli.CreateCall(ctx, req)
	require.NoError(t, err)
	id2, err := ts.cli.CreateCall(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestGetBlobByPathServesFileBytes(t *testing.T) {
	ts := newTestServer(t)
	commit := ts.seedCommitWithFile(t, "dir/file.txt", "hello world")
	ctx := context.Background()

	data, err := ts.cli.FetchWorkflowFile(ctx, "acme", commit.Hash.String(), "dir/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestGetBlobByPathMissingReturnsNotFound(t *testing.T) {
	ts := newTestServer(t)
	commit := ts.seedCommitWithFile(t, "dir/file.txt", "hello world")
	ctx := context.Background()

	_, err := ts.cli.FetchWorkflowFile(ctx, "acme", commit.Hash.String(), "dir/missing.txt")
	require.Error(t, err)
	var statusErr *client.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 404, statusErr.Status)
}

func TestPullRequestCreateAndMergeWithNoChecksConfigured(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	base := ts.seedCommitWithFile(t, "w.py", "print('hi')")
	require.NoError(t, ts.repo.CreateBranch(ctx, "main", base.Hash))

	head, err := ts.repo.CreateCommit(ctx, base.TreeHash, base.Hash, "feature work", "Author", "a@b.com")
	require.NoError(t, err)
	require.NoError(t, ts.repo.CreateBranch(ctx, "feature", head.Hash))

	status, pr := ts.postJSON(t, "/api/repos/acme/pulls", map[string]any{
		"base_branch": "main", "head_branch": "feature", "title": "t", "author": "alice",
	})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "OPEN", pr["status"])
	number := int(pr["number"].(float64))

	status, merged := ts.postJSON(t, fmt.Sprintf("/api/repos/acme/pulls/%d/merge", number), map[string]any{})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "MERGED", merged["status"])

	mainHead, err := ts.repo.GetRef(ctx, "refs/heads/main")
	require.NoError(t, err)
	assert.Equal(t, head.Hash, mainHead)
}

func TestListReposAndGetRepoStat(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.url + "/api/repos")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	repos := body["repositories"].([]any)
	require.Len(t, repos, 1)
	first := repos[0].(map[string]any)
	assert.Equal(t, "acme", first["name"])

	resp2, err := http.Get(ts.url + "/api/repos/acme")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	var stat map[string]any
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&stat))
	assert.Equal(t, "acme", stat["name"])
	assert.Equal(t, "main", stat["main_branch"])
}

func TestGetHistoryOnDirectoryListsEntriesWithLatestCommit(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	commit := ts.seedCommitWithFile(t, "w.py", "print('hi')")
	require.NoError(t, ts.repo.CreateBranch(ctx, "main", commit.Hash))

	resp, err := http.Get(ts.url + "/api/repos/acme/history/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	entries := body["entries"].([]any)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]any)
	assert.Equal(t, "w.py", entry["name"])
	latest := entry["latest_commit"].(map[string]any)
	assert.Equal(t, commit.Hash.String(), latest["hash"])
}

func TestGetHistoryOnFilePathReturnsLatestTouchingCommit(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	base := ts.seedCommitWithFile(t, "w.py", "print('hi')")
	require.NoError(t, ts.repo.CreateBranch(ctx, "main", base.Hash))

	// A second commit with an identical tree does not touch w.py again.
	untouched, err := ts.repo.CreateCommit(ctx, base.TreeHash, base.Hash, "noop", "Author", "a@b.com")
	require.NoError(t, err)
	require.NoError(t, ts.repo.CreateOrUpdateRef(ctx, "refs/heads/main", untouched.Hash))

	resp, err := http.Get(ts.url + "/api/repos/acme/history/w.py")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	latest := body["latest_commit"].(map[string]any)
	assert.Equal(t, base.Hash.String(), latest["hash"], "w.py was last touched by the seeding commit, not the no-op one")
}

func TestListCommentsReturnsAddedCommentsInOrder(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	base := ts.seedCommitWithFile(t, "w.py", "print('hi')")
	require.NoError(t, ts.repo.CreateBranch(ctx, "main", base.Hash))
	head, err := ts.repo.CreateCommit(ctx, base.TreeHash, base.Hash, "feature work", "Author", "a@b.com")
	require.NoError(t, err)
	require.NoError(t, ts.repo.CreateBranch(ctx, "feature", head.Hash))

	status, pr := ts.postJSON(t, "/api/repos/acme/pulls", map[string]any{
		"base_branch": "main", "head_branch": "feature", "title": "t", "author": "alice",
	})
	require.Equal(t, http.StatusCreated, status)
	number := int(pr["number"].(float64))

	status, _ = ts.postJSON(t, fmt.Sprintf("/api/repos/acme/pulls/%d/comments", number), map[string]any{
		"author": "bob", "body": "looks good",
	})
	require.Equal(t, http.StatusCreated, status)

	resp, err := http.Get(fmt.Sprintf("%s/api/repos/acme/pulls/%d/comments", ts.url, number))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	comments := body["comments"].([]any)
	require.Len(t, comments, 1)
	first := comments[0].(map[string]any)
	assert.Equal(t, "bob", first["author"])
	assert.Equal(t, "looks good", first["body"])
}

func TestPullRequestMergeBlockedByPendingRequiredCheck(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	cfg := `
checks:
  - name: build
    workflow_file: w.py
    stage_name: build
`
	cfgBlob, err := ts.repo.CreateBlob(ctx, []byte(cfg))
	require.NoError(t, err)
	codeBlob, err := ts.repo.CreateBlob(ctx, []byte("print('hi')"))
	require.NoError(t, err)
	tree, err := ts.repo.CreateTree(ctx, []object.TreeEntry{
		{Name: "w.py", Kind: object.EntryBlob, TargetHash: codeBlob.Hash, Mode: 0100644},
		{Name: ".pr-checks.yml", Kind: object.EntryBlob, TargetHash: cfgBlob.Hash, Mode: 0100644},
	})
	require.NoError(t, err)
	base, err := ts.repo.CreateCommit(ctx, tree.Hash, objhash.Zero, "seed", "Author", "a@b.com")
	require.NoError(t, err)
	require.NoError(t, ts.repo.CreateBranch(ctx, "main", base.Hash))

	head, err := ts.repo.CreateCommit(ctx, tree.Hash, base.Hash, "feature work", "Author", "a@b.com")
	require.NoError(t, err)
	require.NoError(t, ts.repo.CreateBranch(ctx, "feature", head.Hash))

	status, pr := ts.postJSON(t, "/api/repos/acme/pulls", map[string]any{
		"base_branch": "main", "head_branch": "feature", "title": "t", "author": "alice",
	})
	require.Equal(t, http.StatusCreated, status)
	number := int(pr["number"].(float64))

	status, _ = ts.postJSON(t, fmt.Sprintf("/api/repos/acme/pulls/%d/merge", number), map[string]any{})
	assert.Equal(t, http.StatusConflict, status, "merge must be blocked while the dispatched check is still PENDING")
}
