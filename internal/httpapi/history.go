package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/stagegraph/stagegraph/internal/diff"
	"github.com/stagegraph/stagegraph/internal/object"
)

func commitSummaryJSON(c *object.Commit) map[string]any {
	if c == nil {
		return nil
	}
	return map[string]any{
		"hash":         c.Hash.String(),
		"author":       c.Author,
		"author_email": c.AuthorEmail,
		"message":      c.Message,
		"committed_at": c.CommittedAt.Format(time.RFC3339Nano),
	}
}

// handleGetHistory implements GET /api/repos/{repo}/history/{path…}, a
// unified path-history endpoint: a file path resolves to the latest
// commit that touched it (get_latest_commit_for_path), a directory path
// (including the repository root) resolves to its entries alongside each
// entry's latest touching commit (get_tree_entries_with_commits).
//
// ?ref= selects the commit-ish to read from (default: the repository's
// main branch); ?limit= bounds the parent-chain walk per path (spec.md
// §4.3), 0 meaning unbounded.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	repoName := vars["repo_name"]
	pathArg := vars["path"]

	rp, err := s.openRepo(ctx, repoName)
	if err != nil {
		renderError(w, err)
		return
	}

	ref := r.URL.Query().Get("ref")
	if ref == "" {
		ref = rp.Row.MainBranch
	}
	commitHash, err := rp.ResolveRefOrCommit(ctx, ref)
	if err != nil {
		renderError(w, err)
		return
	}
	commit, err := rp.GetCommit(ctx, commitHash)
	if err != nil {
		renderError(w, err)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	_, isFile, err := rp.GetBlobHashFromPath(ctx, commit.TreeHash, pathArg)
	if err != nil {
		renderError(w, err)
		return
	}

	if isFile {
		latest, err := diff.GetLatestCommitForPath(ctx, rp, repoName, *commit, pathArg, limit)
		if err != nil {
			renderError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"path":          pathArg,
			"latest_commit": commitSummaryJSON(latest),
		})
		return
	}

	entries, err := diff.GetTreeEntriesWithCommits(ctx, rp, repoName, commit, pathArg, limit)
	if err != nil {
		renderError(w, err)
		return
	}
	out := make([]map[string]any, len(entries))
	for i, e := range entries {
		out[i] = map[string]any{
			"name":          e.Name,
			"kind":          e.Kind.String(),
			"latest_commit": commitSummaryJSON(e.LatestCommit),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": pathArg, "entries": out})
}
