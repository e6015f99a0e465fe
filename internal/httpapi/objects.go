package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/stagegraph/stagegraph/internal/objhash"
	"github.com/stagegraph/stagegraph/internal/store"
)

func repositoryJSON(row *store.Repository) map[string]any {
	return map[string]any{
		"id":          row.ID,
		"name":        row.Name,
		"description": row.Description,
		"main_branch": row.MainBranch,
	}
}

// handleListRepos implements GET /api/repos, the repository listing the
// teacher's pkg/serve/database/repositories.go always exposes alongside
// object storage.
func (s *Server) handleListRepos(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.ListRepositories(r.Context())
	if err != nil {
		renderError(w, err)
		return
	}
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = repositoryJSON(row)
	}
	writeJSON(w, http.StatusOK, map[string]any{"repositories": out})
}

// handleGetRepo implements GET /api/repos/{name}, a single repository's
// stat (name, description, main branch).
func (s *Server) handleGetRepo(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["repo_name"]
	row, err := s.db.GetRepositoryByName(r.Context(), name)
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repositoryJSON(row))
}

// handleGetBlobByPath implements spec.md §6.1's
// GET /api/repos/{repo_name}/blob/{commit_hash}/{file_path…}.
func (s *Server) handleGetBlobByPath(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	rp, err := s.openRepo(ctx, vars["repo_name"])
	if err != nil {
		renderError(w, err)
		return
	}
	commitHash, err := objhash.FromHex(vars["commit_hash"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed commit hash")
		return
	}
	commit, err := rp.GetCommit(ctx, commitHash)
	if err != nil {
		renderError(w, err)
		return
	}
	blobHash, found, err := rp.GetBlobHashFromPath(ctx, commit.TreeHash, vars["file_path"])
	if err != nil {
		renderError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "path not found")
		return
	}
	data, err := rp.ReadBlob(ctx, blobHash)
	if err != nil {
		renderError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
