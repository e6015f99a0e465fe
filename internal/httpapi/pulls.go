package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/stagegraph/stagegraph/internal/store"
)

func prNumber(r *http.Request) (int, error) {
	return strconv.Atoi(mux.Vars(r)["number"])
}

func prJSON(pr *store.PullRequestRow) map[string]any {
	out := map[string]any{
		"id":          pr.ID,
		"repo_name":   pr.RepoName,
		"number":      pr.Number,
		"base_branch": pr.BaseBranch,
		"head_branch": pr.HeadBranch,
		"title":       pr.Title,
		"description": pr.Description,
		"author":      pr.Author,
		"status":      pr.Status,
	}
	if pr.MergeCommitHash != "" {
		out["merge_commit_hash"] = pr.MergeCommitHash
	}
	if pr.MergedBy != "" {
		out["merged_by"] = pr.MergedBy
	}
	if pr.MergedAt != nil {
		out["merged_at"] = pr.MergedAt.Format(time.RFC3339)
	}
	return out
}

type createPRRequest struct {
	BaseBranch  string `json:"base_branch"`
	HeadBranch  string `json:"head_branch"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Author      string `json:"author"`
}

// handleCreatePullRequest creates a PR, then dispatches its checks against
// .pr-checks.yml on the base branch if present (spec.md §4.7).
func (s *Server) handleCreatePullRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	repoName := mux.Vars(r)["repo_name"]

	var req createPRRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if req.BaseBranch == "" || req.HeadBranch == "" || req.Title == "" {
		writeError(w, http.StatusBadRequest, "base_branch, head_branch, title are required")
		return
	}

	pr, err := s.db.CreatePullRequest(ctx, repoName, req.BaseBranch, req.HeadBranch, req.Title, req.Description, req.Author)
	if err != nil {
		renderError(w, err)
		return
	}

	rp, err := s.openRepo(ctx, repoName)
	if err != nil {
		renderError(w, err)
		return
	}
	headCommitHash, err := rp.GetRef(ctx, "refs/heads/"+req.HeadBranch)
	if err != nil {
		renderError(w, err)
		return
	}
	if _, err := s.checks.DispatchForPullRequest(ctx, rp, pr, headCommitHash.String()); err != nil {
		renderError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, prJSON(pr))
}

func (s *Server) handleListPullRequests(w http.ResponseWriter, r *http.Request) {
	repoName := mux.Vars(r)["repo_name"]
	rows, err := s.db.ListPullRequests(r.Context(), repoName)
	if err != nil {
		renderError(w, err)
		return
	}
	out := make([]map[string]any, len(rows))
	for i, pr := range rows {
		out[i] = prJSON(pr)
	}
	writeJSON(w, http.StatusOK, map[string]any{"pull_requests": out})
}

func (s *Server) handleGetPullRequest(w http.ResponseWriter, r *http.Request) {
	repoName := mux.Vars(r)["repo_name"]
	n, err := prNumber(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed PR number")
		return
	}
	pr, err := s.db.GetPullRequest(r.Context(), repoName, n)
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prJSON(pr))
}

func (s *Server) handleClosePullRequest(w http.ResponseWriter, r *http.Request) {
	s.setPRStatus(w, r, store.PRStatusClosed)
}

func (s *Server) handleReopenPullRequest(w http.ResponseWriter, r *http.Request) {
	s.setPRStatus(w, r, store.PRStatusOpen)
}

func (s *Server) setPRStatus(w http.ResponseWriter, r *http.Request, status store.PullRequestStatus) {
	ctx := r.Context()
	repoName := mux.Vars(r)["repo_name"]
	n, err := prNumber(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed PR number")
		return
	}
	pr, err := s.db.GetPullRequest(ctx, repoName, n)
	if err != nil {
		renderError(w, err)
		return
	}
	if err := s.db.SetPullRequestStatus(ctx, pr.ID, status); err != nil {
		renderError(w, err)
		return
	}
	pr.Status = status
	writeJSON(w, http.StatusOK, prJSON(pr))
}

// handleMergePullRequest implements the merge-gate-guarded, fast-forward-only
// merge from spec.md §4.7.
func (s *Server) handleMergePullRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	repoName := mux.Vars(r)["repo_name"]
	n, err := prNumber(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed PR number")
		return
	}
	pr, err := s.db.GetPullRequest(ctx, repoName, n)
	if err != nil {
		renderError(w, err)
		return
	}

	rp, err := s.openRepo(ctx, repoName)
	if err != nil {
		renderError(w, err)
		return
	}

	ok, reason, err := s.checks.CanMergePR(ctx, rp, pr)
	if err != nil {
		renderError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, reason)
		return
	}

	headCommitHash, err := rp.GetRef(ctx, "refs/heads/"+pr.HeadBranch)
	if err != nil {
		renderError(w, err)
		return
	}
	if err := rp.MergeBranches(ctx, pr.BaseBranch, pr.HeadBranch); err != nil {
		renderError(w, err)
		return
	}
	mergedBy := r.URL.Query().Get("merged_by")
	if err := s.db.MergePullRequest(ctx, pr.ID, headCommitHash.String(), mergedBy, time.Now()); err != nil {
		renderError(w, err)
		return
	}
	pr.Status = store.PRStatusMerged
	pr.MergeCommitHash = headCommitHash.String()
	writeJSON(w, http.StatusOK, prJSON(pr))
}

type addCommentRequest struct {
	Author string `json:"author"`
	Body   string `json:"body"`
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	repoName := mux.Vars(r)["repo_name"]
	n, err := prNumber(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed PR number")
		return
	}
	pr, err := s.db.GetPullRequest(ctx, repoName, n)
	if err != nil {
		renderError(w, err)
		return
	}
	var req addCommentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	comment, err := s.db.AddPullRequestComment(ctx, pr.ID, req.Author, req.Body, time.Now())
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, commentJSON(comment))
}

func commentJSON(c *store.PullRequestCommentRow) map[string]any {
	return map[string]any{
		"id":         c.ID,
		"author":     c.Author,
		"body":       c.Body,
		"created_at": c.CreatedAt.Format(time.RFC3339),
	}
}

// handleListComments implements GET /api/repos/{repo}/pulls/{n}/comments,
// the read side of PullRequestComment's CRUD (spec.md §3).
func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	repoName := mux.Vars(r)["repo_name"]
	n, err := prNumber(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed PR number")
		return
	}
	pr, err := s.db.GetPullRequest(ctx, repoName, n)
	if err != nil {
		renderError(w, err)
		return
	}
	rows, err := s.db.ListPullRequestComments(ctx, pr.ID)
	if err != nil {
		renderError(w, err)
		return
	}
	out := make([]map[string]any, len(rows))
	for i, c := range rows {
		out[i] = commentJSON(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": out})
}

// handleRedispatchChecks re-runs a PR's checks against its current head
// commit, a supplemental operation spec.md §6.1 lists generically
// ("re-dispatch checks").
func (s *Server) handleRedispatchChecks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	repoName := mux.Vars(r)["repo_name"]
	n, err := prNumber(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed PR number")
		return
	}
	pr, err := s.db.GetPullRequest(ctx, repoName, n)
	if err != nil {
		renderError(w, err)
		return
	}
	rp, err := s.openRepo(ctx, repoName)
	if err != nil {
		renderError(w, err)
		return
	}
	headCommitHash, err := rp.GetRef(ctx, "refs/heads/"+pr.HeadBranch)
	if err != nil {
		renderError(w, err)
		return
	}
	runs, err := s.checks.DispatchForPullRequest(ctx, rp, pr, headCommitHash.String())
	if err != nil {
		renderError(w, err)
		return
	}
	ids := make([]string, len(runs))
	for i, run := range runs {
		ids[i] = run.ID
	}
	writeJSON(w, http.StatusCreated, map[string]any{"invocation_ids": ids})
}
