package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/stagegraph/stagegraph/internal/store"
)

// createCallRequest is POST /api/call's body (spec.md §6.1).
type createCallRequest struct {
	CallerID     string `json:"caller_id"`
	FunctionName string `json:"function_name"`
	Arguments    struct {
		Args   []any          `json:"args"`
		Kwargs map[string]any `json:"kwargs"`
	} `json:"arguments"`
	RepoName     string `json:"repo_name"`
	CommitHash   string `json:"commit_hash"`
	WorkflowFile string `json:"workflow_file"`
}

func (s *Server) handleCreateCall(w http.ResponseWriter, r *http.Request) {
	var req createCallRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if req.FunctionName == "" || req.RepoName == "" || req.CommitHash == "" || req.WorkflowFile == "" {
		writeError(w, http.StatusBadRequest, "function_name, repo_name, commit_hash, workflow_file are required")
		return
	}

	row, _, err := s.dispatcher.CreateCall(r.Context(), req.CallerID, req.RepoName, req.CommitHash, req.WorkflowFile,
		req.FunctionName, req.Arguments, "", "")
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"invocation_id": row.ID})
}

func callStateJSON(row *store.StageRunRow) map[string]any {
	out := map[string]any{
		"invocation_id": row.ID,
		"function_name": row.StageName,
		"arguments":     row.Arguments,
		"repo_name":     row.RepoName,
		"commit_hash":   row.CommitHash,
		"workflow_file": row.WorkflowFile,
		"status":        row.Status,
		"created_at":    row.CreatedAt,
	}
	if row.ParentID != "" {
		out["parent_id"] = row.ParentID
	}
	if row.ResultValue != nil {
		out["result_value"] = *row.ResultValue
	}
	if row.ErrorMessage != nil {
		out["error_message"] = *row.ErrorMessage
	}
	return out
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("status") != "pending" && q.Get("status") != "" {
		writeError(w, http.StatusBadRequest, "only status=pending is supported")
		return
	}
	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	rows, err := s.dispatcher.Poll(r.Context(), limit)
	if err != nil {
		renderError(w, err)
		return
	}
	calls := make([]map[string]any, len(rows))
	for i, row := range rows {
		calls[i] = callStateJSON(row)
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	row, err := s.dispatcher.Get(r.Context(), id)
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, callStateJSON(row))
}

type startCallRequest struct {
	WorkerID string `json:"worker_id"`
}

func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req startCallRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	row, err := s.dispatcher.Claim(r.Context(), id)
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, callStateJSON(row))
}

type finishCallRequest struct {
	Status string `json:"status"`
	Result any    `json:"result"`
	Error  string `json:"error"`
}

func (s *Server) handleFinishCall(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req finishCallRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	var row *store.StageRunRow
	var err error
	switch req.Status {
	case "completed":
		resultJSON, marshalErr := marshalResult(req.Result)
		if marshalErr != nil {
			writeError(w, http.StatusBadRequest, "malformed result: "+marshalErr.Error())
			return
		}
		row, err = s.dispatcher.FinishOK(r.Context(), id, resultJSON)
	case "failed":
		row, err = s.dispatcher.FinishError(r.Context(), id, req.Error)
	default:
		writeError(w, http.StatusBadRequest, `status must be "completed" or "failed"`)
		return
	}
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, callStateJSON(row))
}
