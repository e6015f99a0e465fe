package httpapi

import (
	"encoding/base64"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/stagegraph/stagegraph/internal/objhash"
)

// stageFileID mirrors store's StageFile id formula: SHA256(stage_run_id
// "|" file_path) (spec.md §3).
func stageFileID(stageRunID, filePath string) string {
	return objhash.Sum([]byte(stageRunID + "|" + filePath)).String()
}

type writeStageFileRequest struct {
	FilePath      string `json:"file_path"`
	ContentBase64 string `json:"content_base64"`
}

// handleWriteStageFile implements POST /api/stages/{id}/files (spec.md
// §6.1): a worker's write_file(path, bytes) call.
func (s *Server) handleWriteStageFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stageRunID := mux.Vars(r)["id"]

	var req writeStageFileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.ContentBase64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "content_base64 is not valid base64")
		return
	}

	run, err := s.dispatcher.Get(ctx, stageRunID)
	if err != nil {
		renderError(w, err)
		return
	}
	rp, err := s.openRepo(ctx, run.RepoName)
	if err != nil {
		renderError(w, err)
		return
	}
	blob, err := rp.CreateBlob(ctx, data)
	if err != nil {
		renderError(w, err)
		return
	}

	if err := s.dispatcher.WriteStageFile(ctx, stageRunID, req.FilePath, blob.Hash, blob.StorageKey, blob.Size); err != nil {
		renderError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"stage_file_id": stageFileID(stageRunID, req.FilePath),
		"content_hash":  blob.Hash.String(),
	})
}

// handleReadStageFile implements GET /api/stages/{id}/files/{file_path}
// (spec.md §6.1).
func (s *Server) handleReadStageFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	stageRunID := vars["id"]
	filePath := vars["file_path"]

	file, err := s.db.GetStageFileByPath(ctx, stageRunID, filePath)
	if err != nil {
		renderError(w, err)
		return
	}
	hash, err := objhash.FromHex(file.ContentHash)
	if err != nil {
		renderError(w, err)
		return
	}
	data, err := s.blob.Retrieve(ctx, hash)
	if err != nil {
		renderError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
