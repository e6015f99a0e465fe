package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

type logEntryJSON struct {
	Index     int64  `json:"index"`
	Timestamp string `json:"timestamp"`
	Content   string `json:"content"`
}

type pushLogsRequest struct {
	Logs []logEntryJSON `json:"logs"`
}

// handlePushLogs implements POST /api/stages/{id}/logs (spec.md §6.1).
func (s *Server) handlePushLogs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req pushLogsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	lines := make([]string, len(req.Logs))
	timestamps := make([]time.Time, len(req.Logs))
	for i, l := range req.Logs {
		lines[i] = l.Content
		ts, err := time.Parse(time.RFC3339Nano, l.Timestamp)
		if err != nil {
			ts = time.Now()
		}
		timestamps[i] = ts
	}
	count, err := s.dispatcher.RecordLogLines(r.Context(), id, lines, timestamps)
	if err != nil {
		renderError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"count": count})
}

// handleListLogs implements GET /api/stages/{id}/logs?since_index=k&limit=N
// (spec.md §6.1).
func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	q := r.URL.Query()

	var sinceIndex int64
	if v := q.Get("since_index"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			sinceIndex = n
		}
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	rows, hasMore, err := s.dispatcher.ListLogLines(r.Context(), id, sinceIndex, limit)
	if err != nil {
		renderError(w, err)
		return
	}
	logs := make([]logEntryJSON, len(rows))
	for i, row := range rows {
		logs[i] = logEntryJSON{Index: row.Index, Timestamp: row.Timestamp, Content: row.Contents}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "has_more": hasMore})
}
