// Package httpapi implements spec.md §6.1's control-plane HTTP surface:
// object retrieval, invocation (call) lifecycle, log streaming, output
// files, and pull requests, atop gorilla/mux. Grounded on the teacher's
// pkg/serve/httpserver package (Server/ResponseWriter/render* helpers in
// server.go/response.go), generalised from the teacher's Git push/fetch
// protocol to this engine's invocation REST API.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/stagegraph/stagegraph/internal/apierr"
	"github.com/stagegraph/stagegraph/internal/objstore"
	"github.com/stagegraph/stagegraph/internal/repo"
	"github.com/stagegraph/stagegraph/internal/store"
)

const jsonMIME = "application/json"

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonMIME)
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("httpapi: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// renderError maps an error onto spec.md §7's kind taxonomy (falling back
// to 500 for anything unrecognised), the way the teacher's renderErrorRaw
// dispatches on sentinel error predicates.
func renderError(w http.ResponseWriter, err error) {
	if e, ok := apierr.As(err); ok {
		writeError(w, e.Kind.HTTPStatus(), e.Error())
		return
	}

	var notFound *store.NotFoundError
	var pathNotFound *repo.ErrPathNotFound
	switch {
	case errors.As(err, &notFound), errors.As(err, &pathNotFound), errors.Is(err, objstore.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, store.ErrClaimConflict), errors.Is(err, store.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	logrus.Errorf("httpapi: unhandled error: %v", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// marshalResult serialises a finish request's JSON result value back to a
// string, since StageRun.result_value is stored as a JSON string (spec.md
// §3).
func marshalResult(v any) (string, error) {
	if v == nil {
		return "null", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
