package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/stagegraph/stagegraph/internal/objstore"
	"github.com/stagegraph/stagegraph/internal/prcheck"
	"github.com/stagegraph/stagegraph/internal/repo"
	"github.com/stagegraph/stagegraph/internal/stagerun"
	"github.com/stagegraph/stagegraph/internal/store"
)

// Server is the control plane's HTTP entry point, bundling the relational
// store, blob backend, dispatcher, and PR check engine the way the
// teacher's httpserver.Server bundles a database.DB and repo.Repositories.
type Server struct {
	db         *store.DB
	blob       objstore.Store
	dispatcher *stagerun.Dispatcher
	checks     *prcheck.Engine
	srv        *http.Server
	router     *mux.Router
}

// Config is Server's construction parameters.
type Config struct {
	DB           *store.DB
	Blob         objstore.Store
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New builds a Server and wires its routes.
func New(cfg Config) *Server {
	dispatcher := stagerun.New(cfg.DB)
	s := &Server{
		db:         cfg.DB,
		blob:       cfg.Blob,
		dispatcher: dispatcher,
		checks:     prcheck.New(dispatcher),
	}
	s.router = mux.NewRouter()
	s.registerRoutes(s.router)
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.loggingMiddleware(s.router),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logrus.Infof("%s %s status=%d spent=%v", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) registerRoutes(r *mux.Router) {
	r.HandleFunc("/api/repos", s.handleListRepos).Methods(http.MethodGet)
	r.HandleFunc("/api/repos/{repo_name}", s.handleGetRepo).Methods(http.MethodGet)
	r.HandleFunc("/api/repos/{repo_name}/history/{path:.*}", s.handleGetHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/repos/{repo_name}/blob/{commit_hash}/{file_path:.*}", s.handleGetBlobByPath).Methods(http.MethodGet)

	r.HandleFunc("/api/call", s.handleCreateCall).Methods(http.MethodPost)
	r.HandleFunc("/api/calls", s.handleListCalls).Methods(http.MethodGet)
	r.HandleFunc("/api/call/{id}", s.handleGetCall).Methods(http.MethodGet)
	r.HandleFunc("/api/call/{id}/start", s.handleStartCall).Methods(http.MethodPost)
	r.HandleFunc("/api/call/{id}/finish", s.handleFinishCall).Methods(http.MethodPost)

	r.HandleFunc("/api/stages/{id}/logs", s.handlePushLogs).Methods(http.MethodPost)
	r.HandleFunc("/api/stages/{id}/logs", s.handleListLogs).Methods(http.MethodGet)
	r.HandleFunc("/api/stages/{id}/files", s.handleWriteStageFile).Methods(http.MethodPost)
	r.HandleFunc("/api/stages/{id}/files/{file_path:.*}", s.handleReadStageFile).Methods(http.MethodGet)

	r.HandleFunc("/api/repos/{repo_name}/pulls", s.handleCreatePullRequest).Methods(http.MethodPost)
	r.HandleFunc("/api/repos/{repo_name}/pulls", s.handleListPullRequests).Methods(http.MethodGet)
	r.HandleFunc("/api/repos/{repo_name}/pulls/{number}", s.handleGetPullRequest).Methods(http.MethodGet)
	r.HandleFunc("/api/repos/{repo_name}/pulls/{number}/close", s.handleClosePullRequest).Methods(http.MethodPost)
	r.HandleFunc("/api/repos/{repo_name}/pulls/{number}/reopen", s.handleReopenPullRequest).Methods(http.MethodPost)
	r.HandleFunc("/api/repos/{repo_name}/pulls/{number}/merge", s.handleMergePullRequest).Methods(http.MethodPost)
	r.HandleFunc("/api/repos/{repo_name}/pulls/{number}/comments", s.handleAddComment).Methods(http.MethodPost)
	r.HandleFunc("/api/repos/{repo_name}/pulls/{number}/comments", s.handleListComments).Methods(http.MethodGet)
	r.HandleFunc("/api/repos/{repo_name}/pulls/{number}/redispatch", s.handleRedispatchChecks).Methods(http.MethodPost)
}

// Handler returns the server's logging-wrapped HTTP handler, exposed so
// callers (e.g. tests standing up a real control plane behind
// net/http/httptest) can serve it without going through ListenAndServe.
func (s *Server) Handler() http.Handler {
	return s.loggingMiddleware(s.router)
}

// ListenAndServe starts the HTTP server. Blocks until Shutdown is called
// or a fatal listener error occurs.
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) openRepo(ctx context.Context, name string) (*repo.Repo, error) {
	return repo.Open(ctx, s.db, s.blob, name)
}
