// Package mockserver serves a development implementation of the vicky API: task CRUD,
// the global event stream, per-task log streams, the user and web-config endpoints and
// prometheus metrics.
package mockserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/tuanbt/vickyboard/internal/auth"
	"github.com/tuanbt/vickyboard/internal/config"
	"github.com/tuanbt/vickyboard/internal/metrics"
	"github.com/tuanbt/vickyboard/internal/orchestrator"
	"github.com/tuanbt/vickyboard/internal/task"
	"github.com/tuanbt/vickyboard/internal/tasklog"
)

// APIPrefix is the path prefix of every API route.
const APIPrefix = "/api"

// Server is the development backend.
type Server struct {
	config  *config.MockConfig
	store   *task.Manager
	orch    *orchestrator.Orchestrator
	broker  *Broker
	logs    *tasklog.Book
	auth    *auth.AuthService
	metrics *metrics.Metrics
	logger  *slog.Logger
	router  *mux.Router

	// keepAlive is the interval of comment lines on idle streams.
	keepAlive time.Duration
}

// Deps are the collaborators of a Server.
type Deps struct {
	Store        *task.Manager
	Orchestrator *orchestrator.Orchestrator
	Broker       *Broker
	Logs         *tasklog.Book
	Auth         *auth.AuthService
	Metrics      *metrics.Metrics
}

// New creates the server and its routes.
func New(cfg *config.MockConfig, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		config:    cfg,
		store:     deps.Store,
		orch:      deps.Orchestrator,
		broker:    deps.Broker,
		logs:      deps.Logs,
		auth:      deps.Auth,
		metrics:   deps.Metrics,
		logger:    logger,
		keepAlive: 15 * time.Second,
	}
	s.routes()
	return s
}

// SetKeepAlive changes the stream keep-alive interval.
func (s *Server) SetKeepAlive(d time.Duration) {
	s.keepAlive = d
}

func (s *Server) routes() {
	authHandler := auth.NewHandler(s.auth)

	r := mux.NewRouter()
	r.Use(s.observe)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix(APIPrefix).Subrouter()
	api.HandleFunc("/web-config", s.webConfig).Methods(http.MethodGet)
	api.HandleFunc("/auth/login", authHandler.Login).Methods(http.MethodPost)

	secured := api.NewRoute().Subrouter()
	secured.Use(authHandler.Middleware)
	secured.HandleFunc("/user", authHandler.User).Methods(http.MethodGet)
	secured.HandleFunc("/events", s.events).Methods(http.MethodGet)
	secured.HandleFunc("/tasks", s.listTasks).Methods(http.MethodGet)
	secured.HandleFunc("/tasks", s.createTask).Methods(http.MethodPost)
	secured.HandleFunc("/tasks/count", s.countTasks).Methods(http.MethodGet)
	secured.HandleFunc("/tasks/{id}", s.getTask).Methods(http.MethodGet)
	secured.HandleFunc("/tasks/{id}/confirm", s.confirmTask).Methods(http.MethodPost)
	secured.HandleFunc("/tasks/{id}/cancel", s.cancelTask).Methods(http.MethodPost)
	secured.HandleFunc("/tasks/{id}/logs", s.taskLogs).Methods(http.MethodGet)
	secured.HandleFunc("/locks/active", s.activeLocks).Methods(http.MethodGet)
	secured.HandleFunc("/locks/poisoned", s.poisonedLocks).Methods(http.MethodGet)
	secured.HandleFunc("/locks/poisoned_detailed", s.poisonedLocksDetailed).Methods(http.MethodGet)
	secured.HandleFunc("/locks/unlock/{id}", s.unlock).Methods(http.MethodPatch)

	s.router = r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on the configured address until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mock server listening", "addr", s.config.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down mock server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func (s *Server) webConfig(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, task.WebConfig{
		Authority: s.config.Authority,
		ClientID:  s.config.ClientID,
	})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r, true)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	tasks, err := s.store.List(q)
	if err != nil {
		s.internalError(w, "failed to list tasks", err)
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	respondWithJSON(w, http.StatusOK, tasks)
}

func (s *Server) countTasks(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r, false)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.store.Count(q)
	if err != nil {
		s.internalError(w, "failed to count tasks", err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int{"count": n})
}

// CreateRequest is the body of POST /tasks.
type CreateRequest struct {
	DisplayName     string        `json:"display_name"`
	Group           string        `json:"group,omitempty"`
	FlakeRef        task.FlakeRef `json:"flake_ref"`
	Features        []string      `json:"features,omitempty"`
	Locks           []task.Lock   `json:"locks,omitempty"`
	NeedsValidation bool          `json:"needs_confirmation"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		respondWithError(w, http.StatusBadRequest, "display_name is required")
		return
	}

	t := task.NewTask("", req.DisplayName, req.NeedsValidation)
	t.Group = req.Group
	t.FlakeRef = req.FlakeRef
	t.Features = req.Features
	if req.Locks != nil {
		t.Locks = req.Locks
	}
	if err := s.orch.Create(t); err != nil {
		s.internalError(w, "failed to create task", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, t)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetByID(mux.Vars(r)["id"])
	if err != nil {
		s.taskError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, t)
}

func (s *Server) confirmTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.orch.Confirm(mux.Vars(r)["id"])
	if err != nil {
		s.taskError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, t)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.orch.Cancel(mux.Vars(r)["id"])
	if err != nil {
		s.taskError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, t)
}

func (s *Server) taskLogs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	t, err := s.store.GetByID(id)
	if err != nil {
		s.taskError(w, err)
		return
	}
	if t.Status.IsFinished() {
		// No writer will append to it any more.
		s.logs.Close(id)
	}

	if !wantsEventStream(r) {
		lines, _, _ := s.logs.Lines(id, 0)
		if lines == nil {
			lines = []string{}
		}
		respondWithJSON(w, http.StatusOK, map[string][]string{"lines": lines})
		return
	}

	start, err := intParam(r, "start")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.streamLogs(w, r, id, start)
}

func (s *Server) taskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		respondWithError(w, http.StatusNotFound, "Task not found")
	case errors.Is(err, task.ErrInvalidTransition):
		respondWithError(w, http.StatusConflict, err.Error())
	default:
		s.internalError(w, "task operation failed", err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "error", err)
	respondWithError(w, http.StatusInternalServerError, msg)
}

func parseQuery(r *http.Request, paged bool) (task.Query, error) {
	var q task.Query
	status, err := task.ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		return q, err
	}
	q.Status = status
	q.Group = r.URL.Query().Get("group")
	if !paged {
		return q, nil
	}
	if q.Limit, err = intParam(r, "limit"); err != nil {
		return q, err
	}
	if q.Offset, err = intParam(r, "offset"); err != nil {
		return q, err
	}
	return q, nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return n, nil
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
