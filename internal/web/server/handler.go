package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/conduit-lang/admin/internal/admin/dispatch"
	"github.com/conduit-lang/admin/internal/admin/task"
	"github.com/conduit-lang/admin/internal/web/auth"
	"github.com/conduit-lang/admin/internal/web/middleware"
	"github.com/conduit-lang/admin/internal/web/profiling"
	"github.com/conduit-lang/admin/internal/web/ratelimit"
	"github.com/conduit-lang/admin/internal/web/response"
	"github.com/conduit-lang/admin/internal/web/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Query parameters consumed by the transport and not passed to the dispatcher
const (
	ParamFragment = "uuid"
	ParamLimit    = "limit"
)

// maxBodyBytes bounds submitted form input
const maxBodyBytes = 1 << 20

// Deps are the collaborators of the HTTP handler. Limiter, Streams and
// Profiling are optional.
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Auth       *auth.AuthService
	Users      *auth.Directory
	Limiter    ratelimit.Limiter
	Tasks      *task.Runner
	Streams    *websocket.Upgrader
	Profiling  *profiling.Config
	Logger     *zap.Logger
}

type handler struct {
	Deps
}

// NewHandler builds the router:
//
//	GET  /healthz                 liveness
//	POST /_auth/token             exchange username and password for a bearer token
//	GET  /_tasks                  recent tasks (authenticated callers)
//	GET  /_tasks/{id}             poll a task
//	POST /_tasks/{id}/stop        ask a task to stop
//	GET  /_tasks/{id}/ws          stream a task's progress
//	GET  /debug/pprof/*           runtime profiles for superusers, when enabled
//	GET|HEAD|POST /{namespace}/*  dispatch a path; POST submits action forms
func NewHandler(deps Deps) (http.Handler, error) {
	if deps.Dispatcher == nil || deps.Auth == nil || deps.Users == nil {
		return nil, errors.New("handler needs a dispatcher, an auth service and a user directory")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	h := &handler{Deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.Identity(deps.Auth))
	r.Use(middleware.Logging(deps.Logger, "/healthz"))

	r.Get("/healthz", h.health)
	r.Post("/_auth/token", h.issueToken)
	r.Route("/_tasks", func(r chi.Router) {
		r.Get("/", h.listTasks)
		r.Get("/{id}", h.getTask)
		r.Post("/{id}/stop", h.stopTask)
		r.Get("/{id}/ws", h.streamTask)
	})
	if deps.Profiling != nil {
		profiling.RegisterRoutes(r, deps.Profiling)
	}
	r.Get("/*", h.dispatch)
	r.Head("/*", h.dispatch)
	r.Post("/*", h.dispatch)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.RenderErrorWithCode(w, http.StatusNotFound, "Not found", "not_found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.RenderErrorWithCode(w, http.StatusMethodNotAllowed, "Method not allowed", "method_not_allowed")
	})
	return r, nil
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	response.RenderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) dispatch(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r.Context())

	params := r.URL.Query()
	fragment := params.Get(ParamFragment)
	params.Del(ParamFragment)
	params.Del(middleware.TokenParam)

	req := dispatch.Request{
		Tokens:   dispatch.ParsePath(r.URL.Path),
		Identity: identity,
		Params:   params,
	}
	if r.Method == http.MethodPost {
		input, err := readInput(w, r)
		if err != nil {
			response.RenderBadRequest(w, err.Error())
			return
		}
		req.Input = input
		req.Submit = true
	}

	doc, err := h.Dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		if response.StatusFor(err, identity.IsAnonymous()) >= http.StatusInternalServerError {
			h.Logger.Error("dispatch failed", zap.String("path", r.URL.Path), zap.Error(err))
		}
		response.RenderError(w, err, identity.IsAnonymous())
		return
	}
	if err := response.RenderDocument(w, r, doc, fragment); err != nil {
		h.Logger.Warn("render failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
}

// readInput decodes a JSON object body or form fields. Repeated form fields
// keep their first value.
func readInput(w http.ResponseWriter, r *http.Request) (map[string]interface{}, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		input := make(map[string]interface{})
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		return input, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid form body: %w", err)
	}
	input := make(map[string]interface{}, len(r.PostForm))
	for name, values := range r.PostForm {
		if len(values) > 0 {
			input[name] = values[0]
		}
	}
	return input, nil
}

type tokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int64  `json:"expires_in"`
}

func (h *handler) issueToken(w http.ResponseWriter, r *http.Request) {
	input, err := readInput(w, r)
	if err != nil {
		response.RenderBadRequest(w, err.Error())
		return
	}
	username, _ := input["username"].(string)
	password, _ := input["password"].(string)
	if username == "" || password == "" {
		response.RenderBadRequest(w, "username and password are required")
		return
	}

	key := ratelimit.LoginKey(r, username)
	if h.Limiter != nil {
		decision, err := h.Limiter.Allow(r.Context(), key)
		if err != nil {
			h.Logger.Warn("login throttle unavailable", zap.Error(err))
		} else if !decision.Allowed {
			response.RenderTooManyRequests(w, decision.RetryAfterHeader())
			return
		}
	}

	identity, err := h.Users.Authenticate(username, password)
	if err != nil {
		response.RenderUnauthorized(w, "Invalid username or password")
		return
	}
	token, err := h.Auth.GenerateToken(identity)
	if err != nil {
		h.Logger.Error("token signing failed", zap.Error(err))
		response.RenderInternalError(w)
		return
	}
	if h.Limiter != nil {
		if err := h.Limiter.Reset(r.Context(), key); err != nil {
			h.Logger.Warn("login throttle reset failed", zap.Error(err))
		}
	}

	response.RenderJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int64(h.Auth.TTL().Seconds()),
	})
}

// taskID parses the {id} URL parameter, rendering 404 when it is not a uuid
func (h *handler) taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.RenderError(w, task.ErrTaskNotFound, false)
		return uuid.Nil, false
	}
	return id, true
}

func (h *handler) tasksEnabled(w http.ResponseWriter) bool {
	if h.Tasks == nil {
		response.RenderErrorWithCode(w, http.StatusNotFound, "Background tasks are disabled", "not_found")
		return false
	}
	return true
}

func (h *handler) listTasks(w http.ResponseWriter, r *http.Request) {
	if !h.tasksEnabled(w) {
		return
	}
	if auth.GetIdentity(r.Context()).IsAnonymous() {
		response.RenderUnauthorized(w, "Authentication required")
		return
	}
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get(ParamLimit)); err == nil && v > 0 && v <= 500 {
		limit = v
	}

	tasks, err := h.Tasks.Store().List(r.Context(), limit)
	if err != nil {
		h.Logger.Error("task list failed", zap.Error(err))
		response.RenderInternalError(w)
		return
	}
	out := make([]websocket.ProgressPayload, 0, len(tasks))
	for _, p := range tasks {
		out = append(out, websocket.NewProgressPayload(p))
	}
	response.RenderJSON(w, http.StatusOK, out)
}

func (h *handler) getTask(w http.ResponseWriter, r *http.Request) {
	if !h.tasksEnabled(w) {
		return
	}
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}
	p, err := h.Tasks.Get(r.Context(), id)
	if err != nil {
		response.RenderError(w, err, false)
		return
	}
	response.RenderJSON(w, http.StatusOK, websocket.NewProgressPayload(p))
}

func (h *handler) stopTask(w http.ResponseWriter, r *http.Request) {
	if !h.tasksEnabled(w) {
		return
	}
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}
	if err := h.Tasks.Stop(r.Context(), id); err != nil {
		response.RenderError(w, err, false)
		return
	}
	p, err := h.Tasks.Get(r.Context(), id)
	if err != nil {
		response.RenderError(w, err, false)
		return
	}
	response.RenderJSON(w, http.StatusAccepted, websocket.NewProgressPayload(p))
}

func (h *handler) streamTask(w http.ResponseWriter, r *http.Request) {
	if !h.tasksEnabled(w) {
		return
	}
	if h.Streams == nil {
		response.RenderErrorWithCode(w, http.StatusNotFound, "Progress streams are disabled", "not_found")
		return
	}
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}
	if err := h.Streams.ServeTask(w, r, id); err != nil {
		response.RenderError(w, err, false)
	}
}
