package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/conduit-lang/admin/internal/admin/dispatch"
	"github.com/conduit-lang/admin/internal/admin/graph"
	"github.com/conduit-lang/admin/internal/admin/task"
	"github.com/conduit-lang/admin/internal/demo"
	"github.com/conduit-lang/admin/internal/orm/record"
	"github.com/conduit-lang/admin/internal/orm/store"
	"github.com/conduit-lang/admin/internal/web/auth"
	"github.com/conduit-lang/admin/internal/web/ratelimit"
	"github.com/conduit-lang/admin/internal/web/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testApp struct {
	handler http.Handler
	store   *store.MemoryStore
	runner  *task.Runner
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	st := store.NewMemoryStore()
	runner := task.NewRunner(task.NewMemoryStore(0), zap.NewNop())
	reg := graph.NewRegistry(st, graph.WithTasks(runner))
	require.NoError(t, demo.Register(reg))
	require.NoError(t, demo.Seed(context.Background(), st))

	users, err := demo.Users()
	require.NoError(t, err)
	limiter, err := ratelimit.NewMemoryLimiter(ratelimit.Config{Limit: 3, Window: time.Minute}, 0)
	require.NoError(t, err)
	t.Cleanup(func() { limiter.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h, err := NewHandler(Deps{
		Dispatcher: dispatch.New(reg, zap.NewNop()),
		Auth:       auth.NewAuthService("test-secret", time.Hour),
		Users:      users,
		Limiter:    limiter,
		Tasks:      runner,
		Streams:    websocket.NewUpgrader(ctx, nil, runner, zap.NewNop()),
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)
	return &testApp{handler: h, store: st, runner: runner}
}

func (a *testApp) do(method, target, token string, body url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(body.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

func (a *testApp) login(t *testing.T, username string) string {
	t.Helper()
	w := a.do(http.MethodPost, "/_auth/token", "", url.Values{"username": {username}, "password": {username}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp tokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	return resp.Token
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestNewHandler_RequiresCollaborators(t *testing.T) {
	_, err := NewHandler(Deps{})
	assert.Error(t, err)
}

func TestHandler_Health(t *testing.T) {
	app := newTestApp(t)
	w := app.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHandler_CollectionsFollowTheCaller(t *testing.T) {
	app := newTestApp(t)

	w := app.do(http.MethodGet, "/admin/books", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	books := decode[graph.CollectionDocument](t, w)
	assert.Equal(t, 4, books.Count)

	reader := app.login(t, "reader")
	w = app.do(http.MethodGet, "/admin/books", reader, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, decode[graph.CollectionDocument](t, w).Count)

	w = app.do(http.MethodGet, "/admin/books?genre=essay&token="+reader, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[graph.CollectionDocument](t, w).Count)
}

func TestHandler_ErrorStatuses(t *testing.T) {
	app := newTestApp(t)
	reader := app.login(t, "reader")

	tests := []struct {
		name   string
		method string
		target string
		token  string
		status int
	}{
		{"unknown namespace", http.MethodGet, "/backoffice/books", "", http.StatusNotFound},
		{"unknown record", http.MethodGet, "/admin/books/99", reader, http.StatusNotFound},
		{"anonymous add", http.MethodGet, "/admin/books/add", "", http.StatusUnauthorized},
		{"reader add", http.MethodGet, "/admin/books/add", reader, http.StatusForbidden},
		{"anonymous unknown slot", http.MethodGet, "/admin/books/1/missing", "", http.StatusUnauthorized},
		{"reader unknown slot", http.MethodGet, "/admin/books/1/missing", reader, http.StatusForbidden},
		{"bad export format", http.MethodGet, "/admin/books?export=pdf", "", http.StatusBadRequest},
		{"invalid token", http.MethodGet, "/admin/books", "forged", http.StatusUnauthorized},
		{"root", http.MethodGet, "/", "", http.StatusNotFound},
		{"method", http.MethodDelete, "/admin/books/1", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := app.do(tt.method, tt.target, tt.token, nil)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
		})
	}
}

func TestHandler_SubmitForms(t *testing.T) {
	app := newTestApp(t)
	librarian := app.login(t, "librarian")

	w := app.do(http.MethodGet, "/admin/books/add", librarian, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "form", decode[graph.FormDocument](t, w).Type)

	w = app.do(http.MethodPost, "/admin/books/add", librarian, url.Values{"pages": {"thin"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	form := decode[graph.FormDocument](t, w)
	require.NotNil(t, form.Errors)
	assert.Contains(t, form.Errors.Fields, "title")

	w = app.do(http.MethodPost, "/admin/books/add", librarian, url.Values{
		"title": {"Orlando"}, "pages": {"333"}, "genre": {"novel"}, "available": {"true"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	redirect := decode[graph.RedirectDocument](t, w)
	assert.Equal(t, "/admin/books/6", redirect.Path)

	rec, err := app.store.Get(context.Background(), "Book", 6)
	require.NoError(t, err)
	assert.Equal(t, "Orlando", rec.String("title"))
}

func TestHandler_JSONInputAndFragments(t *testing.T) {
	app := newTestApp(t)
	reader := app.login(t, "reader")

	req := httptest.NewRequest(http.MethodPost, "/admin/books/1/borrow?uuid=row-1", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+reader)
	w := httptest.NewRecorder()
	app.handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var frag struct {
		UUID     string                 `json:"uuid"`
		Document graph.RedirectDocument `json:"document"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &frag))
	assert.Equal(t, "row-1", frag.UUID)
	assert.Equal(t, "/admin/books/1", frag.Document.Path)

	rec, err := app.store.Get(context.Background(), "Book", 1)
	require.NoError(t, err)
	assert.False(t, rec.Bool("available"))

	req = httptest.NewRequest(http.MethodPost, "/admin/books/2/borrow", strings.NewReader(`{"broken`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+reader)
	w = httptest.NewRecorder()
	app.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_ConditionalGet(t *testing.T) {
	app := newTestApp(t)

	w := app.do(http.MethodGet, "/admin/authors/1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/admin/authors/1", nil)
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	app.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotModified, w.Code)

	_, err := app.store.Insert(context.Background(), record.New("Book", 0, map[string]interface{}{
		"title": "Dreamwork", "pages": int64(82), "genre": "poetry", "available": true, "author_id": int64(1),
	}))
	require.NoError(t, err)
	w = httptest.NewRecorder()
	app.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_Export(t *testing.T) {
	app := newTestApp(t)
	w := app.do(http.MethodGet, "/admin/books?export=csv", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, w.Body.String(), "Memoirs of Hadrian")
}

func TestHandler_TokenThrottling(t *testing.T) {
	app := newTestApp(t)

	w := app.do(http.MethodPost, "/_auth/token", "", url.Values{"username": {"reader"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for i := 0; i < 3; i++ {
		w = app.do(http.MethodPost, "/_auth/token", "", url.Values{"username": {"reader"}, "password": {"guess"}})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w = app.do(http.MethodPost, "/_auth/token", "", url.Values{"username": {"reader"}, "password": {"reader"}})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// other accounts are throttled separately and a success clears the count
	app.login(t, "librarian")
	app.login(t, "librarian")
	app.login(t, "librarian")
	app.login(t, "librarian")
}

func TestHandler_BackgroundTasks(t *testing.T) {
	app := newTestApp(t)
	librarian := app.login(t, "librarian")

	w := app.do(http.MethodPost, "/admin/books/tidy", librarian, url.Values{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	redirect := decode[graph.RedirectDocument](t, w)
	require.True(t, strings.HasPrefix(redirect.Path, "/_tasks/"))
	app.runner.Wait()

	w = app.do(http.MethodGet, redirect.Path, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	progress := decode[websocket.ProgressPayload](t, w)
	assert.Equal(t, task.StatusCompleted, progress.Status)
	assert.Equal(t, float64(100), progress.Percent)

	rec, err := app.store.Get(context.Background(), "Book", 4)
	require.NoError(t, err)
	assert.Equal(t, "The Waves", rec.String("title"))

	w = app.do(http.MethodPost, redirect.Path+"/stop", librarian, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.False(t, decode[websocket.ProgressPayload](t, w).StopRequested)

	w = app.do(http.MethodGet, "/_tasks", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = app.do(http.MethodGet, "/_tasks?limit=5", librarian, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]websocket.ProgressPayload](t, w), 1)

	assert.Equal(t, http.StatusNotFound, app.do(http.MethodGet, "/_tasks/not-a-uuid", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, app.do(http.MethodGet, "/_tasks/"+graph.DefaultNamespace, "", nil).Code)
	assert.Equal(t, http.StatusNotFound, app.do(http.MethodGet, "/_tasks/00000000-0000-0000-0000-000000000000/ws", "", nil).Code)
}
