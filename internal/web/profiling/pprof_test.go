package profiling

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/conduit-lang/admin/internal/admin/perm"
	"github.com/conduit-lang/admin/internal/web/auth"
)

func newRouter(id perm.Identity) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(auth.SetIdentity(req.Context(), id)))
		})
	})
	RegisterRoutes(r, nil)
	return r
}

func TestRegisterRoutes(t *testing.T) {
	tests := []struct {
		name   string
		id     perm.Identity
		path   string
		status int
	}{
		{"anonymous", perm.Anonymous(), "/debug/pprof/cmdline", http.StatusUnauthorized},
		{"staff", perm.Identity{UserID: 2, Username: "librarian", Roles: []string{"librarian"}}, "/debug/pprof/cmdline", http.StatusForbidden},
		{"superuser cmdline", perm.Identity{UserID: 1, Username: "admin", Superuser: true}, "/debug/pprof/cmdline", http.StatusOK},
		{"superuser index", perm.Identity{UserID: 1, Username: "admin", Superuser: true}, "/debug/pprof/", http.StatusOK},
		{"superuser heap", perm.Identity{UserID: 1, Username: "admin", Superuser: true}, "/debug/pprof/heap", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			newRouter(tt.id).ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Code != tt.status {
				t.Errorf("GET %s = %d, want %d", tt.path, w.Code, tt.status)
			}
		})
	}
}

func TestRegisterRoutesCustomPath(t *testing.T) {
	r := chi.NewRouter()
	RegisterRoutes(r, &Config{Path: "/_pprof"})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/_pprof/heap", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without identity, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/pprof/heap", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected default path to be unmounted, got %d", w.Code)
	}
}
