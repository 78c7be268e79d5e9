// Package profiling mounts the pprof endpoints on the admin router.
//
// The endpoints expose goroutine stacks and heap contents, so RegisterRoutes
// only serves superusers. Profiles of a production process are better taken
// from a listener bound to localhost.
package profiling

import (
	"net/http"
	"net/http/pprof"
	"runtime"

	"github.com/go-chi/chi/v5"

	"github.com/conduit-lang/admin/internal/web/auth"
	"github.com/conduit-lang/admin/internal/web/response"
)

// DefaultPath is where the endpoints are mounted
const DefaultPath = "/debug/pprof"

// Config holds profiling configuration
type Config struct {
	// Path is the URL path prefix (default: /debug/pprof)
	Path string

	// BlockRate sets the block profiling rate (0 = disabled)
	BlockRate int

	// MutexFraction sets the mutex profiling fraction (0 = disabled)
	MutexFraction int
}

// DefaultConfig returns default profiling configuration
func DefaultConfig() *Config {
	return &Config{Path: DefaultPath}
}

// RegisterRoutes registers the pprof routes behind a superuser check. The
// router must run the identity middleware.
func RegisterRoutes(router chi.Router, config *Config) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Path == "" {
		config.Path = DefaultPath
	}

	if config.BlockRate > 0 {
		runtime.SetBlockProfileRate(config.BlockRate)
	}
	if config.MutexFraction > 0 {
		runtime.SetMutexProfileFraction(config.MutexFraction)
	}

	router.Route(config.Path, func(r chi.Router) {
		r.Use(RequireSuperuser)

		r.HandleFunc("/", pprof.Index)
		r.HandleFunc("/cmdline", pprof.Cmdline)
		r.HandleFunc("/profile", pprof.Profile)
		r.HandleFunc("/symbol", pprof.Symbol)
		r.HandleFunc("/trace", pprof.Trace)

		for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
			r.Handle("/"+name, pprof.Handler(name))
		}
	})
}

// RequireSuperuser answers 401 to anonymous callers and 403 to everyone
// but superusers
func RequireSuperuser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := auth.GetIdentity(r.Context())
		switch {
		case id.IsAnonymous():
			response.RenderUnauthorized(w, "Authentication required")
		case !id.Superuser:
			response.RenderErrorWithCode(w, http.StatusForbidden, "Profiling is restricted to superusers", "forbidden")
		default:
			next.ServeHTTP(w, r)
		}
	})
}
