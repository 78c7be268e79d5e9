package middleware

import (
	"net/http"
	"strings"

	"github.com/conduit-lang/admin/internal/web/auth"
	"github.com/conduit-lang/admin/internal/web/response"
)

// TokenParam carries the token on requests that cannot set headers, such as
// websocket upgrades from a browser
const TokenParam = "token"

// Identity resolves the caller from a bearer token. Requests without a token
// proceed as anonymous; a token that does not validate is rejected with 401.
func Identity(service *auth.AuthService) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				response.RenderUnauthorized(w, "Invalid authorization format")
				return
			}
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			id, err := service.ValidateToken(token)
			if err != nil {
				response.RenderUnauthorized(w, "Invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.SetIdentity(r.Context(), id)))
		})
	}
}

// bearerToken returns the token of the request, empty when there is none.
// ok is false for a malformed Authorization header.
func bearerToken(r *http.Request) (token string, ok bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return r.URL.Query().Get(TokenParam), true
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
