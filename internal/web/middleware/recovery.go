package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	webcontext "github.com/conduit-lang/admin/internal/web/context"
	"github.com/conduit-lang/admin/internal/web/response"
	"go.uber.org/zap"
)

// Recovery turns a panicking handler into a logged 500 response
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					logger.Error("panic recovered",
						zap.String("request_id", webcontext.GetRequestID(r.Context())),
						zap.String("path", r.URL.Path),
						zap.Error(panicError(v)),
						zap.ByteString("stack", debug.Stack()))
					response.RenderInternalError(w)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func panicError(v interface{}) error {
	if err, ok := v.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", v)
}
