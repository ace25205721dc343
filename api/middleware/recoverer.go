package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/notekeep-notifications/api/responses"
	pkgerrors "github.com/angelmondragon/notekeep-notifications/pkg/errors"
	"github.com/angelmondragon/notekeep-notifications/pkg/logger"
)

// Recoverer turns a handler panic into an INTERNAL_ERROR envelope. Aborted
// handlers are re-panicked so net/http can drop the connection.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				ctx := r.Context()
				if logg != nil {
					fields := map[string]any{
						"panic": fmt.Sprint(rec),
						"stack": string(debug.Stack()),
					}
					if rctx := chi.RouteContext(ctx); rctx != nil {
						fields["route"] = rctx.RoutePattern()
					}
					ctx = logg.WithFields(ctx, fields)
				}
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, fmt.Errorf("panic: %v", rec), "handler panicked"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
