package middleware

import (
	"net"
	"net/http"

	"github.com/angelmondragon/notekeep-notifications/api/responses"
	pkgerrors "github.com/angelmondragon/notekeep-notifications/pkg/errors"
	"github.com/angelmondragon/notekeep-notifications/pkg/logger"
)

// LocalOnly rejects requests whose peer is not a loopback address. Routes that
// touch credentials sit behind it.
func LocalOnly(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			ip := net.ParseIP(host)
			if ip == nil || !ip.IsLoopback() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "local clients only"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
