// Package recovery turns handler panics into 500 responses in the same JSON
// shape as every other mediator error.
package recovery

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	respond "github.com/ai-cherry/memory-mediator/internal/api/respond"
	"github.com/ai-cherry/memory-mediator/internal/auth"
)

// Middleware recovers panics from downstream handlers. The panic value is
// logged with the route template, never returned.
func Middleware(log zerolog.Logger) func(http.Handler) http.Handler {
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
				log.Error().
					Str("panic", fmt.Sprint(rec)).
					Str("method", r.Method).
					Str("route", routeTemplate(r)).
					Str("principal", r.Header.Get(auth.HeaderPrincipalID)).
					Str("role", r.Header.Get(auth.HeaderPrincipalRole)).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				respond.WriteInternalError(w, "internal error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}
