// Package mid contains the HTTP middleware applied to every API route.
package mid

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Otel starts a server span for every request not under an excluded prefix.
// The span rides the request context, so handlers and the logger see its
// trace id.
func Otel(operation string, excluded map[string]struct{}) func(http.Handler) http.Handler {
	return otelhttp.NewMiddleware(operation,
		otelhttp.WithFilter(func(r *http.Request) bool {
			for prefix := range excluded {
				if strings.HasPrefix(r.URL.Path, prefix) {
					return false
				}
			}
			return true
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
