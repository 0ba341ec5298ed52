package mid

import (
	"context"
	"errors"
	"net/http"

	"github.com/ahrav/sonolive/internal/api/errs"
	"github.com/ahrav/sonolive/internal/api/web"
	"github.com/ahrav/sonolive/internal/config/credentials"
	"github.com/ahrav/sonolive/internal/domain/discovery"
)

// APIKeyHeader carries the observer token. Browsers cannot set headers on a
// websocket upgrade, so the token query parameter is accepted as well.
const APIKeyHeader = "X-Api-Key"

type principalKey struct{}

// PrincipalFrom returns the principal Authenticate attached to ctx.
func PrincipalFrom(ctx context.Context) (discovery.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(discovery.Principal)
	return p, ok
}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p discovery.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// AuthFailures counts rejected tokens.
type AuthFailures interface {
	IncAuthFailures(ctx context.Context)
}

// Authenticate resolves the request token against store and rejects the
// request with 401 when it is missing or unknown.
func Authenticate(store credentials.Store, m AuthFailures) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get(APIKeyHeader)
			if token == "" {
				token = r.URL.Query().Get("token")
			}

			p, ok := store.Principal(token)
			if !ok {
				m.IncAuthFailures(r.Context())
				_ = web.RespondError(w, errs.New(errs.Unauthenticated, errors.New("a valid API token is required")))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
