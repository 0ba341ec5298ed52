// Package credentials resolves the API tokens observers present into the
// principals the command policy authorizes.
package credentials

import (
	"github.com/ahrav/sonolive/internal/domain/discovery"
)

// Store looks up the principal behind a token.
type Store interface {
	// Principal returns the principal for token and whether it is known.
	Principal(token string) (discovery.Principal, bool)
}
