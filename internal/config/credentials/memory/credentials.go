package memory

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ahrav/sonolive/internal/config"
	"github.com/ahrav/sonolive/internal/config/credentials"
	"github.com/ahrav/sonolive/internal/domain/discovery"
)

var _ credentials.Store = (*CredentialStore)(nil)

// CredentialStore provides centralized access to the configured tokens. It
// can be replaced wholesale when the configuration is reloaded.
type CredentialStore struct {
	mu         sync.RWMutex
	principals map[string]discovery.Principal
}

// NewCredentialStore initializes a store from the configured tokens.
func NewCredentialStore(tokens []config.TokenConfig) (*CredentialStore, error) {
	s := new(CredentialStore)
	if err := s.Replace(tokens); err != nil {
		return nil, err
	}
	return s, nil
}

// Replace swaps in a new token set. The existing set is kept when tokens is
// invalid.
func (s *CredentialStore) Replace(tokens []config.TokenConfig) error {
	principals := make(map[string]discovery.Principal, len(tokens))
	for i, tok := range tokens {
		token := strings.TrimSpace(tok.Token)
		if token == "" {
			return fmt.Errorf("token %d for user %q is empty", i, tok.UserID)
		}
		role := discovery.Role(tok.Role)
		if role != discovery.RoleUser && role != discovery.RoleAdmin {
			return fmt.Errorf("token %d for user %q has unknown role %q", i, tok.UserID, tok.Role)
		}
		principals[token] = discovery.Principal{UserID: tok.UserID, Role: role}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.principals = principals
	return nil
}

// Principal looks up the principal for token.
func (s *CredentialStore) Principal(token string) (discovery.Principal, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return discovery.Principal{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[token]
	return p, ok
}
