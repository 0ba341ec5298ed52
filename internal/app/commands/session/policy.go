package session

import (
	"github.com/ahrav/sonolive/internal/app/commands"
	"github.com/ahrav/sonolive/internal/domain/discovery"
)

var _ commands.Authorizer = RolePolicy{}

// RolePolicy maps each command to the least privileged role allowed to issue
// it. Commands without an entry require an authenticated principal.
type RolePolicy struct {
	required map[discovery.ActionKind]discovery.Role
}

// NewRolePolicy returns the default policy: adding to the library needs an
// admin, everything else needs an authenticated user.
func NewRolePolicy() RolePolicy {
	return RolePolicy{required: map[discovery.ActionKind]discovery.Role{
		discovery.ActionAddToLibrary: discovery.RoleAdmin,
	}}
}

// Authorize returns an unauthorized error when the issuer lacks the role for
// cmd.
func (p RolePolicy) Authorize(cmd commands.Command) error {
	principal := cmd.Issuer().Principal
	if !principal.Authenticated() {
		return discovery.NewUnauthorizedError(string(cmd.CommandType()))
	}
	if p.required[cmd.CommandType()] == discovery.RoleAdmin && !principal.IsAdmin() {
		return discovery.NewUnauthorizedError(string(cmd.CommandType()))
	}
	return nil
}
