package commands

import (
	"context"
	"time"

	"github.com/ahrav/sonolive/internal/domain/discovery"
)

// Handler defines the interface for processing commands
type Handler interface {
	Handle(ctx context.Context, cmd Command) error
}

// Authorizer decides whether the issuer of a command may run it.
type Authorizer interface {
	Authorize(cmd Command) error
}

// Command represents a base command interface
type Command interface {
	CommandType() discovery.ActionKind
	CommandID() string
	OccurredAt() time.Time
	Issuer() discovery.Requester
	ValidateCommand() error
}
