// Package session provides the commands a connected client may issue against
// the discovery session.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/sonolive/internal/domain/discovery"
)

type base struct {
	id         string
	occurredAt time.Time
	requester  discovery.Requester
}

func newBase(requester discovery.Requester) base {
	return base{id: uuid.New().String(), occurredAt: time.Now(), requester: requester}
}

// CommandID returns the unique identifier for this command.
func (b base) CommandID() string { return b.id }

// OccurredAt returns when this command was created.
func (b base) OccurredAt() time.Time { return b.occurredAt }

// Issuer returns the connection and principal that issued the command.
func (b base) Issuer() discovery.Requester { return b.requester }

// StartCommand begins a run.
type StartCommand struct {
	base
	Seeds  []string
	Origin discovery.SeedOrigin
}

// NewStartCommand creates a new start command.
func NewStartCommand(requester discovery.Requester, seeds []string, origin discovery.SeedOrigin) StartCommand {
	return StartCommand{base: newBase(requester), Seeds: seeds, Origin: origin}
}

// CommandType returns the type identifier for this command.
func (c StartCommand) CommandType() discovery.ActionKind { return discovery.ActionStart }

// ValidateCommand ensures the origin accepts the given seeds.
func (c StartCommand) ValidateCommand() error { return c.Origin.Validate(c.Seeds) }

// StopCommand ends the active run.
type StopCommand struct{ base }

// NewStopCommand creates a new stop command.
func NewStopCommand(requester discovery.Requester) StopCommand {
	return StopCommand{base: newBase(requester)}
}

// CommandType returns the type identifier for this command.
func (c StopCommand) CommandType() discovery.ActionKind { return discovery.ActionStop }

// ValidateCommand always succeeds.
func (c StopCommand) ValidateCommand() error { return nil }

// LoadMoreCommand requests the next page of results.
type LoadMoreCommand struct{ base }

// NewLoadMoreCommand creates a new load-more command.
func NewLoadMoreCommand(requester discovery.Requester) LoadMoreCommand {
	return LoadMoreCommand{base: newBase(requester)}
}

// CommandType returns the type identifier for this command.
func (c LoadMoreCommand) CommandType() discovery.ActionKind { return discovery.ActionLoadMore }

// ValidateCommand always succeeds.
func (c LoadMoreCommand) ValidateCommand() error { return nil }

// CandidateCommand targets one candidate: add, request, preview or sample.
type CandidateCommand struct {
	base
	Kind     discovery.ActionKind
	Identity string
}

// NewCandidateCommand creates a command of kind against identity.
func NewCandidateCommand(requester discovery.Requester, kind discovery.ActionKind, identity string) CandidateCommand {
	return CandidateCommand{base: newBase(requester), Kind: kind, Identity: strings.TrimSpace(identity)}
}

// CommandType returns the type identifier for this command.
func (c CandidateCommand) CommandType() discovery.ActionKind { return c.Kind }

// ValidateCommand ensures the kind targets a candidate and an identity is set.
func (c CandidateCommand) ValidateCommand() error {
	switch c.Kind {
	case discovery.ActionAddToLibrary, discovery.ActionRequestArtist,
		discovery.ActionFetchPreview, discovery.ActionFetchSample:
	default:
		return discovery.NewValidationError("%s does not target a candidate", c.Kind)
	}
	if c.Identity == "" {
		return discovery.NewValidationError("identity is required")
	}
	return nil
}

// PromptSeedCommand starts a run from a free-text prompt.
type PromptSeedCommand struct {
	base
	Prompt string
}

// NewPromptSeedCommand creates a new prompt command.
func NewPromptSeedCommand(requester discovery.Requester, prompt string) PromptSeedCommand {
	return PromptSeedCommand{base: newBase(requester), Prompt: strings.TrimSpace(prompt)}
}

// CommandType returns the type identifier for this command.
func (c PromptSeedCommand) CommandType() discovery.ActionKind { return discovery.ActionPromptSeed }

// ValidateCommand rejects a blank prompt.
func (c PromptSeedCommand) ValidateCommand() error {
	if c.Prompt == "" {
		return discovery.NewEmptyPromptError()
	}
	return nil
}

// SearchSeedCommand starts a run from a MusicBrainz artist search.
type SearchSeedCommand struct {
	base
	Query string
}

// NewSearchSeedCommand creates a new search command.
func NewSearchSeedCommand(requester discovery.Requester, query string) SearchSeedCommand {
	return SearchSeedCommand{base: newBase(requester), Query: strings.TrimSpace(query)}
}

// CommandType returns the type identifier for this command.
func (c SearchSeedCommand) CommandType() discovery.ActionKind { return discovery.ActionSearchSeed }

// ValidateCommand rejects a blank query.
func (c SearchSeedCommand) ValidateCommand() error {
	if c.Query == "" {
		return discovery.NewEmptyQueryError()
	}
	return nil
}

// QueryCommand is a read-only request: poll personal sources or list the
// library.
type QueryCommand struct {
	base
	Kind discovery.ActionKind
}

// NewQueryCommand creates a query of kind.
func NewQueryCommand(requester discovery.Requester, kind discovery.ActionKind) QueryCommand {
	return QueryCommand{base: newBase(requester), Kind: kind}
}

// CommandType returns the type identifier for this command.
func (c QueryCommand) CommandType() discovery.ActionKind { return c.Kind }

// ValidateCommand ensures the kind is a query.
func (c QueryCommand) ValidateCommand() error {
	switch c.Kind {
	case discovery.ActionPollSources, discovery.ActionListLibrary:
		return nil
	}
	return discovery.NewValidationError("%s is not a query", c.Kind)
}
