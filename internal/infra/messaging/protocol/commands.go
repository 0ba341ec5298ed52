package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ahrav/sonolive/internal/api/errs"
	"github.com/ahrav/sonolive/internal/app/commands"
	"github.com/ahrav/sonolive/internal/app/commands/session"
	"github.com/ahrav/sonolive/internal/domain/discovery"
)

// DecodeCommand parses and validates a client frame and builds the command it
// names on behalf of requester. Malformed frames yield a validation error.
func DecodeCommand(data []byte, requester discovery.Requester) (ClientMessage, commands.Command, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, nil, discovery.NewValidationError("malformed message: %v", err)
	}
	if err := errs.Check(msg); err != nil {
		return msg, nil, discovery.NewValidationError("%v", err)
	}

	kind := discovery.ActionKind(msg.Command)
	switch kind {
	case discovery.ActionStart:
		var p StartPayload
		if err := decodePayload(msg, &p); err != nil {
			return msg, nil, err
		}
		origin := discovery.SeedOrigin{Kind: discovery.OriginKind(p.Origin), SourceID: p.SourceID}
		return msg, session.NewStartCommand(requester, p.Seeds, origin), nil

	case discovery.ActionStop:
		return msg, session.NewStopCommand(requester), nil

	case discovery.ActionLoadMore:
		return msg, session.NewLoadMoreCommand(requester), nil

	case discovery.ActionAddToLibrary, discovery.ActionRequestArtist,
		discovery.ActionFetchPreview, discovery.ActionFetchSample:
		var p IdentityPayload
		if err := decodePayload(msg, &p); err != nil {
			return msg, nil, err
		}
		return msg, session.NewCandidateCommand(requester, kind, p.Identity), nil

	case discovery.ActionPromptSeed:
		var p PromptPayload
		if err := decodePayload(msg, &p); err != nil {
			return msg, nil, err
		}
		return msg, session.NewPromptSeedCommand(requester, p.Prompt), nil

	case discovery.ActionSearchSeed:
		var p SearchPayload
		if err := decodePayload(msg, &p); err != nil {
			return msg, nil, err
		}
		return msg, session.NewSearchSeedCommand(requester, p.Query), nil

	case discovery.ActionPollSources, discovery.ActionListLibrary:
		return msg, session.NewQueryCommand(requester, kind), nil
	}

	return msg, nil, discovery.NewValidationError("unknown command %q", msg.Command)
}

func decodePayload(msg ClientMessage, dst any) error {
	if len(msg.Payload) == 0 {
		return discovery.NewValidationError("%s: payload is required", msg.Command)
	}
	if err := json.Unmarshal(msg.Payload, dst); err != nil {
		return discovery.NewValidationError("%s: malformed payload: %v", msg.Command, err)
	}
	if err := errs.Check(dst); err != nil {
		return discovery.NewValidationError("%s: %s", msg.Command, strings.TrimSpace(err.Error()))
	}
	return nil
}

// EncodeCommand renders a client frame. It is used by clients and tests.
func EncodeCommand(id string, kind discovery.ActionKind, payload any) ([]byte, error) {
	msg := ClientMessage{ID: id, Command: string(kind)}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		msg.Payload = raw
	}
	return json.Marshal(msg)
}
