// Package protocol defines the JSON frames exchanged with observers over the
// session websocket.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/ahrav/sonolive/internal/domain/events"
)

// ClientMessage is a command frame sent by an observer.
type ClientMessage struct {
	// ID is an optional client correlation id echoed on rejections.
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command" validate:"required"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage is an event frame sent to an observer.
type ServerMessage struct {
	Type events.EventType `json:"type"`
	// Seq is zero for frames that are not session events, such as command
	// rejections produced by the gateway itself.
	Seq     uint64          `json:"seq,omitempty"`
	ReplyTo string          `json:"replyTo,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// StartPayload carries the arguments of a start command.
type StartPayload struct {
	Seeds    []string `json:"seeds" validate:"max=500,dive,required,max=200"`
	Origin   string   `json:"origin" validate:"required,oneof=catalogue personal prompt search"`
	SourceID string   `json:"sourceId" validate:"required_if=Origin personal,omitempty,oneof=lastfm listenbrainz"`
}

// IdentityPayload targets a single candidate.
type IdentityPayload struct {
	Identity string `json:"identity" validate:"required,max=300"`
}

// PromptPayload carries a free-text prompt.
type PromptPayload struct {
	Prompt string `json:"prompt" validate:"required,max=2000"`
}

// SearchPayload carries an artist search query.
type SearchPayload struct {
	Query string `json:"query" validate:"required,max=300"`
}

// EncodeEvent renders a domain event as a server frame.
func EncodeEvent(evt events.DomainEvent) ([]byte, error) {
	return Encode(evt.Type, evt.Seq, "", evt.Payload)
}

// Encode renders payload as a server frame of the given type.
func Encode(typ events.EventType, seq uint64, replyTo string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return json.Marshal(ServerMessage{Type: typ, Seq: seq, ReplyTo: replyTo, Payload: raw})
}

// DecodeServerMessage parses a server frame, leaving its payload raw.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ServerMessage{}, fmt.Errorf("decode server message: %w", err)
	}
	if msg.Type == "" {
		return ServerMessage{}, fmt.Errorf("decode server message: missing type")
	}
	return msg, nil
}
