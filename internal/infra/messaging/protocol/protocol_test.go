package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/sonolive/internal/app/commands/session"
	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/internal/domain/events"
)

var user = discovery.Requester{
	ConnectionID: "c1",
	Principal:    discovery.Principal{UserID: "u1", Role: discovery.RoleUser},
}

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr bool
		check   func(t *testing.T, msg ClientMessage, cmd any)
	}{
		{
			name:  "start catalogue",
			frame: `{"id":"1","command":"start","payload":{"seeds":["Air","Beach House"],"origin":"catalogue"}}`,
			check: func(t *testing.T, msg ClientMessage, cmd any) {
				start, ok := cmd.(session.StartCommand)
				require.True(t, ok)
				assert.Equal(t, "1", msg.ID)
				assert.Equal(t, []string{"Air", "Beach House"}, start.Seeds)
				assert.Equal(t, discovery.CatalogueOrigin(), start.Origin)
				assert.Equal(t, user, start.Issuer())
			},
		},
		{
			name:  "start personal",
			frame: `{"command":"start","payload":{"origin":"personal","sourceId":"lastfm"}}`,
			check: func(t *testing.T, _ ClientMessage, cmd any) {
				start := cmd.(session.StartCommand)
				assert.Equal(t, discovery.PersonalOrigin("lastfm"), start.Origin)
				assert.Empty(t, start.Seeds)
			},
		},
		{
			name:    "personal without source",
			frame:   `{"command":"start","payload":{"origin":"personal"}}`,
			wantErr: true,
		},
		{
			name:    "unknown origin",
			frame:   `{"command":"start","payload":{"seeds":["Air"],"origin":"radio"}}`,
			wantErr: true,
		},
		{
			name:    "blank seed",
			frame:   `{"command":"start","payload":{"seeds":[""],"origin":"catalogue"}}`,
			wantErr: true,
		},
		{
			name:  "add to library",
			frame: `{"command":"addToLibrary","payload":{"identity":"slowdive"}}`,
			check: func(t *testing.T, _ ClientMessage, cmd any) {
				c := cmd.(session.CandidateCommand)
				assert.Equal(t, discovery.ActionAddToLibrary, c.Kind)
				assert.Equal(t, "slowdive", c.Identity)
			},
		},
		{
			name:    "add without identity",
			frame:   `{"command":"addToLibrary","payload":{}}`,
			wantErr: true,
		},
		{
			name:    "add without payload",
			frame:   `{"command":"addToLibrary"}`,
			wantErr: true,
		},
		{
			name:  "stop",
			frame: `{"command":"stop"}`,
			check: func(t *testing.T, _ ClientMessage, cmd any) {
				_, ok := cmd.(session.StopCommand)
				assert.True(t, ok)
			},
		},
		{
			name:  "poll",
			frame: `{"command":"pollPersonalSources"}`,
			check: func(t *testing.T, _ ClientMessage, cmd any) {
				assert.Equal(t, discovery.ActionPollSources, cmd.(session.QueryCommand).Kind)
			},
		},
		{
			name:    "empty prompt",
			frame:   `{"command":"promptSeed","payload":{"prompt":""}}`,
			wantErr: true,
		},
		{
			name:  "search",
			frame: `{"command":"searchSeed","payload":{"query":" mogwai "}}`,
			check: func(t *testing.T, _ ClientMessage, cmd any) {
				search, ok := cmd.(session.SearchSeedCommand)
				require.True(t, ok)
				assert.Equal(t, "mogwai", search.Query)
				assert.Equal(t, discovery.ActionSearchSeed, search.CommandType())
			},
		},
		{
			name:    "empty search",
			frame:   `{"command":"searchSeed","payload":{"query":""}}`,
			wantErr: true,
		},
		{
			name:    "unknown command",
			frame:   `{"command":"shuffle"}`,
			wantErr: true,
		},
		{
			name:    "missing command",
			frame:   `{"id":"9"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			frame:   `start`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, cmd, err := DecodeCommand([]byte(tt.frame), user)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, discovery.ErrValidation)
				return
			}
			require.NoError(t, err)
			tt.check(t, msg, cmd)
		})
	}
}

func TestEncodeEvent(t *testing.T) {
	data, err := EncodeEvent(events.DomainEvent{
		Type:    events.EventTypeLoadMoreComplete,
		Seq:     42,
		Target:  "c1",
		Payload: discovery.LoadComplete{HasMore: true},
	})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "load_more_complete", raw["type"])
	assert.EqualValues(t, 42, raw["seq"])
	assert.NotContains(t, raw, "target")

	msg, err := DecodeServerMessage(data)
	require.NoError(t, err)
	var payload discovery.LoadComplete
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.True(t, payload.HasMore)
}

func TestEncodeCommandRoundTrip(t *testing.T) {
	data, err := EncodeCommand("7", discovery.ActionFetchSample, IdentityPayload{Identity: "air"})
	require.NoError(t, err)

	msg, cmd, err := DecodeCommand(data, user)
	require.NoError(t, err)
	assert.Equal(t, "7", msg.ID)
	assert.Equal(t, discovery.ActionFetchSample, cmd.CommandType())
}

func TestDecodeServerMessage_RequiresType(t *testing.T) {
	_, err := DecodeServerMessage([]byte(`{"seq":1}`))
	assert.Error(t, err)
}
