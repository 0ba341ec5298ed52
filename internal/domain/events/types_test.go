package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventTypeClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ       EventType
		session   bool
		candidate bool
	}{
		{typ: EventTypeSessionStateUpdate, session: true},
		{typ: EventTypeCandidatesAppended, session: true, candidate: true},
		{typ: EventTypeCandidatesUpdated, session: true, candidate: true},
		{typ: EventTypeCandidateStatusChanged, session: true, candidate: true},
		{typ: EventTypeSessionCleared, session: true, candidate: true},
		{typ: EventTypeInitialLoadComplete, session: true},
		{typ: EventTypeLoadMoreComplete, session: true},
		{typ: EventTypePersonalSourceState, session: true},
		{typ: EventTypePreviewResult},
		{typ: EventTypePromptAck},
		{typ: EventTypeSearchAck},
		{typ: EventTypeGenericNotice},
		{typ: EventTypeActionError},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.session, tt.typ.SessionEvent())
			assert.Equal(t, tt.candidate, tt.typ.CandidateEvent())
		})
	}
}
