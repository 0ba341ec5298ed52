package events

// EventType represents a domain event category, enabling type-safe event routing and handling.
type EventType string

// Session event vocabulary, server to client.
const (
	EventTypeSessionStateUpdate     EventType = "session_state_update"
	EventTypeCandidatesAppended     EventType = "candidates_appended"
	EventTypeCandidatesUpdated      EventType = "candidates_updated"
	EventTypeCandidateStatusChanged EventType = "candidate_status_changed"
	EventTypeInitialLoadComplete    EventType = "initial_load_complete"
	EventTypeLoadMoreComplete       EventType = "load_more_complete"
	EventTypePersonalSourceState    EventType = "personal_source_state"
	EventTypeSessionCleared         EventType = "session_cleared"
	EventTypeActionError            EventType = "action_error"
	EventTypeGenericNotice          EventType = "generic_notice"

	// Scoped replies and resync frames.
	EventTypeSessionSnapshot EventType = "session_snapshot"
	EventTypePreviewResult   EventType = "preview_result"
	EventTypeSampleResult    EventType = "sample_result"
	EventTypePromptAck       EventType = "prompt_ack"
	EventTypeSearchAck       EventType = "search_ack"
	EventTypeLibraryArtists  EventType = "library_artists"
)

// CandidateEvent reports whether t carries candidate data. Observers must not
// see these while the session is idle unless they describe retained results.
func (t EventType) CandidateEvent() bool {
	switch t {
	case EventTypeCandidatesAppended, EventTypeCandidatesUpdated, EventTypeCandidateStatusChanged, EventTypeSessionCleared:
		return true
	default:
		return false
	}
}

// SessionEvent reports whether t changes the shared session view. Only these
// are ordered against the snapshot sequence; replies and notices are applied
// whenever they arrive.
func (t EventType) SessionEvent() bool {
	switch t {
	case EventTypeSessionStateUpdate,
		EventTypeCandidatesAppended,
		EventTypeCandidatesUpdated,
		EventTypeCandidateStatusChanged,
		EventTypeInitialLoadComplete,
		EventTypeLoadMoreComplete,
		EventTypePersonalSourceState,
		EventTypeSessionCleared:
		return true
	default:
		return false
	}
}

// PublishOption is a function type that modifies PublishParams.
// It enables flexible configuration of event publishing behavior through functional options.
type PublishOption func(*PublishParams)

// PublishParams contains configuration parameters for publishing events.
type PublishParams struct {
	Key    string
	Target string
}

// WithKey sets the business key of the event.
func WithKey(key string) PublishOption {
	return func(p *PublishParams) { p.Key = key }
}

// WithTarget scopes the event to a single connection.
func WithTarget(connectionID string) PublishOption {
	return func(p *PublishParams) { p.Target = connectionID }
}
