package discovery

// Event payloads. Each is carried in an events.DomainEvent whose Type names it.

// SessionStateUpdate reports a lifecycle or pagination change.
type SessionStateUpdate struct {
	State      SessionState `json:"state"`
	Pagination Pagination   `json:"pagination"`
}

// CandidatesAppended carries a batch of newly discovered candidates.
type CandidatesAppended struct {
	Candidates []Candidate `json:"candidates"`
}

// CandidatesUpdated carries existing candidates whose attributes changed
// after a later batch reported them again. Observers replace them in place.
type CandidatesUpdated struct {
	Candidates []Candidate `json:"candidates"`
}

// CandidateStatusChanged is a single-field delta for one candidate.
type CandidateStatusChanged struct {
	Identity string          `json:"identity"`
	Status   CandidateStatus `json:"status"`
	Label    string          `json:"label"`
}

// LoadComplete closes the initial pass or a load-more request.
type LoadComplete struct {
	HasMore bool `json:"hasMore"`
}

// PersonalSourceStateUpdate carries the latest poll result.
type PersonalSourceStateUpdate struct {
	Sources PersonalSources `json:"sources"`
}

// SessionCleared tells observers to discard their candidate list.
type SessionCleared struct{}

// ActionError reports a failed command to the connection that issued it.
type ActionError struct {
	ActionKind ActionKind `json:"actionKind"`
	Identity   string     `json:"identity,omitempty"`
	Code       ErrorCode  `json:"code,omitempty"`
	Message    string     `json:"message"`
}

// GenericNotice is a user-facing informational toast.
type GenericNotice struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// PromptAck confirms the seeds a prompt produced.
type PromptAck struct {
	Seeds []string `json:"seeds"`
}

// SearchAck confirms the seeds an artist search produced.
type SearchAck struct {
	Query string   `json:"query"`
	Seeds []string `json:"seeds"`
}

// LibraryArtists lists catalogue artists for the seed picker.
type LibraryArtists struct {
	Artists []string `json:"artists"`
}

// Snapshot is the full state a late joiner needs. Seq is the sequence number
// of the last event reflected in it.
type Snapshot struct {
	Seq uint64 `json:"seq"`
	SessionSnapshot
	PersonalSources PersonalSources `json:"personalSources"`
}
