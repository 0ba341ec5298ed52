package discovery

// Personal listening-history sources.
const (
	SourceLastFM       = "lastfm"
	SourceListenBrainz = "listenbrainz"
)

// PersonalSourceState is the availability of one personal discovery source.
// It is refreshed by polling and may be stale between polls.
type PersonalSourceState struct {
	Enabled    bool    `json:"enabled"`
	Configured bool    `json:"configured"`
	Reason     *string `json:"reason"`
	Username   *string `json:"username"`
}

// PersonalSources maps a source id to its state.
type PersonalSources map[string]PersonalSourceState

// Clone returns an independent copy.
func (p PersonalSources) Clone() PersonalSources {
	out := make(PersonalSources, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// NewPersonalSourceState derives availability from whether the server is
// configured for the source and whether a username is known.
func NewPersonalSourceState(source string, configured bool, username string) PersonalSourceState {
	st := PersonalSourceState{Configured: configured}
	if username != "" {
		u := username
		st.Username = &u
	}

	var reason string
	switch {
	case !configured && source == SourceLastFM:
		reason = "Administrator must configure Last.fm API keys in Settings."
	case !configured:
		reason = "ListenBrainz integration is unavailable right now."
	case username == "" && source == SourceLastFM:
		reason = "Add your Last.fm username in Profile → Listening services."
	case username == "":
		reason = "Add your ListenBrainz username in Profile → Listening services."
	default:
		st.Enabled = true
	}
	if reason != "" {
		st.Reason = &reason
	}
	return st
}
