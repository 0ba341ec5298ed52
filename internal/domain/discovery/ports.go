package discovery

import "context"

// ExpandRequest asks an expander to turn one batch of seeds into candidates.
// Page 0 is the initial pass; load-more requests advance Page.
type ExpandRequest struct {
	Seeds  []string
	Origin SeedOrigin
	Page   int
}

// ExpandResult is one page of candidates for a seed batch.
type ExpandResult struct {
	Candidates []Candidate
	// HasMore reports whether a further page exists for the same seeds.
	HasMore bool
}

// SeedExpander turns seeds into candidate artists.
type SeedExpander interface {
	ExpandSeeds(ctx context.Context, req ExpandRequest) (ExpandResult, error)
}

// ActionRequest describes a side effect to apply to a candidate.
type ActionRequest struct {
	Kind      ActionKind
	Candidate Candidate
	Requester Requester
}

// ActionApplier performs add/request side effects and reports the status the
// candidate should take. Failures are returned as *AdapterError.
type ActionApplier interface {
	ApplyAction(ctx context.Context, req ActionRequest) (CandidateStatus, error)
}

// PersonalSourceProvider reports availability of, and resolves seeds from,
// personal listening-history sources.
type PersonalSourceProvider interface {
	// SourceIDs lists the sources this provider knows about.
	SourceIDs() []string
	FetchPersonalSourceState(ctx context.Context, sourceID string) (PersonalSourceState, error)
	PersonalSeeds(ctx context.Context, sourceID string) ([]string, error)
}

// Preview is the biography shown when a user opens a candidate.
type Preview struct {
	Identity   string `json:"identity"`
	ArtistName string `json:"artistName"`
	Biography  string `json:"biography"`
}

// Sample is a playable snippet for a candidate.
type Sample struct {
	Identity   string `json:"identity"`
	Source     string `json:"source"`
	VideoID    string `json:"videoId,omitempty"`
	PreviewURL string `json:"previewUrl,omitempty"`
	Track      string `json:"track"`
	Artist     string `json:"artist"`
}

// Previewer supplies enrichment that does not alter session state.
type Previewer interface {
	FetchPreview(ctx context.Context, name string) (Preview, error)
	FetchSample(ctx context.Context, name string) (Sample, error)
}

// PromptSeeder turns a free-text prompt into seed artist names.
type PromptSeeder interface {
	GenerateSeeds(ctx context.Context, prompt string, library []string) ([]string, error)
}

// ArtistSearcher finds artists whose names match a free-text query.
type ArtistSearcher interface {
	SearchSeeds(ctx context.Context, query string) ([]string, error)
}

// Catalogue lists the artists already in the user's library.
type Catalogue interface {
	ListArtists(ctx context.Context) ([]string, error)
}
