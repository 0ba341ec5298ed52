package discovery

import (
	"fmt"
	"slices"
)

// SessionState represents the lifecycle of the single discovery session.
// The states form a small state machine:
//
//	idle --start--> running --stop--> stopping --drained--> idle
//	running --connectivity loss--> idle
type SessionState string

const (
	// StateIdle means no run is active. Seeds may be chosen and a run started.
	StateIdle SessionState = "idle"

	// StateRunning means a run is active. Seeds are immutable until the
	// session returns to idle.
	StateRunning SessionState = "running"

	// StateStopping means stop was accepted and in-flight upstream work is
	// draining. No new batches are issued.
	StateStopping SessionState = "stopping"
)

// ValidateTransition reports whether moving from s to target is allowed.
func (s SessionState) ValidateTransition(target SessionState) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid session transition from %s to %s", s, target)
	}
	return nil
}

func (s SessionState) isValidTransition(target SessionState) bool {
	switch s {
	case StateIdle:
		return target == StateRunning
	case StateRunning:
		return target == StateStopping || target == StateIdle
	case StateStopping:
		return target == StateIdle
	default:
		return false
	}
}

// OriginKind identifies where a run's seeds came from.
type OriginKind string

const (
	OriginCatalogue OriginKind = "catalogue"
	OriginPersonal  OriginKind = "personal"
	OriginPrompt    OriginKind = "prompt"
	OriginSearch    OriginKind = "search"
)

// SeedOrigin describes the source of a run's seeds. SourceID is set only for
// the personal origin.
type SeedOrigin struct {
	Kind     OriginKind `json:"kind"`
	SourceID string     `json:"sourceId,omitempty"`
}

// CatalogueOrigin seeds from library artists.
func CatalogueOrigin() SeedOrigin { return SeedOrigin{Kind: OriginCatalogue} }

// PersonalOrigin seeds from a listening-history source such as lastfm.
func PersonalOrigin(sourceID string) SeedOrigin {
	return SeedOrigin{Kind: OriginPersonal, SourceID: sourceID}
}

// PromptOrigin seeds from a free-text prompt.
func PromptOrigin() SeedOrigin { return SeedOrigin{Kind: OriginPrompt} }

// SearchOrigin seeds from the hits of an artist name search.
func SearchOrigin() SeedOrigin { return SeedOrigin{Kind: OriginSearch} }

// Validate checks the origin and whether seeds may be empty for it.
func (o SeedOrigin) Validate(seeds []string) error {
	switch o.Kind {
	case OriginCatalogue:
		if len(seeds) == 0 {
			return NewEmptySeedsError()
		}
	case OriginPersonal:
		if o.SourceID == "" {
			return NewValidationError("personal origin requires a source id")
		}
	case OriginPrompt, OriginSearch:
		if len(seeds) == 0 {
			return NewEmptySeedsError()
		}
	default:
		return NewValidationError("unknown seed origin %q", o.Kind)
	}
	return nil
}

func (o SeedOrigin) String() string {
	if o.SourceID != "" {
		return string(o.Kind) + ":" + o.SourceID
	}
	return string(o.Kind)
}

// Pagination tracks the progress of the initial pass and load-more requests.
type Pagination struct {
	InitialLoadComplete bool `json:"initialLoadComplete"`
	HasMore             bool `json:"hasMore"`
	LoadMorePending     bool `json:"loadMorePending"`
}

// Session is the authoritative discovery run. It is not safe for concurrent
// use; the orchestrator serializes all access.
type Session struct {
	state      SessionState
	seeds      []string
	origin     SeedOrigin
	candidates []Candidate
	index      map[string]int
	excluded   map[string]struct{}
	pagination Pagination

	maxCandidates int
}

// NewSession creates an idle session that will hold at most maxCandidates.
// A non-positive limit means unbounded.
func NewSession(maxCandidates int) *Session {
	return &Session{
		state:         StateIdle,
		index:         make(map[string]int),
		excluded:      make(map[string]struct{}),
		maxCandidates: maxCandidates,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState { return s.state }

// Origin returns the seed origin of the current or most recent run.
func (s *Session) Origin() SeedOrigin { return s.origin }

// Seeds returns a copy of the seed selection.
func (s *Session) Seeds() []string { return slices.Clone(s.seeds) }

// Pagination returns the pagination flags.
func (s *Session) Pagination() Pagination { return s.pagination }

// Len returns the number of candidates in the result buffer.
func (s *Session) Len() int { return len(s.candidates) }

// Candidates returns a copy of the result buffer in discovery order.
func (s *Session) Candidates() []Candidate { return slices.Clone(s.candidates) }

// Candidate looks up a candidate by identity.
func (s *Session) Candidate(identity string) (Candidate, bool) {
	i, ok := s.index[NormalizeIdentity(identity)]
	if !ok {
		return Candidate{}, false
	}
	return s.candidates[i], true
}

// Full reports whether the result buffer reached its cap.
func (s *Session) Full() bool {
	return s.maxCandidates > 0 && len(s.candidates) >= s.maxCandidates
}

// Begin starts a run. Seeds are de-duplicated and the result buffer and
// pagination are reset. For the catalogue origin the seeds themselves are
// excluded from the results.
func (s *Session) Begin(seeds []string, origin SeedOrigin) error {
	if s.state != StateIdle {
		return NewAlreadyRunningError(s.state)
	}
	seeds = DedupeNames(seeds)
	if err := origin.Validate(seeds); err != nil {
		return err
	}

	s.state = StateRunning
	s.seeds = seeds
	s.origin = origin
	s.reset()

	if origin.Kind == OriginCatalogue {
		for _, seed := range seeds {
			s.excluded[NormalizeIdentity(seed)] = struct{}{}
		}
	}
	return nil
}

// ResolveSeeds sets the seeds of a running personal-origin session once they
// have been fetched from the source.
func (s *Session) ResolveSeeds(seeds []string) {
	if s.state != StateRunning || len(s.seeds) > 0 {
		return
	}
	s.seeds = DedupeNames(seeds)
}

// Exclude prevents the given names from ever entering the result buffer.
func (s *Session) Exclude(names []string) {
	for _, n := range names {
		s.excluded[NormalizeIdentity(n)] = struct{}{}
	}
}

// RequestStop moves a running session to stopping. It reports false when the
// session was not running.
func (s *Session) RequestStop() bool {
	if s.state != StateRunning {
		return false
	}
	s.state = StateStopping
	s.pagination.LoadMorePending = false
	return true
}

// Clear returns the session to idle and discards all results.
func (s *Session) Clear() {
	s.state = StateIdle
	s.seeds = nil
	s.reset()
}

// Abandon returns a running session to idle while keeping the results
// already delivered. No more pages will be offered.
func (s *Session) Abandon() {
	s.state = StateIdle
	s.pagination.HasMore = false
	s.pagination.LoadMorePending = false
}

func (s *Session) reset() {
	s.candidates = nil
	s.index = make(map[string]int)
	s.excluded = make(map[string]struct{})
	s.pagination = Pagination{}
}

// MergeResult reports how a batch changed the result buffer.
type MergeResult struct {
	// Appended are the new candidates, in order.
	Appended []Candidate
	// Updated are existing candidates whose similarity improved. Each appears
	// once, with its attributes after the whole batch was merged.
	Updated []Candidate
}

// Merge de-duplicates batch against the result buffer and appends the new
// candidates.
//
// When an identity is already present the first-seen attributes are kept and
// the best non-null similarity wins. Excluded identities are dropped, and
// nothing is appended once the buffer is full.
func (s *Session) Merge(batch []Candidate) MergeResult {
	var (
		res     MergeResult
		touched []int
	)
	fresh := make(map[string]int)
	for _, c := range batch {
		if c.Identity == "" {
			c.Identity = NormalizeIdentity(c.Name)
		}
		if c.Identity == "" {
			continue
		}
		if _, skip := s.excluded[c.Identity]; skip {
			continue
		}
		if i, ok := s.index[c.Identity]; ok {
			if s.raiseSimilarity(i, c.Attributes.SimilarityScore) {
				if j, isNew := fresh[c.Identity]; isNew {
					res.Appended[j] = s.candidates[i]
				} else if !slices.Contains(touched, i) {
					touched = append(touched, i)
				}
			}
			continue
		}
		if s.Full() {
			break
		}
		c.Status = StatusNew
		s.index[c.Identity] = len(s.candidates)
		s.candidates = append(s.candidates, c)
		fresh[c.Identity] = len(res.Appended)
		res.Appended = append(res.Appended, c)
	}
	for _, i := range touched {
		res.Updated = append(res.Updated, s.candidates[i])
	}
	return res
}

// raiseSimilarity folds score into the candidate at i and reports whether its
// similarity changed.
func (s *Session) raiseSimilarity(i int, score *float64) bool {
	existing := &s.candidates[i]
	prev := existing.Attributes.SimilarityScore
	best := mergeSimilarity(prev, score)
	existing.Attributes.SimilarityScore, existing.Attributes.Similarity = NormalizeSimilarity(best)
	next := existing.Attributes.SimilarityScore
	switch {
	case prev == nil && next == nil:
		return false
	case prev == nil || next == nil:
		return true
	default:
		return *prev != *next
	}
}

// SetStatus records a new status for the identity. It reports false when the
// identity is unknown.
func (s *Session) SetStatus(identity string, status CandidateStatus) bool {
	i, ok := s.index[NormalizeIdentity(identity)]
	if !ok {
		return false
	}
	s.candidates[i].Status = status
	return true
}

// CompleteInitialLoad marks the initial pass done.
func (s *Session) CompleteInitialLoad(hasMore bool) {
	s.pagination.InitialLoadComplete = true
	s.pagination.HasMore = hasMore && !s.Full()
}

// BeginLoadMore gates a load-more request. It fails with NotReady before the
// initial pass completes and with AlreadyPending while another is in flight.
func (s *Session) BeginLoadMore() error {
	if s.state != StateRunning || !s.pagination.InitialLoadComplete {
		return newNotReadyError()
	}
	if s.pagination.LoadMorePending {
		return newAlreadyPendingError()
	}
	s.pagination.LoadMorePending = true
	return nil
}

// CompleteLoadMore clears the pending flag and records whether more pages
// remain.
func (s *Session) CompleteLoadMore(hasMore bool) {
	s.pagination.LoadMorePending = false
	s.pagination.HasMore = hasMore && !s.Full()
}

// Snapshot returns a copy of the session suitable for late joiners.
func (s *Session) Snapshot() SessionSnapshot {
	snap := SessionSnapshot{
		State:      s.state,
		Origin:     s.origin,
		Seeds:      s.Seeds(),
		Candidates: s.Candidates(),
		Pagination: s.pagination,
	}
	if snap.Seeds == nil {
		snap.Seeds = []string{}
	}
	if snap.Candidates == nil {
		snap.Candidates = []Candidate{}
	}
	return snap
}

// SessionSnapshot is a point-in-time copy of the session.
type SessionSnapshot struct {
	State      SessionState `json:"state"`
	Origin     SeedOrigin   `json:"origin"`
	Seeds      []string     `json:"seeds"`
	Candidates []Candidate  `json:"candidates"`
	Pagination Pagination   `json:"pagination"`
}
