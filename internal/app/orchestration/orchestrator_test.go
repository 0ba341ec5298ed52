package orchestration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/sonolive/internal/app/inflight"
	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/internal/domain/events"
)

func TestStart_AppliesBatchesInOrder(t *testing.T) {
	h := newHarness(t, testConfig())

	release := make(chan struct{})
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("A", 0)).
		Run(func(mock.Arguments) { <-release }).
		Return(result(false, "A1"), nil)
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("B", 0)).Return(result(false, "B1"), nil)
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("C", 0)).Return(result(false, "C1"), nil)

	require.NoError(t, h.orch.Start(context.Background(), StartRequest{
		Seeds:     []string{"A", "B", "C"},
		Origin:    discovery.CatalogueOrigin(),
		Requester: requester("c1", discovery.RoleAdmin),
	}))

	require.Eventually(t, func() bool { return h.expander.calls.Load() == 3 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, h.pub.ofType(events.EventTypeCandidatesAppended), "later batches must wait for the first")
	close(release)

	h.pub.waitFor(t, events.EventTypeInitialLoadComplete, 1)

	assert.Equal(t, []string{"A1", "B1", "C1"}, appendedNames(h.pub.ofType(events.EventTypeCandidatesAppended)))
	assert.Equal(t, []events.EventType{
		events.EventTypeSessionStateUpdate,
		events.EventTypeCandidatesAppended,
		events.EventTypeCandidatesAppended,
		events.EventTypeCandidatesAppended,
		events.EventTypeInitialLoadComplete,
		events.EventTypeSessionStateUpdate,
	}, h.pub.types())

	var prev uint64
	for _, e := range h.pub.all() {
		assert.Equal(t, prev+1, e.Seq, "sequence numbers must be contiguous")
		prev = e.Seq
	}
}

func TestStart_Validation(t *testing.T) {
	tests := []struct {
		name    string
		seeds   []string
		origin  discovery.SeedOrigin
		wantErr error
	}{
		{
			name:    "catalogue without seeds",
			origin:  discovery.CatalogueOrigin(),
			wantErr: discovery.ErrEmptySeeds,
		},
		{
			name:    "personal without source",
			origin:  discovery.SeedOrigin{Kind: discovery.OriginPersonal},
			wantErr: discovery.ErrValidation,
		},
		{
			name:    "unknown origin",
			seeds:   []string{"A"},
			origin:  discovery.SeedOrigin{Kind: "radio"},
			wantErr: discovery.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig())
			err := h.orch.Start(context.Background(), StartRequest{Seeds: tt.seeds, Origin: tt.origin})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, h.pub.all())
		})
	}
}

func TestStart_RejectedWhileRunning(t *testing.T) {
	h := newHarness(t, testConfig())
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("A", 0)).Return(result(true, "A1"), nil)
	h.startWith(t, "A")

	err := h.orch.Start(context.Background(), StartRequest{Seeds: []string{"B"}, Origin: discovery.CatalogueOrigin()})
	require.Error(t, err)
	assert.ErrorIs(t, err, discovery.ErrAlreadyRunning)
	assert.ErrorIs(t, err, discovery.ErrStateConflict)
}

func TestStart_DeduplicatesAcrossBatches(t *testing.T) {
	h := newHarness(t, testConfig())
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("A", 0)).Return(result(false, "Shared", "Only A"), nil)
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("B", 0)).Return(result(false, "shared", "Only B"), nil)

	h.startWith(t, "A", "B")

	assert.Equal(t, []string{"Shared", "Only A", "Only B"}, appendedNames(h.pub.ofType(events.EventTypeCandidatesAppended)))
	snap, err := h.orch.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Candidates, 3)
}

func TestStart_RaisedSimilarityIsPublished(t *testing.T) {
	h := newHarness(t, testConfig())
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("A", 0)).
		Return(discovery.ExpandResult{Candidates: []discovery.Candidate{similar("Mogwai", 0.2)}}, nil)
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("B", 0)).
		Return(discovery.ExpandResult{Candidates: []discovery.Candidate{similar("mogwai", 0.9), similar("Low", 0.5)}}, nil)

	h.startWith(t, "A", "B")

	assert.Equal(t, []events.EventType{
		events.EventTypeSessionStateUpdate,
		events.EventTypeCandidatesAppended,
		events.EventTypeCandidatesUpdated,
		events.EventTypeCandidatesAppended,
		events.EventTypeInitialLoadComplete,
		events.EventTypeSessionStateUpdate,
	}, h.pub.types())

	updated := h.pub.ofType(events.EventTypeCandidatesUpdated)
	require.Len(t, updated, 1)
	assert.True(t, updated[0].Broadcast())
	payload := updated[0].Payload.(discovery.CandidatesUpdated)
	require.Len(t, payload.Candidates, 1)
	assert.Equal(t, "mogwai", payload.Candidates[0].Identity)
	assert.Equal(t, "Similarity: 90.0%", payload.Candidates[0].Attributes.Similarity)
	assert.Equal(t, []string{"Mogwai", "Low"}, appendedNames(h.pub.ofType(events.EventTypeCandidatesAppended)))

	snap, err := h.orch.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Candidates, 2)
	assert.Equal(t, payload.Candidates[0], snap.Candidates[0])
}

func TestStart_ExcludesLibraryAndSeeds(t *testing.T) {
	h := newHarness(t, testConfig())
	h.catalogue.set("In Library")
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("A", 0)).
		Return(result(false, "A", "In Library", "Fresh"), nil)

	h.startWith(t, "A")

	assert.Equal(t, []string{"Fresh"}, appendedNames(h.pub.ofType(events.EventTypeCandidatesAppended)))
}

func TestStart_RespectsCandidateCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCandidates = 2
	h := newHarness(t, cfg)
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("A", 0)).Return(result(true, "X", "Y", "Z"), nil)

	h.startWith(t, "A")

	snap, err := h.orch.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Candidates, 2)
	assert.False(t, snap.Pagination.HasMore)
}

func TestStart_EmptyResultRaisesNotice(t *testing.T) {
	h := newHarness(t, testConfig())
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("A", 0)).Return(result(false), nil)

	h.startWith(t, "A")

	notices := h.pub.ofType(events.EventTypeGenericNotice)
	require.Len(t, notices, 1)
	assert.Equal(t, "No results", notices[0].Payload.(discovery.GenericNotice).Title)
	assert.True(t, notices[0].Broadcast())
}

func TestStop_DiscardsInFlightResults(t *testing.T) {
	h := newHarness(t, testConfig())

	release := make(chan struct{})
	h.expander.On("ExpandSeeds", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(result(true, "Late"), nil)

	require.NoError(t, h.orch.Start(context.Background(), StartRequest{
		Seeds:  []string{"A", "B"},
		Origin: discovery.CatalogueOrigin(),
	}))
	require.Eventually(t, func() bool { return h.expander.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.orch.Stop(context.Background(), discovery.Requester{}))
	stopIdx := len(h.pub.all())

	st, err := h.orch.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, discovery.StateStopping, st)

	close(release)
	h.pub.waitFor(t, events.EventTypeSessionCleared, 1)
	h.waitState(t, discovery.StateIdle)

	assert.Empty(t, h.pub.ofType(events.EventTypeCandidatesAppended))
	assert.Empty(t, h.pub.ofType(events.EventTypeInitialLoadComplete))

	all := h.pub.all()
	var candidateEvents []events.EventType
	for _, e := range all[stopIdx:] {
		if e.Type.CandidateEvent() {
			candidateEvents = append(candidateEvents, e.Type)
		}
	}
	assert.Equal(t, []events.EventType{events.EventTypeSessionCleared}, candidateEvents)

	last := all[len(all)-1]
	require.Equal(t, events.EventTypeSessionStateUpdate, last.Type)
	assert.Equal(t, discovery.StateIdle, last.Payload.(discovery.SessionStateUpdate).State)

	snap, err := h.orch.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Candidates)
}

func TestStop_IdleIsNoop(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.orch.Stop(context.Background(), discovery.Requester{}))
	require.NoError(t, h.orch.Stop(context.Background(), discovery.Requester{}))
	assert.Empty(t, h.pub.all())
}

func TestStop_IdleAnswersRequester(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.orch.Stop(context.Background(), requester("c3", discovery.RoleUser)))

	updates := h.pub.waitFor(t, events.EventTypeSessionStateUpdate, 1)
	require.Len(t, h.pub.all(), 1)
	assert.Equal(t, "c3", updates[0].Target)
	assert.Equal(t, discovery.StateIdle, updates[0].Payload.(discovery.SessionStateUpdate).State)
	assert.Empty(t, h.pub.ofType(events.EventTypeSessionCleared))
}

func TestLoadMore(t *testing.T) {
	h := newHarness(t, testConfig())
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("A", 0)).Return(result(true, "A1"), nil)
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("A", 1)).Return(result(false, "A2"), nil)
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("B", 0)).Return(result(false, "B1"), nil)

	h.startWith(t, "A", "B")
	initial := h.pub.ofType(events.EventTypeInitialLoadComplete)
	assert.True(t, initial[0].Payload.(discovery.LoadComplete).HasMore)

	require.NoError(t, h.orch.LoadMore(context.Background(), discovery.Requester{}))
	done := h.pub.waitFor(t, events.EventTypeLoadMoreComplete, 1)
	assert.False(t, done[0].Payload.(discovery.LoadComplete).HasMore)
	assert.Equal(t, []string{"A1", "B1", "A2"}, appendedNames(h.pub.ofType(events.EventTypeCandidatesAppended)))

	// Exhausted: completes immediately without calling the expander.
	require.NoError(t, h.orch.LoadMore(context.Background(), discovery.Requester{}))
	done = h.pub.waitFor(t, events.EventTypeLoadMoreComplete, 2)
	assert.False(t, done[1].Payload.(discovery.LoadComplete).HasMore)
	h.expander.AssertNotCalled(t, "ExpandSeeds", mock.Anything, forSeed("A", 2))
	h.expander.AssertNotCalled(t, "ExpandSeeds", mock.Anything, forSeed("B", 1))
}

func TestLoadMore_Gating(t *testing.T) {
	h := newHarness(t, testConfig())

	initial := make(chan struct{})
	more := make(chan struct{})
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("A", 0)).
		Run(func(mock.Arguments) { <-initial }).
		Return(result(true, "A1"), nil)
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("A", 1)).
		Run(func(mock.Arguments) { <-more }).
		Return(result(false, "A2"), nil)

	err := h.orch.LoadMore(context.Background(), discovery.Requester{})
	assert.ErrorIs(t, err, discovery.ErrNotReady, "idle session")

	require.NoError(t, h.orch.Start(context.Background(), StartRequest{
		Seeds:  []string{"A"},
		Origin: discovery.CatalogueOrigin(),
	}))
	err = h.orch.LoadMore(context.Background(), discovery.Requester{})
	assert.ErrorIs(t, err, discovery.ErrNotReady, "initial pass pending")

	close(initial)
	h.pub.waitFor(t, events.EventTypeInitialLoadComplete, 1)

	require.NoError(t, h.orch.LoadMore(context.Background(), discovery.Requester{}))
	err = h.orch.LoadMore(context.Background(), discovery.Requester{})
	assert.ErrorIs(t, err, discovery.ErrAlreadyPending)

	close(more)
	h.pub.waitFor(t, events.EventTypeLoadMoreComplete, 1)
	h.expander.AssertNumberOfCalls(t, "ExpandSeeds", 2)
}

func TestConnectivityLoss_AbandonsRunAndKeepsResults(t *testing.T) {
	h := newHarness(t, testConfig())
	unreachable := discovery.NewConnectivityError("lastfm.similar", errors.New("dial tcp: connection refused"))
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("A", 0)).Return(result(true, "A1"), nil)
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("B", 0)).Return(discovery.ExpandResult{}, unreachable)
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("C", 0)).Return(discovery.ExpandResult{}, unreachable)

	require.NoError(t, h.orch.Start(context.Background(), StartRequest{
		Seeds:  []string{"A", "B", "C"},
		Origin: discovery.CatalogueOrigin(),
	}))

	notices := h.pub.waitFor(t, events.EventTypeGenericNotice, 1)
	assert.Equal(t, "Connection lost", notices[0].Payload.(discovery.GenericNotice).Title)
	h.waitState(t, discovery.StateIdle)

	assert.Empty(t, h.pub.ofType(events.EventTypeSessionCleared))
	assert.Empty(t, h.pub.ofType(events.EventTypeInitialLoadComplete))

	snap, err := h.orch.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Candidates, 1)
	assert.Equal(t, "A1", snap.Candidates[0].Name)
	assert.False(t, snap.Pagination.HasMore)

	// A new run discards the retained results first.
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("D", 0)).Return(result(false, "D1"), nil)
	h.startWith(t, "D")
	assert.Len(t, h.pub.ofType(events.EventTypeSessionCleared), 1)
}

func TestConnectivityLoss_ResetByHealthyBatch(t *testing.T) {
	h := newHarness(t, testConfig())
	unreachable := discovery.NewConnectivityError("lastfm.similar", errors.New("no such host"))
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("A", 0)).Return(discovery.ExpandResult{}, unreachable)
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("B", 0)).Return(result(false, "B1"), nil)
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("C", 0)).Return(discovery.ExpandResult{}, unreachable)

	h.startWith(t, "A", "B", "C")

	st, err := h.orch.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, discovery.StateRunning, st)
}

func TestAddToLibrary_DeduplicatesInFlight(t *testing.T) {
	h := newHarness(t, testConfig())
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("A", 0)).Return(result(false, "A1"), nil)
	h.startWith(t, "A")

	release := make(chan struct{})
	h.actions.On("ApplyAction", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(discovery.StatusAdded, nil)

	admin := requester("c1", discovery.RoleAdmin)
	require.NoError(t, h.orch.AddToLibrary(context.Background(), admin, "A1"))
	require.NoError(t, h.orch.AddToLibrary(context.Background(), admin, "a1"))
	close(release)

	changed := h.pub.waitFor(t, events.EventTypeCandidateStatusChanged, 1)
	h.actions.AssertNumberOfCalls(t, "ApplyAction", 1)

	payload := changed[0].Payload.(discovery.CandidateStatusChanged)
	assert.Equal(t, "a1", payload.Identity)
	assert.Equal(t, discovery.StatusAdded, payload.Status)
	assert.Equal(t, "Added", payload.Label)
	assert.True(t, changed[0].Broadcast())

	err := h.orch.AddToLibrary(context.Background(), admin, "A1")
	assert.ErrorIs(t, err, discovery.ErrTerminalStatus)
}

func TestAddToLibrary_OutcomeStaysWithItsRun(t *testing.T) {
	h := newHarness(t, testConfig())
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("A", 0)).Return(result(false, "Shared"), nil)
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("B", 0)).Return(result(false, "Shared"), nil)
	h.startWith(t, "A")

	started := make(chan struct{})
	release := make(chan struct{})
	h.actions.On("ApplyAction", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(discovery.StatusAdded, nil).Once()

	require.NoError(t, h.orch.AddToLibrary(context.Background(), requester("c1", discovery.RoleAdmin), "Shared"))
	<-started

	require.NoError(t, h.orch.Stop(context.Background(), requester("c1", discovery.RoleAdmin)))
	h.pub.waitFor(t, events.EventTypeSessionCleared, 1)
	h.waitState(t, discovery.StateIdle)
	h.startWith(t, "B")

	close(release)
	key := inflight.NewKey(discovery.ActionAddToLibrary, "shared")
	require.Eventually(t, func() bool {
		_, held := h.orch.pending.Holder(key)
		return !held
	}, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, h.pub.ofType(events.EventTypeCandidateStatusChanged))
	snap, err := h.orch.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Candidates, 1)
	assert.Equal(t, discovery.StatusNew, snap.Candidates[0].Status)
}

func TestAddToLibrary_UnknownCandidate(t *testing.T) {
	h := newHarness(t, testConfig())
	err := h.orch.AddToLibrary(context.Background(), requester("c1", discovery.RoleAdmin), "nobody")
	assert.ErrorIs(t, err, discovery.ErrUnknownCandidate)
	h.actions.AssertNotCalled(t, "ApplyAction", mock.Anything, mock.Anything)
}

func TestAddToLibrary_FailureIsScopedToRequester(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus discovery.CandidateStatus
	}{
		{
			name:       "invalid root folder",
			err:        discovery.NewStatusError("lidarr.add", discovery.StatusInvalidTarget, errors.New("Invalid Path")),
			wantStatus: discovery.StatusInvalidTarget,
		},
		{
			name:       "transient failure",
			err:        discovery.NewTransientError("lidarr.add", errors.New("502 bad gateway")),
			wantStatus: discovery.StatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig())
			h.expander.On("ExpandSeeds", mock.Anything, forSeed("A", 0)).Return(result(false, "A1"), nil)
			h.startWith(t, "A")

			h.actions.On("ApplyAction", mock.Anything, mock.Anything).Return(discovery.StatusNew, tt.err)
			require.NoError(t, h.orch.AddToLibrary(context.Background(), requester("c7", discovery.RoleAdmin), "A1"))

			errs := h.pub.waitFor(t, events.EventTypeActionError, 1)
			assert.Equal(t, "c7", errs[0].Target)
			payload := errs[0].Payload.(discovery.ActionError)
			assert.Equal(t, discovery.ActionAddToLibrary, payload.ActionKind)
			assert.Equal(t, "a1", payload.Identity)

			changed := h.pub.ofType(events.EventTypeCandidateStatusChanged)
			require.Len(t, changed, 1)
			assert.Equal(t, tt.wantStatus, changed[0].Payload.(discovery.CandidateStatusChanged).Status)
		})
	}
}

func TestRequestArtist_NotifiesRequester(t *testing.T) {
	h := newHarness(t, testConfig())
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("A", 0)).Return(result(false, "A1"), nil)
	h.startWith(t, "A")

	h.actions.On("ApplyAction", mock.Anything, mock.MatchedBy(func(r discovery.ActionRequest) bool {
		return r.Kind == discovery.ActionRequestArtist && r.Candidate.Name == "A1"
	})).Return(discovery.StatusRequested, nil)

	require.NoError(t, h.orch.RequestArtist(context.Background(), requester("c2", discovery.RoleUser), "A1"))

	notices := h.pub.waitFor(t, events.EventTypeGenericNotice, 1)
	assert.Equal(t, "c2", notices[0].Target)
	assert.Equal(t, "Request Submitted", notices[0].Payload.(discovery.GenericNotice).Title)

	snap, err := h.orch.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, discovery.StatusRequested, snap.Candidates[0].Status)
}

func TestPersonalOrigin_ResolvesSeeds(t *testing.T) {
	h := newHarness(t, testConfig())
	h.personal.On("PersonalSeeds", mock.Anything, discovery.SourceLastFM).Return([]string{"A", "a"}, nil)
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("A", 0)).Return(result(false, "A1"), nil)

	require.NoError(t, h.orch.Start(context.Background(), StartRequest{
		Origin:    discovery.PersonalOrigin(discovery.SourceLastFM),
		Requester: requester("c1", discovery.RoleUser),
	}))
	h.pub.waitFor(t, events.EventTypeInitialLoadComplete, 1)

	snap, err := h.orch.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, snap.Seeds)
	assert.Equal(t, discovery.OriginPersonal, snap.Origin.Kind)
	require.Len(t, snap.Candidates, 1)
}

func TestPersonalOrigin_NoHistoryReturnsToIdle(t *testing.T) {
	h := newHarness(t, testConfig())
	h.personal.On("PersonalSeeds", mock.Anything, discovery.SourceListenBrainz).Return(nil, nil)

	require.NoError(t, h.orch.Start(context.Background(), StartRequest{
		Origin:    discovery.PersonalOrigin(discovery.SourceListenBrainz),
		Requester: requester("c3", discovery.RoleUser),
	}))

	errs := h.pub.waitFor(t, events.EventTypeActionError, 1)
	assert.Equal(t, "c3", errs[0].Target)
	assert.Equal(t, discovery.ActionStart, errs[0].Payload.(discovery.ActionError).ActionKind)
	h.waitState(t, discovery.StateIdle)
	h.expander.AssertNotCalled(t, "ExpandSeeds", mock.Anything, mock.Anything)
}

func TestPollPersonalSources_Coalesces(t *testing.T) {
	h := newHarness(t, testConfig())

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.personal.On("SourceIDs").Return([]string{discovery.SourceLastFM})
	h.personal.On("FetchPersonalSourceState", mock.Anything, discovery.SourceLastFM).
		Run(func(mock.Arguments) {
			once.Do(func() { close(started) })
			<-release
		}).
		Return(discovery.NewPersonalSourceState(discovery.SourceLastFM, true, "listener"), nil)

	var wg sync.WaitGroup
	results := make([]discovery.PersonalSources, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.orch.PollPersonalSources(context.Background(), requester("c1", discovery.RoleUser))
			assert.NoError(t, err)
			results[i] = res
		}()
		if i == 0 {
			<-started
		}
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	h.personal.AssertNumberOfCalls(t, "FetchPersonalSourceState", 1)
	assert.Equal(t, results[0], results[1])
	assert.True(t, results[0][discovery.SourceLastFM].Enabled)

	updates := h.pub.ofType(events.EventTypePersonalSourceState)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].Broadcast())

	snap, err := h.orch.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.PersonalSources[discovery.SourceLastFM].Enabled)
}

func TestPollPersonalSources_FailureMarksSourceUnavailable(t *testing.T) {
	h := newHarness(t, testConfig())
	h.personal.On("SourceIDs").Return([]string{discovery.SourceListenBrainz})
	h.personal.On("FetchPersonalSourceState", mock.Anything, discovery.SourceListenBrainz).
		Return(discovery.PersonalSourceState{}, errors.New("timeout"))

	res, err := h.orch.PollPersonalSources(context.Background(), requester("c1", discovery.RoleUser))
	require.NoError(t, err)
	st := res[discovery.SourceListenBrainz]
	assert.False(t, st.Enabled)
	require.NotNil(t, st.Reason)
}

func TestFetchPreview_ScopedToRequester(t *testing.T) {
	h := newHarness(t, testConfig())
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("A", 0)).Return(result(false, "Björk"), nil)
	h.startWith(t, "A")

	h.previewer.On("FetchPreview", mock.Anything, "Björk").
		Return(discovery.Preview{ArtistName: "Björk", Biography: "Icelandic."}, nil)

	preview, err := h.orch.FetchPreview(context.Background(), requester("c9", discovery.RoleUser), "bjork")
	require.NoError(t, err)
	assert.Equal(t, "bjork", preview.Identity)
	assert.Equal(t, "Icelandic.", preview.Biography)

	results := h.pub.waitFor(t, events.EventTypePreviewResult, 1)
	assert.Equal(t, "c9", results[0].Target)
}

func TestFetchSample_ArtistOutsideRun(t *testing.T) {
	h := newHarness(t, testConfig())
	h.previewer.On("FetchSample", mock.Anything, "Some Artist").
		Return(discovery.Sample{Source: "itunes", Track: "Song", Artist: "Some Artist"}, nil)

	sample, err := h.orch.FetchSample(context.Background(), requester("c1", discovery.RoleUser), "Some Artist")
	require.NoError(t, err)
	assert.Equal(t, "itunes", sample.Source)
	assert.Equal(t, "some artist", sample.Identity)

	_, err = h.orch.FetchSample(context.Background(), requester("c1", discovery.RoleUser), "  ")
	assert.ErrorIs(t, err, discovery.ErrValidation)
}

func TestPromptSeed(t *testing.T) {
	t.Run("empty prompt", func(t *testing.T) {
		h := newHarness(t, testConfig(), WithPromptSeeder(new(mockPrompter)))
		err := h.orch.PromptSeed(context.Background(), requester("c1", discovery.RoleUser), "   ")
		assert.ErrorIs(t, err, discovery.ErrEmptyPrompt)
	})

	t.Run("not configured", func(t *testing.T) {
		h := newHarness(t, testConfig())
		err := h.orch.PromptSeed(context.Background(), requester("c1", discovery.RoleUser), "dreamy shoegaze")
		assert.ErrorIs(t, err, discovery.ErrNotConfigured)
	})

	t.Run("skips library artists and starts", func(t *testing.T) {
		prompter := new(mockPrompter)
		h := newHarness(t, testConfig(), WithPromptSeeder(prompter))
		h.catalogue.set("Slowdive")
		prompter.On("GenerateSeeds", mock.Anything, "dreamy shoegaze", []string{"Slowdive"}).
			Return([]string{"Slowdive", "Ride"}, nil)
		h.expander.On("ExpandSeeds", mock.Anything, forSeed("Ride", 0)).Return(result(false, "Lush"), nil)

		require.NoError(t, h.orch.PromptSeed(context.Background(), requester("c4", discovery.RoleUser), "dreamy shoegaze"))
		h.pub.waitFor(t, events.EventTypeInitialLoadComplete, 1)

		acks := h.pub.ofType(events.EventTypePromptAck)
		require.Len(t, acks, 1)
		assert.Equal(t, "c4", acks[0].Target)
		assert.Equal(t, []string{"Ride"}, acks[0].Payload.(discovery.PromptAck).Seeds)

		notices := h.pub.ofType(events.EventTypeGenericNotice)
		require.Len(t, notices, 1)
		assert.Equal(t, "Skipping known artists", notices[0].Payload.(discovery.GenericNotice).Title)

		snap, err := h.orch.Snapshot(context.Background())
		require.NoError(t, err)
		assert.Equal(t, discovery.OriginPrompt, snap.Origin.Kind)
		assert.Equal(t, []string{"Ride"}, snap.Seeds)
	})

	t.Run("only known artists", func(t *testing.T) {
		prompter := new(mockPrompter)
		h := newHarness(t, testConfig(), WithPromptSeeder(prompter))
		h.catalogue.set("Slowdive")
		prompter.On("GenerateSeeds", mock.Anything, mock.Anything, mock.Anything).Return([]string{"slowdive"}, nil)

		err := h.orch.PromptSeed(context.Background(), requester("c4", discovery.RoleUser), "more slowdive")
		assert.ErrorIs(t, err, discovery.ErrValidation)
		h.expander.AssertNotCalled(t, "ExpandSeeds", mock.Anything, mock.Anything)
	})
}

func TestPromptSeed_PendingFromAnotherConnection(t *testing.T) {
	prompter := new(mockPrompter)
	h := newHarness(t, testConfig(), WithPromptSeeder(prompter))

	started := make(chan struct{})
	release := make(chan struct{})
	prompter.On("GenerateSeeds", mock.Anything, "ambient", mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return([]string{"Stars of the Lid"}, nil).Once()
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("Stars of the Lid", 0)).Return(result(false, "Eluvium"), nil)

	first := make(chan error, 1)
	go func() {
		first <- h.orch.PromptSeed(context.Background(), requester("c1", discovery.RoleUser), "ambient")
	}()
	<-started

	err := h.orch.PromptSeed(context.Background(), requester("c2", discovery.RoleUser), "ambient")
	require.Error(t, err)
	assert.ErrorIs(t, err, discovery.ErrAlreadyPending)
	assert.Contains(t, err.Error(), "prompt")

	assert.NoError(t, h.orch.PromptSeed(context.Background(), requester("c1", discovery.RoleUser), "ambient"),
		"a repeat from the same connection is absorbed")

	close(release)
	require.NoError(t, <-first)
	h.pub.waitFor(t, events.EventTypeInitialLoadComplete, 1)
	prompter.AssertNumberOfCalls(t, "GenerateSeeds", 1)
}

func TestSearchSeed(t *testing.T) {
	t.Run("empty query", func(t *testing.T) {
		h := newHarness(t, testConfig(), WithArtistSearcher(new(mockSearcher)))
		err := h.orch.SearchSeed(context.Background(), requester("c1", discovery.RoleUser), " ")
		assert.ErrorIs(t, err, discovery.ErrEmptyQuery)
	})

	t.Run("not configured", func(t *testing.T) {
		h := newHarness(t, testConfig())
		err := h.orch.SearchSeed(context.Background(), requester("c1", discovery.RoleUser), "mogwai")
		assert.ErrorIs(t, err, discovery.ErrNotConfigured)
	})

	t.Run("no hits", func(t *testing.T) {
		searcher := new(mockSearcher)
		h := newHarness(t, testConfig(), WithArtistSearcher(searcher))
		searcher.On("SearchSeeds", mock.Anything, "zzzz").Return(nil, nil)

		err := h.orch.SearchSeed(context.Background(), requester("c1", discovery.RoleUser), "zzzz")
		assert.ErrorIs(t, err, discovery.ErrValidation)
		assert.Empty(t, h.pub.all())
	})

	t.Run("skips library artists and starts", func(t *testing.T) {
		searcher := new(mockSearcher)
		h := newHarness(t, testConfig(), WithArtistSearcher(searcher))
		h.catalogue.set("Mogwai", "Low")
		searcher.On("SearchSeeds", mock.Anything, "mogwai").
			Return([]string{"Mogwai", "low", "Mogwai Fear Satan"}, nil)
		h.expander.On("ExpandSeeds", mock.Anything, forSeed("Mogwai Fear Satan", 0)).Return(result(false, "Explosions in the Sky"), nil)

		require.NoError(t, h.orch.SearchSeed(context.Background(), requester("c6", discovery.RoleUser), " mogwai "))
		h.pub.waitFor(t, events.EventTypeInitialLoadComplete, 1)

		acks := h.pub.ofType(events.EventTypeSearchAck)
		require.Len(t, acks, 1)
		assert.Equal(t, "c6", acks[0].Target)
		assert.Equal(t, discovery.SearchAck{Query: "mogwai", Seeds: []string{"Mogwai Fear Satan"}}, acks[0].Payload)

		notices := h.pub.ofType(events.EventTypeGenericNotice)
		require.Len(t, notices, 1)
		assert.Equal(t, "c6", notices[0].Target)
		assert.Equal(t, "2 MusicBrainz suggestions are already in your library.",
			notices[0].Payload.(discovery.GenericNotice).Message)

		snap, err := h.orch.Snapshot(context.Background())
		require.NoError(t, err)
		assert.Equal(t, discovery.OriginSearch, snap.Origin.Kind)
		assert.Equal(t, []string{"Mogwai Fear Satan"}, snap.Seeds)
	})
}

func TestListLibrary_SortedAndScoped(t *testing.T) {
	h := newHarness(t, testConfig())
	h.catalogue.set("beach house", "Air", "Cocteau Twins")

	artists, err := h.orch.ListLibrary(context.Background(), requester("c5", discovery.RoleUser))
	require.NoError(t, err)
	assert.Equal(t, []string{"Air", "beach house", "Cocteau Twins"}, artists)

	evts := h.pub.waitFor(t, events.EventTypeLibraryArtists, 1)
	assert.Equal(t, "c5", evts[0].Target)
}

func TestSnapshot_SeqMatchesLastEvent(t *testing.T) {
	h := newHarness(t, testConfig())
	h.expander.On("ExpandSeeds", mock.Anything, forSeed("A", 0)).Return(result(true, "A1", "A2"), nil)
	h.startWith(t, "A")

	snap, err := h.orch.Snapshot(context.Background())
	require.NoError(t, err)

	all := h.pub.all()
	assert.Equal(t, all[len(all)-1].Seq, snap.Seq)
	assert.Equal(t, discovery.StateRunning, snap.State)
	assert.True(t, snap.Pagination.InitialLoadComplete)
	assert.True(t, snap.Pagination.HasMore)
	assert.Len(t, snap.Candidates, 2)
}

func TestRun_Twice(t *testing.T) {
	h := newHarness(t, testConfig())
	_, err := h.orch.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestCommands_AfterShutdown(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	o := NewOrchestrator(testConfig(), h.expander, h.actions, h.personal, h.previewer, h.catalogue, h.pub,
		h.orch.logger, h.orch.metrics, h.orch.tracer)
	done, err := o.Run(ctx)
	require.NoError(t, err)
	cancel()
	<-done

	_, err = o.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrOrchestratorStopped)
}

func TestChunkSeeds(t *testing.T) {
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, chunkSeeds([]string{"a", "b", "c"}, 2))
	assert.Equal(t, [][]string{{"a"}}, chunkSeeds([]string{"a"}, 10))
	assert.Nil(t, chunkSeeds(nil, 10))
}
