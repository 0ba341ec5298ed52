package orchestration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/internal/domain/events"
	"github.com/ahrav/sonolive/pkg/common/logger"
)

// mockExpander implements discovery.SeedExpander for testing.
type mockExpander struct {
	mock.Mock
	calls atomic.Int32
}

func (m *mockExpander) ExpandSeeds(ctx context.Context, req discovery.ExpandRequest) (discovery.ExpandResult, error) {
	m.calls.Add(1)
	args := m.Called(ctx, req)
	return args.Get(0).(discovery.ExpandResult), args.Error(1)
}

// mockActions implements discovery.ActionApplier for testing.
type mockActions struct{ mock.Mock }

func (m *mockActions) ApplyAction(ctx context.Context, req discovery.ActionRequest) (discovery.CandidateStatus, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(discovery.CandidateStatus), args.Error(1)
}

// mockPersonal implements discovery.PersonalSourceProvider for testing.
type mockPersonal struct{ mock.Mock }

func (m *mockPersonal) SourceIDs() []string {
	return m.Called().Get(0).([]string)
}

func (m *mockPersonal) FetchPersonalSourceState(ctx context.Context, sourceID string) (discovery.PersonalSourceState, error) {
	args := m.Called(ctx, sourceID)
	return args.Get(0).(discovery.PersonalSourceState), args.Error(1)
}

func (m *mockPersonal) PersonalSeeds(ctx context.Context, sourceID string) ([]string, error) {
	args := m.Called(ctx, sourceID)
	if seeds := args.Get(0); seeds != nil {
		return seeds.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

// mockPreviewer implements discovery.Previewer for testing.
type mockPreviewer struct{ mock.Mock }

func (m *mockPreviewer) FetchPreview(ctx context.Context, name string) (discovery.Preview, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(discovery.Preview), args.Error(1)
}

func (m *mockPreviewer) FetchSample(ctx context.Context, name string) (discovery.Sample, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(discovery.Sample), args.Error(1)
}

// mockPrompter implements discovery.PromptSeeder for testing.
type mockPrompter struct{ mock.Mock }

func (m *mockPrompter) GenerateSeeds(ctx context.Context, prompt string, library []string) ([]string, error) {
	args := m.Called(ctx, prompt, library)
	if seeds := args.Get(0); seeds != nil {
		return seeds.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

// mockSearcher implements discovery.ArtistSearcher for testing.
type mockSearcher struct{ mock.Mock }

func (m *mockSearcher) SearchSeeds(ctx context.Context, query string) ([]string, error) {
	args := m.Called(ctx, query)
	if seeds := args.Get(0); seeds != nil {
		return seeds.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

// fakeCatalogue serves a fixed library.
type fakeCatalogue struct {
	mu      sync.Mutex
	artists []string
	err     error
}

func (f *fakeCatalogue) set(artists ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artists = artists
}

func (f *fakeCatalogue) ListArtists(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.artists, f.err
}

// recordingPublisher captures published events in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (p *recordingPublisher) PublishDomainEvent(_ context.Context, evt events.DomainEvent, opts ...events.PublishOption) error {
	var params events.PublishParams
	for _, opt := range opts {
		opt(&params)
	}
	evt.Key, evt.Target = params.Key, params.Target

	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) all() []events.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.DomainEvent, len(p.events))
	copy(out, p.events)
	return out
}

func (p *recordingPublisher) ofType(typ events.EventType) []events.DomainEvent {
	var out []events.DomainEvent
	for _, e := range p.all() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) types() []events.EventType {
	var out []events.EventType
	for _, e := range p.all() {
		out = append(out, e.Type)
	}
	return out
}

// waitFor blocks until at least n events of typ were published and returns
// them.
func (p *recordingPublisher) waitFor(t *testing.T, typ events.EventType, n int) []events.DomainEvent {
	t.Helper()
	require.Eventually(t, func() bool { return len(p.ofType(typ)) >= n }, 2*time.Second, 5*time.Millisecond,
		"waiting for %d %s events, got types %v", n, typ, p.types())
	return p.ofType(typ)
}

type harness struct {
	orch      *Orchestrator
	expander  *mockExpander
	actions   *mockActions
	personal  *mockPersonal
	previewer *mockPreviewer
	catalogue *fakeCatalogue
	pub       *recordingPublisher
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		expander:  new(mockExpander),
		actions:   new(mockActions),
		personal:  new(mockPersonal),
		previewer: new(mockPreviewer),
		catalogue: new(fakeCatalogue),
		pub:       new(recordingPublisher),
	}

	metrics, err := NewOrchestrationMetrics(metricnoop.NewMeterProvider())
	require.NoError(t, err)

	h.orch = NewOrchestrator(
		cfg,
		h.expander,
		h.actions,
		h.personal,
		h.previewer,
		h.catalogue,
		h.pub,
		logger.Noop(),
		metrics,
		tracenoop.NewTracerProvider().Tracer("test"),
		opts...,
	)

	ctx, cancel := context.WithCancel(context.Background())
	done, err := h.orch.Run(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) waitState(t *testing.T, want discovery.SessionState) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := h.orch.State(context.Background())
		return err == nil && st == want
	}, 2*time.Second, 5*time.Millisecond)
}

// startWith starts a catalogue run and waits for the initial pass.
func (h *harness) startWith(t *testing.T, seeds ...string) {
	t.Helper()
	before := len(h.pub.ofType(events.EventTypeInitialLoadComplete))
	require.NoError(t, h.orch.Start(context.Background(), StartRequest{
		Seeds:     seeds,
		Origin:    discovery.CatalogueOrigin(),
		Requester: requester("c1", discovery.RoleAdmin),
	}))
	h.pub.waitFor(t, events.EventTypeInitialLoadComplete, before+1)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BatchSize = 1
	cfg.ActionTimeout = time.Second
	return cfg
}

func requester(connID string, role discovery.Role) discovery.Requester {
	return discovery.Requester{
		ConnectionID: connID,
		Principal:    discovery.Principal{UserID: "u-" + connID, Role: role},
	}
}

// forSeed matches an expand request whose first seed and page are given.
func forSeed(first string, page int) any {
	return mock.MatchedBy(func(r discovery.ExpandRequest) bool {
		return len(r.Seeds) > 0 && r.Seeds[0] == first && r.Page == page
	})
}

func result(hasMore bool, names ...string) discovery.ExpandResult {
	res := discovery.ExpandResult{HasMore: hasMore}
	for _, n := range names {
		res.Candidates = append(res.Candidates, discovery.NewCandidate(n, discovery.Attributes{}))
	}
	return res
}

func similar(name string, score float64) discovery.Candidate {
	return discovery.NewCandidate(name, discovery.Attributes{SimilarityScore: &score})
}

func appendedNames(evts []events.DomainEvent) []string {
	var names []string
	for _, e := range evts {
		for _, c := range e.Payload.(discovery.CandidatesAppended).Candidates {
			names = append(names, c.Name)
		}
	}
	return names
}
