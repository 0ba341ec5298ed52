package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/sonolive/internal/app/commands"
	"github.com/ahrav/sonolive/internal/app/orchestration"
	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/pkg/common/logger"
)

type mockOrchestrator struct{ mock.Mock }

func (m *mockOrchestrator) Start(ctx context.Context, req orchestration.StartRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockOrchestrator) Stop(ctx context.Context, requester discovery.Requester) error {
	return m.Called(ctx, requester).Error(0)
}

func (m *mockOrchestrator) LoadMore(ctx context.Context, requester discovery.Requester) error {
	return m.Called(ctx, requester).Error(0)
}

func (m *mockOrchestrator) AddToLibrary(ctx context.Context, requester discovery.Requester, identity string) error {
	return m.Called(ctx, requester, identity).Error(0)
}

func (m *mockOrchestrator) RequestArtist(ctx context.Context, requester discovery.Requester, identity string) error {
	return m.Called(ctx, requester, identity).Error(0)
}

func (m *mockOrchestrator) FetchPreview(ctx context.Context, requester discovery.Requester, identity string) (discovery.Preview, error) {
	args := m.Called(ctx, requester, identity)
	return args.Get(0).(discovery.Preview), args.Error(1)
}

func (m *mockOrchestrator) FetchSample(ctx context.Context, requester discovery.Requester, identity string) (discovery.Sample, error) {
	args := m.Called(ctx, requester, identity)
	return args.Get(0).(discovery.Sample), args.Error(1)
}

func (m *mockOrchestrator) PromptSeed(ctx context.Context, requester discovery.Requester, prompt string) error {
	return m.Called(ctx, requester, prompt).Error(0)
}

func (m *mockOrchestrator) SearchSeed(ctx context.Context, requester discovery.Requester, query string) error {
	return m.Called(ctx, requester, query).Error(0)
}

func (m *mockOrchestrator) PollPersonalSources(ctx context.Context, requester discovery.Requester) (discovery.PersonalSources, error) {
	args := m.Called(ctx, requester)
	if v := args.Get(0); v != nil {
		return v.(discovery.PersonalSources), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockOrchestrator) ListLibrary(ctx context.Context, requester discovery.Requester) ([]string, error) {
	args := m.Called(ctx, requester)
	if v := args.Get(0); v != nil {
		return v.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockOrchestrator) ReportError(requester discovery.Requester, kind discovery.ActionKind, identity string, err error) {
	m.Called(requester, kind, identity, err)
}

func newTestHandler() (*CommandHandler, *mockOrchestrator) {
	orch := new(mockOrchestrator)
	return NewCommandHandler(orch, logger.Noop(), noop.NewTracerProvider().Tracer("test")), orch
}

var admin = discovery.Requester{
	ConnectionID: "c1",
	Principal:    discovery.Principal{UserID: "root", Role: discovery.RoleAdmin},
}

func TestHandle_Start(t *testing.T) {
	h, orch := newTestHandler()
	orch.On("Start", mock.Anything, orchestration.StartRequest{
		Seeds:     []string{"Air"},
		Origin:    discovery.CatalogueOrigin(),
		Requester: admin,
	}).Return(nil)

	err := h.Handle(context.Background(), NewStartCommand(admin, []string{"Air"}, discovery.CatalogueOrigin()))
	require.NoError(t, err)
	orch.AssertExpectations(t)
}

func TestHandle_StartValidationFailsBeforeDispatch(t *testing.T) {
	h, orch := newTestHandler()

	err := h.Handle(context.Background(), NewStartCommand(admin, nil, discovery.CatalogueOrigin()))
	assert.ErrorIs(t, err, discovery.ErrEmptySeeds)
	orch.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
}

func TestHandle_StateConflictPropagates(t *testing.T) {
	h, orch := newTestHandler()
	conflict := discovery.NewAlreadyRunningError(discovery.StateRunning)
	orch.On("LoadMore", mock.Anything, admin).Return(conflict)

	err := h.Handle(context.Background(), NewLoadMoreCommand(admin))
	assert.ErrorIs(t, err, discovery.ErrStateConflict)
}

func TestHandle_CandidateCommands(t *testing.T) {
	tests := []struct {
		name   string
		kind   discovery.ActionKind
		method string
	}{
		{name: "add", kind: discovery.ActionAddToLibrary, method: "AddToLibrary"},
		{name: "request", kind: discovery.ActionRequestArtist, method: "RequestArtist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, orch := newTestHandler()
			orch.On(tt.method, mock.Anything, admin, "slowdive").Return(nil)

			require.NoError(t, h.Handle(context.Background(), NewCandidateCommand(admin, tt.kind, " slowdive ")))
			orch.AssertExpectations(t)
		})
	}
}

func TestHandle_CandidateCommandRequiresIdentity(t *testing.T) {
	h, _ := newTestHandler()
	err := h.Handle(context.Background(), NewCandidateCommand(admin, discovery.ActionAddToLibrary, ""))
	assert.ErrorIs(t, err, discovery.ErrValidation)

	err = h.Handle(context.Background(), NewCandidateCommand(admin, discovery.ActionStart, "x"))
	assert.ErrorIs(t, err, discovery.ErrValidation)
}

func TestHandle_BackgroundFailureIsReported(t *testing.T) {
	h, orch := newTestHandler()
	boom := discovery.NewTransientError("lastfm.info", errors.New("503"))
	orch.On("FetchPreview", mock.Anything, admin, "air").Return(discovery.Preview{}, boom)
	orch.On("ReportError", admin, discovery.ActionFetchPreview, "air", boom).Return()

	require.NoError(t, h.Handle(context.Background(), NewCandidateCommand(admin, discovery.ActionFetchPreview, "air")))
	h.Wait()
	orch.AssertExpectations(t)
}

func TestHandle_BackgroundSuccessIsSilent(t *testing.T) {
	h, orch := newTestHandler()
	orch.On("ListLibrary", mock.Anything, admin).Return([]string{"Air"}, nil)
	orch.On("PollPersonalSources", mock.Anything, admin).Return(discovery.PersonalSources{}, nil)
	orch.On("PromptSeed", mock.Anything, admin, "lofi").Return(nil)
	orch.On("SearchSeed", mock.Anything, admin, "mogwai").Return(nil)

	require.NoError(t, h.Handle(context.Background(), NewQueryCommand(admin, discovery.ActionListLibrary)))
	require.NoError(t, h.Handle(context.Background(), NewQueryCommand(admin, discovery.ActionPollSources)))
	require.NoError(t, h.Handle(context.Background(), NewPromptSeedCommand(admin, " lofi ")))
	require.NoError(t, h.Handle(context.Background(), NewSearchSeedCommand(admin, "mogwai ")))
	h.Wait()

	orch.AssertExpectations(t)
	orch.AssertNotCalled(t, "ReportError", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_EmptyPrompt(t *testing.T) {
	h, orch := newTestHandler()
	err := h.Handle(context.Background(), NewPromptSeedCommand(admin, "  "))
	assert.ErrorIs(t, err, discovery.ErrEmptyPrompt)
	orch.AssertNotCalled(t, "PromptSeed", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_EmptySearch(t *testing.T) {
	h, orch := newTestHandler()
	err := h.Handle(context.Background(), NewSearchSeedCommand(admin, ""))
	assert.ErrorIs(t, err, discovery.ErrEmptyQuery)
	orch.AssertNotCalled(t, "SearchSeed", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_SearchFailureReported(t *testing.T) {
	h, orch := newTestHandler()
	failed := discovery.NewSeedPendingError("search")
	orch.On("SearchSeed", mock.Anything, admin, "mogwai").Return(failed)
	orch.On("ReportError", admin, discovery.ActionSearchSeed, "", failed).Return()

	require.NoError(t, h.Handle(context.Background(), NewSearchSeedCommand(admin, "mogwai")))
	h.Wait()
	orch.AssertExpectations(t)
}

func TestRolePolicy(t *testing.T) {
	user := discovery.Requester{ConnectionID: "c2", Principal: discovery.Principal{UserID: "u", Role: discovery.RoleUser}}
	anon := discovery.Requester{ConnectionID: "c3"}
	policy := NewRolePolicy()

	tests := []struct {
		name    string
		cmd     commands.Command
		wantErr bool
	}{
		{name: "admin adds", cmd: NewCandidateCommand(admin, discovery.ActionAddToLibrary, "x")},
		{name: "user adds", cmd: NewCandidateCommand(user, discovery.ActionAddToLibrary, "x"), wantErr: true},
		{name: "user requests", cmd: NewCandidateCommand(user, discovery.ActionRequestArtist, "x")},
		{name: "user starts", cmd: NewStartCommand(user, []string{"x"}, discovery.CatalogueOrigin())},
		{name: "anonymous stops", cmd: NewStopCommand(anon), wantErr: true},
		{name: "anonymous previews", cmd: NewCandidateCommand(anon, discovery.ActionFetchPreview, "x"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.Authorize(tt.cmd)
			if tt.wantErr {
				assert.ErrorIs(t, err, discovery.ErrUnauthorized)
				return
			}
			assert.NoError(t, err)
		})
	}
}
