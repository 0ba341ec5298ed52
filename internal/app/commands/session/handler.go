package session

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/sonolive/internal/app/commands"
	"github.com/ahrav/sonolive/internal/app/orchestration"
	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/pkg/common/logger"
)

// Orchestrator is the subset of the session orchestrator commands drive.
type Orchestrator interface {
	Start(ctx context.Context, req orchestration.StartRequest) error
	Stop(ctx context.Context, requester discovery.Requester) error
	LoadMore(ctx context.Context, requester discovery.Requester) error
	AddToLibrary(ctx context.Context, requester discovery.Requester, identity string) error
	RequestArtist(ctx context.Context, requester discovery.Requester, identity string) error
	FetchPreview(ctx context.Context, requester discovery.Requester, identity string) (discovery.Preview, error)
	FetchSample(ctx context.Context, requester discovery.Requester, identity string) (discovery.Sample, error)
	PromptSeed(ctx context.Context, requester discovery.Requester, prompt string) error
	SearchSeed(ctx context.Context, requester discovery.Requester, query string) error
	PollPersonalSources(ctx context.Context, requester discovery.Requester) (discovery.PersonalSources, error)
	ListLibrary(ctx context.Context, requester discovery.Requester) ([]string, error)
	ReportError(requester discovery.Requester, kind discovery.ActionKind, identity string, err error)
}

// CommandHandler routes session commands to the orchestrator. State-changing
// commands return their acceptance decision. Queries, prompts and searches can take
// seconds upstream, so they run in the background and report failures to the
// issuer as action errors.
type CommandHandler struct {
	orch   Orchestrator
	logger *logger.Logger
	tracer trace.Tracer

	wg sync.WaitGroup
}

var _ commands.Handler = (*CommandHandler)(nil)

// NewCommandHandler creates a new instance of CommandHandler.
func NewCommandHandler(orch Orchestrator, logger *logger.Logger, tracer trace.Tracer) *CommandHandler {
	return &CommandHandler{orch: orch, logger: logger, tracer: tracer}
}

// Handle validates cmd and dispatches it.
func (h *CommandHandler) Handle(ctx context.Context, cmd commands.Command) error {
	ctx, span := h.tracer.Start(ctx, "session.CommandHandler.Handle",
		trace.WithAttributes(
			attribute.String("command", string(cmd.CommandType())),
			attribute.String("command_id", cmd.CommandID()),
		))
	defer span.End()

	if err := cmd.ValidateCommand(); err != nil {
		h.logger.Debug(ctx, "invalid command", "command", cmd.CommandType(), "error", err)
		return err
	}

	requester := cmd.Issuer()
	switch c := cmd.(type) {
	case StartCommand:
		return h.orch.Start(ctx, orchestration.StartRequest{Seeds: c.Seeds, Origin: c.Origin, Requester: requester})
	case StopCommand:
		return h.orch.Stop(ctx, requester)
	case LoadMoreCommand:
		return h.orch.LoadMore(ctx, requester)
	case CandidateCommand:
		return h.handleCandidate(ctx, c)
	case PromptSeedCommand:
		h.background(ctx, c, "", func(ctx context.Context) error {
			return h.orch.PromptSeed(ctx, requester, c.Prompt)
		})
		return nil
	case SearchSeedCommand:
		h.background(ctx, c, "", func(ctx context.Context) error {
			return h.orch.SearchSeed(ctx, requester, c.Query)
		})
		return nil
	case QueryCommand:
		return h.handleQuery(ctx, c)
	default:
		h.logger.Error(ctx, "unknown command type",
			"type", cmd.CommandType(),
			"command_id", cmd.CommandID(),
		)
		return errors.New("unknown command type")
	}
}

func (h *CommandHandler) handleCandidate(ctx context.Context, c CandidateCommand) error {
	requester := c.Issuer()
	switch c.Kind {
	case discovery.ActionAddToLibrary:
		return h.orch.AddToLibrary(ctx, requester, c.Identity)
	case discovery.ActionRequestArtist:
		return h.orch.RequestArtist(ctx, requester, c.Identity)
	case discovery.ActionFetchPreview:
		h.background(ctx, c, c.Identity, func(ctx context.Context) error {
			_, err := h.orch.FetchPreview(ctx, requester, c.Identity)
			return err
		})
	case discovery.ActionFetchSample:
		h.background(ctx, c, c.Identity, func(ctx context.Context) error {
			_, err := h.orch.FetchSample(ctx, requester, c.Identity)
			return err
		})
	}
	return nil
}

func (h *CommandHandler) handleQuery(ctx context.Context, c QueryCommand) error {
	requester := c.Issuer()
	switch c.Kind {
	case discovery.ActionPollSources:
		h.background(ctx, c, "", func(ctx context.Context) error {
			_, err := h.orch.PollPersonalSources(ctx, requester)
			return err
		})
	case discovery.ActionListLibrary:
		h.background(ctx, c, "", func(ctx context.Context) error {
			_, err := h.orch.ListLibrary(ctx, requester)
			return err
		})
	}
	return nil
}

// background runs fn detached from the caller's cancellation and reports a
// failure to the issuer.
func (h *CommandHandler) background(ctx context.Context, cmd commands.Command, identity string, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := fn(ctx); err != nil {
			h.logger.Warn(ctx, "command failed",
				"command", cmd.CommandType(),
				"command_id", cmd.CommandID(),
				"error", err,
			)
			h.orch.ReportError(cmd.Issuer(), cmd.CommandType(), identity, err)
		}
	}()
}

// Wait blocks until every background command has finished.
func (h *CommandHandler) Wait() { h.wg.Wait() }
