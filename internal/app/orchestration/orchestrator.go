// Package orchestration owns the single discovery session. Every command and
// every upstream result is applied by one goroutine, so the session, its
// pagination and the event sequence never need locks.
package orchestration

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/ahrav/sonolive/internal/app/inflight"
	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/internal/domain/events"
	"github.com/ahrav/sonolive/pkg/common/logger"
	"github.com/ahrav/sonolive/pkg/common/timeutil"
)

// ErrOrchestratorStopped is returned by every command once Run has exited.
var ErrOrchestratorStopped = errors.New("orchestrator stopped")

// ErrAlreadyRunning is returned when Run is called twice.
var ErrAlreadyRunning = errors.New("orchestrator already running")

// Config tunes the orchestrator.
type Config struct {
	// BatchSize is the number of seeds sent to the expander per call.
	BatchSize int
	// MaxCandidates caps the result buffer.
	MaxCandidates int
	// MaxParallelBatches bounds concurrent expander calls within a run.
	MaxParallelBatches int
	// ConnectivityFailureThreshold is the number of consecutive
	// connectivity-class batch failures that abandons a run.
	ConnectivityFailureThreshold int
	// ActionTimeout bounds a single add/request or query upstream call.
	ActionTimeout time.Duration
	// CommandBuffer is the capacity of the command queue.
	CommandBuffer int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:                    10,
		MaxCandidates:                500,
		MaxParallelBatches:           4,
		ConnectivityFailureThreshold: 2,
		ActionTimeout:                30 * time.Second,
		CommandBuffer:                64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxParallelBatches <= 0 {
		c.MaxParallelBatches = d.MaxParallelBatches
	}
	if c.ConnectivityFailureThreshold <= 0 {
		c.ConnectivityFailureThreshold = d.ConnectivityFailureThreshold
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = d.ActionTimeout
	}
	if c.CommandBuffer <= 0 {
		c.CommandBuffer = d.CommandBuffer
	}
	return c
}

// command is a unit of work applied on the actor goroutine. Commands issued by
// callers carry a reply channel; results posted by workers do not.
type command struct {
	apply func(ctx context.Context) error
	reply chan error
}

// Orchestrator serializes all mutations of the discovery session. Callers
// enqueue commands and receive an acceptance decision; completion is reported
// through events published on the DomainEventPublisher.
type Orchestrator struct {
	cfg Config

	expander  discovery.SeedExpander
	actions   discovery.ActionApplier
	personal  discovery.PersonalSourceProvider
	previewer discovery.Previewer
	prompter  discovery.PromptSeeder
	searcher  discovery.ArtistSearcher
	catalogue discovery.Catalogue

	eventPublisher events.DomainEventPublisher

	pending *inflight.Registry
	queries singleflight.Group

	cmds chan command
	done chan struct{}

	// mu protects running.
	mu      sync.Mutex
	running bool

	// Owned by the actor goroutine.
	baseCtx   context.Context
	session   *discovery.Session
	sources   discovery.PersonalSources
	seq       uint64
	token     uint64
	run       uint64
	workers   int
	runCtx    context.Context
	runCancel context.CancelFunc
	cursors   []batchCursor
	failures  int

	timeProvider timeutil.Provider
	logger       *logger.Logger
	metrics      OrchestrationMetrics
	tracer       trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeProvider overrides the clock used for event timestamps.
func WithTimeProvider(tp timeutil.Provider) Option {
	return func(o *Orchestrator) { o.timeProvider = tp }
}

// WithPromptSeeder enables prompt-driven runs. Without one PromptSeed fails
// with a not-configured error.
func WithPromptSeeder(p discovery.PromptSeeder) Option {
	return func(o *Orchestrator) { o.prompter = p }
}

// WithArtistSearcher enables search-driven runs.
func WithArtistSearcher(s discovery.ArtistSearcher) Option {
	return func(o *Orchestrator) { o.searcher = s }
}

// NewOrchestrator creates an Orchestrator. It requires several dependencies to
// handle different aspects of a run:
//   - expander: Turns seed batches into candidates
//   - actions: Applies add/request side effects
//   - personal: Reports and resolves personal listening-history sources
//   - previewer: Supplies biographies and playable samples
//   - catalogue: Lists library artists for exclusion
//   - eventPublisher: Broadcasts session events to observers
//   - logger: Structured logging
//   - metrics: Runtime metrics collection
//   - tracer: Distributed tracing
func NewOrchestrator(
	cfg Config,
	expander discovery.SeedExpander,
	actions discovery.ActionApplier,
	personal discovery.PersonalSourceProvider,
	previewer discovery.Previewer,
	catalogue discovery.Catalogue,
	eventPublisher events.DomainEventPublisher,
	logger *logger.Logger,
	metrics OrchestrationMetrics,
	tracer trace.Tracer,
	opts ...Option,
) *Orchestrator {
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		cfg:            cfg,
		expander:       expander,
		actions:        actions,
		personal:       personal,
		previewer:      previewer,
		catalogue:      catalogue,
		eventPublisher: eventPublisher,
		pending:        inflight.NewRegistry(),
		cmds:           make(chan command, cfg.CommandBuffer),
		done:           make(chan struct{}),
		session:        discovery.NewSession(cfg.MaxCandidates),
		sources:        make(discovery.PersonalSources),
		timeProvider:   timeutil.Default(),
		logger:         logger.With("component", "orchestrator"),
		metrics:        metrics,
		tracer:         tracer,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run starts the command loop. It returns a channel that is closed once the
// loop has exited, which happens when ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) (<-chan struct{}, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil, ErrAlreadyRunning
	}
	o.running = true

	go o.loop(ctx)
	return o.done, nil
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.done)

	o.baseCtx = ctx
	o.logger.Info(ctx, "orchestrator started")

	for {
		select {
		case <-ctx.Done():
			if o.runCancel != nil {
				o.runCancel()
			}
			o.logger.Info(ctx, "orchestrator stopped")
			return
		case cmd := <-o.cmds:
			err := cmd.apply(ctx)
			if cmd.reply != nil {
				cmd.reply <- err
			}
		}
	}
}

// submit enqueues fn and waits for its acceptance decision.
func (o *Orchestrator) submit(ctx context.Context, fn func(ctx context.Context) error) error {
	reply := make(chan error, 1)
	select {
	case o.cmds <- command{apply: fn, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		return ErrOrchestratorStopped
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-o.done:
		return ErrOrchestratorStopped
	}
}

// post hands a worker result to the actor without waiting for it to apply.
// It must never be called from the actor goroutine.
func (o *Orchestrator) post(fn func(ctx context.Context)) {
	cmd := command{apply: func(ctx context.Context) error {
		fn(ctx)
		return nil
	}}
	select {
	case o.cmds <- cmd:
	case <-o.done:
	}
}

// emit publishes one event with the next sequence number. Actor only.
func (o *Orchestrator) emit(ctx context.Context, typ events.EventType, payload any, opts ...events.PublishOption) {
	o.seq++
	evt := events.DomainEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		Seq:       o.seq,
		Timestamp: o.timeProvider.Now(),
		Payload:   payload,
	}
	o.metrics.IncEventsEmitted(ctx, string(typ))
	if err := o.eventPublisher.PublishDomainEvent(ctx, evt, opts...); err != nil {
		o.metrics.IncPublishErrors(ctx)
		o.logger.Warn(ctx, "failed to publish event", "type", typ, "seq", evt.Seq, "error", err)
	}
}

func (o *Orchestrator) emitState(ctx context.Context) {
	o.emit(ctx, events.EventTypeSessionStateUpdate, o.stateUpdate())
}

// emitStateTo repeats the current state to one connection.
func (o *Orchestrator) emitStateTo(ctx context.Context, connectionID string) {
	o.emit(ctx, events.EventTypeSessionStateUpdate, o.stateUpdate(), events.WithTarget(connectionID))
}

func (o *Orchestrator) stateUpdate() discovery.SessionStateUpdate {
	return discovery.SessionStateUpdate{
		State:      o.session.State(),
		Pagination: o.session.Pagination(),
	}
}

func (o *Orchestrator) emitActionError(ctx context.Context, requester discovery.Requester, kind discovery.ActionKind, identity string, err error) {
	payload := discovery.ActionError{ActionKind: kind, Identity: identity, Message: err.Error()}
	var de *discovery.Error
	if errors.As(err, &de) {
		payload.Code = de.Code()
	}
	o.emit(ctx, events.EventTypeActionError, payload,
		events.WithKey(identity), events.WithTarget(requester.ConnectionID))
}

// Snapshot returns the full session state together with the sequence number
// of the last event it reflects.
func (o *Orchestrator) Snapshot(ctx context.Context) (discovery.Snapshot, error) {
	var snap discovery.Snapshot
	err := o.submit(ctx, func(context.Context) error {
		snap = discovery.Snapshot{
			Seq:             o.seq,
			SessionSnapshot: o.session.Snapshot(),
			PersonalSources: o.sources.Clone(),
		}
		return nil
	})
	return snap, err
}

// State returns the current session lifecycle state.
func (o *Orchestrator) State(ctx context.Context) (discovery.SessionState, error) {
	var st discovery.SessionState
	err := o.submit(ctx, func(context.Context) error {
		st = o.session.State()
		return nil
	})
	return st, err
}

// ReportError delivers an action_error to the requester for a command that
// failed after it was accepted.
func (o *Orchestrator) ReportError(requester discovery.Requester, kind discovery.ActionKind, identity string, err error) {
	if err == nil {
		return
	}
	o.post(func(ctx context.Context) { o.emitActionError(ctx, requester, kind, identity, err) })
}

// Notify raises a generic notice. An empty target broadcasts it.
func (o *Orchestrator) Notify(target, title, message string) {
	o.post(func(ctx context.Context) { o.notify(ctx, target, title, message) })
}

func (o *Orchestrator) notify(ctx context.Context, target, title, message string) {
	var opts []events.PublishOption
	if target != "" {
		opts = append(opts, events.WithTarget(target))
	}
	o.emit(ctx, events.EventTypeGenericNotice, discovery.GenericNotice{Title: title, Message: message}, opts...)
}

func (o *Orchestrator) startSpan(ctx context.Context, name string, requester discovery.Requester) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, "orchestrator."+name,
		trace.WithAttributes(
			attribute.String("connection_id", requester.ConnectionID),
			attribute.String("user_id", requester.Principal.UserID),
		))
}
