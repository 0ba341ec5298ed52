// Package hub attaches observers to the discovery session.
//
// Fan-out model:
// --------------
// The orchestrator publishes every session event on the in-process bus and the
// hub is one of its handlers. For each event the hub encodes one frame and
// enqueues it, without blocking, on every matching connection: broadcast
// events go to all of them, scoped events only to their target. Each
// connection drains its own queue on a dedicated writer goroutine, so a slow
// observer delays nobody else.
//
// Joining late:
// -------------
// A connection is registered before the snapshot is taken, so nothing emitted
// after the snapshot can be missed. Events that raced the snapshot are
// reflected in it and are filtered by the connection's sequence floor.
//
// Commands:
// ---------
// Inbound frames are decoded, validated, authorized and handed to the command
// handler. A rejection travels back only to the connection that sent it.
package hub

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/sonolive/internal/app/commands"
	"github.com/ahrav/sonolive/internal/app/commands/session"
	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/internal/domain/events"
	"github.com/ahrav/sonolive/internal/infra/messaging/connections"
	"github.com/ahrav/sonolive/internal/infra/messaging/protocol"
	"github.com/ahrav/sonolive/pkg/common/logger"
	"github.com/ahrav/sonolive/pkg/common/timeutil"
)

var _ events.EventHandler = (*Service)(nil)

// Snapshotter provides the state a joining observer starts from.
type Snapshotter interface {
	Snapshot(ctx context.Context) (discovery.Snapshot, error)
}

// Config controls per-connection buffering and websocket keepalive.
type Config struct {
	QueueSize      int
	OverflowPolicy connections.OverflowPolicy
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
}

// DefaultConfig returns the hub defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:      256,
		OverflowPolicy: connections.OverflowDisconnect,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 64 << 10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if !c.OverflowPolicy.Valid() {
		c.OverflowPolicy = d.OverflowPolicy
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	return c
}

// pingPeriod must be shorter than PongWait.
func (c Config) pingPeriod() time.Duration { return c.PongWait * 9 / 10 }

// Option is a functional option for configuring the hub.
type Option func(*Service)

// WithAuthorizer replaces the default role policy.
func WithAuthorizer(a commands.Authorizer) Option {
	return func(s *Service) { s.authorizer = a }
}

// WithTimeProvider sets the clock used to stamp connections.
func WithTimeProvider(tp timeutil.Provider) Option {
	return func(s *Service) { s.timeProvider = tp }
}

// Service is the broadcast hub.
type Service struct {
	cfg        Config
	registry   *connections.Registry
	snapshots  Snapshotter
	handler    commands.Handler
	authorizer commands.Authorizer

	timeProvider timeutil.Provider

	logger  *logger.Logger
	metrics Metrics
	tracer  trace.Tracer
}

// NewService creates a hub that serves snapshots from snapshots and hands
// commands to handler.
func NewService(
	cfg Config,
	snapshots Snapshotter,
	handler commands.Handler,
	logger *logger.Logger,
	metrics Metrics,
	tracer trace.Tracer,
	opts ...Option,
) *Service {
	s := &Service{
		cfg:          cfg.withDefaults(),
		registry:     connections.NewRegistry(metrics),
		snapshots:    snapshots,
		handler:      handler,
		authorizer:   session.NewRolePolicy(),
		timeProvider: timeutil.Default(),
		logger:       logger.With("component", "hub"),
		metrics:      metrics,
		tracer:       tracer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewConnection builds a connection for transport using the hub's buffering
// policy. It is not attached until Subscribe.
func (s *Service) NewConnection(id string, principal discovery.Principal, transport connections.Transport) *connections.Connection {
	return connections.NewConnection(
		id,
		principal,
		transport,
		s.cfg.QueueSize,
		s.cfg.OverflowPolicy,
		s.timeProvider,
		s.logger,
		s.tracer,
	)
}

// Count returns the number of attached observers.
func (s *Service) Count() int { return s.registry.Count() }

// SupportedEvents returns nil; the hub relays every session event.
func (s *Service) SupportedEvents() []events.EventType { return nil }

// HandleEvent enqueues evt on every matching connection. It never blocks on a
// connection.
func (s *Service) HandleEvent(ctx context.Context, evt events.DomainEvent) error {
	data, err := protocol.EncodeEvent(evt)
	if err != nil {
		s.logger.Error(ctx, "failed to encode event", "type", evt.Type, "seq", evt.Seq, "error", err)
		return err
	}
	frame := connections.Frame{
		Seq:         evt.Seq,
		Data:        data,
		Replaceable: evt.Broadcast() && evt.Type.SessionEvent(),
	}

	if !evt.Broadcast() {
		conn, ok := s.registry.Get(evt.Target)
		if !ok {
			s.logger.Debug(ctx, "dropping scoped event for detached connection",
				"type", evt.Type, "connection_id", evt.Target)
			return nil
		}
		s.deliver(ctx, conn, frame, evt.Type)
		return nil
	}

	for _, conn := range s.registry.List() {
		s.deliver(ctx, conn, frame, evt.Type)
	}
	return nil
}

func (s *Service) deliver(ctx context.Context, conn *connections.Connection, frame connections.Frame, typ events.EventType) {
	dropped, err := conn.Enqueue(frame)
	switch {
	case errors.Is(err, connections.ErrSlowConsumer):
		// The connection already closed itself; only detach it here.
		s.logger.Warn(ctx, "disconnecting slow observer", "connection_id", conn.ID, "type", typ)
		s.metrics.IncSlowConsumers(ctx)
		s.detach(ctx, conn.ID)
	case err != nil:
		s.logger.Debug(ctx, "skipping closed connection", "connection_id", conn.ID)
	default:
		if dropped {
			s.metrics.IncDroppedFrames(ctx)
		}
		s.metrics.IncMessagesSent(ctx, string(typ))
	}
}

// Subscribe attaches conn: it registers it, writes the current snapshot as its
// first frame and starts its writer. The writer runs until ctx ends or the
// connection fails, at which point the connection is detached.
func (s *Service) Subscribe(ctx context.Context, conn *connections.Connection) error {
	ctx, span := s.tracer.Start(ctx, "hub.Service.Subscribe",
		trace.WithAttributes(
			attribute.String("connection_id", conn.ID),
			attribute.String("user_id", conn.Principal.UserID),
		))
	defer span.End()

	s.registry.Register(ctx, conn)

	frame, err := s.snapshotFrame(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to take snapshot")
		s.Unsubscribe(ctx, conn.ID)
		return err
	}
	conn.SetFloor(frame.Seq)
	if err := conn.Write(ctx, frame); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write snapshot")
		s.Unsubscribe(ctx, conn.ID)
		return err
	}
	span.AddEvent("snapshot_written", trace.WithAttributes(attribute.Int64("seq", int64(frame.Seq))))

	go func() {
		err := conn.WritePump(ctx, s.resync)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, connections.ErrConnectionClosed) {
			s.logger.Warn(ctx, "observer writer stopped", "connection_id", conn.ID, "error", err)
		}
		s.Unsubscribe(context.WithoutCancel(ctx), conn.ID)
	}()

	s.logger.Info(ctx, "observer subscribed", "connection_id", conn.ID, "user_id", conn.Principal.UserID, "seq", frame.Seq)
	span.SetStatus(codes.Ok, "subscribed")
	return nil
}

func (s *Service) resync(ctx context.Context) (connections.Frame, error) {
	s.metrics.IncResyncs(ctx)
	return s.snapshotFrame(ctx)
}

func (s *Service) snapshotFrame(ctx context.Context) (connections.Frame, error) {
	snap, err := s.snapshots.Snapshot(ctx)
	if err != nil {
		return connections.Frame{}, err
	}
	data, err := protocol.Encode(events.EventTypeSessionSnapshot, snap.Seq, "", snap)
	if err != nil {
		return connections.Frame{}, err
	}
	return connections.Frame{Seq: snap.Seq, Data: data}, nil
}

// Unsubscribe detaches the connection with id and closes it. Calling it for an
// unknown or already detached connection is a no-op. Session state is never
// affected.
func (s *Service) Unsubscribe(ctx context.Context, id string) {
	conn, ok := s.detach(ctx, id)
	if !ok {
		return
	}
	if err := conn.Close(); err != nil {
		s.logger.Debug(ctx, "error closing connection", "connection_id", id, "error", err)
	}
}

// detach removes id from the registry without touching its transport.
func (s *Service) detach(ctx context.Context, id string) (*connections.Connection, bool) {
	conn, ok := s.registry.Unregister(ctx, id)
	if ok {
		s.logger.Info(ctx, "observer unsubscribed", "connection_id", id)
	}
	return conn, ok
}

// Forward decodes a client frame from conn and dispatches the command it
// carries. Failures are reported to conn as an action_error; the returned
// error is the same failure for the caller's logging.
func (s *Service) Forward(ctx context.Context, conn *connections.Connection, data []byte) error {
	ctx, span := s.tracer.Start(ctx, "hub.Service.Forward",
		trace.WithAttributes(attribute.String("connection_id", conn.ID)))
	defer span.End()

	msg, cmd, err := protocol.DecodeCommand(data, conn.Requester())
	s.metrics.IncMessagesReceived(ctx, msg.Command)
	span.SetAttributes(attribute.String("command", msg.Command))

	if err == nil {
		err = s.authorizer.Authorize(cmd)
	}
	if err == nil {
		err = s.handler.Handle(ctx, cmd)
	}
	if err == nil {
		span.SetStatus(codes.Ok, "command dispatched")
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "command rejected")
	s.reject(ctx, conn, msg, cmd, err)
	return err
}

func (s *Service) reject(ctx context.Context, conn *connections.Connection, msg protocol.ClientMessage, cmd commands.Command, cause error) {
	payload := discovery.ActionError{ActionKind: discovery.ActionKind(msg.Command), Message: cause.Error()}
	if c, ok := cmd.(session.CandidateCommand); ok {
		payload.Identity = c.Identity
	}
	var de *discovery.Error
	if errors.As(cause, &de) {
		payload.Code = de.Code()
	}
	s.metrics.IncRejectedCommands(ctx, discovery.KindOf(cause).String())

	data, err := protocol.Encode(events.EventTypeActionError, 0, msg.ID, payload)
	if err != nil {
		s.logger.Error(ctx, "failed to encode rejection", "error", err)
		return
	}
	s.deliver(ctx, conn, connections.Frame{Data: data}, events.EventTypeActionError)
}

// Close detaches every observer.
func (s *Service) Close(ctx context.Context) {
	for _, conn := range s.registry.List() {
		s.Unsubscribe(ctx, conn.ID)
	}
}
