// Package connections tracks the observers attached to the session hub. Each
// connection owns a bounded outbound queue drained by a single writer so a
// slow observer never blocks publication to the others.
package connections

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/pkg/common/logger"
	"github.com/ahrav/sonolive/pkg/common/timeutil"
)

var (
	// ErrSlowConsumer is returned by Enqueue when the queue is full and the
	// connection's policy is to disconnect.
	ErrSlowConsumer = errors.New("connection queue overflow")
	// ErrConnectionClosed is returned once a connection has been closed.
	ErrConnectionClosed = errors.New("connection closed")
)

// Transport writes encoded frames to the remote observer.
type Transport interface {
	WriteMessage(data []byte) error
	Close() error
}

// Frame is one encoded server message. Seq is the event sequence it carries,
// or zero for frames outside the session event stream. Replaceable marks a
// broadcast session event whose effect a snapshot reproduces; every other
// frame survives a resync.
type Frame struct {
	Seq         uint64
	Data        []byte
	Replaceable bool
}

// OverflowPolicy decides what happens when a connection's queue is full.
type OverflowPolicy string

const (
	// OverflowDisconnect closes the connection.
	OverflowDisconnect OverflowPolicy = "disconnect"
	// OverflowDropOldest discards the oldest queued frame and schedules a
	// resync snapshot.
	OverflowDropOldest OverflowPolicy = "drop_oldest"
)

// Valid reports whether p is a known policy.
func (p OverflowPolicy) Valid() bool {
	return p == OverflowDisconnect || p == OverflowDropOldest
}

// ResyncFunc produces a fresh snapshot frame for a connection that lost
// frames.
type ResyncFunc func(ctx context.Context) (Frame, error)

// Connection is one attached observer.
type Connection struct {
	ID        string
	Principal discovery.Principal
	Connected time.Time

	transport Transport
	policy    OverflowPolicy

	mu     sync.Mutex
	closed bool
	queue  chan Frame
	// held keeps frames pushed out of the queue that a snapshot cannot
	// replace, oldest first, until the next resync writes them.
	held []Frame

	// floor is the sequence number of the last snapshot written. Queued
	// events at or below it are already reflected and are skipped.
	floor    atomic.Uint64
	resync   chan struct{}
	dropped  atomic.Uint64
	done     chan struct{}
	doneOnce sync.Once

	transportOnce sync.Once
	transportErr  error

	logger *logger.Logger
	tracer trace.Tracer
}

// NewConnection creates a connection with a queue of queueSize frames.
func NewConnection(
	id string,
	principal discovery.Principal,
	transport Transport,
	queueSize int,
	policy OverflowPolicy,
	timeProvider timeutil.Provider,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Connection {
	if queueSize <= 0 {
		queueSize = 1
	}
	if !policy.Valid() {
		policy = OverflowDisconnect
	}
	return &Connection{
		ID:        id,
		Principal: principal,
		Connected: timeProvider.Now(),
		transport: transport,
		policy:    policy,
		queue:     make(chan Frame, queueSize),
		resync:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		logger:    logger.With("component", "connection", "connection_id", id),
		tracer:    tracer,
	}
}

// Requester returns the identity commands from this connection carry.
func (c *Connection) Requester() discovery.Requester {
	return discovery.Requester{ConnectionID: c.ID, Principal: c.Principal}
}

// Enqueue adds f to the outbound queue without blocking. When the queue is
// full the overflow policy applies: under OverflowDisconnect the connection is
// marked closed, its transport is closed in the background and ErrSlowConsumer
// returned; under OverflowDropOldest the oldest frame is pushed out, a resync
// is scheduled and dropped is true. A pushed out frame that is not
// Replaceable is held and written after the resync snapshot.
func (c *Connection) Enqueue(f Frame) (dropped bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, ErrConnectionClosed
	}

	select {
	case c.queue <- f:
		return false, nil
	default:
	}

	if c.policy == OverflowDisconnect {
		c.markClosedLocked()
		// Closing a transport can wait on a stalled write; the publisher must
		// not.
		go func() { _ = c.closeTransport() }()
		return false, ErrSlowConsumer
	}

	// Producers are serialized by mu and the writer only removes frames, so
	// after discarding one there is room.
	select {
	case old := <-c.queue:
		if !old.Replaceable {
			c.holdLocked(old)
		}
	default:
	}
	c.queue <- f
	c.dropped.Add(1)

	select {
	case c.resync <- struct{}{}:
	default:
	}
	return true, nil
}

// SetFloor records that a snapshot reflecting every event up to seq has been
// written.
func (c *Connection) SetFloor(seq uint64) { c.floor.Store(seq) }

// Floor returns the current sequence floor.
func (c *Connection) Floor() uint64 { return c.floor.Load() }

// Dropped returns how many frames were discarded by OverflowDropOldest.
func (c *Connection) Dropped() uint64 { return c.dropped.Load() }

// Write sends f directly, bypassing the queue. It must not be called while
// WritePump is running.
func (c *Connection) Write(ctx context.Context, f Frame) error {
	_, span := c.tracer.Start(ctx, "connections.Connection.Write",
		trace.WithAttributes(
			attribute.String("connection_id", c.ID),
			attribute.Int64("seq", int64(f.Seq)),
		))
	defer span.End()

	if err := c.transport.WriteMessage(f.Data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write frame")
		return fmt.Errorf("write frame to %s: %w", c.ID, err)
	}
	return nil
}

// WritePump drains the queue to the transport until ctx ends, the connection
// closes or a write fails. Replaceable frames already covered by the floor are
// skipped. When a resync is pending the queue is discarded and the frame
// produced by resync is written instead, raising the floor to its Seq; frames
// the snapshot does not reproduce follow it in their original order.
func (c *Connection) WritePump(ctx context.Context, resync ResyncFunc) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-c.done:
			return ErrConnectionClosed

		case <-c.resync:
			kept := c.drain()
			frame, err := resync(ctx)
			if err != nil {
				return fmt.Errorf("resync %s: %w", c.ID, err)
			}
			c.logger.Info(ctx, "connection resynced", "seq", frame.Seq, "dropped_total", c.dropped.Load())
			c.SetFloor(frame.Seq)
			if err := c.transport.WriteMessage(frame.Data); err != nil {
				return fmt.Errorf("write snapshot to %s: %w", c.ID, err)
			}
			for _, f := range kept {
				if err := c.transport.WriteMessage(f.Data); err != nil {
					return fmt.Errorf("write frame to %s: %w", c.ID, err)
				}
			}

		case f := <-c.queue:
			if f.Replaceable && f.Seq <= c.floor.Load() {
				continue
			}
			if err := c.transport.WriteMessage(f.Data); err != nil {
				return fmt.Errorf("write frame to %s: %w", c.ID, err)
			}
		}
	}
}

// drain empties the queue and returns the held and queued frames that are
// not Replaceable.
func (c *Connection) drain() []Frame {
	c.mu.Lock()
	kept := c.held
	c.held = nil
	c.mu.Unlock()

	for {
		select {
		case f := <-c.queue:
			if !f.Replaceable {
				kept = append(kept, f)
			}
		default:
			return kept
		}
	}
}

// holdLocked keeps f for the next resync, bounded by the queue size.
func (c *Connection) holdLocked(f Frame) {
	if len(c.held) >= cap(c.queue) {
		c.held = c.held[1:]
	}
	c.held = append(c.held, f)
}

// Done is closed when the connection closes.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Close shuts the connection and its transport. It is safe to call more than
// once.
func (c *Connection) Close() error {
	c.mu.Lock()
	c.markClosedLocked()
	c.mu.Unlock()
	return c.closeTransport()
}

func (c *Connection) markClosedLocked() {
	c.doneOnce.Do(func() {
		c.closed = true
		close(c.done)
	})
}

func (c *Connection) closeTransport() error {
	c.transportOnce.Do(func() { c.transportErr = c.transport.Close() })
	return c.transportErr
}
