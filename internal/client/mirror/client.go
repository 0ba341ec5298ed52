package mirror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/internal/infra/messaging/protocol"
	"github.com/ahrav/sonolive/pkg/common/logger"
	"github.com/ahrav/sonolive/pkg/common/timeutil"
)

var (
	// ErrNotConnected is returned when a command is sent while offline.
	ErrNotConnected = errors.New("mirror: not connected")
	// ErrDebounced is returned when an identical action was sent moments ago.
	ErrDebounced = errors.New("mirror: action debounced")
	// ErrNotAllowed is returned when the mirror's view says the action
	// cannot succeed right now.
	ErrNotAllowed = errors.New("mirror: action not currently allowed")
)

// Config configures a Client.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/v1/ws.
	URL string
	// Token is sent as the X-Api-Key header.
	Token          string
	WriteWait      time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	DebounceWindow time.Duration
}

// Option is a functional option for configuring the client.
type Option func(*Client)

// WithDialer replaces the default websocket dialer.
func WithDialer(d *websocket.Dialer) Option { return func(c *Client) { c.dialer = d } }

// WithClock sets the clock used by the debouncer.
func WithClock(tp timeutil.Provider) Option { return func(c *Client) { c.clock = tp } }

// WithOnMessage registers a callback invoked after each frame is applied.
func WithOnMessage(fn func(protocol.ServerMessage)) Option {
	return func(c *Client) { c.onMessage = fn }
}

// Client keeps a Mirror in sync with the server over a websocket and sends
// commands. It reconnects with exponential backoff and rebuilds the mirror
// from the fresh snapshot each time.
type Client struct {
	cfg       Config
	mirror    *Mirror
	debouncer *Debouncer
	dialer    *websocket.Dialer
	clock     timeutil.Provider
	onMessage func(protocol.ServerMessage)

	mu   sync.Mutex
	conn *websocket.Conn

	logger *logger.Logger
}

// NewClient creates a client. Call Run to connect.
func NewClient(cfg Config, logger *logger.Logger, opts ...Option) *Client {
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}

	c := &Client{
		cfg:    cfg,
		mirror: New(),
		dialer: websocket.DefaultDialer,
		logger: logger.With("component", "mirror"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.debouncer = NewDebouncer(cfg.DebounceWindow, c.clock)
	return c
}

// Mirror returns the local session view.
func (c *Client) Mirror() *Mirror { return c.mirror }

// Connected reports whether a websocket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run connects and keeps the mirror updated until ctx is canceled. Dropped
// connections are retried with exponential backoff, which restarts after
// every successful connect.
func (c *Client) Run(ctx context.Context) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.InitialBackoff
	exp.MaxInterval = c.cfg.MaxBackoff
	exp.MaxElapsedTime = 0

	for {
		connected, err := c.session(ctx, exp.Reset)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			c.logger.Warn(ctx, "connection lost, reconnecting", "error", err)
		} else {
			c.logger.Warn(ctx, "failed to connect", "error", err)
		}

		wait := exp.NextBackOff()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// session dials once and reads until the connection fails. onConnect runs
// after a successful dial.
func (c *Client) session(ctx context.Context, onConnect func()) (bool, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("X-Api-Key", c.cfg.Token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	onConnect()

	// Never reconcile stale state: the first frame is a fresh snapshot.
	c.mirror.Reset()
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.logger.Info(ctx, "connected", "url", c.cfg.URL)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			c.logger.Warn(ctx, "dropping undecodable frame", "error", err)
			continue
		}
		if err := c.mirror.Apply(msg); err != nil {
			c.logger.Warn(ctx, "failed to apply frame", "type", msg.Type, "error", err)
			continue
		}
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

func (c *Client) send(kind discovery.ActionKind, identity string, payload any) error {
	data, err := protocol.EncodeCommand(uuid.New().String(), kind, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	c.mirror.MarkInFlight(kind, identity)
	return nil
}

// debounced sends kind for identity unless the same pair was sent within the
// debounce window.
func (c *Client) debounced(kind discovery.ActionKind, identity string, payload any) error {
	if !c.debouncer.Allow(kind, identity) {
		return ErrDebounced
	}
	return c.send(kind, identity, payload)
}

// Start begins a run with seeds from origin.
func (c *Client) Start(seeds []string, origin discovery.SeedOrigin) error {
	return c.debounced(discovery.ActionStart, "", protocol.StartPayload{
		Seeds:    seeds,
		Origin:   string(origin.Kind),
		SourceID: origin.SourceID,
	})
}

// Stop ends the active run.
func (c *Client) Stop() error { return c.debounced(discovery.ActionStop, "", nil) }

// LoadMore requests the next page when the mirror says one is available.
func (c *Client) LoadMore() error {
	if !c.mirror.CanLoadMore() {
		return ErrNotAllowed
	}
	return c.debounced(discovery.ActionLoadMore, "", nil)
}

func (c *Client) candidateAction(kind discovery.ActionKind, identity string) error {
	if !c.mirror.CanAct(identity) {
		return ErrNotAllowed
	}
	return c.debounced(kind, identity, protocol.IdentityPayload{Identity: identity})
}

// AddToLibrary asks for identity to be added to the library.
func (c *Client) AddToLibrary(identity string) error {
	return c.candidateAction(discovery.ActionAddToLibrary, identity)
}

// RequestArtist asks an administrator to add identity.
func (c *Client) RequestArtist(identity string) error {
	return c.candidateAction(discovery.ActionRequestArtist, identity)
}

// FetchPreview asks for identity's biography.
func (c *Client) FetchPreview(identity string) error {
	return c.debounced(discovery.ActionFetchPreview, identity, protocol.IdentityPayload{Identity: identity})
}

// FetchSample asks for a playable snippet of identity.
func (c *Client) FetchSample(identity string) error {
	return c.debounced(discovery.ActionFetchSample, identity, protocol.IdentityPayload{Identity: identity})
}

// PromptSeed starts a run from a free-text prompt.
func (c *Client) PromptSeed(prompt string) error {
	return c.debounced(discovery.ActionPromptSeed, "", protocol.PromptPayload{Prompt: prompt})
}

// SearchSeed starts a run from a MusicBrainz artist search.
func (c *Client) SearchSeed(query string) error {
	return c.debounced(discovery.ActionSearchSeed, "", protocol.SearchPayload{Query: query})
}

// PollPersonalSources refreshes personal source availability.
func (c *Client) PollPersonalSources() error {
	return c.debounced(discovery.ActionPollSources, "", nil)
}

// ListLibrary asks for the library artists.
func (c *Client) ListLibrary() error {
	return c.debounced(discovery.ActionListLibrary, "", nil)
}
