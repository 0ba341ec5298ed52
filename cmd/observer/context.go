package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ahrav/sonolive/internal/client/mirror"
	"github.com/ahrav/sonolive/internal/config"
	"github.com/ahrav/sonolive/internal/config/loaders"
	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/pkg/common/logger"
)

const (
	defaultTimeout = 15 * time.Second
	pollInterval   = 50 * time.Millisecond

	// forever waits until the context ends.
	forever = time.Duration(math.MaxInt64)
)

type rootFlags struct {
	config  string
	url     string
	token   string
	json    bool
	verbose bool
	timeout time.Duration
}

type commandContext struct {
	flags *rootFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(flags *rootFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := strings.TrimSpace(c.flags.config)
		if path == "" {
			path = os.Getenv("SONOLIVE_CONFIG")
		}
		cfg, err := loaders.NewEnvLoader(path, loaders.DefaultEnvPrefix, logger.Noop()).Load(context.Background())
		if err != nil {
			c.configErr = fmt.Errorf("load config: %w", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) mirrorConfig() mirror.Config {
	cfg, _ := c.ensureConfig()
	mc := mirror.Config{
		URL:            cfg.Observer.URL,
		Token:          cfg.Observer.Token,
		InitialBackoff: cfg.Observer.InitialBackoff,
		MaxBackoff:     cfg.Observer.MaxBackoff,
		DebounceWindow: cfg.Observer.DebounceWindow,
	}
	if u := strings.TrimSpace(c.flags.url); u != "" {
		mc.URL = u
	}
	if t := strings.TrimSpace(c.flags.token); t != "" {
		mc.Token = t
	}
	return mc
}

func (c *commandContext) logger() *logger.Logger {
	if !c.flags.verbose {
		return logger.Noop()
	}
	return logger.New(os.Stderr, logger.LevelDebug, "observer", nil)
}

// withSession connects, waits for the first snapshot and then runs fn. The
// connection is torn down when fn returns.
func (c *commandContext) withSession(parent context.Context, fn func(context.Context, *mirror.Client) error) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mc := c.mirrorConfig()
	client := mirror.NewClient(mc, c.logger())

	runDone := make(chan error, 1)
	go func() { runDone <- client.Run(ctx) }()
	defer func() {
		cancel()
		<-runDone
	}()

	synced := func(v mirror.View) (bool, error) { return client.Connected() && v.Synced, nil }
	if err := awaitView(ctx, client.Mirror(), c.flags.timeout, synced); err != nil {
		if errors.Is(err, errTimeout) {
			return fmt.Errorf("connect to %s: no session snapshot within %s", mc.URL, c.flags.timeout)
		}
		return err
	}
	return fn(ctx, client)
}

var errTimeout = errors.New("timed out waiting for the server")

// awaitView polls m until done reports true or an error, ctx ends, or
// timeout elapses.
func awaitView(ctx context.Context, m *mirror.Mirror, timeout time.Duration, done func(mirror.View) (bool, error)) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		ok, err := done(m.View())
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errTimeout
		case <-ticker.C:
		}
	}
}

// settled reports completion once the server has answered kind for
// identity. An error notice for that action raised after since is returned
// as the command's error.
func settled(m *mirror.Mirror, kind discovery.ActionKind, identity string, since int) func(mirror.View) (bool, error) {
	return func(v mirror.View) (bool, error) {
		if err := actionFailure(v.Notices, kind, identity, since); err != nil {
			return false, err
		}
		return !m.InFlight(kind, identity), nil
	}
}

func actionFailure(notices []mirror.Notice, kind discovery.ActionKind, identity string, since int) error {
	// The notice buffer is bounded; once it rotates every entry is a candidate.
	if since > len(notices) {
		since = 0
	}
	for _, n := range notices[since:] {
		if n.IsError && n.Action == kind && n.Identity == identity {
			return fmt.Errorf("%s failed: %s", kind, n.Message)
		}
	}
	return nil
}

// send issues one command and waits for the server to settle it.
func (c *commandContext) send(ctx context.Context, client *mirror.Client, kind discovery.ActionKind, identity string, issue func() error) error {
	since := len(client.Mirror().View().Notices)
	if err := issue(); err != nil {
		return describeSendError(kind, err)
	}
	err := awaitView(ctx, client.Mirror(), c.flags.timeout, settled(client.Mirror(), kind, identity, since))
	if errors.Is(err, errTimeout) {
		return fmt.Errorf("%s: no answer within %s", kind, c.flags.timeout)
	}
	return err
}

func describeSendError(kind discovery.ActionKind, err error) error {
	switch {
	case errors.Is(err, mirror.ErrNotAllowed):
		return fmt.Errorf("%s is not possible in the current session state", kind)
	case errors.Is(err, mirror.ErrNotConnected):
		return fmt.Errorf("%s: connection to the server was lost", kind)
	default:
		return fmt.Errorf("%s: %w", kind, err)
	}
}
