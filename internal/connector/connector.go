// Package connector owns the lifecycle of a metadata store: it opens the
// configured backend, hands out the store while running and closes the
// backend on stop.
package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agenthands/metastore/internal/config"
	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/store"
	"github.com/agenthands/metastore/internal/engine"
	"github.com/agenthands/metastore/internal/logger"
	"github.com/agenthands/metastore/internal/metrics"
)

type State int

const (
	Uninitialized State = iota
	Starting
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrNotRunning = errors.New("connector is not running")
	ErrStopped    = errors.New("connector was stopped")
)

type Option func(*Connector)

func WithLogger(log zerolog.Logger) Option {
	return func(c *Connector) { c.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Connector) { c.metrics = m }
}

// WithOpener replaces NewEngine.
func WithOpener(open Opener) Option {
	return func(c *Connector) { c.open = open }
}

type Connector struct {
	mu      sync.Mutex
	state   State
	cfg     *config.Config
	types   store.Types
	open    Opener
	log     zerolog.Logger
	metrics *metrics.Metrics

	eng   engine.Engine
	store *store.GraphStore
}

func New(cfg *config.Config, types store.Types, opts ...Option) *Connector {
	c := &Connector{cfg: cfg, types: types, open: NewEngine, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.Component(c.log, "connector")
	return c
}

func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start opens and pings the backend within store.startup_timeout. Starting
// a running connector does nothing; a failed start leaves it
// uninitialized so it can be retried.
func (c *Connector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Running:
		return nil
	case Stopped:
		return ErrStopped
	}
	c.state = Starting

	if d := c.cfg.Store.StartupTimeout.Duration; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	eng, err := c.open(ctx, c.cfg, c.log)
	if err != nil {
		c.state = Uninitialized
		return model.Unavailable("start connector", err)
	}
	if err := eng.Ping(ctx); err != nil {
		eng.Close()
		c.state = Uninitialized
		return model.Unavailable("start connector", err)
	}

	c.eng = eng
	c.store = store.New(eng, c.types, store.Options{
		MetadataCollectionID: c.cfg.Store.MetadataCollectionID,
		CaseInsensitive:      c.cfg.Search.CaseInsensitive,
		StrictNone:           c.cfg.Search.StrictNone,
		MaxPageSize:          c.cfg.Search.MaxPageSize,
		MaxRetries:           c.cfg.Store.MaxRetries,
		TraversalTimeout:     c.cfg.Traversal.Timeout.Duration,
		Log:                  c.log,
		Metrics:              c.metrics,
	})
	c.state = Running
	c.log.Info().Str("backend", eng.Name()).Str("collection", c.cfg.Store.MetadataCollectionID).Msg("connector started")
	return nil
}

// Stop closes the backend. Stopping twice, or stopping a connector that
// never started, does nothing.
func (c *Connector) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Running {
		if c.state == Uninitialized {
			c.state = Stopped
		}
		return nil
	}
	c.state = Stopped
	c.store = nil
	err := c.eng.Close()
	c.eng = nil
	if err != nil {
		return fmt.Errorf("failed to close %s backend: %w", c.cfg.Store.Backend, err)
	}
	c.log.Info().Msg("connector stopped")
	return nil
}

// Store returns the running store.
func (c *Connector) Store() (*store.GraphStore, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, c.state)
	}
	return c.store, nil
}
