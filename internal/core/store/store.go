// Package store implements the graph metadata store: versioned entities,
// proxies, relationships and classifications over an engine backend, with
// type-aware search and graph traversal.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/agenthands/metastore/internal/core/index"
	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/query"
	"github.com/agenthands/metastore/internal/core/traversal"
	"github.com/agenthands/metastore/internal/engine"
	"github.com/agenthands/metastore/internal/logger"
	"github.com/agenthands/metastore/internal/metrics"
)

// Types is the read-only view of the type registry the store needs.
type Types interface {
	query.TypeResolver
	UniqueAttributes(name string) []string
}

type Options struct {
	// MetadataCollectionID stamps locally created instances. Reference
	// copies carrying it are refused.
	MetadataCollectionID string
	CaseInsensitive      bool
	StrictNone           bool
	// MaxPageSize caps every search page; zero leaves pages unbounded.
	MaxPageSize int
	// MaxRetries bounds how often a write is replanned after losing a race.
	MaxRetries       int
	TraversalTimeout time.Duration
	Log              zerolog.Logger
	Metrics          *metrics.Metrics
}

const defaultMaxRetries = 5

type GraphStore struct {
	eng        engine.Engine
	types      Types
	translator *query.Translator
	indexes    *index.Manager
	traverser  *traversal.Traverser
	opts       Options
	log        zerolog.Logger
	metrics    *metrics.Metrics
}

var _ MetadataStore = (*GraphStore)(nil)

func New(eng engine.Engine, types Types, opts Options) *GraphStore {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	base := opts.Log.With().Str("backend", eng.Name()).Logger()
	log := logger.Component(base, "store")
	return &GraphStore{
		eng:        eng,
		types:      types,
		translator: query.NewTranslator(types, query.Options{CaseInsensitive: opts.CaseInsensitive, StrictNone: opts.StrictNone}),
		indexes:    index.NewManager(eng, types, logger.Component(base, "index"), opts.Metrics),
		traverser: traversal.New(eng, types, traversal.Options{
			Timeout: opts.TraversalTimeout,
			Log:     logger.Component(base, "traversal"),
			Metrics: opts.Metrics,
		}),
		opts:    opts,
		log:     log,
		metrics: opts.Metrics,
	}
}

func (s *GraphStore) Engine() engine.Engine { return s.eng }

func (s *GraphStore) observe(op string, start time.Time, err *error) {
	s.metrics.RecordOperation(op, start, *err)
}

func (s *GraphStore) snapshot(ctx context.Context, op string) (engine.Snapshot, error) {
	snap, err := s.eng.Snapshot(ctx)
	if err != nil {
		return nil, model.Unavailable(op, err)
	}
	return snap, nil
}

// write plans a batch against a fresh snapshot and applies it, replanning
// when a concurrent commit moved one of the heads the plan relied on. A plan
// returning no mutations is a no-op.
func (s *GraphStore) write(ctx context.Context, op, guid string, plan func(snap engine.Snapshot) ([]engine.Mutation, error)) (engine.Commit, error) {
	for attempt := 0; ; attempt++ {
		snap, err := s.snapshot(ctx, op)
		if err != nil {
			return engine.Commit{}, err
		}
		muts, err := plan(snap)
		if err != nil {
			return engine.Commit{}, err
		}
		if len(muts) == 0 {
			return engine.Commit{}, nil
		}
		commit, err := s.eng.Apply(ctx, muts)
		if err == nil {
			s.log.Debug().Str("op", op).Str("guid", guid).Int64("seq", commit.Seq).Int("records", len(muts)).Msg("committed")
			return commit, nil
		}
		if !errors.Is(err, engine.ErrConflict) {
			return engine.Commit{}, model.Unavailable(op, err)
		}
		s.metrics.RecordConflict()
		if attempt >= s.opts.MaxRetries {
			return engine.Commit{}, model.Errorf(op, guid, model.ErrVersionConflict, "gave up after %d attempts", attempt+1)
		}
	}
}

// head reads the latest record of guid; nil when absent.
func head(ctx context.Context, snap engine.Snapshot, op string, group query.Group, guid string) (*engine.Record, error) {
	rec, err := snap.Head(ctx, group, guid)
	if err != nil {
		return nil, model.Unavailable(op, err)
	}
	return rec, nil
}

// current is head without tombstones.
func current(ctx context.Context, snap engine.Snapshot, op string, group query.Group, guid string) (*engine.Record, error) {
	rec, err := head(ctx, snap, op, group, guid)
	if err != nil || rec == nil || rec.Deleted() {
		return nil, err
	}
	return rec, nil
}

func seqOf(rec *engine.Record) int64 {
	if rec == nil {
		return 0
	}
	return rec.Seq
}

func versionOf(rec *engine.Record) int64 {
	if rec == nil {
		return 0
	}
	return rec.Version()
}

// now is the audit clock for create and update times.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
