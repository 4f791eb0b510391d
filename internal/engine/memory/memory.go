// Package memory is an in-process engine: an append-only record log per GUID
// with a commit watermark. Snapshots read the log up to their watermark, so
// they never block writers.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agenthands/metastore/internal/core/query"
	"github.com/agenthands/metastore/internal/engine"
)

type Engine struct {
	mu      sync.RWMutex
	seq     int64
	last    time.Time
	logs    map[query.Group]map[string][]*engine.Record
	indexes map[engine.IndexSpec]struct{}
	closed  bool
}

func New() *Engine {
	return &Engine{
		logs: map[query.Group]map[string][]*engine.Record{
			query.Entities:      {},
			query.Relationships: {},
		},
		indexes: map[engine.IndexSpec]struct{}{},
	}
}

func (e *Engine) Name() string { return "memory" }

func (e *Engine) Ping(context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("memory engine closed")
	}
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

// EnsureIndex only records the request; lookups are map-keyed already.
func (e *Engine) EnsureIndex(ctx context.Context, spec engine.IndexSpec) error {
	if err := e.Ping(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	e.indexes[spec] = struct{}{}
	e.mu.Unlock()
	return nil
}

// Indexes reports how many distinct index specs were requested.
func (e *Engine) Indexes() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.indexes)
}

func (e *Engine) Apply(ctx context.Context, muts []engine.Mutation) (engine.Commit, error) {
	if err := engine.CheckBatch(muts); err != nil {
		return engine.Commit{}, err
	}
	if err := ctx.Err(); err != nil {
		return engine.Commit{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return engine.Commit{}, fmt.Errorf("memory engine closed")
	}
	for _, m := range muts {
		var head int64
		if log := e.logs[m.Group][m.GUID]; len(log) > 0 {
			head = log[len(log)-1].Seq
		}
		if head != m.Head {
			return engine.Commit{}, fmt.Errorf("%w: %s %s at %d, expected %d", engine.ErrConflict, m.Group, m.GUID, head, m.Head)
		}
	}
	e.seq++
	e.last = engine.Now(e.last)
	commit := engine.Commit{Seq: e.seq, RecordedAt: e.last}
	for _, m := range muts {
		if !m.HasPayload() {
			continue
		}
		e.logs[m.Group][m.GUID] = append(e.logs[m.Group][m.GUID], engine.Stamp(m, commit))
	}
	return commit, nil
}

func (e *Engine) Snapshot(ctx context.Context) (engine.Snapshot, error) {
	if err := e.Ping(ctx); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return &snapshot{e: e, seq: e.seq}, nil
}

type snapshot struct {
	e   *Engine
	seq int64
}

func (s *snapshot) Seq() int64 { return s.seq }

// visible returns the prefix of log committed at or before the watermark.
// Callers hold the read lock.
func (s *snapshot) visible(log []*engine.Record) []*engine.Record {
	n := len(log)
	for n > 0 && log[n-1].Seq > s.seq {
		n--
	}
	return log[:n]
}

func (s *snapshot) head(group query.Group, guid string) *engine.Record {
	log := s.visible(s.e.logs[group][guid])
	if len(log) == 0 {
		return nil
	}
	return log[len(log)-1]
}

func (s *snapshot) Head(ctx context.Context, group query.Group, guid string) (*engine.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.e.mu.RLock()
	defer s.e.mu.RUnlock()
	return s.head(group, guid), nil
}

func (s *snapshot) History(ctx context.Context, group query.Group, guid string) ([]*engine.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.e.mu.RLock()
	defer s.e.mu.RUnlock()
	log := s.visible(s.e.logs[group][guid])
	return append([]*engine.Record(nil), log...), nil
}

func (s *snapshot) Scan(ctx context.Context, plan *query.Plan) ([]*engine.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.e.mu.RLock()
	defer s.e.mu.RUnlock()
	var out []*engine.Record
	for guid := range s.e.logs[plan.Group] {
		if r := s.head(plan.Group, guid); r != nil && !r.Deleted() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *snapshot) RelationshipsFor(ctx context.Context, guid string) ([]*engine.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.e.mu.RLock()
	defer s.e.mu.RUnlock()
	var out []*engine.Record
	for rguid := range s.e.logs[query.Relationships] {
		r := s.head(query.Relationships, rguid)
		if r != nil && !r.Deleted() && r.Relationship.Touches(guid) {
			out = append(out, r)
		}
	}
	engine.SortByGUID(out)
	return out, nil
}
