// Package traversal walks the relationship graph of one snapshot: bounded
// breadth-first subgraph extraction and simple-path enumeration.
package traversal

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/query"
	"github.com/agenthands/metastore/internal/engine"
	"github.com/agenthands/metastore/internal/metrics"
)

// TypeChecker decides type filter membership; subtypes of a listed type
// match too.
type TypeChecker interface {
	IsTypeOf(name, ancestor string) bool
}

type Options struct {
	// Timeout bounds one traversal on top of the caller's context. Zero
	// means no extra bound.
	Timeout time.Duration
	Log     zerolog.Logger
	Metrics *metrics.Metrics
}

type Traverser struct {
	eng   engine.Engine
	types TypeChecker
	opts  Options
}

func New(eng engine.Engine, types TypeChecker, opts Options) *Traverser {
	return &Traverser{eng: eng, types: types, opts: opts}
}

type SubGraphRequest struct {
	EntityGUID        string
	EntityTypes       []string
	RelationshipTypes []string
	Statuses          []model.InstanceStatus
	Classifications   []string
	// MaxLevel is the hop bound; negative expands until nothing new is found.
	MaxLevel int
}

type PathsRequest struct {
	From     string
	To       string
	Statuses []model.InstanceStatus
	// MaxPaths <= 0 returns every path; MaxDepth < 0 bounds paths only by
	// the no-revisit rule.
	MaxPaths int
	MaxDepth int
}

// walk holds the reads of one traversal. Every read goes through the same
// snapshot, so concurrent writes after it was taken stay invisible.
type walk struct {
	op       string
	snap     engine.Snapshot
	entities map[string]*model.Entity
	rels     map[string][]*model.Relationship
}

func (t *Traverser) begin(ctx context.Context, op string) (context.Context, context.CancelFunc, *walk, error) {
	cancel := context.CancelFunc(func() {})
	if t.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.opts.Timeout)
	}
	snap, err := t.eng.Snapshot(ctx)
	if err != nil {
		cancel()
		return nil, nil, nil, model.Unavailable(op, err)
	}
	return ctx, cancel, &walk{
		op:       op,
		snap:     snap,
		entities: map[string]*model.Entity{},
		rels:     map[string][]*model.Relationship{},
	}, nil
}

// entity resolves a GUID that must exist: a missing or deleted entity
// reached through a relationship is a structural fault, not an omission.
func (w *walk) entity(ctx context.Context, guid string) (*model.Entity, error) {
	if e, ok := w.entities[guid]; ok {
		return e, nil
	}
	rec, err := w.snap.Head(ctx, query.Entities, guid)
	if err != nil {
		return nil, model.Unavailable(w.op, err)
	}
	if rec == nil || rec.Deleted() {
		return nil, model.Errorf(w.op, guid, model.ErrNotFound, "")
	}
	e := rec.Entity.Clone()
	w.entities[guid] = e
	return e, nil
}

// live fails once the traversal's deadline has passed. Cached reads never
// touch the engine, so loops check it per item rather than per read.
func (w *walk) live(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return model.Unavailable(w.op, err)
	}
	return nil
}

func (w *walk) relationships(ctx context.Context, guid string) ([]*model.Relationship, error) {
	if rs, ok := w.rels[guid]; ok {
		return rs, nil
	}
	if err := w.live(ctx); err != nil {
		return nil, err
	}
	recs, err := w.snap.RelationshipsFor(ctx, guid)
	if err != nil {
		return nil, model.Unavailable(w.op, err)
	}
	engine.SortByGUID(recs)
	out := make([]*model.Relationship, len(recs))
	for i, r := range recs {
		out[i] = r.Relationship.Clone()
	}
	w.rels[guid] = out
	return out, nil
}

func statusAllowed(statuses []model.InstanceStatus, s model.InstanceStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, allowed := range statuses {
		if allowed == s {
			return true
		}
	}
	return false
}

func (t *Traverser) typeAllowed(filter []string, name string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == name || (t.types != nil && t.types.IsTypeOf(name, f)) {
			return true
		}
	}
	return false
}

func classified(filter []string, e *model.Entity) bool {
	if len(filter) == 0 {
		return true
	}
	for _, name := range filter {
		if c, ok := e.Classification(name); ok && c.Status != model.StatusDeleted {
			return true
		}
	}
	return false
}

// SubGraph returns the start entity, every entity admitted within MaxLevel
// hops over admitted relationships, and the admitted relationships whose
// both ends are in the result. A failed read aborts the whole traversal.
func (t *Traverser) SubGraph(ctx context.Context, req SubGraphRequest) (*model.InstanceGraph, error) {
	const op = "get subgraph"
	ctx, cancel, w, err := t.begin(ctx, op)
	if err != nil {
		return nil, err
	}
	defer cancel()

	start, err := w.entity(ctx, req.EntityGUID)
	if err != nil {
		return nil, err
	}
	if req.MaxLevel == 0 {
		return &model.InstanceGraph{Entities: []*model.Entity{start}, Relationships: []*model.Relationship{}}, nil
	}
	admitRel := func(r *model.Relationship) bool {
		return t.typeAllowed(req.RelationshipTypes, r.TypeName) && statusAllowed(req.Statuses, r.Status)
	}

	included := map[string]*model.Entity{start.GUID: start}
	rejected := map[string]bool{}
	frontier := []string{start.GUID}
	for level := 0; len(frontier) > 0 && (req.MaxLevel < 0 || level < req.MaxLevel); level++ {
		var next []string
		for _, guid := range frontier {
			if err := w.live(ctx); err != nil {
				return nil, t.abort(op, req.EntityGUID, err)
			}
			rels, err := w.relationships(ctx, guid)
			if err != nil {
				return nil, t.abort(op, req.EntityGUID, err)
			}
			for _, r := range rels {
				if !admitRel(r) {
					continue
				}
				other := r.OtherEnd(guid)
				if _, seen := included[other]; seen || rejected[other] {
					continue
				}
				e, err := w.entity(ctx, other)
				if err != nil {
					return nil, t.abort(op, req.EntityGUID, err)
				}
				if !t.typeAllowed(req.EntityTypes, e.TypeName) || !classified(req.Classifications, e) {
					rejected[other] = true
					continue
				}
				included[other] = e
				next = append(next, other)
			}
		}
		sort.Strings(next)
		frontier = next
	}

	g := &model.InstanceGraph{Entities: make([]*model.Entity, 0, len(included)), Relationships: []*model.Relationship{}}
	seenRel := map[string]bool{}
	for guid, e := range included {
		if err := w.live(ctx); err != nil {
			return nil, t.abort(op, req.EntityGUID, err)
		}
		g.Entities = append(g.Entities, e)
		rels, err := w.relationships(ctx, guid)
		if err != nil {
			return nil, t.abort(op, req.EntityGUID, err)
		}
		for _, r := range rels {
			if seenRel[r.GUID] || !admitRel(r) {
				continue
			}
			_, in1 := included[r.End1.GUID]
			_, in2 := included[r.End2.GUID]
			if in1 && in2 {
				seenRel[r.GUID] = true
				g.Relationships = append(g.Relationships, r)
			}
		}
	}
	g.Sort()
	t.opts.Metrics.RecordTraversal("subgraph", len(included))
	return g, nil
}

type partial struct {
	nodes []string
	rels  []*model.Relationship
}

func (p partial) visits(guid string) bool {
	for _, n := range p.nodes {
		if n == guid {
			return true
		}
	}
	return false
}

func (p partial) extend(r *model.Relationship, guid string) partial {
	nodes := make([]string, len(p.nodes), len(p.nodes)+1)
	copy(nodes, p.nodes)
	rels := make([]*model.Relationship, len(p.rels), len(p.rels)+1)
	copy(rels, p.rels)
	return partial{nodes: append(nodes, guid), rels: append(rels, r)}
}

func (p partial) guids() []string {
	out := make([]string, 0, len(p.nodes)+len(p.rels))
	for i, n := range p.nodes {
		out = append(out, n)
		if i < len(p.rels) {
			out = append(out, p.rels[i].GUID)
		}
	}
	return out
}

func lessGUIDs(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// Paths enumerates simple paths from From to To, shortest first; paths of
// equal length are ordered by their GUID sequence. Paths are expanded one
// hop per round, so the search stops as soon as MaxPaths are known.
func (t *Traverser) Paths(ctx context.Context, req PathsRequest) ([]*model.Path, error) {
	const op = "get paths"
	ctx, cancel, w, err := t.begin(ctx, op)
	if err != nil {
		return nil, err
	}
	defer cancel()

	from, err := w.entity(ctx, req.From)
	if err != nil {
		return nil, err
	}
	if _, err := w.entity(ctx, req.To); err != nil {
		return nil, err
	}
	if req.From == req.To {
		return []*model.Path{{Entities: []*model.Entity{from}}}, nil
	}

	var found []partial
	expanded := 0
	frontier := []partial{{nodes: []string{req.From}}}
	for depth := 1; len(frontier) > 0 && (req.MaxDepth < 0 || depth <= req.MaxDepth); depth++ {
		var next, reached []partial
		for _, p := range frontier {
			if err := w.live(ctx); err != nil {
				return nil, t.abort(op, req.From, err)
			}
			last := p.nodes[len(p.nodes)-1]
			rels, err := w.relationships(ctx, last)
			if err != nil {
				return nil, t.abort(op, req.From, err)
			}
			expanded++
			for _, r := range rels {
				if !statusAllowed(req.Statuses, r.Status) {
					continue
				}
				other := r.OtherEnd(last)
				if p.visits(other) {
					continue
				}
				np := p.extend(r, other)
				if other == req.To {
					reached = append(reached, np)
				} else {
					next = append(next, np)
				}
			}
		}
		sort.Slice(reached, func(i, j int) bool { return lessGUIDs(reached[i].guids(), reached[j].guids()) })
		found = append(found, reached...)
		if req.MaxPaths > 0 && len(found) >= req.MaxPaths {
			found = found[:req.MaxPaths]
			break
		}
		frontier = next
	}

	out := make([]*model.Path, 0, len(found))
	for _, p := range found {
		path := &model.Path{Relationships: p.rels}
		for _, guid := range p.nodes {
			e, err := w.entity(ctx, guid)
			if err != nil {
				return nil, t.abort(op, req.From, err)
			}
			path.Entities = append(path.Entities, e)
		}
		out = append(out, path)
	}
	t.opts.Metrics.RecordTraversal("paths", expanded)
	return out, nil
}

func (t *Traverser) abort(op, start string, err error) error {
	t.opts.Log.Error().Err(err).Str("op", op).Str("start", start).Msg("traversal aborted")
	return err
}
