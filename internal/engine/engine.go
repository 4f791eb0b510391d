// Package engine defines the append-only, point-in-time store the metadata
// store runs on. Backends live in the sub-packages.
package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/query"
)

// ErrConflict is returned by Apply when a mutation's expected head no longer
// matches the stored history.
var ErrConflict = errors.New("engine: concurrent write conflict")

// Record is one immutable version of an instance. Seq orders records by
// commit; all records of one Apply share a Seq.
type Record struct {
	Seq          int64
	RecordedAt   time.Time
	Entity       *model.Entity
	Relationship *model.Relationship
}

func (r *Record) Group() query.Group {
	if r.Relationship != nil {
		return query.Relationships
	}
	return query.Entities
}

func (r *Record) Header() model.InstanceHeader {
	if r.Relationship != nil {
		return r.Relationship.InstanceHeader
	}
	return r.Entity.InstanceHeader
}

func (r *Record) GUID() string { return r.Header().GUID }
func (r *Record) Version() int64 { return r.Header().Version }
func (r *Record) Deleted() bool { return r.Header().IsDeleted() }
func (r *Record) TypeName() string { return r.Header().TypeName }

// Subject adapts the record for query evaluation.
func (r *Record) Subject() query.Subject {
	if r.Relationship != nil {
		return query.RelationshipSubject(r.Relationship)
	}
	return query.EntitySubject(r.Entity)
}

// Mutation appends one record for GUID. Head is the Seq of the latest record
// the caller planned against, zero when the GUID had none. A mutation without
// a payload only asserts Head.
type Mutation struct {
	Group        query.Group
	GUID         string
	Head         int64
	Entity       *model.Entity
	Relationship *model.Relationship
}

func (m Mutation) HasPayload() bool {
	return m.Entity != nil || m.Relationship != nil
}

// Commit identifies the transaction an Apply produced.
type Commit struct {
	Seq        int64
	RecordedAt time.Time
}

// IndexSpec names one attribute index. A spec with Classification set asks
// for classification membership lookups instead and names no property.
type IndexSpec struct {
	Group          query.Group
	TypeName       string
	Property       string
	Type           model.PrimitiveType
	Classification string
}

// Snapshot reads a fixed point in the history: nothing committed after it
// was taken is visible.
type Snapshot interface {
	Seq() int64
	// Head returns the latest record of guid, tombstones included, or nil.
	Head(ctx context.Context, group query.Group, guid string) (*Record, error)
	// History returns every record of guid, oldest first.
	History(ctx context.Context, group query.Group, guid string) ([]*Record, error)
	// Scan returns the non-deleted heads of plan.Group. The result may be a
	// superset of the plan's matches.
	Scan(ctx context.Context, plan *query.Plan) ([]*Record, error)
	// RelationshipsFor returns the non-deleted relationship heads with guid at
	// either end.
	RelationshipsFor(ctx context.Context, guid string) ([]*Record, error)
}

// Engine is a backend. Apply is atomic: either every mutation is recorded
// under one commit or none is.
type Engine interface {
	Name() string
	Snapshot(ctx context.Context) (Snapshot, error)
	Apply(ctx context.Context, muts []Mutation) (Commit, error)
	EnsureIndex(ctx context.Context, spec IndexSpec) error
	Ping(ctx context.Context) error
	Close() error
}

// Stamp copies the commit coordinates into a mutation's payload.
func Stamp(m Mutation, c Commit) *Record {
	rec := &Record{Seq: c.Seq, RecordedAt: c.RecordedAt}
	if m.Relationship != nil {
		rec.Relationship = m.Relationship.Clone()
		rec.Relationship.RecordedAt = c.RecordedAt
	} else {
		rec.Entity = m.Entity.Clone()
		rec.Entity.RecordedAt = c.RecordedAt
	}
	return rec
}

// Now is the transaction clock: UTC, millisecond precision and never behind
// last.
func Now(last time.Time) time.Time {
	now := time.Now().UTC().Truncate(time.Millisecond)
	if now.Before(last) {
		return last
	}
	return now
}

// Matching applies the plan's exact semantics to scanned records and sorts
// the survivors by GUID.
func Matching(recs []*Record, plan *query.Plan) []*Record {
	out := recs[:0]
	for _, r := range recs {
		if plan.Matches(r.Subject()) {
			out = append(out, r)
		}
	}
	SortByGUID(out)
	return out
}

func SortByGUID(recs []*Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].GUID() < recs[j].GUID() })
}
