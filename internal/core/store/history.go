package store

import (
	"context"
	"time"

	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/query"
	"github.com/agenthands/metastore/internal/engine"
)

func (s *GraphStore) history(ctx context.Context, op string, group query.Group, guid string) ([]*engine.Record, error) {
	snap, err := s.snapshot(ctx, op)
	if err != nil {
		return nil, err
	}
	recs, err := snap.History(ctx, group, guid)
	if err != nil {
		return nil, model.Unavailable(op, err)
	}
	if len(recs) == 0 {
		return nil, model.Errorf(op, guid, model.ErrNotFound, "")
	}
	return recs, nil
}

// asOf picks the last record committed at or before t.
func asOf(recs []*engine.Record, t time.Time) *engine.Record {
	var found *engine.Record
	for _, r := range recs {
		if r.RecordedAt.After(t) {
			break
		}
		found = r
	}
	return found
}

// GetEntityAsOf returns the version of the entity that was current at
// transaction time t, tombstones and proxies included.
func (s *GraphStore) GetEntityAsOf(ctx context.Context, guid string, t time.Time) (out *model.Entity, err error) {
	const op = "get entity as of"
	defer s.observe("get_entity_as_of", time.Now(), &err)

	recs, err := s.history(ctx, op, query.Entities, guid)
	if err != nil {
		return nil, err
	}
	rec := asOf(recs, t)
	if rec == nil {
		return nil, model.Errorf(op, guid, model.ErrNotFound, "not recorded by %s", t.Format(time.RFC3339Nano))
	}
	return rec.Entity.Clone(), nil
}

func (s *GraphStore) GetRelationshipAsOf(ctx context.Context, guid string, t time.Time) (out *model.Relationship, err error) {
	const op = "get relationship as of"
	defer s.observe("get_relationship_as_of", time.Now(), &err)

	recs, err := s.history(ctx, op, query.Relationships, guid)
	if err != nil {
		return nil, err
	}
	rec := asOf(recs, t)
	if rec == nil {
		return nil, model.Errorf(op, guid, model.ErrNotFound, "not recorded by %s", t.Format(time.RFC3339Nano))
	}
	return rec.Relationship.Clone(), nil
}

// GetEntityHistory returns every stored version, oldest first.
func (s *GraphStore) GetEntityHistory(ctx context.Context, guid string) (out []*model.Entity, err error) {
	defer s.observe("get_entity_history", time.Now(), &err)

	recs, err := s.history(ctx, "get entity history", query.Entities, guid)
	if err != nil {
		return nil, err
	}
	out = make([]*model.Entity, len(recs))
	for i, r := range recs {
		out[i] = r.Entity.Clone()
	}
	return out, nil
}

func (s *GraphStore) GetRelationshipHistory(ctx context.Context, guid string) (out []*model.Relationship, err error) {
	defer s.observe("get_relationship_history", time.Now(), &err)

	recs, err := s.history(ctx, "get relationship history", query.Relationships, guid)
	if err != nil {
		return nil, err
	}
	out = make([]*model.Relationship, len(recs))
	for i, r := range recs {
		out[i] = r.Relationship.Clone()
	}
	return out, nil
}
