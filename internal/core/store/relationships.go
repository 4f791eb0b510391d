package store

import (
	"context"
	"time"

	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/query"
	"github.com/agenthands/metastore/internal/engine"
)

// CreateRelationship stores a new relationship between two current
// entities or proxies. The batch also asserts both ends, so an end removed
// concurrently makes the write replan and fail instead of dangling.
func (s *GraphStore) CreateRelationship(ctx context.Context, in *model.Relationship) (out *model.Relationship, err error) {
	const op = "create relationship"
	defer s.observe("create_relationship", time.Now(), &err)

	if in == nil {
		return nil, model.Errorf(op, "", model.ErrInvalidCriteria, "nil relationship")
	}
	rel := in.Clone()
	rel.GUID = newGUID(rel.GUID)
	def, err := s.typeDef(op, rel.GUID, rel.TypeName, model.CategoryRelationship)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(op, rel.GUID, rel.Status); err != nil {
		return nil, err
	}
	if err := s.checkProperties(op, rel.GUID, rel.TypeName, rel.Properties); err != nil {
		return nil, err
	}

	commit, err := s.write(ctx, op, rel.GUID, func(snap engine.Snapshot) ([]engine.Mutation, error) {
		prev, err := head(ctx, snap, op, query.Relationships, rel.GUID)
		if err != nil {
			return nil, err
		}
		if prev != nil && !prev.Deleted() {
			if prev.TypeName() != rel.TypeName {
				return nil, typeConflict(op, rel.GUID, prev.TypeName(), rel.TypeName)
			}
			return nil, model.Errorf(op, rel.GUID, model.ErrDuplicateGUID, "")
		}
		end1, end2, asserts, err := s.resolveEnds(ctx, snap, op, def, rel)
		if err != nil {
			return nil, err
		}
		t := now()
		out = rel.Clone()
		out.End1, out.End2 = *end1, *end2
		out.Version = versionOf(prev) + 1
		out.Status = orActive(out.Status)
		out.MetadataCollectionID = s.opts.MetadataCollectionID
		out.CreateTime, out.UpdateTime = t, t
		muts := append(asserts, engine.Mutation{Group: query.Relationships, GUID: rel.GUID, Head: seqOf(prev), Relationship: out})
		return muts, nil
	})
	if err != nil {
		return nil, err
	}
	out.RecordedAt = commit.RecordedAt
	return out.Clone(), nil
}

// resolveEnds loads both ends, checks them against the relationship type
// and returns head assertions for them.
func (s *GraphStore) resolveEnds(ctx context.Context, snap engine.Snapshot, op string, def *model.TypeDef, rel *model.Relationship) (*model.EntityProxy, *model.EntityProxy, []engine.Mutation, error) {
	ends := []struct {
		ref      model.EntityProxy
		wantType string
	}{
		{rel.End1, def.End1Type},
		{rel.End2, def.End2Type},
	}
	var proxies [2]*model.EntityProxy
	var asserts []engine.Mutation
	for i, end := range ends {
		if end.ref.GUID == "" {
			return nil, nil, nil, model.Errorf(op, rel.GUID, model.ErrInvalidCriteria, "end %d has no guid", i+1)
		}
		rec, err := current(ctx, snap, op, query.Entities, end.ref.GUID)
		if err != nil {
			return nil, nil, nil, err
		}
		if rec == nil {
			return nil, nil, nil, model.Errorf(op, end.ref.GUID, model.ErrNotFound, "end %d of relationship %s", i+1, rel.GUID)
		}
		if end.wantType != "" && !s.types.IsTypeOf(rec.TypeName(), end.wantType) {
			return nil, nil, nil, model.Errorf(op, end.ref.GUID, model.ErrUnknownType, "end %d is a %s, %s needs a %s", i+1, rec.TypeName(), rel.TypeName, end.wantType)
		}
		proxies[i] = s.proxyOf(rec.Entity)
		if i == 1 && end.ref.GUID == ends[0].ref.GUID {
			continue
		}
		asserts = append(asserts, engine.Mutation{Group: query.Entities, GUID: end.ref.GUID, Head: rec.Seq})
	}
	return proxies[0], proxies[1], asserts, nil
}

func (s *GraphStore) GetRelationship(ctx context.Context, guid string) (out *model.Relationship, err error) {
	const op = "get relationship"
	defer s.observe("get_relationship", time.Now(), &err)

	snap, err := s.snapshot(ctx, op)
	if err != nil {
		return nil, err
	}
	rec, err := current(ctx, snap, op, query.Relationships, guid)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, model.Errorf(op, guid, model.ErrNotFound, "")
	}
	return rec.Relationship.Clone(), nil
}

// GetRelationshipsForEntity returns the current relationships with guid at
// either end, sorted by GUID. A relationship whose other end no longer
// resolves is reported, not skipped.
func (s *GraphStore) GetRelationshipsForEntity(ctx context.Context, guid string) (out []*model.Relationship, err error) {
	const op = "get relationships for entity"
	defer s.observe("get_relationships_for_entity", time.Now(), &err)

	snap, err := s.snapshot(ctx, op)
	if err != nil {
		return nil, err
	}
	rec, err := current(ctx, snap, op, query.Entities, guid)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, model.Errorf(op, guid, model.ErrNotFound, "")
	}
	recs, err := snap.RelationshipsFor(ctx, guid)
	if err != nil {
		return nil, model.Unavailable(op, err)
	}
	engine.SortByGUID(recs)
	out = make([]*model.Relationship, 0, len(recs))
	for _, r := range recs {
		other := r.Relationship.OtherEnd(guid)
		end, err := current(ctx, snap, op, query.Entities, other)
		if err != nil {
			return nil, err
		}
		if end == nil {
			return nil, model.Errorf(op, other, model.ErrNotFound, "end of relationship %s", r.GUID())
		}
		out = append(out, r.Relationship.Clone())
	}
	return out, nil
}

// UpdateRelationship writes a new version with the given properties and
// status. Ends cannot change.
func (s *GraphStore) UpdateRelationship(ctx context.Context, in *model.Relationship) (out *model.Relationship, err error) {
	const op = "update relationship"
	defer s.observe("update_relationship", time.Now(), &err)

	if in == nil || in.GUID == "" {
		return nil, model.Errorf(op, "", model.ErrInvalidCriteria, "relationship without a guid")
	}
	if err := checkStatus(op, in.GUID, in.Status); err != nil {
		return nil, err
	}
	commit, err := s.write(ctx, op, in.GUID, func(snap engine.Snapshot) ([]engine.Mutation, error) {
		prev, err := current(ctx, snap, op, query.Relationships, in.GUID)
		if err != nil {
			return nil, err
		}
		if prev == nil {
			return nil, model.Errorf(op, in.GUID, model.ErrNotFound, "")
		}
		if in.TypeName != "" && in.TypeName != prev.TypeName() {
			return nil, typeConflict(op, in.GUID, prev.TypeName(), in.TypeName)
		}
		stored := prev.Relationship
		if (in.End1.GUID != "" && in.End1.GUID != stored.End1.GUID) || (in.End2.GUID != "" && in.End2.GUID != stored.End2.GUID) {
			return nil, model.Errorf(op, in.GUID, model.ErrInvalidCriteria, "relationship ends cannot change")
		}
		if err := s.checkHomed(op, prev.Header()); err != nil {
			return nil, err
		}
		if err := s.checkProperties(op, in.GUID, prev.TypeName(), in.Properties); err != nil {
			return nil, err
		}
		out = stored.Clone()
		out.Properties = in.Properties.Clone()
		if in.Status != "" {
			out.Status = in.Status
		}
		out.UpdatedBy = in.UpdatedBy
		out.EffectiveFrom, out.EffectiveTo = in.EffectiveFrom, in.EffectiveTo
		out.Version++
		out.UpdateTime = now()
		return []engine.Mutation{{Group: query.Relationships, GUID: in.GUID, Head: prev.Seq, Relationship: out}}, nil
	})
	if err != nil {
		return nil, err
	}
	out.RecordedAt = commit.RecordedAt
	return out.Clone(), nil
}

// RemoveRelationship tombstones the relationship. Removing a removed
// relationship is a no-op.
func (s *GraphStore) RemoveRelationship(ctx context.Context, guid string) (err error) {
	const op = "remove relationship"
	defer s.observe("remove_relationship", time.Now(), &err)

	_, err = s.write(ctx, op, guid, func(snap engine.Snapshot) ([]engine.Mutation, error) {
		prev, err := head(ctx, snap, op, query.Relationships, guid)
		if err != nil {
			return nil, err
		}
		if prev == nil {
			return nil, model.Errorf(op, guid, model.ErrNotFound, "")
		}
		if prev.Deleted() {
			return nil, nil
		}
		return []engine.Mutation{relationshipTombstone(prev)}, nil
	})
	return err
}

func relationshipTombstone(rec *engine.Record) engine.Mutation {
	tomb := rec.Relationship.Clone()
	tomb.Version++
	tomb.Status = model.StatusDeleted
	tomb.UpdateTime = now()
	return engine.Mutation{Group: query.Relationships, GUID: tomb.GUID, Head: rec.Seq, Relationship: tomb}
}
