package store

import (
	"context"
	"time"

	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/query"
	"github.com/agenthands/metastore/internal/engine"
)

// CreateEntity stores the first version of a new entity. A GUID held only
// as a proxy of the same type is promoted; any other current holder of the
// GUID is a duplicate.
func (s *GraphStore) CreateEntity(ctx context.Context, in *model.Entity) (out *model.Entity, err error) {
	const op = "create entity"
	defer s.observe("create_entity", time.Now(), &err)

	if in == nil {
		return nil, model.Errorf(op, "", model.ErrInvalidCriteria, "nil entity")
	}
	ent := in.Clone()
	ent.GUID = newGUID(ent.GUID)
	if _, err := s.typeDef(op, ent.GUID, ent.TypeName, model.CategoryEntity); err != nil {
		return nil, err
	}
	if err := checkStatus(op, ent.GUID, ent.Status); err != nil {
		return nil, err
	}
	if err := s.checkProperties(op, ent.GUID, ent.TypeName, ent.Properties); err != nil {
		return nil, err
	}
	for _, c := range ent.Classifications {
		if err := s.checkClassification(op, ent.GUID, ent.TypeName, c); err != nil {
			return nil, err
		}
	}

	commit, err := s.write(ctx, op, ent.GUID, func(snap engine.Snapshot) ([]engine.Mutation, error) {
		prev, err := head(ctx, snap, op, query.Entities, ent.GUID)
		if err != nil {
			return nil, err
		}
		if prev != nil && !prev.Deleted() {
			if prev.TypeName() != ent.TypeName {
				return nil, typeConflict(op, ent.GUID, prev.TypeName(), ent.TypeName)
			}
			if !prev.Entity.IsProxy {
				return nil, model.Errorf(op, ent.GUID, model.ErrDuplicateGUID, "")
			}
		}
		out = s.stampNew(ent, versionOf(prev)+1)
		return []engine.Mutation{{Group: query.Entities, GUID: ent.GUID, Head: seqOf(prev), Entity: out}}, nil
	})
	if err != nil {
		return nil, err
	}
	out.RecordedAt = commit.RecordedAt
	return out.Clone(), nil
}

// stampNew fills the store-assigned header fields of a locally created
// entity.
func (s *GraphStore) stampNew(in *model.Entity, version int64) *model.Entity {
	ent := in.Clone()
	t := now()
	ent.Version = version
	ent.Status = orActive(ent.Status)
	ent.MetadataCollectionID = s.opts.MetadataCollectionID
	ent.CreateTime, ent.UpdateTime = t, t
	ent.IsProxy = false
	for i := range ent.Classifications {
		c := &ent.Classifications[i]
		c.Version = 1
		c.Status = orActive(c.Status)
		c.CreateTime, c.UpdateTime = t, t
	}
	return ent
}

// CreateEntityProxy records a reference-only entity. Proxying a GUID that
// already has a current entity or proxy of the same type changes nothing.
func (s *GraphStore) CreateEntityProxy(ctx context.Context, p *model.EntityProxy) (err error) {
	const op = "create entity proxy"
	defer s.observe("create_entity_proxy", time.Now(), &err)

	if p == nil || p.GUID == "" {
		return model.Errorf(op, "", model.ErrInvalidCriteria, "proxy without a guid")
	}
	if _, err := s.typeDef(op, p.GUID, p.TypeName, model.CategoryEntity); err != nil {
		return err
	}
	if err := s.checkProperties(op, p.GUID, p.TypeName, p.UniqueProperties); err != nil {
		return err
	}
	_, err = s.write(ctx, op, p.GUID, func(snap engine.Snapshot) ([]engine.Mutation, error) {
		prev, err := head(ctx, snap, op, query.Entities, p.GUID)
		if err != nil {
			return nil, err
		}
		if prev != nil && !prev.Deleted() {
			if prev.TypeName() != p.TypeName {
				return nil, typeConflict(op, p.GUID, prev.TypeName(), p.TypeName)
			}
			return nil, nil
		}
		return []engine.Mutation{{Group: query.Entities, GUID: p.GUID, Head: seqOf(prev), Entity: s.proxyEntity(p, versionOf(prev)+1)}}, nil
	})
	return err
}

func (s *GraphStore) proxyEntity(p *model.EntityProxy, version int64) *model.Entity {
	ent := model.EntityFromProxy(p)
	ent.Version = version
	ent.Status = model.StatusActive
	if ent.MetadataCollectionID == "" {
		ent.MetadataCollectionID = s.opts.MetadataCollectionID
	}
	if ent.CreateTime.IsZero() {
		t := now()
		ent.CreateTime, ent.UpdateTime = t, t
	}
	return ent
}

func (s *GraphStore) GetEntity(ctx context.Context, guid string) (out *model.Entity, err error) {
	const op = "get entity"
	defer s.observe("get_entity", time.Now(), &err)

	rec, err := s.currentEntity(ctx, op, guid)
	if err != nil {
		return nil, err
	}
	if rec.Entity.IsProxy {
		return nil, model.Errorf(op, guid, model.ErrProxyOnly, "")
	}
	return rec.Entity.Clone(), nil
}

func (s *GraphStore) GetEntitySummary(ctx context.Context, guid string) (out *model.EntitySummary, err error) {
	defer s.observe("get_entity_summary", time.Now(), &err)

	rec, err := s.currentEntity(ctx, "get entity summary", guid)
	if err != nil {
		return nil, err
	}
	return rec.Entity.Summary(), nil
}

func (s *GraphStore) GetEntityProxy(ctx context.Context, guid string) (out *model.EntityProxy, err error) {
	defer s.observe("get_entity_proxy", time.Now(), &err)

	rec, err := s.currentEntity(ctx, "get entity proxy", guid)
	if err != nil {
		return nil, err
	}
	return s.proxyOf(rec.Entity), nil
}

// proxyOf reduces an entity to its unique properties. A stored proxy
// already holds nothing else.
func (s *GraphStore) proxyOf(e *model.Entity) *model.EntityProxy {
	if e.IsProxy {
		return &model.EntityProxy{InstanceHeader: e.InstanceHeader, UniqueProperties: e.Properties.Clone()}
	}
	return e.Proxy(s.types.UniqueAttributes(e.TypeName))
}

func (s *GraphStore) currentEntity(ctx context.Context, op, guid string) (*engine.Record, error) {
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
	return rec, nil
}

// UpdateEntity writes a new version with the given properties and status.
// Classifications and audit fields carry over from the stored version.
func (s *GraphStore) UpdateEntity(ctx context.Context, in *model.Entity) (out *model.Entity, err error) {
	const op = "update entity"
	defer s.observe("update_entity", time.Now(), &err)

	if in == nil || in.GUID == "" {
		return nil, model.Errorf(op, "", model.ErrInvalidCriteria, "entity without a guid")
	}
	if err := checkStatus(op, in.GUID, in.Status); err != nil {
		return nil, err
	}
	commit, err := s.write(ctx, op, in.GUID, func(snap engine.Snapshot) ([]engine.Mutation, error) {
		prev, err := current(ctx, snap, op, query.Entities, in.GUID)
		if err != nil {
			return nil, err
		}
		if prev == nil {
			return nil, model.Errorf(op, in.GUID, model.ErrNotFound, "")
		}
		if prev.Entity.IsProxy {
			return nil, model.Errorf(op, in.GUID, model.ErrProxyOnly, "")
		}
		if in.TypeName != "" && in.TypeName != prev.TypeName() {
			return nil, typeConflict(op, in.GUID, prev.TypeName(), in.TypeName)
		}
		if err := s.checkHomed(op, prev.Header()); err != nil {
			return nil, err
		}
		if err := s.checkProperties(op, in.GUID, prev.TypeName(), in.Properties); err != nil {
			return nil, err
		}
		out = prev.Entity.Clone()
		out.Properties = in.Properties.Clone()
		if in.Status != "" {
			out.Status = in.Status
		}
		out.UpdatedBy = in.UpdatedBy
		out.EffectiveFrom, out.EffectiveTo = in.EffectiveFrom, in.EffectiveTo
		bump(out)
		return []engine.Mutation{{Group: query.Entities, GUID: in.GUID, Head: prev.Seq, Entity: out}}, nil
	})
	if err != nil {
		return nil, err
	}
	out.RecordedAt = commit.RecordedAt
	return out.Clone(), nil
}

func bump(e *model.Entity) {
	e.Version++
	e.UpdateTime = now()
}

// RemoveEntity tombstones the entity and every current relationship that
// touches it, in one commit. Removing a removed entity is a no-op.
func (s *GraphStore) RemoveEntity(ctx context.Context, guid string) (err error) {
	const op = "remove entity"
	defer s.observe("remove_entity", time.Now(), &err)

	_, err = s.write(ctx, op, guid, func(snap engine.Snapshot) ([]engine.Mutation, error) {
		prev, err := head(ctx, snap, op, query.Entities, guid)
		if err != nil {
			return nil, err
		}
		if prev == nil {
			return nil, model.Errorf(op, guid, model.ErrNotFound, "")
		}
		if prev.Deleted() {
			return nil, nil
		}
		tomb := prev.Entity.Clone()
		bump(tomb)
		tomb.Status = model.StatusDeleted
		muts := []engine.Mutation{{Group: query.Entities, GUID: guid, Head: prev.Seq, Entity: tomb}}

		rels, err := snap.RelationshipsFor(ctx, guid)
		if err != nil {
			return nil, model.Unavailable(op, err)
		}
		for _, r := range rels {
			muts = append(muts, relationshipTombstone(r))
		}
		return muts, nil
	})
	return err
}
