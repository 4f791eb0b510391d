package store

import (
	"context"
	"time"

	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/query"
	"github.com/agenthands/metastore/internal/engine"
)

// SaveEntityReferenceCopy stores an entity homed in another collection.
// Copies not newer than the stored version are skipped; a stored proxy is
// always replaced.
func (s *GraphStore) SaveEntityReferenceCopy(ctx context.Context, in *model.Entity) (err error) {
	const op = "save entity reference copy"
	defer s.observe("save_entity_reference_copy", time.Now(), &err)

	if in == nil {
		return model.Errorf(op, "", model.ErrInvalidCriteria, "nil entity")
	}
	if err := s.checkReferenceCopy(op, in.InstanceHeader); err != nil {
		return err
	}
	if _, err := s.typeDef(op, in.GUID, in.TypeName, model.CategoryEntity); err != nil {
		return err
	}
	if err := s.checkProperties(op, in.GUID, in.TypeName, in.Properties); err != nil {
		return err
	}
	_, err = s.write(ctx, op, in.GUID, func(snap engine.Snapshot) ([]engine.Mutation, error) {
		prev, err := head(ctx, snap, op, query.Entities, in.GUID)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			if !prev.Deleted() && prev.TypeName() != in.TypeName {
				return nil, typeConflict(op, in.GUID, prev.TypeName(), in.TypeName)
			}
			if !prev.Entity.IsProxy && prev.Version() >= in.Version {
				s.log.Debug().Str("guid", in.GUID).Int64("stored", prev.Version()).Int64("incoming", in.Version).Msg("stale reference copy skipped")
				return nil, nil
			}
		}
		ent := in.Clone()
		ent.IsProxy = false
		return []engine.Mutation{{Group: query.Entities, GUID: in.GUID, Head: seqOf(prev), Entity: ent}}, nil
	})
	return err
}

// SaveRelationshipReferenceCopy stores a relationship homed in another
// collection. Ends the store does not hold are created as proxies from the
// copy's end references in the same commit.
func (s *GraphStore) SaveRelationshipReferenceCopy(ctx context.Context, in *model.Relationship) (err error) {
	const op = "save relationship reference copy"
	defer s.observe("save_relationship_reference_copy", time.Now(), &err)

	if in == nil {
		return model.Errorf(op, "", model.ErrInvalidCriteria, "nil relationship")
	}
	if err := s.checkReferenceCopy(op, in.InstanceHeader); err != nil {
		return err
	}
	def, err := s.typeDef(op, in.GUID, in.TypeName, model.CategoryRelationship)
	if err != nil {
		return err
	}
	if err := s.checkProperties(op, in.GUID, in.TypeName, in.Properties); err != nil {
		return err
	}
	for i, end := range []model.EntityProxy{in.End1, in.End2} {
		if end.GUID == "" {
			return model.Errorf(op, in.GUID, model.ErrInvalidCriteria, "end %d has no guid", i+1)
		}
	}
	_, err = s.write(ctx, op, in.GUID, func(snap engine.Snapshot) ([]engine.Mutation, error) {
		prev, err := head(ctx, snap, op, query.Relationships, in.GUID)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			if !prev.Deleted() && prev.TypeName() != in.TypeName {
				return nil, typeConflict(op, in.GUID, prev.TypeName(), in.TypeName)
			}
			if prev.Version() >= in.Version {
				return nil, nil
			}
		}
		var muts []engine.Mutation
		for i, end := range []model.EntityProxy{in.End1, in.End2} {
			want := def.End1Type
			if i == 1 {
				want = def.End2Type
			}
			m, err := s.endMutation(ctx, snap, op, in, end, want)
			if err != nil {
				return nil, err
			}
			if i == 1 && end.GUID == in.End1.GUID {
				continue
			}
			muts = append(muts, m)
		}
		return append(muts, engine.Mutation{Group: query.Relationships, GUID: in.GUID, Head: seqOf(prev), Relationship: in.Clone()}), nil
	})
	return err
}

// endMutation asserts a held end or creates a proxy for a missing one. An
// end removed locally stays removed: the copy is refused rather than
// bringing the entity back as a proxy.
func (s *GraphStore) endMutation(ctx context.Context, snap engine.Snapshot, op string, rel *model.Relationship, end model.EntityProxy, wantType string) (engine.Mutation, error) {
	rec, err := head(ctx, snap, op, query.Entities, end.GUID)
	if err != nil {
		return engine.Mutation{}, err
	}
	if rec != nil && rec.Deleted() {
		return engine.Mutation{}, model.Errorf(op, end.GUID, model.ErrNotFound, "end of relationship %s was removed", rel.GUID)
	}
	if rec != nil {
		if end.TypeName != "" && rec.TypeName() != end.TypeName {
			return engine.Mutation{}, typeConflict(op, end.GUID, rec.TypeName(), end.TypeName)
		}
		if err := s.checkEndType(op, rel, end.GUID, rec.TypeName(), wantType); err != nil {
			return engine.Mutation{}, err
		}
		return engine.Mutation{Group: query.Entities, GUID: end.GUID, Head: rec.Seq}, nil
	}
	if _, err := s.typeDef(op, end.GUID, end.TypeName, model.CategoryEntity); err != nil {
		return engine.Mutation{}, err
	}
	if err := s.checkEndType(op, rel, end.GUID, end.TypeName, wantType); err != nil {
		return engine.Mutation{}, err
	}
	p := end
	if p.MetadataCollectionID == "" {
		p.MetadataCollectionID = rel.MetadataCollectionID
	}
	return engine.Mutation{Group: query.Entities, GUID: end.GUID, Head: seqOf(rec), Entity: s.proxyEntity(&p, 1)}, nil
}

func (s *GraphStore) checkEndType(op string, rel *model.Relationship, guid, typeName, wantType string) error {
	if wantType == "" || s.types.IsTypeOf(typeName, wantType) {
		return nil
	}
	return model.Errorf(op, guid, model.ErrUnknownType, "end is a %s, %s needs a %s", typeName, rel.TypeName, wantType)
}
