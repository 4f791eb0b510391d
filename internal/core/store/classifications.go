package store

import (
	"context"
	"time"

	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/query"
	"github.com/agenthands/metastore/internal/engine"
)

// ClassifyEntity attaches a new classification. A classification of the
// same name removed earlier is revived with the next version.
func (s *GraphStore) ClassifyEntity(ctx context.Context, guid string, c model.Classification) (*model.Entity, error) {
	return s.reclassify(ctx, "classify entity", "classify_entity", guid, c.Name, func(ent *model.Entity, idx int) error {
		if idx >= 0 && ent.Classifications[idx].Status != model.StatusDeleted {
			return model.Errorf("classify entity", guid, model.ErrDuplicateGUID, "already classified as %s", c.Name)
		}
		if err := checkStatus("classify entity", guid, c.Status); err != nil {
			return err
		}
		if err := s.checkClassification("classify entity", guid, ent.TypeName, c); err != nil {
			return err
		}
		t := now()
		next := c.Clone()
		next.Status = orActive(next.Status)
		next.Version = 1
		next.CreateTime, next.UpdateTime = t, t
		if idx >= 0 {
			next.Version = ent.Classifications[idx].Version + 1
			ent.Classifications[idx] = next
			return nil
		}
		ent.Classifications = append(ent.Classifications, next)
		return nil
	})
}

// UpdateEntityClassification replaces the properties of a current
// classification.
func (s *GraphStore) UpdateEntityClassification(ctx context.Context, guid string, c model.Classification) (*model.Entity, error) {
	return s.reclassify(ctx, "update entity classification", "update_entity_classification", guid, c.Name, func(ent *model.Entity, idx int) error {
		if idx < 0 || ent.Classifications[idx].Status == model.StatusDeleted {
			return model.Errorf("update entity classification", guid, model.ErrNotFound, "no classification %s", c.Name)
		}
		if err := checkStatus("update entity classification", guid, c.Status); err != nil {
			return err
		}
		if err := s.checkClassification("update entity classification", guid, ent.TypeName, c); err != nil {
			return err
		}
		cur := &ent.Classifications[idx]
		cur.Properties = c.Properties.Clone()
		if c.Status != "" {
			cur.Status = c.Status
		}
		cur.Version++
		cur.UpdateTime = now()
		return nil
	})
}

// DeclassifyEntity tombstones a classification; it stays on the entity as
// a deleted version.
func (s *GraphStore) DeclassifyEntity(ctx context.Context, guid, name string) (*model.Entity, error) {
	return s.reclassify(ctx, "declassify entity", "declassify_entity", guid, name, func(ent *model.Entity, idx int) error {
		if idx < 0 || ent.Classifications[idx].Status == model.StatusDeleted {
			return model.Errorf("declassify entity", guid, model.ErrNotFound, "no classification %s", name)
		}
		cur := &ent.Classifications[idx]
		cur.Status = model.StatusDeleted
		cur.Version++
		cur.UpdateTime = now()
		return nil
	})
}

// reclassify writes a new entity version whose classifications change
// applied.
func (s *GraphStore) reclassify(ctx context.Context, op, metric, guid, name string, change func(ent *model.Entity, idx int) error) (out *model.Entity, err error) {
	defer s.observe(metric, time.Now(), &err)

	if name == "" {
		return nil, model.Errorf(op, guid, model.ErrInvalidCriteria, "classification without a name")
	}
	commit, err := s.write(ctx, op, guid, func(snap engine.Snapshot) ([]engine.Mutation, error) {
		prev, err := current(ctx, snap, op, query.Entities, guid)
		if err != nil {
			return nil, err
		}
		if prev == nil {
			return nil, model.Errorf(op, guid, model.ErrNotFound, "")
		}
		if prev.Entity.IsProxy {
			return nil, model.Errorf(op, guid, model.ErrProxyOnly, "")
		}
		if err := s.checkHomed(op, prev.Header()); err != nil {
			return nil, err
		}
		out = prev.Entity.Clone()
		idx := -1
		for i, c := range out.Classifications {
			if c.Name == name {
				idx = i
				break
			}
		}
		if err := change(out, idx); err != nil {
			return nil, err
		}
		bump(out)
		return []engine.Mutation{{Group: query.Entities, GUID: guid, Head: prev.Seq, Entity: out}}, nil
	})
	if err != nil {
		return nil, err
	}
	out.RecordedAt = commit.RecordedAt
	return out.Clone(), nil
}
