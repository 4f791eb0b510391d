package store

import (
	"context"
	"time"

	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/query"
	"github.com/agenthands/metastore/internal/engine"
)

// search runs a translated plan: indexes for the scoped types are ensured,
// the backend returns candidates, the plan's exact semantics filter them and
// the survivors are paged in GUID order. Entity proxies never match.
func (s *GraphStore) search(ctx context.Context, op string, plan *query.Plan, page model.Page) ([]*engine.Record, error) {
	if page.Offset < 0 || page.Limit < 0 {
		return nil, model.Errorf(op, "", model.ErrInvalidCriteria, "negative page %+v", page)
	}
	if err := s.indexes.EnsureTypes(ctx, plan.TypeNames); err != nil {
		return nil, &model.InstanceError{Op: op, Err: err}
	}
	if c, ok := plan.Filter.(query.Classified); ok {
		if err := s.indexes.EnsureTypes(ctx, []string{c.Name}); err != nil {
			return nil, &model.InstanceError{Op: op, Err: err}
		}
	}
	snap, err := s.snapshot(ctx, op)
	if err != nil {
		return nil, err
	}
	recs, err := snap.Scan(ctx, plan)
	if err != nil {
		return nil, model.Unavailable(op, err)
	}
	recs = engine.Matching(recs, plan)
	if plan.Group == query.Entities {
		live := recs[:0]
		for _, r := range recs {
			if !r.Entity.IsProxy {
				live = append(live, r)
			}
		}
		recs = live
	}
	recs = s.paginate(recs, page)
	s.metrics.RecordSearch(string(plan.Group), len(recs))
	return recs, nil
}

func (s *GraphStore) paginate(recs []*engine.Record, page model.Page) []*engine.Record {
	limit := page.Limit
	if s.opts.MaxPageSize > 0 && (limit == 0 || limit > s.opts.MaxPageSize) {
		limit = s.opts.MaxPageSize
	}
	if page.Offset >= len(recs) {
		return nil
	}
	recs = recs[page.Offset:]
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs
}

func entities(recs []*engine.Record) []*model.Entity {
	out := make([]*model.Entity, len(recs))
	for i, r := range recs {
		out[i] = r.Entity.Clone()
	}
	return out
}

func relationships(recs []*engine.Record) []*model.Relationship {
	out := make([]*model.Relationship, len(recs))
	for i, r := range recs {
		out[i] = r.Relationship.Clone()
	}
	return out
}

// checkScope verifies every type a scope names belongs to category.
func (s *GraphStore) checkScope(op string, scope *model.TypeScope, category model.TypeDefCategory) error {
	if scope == nil {
		return model.Errorf(op, "", model.ErrInvalidCriteria, "missing type scope")
	}
	names := append([]string{}, scope.ValidTypeNames...)
	if scope.FilterTypeName != "" {
		names = append(names, scope.FilterTypeName)
	}
	for _, name := range names {
		if _, err := s.typeDef(op, "", name, category); err != nil {
			return err
		}
	}
	return nil
}

func groupCategory(group query.Group) model.TypeDefCategory {
	if group == query.Relationships {
		return model.CategoryRelationship
	}
	return model.CategoryEntity
}

// typePlan resolves the polymorphic scope of one type of the group's
// category and hands it to build.
func (s *GraphStore) typePlan(op string, group query.Group, typeName string, build func(*model.TypeScope) (*query.Plan, error)) (*query.Plan, error) {
	if _, err := s.typeDef(op, "", typeName, groupCategory(group)); err != nil {
		return nil, err
	}
	scope, err := s.translator.ScopeForType(typeName)
	if err != nil {
		return nil, &model.InstanceError{Op: op, Err: err}
	}
	return s.translate(op, func() (*query.Plan, error) { return build(scope) })
}

func (s *GraphStore) scopePlan(op string, group query.Group, scope *model.TypeScope, props *model.SearchProperties, fullMatch bool) (*query.Plan, error) {
	if err := s.checkScope(op, scope, groupCategory(group)); err != nil {
		return nil, err
	}
	return s.translate(op, func() (*query.Plan, error) { return s.translator.Search(group, scope, props, fullMatch) })
}

func (s *GraphStore) propertyPlan(op string, group query.Group, scope *model.TypeScope, props model.InstanceProperties, criteria model.MatchCriteria) (*query.Plan, error) {
	if err := s.checkScope(op, scope, groupCategory(group)); err != nil {
		return nil, err
	}
	return s.translate(op, func() (*query.Plan, error) {
		return s.translator.MatchProperties(group, scope, props, criteria, true)
	})
}

func (s *GraphStore) valuePlan(op string, group query.Group, scope *model.TypeScope, props model.InstanceProperties, criteria model.MatchCriteria) (*query.Plan, error) {
	if err := s.checkScope(op, scope, groupCategory(group)); err != nil {
		return nil, err
	}
	return s.translate(op, func() (*query.Plan, error) {
		return s.translator.MatchValues(group, scope, props, criteria)
	})
}

func (s *GraphStore) translate(op string, fn func() (*query.Plan, error)) (*query.Plan, error) {
	plan, err := fn()
	if err != nil {
		return nil, &model.InstanceError{Op: op, Err: err}
	}
	return plan, nil
}

func (s *GraphStore) findEntities(ctx context.Context, op string, plan *query.Plan, planErr error, page model.Page) (out []*model.Entity, err error) {
	defer s.observe("find_entities", time.Now(), &err)
	if planErr != nil {
		return nil, planErr
	}
	recs, err := s.search(ctx, op, plan, page)
	if err != nil {
		return nil, err
	}
	return entities(recs), nil
}

func (s *GraphStore) findRelationships(ctx context.Context, op string, plan *query.Plan, planErr error, page model.Page) (out []*model.Relationship, err error) {
	defer s.observe("find_relationships", time.Now(), &err)
	if planErr != nil {
		return nil, planErr
	}
	recs, err := s.search(ctx, op, plan, page)
	if err != nil {
		return nil, err
	}
	return relationships(recs), nil
}

// FindEntitiesForType searches the type and its subtypes with a match tree.
func (s *GraphStore) FindEntitiesForType(ctx context.Context, typeName string, props *model.SearchProperties, fullMatch bool, page model.Page) ([]*model.Entity, error) {
	const op = "find entities for type"
	plan, err := s.typePlan(op, query.Entities, typeName, func(scope *model.TypeScope) (*query.Plan, error) {
		return s.translator.Search(query.Entities, scope, props, fullMatch)
	})
	return s.findEntities(ctx, op, plan, err, page)
}

// FindEntitiesForTypes searches a resolved polymorphic scope with exact
// matching.
func (s *GraphStore) FindEntitiesForTypes(ctx context.Context, scope *model.TypeScope, props *model.SearchProperties, page model.Page) ([]*model.Entity, error) {
	const op = "find entities for types"
	plan, err := s.scopePlan(op, query.Entities, scope, props, true)
	return s.findEntities(ctx, op, plan, err, page)
}

func (s *GraphStore) FindEntitiesByPropertyForType(ctx context.Context, typeName string, props model.InstanceProperties, criteria model.MatchCriteria, fullMatch bool, page model.Page) ([]*model.Entity, error) {
	const op = "find entities by property for type"
	plan, err := s.typePlan(op, query.Entities, typeName, func(scope *model.TypeScope) (*query.Plan, error) {
		return s.translator.MatchProperties(query.Entities, scope, props, criteria, fullMatch)
	})
	return s.findEntities(ctx, op, plan, err, page)
}

func (s *GraphStore) FindEntitiesByPropertyForTypes(ctx context.Context, scope *model.TypeScope, props model.InstanceProperties, criteria model.MatchCriteria, page model.Page) ([]*model.Entity, error) {
	const op = "find entities by property for types"
	plan, err := s.propertyPlan(op, query.Entities, scope, props, criteria)
	return s.findEntities(ctx, op, plan, err, page)
}

// FindEntitiesByPropertyValueForTypes matches string values by containment,
// as built by ConstructMatchPropertiesForSearchCriteriaForTypes.
func (s *GraphStore) FindEntitiesByPropertyValueForTypes(ctx context.Context, scope *model.TypeScope, props model.InstanceProperties, criteria model.MatchCriteria, page model.Page) ([]*model.Entity, error) {
	const op = "find entities by property value for types"
	plan, err := s.valuePlan(op, query.Entities, scope, props, criteria)
	return s.findEntities(ctx, op, plan, err, page)
}

// FindEntitiesByClassification returns entities carrying a current
// classification of the name whose properties match; the entity's own type
// is checked against validTypeNames only when performTypeFiltering is set.
func (s *GraphStore) FindEntitiesByClassification(ctx context.Context, name string, props model.InstanceProperties, criteria model.MatchCriteria, performTypeFiltering bool, validTypeNames []string, page model.Page) ([]*model.Entity, error) {
	const op = "find entities by classification"
	plan, err := s.translate(op, func() (*query.Plan, error) {
		return s.translator.Classification(name, props, criteria, performTypeFiltering, validTypeNames)
	})
	return s.findEntities(ctx, op, plan, err, page)
}

func (s *GraphStore) FindRelationshipsForType(ctx context.Context, typeName string, props *model.SearchProperties, fullMatch bool, page model.Page) ([]*model.Relationship, error) {
	const op = "find relationships for type"
	plan, err := s.typePlan(op, query.Relationships, typeName, func(scope *model.TypeScope) (*query.Plan, error) {
		return s.translator.Search(query.Relationships, scope, props, fullMatch)
	})
	return s.findRelationships(ctx, op, plan, err, page)
}

func (s *GraphStore) FindRelationshipsForTypes(ctx context.Context, scope *model.TypeScope, props *model.SearchProperties, page model.Page) ([]*model.Relationship, error) {
	const op = "find relationships for types"
	plan, err := s.scopePlan(op, query.Relationships, scope, props, true)
	return s.findRelationships(ctx, op, plan, err, page)
}

func (s *GraphStore) FindRelationshipsByPropertyForType(ctx context.Context, typeName string, props model.InstanceProperties, criteria model.MatchCriteria, fullMatch bool, page model.Page) ([]*model.Relationship, error) {
	const op = "find relationships by property for type"
	plan, err := s.typePlan(op, query.Relationships, typeName, func(scope *model.TypeScope) (*query.Plan, error) {
		return s.translator.MatchProperties(query.Relationships, scope, props, criteria, fullMatch)
	})
	return s.findRelationships(ctx, op, plan, err, page)
}

func (s *GraphStore) FindRelationshipsByPropertyForTypes(ctx context.Context, scope *model.TypeScope, props model.InstanceProperties, criteria model.MatchCriteria, page model.Page) ([]*model.Relationship, error) {
	const op = "find relationships by property for types"
	plan, err := s.propertyPlan(op, query.Relationships, scope, props, criteria)
	return s.findRelationships(ctx, op, plan, err, page)
}

func (s *GraphStore) FindRelationshipsByPropertyValueForTypes(ctx context.Context, scope *model.TypeScope, props model.InstanceProperties, criteria model.MatchCriteria, page model.Page) ([]*model.Relationship, error) {
	const op = "find relationships by property value for types"
	plan, err := s.valuePlan(op, query.Relationships, scope, props, criteria)
	return s.findRelationships(ctx, op, plan, err, page)
}

// ConstructMatchPropertiesForSearchCriteriaForTypes turns a free-text value
// into an ANY-match over every string attribute of the scope.
func (s *GraphStore) ConstructMatchPropertiesForSearchCriteriaForTypes(category model.TypeDefCategory, searchCriteria, filterTypeName string, validTypeNames []string) (model.InstanceProperties, error) {
	props, err := s.translator.SearchCriteriaProperties(category, searchCriteria, filterTypeName, validTypeNames)
	if err != nil {
		return nil, &model.InstanceError{Op: "construct match properties", Err: err}
	}
	return props, nil
}
