package store

import (
	"context"
	"time"

	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/traversal"
)

// CreateEntityIndexes ensures an index per attribute of an entity type,
// inherited attributes included. Repeat calls are no-ops.
func (s *GraphStore) CreateEntityIndexes(ctx context.Context, def *model.TypeDef) (err error) {
	defer s.observe("create_entity_indexes", time.Now(), &err)
	return s.indexes.EnsureEntityIndexes(ctx, def)
}

func (s *GraphStore) CreateRelationshipIndexes(ctx context.Context, def *model.TypeDef) (err error) {
	defer s.observe("create_relationship_indexes", time.Now(), &err)
	return s.indexes.EnsureRelationshipIndexes(ctx, def)
}

func (s *GraphStore) CreateClassificationIndexes(ctx context.Context, def *model.TypeDef) (err error) {
	defer s.observe("create_classification_indexes", time.Now(), &err)
	return s.indexes.EnsureClassificationIndexes(ctx, def)
}

// GetSubGraph returns the neighbourhood of an entity out to req.MaxLevel
// hops, read from a single snapshot.
func (s *GraphStore) GetSubGraph(ctx context.Context, req traversal.SubGraphRequest) (g *model.InstanceGraph, err error) {
	defer s.observe("get_subgraph", time.Now(), &err)
	return s.traverser.SubGraph(ctx, req)
}

// GetPaths returns the shortest simple paths between two entities.
func (s *GraphStore) GetPaths(ctx context.Context, req traversal.PathsRequest) (paths []*model.Path, err error) {
	defer s.observe("get_paths", time.Now(), &err)
	return s.traverser.Paths(ctx, req)
}
