package store

import (
	"context"
	"time"

	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/traversal"
)

// MetadataStore is the contract a backend-agnostic metadata repository
// offers its callers.
type MetadataStore interface {
	CreateEntityIndexes(ctx context.Context, def *model.TypeDef) error
	CreateRelationshipIndexes(ctx context.Context, def *model.TypeDef) error
	CreateClassificationIndexes(ctx context.Context, def *model.TypeDef) error

	CreateEntity(ctx context.Context, e *model.Entity) (*model.Entity, error)
	CreateEntityProxy(ctx context.Context, p *model.EntityProxy) error
	CreateRelationship(ctx context.Context, r *model.Relationship) (*model.Relationship, error)
	GetEntity(ctx context.Context, guid string) (*model.Entity, error)
	GetEntitySummary(ctx context.Context, guid string) (*model.EntitySummary, error)
	GetEntityProxy(ctx context.Context, guid string) (*model.EntityProxy, error)
	GetRelationship(ctx context.Context, guid string) (*model.Relationship, error)
	GetRelationshipsForEntity(ctx context.Context, guid string) ([]*model.Relationship, error)
	UpdateEntity(ctx context.Context, e *model.Entity) (*model.Entity, error)
	UpdateRelationship(ctx context.Context, r *model.Relationship) (*model.Relationship, error)
	RemoveEntity(ctx context.Context, guid string) error
	RemoveRelationship(ctx context.Context, guid string) error
	SaveEntityReferenceCopy(ctx context.Context, e *model.Entity) error
	SaveRelationshipReferenceCopy(ctx context.Context, r *model.Relationship) error

	ClassifyEntity(ctx context.Context, guid string, c model.Classification) (*model.Entity, error)
	UpdateEntityClassification(ctx context.Context, guid string, c model.Classification) (*model.Entity, error)
	DeclassifyEntity(ctx context.Context, guid, name string) (*model.Entity, error)

	GetEntityAsOf(ctx context.Context, guid string, asOf time.Time) (*model.Entity, error)
	GetRelationshipAsOf(ctx context.Context, guid string, asOf time.Time) (*model.Relationship, error)
	GetEntityHistory(ctx context.Context, guid string) ([]*model.Entity, error)
	GetRelationshipHistory(ctx context.Context, guid string) ([]*model.Relationship, error)

	FindEntitiesForType(ctx context.Context, typeName string, props *model.SearchProperties, fullMatch bool, page model.Page) ([]*model.Entity, error)
	FindEntitiesForTypes(ctx context.Context, scope *model.TypeScope, props *model.SearchProperties, page model.Page) ([]*model.Entity, error)
	FindEntitiesByPropertyForType(ctx context.Context, typeName string, props model.InstanceProperties, criteria model.MatchCriteria, fullMatch bool, page model.Page) ([]*model.Entity, error)
	FindEntitiesByPropertyForTypes(ctx context.Context, scope *model.TypeScope, props model.InstanceProperties, criteria model.MatchCriteria, page model.Page) ([]*model.Entity, error)
	FindEntitiesByPropertyValueForTypes(ctx context.Context, scope *model.TypeScope, props model.InstanceProperties, criteria model.MatchCriteria, page model.Page) ([]*model.Entity, error)
	FindEntitiesByClassification(ctx context.Context, name string, props model.InstanceProperties, criteria model.MatchCriteria, performTypeFiltering bool, validTypeNames []string, page model.Page) ([]*model.Entity, error)
	FindRelationshipsForType(ctx context.Context, typeName string, props *model.SearchProperties, fullMatch bool, page model.Page) ([]*model.Relationship, error)
	FindRelationshipsForTypes(ctx context.Context, scope *model.TypeScope, props *model.SearchProperties, page model.Page) ([]*model.Relationship, error)
	FindRelationshipsByPropertyForType(ctx context.Context, typeName string, props model.InstanceProperties, criteria model.MatchCriteria, fullMatch bool, page model.Page) ([]*model.Relationship, error)
	FindRelationshipsByPropertyForTypes(ctx context.Context, scope *model.TypeScope, props model.InstanceProperties, criteria model.MatchCriteria, page model.Page) ([]*model.Relationship, error)
	FindRelationshipsByPropertyValueForTypes(ctx context.Context, scope *model.TypeScope, props model.InstanceProperties, criteria model.MatchCriteria, page model.Page) ([]*model.Relationship, error)
	ConstructMatchPropertiesForSearchCriteriaForTypes(category model.TypeDefCategory, searchCriteria, filterTypeName string, validTypeNames []string) (model.InstanceProperties, error)

	GetSubGraph(ctx context.Context, req traversal.SubGraphRequest) (*model.InstanceGraph, error)
	GetPaths(ctx context.Context, req traversal.PathsRequest) ([]*model.Path, error)
}
