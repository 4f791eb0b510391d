package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/traversal"
)

// SearchRequest scopes a search to one type (TypeName alone) or to a
// polymorphic scope (ValidTypeNames, optionally under TypeName).
type SearchRequest struct {
	TypeName         string                   `json:"typeName"`
	ValidTypeNames   []string                 `json:"validTypeNames"`
	SearchProperties *model.SearchProperties  `json:"searchProperties"`
	Properties       model.InstanceProperties `json:"properties"`
	MatchCriteria    model.MatchCriteria      `json:"matchCriteria"`
	FullMatch        *bool                    `json:"fullMatch"`
	SearchCriteria   string                   `json:"searchCriteria"`
	Page             model.Page               `json:"page"`
}

func (r *SearchRequest) single() bool {
	return r.TypeName != "" && len(r.ValidTypeNames) == 0
}

func (r *SearchRequest) scope() *model.TypeScope {
	return &model.TypeScope{FilterTypeName: r.TypeName, ValidTypeNames: r.ValidTypeNames}
}

func (r *SearchRequest) fullMatch() bool {
	return r.FullMatch == nil || *r.FullMatch
}

type ClassificationSearchRequest struct {
	Classification       string                   `json:"classification" binding:"required"`
	Properties           model.InstanceProperties `json:"properties"`
	MatchCriteria        model.MatchCriteria      `json:"matchCriteria"`
	PerformTypeFiltering bool                     `json:"performTypeFiltering"`
	ValidTypeNames       []string                 `json:"validTypeNames"`
	Page                 model.Page               `json:"page"`
}

func (s *Server) SearchEntities(c *gin.Context) {
	var req SearchRequest
	if !s.bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	var out []*model.Entity
	var err error
	if req.single() {
		out, err = s.Store.FindEntitiesForType(ctx, req.TypeName, req.SearchProperties, req.fullMatch(), req.Page)
	} else {
		out, err = s.Store.FindEntitiesForTypes(ctx, req.scope(), req.SearchProperties, req.Page)
	}
	s.entities(c, out, err)
}

func (s *Server) SearchEntitiesByProperty(c *gin.Context) {
	var req SearchRequest
	if !s.bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	var out []*model.Entity
	var err error
	if req.single() {
		out, err = s.Store.FindEntitiesByPropertyForType(ctx, req.TypeName, req.Properties, req.MatchCriteria, req.fullMatch(), req.Page)
	} else {
		out, err = s.Store.FindEntitiesByPropertyForTypes(ctx, req.scope(), req.Properties, req.MatchCriteria, req.Page)
	}
	s.entities(c, out, err)
}

// SearchEntitiesByValue matches SearchCriteria as a substring of any string
// attribute in scope.
func (s *Server) SearchEntitiesByValue(c *gin.Context) {
	var req SearchRequest
	if !s.bind(c, &req) {
		return
	}
	props, err := s.Store.ConstructMatchPropertiesForSearchCriteriaForTypes(model.CategoryEntity, req.SearchCriteria, req.TypeName, req.ValidTypeNames)
	if err != nil {
		s.fail(c, err)
		return
	}
	out, err := s.Store.FindEntitiesByPropertyValueForTypes(c.Request.Context(), req.scope(), props, model.MatchAny, req.Page)
	s.entities(c, out, err)
}

func (s *Server) SearchEntitiesByClassification(c *gin.Context) {
	var req ClassificationSearchRequest
	if !s.bind(c, &req) {
		return
	}
	out, err := s.Store.FindEntitiesByClassification(c.Request.Context(), req.Classification, req.Properties, req.MatchCriteria,
		req.PerformTypeFiltering, req.ValidTypeNames, req.Page)
	s.entities(c, out, err)
}

func (s *Server) SearchRelationships(c *gin.Context) {
	var req SearchRequest
	if !s.bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	var out []*model.Relationship
	var err error
	if req.single() {
		out, err = s.Store.FindRelationshipsForType(ctx, req.TypeName, req.SearchProperties, req.fullMatch(), req.Page)
	} else {
		out, err = s.Store.FindRelationshipsForTypes(ctx, req.scope(), req.SearchProperties, req.Page)
	}
	s.relationships(c, out, err)
}

func (s *Server) SearchRelationshipsByProperty(c *gin.Context) {
	var req SearchRequest
	if !s.bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	var out []*model.Relationship
	var err error
	if req.single() {
		out, err = s.Store.FindRelationshipsByPropertyForType(ctx, req.TypeName, req.Properties, req.MatchCriteria, req.fullMatch(), req.Page)
	} else {
		out, err = s.Store.FindRelationshipsByPropertyForTypes(ctx, req.scope(), req.Properties, req.MatchCriteria, req.Page)
	}
	s.relationships(c, out, err)
}

func (s *Server) SearchRelationshipsByValue(c *gin.Context) {
	var req SearchRequest
	if !s.bind(c, &req) {
		return
	}
	props, err := s.Store.ConstructMatchPropertiesForSearchCriteriaForTypes(model.CategoryRelationship, req.SearchCriteria, req.TypeName, req.ValidTypeNames)
	if err != nil {
		s.fail(c, err)
		return
	}
	out, err := s.Store.FindRelationshipsByPropertyValueForTypes(c.Request.Context(), req.scope(), props, model.MatchAny, req.Page)
	s.relationships(c, out, err)
}

func (s *Server) entities(c *gin.Context, out []*model.Entity, err error) {
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entities": out})
}

func (s *Server) relationships(c *gin.Context, out []*model.Relationship, err error) {
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"relationships": out})
}

type SubGraphRequest struct {
	EntityGUID        string                 `json:"entityGuid" binding:"required"`
	EntityTypes       []string               `json:"entityTypes"`
	RelationshipTypes []string               `json:"relationshipTypes"`
	Statuses          []model.InstanceStatus `json:"statuses"`
	Classifications   []string               `json:"classifications"`
	MaxLevel          int                    `json:"maxLevel"`
}

func (s *Server) GetSubGraph(c *gin.Context) {
	var req SubGraphRequest
	if !s.bind(c, &req) {
		return
	}
	g, err := s.Store.GetSubGraph(c.Request.Context(), traversal.SubGraphRequest(req))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// PathsRequest leaves MaxPaths and MaxDepth to the server defaults when
// they are omitted.
type PathsRequest struct {
	From     string                 `json:"from" binding:"required"`
	To       string                 `json:"to" binding:"required"`
	Statuses []model.InstanceStatus `json:"statuses"`
	MaxPaths *int                   `json:"maxPaths"`
	MaxDepth *int                   `json:"maxDepth"`
}

func (s *Server) GetPaths(c *gin.Context) {
	var req PathsRequest
	if !s.bind(c, &req) {
		return
	}
	tr := traversal.PathsRequest{
		From:     req.From,
		To:       req.To,
		Statuses: req.Statuses,
		MaxPaths: s.opts.MaxPathsDefault,
		MaxDepth: s.opts.MaxDepthDefault,
	}
	if req.MaxPaths != nil {
		tr.MaxPaths = *req.MaxPaths
	}
	if req.MaxDepth != nil {
		tr.MaxDepth = *req.MaxDepth
	}
	paths, err := s.Store.GetPaths(c.Request.Context(), tr)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paths": paths})
}

// CreateIndexes ensures the indexes of one registered type.
func (s *Server) CreateIndexes(c *gin.Context) {
	def, err := s.Types.TypeDef(c.Param("type"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	switch def.Category {
	case model.CategoryEntity:
		err = s.Store.CreateEntityIndexes(ctx, def)
	case model.CategoryRelationship:
		err = s.Store.CreateRelationshipIndexes(ctx, def)
	default:
		err = s.Store.CreateClassificationIndexes(ctx, def)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "type": def.Name})
}
