// Package server exposes a MetadataStore over a gin REST API.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/store"
	"github.com/agenthands/metastore/internal/logger"
	"github.com/agenthands/metastore/internal/metrics"
)

// TypeLookup resolves type names for index requests.
type TypeLookup interface {
	TypeDef(name string) (*model.TypeDef, error)
}

type Options struct {
	Log     zerolog.Logger
	Metrics *metrics.Metrics
	// Path search defaults applied when a request omits them.
	MaxPathsDefault int
	MaxDepthDefault int
}

type Server struct {
	Store store.MetadataStore
	Types TypeLookup
	opts  Options
	log   zerolog.Logger
}

func NewServer(st store.MetadataStore, types TypeLookup, opts Options) *Server {
	return &Server{
		Store: st,
		Types: types,
		opts:  opts,
		log:   logger.Component(opts.Log, "server"),
	}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if s.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}

	r.POST("/entities", s.CreateEntity)
	r.GET("/entities/:guid", s.GetEntity)
	r.PUT("/entities/:guid", s.UpdateEntity)
	r.DELETE("/entities/:guid", s.RemoveEntity)
	r.GET("/entities/:guid/summary", s.GetEntitySummary)
	r.GET("/entities/:guid/proxy", s.GetEntityProxy)
	r.GET("/entities/:guid/history", s.GetEntityHistory)
	r.GET("/entities/:guid/as-of", s.GetEntityAsOf)
	r.GET("/entities/:guid/relationships", s.GetRelationshipsForEntity)
	r.POST("/entities/:guid/classifications", s.ClassifyEntity)
	r.PUT("/entities/:guid/classifications/:name", s.UpdateEntityClassification)
	r.DELETE("/entities/:guid/classifications/:name", s.DeclassifyEntity)
	r.POST("/proxies", s.CreateEntityProxy)

	r.POST("/relationships", s.CreateRelationship)
	r.GET("/relationships/:guid", s.GetRelationship)
	r.PUT("/relationships/:guid", s.UpdateRelationship)
	r.DELETE("/relationships/:guid", s.RemoveRelationship)
	r.GET("/relationships/:guid/history", s.GetRelationshipHistory)
	r.GET("/relationships/:guid/as-of", s.GetRelationshipAsOf)

	r.POST("/reference-copies/entities", s.SaveEntityReferenceCopy)
	r.POST("/reference-copies/relationships", s.SaveRelationshipReferenceCopy)

	r.POST("/search/entities", s.SearchEntities)
	r.POST("/search/entities/by-property", s.SearchEntitiesByProperty)
	r.POST("/search/entities/by-value", s.SearchEntitiesByValue)
	r.POST("/search/entities/by-classification", s.SearchEntitiesByClassification)
	r.POST("/search/relationships", s.SearchRelationships)
	r.POST("/search/relationships/by-property", s.SearchRelationshipsByProperty)
	r.POST("/search/relationships/by-value", s.SearchRelationshipsByValue)

	r.POST("/graph/subgraph", s.GetSubGraph)
	r.POST("/graph/paths", s.GetPaths)

	r.POST("/indexes/:type", s.CreateIndexes)

	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}

// statusOf maps the store's error kinds to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrDuplicateGUID), errors.Is(err, model.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidCriteria):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnknownType), errors.Is(err, model.ErrProxyOnly):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return false
	}
	return true
}
