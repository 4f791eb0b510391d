package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agenthands/metastore/internal/core/model"
)

func (s *Server) CreateEntity(c *gin.Context) {
	var e model.Entity
	if !s.bind(c, &e) {
		return
	}
	out, err := s.Store.CreateEntity(c.Request.Context(), &e)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (s *Server) GetEntity(c *gin.Context) {
	out, err := s.Store.GetEntity(c.Request.Context(), c.Param("guid"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) UpdateEntity(c *gin.Context) {
	var e model.Entity
	if !s.bind(c, &e) {
		return
	}
	e.GUID = c.Param("guid")
	out, err := s.Store.UpdateEntity(c.Request.Context(), &e)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) RemoveEntity(c *gin.Context) {
	if err := s.Store.RemoveEntity(c.Request.Context(), c.Param("guid")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) GetEntitySummary(c *gin.Context) {
	out, err := s.Store.GetEntitySummary(c.Request.Context(), c.Param("guid"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) GetEntityProxy(c *gin.Context) {
	out, err := s.Store.GetEntityProxy(c.Request.Context(), c.Param("guid"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) CreateEntityProxy(c *gin.Context) {
	var p model.EntityProxy
	if !s.bind(c, &p) {
		return
	}
	if err := s.Store.CreateEntityProxy(c.Request.Context(), &p); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) GetEntityHistory(c *gin.Context) {
	out, err := s.Store.GetEntityHistory(c.Request.Context(), c.Param("guid"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": out})
}

// asOf reads the "at" query parameter as RFC 3339.
func (s *Server) asOf(c *gin.Context) (time.Time, bool) {
	at, err := time.Parse(time.RFC3339Nano, c.Query("at"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at must be an RFC 3339 time"})
		return time.Time{}, false
	}
	return at, true
}

func (s *Server) GetEntityAsOf(c *gin.Context) {
	at, ok := s.asOf(c)
	if !ok {
		return
	}
	out, err := s.Store.GetEntityAsOf(c.Request.Context(), c.Param("guid"), at)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) GetRelationshipsForEntity(c *gin.Context) {
	out, err := s.Store.GetRelationshipsForEntity(c.Request.Context(), c.Param("guid"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"relationships": out})
}

func (s *Server) ClassifyEntity(c *gin.Context) {
	var cl model.Classification
	if !s.bind(c, &cl) {
		return
	}
	out, err := s.Store.ClassifyEntity(c.Request.Context(), c.Param("guid"), cl)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) UpdateEntityClassification(c *gin.Context) {
	var cl model.Classification
	if !s.bind(c, &cl) {
		return
	}
	cl.Name = c.Param("name")
	out, err := s.Store.UpdateEntityClassification(c.Request.Context(), c.Param("guid"), cl)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) DeclassifyEntity(c *gin.Context) {
	out, err := s.Store.DeclassifyEntity(c.Request.Context(), c.Param("guid"), c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) CreateRelationship(c *gin.Context) {
	var r model.Relationship
	if !s.bind(c, &r) {
		return
	}
	out, err := s.Store.CreateRelationship(c.Request.Context(), &r)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (s *Server) GetRelationship(c *gin.Context) {
	out, err := s.Store.GetRelationship(c.Request.Context(), c.Param("guid"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) UpdateRelationship(c *gin.Context) {
	var r model.Relationship
	if !s.bind(c, &r) {
		return
	}
	r.GUID = c.Param("guid")
	out, err := s.Store.UpdateRelationship(c.Request.Context(), &r)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) RemoveRelationship(c *gin.Context) {
	if err := s.Store.RemoveRelationship(c.Request.Context(), c.Param("guid")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) GetRelationshipHistory(c *gin.Context) {
	out, err := s.Store.GetRelationshipHistory(c.Request.Context(), c.Param("guid"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": out})
}

func (s *Server) GetRelationshipAsOf(c *gin.Context) {
	at, ok := s.asOf(c)
	if !ok {
		return
	}
	out, err := s.Store.GetRelationshipAsOf(c.Request.Context(), c.Param("guid"), at)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) SaveEntityReferenceCopy(c *gin.Context) {
	var e model.Entity
	if !s.bind(c, &e) {
		return
	}
	if err := s.Store.SaveEntityReferenceCopy(c.Request.Context(), &e); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) SaveRelationshipReferenceCopy(c *gin.Context) {
	var r model.Relationship
	if !s.bind(c, &r) {
		return
	}
	if err := s.Store.SaveRelationshipReferenceCopy(c.Request.Context(), &r); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
