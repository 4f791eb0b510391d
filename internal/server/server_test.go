package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/store"
	"github.com/agenthands/metastore/internal/core/typeregistry"
	"github.com/agenthands/metastore/internal/engine/memory"
	"github.com/agenthands/metastore/internal/metrics"
)

const typedefs = `
typedefs:
  - name: Person
    category: ENTITY_DEF
    attributes:
      - {name: name, type: string}
      - {name: age, type: int}
  - name: KnownBy
    category: RELATIONSHIP_DEF
    end1Type: Person
    end2Type: Person
  - name: Confidential
    category: CLASSIFICATION_DEF
    attributes:
      - {name: level, type: int}
`

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	defs, err := typeregistry.Parse([]byte(typedefs))
	require.NoError(t, err)
	reg, err := typeregistry.New(defs...)
	require.NoError(t, err)

	m := metrics.New()
	st := store.New(memory.New(), reg, store.Options{MetadataCollectionID: "local", Log: zerolog.Nop(), Metrics: m})
	srv := NewServer(st, reg, Options{Log: zerolog.Nop(), Metrics: m, MaxPathsDefault: 10, MaxDepthDefault: 3})
	return srv.SetupRouter()
}

func do(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func personBody(guid, name string) *model.Entity {
	return &model.Entity{
		InstanceHeader: model.InstanceHeader{GUID: guid, TypeName: "Person"},
		Properties:     model.InstanceProperties{"name": model.StringValue(name), "age": model.IntValue(30)},
	}
}

func TestEntityEndpoints(t *testing.T) {
	r := setupRouter(t)

	w := do(t, r, http.MethodPost, "/entities", personBody("e1", "Ann"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[model.Entity](t, w)
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, "local", created.MetadataCollectionID)

	w = do(t, r, http.MethodGet, "/entities/e1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[model.Entity](t, w)
	assert.Equal(t, model.StringValue("Ann"), got.Properties["name"])

	w = do(t, r, http.MethodPost, "/entities", personBody("e1", "Ann"))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodPut, "/entities/e1", &model.Entity{Properties: model.InstanceProperties{"name": model.StringValue("Ann B")}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(2), decode[model.Entity](t, w).Version)

	w = do(t, r, http.MethodGet, "/entities/e1/summary", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodDelete, "/entities/e1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, r, http.MethodGet, "/entities/e1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodGet, "/entities/e1/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode[struct {
		Versions []model.Entity `json:"versions"`
	}](t, w)
	require.Len(t, hist.Versions, 3)
	assert.Equal(t, model.StatusDeleted, hist.Versions[2].Status)
}

func TestEntityEndpoints_Errors(t *testing.T) {
	r := setupRouter(t)

	w := do(t, r, http.MethodPost, "/entities", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid request")

	w = do(t, r, http.MethodPost, "/entities", &model.Entity{InstanceHeader: model.InstanceHeader{TypeName: "Robot"}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, r, http.MethodPost, "/proxies", &model.EntityProxy{InstanceHeader: model.InstanceHeader{GUID: "p1", TypeName: "Person"}})
	require.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, r, http.MethodGet, "/entities/p1", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = do(t, r, http.MethodGet, "/entities/p1/proxy", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/entities/p1/as-of?at=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGraphEndpoints(t *testing.T) {
	r := setupRouter(t)
	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/entities", personBody("E1", "Ann")).Code)
	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/entities", personBody("E2", "Bea")).Code)

	rel := &model.Relationship{
		InstanceHeader: model.InstanceHeader{GUID: "R1", TypeName: "KnownBy"},
		End1:           model.EntityProxy{InstanceHeader: model.InstanceHeader{GUID: "E1"}},
		End2:           model.EntityProxy{InstanceHeader: model.InstanceHeader{GUID: "E2"}},
	}
	w := do(t, r, http.MethodPost, "/relationships", rel)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, r, http.MethodGet, "/entities/E1/relationships", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"guid":"R1"`)

	w = do(t, r, http.MethodPost, "/graph/subgraph", gin.H{"entityGuid": "E1", "maxLevel": 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	g := decode[model.InstanceGraph](t, w)
	assert.Len(t, g.Entities, 2)
	assert.Len(t, g.Relationships, 1)

	w = do(t, r, http.MethodPost, "/graph/paths", gin.H{"from": "E1", "to": "E2"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	paths := decode[struct {
		Paths []model.Path `json:"paths"`
	}](t, w)
	require.Len(t, paths.Paths, 1)
	assert.Equal(t, []string{"E1", "R1", "E2"}, paths.Paths[0].GUIDs())

	w = do(t, r, http.MethodPost, "/graph/paths", gin.H{"from": "E1", "to": "ghost"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPost, "/graph/paths", gin.H{"from": "E1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodDelete, "/relationships/R1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, r, http.MethodGet, "/relationships/R1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSearchEndpoints(t *testing.T) {
	r := setupRouter(t)
	for guid, name := range map[string]string{"e1": "Ann", "e2": "Bea", "e3": "Annette"} {
		require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/entities", personBody(guid, name)).Code)
	}
	type result struct {
		Entities []model.Entity `json:"entities"`
	}
	guidsOf := func(res result) []string {
		out := []string{}
		for _, e := range res.Entities {
			out = append(out, e.GUID)
		}
		return out
	}

	w := do(t, r, http.MethodPost, "/search/entities", gin.H{"typeName": "Person"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"e1", "e2", "e3"}, guidsOf(decode[result](t, w)))

	w = do(t, r, http.MethodPost, "/search/entities/by-property", gin.H{
		"typeName":      "Person",
		"properties":    model.InstanceProperties{"name": model.StringValue("Ann")},
		"matchCriteria": model.MatchAll,
		"fullMatch":     false,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"e1", "e3"}, guidsOf(decode[result](t, w)))

	w = do(t, r, http.MethodPost, "/search/entities/by-value", gin.H{"typeName": "Person", "searchCriteria": "ette", "page": gin.H{"limit": 5}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"e3"}, guidsOf(decode[result](t, w)))

	w = do(t, r, http.MethodPost, "/search/entities", gin.H{"typeName": "Person", "page": gin.H{"offset": -1}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/entities/e2/classifications", model.Classification{
		Name:       "Confidential",
		Properties: model.InstanceProperties{"level": model.IntValue(2)},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, http.MethodPost, "/search/entities/by-classification", gin.H{"classification": "Confidential"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"e2"}, guidsOf(decode[result](t, w)))

	w = do(t, r, http.MethodDelete, "/entities/e2/classifications/Confidential", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, r, http.MethodDelete, "/entities/e2/classifications/Confidential", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPost, "/search/relationships", gin.H{"typeName": "KnownBy"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"relationships":[]}`, w.Body.String())
}

func TestIndexAndMetricsEndpoints(t *testing.T) {
	r := setupRouter(t)

	w := do(t, r, http.MethodPost, "/indexes/Person", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(t, r, http.MethodPost, "/indexes/Confidential", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(t, r, http.MethodPost, "/indexes/Robot", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "metastore_indexes_created_total")

	w = do(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.Errorf("get", "g", model.ErrNotFound, ""), http.StatusNotFound},
		{model.Errorf("create", "g", model.ErrDuplicateGUID, ""), http.StatusConflict},
		{model.Errorf("update", "g", model.ErrVersionConflict, ""), http.StatusConflict},
		{model.Errorf("find", "", model.ErrInvalidCriteria, "bad"), http.StatusBadRequest},
		{model.UnknownType("Robot"), http.StatusUnprocessableEntity},
		{model.Errorf("get", "g", model.ErrProxyOnly, ""), http.StatusUnprocessableEntity},
		{model.Unavailable("scan", context.DeadlineExceeded), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.want, " ", tt.err), func(t *testing.T) {
			assert.Equal(t, tt.want, statusOf(tt.err))
		})
	}
}
