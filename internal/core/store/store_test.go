package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/query"
	"github.com/agenthands/metastore/internal/core/traversal"
	"github.com/agenthands/metastore/internal/core/typeregistry"
	"github.com/agenthands/metastore/internal/engine"
	"github.com/agenthands/metastore/internal/engine/memory"
	"github.com/agenthands/metastore/internal/metrics"
)

const testTypeDefs = `
typedefs:
  - name: Referenceable
    category: ENTITY_DEF
    attributes:
      - {name: qualifiedName, type: string, unique: true}
  - name: Person
    category: ENTITY_DEF
    superType: Referenceable
    attributes:
      - {name: name, type: string, indexable: true}
      - {name: age, type: int}
  - name: Employee
    category: ENTITY_DEF
    superType: Person
    attributes:
      - {name: employeeId, type: string}
  - name: Asset
    category: ENTITY_DEF
    superType: Referenceable
    attributes:
      - {name: name, type: string}
  - name: KnownBy
    category: RELATIONSHIP_DEF
    end1Type: Person
    end2Type: Person
    attributes:
      - {name: strength, type: int}
  - name: Owns
    category: RELATIONSHIP_DEF
    end1Type: Person
    end2Type: Asset
  - name: Confidential
    category: CLASSIFICATION_DEF
    validEntityDefs: [Referenceable]
    attributes:
      - {name: level, type: int}
`

const home = "local"

func newRegistry(t *testing.T) *typeregistry.Registry {
	t.Helper()
	defs, err := typeregistry.Parse([]byte(testTypeDefs))
	require.NoError(t, err)
	r, err := typeregistry.New(defs...)
	require.NoError(t, err)
	return r
}

func newStore(t *testing.T, eng engine.Engine, opts Options) *GraphStore {
	t.Helper()
	if opts.MetadataCollectionID == "" {
		opts.MetadataCollectionID = home
	}
	opts.Log = zerolog.Nop()
	return New(eng, newRegistry(t), opts)
}

func person(guid, name string, age int64) *model.Entity {
	return &model.Entity{
		InstanceHeader: model.InstanceHeader{GUID: guid, TypeName: "Person"},
		Properties: model.InstanceProperties{
			"name": model.StringValue(name),
			"age":  model.IntValue(age),
		},
	}
}

func knownBy(guid, end1, end2 string) *model.Relationship {
	return &model.Relationship{
		InstanceHeader: model.InstanceHeader{GUID: guid, TypeName: "KnownBy"},
		End1:           model.EntityProxy{InstanceHeader: model.InstanceHeader{GUID: end1}},
		End2:           model.EntityProxy{InstanceHeader: model.InstanceHeader{GUID: end2}},
	}
}

func mustCreate(t *testing.T, s *GraphStore, e *model.Entity) *model.Entity {
	t.Helper()
	out, err := s.CreateEntity(context.Background(), e)
	require.NoError(t, err)
	return out
}

func mustRelate(t *testing.T, s *GraphStore, r *model.Relationship) *model.Relationship {
	t.Helper()
	out, err := s.CreateRelationship(context.Background(), r)
	require.NoError(t, err)
	return out
}

func TestCreateEntity_GetReturnsWhatWasCreated(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New(), Options{})

	created := mustCreate(t, s, person("e1", "Ann", 30))
	assert.Equal(t, int64(1), created.Version)
	assert.Equal(t, model.StatusActive, created.Status)
	assert.Equal(t, home, created.MetadataCollectionID)
	assert.False(t, created.RecordedAt.IsZero())

	got, err := s.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, created, got)

	summary, err := s.GetEntitySummary(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, created.InstanceHeader, summary.InstanceHeader)
}

func TestCreateEntity_AssignsGUID(t *testing.T) {
	s := newStore(t, memory.New(), Options{})
	created := mustCreate(t, s, person("", "Ann", 30))
	assert.Len(t, created.GUID, 36)
}

func TestCreateEntity_Rejects(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New(), Options{})
	mustCreate(t, s, person("e1", "Ann", 30))

	tests := []struct {
		name   string
		entity *model.Entity
		want   error
	}{
		{"duplicate guid", person("e1", "Bea", 20), model.ErrDuplicateGUID},
		{"unknown type", &model.Entity{InstanceHeader: model.InstanceHeader{TypeName: "Robot"}}, model.ErrUnknownType},
		{"relationship type", &model.Entity{InstanceHeader: model.InstanceHeader{TypeName: "KnownBy"}}, model.ErrUnknownType},
		{"undeclared property", &model.Entity{
			InstanceHeader: model.InstanceHeader{TypeName: "Person"},
			Properties:     model.InstanceProperties{"height": model.IntValue(180)},
		}, model.ErrUnknownType},
		{"mistyped property", &model.Entity{
			InstanceHeader: model.InstanceHeader{TypeName: "Person"},
			Properties:     model.InstanceProperties{"age": model.StringValue("old")},
		}, model.ErrUnknownType},
		{"store-owned status", &model.Entity{
			InstanceHeader: model.InstanceHeader{TypeName: "Person", Status: model.StatusDeleted},
		}, model.ErrInvalidCriteria},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateEntity(ctx, tt.entity)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateEntity_DuplicateNamesTheGUID(t *testing.T) {
	s := newStore(t, memory.New(), Options{})
	mustCreate(t, s, person("e1", "Ann", 30))

	_, err := s.CreateEntity(context.Background(), person("e1", "Ann", 30))
	var ie *model.InstanceError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "e1", ie.GUID)
}

func TestEntityProxy_PromotedByCreate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New(), Options{})

	proxy := &model.EntityProxy{
		InstanceHeader:   model.InstanceHeader{GUID: "p1", TypeName: "Person"},
		UniqueProperties: model.InstanceProperties{"qualifiedName": model.StringValue("people/p1")},
	}
	require.NoError(t, s.CreateEntityProxy(ctx, proxy))
	require.NoError(t, s.CreateEntityProxy(ctx, proxy), "proxying again changes nothing")

	_, err := s.GetEntity(ctx, "p1")
	assert.ErrorIs(t, err, model.ErrProxyOnly)

	got, err := s.GetEntityProxy(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.StringValue("people/p1"), got.UniqueProperties["qualifiedName"])

	found, err := s.FindEntitiesForType(ctx, "Person", nil, true, model.Page{})
	require.NoError(t, err)
	assert.Empty(t, found, "proxies never match a search")

	promoted := mustCreate(t, s, person("p1", "Pat", 40))
	assert.Equal(t, int64(2), promoted.Version)
	assert.False(t, promoted.IsProxy)

	hist, err := s.GetEntityHistory(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.True(t, hist[0].IsProxy)
}

func TestEntityProxy_TypeMismatch(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New(), Options{})
	mustCreate(t, s, person("e1", "Ann", 30))

	err := s.CreateEntityProxy(ctx, &model.EntityProxy{InstanceHeader: model.InstanceHeader{GUID: "e1", TypeName: "Asset"}})
	assert.ErrorIs(t, err, model.ErrDuplicateGUID)

	proxy, err := s.GetEntityProxy(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, proxy.UniqueProperties, "only unique attributes survive")
}

func TestGetEntity_NotFound(t *testing.T) {
	s := newStore(t, memory.New(), Options{})
	_, err := s.GetEntity(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdateEntity(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New(), Options{})
	created := mustCreate(t, s, person("e1", "Ann", 30))

	updated, err := s.UpdateEntity(ctx, &model.Entity{
		InstanceHeader: model.InstanceHeader{GUID: "e1", UpdatedBy: "bob"},
		Properties:     model.InstanceProperties{"name": model.StringValue("Ann B")},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, created.CreateTime, updated.CreateTime)
	assert.Equal(t, "bob", updated.UpdatedBy)
	assert.Equal(t, model.InstanceProperties{"name": model.StringValue("Ann B")}, updated.Properties)

	_, err = s.UpdateEntity(ctx, &model.Entity{InstanceHeader: model.InstanceHeader{GUID: "e1", TypeName: "Asset"}})
	assert.ErrorIs(t, err, model.ErrDuplicateGUID)
	_, err = s.UpdateEntity(ctx, &model.Entity{InstanceHeader: model.InstanceHeader{GUID: "e1", Status: model.StatusProxy}})
	assert.ErrorIs(t, err, model.ErrInvalidCriteria)
	_, err = s.UpdateEntity(ctx, &model.Entity{InstanceHeader: model.InstanceHeader{GUID: "nope"}})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRemoveEntity_IsIdempotentAndKeepsHistory(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New(), Options{})
	mustCreate(t, s, person("e1", "Ann", 30))
	mustCreate(t, s, person("e2", "Bea", 20))

	require.NoError(t, s.RemoveEntity(ctx, "e1"))
	require.NoError(t, s.RemoveEntity(ctx, "e1"))

	_, err := s.GetEntity(ctx, "e1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	hist, err := s.GetEntityHistory(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, hist, 2, "the second remove appends nothing")
	assert.Equal(t, model.StatusDeleted, hist[1].Status)
	assert.Equal(t, int64(2), hist[1].Version)

	found, err := s.FindEntitiesForType(ctx, "Person", nil, true, model.Page{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "e2", found[0].GUID)

	assert.ErrorIs(t, s.RemoveEntity(ctx, "never"), model.ErrNotFound)
}

func TestRemoveEntity_CascadesToRelationships(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New(), Options{})
	mustCreate(t, s, person("e1", "Ann", 30))
	mustCreate(t, s, person("e2", "Bea", 20))
	mustCreate(t, s, person("e3", "Cy", 25))
	mustRelate(t, s, knownBy("r1", "e1", "e2"))
	mustRelate(t, s, knownBy("r2", "e2", "e3"))

	require.NoError(t, s.RemoveEntity(ctx, "e1"))

	_, err := s.GetRelationship(ctx, "r1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	rels, err := s.GetRelationshipsForEntity(ctx, "e2")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "r2", rels[0].GUID)
}

func TestCreateRelationship(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New(), Options{})
	mustCreate(t, s, &model.Entity{
		InstanceHeader: model.InstanceHeader{GUID: "e1", TypeName: "Employee"},
		Properties:     model.InstanceProperties{"qualifiedName": model.StringValue("staff/e1")},
	})
	mustCreate(t, s, person("e2", "Bea", 20))
	mustCreate(t, s, &model.Entity{InstanceHeader: model.InstanceHeader{GUID: "a1", TypeName: "Asset"}})

	r := mustRelate(t, s, knownBy("r1", "e1", "e2"))
	assert.Equal(t, "Employee", r.End1.TypeName, "a subtype satisfies the end type")
	assert.Equal(t, model.StringValue("staff/e1"), r.End1.UniqueProperties["qualifiedName"])
	assert.Equal(t, int64(1), r.Version)

	got, err := s.GetRelationship(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, r, got)

	_, err = s.CreateRelationship(ctx, knownBy("r1", "e1", "e2"))
	assert.ErrorIs(t, err, model.ErrDuplicateGUID)

	_, err = s.CreateRelationship(ctx, knownBy("r2", "e1", "ghost"))
	assert.ErrorIs(t, err, model.ErrNotFound)
	var ie *model.InstanceError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "ghost", ie.GUID)

	_, err = s.CreateRelationship(ctx, knownBy("r3", "e1", "a1"))
	assert.ErrorIs(t, err, model.ErrUnknownType)
}

func TestUpdateRelationship(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New(), Options{})
	mustCreate(t, s, person("e1", "Ann", 30))
	mustCreate(t, s, person("e2", "Bea", 20))
	mustRelate(t, s, knownBy("r1", "e1", "e2"))

	updated, err := s.UpdateRelationship(ctx, &model.Relationship{
		InstanceHeader: model.InstanceHeader{GUID: "r1"},
		Properties:     model.InstanceProperties{"strength": model.IntValue(3)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "e1", updated.End1.GUID)

	moved := knownBy("r1", "e2", "e2")
	_, err = s.UpdateRelationship(ctx, moved)
	assert.ErrorIs(t, err, model.ErrInvalidCriteria)

	require.NoError(t, s.RemoveRelationship(ctx, "r1"))
	require.NoError(t, s.RemoveRelationship(ctx, "r1"))
	_, err = s.UpdateRelationship(ctx, &model.Relationship{InstanceHeader: model.InstanceHeader{GUID: "r1"}})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestGetRelationshipsForEntity_ReportsDanglingEnd(t *testing.T) {
	ctx := context.Background()
	eng := memory.New()
	s := newStore(t, eng, Options{})
	mustCreate(t, s, person("e1", "Ann", 30))

	rel := knownBy("r1", "e1", "ghost")
	rel.Version, rel.Status = 1, model.StatusActive
	_, err := eng.Apply(ctx, []engine.Mutation{{Group: query.Relationships, GUID: "r1", Relationship: rel}})
	require.NoError(t, err)

	_, err = s.GetRelationshipsForEntity(ctx, "e1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	var ie *model.InstanceError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "ghost", ie.GUID)
}

func TestKnownByScenario(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New(), Options{})
	mustCreate(t, s, person("E1", "Ann", 30))
	mustCreate(t, s, person("E2", "Bea", 20))
	mustRelate(t, s, knownBy("R1", "E1", "E2"))

	g, err := s.GetSubGraph(ctx, traversal.SubGraphRequest{EntityGUID: "E1", MaxLevel: 1})
	require.NoError(t, err)
	require.Len(t, g.Entities, 2)
	assert.Equal(t, "E1", g.Entities[0].GUID)
	assert.Equal(t, "E2", g.Entities[1].GUID)
	require.Len(t, g.Relationships, 1)
	assert.Equal(t, "R1", g.Relationships[0].GUID)

	paths, err := s.GetPaths(ctx, traversal.PathsRequest{From: "E1", To: "E2", MaxDepth: 1})
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, []string{"E1", "R1", "E2"}, paths[0].GUIDs())
}

func TestEntityReferenceCopy(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New(), Options{})

	remote := func(version int64, name string) *model.Entity {
		e := person("x1", name, 50)
		e.Version, e.Status, e.MetadataCollectionID = version, model.StatusActive, "remote"
		return e
	}
	require.NoError(t, s.SaveEntityReferenceCopy(ctx, remote(2, "Xan")))

	require.NoError(t, s.SaveEntityReferenceCopy(ctx, remote(1, "Old")))
	require.NoError(t, s.SaveEntityReferenceCopy(ctx, remote(2, "Same")))
	got, err := s.GetEntity(ctx, "x1")
	require.NoError(t, err)
	assert.Equal(t, model.StringValue("Xan"), got.Properties["name"], "stale copies leave the store unchanged")
	hist, err := s.GetEntityHistory(ctx, "x1")
	require.NoError(t, err)
	assert.Len(t, hist, 1)

	require.NoError(t, s.SaveEntityReferenceCopy(ctx, remote(3, "Newer")))
	got, err = s.GetEntity(ctx, "x1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, "remote", got.MetadataCollectionID)

	_, err = s.UpdateEntity(ctx, &model.Entity{InstanceHeader: model.InstanceHeader{GUID: "x1"}})
	assert.ErrorIs(t, err, model.ErrInvalidCriteria, "reference copies are read-only locally")

	local := remote(1, "Loc")
	local.GUID, local.MetadataCollectionID = "x2", home
	assert.ErrorIs(t, s.SaveEntityReferenceCopy(ctx, local), model.ErrInvalidCriteria)
	unversioned := remote(0, "None")
	assert.ErrorIs(t, s.SaveEntityReferenceCopy(ctx, unversioned), model.ErrInvalidCriteria)
}

func TestRelationshipReferenceCopy_ProxiesMissingEnds(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New(), Options{})
	mustCreate(t, s, person("e1", "Ann", 30))

	rel := knownBy("r1", "e1", "far")
	rel.Version, rel.Status, rel.MetadataCollectionID = 4, model.StatusActive, "remote"
	rel.End1.TypeName, rel.End2.TypeName = "Person", "Person"
	require.NoError(t, s.SaveRelationshipReferenceCopy(ctx, rel))

	_, err := s.GetEntity(ctx, "far")
	assert.ErrorIs(t, err, model.ErrProxyOnly)
	proxy, err := s.GetEntityProxy(ctx, "far")
	require.NoError(t, err)
	assert.Equal(t, "remote", proxy.MetadataCollectionID)

	got, err := s.GetRelationship(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Version)

	older := rel.Clone()
	older.Version = 3
	require.NoError(t, s.SaveRelationshipReferenceCopy(ctx, older))
	hist, err := s.GetRelationshipHistory(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestRelationshipReferenceCopy_ChecksEndTypes(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New(), Options{})
	mustCreate(t, s, person("e1", "Ann", 30))
	mustCreate(t, s, person("e2", "Bea", 20))

	owns := func(guid, end2, end2Type string) *model.Relationship {
		r := &model.Relationship{
			InstanceHeader: model.InstanceHeader{GUID: guid, TypeName: "Owns", Version: 1, Status: model.StatusActive, MetadataCollectionID: "remote"},
			End1:           model.EntityProxy{InstanceHeader: model.InstanceHeader{GUID: "e1", TypeName: "Person"}},
			End2:           model.EntityProxy{InstanceHeader: model.InstanceHeader{GUID: end2, TypeName: end2Type}},
		}
		return r
	}
	assert.ErrorIs(t, s.SaveRelationshipReferenceCopy(ctx, owns("o1", "e2", "Person")), model.ErrUnknownType, "held end of the wrong type")
	assert.ErrorIs(t, s.SaveRelationshipReferenceCopy(ctx, owns("o2", "far", "Person")), model.ErrUnknownType, "proxy of the wrong type")
	_, err := s.GetEntityProxy(ctx, "far")
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, s.SaveRelationshipReferenceCopy(ctx, owns("o3", "far", "Asset")))
	proxy, err := s.GetEntityProxy(ctx, "far")
	require.NoError(t, err)
	assert.Equal(t, "Asset", proxy.TypeName)

	mustCreate(t, s, &model.Entity{
		InstanceHeader: model.InstanceHeader{GUID: "e3", TypeName: "Employee"},
		Properties:     model.InstanceProperties{"name": model.StringValue("Cy")},
	})
	rel := knownBy("k1", "e3", "e1")
	rel.Version, rel.Status, rel.MetadataCollectionID = 1, model.StatusActive, "remote"
	require.NoError(t, s.SaveRelationshipReferenceCopy(ctx, rel), "subtypes satisfy the end type")
}

func TestRelationshipReferenceCopy_DoesNotRestoreRemovedEnd(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New(), Options{})
	mustCreate(t, s, person("e1", "Ann", 30))
	mustCreate(t, s, person("e2", "Bea", 20))
	require.NoError(t, s.RemoveEntity(ctx, "e2"))

	rel := knownBy("r1", "e1", "e2")
	rel.Version, rel.Status, rel.MetadataCollectionID = 1, model.StatusActive, "remote"
	rel.End2.TypeName = "Person"
	assert.ErrorIs(t, s.SaveRelationshipReferenceCopy(ctx, rel), model.ErrNotFound)

	_, err := s.GetEntity(ctx, "e2")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.GetEntityProxy(ctx, "e2")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.GetRelationship(ctx, "r1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestClassificationLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New(), Options{})
	mustCreate(t, s, person("e1", "Ann", 30))

	level := func(n int64) model.Classification {
		return model.Classification{Name: "Confidential", Properties: model.InstanceProperties{"level": model.IntValue(n)}}
	}

	ent, err := s.ClassifyEntity(ctx, "e1", level(1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), ent.Version)
	c, ok := ent.Classification("Confidential")
	require.True(t, ok)
	assert.Equal(t, int64(1), c.Version)
	assert.Equal(t, model.StatusActive, c.Status)

	_, err = s.ClassifyEntity(ctx, "e1", level(2))
	assert.ErrorIs(t, err, model.ErrDuplicateGUID)

	ent, err = s.UpdateEntityClassification(ctx, "e1", level(5))
	require.NoError(t, err)
	c, _ = ent.Classification("Confidential")
	assert.Equal(t, int64(2), c.Version)
	assert.Equal(t, model.IntValue(5), c.Properties["level"])

	ent, err = s.DeclassifyEntity(ctx, "e1", "Confidential")
	require.NoError(t, err)
	assert.Equal(t, int64(4), ent.Version)
	c, _ = ent.Classification("Confidential")
	assert.Equal(t, model.StatusDeleted, c.Status)

	_, err = s.DeclassifyEntity(ctx, "e1", "Confidential")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.UpdateEntityClassification(ctx, "e1", level(1))
	assert.ErrorIs(t, err, model.ErrNotFound)

	ent, err = s.ClassifyEntity(ctx, "e1", level(9))
	require.NoError(t, err)
	c, _ = ent.Classification("Confidential")
	assert.Equal(t, int64(4), c.Version, "a removed classification is revived with the next version")

	_, err = s.ClassifyEntity(ctx, "e1", model.Classification{Name: "KnownBy"})
	assert.ErrorIs(t, err, model.ErrUnknownType)
	mustCreate(t, s, person("e2", "Bea", 20))
	_, err = s.ClassifyEntity(ctx, "e2", model.Classification{Name: "Confidential", Properties: model.InstanceProperties{"colour": model.StringValue("red")}})
	assert.ErrorIs(t, err, model.ErrUnknownType)
}

func TestClassifyEntity_RejectsProxy(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New(), Options{})
	require.NoError(t, s.CreateEntityProxy(ctx, &model.EntityProxy{InstanceHeader: model.InstanceHeader{GUID: "p1", TypeName: "Person"}}))

	_, err := s.ClassifyEntity(ctx, "p1", model.Classification{Name: "Confidential"})
	assert.ErrorIs(t, err, model.ErrProxyOnly)
}

func TestGetEntityAsOf(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New(), Options{})

	v1 := mustCreate(t, s, person("e1", "Ann", 30))
	time.Sleep(5 * time.Millisecond)
	v2, err := s.UpdateEntity(ctx, &model.Entity{
		InstanceHeader: model.InstanceHeader{GUID: "e1"},
		Properties:     model.InstanceProperties{"name": model.StringValue("Ann B")},
	})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.RemoveEntity(ctx, "e1"))

	got, err := s.GetEntityAsOf(ctx, "e1", v1.RecordedAt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)

	got, err = s.GetEntityAsOf(ctx, "e1", v2.RecordedAt.Add(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)

	got, err = s.GetEntityAsOf(ctx, "e1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeleted, got.Status)

	_, err = s.GetEntityAsOf(ctx, "e1", v1.RecordedAt.Add(-time.Millisecond))
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.GetRelationshipAsOf(ctx, "r1", time.Now())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

// conflictingEngine loses the race on its first conflicts commits.
type conflictingEngine struct {
	*memory.Engine
	conflicts atomic.Int32
	fail      error
}

func (e *conflictingEngine) Apply(ctx context.Context, muts []engine.Mutation) (engine.Commit, error) {
	if e.fail != nil {
		return engine.Commit{}, e.fail
	}
	if e.conflicts.Add(-1) >= 0 {
		return engine.Commit{}, engine.ErrConflict
	}
	return e.Engine.Apply(ctx, muts)
}

func TestWrite_ReplansAfterConflict(t *testing.T) {
	eng := &conflictingEngine{Engine: memory.New()}
	eng.conflicts.Store(2)
	m := metrics.New()
	s := newStore(t, eng, Options{Metrics: m})

	created := mustCreate(t, s, person("e1", "Ann", 30))
	assert.Equal(t, int64(1), created.Version)
}

func TestWrite_GivesUpAfterMaxRetries(t *testing.T) {
	eng := &conflictingEngine{Engine: memory.New()}
	eng.conflicts.Store(10)
	s := newStore(t, eng, Options{MaxRetries: 2})

	_, err := s.CreateEntity(context.Background(), person("e1", "Ann", 30))
	assert.ErrorIs(t, err, model.ErrVersionConflict)
}

func TestWrite_EngineFailureIsUnavailable(t *testing.T) {
	eng := &conflictingEngine{Engine: memory.New(), fail: errors.New("disk on fire")}
	s := newStore(t, eng, Options{})

	_, err := s.CreateEntity(context.Background(), person("e1", "Ann", 30))
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestClosedEngineIsUnavailable(t *testing.T) {
	eng := memory.New()
	s := newStore(t, eng, Options{})
	require.NoError(t, eng.Close())

	_, err := s.GetEntity(context.Background(), "e1")
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
}
