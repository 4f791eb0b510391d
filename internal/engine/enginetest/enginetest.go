// Package enginetest is a conformance suite every engine backend runs from
// its own tests.
package enginetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/query"
	"github.com/agenthands/metastore/internal/engine"
)

// Run exercises a fresh engine from newEngine per subtest.
func Run(t *testing.T, newEngine func(t *testing.T) engine.Engine) {
	tests := map[string]func(t *testing.T, e engine.Engine){
		"ApplyAndHead":        testApplyAndHead,
		"ConflictIsAtomic":    testConflictIsAtomic,
		"SnapshotIsolation":   testSnapshotIsolation,
		"History":             testHistory,
		"ScanHeadsOnly":       testScanHeadsOnly,
		"ScanPushdown":        testScanPushdown,
		"RelationshipsFor":    testRelationshipsFor,
		"EnsureIndexTwice":    testEnsureIndexTwice,
		"AssertionOnlyWrites": testAssertionOnly,
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			e := newEngine(t)
			t.Cleanup(func() { e.Close() })
			fn(t, e)
		})
	}
}

func person(guid, name string, version int64, status model.InstanceStatus) *model.Entity {
	return &model.Entity{
		InstanceHeader: model.InstanceHeader{GUID: guid, TypeName: "Person", Version: version, Status: status},
		Properties: model.InstanceProperties{
			"name": model.StringValue(name),
			"age":  model.IntValue(version * 10),
		},
	}
}

func put(t *testing.T, e engine.Engine, head int64, ent *model.Entity) engine.Commit {
	t.Helper()
	c, err := e.Apply(context.Background(), []engine.Mutation{{Group: query.Entities, GUID: ent.GUID, Head: head, Entity: ent}})
	require.NoError(t, err)
	return c
}

func snapshot(t *testing.T, e engine.Engine) engine.Snapshot {
	t.Helper()
	s, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	return s
}

func testApplyAndHead(t *testing.T, e engine.Engine) {
	ctx := context.Background()
	c := put(t, e, 0, person("p1", "Ann", 1, model.StatusActive))
	assert.Positive(t, c.Seq)

	rec, err := snapshot(t, e).Head(ctx, query.Entities, "p1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, c.Seq, rec.Seq)
	assert.Equal(t, c.RecordedAt, rec.RecordedAt)
	assert.Equal(t, c.RecordedAt, rec.Entity.RecordedAt)
	assert.Equal(t, model.StringValue("Ann"), rec.Entity.Properties["name"])
	assert.Equal(t, model.IntValue(10), rec.Entity.Properties["age"])

	missing, err := snapshot(t, e).Head(ctx, query.Entities, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	other, err := snapshot(t, e).Head(ctx, query.Relationships, "p1")
	require.NoError(t, err)
	assert.Nil(t, other, "groups do not share guids")
}

func testConflictIsAtomic(t *testing.T, e engine.Engine) {
	ctx := context.Background()
	c := put(t, e, 0, person("p1", "Ann", 1, model.StatusActive))

	_, err := e.Apply(ctx, []engine.Mutation{
		{Group: query.Entities, GUID: "p2", Head: 0, Entity: person("p2", "Bea", 1, model.StatusActive)},
		{Group: query.Entities, GUID: "p1", Head: 0, Entity: person("p1", "Ann", 2, model.StatusActive)},
	})
	assert.ErrorIs(t, err, engine.ErrConflict)

	s := snapshot(t, e)
	p2, err := s.Head(ctx, query.Entities, "p2")
	require.NoError(t, err)
	assert.Nil(t, p2)
	p1, err := s.Head(ctx, query.Entities, "p1")
	require.NoError(t, err)
	assert.Equal(t, c.Seq, p1.Seq)
}

func testSnapshotIsolation(t *testing.T, e engine.Engine) {
	ctx := context.Background()
	c := put(t, e, 0, person("p1", "Ann", 1, model.StatusActive))
	before := snapshot(t, e)

	put(t, e, c.Seq, person("p1", "Ann B", 2, model.StatusActive))
	put(t, e, 0, person("p2", "Bea", 1, model.StatusActive))

	rec, err := before.Head(ctx, query.Entities, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version())

	p2, err := before.Head(ctx, query.Entities, "p2")
	require.NoError(t, err)
	assert.Nil(t, p2)

	all, err := before.Scan(ctx, &query.Plan{Group: query.Entities, Filter: query.True{}})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(1), all[0].Version())
}

func testHistory(t *testing.T, e engine.Engine) {
	ctx := context.Background()
	c1 := put(t, e, 0, person("p1", "Ann", 1, model.StatusActive))
	c2 := put(t, e, c1.Seq, person("p1", "Ann", 2, model.StatusActive))
	put(t, e, c2.Seq, person("p1", "Ann", 3, model.StatusDeleted))

	hist, err := snapshot(t, e).History(ctx, query.Entities, "p1")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	for i, r := range hist {
		assert.Equal(t, int64(i+1), r.Version())
	}
	assert.True(t, hist[2].Deleted())
	assert.False(t, hist[1].RecordedAt.After(hist[2].RecordedAt))

	head, err := snapshot(t, e).Head(ctx, query.Entities, "p1")
	require.NoError(t, err)
	assert.True(t, head.Deleted(), "head includes tombstones")
}

func testScanHeadsOnly(t *testing.T, e engine.Engine) {
	ctx := context.Background()
	c := put(t, e, 0, person("p1", "Ann", 1, model.StatusActive))
	put(t, e, c.Seq, person("p1", "Ann", 2, model.StatusActive))
	c3 := put(t, e, 0, person("p3", "Cy", 1, model.StatusActive))
	put(t, e, c3.Seq, person("p3", "Cy", 2, model.StatusDeleted))

	recs, err := snapshot(t, e).Scan(ctx, &query.Plan{Group: query.Entities, Filter: query.True{}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "p1", recs[0].GUID())
	assert.Equal(t, int64(2), recs[0].Version())
}

func testScanPushdown(t *testing.T, e engine.Engine) {
	ctx := context.Background()
	put(t, e, 0, person("p1", "Ann", 1, model.StatusActive))
	put(t, e, 0, person("p2", "Bea", 2, model.StatusActive))
	put(t, e, 0, person("p3", "Annette", 3, model.StatusActive))

	plan := &query.Plan{
		Group:     query.Entities,
		TypeNames: []string{"Person"},
		Filter: query.AllOf(
			&query.Compare{Property: "name", Op: query.Contains, Value: model.StringValue("Ann")},
			&query.Compare{Property: "age", Op: query.Gte, Value: model.IntValue(20)},
		),
	}
	recs, err := snapshot(t, e).Scan(ctx, plan)
	require.NoError(t, err)
	matched := engine.Matching(recs, plan)
	require.Len(t, matched, 1)
	assert.Equal(t, "p3", matched[0].GUID())

	none, err := snapshot(t, e).Scan(ctx, &query.Plan{Group: query.Entities, TypeNames: []string{"Asset"}, Filter: query.True{}})
	require.NoError(t, err)
	assert.Empty(t, engine.Matching(none, &query.Plan{Group: query.Entities, TypeNames: []string{"Asset"}, Filter: query.True{}}))
}

func relationship(guid, end1, end2 string, status model.InstanceStatus) *model.Relationship {
	return &model.Relationship{
		InstanceHeader: model.InstanceHeader{GUID: guid, TypeName: "KnownBy", Version: 1, Status: status},
		End1:           model.EntityProxy{InstanceHeader: model.InstanceHeader{GUID: end1, TypeName: "Person"}},
		End2:           model.EntityProxy{InstanceHeader: model.InstanceHeader{GUID: end2, TypeName: "Person"}},
	}
}

func testRelationshipsFor(t *testing.T, e engine.Engine) {
	ctx := context.Background()
	_, err := e.Apply(ctx, []engine.Mutation{
		{Group: query.Entities, GUID: "p1", Entity: person("p1", "Ann", 1, model.StatusActive)},
		{Group: query.Entities, GUID: "p2", Entity: person("p2", "Bea", 1, model.StatusActive)},
		{Group: query.Entities, GUID: "p3", Entity: person("p3", "Cy", 1, model.StatusActive)},
		{Group: query.Relationships, GUID: "r1", Relationship: relationship("r1", "p1", "p2", model.StatusActive)},
		{Group: query.Relationships, GUID: "r2", Relationship: relationship("r2", "p3", "p1", model.StatusActive)},
		{Group: query.Relationships, GUID: "r3", Relationship: relationship("r3", "p2", "p3", model.StatusActive)},
	})
	require.NoError(t, err)

	recs, err := snapshot(t, e).RelationshipsFor(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "r1", recs[0].GUID())
	assert.Equal(t, "r2", recs[1].GUID())
	assert.Equal(t, "p2", recs[0].Relationship.End2.GUID)

	head, err := snapshot(t, e).Head(ctx, query.Relationships, "r1")
	require.NoError(t, err)
	removed := relationship("r1", "p1", "p2", model.StatusDeleted)
	removed.Version = 2
	_, err = e.Apply(ctx, []engine.Mutation{{Group: query.Relationships, GUID: "r1", Head: head.Seq, Relationship: removed}})
	require.NoError(t, err)

	recs, err = snapshot(t, e).RelationshipsFor(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "r2", recs[0].GUID())
}

func testEnsureIndexTwice(t *testing.T, e engine.Engine) {
	ctx := context.Background()
	spec := engine.IndexSpec{Group: query.Entities, TypeName: "Person", Property: "name", Type: model.TypeString}
	require.NoError(t, e.EnsureIndex(ctx, spec))
	require.NoError(t, e.EnsureIndex(ctx, spec))

	classification := engine.IndexSpec{Group: query.Entities, TypeName: "Confidential", Classification: "Confidential"}
	require.NoError(t, e.EnsureIndex(ctx, classification))
	require.NoError(t, e.EnsureIndex(ctx, classification))
}

func testAssertionOnly(t *testing.T, e engine.Engine) {
	ctx := context.Background()
	c := put(t, e, 0, person("p1", "Ann", 1, model.StatusActive))

	_, err := e.Apply(ctx, []engine.Mutation{
		{Group: query.Entities, GUID: "p1", Head: c.Seq},
		{Group: query.Relationships, GUID: "r1", Relationship: relationship("r1", "p1", "p1", model.StatusActive)},
	})
	require.NoError(t, err)

	_, err = e.Apply(ctx, []engine.Mutation{
		{Group: query.Entities, GUID: "p1", Head: 0},
		{Group: query.Relationships, GUID: "r2", Relationship: relationship("r2", "p1", "p1", model.StatusActive)},
	})
	assert.ErrorIs(t, err, engine.ErrConflict)

	head, err := snapshot(t, e).Head(ctx, query.Entities, "p1")
	require.NoError(t, err)
	assert.Equal(t, c.Seq, head.Seq, "assertions append nothing")
}
