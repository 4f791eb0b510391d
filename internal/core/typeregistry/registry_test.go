package typeregistry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/metastore/internal/core/model"
)

const testTypeDefs = `
typedefs:
  - name: Referenceable
    category: ENTITY_DEF
    attributes:
      - {name: qualifiedName, type: string, unique: true, indexable: true}
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
      - {name: employeeId, type: string, unique: true}
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
      - {name: since, type: date}
  - name: Confidential
    category: CLASSIFICATION_DEF
    validEntityDefs: [Referenceable]
    attributes:
      - {name: level, type: int}
`

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	defs, err := Parse([]byte(testTypeDefs))
	require.NoError(t, err)
	r, err := New(defs...)
	require.NoError(t, err)
	return r
}

func TestAttributesOf_IncludesInherited(t *testing.T) {
	r := newTestRegistry(t)

	attrs, err := r.AttributesOf("Employee")
	require.NoError(t, err)
	assert.Len(t, attrs, 4)
	assert.Contains(t, attrs, "qualifiedName")
	assert.Contains(t, attrs, "employeeId")
	assert.Equal(t, model.TypeInt, attrs["age"].Type)
}

func TestAttributesOf_UnknownType(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.AttributesOf("Nope")
	assert.True(t, errors.Is(err, model.ErrUnknownType))
}

func TestResolveQualifiedNames_CollisionAcrossUnrelatedTypes(t *testing.T) {
	r := newTestRegistry(t)

	names, err := r.ResolveQualifiedNames("name", []string{"Employee", "Asset"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Asset.name", "Person.name"}, names)

	names, err = r.ResolveQualifiedNames("qualifiedName", []string{"Employee", "Asset"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Referenceable.qualifiedName"}, names)
}

func TestResolveQualifiedNames_Unresolvable(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.ResolveQualifiedNames("employeeId", []string{"Asset"})
	assert.ErrorIs(t, err, model.ErrUnknownType)

	_, err = r.ResolveQualifiedNames("name", []string{"Ghost"})
	assert.ErrorIs(t, err, model.ErrUnknownType)
}

func TestSubtypesAndIsTypeOf(t *testing.T) {
	r := newTestRegistry(t)

	subs, err := r.Subtypes("Referenceable")
	require.NoError(t, err)
	assert.Equal(t, []string{"Asset", "Employee", "Person", "Referenceable"}, subs)

	assert.True(t, r.IsTypeOf("Employee", "Referenceable"))
	assert.False(t, r.IsTypeOf("Asset", "Person"))
}

func TestScope(t *testing.T) {
	r := newTestRegistry(t)

	scope, err := r.Scope("Person", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Employee", "Person"}, scope.ValidTypeNames)
	assert.Equal(t, []string{"Person.name"}, scope.ShortToQualified["name"])
	assert.Contains(t, scope.QualifiedAttributes, "Employee.employeeId")
	assert.Contains(t, scope.QualifiedAttributes, "Referenceable.qualifiedName")
}

func TestAdd_RejectsUnknownSupertype(t *testing.T) {
	_, err := New(&model.TypeDef{Name: "Orphan", Category: model.CategoryEntity, SuperType: "Missing"})
	assert.ErrorIs(t, err, model.ErrUnknownType)
}

func TestUniqueAttributes(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, []string{"employeeId", "qualifiedName"}, r.UniqueAttributes("Employee"))
}

func TestSplitQualified(t *testing.T) {
	owner, attr := SplitQualified(Qualify("Person", "name"))
	assert.Equal(t, "Person", owner)
	assert.Equal(t, "name", attr)
}
