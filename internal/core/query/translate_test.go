package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/typeregistry"
)

func newTestTranslator(t *testing.T, opts Options) *Translator {
	t.Helper()
	reg, err := typeregistry.New(
		&model.TypeDef{Name: "Referenceable", Category: model.CategoryEntity, Attributes: []model.TypeDefAttribute{
			{Name: "qualifiedName", Type: model.TypeString, Unique: true},
		}},
		&model.TypeDef{Name: "Person", Category: model.CategoryEntity, SuperType: "Referenceable", Attributes: []model.TypeDefAttribute{
			{Name: "name", Type: model.TypeString},
			{Name: "age", Type: model.TypeInt},
			{Name: "active", Type: model.TypeBool},
		}},
		&model.TypeDef{Name: "Employee", Category: model.CategoryEntity, SuperType: "Person"},
		&model.TypeDef{Name: "Asset", Category: model.CategoryEntity, SuperType: "Referenceable", Attributes: []model.TypeDefAttribute{
			{Name: "name", Type: model.TypeString},
		}},
		&model.TypeDef{Name: "Confidential", Category: model.CategoryClassification, Attributes: []model.TypeDefAttribute{
			{Name: "level", Type: model.TypeInt},
		}},
	)
	require.NoError(t, err)
	return NewTranslator(reg, opts)
}

func person(guid, typeName, name string, age int64) *model.Entity {
	return &model.Entity{
		InstanceHeader: model.InstanceHeader{GUID: guid, TypeName: typeName, Status: model.StatusActive},
		Properties: model.InstanceProperties{
			"name": model.StringValue(name),
			"age":  model.IntValue(age),
		},
	}
}

func personScope(t *testing.T, tr *Translator) *model.TypeScope {
	t.Helper()
	scope, err := tr.ScopeForType("Person")
	require.NoError(t, err)
	return scope
}

func TestMatchProperties_FullMatchIsExact(t *testing.T) {
	tr := newTestTranslator(t, Options{})
	plan, err := tr.MatchProperties(Entities, personScope(t, tr), model.InstanceProperties{"name": model.StringValue("Ann")}, model.MatchAll, true)
	require.NoError(t, err)

	assert.Equal(t, []string{"Employee", "Person"}, plan.TypeNames)
	assert.True(t, plan.Matches(EntitySubject(person("1", "Person", "Ann", 30))))
	assert.True(t, plan.Matches(EntitySubject(person("2", "Employee", "Ann", 30))))
	assert.False(t, plan.Matches(EntitySubject(person("3", "Person", "Anna", 30))))
	assert.False(t, plan.Matches(EntitySubject(person("4", "Asset", "Ann", 0))))
}

func TestMatchProperties_PartialMatchIsSubstring(t *testing.T) {
	tr := newTestTranslator(t, Options{CaseInsensitive: true})
	plan, err := tr.MatchProperties(Entities, personScope(t, tr), model.InstanceProperties{"name": model.StringValue("ann")}, model.MatchAll, false)
	require.NoError(t, err)

	assert.True(t, plan.Matches(EntitySubject(person("1", "Person", "Joanna", 30))))
	assert.False(t, plan.Matches(EntitySubject(person("2", "Person", "Bob", 30))))
}

func TestMatchProperties_NonTextAlwaysExact(t *testing.T) {
	tr := newTestTranslator(t, Options{})
	plan, err := tr.MatchProperties(Entities, personScope(t, tr), model.InstanceProperties{"age": model.StringValue("3")}, model.MatchAll, false)
	require.NoError(t, err)

	cmp, ok := plan.Filter.(*Compare)
	require.True(t, ok)
	assert.Equal(t, Eq, cmp.Op)
	assert.Equal(t, model.IntValue(3), cmp.Value)
	assert.True(t, plan.Matches(EntitySubject(person("1", "Person", "x", 3))))
	assert.False(t, plan.Matches(EntitySubject(person("2", "Person", "x", 33))))
}

func TestMatchProperties_CoercionFailure(t *testing.T) {
	tr := newTestTranslator(t, Options{})
	_, err := tr.MatchProperties(Entities, personScope(t, tr), model.InstanceProperties{"age": model.StringValue("old")}, model.MatchAll, true)
	assert.ErrorIs(t, err, model.ErrInvalidCriteria)
}

func TestMatchProperties_UnknownProperty(t *testing.T) {
	tr := newTestTranslator(t, Options{})
	_, err := tr.MatchProperties(Entities, personScope(t, tr), model.InstanceProperties{"salary": model.IntValue(1)}, model.MatchAll, true)
	assert.ErrorIs(t, err, model.ErrUnknownType)
}

func TestMatchProperties_AnyAndNone(t *testing.T) {
	tr := newTestTranslator(t, Options{})
	scope := personScope(t, tr)
	props := model.InstanceProperties{"name": model.StringValue("Ann"), "age": model.IntValue(40)}

	anyPlan, err := tr.MatchProperties(Entities, scope, props, model.MatchAny, true)
	require.NoError(t, err)
	nonePlan, err := tr.MatchProperties(Entities, scope, props, model.MatchNone, true)
	require.NoError(t, err)

	ann := EntitySubject(person("1", "Person", "Ann", 30))
	bob := EntitySubject(person("2", "Person", "Bob", 30))
	assert.True(t, anyPlan.Matches(ann))
	assert.False(t, anyPlan.Matches(bob))
	assert.False(t, nonePlan.Matches(ann))
	assert.True(t, nonePlan.Matches(bob))
}

func TestMatchProperties_EmptyNone(t *testing.T) {
	lenient := newTestTranslator(t, Options{})
	plan, err := lenient.MatchProperties(Entities, personScope(t, lenient), nil, model.MatchNone, true)
	require.NoError(t, err)
	assert.Equal(t, True{}, plan.Filter)

	strict := newTestTranslator(t, Options{StrictNone: true})
	plan, err = strict.MatchProperties(Entities, personScope(t, strict), nil, model.MatchNone, true)
	require.NoError(t, err)
	assert.Equal(t, False{}, plan.Filter)
}

func TestSearch_CollidingShortNameFansOut(t *testing.T) {
	tr := newTestTranslator(t, Options{})
	scope := &model.TypeScope{ValidTypeNames: []string{"Employee", "Asset"}}
	v := model.StringValue("x")
	plan, err := tr.Search(Entities, scope, &model.SearchProperties{
		Conditions: []model.PropertyCondition{{Property: "name", Operator: model.OpEq, Value: &v}},
	}, true)
	require.NoError(t, err)

	or, ok := plan.Filter.(Or)
	require.True(t, ok)
	require.Len(t, or.Terms, 2)
	assert.Equal(t, "Asset.name", or.Terms[0].(*Compare).Qualified)
	assert.Equal(t, []string{"Asset"}, or.Terms[0].(*Compare).Types)
	assert.Equal(t, "Person.name", or.Terms[1].(*Compare).Qualified)
	assert.Equal(t, []string{"Employee"}, or.Terms[1].(*Compare).Types)

	asset := person("a", "Asset", "x", 0)
	assert.True(t, plan.Matches(EntitySubject(asset)))
}

func TestSearch_QualifiedPropertyName(t *testing.T) {
	tr := newTestTranslator(t, Options{})
	scope := &model.TypeScope{ValidTypeNames: []string{"Employee", "Asset"}}
	v := model.StringValue("x")
	plan, err := tr.Search(Entities, scope, &model.SearchProperties{
		Conditions: []model.PropertyCondition{{Property: "Asset.name", Operator: model.OpEq, Value: &v}},
	}, true)
	require.NoError(t, err)

	assert.True(t, plan.Matches(EntitySubject(person("a", "Asset", "x", 0))))
	assert.False(t, plan.Matches(EntitySubject(person("e", "Employee", "x", 0))))
}

func TestSearch_NestedAndOperators(t *testing.T) {
	tr := newTestTranslator(t, Options{})
	low, high := model.IntValue(18), model.IntValue(65)
	pattern := model.StringValue("A.*")
	plan, err := tr.Search(Entities, personScope(t, tr), &model.SearchProperties{
		MatchCriteria: model.MatchAll,
		Conditions: []model.PropertyCondition{
			{Property: "name", Operator: model.OpLike, Value: &pattern},
			{Nested: &model.SearchProperties{
				MatchCriteria: model.MatchAny,
				Conditions: []model.PropertyCondition{
					{Property: "age", Operator: model.OpLt, Value: &low},
					{Property: "age", Operator: model.OpGte, Value: &high},
				},
			}},
		},
	}, true)
	require.NoError(t, err)

	assert.True(t, plan.Matches(EntitySubject(person("1", "Person", "Ann", 12))))
	assert.True(t, plan.Matches(EntitySubject(person("2", "Person", "Al", 70))))
	assert.False(t, plan.Matches(EntitySubject(person("3", "Person", "Ann", 40))))
	assert.False(t, plan.Matches(EntitySubject(person("4", "Person", "Bob", 12))))
}

func TestSearch_RejectsMalformedConditions(t *testing.T) {
	tr := newTestTranslator(t, Options{})
	scope := personScope(t, tr)
	v := model.StringValue("x")

	cyclic := &model.SearchProperties{}
	cyclic.Conditions = []model.PropertyCondition{{Nested: cyclic}}

	cases := map[string]*model.SearchProperties{
		"no value":        {Conditions: []model.PropertyCondition{{Property: "name", Operator: model.OpEq}}},
		"bad operator":    {Conditions: []model.PropertyCondition{{Property: "name", Operator: "ABOUT", Value: &v}}},
		"both":            {Conditions: []model.PropertyCondition{{Property: "name", Value: &v, Nested: &model.SearchProperties{}}}},
		"neither":         {Conditions: []model.PropertyCondition{{Operator: model.OpEq, Value: &v}}},
		"bad criteria":    {MatchCriteria: "SOME"},
		"cyclic":          cyclic,
		"empty IN values": {Conditions: []model.PropertyCondition{{Property: "name", Operator: model.OpIn}}},
	}
	for name, sp := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tr.Search(Entities, scope, sp, true)
			assert.ErrorIs(t, err, model.ErrInvalidCriteria)
		})
	}
}

func TestSearch_IsNullAndIn(t *testing.T) {
	tr := newTestTranslator(t, Options{})
	plan, err := tr.Search(Entities, personScope(t, tr), &model.SearchProperties{
		MatchCriteria: model.MatchAny,
		Conditions: []model.PropertyCondition{
			{Property: "active", Operator: model.OpIsNull},
			{Property: "name", Operator: model.OpIn, Values: []model.PropertyValue{model.StringValue("Bob"), model.StringValue("Eve")}},
		},
	}, true)
	require.NoError(t, err)

	withFlag := person("1", "Person", "Ann", 1)
	withFlag.Properties["active"] = model.BoolValue(true)
	assert.True(t, plan.Matches(EntitySubject(person("2", "Person", "Ann", 1))))
	assert.False(t, plan.Matches(EntitySubject(withFlag)))
	withFlag.Properties["name"] = model.StringValue("Eve")
	assert.True(t, plan.Matches(EntitySubject(withFlag)))
}

func TestClassification(t *testing.T) {
	tr := newTestTranslator(t, Options{})
	plan, err := tr.Classification("Confidential", model.InstanceProperties{"level": model.IntValue(3)}, model.MatchAll, true, []string{"Person"})
	require.NoError(t, err)

	e := person("1", "Person", "Ann", 1)
	assert.False(t, plan.Matches(EntitySubject(e)))

	e.Classifications = []model.Classification{{Name: "Confidential", Status: model.StatusActive, Properties: model.InstanceProperties{"level": model.IntValue(3)}}}
	assert.True(t, plan.Matches(EntitySubject(e)))

	e.TypeName = "Employee"
	assert.False(t, plan.Matches(EntitySubject(e)), "type filtering uses the given names only")

	e.TypeName = "Person"
	e.Classifications[0].Status = model.StatusDeleted
	assert.False(t, plan.Matches(EntitySubject(e)))
}

func TestClassification_UnknownNames(t *testing.T) {
	tr := newTestTranslator(t, Options{})
	_, err := tr.Classification("Secret", nil, model.MatchAll, false, nil)
	assert.ErrorIs(t, err, model.ErrUnknownType)

	_, err = tr.Classification("Person", nil, model.MatchAll, false, nil)
	assert.ErrorIs(t, err, model.ErrUnknownType)

	_, err = tr.Classification("Confidential", model.InstanceProperties{"colour": model.StringValue("red")}, model.MatchAll, false, nil)
	assert.ErrorIs(t, err, model.ErrUnknownType)
}

func TestSearchCriteriaProperties(t *testing.T) {
	tr := newTestTranslator(t, Options{})
	props, err := tr.SearchCriteriaProperties(model.CategoryEntity, "ann", "Person", nil)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceProperties{
		"name":          model.StringValue("ann"),
		"qualifiedName": model.StringValue("ann"),
	}, props)

	_, err = tr.SearchCriteriaProperties(model.CategoryRelationship, "ann", "Person", nil)
	assert.ErrorIs(t, err, model.ErrUnknownType)
}

func TestMatchValues_NothingToLookIn(t *testing.T) {
	tr := newTestTranslator(t, Options{})
	plan, err := tr.MatchValues(Entities, personScope(t, tr), model.InstanceProperties{}, model.MatchAny)
	require.NoError(t, err)
	assert.Equal(t, False{}, plan.Filter)
	assert.Equal(t, []string{"Employee", "Person"}, plan.TypeNames)
	assert.False(t, plan.Matches(EntitySubject(person("1", "Person", "Ann", 30))))

	plan, err = tr.MatchValues(Entities, personScope(t, tr), model.InstanceProperties{"name": model.StringValue("nn")}, model.MatchAny)
	require.NoError(t, err)
	assert.True(t, plan.Matches(EntitySubject(person("1", "Person", "Ann", 30))))
}

func TestSearch_FanOutSkipsCandidatesThatRejectTheValue(t *testing.T) {
	reg, err := typeregistry.New(
		&model.TypeDef{Name: "Doc", Category: model.CategoryEntity, Attributes: []model.TypeDefAttribute{{Name: "code", Type: model.TypeString}}},
		&model.TypeDef{Name: "Port", Category: model.CategoryEntity, Attributes: []model.TypeDefAttribute{{Name: "code", Type: model.TypeInt}}},
	)
	require.NoError(t, err)
	tr := NewTranslator(reg, Options{})
	scope := &model.TypeScope{ValidTypeNames: []string{"Doc", "Port"}}
	doc := EntitySubject(&model.Entity{
		InstanceHeader: model.InstanceHeader{GUID: "d1", TypeName: "Doc", Status: model.StatusActive},
		Properties:     model.InstanceProperties{"code": model.StringValue("abc")},
	})
	port := EntitySubject(&model.Entity{
		InstanceHeader: model.InstanceHeader{GUID: "p1", TypeName: "Port", Status: model.StatusActive},
		Properties:     model.InstanceProperties{"code": model.IntValue(80)},
	})

	props, err := tr.SearchCriteriaProperties(model.CategoryEntity, "ab", "", scope.ValidTypeNames)
	require.NoError(t, err)
	plan, err := tr.MatchValues(Entities, scope, props, model.MatchAny)
	require.NoError(t, err)
	assert.True(t, plan.Matches(doc))
	assert.False(t, plan.Matches(port))

	plan, err = tr.MatchProperties(Entities, scope, model.InstanceProperties{"code": model.StringValue("80")}, model.MatchAll, true)
	require.NoError(t, err)
	assert.False(t, plan.Matches(doc))
	assert.True(t, plan.Matches(port))

	_, err = tr.MatchProperties(Entities, &model.TypeScope{ValidTypeNames: []string{"Port"}}, model.InstanceProperties{"code": model.StringValue("ab")}, model.MatchAll, true)
	assert.ErrorIs(t, err, model.ErrInvalidCriteria, "no candidate accepts the value")
}

func TestSearch_ShortNameMissingFromSuppliedScope(t *testing.T) {
	tr := newTestTranslator(t, Options{})
	scope := &model.TypeScope{
		ValidTypeNames:      []string{"Asset", "Person"},
		QualifiedAttributes: map[string]model.TypeDefAttribute{},
		ShortToQualified:    map[string][]string{},
	}
	plan, err := tr.MatchProperties(Entities, scope, model.InstanceProperties{"name": model.StringValue("Ann")}, model.MatchAll, true)
	require.NoError(t, err)
	assert.True(t, plan.Matches(EntitySubject(person("1", "Person", "Ann", 30))))
	assert.True(t, plan.Matches(EntitySubject(person("2", "Asset", "Ann", 0))))
	assert.False(t, plan.Matches(EntitySubject(person("3", "Person", "Bob", 30))))

	_, err = tr.MatchProperties(Entities, scope, model.InstanceProperties{"age": model.IntValue(1)}, model.MatchAll, true)
	require.NoError(t, err, "age resolves through Person")
	_, err = tr.MatchProperties(Entities, scope, model.InstanceProperties{"salary": model.IntValue(1)}, model.MatchAll, true)
	assert.ErrorIs(t, err, model.ErrUnknownType)
}
