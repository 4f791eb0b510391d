package query

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/typeregistry"
)

// maxNesting bounds nested condition depth; deeper trees are rejected as
// malformed rather than walked.
const maxNesting = 32

// Group names the instance collection a plan searches.
type Group string

const (
	Entities      Group = "entity"
	Relationships Group = "relationship"
)

// Plan is a translated search: instances of Group whose type is in TypeNames
// (any type when nil) and which satisfy Filter.
type Plan struct {
	Group     Group
	TypeNames []string
	Filter    Expr
}

// Matches applies the whole plan to one subject.
func (p *Plan) Matches(s Subject) bool {
	if p.TypeNames != nil && !containsString(p.TypeNames, s.SubjectType()) {
		return false
	}
	return Eval(p.Filter, s)
}

// TypeResolver is the part of the type registry the translator consults.
type TypeResolver interface {
	TypeDef(name string) (*model.TypeDef, error)
	AttributesOf(name string) (map[string]model.TypeDefAttribute, error)
	IsTypeOf(name, ancestor string) bool
	ResolveQualifiedNames(short string, candidates []string) ([]string, error)
	Scope(filterTypeName string, validTypeNames []string) (*model.TypeScope, error)
}

type Options struct {
	// CaseInsensitive folds case for partial (substring) matches.
	CaseInsensitive bool
	// StrictNone makes NONE over an empty clause set match nothing instead
	// of the whole scope.
	StrictNone bool
}

type Translator struct {
	types TypeResolver
	opts  Options
}

func NewTranslator(types TypeResolver, opts Options) *Translator {
	return &Translator{types: types, opts: opts}
}

// ScopeForType resolves the polymorphic scope of a single type name.
func (t *Translator) ScopeForType(typeName string) (*model.TypeScope, error) {
	return t.types.Scope(typeName, nil)
}

// CompleteScope fills in whatever the caller left out of a scope.
func (t *Translator) CompleteScope(scope *model.TypeScope) (*model.TypeScope, error) {
	if scope == nil {
		return nil, fmt.Errorf("%w: missing type scope", model.ErrInvalidCriteria)
	}
	if len(scope.ValidTypeNames) > 0 && scope.QualifiedAttributes != nil && scope.ShortToQualified != nil {
		return scope, nil
	}
	if scope.FilterTypeName == "" && len(scope.ValidTypeNames) == 0 {
		return nil, fmt.Errorf("%w: scope names no types", model.ErrInvalidCriteria)
	}
	resolved, err := t.types.Scope(scope.FilterTypeName, scope.ValidTypeNames)
	if err != nil {
		return nil, err
	}
	if scope.QualifiedAttributes != nil {
		resolved.QualifiedAttributes = scope.QualifiedAttributes
	}
	if scope.ShortToQualified != nil {
		resolved.ShortToQualified = scope.ShortToQualified
	}
	return resolved, nil
}

// Search translates a match tree over a scope.
func (t *Translator) Search(group Group, scope *model.TypeScope, props *model.SearchProperties, fullMatch bool) (*Plan, error) {
	scope, err := t.CompleteScope(scope)
	if err != nil {
		return nil, err
	}
	b := &builder{t: t, scope: scope, fullMatch: fullMatch, seen: map[*model.SearchProperties]bool{}}
	filter, err := b.properties(props, 0)
	if err != nil {
		return nil, err
	}
	return &Plan{Group: group, TypeNames: scope.ValidTypeNames, Filter: filter}, nil
}

// MatchProperties translates a flat property set combined by criteria.
func (t *Translator) MatchProperties(group Group, scope *model.TypeScope, props model.InstanceProperties, criteria model.MatchCriteria, fullMatch bool) (*Plan, error) {
	return t.Search(group, scope, conditionsFor(props, criteria), fullMatch)
}

// MatchValues translates a value search over props built by
// SearchCriteriaProperties. A scope without string attributes leaves nothing
// to look in, so the plan matches no instance.
func (t *Translator) MatchValues(group Group, scope *model.TypeScope, props model.InstanceProperties, criteria model.MatchCriteria) (*Plan, error) {
	if len(props) > 0 {
		return t.MatchProperties(group, scope, props, criteria, false)
	}
	scope, err := t.CompleteScope(scope)
	if err != nil {
		return nil, err
	}
	return &Plan{Group: group, TypeNames: scope.ValidTypeNames, Filter: False{}}, nil
}

// Classification translates a classification search. Type filtering against
// validTypeNames happens only when performTypeFiltering is set.
func (t *Translator) Classification(name string, props model.InstanceProperties, criteria model.MatchCriteria, performTypeFiltering bool, validTypeNames []string) (*Plan, error) {
	def, err := t.types.TypeDef(name)
	if err != nil {
		return nil, err
	}
	if def.Category != model.CategoryClassification {
		return nil, fmt.Errorf("%w: %s is not a classification", model.ErrUnknownType, name)
	}
	attrs, err := t.types.AttributesOf(name)
	if err != nil {
		return nil, err
	}
	b := &builder{t: t, classification: attrs, fullMatch: true, seen: map[*model.SearchProperties]bool{}}
	filter, err := b.properties(conditionsFor(props, criteria), 0)
	if err != nil {
		return nil, err
	}
	plan := &Plan{Group: Entities, Filter: Classified{Name: name, Filter: filter}}
	if performTypeFiltering {
		plan.TypeNames = append([]string{}, validTypeNames...)
		sort.Strings(plan.TypeNames)
	}
	return plan, nil
}

// SearchCriteriaProperties builds a property set that matches searchCriteria
// against every string attribute of the scope, for value searches.
func (t *Translator) SearchCriteriaProperties(category model.TypeDefCategory, searchCriteria, filterTypeName string, validTypeNames []string) (model.InstanceProperties, error) {
	scope, err := t.types.Scope(filterTypeName, validTypeNames)
	if err != nil {
		return nil, err
	}
	for _, name := range scope.ValidTypeNames {
		def, err := t.types.TypeDef(name)
		if err != nil {
			return nil, err
		}
		if def.Category != category {
			return nil, fmt.Errorf("%w: %s is a %s, not a %s", model.ErrUnknownType, name, def.Category, category)
		}
	}
	props := model.InstanceProperties{}
	for short, qualified := range scope.ShortToQualified {
		for _, q := range qualified {
			if scope.QualifiedAttributes[q].Type == model.TypeString {
				props[short] = model.StringValue(searchCriteria)
				break
			}
		}
	}
	return props, nil
}

func conditionsFor(props model.InstanceProperties, criteria model.MatchCriteria) *model.SearchProperties {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	sp := &model.SearchProperties{MatchCriteria: criteria}
	for _, name := range names {
		v := props[name]
		sp.Conditions = append(sp.Conditions, model.PropertyCondition{Property: name, Operator: model.OpEq, Value: &v})
	}
	return sp
}

type builder struct {
	t              *Translator
	scope          *model.TypeScope
	classification map[string]model.TypeDefAttribute
	fullMatch      bool
	seen           map[*model.SearchProperties]bool
}

func (b *builder) properties(sp *model.SearchProperties, depth int) (Expr, error) {
	if sp == nil {
		return True{}, nil
	}
	if depth > maxNesting {
		return nil, fmt.Errorf("%w: conditions nested deeper than %d", model.ErrInvalidCriteria, maxNesting)
	}
	if b.seen[sp] {
		return nil, fmt.Errorf("%w: circular nested conditions", model.ErrInvalidCriteria)
	}
	b.seen[sp] = true
	defer delete(b.seen, sp)

	clauses := make([]Expr, 0, len(sp.Conditions))
	for i := range sp.Conditions {
		c, err := b.condition(&sp.Conditions[i], depth)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
	}

	switch sp.MatchCriteria {
	case model.MatchAll, "":
		return AllOf(clauses...), nil
	case model.MatchAny:
		if len(clauses) == 0 {
			return True{}, nil
		}
		return AnyOf(clauses...), nil
	case model.MatchNone:
		if len(clauses) == 0 {
			if b.t.opts.StrictNone {
				return False{}, nil
			}
			return True{}, nil
		}
		negated := make([]Expr, len(clauses))
		for i, c := range clauses {
			negated[i] = negate(c)
		}
		return AllOf(negated...), nil
	}
	return nil, fmt.Errorf("%w: unsupported match criteria %q", model.ErrInvalidCriteria, sp.MatchCriteria)
}

func negate(e Expr) Expr {
	switch x := e.(type) {
	case True:
		return False{}
	case False:
		return True{}
	case Not:
		return x.Term
	}
	return Not{Term: e}
}

func (b *builder) condition(c *model.PropertyCondition, depth int) (Expr, error) {
	switch {
	case c.Nested != nil && c.Property != "":
		return nil, fmt.Errorf("%w: condition on %q also carries nested conditions", model.ErrInvalidCriteria, c.Property)
	case c.Nested != nil:
		return b.properties(c.Nested, depth+1)
	case c.Property == "":
		return nil, fmt.Errorf("%w: condition names no property", model.ErrInvalidCriteria)
	}

	if b.classification != nil {
		attr, ok := b.classification[c.Property]
		if !ok {
			return nil, fmt.Errorf("classification property %q: %w", c.Property, model.ErrUnknownType)
		}
		return b.compare(c, c.Property, c.Property, attr, nil)
	}

	if attr, ok := b.scope.QualifiedAttributes[c.Property]; ok {
		_, short := typeregistry.SplitQualified(c.Property)
		return b.compare(c, short, c.Property, attr, b.typesFor(c.Property))
	}
	qualified := b.scope.ShortToQualified[c.Property]
	if len(qualified) == 0 {
		var err error
		if qualified, err = b.t.types.ResolveQualifiedNames(c.Property, b.scope.ValidTypeNames); err != nil {
			return nil, err
		}
	}
	// A short name shared by types of different attribute types only has to
	// accept the value on one of them; the others can never match.
	terms := make([]Expr, 0, len(qualified))
	var rejected error
	accepted := 0
	for _, q := range qualified {
		attr, err := b.qualifiedAttribute(q)
		if err != nil {
			return nil, err
		}
		term, err := b.compare(c, c.Property, q, attr, b.typesFor(q))
		if err != nil {
			if !errors.Is(err, model.ErrInvalidCriteria) {
				return nil, err
			}
			if rejected == nil {
				rejected = err
			}
			term = False{}
		} else {
			accepted++
		}
		terms = append(terms, term)
	}
	if accepted == 0 {
		return nil, rejected
	}
	return AnyOf(terms...), nil
}

func (b *builder) qualifiedAttribute(q string) (model.TypeDefAttribute, error) {
	if attr, ok := b.scope.QualifiedAttributes[q]; ok {
		return attr, nil
	}
	owner, short := typeregistry.SplitQualified(q)
	attrs, err := b.t.types.AttributesOf(owner)
	if err != nil {
		return model.TypeDefAttribute{}, err
	}
	attr, ok := attrs[short]
	if !ok {
		return model.TypeDefAttribute{}, fmt.Errorf("qualified property %q: %w", q, model.ErrUnknownType)
	}
	return attr, nil
}

// typesFor narrows the scope to the types a qualified name is valid for. A
// nil result means every type in scope.
func (b *builder) typesFor(qualified string) []string {
	owner, _ := typeregistry.SplitQualified(qualified)
	var out []string
	for _, t := range b.scope.ValidTypeNames {
		if b.t.types.IsTypeOf(t, owner) {
			out = append(out, t)
		}
	}
	if len(out) == len(b.scope.ValidTypeNames) {
		return nil
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func (b *builder) compare(c *model.PropertyCondition, property, qualified string, attr model.TypeDefAttribute, types []string) (Expr, error) {
	if types != nil && len(types) == 0 {
		return False{}, nil
	}
	cmp := &Compare{Property: property, Qualified: qualified, Types: types}

	if c.Operator == model.OpIsNull || c.Operator == model.OpNotNull {
		cmp.Op = IsNull
		if c.Operator == model.OpNotNull {
			cmp.Op = NotNull
		}
		return cmp, nil
	}

	if c.Operator == model.OpIn {
		if len(c.Values) == 0 {
			return nil, fmt.Errorf("%w: IN on %q without values", model.ErrInvalidCriteria, property)
		}
		cmp.Op = In
		for _, v := range c.Values {
			cv, err := coerce(v, attr)
			if err != nil {
				return nil, err
			}
			cmp.Values = append(cmp.Values, cv)
		}
		return cmp, nil
	}

	if c.Value == nil {
		return nil, fmt.Errorf("%w: %s on %q without a value", model.ErrInvalidCriteria, c.Operator, property)
	}
	v, err := coerce(*c.Value, attr)
	if err != nil {
		return nil, err
	}
	cmp.Value = v
	partial := !b.fullMatch && attr.Type == model.TypeString

	switch c.Operator {
	case model.OpEq, "":
		cmp.Op = Eq
		if partial {
			cmp.Op = Contains
			cmp.Fold = b.t.opts.CaseInsensitive
		}
	case model.OpNeq:
		if partial {
			cmp.Op = Contains
			cmp.Fold = b.t.opts.CaseInsensitive
			return Not{Term: cmp}, nil
		}
		cmp.Op = Neq
	case model.OpLt:
		cmp.Op = Lt
	case model.OpLte:
		cmp.Op = Lte
	case model.OpGt:
		cmp.Op = Gt
	case model.OpGte:
		cmp.Op = Gte
	case model.OpLike:
		if !attr.Type.IsText() {
			return nil, fmt.Errorf("%w: LIKE on non-text property %q", model.ErrInvalidCriteria, property)
		}
		pattern := v.Text()
		if !partial {
			pattern = "^(?:" + pattern + ")$"
		}
		if partial && b.t.opts.CaseInsensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern for %q: %v", model.ErrInvalidCriteria, property, err)
		}
		cmp.Op = Matches
		cmp.Pattern = re
	default:
		return nil, fmt.Errorf("%w: unsupported operator %q", model.ErrInvalidCriteria, c.Operator)
	}
	return cmp, nil
}

// coerce converts a search value to the attribute's declared type, so typed
// properties always compare exactly.
func coerce(v model.PropertyValue, attr model.TypeDefAttribute) (model.PropertyValue, error) {
	if v.Type == attr.Type || attr.Type == "" {
		return v, nil
	}
	bad := func(err error) (model.PropertyValue, error) {
		return model.PropertyValue{}, fmt.Errorf("%w: value %s for %s property %q: %v", model.ErrInvalidCriteria, v, attr.Type, attr.Name, err)
	}
	switch attr.Type {
	case model.TypeString:
		return model.StringValue(v.Text()), nil
	case model.TypeEnum:
		return model.EnumValue(v.Text()), nil
	case model.TypeInt:
		switch x := v.Value.(type) {
		case float64:
			if x != float64(int64(x)) {
				return bad(fmt.Errorf("not an integer"))
			}
			return model.IntValue(int64(x)), nil
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return bad(err)
			}
			return model.IntValue(i), nil
		}
	case model.TypeFloat:
		switch x := v.Value.(type) {
		case int64:
			return model.FloatValue(float64(x)), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return bad(err)
			}
			return model.FloatValue(f), nil
		}
	case model.TypeBool:
		if s, ok := v.Value.(string); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(s))
			if err != nil {
				return bad(err)
			}
			return model.BoolValue(b), nil
		}
	case model.TypeDate:
		switch x := v.Value.(type) {
		case int64:
			return model.DateValue(time.UnixMilli(x)), nil
		case string:
			ts, err := time.Parse(time.RFC3339, strings.TrimSpace(x))
			if err != nil {
				return bad(err)
			}
			return model.DateValue(ts), nil
		}
	}
	return bad(fmt.Errorf("incompatible type %s", v.Type))
}
