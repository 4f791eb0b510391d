// Package query translates type-scoped, criteria-based searches into a
// backend-neutral predicate tree, evaluates it against instances and renders
// the parts a backend can push down.
package query

import (
	"regexp"
	"strings"
	"time"

	"github.com/agenthands/metastore/internal/core/model"
)

// Expr is a node of the predicate tree.
type Expr interface {
	exprNode()
}

type (
	// True matches everything; False matches nothing.
	True  struct{}
	False struct{}

	And struct{ Terms []Expr }
	Or  struct{ Terms []Expr }
	Not struct{ Term Expr }

	// TypeIn matches instances whose type is one of Names.
	TypeIn struct{ Names []string }

	// Classified matches entities carrying classification Name whose
	// properties satisfy Filter.
	Classified struct {
		Name   string
		Filter Expr
	}
)

type Operator string

const (
	Eq       Operator = "="
	Neq      Operator = "<>"
	Lt       Operator = "<"
	Lte      Operator = "<="
	Gt       Operator = ">"
	Gte      Operator = ">="
	Contains Operator = "CONTAINS"
	Matches  Operator = "MATCHES"
	In       Operator = "IN"
	IsNull   Operator = "IS NULL"
	NotNull  Operator = "IS NOT NULL"
)

// Compare tests one stored property. When Types is non-empty the clause only
// applies to instances of those types: a qualified name is valid for the
// subtypes of its declaring type only.
type Compare struct {
	Property  string
	Qualified string
	Types     []string
	Op        Operator
	Value     model.PropertyValue
	Values    []model.PropertyValue
	Pattern   *regexp.Regexp
	Fold      bool
}

func (True) exprNode() {}
func (False) exprNode() {}
func (And) exprNode() {}
func (Or) exprNode() {}
func (Not) exprNode() {}
func (TypeIn) exprNode() {}
func (Classified) exprNode() {}
func (*Compare) exprNode() {}

// AllOf folds terms into a conjunction, simplifying trivial cases.
func AllOf(terms ...Expr) Expr {
	var out []Expr
	for _, t := range terms {
		switch x := t.(type) {
		case True:
			continue
		case False:
			return False{}
		case And:
			out = append(out, x.Terms...)
			continue
		}
		out = append(out, t)
	}
	switch len(out) {
	case 0:
		return True{}
	case 1:
		return out[0]
	}
	return And{Terms: out}
}

// AnyOf folds terms into a disjunction, simplifying trivial cases.
func AnyOf(terms ...Expr) Expr {
	var out []Expr
	for _, t := range terms {
		switch x := t.(type) {
		case False:
			continue
		case True:
			return True{}
		case Or:
			out = append(out, x.Terms...)
			continue
		}
		out = append(out, t)
	}
	switch len(out) {
	case 0:
		return False{}
	case 1:
		return out[0]
	}
	return Or{Terms: out}
}

// Subject is what an expression is evaluated against.
type Subject interface {
	SubjectType() string
	PropertyValue(name string) (model.PropertyValue, bool)
	ClassificationProperties(name string) (model.InstanceProperties, bool)
}

type entitySubject struct{ e *model.Entity }

func (s entitySubject) SubjectType() string { return s.e.TypeName }

func (s entitySubject) PropertyValue(name string) (model.PropertyValue, bool) {
	v, ok := s.e.Properties[name]
	return v, ok
}

func (s entitySubject) ClassificationProperties(name string) (model.InstanceProperties, bool) {
	c, ok := s.e.Classification(name)
	if !ok || c.Status == model.StatusDeleted {
		return nil, false
	}
	return c.Properties, true
}

type relationshipSubject struct{ r *model.Relationship }

func (s relationshipSubject) SubjectType() string { return s.r.TypeName }

func (s relationshipSubject) PropertyValue(name string) (model.PropertyValue, bool) {
	v, ok := s.r.Properties[name]
	return v, ok
}

func (relationshipSubject) ClassificationProperties(string) (model.InstanceProperties, bool) {
	return nil, false
}

type propertiesSubject struct{ props model.InstanceProperties }

func (propertiesSubject) SubjectType() string { return "" }

func (s propertiesSubject) PropertyValue(name string) (model.PropertyValue, bool) {
	v, ok := s.props[name]
	return v, ok
}

func (propertiesSubject) ClassificationProperties(string) (model.InstanceProperties, bool) {
	return nil, false
}

func EntitySubject(e *model.Entity) Subject { return entitySubject{e: e} }
func RelationshipSubject(r *model.Relationship) Subject { return relationshipSubject{r: r} }

// Eval reports whether s satisfies e.
func Eval(e Expr, s Subject) bool {
	switch x := e.(type) {
	case nil, True:
		return true
	case False:
		return false
	case And:
		for _, t := range x.Terms {
			if !Eval(t, s) {
				return false
			}
		}
		return true
	case Or:
		for _, t := range x.Terms {
			if Eval(t, s) {
				return true
			}
		}
		return false
	case Not:
		return !Eval(x.Term, s)
	case TypeIn:
		return containsString(x.Names, s.SubjectType())
	case Classified:
		props, ok := s.ClassificationProperties(x.Name)
		if !ok {
			return false
		}
		return Eval(x.Filter, propertiesSubject{props: props})
	case *Compare:
		return x.eval(s)
	}
	return false
}

func (c *Compare) eval(s Subject) bool {
	if len(c.Types) > 0 && !containsString(c.Types, s.SubjectType()) {
		return false
	}
	v, ok := s.PropertyValue(c.Property)
	switch c.Op {
	case IsNull:
		return !ok
	case NotNull:
		return ok
	}
	if !ok {
		return false
	}
	switch c.Op {
	case Eq:
		return equalValues(v, c.Value, c.Fold)
	case Neq:
		return !equalValues(v, c.Value, c.Fold)
	case Lt, Lte, Gt, Gte:
		cmp, ok := compareValues(v, c.Value)
		if !ok {
			return false
		}
		switch c.Op {
		case Lt:
			return cmp < 0
		case Lte:
			return cmp <= 0
		case Gt:
			return cmp > 0
		default:
			return cmp >= 0
		}
	case Contains:
		if !v.Type.IsText() {
			return false
		}
		if c.Fold {
			return strings.Contains(strings.ToLower(v.Text()), strings.ToLower(c.Value.Text()))
		}
		return strings.Contains(v.Text(), c.Value.Text())
	case Matches:
		return c.Pattern != nil && v.Type.IsText() && c.Pattern.MatchString(v.Text())
	case In:
		for _, candidate := range c.Values {
			if equalValues(v, candidate, c.Fold) {
				return true
			}
		}
		return false
	}
	return false
}

func equalValues(a, b model.PropertyValue, fold bool) bool {
	if a.Type.IsText() && b.Type.IsText() {
		if fold {
			return strings.EqualFold(a.Text(), b.Text())
		}
		return a.Text() == b.Text()
	}
	if ab, ok := a.Value.(bool); ok {
		bb, ok := b.Value.(bool)
		return ok && ab == bb
	}
	cmp, ok := compareValues(a, b)
	return ok && cmp == 0
}

// compareValues orders two values of compatible kinds.
func compareValues(a, b model.PropertyValue) (int, bool) {
	if a.Type.IsText() && b.Type.IsText() {
		return strings.Compare(a.Text(), b.Text()), true
	}
	x, ok1 := numeric(a.Value)
	y, ok2 := numeric(b.Value)
	if !ok1 || !ok2 {
		return 0, false
	}
	switch {
	case x < y:
		return -1, true
	case x > y:
		return 1, true
	}
	return 0, true
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case time.Time:
		return float64(x.UnixMilli()), true
	}
	return 0, false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
