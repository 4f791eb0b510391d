// Package typeregistry adapts the host type system onto the store: type
// hierarchies, inherited attributes and qualified property names.
package typeregistry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/agenthands/metastore/internal/core/model"
)

// Registry holds the type definitions the store may reference. It is safe
// for concurrent use; the store only reads from it.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*model.TypeDef
	subs  map[string][]string
}

func New(defs ...*model.TypeDef) (*Registry, error) {
	r := &Registry{
		types: make(map[string]*model.TypeDef),
		subs:  make(map[string][]string),
	}
	for _, d := range defs {
		if err := r.Add(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers a type. Its supertype must already be registered.
func (r *Registry) Add(def *model.TypeDef) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("typedef without a name")
	}
	switch def.Category {
	case model.CategoryEntity, model.CategoryRelationship, model.CategoryClassification:
	default:
		return fmt.Errorf("typedef %s: unsupported category %q", def.Name, def.Category)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[def.Name]; exists {
		return fmt.Errorf("typedef %s already registered", def.Name)
	}
	if def.SuperType != "" {
		super, ok := r.types[def.SuperType]
		if !ok {
			return fmt.Errorf("typedef %s: %w", def.Name, model.UnknownType(def.SuperType))
		}
		if super.Category != def.Category {
			return fmt.Errorf("typedef %s: supertype %s is a %s", def.Name, super.Name, super.Category)
		}
	}
	seen := map[string]bool{}
	for _, a := range def.Attributes {
		if a.Name == "" || seen[a.Name] {
			return fmt.Errorf("typedef %s: empty or repeated attribute %q", def.Name, a.Name)
		}
		seen[a.Name] = true
	}

	r.types[def.Name] = def
	if def.SuperType != "" {
		r.subs[def.SuperType] = append(r.subs[def.SuperType], def.Name)
	}
	return nil
}

// TypeDef returns the named definition or ErrUnknownType.
func (r *Registry) TypeDef(name string) (*model.TypeDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.types[name]
	if !ok {
		return nil, model.UnknownType(name)
	}
	return def, nil
}

// TypesOf lists every registered type of a category, sorted.
func (r *Registry) TypesOf(category model.TypeDefCategory) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, def := range r.types {
		if def.Category == category {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Ancestors returns name followed by its supertypes, nearest first.
func (r *Registry) Ancestors(name string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ancestors(name)
}

func (r *Registry) ancestors(name string) ([]string, error) {
	var out []string
	for cur := name; cur != ""; {
		def, ok := r.types[cur]
		if !ok {
			return nil, model.UnknownType(cur)
		}
		out = append(out, cur)
		cur = def.SuperType
	}
	return out, nil
}

// IsTypeOf reports whether name equals ancestor or inherits from it.
func (r *Registry) IsTypeOf(name, ancestor string) bool {
	chain, err := r.Ancestors(name)
	if err != nil {
		return false
	}
	for _, t := range chain {
		if t == ancestor {
			return true
		}
	}
	return false
}

// Subtypes returns name and every type inheriting from it, sorted.
func (r *Registry) Subtypes(name string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.types[name]; !ok {
		return nil, model.UnknownType(name)
	}
	var out []string
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		out = append(out, cur)
		queue = append(queue, r.subs[cur]...)
	}
	sort.Strings(out)
	return out, nil
}

// AttributesOf returns every attribute of the type, inherited ones included,
// keyed by short name.
func (r *Registry) AttributesOf(name string) (map[string]model.TypeDefAttribute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain, err := r.ancestors(name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.TypeDefAttribute)
	for i := len(chain) - 1; i >= 0; i-- {
		for _, a := range r.types[chain[i]].Attributes {
			out[a.Name] = a
		}
	}
	return out, nil
}

// UniqueAttributes names the attributes an entity proxy keeps.
func (r *Registry) UniqueAttributes(name string) []string {
	attrs, err := r.AttributesOf(name)
	if err != nil {
		return nil
	}
	var out []string
	for n, a := range attrs {
		if a.Unique {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Qualify builds the qualified name of an attribute declared by owner.
func Qualify(owner, attribute string) string {
	return owner + "." + attribute
}

// SplitQualified is the inverse of Qualify.
func SplitQualified(qualified string) (owner, attribute string) {
	i := strings.LastIndex(qualified, ".")
	if i < 0 {
		return "", qualified
	}
	return qualified[:i], qualified[i+1:]
}

// declaringType finds the nearest ancestor of name that declares attribute.
func (r *Registry) declaringType(name, attribute string) (string, model.TypeDefAttribute, bool, error) {
	chain, err := r.ancestors(name)
	if err != nil {
		return "", model.TypeDefAttribute{}, false, err
	}
	for _, t := range chain {
		for _, a := range r.types[t].Attributes {
			if a.Name == attribute {
				return t, a, true, nil
			}
		}
	}
	return "", model.TypeDefAttribute{}, false, nil
}

// ResolveQualifiedNames maps a short property name to every qualified name it
// denotes across the candidate types. Unrelated types declaring the same short
// name yield distinct qualified names.
func (r *Registry) ResolveQualifiedNames(short string, candidates []string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := map[string]bool{}
	for _, c := range candidates {
		owner, _, ok, err := r.declaringType(c, short)
		if err != nil {
			return nil, err
		}
		if ok {
			set[Qualify(owner, short)] = true
		}
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("property %q on %v: %w", short, candidates, model.ErrUnknownType)
	}
	out := make([]string, 0, len(set))
	for q := range set {
		out = append(out, q)
	}
	sort.Strings(out)
	return out, nil
}

// Scope resolves a polymorphic search scope. When validTypeNames is empty the
// scope is every subtype of filterTypeName.
func (r *Registry) Scope(filterTypeName string, validTypeNames []string) (*model.TypeScope, error) {
	valid := validTypeNames
	if len(valid) == 0 {
		subs, err := r.Subtypes(filterTypeName)
		if err != nil {
			return nil, err
		}
		valid = subs
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	scope := &model.TypeScope{
		ValidTypeNames:      append([]string(nil), valid...),
		FilterTypeName:      filterTypeName,
		QualifiedAttributes: map[string]model.TypeDefAttribute{},
		ShortToQualified:    map[string][]string{},
	}
	sort.Strings(scope.ValidTypeNames)
	for _, t := range scope.ValidTypeNames {
		chain, err := r.ancestors(t)
		if err != nil {
			return nil, err
		}
		for _, owner := range chain {
			for _, a := range r.types[owner].Attributes {
				q := Qualify(owner, a.Name)
				if _, seen := scope.QualifiedAttributes[q]; seen {
					continue
				}
				scope.QualifiedAttributes[q] = a
				scope.ShortToQualified[a.Name] = append(scope.ShortToQualified[a.Name], q)
			}
		}
	}
	for _, qs := range scope.ShortToQualified {
		sort.Strings(qs)
	}
	return scope, nil
}
