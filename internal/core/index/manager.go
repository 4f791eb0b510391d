// Package index makes sure the backend has an index for every attribute of a
// type before that type is searched.
package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agenthands/metastore/internal/core/model"
	"github.com/agenthands/metastore/internal/core/query"
	"github.com/agenthands/metastore/internal/engine"
	"github.com/agenthands/metastore/internal/metrics"
)

// Types is the part of the type registry the manager reads.
type Types interface {
	TypeDef(name string) (*model.TypeDef, error)
	AttributesOf(name string) (map[string]model.TypeDefAttribute, error)
}

// Manager creates indexes once per type. Calls for the same type from many
// goroutines serialize on that type; after the first success they are no-ops.
type Manager struct {
	eng     engine.Engine
	types   Types
	log     zerolog.Logger
	metrics *metrics.Metrics

	entries sync.Map // category/type name -> *entry
}

type entry struct {
	mu   sync.Mutex
	done bool
}

func NewManager(eng engine.Engine, types Types, log zerolog.Logger, m *metrics.Metrics) *Manager {
	return &Manager{eng: eng, types: types, log: log, metrics: m}
}

func (m *Manager) EnsureEntityIndexes(ctx context.Context, def *model.TypeDef) error {
	return m.ensure(ctx, def, model.CategoryEntity)
}

func (m *Manager) EnsureRelationshipIndexes(ctx context.Context, def *model.TypeDef) error {
	return m.ensure(ctx, def, model.CategoryRelationship)
}

func (m *Manager) EnsureClassificationIndexes(ctx context.Context, def *model.TypeDef) error {
	return m.ensure(ctx, def, model.CategoryClassification)
}

// EnsureTypes ensures indexes for each named type by its category.
func (m *Manager) EnsureTypes(ctx context.Context, names []string) error {
	for _, name := range names {
		def, err := m.types.TypeDef(name)
		if err != nil {
			return err
		}
		if err := m.ensure(ctx, def, def.Category); err != nil {
			return err
		}
	}
	return nil
}

// Done reports whether the type's indexes were already ensured.
func (m *Manager) Done(category model.TypeDefCategory, name string) bool {
	v, ok := m.entries.Load(key(category, name))
	if !ok {
		return false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

func key(category model.TypeDefCategory, name string) string {
	return string(category) + "/" + name
}

func (m *Manager) ensure(ctx context.Context, def *model.TypeDef, category model.TypeDefCategory) error {
	if def == nil {
		return fmt.Errorf("ensure indexes: %w: missing typedef", model.ErrUnknownType)
	}
	if def.Category != category {
		return fmt.Errorf("ensure indexes: %w: %s is a %s, not a %s", model.ErrUnknownType, def.Name, def.Category, category)
	}
	v, _ := m.entries.LoadOrStore(key(category, def.Name), &entry{})
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return nil
	}

	specs, err := m.specs(def)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		err := m.eng.EnsureIndex(ctx, spec)
		m.metrics.RecordIndex(string(category), err)
		if err == nil {
			continue
		}
		// A failed create on a reachable backend is a lost race with another
		// creator or an index the backend already has.
		if pingErr := m.eng.Ping(ctx); pingErr != nil {
			return model.Unavailable("ensure indexes", err)
		}
		m.log.Warn().Err(err).
			Str("type", def.Name).
			Str("property", spec.Property).
			Msg("index creation failed, assuming it exists")
	}
	e.done = true
	m.log.Debug().Str("type", def.Name).Int("indexes", len(specs)).Msg("indexes ensured")
	return nil
}

func (m *Manager) specs(def *model.TypeDef) ([]engine.IndexSpec, error) {
	if def.Category == model.CategoryClassification {
		return []engine.IndexSpec{{Group: query.Entities, TypeName: def.Name, Classification: def.Name}}, nil
	}
	attrs, err := m.types.AttributesOf(def.Name)
	if err != nil {
		return nil, err
	}
	group := query.Entities
	if def.Category == model.CategoryRelationship {
		group = query.Relationships
	}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	specs := make([]engine.IndexSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, engine.IndexSpec{Group: group, TypeName: def.Name, Property: name, Type: attrs[name].Type})
	}
	return specs, nil
}
