package model

import "sort"

type InstanceGraph struct {
	Entities      []*Entity       `json:"entities"`
	Relationships []*Relationship `json:"relationships"`
}

// Path alternates entities and relationships: Entities[i] and Entities[i+1]
// are joined by Relationships[i].
type Path struct {
	Entities      []*Entity       `json:"entities"`
	Relationships []*Relationship `json:"relationships"`
}

func (p *Path) Len() int {
	return len(p.Relationships)
}

// GUIDs returns the GUID sequence entity, relationship, entity, ...
func (p *Path) GUIDs() []string {
	out := make([]string, 0, len(p.Entities)+len(p.Relationships))
	for i, e := range p.Entities {
		out = append(out, e.GUID)
		if i < len(p.Relationships) {
			out = append(out, p.Relationships[i].GUID)
		}
	}
	return out
}

// MergePaths folds paths into one graph with each instance listed once,
// sorted by GUID.
func MergePaths(paths []*Path) *InstanceGraph {
	entities := map[string]*Entity{}
	rels := map[string]*Relationship{}
	for _, p := range paths {
		for _, e := range p.Entities {
			entities[e.GUID] = e
		}
		for _, r := range p.Relationships {
			rels[r.GUID] = r
		}
	}
	g := &InstanceGraph{
		Entities:      make([]*Entity, 0, len(entities)),
		Relationships: make([]*Relationship, 0, len(rels)),
	}
	for _, e := range entities {
		g.Entities = append(g.Entities, e)
	}
	for _, r := range rels {
		g.Relationships = append(g.Relationships, r)
	}
	g.Sort()
	return g
}

func (g *InstanceGraph) Sort() {
	sort.Slice(g.Entities, func(i, j int) bool { return g.Entities[i].GUID < g.Entities[j].GUID })
	sort.Slice(g.Relationships, func(i, j int) bool { return g.Relationships[i].GUID < g.Relationships[j].GUID })
}
