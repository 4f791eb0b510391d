package model

import (
	"sort"
	"time"
)

type InstanceStatus string

const (
	StatusUnknown    InstanceStatus = "UNKNOWN"
	StatusDraft      InstanceStatus = "DRAFT"
	StatusProposed   InstanceStatus = "PROPOSED"
	StatusApproved   InstanceStatus = "APPROVED"
	StatusActive     InstanceStatus = "ACTIVE"
	StatusDeprecated InstanceStatus = "DEPRECATED"
	StatusOther      InstanceStatus = "OTHER"
	StatusProxy      InstanceStatus = "PROXY"
	StatusDeleted    InstanceStatus = "DELETED"
)

// InstanceHeader is the identity and audit block shared by every instance.
// Version and RecordedAt are assigned by the store.
type InstanceHeader struct {
	GUID                 string         `json:"guid"`
	TypeName             string         `json:"typeName"`
	MetadataCollectionID string         `json:"metadataCollectionId,omitempty"`
	Version              int64          `json:"version"`
	Status               InstanceStatus `json:"status"`
	CreatedBy            string         `json:"createdBy,omitempty"`
	UpdatedBy            string         `json:"updatedBy,omitempty"`
	CreateTime           time.Time      `json:"createTime"`
	UpdateTime           time.Time      `json:"updateTime"`
	// RecordedAt is transaction time; EffectiveFrom/EffectiveTo bound valid time.
	RecordedAt    time.Time  `json:"recordedAt"`
	EffectiveFrom *time.Time `json:"effectiveFrom,omitempty"`
	EffectiveTo   *time.Time `json:"effectiveTo,omitempty"`
}

func (h InstanceHeader) IsDeleted() bool {
	return h.Status == StatusDeleted
}

// Classification is a typed annotation on exactly one entity.
type Classification struct {
	Name       string             `json:"name"`
	Version    int64              `json:"version"`
	Status     InstanceStatus     `json:"status"`
	Properties InstanceProperties `json:"properties,omitempty"`
	CreateTime time.Time          `json:"createTime"`
	UpdateTime time.Time          `json:"updateTime"`
}

type Entity struct {
	InstanceHeader
	Properties      InstanceProperties `json:"properties,omitempty"`
	Classifications []Classification   `json:"classifications,omitempty"`
	// IsProxy marks a reference-only record holding just unique properties.
	IsProxy bool `json:"isProxy,omitempty"`
}

// EntityProxy is the reduced form of an entity referenced by relationships.
type EntityProxy struct {
	InstanceHeader
	UniqueProperties InstanceProperties `json:"uniqueProperties,omitempty"`
}

// EntitySummary is an entity without its properties.
type EntitySummary struct {
	InstanceHeader
	Classifications []Classification `json:"classifications,omitempty"`
}

type Relationship struct {
	InstanceHeader
	Properties InstanceProperties `json:"properties,omitempty"`
	End1       EntityProxy        `json:"end1"`
	End2       EntityProxy        `json:"end2"`
}

func (c Classification) Clone() Classification {
	c.Properties = c.Properties.Clone()
	return c
}

func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	out := *e
	out.Properties = e.Properties.Clone()
	if e.Classifications != nil {
		out.Classifications = make([]Classification, len(e.Classifications))
		for i, c := range e.Classifications {
			out.Classifications[i] = c.Clone()
		}
	}
	return &out
}

// Classification returns the named classification, if present.
func (e *Entity) Classification(name string) (Classification, bool) {
	for _, c := range e.Classifications {
		if c.Name == name {
			return c, true
		}
	}
	return Classification{}, false
}

// ClassificationNames returns the sorted classification names.
func (e *Entity) ClassificationNames() []string {
	names := make([]string, 0, len(e.Classifications))
	for _, c := range e.Classifications {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

func (e *Entity) Summary() *EntitySummary {
	out := &EntitySummary{InstanceHeader: e.InstanceHeader}
	for _, c := range e.Classifications {
		out.Classifications = append(out.Classifications, c.Clone())
	}
	return out
}

// Proxy reduces the entity to the properties named in unique.
func (e *Entity) Proxy(unique []string) *EntityProxy {
	out := &EntityProxy{InstanceHeader: e.InstanceHeader}
	for _, name := range unique {
		if v, ok := e.Properties[name]; ok {
			if out.UniqueProperties == nil {
				out.UniqueProperties = InstanceProperties{}
			}
			out.UniqueProperties[name] = v
		}
	}
	return out
}

// EntityFromProxy builds the stored form of a proxy.
func EntityFromProxy(p *EntityProxy) *Entity {
	return &Entity{
		InstanceHeader: p.InstanceHeader,
		Properties:     p.UniqueProperties.Clone(),
		IsProxy:        true,
	}
}

func (r *Relationship) Clone() *Relationship {
	if r == nil {
		return nil
	}
	out := *r
	out.Properties = r.Properties.Clone()
	out.End1.UniqueProperties = r.End1.UniqueProperties.Clone()
	out.End2.UniqueProperties = r.End2.UniqueProperties.Clone()
	return &out
}

// OtherEnd returns the GUID at the opposite end from guid.
func (r *Relationship) OtherEnd(guid string) string {
	if r.End1.GUID == guid {
		return r.End2.GUID
	}
	return r.End1.GUID
}

func (r *Relationship) Touches(guid string) bool {
	return r.End1.GUID == guid || r.End2.GUID == guid
}
