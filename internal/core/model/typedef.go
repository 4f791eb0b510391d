package model

type TypeDefCategory string

const (
	CategoryEntity         TypeDefCategory = "ENTITY_DEF"
	CategoryRelationship   TypeDefCategory = "RELATIONSHIP_DEF"
	CategoryClassification TypeDefCategory = "CLASSIFICATION_DEF"
)

// TypeDefAttribute is an attribute declared directly on a type.
type TypeDefAttribute struct {
	Name        string        `json:"name" yaml:"name"`
	Type        PrimitiveType `json:"type" yaml:"type"`
	Unique      bool          `json:"unique,omitempty" yaml:"unique,omitempty"`
	Indexable   bool          `json:"indexable,omitempty" yaml:"indexable,omitempty"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
}

// TypeDef is supplied by the type registry; the store only reads it.
type TypeDef struct {
	GUID       string             `json:"guid" yaml:"guid"`
	Name       string             `json:"name" yaml:"name"`
	Category   TypeDefCategory    `json:"category" yaml:"category"`
	SuperType  string             `json:"superType,omitempty" yaml:"superType,omitempty"`
	Attributes []TypeDefAttribute `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	// ValidEntityDefs lists the entity types a classification may annotate.
	ValidEntityDefs []string `json:"validEntityDefs,omitempty" yaml:"validEntityDefs,omitempty"`
	// End1Type and End2Type constrain relationship ends.
	End1Type string `json:"end1Type,omitempty" yaml:"end1Type,omitempty"`
	End2Type string `json:"end2Type,omitempty" yaml:"end2Type,omitempty"`
}
