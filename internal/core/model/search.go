package model

// MatchCriteria combines property clauses: ALL is a conjunction, ANY a
// disjunction and NONE a conjunction of negations.
type MatchCriteria string

const (
	MatchAll  MatchCriteria = "ALL"
	MatchAny  MatchCriteria = "ANY"
	MatchNone MatchCriteria = "NONE"
)

type ComparisonOperator string

const (
	OpEq      ComparisonOperator = "EQ"
	OpNeq     ComparisonOperator = "NEQ"
	OpLt      ComparisonOperator = "LT"
	OpLte     ComparisonOperator = "LTE"
	OpGt      ComparisonOperator = "GT"
	OpGte     ComparisonOperator = "GTE"
	OpIn      ComparisonOperator = "IN"
	OpLike    ComparisonOperator = "LIKE"
	OpIsNull  ComparisonOperator = "IS_NULL"
	OpNotNull ComparisonOperator = "NOT_NULL"
)

// PropertyCondition is one clause of a match tree. A condition carries either
// a property comparison or a nested set of conditions.
type PropertyCondition struct {
	Property string             `json:"property,omitempty"`
	Operator ComparisonOperator `json:"operator,omitempty"`
	Value    *PropertyValue     `json:"value,omitempty"`
	Values   []PropertyValue    `json:"values,omitempty"`
	Nested   *SearchProperties  `json:"nested,omitempty"`
}

type SearchProperties struct {
	Conditions    []PropertyCondition `json:"conditions,omitempty"`
	MatchCriteria MatchCriteria       `json:"matchCriteria,omitempty"`
}

// Page bounds a result list. A zero Limit means no limit.
type Page struct {
	Offset int `json:"offset,omitempty"`
	Limit  int `json:"limit,omitempty"`
}

// TypeScope is the resolved search scope of a polymorphic query: the closed
// set of valid type names under FilterTypeName plus the attribute maps keyed
// by qualified name ("DeclaringType.attribute").
type TypeScope struct {
	ValidTypeNames      []string
	FilterTypeName      string
	QualifiedAttributes map[string]TypeDefAttribute
	ShortToQualified    map[string][]string
}
