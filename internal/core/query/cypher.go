package query

import (
	"fmt"
	"strconv"

	"github.com/agenthands/metastore/internal/core/model"
)

// PropertyKey and PropertyTypeKey name the node properties holding a stored
// instance property and its primitive type.
func PropertyKey(name string) string { return "prop." + name }
func PropertyTypeKey(name string) string { return "ptype." + name }

// CypherDialect renders filters over version nodes bound to Alias.
type CypherDialect struct {
	Alias string
}

func Cypher(alias string) CypherDialect { return CypherDialect{Alias: alias} }

func (CypherDialect) True() string { return "true" }
func (CypherDialect) False() string { return "false" }

func (CypherDialect) Bind(i int, v any) (string, any) {
	return "$f" + strconv.Itoa(i), v
}

func (d CypherDialect) TypeIn(names []string) (string, []any, bool) {
	list := make([]any, len(names))
	for i, n := range names {
		list[i] = n
	}
	return d.Alias + ".type_name IN " + placeholder, []any{list}, true
}

func (d CypherDialect) Classified(name string) (string, []any, bool) {
	return placeholder + " IN " + d.Alias + ".classifications", []any{name}, true
}

func (d CypherDialect) prop(name string) string {
	return fmt.Sprintf("%s.`%s`", d.Alias, PropertyKey(name))
}

func (d CypherDialect) guard(name string, v model.PropertyValue) string {
	kind := fmt.Sprintf("%s.`%s`", d.Alias, PropertyTypeKey(name))
	switch {
	case v.Type.IsText():
		return kind + " IN ['string', 'enum']"
	case v.Type == model.TypeBool:
		return kind + " = 'boolean'"
	}
	return kind + " IN ['int', 'float', 'date']"
}

func (d CypherDialect) Compare(c *Compare) (string, []any, bool) {
	text, args, ok := d.compare(c)
	if !ok {
		return "", nil, false
	}
	if len(c.Types) > 0 {
		typeText, typeArgs, _ := d.TypeIn(c.Types)
		text = typeText + " AND " + text
		args = append(typeArgs, args...)
	}
	return text, args, true
}

func (d CypherDialect) compare(c *Compare) (string, []any, bool) {
	p := d.prop(c.Property)
	switch c.Op {
	case IsNull:
		return p + " IS NULL", nil, true
	case NotNull:
		return p + " IS NOT NULL", nil, true
	case In:
		if len(c.Values) == 0 {
			return "false", nil, true
		}
		if !sameKind(c.Values) {
			return "", nil, false
		}
		return fmt.Sprintf("coalesce(CASE WHEN %s THEN %s IN %s END, false)", d.guard(c.Property, c.Values[0]), p, placeholder), []any{rawValues(c)}, true
	case Contains:
		if !c.Value.Type.IsText() {
			return "", nil, false
		}
		return fmt.Sprintf("coalesce(CASE WHEN %s THEN %s CONTAINS %s END, false)", d.guard(c.Property, c.Value), p, placeholder), []any{c.Value.Text()}, true
	case Eq, Neq, Lt, Lte, Gt, Gte:
		if c.Value.Type == model.TypeBool && c.Op != Eq && c.Op != Neq {
			return "", nil, false
		}
		g := d.guard(c.Property, c.Value)
		if c.Op == Neq {
			return fmt.Sprintf("%s IS NOT NULL AND NOT coalesce(CASE WHEN %s THEN %s = %s END, false)", p, g, p, placeholder), []any{c.Value.Raw()}, true
		}
		return fmt.Sprintf("coalesce(CASE WHEN %s THEN %s %s %s END, false)", g, p, c.Op, placeholder), []any{c.Value.Raw()}, true
	}
	return "", nil, false
}

// NodeWhere renders a plan for version nodes, type restriction included.
func NodeWhere(p *Plan, alias string) Pushdown {
	filter := p.Filter
	if p.TypeNames != nil {
		filter = AllOf(TypeIn{Names: p.TypeNames}, filter)
	}
	return Render(filter, Cypher(alias))
}
