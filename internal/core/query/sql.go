package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agenthands/metastore/internal/core/model"
)

// SQLDialect renders filters over the records table of the sql engine:
// type_name, classifications ("|A|B|") and the JSON body column.
type SQLDialect struct {
	postgres bool
}

func SQLite() SQLDialect { return SQLDialect{} }
func Postgres() SQLDialect { return SQLDialect{postgres: true} }

func (SQLDialect) True() string { return "1=1" }
func (SQLDialect) False() string { return "1=0" }

func (d SQLDialect) Bind(i int, v any) (string, any) {
	if b, ok := v.(bool); ok && !d.postgres {
		if b {
			v = 1
		} else {
			v = 0
		}
	}
	return "?", v
}

// Rebind rewrites "?" argument markers into the dialect's own form.
func (d SQLDialect) Rebind(q string) string {
	if !d.postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d SQLDialect) IsPostgres() bool { return d.postgres }

func (SQLDialect) TypeIn(names []string) (string, []any, bool) {
	if len(names) == 0 {
		return "1=0", nil, true
	}
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}
	return "type_name IN (" + placeholders(len(names)) + ")", args, true
}

func (d SQLDialect) Classified(name string) (string, []any, bool) {
	fn := "instr(classifications, " + placeholder + ") > 0"
	if d.postgres {
		fn = "strpos(classifications, " + placeholder + ") > 0"
	}
	return fn, []any{"|" + name + "|"}, true
}

// PropertyPath is the expression selecting a property's stored value.
func (d SQLDialect) PropertyPath(name string) string {
	if d.postgres {
		return fmt.Sprintf("(body->'properties'->'%s'->>'value')", name)
	}
	return fmt.Sprintf(`json_extract(body, '$.properties."%s".value')`, name)
}

func (d SQLDialect) present(name string) string {
	if d.postgres {
		return fmt.Sprintf("(body->'properties'->'%s') IS NOT NULL", name)
	}
	return fmt.Sprintf(`json_type(body, '$.properties."%s"') IS NOT NULL`, name)
}

func (d SQLDialect) storedType(name string) string {
	if d.postgres {
		return fmt.Sprintf("(body->'properties'->'%s'->>'type')", name)
	}
	return fmt.Sprintf(`json_extract(body, '$.properties."%s".type')`, name)
}

// typed returns the value expression for comparisons against v, guarded so
// values of an incompatible stored type never compare.
func (d SQLDialect) typed(name string, v model.PropertyValue) (string, bool) {
	path := d.PropertyPath(name)
	kind := d.storedType(name)
	switch {
	case v.Type.IsText():
		if d.postgres {
			return fmt.Sprintf("CASE WHEN %s IN ('string','enum') THEN %s END COLLATE \"C\"", kind, path), true
		}
		return fmt.Sprintf("CASE WHEN %s IN ('string','enum') THEN %s END", kind, path), true
	case v.Type == model.TypeBool:
		if d.postgres {
			return fmt.Sprintf("CASE WHEN %s = 'boolean' THEN (%s)::boolean END", kind, path), true
		}
		return fmt.Sprintf("CASE WHEN %s = 'boolean' THEN %s END", kind, path), true
	case v.Type == model.TypeInt || v.Type == model.TypeFloat || v.Type == model.TypeDate:
		if d.postgres {
			return fmt.Sprintf("CASE WHEN %s IN ('int','float','date') THEN (%s)::double precision END", kind, path), true
		}
		return fmt.Sprintf("CASE WHEN %s IN ('int','float','date') THEN %s END", kind, path), true
	}
	return "", false
}

func (d SQLDialect) Compare(c *Compare) (string, []any, bool) {
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

func (d SQLDialect) compare(c *Compare) (string, []any, bool) {
	switch c.Op {
	case IsNull:
		return "NOT (" + d.present(c.Property) + ")", nil, true
	case NotNull:
		return d.present(c.Property), nil, true
	case In:
		if len(c.Values) == 0 {
			return "1=0", nil, true
		}
		expr, ok := d.typed(c.Property, c.Values[0])
		if !ok || !sameKind(c.Values) {
			return "", nil, false
		}
		return fmt.Sprintf("coalesce(%s IN (%s), false)", expr, placeholders(len(c.Values))), d.args(rawValues(c)), true
	case Contains:
		if !c.Value.Type.IsText() {
			return "", nil, false
		}
		expr, _ := d.typed(c.Property, c.Value)
		fn := "instr"
		if d.postgres {
			fn = "strpos"
		}
		return fmt.Sprintf("coalesce(%s(%s, %s) > 0, false)", fn, expr, placeholder), []any{c.Value.Text()}, true
	case Eq, Neq, Lt, Lte, Gt, Gte:
		if c.Value.Type == model.TypeBool && c.Op != Eq && c.Op != Neq {
			return "", nil, false
		}
		expr, ok := d.typed(c.Property, c.Value)
		if !ok {
			return "", nil, false
		}
		if c.Op == Neq {
			return fmt.Sprintf("%s AND NOT coalesce(%s = %s, false)", d.present(c.Property), expr, placeholder), []any{d.arg(c.Value)}, true
		}
		return fmt.Sprintf("coalesce(%s %s %s, false)", expr, c.Op, placeholder), []any{d.arg(c.Value)}, true
	}
	return "", nil, false
}

func (d SQLDialect) arg(v model.PropertyValue) any {
	raw := v.Raw()
	if d.postgres {
		switch x := raw.(type) {
		case int64:
			return float64(x)
		}
	}
	return raw
}

func (d SQLDialect) args(raw []any) []any {
	if !d.postgres {
		return raw
	}
	for i, v := range raw {
		if x, ok := v.(int64); ok {
			raw[i] = float64(x)
		}
	}
	return raw
}

func sameKind(values []model.PropertyValue) bool {
	for _, v := range values[1:] {
		if v.Type.IsText() != values[0].Type.IsText() || (v.Type == model.TypeBool) != (values[0].Type == model.TypeBool) {
			return false
		}
	}
	return true
}

// RecordsWhere renders a plan for the records table, type restriction
// included.
func RecordsWhere(p *Plan, d SQLDialect) Pushdown {
	filter := p.Filter
	if p.TypeNames != nil {
		filter = AllOf(TypeIn{Names: p.TypeNames}, filter)
	}
	pd := Render(filter, d)
	pd.Where = strings.TrimSpace(pd.Where)
	return pd
}
