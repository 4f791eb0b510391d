package query

import (
	"regexp"
	"strings"
)

// placeholder marks a bound argument in rendered text until Render numbers
// them for the target dialect.
const placeholder = "\x00"

var safeName = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// Dialect renders the leaves of a predicate tree for one backend. A leaf the
// dialect cannot express exactly reports false and is left to Eval.
type Dialect interface {
	True() string
	False() string
	TypeIn(names []string) (string, []any, bool)
	Classified(name string) (string, []any, bool)
	Compare(c *Compare) (string, []any, bool)
	// Bind returns the text of the i-th argument reference and the value to
	// bind for it.
	Bind(i int, v any) (string, any)
}

// Pushdown is the renderable part of a filter. When Exact is false the
// condition selects a superset of the matches and callers must still apply
// Eval.
type Pushdown struct {
	Where string
	Args  []any
	Exact bool
}

type fragment struct {
	text string
	args []any
}

// Render pushes as much of e down to the backend as the dialect allows.
func Render(e Expr, d Dialect) Pushdown {
	r := renderer{d: d}
	if f, ok := r.render(e, true); ok {
		return r.finish(f, true)
	}
	if f, ok := r.render(e, false); ok {
		return r.finish(f, false)
	}
	return Pushdown{Where: d.True()}
}

type renderer struct {
	d Dialect
}

func (r renderer) finish(f fragment, exact bool) Pushdown {
	parts := strings.Split(f.text, placeholder)
	var b strings.Builder
	args := make([]any, 0, len(f.args))
	for i, p := range parts {
		b.WriteString(p)
		if i < len(f.args) {
			ref, v := r.d.Bind(i, f.args[i])
			b.WriteString(ref)
			args = append(args, v)
		}
	}
	return Pushdown{Where: b.String(), Args: args, Exact: exact}
}

// render returns a fragment equivalent to e when exact is set, or one that
// admits at least every match of e otherwise.
func (r renderer) render(e Expr, exact bool) (fragment, bool) {
	switch x := e.(type) {
	case nil, True:
		return fragment{text: r.d.True()}, true
	case False:
		return fragment{text: r.d.False()}, true
	case And:
		var kept []fragment
		for _, t := range x.Terms {
			f, ok := r.render(t, exact)
			if !ok {
				if exact {
					return fragment{}, false
				}
				continue
			}
			kept = append(kept, f)
		}
		if len(kept) == 0 {
			return fragment{text: r.d.True()}, true
		}
		return join(kept, " AND "), true
	case Or:
		parts := make([]fragment, 0, len(x.Terms))
		for _, t := range x.Terms {
			f, ok := r.render(t, exact)
			if !ok {
				return fragment{}, false
			}
			parts = append(parts, f)
		}
		if len(parts) == 0 {
			return fragment{text: r.d.False()}, true
		}
		return join(parts, " OR "), true
	case Not:
		f, ok := r.render(x.Term, true)
		if !ok {
			return fragment{}, false
		}
		return fragment{text: "NOT (" + f.text + ")", args: f.args}, true
	case TypeIn:
		return leaf(r.d.TypeIn(x.Names))
	case Classified:
		if _, trivial := x.Filter.(True); !trivial && x.Filter != nil && exact {
			return fragment{}, false
		}
		return leaf(r.d.Classified(x.Name))
	case *Compare:
		if x.Fold || !safeName.MatchString(x.Property) {
			return fragment{}, false
		}
		return leaf(r.d.Compare(x))
	}
	return fragment{}, false
}

func leaf(text string, args []any, ok bool) (fragment, bool) {
	if !ok {
		return fragment{}, false
	}
	return fragment{text: text, args: args}, true
}

func join(parts []fragment, sep string) fragment {
	if len(parts) == 1 {
		return parts[0]
	}
	texts := make([]string, len(parts))
	var args []any
	for i, p := range parts {
		texts[i] = "(" + p.text + ")"
		args = append(args, p.args...)
	}
	return fragment{text: strings.Join(texts, sep), args: args}
}

// placeholders returns n argument markers joined by commas.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat(placeholder+", ", n), ", ")
}

func rawValues(c *Compare) []any {
	out := make([]any, len(c.Values))
	for i, v := range c.Values {
		out[i] = v.Raw()
	}
	return out
}
