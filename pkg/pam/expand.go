package pam

import (
	"fmt"
	"strings"

	"github.com/salahcoronya/nss-pam-ldapd/pkg/directory"
)

// TemplateError reports a malformed filter template. It maps to a
// local error at the handler boundary; the template comes from
// configuration, never from the client.
type TemplateError struct {
	Template string
	Reason   string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("invalid filter template %q: %s", e.Template, e.Reason)
}

// Context is an ordered set of template variables. Values are escaped
// for directory-filter inclusion as they are added, so the expander
// itself never sees a raw untrusted value. A Context is built fresh
// per request and discarded after the search.
type Context struct {
	names  []string
	values map[string]string
}

// NewContext returns an empty variable context.
func NewContext() *Context {
	return &Context{values: make(map[string]string)}
}

// Set escapes raw per directory filter rules and binds it to name.
// Setting a name twice overwrites the value but keeps its position.
func (c *Context) Set(name, raw string) {
	if _, exists := c.values[name]; !exists {
		c.names = append(c.names, name)
	}
	c.values[name] = directory.EscapeFilter(raw)
}

// Get returns the escaped value bound to name; unknown names resolve
// to the empty string.
func (c *Context) Get(name string) string {
	return c.values[name]
}

// Names returns the variable names in insertion order.
func (c *Context) Names() []string {
	return append([]string(nil), c.names...)
}

// Expand substitutes context variables into a filter template.
//
// Grammar: `$name` and `${name}` substitute the variable's value;
// `${name:-default}` substitutes the default when the variable is
// empty or unset; `${name:+value}` substitutes value only when the
// variable is non-empty. A backslash makes the next character
// literal. Defaults and values may nest further expressions.
func Expand(template string, ctx *Context) (string, error) {
	var out strings.Builder
	if err := expand(&out, template, template, ctx); err != nil {
		return "", err
	}
	return out.String(), nil
}

// expand walks expr writing the expansion to out; expr is either the
// whole template or the default/value part of a ${...} group.
func expand(out *strings.Builder, expr, template string, ctx *Context) error {
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch c {
		case '\\':
			if i+1 >= len(expr) {
				return &TemplateError{Template: template, Reason: "trailing backslash"}
			}
			i++
			out.WriteByte(expr[i])
		case '$':
			n, err := expandVariable(out, expr[i:], template, ctx)
			if err != nil {
				return err
			}
			i += n - 1
		default:
			out.WriteByte(c)
		}
	}
	return nil
}

// expandVariable consumes one $-expression at the start of expr and
// returns how many bytes it consumed.
func expandVariable(out *strings.Builder, expr, template string, ctx *Context) (int, error) {
	if len(expr) < 2 {
		return 0, &TemplateError{Template: template, Reason: "bare $ at end of template"}
	}
	if expr[1] != '{' {
		// $name form: the name is the longest run of name characters.
		end := 1
		for end < len(expr) && isNameChar(expr[end]) {
			end++
		}
		if end == 1 {
			return 0, &TemplateError{Template: template, Reason: "missing variable name after $"}
		}
		out.WriteString(ctx.Get(expr[1:end]))
		return end, nil
	}

	// ${name...} form: find the matching close brace, honoring
	// nesting and backslash escapes.
	depth := 0
	end := -1
scan:
	for i := 1; i < len(expr); i++ {
		switch expr[i] {
		case '\\':
			i++
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i
				break scan
			}
		}
	}
	if end < 0 {
		return 0, &TemplateError{Template: template, Reason: "unterminated ${"}
	}
	body := expr[2:end]

	nameEnd := 0
	for nameEnd < len(body) && isNameChar(body[nameEnd]) {
		nameEnd++
	}
	name := body[:nameEnd]
	if name == "" {
		return 0, &TemplateError{Template: template, Reason: "missing variable name in ${}"}
	}
	value := ctx.Get(name)
	rest := body[nameEnd:]

	switch {
	case rest == "":
		out.WriteString(value)
	case strings.HasPrefix(rest, ":-"):
		if value != "" {
			out.WriteString(value)
		} else if err := expand(out, rest[2:], template, ctx); err != nil {
			return 0, err
		}
	case strings.HasPrefix(rest, ":+"):
		if value != "" {
			if err := expand(out, rest[2:], template, ctx); err != nil {
				return 0, err
			}
		}
	default:
		return 0, &TemplateError{Template: template,
			Reason: fmt.Sprintf("unexpected %q after variable name", rest)}
	}
	return end + 1, nil
}

func isNameChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' || c == '_'
}
