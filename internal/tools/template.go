package tools

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// TemplateContext is the closed namespace available to descriptor
// templates. Placeholders rooted anywhere else are never resolved.
type TemplateContext struct {
	Member  map[string]any
	Gym     map[string]any
	Args    map[string]any
	Session map[string]any
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+(?:\.[A-Za-z0-9_]+)*)\s*\}\}`)

// RenderTemplate substitutes {{root.path}} placeholders with values
// from the context. Placeholders that do not resolve, including any
// with a root outside the namespace, are left verbatim so secrets can
// never leak through a descriptor typo.
func RenderTemplate(tmpl string, tc TemplateContext) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		path := placeholderRe.FindStringSubmatch(match)[1]
		v, ok := tc.resolve(path)
		if !ok {
			return match
		}
		return formatValue(v)
	})
}

// BindQueryTemplate rewrites {{root.path}} placeholders in a SQL
// template as positional bind parameters and returns the parameter
// values in order. Repeated placeholders share one parameter, and
// unresolved placeholders bind NULL so template values can never alter
// the statement text.
func BindQueryTemplate(sqlTmpl string, tc TemplateContext) (string, []any) {
	var (
		args    []any
		ordinal = make(map[string]int)
	)
	bound := placeholderRe.ReplaceAllStringFunc(sqlTmpl, func(match string) string {
		path := placeholderRe.FindStringSubmatch(match)[1]
		if n, ok := ordinal[path]; ok {
			return "$" + strconv.Itoa(n)
		}
		v, ok := tc.resolve(path)
		if !ok {
			v = nil
		}
		args = append(args, v)
		n := len(args)
		ordinal[path] = n
		return "$" + strconv.Itoa(n)
	})
	return bound, args
}

// CheckTemplateVars rejects placeholders rooted outside the namespace.
// A missing leaf under a known root renders verbatim at execution time,
// but an unknown root is an authoring error and is refused outright so
// a descriptor can never reach for host-side state.
func CheckTemplateVars(tmpls ...string) error {
	for _, tmpl := range tmpls {
		for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
			root, _, _ := strings.Cut(m[1], ".")
			switch root {
			case "member", "gym", "args", "session":
			default:
				return fmt.Errorf("template variable {{%s}}: %q is not an allowed namespace (member, gym, args, session)", m[1], root)
			}
		}
	}
	return nil
}

// CheckDescriptorTemplates runs CheckTemplateVars over every template a
// descriptor can render for its kind.
func CheckDescriptorTemplates(d Descriptor) error {
	switch d.Kind {
	case KindREST:
		if d.REST == nil {
			return nil
		}
		tmpls := []string{d.REST.URL, d.REST.Body}
		for _, v := range d.REST.Headers {
			tmpls = append(tmpls, v)
		}
		return CheckTemplateVars(tmpls...)
	case KindQuery:
		if d.Query == nil {
			return nil
		}
		return CheckTemplateVars(d.Query.SQL)
	case KindWebhook:
		if d.Webhook == nil {
			return nil
		}
		return CheckTemplateVars(d.Webhook.URL)
	}
	return nil
}

func (tc TemplateContext) resolve(path string) (any, bool) {
	parts := strings.Split(path, ".")
	if len(parts) < 2 {
		return nil, false
	}
	var scope map[string]any
	switch parts[0] {
	case "member":
		scope = tc.Member
	case "gym":
		scope = tc.Gym
	case "args":
		scope = tc.Args
	case "session":
		scope = tc.Session
	default:
		return nil, false
	}
	var current any = scope
	for _, part := range parts[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprintf("%v", val)
	}
}
