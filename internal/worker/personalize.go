package worker

import (
	"fmt"
	"regexp"
	"strings"
)

// personalizationToken matches {{ path.path|default }} per spec.md §4.3.1's
// grammar: path(.path)* ('|' 'default')?.
var personalizationToken = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*(?:\|\s*([^}]*?)\s*)?\}\}`)

// Personalize substitutes {{ path }} tokens in text against data, walking
// dotted paths into nested maps. A missing key is replaced by the literal
// default if the token supplied one, else left untouched (spec.md §4.3.1).
func Personalize(text string, data map[string]any) string {
	if text == "" || !strings.Contains(text, "{{") {
		return text
	}
	return personalizationToken.ReplaceAllStringFunc(text, func(tok string) string {
		m := personalizationToken.FindStringSubmatch(tok)
		path, def, hasDefault := m[1], m[2], m[2] != "" || strings.Contains(tok, "|")
		val, ok := resolvePath(data, strings.Split(path, "."))
		if !ok {
			if hasDefault {
				return def
			}
			return tok
		}
		return stringify(val)
	})
}

func resolvePath(data map[string]any, path []string) (any, bool) {
	var cur any = data
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[key]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
