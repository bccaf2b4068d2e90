package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// Render replaces every {{ dotted.path }} in tmpl with the value found in ctx.
// Missing or nil values render as the empty string; maps and slices render as JSON.
func Render(tmpl string, ctx map[string]any) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		path := placeholderRe.FindStringSubmatch(m)[1]
		return stringify(resolveContextPath(ctx, path))
	})
}

// resolveContextPath walks a dotted path through nested maps. Numeric
// segments index into slices.
func resolveContextPath(data map[string]any, path string) any {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	var current any = data
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			current = node[part]
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil
			}
			current = node[i]
		default:
			return nil
		}
	}
	return current
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int, int32, int64, bool:
		return fmt.Sprint(val)
	case json.Number:
		return val.String()
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}
