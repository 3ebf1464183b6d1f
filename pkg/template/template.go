// Package template interpolates {{a.b.c}} references against an execution scope.
//
// The grammar is deliberately small: an expression is a dot-separated path of
// letters, digits, '_' and '-'. Numeric segments index into lists. A path that
// does not resolve renders as the empty string. Text that does not match the
// grammar is left untouched.
package template

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var expression = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_\-]+(?:\.[A-Za-z0-9_\-]+)*)\s*\}\}`)

// Render replaces every expression in input with the string form of its value.
func Render(input string, scope map[string]any) string {
	if !strings.Contains(input, "{{") {
		return input
	}

	return expression.ReplaceAllStringFunc(input, func(match string) string {
		path := expression.FindStringSubmatch(match)[1]

		value, ok := Lookup(scope, path)
		if !ok {
			return ""
		}

		return Stringify(value)
	})
}

// Resolve behaves like Render, except that an input consisting of a single expression
// returns the referenced value with its type preserved.
func Resolve(input string, scope map[string]any) any {
	trimmed := strings.TrimSpace(input)

	loc := expression.FindStringSubmatchIndex(trimmed)
	if loc != nil && loc[0] == 0 && loc[1] == len(trimmed) {
		value, ok := Lookup(scope, trimmed[loc[2]:loc[3]])
		if !ok || value == nil {
			return ""
		}

		return value
	}

	return Render(input, scope)
}

// ResolveValue walks maps and lists and resolves every string it finds.
func ResolveValue(value any, scope map[string]any) any {
	switch typed := value.(type) {
	case string:
		return Resolve(typed, scope)
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = ResolveValue(item, scope)
		}

		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = ResolveValue(item, scope)
		}

		return out
	default:
		return value
	}
}

// ResolveConfig resolves a node configuration map.
func ResolveConfig(config map[string]any, scope map[string]any) map[string]any {
	if config == nil {
		return map[string]any{}
	}

	resolved, _ := ResolveValue(config, scope).(map[string]any)

	return resolved
}

// Lookup follows a dotted path through nested maps and lists.
func Lookup(scope map[string]any, path string) (any, bool) {
	var current any = scope

	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = next
		case map[string]string:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = next
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}

			current = node[index]
		case []string:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}

			current = node[index]
		default:
			return nil, false
		}
	}

	return current, true
}

// Stringify formats a resolved value for embedding in text.
func Stringify(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case bool:
		return strconv.FormatBool(typed)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case json.Number:
		return typed.String()
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return ""
		}

		return string(encoded)
	}
}
