package expressions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// tokenPattern matches {{identifier}} placeholders.
var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Interpolate substitutes {{name}} placeholders in template with the text
// representation of the corresponding variable. Tokens whose identifier is
// not bound are left verbatim in the output. Idempotent on templates without
// tokens.
func Interpolate(template string, variables map[string]any) string {
	if !strings.Contains(template, "{{") {
		return template
	}

	return tokenPattern.ReplaceAllStringFunc(template, func(token string) string {
		sub := tokenPattern.FindStringSubmatch(token)
		name := sub[1]
		val, ok := variables[name]
		if !ok {
			return token
		}
		return Stringify(val)
	})
}

// UnboundTokens returns the identifiers of {{name}} tokens in template that
// are not bound in variables, in order of first appearance. Used by the
// validation pipeline to surface unresolved placeholders as warnings.
func UnboundTokens(template string, variables map[string]any) []string {
	var unbound []string
	seen := make(map[string]bool)
	for _, sub := range tokenPattern.FindAllStringSubmatch(template, -1) {
		name := sub[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := variables[name]; !ok {
			unbound = append(unbound, name)
		}
	}
	return unbound
}

// Stringify converts a context value to its text representation.
// Strings pass through; numbers and booleans format naturally; lists and
// maps are JSON-encoded.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.RawMessage:
		return string(val)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
