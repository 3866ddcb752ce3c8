package llm

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// RenderTemplate substitutes {name} placeholders with the given values.
// Every placeholder must be supplied; unused values are an error too, so
// typos on either side surface instead of producing a silently odd
// prompt.
func RenderTemplate(template string, values map[string]string) (string, error) {
	used := make(map[string]bool, len(values))
	var missing []string

	rendered := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		value, ok := values[name]
		if !ok {
			missing = append(missing, name)
			return match
		}
		used[name] = true
		return value
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("template placeholders without values: %s", strings.Join(missing, ", "))
	}
	for name := range values {
		if !used[name] {
			return "", fmt.Errorf("template value %q matches no placeholder", name)
		}
	}
	return rendered, nil
}
