// Package render substitutes named placeholders of the form {name}
// into template content from a recipient's attribute map. There is no
// conditional syntax and no nesting; text outside the placeholder
// grammar passes through verbatim.
package render

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// placeholderPattern matches {identifier} where identifier is a
// letter or underscore followed by letters, digits, or underscores.
var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// MissingAttributeError reports placeholders whose attributes are
// absent or empty for a given recipient.
type MissingAttributeError struct {
	Names []string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("missing template attributes: %s", strings.Join(e.Names, ", "))
}

// Placeholders returns the distinct placeholder names referenced by
// content, in order of first appearance.
func Placeholders(content string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(content, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Render substitutes every placeholder in content from attrs. It fails
// with *MissingAttributeError naming every placeholder whose attribute
// is absent or empty; partial output is never returned.
func Render(content string, attrs map[string]string) (string, error) {
	missing := make(map[string]bool)
	out := placeholderPattern.ReplaceAllStringFunc(content, func(match string) string {
		name := match[1 : len(match)-1]
		val, ok := attrs[name]
		if !ok || val == "" {
			missing[name] = true
			return match
		}
		return val
	})
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return "", &MissingAttributeError{Names: names}
	}
	return out, nil
}
