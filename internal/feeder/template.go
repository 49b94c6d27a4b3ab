package feeder

import (
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// SubstitutePlaceholders replaces every {{field_name}} in template with the
// value from record. Placeholders whose field is not in the record are left
// unchanged. Substitution is single pass: values are never re-expanded.
func SubstitutePlaceholders(template string, record Record) string {
	if len(record) == 0 || !strings.Contains(template, "{{") {
		return template
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]
		if value, ok := record[key]; ok {
			return value
		}
		return match
	})
}

// Placeholders returns the distinct field names referenced by template, in
// order of first appearance.
func Placeholders(template string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(template, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		if _, dup := seen[m[1]]; dup {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	return out
}
