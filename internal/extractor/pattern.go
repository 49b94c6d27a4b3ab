package extractor

import (
	"bytes"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
)

// Pattern describes the message a dialog expects. Every non-empty field must
// hold for a message to match; the zero Pattern matches anything.
type Pattern struct {
	// Name must equal the message name.
	Name string `yaml:"name" json:"name,omitempty"`
	// Body must equal the message body exactly.
	Body *string `yaml:"body" json:"body,omitempty"`
	// Contains must be a substring of the body.
	Contains string `yaml:"contains" json:"contains,omitempty"`
	// Regex must match somewhere in the body.
	Regex string `yaml:"regex" json:"regex,omitempty"`
	// JSON maps JSON paths to the string form of the expected value.
	JSON map[string]string `yaml:"json" json:"json,omitempty"`
	// Attributes must all be present with equal values.
	Attributes map[string]string `yaml:"attributes" json:"attributes,omitempty"`
}

var placeholderRef = regexp.MustCompile(`\{\{[^}]*\}\}`)

// Validate checks the pattern's regex. Placeholders are replaced by a literal
// before compiling since their values are only known per session.
func (p Pattern) Validate() error {
	if p.Regex == "" {
		return nil
	}
	candidate := placeholderRef.ReplaceAllString(p.Regex, "x")
	if _, err := regexp.Compile(candidate); err != nil {
		return fmt.Errorf("invalid regex %q: %w", p.Regex, err)
	}
	return nil
}

// Render returns a copy with every string field passed through render.
func (p Pattern) Render(render func(string) string) Pattern {
	out := Pattern{
		Name:     render(p.Name),
		Contains: render(p.Contains),
		Regex:    render(p.Regex),
	}
	if p.Body != nil {
		b := render(*p.Body)
		out.Body = &b
	}
	if p.JSON != nil {
		out.JSON = make(map[string]string, len(p.JSON))
		for k, v := range p.JSON {
			out.JSON[k] = render(v)
		}
	}
	if p.Attributes != nil {
		out.Attributes = make(map[string]string, len(p.Attributes))
		for k, v := range p.Attributes {
			out.Attributes[k] = render(v)
		}
	}
	return out
}

// Match reports whether a message satisfies the pattern. When it does not,
// the returned reason names the first failing criterion.
func (p Pattern) Match(name string, attributes map[string]string, body []byte) (bool, string) {
	if p.Name != "" && p.Name != name {
		return false, fmt.Sprintf("name %q != %q", name, p.Name)
	}
	if p.Body != nil && !bytes.Equal(body, []byte(*p.Body)) {
		return false, "body differs"
	}
	if p.Contains != "" && !bytes.Contains(body, []byte(p.Contains)) {
		return false, fmt.Sprintf("body does not contain %q", p.Contains)
	}
	if p.Regex != "" {
		re, err := compileRegex(p.Regex)
		if err != nil {
			return false, fmt.Sprintf("invalid regex %q", p.Regex)
		}
		if !re.Match(body) {
			return false, fmt.Sprintf("body does not match %q", p.Regex)
		}
	}
	for _, key := range sortedKeys(p.Attributes) {
		got, ok := attributes[key]
		if !ok || got != p.Attributes[key] {
			return false, fmt.Sprintf("attribute %s = %q, want %q", key, got, p.Attributes[key])
		}
	}
	for _, path := range sortedKeys(p.JSON) {
		result, ok := lookupJSON(body, path)
		if !ok {
			return false, fmt.Sprintf("JSON path %s not found", path)
		}
		if result.String() != p.JSON[path] {
			return false, fmt.Sprintf("JSON path %s = %q, want %q", path, result.String(), p.JSON[path])
		}
	}
	return true, ""
}

// String renders a compact description for logs and scenario descriptions.
func (p Pattern) String() string {
	var parts []string
	if p.Name != "" {
		parts = append(parts, "name="+p.Name)
	}
	if p.Body != nil {
		parts = append(parts, fmt.Sprintf("body=%q", *p.Body))
	}
	if p.Contains != "" {
		parts = append(parts, fmt.Sprintf("contains=%q", p.Contains))
	}
	if p.Regex != "" {
		parts = append(parts, fmt.Sprintf("regex=%q", p.Regex))
	}
	for _, k := range sortedKeys(p.JSON) {
		parts = append(parts, fmt.Sprintf("json[%s]=%q", k, p.JSON[k]))
	}
	for _, k := range sortedKeys(p.Attributes) {
		parts = append(parts, fmt.Sprintf("attr[%s]=%q", k, p.Attributes[k]))
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, " ")
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
