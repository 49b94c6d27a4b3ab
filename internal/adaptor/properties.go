package adaptor

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Properties are the string settings an endpoint is created with.
type Properties map[string]string

// ParseProperties reads "key=value" (or "key: value") lines. Blank lines and
// lines starting with '#' or '!' are ignored; a trailing backslash continues
// the value on the next line.
func ParseProperties(text string) (Properties, error) {
	props := Properties{}
	scanner := bufio.NewScanner(strings.NewReader(text))
	var pending string
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if pending != "" {
			line = pending + line
			pending = ""
		}
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		if strings.HasSuffix(line, `\`) {
			pending = strings.TrimSuffix(line, `\`)
			continue
		}
		idx := strings.IndexAny(line, "=:")
		if idx <= 0 {
			return nil, fmt.Errorf("properties line %d: expected key=value", lineNo)
		}
		key := strings.TrimSpace(line[:idx])
		props[key] = strings.TrimSpace(line[idx+1:])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read properties: %w", err)
	}
	if pending != "" {
		idx := strings.IndexAny(pending, "=:")
		if idx <= 0 {
			return nil, fmt.Errorf("properties line %d: expected key=value", lineNo)
		}
		props[strings.TrimSpace(pending[:idx])] = strings.TrimSpace(pending[idx+1:])
	}
	return props, nil
}

// String returns the value for key or def when absent or blank.
func (p Properties) String(key, def string) string {
	if v, ok := p[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

// Bool parses key as a boolean.
func (p Properties) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("property %s: %w", key, err)
	}
	return b, nil
}

// Float parses key as a float.
func (p Properties) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def, fmt.Errorf("property %s: %w", key, err)
	}
	return f, nil
}

// Int parses key as an integer.
func (p Properties) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def, fmt.Errorf("property %s: %w", key, err)
	}
	return n, nil
}

// Duration parses key as a Go duration; bare integers are milliseconds.
func (p Properties) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p[key]
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	v = strings.TrimSpace(v)
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("property %s: %w", key, err)
	}
	return d, nil
}

// WithPrefix returns the properties whose keys start with prefix, prefix removed.
func (p Properties) WithPrefix(prefix string) map[string]string {
	out := make(map[string]string)
	for k, v := range p {
		if strings.HasPrefix(k, prefix) {
			out[strings.TrimPrefix(k, prefix)] = v
		}
	}
	return out
}
