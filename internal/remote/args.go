package remote

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/torosent/scensim/internal/adaptor"
	"github.com/torosent/scensim/internal/simerr"
)

// Args are the named arguments of one call, still JSON encoded.
type Args map[string]json.RawMessage

func (a Args) has(name string) bool {
	raw, ok := a[name]
	return ok && len(raw) > 0 && string(raw) != "null"
}

func (a Args) decode(name string, v any) error {
	if err := json.Unmarshal(a[name], v); err != nil {
		return simerr.Configuration("argument %s: %w", name, err)
	}
	return nil
}

// String returns a string argument. Numbers and booleans are accepted in
// their literal form.
func (a Args) String(name string) (string, error) {
	if !a.has(name) {
		return "", simerr.Configuration("argument %s is required", name)
	}
	return a.OptionalString(name, "")
}

// OptionalString returns a string argument or def when absent.
func (a Args) OptionalString(name, def string) (string, error) {
	if !a.has(name) {
		return def, nil
	}
	raw := a[name]
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	switch raw[0] {
	case '{', '[', '"':
		return "", simerr.Configuration("argument %s: expected a string", name)
	}
	return string(raw), nil
}

// Float returns a numeric argument; numeric strings are accepted.
func (a Args) Float(name string) (float64, error) {
	if !a.has(name) {
		return 0, simerr.Configuration("argument %s is required", name)
	}
	var f float64
	if err := json.Unmarshal(a[name], &f); err == nil {
		return f, nil
	}
	s, err := a.String(name)
	if err != nil {
		return 0, err
	}
	f, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, simerr.Configuration("argument %s: %q is not a number", name, s)
	}
	return f, nil
}

// Bool returns a boolean argument or def when absent.
func (a Args) Bool(name string, def bool) (bool, error) {
	if !a.has(name) {
		return def, nil
	}
	var b bool
	if err := json.Unmarshal(a[name], &b); err == nil {
		return b, nil
	}
	s, err := a.String(name)
	if err != nil {
		return false, err
	}
	b, err = strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, simerr.Configuration("argument %s: %q is not a boolean", name, s)
	}
	return b, nil
}

// Duration returns a duration argument or def when absent. Strings use
// time.ParseDuration syntax, a bare number counts seconds.
func (a Args) Duration(name string, def time.Duration) (time.Duration, error) {
	if !a.has(name) {
		return def, nil
	}
	var secs float64
	if err := json.Unmarshal(a[name], &secs); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	s, err := a.String(name)
	if err != nil {
		return 0, err
	}
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return 0, simerr.Configuration("argument %s: %q is not a duration", name, s)
}

// Strings returns a list argument. A single string is split on commas.
func (a Args) Strings(name string) ([]string, error) {
	if !a.has(name) {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(a[name], &list); err == nil {
		return list, nil
	}
	s, err := a.String(name)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out, nil
}

// Properties returns endpoint properties given either as a JSON object or
// as "key=value" lines.
func (a Args) Properties(name string) (map[string]string, error) {
	if !a.has(name) {
		return map[string]string{}, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(a[name], &obj); err == nil {
		props := make(map[string]string, len(obj))
		for k, v := range obj {
			props[k] = fmt.Sprint(v)
		}
		return props, nil
	}
	text, err := a.String(name)
	if err != nil {
		return nil, err
	}
	props, err := adaptor.ParseProperties(text)
	if err != nil {
		return nil, simerr.Configuration("argument %s: %w", name, err)
	}
	return props, nil
}

// Weights returns a scenario name or a name-to-weight object as weights.
// The boolean reports whether a single name was given.
func (a Args) Weights(name string) (map[string]float64, bool, error) {
	if !a.has(name) {
		return nil, false, simerr.Configuration("argument %s is required", name)
	}
	var single string
	if err := json.Unmarshal(a[name], &single); err == nil {
		return map[string]float64{strings.TrimSpace(single): 1}, true, nil
	}
	var weights map[string]float64
	if err := a.decode(name, &weights); err != nil {
		return nil, false, err
	}
	return weights, false, nil
}
