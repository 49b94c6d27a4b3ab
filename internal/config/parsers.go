// Package config loads simulator settings from a configuration file and
// command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// lookupSetting returns the first candidate key present in settings, trying
// each key as written and lowercased.
func lookupSetting(settings map[string]any, candidates ...string) (any, bool) {
	for _, key := range candidates {
		if val, ok := settings[key]; ok {
			return val, true
		}
		if val, ok := settings[strings.ToLower(key)]; ok {
			return val, true
		}
	}
	return nil, false
}

// scalar trims string input; a blank string reads as unset.
func scalar(value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return s
}

func asString(value any) (string, error) {
	return cast.ToStringE(value)
}

func asInt(value any) (int, error) {
	return cast.ToIntE(scalar(value))
}

func asFloat64(value any) (float64, error) {
	return cast.ToFloat64E(scalar(value))
}

func asBool(value any) (bool, error) {
	return cast.ToBoolE(scalar(value))
}

// asDuration accepts Go duration strings; bare numbers count seconds.
func asDuration(value any) (time.Duration, error) {
	switch v := scalar(value).(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	case string:
		return time.ParseDuration(v)
	default:
		secs, err := cast.ToFloat64E(v)
		if err != nil {
			return 0, fmt.Errorf("unsupported duration type %T", value)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
}

func asStringMap(value any) (map[string]string, error) {
	if value == nil {
		return nil, nil
	}
	m, err := cast.ToStringMapStringE(value)
	if err != nil {
		return nil, fmt.Errorf("unsupported map type %T", value)
	}
	if _, ok := m[""]; ok {
		return nil, fmt.Errorf("map key cannot be empty")
	}
	return m, nil
}

// asStringSlice accepts lists or a single comma separated string.
func asStringSlice(value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	default:
		out, err := cast.ToStringSliceE(v)
		if err != nil {
			return nil, fmt.Errorf("unsupported string slice type %T", value)
		}
		return out, nil
	}
}

func toInterfaceSlice(value any) ([]any, error) {
	if value == nil {
		return nil, nil
	}
	items, err := cast.ToSliceE(value)
	if err != nil {
		return nil, fmt.Errorf("expected list, got %T", value)
	}
	return items, nil
}

// toStringKeyMap returns value as a map with trimmed, lowercased keys.
func toStringKeyMap(value any) (map[string]any, error) {
	m, err := cast.ToStringMapE(value)
	if err != nil || m == nil {
		return nil, fmt.Errorf("expected map, got %T", value)
	}
	out := make(map[string]any, len(m))
	for key, val := range m {
		out[strings.ToLower(strings.TrimSpace(key))] = val
	}
	return out, nil
}
