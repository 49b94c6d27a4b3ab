package extractor

import (
	"log/slog"

	"github.com/tidwall/gjson"
)

// normalizePath converts $.field and bare $ into gjson syntax.
func normalizePath(path string) string {
	if len(path) > 0 && path[0] == '$' {
		if len(path) > 1 && path[1] == '.' {
			return path[2:]
		} else if len(path) == 1 {
			return "@this"
		}
	}
	return path
}

// findJSONPath extracts a value from JSON using gjson with support for $.field and field syntax.
func findJSONPath(body []byte, path string, logger *slog.Logger) string {
	result, ok := lookupJSON(body, path)
	if !ok {
		if logger != nil {
			logger.Debug("JSONPath not found", "path", path)
		}
		return ""
	}
	return result.String()
}

func lookupJSON(body []byte, path string) (gjson.Result, bool) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, false
	}
	result := gjson.GetBytes(body, normalizePath(path))
	return result, result.Exists()
}
