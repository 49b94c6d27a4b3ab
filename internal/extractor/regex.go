package extractor

import (
	"log/slog"
	"regexp"
	"sync"
)

var regexCache sync.Map // pattern -> *regexp.Regexp

func compileRegex(pattern string) (*regexp.Regexp, error) {
	if cached, ok := regexCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	actual, _ := regexCache.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp), nil
}

// findRegex extracts a value from text using a regex pattern.
// If the regex has a capture group, returns the first capture group.
// If no capture group, returns the full match.
// Returns empty string if no match.
func findRegex(body []byte, pattern string, logger *slog.Logger) string {
	regex, err := compileRegex(pattern)
	if err != nil {
		if logger != nil {
			logger.Warn("invalid regex pattern", "pattern", pattern, "error", err)
		}
		return ""
	}

	match := regex.FindSubmatch(body)
	if match == nil {
		if logger != nil {
			logger.Debug("regex pattern not found", "pattern", pattern)
		}
		return ""
	}

	if len(match) > 1 {
		return string(match[1])
	}

	return string(match[0])
}
