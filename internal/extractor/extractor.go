// Package extractor matches received messages against expected patterns and
// pulls values out of them into dialog variables.
package extractor

import (
	"fmt"
	"log/slog"
)

// Extractor defines one extraction rule applied to a matched message.
type Extractor struct {
	// Variable is the variable name to store the extracted value
	Variable string `yaml:"variable" json:"variable"`

	// JSONPath is a JSON path expression (e.g., "$.user.id", "user.id")
	JSONPath string `yaml:"json_path" json:"json_path,omitempty"`

	// Regex is a regex pattern with optional capture group
	Regex string `yaml:"regex" json:"regex,omitempty"`

	// Attribute copies a message attribute verbatim
	Attribute string `yaml:"attribute" json:"attribute,omitempty"`
}

// Validate checks that the rule names a variable and exactly one source.
func (e Extractor) Validate() error {
	if e.Variable == "" {
		return fmt.Errorf("extractor requires a variable name")
	}
	sources := 0
	for _, s := range []string{e.JSONPath, e.Regex, e.Attribute} {
		if s != "" {
			sources++
		}
	}
	if sources != 1 {
		return fmt.Errorf("extractor %s must set exactly one of json_path, regex, attribute", e.Variable)
	}
	if e.Regex != "" {
		if _, err := compileRegex(e.Regex); err != nil {
			return fmt.Errorf("extractor %s: %w", e.Variable, err)
		}
	}
	return nil
}

// ExtractAll applies all extractors to a message body and attributes and
// returns the extracted key-value pairs. Rules that find nothing yield an
// empty string and a debug log line; processing continues.
func ExtractAll(body []byte, attributes map[string]string, extractors []Extractor, logger *slog.Logger) map[string]string {
	result := make(map[string]string, len(extractors))

	for _, extractor := range extractors {
		var value string

		switch {
		case extractor.JSONPath != "":
			value = findJSONPath(body, extractor.JSONPath, logger)
		case extractor.Regex != "":
			value = findRegex(body, extractor.Regex, logger)
		case extractor.Attribute != "":
			v, ok := attributes[extractor.Attribute]
			if !ok && logger != nil {
				logger.Debug("attribute not found", "attribute", extractor.Attribute)
			}
			value = v
		}

		result[extractor.Variable] = value
	}

	return result
}
