package har

import "time"

// ConvertOptions controls which entries are replayed and how.
type ConvertOptions struct {
	// Scenario names the generated scenario. Defaults to "recorded".
	Scenario string
	// IncludeHosts keeps only entries for these hosts (empty keeps all).
	IncludeHosts []string
	// ExcludeHosts drops entries for these hosts.
	ExcludeHosts []string
	// IncludeMethods keeps only these HTTP methods (empty keeps all).
	IncludeMethods []string
	// ExcludeStatic drops scripts, stylesheets, images and fonts.
	ExcludeStatic bool
	// IncludeHeaders copies recorded request headers into each send step.
	IncludeHeaders bool
	// KeepPauses inserts wait steps for the gaps between recorded requests.
	KeepPauses bool
	// StepTimeout bounds each expect step. Zero keeps the scenario default.
	StepTimeout time.Duration
}

// DefaultOptions returns the options used by the har command.
func DefaultOptions() ConvertOptions {
	return ConvertOptions{
		Scenario:       "recorded",
		ExcludeStatic:  true,
		IncludeHeaders: true,
	}
}
