package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	DefaultListenAddress     = "127.0.0.1:8270"
	DefaultLogLevel          = "info"
	DefaultMaxActiveSessions = 1000
	DefaultTickInterval      = 100 * time.Millisecond
	DefaultQuitTimeout       = 10 * time.Second
	DefaultReadyTimeout      = 30 * time.Second
)

type Config struct {
	Listen            string             `mapstructure:"listen"`
	LogLevel          string             `mapstructure:"log_level"`
	MaxActiveSessions int                `mapstructure:"max_active_sessions"`
	TickInterval      time.Duration      `mapstructure:"tick_interval"`
	Arrival           ArrivalConfig      `mapstructure:"arrival"`
	Seed              int64              `mapstructure:"seed"`
	QuitTimeout       time.Duration      `mapstructure:"quit_timeout"`
	ReadyTimeout      time.Duration      `mapstructure:"ready_timeout"`
	Rate              float64            `mapstructure:"rate"`
	Ramp              RampConfig         `mapstructure:"ramp"`
	Duration          time.Duration      `mapstructure:"duration"`
	JSONOutput        bool               `mapstructure:"json_output"`
	Thresholds        []string           `mapstructure:"thresholds"`
	Tracing           TracingConfig      `mapstructure:"tracing"`
	Endpoints         []Endpoint         `mapstructure:"endpoints"`
	DataSets          []DataSet          `mapstructure:"data_sets"`
	Scenarios         []Scenario         `mapstructure:"scenarios"`
	Tables            []TableBinding     `mapstructure:"tables"`
	Roles             []RoleBinding      `mapstructure:"roles"`
	Preferred         map[string]float64 `mapstructure:"preferred"`
	ConfigFile        string             `mapstructure:"-"`
}

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

type ArrivalConfig struct {
	Model ArrivalModel `mapstructure:"model"`
}

// RampConfig moves the session rate linearly from From to To over Period.
// A zero Period means no ramp.
type RampConfig struct {
	From   float64       `mapstructure:"from"`
	To     float64       `mapstructure:"to"`
	Period time.Duration `mapstructure:"period"`
}

// Enabled reports whether a ramp was configured.
func (r RampConfig) Enabled() bool {
	return r.Period != 0
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" (default) or "http"
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// ShouldPropagate reports whether trace context is injected into outgoing
// traffic. Propagation is on unless explicitly disabled.
func (t TracingConfig) ShouldPropagate() bool {
	return t.Propagate == nil || *t.Propagate
}

type Endpoint struct {
	Name           string            `mapstructure:"name"`
	Type           string            `mapstructure:"type"`
	Address        string            `mapstructure:"address"`
	Schemas        []string          `mapstructure:"schemas"`
	Properties     map[string]string `mapstructure:"properties"`
	PropertiesFile string            `mapstructure:"properties_file"`
}

type DataSet struct {
	Name   string `mapstructure:"name"`
	Path   string `mapstructure:"path"`
	Format string `mapstructure:"format"` // "csv" or "json"; derived from the extension when empty
}

type Scenario struct {
	Path   string `mapstructure:"path"`
	Config string `mapstructure:"config"`
}

type TableBinding struct {
	Table   string `mapstructure:"table"`
	DataSet string `mapstructure:"data_set"`
	Config  string `mapstructure:"config"`
	Policy  string `mapstructure:"policy"`
}

type RoleBinding struct {
	Role     string `mapstructure:"role"`
	Endpoint string `mapstructure:"endpoint"`
	Dialog   string `mapstructure:"dialog"`
	Config   string `mapstructure:"config"`
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if c.Rate > 10000 {
		fmt.Fprintf(os.Stderr, "WARNING: High session rate configured (%g/s). Ensure you have authorization to drive the target systems.\n", c.Rate)
	}

	if strings.TrimSpace(c.Listen) == "" {
		issues = append(issues, "listen address is required")
	}
	if c.MaxActiveSessions < 1 {
		issues = append(issues, "max_active_sessions must be >= 1")
	}
	if c.TickInterval <= 0 {
		issues = append(issues, "tick_interval must be > 0")
	}
	if c.QuitTimeout < 0 {
		issues = append(issues, "quit_timeout must be >= 0")
	}
	if c.ReadyTimeout < 0 {
		issues = append(issues, "ready_timeout must be >= 0")
	}
	if c.Rate < 0 {
		issues = append(issues, "rate must be >= 0")
	}
	if c.Duration < 0 {
		issues = append(issues, "duration must be >= 0")
	}

	issues = append(issues, validateArrivalConfig(c.Arrival)...)
	issues = append(issues, validateRamp(c.Ramp)...)
	issues = append(issues, validateTracing(c.Tracing)...)
	issues = append(issues, validateEndpoints(c.Endpoints)...)
	issues = append(issues, validateDataSets(c.DataSets)...)
	issues = append(issues, validateScenarios(c.Scenarios)...)
	issues = append(issues, validateBindings(c.Tables, c.Roles)...)
	issues = append(issues, validatePreferred(c.Preferred)...)

	if c.Tracing.Insecure && strings.TrimSpace(c.Tracing.Endpoint) != "" {
		fmt.Fprintln(os.Stderr, "WARNING: OTLP exporter TLS is DISABLED (insecure: true). Use only against a local collector.")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateArrivalConfig(arr ArrivalConfig) []string {
	model := arr.Model
	if model == "" {
		model = ArrivalModelUniform
	}
	switch model {
	case ArrivalModelUniform, ArrivalModelPoisson:
		return nil
	default:
		return []string{fmt.Sprintf("arrival model %q is not supported", model)}
	}
}

func validateRamp(r RampConfig) []string {
	if !r.Enabled() {
		return nil
	}
	var issues []string
	if r.Period < 0 {
		issues = append(issues, "ramp: period must be > 0")
	}
	if r.From < 0 || r.To < 0 {
		issues = append(issues, "ramp: from and to must be >= 0")
	}
	return issues
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing: sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: unsupported protocol %q", t.Protocol))
	}
	return issues
}

func validateEndpoints(endpoints []Endpoint) []string {
	var issues []string
	seenNames := map[string]int{}
	for idx, ep := range endpoints {
		name := strings.TrimSpace(ep.Name)
		if name == "" {
			issues = append(issues, fmt.Sprintf("endpoints[%d]: name is required", idx))
		} else if prev, ok := seenNames[name]; ok {
			issues = append(issues, fmt.Sprintf("endpoints[%d]: duplicate name also defined at index %d", idx, prev))
		} else {
			seenNames[name] = idx
		}
		if strings.TrimSpace(ep.Type) == "" {
			issues = append(issues, fmt.Sprintf("endpoints[%d]: type is required", idx))
		}
		if len(ep.Properties) > 0 && strings.TrimSpace(ep.PropertiesFile) != "" {
			issues = append(issues, fmt.Sprintf("endpoints[%d]: properties and properties_file are mutually exclusive", idx))
		}
	}
	return issues
}

func validateDataSets(sets []DataSet) []string {
	var issues []string
	seen := map[string]int{}
	for idx, ds := range sets {
		name := strings.TrimSpace(ds.Name)
		if name == "" {
			issues = append(issues, fmt.Sprintf("data_sets[%d]: name is required", idx))
		} else if prev, ok := seen[name]; ok {
			issues = append(issues, fmt.Sprintf("data_sets[%d]: duplicate name also defined at index %d", idx, prev))
		} else {
			seen[name] = idx
		}
		if strings.TrimSpace(ds.Path) == "" {
			issues = append(issues, fmt.Sprintf("data_sets[%d]: path is required", idx))
		}
		switch ds.Format {
		case "", "csv", "json":
		default:
			issues = append(issues, fmt.Sprintf("data_sets[%d]: format must be 'csv' or 'json', got %q", idx, ds.Format))
		}
	}
	return issues
}

func validateScenarios(scenarios []Scenario) []string {
	var issues []string
	for idx, sc := range scenarios {
		if strings.TrimSpace(sc.Path) == "" {
			issues = append(issues, fmt.Sprintf("scenarios[%d]: path is required", idx))
		}
	}
	return issues
}

func validateBindings(tables []TableBinding, roles []RoleBinding) []string {
	var issues []string
	for idx, tb := range tables {
		if strings.TrimSpace(tb.Table) == "" || strings.TrimSpace(tb.DataSet) == "" {
			issues = append(issues, fmt.Sprintf("tables[%d]: table and data_set are required", idx))
		}
		switch tb.Policy {
		case "", "round_robin", "exhaust":
		default:
			issues = append(issues, fmt.Sprintf("tables[%d]: policy must be 'round_robin' or 'exhaust', got %q", idx, tb.Policy))
		}
	}
	for idx, rb := range roles {
		if strings.TrimSpace(rb.Role) == "" || strings.TrimSpace(rb.Endpoint) == "" {
			issues = append(issues, fmt.Sprintf("roles[%d]: role and endpoint are required", idx))
		}
	}
	return issues
}

func validatePreferred(weights map[string]float64) []string {
	if len(weights) == 0 {
		return nil
	}
	var issues []string
	total := 0.0
	for name, w := range weights {
		if w < 0 {
			issues = append(issues, fmt.Sprintf("preferred: weight for %q must be >= 0", name))
		}
		total += w
	}
	if total <= 0 && len(issues) == 0 {
		issues = append(issues, "preferred: at least one weight must be > 0")
	}
	return issues
}
