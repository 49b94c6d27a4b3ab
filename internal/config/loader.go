package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and the configuration file they name.
func (l Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}
	return l.LoadFlags(flagSet)
}

// LoadFlags builds a Config from an already parsed flag set carrying the
// flags installed by RegisterFlags. The "config" flag, when set, names a
// JSON, YAML or TOML file applied before the remaining flags.
func (Loader) LoadFlags(flagSet *pflag.FlagSet) (*Config, error) {
	configPath := ""
	if f := flagSet.Lookup("config"); f != nil {
		configPath = strings.TrimSpace(f.Value.String())
	}

	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}
	cfg.Listen = strings.TrimSpace(cfg.Listen)
	cfg.Arrival.Model = ArrivalModel(strings.ToLower(string(cfg.Arrival.Model)))
	return cfg, nil
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Listen:            DefaultListenAddress,
		LogLevel:          DefaultLogLevel,
		MaxActiveSessions: DefaultMaxActiveSessions,
		TickInterval:      DefaultTickInterval,
		Arrival:           ArrivalConfig{Model: ArrivalModelUniform},
		QuitTimeout:       DefaultQuitTimeout,
		ReadyTimeout:      DefaultReadyTimeout,
	}
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "listen", "address"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		if strings.TrimSpace(val) != "" {
			cfg.Listen = val
		}
	}

	if raw, ok := lookupSetting(settings, "log_level", "loglevel", "log-level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
		if val != "" {
			cfg.LogLevel = val
		}
	}

	if raw, ok := lookupSetting(settings, "max_active_sessions", "maxactivesessions", "max-active-sessions"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("max_active_sessions: %w", err)
		}
		cfg.MaxActiveSessions = val
	}

	if raw, ok := lookupSetting(settings, "tick_interval", "tickinterval", "tick-interval"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("tick_interval: %w", err)
		}
		cfg.TickInterval = val
	}

	if raw, ok := lookupSetting(settings, "arrival", "arrival_model", "arrivalmodel"); ok {
		arrival, err := parseArrival(raw)
		if err != nil {
			return fmt.Errorf("arrival: %w", err)
		}
		if arrival.Model != "" {
			cfg.Arrival = arrival
		}
	}

	if raw, ok := lookupSetting(settings, "seed"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		cfg.Seed = int64(val)
	}

	if raw, ok := lookupSetting(settings, "quit_timeout", "quittimeout", "quit-timeout"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("quit_timeout: %w", err)
		}
		cfg.QuitTimeout = val
	}

	if raw, ok := lookupSetting(settings, "ready_timeout", "readytimeout", "ready-timeout"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("ready_timeout: %w", err)
		}
		cfg.ReadyTimeout = val
	}

	if raw, ok := lookupSetting(settings, "rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("rate: %w", err)
		}
		cfg.Rate = val
	}

	if raw, ok := lookupSetting(settings, "ramp"); ok {
		ramp, err := parseRamp(raw)
		if err != nil {
			return fmt.Errorf("ramp: %w", err)
		}
		cfg.Ramp = ramp
	}

	if raw, ok := lookupSetting(settings, "duration"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		cfg.Duration = val
	}

	if raw, ok := lookupSetting(settings, "json_output", "jsonoutput", "json-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("json_output: %w", err)
		}
		cfg.JSONOutput = val
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = val
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		tracing, err := parseTracing(raw)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tracing
	}

	if raw, ok := lookupSetting(settings, "endpoints"); ok {
		endpoints, err := parseEndpoints(raw)
		if err != nil {
			return fmt.Errorf("endpoints: %w", err)
		}
		cfg.Endpoints = endpoints
	}

	if raw, ok := lookupSetting(settings, "data_sets", "datasets", "data-sets"); ok {
		sets, err := parseList(raw, buildDataSet)
		if err != nil {
			return fmt.Errorf("data_sets: %w", err)
		}
		cfg.DataSets = sets
	}

	if raw, ok := lookupSetting(settings, "scenarios"); ok {
		scenarios, err := parseList(raw, buildScenario)
		if err != nil {
			return fmt.Errorf("scenarios: %w", err)
		}
		cfg.Scenarios = scenarios
	}

	if raw, ok := lookupSetting(settings, "tables"); ok {
		tables, err := parseList(raw, buildTableBinding)
		if err != nil {
			return fmt.Errorf("tables: %w", err)
		}
		cfg.Tables = tables
	}

	if raw, ok := lookupSetting(settings, "roles"); ok {
		roles, err := parseList(raw, buildRoleBinding)
		if err != nil {
			return fmt.Errorf("roles: %w", err)
		}
		cfg.Roles = roles
	}

	if raw, ok := lookupSetting(settings, "preferred"); ok {
		weights, err := parsePreferred(raw)
		if err != nil {
			return fmt.Errorf("preferred: %w", err)
		}
		cfg.Preferred = weights
	}

	return nil
}

func parseArrival(value interface{}) (ArrivalConfig, error) {
	if value == nil {
		return ArrivalConfig{}, nil
	}
	switch v := value.(type) {
	case string:
		model := strings.ToLower(strings.TrimSpace(v))
		return ArrivalConfig{Model: ArrivalModel(model)}, nil
	default:
		entry, err := toStringKeyMap(value)
		if err != nil {
			return ArrivalConfig{}, err
		}
		if raw, ok := lookupSetting(entry, "model"); ok {
			val, err := asString(raw)
			if err != nil {
				return ArrivalConfig{}, fmt.Errorf("model: %w", err)
			}
			return ArrivalConfig{Model: ArrivalModel(strings.ToLower(strings.TrimSpace(val)))}, nil
		}
		return ArrivalConfig{}, fmt.Errorf("model field is required")
	}
}

func parseRamp(value interface{}) (RampConfig, error) {
	if value == nil {
		return RampConfig{}, nil
	}
	entry, err := toStringKeyMap(value)
	if err != nil {
		return RampConfig{}, err
	}
	var ramp RampConfig
	if raw, ok := lookupSetting(entry, "from", "initial"); ok {
		if ramp.From, err = asFloat64(raw); err != nil {
			return RampConfig{}, fmt.Errorf("from: %w", err)
		}
	}
	if raw, ok := lookupSetting(entry, "to", "target"); ok {
		if ramp.To, err = asFloat64(raw); err != nil {
			return RampConfig{}, fmt.Errorf("to: %w", err)
		}
	}
	if raw, ok := lookupSetting(entry, "period", "duration"); ok {
		if ramp.Period, err = asDuration(raw); err != nil {
			return RampConfig{}, fmt.Errorf("period: %w", err)
		}
	}
	return ramp, nil
}

func parseTracing(value interface{}) (TracingConfig, error) {
	if value == nil {
		return TracingConfig{}, nil
	}
	entry, err := toStringKeyMap(value)
	if err != nil {
		return TracingConfig{}, err
	}
	var tc TracingConfig
	if raw, ok := lookupSetting(entry, "endpoint"); ok {
		if tc.Endpoint, err = asString(raw); err != nil {
			return TracingConfig{}, fmt.Errorf("endpoint: %w", err)
		}
	}
	if raw, ok := lookupSetting(entry, "protocol"); ok {
		if tc.Protocol, err = asString(raw); err != nil {
			return TracingConfig{}, fmt.Errorf("protocol: %w", err)
		}
	}
	if raw, ok := lookupSetting(entry, "insecure"); ok {
		if tc.Insecure, err = asBool(raw); err != nil {
			return TracingConfig{}, fmt.Errorf("insecure: %w", err)
		}
	}
	if raw, ok := lookupSetting(entry, "sample_rate", "samplerate", "sample-rate"); ok {
		if tc.SampleRate, err = asFloat64(raw); err != nil {
			return TracingConfig{}, fmt.Errorf("sample_rate: %w", err)
		}
	}
	if raw, ok := lookupSetting(entry, "service_name", "servicename", "service-name"); ok {
		if tc.ServiceName, err = asString(raw); err != nil {
			return TracingConfig{}, fmt.Errorf("service_name: %w", err)
		}
	}
	if raw, ok := lookupSetting(entry, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("propagate: %w", err)
		}
		tc.Propagate = &val
	}
	return tc, nil
}

// parseList decodes a list of maps, building each entry with build.
func parseList[T any](value interface{}, build func(map[string]interface{}) (T, error)) ([]T, error) {
	if value == nil {
		return nil, nil
	}
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(items))
	for idx, item := range items {
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		built, err := build(entry)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		out = append(out, built)
	}
	return out, nil
}

func parseEndpoints(value interface{}) ([]Endpoint, error) {
	return parseList(value, buildEndpoint)
}

func buildEndpoint(settings map[string]interface{}) (Endpoint, error) {
	var ep Endpoint
	var err error
	if raw, ok := lookupSetting(settings, "name"); ok {
		if ep.Name, err = asString(raw); err != nil {
			return Endpoint{}, fmt.Errorf("name: %w", err)
		}
		ep.Name = strings.TrimSpace(ep.Name)
	}
	if raw, ok := lookupSetting(settings, "type", "adaptor", "adaptor_type"); ok {
		if ep.Type, err = asString(raw); err != nil {
			return Endpoint{}, fmt.Errorf("type: %w", err)
		}
		ep.Type = strings.TrimSpace(ep.Type)
	}
	if raw, ok := lookupSetting(settings, "address"); ok {
		if ep.Address, err = asString(raw); err != nil {
			return Endpoint{}, fmt.Errorf("address: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "schemas", "schema"); ok {
		if ep.Schemas, err = asStringSlice(raw); err != nil {
			return Endpoint{}, fmt.Errorf("schemas: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "properties"); ok {
		if ep.Properties, err = asStringMap(raw); err != nil {
			return Endpoint{}, fmt.Errorf("properties: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "properties_file", "propertiesfile", "properties-file"); ok {
		if ep.PropertiesFile, err = asString(raw); err != nil {
			return Endpoint{}, fmt.Errorf("properties_file: %w", err)
		}
	}
	return ep, nil
}

func buildDataSet(settings map[string]interface{}) (DataSet, error) {
	var ds DataSet
	var err error
	if raw, ok := lookupSetting(settings, "name"); ok {
		if ds.Name, err = asString(raw); err != nil {
			return DataSet{}, fmt.Errorf("name: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "path"); ok {
		if ds.Path, err = asString(raw); err != nil {
			return DataSet{}, fmt.Errorf("path: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "format", "type"); ok {
		val, err := asString(raw)
		if err != nil {
			return DataSet{}, fmt.Errorf("format: %w", err)
		}
		ds.Format = strings.ToLower(strings.TrimSpace(val))
	}
	return ds, nil
}

func buildScenario(settings map[string]interface{}) (Scenario, error) {
	var sc Scenario
	var err error
	if raw, ok := lookupSetting(settings, "path"); ok {
		if sc.Path, err = asString(raw); err != nil {
			return Scenario{}, fmt.Errorf("path: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "config", "configuration"); ok {
		if sc.Config, err = asString(raw); err != nil {
			return Scenario{}, fmt.Errorf("config: %w", err)
		}
	}
	return sc, nil
}

func buildTableBinding(settings map[string]interface{}) (TableBinding, error) {
	var tb TableBinding
	var err error
	if raw, ok := lookupSetting(settings, "table"); ok {
		if tb.Table, err = asString(raw); err != nil {
			return TableBinding{}, fmt.Errorf("table: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "data_set", "dataset", "data-set"); ok {
		if tb.DataSet, err = asString(raw); err != nil {
			return TableBinding{}, fmt.Errorf("data_set: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "config", "configuration"); ok {
		if tb.Config, err = asString(raw); err != nil {
			return TableBinding{}, fmt.Errorf("config: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "policy"); ok {
		val, err := asString(raw)
		if err != nil {
			return TableBinding{}, fmt.Errorf("policy: %w", err)
		}
		tb.Policy = strings.ToLower(strings.TrimSpace(val))
	}
	return tb, nil
}

func buildRoleBinding(settings map[string]interface{}) (RoleBinding, error) {
	var rb RoleBinding
	var err error
	if raw, ok := lookupSetting(settings, "role"); ok {
		if rb.Role, err = asString(raw); err != nil {
			return RoleBinding{}, fmt.Errorf("role: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		if rb.Endpoint, err = asString(raw); err != nil {
			return RoleBinding{}, fmt.Errorf("endpoint: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "dialog"); ok {
		if rb.Dialog, err = asString(raw); err != nil {
			return RoleBinding{}, fmt.Errorf("dialog: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "config", "configuration"); ok {
		if rb.Config, err = asString(raw); err != nil {
			return RoleBinding{}, fmt.Errorf("config: %w", err)
		}
	}
	return rb, nil
}

// parsePreferred accepts a map of scenario weights or a single scenario name.
// Viper lowercases map keys, so scenario names in files should be lowercase.
func parsePreferred(value interface{}) (map[string]float64, error) {
	if value == nil {
		return nil, nil
	}
	if name, ok := value.(string); ok {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, nil
		}
		return map[string]float64{name: 1}, nil
	}
	entry, err := toStringKeyMap(value)
	if err != nil {
		return nil, err
	}
	weights := make(map[string]float64, len(entry))
	for name, raw := range entry {
		w, err := asFloat64(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		weights[name] = w
	}
	return weights, nil
}
