package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/scensim/internal/config"
)

func TestParseFlagsDefaults(t *testing.T) {
	loader := config.NewLoader()

	cfg, err := loader.Load([]string{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Listen != config.DefaultListenAddress {
		t.Errorf("Listen = %q, want %q", cfg.Listen, config.DefaultListenAddress)
	}
	if cfg.MaxActiveSessions != config.DefaultMaxActiveSessions {
		t.Errorf("MaxActiveSessions = %d, want %d", cfg.MaxActiveSessions, config.DefaultMaxActiveSessions)
	}
	if cfg.Arrival.Model != config.ArrivalModelUniform {
		t.Errorf("Arrival.Model = %q, want uniform", cfg.Arrival.Model)
	}
	if cfg.Rate != 0 {
		t.Errorf("Rate = %v, want 0", cfg.Rate)
	}
	if cfg.Ramp.Enabled() {
		t.Errorf("Ramp enabled by default")
	}
	if cfg.QuitTimeout != 10*time.Second {
		t.Errorf("QuitTimeout = %s, want 10s", cfg.QuitTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults error = %v", err)
	}
}

func TestLoadHelp(t *testing.T) {
	_, err := config.NewLoader().Load([]string{"--help"})
	if !errors.Is(err, config.ErrHelpRequested) {
		t.Fatalf("Load(--help) error = %v, want ErrHelpRequested", err)
	}
}

func TestLoadConfigFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scensim.yaml")
	content := `
listen: 127.0.0.1:8300
log_level: debug
max_active_sessions: 20
arrival:
  model: poisson
rate: 4
duration: 2m
json_output: true
thresholds:
  - "session_duration:p95 < 500"
endpoints:
  - name: echo1
    type: echo
    properties:
      delay: 10ms
data_sets:
  - name: users
    path: users.csv
scenarios:
  - path: call.yaml
roles:
  - role: caller
    endpoint: echo1
tables:
  - table: user
    data_set: users
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := config.NewLoader().Load([]string{"--config", path, "--rate=8"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q, want %q", cfg.ConfigFile, path)
	}
	if cfg.Listen != "127.0.0.1:8300" {
		t.Errorf("Listen = %q", cfg.Listen)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.MaxActiveSessions != 20 {
		t.Errorf("MaxActiveSessions = %d, want 20", cfg.MaxActiveSessions)
	}
	if cfg.Arrival.Model != config.ArrivalModelPoisson {
		t.Errorf("Arrival.Model = %q, want poisson", cfg.Arrival.Model)
	}
	if cfg.Rate != 8 {
		t.Errorf("Rate = %v, want flag override 8", cfg.Rate)
	}
	if cfg.Duration != 2*time.Minute {
		t.Errorf("Duration = %v, want 2m", cfg.Duration)
	}
	if !cfg.JSONOutput {
		t.Errorf("JSONOutput = false, want true")
	}
	if len(cfg.Thresholds) != 1 {
		t.Errorf("Thresholds = %v", cfg.Thresholds)
	}
	if len(cfg.Endpoints) != 1 || cfg.Endpoints[0].Name != "echo1" || cfg.Endpoints[0].Properties["delay"] != "10ms" {
		t.Errorf("Endpoints = %+v", cfg.Endpoints)
	}
	if len(cfg.Scenarios) != 1 || cfg.Scenarios[0].Path != "call.yaml" {
		t.Errorf("Scenarios = %+v", cfg.Scenarios)
	}
	if len(cfg.Roles) != 1 || cfg.Roles[0].Role != "caller" {
		t.Errorf("Roles = %+v", cfg.Roles)
	}
	if len(cfg.Tables) != 1 || cfg.Tables[0].DataSet != "users" {
		t.Errorf("Tables = %+v", cfg.Tables)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := config.NewLoader().Load([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")})
	if err == nil {
		t.Fatal("Load() error = nil, want error for missing file")
	}
}

func TestTracingPropagationDefault(t *testing.T) {
	var tc config.TracingConfig
	if !tc.ShouldPropagate() {
		t.Fatal("propagation should default to on")
	}
	off := false
	tc.Propagate = &off
	if tc.ShouldPropagate() {
		t.Fatal("propagation should honour explicit false")
	}
}

func TestConfigValidationErrors(t *testing.T) {
	valid := func() config.Config { return *config.Default() }

	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   []string
	}{
		{
			name: "negative values",
			mutate: func(c *config.Config) {
				c.MaxActiveSessions = 0
				c.Rate = -1
				c.QuitTimeout = -time.Second
				c.Duration = -time.Second
			},
			want: []string{"max_active_sessions", "rate", "quit_timeout", "duration"},
		},
		{
			name:   "arrival model",
			mutate: func(c *config.Config) { c.Arrival.Model = "burst" },
			want:   []string{"arrival model"},
		},
		{
			name:   "ramp rates",
			mutate: func(c *config.Config) { c.Ramp = config.RampConfig{From: -1, To: 5, Period: time.Second} },
			want:   []string{"ramp"},
		},
		{
			name: "duplicate endpoints",
			mutate: func(c *config.Config) {
				c.Endpoints = []config.Endpoint{{Name: "a", Type: "echo"}, {Name: "a", Type: "echo"}, {Name: "b"}}
			},
			want: []string{"duplicate", "type is required"},
		},
		{
			name:   "table policy",
			mutate: func(c *config.Config) { c.Tables = []config.TableBinding{{Table: "t", DataSet: "d", Policy: "random"}} },
			want:   []string{"policy"},
		},
		{
			name:   "preferred weights",
			mutate: func(c *config.Config) { c.Preferred = map[string]float64{"a": 0, "b": 0} },
			want:   []string{"preferred"},
		},
		{
			name:   "tracing sample rate",
			mutate: func(c *config.Config) { c.Tracing.SampleRate = 2 },
			want:   []string{"sample_rate"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() error = nil, want error")
			}
			var verr config.ValidationError
			if !errors.As(err, &verr) || len(verr.Issues()) == 0 {
				t.Fatalf("Validate() error %T is not a ValidationError with issues", err)
			}
			for _, want := range tc.want {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("Validate() error %q missing %q", err.Error(), want)
				}
			}
		})
	}
}
