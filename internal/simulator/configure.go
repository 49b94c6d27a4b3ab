package simulator

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/torosent/scensim/internal/adaptor"
	"github.com/torosent/scensim/internal/config"
	"github.com/torosent/scensim/internal/feeder"
	"github.com/torosent/scensim/internal/registry"
	"github.com/torosent/scensim/internal/runner"
	"github.com/torosent/scensim/internal/simerr"
)

// OptionsFromConfig maps the scheduler settings of cfg onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxActiveSessions: cfg.MaxActiveSessions,
		TickInterval:      cfg.TickInterval,
		ArrivalModel:      runner.ArrivalModel(cfg.Arrival.Model),
		Seed:              cfg.Seed,
		ReadyTimeout:      cfg.ReadyTimeout,
	}
}

// Apply creates the endpoints, data sets, scenarios and bindings declared in
// cfg, in that order, then sets the preferred scenarios. The session rate is
// left to ApplyRate.
// Relative paths resolve against the directory of cfg.ConfigFile.
func (s *Simulator) Apply(cfg *config.Config) error {
	base := ""
	if cfg.ConfigFile != "" {
		base = filepath.Dir(cfg.ConfigFile)
	}
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) || base == "" {
			return p
		}
		return filepath.Join(base, p)
	}

	for _, ep := range cfg.Endpoints {
		props, err := endpointProperties(ep, resolve)
		if err != nil {
			return err
		}
		if _, err := s.CreateLocalEndpoint(ep.Name, ep.Type, ep.Schemas, props); err != nil {
			return err
		}
	}

	for _, ds := range cfg.DataSets {
		content, err := os.ReadFile(resolve(ds.Path))
		if err != nil {
			return simerr.IO("data set %s: %w", ds.Name, err)
		}
		format := ds.Format
		if format == "" {
			format = string(feeder.FormatFromPath(ds.Path))
		}
		if _, err := s.LoadDataSet(ds.Name, format, string(content)); err != nil {
			return err
		}
	}

	for _, sc := range cfg.Scenarios {
		if _, err := s.scenarios.LoadFile(resolve(sc.Path), sc.Config); err != nil {
			return err
		}
	}

	for _, rb := range cfg.Roles {
		if _, err := s.BindRole(rb.Role, rb.Endpoint, rb.Dialog, rb.Config); err != nil {
			return err
		}
	}

	for _, tb := range cfg.Tables {
		if err := s.BindTable(tb.Table, tb.DataSet, tb.Config, tb.Policy); err != nil {
			return err
		}
	}

	if len(cfg.Preferred) > 0 {
		if err := s.SetPreferredScenarios(cfg.Preferred); err != nil {
			return err
		}
	}
	return nil
}

// ApplyRate sets the configured constant rate or starts the configured ramp.
// A ramp runs from the moment of the call, so callers apply it right before
// generation starts.
func (s *Simulator) ApplyRate(cfg *config.Config) error {
	if cfg.Ramp.Enabled() {
		return s.RampUpSessionRate(cfg.Ramp.From, cfg.Ramp.To, cfg.Ramp.Period)
	}
	return s.SetSessionRate(cfg.Rate)
}

func endpointProperties(ep config.Endpoint, resolve func(string) string) (map[string]string, error) {
	props := make(map[string]string, len(ep.Properties)+1)
	if path := strings.TrimSpace(ep.PropertiesFile); path != "" {
		text, err := os.ReadFile(resolve(path))
		if err != nil {
			return nil, simerr.IO("endpoint %s: %w", ep.Name, err)
		}
		parsed, err := adaptor.ParseProperties(string(text))
		if err != nil {
			return nil, simerr.Configuration("endpoint %s: %w", ep.Name, err)
		}
		for k, v := range parsed {
			props[k] = v
		}
	}
	for k, v := range ep.Properties {
		props[k] = v
	}
	if ep.Address != "" {
		props[registry.AddressProperty] = ep.Address
	}
	return props, nil
}
