package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/scensim/internal/adaptor"
	"github.com/torosent/scensim/internal/clientmetrics"
	"github.com/torosent/scensim/internal/dialog"
	"github.com/torosent/scensim/internal/events"
	"github.com/torosent/scensim/internal/feeder"
	"github.com/torosent/scensim/internal/logging"
	"github.com/torosent/scensim/internal/metrics"
	"github.com/torosent/scensim/internal/registry"
	"github.com/torosent/scensim/internal/runner"
	"github.com/torosent/scensim/internal/scenario"
	"github.com/torosent/scensim/internal/simerr"
	"github.com/torosent/scensim/internal/threshold"
)

const (
	defaultEventBuffer  = 1024
	defaultReadyTimeout = 30 * time.Second
)

// Options configure a Simulator. Zero values select defaults.
type Options struct {
	Catalog           *adaptor.Catalog // DefaultCatalog when nil
	MaxActiveSessions int
	TickInterval      time.Duration
	ArrivalModel      runner.ArrivalModel
	Seed              int64
	ReadyTimeout      time.Duration
	EventBuffer       int
	Tracer            trace.Tracer
	Logger            *slog.Logger
}

// DataSetInfo describes a loaded data set.
type DataSetInfo struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    int      `json:"rows"`
}

// ConnectivitySummary counts endpoints by readiness.
type ConnectivitySummary struct {
	Ready     int             `json:"ready"`
	Pending   int             `json:"pending"`
	Faulted   int             `json:"faulted"`
	Endpoints []registry.Info `json:"endpoints"`
}

// Operational reports whether every endpoint is ready.
func (c ConnectivitySummary) Operational() bool {
	return c.Pending == 0 && c.Faulted == 0
}

func (c ConnectivitySummary) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d ready, %d pending, %d faulted", c.Ready, c.Pending, c.Faulted)
	for _, ep := range c.Endpoints {
		fmt.Fprintf(&sb, "\n%s (%s) %s: %s", ep.Name, ep.AdaptorType, ep.Address, ep.State)
	}
	return sb.String()
}

// Simulator composes the endpoint registry, scenario store, scheduler and
// statistics into one control surface.
type Simulator struct {
	registry   *registry.Registry
	dataSets   *feeder.Store
	scenarios  *scenario.Store
	collector  *metrics.Collector
	dispatcher *events.Dispatcher
	scheduler  *runner.Scheduler

	readyTimeout time.Duration
	logger       *slog.Logger

	quitOnce sync.Once
	quitErr  error
}

// New builds an empty simulator.
func New(opt Options) *Simulator {
	catalog := opt.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if opt.EventBuffer <= 0 {
		opt.EventBuffer = defaultEventBuffer
	}
	if opt.ReadyTimeout <= 0 {
		opt.ReadyTimeout = defaultReadyTimeout
	}
	logger := logging.OrDiscard(opt.Logger)

	reg := registry.New(catalog, logger.With("component", "registry"))
	dataSets := feeder.NewStore(logger.With("component", "data"))
	store := scenario.NewStore(reg, dataSets, opt.Seed, logger.With("component", "scenarios"))
	collector := metrics.NewCollector()
	dispatcher := events.NewDispatcher(opt.EventBuffer, logger.With("component", "events"))
	scheduler := runner.NewScheduler(store, reg, collector, dispatcher, runner.NewController(), runner.Options{
		MaxActiveSessions: opt.MaxActiveSessions,
		TickInterval:      opt.TickInterval,
		ArrivalModel:      opt.ArrivalModel,
		RandomSeed:        opt.Seed,
		Tracer:            opt.Tracer,
		Logger:            logger.With("component", "scheduler"),
	})

	return &Simulator{
		registry:     reg,
		dataSets:     dataSets,
		scenarios:    store,
		collector:    collector,
		dispatcher:   dispatcher,
		scheduler:    scheduler,
		readyTimeout: opt.ReadyTimeout,
		logger:       logger,
	}
}

// SetEndpointAddress rebinds an endpoint's transport address.
func (s *Simulator) SetEndpointAddress(endpoint, address string) error {
	return s.registry.SetAddress(endpoint, address)
}

// EndpointNames returns the registered endpoint names.
func (s *Simulator) EndpointNames() []string { return s.registry.Names() }

// SchemaNames returns every schema known to endpoints or adaptor types.
func (s *Simulator) SchemaNames() []string { return s.registry.SchemaNames() }

// SchemaInfos describes every known schema.
func (s *Simulator) SchemaInfos() []registry.SchemaInfo { return s.registry.SchemaInfos() }

// AdaptorTypes returns the registered adaptor type names.
func (s *Simulator) AdaptorTypes() []string { return s.registry.Catalog().Types() }

// AdaptorTypeInfos describes the registered adaptor types.
func (s *Simulator) AdaptorTypeInfos() []adaptor.TypeInfo { return s.registry.Catalog().TypeInfos() }

// AdaptorTypeForSchema returns the adaptor type declaring schema.
func (s *Simulator) AdaptorTypeForSchema(schema string) (string, error) {
	return s.registry.Catalog().TypeForSchema(schema)
}

// CreateLocalEndpoint registers an endpoint backed by a new adaptor.
func (s *Simulator) CreateLocalEndpoint(name, adaptorType string, schemas []string, properties map[string]string) (registry.Info, error) {
	ep, err := s.registry.Create(name, adaptorType, properties, schemas)
	if err != nil {
		return registry.Info{}, err
	}
	return ep.Info(), nil
}

// CreateLocalEndpointWithConfigurationFile stages content in a temporary
// file, passes its path to the adaptor under fileProperty and removes the
// file once the adaptor is built.
func (s *Simulator) CreateLocalEndpointWithConfigurationFile(name, adaptorType string, schemas []string, properties map[string]string, fileProperty, content string) (registry.Info, error) {
	fileProperty = strings.TrimSpace(fileProperty)
	if fileProperty == "" {
		return registry.Info{}, simerr.Configuration("configuration file property name is required")
	}
	path, cleanup, err := stageFile(name, content)
	if err != nil {
		return registry.Info{}, err
	}
	defer cleanup()

	props := make(map[string]string, len(properties)+1)
	for k, v := range properties {
		props[k] = v
	}
	props[fileProperty] = path
	return s.CreateLocalEndpoint(name, adaptorType, schemas, props)
}

func stageFile(name, content string) (string, func(), error) {
	f, err := os.CreateTemp("", "scensim-"+sanitize(name)+"-*")
	if err != nil {
		return "", nil, simerr.IO("stage configuration file: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, simerr.IO("stage configuration file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, simerr.IO("stage configuration file: %w", err)
	}
	return f.Name(), cleanup, nil
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// ConnectivityStatusSummary reports the readiness of every endpoint.
func (s *Simulator) ConnectivityStatusSummary() ConnectivitySummary {
	summary := ConnectivitySummary{Endpoints: s.registry.Snapshot()}
	for _, ep := range summary.Endpoints {
		switch ep.State {
		case registry.StateReady:
			summary.Ready++
		case registry.StateFaulted:
			summary.Faulted++
		default:
			summary.Pending++
		}
	}
	return summary
}

// EndpointTraffic returns the traffic counters of endpoints whose adaptor
// reports them.
func (s *Simulator) EndpointTraffic() map[string]clientmetrics.Snapshot {
	out := make(map[string]clientmetrics.Snapshot)
	for _, info := range s.registry.Snapshot() {
		if info.Traffic != nil {
			out[info.Name] = *info.Traffic
		}
	}
	return out
}

// WaitUntilOperational blocks until every endpoint is ready. A zero timeout
// uses the configured readiness timeout.
func (s *Simulator) WaitUntilOperational(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.readyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.registry.WaitUntilReady(ctx)
}

// Load parses a scenario definition into config.
func (s *Simulator) Load(source, config string) (scenario.BindingsDescription, error) {
	return s.scenarios.Load([]byte(source), config)
}

// LoadNoConfig loads a scenario into the default config.
func (s *Simulator) LoadNoConfig(source string) (scenario.BindingsDescription, error) {
	return s.scenarios.Load([]byte(source), "")
}

// BindRole binds role to endpoint in the scenarios of config.
func (s *Simulator) BindRole(role, endpoint, dialog, config string) ([]scenario.BindingsDescription, error) {
	return s.scenarios.BindRole(role, endpoint, dialog, config)
}

// LoadDataSet parses CSV or JSON content into a named data set.
func (s *Simulator) LoadDataSet(name, format, content string) (DataSetInfo, error) {
	ds, err := s.dataSets.Load(name, feeder.Format(strings.ToLower(strings.TrimSpace(format))), content)
	if err != nil {
		return DataSetInfo{}, err
	}
	return DataSetInfo{Name: ds.Name(), Columns: ds.Columns(), Rows: ds.Len()}, nil
}

// DataSetNames returns the loaded data set names.
func (s *Simulator) DataSetNames() []string { return s.dataSets.Names() }

// BindTable binds a data set to a table of config.
func (s *Simulator) BindTable(table, dataSet, config, policy string) error {
	p, err := feeder.ParsePolicy(policy)
	if err != nil {
		return simerr.Configuration("table %s: %w", table, err)
	}
	return s.scenarios.BindTable(table, dataSet, config, p)
}

// ConfigurationDescription describes a config.
func (s *Simulator) ConfigurationDescription(config string) (scenario.ConfigDescription, error) {
	return s.scenarios.ConfigDescription(config)
}

// ConfigurationNames returns the known configs.
func (s *Simulator) ConfigurationNames() []string { return s.scenarios.ConfigNames() }

// SetPreferredScenario restricts session generation to one scenario.
func (s *Simulator) SetPreferredScenario(name string) error {
	return s.scenarios.SetPreferred(name)
}

// SetPreferredScenarios replaces the preferred-scenario weights. An empty
// map restores selection by declared weight.
func (s *Simulator) SetPreferredScenarios(weights map[string]float64) error {
	return s.scenarios.SetPreferredWeights(weights)
}

// RemoveScenario removes a scenario that is neither in flight nor preferred.
func (s *Simulator) RemoveScenario(name string) bool { return s.scenarios.Remove(name) }

// ScenarioNames returns the loaded scenarios.
func (s *Simulator) ScenarioNames() []string { return s.scenarios.Names() }

// InitiatingScenarioNames returns the scenarios that may start sessions.
func (s *Simulator) InitiatingScenarioNames() []string { return s.scenarios.InitiatingNames() }

// ScenarioDescription describes a scenario.
func (s *Simulator) ScenarioDescription(name string) (scenario.Description, error) {
	return s.scenarios.Describe(name)
}

// ScenarioBindings describes a scenario's role and table bindings.
func (s *Simulator) ScenarioBindings(name string) (scenario.BindingsDescription, error) {
	return s.scenarios.Bindings(name)
}

// RunSession resets the statistics and runs one session of the named
// scenario synchronously.
func (s *Simulator) RunSession(ctx context.Context, name string, onMessage func(dialog.MessageEvent)) (runner.SessionResult, error) {
	if _, ok := s.scenarios.Get(name); !ok {
		return runner.SessionResult{}, simerr.Configuration("unknown scenario %q", name)
	}
	s.collector.Reset()
	res, err := s.scheduler.RunSession(ctx, name, onMessage)
	if err != nil {
		return res, err
	}
	s.logger.Info("session run", "scenario", name, "session", res.ID, "outcome", res.Outcome, "duration", res.Duration)
	return res, nil
}

// StartGeneratingSessions starts the scheduler. It returns false when
// generation is already running or the simulator has quit.
func (s *Simulator) StartGeneratingSessions() bool { return s.scheduler.Start() }

// StopGeneratingSessions stops new arrivals; sessions in flight complete.
func (s *Simulator) StopGeneratingSessions() { s.scheduler.Stop() }

// SetSessionRate sets a constant session rate, cancelling any ramp.
func (s *Simulator) SetSessionRate(rate float64) error {
	return s.scheduler.Controller().SetRate(rate)
}

// RampUpSessionRate moves the rate linearly from initial to target over period.
func (s *Simulator) RampUpSessionRate(initial, target float64, period time.Duration) error {
	return s.scheduler.Controller().Ramp(initial, target, period)
}

// SessionRate returns the instantaneous target rate.
func (s *Simulator) SessionRate() float64 { return s.scheduler.Controller().Rate() }

// SessionStatsSnapshot returns the session statistics of the current epoch.
func (s *Simulator) SessionStatsSnapshot() metrics.SessionStatusSnapshot {
	return s.collector.SessionSnapshot()
}

// DialogStatsSnapshot returns the dialog statistics of the current epoch.
func (s *Simulator) DialogStatsSnapshot() metrics.DialogStatsSnapshot {
	return s.collector.DialogSnapshot()
}

// ResetSessionAndDialogStats starts a new epoch and returns the final
// snapshots of the previous one.
func (s *Simulator) ResetSessionAndDialogStats() (metrics.SessionStatusSnapshot, metrics.DialogStatsSnapshot) {
	return s.collector.Reset()
}

// VerifyStatus reports false when a session ended non-matching or a dialog
// was rejected in the current epoch.
func (s *Simulator) VerifyStatus() bool {
	return threshold.VerifyStatus(s.Stats())
}

// Stats returns the current statistics as threshold input.
func (s *Simulator) Stats() threshold.Stats {
	return threshold.Stats{
		Sessions: s.collector.SessionSnapshot(),
		Dialogs:  s.collector.DialogSnapshot(),
	}
}

// AddLifecycleListener subscribes fn to session lifecycle events.
func (s *Simulator) AddLifecycleListener(fn events.LifecycleListener) func() {
	return s.dispatcher.AddLifecycleListener(fn)
}

// AddMessageListener subscribes fn to every message of generated sessions.
func (s *Simulator) AddMessageListener(fn events.MessageListener) func() {
	return s.dispatcher.AddMessageListener(fn)
}

// Quit stops generation, waits up to timeout for sessions in flight,
// terminates the rest and releases every endpoint. Later calls are no-ops.
func (s *Simulator) Quit(timeout time.Duration) error {
	s.quitOnce.Do(func() {
		s.scheduler.Quit(timeout)
		s.dispatcher.Close()
		s.quitErr = s.registry.Close()
		if dropped := s.dispatcher.Dropped(); dropped > 0 {
			s.logger.Warn("listener events dropped", "count", dropped)
		}
		s.logger.Info("simulator quit")
	})
	return s.quitErr
}
