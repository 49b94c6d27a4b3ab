package scenario

import (
	"fmt"
	"log/slog"
	"maps"
	"math/rand"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/torosent/scensim/internal/feeder"
	"github.com/torosent/scensim/internal/logging"
	"github.com/torosent/scensim/internal/registry"
	"github.com/torosent/scensim/internal/simerr"
)

// Endpoints resolves endpoint names for binding validation.
type Endpoints interface {
	Get(name string) (*registry.Endpoint, bool)
}

// DataSets resolves data set names for table bindings.
type DataSets interface {
	Get(name string) (*feeder.DataSet, bool)
}

// TableBinding binds a data set to a table name within a config.
type TableBinding struct {
	Table   string        `json:"table"`
	DataSet string        `json:"data_set"`
	Policy  feeder.Policy `json:"policy"`
	Rows    int           `json:"rows"`

	cursor *feeder.Cursor
}

// ConfigDescription lists a config's scenarios and table bindings.
type ConfigDescription struct {
	Name      string         `json:"name"`
	Scenarios []string       `json:"scenarios"`
	Tables    []TableBinding `json:"tables"`
}

type config struct {
	name string

	mu     sync.RWMutex
	tables map[string]*TableBinding
}

func newConfig(name string) *config {
	return &config{name: name, tables: make(map[string]*TableBinding)}
}

func (c *config) tableNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.tables))
}

// bindings returns the table bindings in table-name order.
func (c *config) bindings() []*TableBinding {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*TableBinding, 0, len(c.tables))
	for _, name := range slices.Sorted(maps.Keys(c.tables)) {
		out = append(out, c.tables[name])
	}
	return out
}

// entry is one loaded scenario. Readers load the current version without
// locking; mu serializes rebinding.
type entry struct {
	mu       sync.Mutex
	scenario atomic.Pointer[Scenario]
	pins     atomic.Int64
}

func newEntry(sc *Scenario) *entry {
	e := &entry{}
	e.scenario.Store(sc)
	return e
}

func (e *entry) current() *Scenario {
	return e.scenario.Load()
}

// Store holds loaded scenarios, their bindings and the selection table.
type Store struct {
	endpoints Endpoints
	dataSets  DataSets
	logger    *slog.Logger

	// index guards membership and the preferred table only. Scenario
	// versions and table bindings carry their own locks.
	index     sync.RWMutex
	scenarios map[string]*entry
	configs   map[string]*config
	preferred map[string]float64

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewStore creates an empty store. seed drives scenario selection; zero
// seeds from the clock.
func NewStore(endpoints Endpoints, dataSets DataSets, seed int64, logger *slog.Logger) *Store {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Store{
		endpoints: endpoints,
		dataSets:  dataSets,
		logger:    logging.OrDiscard(logger),
		scenarios: make(map[string]*entry),
		configs:   make(map[string]*config),
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Load parses and registers a scenario under configName (DefaultConfig when
// empty). The store is unchanged on failure.
func (s *Store) Load(source []byte, configName string) (BindingsDescription, error) {
	sc, err := Parse(source)
	if err != nil {
		return BindingsDescription{}, err
	}
	configName = normalizeConfig(configName)
	sc.Config = configName

	for _, role := range sc.Roles {
		if role.Endpoint == "" {
			continue
		}
		if _, ok := s.endpoints.Get(role.Endpoint); !ok {
			return BindingsDescription{}, simerr.Validation("scenario %s: role %s references unknown endpoint %q", sc.Name, role.Name, role.Endpoint)
		}
		if err := s.checkEndpoint(role); err != nil {
			return BindingsDescription{}, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
	}

	s.index.Lock()
	if _, exists := s.scenarios[sc.Name]; exists {
		s.index.Unlock()
		return BindingsDescription{}, simerr.Validation("scenario %q is already loaded", sc.Name)
	}
	cfg, ok := s.configs[configName]
	if !ok {
		cfg = newConfig(configName)
		s.configs[configName] = cfg
	}
	s.scenarios[sc.Name] = newEntry(sc)
	s.index.Unlock()

	desc := describeBindings(sc, cfg.tableNames())
	s.logger.Info("scenario loaded", "scenario", sc.Name, "config", configName, "roles", len(sc.Roles), "unbound", desc.Unbound)
	return desc, nil
}

// LoadFile reads a scenario definition from disk.
func (s *Store) LoadFile(path, configName string) (BindingsDescription, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return BindingsDescription{}, simerr.IO("read scenario file: %w", err)
	}
	return s.Load(source, configName)
}

func (s *Store) lookup(name string) (*entry, bool) {
	s.index.RLock()
	defer s.index.RUnlock()
	e, ok := s.scenarios[name]
	return e, ok
}

func (s *Store) lookupConfig(name string) (*config, bool) {
	s.index.RLock()
	defer s.index.RUnlock()
	cfg, ok := s.configs[name]
	return cfg, ok
}

func (s *Store) checkEndpoint(role Role) error {
	ep, ok := s.endpoints.Get(role.Endpoint)
	if !ok {
		return simerr.Configuration("role %s: unknown endpoint %q", role.Name, role.Endpoint)
	}
	if role.Schema != "" && !ep.Serves(role.Schema) {
		return simerr.Validation("role %s: endpoint %s does not serve schema %q", role.Name, role.Endpoint, role.Schema)
	}
	return nil
}

// BindRole binds role to endpoint (and optionally a different dialog) in
// every scenario of configName that declares the role; an empty configName
// applies to all configs.
func (s *Store) BindRole(role, endpoint, dialog, configName string) ([]BindingsDescription, error) {
	if _, ok := s.endpoints.Get(endpoint); !ok {
		return nil, simerr.Configuration("unknown endpoint %q", endpoint)
	}

	if configName != "" {
		if _, ok := s.lookupConfig(configName); !ok {
			return nil, simerr.Configuration("unknown config %q", configName)
		}
	}

	hasRole := func(r Role) bool { return r.Name == role }
	var targets []*entry
	s.index.RLock()
	for _, name := range slices.Sorted(maps.Keys(s.scenarios)) {
		e := s.scenarios[name]
		sc := e.current()
		if configName != "" && sc.Config != configName {
			continue
		}
		if slices.ContainsFunc(sc.Roles, hasRole) {
			targets = append(targets, e)
		}
	}
	s.index.RUnlock()
	if len(targets) == 0 {
		return nil, simerr.Configuration("no scenario declares role %q", role)
	}

	// Entries are locked in name order and validated before any is replaced.
	for _, e := range targets {
		e.mu.Lock()
	}
	defer func() {
		for _, e := range targets {
			e.mu.Unlock()
		}
	}()

	updated := make([]*Scenario, len(targets))
	for i, e := range targets {
		sc := e.current()
		next := sc.clone()
		idx := slices.IndexFunc(next.Roles, hasRole)
		r := next.Roles[idx]
		if dialog != "" {
			d, ok := next.Dialogs[dialog]
			if !ok {
				return nil, simerr.Configuration("scenario %s: unknown dialog %q", sc.Name, dialog)
			}
			r.Dialog = dialog
			if d.Schema != "" {
				r.Schema = d.Schema
			}
		}
		r.Endpoint = endpoint
		if err := s.checkEndpoint(r); err != nil {
			return nil, err
		}
		next.Roles[idx] = r
		updated[i] = next
	}

	descs := make([]BindingsDescription, 0, len(updated))
	for i, e := range targets {
		e.scenario.Store(updated[i])
		var tables []string
		if cfg, ok := s.lookupConfig(updated[i].Config); ok {
			tables = cfg.tableNames()
		}
		descs = append(descs, describeBindings(updated[i], tables))
	}
	s.logger.Info("role bound", "role", role, "endpoint", endpoint, "dialog", dialog, "scenarios", len(updated))
	return descs, nil
}

// BindTable binds dataSet to table within configName with the given policy.
// Rebinding resets the row cursor.
func (s *Store) BindTable(table, dataSet, configName string, policy feeder.Policy) error {
	table = strings.TrimSpace(table)
	if table == "" {
		return simerr.Configuration("table name is required")
	}
	ds, ok := s.dataSets.Get(dataSet)
	if !ok {
		return simerr.Configuration("unknown data set %q", dataSet)
	}
	if policy == "" {
		policy = feeder.PolicyRoundRobin
	}

	configName = normalizeConfig(configName)
	cfg, ok := s.lookupConfig(configName)
	if !ok {
		return simerr.Configuration("unknown config %q", configName)
	}
	binding := &TableBinding{
		Table:   table,
		DataSet: dataSet,
		Policy:  policy,
		Rows:    ds.Len(),
		cursor:  feeder.NewCursor(ds, policy),
	}
	cfg.mu.Lock()
	cfg.tables[table] = binding
	cfg.mu.Unlock()
	s.logger.Info("table bound", "table", table, "data_set", dataSet, "config", configName, "policy", policy)
	return nil
}

// Remove deletes a scenario. It fails closed, returning false, when the
// scenario is unknown, pinned by an in-flight session or part of the active
// preferred-scenario table.
func (s *Store) Remove(name string) bool {
	s.index.Lock()
	defer s.index.Unlock()
	e, ok := s.scenarios[name]
	if !ok {
		return false
	}
	if e.pins.Load() > 0 {
		s.logger.Debug("scenario not removed: in flight", "scenario", name, "pins", e.pins.Load())
		return false
	}
	if w, ok := s.preferred[name]; ok && w > 0 {
		s.logger.Debug("scenario not removed: preferred", "scenario", name)
		return false
	}
	delete(s.scenarios, name)
	s.logger.Info("scenario removed", "scenario", name)
	return true
}

// Names returns the loaded scenario names in sorted order.
func (s *Store) Names() []string {
	s.index.RLock()
	defer s.index.RUnlock()
	return slices.Sorted(maps.Keys(s.scenarios))
}

// InitiatingNames returns the names of scenarios that may start sessions.
func (s *Store) InitiatingNames() []string {
	s.index.RLock()
	defer s.index.RUnlock()
	var out []string
	for _, name := range slices.Sorted(maps.Keys(s.scenarios)) {
		if s.scenarios[name].current().Initiating {
			out = append(out, name)
		}
	}
	return out
}

// Get returns the current version of the named scenario.
func (s *Store) Get(name string) (*Scenario, bool) {
	e, ok := s.lookup(name)
	if !ok {
		return nil, false
	}
	return e.current(), true
}

// Describe returns the full description of a scenario.
func (s *Store) Describe(name string) (Description, error) {
	e, ok := s.lookup(name)
	if !ok {
		return Description{}, simerr.Configuration("unknown scenario %q", name)
	}
	return describe(e.current(), e.pins.Load()), nil
}

// Bindings returns the binding description of a scenario.
func (s *Store) Bindings(name string) (BindingsDescription, error) {
	e, ok := s.lookup(name)
	if !ok {
		return BindingsDescription{}, simerr.Configuration("unknown scenario %q", name)
	}
	sc := e.current()
	var tables []string
	if cfg, ok := s.lookupConfig(sc.Config); ok {
		tables = cfg.tableNames()
	}
	return describeBindings(sc, tables), nil
}

// ConfigNames returns the known config names in sorted order.
func (s *Store) ConfigNames() []string {
	s.index.RLock()
	defer s.index.RUnlock()
	return slices.Sorted(maps.Keys(s.configs))
}

// ConfigDescription describes a config (DefaultConfig when empty).
func (s *Store) ConfigDescription(name string) (ConfigDescription, error) {
	name = normalizeConfig(name)
	s.index.RLock()
	cfg, ok := s.configs[name]
	if !ok {
		s.index.RUnlock()
		return ConfigDescription{}, simerr.Configuration("unknown config %q", name)
	}
	desc := ConfigDescription{Name: name, Scenarios: []string{}, Tables: []TableBinding{}}
	for _, sn := range slices.Sorted(maps.Keys(s.scenarios)) {
		if s.scenarios[sn].current().Config == name {
			desc.Scenarios = append(desc.Scenarios, sn)
		}
	}
	s.index.RUnlock()

	for _, b := range cfg.bindings() {
		tb := *b
		tb.cursor = nil
		desc.Tables = append(desc.Tables, tb)
	}
	return desc, nil
}

func normalizeConfig(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultConfig
	}
	return name
}
