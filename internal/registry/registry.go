// Package registry holds the named endpoints traffic is driven through and
// the protocol adaptor bound to each of them.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/torosent/scensim/internal/adaptor"
	"github.com/torosent/scensim/internal/clientmetrics"
	"github.com/torosent/scensim/internal/logging"
	"github.com/torosent/scensim/internal/simerr"
)

// AddressProperty is the endpoint property carrying the initial transport address.
const AddressProperty = "address"

const readinessPollInterval = 20 * time.Millisecond

// State is the lifecycle state of an endpoint.
type State string

const (
	StatePending State = "pending"
	StateReady   State = "ready"
	StateFaulted State = "faulted"
)

// Endpoint is a registered endpoint and its adaptor.
type Endpoint struct {
	name        string
	adaptorType string
	schemas     []string
	properties  adaptor.Properties
	adaptor     adaptor.Adaptor

	mu      sync.Mutex
	address string
	faulted error
}

// Info is an immutable view of an endpoint.
type Info struct {
	Name        string                  `json:"name"`
	Address     string                  `json:"address"`
	AdaptorType string                  `json:"adaptor_type"`
	Schemas     []string                `json:"schemas"`
	State       State                   `json:"state"`
	Traffic     *clientmetrics.Snapshot `json:"traffic,omitempty"`
}

// SchemaInfo maps a schema to the endpoints serving it.
type SchemaInfo struct {
	Name        string   `json:"name"`
	AdaptorType string   `json:"adaptor_type"`
	Endpoints   []string `json:"endpoints"`
}

// Name returns the endpoint name.
func (e *Endpoint) Name() string { return e.name }

// AdaptorType returns the adaptor type the endpoint was created with.
func (e *Endpoint) AdaptorType() string { return e.adaptorType }

// Adaptor returns the bound adaptor.
func (e *Endpoint) Adaptor() adaptor.Adaptor { return e.adaptor }

// Serves reports whether the endpoint serves schema.
func (e *Endpoint) Serves(schema string) bool {
	for _, s := range e.schemas {
		if strings.EqualFold(s, schema) {
			return true
		}
	}
	return false
}

// Address returns the current transport address.
func (e *Endpoint) Address() string {
	if a, ok := e.adaptor.(adaptor.Addressable); ok {
		return a.Address()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.address
}

// State reports readiness as seen by the adaptor.
func (e *Endpoint) State() State {
	e.mu.Lock()
	faulted := e.faulted
	e.mu.Unlock()
	if faulted != nil {
		return StateFaulted
	}
	if r, ok := e.adaptor.(adaptor.ReadinessReporter); ok && !r.Ready() {
		return StatePending
	}
	return StateReady
}

// MarkFaulted records a runtime adaptor failure. The endpoint stays
// registered but is reported Faulted until the address is rebound.
func (e *Endpoint) MarkFaulted(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faulted = err
}

// Info returns a point-in-time description.
func (e *Endpoint) Info() Info {
	info := Info{
		Name:        e.name,
		Address:     e.Address(),
		AdaptorType: e.adaptorType,
		Schemas:     slices.Clone(e.schemas),
		State:       e.State(),
	}
	if mp, ok := e.adaptor.(adaptor.MetricsProvider); ok {
		snap := mp.Metrics()
		info.Traffic = &snap
	}
	return info
}

// Registry is the set of named endpoints.
type Registry struct {
	catalog *adaptor.Catalog
	logger  *slog.Logger

	mu        sync.RWMutex
	endpoints map[string]*Endpoint
}

// New creates an empty registry building adaptors from catalog.
func New(catalog *adaptor.Catalog, logger *slog.Logger) *Registry {
	return &Registry{
		catalog:   catalog,
		logger:    logging.OrDiscard(logger),
		endpoints: make(map[string]*Endpoint),
	}
}

// Catalog returns the adaptor catalog.
func (r *Registry) Catalog() *adaptor.Catalog { return r.catalog }

// Create registers an endpoint. The adaptor is built outside the registry
// lock; a concurrent create of the same name loses and its adaptor is closed.
func (r *Registry) Create(name, adaptorType string, properties map[string]string, schemas []string) (*Endpoint, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, simerr.Configuration("endpoint name is required")
	}
	if _, exists := r.Get(name); exists {
		return nil, simerr.Configuration("endpoint %q already exists", name)
	}
	if _, _, ok := r.catalog.Lookup(adaptorType); !ok {
		return nil, simerr.Configuration("unknown protocol adaptor type %q", adaptorType)
	}

	cleaned := normalizeSchemas(schemas)
	props := adaptor.Properties(maps.Clone(properties))
	if props == nil {
		props = adaptor.Properties{}
	}
	address := props.String(AddressProperty, "")

	a, err := r.catalog.Build(adaptorType, adaptor.Spec{
		Endpoint:   name,
		Address:    address,
		Properties: props,
		Schemas:    cleaned,
		Logger:     r.logger.With("endpoint", name),
	})
	if err != nil {
		return nil, err
	}

	ep := &Endpoint{
		name:        name,
		adaptorType: adaptorType,
		schemas:     cleaned,
		properties:  props,
		adaptor:     a,
		address:     address,
	}

	r.mu.Lock()
	if _, exists := r.endpoints[name]; exists {
		r.mu.Unlock()
		_ = a.Close()
		return nil, simerr.Configuration("endpoint %q already exists", name)
	}
	r.endpoints[name] = ep
	r.mu.Unlock()

	r.logger.Info("endpoint created", "endpoint", name, "adaptor", adaptorType, "schemas", cleaned, "address", address)
	return ep, nil
}

// SetAddress rebinds the transport address of an existing endpoint.
func (r *Registry) SetAddress(name, address string) error {
	ep, ok := r.Get(name)
	if !ok {
		return simerr.Configuration("unknown endpoint %q", name)
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()
	if a, ok := ep.adaptor.(adaptor.Addressable); ok {
		if err := a.SetAddress(address); err != nil {
			return simerr.Adaptor("set address of %s: %w", name, err)
		}
	}
	ep.address = address
	ep.faulted = nil
	r.logger.Info("endpoint address set", "endpoint", name, "address", address)
	return nil
}

// Get returns the named endpoint.
func (r *Registry) Get(name string) (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[name]
	return ep, ok
}

// Names returns the endpoint names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns descriptions of all endpoints, sorted by name.
func (r *Registry) Snapshot() []Info {
	eps := r.list()
	infos := make([]Info, 0, len(eps))
	for _, ep := range eps {
		infos = append(infos, ep.Info())
	}
	return infos
}

// SchemaNames returns the union of schemas served by endpoints and declared
// by adaptor types.
func (r *Registry) SchemaNames() []string {
	seen := make(map[string]struct{})
	for _, s := range r.catalog.Schemas() {
		seen[s] = struct{}{}
	}
	for _, ep := range r.list() {
		for _, s := range ep.schemas {
			seen[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// SchemaInfos describes each schema name with its adaptor type and endpoints.
func (r *Registry) SchemaInfos() []SchemaInfo {
	eps := r.list()
	var infos []SchemaInfo
	for _, schema := range r.SchemaNames() {
		info := SchemaInfo{Name: schema}
		if t, err := r.catalog.TypeForSchema(schema); err == nil {
			info.AdaptorType = t
		}
		for _, ep := range eps {
			if ep.Serves(schema) {
				info.Endpoints = append(info.Endpoints, ep.name)
				if info.AdaptorType == "" {
					info.AdaptorType = ep.adaptorType
				}
			}
		}
		infos = append(infos, info)
	}
	return infos
}

// WaitUntilReady blocks until every endpoint reports Ready or ctx ends.
// The returned error names the endpoints that were not ready.
func (r *Registry) WaitUntilReady(ctx context.Context) error {
	ticker := time.NewTicker(readinessPollInterval)
	defer ticker.Stop()
	for {
		pending := r.notReady()
		if len(pending) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return simerr.Simulator("endpoints not operational: %s: %w", strings.Join(pending, ", "), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *Registry) notReady() []string {
	var pending []string
	for _, ep := range r.list() {
		if ep.State() != StateReady {
			pending = append(pending, ep.name)
		}
	}
	return pending
}

// Close closes every adaptor and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	eps := r.endpoints
	r.endpoints = make(map[string]*Endpoint)
	r.mu.Unlock()

	var errs []error
	for name, ep := range eps {
		if err := ep.adaptor.Close(); err != nil {
			errs = append(errs, simerr.Adaptor("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) list() []*Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	eps := make([]*Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		eps = append(eps, ep)
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].name < eps[j].name })
	return eps
}

func normalizeSchemas(schemas []string) []string {
	out := make([]string, 0, len(schemas))
	seen := make(map[string]struct{}, len(schemas))
	for _, s := range schemas {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[strings.ToLower(s)]; dup {
			continue
		}
		seen[strings.ToLower(s)] = struct{}{}
		out = append(out, s)
	}
	return out
}
