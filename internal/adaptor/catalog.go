package adaptor

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/torosent/scensim/internal/simerr"
)

type catalogEntry struct {
	info    TypeInfo
	factory Factory
}

// Catalog is the set of adaptor types an endpoint may be created with.
type Catalog struct {
	mu    sync.RWMutex
	types map[string]catalogEntry
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{types: make(map[string]catalogEntry)}
}

// Register adds an adaptor type. Names are unique.
func (c *Catalog) Register(info TypeInfo, factory Factory) error {
	name := strings.TrimSpace(info.Name)
	if name == "" {
		return simerr.Configuration("adaptor type name is required")
	}
	if factory == nil {
		return simerr.Configuration("adaptor type %q has no factory", name)
	}
	info.Name = name
	info.Schemas = slices.Clone(info.Schemas)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.types[name]; exists {
		return simerr.Configuration("adaptor type %q already registered", name)
	}
	c.types[name] = catalogEntry{info: info, factory: factory}
	return nil
}

// Lookup returns the factory and description of a registered type.
func (c *Catalog) Lookup(name string) (Factory, TypeInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.types[name]
	if !ok {
		return nil, TypeInfo{}, false
	}
	info := entry.info
	info.Schemas = slices.Clone(info.Schemas)
	return entry.factory, info, true
}

// Types returns the registered type names in sorted order.
func (c *Catalog) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.types))
	for name := range c.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TypeInfos returns descriptions of every registered type, sorted by name.
func (c *Catalog) TypeInfos() []TypeInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	infos := make([]TypeInfo, 0, len(c.types))
	for _, entry := range c.types {
		info := entry.info
		info.Schemas = slices.Clone(info.Schemas)
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Schemas returns the schema names explicitly declared by registered types.
func (c *Catalog) Schemas() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, entry := range c.types {
		for _, s := range entry.info.Schemas {
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

// TypeForSchema returns the first type (by name) that explicitly declares schema.
func (c *Catalog) TypeForSchema(schema string) (string, error) {
	for _, info := range c.TypeInfos() {
		for _, s := range info.Schemas {
			if strings.EqualFold(s, schema) {
				return info.Name, nil
			}
		}
	}
	return "", simerr.Configuration("no adaptor type serves schema %q", schema)
}

// Build constructs an adaptor of the named type, enforcing its schema support.
func (c *Catalog) Build(typeName string, spec Spec) (Adaptor, error) {
	factory, info, ok := c.Lookup(typeName)
	if !ok {
		return nil, simerr.Configuration("unknown protocol adaptor type %q", typeName)
	}
	for _, schema := range spec.Schemas {
		if !info.Supports(schema) {
			return nil, simerr.Adaptor("adaptor type %q does not serve schema %q", typeName, schema)
		}
	}
	a, err := factory(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s adaptor for %s: %w", simerr.ErrAdaptor, typeName, spec.Endpoint, err)
	}
	return a, nil
}
