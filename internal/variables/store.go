// Package variables holds the values a session renders its messages with:
// the data set rows drawn at session start and the variables extracted from
// received messages.
package variables

import (
	"context"
	"maps"
	"sync"

	"github.com/torosent/scensim/internal/feeder"
)

// Store is a session-scoped variable store shared by the session's dialogs.
// Extracted variables take precedence over data set values of the same name.
type Store struct {
	mu        sync.RWMutex
	data      map[string]string
	variables map[string]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		data:      make(map[string]string),
		variables: make(map[string]string),
	}
}

// BindRow exposes every column of record as "table.column".
func (s *Store) BindRow(table string, record feeder.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for column, value := range record {
		s.data[table+"."+column] = value
	}
}

// Set stores a variable with the given key and value.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variables[key] = value
}

// SetAll stores every entry of values.
func (s *Store) SetAll(values map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.variables, values)
}

// Get retrieves a variable by key, falling back to data set values.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if value, ok := s.variables[key]; ok {
		return value, true
	}
	value, ok := s.data[key]
	return value, ok
}

// Snapshot returns the merged view used for placeholder substitution.
func (s *Store) Snapshot() feeder.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(feeder.Record, len(s.data)+len(s.variables))
	maps.Copy(result, s.data)
	maps.Copy(result, s.variables)
	return result
}

// Render substitutes {{name}} placeholders in template.
func (s *Store) Render(template string) string {
	return feeder.SubstitutePlaceholders(template, s.Snapshot())
}

type contextKey struct{}

var storeKey = contextKey{}

// FromContext retrieves the variable store from the context.
// Returns nil if not found.
func FromContext(ctx context.Context) *Store {
	if ctx == nil {
		return nil
	}
	if s, ok := ctx.Value(storeKey).(*Store); ok {
		return s
	}
	return nil
}

// NewContext returns a new context with the variable store attached.
func NewContext(ctx context.Context, store *Store) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, storeKey, store)
}
