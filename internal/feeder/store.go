package feeder

import (
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/torosent/scensim/internal/logging"
	"github.com/torosent/scensim/internal/simerr"
)

// Format is a data set source format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// FormatFromPath infers the format from a file extension (default CSV).
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatCSV
}

// Store is the set of loaded data sets, keyed by name.
type Store struct {
	logger *slog.Logger

	mu   sync.RWMutex
	sets map[string]*DataSet
}

// NewStore returns an empty store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{logger: logging.OrDiscard(logger), sets: make(map[string]*DataSet)}
}

// Load parses content and registers it under name, replacing any previous
// data set with that name. Parsing completes before the store is touched, so
// a failed load leaves the previous state unchanged.
func (s *Store) Load(name string, format Format, content string) (*DataSet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, simerr.Configuration("data set name is required")
	}

	var (
		ds  *DataSet
		err error
	)
	switch format {
	case FormatJSON:
		ds, err = ParseJSON(name, strings.NewReader(content))
	case FormatCSV, "":
		ds, err = ParseCSV(name, strings.NewReader(content))
	default:
		return nil, simerr.Configuration("unknown data set format %q", format)
	}
	if err != nil {
		return nil, err
	}

	s.Put(ds)
	return ds, nil
}

// LoadFile reads a data set from disk; the format follows the extension.
func (s *Store) LoadFile(name, path string) (*DataSet, error) {
	var (
		ds  *DataSet
		err error
	)
	if FormatFromPath(path) == FormatJSON {
		ds, err = LoadJSONFile(name, path)
	} else {
		ds, err = LoadCSVFile(name, path)
	}
	if err != nil {
		return nil, err
	}
	s.Put(ds)
	return ds, nil
}

// Put registers an already parsed data set.
func (s *Store) Put(ds *DataSet) {
	s.mu.Lock()
	s.sets[ds.Name()] = ds
	s.mu.Unlock()
	s.logger.Info("data set loaded", "data_set", ds.Name(), "rows", ds.Len(), "columns", ds.Columns())
}

// Get returns the named data set.
func (s *Store) Get(name string) (*DataSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.sets[name]
	return ds, ok
}

// Names returns the data set names in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.sets))
	for name := range s.sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
