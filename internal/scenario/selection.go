package scenario

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/torosent/scensim/internal/feeder"
	"github.com/torosent/scensim/internal/simerr"
)

// SetPreferred restricts selection to a single scenario.
func (s *Store) SetPreferred(name string) error {
	return s.SetPreferredWeights(map[string]float64{name: 1})
}

// SetPreferredWeights replaces the preferred-scenario table. Weights are
// normalized and zero weights are dropped. An empty table restores the
// default of weighting every initiating scenario by its declared weight.
func (s *Store) SetPreferredWeights(weights map[string]float64) error {
	if len(weights) == 0 {
		s.index.Lock()
		s.preferred = nil
		s.index.Unlock()
		s.logger.Info("preferred scenarios cleared")
		return nil
	}

	var total float64
	for name, w := range weights {
		if w < 0 {
			return simerr.Configuration("scenario %s: weight must be >= 0, got %g", name, w)
		}
		total += w
	}
	if total == 0 {
		return simerr.Configuration("preferred scenario weights are all zero")
	}

	s.index.Lock()
	defer s.index.Unlock()
	for _, name := range slices.Sorted(maps.Keys(weights)) {
		e, ok := s.scenarios[name]
		if !ok {
			return simerr.Simulator("unknown scenario %q", name)
		}
		if !e.current().Initiating {
			return simerr.Simulator("scenario %q is not initiating", name)
		}
	}

	table := make(map[string]float64, len(weights))
	for name, w := range weights {
		if w > 0 {
			table[name] = w / total
		}
	}
	s.preferred = table
	s.logger.Info("preferred scenarios set", "weights", table)
	return nil
}

// Preferred returns a copy of the normalized preferred-scenario table.
func (s *Store) Preferred() map[string]float64 {
	s.index.RLock()
	defer s.index.RUnlock()
	return maps.Clone(s.preferred)
}

// Handle pins a scenario version for the lifetime of one session.
type Handle struct {
	Scenario *Scenario

	entry   *entry
	tables  []*TableBinding
	release sync.Once
}

// Release unpins the scenario. It is safe to call more than once.
func (h *Handle) Release() {
	h.release.Do(func() { h.entry.pins.Add(-1) })
}

// DrawRows takes the next row of every table bound to the scenario's config.
func (h *Handle) DrawRows(ctx context.Context) (map[string]feeder.Record, error) {
	if len(h.tables) == 0 {
		return nil, nil
	}
	rows := make(map[string]feeder.Record, len(h.tables))
	for _, tb := range h.tables {
		rec, err := tb.cursor.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("table %s (data set %s): %w", tb.Table, tb.DataSet, err)
		}
		rows[tb.Table] = rec
	}
	return rows, nil
}

// Acquire pins the named scenario.
func (s *Store) Acquire(name string) (*Handle, error) {
	s.index.RLock()
	defer s.index.RUnlock()
	e, ok := s.scenarios[name]
	if !ok {
		return nil, simerr.Configuration("unknown scenario %q", name)
	}
	return s.pinLocked(e), nil
}

// Select draws the next scenario to run and pins it.
func (s *Store) Select() (*Handle, error) {
	s.rngMu.Lock()
	u := s.rng.Float64()
	s.rngMu.Unlock()
	return s.SelectWith(u)
}

// SelectWith picks the scenario for the draw u in [0,1) and pins it.
func (s *Store) SelectWith(u float64) (*Handle, error) {
	s.index.RLock()
	defer s.index.RUnlock()

	weights := s.preferred
	if len(weights) == 0 {
		weights = make(map[string]float64, len(s.scenarios))
		for name, e := range s.scenarios {
			if sc := e.current(); sc.Initiating && sc.Weight > 0 {
				weights[name] = sc.Weight
			}
		}
	}
	name, ok := choose(weights, u)
	if !ok {
		return nil, simerr.Simulator("no selectable scenario")
	}
	e, ok := s.scenarios[name]
	if !ok {
		return nil, simerr.Simulator("preferred scenario %q is no longer loaded", name)
	}
	return s.pinLocked(e), nil
}

func (s *Store) pinLocked(e *entry) *Handle {
	e.pins.Add(1)
	sc := e.current()
	h := &Handle{Scenario: sc, entry: e}
	if cfg, ok := s.configs[sc.Config]; ok {
		h.tables = cfg.bindings()
	}
	return h
}

// choose walks weights in sorted-name order and returns the first name whose
// cumulative weight exceeds u scaled to the total.
func choose(weights map[string]float64, u float64) (string, bool) {
	var total float64
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return "", false
	}
	target := u * total
	var (
		cumulative float64
		last       string
	)
	for _, name := range slices.Sorted(maps.Keys(weights)) {
		w := weights[name]
		if w <= 0 {
			continue
		}
		cumulative += w
		last = name
		if cumulative > target {
			return name, true
		}
	}
	return last, true
}
