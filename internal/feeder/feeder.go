// Package feeder holds the tabular data sets scenarios draw per-session values from.
package feeder

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Record represents a single row of data with named fields.
type Record map[string]string

// ErrExhausted is returned by an exhausting cursor once every row was used.
var ErrExhausted = errors.New("feeder exhausted: no more records available")

// Policy is the row consumption policy of a table binding.
type Policy string

const (
	// PolicyRoundRobin walks rows sequentially and wraps to the first row.
	PolicyRoundRobin Policy = "round_robin"
	// PolicyExhaust walks rows sequentially once, then fails with ErrExhausted.
	PolicyExhaust Policy = "exhaust"
)

// ParsePolicy maps a policy name to a Policy. Empty means round-robin.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "round_robin", "round-robin", "roundrobin", "wrap":
		return PolicyRoundRobin, nil
	case "exhaust", "once":
		return PolicyExhaust, nil
	default:
		return "", fmt.Errorf("unknown consumption policy %q", s)
	}
}

// DataSet is an immutable, named table of rows.
type DataSet struct {
	name    string
	columns []string
	records []Record
}

// NewDataSet builds a data set from already parsed rows.
func NewDataSet(name string, columns []string, records []Record) *DataSet {
	return &DataSet{name: name, columns: slices.Clone(columns), records: records}
}

// Name returns the data set name.
func (d *DataSet) Name() string { return d.name }

// Columns returns the column names in source order.
func (d *DataSet) Columns() []string { return slices.Clone(d.columns) }

// Len returns the total number of records in the data set.
func (d *DataSet) Len() int { return len(d.records) }

// Row returns a copy of row i.
func (d *DataSet) Row(i int) Record {
	src := d.records[i]
	out := make(Record, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Cursor draws rows from a data set under a consumption policy.
// It is safe for concurrent use.
type Cursor struct {
	data   *DataSet
	policy Policy

	mu    sync.Mutex
	index int
}

// NewCursor returns a cursor positioned at the first row.
func NewCursor(data *DataSet, policy Policy) *Cursor {
	if policy == "" {
		policy = PolicyRoundRobin
	}
	return &Cursor{data: data, policy: policy}
}

// DataSet returns the underlying data set.
func (c *Cursor) DataSet() *DataSet { return c.data }

// Policy returns the consumption policy.
func (c *Cursor) Policy() Policy { return c.policy }

// Next returns the next record in deterministic sequential order.
func (c *Cursor) Next(ctx context.Context) (Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.data.Len()
	if n == 0 {
		return nil, ErrExhausted
	}
	if c.index >= n {
		if c.policy == PolicyExhaust {
			return nil, ErrExhausted
		}
		c.index = 0
	}
	rec := c.data.Row(c.index)
	c.index++
	return rec, nil
}

// Position returns the number of rows drawn since the last wrap.
func (c *Cursor) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}
