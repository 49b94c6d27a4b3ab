package scenario

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/scensim/internal/simerr"
)

func TestChooseWalksSortedCumulativeWeights(t *testing.T) {
	weights := map[string]float64{"c": 0.5, "a": 0.25, "b": 0.25, "z": 0}
	tests := []struct {
		u    float64
		want string
	}{
		{0, "a"},
		{0.2499, "a"},
		{0.25, "b"},
		{0.4999, "b"},
		{0.5, "c"},
		{0.9999, "c"},
	}
	for _, tt := range tests {
		got, ok := choose(weights, tt.u)
		require.True(t, ok)
		assert.Equal(t, tt.want, got, "u=%v", tt.u)
	}

	_, ok := choose(map[string]float64{"a": 0}, 0.5)
	assert.False(t, ok)
}

func TestSetPreferredWeightsErrors(t *testing.T) {
	store, _, _ := newTestStore(t)
	_, err := store.Load(simpleScenario("A", 1, true), "")
	require.NoError(t, err)
	_, err = store.Load(simpleScenario("N", 1, false), "")
	require.NoError(t, err)

	err = store.SetPreferred("missing")
	assert.True(t, errors.Is(err, simerr.ErrSimulator), "unknown: %v", err)
	err = store.SetPreferred("N")
	assert.True(t, errors.Is(err, simerr.ErrSimulator), "not initiating: %v", err)
	err = store.SetPreferredWeights(map[string]float64{"A": -1})
	assert.True(t, errors.Is(err, simerr.ErrConfiguration), "negative: %v", err)
	err = store.SetPreferredWeights(map[string]float64{"A": 0})
	assert.True(t, errors.Is(err, simerr.ErrConfiguration), "all zero: %v", err)
	assert.Empty(t, store.Preferred(), "failed updates leave the table unchanged")

	require.NoError(t, store.SetPreferredWeights(map[string]float64{"A": 3}))
	assert.Equal(t, map[string]float64{"A": 1}, store.Preferred())
}

func TestSelectDefaultsToDeclaredWeights(t *testing.T) {
	store, _, _ := newTestStore(t)
	_, err := store.Load(simpleScenario("A", 1, true), "")
	require.NoError(t, err)
	_, err = store.Load(simpleScenario("B", 3, true), "")
	require.NoError(t, err)
	_, err = store.Load(simpleScenario("N", 5, false), "")
	require.NoError(t, err)

	h, err := store.SelectWith(0.2)
	require.NoError(t, err)
	assert.Equal(t, "A", h.Scenario.Name)
	h.Release()

	h, err = store.SelectWith(0.3)
	require.NoError(t, err)
	assert.Equal(t, "B", h.Scenario.Name)
	h.Release()
}

func TestSelectWithoutScenarios(t *testing.T) {
	store, _, _ := newTestStore(t)
	_, err := store.Select()
	assert.True(t, errors.Is(err, simerr.ErrSimulator), "got %v", err)
}

// The observed frequencies of a seeded selection must fit the normalized
// preferred weights: chi-squared with 2 degrees of freedom below the 0.1%
// critical value.
func TestSelectConvergesToPreferredWeights(t *testing.T) {
	store, _, _ := newTestStore(t)
	for _, name := range []string{"A", "B", "C"} {
		_, err := store.Load(simpleScenario(name, 1, true), "")
		require.NoError(t, err)
	}
	weights := map[string]float64{"A": 1, "B": 2, "C": 7}
	require.NoError(t, store.SetPreferredWeights(weights))

	const draws = 20000
	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		h, err := store.Select()
		require.NoError(t, err)
		counts[h.Scenario.Name]++
		h.Release()
	}

	var chi2 float64
	for name, w := range weights {
		expected := draws * w / 10
		diff := float64(counts[name]) - expected
		chi2 += diff * diff / expected
	}
	assert.Less(t, chi2, 13.816, "counts %v", counts)
}

func TestSelectAndRemoveConcurrently(t *testing.T) {
	store, _, _ := newTestStore(t)
	_, err := store.Load(simpleScenario("A", 1, true), "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	removed := make(chan bool, 1)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				h, err := store.Select()
				if err != nil {
					return
				}
				assert.Equal(t, "A", h.Scenario.Name)
				h.Release()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for !store.Remove("A") {
		}
		removed <- true
	}()
	wg.Wait()

	assert.True(t, <-removed)
	_, ok := store.Get("A")
	assert.False(t, ok)
}
