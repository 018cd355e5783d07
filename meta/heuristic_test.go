package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHeuristicPickExperiments_PrefersUncertainRegions verifies the value
// function: with uniform density and poorness of fit, candidates far from
// the training data carry the highest predictive std and are picked first.
func TestHeuristicPickExperiments_PrefersUncertainRegions(t *testing.T) {
	s := fitTestSurrogate(t, nil)
	// Training x lies in [0, 10); the candidates at 50 and 60 are far
	// outside and carry much higher predictive std than the interior ones.
	pool := candidatePool(t, []float64{2, 5, 8, 50, 60}, "a")

	design, err := s.HeuristicPickExperiments(pool, 2, &HeuristicOptions{
		PoornessOfFit: map[string]float64{"speed": 1},
	})
	require.NoError(t, err)
	require.Equal(t, 2, design.NumRows())

	xs, err := design.Numeric("x")
	require.NoError(t, err)
	for _, x := range xs {
		assert.GreaterOrEqual(t, x, 50.0)
	}
}

// TestHeuristicPickExperiments_OverlaySpreadsPicks verifies the hypothetical
// training points: once a candidate is picked, the shrunken variance around
// it pushes the next pick away rather than onto its near-duplicate.
func TestHeuristicPickExperiments_OverlaySpreadsPicks(t *testing.T) {
	s := fitTestSurrogate(t, nil)
	// Two clusters far from the data; without the overlay both picks would
	// land in the slightly farther cluster.
	pool := candidatePool(t, []float64{50, 50.01, 70, 70.01}, "a")

	design, err := s.HeuristicPickExperiments(pool, 2, &HeuristicOptions{
		PoornessOfFit: map[string]float64{"speed": 1},
	})
	require.NoError(t, err)

	xs, err := design.Numeric("x")
	require.NoError(t, err)
	require.Len(t, xs, 2)
	gap := xs[0] - xs[1]
	if gap < 0 {
		gap = -gap
	}
	assert.Greater(t, gap, 1.0, "picks %v should span both clusters", xs)
}

func TestHeuristicPickExperiments_DensityScalesValue(t *testing.T) {
	s := fitTestSurrogate(t, nil)
	pool := candidatePool(t, []float64{50, 60}, "a")

	// Zeroing one candidate's density forces the other, regardless of std.
	design, err := s.HeuristicPickExperiments(pool, 1, &HeuristicOptions{
		PoornessOfFit: map[string]float64{"speed": 1},
		Density:       []float64{1, 0},
	})
	require.NoError(t, err)
	xs, err := design.Numeric("x")
	require.NoError(t, err)
	assert.Equal(t, []float64{50}, xs)

	_, err = s.HeuristicPickExperiments(pool, 1, &HeuristicOptions{
		Density: []float64{1, 2, 3},
	})
	assert.Error(t, err, "density length mismatch")
}

func TestHeuristicPickExperiments_BatchSizeEdges(t *testing.T) {
	s := fitTestSurrogate(t, nil)
	pool := candidatePool(t, []float64{20, 30, 40}, "a")
	opts := &HeuristicOptions{PoornessOfFit: map[string]float64{"speed": 1}}

	empty, err := s.HeuristicPickExperiments(pool, 0, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.NumRows())
	assert.Equal(t, pool.Names(), empty.Names())

	all, err := s.HeuristicPickExperiments(pool, 10, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, all.NumRows(), "oversized batch clamps to the pool")
}

func TestHeuristicPickExperiments_Deterministic(t *testing.T) {
	s := fitTestSurrogate(t, nil)
	pool := candidatePool(t, []float64{15, 25, 35, 45}, "b")
	opts := &HeuristicOptions{PoornessOfFit: map[string]float64{"speed": 1}}

	a, err := s.HeuristicPickExperiments(pool, 2, opts)
	require.NoError(t, err)
	b, err := s.HeuristicPickExperiments(pool, 2, opts)
	require.NoError(t, err)

	xa, _ := a.Numeric("x")
	xb, _ := b.Numeric("x")
	assert.Equal(t, xa, xb)
}

func TestHeuristicPickExperiments_ComputesPoornessOfFitWhenNil(t *testing.T) {
	s := fitTestSurrogate(t, nil)
	pool := candidatePool(t, []float64{20, 40}, "a")

	// nil poorness of fit triggers a cross-validation internally; the call
	// must still produce a full batch.
	design, err := s.HeuristicPickExperiments(pool, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, design.NumRows())
}

func TestHeuristicPickExperiments_EncodingErrors(t *testing.T) {
	s := fitTestSurrogate(t, nil)

	bad := NewTable()
	require.NoError(t, bad.AddNumeric("x", []float64{1}))
	_, err := s.HeuristicPickExperiments(bad, 1, nil)
	assert.Error(t, err, "pool missing a raw input column")
}
