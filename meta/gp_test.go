package meta

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func fitSineGP(t *testing.T) (*GPRegressor, *mat.Dense, []float64) {
	t.Helper()
	n := 20
	X := mat.NewDense(n, 1, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x := float64(i) / float64(n-1) * 2 * math.Pi
		X.Set(i, 0, x)
		y[i] = math.Sin(x)
	}
	gp := NewGPRegressor()
	gp.SuppressConvergeWarnings = true
	require.NoError(t, gp.Fit(X, y))
	return gp, X, y
}

// TestGPRegressor_InterpolatesTrainingPoints checks the posterior mean is
// close to the observations at the training inputs and the posterior std is
// small there.
func TestGPRegressor_InterpolatesTrainingPoints(t *testing.T) {
	gp, X, y := fitSineGP(t)

	pred, std, err := gp.PredictWithStd(X)
	require.NoError(t, err)
	for i := range y {
		assert.InDelta(t, y[i], pred[i], 0.05, "row %d", i)
		assert.Less(t, std[i], 0.25, "row %d", i)
	}
}

func TestGPRegressor_StdGrowsAwayFromData(t *testing.T) {
	gp, _, _ := fitSineGP(t)

	near := mat.NewDense(1, 1, []float64{math.Pi})
	far := mat.NewDense(1, 1, []float64{40})

	_, stdNear, err := gp.PredictWithStd(near)
	require.NoError(t, err)
	_, stdFar, err := gp.PredictWithStd(far)
	require.NoError(t, err)
	assert.Greater(t, stdFar[0], stdNear[0])
}

// TestGPRegressor_OverlayReducesStdWithoutMovingMean verifies hypothetical
// training points shrink the predictive std near them while leaving the
// posterior mean untouched.
func TestGPRegressor_OverlayReducesStdWithoutMovingMean(t *testing.T) {
	gp, _, _ := fitSineGP(t)

	// A query far from the data, overlaid with a hypothetical point at the
	// same location.
	query := mat.NewDense(1, 1, []float64{10})
	overlay := mat.NewDense(1, 1, []float64{10})

	predBase, stdBase, err := gp.PredictWithStd(query)
	require.NoError(t, err)
	predOver, stdOver, err := gp.PredictWithStdOverlay(query, overlay)
	require.NoError(t, err)

	assert.Equal(t, predBase[0], predOver[0], "overlay must not move the mean")
	assert.Less(t, stdOver[0], stdBase[0], "overlay must reduce std near itself")

	// The overlay lives only in the call: the plain posterior is unchanged.
	_, stdAfter, err := gp.PredictWithStd(query)
	require.NoError(t, err)
	assert.Equal(t, stdBase[0], stdAfter[0])
}

func TestGPRegressor_LengthScalesTrackRelevance(t *testing.T) {
	// Output depends strongly on dimension 0, not at all on dimension 1. The
	// ARD kernel should fit a much shorter length scale on dimension 0.
	rng := rand.New(rand.NewSource(3))
	n := 30
	X := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x0, x1 := rng.Float64(), rng.Float64()
		X.Set(i, 0, x0)
		X.Set(i, 1, x1)
		y[i] = math.Sin(8 * x0)
	}
	gp := NewGPRegressor()
	gp.SuppressConvergeWarnings = true
	require.NoError(t, gp.Fit(X, y))

	ls, err := gp.LengthScales()
	require.NoError(t, err)
	require.Len(t, ls, 2)
	assert.Less(t, ls[0], ls[1])
}

func TestGPRegressor_FitErrors(t *testing.T) {
	gp := NewGPRegressor()

	X := mat.NewDense(3, 1, []float64{1, 2, 3})
	assert.Error(t, gp.Fit(X, []float64{1, 2}), "length mismatch")

	one := mat.NewDense(1, 1, []float64{1})
	assert.Error(t, gp.Fit(one, []float64{1}), "too few observations")

	_, err := gp.Predict(X)
	assert.ErrorIs(t, err, ErrNotFitted)
	_, err = gp.LengthScales()
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestGPRegressor_PredictDimensionMismatch(t *testing.T) {
	gp, _, _ := fitSineGP(t)
	_, _, err := gp.PredictWithStd(mat.NewDense(1, 2, []float64{0, 0}))
	assert.Error(t, err)
}

func TestGPRegressor_CloneIsUnfittedWithSameConfig(t *testing.T) {
	gp := NewGPRegressor()
	gp.RandomState = 11
	gp.SuppressConvergeWarnings = true

	clone := gp.Clone().(*GPRegressor)
	assert.Equal(t, gp.Jitter, clone.Jitter)
	assert.Equal(t, gp.Restarts, clone.Restarts)
	assert.Equal(t, int64(11), clone.RandomState)
	_, err := clone.Predict(mat.NewDense(1, 1, []float64{0}))
	assert.ErrorIs(t, err, ErrNotFitted)
}
