package meta

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// fitTestStack fits a two-stage lr+gpr stack on a curved single-output
// surface with a strong linear component.
func fitTestStack(t *testing.T) (*StackedRegressor, *mat.Dense, *mat.Dense) {
	t.Helper()
	rng := rand.New(rand.NewSource(5))
	n := 30
	X := mat.NewDense(n, 1, nil)
	Y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x := rng.Float64() * 4
		X.Set(i, 0, x)
		Y.Set(i, 0, 3*x+math.Sin(3*x))
	}

	gp := NewGPRegressor()
	gp.SuppressConvergeWarnings = true
	stack, err := NewStackedRegressor(
		NamedStage{Name: "lr", Stage: NewLinearStage()},
		NamedStage{Name: "gpr", Stage: NewPerOutputStage(gp)},
	)
	require.NoError(t, err)
	require.NoError(t, stack.Fit(X, Y, nil))
	return stack, X, Y
}

func TestNewStackedRegressor_Validation(t *testing.T) {
	_, err := NewStackedRegressor()
	assert.Error(t, err, "empty stage list")

	_, err = NewStackedRegressor(NamedStage{Name: "", Stage: NewLinearStage()})
	assert.Error(t, err, "empty name")

	_, err = NewStackedRegressor(
		NamedStage{Name: "lr", Stage: NewLinearStage()},
		NamedStage{Name: "lr", Stage: NewLinearStage()},
	)
	assert.Error(t, err, "duplicate name")
}

// TestStackedRegressor_ResidualChainSums verifies the defining identity of
// the stack: full prediction = trend prediction + residual prediction.
func TestStackedRegressor_ResidualChainSums(t *testing.T) {
	stack, X, Y := fitTestStack(t)

	full, err := stack.Predict(X)
	require.NoError(t, err)
	trend, err := stack.PredictTier(X, 1)
	require.NoError(t, err)
	resid, err := stack.ResidualPredict(X)
	require.NoError(t, err)

	n, _ := X.Dims()
	for i := 0; i < n; i++ {
		assert.InDelta(t, full.At(i, 0), trend.At(i, 0)+resid.At(i, 0), 1e-9, "row %d", i)
	}

	// The GP correction stage should tighten the in-sample fit over the
	// trend alone.
	var trendErr, fullErr float64
	for i := 0; i < n; i++ {
		trendErr += math.Abs(Y.At(i, 0) - trend.At(i, 0))
		fullErr += math.Abs(Y.At(i, 0) - full.At(i, 0))
	}
	assert.Less(t, fullErr, trendErr)
}

func TestStackedRegressor_TierResolution(t *testing.T) {
	stack, X, _ := fitTestStack(t)

	all, err := stack.PredictTier(X, 0)
	require.NoError(t, err)
	two, err := stack.PredictTier(X, 2)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(all, two, 0), "tier 0 means all stages")

	lastDropped, err := stack.PredictTier(X, -1)
	require.NoError(t, err)
	trend, err := stack.PredictTier(X, 1)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(lastDropped, trend, 0), "-1 drops the last of two stages")

	for _, tier := range []int{3, -2, -5} {
		_, err := stack.PredictTier(X, tier)
		assert.Error(t, err, "tier %d", tier)
	}
}

func TestStackedRegressor_SetPredictionTier(t *testing.T) {
	stack, X, _ := fitTestStack(t)

	require.NoError(t, stack.SetPredictionTier(1))
	assert.Equal(t, 1, stack.PredictionTier())

	pred, err := stack.Predict(X)
	require.NoError(t, err)
	trend, err := stack.PredictTier(X, 1)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(pred, trend, 0))

	assert.Error(t, stack.SetPredictionTier(5))
	assert.Equal(t, 1, stack.PredictionTier(), "invalid tier must not change state")
}

func TestStackedRegressor_StageLookup(t *testing.T) {
	gp := NewGPRegressor()
	gp.SuppressConvergeWarnings = true
	stack, err := NewStackedRegressor(
		NamedStage{Name: "lr", Stage: NewLinearStage()},
		NamedStage{Name: "gpr", Stage: NewPerOutputStage(gp)},
	)
	require.NoError(t, err)

	// Before fitting, lookup returns the configuration.
	st, err := stack.Stage("lr")
	require.NoError(t, err)
	_, err = st.Predict(mat.NewDense(1, 1, []float64{0}))
	assert.ErrorIs(t, err, ErrNotFitted)

	_, err = stack.Stage("nope")
	assert.Error(t, err)

	X := mat.NewDense(4, 1, []float64{0, 1, 2, 3})
	Y := mat.NewDense(4, 1, []float64{0, 2, 4, 6})
	require.NoError(t, stack.Fit(X, Y, nil))

	// After fitting, lookup returns the fitted stage.
	st, err = stack.Stage("lr")
	require.NoError(t, err)
	_, err = st.Predict(X)
	assert.NoError(t, err)

	assert.Equal(t, []string{"lr", "gpr"}, stack.StageNames())
	assert.Equal(t, 2, stack.NumStages())
}

func TestStackedRegressor_SampleWeightsFailFast(t *testing.T) {
	stack, err := NewStackedRegressor(NamedStage{Name: "lr", Stage: NewLinearStage()})
	require.NoError(t, err)

	X := mat.NewDense(2, 1, []float64{0, 1})
	Y := mat.NewDense(2, 1, []float64{0, 1})
	err = stack.Fit(X, Y, []float64{1, 2})
	assert.ErrorIs(t, err, ErrSampleWeights)
}

func TestStackedRegressor_UseCVPredictBroadcast(t *testing.T) {
	gp := NewGPRegressor()
	gp.SuppressConvergeWarnings = true
	stack, err := NewStackedRegressor(
		NamedStage{Name: "lr", Stage: NewLinearStage()},
		NamedStage{Name: "gpr", Stage: NewPerOutputStage(gp)},
	)
	require.NoError(t, err)
	stack.UseCVPredict = []bool{true}
	stack.ResidualFolds = 3

	rng := rand.New(rand.NewSource(2))
	n := 18
	X := mat.NewDense(n, 1, nil)
	Y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x := rng.Float64() * 4
		X.Set(i, 0, x)
		Y.Set(i, 0, 2*x+math.Sin(2*x))
	}
	require.NoError(t, stack.Fit(X, Y, nil))

	// A wrong-length flag slice is a configuration error at fit time.
	bad := stack.Clone()
	bad.UseCVPredict = []bool{true, false, true}
	assert.Error(t, bad.Fit(X, Y, nil))
}

func TestStackedRegressor_PredictWithStd(t *testing.T) {
	stack, X, _ := fitTestStack(t)

	pred, std, err := stack.PredictWithStd(X)
	require.NoError(t, err)
	full, err := stack.Predict(X)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(pred, full, 1e-12))

	n, _ := X.Dims()
	for i := 0; i < n; i++ {
		assert.GreaterOrEqual(t, std.At(i, 0), 0.0)
	}

	// Far from the data the combined std must exceed the near-data std.
	far := mat.NewDense(1, 1, []float64{50})
	near := mat.NewDense(1, 1, []float64{2})
	_, stdFar, err := stack.PredictWithStd(far)
	require.NoError(t, err)
	_, stdNear, err := stack.PredictWithStd(near)
	require.NoError(t, err)
	assert.Greater(t, stdFar.At(0, 0), stdNear.At(0, 0))
}

func TestStackedRegressor_NotFitted(t *testing.T) {
	stack, err := NewStackedRegressor(NamedStage{Name: "lr", Stage: NewLinearStage()})
	require.NoError(t, err)

	X := mat.NewDense(1, 1, []float64{0})
	_, err = stack.Predict(X)
	assert.ErrorIs(t, err, ErrNotFitted)
	_, err = stack.ResidualPredict(X)
	assert.ErrorIs(t, err, ErrNotFitted)
	_, _, err = stack.PredictWithStd(X)
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestPerOutputStage_FitsEachColumn(t *testing.T) {
	gp := NewGPRegressor()
	gp.SuppressConvergeWarnings = true
	stage := NewPerOutputStage(gp)

	n := 15
	X := mat.NewDense(n, 1, nil)
	Y := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		x := float64(i) / float64(n-1) * 3
		X.Set(i, 0, x)
		Y.Set(i, 0, math.Sin(2*x))
		Y.Set(i, 1, math.Cos(2*x))
	}
	require.NoError(t, stage.Fit(X, Y))

	regs, err := stage.Regressors()
	require.NoError(t, err)
	assert.Len(t, regs, 2)

	pred, std, err := stage.PredictWithStd(X)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		assert.InDelta(t, Y.At(i, 0), pred.At(i, 0), 0.1)
		assert.InDelta(t, Y.At(i, 1), pred.At(i, 1), 0.1)
		assert.GreaterOrEqual(t, std.At(i, 0), 0.0)
	}
}

func TestPerOutputStage_NotFitted(t *testing.T) {
	stage := NewPerOutputStage(NewGPRegressor())
	_, err := stage.Predict(mat.NewDense(1, 1, []float64{0}))
	assert.ErrorIs(t, err, ErrNotFitted)
	_, err = stage.Regressors()
	assert.ErrorIs(t, err, ErrNotFitted)
}
