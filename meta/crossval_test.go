package meta

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestAssignFolds_PartitionsAllRows(t *testing.T) {
	fold, err := assignFolds(17, 5, 42, nil)
	require.NoError(t, err)
	require.Len(t, fold, 17)

	counts := map[int]int{}
	for _, f := range fold {
		require.GreaterOrEqual(t, f, 0)
		require.Less(t, f, 5)
		counts[f]++
	}
	// 17 rows over 5 folds: sizes 4,4,3,3,3.
	for f := 0; f < 5; f++ {
		assert.GreaterOrEqual(t, counts[f], 3, "fold %d", f)
		assert.LessOrEqual(t, counts[f], 4, "fold %d", f)
	}
}

func TestAssignFolds_Deterministic(t *testing.T) {
	a, err := assignFolds(20, 4, 7, nil)
	require.NoError(t, err)
	b, err := assignFolds(20, 4, 7, nil)
	require.NoError(t, err)
	assert.Equal(t, a, b, "same seed gives same partition")

	c, err := assignFolds(20, 4, 8, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "different seed gives a different partition")
}

// TestAssignFolds_StratifiedBalancesStrata checks every fold sees every
// stratum when the stratum sizes allow it.
func TestAssignFolds_StratifiedBalancesStrata(t *testing.T) {
	strat := make([]string, 30)
	for i := range strat {
		if i < 15 {
			strat[i] = "a"
		} else {
			strat[i] = "b"
		}
	}
	fold, err := assignFolds(30, 3, 1, strat)
	require.NoError(t, err)

	perFold := map[int]map[string]int{}
	for i, f := range fold {
		if perFold[f] == nil {
			perFold[f] = map[string]int{}
		}
		perFold[f][strat[i]]++
	}
	for f := 0; f < 3; f++ {
		assert.Equal(t, 5, perFold[f]["a"], "fold %d stratum a", f)
		assert.Equal(t, 5, perFold[f]["b"], "fold %d stratum b", f)
	}
}

func TestAssignFolds_Errors(t *testing.T) {
	_, err := assignFolds(10, 1, 0, nil)
	assert.Error(t, err, "fewer than 2 folds")

	_, err = assignFolds(3, 5, 0, nil)
	assert.Error(t, err, "more folds than rows")

	_, err = assignFolds(10, 5, 0, []string{"a", "b"})
	assert.Error(t, err, "stratification length mismatch")
}

func cvTestData(t *testing.T, n int) (*mat.Dense, *mat.Dense) {
	t.Helper()
	rng := rand.New(rand.NewSource(9))
	X := mat.NewDense(n, 1, nil)
	Y := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		x := rng.Float64() * 5
		X.Set(i, 0, x)
		Y.Set(i, 0, 2*x+1+rng.NormFloat64()*0.05)
		Y.Set(i, 1, -x+4+rng.NormFloat64()*0.05)
	}
	return X, Y
}

func newCVStack(t *testing.T) *StackedRegressor {
	t.Helper()
	gp := NewGPRegressor()
	gp.SuppressConvergeWarnings = true
	stack, err := NewStackedRegressor(
		NamedStage{Name: "lr", Stage: NewLinearStage()},
		NamedStage{Name: "gpr", Stage: NewPerOutputStage(gp)},
	)
	require.NoError(t, err)
	return stack
}

// TestCrossValScores_PerOutput verifies one R² per output column, with high
// scores on near-linear targets.
func TestCrossValScores_PerOutput(t *testing.T) {
	X, Y := cvTestData(t, 40)
	stack := newCVStack(t)

	scores, err := stack.CrossValScores(X, Y, &CVOptions{Folds: 4, Seed: 2})
	require.NoError(t, err)
	require.Len(t, scores, 2)
	for j, sc := range scores {
		assert.Greater(t, sc, 0.9, "output %d", j)
		assert.LessOrEqual(t, sc, 1.0, "output %d", j)
	}
}

func TestCrossValScores_BookkeepingMismatchCarriesValues(t *testing.T) {
	X, Y := cvTestData(t, 24)
	stack := newCVStack(t)

	_, err := stack.CrossValScores(X, Y, &CVOptions{
		Folds:       3,
		OutputNames: []string{"only_one"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bookkeeping mismatch")
	assert.Contains(t, err.Error(), "only_one")
}

func TestCrossValScores_TierOverride(t *testing.T) {
	X, Y := cvTestData(t, 30)
	stack := newCVStack(t)

	// Tier 1 scores the trend stage alone; the targets are near-linear so it
	// should still score well.
	scores, err := stack.CrossValScores(X, Y, &CVOptions{Folds: 3, Tier: 1})
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Greater(t, scores[0], 0.9)

	_, err = stack.CrossValScores(X, Y, &CVOptions{Folds: 3, Tier: 7})
	assert.Error(t, err)
}

func TestCrossValPredict_CoversEveryRow(t *testing.T) {
	X, Y := cvTestData(t, 30)
	stack := newCVStack(t)

	oof, err := stack.CrossValPredict(X, Y, &CVOptions{Folds: 3, Seed: 4})
	require.NoError(t, err)
	r, c := oof.Dims()
	assert.Equal(t, 30, r)
	assert.Equal(t, 2, c)
	for i := 0; i < r; i++ {
		// Out-of-fold predictions on a near-linear target stay close.
		assert.InDelta(t, Y.At(i, 0), oof.At(i, 0), 1.0, "row %d", i)
	}
}

func TestCrossValPredict_DoesNotFitReceiver(t *testing.T) {
	X, Y := cvTestData(t, 24)
	stack := newCVStack(t)

	_, err := stack.CrossValPredict(X, Y, &CVOptions{Folds: 3})
	require.NoError(t, err)
	_, err = stack.Predict(X)
	assert.ErrorIs(t, err, ErrNotFitted, "cross-validation must not leave fitted state behind")
}

func TestCrossValPredict_NegativeFoldsIsLeaveOneOut(t *testing.T) {
	// Small n keeps leave-one-out affordable.
	X, Y := cvTestData(t, 10)
	stack, err := NewStackedRegressor(NamedStage{Name: "lr", Stage: NewLinearStage()})
	require.NoError(t, err)

	oof, err := stack.CrossValPredict(X, Y, &CVOptions{Folds: -1})
	require.NoError(t, err)
	r, _ := oof.Dims()
	assert.Equal(t, 10, r)
}
