package meta

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// CVOptions configures cross-validated scoring and prediction.
type CVOptions struct {
	// Folds is the partition count (default 5).
	Folds int
	// Repeats averages scores over this many distinct seeded partitions
	// (default 1).
	Repeats int
	// Stratify, when non-nil, must hold one categorical stratum label per
	// row; fold assignment then balances strata across folds.
	Stratify []string
	// Seed drives the fold partitions.
	Seed int64
	// Tier overrides the stack's configured prediction tier when non-zero.
	Tier int
	// OutputNames, when given, is the expected output column list used for
	// score bookkeeping diagnostics.
	OutputNames []string
}

func (o *CVOptions) folds() int {
	if o == nil || o.Folds <= 0 {
		return 5
	}
	return o.Folds
}

func (o *CVOptions) repeats() int {
	if o == nil || o.Repeats <= 0 {
		return 1
	}
	return o.Repeats
}

// assignFolds deals each row to one of k folds. With a stratification
// vector, rows are shuffled within each stratum and dealt round-robin so
// every fold sees every stratum.
func assignFolds(n, k int, seed int64, stratify []string) ([]int, error) {
	if k < 2 {
		return nil, fmt.Errorf("cross-validation needs at least 2 folds, got %d", k)
	}
	if k > n {
		return nil, fmt.Errorf("cross-validation needs at least as many rows as folds (%d rows, %d folds)", n, k)
	}
	rng := rand.New(rand.NewSource(seed))
	fold := make([]int, n)

	if stratify == nil {
		perm := rng.Perm(n)
		for i, row := range perm {
			fold[row] = i % k
		}
		return fold, nil
	}
	if len(stratify) != n {
		return nil, fmt.Errorf("stratification vector has %d entries, table has %d rows", len(stratify), n)
	}
	groups := map[string][]int{}
	var order []string
	for i, s := range stratify {
		if _, ok := groups[s]; !ok {
			order = append(order, s)
		}
		groups[s] = append(groups[s], i)
	}
	next := 0
	for _, s := range order {
		rows := groups[s]
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		for _, row := range rows {
			fold[row] = next % k
			next++
		}
	}
	return fold, nil
}

// rowsDense gathers the given rows of m into a new matrix.
func rowsDense(m *mat.Dense, idx []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(idx), c, nil)
	for i, r := range idx {
		for j := 0; j < c; j++ {
			out.Set(i, j, m.At(r, j))
		}
	}
	return out
}

// oofPredict refits a clone of the stack per fold and assembles the
// out-of-fold predictions for every row. Each fold's fit is isolated: no
// fitted state is shared between folds or with the receiver.
func (s *StackedRegressor) oofPredict(X, Y *mat.Dense, fold []int, k, tier int) (*mat.Dense, error) {
	n, _ := X.Dims()
	_, cols := Y.Dims()
	oof := mat.NewDense(n, cols, nil)
	for f := 0; f < k; f++ {
		var train, test []int
		for i := 0; i < n; i++ {
			if fold[i] == f {
				test = append(test, i)
			} else {
				train = append(train, i)
			}
		}
		if len(test) == 0 {
			continue
		}
		clone := s.Clone()
		if err := clone.Fit(rowsDense(X, train), rowsDense(Y, train), nil); err != nil {
			return nil, fmt.Errorf("fold %d fit: %w", f, err)
		}
		pred, err := clone.PredictTier(rowsDense(X, test), tier)
		if err != nil {
			return nil, fmt.Errorf("fold %d predict: %w", f, err)
		}
		for i, r := range test {
			for j := 0; j < cols; j++ {
				oof.Set(r, j, pred.At(i, j))
			}
		}
	}
	return oof, nil
}

// CrossValScores refits the whole stack per fold and returns one R² score
// per output column, never an aggregate across outputs. With Repeats > 1,
// scores are averaged over distinct seeded partitions.
func (s *StackedRegressor) CrossValScores(X, Y *mat.Dense, opts *CVOptions) ([]float64, error) {
	n, _ := X.Dims()
	_, cols := Y.Dims()
	k := opts.folds()
	reps := opts.repeats()
	tier := s.predictionTier
	var seed int64
	var strat []string
	if opts != nil {
		seed = opts.Seed
		strat = opts.Stratify
		if opts.Tier != 0 {
			t, err := resolveTier(opts.Tier, len(s.stages))
			if err != nil {
				return nil, err
			}
			tier = t
		}
	}

	scores := make([]float64, cols)
	truth := make([]float64, n)
	est := make([]float64, n)
	for rep := 0; rep < reps; rep++ {
		fold, err := assignFolds(n, k, seed+int64(rep), strat)
		if err != nil {
			return nil, err
		}
		oof, err := s.oofPredict(X, Y, fold, k, tier)
		if err != nil {
			return nil, err
		}
		for j := 0; j < cols; j++ {
			mat.Col(truth, j, Y)
			mat.Col(est, j, oof)
			scores[j] += stat.RSquaredFrom(est, truth, nil)
		}
	}
	for j := range scores {
		scores[j] /= float64(reps)
	}

	if opts != nil && opts.OutputNames != nil && len(opts.OutputNames) != cols {
		// Re-raise with the raw score table and the expected column list
		// rather than silently mis-keying scores to outputs.
		return nil, fmt.Errorf(
			"cross-validation score bookkeeping mismatch: %d score columns %v, expected outputs %v",
			cols, scores, opts.OutputNames)
	}
	return scores, nil
}

// CrossValPredict returns out-of-fold predictions for every training row.
// A negative fold count requests leave-one-out (which may be slow).
func (s *StackedRegressor) CrossValPredict(X, Y *mat.Dense, opts *CVOptions) (*mat.Dense, error) {
	n, _ := X.Dims()
	k := 5
	var seed int64
	var strat []string
	if opts != nil {
		seed = opts.Seed
		strat = opts.Stratify
		if opts.Folds > 0 {
			k = opts.Folds
		} else if opts.Folds < 0 {
			k = n
		}
	}
	fold, err := assignFolds(n, k, seed, strat)
	if err != nil {
		return nil, err
	}
	return s.oofPredict(X, Y, fold, k, s.predictionTier)
}

// crossValPredictStage computes out-of-fold predictions for a single
// unfitted stage, used for cross-validated residualization during Fit.
func crossValPredictStage(proto Stage, X, Y *mat.Dense, k int, seed int64) (*mat.Dense, error) {
	n, _ := X.Dims()
	_, cols := Y.Dims()
	if k <= 0 {
		k = 5
	}
	fold, err := assignFolds(n, k, seed, nil)
	if err != nil {
		return nil, err
	}
	oof := mat.NewDense(n, cols, nil)
	for f := 0; f < k; f++ {
		var train, test []int
		for i := 0; i < n; i++ {
			if fold[i] == f {
				test = append(test, i)
			} else {
				train = append(train, i)
			}
		}
		if len(test) == 0 {
			continue
		}
		st := proto.Clone()
		if err := st.Fit(rowsDense(X, train), rowsDense(Y, train)); err != nil {
			return nil, fmt.Errorf("fold %d stage fit: %w", f, err)
		}
		pred, err := st.Predict(rowsDense(X, test))
		if err != nil {
			return nil, fmt.Errorf("fold %d stage predict: %w", f, err)
		}
		for i, r := range test {
			for j := 0; j < cols; j++ {
				oof.Set(r, j, pred.At(i, j))
			}
		}
	}
	return oof, nil
}
