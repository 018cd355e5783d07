package meta

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// NamedStage pairs a registered stage name with its (unfitted) estimator
// configuration. Stage order is the residual chain and is immutable after
// construction.
type NamedStage struct {
	Name  string
	Stage Stage
}

// StackedRegressor is an ordered sequence of named regression stages. The
// first stage is fit on the targets; every later stage is fit on the
// residual left by all prior stages. Prediction sums the leading
// `predictionTier` stages.
type StackedRegressor struct {
	// UseCVPredict controls whether each stage's residual is computed from
	// its out-of-fold cross-validated prediction rather than its in-sample
	// prediction. One entry applies to every stage; otherwise it must have
	// one entry per stage.
	UseCVPredict []bool
	// ResidualFolds is the fold count used for cross-validated
	// residualization (default 5).
	ResidualFolds int
	// Seed drives fold assignment during residualization.
	Seed int64

	stages         []NamedStage
	fitted         []Stage
	predictionTier int
}

// NewStackedRegressor builds a stack over the given stages. Stage names
// must be unique.
func NewStackedRegressor(stages ...NamedStage) (*StackedRegressor, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("stack: at least one stage is required")
	}
	seen := map[string]bool{}
	for _, s := range stages {
		if s.Name == "" || s.Stage == nil {
			return nil, fmt.Errorf("stack: every stage needs a name and an estimator")
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("stack: duplicate stage name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return &StackedRegressor{
		ResidualFolds:  5,
		stages:         stages,
		predictionTier: len(stages),
	}, nil
}

// Clone returns an unfitted stack with the same stages and configuration.
func (s *StackedRegressor) Clone() *StackedRegressor {
	stages := make([]NamedStage, len(s.stages))
	for i, ns := range s.stages {
		stages[i] = NamedStage{Name: ns.Name, Stage: ns.Stage.Clone()}
	}
	return &StackedRegressor{
		UseCVPredict:   append([]bool(nil), s.UseCVPredict...),
		ResidualFolds:  s.ResidualFolds,
		Seed:           s.Seed,
		stages:         stages,
		predictionTier: s.predictionTier,
	}
}

// NumStages reports the stage count.
func (s *StackedRegressor) NumStages() int { return len(s.stages) }

// StageNames returns the registered stage names, in chain order.
func (s *StackedRegressor) StageNames() []string {
	out := make([]string, len(s.stages))
	for i, ns := range s.stages {
		out[i] = ns.Name
	}
	return out
}

// Stage resolves a stage by its registered name: the fitted stage when
// fitting has occurred, else the unfitted configuration. Learned
// parameters (e.g. GP length scales) are only present on the fitted stage.
func (s *StackedRegressor) Stage(name string) (Stage, error) {
	for i, ns := range s.stages {
		if ns.Name != name {
			continue
		}
		if s.fitted != nil {
			return s.fitted[i], nil
		}
		return ns.Stage, nil
	}
	return nil, fmt.Errorf("stack: no stage named %q", name)
}

// resolveTier validates and normalizes a tier value: 0 means all stages,
// negative counts from the end, and the result must land in [1, n].
func resolveTier(tier, n int) (int, error) {
	orig := tier
	if tier == 0 {
		tier = n
	}
	if tier < 0 {
		tier = n + tier
	}
	if tier <= 0 || tier > n {
		return 0, fmt.Errorf("invalid prediction tier %d for %d stages", orig, n)
	}
	return tier, nil
}

// SetPredictionTier resolves and stores the default prediction tier.
func (s *StackedRegressor) SetPredictionTier(tier int) error {
	t, err := resolveTier(tier, len(s.stages))
	if err != nil {
		return err
	}
	s.predictionTier = t
	return nil
}

// PredictionTier reports the resolved default prediction tier.
func (s *StackedRegressor) PredictionTier() int { return s.predictionTier }

func (s *StackedRegressor) useCVPredict(i int) (bool, error) {
	switch len(s.UseCVPredict) {
	case 0:
		return false, nil
	case 1:
		return s.UseCVPredict[0], nil
	case len(s.stages):
		return s.UseCVPredict[i], nil
	}
	return false, fmt.Errorf("stack: UseCVPredict needs 1 or %d entries, got %d", len(s.stages), len(s.UseCVPredict))
}

// Fit runs the residual chain: stage i is fit on the remaining residual,
// then its (in-sample or out-of-fold) prediction is subtracted before the
// next stage. Sample weights are unsupported and fail fast.
func (s *StackedRegressor) Fit(X, Y *mat.Dense, sampleWeight []float64) error {
	if sampleWeight != nil {
		return ErrSampleWeights
	}
	n, _ := X.Dims()
	ny, _ := Y.Dims()
	if n != ny {
		return fmt.Errorf("stack: X has %d rows, Y has %d", n, ny)
	}

	target := mat.DenseCopyOf(Y)
	fitted := make([]Stage, len(s.stages))
	for i, ns := range s.stages {
		st := ns.Stage.Clone()
		if err := st.Fit(X, target); err != nil {
			return fmt.Errorf("stack: fitting stage %q: %w", ns.Name, err)
		}
		fitted[i] = st
		if i+1 == len(s.stages) {
			break
		}
		useCV, err := s.useCVPredict(i)
		if err != nil {
			return err
		}
		var pred *mat.Dense
		if useCV {
			pred, err = crossValPredictStage(ns.Stage, X, target, s.ResidualFolds, s.Seed)
		} else {
			pred, err = st.Predict(X)
		}
		if err != nil {
			return fmt.Errorf("stack: residualizing after stage %q: %w", ns.Name, err)
		}
		target.Sub(target, pred)
	}
	s.fitted = fitted
	return nil
}

// Predict sums the leading stages up to the configured prediction tier.
func (s *StackedRegressor) Predict(X *mat.Dense) (*mat.Dense, error) {
	return s.PredictTier(X, s.predictionTier)
}

// PredictTier predicts using only the first `tier` stages (0 = all,
// negative counted from the end).
func (s *StackedRegressor) PredictTier(X *mat.Dense, tier int) (*mat.Dense, error) {
	if s.fitted == nil {
		return nil, ErrNotFitted
	}
	t, err := resolveTier(tier, len(s.stages))
	if err != nil {
		return nil, err
	}
	sum, err := s.fitted[0].Predict(X)
	if err != nil {
		return nil, fmt.Errorf("stack: stage %q predict: %w", s.stages[0].Name, err)
	}
	out := mat.DenseCopyOf(sum)
	for i := 1; i < t; i++ {
		p, err := s.fitted[i].Predict(X)
		if err != nil {
			return nil, fmt.Errorf("stack: stage %q predict: %w", s.stages[i].Name, err)
		}
		out.Add(out, p)
	}
	return out, nil
}

// ResidualPredict sums every stage after the first, up to the configured
// tier: the correction the stack applies on top of the trend.
func (s *StackedRegressor) ResidualPredict(X *mat.Dense) (*mat.Dense, error) {
	if s.fitted == nil {
		return nil, ErrNotFitted
	}
	full, err := s.PredictTier(X, s.predictionTier)
	if err != nil {
		return nil, err
	}
	trend, err := s.PredictTier(X, 1)
	if err != nil {
		return nil, err
	}
	var out mat.Dense
	out.Sub(full, trend)
	return &out, nil
}

// PredictWithStd returns the tier-limited mean and the combined predictive
// standard deviation. Stage variances are assumed independent; stages
// without predictive uncertainty contribute zero.
func (s *StackedRegressor) PredictWithStd(X *mat.Dense) (pred, std *mat.Dense, err error) {
	return s.PredictWithStdOverlay(X, nil)
}

// PredictWithStdOverlay is PredictWithStd with hypothetical training points
// threaded into every overlay-capable stage's variance computation.
func (s *StackedRegressor) PredictWithStdOverlay(X, overlay *mat.Dense) (pred, std *mat.Dense, err error) {
	if s.fitted == nil {
		return nil, nil, ErrNotFitted
	}
	n, _ := X.Dims()
	var variance *mat.Dense
	for i := 0; i < s.predictionTier; i++ {
		var mean, sd *mat.Dense
		switch st := s.fitted[i].(type) {
		case OverlayStdPredictor:
			mean, sd, err = st.PredictWithStdOverlay(X, overlay)
		case StdPredictor:
			mean, sd, err = st.PredictWithStd(X)
		default:
			mean, err = st.Predict(X)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("stack: stage %q predict: %w", s.stages[i].Name, err)
		}
		if pred == nil {
			pred = mat.DenseCopyOf(mean)
			variance = mat.NewDense(n, rawCols(mean), nil)
		} else {
			pred.Add(pred, mean)
		}
		if sd != nil {
			for r := 0; r < n; r++ {
				for c := 0; c < rawCols(sd); c++ {
					variance.Set(r, c, variance.At(r, c)+sd.At(r, c)*sd.At(r, c))
				}
			}
		}
	}
	std = mat.NewDense(n, rawCols(variance), nil)
	for r := 0; r < n; r++ {
		for c := 0; c < rawCols(variance); c++ {
			std.Set(r, c, sqrt(variance.At(r, c)))
		}
	}
	return pred, std, nil
}

func rawCols(m *mat.Dense) int {
	_, c := m.Dims()
	return c
}

func sqrt(v float64) float64 {
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}
