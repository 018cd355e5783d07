package meta

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Config is a single input configuration given as named scalar values.
// Numeric parameters accept float64, int, or bool values; categorical
// parameters accept strings.
type Config map[string]any

// Outcome is one output value of an evaluation. Disabled outputs are
// reported with Valid=false — present in every Result, never omitted.
type Outcome struct {
	Value float64
	Valid bool
}

// Result maps every declared output name to its Outcome.
type Result map[string]Outcome

// Options configures surrogate construction.
type Options struct {
	// Categories maps categorical input names to their full admissible
	// category sets (typically from the experiment scope).
	Categories map[string][]string
	// RandomState seeds GP restarts and cross-validation partitions.
	RandomState int64
	// Stratification optionally holds one stratum label per training row,
	// used for stratified cross-validation.
	Stratification []string
	// SuppressConvergeWarnings silences GP optimizer non-convergence
	// warnings during fitting.
	SuppressConvergeWarnings bool
	// UseBestCV replaces the stack's prediction tier with whichever tier
	// scores best under cross-validation.
	UseBestCV bool
	// CVFolds is the fold count for cross-validation (default 5).
	CVFolds int
	// Regressor replaces the default linear-trend + per-output-GP stack.
	Regressor *StackedRegressor
}

// Surrogate is a fast statistical approximation of an expensive simulation
// model, fit from aligned input/output observation tables. It owns one
// fitted Preprocessor, one fitted StackedRegressor, the per-output
// transforms, and the disabled-output set; it is immutable after
// construction.
type Surrogate struct {
	pre         *Preprocessor
	stack       *StackedRegressor
	transforms  map[string]Transform
	outputNames []string
	disabled    []string

	trainX   *mat.Dense // encoded training inputs
	trainY   *mat.Dense // transformed training outputs
	stratify []string
	cvFolds  int
	seed     int64
}

// TrendStageName and ResidualStageName are the registered names of the
// default stack's stages.
const (
	TrendStageName    = "lr"
	ResidualStageName = "gpr"
)

// DefaultStack builds the default regression stack: a multi-output linear
// trend followed by one anisotropic Gaussian process per output.
func DefaultStack(randomState int64, suppressConvergeWarnings bool) (*StackedRegressor, error) {
	gp := NewGPRegressor()
	gp.RandomState = randomState
	gp.SuppressConvergeWarnings = suppressConvergeWarnings
	return NewStackedRegressor(
		NamedStage{Name: TrendStageName, Stage: NewLinearStage()},
		NamedStage{Name: ResidualStageName, Stage: NewPerOutputStage(gp)},
	)
}

// NewSurrogate fits a surrogate from aligned raw input and output tables.
// transformSpecs maps output names to transform spec strings (missing or
// empty = linear); a log transform on an output whose observed minimum lies
// in (-1, 0] is switched to log1p automatically. Names in disabled are
// always reported as unavailable by evaluation, whether or not they appear
// in the output table.
func NewSurrogate(inputs, outputs *Table, transformSpecs map[string]string, disabled []string, opts *Options) (*Surrogate, error) {
	if opts == nil {
		opts = &Options{}
	}
	if inputs.NumRows() != outputs.NumRows() {
		return nil, fmt.Errorf("surrogate: input table has %d rows, output table has %d", inputs.NumRows(), outputs.NumRows())
	}
	if outputs.NumCols() == 0 {
		return nil, fmt.Errorf("surrogate: output table has no columns")
	}

	s := &Surrogate{
		transforms:  make(map[string]Transform),
		outputNames: outputs.Names(),
		disabled:    append([]string(nil), disabled...),
		stratify:    opts.Stratification,
		cvFolds:     opts.CVFolds,
		seed:        opts.RandomState,
	}

	for _, name := range s.outputNames {
		spec := transformSpecs[name]
		y, err := outputs.Numeric(name)
		if err != nil {
			return nil, fmt.Errorf("surrogate: output %q: %w", name, err)
		}
		spec = autoLog1p(spec, name, y)
		tr, err := ParseTransform(spec)
		if err != nil {
			return nil, fmt.Errorf("surrogate: output %q: %w", name, err)
		}
		s.transforms[name] = tr
	}

	s.pre = NewPreprocessor(opts.Categories)
	if err := s.pre.Fit(inputs); err != nil {
		return nil, fmt.Errorf("surrogate: %w", err)
	}
	X, err := s.pre.Apply(inputs)
	if err != nil {
		return nil, fmt.Errorf("surrogate: %w", err)
	}

	n := outputs.NumRows()
	Y := mat.NewDense(n, len(s.outputNames), nil)
	for j, name := range s.outputNames {
		y, _ := outputs.Numeric(name)
		tr := s.transforms[name]
		for i, v := range y {
			Y.Set(i, j, tr.Forward(v))
		}
	}

	stack := opts.Regressor
	if stack == nil {
		stack, err = DefaultStack(opts.RandomState, opts.SuppressConvergeWarnings)
		if err != nil {
			return nil, err
		}
	}
	logrus.Infof("fitting surrogate: %d observations, %d encoded inputs, %d outputs",
		n, len(s.pre.EncodedNames()), len(s.outputNames))
	if err := stack.Fit(X, Y, nil); err != nil {
		return nil, fmt.Errorf("surrogate: %w", err)
	}

	s.stack = stack
	s.trainX = X
	s.trainY = Y

	if opts.UseBestCV {
		if err := s.selectBestTier(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// autoLog1p switches a log transform to log1p when the observed minimum is
// in (-1, 0], where plain log would fail on the stored data.
func autoLog1p(spec, name string, y []float64) string {
	if spec != "log" && spec != "ln" && spec != "log-linear" {
		return spec
	}
	min := math.Inf(1)
	for _, v := range y {
		min = math.Min(min, v)
	}
	if min > -1 && min <= 0 {
		logrus.Warnf("output %q has observed minimum %g; using log1p instead of log", name, min)
		return "log1p"
	}
	return spec
}

// selectBestTier cross-validates every prediction tier and keeps the one
// with the best mean score (model selection only; reported scores stay
// per-output).
func (s *Surrogate) selectBestTier() error {
	bestTier, bestScore := 0, math.Inf(-1)
	for t := 1; t <= s.stack.NumStages(); t++ {
		scores, err := s.stack.CrossValScores(s.trainX, s.trainY, &CVOptions{
			Folds:    s.cvFolds,
			Seed:     s.seed,
			Stratify: s.stratify,
			Tier:     t,
		})
		if err != nil {
			return fmt.Errorf("surrogate: scoring tier %d: %w", t, err)
		}
		mean := floats.Sum(scores) / float64(len(scores))
		if mean > bestScore {
			bestTier, bestScore = t, mean
		}
	}
	logrus.Infof("best cross-validation tier is %d (mean score %.4f)", bestTier, bestScore)
	return s.stack.SetPredictionTier(bestTier)
}

// configTable builds a one-row input table from named scalar values.
func (s *Surrogate) configTable(cfg Config) (*Table, error) {
	t := NewTable()
	for _, name := range s.pre.RawColumns() {
		v, ok := cfg[name]
		if !ok {
			return nil, fmt.Errorf("surrogate: missing required input %q", name)
		}
		kind, _ := s.pre.RawKind(name)
		if kind == Categorical {
			sv, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("surrogate: input %q expects a category string, got %T", name, v)
			}
			if err := t.AddCategorical(name, []string{sv}); err != nil {
				return nil, err
			}
			continue
		}
		fv, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("surrogate: input %q: %w", name, err)
		}
		if err := t.AddNumeric(name, []float64{fv}); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("expects a numeric value, got %T", v)
}

// Evaluate runs the surrogate for one named-input configuration, returning
// every declared output: modeled outputs with inverse transforms applied,
// disabled outputs with Valid=false.
func (s *Surrogate) Evaluate(cfg Config) (Result, error) {
	return s.Predict(cfg, false, false)
}

// EvaluateBatch is Evaluate over a tabular batch, one Result per row.
func (s *Surrogate) EvaluateBatch(batch *Table) ([]Result, error) {
	return s.PredictBatch(batch, false, false)
}

// Predict evaluates with optional decomposition: trendOnly uses only the
// first stack stage (inverse transforms still applied), residualOnly
// returns the boosted correction alone (left in transformed space, since a
// nonlinear inverse does not distribute over the trend/residual split).
// The two flags are mutually exclusive.
func (s *Surrogate) Predict(cfg Config, trendOnly, residualOnly bool) (Result, error) {
	t, err := s.configTable(cfg)
	if err != nil {
		return nil, err
	}
	res, err := s.PredictBatch(t, trendOnly, residualOnly)
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// PredictBatch is Predict over a tabular batch.
func (s *Surrogate) PredictBatch(batch *Table, trendOnly, residualOnly bool) ([]Result, error) {
	if trendOnly && residualOnly {
		return nil, fmt.Errorf("surrogate: trendOnly and residualOnly are mutually exclusive")
	}
	X, err := s.pre.Apply(batch)
	if err != nil {
		return nil, err
	}
	var pred *mat.Dense
	switch {
	case trendOnly:
		pred, err = s.stack.PredictTier(X, 1)
	case residualOnly:
		pred, err = s.stack.ResidualPredict(X)
	default:
		pred, err = s.stack.Predict(X)
	}
	if err != nil {
		return nil, err
	}
	return s.results(pred, !residualOnly), nil
}

// EvaluateStd returns the predictive standard deviation per output for one
// configuration.
//
// Deviations are reported in transformed space: inverse transforms are NOT
// applied, because a nonlinear inverse has no single well-defined action on
// a standard deviation. This asymmetry with point predictions is part of
// the contract, not an oversight.
func (s *Surrogate) EvaluateStd(cfg Config) (Result, error) {
	t, err := s.configTable(cfg)
	if err != nil {
		return nil, err
	}
	res, err := s.EvaluateStdBatch(t)
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// EvaluateStdBatch is EvaluateStd over a tabular batch.
func (s *Surrogate) EvaluateStdBatch(batch *Table) ([]Result, error) {
	X, err := s.pre.Apply(batch)
	if err != nil {
		return nil, err
	}
	_, std, err := s.stack.PredictWithStd(X)
	if err != nil {
		return nil, err
	}
	return s.results(std, false), nil
}

// stdMatrixOverlay returns the (rows x outputs) predictive std for encoded
// inputs, with optional hypothetical training points.
func (s *Surrogate) stdMatrixOverlay(X, overlay *mat.Dense) (*mat.Dense, error) {
	_, std, err := s.stack.PredictWithStdOverlay(X, overlay)
	return std, err
}

// results converts a prediction matrix into per-row Results, optionally
// applying inverse transforms, and overrides disabled outputs with the
// unavailable marker.
func (s *Surrogate) results(pred *mat.Dense, invert bool) []Result {
	n, _ := pred.Dims()
	out := make([]Result, n)
	for i := 0; i < n; i++ {
		r := make(Result, len(s.outputNames)+len(s.disabled))
		for j, name := range s.outputNames {
			v := pred.At(i, j)
			if invert {
				v = s.transforms[name].Inverse(v)
			}
			r[name] = Outcome{Value: v, Valid: true}
		}
		for _, name := range s.disabled {
			r[name] = Outcome{}
		}
		out[i] = r
	}
	return out
}

// CrossValScores cross-validates the surrogate's stack on its training
// sample and returns one score per modeled output.
func (s *Surrogate) CrossValScores() (map[string]float64, error) {
	scores, err := s.stack.CrossValScores(s.trainX, s.trainY, &CVOptions{
		Folds:       s.cvFolds,
		Seed:        s.seed,
		Stratify:    s.stratify,
		OutputNames: s.outputNames,
	})
	if err != nil {
		return nil, fmt.Errorf("surrogate: cross-validation: %w", err)
	}
	out := make(map[string]float64, len(scores))
	for j, name := range s.outputNames {
		out[name] = scores[j]
	}
	return out, nil
}

// CrossValPredicts returns out-of-fold predictions on the training sample.
// A negative cv requests leave-one-out.
func (s *Surrogate) CrossValPredicts(cv int) (*mat.Dense, error) {
	return s.stack.CrossValPredict(s.trainX, s.trainY, &CVOptions{
		Folds:    cv,
		Seed:     s.seed,
		Stratify: s.stratify,
	})
}

// LengthScales reads the fitted GP stage's characteristic length scales,
// returned as a table with one row per encoded input dimension ("input"
// column) and one numeric column per output.
func (s *Surrogate) LengthScales() (*Table, error) {
	stage, err := s.stack.Stage(ResidualStageName)
	if err != nil {
		return nil, fmt.Errorf("surrogate: %w", err)
	}
	po, ok := stage.(*PerOutputStage)
	if !ok {
		return nil, fmt.Errorf("surrogate: stage %q is not a per-output GP stage", ResidualStageName)
	}
	regs, err := po.Regressors()
	if err != nil {
		return nil, err
	}

	t := NewTable()
	if err := t.AddCategorical("input", s.pre.EncodedNames()); err != nil {
		return nil, err
	}
	for j, name := range s.outputNames {
		gp, ok := regs[j].(*GPRegressor)
		if !ok {
			return nil, fmt.Errorf("surrogate: output %q is not backed by a GP", name)
		}
		ls, err := gp.LengthScales()
		if err != nil {
			return nil, err
		}
		if err := t.AddNumeric(name, ls); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// MixLengthScales collapses the per-output length scales into one weight
// per encoded input dimension. balance maps output names to relative mixing
// weights (nil = all outputs equally weighted; see EqualFocus for the
// collection form). With inv, length scales are inverted before mixing, so
// short scales — dimensions the surrogate is most sensitive to — receive
// high mixed weight.
func (s *Surrogate) MixLengthScales(balance map[string]float64, inv bool) ([]float64, error) {
	ls, err := s.LengthScales()
	if err != nil {
		return nil, err
	}
	if balance == nil {
		balance = EqualFocus(s.outputNames...)
	}
	dims := len(s.pre.EncodedNames())
	mixed := make([]float64, dims)
	for _, name := range s.outputNames {
		w := balance[name]
		if w == 0 {
			continue
		}
		col, err := ls.Numeric(name)
		if err != nil {
			return nil, err
		}
		for d, v := range col {
			if inv {
				v = 1 / v
			}
			mixed[d] += w * v
		}
	}
	return mixed, nil
}

// EqualFocus builds an equal-weight balance map over the given outputs.
func EqualFocus(names ...string) map[string]float64 {
	w := 1 / float64(len(names))
	out := make(map[string]float64, len(names))
	for _, n := range names {
		out[n] = w
	}
	return out
}

// OutputNames returns the modeled output names, in training order.
func (s *Surrogate) OutputNames() []string {
	return append([]string(nil), s.outputNames...)
}

// DisabledOutputs returns the declared-but-not-modeled output names.
func (s *Surrogate) DisabledOutputs() []string {
	return append([]string(nil), s.disabled...)
}

// RawInputColumns returns the raw input column list fixed at fit time.
func (s *Surrogate) RawInputColumns() []string { return s.pre.RawColumns() }

// EncodedInputNames returns the retained encoded input dimension names.
func (s *Surrogate) EncodedInputNames() []string { return s.pre.EncodedNames() }

// Stack exposes the fitted regression stack.
func (s *Surrogate) Stack() *StackedRegressor { return s.stack }

// Preprocess encodes a raw input table through the fitted preprocessor.
func (s *Surrogate) Preprocess(t *Table) (*mat.Dense, error) { return s.pre.Apply(t) }
