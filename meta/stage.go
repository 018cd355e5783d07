package meta

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// ErrNotFitted is returned when a prediction or parameter access requires a
// completed fit.
var ErrNotFitted = errors.New("model is not fitted")

// ErrSampleWeights is returned when a sample-weighted fit is requested.
// Weighted fitting is unsupported and must fail fast rather than be
// silently ignored.
var ErrSampleWeights = errors.New("sample weights are not supported")

// Stage is one regression estimator inside a StackedRegressor. X is
// (rows x features), Y is (rows x outputs). Clone returns an unfitted copy
// carrying the same configuration; fitting never mutates the original
// configuration value.
type Stage interface {
	Fit(X, Y *mat.Dense) error
	Predict(X *mat.Dense) (*mat.Dense, error)
	Clone() Stage
}

// StdPredictor is implemented by stages whose predictions carry a
// predictive standard deviation.
type StdPredictor interface {
	PredictWithStd(X *mat.Dense) (pred, std *mat.Dense, err error)
}

// OverlayStdPredictor extends StdPredictor with hypothetical training
// points: extra input rows that sharpen the predictive variance near
// themselves without refitting any regression parameters. The overlay is an
// explicit argument, so no ambient state survives the call.
type OverlayStdPredictor interface {
	PredictWithStdOverlay(X, overlay *mat.Dense) (pred, std *mat.Dense, err error)
}

// SingleOutput is a single-target regressor, the unit wrapped by
// PerOutputStage to form a multi-output stage.
type SingleOutput interface {
	Fit(X *mat.Dense, y []float64) error
	Predict(X *mat.Dense) ([]float64, error)
	PredictWithStd(X *mat.Dense) (pred, std []float64, err error)
	Clone() SingleOutput
}
