package meta

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// PerOutputStage adapts a single-target regressor into a multi-output
// Stage by replicating it once per output column. Callers of the stack see
// the same Stage capability whether a stage is natively multi-output (the
// linear trend) or replicated (the per-output GPs).
type PerOutputStage struct {
	// Prototype is cloned once per output column at fit time.
	Prototype SingleOutput

	regs []SingleOutput
}

// NewPerOutputStage wraps a single-target prototype regressor.
func NewPerOutputStage(prototype SingleOutput) *PerOutputStage {
	return &PerOutputStage{Prototype: prototype}
}

// Clone returns an unfitted copy with the same prototype configuration.
func (p *PerOutputStage) Clone() Stage {
	return &PerOutputStage{Prototype: p.Prototype.Clone()}
}

// Fit fits one replicated regressor per output column.
func (p *PerOutputStage) Fit(X, Y *mat.Dense) error {
	n, _ := X.Dims()
	ny, k := Y.Dims()
	if ny != n {
		return fmt.Errorf("per-output stage: X has %d rows, Y has %d", n, ny)
	}
	p.regs = make([]SingleOutput, k)
	col := make([]float64, n)
	for j := 0; j < k; j++ {
		mat.Col(col, j, Y)
		reg := p.Prototype.Clone()
		if err := reg.Fit(X, col); err != nil {
			return fmt.Errorf("per-output stage: fitting output %d: %w", j, err)
		}
		p.regs[j] = reg
	}
	return nil
}

// Predict stacks the per-output predictions into a (rows x outputs) matrix.
func (p *PerOutputStage) Predict(X *mat.Dense) (*mat.Dense, error) {
	pred, _, err := p.predict(X, nil, false)
	return pred, err
}

// PredictWithStd returns per-output predictive means and standard
// deviations.
func (p *PerOutputStage) PredictWithStd(X *mat.Dense) (pred, std *mat.Dense, err error) {
	return p.predict(X, nil, true)
}

// PredictWithStdOverlay threads hypothetical training points into each
// replicated regressor's variance computation.
func (p *PerOutputStage) PredictWithStdOverlay(X, overlay *mat.Dense) (pred, std *mat.Dense, err error) {
	return p.predict(X, overlay, true)
}

func (p *PerOutputStage) predict(X, overlay *mat.Dense, wantStd bool) (*mat.Dense, *mat.Dense, error) {
	if p.regs == nil {
		return nil, nil, ErrNotFitted
	}
	n, _ := X.Dims()
	pred := mat.NewDense(n, len(p.regs), nil)
	var std *mat.Dense
	if wantStd {
		std = mat.NewDense(n, len(p.regs), nil)
	}
	for j, reg := range p.regs {
		var mean, sd []float64
		var err error
		switch {
		case overlay != nil:
			ov, ok := reg.(interface {
				PredictWithStdOverlay(X, overlay *mat.Dense) ([]float64, []float64, error)
			})
			if !ok {
				return nil, nil, fmt.Errorf("per-output stage: output %d regressor does not support overlays", j)
			}
			mean, sd, err = ov.PredictWithStdOverlay(X, overlay)
		case wantStd:
			mean, sd, err = reg.PredictWithStd(X)
		default:
			mean, err = reg.Predict(X)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("per-output stage: predicting output %d: %w", j, err)
		}
		pred.SetCol(j, mean)
		if wantStd {
			std.SetCol(j, sd)
		}
	}
	return pred, std, nil
}

// Regressors returns the fitted per-output regressors, in output order.
func (p *PerOutputStage) Regressors() ([]SingleOutput, error) {
	if p.regs == nil {
		return nil, ErrNotFitted
	}
	return append([]SingleOutput(nil), p.regs...), nil
}
