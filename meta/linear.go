package meta

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// LinearStage is a multi-output ordinary least squares trend stage. The
// solve goes through a singular value decomposition and returns the
// minimum-norm solution, so a rank-deficient design (an intercept alongside
// a complete indicator set, say) still fits; only coefficient contrasts are
// identifiable there.
type LinearStage struct {
	FitIntercept bool

	coef      *mat.Dense // (features x outputs)
	intercept []float64  // one per output
	fitted    bool
}

// NewLinearStage returns an OLS stage with an intercept term.
func NewLinearStage() *LinearStage {
	return &LinearStage{FitIntercept: true}
}

// Clone returns an unfitted copy with the same configuration.
func (l *LinearStage) Clone() Stage {
	return &LinearStage{FitIntercept: l.FitIntercept}
}

// Fit solves min ||X b - Y|| per output column.
func (l *LinearStage) Fit(X, Y *mat.Dense) error {
	n, d := X.Dims()
	ny, k := Y.Dims()
	if ny != n {
		return fmt.Errorf("linear stage: X has %d rows, Y has %d", n, ny)
	}
	design := X
	if l.FitIntercept {
		aug := mat.NewDense(n, d+1, nil)
		for i := 0; i < n; i++ {
			aug.Set(i, 0, 1)
			for j := 0; j < d; j++ {
				aug.Set(i, j+1, X.At(i, j))
			}
		}
		design = aug
	}

	beta, err := minNormSolve(design, Y)
	if err != nil {
		return fmt.Errorf("linear stage: %w", err)
	}

	l.intercept = make([]float64, k)
	if l.FitIntercept {
		l.coef = mat.NewDense(d, k, nil)
		for j := 0; j < k; j++ {
			l.intercept[j] = beta.At(0, j)
			for i := 0; i < d; i++ {
				l.coef.Set(i, j, beta.At(i+1, j))
			}
		}
	} else {
		l.coef = beta
	}
	l.fitted = true
	return nil
}

// Predict returns X*coef + intercept.
func (l *LinearStage) Predict(X *mat.Dense) (*mat.Dense, error) {
	if !l.fitted {
		return nil, ErrNotFitted
	}
	var out mat.Dense
	out.Mul(X, l.coef)
	n, k := out.Dims()
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			out.Set(i, j, out.At(i, j)+l.intercept[j])
		}
	}
	return &out, nil
}

// Coefficients returns the fitted (features x outputs) coefficient matrix.
func (l *LinearStage) Coefficients() (*mat.Dense, error) {
	if !l.fitted {
		return nil, ErrNotFitted
	}
	return mat.DenseCopyOf(l.coef), nil
}

// Intercepts returns the fitted per-output intercepts.
func (l *LinearStage) Intercepts() ([]float64, error) {
	if !l.fitted {
		return nil, ErrNotFitted
	}
	return append([]float64(nil), l.intercept...), nil
}

const machEps = 2.220446049250313e-16

// minNormSolve returns the minimum-norm least squares solution of A*X = B
// via a thin SVD, treating singular values below the rank tolerance as zero.
func minNormSolve(a, b *mat.Dense) (*mat.Dense, error) {
	rows, cols := a.Dims()

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, fmt.Errorf("least squares solve failed: SVD did not converge")
	}
	sv := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	if sv[0] == 0 {
		return nil, fmt.Errorf("least squares solve failed: design matrix is zero")
	}
	dim := rows
	if cols > dim {
		dim = cols
	}
	// Rank cutoff follows the usual max(rows, cols) * eps convention.
	tol := float64(dim) * sv[0] * machEps

	// x = V * diag(1/s_i) * U^T * b, dropping directions below tol.
	var utb mat.Dense
	utb.Mul(u.T(), b)
	for i, s := range sv {
		inv := 0.0
		if s > tol {
			inv = 1 / s
		}
		row := utb.RawRowView(i)
		for j := range row {
			row[j] *= inv
		}
	}
	var x mat.Dense
	x.Mul(&v, &utb)
	return &x, nil
}
