package meta

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// logParamBound bounds the log-space hyperparameters during optimization to
// keep the kernel numerically sane.
const logParamBound = 12.0

// GPRegressor is a single-output Gaussian process regressor with an
// anisotropic (ARD) squared-exponential kernel:
//
//	k(a,b) = sf2 * exp(-0.5 * sum_d ((a_d-b_d)/ls_d)^2) + sn2*delta
//
// Hyperparameters (per-dimension length scales, signal variance, noise
// variance) are chosen by maximizing the log marginal likelihood with a
// restarted Nelder-Mead search. Non-convergence of the search is logged as
// a warning and fitting completes with the best parameters reached.
type GPRegressor struct {
	Jitter      float64 // diagonal regularization added to the kernel (default 1e-10)
	Restarts    int     // additional randomized optimizer restarts (default 4)
	RandomState int64   // seed for restart perturbations
	// SuppressConvergeWarnings silences the optimizer non-convergence
	// warning; the reached parameters are still used either way.
	SuppressConvergeWarnings bool

	xTrain       *mat.Dense
	yMean        float64
	alphaVec     *mat.VecDense // K^-1 (y - yMean)
	chol         mat.Cholesky
	lengthScales []float64
	signalVar    float64
	noiseVar     float64
	fitted       bool
}

// NewGPRegressor returns a GP stage unit with default configuration.
func NewGPRegressor() *GPRegressor {
	return &GPRegressor{Jitter: 1e-10, Restarts: 4}
}

// Clone returns an unfitted copy with the same configuration.
func (g *GPRegressor) Clone() SingleOutput {
	return &GPRegressor{
		Jitter:                   g.Jitter,
		Restarts:                 g.Restarts,
		RandomState:              g.RandomState,
		SuppressConvergeWarnings: g.SuppressConvergeWarnings,
	}
}

// Fit optimizes the kernel hyperparameters on (X, y) and precomputes the
// factorization used for prediction.
func (g *GPRegressor) Fit(X *mat.Dense, y []float64) error {
	n, d := X.Dims()
	if n != len(y) {
		return fmt.Errorf("gp: X has %d rows, y has %d", n, len(y))
	}
	if n < 2 {
		return fmt.Errorf("gp: need at least 2 observations, got %d", n)
	}

	g.xTrain = mat.DenseCopyOf(X)
	g.yMean = stat.Mean(y, nil)
	yc := make([]float64, n)
	for i, v := range y {
		yc[i] = v - g.yMean
	}

	x0 := g.initialParams(X, yc)
	best, converged := g.optimizeLML(X, yc, x0)
	if !converged && !g.SuppressConvergeWarnings {
		logrus.Warnf("gp: hyperparameter search did not converge; continuing with best parameters reached")
	}

	g.lengthScales = make([]float64, d)
	for j := 0; j < d; j++ {
		g.lengthScales[j] = math.Exp(best[j])
	}
	g.signalVar = math.Exp(best[d])
	g.noiseVar = math.Exp(best[d+1])

	K := g.kernelMatrix(g.xTrain, g.lengthScales, g.signalVar, g.noiseVar)
	if ok := g.chol.Factorize(K); !ok {
		return fmt.Errorf("gp: kernel matrix is not positive definite")
	}
	g.alphaVec = mat.NewVecDense(n, nil)
	if err := g.chol.SolveVecTo(g.alphaVec, mat.NewVecDense(n, yc)); err != nil {
		return fmt.Errorf("gp: solving for dual coefficients: %w", err)
	}
	g.fitted = true
	return nil
}

// initialParams seeds the search at per-dimension input spreads and the
// target variance.
func (g *GPRegressor) initialParams(X *mat.Dense, yc []float64) []float64 {
	n, d := X.Dims()
	x0 := make([]float64, d+2)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, X)
		sd := math.Sqrt(stat.Variance(col, nil))
		if sd <= 0 {
			sd = 1
		}
		x0[j] = math.Log(sd)
	}
	yv := stat.Variance(yc, nil)
	if yv <= 0 {
		yv = 1
	}
	x0[d] = math.Log(yv)
	x0[d+1] = math.Log(yv*1e-4 + 1e-10)
	return x0
}

// optimizeLML minimizes the negative log marginal likelihood, restarting
// from perturbed seeds, and returns the best parameters found.
func (g *GPRegressor) optimizeLML(X *mat.Dense, yc []float64, x0 []float64) (best []float64, converged bool) {
	problem := optimize.Problem{
		Func: func(p []float64) float64 { return g.negLML(X, yc, p) },
	}
	rng := rand.New(rand.NewSource(g.RandomState))

	best = append([]float64(nil), x0...)
	bestF := g.negLML(X, yc, x0)
	converged = false

	seed := append([]float64(nil), x0...)
	for r := 0; r <= g.Restarts; r++ {
		if r > 0 {
			for j := range seed {
				seed[j] = x0[j] + rng.NormFloat64()
			}
		}
		result, err := optimize.Minimize(problem, seed, &optimize.Settings{}, &optimize.NelderMead{})
		if result == nil {
			continue
		}
		if err == nil {
			converged = true
		}
		if result.F < bestF && !math.IsInf(result.F, 0) && !math.IsNaN(result.F) {
			bestF = result.F
			copy(best, result.X)
		}
	}
	return best, converged
}

// negLML evaluates the negative log marginal likelihood at log-space
// parameters p = [log ls_1..d, log sf2, log sn2].
func (g *GPRegressor) negLML(X *mat.Dense, yc []float64, p []float64) float64 {
	for _, v := range p {
		if math.Abs(v) > logParamBound {
			return math.Inf(1)
		}
	}
	n, d := X.Dims()
	ls := make([]float64, d)
	for j := 0; j < d; j++ {
		ls[j] = math.Exp(p[j])
	}
	sf2 := math.Exp(p[d])
	sn2 := math.Exp(p[d+1])

	K := g.kernelMatrix(X, ls, sf2, sn2)
	var chol mat.Cholesky
	if ok := chol.Factorize(K); !ok {
		return math.Inf(1)
	}
	yv := mat.NewVecDense(n, yc)
	alpha := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(alpha, yv); err != nil {
		return math.Inf(1)
	}
	return 0.5*mat.Dot(yv, alpha) + 0.5*chol.LogDet() + 0.5*float64(n)*math.Log(2*math.Pi)
}

// kernelMatrix builds the (n x n) training covariance, including noise and
// jitter on the diagonal.
func (g *GPRegressor) kernelMatrix(X *mat.Dense, ls []float64, sf2, sn2 float64) *mat.SymDense {
	n, _ := X.Dims()
	K := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		K.SetSym(i, i, sf2+sn2+g.Jitter)
		for j := i + 1; j < n; j++ {
			K.SetSym(i, j, sf2*g.corr(X.RawRowView(i), X.RawRowView(j), ls))
		}
	}
	return K
}

func (g *GPRegressor) corr(a, b, ls []float64) float64 {
	var s float64
	for d := range a {
		r := (a[d] - b[d]) / ls[d]
		s += r * r
	}
	return math.Exp(-0.5 * s)
}

// Predict returns the posterior mean at X.
func (g *GPRegressor) Predict(X *mat.Dense) ([]float64, error) {
	pred, _, err := g.PredictWithStd(X)
	return pred, err
}

// PredictWithStd returns the posterior mean and standard deviation at X.
func (g *GPRegressor) PredictWithStd(X *mat.Dense) (pred, std []float64, err error) {
	return g.PredictWithStdOverlay(X, nil)
}

// PredictWithStdOverlay is PredictWithStd with hypothetical training points.
// Overlay rows join the training inputs in the predictive-variance
// computation only: the mean, the kernel hyperparameters, and the dual
// coefficients are untouched. A nil overlay is the plain posterior.
func (g *GPRegressor) PredictWithStdOverlay(X, overlay *mat.Dense) (pred, std []float64, err error) {
	if !g.fitted {
		return nil, nil, ErrNotFitted
	}
	n, _ := g.xTrain.Dims()
	m, d := X.Dims()
	if len(g.lengthScales) != d {
		return nil, nil, fmt.Errorf("gp: input has %d features, trained on %d", d, len(g.lengthScales))
	}

	varBase := g.xTrain
	varChol := &g.chol
	if overlay != nil {
		no, _ := overlay.Dims()
		aug := mat.NewDense(n+no, d, nil)
		aug.Slice(0, n, 0, d).(*mat.Dense).Copy(g.xTrain)
		aug.Slice(n, n+no, 0, d).(*mat.Dense).Copy(overlay)
		K := g.kernelMatrix(aug, g.lengthScales, g.signalVar, g.noiseVar)
		varChol = &mat.Cholesky{}
		if ok := varChol.Factorize(K); !ok {
			return nil, nil, fmt.Errorf("gp: overlay kernel matrix is not positive definite")
		}
		varBase = aug
	}
	nv, _ := varBase.Dims()

	pred = make([]float64, m)
	std = make([]float64, m)
	ks := mat.NewVecDense(n, nil)
	kv := mat.NewVecDense(nv, nil)
	z := mat.NewVecDense(nv, nil)
	for i := 0; i < m; i++ {
		x := X.RawRowView(i)
		for t := 0; t < n; t++ {
			ks.SetVec(t, g.signalVar*g.corr(x, g.xTrain.RawRowView(t), g.lengthScales))
		}
		pred[i] = g.yMean + mat.Dot(ks, g.alphaVec)

		for t := 0; t < nv; t++ {
			kv.SetVec(t, g.signalVar*g.corr(x, varBase.RawRowView(t), g.lengthScales))
		}
		if err := varChol.SolveVecTo(z, kv); err != nil {
			return nil, nil, fmt.Errorf("gp: variance solve failed: %w", err)
		}
		v := g.signalVar - mat.Dot(kv, z)
		if v < 0 {
			v = 0
		}
		std[i] = math.Sqrt(v)
	}
	return pred, std, nil
}

// LengthScales returns the fitted per-dimension characteristic length
// scales. A short length scale means the output changes rapidly along that
// dimension.
func (g *GPRegressor) LengthScales() ([]float64, error) {
	if !g.fitted {
		return nil, ErrNotFitted
	}
	return append([]float64(nil), g.lengthScales...), nil
}
