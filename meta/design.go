package meta

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// weightedDistance is the anisotropic metric used throughout design
// augmentation: each dimension's difference is scaled by its mixed
// length-scale weight before the Euclidean norm.
func weightedDistance(a, b, w []float64) float64 {
	var s float64
	for d := range a {
		r := w[d] * (a[d] - b[d])
		s += r * r
	}
	return math.Sqrt(s)
}

// MinimumWeightedDistance returns, for every pool row, its minimum weighted
// distance to any design row.
func MinimumWeightedDistance(design, pool *mat.Dense, w []float64) []float64 {
	np, _ := pool.Dims()
	nd, _ := design.Dims()
	out := make([]float64, np)
	for i := 0; i < np; i++ {
		min := math.Inf(1)
		for j := 0; j < nd; j++ {
			if d := weightedDistance(pool.RawRowView(i), design.RawRowView(j), w); d < min {
				min = d
			}
		}
		out[i] = min
	}
	return out
}

// maximinPick greedily selects batchSize pool rows, each maximizing its
// minimum weighted distance to the design, the previously selected rows,
// and any future (planned but unevaluated) rows. Distances to a future row
// are inflated by its predictive std relative to the set's mean std, so an
// uncertain planned point claims less of its neighborhood. Ties break to
// the lowest pool index; the procedure is fully deterministic.
func maximinPick(design, pool *mat.Dense, batchSize int, w []float64, future *mat.Dense, futureStd []float64) ([]int, error) {
	np, dim := pool.Dims()
	_, dd := design.Dims()
	if dd != dim {
		return nil, fmt.Errorf("maximin: pool has %d dimensions, design has %d", dim, dd)
	}
	if len(w) != dim {
		return nil, fmt.Errorf("maximin: got %d dimension weights for %d dimensions", len(w), dim)
	}
	if batchSize <= 0 {
		return nil, nil
	}
	if batchSize > np {
		batchSize = np
	}

	// Min distance from each candidate to the existing design.
	minDist := MinimumWeightedDistance(design, pool, w)

	if future != nil {
		nf, fd := future.Dims()
		if fd != dim {
			return nil, fmt.Errorf("maximin: future experiments have %d dimensions, want %d", fd, dim)
		}
		if futureStd != nil && len(futureStd) != nf {
			return nil, fmt.Errorf("maximin: got %d future std weights for %d future experiments", len(futureStd), nf)
		}
		scale := make([]float64, nf)
		meanStd := floats.Sum(futureStd)
		if futureStd != nil && meanStd > 0 {
			meanStd /= float64(nf)
			for j, s := range futureStd {
				scale[j] = s / meanStd
			}
		} else {
			for j := range scale {
				scale[j] = 1
			}
		}
		for i := 0; i < np; i++ {
			for j := 0; j < nf; j++ {
				d := weightedDistance(pool.RawRowView(i), future.RawRowView(j), w) * scale[j]
				if d < minDist[i] {
					minDist[i] = d
				}
			}
		}
	}

	chosen := make([]bool, np)
	picks := make([]int, 0, batchSize)
	for len(picks) < batchSize {
		best, bestD := -1, math.Inf(-1)
		for i := 0; i < np; i++ {
			if !chosen[i] && minDist[i] > bestD {
				best, bestD = i, minDist[i]
			}
		}
		chosen[best] = true
		picks = append(picks, best)
		for i := 0; i < np; i++ {
			if chosen[i] {
				continue
			}
			if d := weightedDistance(pool.RawRowView(i), pool.RawRowView(best), w); d < minDist[i] {
				minDist[i] = d
			}
		}
	}
	return picks, nil
}

// PickOptions tunes PickNewExperiments.
type PickOptions struct {
	// OutputFocus limits and weights the outputs whose length scales are
	// mixed into the selection metric (nil = all outputs, equal weight).
	OutputFocus map[string]float64
	// FutureExperiments are planned-but-not-yet-evaluated configurations
	// that should count toward the existing design without being selected
	// or persisted again.
	FutureExperiments *Table
	// FutureExperimentsStd optionally weights each future experiment by
	// the surrogate's predictive uncertainty there.
	FutureExperimentsStd []float64
}

// PickNewExperiments selects batchSize new configurations from a candidate
// pool by the maximin distance criterion of Johnson et al (1990), as
// proposed for batch-sequential design augmentation by Loeppky et al
// (2010): each pick maximizes the minimum distance to the training design
// and all prior picks, under the per-dimension metric mixed from the
// fitted GP length scales. Returns the selected pool rows (same columns),
// in selection order.
func (s *Surrogate) PickNewExperiments(pool *Table, batchSize int, opts *PickOptions) (*Table, error) {
	if opts == nil {
		opts = &PickOptions{}
	}
	weights, err := s.MixLengthScales(opts.OutputFocus, true)
	if err != nil {
		return nil, fmt.Errorf("pick experiments: %w", err)
	}
	logrus.Debugf("maximin dimension weights: %v", weights)

	poolX, err := s.pre.Apply(pool)
	if err != nil {
		return nil, fmt.Errorf("pick experiments: encoding pool: %w", err)
	}
	var futureX *mat.Dense
	if opts.FutureExperiments != nil {
		futureX, err = s.pre.Apply(opts.FutureExperiments)
		if err != nil {
			return nil, fmt.Errorf("pick experiments: encoding future experiments: %w", err)
		}
	}

	picks, err := maximinPick(s.trainX, poolX, batchSize, weights, futureX, opts.FutureExperimentsStd)
	if err != nil {
		return nil, err
	}
	logrus.Infof("maximin selection picked %d of %d candidates", len(picks), pool.NumRows())
	return pool.Rows(picks)
}
