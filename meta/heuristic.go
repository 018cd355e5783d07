package meta

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// maxExchangePasses bounds the exchange-phase local search. The loop
// normally stops when a full pass swaps nothing; the bound keeps a cycling
// value function from looping forever.
const maxExchangePasses = 20

// HeuristicOptions tunes HeuristicPickExperiments.
type HeuristicOptions struct {
	// PoornessOfFit weights each output by how badly the surrogate fits it
	// (typically 1 minus its cross-validated score). Computed from a fresh
	// cross-validation when nil.
	PoornessOfFit map[string]float64
	// Density holds a caller-supplied spatial density estimate per pool
	// row, rewarding candidates in under-sampled regions. Uniform when nil.
	Density []float64
}

// HeuristicPickExperiments selects batchSize candidates by a greedy local
// search on a statistical-fit criterion: a candidate's value is the sum
// over outputs of poorness-of-fit times the surrogate's predictive
// standard deviation there, scaled by the candidate's spatial density.
//
// Construction greedily picks the highest-value candidate, registering the
// picks so far as hypothetical training points so the shrunk predictive
// variance near them is felt by later picks. The exchange phase then
// repeatedly re-decides each slot against the other picks until a full
// pass makes no swap (or the pass bound is hit, with a warning). The
// hypothetical points are an explicit argument to every prediction call,
// so no overlay state outlives this function on any path.
//
// Equal-value ties resolve to the lowest pool row index. The search is a
// deterministic local heuristic, not a global optimum.
func (s *Surrogate) HeuristicPickExperiments(pool *Table, batchSize int, opts *HeuristicOptions) (*Table, error) {
	if opts == nil {
		opts = &HeuristicOptions{}
	}
	np := pool.NumRows()
	if batchSize <= 0 {
		return pool.Rows(nil)
	}
	if batchSize > np {
		batchSize = np
	}

	poolX, err := s.pre.Apply(pool)
	if err != nil {
		return nil, fmt.Errorf("heuristic pick: encoding pool: %w", err)
	}

	pof := opts.PoornessOfFit
	if pof == nil {
		logrus.Infof("computing poorness of fit from cross-validation")
		scores, err := s.CrossValScores()
		if err != nil {
			return nil, fmt.Errorf("heuristic pick: %w", err)
		}
		pof = make(map[string]float64, len(scores))
		for name, sc := range scores {
			pof[name] = 1 - sc
		}
	}
	density := opts.Density
	if density == nil {
		density = make([]float64, np)
		for i := range density {
			density[i] = 1
		}
	} else if len(density) != np {
		return nil, fmt.Errorf("heuristic pick: got %d density values for %d candidates", len(density), np)
	}

	// candidateValues scores every pool row given the current hypothetical
	// picks (overlay may be nil).
	candidateValues := func(overlay *mat.Dense) ([]float64, error) {
		std, err := s.stdMatrixOverlay(poolX, overlay)
		if err != nil {
			return nil, err
		}
		values := make([]float64, np)
		for i := 0; i < np; i++ {
			var v float64
			for j, name := range s.outputNames {
				v += pof[name] * std.At(i, j)
			}
			values[i] = v * density[i]
		}
		return values, nil
	}

	bestCandidate := func(values []float64, excluded map[int]bool) int {
		best := -1
		for i, v := range values {
			if excluded[i] {
				continue
			}
			if best < 0 || v > values[best] {
				best = i
			}
		}
		return best
	}

	overlayRows := func(picks []int, skip int) *mat.Dense {
		var rows []int
		for slot, p := range picks {
			if slot != skip {
				rows = append(rows, p)
			}
		}
		if len(rows) == 0 {
			return nil
		}
		return rowsDense(poolX, rows)
	}

	logrus.Infof("populating initial batch of %d from %d candidates", batchSize, np)
	var picks []int
	taken := map[int]bool{}
	for len(picks) < batchSize {
		values, err := candidateValues(overlayRows(picks, -1))
		if err != nil {
			return nil, fmt.Errorf("heuristic pick: %w", err)
		}
		p := bestCandidate(values, taken)
		picks = append(picks, p)
		taken[p] = true
	}

	logrus.Infof("initial batch complete, checking for exchanges")
	for pass := 0; ; pass++ {
		if pass == maxExchangePasses {
			logrus.Warnf("exchange phase did not settle after %d passes; keeping current batch", maxExchangePasses)
			break
		}
		swaps := 0
		for slot := 0; slot < batchSize; slot++ {
			values, err := candidateValues(overlayRows(picks, slot))
			if err != nil {
				return nil, fmt.Errorf("heuristic pick: exchange pass %d: %w", pass, err)
			}
			others := map[int]bool{}
			for j, p := range picks {
				if j != slot {
					others[p] = true
				}
			}
			replacement := bestCandidate(values, others)
			if replacement != picks[slot] {
				logrus.Infof("exchanging candidate %d for %d in slot %d", picks[slot], replacement, slot)
				picks[slot] = replacement
				swaps++
			}
		}
		logrus.Infof("%d exchanges completed", swaps)
		if swaps == 0 {
			break
		}
	}
	return pool.Rows(picks)
}
