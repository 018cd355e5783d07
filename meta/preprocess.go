package meta

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// varianceEps is the threshold below which a column's sample variance is
// treated as numerically zero.
const varianceEps = 1e-12

// Preprocessor is the deterministic fit-once/apply-many feature pipeline:
// categorical expansion into indicator columns followed by removal of
// zero-variance columns. All state (raw column list, category sets,
// retained-column mask) is fixed at fit time, so Apply reproduces the
// fit-time column set and order exactly on any new table.
type Preprocessor struct {
	// declared maps categorical column name to its full admissible category
	// set, typically taken from the experiment scope. Categories never
	// observed during fit still produce an (all-zero) indicator column.
	declared map[string][]string

	rawColumns []string
	rawKinds   map[string]ColumnKind
	categories map[string][]string

	encodedNames []string // after expansion, before the variance mask
	keep         []bool   // variance mask over encodedNames
	outNames     []string // retained encoded names, in order
	fitted       bool
}

// NewPreprocessor creates a preprocessor. declaredCategories maps each
// categorical input name to its admissible values; columns absent from the
// map fall back to the categories observed at fit time, in sorted order.
func NewPreprocessor(declaredCategories map[string][]string) *Preprocessor {
	d := make(map[string][]string, len(declaredCategories))
	for k, v := range declaredCategories {
		d[k] = append([]string(nil), v...)
	}
	return &Preprocessor{declared: d}
}

// Fit learns the encoding from a training input table.
func (p *Preprocessor) Fit(inputs *Table) error {
	if inputs.NumRows() == 0 || inputs.NumCols() == 0 {
		return fmt.Errorf("preprocessor: cannot fit on empty input table")
	}
	p.rawColumns = inputs.Names()
	p.rawKinds = make(map[string]ColumnKind, len(p.rawColumns))
	p.categories = make(map[string][]string)

	for _, name := range p.rawColumns {
		c, err := inputs.Column(name)
		if err != nil {
			return err
		}
		p.rawKinds[name] = c.Kind
		if c.Kind != Categorical {
			continue
		}
		if cats, ok := p.declared[name]; ok {
			p.categories[name] = append([]string(nil), cats...)
			continue
		}
		seen := map[string]bool{}
		var cats []string
		for _, v := range c.Strings {
			if !seen[v] {
				seen[v] = true
				cats = append(cats, v)
			}
		}
		sort.Strings(cats)
		p.categories[name] = cats
	}

	p.encodedNames = nil
	for _, name := range p.rawColumns {
		if p.rawKinds[name] == Categorical {
			for _, cat := range p.categories[name] {
				p.encodedNames = append(p.encodedNames, name+"="+cat)
			}
		} else {
			p.encodedNames = append(p.encodedNames, name)
		}
	}

	expanded, err := p.expand(inputs)
	if err != nil {
		return err
	}

	n, _ := expanded.Dims()
	p.keep = make([]bool, len(p.encodedNames))
	p.outNames = nil
	col := make([]float64, n)
	for j, name := range p.encodedNames {
		mat.Col(col, j, expanded)
		if stat.Variance(col, nil) > varianceEps {
			p.keep[j] = true
			p.outNames = append(p.outNames, name)
		}
	}
	if len(p.outNames) == 0 {
		return fmt.Errorf("preprocessor: every encoded column is degenerate")
	}
	p.fitted = true
	return nil
}

// Apply encodes a raw input table using the state learned at fit time.
// Missing raw columns are an error; extra columns are ignored.
func (p *Preprocessor) Apply(inputs *Table) (*mat.Dense, error) {
	if !p.fitted {
		return nil, ErrNotFitted
	}
	expanded, err := p.expand(inputs)
	if err != nil {
		return nil, err
	}
	n, _ := expanded.Dims()
	out := mat.NewDense(n, len(p.outNames), nil)
	k := 0
	col := make([]float64, n)
	for j := range p.encodedNames {
		if !p.keep[j] {
			continue
		}
		mat.Col(col, j, expanded)
		out.SetCol(k, col)
		k++
	}
	return out, nil
}

// expand selects the fit-time raw columns and materializes indicator
// columns, casting everything to float64.
func (p *Preprocessor) expand(inputs *Table) (*mat.Dense, error) {
	n := inputs.NumRows()
	if n == 0 {
		return nil, fmt.Errorf("preprocessor: empty input table")
	}
	out := mat.NewDense(n, len(p.encodedNames), nil)
	j := 0
	for _, name := range p.rawColumns {
		c, err := inputs.Column(name)
		if err != nil {
			return nil, fmt.Errorf("preprocessor: missing required input column %q", name)
		}
		if p.rawKinds[name] == Categorical {
			if c.Kind != Categorical {
				return nil, fmt.Errorf("preprocessor: column %q was categorical at fit", name)
			}
			cats := p.categories[name]
			index := make(map[string]int, len(cats))
			for k, cat := range cats {
				index[cat] = k
			}
			for i, v := range c.Strings {
				k, ok := index[v]
				if !ok {
					return nil, fmt.Errorf("preprocessor: unknown category %q for column %q", v, name)
				}
				out.Set(i, j+k, 1)
			}
			j += len(cats)
			continue
		}
		if c.Kind != Numeric {
			return nil, fmt.Errorf("preprocessor: column %q was numeric at fit", name)
		}
		for i, v := range c.Floats {
			out.Set(i, j, v)
		}
		j++
	}
	return out, nil
}

// RawColumns returns the raw input column list fixed at fit time.
func (p *Preprocessor) RawColumns() []string {
	return append([]string(nil), p.rawColumns...)
}

// RawKind returns the fit-time kind of a raw input column.
func (p *Preprocessor) RawKind(name string) (ColumnKind, bool) {
	k, ok := p.rawKinds[name]
	return k, ok
}

// EncodedNames returns the retained encoded column names, in output order.
func (p *Preprocessor) EncodedNames() []string {
	return append([]string(nil), p.outNames...)
}
