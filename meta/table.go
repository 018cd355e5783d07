package meta

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ColumnKind distinguishes numeric columns from categorical (string) columns.
type ColumnKind int

const (
	Numeric ColumnKind = iota
	Categorical
)

// Column is a single named column of a Table. Exactly one of Floats or
// Strings is populated, according to Kind.
type Column struct {
	Kind    ColumnKind
	Floats  []float64
	Strings []string
}

func (c *Column) len() int {
	if c.Kind == Categorical {
		return len(c.Strings)
	}
	return len(c.Floats)
}

// Table is an ordered set of named columns over a shared row index.
// Two tables are aligned when they have the same number of rows; alignment
// between an input table and its output table is an invariant of fitting.
type Table struct {
	names []string
	cols  map[string]*Column
	nrows int
}

// NewTable returns an empty table with no columns and no rows.
func NewTable() *Table {
	return &Table{cols: make(map[string]*Column)}
}

// AddNumeric appends a numeric column. The first column added fixes the row
// count; later columns must match it.
func (t *Table) AddNumeric(name string, values []float64) error {
	v := make([]float64, len(values))
	copy(v, values)
	return t.add(name, &Column{Kind: Numeric, Floats: v})
}

// AddCategorical appends a categorical (string-valued) column.
func (t *Table) AddCategorical(name string, values []string) error {
	v := make([]string, len(values))
	copy(v, values)
	return t.add(name, &Column{Kind: Categorical, Strings: v})
}

func (t *Table) add(name string, col *Column) error {
	if _, ok := t.cols[name]; ok {
		return fmt.Errorf("duplicate column %q", name)
	}
	if len(t.names) > 0 && col.len() != t.nrows {
		return fmt.Errorf("column %q has %d rows, table has %d", name, col.len(), t.nrows)
	}
	t.nrows = col.len()
	t.names = append(t.names, name)
	t.cols[name] = col
	return nil
}

// NumRows reports the number of rows.
func (t *Table) NumRows() int { return t.nrows }

// NumCols reports the number of columns.
func (t *Table) NumCols() int { return len(t.names) }

// Names returns the column names in order.
func (t *Table) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Has reports whether the named column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.cols[name]
	return ok
}

// Column returns the named column, or an error if absent.
func (t *Table) Column(name string) (*Column, error) {
	c, ok := t.cols[name]
	if !ok {
		return nil, fmt.Errorf("no column %q in table", name)
	}
	return c, nil
}

// Numeric returns the float values of a numeric column.
func (t *Table) Numeric(name string) ([]float64, error) {
	c, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	if c.Kind != Numeric {
		return nil, fmt.Errorf("column %q is categorical, not numeric", name)
	}
	return c.Floats, nil
}

// Select returns a new table holding the named columns, in the given order.
// Columns not named are dropped; a missing name is an error.
func (t *Table) Select(names ...string) (*Table, error) {
	out := NewTable()
	for _, n := range names {
		c, ok := t.cols[n]
		if !ok {
			return nil, fmt.Errorf("missing required input column %q", n)
		}
		cp := &Column{Kind: c.Kind}
		if c.Kind == Categorical {
			cp.Strings = append([]string(nil), c.Strings...)
		} else {
			cp.Floats = append([]float64(nil), c.Floats...)
		}
		if err := out.add(n, cp); err != nil {
			return nil, err
		}
	}
	out.nrows = t.nrows
	if len(names) == 0 {
		out.nrows = 0
	}
	return out, nil
}

// Rows returns a new table holding the given rows, in the given order.
// Row indices may repeat.
func (t *Table) Rows(idx []int) (*Table, error) {
	out := NewTable()
	for _, n := range t.names {
		c := t.cols[n]
		cp := &Column{Kind: c.Kind}
		for _, i := range idx {
			if i < 0 || i >= t.nrows {
				return nil, fmt.Errorf("row index %d out of range [0,%d)", i, t.nrows)
			}
			if c.Kind == Categorical {
				cp.Strings = append(cp.Strings, c.Strings[i])
			} else {
				cp.Floats = append(cp.Floats, c.Floats[i])
			}
		}
		if err := out.add(n, cp); err != nil {
			return nil, err
		}
	}
	out.nrows = len(idx)
	return out, nil
}

// Matrix exports the table as a dense row-major matrix. All columns must be
// numeric.
func (t *Table) Matrix() (*mat.Dense, error) {
	if t.nrows == 0 || len(t.names) == 0 {
		return nil, fmt.Errorf("cannot export empty table as matrix")
	}
	m := mat.NewDense(t.nrows, len(t.names), nil)
	for j, n := range t.names {
		c := t.cols[n]
		if c.Kind != Numeric {
			return nil, fmt.Errorf("column %q is categorical; encode before exporting", n)
		}
		for i, v := range c.Floats {
			m.Set(i, j, v)
		}
	}
	return m, nil
}

// TableFromMatrix builds a numeric table from a dense matrix and column names.
func TableFromMatrix(m *mat.Dense, names []string) (*Table, error) {
	r, c := m.Dims()
	if c != len(names) {
		return nil, fmt.Errorf("matrix has %d columns, got %d names", c, len(names))
	}
	t := NewTable()
	for j, n := range names {
		col := make([]float64, r)
		for i := range col {
			col[i] = m.At(i, j)
		}
		if err := t.AddNumeric(n, col); err != nil {
			return nil, err
		}
	}
	return t, nil
}
