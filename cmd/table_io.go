package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/metamodel-sim/metamodel-sim/meta"
	"github.com/metamodel-sim/metamodel-sim/meta/scope"
)

// readTableCSV loads a CSV file (header row required) into a Table. Columns
// declared categorical in the scope are read as strings; everything else
// must parse as a float.
func readTableCSV(path string, sc *scope.Scope) (*meta.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%s needs a header row and at least one data row", path)
	}
	header := records[0]
	n := len(records) - 1

	categorical := map[string]bool{}
	for _, p := range sc.Parameters() {
		if p.Kind == scope.Category {
			categorical[p.Name] = true
		}
	}

	t := meta.NewTable()
	for j, name := range header {
		if categorical[name] {
			vals := make([]string, n)
			for i := 0; i < n; i++ {
				vals[i] = records[i+1][j]
			}
			if err := t.AddCategorical(name, vals); err != nil {
				return nil, err
			}
			continue
		}
		vals := make([]float64, n)
		for i := 0; i < n; i++ {
			v, err := strconv.ParseFloat(records[i+1][j], 64)
			if err != nil {
				return nil, fmt.Errorf("%s row %d column %q: %w", path, i+1, name, err)
			}
			vals[i] = v
		}
		if err := t.AddNumeric(name, vals); err != nil {
			return nil, err
		}
	}
	if err := sc.EnsureKinds(t); err != nil {
		return nil, err
	}
	return t, nil
}

// writeTableCSV writes a Table to a CSV file with a header row.
func writeTableCSV(path string, t *meta.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	names := t.Names()
	if err := w.Write(names); err != nil {
		return err
	}
	record := make([]string, len(names))
	for i := 0; i < t.NumRows(); i++ {
		for j, name := range names {
			col, err := t.Column(name)
			if err != nil {
				return err
			}
			if col.Kind == meta.Categorical {
				record[j] = col.Strings[i]
			} else {
				record[j] = strconv.FormatFloat(col.Floats[i], 'g', -1, 64)
			}
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// splitExperiments partitions a combined experiments table into the scope's
// input and output columns. Scope measures missing from the table become
// disabled outputs.
func splitExperiments(t *meta.Table, sc *scope.Scope) (inputs, outputs *meta.Table, disabled []string, err error) {
	var inputNames []string
	for _, name := range sc.ParameterNames() {
		if t.Has(name) {
			inputNames = append(inputNames, name)
		}
	}
	var outputNames []string
	for _, name := range sc.MeasureNames() {
		if t.Has(name) {
			outputNames = append(outputNames, name)
		} else {
			disabled = append(disabled, name)
		}
	}
	if len(inputNames) == 0 || len(outputNames) == 0 {
		return nil, nil, nil, fmt.Errorf("experiments table must contain scope inputs and outputs (found %d inputs, %d outputs)",
			len(inputNames), len(outputNames))
	}
	inputs, err = t.Select(inputNames...)
	if err != nil {
		return nil, nil, nil, err
	}
	outputs, err = t.Select(outputNames...)
	if err != nil {
		return nil, nil, nil, err
	}
	return inputs, outputs, disabled, nil
}

// filterMeasures applies the include/exclude measure options: an excluded
// measure, or one left off a non-empty include list, moves to the disabled
// set and is dropped from the fitted output table.
func filterMeasures(outputs *meta.Table, disabled, include, exclude []string) (*meta.Table, []string, error) {
	if len(include) == 0 && len(exclude) == 0 {
		return outputs, disabled, nil
	}
	known := map[string]bool{}
	for _, n := range outputs.Names() {
		known[n] = true
	}
	for _, n := range disabled {
		known[n] = true
	}
	included := map[string]bool{}
	for _, n := range include {
		if !known[n] {
			return nil, nil, fmt.Errorf("--include-measure names unknown measure %q", n)
		}
		included[n] = true
	}
	excluded := map[string]bool{}
	for _, n := range exclude {
		if !known[n] {
			return nil, nil, fmt.Errorf("--exclude-measure names unknown measure %q", n)
		}
		excluded[n] = true
	}

	var keep []string
	for _, n := range outputs.Names() {
		if excluded[n] || (len(included) > 0 && !included[n]) {
			disabled = append(disabled, n)
			continue
		}
		keep = append(keep, n)
	}
	if len(keep) == 0 {
		return nil, nil, fmt.Errorf("measure filters leave nothing to fit")
	}
	kept, err := outputs.Select(keep...)
	if err != nil {
		return nil, nil, err
	}
	return kept, disabled, nil
}

// buildSurrogate loads the scope and experiments and fits a surrogate.
func buildSurrogate() (*meta.Surrogate, *scope.Scope, error) {
	if scopePath == "" || experimentsPath == "" {
		return nil, nil, fmt.Errorf("--scope and --experiments are required")
	}
	sc, err := scope.Load(scopePath)
	if err != nil {
		return nil, nil, err
	}
	table, err := readTableCSV(experimentsPath, sc)
	if err != nil {
		return nil, nil, err
	}
	inputs, outputs, disabled, err := splitExperiments(table, sc)
	if err != nil {
		return nil, nil, err
	}
	outputs, disabled, err = filterMeasures(outputs, disabled, includeMeasures, excludeMeasures)
	if err != nil {
		return nil, nil, err
	}
	surrogate, err := meta.NewSurrogate(inputs, outputs, sc.TransformSpecs(), disabled, &meta.Options{
		Categories:               sc.CategoricalValues(),
		RandomState:              randomState,
		SuppressConvergeWarnings: suppressCW,
		UseBestCV:                useBestCV,
		CVFolds:                  cvFolds,
	})
	if err != nil {
		return nil, nil, err
	}
	return surrogate, sc, nil
}
