package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/metamodel-sim/metamodel-sim/meta"
	"github.com/metamodel-sim/metamodel-sim/meta/scope"
)

var (
	inputValues  []string // name=value pairs for a single configuration
	batchPath    string   // CSV of configurations to evaluate
	withStd      bool     // Also report predictive standard deviations
	trendOnly    bool     // Use only the trend stage
	residualOnly bool     // Report only the boosted correction
)

// evaluateCmd queries the fitted surrogate for one configuration or a CSV
// batch.
var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate the fitted surrogate at given input configurations",
	Run: func(cmd *cobra.Command, args []string) {
		surrogate, sc, err := buildSurrogate()
		if err != nil {
			logrus.Fatalf("fit failed: %v", err)
		}

		if batchPath != "" {
			batch, err := readTableCSV(batchPath, sc)
			if err != nil {
				logrus.Fatalf("reading batch: %v", err)
			}
			results, err := surrogate.PredictBatch(batch, trendOnly, residualOnly)
			if err != nil {
				logrus.Fatalf("evaluation failed: %v", err)
			}
			for i, r := range results {
				printResult(fmt.Sprintf("row %d", i), surrogate, r)
			}
			return
		}

		cfg, err := parseConfig(inputValues, sc)
		if err != nil {
			logrus.Fatalf("bad --input: %v", err)
		}
		result, err := surrogate.Predict(cfg, trendOnly, residualOnly)
		if err != nil {
			logrus.Fatalf("evaluation failed: %v", err)
		}
		printResult("result", surrogate, result)

		if withStd {
			std, err := surrogate.EvaluateStd(cfg)
			if err != nil {
				logrus.Fatalf("uncertainty evaluation failed: %v", err)
			}
			printResult("std (transformed space)", surrogate, std)
		}
	},
}

// parseConfig turns repeated name=value flags into a Config, typed by the
// scope.
func parseConfig(pairs []string, sc *scope.Scope) (meta.Config, error) {
	cfg := meta.Config{}
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("expected name=value, got %q", pair)
		}
		p, found := sc.Parameter(name)
		if found && p.Kind == scope.Category {
			cfg[name] = value
			continue
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		cfg[name] = v
	}
	return cfg, nil
}

func printResult(label string, surrogate *meta.Surrogate, r meta.Result) {
	fmt.Printf("%s:\n", label)
	names := append(surrogate.OutputNames(), surrogate.DisabledOutputs()...)
	for _, name := range names {
		o := r[name]
		if !o.Valid {
			fmt.Printf("  %-30s unavailable\n", name)
			continue
		}
		fmt.Printf("  %-30s %g\n", name, o.Value)
	}
}

func init() {
	evaluateCmd.Flags().StringArrayVar(&inputValues, "input", nil, "Input as name=value (repeatable)")
	evaluateCmd.Flags().StringVar(&batchPath, "batch", "", "CSV of configurations to evaluate")
	evaluateCmd.Flags().BoolVar(&withStd, "std", false, "Also report predictive standard deviations (transformed space)")
	evaluateCmd.Flags().BoolVar(&trendOnly, "trend-only", false, "Use only the trend stage")
	evaluateCmd.Flags().BoolVar(&residualOnly, "residual-only", false, "Report only the boosted correction (transformed space)")
	rootCmd.AddCommand(evaluateCmd)
}
