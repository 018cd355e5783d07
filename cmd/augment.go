package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/metamodel-sim/metamodel-sim/meta"
	"github.com/metamodel-sim/metamodel-sim/meta/store"
)

var (
	candidatesPath string   // CSV pool of unevaluated candidate configurations
	batchSize      int      // How many new experiments to select
	method         string   // "maximin" or "heuristic"
	outputFocus    []string // name or name=weight entries focusing the selection
	outPath        string   // Where to write the selected design CSV
	designName     string   // Database design name for the selection
)

// augmentCmd selects the next batch of experiments from a candidate pool
// using the fitted surrogate's learned geometry.
var augmentCmd = &cobra.Command{
	Use:   "augment",
	Short: "Select the next batch of experiments from a candidate pool",
	Run: func(cmd *cobra.Command, args []string) {
		surrogate, sc, err := buildSurrogate()
		if err != nil {
			logrus.Fatalf("fit failed: %v", err)
		}
		if candidatesPath == "" {
			logrus.Fatalf("--candidates is required")
		}
		pool, err := readTableCSV(candidatesPath, sc)
		if err != nil {
			logrus.Fatalf("reading candidates: %v", err)
		}
		focus, err := parseFocus(outputFocus)
		if err != nil {
			logrus.Fatalf("bad --focus: %v", err)
		}

		var design *meta.Table
		switch method {
		case "maximin":
			design, err = surrogate.PickNewExperiments(pool, batchSize, &meta.PickOptions{OutputFocus: focus})
		case "heuristic":
			var pof map[string]float64
			if focus != nil {
				pof = focus
			}
			design, err = surrogate.HeuristicPickExperiments(pool, batchSize, &meta.HeuristicOptions{PoornessOfFit: pof})
		default:
			logrus.Fatalf("unknown selection method %q (want maximin or heuristic)", method)
		}
		if err != nil {
			logrus.Fatalf("selection failed: %v", err)
		}

		if outPath != "" {
			if err := writeTableCSV(outPath, design); err != nil {
				logrus.Fatalf("writing design: %v", err)
			}
			fmt.Printf("wrote %d selected experiments to %s\n", design.NumRows(), outPath)
		} else {
			for i := 0; i < design.NumRows(); i++ {
				row, _ := design.Rows([]int{i})
				parts := make([]string, 0, row.NumCols())
				for _, name := range row.Names() {
					col, _ := row.Column(name)
					if col.Kind == meta.Categorical {
						parts = append(parts, fmt.Sprintf("%s=%s", name, col.Strings[0]))
					} else {
						parts = append(parts, fmt.Sprintf("%s=%g", name, col.Floats[0]))
					}
				}
				fmt.Println(strings.Join(parts, ","))
			}
		}

		if dbPath != "" {
			ctx := context.Background()
			db := store.New(dbPath)
			if err := db.Init(ctx); err != nil {
				logrus.Fatalf("opening database: %v", err)
			}
			defer db.Close()
			name := designName
			if name == "" {
				name, err = db.NewDesignName(ctx, sc.Name, "augment")
				if err != nil {
					logrus.Fatalf("naming design: %v", err)
				}
			}
			if _, err := db.WriteExperiments(ctx, sc.Name, name, design, nil); err != nil {
				logrus.Fatalf("storing design: %v", err)
			}
			logrus.Infof("stored design %q with %d experiments", name, design.NumRows())
		}
	},
}

// parseFocus accepts "name" (equal weight) or "name=weight" entries.
func parseFocus(entries []string) (map[string]float64, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	focus := map[string]float64{}
	var plain []string
	for _, e := range entries {
		name, value, ok := strings.Cut(e, "=")
		if !ok {
			plain = append(plain, name)
			continue
		}
		w, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("focus %q: %w", e, err)
		}
		focus[name] = w
	}
	for name, w := range meta.EqualFocus(plain...) {
		focus[name] = w
	}
	return focus, nil
}

func init() {
	augmentCmd.Flags().StringVar(&candidatesPath, "candidates", "", "CSV pool of unevaluated candidate configurations")
	augmentCmd.Flags().IntVar(&batchSize, "batch-size", 5, "How many new experiments to select")
	augmentCmd.Flags().StringVar(&method, "method", "maximin", "Selection method: maximin or heuristic")
	augmentCmd.Flags().StringArrayVar(&outputFocus, "focus", nil, "Output focus as name or name=weight (repeatable)")
	augmentCmd.Flags().StringVar(&outPath, "out", "", "Write the selected design to this CSV path")
	augmentCmd.Flags().StringVar(&designName, "design-name", "", "Database design name (default: augment, augment_2, ...)")
	rootCmd.AddCommand(augmentCmd)
}
