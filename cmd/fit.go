package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/metamodel-sim/metamodel-sim/meta/store"
)

var metamodelName string // Descriptive name recorded with the fitted surrogate

// fitCmd fits a surrogate from completed experiments and reports its
// cross-validated fit, optionally recording it in the database.
var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit a surrogate meta-model from completed experiments",
	Run: func(cmd *cobra.Command, args []string) {
		start := time.Now()
		surrogate, sc, err := buildSurrogate()
		if err != nil {
			logrus.Fatalf("fit failed: %v", err)
		}
		scores, err := surrogate.CrossValScores()
		if err != nil {
			logrus.Fatalf("cross-validation failed: %v", err)
		}

		fmt.Printf("scope: %s\n", sc.Name)
		fmt.Printf("inputs: %d raw -> %d encoded\n", len(surrogate.RawInputColumns()), len(surrogate.EncodedInputNames()))
		fmt.Println("cross-validation scores:")
		for _, name := range surrogate.OutputNames() {
			fmt.Printf("  %-30s %8.4f\n", name, scores[name])
		}
		for _, name := range surrogate.DisabledOutputs() {
			fmt.Printf("  %-30s disabled\n", name)
		}

		if dbPath != "" {
			ctx := context.Background()
			db := store.New(dbPath)
			if err := db.Init(ctx); err != nil {
				logrus.Fatalf("opening database: %v", err)
			}
			defer db.Close()
			id, err := db.WriteMetamodel(ctx, sc.Name, metamodelName, scores)
			if err != nil {
				logrus.Fatalf("recording metamodel: %v", err)
			}
			logrus.Infof("recorded metamodel %s", id)
		}
		logrus.Infof("fit complete in %s", time.Since(start))
	},
}

// crossvalCmd reports per-output cross-validation scores without any
// persistence side effects.
var crossvalCmd = &cobra.Command{
	Use:   "crossval",
	Short: "Report the surrogate's cross-validated score per output",
	Run: func(cmd *cobra.Command, args []string) {
		surrogate, _, err := buildSurrogate()
		if err != nil {
			logrus.Fatalf("fit failed: %v", err)
		}
		scores, err := surrogate.CrossValScores()
		if err != nil {
			logrus.Fatalf("cross-validation failed: %v", err)
		}
		for _, name := range surrogate.OutputNames() {
			fmt.Printf("%s,%g\n", name, scores[name])
		}
	},
}

func init() {
	fitCmd.Flags().StringVar(&metamodelName, "name", "", "Descriptive name for the fitted metamodel")
	rootCmd.AddCommand(fitCmd)
	rootCmd.AddCommand(crossvalCmd)
}
