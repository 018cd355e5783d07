package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	logLevel string // Log verbosity level

	scopePath       string // Path to the scope YAML file
	experimentsPath string // Path to the completed experiments CSV
	dbPath          string // Optional SQLite database path

	cvFolds     int   // Cross-validation fold count
	randomState int64 // Seed for regression fitting and CV partitions
	useBestCV   bool  // Keep whichever prediction tier cross-validates best
	suppressCW  bool  // Suppress GP convergence warnings

	includeMeasures []string // If non-empty, fit only these measures
	excludeMeasures []string // Measures to leave out of the fit
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "metamodel",
	Short: "Surrogate meta-models and sequential design augmentation for expensive simulations",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up the flags shared by every subcommand
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warning", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&scopePath, "scope", "", "Path to the scope YAML file")
	rootCmd.PersistentFlags().StringVar(&experimentsPath, "experiments", "", "Path to the completed experiments CSV")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Optional SQLite database path for persistence")
	rootCmd.PersistentFlags().IntVar(&cvFolds, "cv", 5, "Cross-validation fold count")
	rootCmd.PersistentFlags().Int64Var(&randomState, "seed", 42, "Seed for regression fitting and cross-validation")
	rootCmd.PersistentFlags().BoolVar(&useBestCV, "best-cv", true, "Keep whichever prediction tier cross-validates best")
	rootCmd.PersistentFlags().BoolVar(&suppressCW, "suppress-converge-warnings", false, "Suppress GP optimizer convergence warnings")
	rootCmd.PersistentFlags().StringSliceVar(&includeMeasures, "include-measure", nil, "Fit only the named measure (repeatable)")
	rootCmd.PersistentFlags().StringSliceVar(&excludeMeasures, "exclude-measure", nil, "Leave the named measure out of the fit (repeatable)")
}
