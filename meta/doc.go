// Package meta builds fast-evaluating statistical surrogates ("meta-models")
// of expensive simulation models, and uses a fitted surrogate's learned
// geometry to choose which unevaluated input configurations to simulate next.
//
// # Reading Guide
//
// Start with these three files to understand the modeling core:
//   - surrogate.go: Surrogate construction, evaluation, and the output-transform contract
//   - stack.go: The residual-boosted regression stack and tiered prediction
//   - design.go: Maximin batch augmentation under the learned anisotropic metric
//
// # Architecture
//
// The fitting pipeline is Preprocessor -> StackedRegressor -> Transform
// inversion. The Preprocessor (preprocess.go) one-hot encodes categorical
// inputs against their full admissible category sets and drops degenerate
// columns, with all state fixed at fit time so the encoding replays
// bit-for-bit on new data. The StackedRegressor chains named regression
// stages, each fit on the residual left by its predecessors; the default
// stack is a multi-output linear trend (linear.go) followed by one
// anisotropic Gaussian process per output (gp.go, multioutput.go).
//
// Design augmentation has two independent algorithms: a global maximin
// distance selection (design.go) weighted by mixed GP length scales, and a
// density/uncertainty-weighted greedy search with an exchange phase
// (heuristic.go) that threads a variance-only hypothetical-point overlay
// through the prediction calls.
//
// # Key Interfaces
//
// Regression stages are small capability interfaces:
//   - Stage: Fit / Predict / Clone over dense matrices
//   - StdPredictor: predictive standard deviation
//   - OverlayStdPredictor: predictive std with hypothetical training points
//
// External collaborators live in sub-packages: meta/scope (typed experiment
// scope loaded from YAML) and meta/store (SQLite persistence of experiments,
// designs and surrogate metadata).
package meta
