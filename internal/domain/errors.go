package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Wire format errors
	ErrMalformedEncoding = errors.New("malformed koson encoding")

	// Computation errors
	ErrComputationFailure = errors.New("trajectory computation failed")
	ErrRaggedTrajectory   = errors.New("trajectory columns differ in length")
	ErrSolverNotFound     = errors.New("solver command not found")

	// Task directory errors
	ErrFilesystemRace = errors.New("task directory changed between check and use")
	ErrNotTaskDir     = errors.New("not a task directory")

	// Parameter errors
	ErrMissingParameter = errors.New("missing required parameter")
	ErrInvalidParameter = errors.New("invalid parameter")
)
