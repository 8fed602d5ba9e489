package reco

import "gonum.org/v1/gonum/mat"

// Result is one reconciled forecast vector with its solver status and the
// residual constraint violation max|M*x|.
type Result struct {
	Reconciled  []float64 `json:"reconciled"`
	Status      string    `json:"status"`
	Discrepancy float64   `json:"discrepancy"`
}

// EnsembleResult holds the reconciled sample paths of one ensemble run, one
// row per input sample in the input order. Samples that failed keep their
// index: their row is untouched and the index is listed in Failed, so the
// caller can retry or drop them without disturbing the rest.
type EnsembleResult struct {
	Reconciled *mat.Dense `json:"-"`

	// Statuses has one entry per sample.
	Statuses []string `json:"statuses"`

	// Failed lists indices whose reconciliation errored.
	Failed []int `json:"failed,omitempty"`

	// MaxDiscrepancy is the worst constraint violation across succeeding
	// samples.
	MaxDiscrepancy float64 `json:"max_discrepancy"`
}
