// Package covariance estimates the positive-definite weighting matrices used
// by the reconciliation solver from in-sample residuals, or from structure
// alone when no residuals are available.
package covariance

import (
	"errors"
	"fmt"
)

var ErrUnknownStrategy = errors.New("unknown covariance strategy")

// Strategy selects the covariance recipe. The set is closed; adding a recipe
// means adding a constant and its handler.
type Strategy int

const (
	// Structural weights each series by the number of bottom leaves it
	// aggregates. Needs no residual data.
	Structural Strategy = iota
	// Sample is the empirical covariance of the residuals. Requires more
	// residual rows than series to stay invertible.
	Sample
	// Shrinkage blends the sample covariance with its diagonal using an
	// analytically chosen intensity. Invertible at any sample size.
	Shrinkage
	// Diagonal keeps only the per-series residual variances.
	Diagonal
)

func (s Strategy) String() string {
	switch s {
	case Structural:
		return "structural"
	case Sample:
		return "sample"
	case Shrinkage:
		return "shrinkage"
	case Diagonal:
		return "diagonal"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// ParseStrategy maps a configuration name to its Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "structural":
		return Structural, nil
	case "sample":
		return Sample, nil
	case "shrinkage":
		return Shrinkage, nil
	case "diagonal":
		return Diagonal, nil
	}
	return 0, fmt.Errorf("%q, %w", name, ErrUnknownStrategy)
}
