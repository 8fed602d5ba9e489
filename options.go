package reco

import (
	"errors"
	"fmt"

	"github.com/danigiro/tafs-reco/covariance"
	"github.com/danigiro/tafs-reco/solver"
)

var (
	ErrNegativeIterations    = errors.New("negative QP iteration cap")
	ErrNegativeParallelism   = errors.New("negative parallelism")
	ErrUnknownRepresentation = errors.New("unknown constraint representation")
)

// Representation selects which equivalent form of the constraint system the
// point solve works from.
type Representation int

const (
	// ZeroConstraint reconciles through x = b - omega*M'(M omega M')^-1 M b.
	// Cheaper when the structure has few aggregate series, the default.
	ZeroConstraint Representation = iota
	// Summing reconciles through the bottom-level normal equations and
	// aggregates back up.
	Summing
)

func (r Representation) String() string {
	switch r {
	case ZeroConstraint:
		return "zero-constraint"
	case Summing:
		return "summing"
	}
	return fmt.Sprintf("representation(%d)", int(r))
}

// ParseRepresentation maps a configuration name to its Representation.
func ParseRepresentation(name string) (Representation, error) {
	switch name {
	case "zero-constraint":
		return ZeroConstraint, nil
	case "summing":
		return Summing, nil
	}
	return 0, fmt.Errorf("%q, %w", name, ErrUnknownRepresentation)
}

// Options configures a Reconciler.
type Options struct {
	// Covariance picks the weighting recipe of the GLS projection.
	Covariance covariance.Strategy

	// CovarianceFallback is an explicit chain of cheaper strategies to try
	// when the primary strategy fails with an estimation error. Nothing is
	// retried unless listed here.
	CovarianceFallback []covariance.Strategy

	// NonNeg selects the non-negativity treatment of reconciled vectors.
	NonNeg solver.NonNegMode

	// QPIterations caps the active-set iterations of the exact non-negative
	// mode. Zero selects the solver default.
	QPIterations int

	// Representation selects the constraint form used by point solves.
	Representation Representation

	// Parallelism bounds the worker count of ensemble reconciliation. Zero
	// lets the runtime decide.
	Parallelism int
}

// Validate checks ranges and fills defaults; a nil receiver returns the
// default options.
func (o *Options) Validate() (*Options, error) {
	if o == nil {
		o = NewDefaultOptions()
	}
	if o.QPIterations < 0 {
		return nil, fmt.Errorf("got %d, %w", o.QPIterations, ErrNegativeIterations)
	}
	if o.Parallelism < 0 {
		return nil, fmt.Errorf("got %d, %w", o.Parallelism, ErrNegativeParallelism)
	}
	switch o.Representation {
	case ZeroConstraint, Summing:
	default:
		return nil, fmt.Errorf("%d, %w", int(o.Representation), ErrUnknownRepresentation)
	}
	switch o.NonNeg {
	case solver.NonNegOff, solver.NonNegHeuristic, solver.NonNegExact:
	default:
		return nil, fmt.Errorf("%d, %w", int(o.NonNeg), solver.ErrUnknownNonNegMode)
	}
	for _, s := range append([]covariance.Strategy{o.Covariance}, o.CovarianceFallback...) {
		switch s {
		case covariance.Structural, covariance.Sample, covariance.Shrinkage, covariance.Diagonal:
		default:
			return nil, fmt.Errorf("%d, %w", int(s), covariance.ErrUnknownStrategy)
		}
	}
	return o, nil
}

// NewDefaultOptions returns the production defaults: shrinkage covariance, no
// non-negativity repair, zero-constraint representation.
func NewDefaultOptions() *Options {
	return &Options{
		Covariance:     covariance.Shrinkage,
		NonNeg:         solver.NonNegOff,
		Representation: ZeroConstraint,
	}
}
