// Package reco reconciles incoherent forecasts over cross-sectional,
// temporal, and cross-temporal aggregation structures: it projects base
// forecasts onto the coherent subspace by generalized least squares, with
// selectable covariance weightings, optional non-negativity repair, and
// batched probabilistic reconciliation of sample ensembles.
package reco

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/danigiro/tafs-reco/covariance"
	"github.com/danigiro/tafs-reco/hierarchy"
	"github.com/danigiro/tafs-reco/solver"

	"gonum.org/v1/gonum/mat"
)

const negTol = 1e-9

// Reconciler holds the structural matrices, the estimated weighting, and the
// factored projection operator for one reconciliation session. Safe for
// concurrent use once built; every reconciliation call reuses the cached
// factorization.
type Reconciler struct {
	opt *Options

	constraint *mat.Dense
	summing    *mat.Dense
	omega      *mat.SymDense
	proj       *solver.Projection
	bottomPos  []int

	discrepancy func([]float64) (float64, error)
	dim         int
}

// New builds a Reconciler for a cross-sectional hierarchy. Residuals may be
// nil when the covariance strategy (and its whole fallback chain) is
// structural.
func New(h *hierarchy.Hierarchy, resid *covariance.Residuals, opt *Options) (*Reconciler, error) {
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, hierarchy.ErrNilHierarchy
	}

	omega, err := estimateWithFallback(opt, func(s covariance.Strategy) (*mat.SymDense, error) {
		return covariance.CrossSectional(s, h, resid)
	})
	if err != nil {
		return nil, err
	}

	n, _, _ := h.Dims()
	return build(opt, h.ZeroConstraint(), h.Summing(), omega, h.BottomPositions(), n, h.Discrepancy)
}

// NewTemporal builds a Reconciler for a single-series temporal structure.
func NewTemporal(t *hierarchy.Temporal, resid *covariance.HorizonResiduals, opt *Options) (*Reconciler, error) {
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, hierarchy.ErrNilTemporal
	}

	omega, err := estimateWithFallback(opt, func(s covariance.Strategy) (*mat.SymDense, error) {
		return covariance.Temporal(s, t, resid)
	})
	if err != nil {
		return nil, err
	}

	return build(opt, t.ZeroConstraint(), t.Summing(), omega, t.BottomPositions(), t.GridLen(), t.Discrepancy)
}

// NewCrossTemporal builds a Reconciler for the combined framework over the
// flattened grid-major layout.
func NewCrossTemporal(ct *hierarchy.CrossTemporal, resid *covariance.HorizonResiduals, opt *Options) (*Reconciler, error) {
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	if ct == nil {
		return nil, hierarchy.ErrNilHierarchy
	}

	omega, err := estimateWithFallback(opt, func(s covariance.Strategy) (*mat.SymDense, error) {
		return covariance.CrossTemporal(s, ct, resid)
	})
	if err != nil {
		return nil, err
	}

	return build(opt, ct.Constraint(), ct.Summing(), omega, ct.BottomPositions(), ct.Dim(), ct.Discrepancy)
}

func build(
	opt *Options,
	constraint, summing *mat.Dense,
	omega *mat.SymDense,
	bottomPos []int,
	dim int,
	discrepancy func([]float64) (float64, error),
) (*Reconciler, error) {
	proj, err := solver.NewProjection(constraint, omega)
	if err != nil {
		return nil, err
	}
	return &Reconciler{
		opt:         opt,
		constraint:  constraint,
		summing:     summing,
		omega:       omega,
		proj:        proj,
		bottomPos:   bottomPos,
		discrepancy: discrepancy,
		dim:         dim,
	}, nil
}

// estimateWithFallback runs the primary strategy, then the explicit fallback
// chain, retrying only on estimation errors. Numerical and configuration
// errors surface immediately.
func estimateWithFallback(opt *Options, estimate func(covariance.Strategy) (*mat.SymDense, error)) (*mat.SymDense, error) {
	strategies := append([]covariance.Strategy{opt.Covariance}, opt.CovarianceFallback...)

	var lastErr error
	for i, s := range strategies {
		omega, err := estimate(s)
		if err == nil {
			if i > 0 {
				slog.Warn("covariance fallback engaged",
					"requested", strategies[0].String(),
					"used", s.String(),
				)
			}
			return omega, nil
		}
		if !isEstimationErr(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func isEstimationErr(err error) bool {
	return errors.Is(err, covariance.ErrInsufficientResiduals) ||
		errors.Is(err, covariance.ErrTooFewRows) ||
		errors.Is(err, covariance.ErrZeroVariance)
}

// Dim returns the flattened forecast length the Reconciler operates on.
func (r *Reconciler) Dim() int {
	return r.dim
}

// Weighting returns the covariance/weighting matrix the session settled on.
func (r *Reconciler) Weighting() *mat.SymDense {
	out := mat.NewSymDense(r.omega.SymmetricDim(), nil)
	out.CopySym(r.omega)
	return out
}

// Reconcile projects one base-forecast vector onto the coherent subspace and,
// when configured, repairs negative values. A feasible, non-negative input
// comes back unchanged up to floating tolerance.
func (r *Reconciler) Reconcile(base []float64) (*Result, error) {
	if len(base) != r.dim {
		return nil, fmt.Errorf("got %d values for dimension %d, %w", len(base), r.dim, solver.ErrDimMismatch)
	}

	var x []float64
	var err error
	switch r.opt.Representation {
	case Summing:
		x, _, err = solver.SolveStructural(r.summing, r.omega, base)
	default:
		x, err = r.proj.Apply(base)
	}
	if err != nil {
		return nil, err
	}

	x, status, err := r.repair(base, x)
	if err != nil {
		return nil, err
	}

	d, err := r.discrepancy(x)
	if err != nil {
		return nil, err
	}
	return &Result{
		Reconciled:  x,
		Status:      status.String(),
		Discrepancy: d,
	}, nil
}

// repair applies the configured non-negativity mode to a reconciled vector.
func (r *Reconciler) repair(base, x []float64) ([]float64, solver.Status, error) {
	if r.opt.NonNeg == solver.NonNegOff || !anyNegative(x) {
		return x, solver.StatusOK, nil
	}

	switch r.opt.NonNeg {
	case solver.NonNegHeuristic:
		bottom := make([]float64, len(r.bottomPos))
		for i, p := range r.bottomPos {
			bottom[i] = x[p]
		}
		full, _, status, err := solver.SetNegativeToZero(r.summing, bottom)
		return full, status, err
	case solver.NonNegExact:
		full, _, status, err := solver.NonNegativeGLS(r.summing, r.omega, base, r.opt.QPIterations)
		return full, status, err
	}
	return nil, 0, fmt.Errorf("%d, %w", int(r.opt.NonNeg), solver.ErrUnknownNonNegMode)
}

func anyNegative(x []float64) bool {
	for _, v := range x {
		if v < -negTol {
			return true
		}
	}
	return false
}
