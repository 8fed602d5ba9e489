// Package solver implements the generalized-least-squares projection onto an
// aggregation-constraint subspace, in both the zero-constraint and
// summing-matrix representations, together with exact and heuristic
// non-negativity repair of the projected vector.
package solver

import (
	"errors"
	"fmt"

	mat_ "github.com/danigiro/tafs-reco/mat"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrDimMismatch  = errors.New("input dimensions do not conform")
	ErrNearSingular = errors.New("weighting system is singular or near singular")
)

const (
	// maxJitter bounds the diagonal-jitter retries before falling back to a
	// pseudo-inverse.
	maxJitter = 3

	pinvTol = 1e-12
)

// Projection is the factored GLS projection operator for a fixed constraint
// matrix M and weighting matrix omega. Building it performs the expensive
// factorization once; Apply is then a pair of matrix-vector products, so one
// Projection can be shared across many base-forecast vectors and across
// goroutines (it is read-only after construction).
//
// Apply computes x = b - omega*M'*(M*omega*M')^-1 * M*b, the minimizer of
// (x-b)' omega^-1 (x-b) subject to M*x = 0.
type Projection struct {
	constraint *mat.Dense
	gain       *mat.Dense // omega*M'*(M*omega*M')^-1, d x r
	dim        int
	rows       int
}

// NewProjection factors the projection operator. The weighting matrix must
// conform to the constraint columns. A rank-deficient constraint system is
// handled through a pseudo-inverse; an unusable weighting surfaces as
// ErrNearSingular.
func NewProjection(constraint mat.Matrix, omega *mat.SymDense) (*Projection, error) {
	if constraint == nil || omega == nil {
		return nil, ErrDimMismatch
	}
	r, d := constraint.Dims()
	if omega.SymmetricDim() != d {
		return nil, fmt.Errorf(
			"constraint has %d columns but weighting is %dx%d, %w",
			d, omega.SymmetricDim(), omega.SymmetricDim(), ErrDimMismatch,
		)
	}

	var mo mat.Dense
	mo.Mul(constraint, omega) // r x d

	var g mat.Dense
	g.Mul(&mo, constraint.T()) // r x r

	gSym, err := mat_.SymFromDense(&g)
	if err != nil {
		return nil, err
	}

	// y = (M omega M')^-1 M omega
	y, err := solveSym(gSym, &mo)
	if err != nil {
		return nil, fmt.Errorf("factoring %dx%d projection, %w", r, d, err)
	}

	gain := mat.NewDense(d, r, nil)
	gain.CloneFrom(y.T())

	return &Projection{
		constraint: mat.DenseCopyOf(constraint),
		gain:       gain,
		dim:        d,
		rows:       r,
	}, nil
}

// Dim returns the flattened forecast length the projection applies to.
func (p *Projection) Dim() int {
	return p.dim
}

// Apply projects a base-forecast vector onto the constraint subspace.
func (p *Projection) Apply(base []float64) ([]float64, error) {
	if len(base) != p.dim {
		return nil, fmt.Errorf("got %d values for dimension %d, %w", len(base), p.dim, ErrDimMismatch)
	}
	b := mat.NewVecDense(p.dim, base)

	mb := mat.NewVecDense(p.rows, nil)
	mb.MulVec(p.constraint, b)

	adj := mat.NewVecDense(p.dim, nil)
	adj.MulVec(p.gain, mb)

	out := make([]float64, p.dim)
	for i := 0; i < p.dim; i++ {
		out[i] = base[i] - adj.AtVec(i)
	}
	return out, nil
}

// ApplyBatch projects every column of base at once, reusing the cached
// factorization. This is the batched form used for sample ensembles.
func (p *Projection) ApplyBatch(base *mat.Dense) (*mat.Dense, error) {
	if base == nil {
		return nil, ErrDimMismatch
	}
	d, cols := base.Dims()
	if d != p.dim {
		return nil, fmt.Errorf("got %d rows for dimension %d, %w", d, p.dim, ErrDimMismatch)
	}

	var mb mat.Dense
	mb.Mul(p.constraint, base) // r x cols

	var adj mat.Dense
	adj.Mul(p.gain, &mb) // d x cols

	out := mat.NewDense(d, cols, nil)
	out.Sub(base, &adj)
	return out, nil
}

// solveSym solves g*x = b for symmetric positive semi-definite g. Cholesky
// with growing diagonal jitter is tried first; a rank-deficient g falls back
// to an SVD pseudo-inverse. Returns ErrNearSingular when g carries no usable
// scale at all.
func solveSym(g *mat.SymDense, b mat.Matrix) (*mat.Dense, error) {
	n := g.SymmetricDim()

	var trace float64
	for i := 0; i < n; i++ {
		trace += g.At(i, i)
	}
	if trace <= 0 {
		return nil, ErrNearSingular
	}

	work := mat.NewSymDense(n, nil)
	work.CopySym(g)
	eps := 1e-10 * trace / float64(n)
	for attempt := 0; attempt <= maxJitter; attempt++ {
		var chol mat.Cholesky
		if chol.Factorize(work) {
			var x mat.Dense
			if err := chol.SolveTo(&x, b); err == nil {
				return &x, nil
			}
		}
		for i := 0; i < n; i++ {
			work.SetSym(i, i, work.At(i, i)+eps)
		}
		eps *= 10
	}

	return pinvSolve(g, b)
}

// pinvSolve computes pinv(g)*b through a thin SVD, zeroing singular values
// below a relative tolerance.
func pinvSolve(g *mat.SymDense, b mat.Matrix) (*mat.Dense, error) {
	var svd mat.SVD
	if !svd.Factorize(g, mat.SVDThin) {
		return nil, ErrNearSingular
	}

	values := svd.Values(nil)
	largest := values[0]
	if largest <= 0 {
		return nil, ErrNearSingular
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// pinv = V * diag(1/s) * U'
	n := len(values)
	inv := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		if values[i] > pinvTol*largest {
			inv.Set(i, i, 1.0/values[i])
		}
	}

	var tmp, pinv, x mat.Dense
	tmp.Mul(&v, inv)
	pinv.Mul(&tmp, u.T())
	x.Mul(&pinv, b)
	return &x, nil
}
