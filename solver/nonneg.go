package solver

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var ErrUnknownNonNegMode = errors.New("unknown non-negativity mode")

// DefaultQPIterations caps the active-set iterations of the exact mode so one
// ill-conditioned problem cannot stall an ensemble run.
const DefaultQPIterations = 200

const negTol = 1e-9

// Status reports how a non-negativity repair ended. It is a value, not an
// error: a best-effort or iteration-limited result still carries the best
// vector achieved, and the caller decides whether to retry or discard.
type Status int

const (
	// StatusOK means the result is coherent and non-negative, optimal for
	// the requested mode.
	StatusOK Status = iota
	// StatusBestEffort means the heuristic fixed every bottom series and
	// negative aggregate values still remain. Possible only when the
	// aggregation coefficients themselves go negative.
	StatusBestEffort
	// StatusIterationLimit means the exact solver hit its iteration cap
	// before converging.
	StatusIterationLimit
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusBestEffort:
		return "best-effort"
	case StatusIterationLimit:
		return "iteration-limit"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// NonNegMode selects the non-negativity treatment.
type NonNegMode int

const (
	// NonNegOff leaves the unconstrained projection untouched.
	NonNegOff NonNegMode = iota
	// NonNegHeuristic zeroes negative bottom-level values and re-aggregates.
	// Always terminates; the cheap default at ensemble scale.
	NonNegHeuristic
	// NonNegExact solves the bound-constrained GLS program with an
	// active-set method.
	NonNegExact
)

func (m NonNegMode) String() string {
	switch m {
	case NonNegOff:
		return "off"
	case NonNegHeuristic:
		return "heuristic"
	case NonNegExact:
		return "exact"
	}
	return fmt.Sprintf("nonneg(%d)", int(m))
}

// ParseNonNegMode maps a configuration name to its NonNegMode.
func ParseNonNegMode(name string) (NonNegMode, error) {
	switch name {
	case "off":
		return NonNegOff, nil
	case "heuristic":
		return NonNegHeuristic, nil
	case "exact":
		return NonNegExact, nil
	}
	return 0, fmt.Errorf("%q, %w", name, ErrUnknownNonNegMode)
}

// SetNegativeToZero repairs a reconciled bottom-level vector by fixing its
// negative entries to zero, removing them from the free set, and
// re-aggregating through the summing matrix. The free set only shrinks, so
// the loop always terminates; with non-negative aggregation coefficients the
// result is coherent and non-negative after one pass. An already
// non-negative bottom vector passes through unchanged.
func SetNegativeToZero(s mat.Matrix, bottom []float64) (full, fixed []float64, status Status, err error) {
	if s == nil {
		return nil, nil, StatusOK, ErrDimMismatch
	}
	d, q := s.Dims()
	if len(bottom) != q {
		return nil, nil, StatusOK, fmt.Errorf("got %d bottom values for %d free variables, %w", len(bottom), q, ErrDimMismatch)
	}

	fixed = make([]float64, q)
	copy(fixed, bottom)
	free := q

	for free > 0 {
		var clamped bool
		for j := 0; j < q; j++ {
			if fixed[j] < 0 {
				fixed[j] = 0
				free--
				clamped = true
			}
		}
		if !clamped {
			break
		}
	}

	fullVec := mat.NewVecDense(d, nil)
	fullVec.MulVec(s, mat.NewVecDense(q, fixed))
	full = make([]float64, d)
	for i := 0; i < d; i++ {
		full[i] = fullVec.AtVec(i)
		if full[i] < -negTol {
			status = StatusBestEffort
		}
	}
	return full, fixed, status, nil
}

// NonNegativeGLS solves min (S*b - base)' omega^-1 (S*b - base) subject to
// b >= 0 with a primal active-set method (Lawson-Hanson) on the bottom-level
// normal equations, capped at maxIter passes. On StatusIterationLimit the
// best iterate found so far is returned alongside the status.
func NonNegativeGLS(s mat.Matrix, omega *mat.SymDense, base []float64, maxIter int) (full, bottom []float64, status Status, err error) {
	if s == nil || omega == nil {
		return nil, nil, StatusOK, ErrDimMismatch
	}
	d, q := s.Dims()
	if omega.SymmetricDim() != d {
		return nil, nil, StatusOK, fmt.Errorf(
			"summing matrix has %d rows but weighting is %d, %w",
			d, omega.SymmetricDim(), ErrDimMismatch,
		)
	}
	if len(base) != d {
		return nil, nil, StatusOK, fmt.Errorf("got %d values for dimension %d, %w", len(base), d, ErrDimMismatch)
	}
	if maxIter <= 0 {
		maxIter = DefaultQPIterations
	}

	var chol mat.Cholesky
	if !chol.Factorize(omega) {
		return nil, nil, StatusOK, fmt.Errorf("weighting matrix, %w", ErrNearSingular)
	}
	var ws mat.Dense
	if err := chol.SolveTo(&ws, s); err != nil {
		return nil, nil, StatusOK, fmt.Errorf("weighting matrix, %w", ErrNearSingular)
	}

	// normal equations of the bottom-level problem
	var qm mat.Dense
	qm.Mul(s.T(), &ws)
	c := mat.NewVecDense(q, nil)
	c.MulVec(ws.T(), mat.NewVecDense(d, base))

	b := make([]float64, q)
	passive := make([]bool, q)
	status = StatusIterationLimit

	for iter := 0; iter < maxIter; iter++ {
		// pick the active variable with the steepest descent direction
		grad := negGradient(&qm, c, b)
		pick := -1
		best := negTol
		for j := 0; j < q; j++ {
			if !passive[j] && grad[j] > best {
				best = grad[j]
				pick = j
			}
		}
		if pick < 0 {
			status = StatusOK
			break
		}
		passive[pick] = true

		// inner loop: solve the unconstrained subproblem on the passive set
		// and step back whenever a passive variable crosses zero
		for {
			z, solveErr := solvePassive(&qm, c, passive)
			if solveErr != nil {
				return nil, nil, StatusOK, solveErr
			}

			alpha := 1.0
			drop := -1
			for j := 0; j < q; j++ {
				if !passive[j] || z[j] > negTol {
					continue
				}
				if step := b[j] / (b[j] - z[j]); step < alpha {
					alpha = step
					drop = j
				}
			}
			if drop < 0 {
				copy(b, z)
				break
			}
			for j := 0; j < q; j++ {
				if passive[j] {
					b[j] += alpha * (z[j] - b[j])
				}
			}
			b[drop] = 0
			passive[drop] = false
		}
	}

	for j := 0; j < q; j++ {
		if b[j] < 0 {
			b[j] = 0
		}
	}

	fullVec := mat.NewVecDense(d, nil)
	fullVec.MulVec(s, mat.NewVecDense(q, b))
	full = make([]float64, d)
	for i := 0; i < d; i++ {
		full[i] = fullVec.AtVec(i)
	}
	return full, b, status, nil
}

func negGradient(qm *mat.Dense, c *mat.VecDense, b []float64) []float64 {
	q := len(b)
	qb := mat.NewVecDense(q, nil)
	qb.MulVec(qm, mat.NewVecDense(q, b))

	grad := make([]float64, q)
	for j := 0; j < q; j++ {
		grad[j] = c.AtVec(j) - qb.AtVec(j)
	}
	return grad
}

// solvePassive solves the subproblem restricted to the passive variables and
// scatters the solution back, zeros on the active set.
func solvePassive(qm *mat.Dense, c *mat.VecDense, passive []bool) ([]float64, error) {
	q := len(passive)
	idx := make([]int, 0, q)
	for j := 0; j < q; j++ {
		if passive[j] {
			idx = append(idx, j)
		}
	}

	sub := mat.NewSymDense(len(idx), nil)
	rhs := mat.NewVecDense(len(idx), nil)
	for a, ja := range idx {
		rhs.SetVec(a, c.AtVec(ja))
		for bi := a; bi < len(idx); bi++ {
			jb := idx[bi]
			sub.SetSym(a, bi, 0.5*(qm.At(ja, jb)+qm.At(jb, ja)))
		}
	}

	y, err := solveSym(sub, rhs)
	if err != nil {
		return nil, fmt.Errorf("passive-set system, %w", err)
	}

	z := make([]float64, q)
	for a, ja := range idx {
		z[ja] = y.At(a, 0)
	}
	return z, nil
}
