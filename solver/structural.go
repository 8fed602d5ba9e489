package solver

import (
	"fmt"

	mat_ "github.com/danigiro/tafs-reco/mat"

	"gonum.org/v1/gonum/mat"
)

// SolveStructural reconciles through the summing-matrix representation:
// bottom = (S' omega^-1 S)^-1 S' omega^-1 base, full = S*bottom. Agrees with
// the zero-constraint projection up to floating tolerance but requires a
// positive-definite weighting; a weighting that cannot be factored surfaces
// as ErrNearSingular so the caller can pick a different covariance strategy.
func SolveStructural(s mat.Matrix, omega *mat.SymDense, base []float64) (full, bottom []float64, err error) {
	if s == nil || omega == nil {
		return nil, nil, ErrDimMismatch
	}
	d, q := s.Dims()
	if omega.SymmetricDim() != d {
		return nil, nil, fmt.Errorf(
			"summing matrix has %d rows but weighting is %d, %w",
			d, omega.SymmetricDim(), ErrDimMismatch,
		)
	}
	if len(base) != d {
		return nil, nil, fmt.Errorf("got %d values for dimension %d, %w", len(base), d, ErrDimMismatch)
	}

	var chol mat.Cholesky
	if !chol.Factorize(omega) {
		return nil, nil, fmt.Errorf("weighting matrix, %w", ErrNearSingular)
	}

	// ws = omega^-1 S
	var ws mat.Dense
	if err := chol.SolveTo(&ws, s); err != nil {
		return nil, nil, fmt.Errorf("weighting matrix, %w", ErrNearSingular)
	}

	var q2 mat.Dense
	q2.Mul(s.T(), &ws) // q x q

	rhs := mat.NewVecDense(q, nil)
	rhs.MulVec(ws.T(), mat.NewVecDense(d, base))

	y, err := solveSymFromDense(&q2, rhs)
	if err != nil {
		return nil, nil, fmt.Errorf("bottom-level system, %w", err)
	}

	bottom = make([]float64, q)
	for i := 0; i < q; i++ {
		bottom[i] = y.At(i, 0)
	}

	fullVec := mat.NewVecDense(d, nil)
	fullVec.MulVec(s, mat.NewVecDense(q, bottom))
	full = make([]float64, d)
	for i := 0; i < d; i++ {
		full[i] = fullVec.AtVec(i)
	}
	return full, bottom, nil
}

func solveSymFromDense(a *mat.Dense, b mat.Matrix) (*mat.Dense, error) {
	sym, err := mat_.SymFromDense(a)
	if err != nil {
		return nil, err
	}
	return solveSym(sym, b)
}
