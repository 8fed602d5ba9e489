package mat

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrColMismatch   = errors.New("column size mismatch")
	ErrNotSquare     = errors.New("matrix is not square")
	ErrEmptyBlockSet = errors.New("no blocks to assemble")
)

func NewDenseFromArray(x [][]float64) (*mat.Dense, error) {
	m := len(x)

	n := -1
	for i, row := range x {
		if n >= 0 && len(row) != n {
			return nil, fmt.Errorf("at row %d, %w", i, ErrColMismatch)
		}
		if n < 0 {
			n = len(row)
		}
	}
	if n < 0 {
		n = 0
	}

	// flatten to row order
	data := make([]float64, 0, m*n)
	for _, row := range x {
		data = append(data, row...)
	}
	return mat.NewDense(m, n, data), nil
}

// NewDiagSym returns a symmetric matrix with the given values on the diagonal
// and zeros elsewhere.
func NewDiagSym(diag []float64) *mat.SymDense {
	n := len(diag)
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		s.SetSym(i, i, diag[i])
	}
	return s
}

// SymFromDense converts a square matrix into a SymDense by averaging the
// off-diagonal pairs. Intended for products that are symmetric up to floating
// point roundoff.
func SymFromDense(d mat.Matrix) (*mat.SymDense, error) {
	m, n := d.Dims()
	if m != n {
		return nil, fmt.Errorf("got %dx%d, %w", m, n, ErrNotSquare)
	}
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		s.SetSym(i, i, d.At(i, i))
		for j := i + 1; j < n; j++ {
			s.SetSym(i, j, 0.5*(d.At(i, j)+d.At(j, i)))
		}
	}
	return s, nil
}

// BlockDiagSym assembles symmetric blocks into one block-diagonal symmetric
// matrix, preserving block order.
func BlockDiagSym(blocks []*mat.SymDense) (*mat.SymDense, error) {
	if len(blocks) == 0 {
		return nil, ErrEmptyBlockSet
	}
	var n int
	for _, b := range blocks {
		n += b.SymmetricDim()
	}
	s := mat.NewSymDense(n, nil)
	var offset int
	for _, b := range blocks {
		bn := b.SymmetricDim()
		for i := 0; i < bn; i++ {
			for j := i; j < bn; j++ {
				s.SetSym(offset+i, offset+j, b.At(i, j))
			}
		}
		offset += bn
	}
	return s, nil
}
