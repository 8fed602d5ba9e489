package hierarchy

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrNilHierarchy = errors.New("no cross-sectional hierarchy")
	ErrNilTemporal  = errors.New("no temporal structure")
)

// CrossTemporal combines a cross-sectional hierarchy with a temporal
// structure. A forecast over the n x nk grid is coherent when every temporal
// grid column satisfies the cross-sectional constraints and every series row
// satisfies the temporal constraints.
//
// Flattened vectors are grid-major: all n series for the first grid position,
// then all n series for the second, and so on, grid positions ordered as in
// Temporal (most aggregate first). The constraint system stacks the temporal
// constraints for every series over the cross-sectional constraints at the
// high-frequency grid positions only; coherence at aggregated positions
// follows, so the stacked system has full row rank.
type CrossTemporal struct {
	h *Hierarchy
	t *Temporal

	constraint *mat.Dense
}

// NewCrossTemporal combines a hierarchy and a temporal structure.
func NewCrossTemporal(h *Hierarchy, t *Temporal) (*CrossTemporal, error) {
	if h == nil {
		return nil, ErrNilHierarchy
	}
	if t == nil {
		return nil, ErrNilTemporal
	}
	ct := &CrossTemporal{h: h, t: t}
	ct.derive()
	return ct, nil
}

func (ct *CrossTemporal) derive() {
	n, na, _ := ct.h.Dims()
	nk := ct.t.GridLen()
	m := ct.t.M()

	tmpRows := n * (nk - m)
	csRows := na * m
	c := mat.NewDense(tmpRows+csRows, n*nk, nil)

	// Zt applied per series: Zt kron I(n) under grid-major flattening
	zt := ct.t.zt
	for i := 0; i < nk-m; i++ {
		for j := 0; j < nk; j++ {
			v := zt.At(i, j)
			if v == 0 {
				continue
			}
			for s := 0; s < n; s++ {
				c.Set(i*n+s, j*n+s, v)
			}
		}
	}

	// Ut applied at each high-frequency grid position
	ut := ct.h.ut
	hfStart := nk - m
	for j := 0; j < m; j++ {
		for a := 0; a < na; a++ {
			for s := 0; s < n; s++ {
				v := ut.At(a, s)
				if v == 0 {
					continue
				}
				c.Set(tmpRows+j*na+a, (hfStart+j)*n+s, v)
			}
		}
	}
	ct.constraint = c
}

// Hierarchy returns the cross-sectional component.
func (ct *CrossTemporal) Hierarchy() *Hierarchy {
	return ct.h
}

// Temporal returns the temporal component.
func (ct *CrossTemporal) Temporal() *Temporal {
	return ct.t
}

// Dim returns the flattened grid length n*nk.
func (ct *CrossTemporal) Dim() int {
	n, _, _ := ct.h.Dims()
	return n * ct.t.GridLen()
}

// Constraint returns the combined zero-constraint matrix; a flattened vector x
// is cross-temporally coherent exactly when Constraint()*x = 0.
func (ct *CrossTemporal) Constraint() *mat.Dense {
	return mat.DenseCopyOf(ct.constraint)
}

// Summing returns the (n*nk) x (nb*m) matrix mapping the free bottom-series
// high-frequency values to the full coherent grid: the Kronecker product of
// the temporal and cross-sectional summing matrices under the grid-major
// layout. Free variables are ordered high-frequency period major, bottom
// series within a period.
func (ct *CrossTemporal) Summing() *mat.Dense {
	n, _, nb := ct.h.Dims()
	nk := ct.t.GridLen()
	m := ct.t.M()

	st := ct.t.Summing()
	sc := ct.h.s

	s := mat.NewDense(n*nk, nb*m, nil)
	for g := 0; g < nk; g++ {
		for j := 0; j < m; j++ {
			tv := st.At(g, j)
			if tv == 0 {
				continue
			}
			for i := 0; i < n; i++ {
				for b := 0; b < nb; b++ {
					cv := sc.At(i, b)
					if cv == 0 {
						continue
					}
					s.Set(g*n+i, j*nb+b, tv*cv)
				}
			}
		}
	}
	return s
}

// BottomPositions returns the flattened offsets of the free variables, the
// bottom series at the high-frequency grid positions, in the same order as
// the Summing columns.
func (ct *CrossTemporal) BottomPositions() []int {
	n, na, nb := ct.h.Dims()
	nk := ct.t.GridLen()
	m := ct.t.M()

	pos := make([]int, 0, nb*m)
	for j := 0; j < m; j++ {
		for b := 0; b < nb; b++ {
			pos = append(pos, (nk-m+j)*n+na+b)
		}
	}
	return pos
}

// Index returns the flattened offset for a series index and a temporal
// (order, horizon) pair.
func (ct *CrossTemporal) Index(series, order, horizon int) (int, error) {
	n, _, _ := ct.h.Dims()
	if series < 0 || series >= n {
		return 0, fmt.Errorf("series %d of %d, %w", series, n, ErrDimMismatch)
	}
	grid, err := ct.t.Index(order, horizon)
	if err != nil {
		return 0, err
	}
	return grid*n + series, nil
}

// Leaves returns, per flattened position, the product of the cross-sectional
// leaf count and the temporal order, the structural variance proxy for the
// combined framework.
func (ct *CrossTemporal) Leaves() []float64 {
	hl := ct.h.Leaves()
	tl := ct.t.Leaves()

	leaves := make([]float64, 0, len(hl)*len(tl))
	for _, wk := range tl {
		for _, ws := range hl {
			leaves = append(leaves, wk*ws)
		}
	}
	return leaves
}

// Discrepancy returns the largest absolute violation across both constraint
// families.
func (ct *CrossTemporal) Discrepancy(x []float64) (float64, error) {
	if len(x) != ct.Dim() {
		return 0, fmt.Errorf("got %d values for grid %d, %w", len(x), ct.Dim(), ErrDimMismatch)
	}
	rows, _ := ct.constraint.Dims()
	res := mat.NewVecDense(rows, nil)
	res.MulVec(ct.constraint, mat.NewVecDense(len(x), x))

	var worst float64
	for i := 0; i < rows; i++ {
		if d := math.Abs(res.AtVec(i)); d > worst {
			worst = d
		}
	}
	return worst, nil
}
