package hierarchy

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrFrequencyTooSmall = errors.New("maximum frequency must be at least 2")
	ErrOrderNotDivisor   = errors.New("aggregation order does not divide the maximum frequency")
	ErrDuplicateOrder    = errors.New("duplicate aggregation order")
	ErrMissingUnitOrder  = errors.New("aggregation order set must contain 1")
	ErrUnknownOrder      = errors.New("unknown aggregation order")
	ErrHorizonOutOfRange = errors.New("horizon out of range for aggregation order")
)

// Temporal describes the aggregation structure linking forecasts of a single
// series at different time granularities: for each aggregation order k in the
// set there are m/k forecasts per high-frequency cycle, and each order-k value
// must equal the sum of its k high-frequency values. Flattened vectors are
// ordered most-aggregate first, horizons within each order.
type Temporal struct {
	m      int
	orders []int // descending, last is 1
	nk     int   // total grid length, sum of m/k
	zt     *mat.Dense
}

// NewTemporal builds a Temporal structure for a maximum frequency m and a set
// of aggregation orders. A nil order set selects every divisor of m. The set
// must contain 1 and every member must divide m.
func NewTemporal(m int, orders []int) (*Temporal, error) {
	if m < 2 {
		return nil, fmt.Errorf("got %d, %w", m, ErrFrequencyTooSmall)
	}
	if orders == nil {
		for k := m; k >= 1; k-- {
			if m%k == 0 {
				orders = append(orders, k)
			}
		}
	} else {
		dst := make([]int, len(orders))
		copy(dst, orders)
		orders = dst
		sort.Sort(sort.Reverse(sort.IntSlice(orders)))
	}

	seen := make(map[int]bool, len(orders))
	for _, k := range orders {
		if k < 1 || m%k != 0 {
			return nil, fmt.Errorf("order %d with frequency %d, %w", k, m, ErrOrderNotDivisor)
		}
		if seen[k] {
			return nil, fmt.Errorf("order %d, %w", k, ErrDuplicateOrder)
		}
		seen[k] = true
	}
	if !seen[1] {
		return nil, ErrMissingUnitOrder
	}

	t := &Temporal{
		m:      m,
		orders: orders,
	}
	for _, k := range orders {
		t.nk += m / k
	}
	t.derive()
	return t, nil
}

// derive builds Zt, the (nk-m) x nk matrix whose rows state that every
// aggregated value equals the sum of its k high-frequency values. The
// high-frequency block occupies the last m columns, so Zt = [I | -A].
func (t *Temporal) derive() {
	rows := t.nk - t.m
	zt := mat.NewDense(rows, t.nk, nil)
	hfStart := rows

	var row int
	for _, k := range t.orders {
		if k == 1 {
			continue
		}
		for j := 0; j < t.m/k; j++ {
			zt.Set(row, row, 1.0)
			for l := 0; l < k; l++ {
				zt.Set(row, hfStart+j*k+l, -1.0)
			}
			row++
		}
	}
	t.zt = zt
}

// M returns the maximum (high) frequency.
func (t *Temporal) M() int {
	return t.m
}

// Orders returns the aggregation orders in descending order.
func (t *Temporal) Orders() []int {
	dst := make([]int, len(t.orders))
	copy(dst, t.orders)
	return dst
}

// GridLen returns the flattened forecast grid length, the sum of m/k over all
// aggregation orders.
func (t *Temporal) GridLen() int {
	return t.nk
}

// ZeroConstraint returns Zt with Zt*x = 0 exactly when the flattened grid x is
// temporally coherent.
func (t *Temporal) ZeroConstraint() *mat.Dense {
	return mat.DenseCopyOf(t.zt)
}

// Summing returns the nk x m matrix mapping the m high-frequency values to
// the full coherent grid, the temporal analogue of the cross-sectional
// summing matrix.
func (t *Temporal) Summing() *mat.Dense {
	s := mat.NewDense(t.nk, t.m, nil)
	var row int
	for _, k := range t.orders {
		for j := 0; j < t.m/k; j++ {
			for l := 0; l < k; l++ {
				s.Set(row, j*k+l, 1.0)
			}
			row++
		}
	}
	return s
}

// BottomPositions returns the flattened offsets of the free high-frequency
// values, the last m grid positions.
func (t *Temporal) BottomPositions() []int {
	pos := make([]int, t.m)
	for j := 0; j < t.m; j++ {
		pos[j] = t.nk - t.m + j
	}
	return pos
}

// Index returns the flattened offset of the given (order, horizon) pair,
// horizons counted from 1.
func (t *Temporal) Index(order, horizon int) (int, error) {
	var offset int
	for _, k := range t.orders {
		if k == order {
			if horizon < 1 || horizon > t.m/k {
				return 0, fmt.Errorf("horizon %d for order %d, %w", horizon, order, ErrHorizonOutOfRange)
			}
			return offset + horizon - 1, nil
		}
		offset += t.m / k
	}
	return 0, fmt.Errorf("order %d, %w", order, ErrUnknownOrder)
}

// Leaves returns, per grid position, the number of high-frequency periods the
// position covers: k for every horizon of aggregation order k.
func (t *Temporal) Leaves() []float64 {
	leaves := make([]float64, 0, t.nk)
	for _, k := range t.orders {
		for j := 0; j < t.m/k; j++ {
			leaves = append(leaves, float64(k))
		}
	}
	return leaves
}

// Discrepancy returns max|Zt*x| over the temporal constraints.
func (t *Temporal) Discrepancy(x []float64) (float64, error) {
	if len(x) != t.nk {
		return 0, fmt.Errorf("got %d values for grid length %d, %w", len(x), t.nk, ErrDimMismatch)
	}
	rows := t.nk - t.m
	res := mat.NewVecDense(rows, nil)
	res.MulVec(t.zt, mat.NewVecDense(t.nk, x))

	var worst float64
	for i := 0; i < rows; i++ {
		if d := math.Abs(res.AtVec(i)); d > worst {
			worst = d
		}
	}
	return worst, nil
}
