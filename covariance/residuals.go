package covariance

import (
	"errors"
	"fmt"

	"github.com/danigiro/tafs-reco/hierarchy"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrNoResiduals   = errors.New("no residual data")
	ErrResidualShape = errors.New("residual block has the wrong shape")
	ErrBlockNotSet   = errors.New("residual block not set for aggregation order")
	ErrNoSeries      = errors.New("series count must be positive")
	ErrTooFewRows    = errors.New("need at least two residual rows")
)

// Residuals holds in-sample one-step residuals: time-ordered rows, one column
// per series in structure order.
type Residuals struct {
	data *mat.Dense
}

// NewResiduals validates and wraps a residual matrix.
func NewResiduals(x *mat.Dense) (*Residuals, error) {
	if x == nil {
		return nil, ErrNoResiduals
	}
	rows, cols := x.Dims()
	if rows < 2 {
		return nil, fmt.Errorf("got %d rows, %w", rows, ErrTooFewRows)
	}
	if cols == 0 {
		return nil, ErrNoSeries
	}
	return &Residuals{data: mat.DenseCopyOf(x)}, nil
}

// Dims returns the residual row (time) and column (series) counts.
func (r *Residuals) Dims() (rows, cols int) {
	return r.data.Dims()
}

// Matrix exposes the residuals as a read-only gonum matrix.
func (r *Residuals) Matrix() mat.Matrix {
	return r.data
}

// HorizonResiduals stores residuals for every (aggregation order, horizon)
// pair of a temporal grid in one flat backing array with computed column
// offsets. Column order matches the flattened forecast layout: aggregation
// orders descending, horizons within an order, series within a horizon (for
// cross-temporal grids; series = 1 for a purely temporal grid).
type HorizonResiduals struct {
	temporal *hierarchy.Temporal
	series   int
	rows     int

	offsets map[int]int // order -> first column of its block
	filled  map[int]bool
	data    *mat.Dense // rows x (GridLen * series)
}

// NewHorizonResiduals allocates the container for a temporal structure,
// a cross-sectional series count and a shared residual row count.
func NewHorizonResiduals(t *hierarchy.Temporal, series, rows int) (*HorizonResiduals, error) {
	if t == nil {
		return nil, hierarchy.ErrNilTemporal
	}
	if series < 1 {
		return nil, ErrNoSeries
	}
	if rows < 2 {
		return nil, fmt.Errorf("got %d rows, %w", rows, ErrTooFewRows)
	}

	hr := &HorizonResiduals{
		temporal: t,
		series:   series,
		rows:     rows,
		offsets:  make(map[int]int),
		filled:   make(map[int]bool),
		data:     mat.NewDense(rows, t.GridLen()*series, nil),
	}
	m := t.M()
	var offset int
	for _, k := range t.Orders() {
		hr.offsets[k] = offset
		offset += m / k * series
	}
	return hr, nil
}

// SetBlock stores the residuals for one aggregation order. The block must
// have the shared row count and m/order*series columns, horizon-major.
func (hr *HorizonResiduals) SetBlock(order int, block *mat.Dense) error {
	offset, ok := hr.offsets[order]
	if !ok {
		return fmt.Errorf("order %d, %w", order, hierarchy.ErrUnknownOrder)
	}
	width := hr.temporal.M() / order * hr.series
	rows, cols := block.Dims()
	if rows != hr.rows || cols != width {
		return fmt.Errorf("order %d block is %dx%d, want %dx%d, %w",
			order, rows, cols, hr.rows, width, ErrResidualShape)
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			hr.data.Set(i, offset+j, block.At(i, j))
		}
	}
	hr.filled[order] = true
	return nil
}

// Block returns a copy of the stored residuals for one aggregation order.
func (hr *HorizonResiduals) Block(order int) (*mat.Dense, error) {
	offset, ok := hr.offsets[order]
	if !ok {
		return nil, fmt.Errorf("order %d, %w", order, hierarchy.ErrUnknownOrder)
	}
	if !hr.filled[order] {
		return nil, fmt.Errorf("order %d, %w", order, ErrBlockNotSet)
	}
	width := hr.temporal.M() / order * hr.series
	return mat.DenseCopyOf(hr.data.Slice(0, hr.rows, offset, offset+width)), nil
}

// Assembled returns the full residual matrix in flattened-forecast column
// order. Every aggregation order must have been set.
func (hr *HorizonResiduals) Assembled() (*mat.Dense, error) {
	for _, k := range hr.temporal.Orders() {
		if !hr.filled[k] {
			return nil, fmt.Errorf("order %d, %w", k, ErrBlockNotSet)
		}
	}
	return mat.DenseCopyOf(hr.data), nil
}

// Dims returns the residual row count and the assembled column count.
func (hr *HorizonResiduals) Dims() (rows, cols int) {
	return hr.data.Dims()
}
