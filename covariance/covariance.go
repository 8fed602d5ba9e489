package covariance

import (
	"errors"
	"fmt"
	"math"

	"github.com/danigiro/tafs-reco/hierarchy"
	mat_ "github.com/danigiro/tafs-reco/mat"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrInsufficientResiduals = errors.New("insufficient residual rows for covariance strategy")
	ErrZeroVariance          = errors.New("residual series has zero variance")
	ErrSeriesCountMismatch   = errors.New("residual columns do not match structure size")
)

// CrossSectional estimates the n x n weighting matrix for a cross-sectional
// hierarchy. Residuals may be nil for the Structural strategy and are
// required otherwise.
func CrossSectional(strategy Strategy, h *hierarchy.Hierarchy, r *Residuals) (*mat.SymDense, error) {
	if h == nil {
		return nil, hierarchy.ErrNilHierarchy
	}
	if strategy == Structural {
		return mat_.NewDiagSym(h.Leaves()), nil
	}
	if r == nil {
		return nil, fmt.Errorf("strategy %s, %w", strategy, ErrNoResiduals)
	}
	n, _, _ := h.Dims()
	_, cols := r.Dims()
	if cols != n {
		return nil, fmt.Errorf("got %d residual columns for %d series, %w", cols, n, ErrSeriesCountMismatch)
	}
	return estimate(strategy, r.data)
}

// Temporal estimates the weighting matrix over a flattened temporal grid from
// horizon-indexed residuals assembled in grid order.
func Temporal(strategy Strategy, t *hierarchy.Temporal, hr *HorizonResiduals) (*mat.SymDense, error) {
	if t == nil {
		return nil, hierarchy.ErrNilTemporal
	}
	if strategy == Structural {
		return mat_.NewDiagSym(t.Leaves()), nil
	}
	return estimateHorizon(strategy, hr, t.GridLen())
}

// CrossTemporal estimates the weighting matrix over a flattened
// cross-temporal grid from horizon-indexed residuals assembled in grid order.
func CrossTemporal(strategy Strategy, ct *hierarchy.CrossTemporal, hr *HorizonResiduals) (*mat.SymDense, error) {
	if ct == nil {
		return nil, hierarchy.ErrNilHierarchy
	}
	if strategy == Structural {
		return mat_.NewDiagSym(ct.Leaves()), nil
	}
	return estimateHorizon(strategy, hr, ct.Dim())
}

func estimateHorizon(strategy Strategy, hr *HorizonResiduals, dim int) (*mat.SymDense, error) {
	if hr == nil {
		return nil, fmt.Errorf("strategy %s, %w", strategy, ErrNoResiduals)
	}
	assembled, err := hr.Assembled()
	if err != nil {
		return nil, err
	}
	_, cols := assembled.Dims()
	if cols != dim {
		return nil, fmt.Errorf("got %d residual columns for grid %d, %w", cols, dim, ErrSeriesCountMismatch)
	}
	return estimate(strategy, assembled)
}

// BlockDiagonal applies the strategy per aggregation order and assembles the
// per-order estimates block-diagonally in grid order. Cheaper than estimating
// the full grid covariance and the usual choice when the grid is large
// relative to the residual sample.
func BlockDiagonal(strategy Strategy, hr *HorizonResiduals) (*mat.SymDense, error) {
	if hr == nil {
		return nil, ErrNoResiduals
	}
	if strategy == Structural {
		return nil, fmt.Errorf("strategy %s has no residual blocks, %w", strategy, ErrUnknownStrategy)
	}
	orders := hr.temporal.Orders()
	blocks := make([]*mat.SymDense, 0, len(orders))
	for _, k := range orders {
		block, err := hr.Block(k)
		if err != nil {
			return nil, err
		}
		est, err := estimate(strategy, block)
		if err != nil {
			return nil, fmt.Errorf("order %d, %w", k, err)
		}
		blocks = append(blocks, est)
	}
	return mat_.BlockDiagSym(blocks)
}

func estimate(strategy Strategy, x *mat.Dense) (*mat.SymDense, error) {
	rows, cols := x.Dims()
	if rows < 2 {
		return nil, fmt.Errorf("strategy %s with %d rows, %w", strategy, rows, ErrTooFewRows)
	}

	switch strategy {
	case Sample:
		if rows <= cols {
			return nil, fmt.Errorf(
				"strategy %s needs more than %d rows for %d series, got %d, %w",
				strategy, cols, cols, rows, ErrInsufficientResiduals,
			)
		}
		cov := mat.NewSymDense(cols, nil)
		stat.CovarianceMatrix(cov, x, nil)
		return cov, nil
	case Diagonal:
		cov := mat.NewSymDense(cols, nil)
		stat.CovarianceMatrix(cov, x, nil)
		diag := make([]float64, cols)
		for i := 0; i < cols; i++ {
			diag[i] = cov.At(i, i)
			if diag[i] <= 0 {
				return nil, fmt.Errorf("series %d, %w", i, ErrZeroVariance)
			}
		}
		return mat_.NewDiagSym(diag), nil
	case Shrinkage:
		return shrink(x)
	}
	return nil, fmt.Errorf("%s, %w", strategy, ErrUnknownStrategy)
}

// shrink computes the diagonal-target shrinkage estimator: the sample
// covariance with its off-diagonal entries damped by (1-lambda), where the
// intensity lambda minimizes the expected squared error of the shrunk
// correlations (Schafer-Strimmer closed form). The result is positive
// definite for any sample size as long as every series has positive variance.
func shrink(x *mat.Dense) (*mat.SymDense, error) {
	rows, cols := x.Dims()

	cov := mat.NewSymDense(cols, nil)
	stat.CovarianceMatrix(cov, x, nil)

	sd := make([]float64, cols)
	for i := 0; i < cols; i++ {
		v := cov.At(i, i)
		if v <= 0 {
			return nil, fmt.Errorf("series %d, %w", i, ErrZeroVariance)
		}
		sd[i] = math.Sqrt(v)
	}

	// standardize columns once; correlation variance comes from the spread of
	// the per-row cross products
	std := mat.NewDense(rows, cols, nil)
	for j := 0; j < cols; j++ {
		col := mat.Col(nil, j, x)
		mean := stat.Mean(col, nil)
		for i := 0; i < rows; i++ {
			std.Set(i, j, (col[i]-mean)/sd[j])
		}
	}

	t := float64(rows)
	var varSum, corSum float64
	for i := 0; i < cols; i++ {
		for j := i + 1; j < cols; j++ {
			r := cov.At(i, j) / (sd[i] * sd[j])

			var wMean float64
			for k := 0; k < rows; k++ {
				wMean += std.At(k, i) * std.At(k, j)
			}
			wMean /= t

			var wVar float64
			for k := 0; k < rows; k++ {
				d := std.At(k, i)*std.At(k, j) - wMean
				wVar += d * d
			}
			wVar *= t / ((t - 1) * (t - 1) * (t - 1))

			varSum += wVar
			corSum += r * r
		}
	}

	lambda := 1.0
	if corSum > 0 {
		lambda = varSum / corSum
	}
	lambda = math.Max(0.0, math.Min(1.0, lambda))

	shrunk := mat.NewSymDense(cols, nil)
	for i := 0; i < cols; i++ {
		shrunk.SetSym(i, i, cov.At(i, i))
		for j := i + 1; j < cols; j++ {
			shrunk.SetSym(i, j, (1.0-lambda)*cov.At(i, j))
		}
	}
	return shrunk, nil
}
