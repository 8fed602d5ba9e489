// Package sample simulates ensembles of incoherent base-forecast paths around
// a point base forecast, either by block-resampling historical residuals or
// by drawing from a fitted Gaussian. The ensembles feed the probabilistic
// reconciliation orchestrator, which never cares where a path came from.
package sample

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/danigiro/tafs-reco/covariance"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrNoSamples        = errors.New("sample count must be positive")
	ErrBlockLen         = errors.New("block length must be positive and at most the residual rows")
	ErrBaseLenMismatch  = errors.New("base forecast length does not match residual columns")
	ErrCovSizeMismatch  = errors.New("covariance size does not match base forecast length")
	ErrNotPositiveDef   = errors.New("covariance is not positive definite")
	ErrMissingResiduals = errors.New("no residuals to resample")
)

// BlockBootstrapOptions configures the block bootstrap.
type BlockBootstrapOptions struct {
	// BlockLen is the number of consecutive residual rows drawn per block.
	// Whole rows keep the cross-sectional dependence; consecutive rows keep
	// the temporal dependence within a block.
	BlockLen int

	// Samples is the ensemble size B.
	Samples int

	// Seed pair for the deterministic PCG source.
	Seed1 uint64
	Seed2 uint64
}

// Validate applies defaults and checks ranges.
func (o *BlockBootstrapOptions) Validate() (*BlockBootstrapOptions, error) {
	if o == nil {
		o = NewDefaultBlockBootstrapOptions()
	}
	if o.Samples <= 0 {
		return nil, fmt.Errorf("got %d, %w", o.Samples, ErrNoSamples)
	}
	if o.BlockLen <= 0 {
		return nil, fmt.Errorf("got %d, %w", o.BlockLen, ErrBlockLen)
	}
	return o, nil
}

// NewDefaultBlockBootstrapOptions returns the default bootstrap settings.
func NewDefaultBlockBootstrapOptions() *BlockBootstrapOptions {
	return &BlockBootstrapOptions{
		BlockLen: 4,
		Samples:  200,
		Seed1:    1,
		Seed2:    2,
	}
}

// BlockBootstrap draws an ensemble of base-forecast paths by adding
// block-resampled residual rows to the base forecast. Each sample perturbs
// the base with one residual row taken from a randomly placed block, so the
// joint cross-sectional error structure of the history is preserved sample by
// sample. Returns one row per sample.
func BlockBootstrap(base []float64, resid *covariance.Residuals, opt *BlockBootstrapOptions) (*mat.Dense, error) {
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	if resid == nil {
		return nil, ErrMissingResiduals
	}
	rows, cols := resid.Dims()
	if len(base) != cols {
		return nil, fmt.Errorf("base has %d values for %d residual columns, %w", len(base), cols, ErrBaseLenMismatch)
	}
	if opt.BlockLen > rows {
		return nil, fmt.Errorf("block length %d with %d residual rows, %w", opt.BlockLen, rows, ErrBlockLen)
	}

	rnd := rand.New(rand.NewPCG(opt.Seed1, opt.Seed2))
	residual := resid.Matrix()

	out := mat.NewDense(opt.Samples, cols, nil)
	for b := 0; b < opt.Samples; b++ {
		start := rnd.IntN(rows - opt.BlockLen + 1)
		offset := rnd.IntN(opt.BlockLen)
		row := start + offset
		for j := 0; j < cols; j++ {
			out.Set(b, j, base[j]+residual.At(row, j))
		}
	}
	return out, nil
}

// GaussianOptions configures the multivariate-Gaussian simulator.
type GaussianOptions struct {
	Samples int
	Seed1   uint64
	Seed2   uint64
}

// Validate applies defaults and checks ranges.
func (o *GaussianOptions) Validate() (*GaussianOptions, error) {
	if o == nil {
		o = NewDefaultGaussianOptions()
	}
	if o.Samples <= 0 {
		return nil, fmt.Errorf("got %d, %w", o.Samples, ErrNoSamples)
	}
	return o, nil
}

// NewDefaultGaussianOptions returns the default Gaussian settings.
func NewDefaultGaussianOptions() *GaussianOptions {
	return &GaussianOptions{
		Samples: 200,
		Seed1:   1,
		Seed2:   2,
	}
}

// Gaussian draws an ensemble from N(base, cov) using the Cholesky factor of
// the covariance. Returns one row per sample.
func Gaussian(base []float64, cov *mat.SymDense, opt *GaussianOptions) (*mat.Dense, error) {
	opt, err := opt.Validate()
	if err != nil {
		return nil, err
	}
	n := len(base)
	if cov == nil || cov.SymmetricDim() != n {
		return nil, fmt.Errorf("base has %d values, %w", n, ErrCovSizeMismatch)
	}

	var chol mat.Cholesky
	if !chol.Factorize(cov) {
		return nil, ErrNotPositiveDef
	}
	var l mat.TriDense
	chol.LTo(&l)

	rnd := rand.New(rand.NewPCG(opt.Seed1, opt.Seed2))

	out := mat.NewDense(opt.Samples, n, nil)
	z := make([]float64, n)
	draw := mat.NewVecDense(n, nil)
	for b := 0; b < opt.Samples; b++ {
		for i := 0; i < n; i++ {
			z[i] = rnd.NormFloat64()
		}
		draw.MulVec(&l, mat.NewVecDense(n, z))
		for j := 0; j < n; j++ {
			out.Set(b, j, base[j]+draw.AtVec(j))
		}
	}
	return out, nil
}
