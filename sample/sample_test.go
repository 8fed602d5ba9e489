package sample

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/danigiro/tafs-reco/covariance"
	mat_ "github.com/danigiro/tafs-reco/mat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func randResiduals(t *testing.T, rows, cols int) *covariance.Residuals {
	t.Helper()
	rnd := rand.New(rand.NewPCG(21, 42))
	x := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			x.Set(i, j, rnd.NormFloat64())
		}
	}
	r, err := covariance.NewResiduals(x)
	require.Nil(t, err)
	return r
}

func TestBlockBootstrapOptionsValidate(t *testing.T) {
	testData := map[string]struct {
		opt *BlockBootstrapOptions
		err error
	}{
		"nil gets defaults": {opt: nil},
		"zero samples":      {opt: &BlockBootstrapOptions{BlockLen: 2}, err: ErrNoSamples},
		"zero block":        {opt: &BlockBootstrapOptions{Samples: 10}, err: ErrBlockLen},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			opt, err := td.opt.Validate()
			if td.err != nil {
				require.ErrorIs(t, err, td.err)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, NewDefaultBlockBootstrapOptions(), opt)
		})
	}
}

func TestBlockBootstrap(t *testing.T) {
	base := []float64{10, 4, 5}
	resid := randResiduals(t, 40, 3)

	out, err := BlockBootstrap(base, resid, &BlockBootstrapOptions{
		BlockLen: 4,
		Samples:  100,
		Seed1:    9, Seed2: 9,
	})
	require.Nil(t, err)

	rows, cols := out.Dims()
	assert.Equal(t, 100, rows)
	assert.Equal(t, 3, cols)

	// every sample is the base plus some historical residual row
	residual := resid.Matrix()
	for b := 0; b < rows; b++ {
		var found bool
		for r := 0; r < 40 && !found; r++ {
			match := true
			for j := 0; j < cols; j++ {
				if math.Abs(out.At(b, j)-base[j]-residual.At(r, j)) > 1e-12 {
					match = false
					break
				}
			}
			found = match
		}
		assert.True(t, found, "sample %d is not a resampled residual row", b)
	}
}

func TestBlockBootstrapDeterministic(t *testing.T) {
	base := []float64{1, 2, 3}
	resid := randResiduals(t, 20, 3)
	opt := &BlockBootstrapOptions{BlockLen: 2, Samples: 16, Seed1: 5, Seed2: 6}

	a, err := BlockBootstrap(base, resid, opt)
	require.Nil(t, err)
	b, err := BlockBootstrap(base, resid, opt)
	require.Nil(t, err)
	assert.True(t, mat.EqualApprox(a, b, 0))
}

func TestBlockBootstrapErrors(t *testing.T) {
	resid := randResiduals(t, 5, 3)

	_, err := BlockBootstrap([]float64{1, 2}, resid, nil)
	assert.ErrorIs(t, err, ErrBaseLenMismatch)

	_, err = BlockBootstrap([]float64{1, 2, 3}, nil, nil)
	assert.ErrorIs(t, err, ErrMissingResiduals)

	_, err = BlockBootstrap([]float64{1, 2, 3}, resid, &BlockBootstrapOptions{BlockLen: 9, Samples: 4})
	assert.ErrorIs(t, err, ErrBlockLen)
}

func TestGaussian(t *testing.T) {
	base := []float64{10, -4}
	cov := mat.NewSymDense(2, []float64{2.0, 0.8, 0.8, 1.0})

	out, err := Gaussian(base, cov, &GaussianOptions{Samples: 4000, Seed1: 3, Seed2: 4})
	require.Nil(t, err)

	rows, cols := out.Dims()
	require.Equal(t, 4000, rows)
	require.Equal(t, 2, cols)

	col0 := mat.Col(nil, 0, out)
	col1 := mat.Col(nil, 1, out)
	assert.InDelta(t, 10.0, stat.Mean(col0, nil), 0.1)
	assert.InDelta(t, -4.0, stat.Mean(col1, nil), 0.1)
	assert.InDelta(t, 2.0, stat.Variance(col0, nil), 0.2)
	assert.InDelta(t, 0.8, stat.Covariance(col0, col1, nil), 0.15)
}

func TestGaussianErrors(t *testing.T) {
	_, err := Gaussian([]float64{1, 2}, mat_.NewDiagSym([]float64{1}), nil)
	assert.ErrorIs(t, err, ErrCovSizeMismatch)

	indefinite := mat.NewSymDense(2, []float64{1, 2, 2, 1})
	_, err = Gaussian([]float64{1, 2}, indefinite, nil)
	assert.ErrorIs(t, err, ErrNotPositiveDef)
}
