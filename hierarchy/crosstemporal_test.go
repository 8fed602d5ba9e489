package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCrossTemporal(t *testing.T) *CrossTemporal {
	t.Helper()
	h := twoLevel(t)
	tmp, err := NewTemporal(2, nil)
	require.Nil(t, err)
	ct, err := NewCrossTemporal(h, tmp)
	require.Nil(t, err)
	return ct
}

// coherentGrid builds the flattened grid from bottom high-frequency values,
// aggregating both cross-sectionally and temporally. Layout is grid-major:
// [annual, hf1, hf2] x [total, a, b].
func coherentGrid(aHF, bHF [2]float64) []float64 {
	x := make([]float64, 9)
	for j := 0; j < 2; j++ {
		a, b := aHF[j], bHF[j]
		x[(1+j)*3+0] = a + b
		x[(1+j)*3+1] = a
		x[(1+j)*3+2] = b
	}
	for s := 0; s < 3; s++ {
		x[s] = x[3+s] + x[6+s]
	}
	return x
}

func TestCrossTemporalCoherence(t *testing.T) {
	ct := newCrossTemporal(t)
	require.Equal(t, 9, ct.Dim())

	x := coherentGrid([2]float64{1, 2}, [2]float64{3, 4})
	d, err := ct.Discrepancy(x)
	require.Nil(t, err)
	assert.InDelta(t, 0.0, d, 1e-12)

	// break the cross-sectional constraint at an aggregated position only;
	// the temporal constraint for the total series must still flag it
	x[0] += 1.0
	d, err = ct.Discrepancy(x)
	require.Nil(t, err)
	assert.InDelta(t, 1.0, d, 1e-12)
}

func TestCrossTemporalConstraintRank(t *testing.T) {
	ct := newCrossTemporal(t)

	c := ct.Constraint()
	rows, cols := c.Dims()

	n, _, nb := ct.Hierarchy().Dims()
	m := ct.Temporal().M()
	nk := ct.Temporal().GridLen()
	assert.Equal(t, n*nk, cols)
	assert.Equal(t, n*nk-nb*m, rows)
}

func TestCrossTemporalIndex(t *testing.T) {
	ct := newCrossTemporal(t)

	idx, err := ct.Index(0, 2, 1)
	require.Nil(t, err)
	assert.Equal(t, 0, idx)

	idx, err = ct.Index(2, 1, 2)
	require.Nil(t, err)
	assert.Equal(t, 8, idx)

	_, err = ct.Index(3, 1, 1)
	assert.ErrorIs(t, err, ErrDimMismatch)
}

func TestCrossTemporalLeaves(t *testing.T) {
	ct := newCrossTemporal(t)
	assert.Equal(t, []float64{4, 2, 2, 2, 1, 1, 2, 1, 1}, ct.Leaves())
}
