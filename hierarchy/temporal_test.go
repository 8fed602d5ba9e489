package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTemporal(t *testing.T) {
	testData := map[string]struct {
		m      int
		orders []int
		err    error
		want   []int
		nk     int
	}{
		"quarterly all divisors": {
			m:    4,
			want: []int{4, 2, 1},
			nk:   7,
		},
		"monthly all divisors": {
			m:    12,
			want: []int{12, 6, 4, 3, 2, 1},
			nk:   1 + 2 + 3 + 4 + 6 + 12,
		},
		"explicit subset": {
			m:      12,
			orders: []int{1, 12, 3},
			want:   []int{12, 3, 1},
			nk:     1 + 4 + 12,
		},
		"non divisor": {
			m:      12,
			orders: []int{12, 5, 1},
			err:    ErrOrderNotDivisor,
		},
		"duplicate order": {
			m:      4,
			orders: []int{4, 4, 1},
			err:    ErrDuplicateOrder,
		},
		"missing unit": {
			m:      4,
			orders: []int{4, 2},
			err:    ErrMissingUnitOrder,
		},
		"too small": {
			m:   1,
			err: ErrFrequencyTooSmall,
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			tmp, err := NewTemporal(td.m, td.orders)
			if td.err != nil {
				require.ErrorIs(t, err, td.err)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, td.want, tmp.Orders())
			assert.Equal(t, td.nk, tmp.GridLen())
		})
	}
}

func TestTemporalConstraint(t *testing.T) {
	tmp, err := NewTemporal(4, nil)
	require.Nil(t, err)

	// grid layout: [annual, semi1, semi2, q1..q4]
	coherent := []float64{10, 4, 6, 1, 3, 2, 4}
	d, err := tmp.Discrepancy(coherent)
	require.Nil(t, err)
	assert.InDelta(t, 0.0, d, 1e-12)

	incoherent := []float64{11, 4, 6, 1, 3, 2, 4}
	d, err = tmp.Discrepancy(incoherent)
	require.Nil(t, err)
	assert.InDelta(t, 1.0, d, 1e-12)
}

func TestTemporalIndex(t *testing.T) {
	tmp, err := NewTemporal(4, nil)
	require.Nil(t, err)

	idx, err := tmp.Index(4, 1)
	require.Nil(t, err)
	assert.Equal(t, 0, idx)

	idx, err = tmp.Index(2, 2)
	require.Nil(t, err)
	assert.Equal(t, 2, idx)

	idx, err = tmp.Index(1, 4)
	require.Nil(t, err)
	assert.Equal(t, 6, idx)

	_, err = tmp.Index(3, 1)
	assert.ErrorIs(t, err, ErrUnknownOrder)

	_, err = tmp.Index(2, 3)
	assert.ErrorIs(t, err, ErrHorizonOutOfRange)
}

func TestTemporalLeaves(t *testing.T) {
	tmp, err := NewTemporal(4, nil)
	require.Nil(t, err)
	assert.Equal(t, []float64{4, 2, 2, 1, 1, 1, 1}, tmp.Leaves())
}
