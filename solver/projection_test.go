package solver

import (
	"testing"

	"github.com/danigiro/tafs-reco/hierarchy"
	mat_ "github.com/danigiro/tafs-reco/mat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

const tol = 1e-9

func twoLevel(t *testing.T) *hierarchy.Hierarchy {
	t.Helper()
	c, err := mat_.NewDenseFromArray([][]float64{{1, 1}})
	require.Nil(t, err)
	h, err := hierarchy.New(c, nil)
	require.Nil(t, err)
	return h
}

func structuralWeights(h *hierarchy.Hierarchy) *mat.SymDense {
	return mat_.NewDiagSym(h.Leaves())
}

func TestProjectionGolden(t *testing.T) {
	h := twoLevel(t)

	p, err := NewProjection(h.ZeroConstraint(), structuralWeights(h))
	require.Nil(t, err)

	// total=10, a=4, b=5 is incoherent by 1; structural weights spread the
	// gap half onto the total and a quarter onto each bottom series
	got, err := p.Apply([]float64{10, 4, 5})
	require.Nil(t, err)
	assert.InDelta(t, 9.5, got[0], tol)
	assert.InDelta(t, 4.25, got[1], tol)
	assert.InDelta(t, 5.25, got[2], tol)

	d, err := h.Discrepancy(got)
	require.Nil(t, err)
	assert.Less(t, d, 1e-6)
}

func TestProjectionFeasibleInputStability(t *testing.T) {
	h := twoLevel(t)

	weightings := map[string]*mat.SymDense{
		"structural": structuralWeights(h),
		"identity":   mat_.NewDiagSym([]float64{1, 1, 1}),
		"skewed":     mat_.NewDiagSym([]float64{10, 0.1, 3}),
	}

	for name, omega := range weightings {
		t.Run(name, func(t *testing.T) {
			p, err := NewProjection(h.ZeroConstraint(), omega)
			require.Nil(t, err)

			// already coherent: the projection must be a no-op for any
			// weighting
			base := []float64{9, 4, 5}
			got, err := p.Apply(base)
			require.Nil(t, err)
			for i := range base {
				assert.InDelta(t, base[i], got[i], tol)
			}
		})
	}
}

func TestProjectionAgreesWithStructuralForm(t *testing.T) {
	h, err := hierarchy.NewFromNodes([]hierarchy.Node{
		{Label: "total"},
		{Label: "east", Parent: "total"},
		{Label: "west", Parent: "total"},
		{Label: "e1", Parent: "east"},
		{Label: "e2", Parent: "east"},
		{Label: "w1", Parent: "west"},
		{Label: "w2", Parent: "west"},
	})
	require.Nil(t, err)

	omega := structuralWeights(h)
	base := []float64{100, 45, 52, 20, 30, 25, 30}

	p, err := NewProjection(h.ZeroConstraint(), omega)
	require.Nil(t, err)
	proj, err := p.Apply(base)
	require.Nil(t, err)

	full, bottom, err := SolveStructural(h.Summing(), omega, base)
	require.Nil(t, err)

	for i := range proj {
		assert.InDelta(t, proj[i], full[i], 1e-8, "index %d", i)
	}

	agg, err := h.Aggregate(bottom)
	require.Nil(t, err)
	for i := range agg {
		assert.InDelta(t, full[i], agg[i], tol)
	}
}

func TestProjectionBatchMatchesSingle(t *testing.T) {
	h := twoLevel(t)

	p, err := NewProjection(h.ZeroConstraint(), structuralWeights(h))
	require.Nil(t, err)

	cols := [][]float64{
		{10, 4, 5},
		{9, 4, 5},
		{-1, 3, 2},
	}
	batch := mat.NewDense(3, len(cols), nil)
	for j, col := range cols {
		batch.SetCol(j, col)
	}

	out, err := p.ApplyBatch(batch)
	require.Nil(t, err)

	for j, col := range cols {
		single, err := p.Apply(col)
		require.Nil(t, err)
		for i := range single {
			assert.InDelta(t, single[i], out.At(i, j), tol, "sample %d index %d", j, i)
		}
	}
}

func TestProjectionRedundantConstraints(t *testing.T) {
	// duplicated constraint rows make M*omega*M' rank deficient; the
	// projection must still match the single-row solution
	m, err := mat_.NewDenseFromArray([][]float64{
		{1, -1, -1},
		{1, -1, -1},
	})
	require.Nil(t, err)

	omega := mat_.NewDiagSym([]float64{1, 1, 1})
	p, err := NewProjection(m, omega)
	require.Nil(t, err)

	got, err := p.Apply([]float64{10, 4, 5})
	require.Nil(t, err)
	assert.InDelta(t, 10.0-1.0/3.0, got[0], 1e-5)
	assert.InDelta(t, 4.0+1.0/3.0, got[1], 1e-5)
	assert.InDelta(t, 5.0+1.0/3.0, got[2], 1e-5)
}

func TestProjectionErrors(t *testing.T) {
	h := twoLevel(t)

	_, err := NewProjection(h.ZeroConstraint(), mat_.NewDiagSym([]float64{1, 1}))
	assert.ErrorIs(t, err, ErrDimMismatch)

	_, err = NewProjection(h.ZeroConstraint(), mat_.NewDiagSym([]float64{0, 0, 0}))
	assert.ErrorIs(t, err, ErrNearSingular)

	p, err := NewProjection(h.ZeroConstraint(), structuralWeights(h))
	require.Nil(t, err)
	_, err = p.Apply([]float64{1, 2})
	assert.ErrorIs(t, err, ErrDimMismatch)

	_, err = p.ApplyBatch(mat.NewDense(2, 4, nil))
	assert.ErrorIs(t, err, ErrDimMismatch)
}

func TestSolveStructuralErrors(t *testing.T) {
	h := twoLevel(t)

	_, _, err := SolveStructural(h.Summing(), mat_.NewDiagSym([]float64{0, 0, 0}), []float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrNearSingular)

	_, _, err = SolveStructural(h.Summing(), structuralWeights(h), []float64{1, 2})
	assert.ErrorIs(t, err, ErrDimMismatch)
}

func TestTemporalProjectionCoherence(t *testing.T) {
	tmp, err := hierarchy.NewTemporal(4, nil)
	require.Nil(t, err)

	p, err := NewProjection(tmp.ZeroConstraint(), mat_.NewDiagSym(tmp.Leaves()))
	require.Nil(t, err)

	base := []float64{11, 4, 6, 1, 3, 2, 4}
	got, err := p.Apply(base)
	require.Nil(t, err)

	d, err := tmp.Discrepancy(got)
	require.Nil(t, err)
	assert.Less(t, d, 1e-6)
}
