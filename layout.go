package reco

import (
	"fmt"

	"github.com/danigiro/tafs-reco/hierarchy"
	"github.com/danigiro/tafs-reco/solver"
)

// NestGrid converts a flattened cross-temporal vector into the nested
// per-series, per-aggregation-order form convenient for downstream
// consumers: nested[series][orderIdx][horizon], orders in the structure's
// descending order. Pure reshape; FlattenGrid inverts it exactly.
func NestGrid(ct *hierarchy.CrossTemporal, flat []float64) ([][][]float64, error) {
	if ct == nil {
		return nil, hierarchy.ErrNilHierarchy
	}
	if len(flat) != ct.Dim() {
		return nil, fmt.Errorf("got %d values for grid %d, %w", len(flat), ct.Dim(), solver.ErrDimMismatch)
	}

	n, _, _ := ct.Hierarchy().Dims()
	orders := ct.Temporal().Orders()
	m := ct.Temporal().M()

	nested := make([][][]float64, n)
	for s := 0; s < n; s++ {
		nested[s] = make([][]float64, len(orders))
		var gridPos int
		for oi, k := range orders {
			horizons := m / k
			nested[s][oi] = make([]float64, horizons)
			for j := 0; j < horizons; j++ {
				nested[s][oi][j] = flat[(gridPos+j)*n+s]
			}
			gridPos += horizons
		}
	}
	return nested, nil
}

// FlattenGrid converts the nested per-series, per-order form back into the
// flattened grid-major vector the solver operates on.
func FlattenGrid(ct *hierarchy.CrossTemporal, nested [][][]float64) ([]float64, error) {
	if ct == nil {
		return nil, hierarchy.ErrNilHierarchy
	}
	n, _, _ := ct.Hierarchy().Dims()
	if len(nested) != n {
		return nil, fmt.Errorf("got %d series for %d, %w", len(nested), n, solver.ErrDimMismatch)
	}

	orders := ct.Temporal().Orders()
	m := ct.Temporal().M()

	flat := make([]float64, ct.Dim())
	for s := 0; s < n; s++ {
		if len(nested[s]) != len(orders) {
			return nil, fmt.Errorf("series %d has %d orders for %d, %w", s, len(nested[s]), len(orders), solver.ErrDimMismatch)
		}
		var gridPos int
		for oi, k := range orders {
			horizons := m / k
			if len(nested[s][oi]) != horizons {
				return nil, fmt.Errorf(
					"series %d order %d has %d horizons for %d, %w",
					s, k, len(nested[s][oi]), horizons, solver.ErrDimMismatch,
				)
			}
			for j := 0; j < horizons; j++ {
				flat[(gridPos+j)*n+s] = nested[s][oi][j]
			}
			gridPos += horizons
		}
	}
	return flat, nil
}
