package reco

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"github.com/danigiro/tafs-reco/solver"

	"gonum.org/v1/gonum/mat"
)

// ReconcileEnsemble reconciles every sample path of an ensemble, one row per
// sample, preserving sample identity and order. The projection operator was
// factored once at construction and is shared read-only across workers, so
// the per-sample cost is two matrix-vector products plus any non-negativity
// repair.
//
// Without non-negativity the whole ensemble goes through the batched
// projection in one shot. With repair enabled the samples fan out over a
// bounded worker pool; a sample that fails is logged, reported by index, and
// never contaminates its neighbours. Cancellation abandons the remaining
// samples and returns the context error; rows finished by then are valid.
func (r *Reconciler) ReconcileEnsemble(ctx context.Context, samples *mat.Dense) (*EnsembleResult, error) {
	if samples == nil {
		return nil, solver.ErrDimMismatch
	}
	b, d := samples.Dims()
	if d != r.dim {
		return nil, fmt.Errorf("samples have %d columns for dimension %d, %w", d, r.dim, solver.ErrDimMismatch)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if r.opt.NonNeg == solver.NonNegOff && r.opt.Representation == ZeroConstraint {
		return r.reconcileBatched(samples, b)
	}
	return r.reconcileWorkers(ctx, samples, b)
}

func (r *Reconciler) reconcileBatched(samples *mat.Dense, b int) (*EnsembleResult, error) {
	var cols mat.Dense
	cols.CloneFrom(samples.T())

	out, err := r.proj.ApplyBatch(&cols)
	if err != nil {
		return nil, err
	}

	res := &EnsembleResult{
		Reconciled: mat.NewDense(b, r.dim, nil),
		Statuses:   make([]string, b),
	}
	row := make([]float64, r.dim)
	for i := 0; i < b; i++ {
		mat.Col(row, i, out)
		res.Reconciled.SetRow(i, row)
		res.Statuses[i] = solver.StatusOK.String()

		disc, err := r.discrepancy(row)
		if err != nil {
			return nil, err
		}
		if disc > res.MaxDiscrepancy {
			res.MaxDiscrepancy = disc
		}
	}
	return res, nil
}

func (r *Reconciler) reconcileWorkers(ctx context.Context, samples *mat.Dense, b int) (*EnsembleResult, error) {
	workers := r.opt.Parallelism
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	res := &EnsembleResult{
		Reconciled: mat.NewDense(b, r.dim, nil),
		Statuses:   make([]string, b),
	}

	var mu sync.Mutex // guards Failed and MaxDiscrepancy
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)

	var cancelled error
	for i := 0; i < b && cancelled == nil; i++ {
		select {
		case <-ctx.Done():
			cancelled = ctx.Err()
			continue
		case sem <- struct{}{}:
		}
		wg.Add(1)

		go func(idx int) {
			defer func() {
				wg.Done()
				<-sem
			}()

			base := mat.Row(nil, idx, samples)
			out, err := r.Reconcile(base)
			if err != nil {
				slog.Warn("sample reconciliation failed", "sample", idx, "error", err.Error())
				mu.Lock()
				res.Failed = append(res.Failed, idx)
				mu.Unlock()
				return
			}

			// rows are disjoint per goroutine; no lock needed for the matrix
			res.Reconciled.SetRow(idx, out.Reconciled)
			res.Statuses[idx] = out.Status

			mu.Lock()
			if out.Discrepancy > res.MaxDiscrepancy {
				res.MaxDiscrepancy = out.Discrepancy
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	sort.Ints(res.Failed)

	if cancelled != nil {
		return res, cancelled
	}
	return res, nil
}
