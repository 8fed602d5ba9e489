package reco

import (
	"fmt"

	"github.com/danigiro/tafs-reco/covariance"
	"github.com/danigiro/tafs-reco/hierarchy"
)

func ExampleReconciler_Reconcile() {
	h, err := hierarchy.NewFromNodes([]hierarchy.Node{
		{Label: "total"},
		{Label: "a", Parent: "total"},
		{Label: "b", Parent: "total"},
	})
	if err != nil {
		panic(err)
	}

	r, err := New(h, nil, &Options{Covariance: covariance.Structural})
	if err != nil {
		panic(err)
	}

	res, err := r.Reconcile([]float64{10, 4, 5})
	if err != nil {
		panic(err)
	}

	fmt.Printf("total=%.2f a=%.2f b=%.2f discrepancy=%.0e\n",
		res.Reconciled[0], res.Reconciled[1], res.Reconciled[2], res.Discrepancy)
	// Output: total=9.50 a=4.25 b=5.25 discrepancy=0e+00
}
