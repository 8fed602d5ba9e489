package reco

import (
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// LineReconciled generates an echart line chart comparing base and reconciled
// values per series, for eyeballing how far the projection moved each
// forecast.
func LineReconciled(title string, seriesName []string, base, reconciled []float64) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(
			opts.Title{
				Title: title,
			},
		),
	)

	baseData := make([]opts.LineData, 0, len(base))
	recoData := make([]opts.LineData, 0, len(reconciled))
	for i := 0; i < len(base) && i < len(reconciled); i++ {
		baseData = append(baseData, opts.LineData{Value: base[i]})
		recoData = append(recoData, opts.LineData{Value: reconciled[i]})
	}

	line.SetXAxis(seriesName).
		AddSeries("Base", baseData).
		AddSeries("Reconciled", recoData)
	return line
}

// LineEnsembleSpread generates an echart line chart of the per-position
// minimum, mean, and maximum across a reconciled ensemble result.
func LineEnsembleSpread(title string, seriesName []string, res *EnsembleResult) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(
			opts.Title{
				Title: title,
			},
		),
	)

	b, d := res.Reconciled.Dims()
	minData := make([]opts.LineData, 0, d)
	meanData := make([]opts.LineData, 0, d)
	maxData := make([]opts.LineData, 0, d)
	for j := 0; j < d; j++ {
		lo, hi := res.Reconciled.At(0, j), res.Reconciled.At(0, j)
		var sum float64
		for i := 0; i < b; i++ {
			v := res.Reconciled.At(i, j)
			sum += v
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		minData = append(minData, opts.LineData{Value: lo})
		meanData = append(meanData, opts.LineData{Value: sum / float64(b)})
		maxData = append(maxData, opts.LineData{Value: hi})
	}

	line.SetXAxis(seriesName).
		AddSeries("Min", minData).
		AddSeries("Mean", meanData).
		AddSeries("Max", maxData)
	return line
}
