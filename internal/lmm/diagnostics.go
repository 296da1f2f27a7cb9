package lmm

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// QQPoint pairs a theoretical standard-normal quantile with the matching
// standardized residual quantile.
type QQPoint struct {
	Theoretical float64
	Sample      float64
}

// Histogram is a fixed-width binning of the residuals.
type Histogram struct {
	Edges  []float64 // len(Counts)+1
	Counts []int
}

// ResidualDiagnostics holds the descriptive residual outputs consumed by
// the plot renderers: residual-vs-fitted pairs, a normal quantile
// comparison, and a histogram. None of these are pass/fail checks.
type ResidualDiagnostics struct {
	Fitted    []float64
	Residuals []float64
	QQ        []QQPoint
	Histogram Histogram
}

// ResidualAnalysis computes the residual diagnostics for a fitted model.
func ResidualAnalysis(m *FittedModel, bins int) *ResidualDiagnostics {
	if bins <= 0 {
		bins = 30
	}

	out := &ResidualDiagnostics{
		Fitted:    append([]float64(nil), m.Fitted...),
		Residuals: append([]float64(nil), m.Residuals...),
	}

	sorted := append([]float64(nil), m.Residuals...)
	sort.Float64s(sorted)
	n := len(sorted)

	mean := stat.Mean(sorted, nil)
	sd := stat.StdDev(sorted, nil)
	if sd == 0 {
		sd = 1
	}

	stdNormal := distuv.Normal{Mu: 0, Sigma: 1}
	out.QQ = make([]QQPoint, n)
	for i, r := range sorted {
		pp := (float64(i) + 0.5) / float64(n)
		out.QQ[i] = QQPoint{
			Theoretical: stdNormal.Quantile(pp),
			Sample:      (r - mean) / sd,
		}
	}

	lo, hi := sorted[0], sorted[n-1]
	if lo == hi {
		hi = lo + 1
	}
	width := (hi - lo) / float64(bins)
	out.Histogram.Edges = make([]float64, bins+1)
	for i := 0; i <= bins; i++ {
		out.Histogram.Edges[i] = lo + float64(i)*width
	}
	out.Histogram.Counts = make([]int, bins)
	for _, r := range sorted {
		b := int((r - lo) / width)
		if b >= bins {
			b = bins - 1
		}
		out.Histogram.Counts[b]++
	}

	return out
}

// PlayerEffect is one player's estimated baseline offset.
type PlayerEffect struct {
	Player    string
	Intercept float64
}

// RandomEffectDiagnostics summarizes the distribution of per-player
// random intercepts.
type RandomEffectDiagnostics struct {
	N    int
	Mean float64
	SD   float64
	Min  float64
	Max  float64

	// Largest positive and negative offsets, for the diagnostic table.
	Top    []PlayerEffect
	Bottom []PlayerEffect
}

// RandomEffectAnalysis extracts and summarizes the estimated random
// intercepts, with the k most extreme players in each direction.
func RandomEffectAnalysis(m *FittedModel, k int) *RandomEffectDiagnostics {
	effects := make([]PlayerEffect, 0, len(m.RandomIntercepts))
	vals := make([]float64, 0, len(m.RandomIntercepts))
	for player, b := range m.RandomIntercepts {
		effects = append(effects, PlayerEffect{Player: player, Intercept: b})
		vals = append(vals, b)
	}
	sort.Slice(effects, func(i, j int) bool {
		if effects[i].Intercept != effects[j].Intercept {
			return effects[i].Intercept > effects[j].Intercept
		}
		return effects[i].Player < effects[j].Player
	})

	out := &RandomEffectDiagnostics{N: len(effects)}
	if len(effects) == 0 {
		return out
	}

	out.Mean = stat.Mean(vals, nil)
	if len(vals) > 1 {
		out.SD = stat.StdDev(vals, nil)
	}
	out.Max = effects[0].Intercept
	out.Min = effects[len(effects)-1].Intercept

	if k > len(effects) {
		k = len(effects)
	}
	out.Top = append([]PlayerEffect(nil), effects[:k]...)
	bottom := append([]PlayerEffect(nil), effects[len(effects)-k:]...)
	// Bottom listed most extreme first.
	for i, j := 0, len(bottom)-1; i < j; i, j = i+1, j-1 {
		bottom[i], bottom[j] = bottom[j], bottom[i]
	}
	out.Bottom = bottom

	return out
}

// VIFResult is the multicollinearity diagnostic for one fixed-effect term.
type VIFResult struct {
	Term    string
	VIF     float64
	Flagged bool
}

// VIF computes a variance-inflation-factor diagnostic per non-intercept
// fixed-effect column by regressing it on the remaining columns. Terms
// exceeding the threshold are flagged for human review, never removed.
func VIF(m *FittedModel, threshold float64) []VIFResult {
	d := m.design
	n, p := d.X.Dims()

	var out []VIFResult
	for j := 0; j < p; j++ {
		if d.ColNames[j] == "(Intercept)" {
			continue
		}

		y := make([]float64, n)
		other := mat.NewDense(n, p-1, nil)
		for i := 0; i < n; i++ {
			y[i] = d.X.At(i, j)
			c := 0
			for jj := 0; jj < p; jj++ {
				if jj == j {
					continue
				}
				other.Set(i, c, d.X.At(i, jj))
				c++
			}
		}

		r2 := rSquared(other, y)
		vif := math.Inf(1)
		if r2 < 1 {
			vif = 1 / (1 - r2)
		}
		out = append(out, VIFResult{
			Term:    d.ColNames[j],
			VIF:     vif,
			Flagged: vif > threshold,
		})
	}
	return out
}

func rSquared(x *mat.Dense, y []float64) float64 {
	n, _ := x.Dims()
	yv := mat.NewVecDense(n, y)

	var qr mat.QR
	qr.Factorize(x)
	var coef mat.VecDense
	if err := qr.SolveVecTo(&coef, false, yv); err != nil {
		return 0
	}

	fitted := mat.NewVecDense(n, nil)
	fitted.MulVec(x, &coef)

	mean := stat.Mean(y, nil)
	var rss, tss float64
	for i := 0; i < n; i++ {
		r := y[i] - fitted.AtVec(i)
		rss += r * r
		t := y[i] - mean
		tss += t * t
	}
	if tss == 0 {
		return 0
	}
	r2 := 1 - rss/tss
	if r2 < 0 {
		return 0
	}
	return r2
}
