package lmm

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// AICRow is one line of the information-criterion comparison table.
type AICRow struct {
	Model    string
	NParams  int
	LogLik   float64
	Deviance float64
	AIC      float64
}

// AICTable ranks successfully fitted models by AIC, best first. Models on
// different response scales may appear in the same table; AIC is the only
// comparison permitted across scales.
func AICTable(models []*FittedModel) []AICRow {
	rows := make([]AICRow, 0, len(models))
	for _, m := range models {
		rows = append(rows, AICRow{
			Model:    m.Spec.Name,
			NParams:  m.NParams,
			LogLik:   m.LogLik,
			Deviance: m.Deviance,
			AIC:      m.AIC,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].AIC < rows[j].AIC })
	return rows
}

// AnovaResult is a likelihood-ratio comparison of two nested fits.
type AnovaResult struct {
	Smaller string
	Larger  string
	DfDiff  int
	ChiSq   float64
	PValue  float64
}

// Anova performs the likelihood-ratio test of a smaller model against a
// larger one. Both must be fit to the same response scale on the same
// observations, and the smaller fixed-effect design must span a subspace
// of the larger one; anything else is rejected rather than computed.
func Anova(small, big *FittedModel) (*AnovaResult, error) {
	if small.Spec.Response != big.Spec.Response {
		return nil, fmt.Errorf(
			"models %s and %s are fit on different response scales (%s vs %s); compare by AIC only",
			small.Spec.Name, big.Spec.Name, small.Spec.Response, big.Spec.Response)
	}
	if small.NObs != big.NObs || small.NGroups != big.NGroups {
		return nil, fmt.Errorf(
			"models %s and %s are fit on different data (%d/%d obs, %d/%d groups)",
			small.Spec.Name, big.Spec.Name, small.NObs, big.NObs, small.NGroups, big.NGroups)
	}
	if small.NParams >= big.NParams {
		return nil, fmt.Errorf("model %s is not smaller than %s", small.Spec.Name, big.Spec.Name)
	}
	if !spansSubspace(small.design, big.design) {
		return nil, fmt.Errorf(
			"model %s is not nested in %s; fixed effects are not a subspace", small.Spec.Name, big.Spec.Name)
	}

	df := big.NParams - small.NParams
	chi := small.Deviance - big.Deviance
	if chi < 0 {
		chi = 0
	}

	chi2 := distuv.ChiSquared{K: float64(df)}
	return &AnovaResult{
		Smaller: small.Spec.Name,
		Larger:  big.Spec.Name,
		DfDiff:  df,
		ChiSq:   chi,
		PValue:  chi2.Survival(chi),
	}, nil
}

// spansSubspace reports whether every column of the smaller design lies in
// the column space of the larger one. This admits reparameterized nestings
// (a spline basis containing the linear term) that a name comparison
// would miss.
func spansSubspace(small, big *Design) bool {
	if small == nil || big == nil {
		return false
	}
	n, ps := small.X.Dims()
	nb, _ := big.X.Dims()
	if n != nb {
		return false
	}

	var qr mat.QR
	qr.Factorize(big.X)

	for j := 0; j < ps; j++ {
		col := mat.NewVecDense(n, nil)
		for i := 0; i < n; i++ {
			col.SetVec(i, small.X.At(i, j))
		}

		var coef mat.VecDense
		if err := qr.SolveVecTo(&coef, false, col); err != nil {
			return false
		}

		// Residual of projecting the column onto big's column space.
		fitted := mat.NewVecDense(n, nil)
		fitted.MulVec(big.X, &coef)
		var norm, rnorm float64
		for i := 0; i < n; i++ {
			v := col.AtVec(i)
			r := v - fitted.AtVec(i)
			norm += v * v
			rnorm += r * r
		}
		if norm == 0 {
			continue
		}
		if rnorm/norm > 1e-8 {
			return false
		}
	}
	return true
}
