package lmm

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResidualAnalysis(t *testing.T) {
	records := syntheticRecords(60, 5, 41)
	m := fitSpec(t, records, DefaultCatalog()[0])

	diag := ResidualAnalysis(m, 20)

	n := len(records)
	assert.Len(t, diag.Fitted, n)
	assert.Len(t, diag.Residuals, n)
	assert.Len(t, diag.QQ, n)
	assert.Len(t, diag.Histogram.Counts, 20)
	assert.Len(t, diag.Histogram.Edges, 21)

	total := 0
	for _, c := range diag.Histogram.Counts {
		total += c
	}
	assert.Equal(t, n, total)

	// Both QQ coordinates are nondecreasing.
	assert.True(t, sort.SliceIsSorted(diag.QQ, func(i, j int) bool {
		return diag.QQ[i].Theoretical < diag.QQ[j].Theoretical
	}))
	assert.True(t, sort.SliceIsSorted(diag.QQ, func(i, j int) bool {
		return diag.QQ[i].Sample < diag.QQ[j].Sample
	}))

	// Gaussian residuals by construction: the QQ comparison should track
	// the identity line closely in the bulk.
	mid := diag.QQ[len(diag.QQ)/2]
	assert.InDelta(t, mid.Theoretical, mid.Sample, 0.3)
}

func TestRandomEffectAnalysis(t *testing.T) {
	records := syntheticRecords(90, 6, 43)
	m := fitSpec(t, records, DefaultCatalog()[0])

	re := RandomEffectAnalysis(m, 10)
	assert.Equal(t, 90, re.N)
	assert.Len(t, re.Top, 10)
	assert.Len(t, re.Bottom, 10)
	assert.InDelta(t, 0, re.Mean, 0.01)
	assert.Greater(t, re.SD, 0.0)
	assert.Equal(t, re.Top[0].Intercept, re.Max)
	assert.Equal(t, re.Bottom[0].Intercept, re.Min)

	for i := 1; i < len(re.Top); i++ {
		assert.GreaterOrEqual(t, re.Top[i-1].Intercept, re.Top[i].Intercept)
	}
}

func TestRandomEffectAnalysis_KLargerThanPlayers(t *testing.T) {
	records := syntheticRecords(8, 5, 47)
	m := fitSpec(t, records, DefaultCatalog()[0])

	re := RandomEffectAnalysis(m, 50)
	assert.Len(t, re.Top, 8)
	assert.Len(t, re.Bottom, 8)
}

func TestVIF_BaselineTermsAreFinite(t *testing.T) {
	records := syntheticRecords(60, 5, 53)
	m := fitSpec(t, records, DefaultCatalog()[0])

	vifs := VIF(m, 5)
	require.NotEmpty(t, vifs)
	for _, v := range vifs {
		assert.NotEqual(t, "(Intercept)", v.Term)
		assert.False(t, math.IsNaN(v.VIF))
		assert.GreaterOrEqual(t, v.VIF, 1.0-1e-9, "VIF for %s", v.Term)
	}
}

func TestVIF_FlagsCollinearQuadraticTerms(t *testing.T) {
	records := syntheticRecords(60, 5, 59)
	m := fitSpec(t, records, ModelSpec{
		Name: "quadratic_anthro", Response: ResponseRaw,
		Season: SeasonContinuous, Age: AgeRaw, Shape: ShapeQuadratic,
	})

	// A raw and squared predictor over a narrow range are nearly
	// collinear; the diagnostic must flag, not remove.
	vifs := VIF(m, 5)
	flagged := 0
	for _, v := range vifs {
		if v.Flagged {
			flagged++
		}
	}
	assert.Greater(t, flagged, 0)

	assert.Len(t, VIF(m, math.Inf(1)), len(vifs)) // threshold only affects flags
}
