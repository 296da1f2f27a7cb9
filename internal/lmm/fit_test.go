package lmm

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willtack/nba-longitudinal-efficiency/internal/dataset"
	"github.com/willtack/nba-longitudinal-efficiency/internal/derive"
)

// Ground-truth parameters for the synthetic table.
const (
	truthIntercept   = 0.40
	truthSeasonSlope = 0.004
	truthRound2      = -0.02
	truthUndrafted   = -0.03
	truthHeight      = 0.001
	truthWeight      = -0.0002
	truthAge         = 0.0005
	truthPlayerSD    = 0.03
	truthNoiseSD     = 0.02
)

// syntheticRecords builds a balanced panel with a known mixed-effects
// structure so fits can be checked against the generating parameters.
func syntheticRecords(nPlayers, nSeasons int, seed int64) []derive.Record {
	rng := rand.New(rand.NewSource(seed))

	var records []derive.Record
	for p := 0; p < nPlayers; p++ {
		name := fmt.Sprintf("Player %03d", p)
		round := []string{derive.RoundFirst, derive.RoundSecond, derive.RoundUndrafted}[p%3]
		height := 72.0 + float64(p%13)
		weight := 180.0 + 0.5*float64(p%100)
		playerEffect := rng.NormFloat64() * truthPlayerSD

		for s := 0; s < nSeasons; s++ {
			year := 1996 + s
			age := 20 + p%6 + s

			ts := truthIntercept +
				truthSeasonSlope*float64(s) +
				truthHeight*height +
				truthWeight*weight +
				truthAge*float64(age) +
				playerEffect +
				rng.NormFloat64()*truthNoiseSD
			switch round {
			case derive.RoundSecond:
				ts += truthRound2
			case derive.RoundUndrafted:
				ts += truthUndrafted
			}

			stage := derive.StageRookie
			if age > 30 {
				stage = derive.StageVeteran
			} else if age > 25 {
				stage = derive.StageMidCareer
			}

			binary := derive.RoundBinaryOther
			if round == derive.RoundFirst {
				binary = derive.RoundBinaryFirst
			}

			records = append(records, derive.Record{
				PlayerSeasonRecord: dataset.PlayerSeasonRecord{
					PlayerName: name,
					Season:     fmt.Sprintf("%d-%02d", year, (year+1)%100),
					DraftRound: round,
					GP:         70,
					TSPct:      ts,
					Height:     height,
					Weight:     weight,
					Age:        age,
				},
				GPSeason:              82,
				GpPct:                 70.0 / 82.0,
				DraftRoundCombined:    round,
				DraftRoundCombinedNew: binary,
				SeasonContinuous:      year,
				CareerStage:           stage,
			})
		}
	}
	return records
}

func coefByName(t *testing.T, m *FittedModel, name string) float64 {
	t.Helper()
	for j, n := range m.CoefNames {
		if n == name {
			return m.Coef[j]
		}
	}
	t.Fatalf("coefficient %s not found in %v", name, m.CoefNames)
	return 0
}

func fitSpec(t *testing.T, records []derive.Record, spec ModelSpec) *FittedModel {
	t.Helper()
	design, err := BuildDesign(records, spec)
	require.NoError(t, err)
	m, err := Fit(design, DefaultFitOptions())
	require.NoError(t, err)
	return m
}

func TestFit_RecoversGeneratingParameters(t *testing.T) {
	records := syntheticRecords(150, 8, 42)
	m := fitSpec(t, records, DefaultCatalog()[0]) // baseline_linear

	assert.Equal(t, 150, m.NGroups)
	assert.Equal(t, len(records), m.NObs)

	// Within-player terms are estimated tightly.
	assert.InDelta(t, truthSeasonSlope, coefByName(t, m, "season_continuous"), 0.002)
	assert.InDelta(t, 0, coefByName(t, m, "season_continuous:draft_round[2]"), 0.002)
	assert.InDelta(t, 0, coefByName(t, m, "season_continuous:draft_round[Undrafted]"), 0.002)

	// Between-player terms carry the random-intercept variance.
	assert.InDelta(t, truthRound2, coefByName(t, m, "draft_round[2]"), 0.02)
	assert.InDelta(t, truthUndrafted, coefByName(t, m, "draft_round[Undrafted]"), 0.02)
	assert.InDelta(t, truthHeight, coefByName(t, m, "player_height"), 0.005)

	// Variance components near the generating values.
	assert.Greater(t, m.InterceptVar, 0.0)
	assert.InDelta(t, truthPlayerSD*truthPlayerSD, m.InterceptVar, 6e-4)
	assert.InDelta(t, truthNoiseSD*truthNoiseSD, m.ResidualVar, 2e-4)

	assert.False(t, math.IsNaN(m.AIC))
	assert.False(t, math.IsInf(m.AIC, 0))
	assert.False(t, math.IsNaN(m.LogLik))
	assert.InDelta(t, m.Deviance+2*float64(m.NParams), m.AIC, 1e-9)
}

func TestFit_ResidualsAndFittedAreConsistent(t *testing.T) {
	records := syntheticRecords(40, 5, 7)
	m := fitSpec(t, records, DefaultCatalog()[0])

	require.Len(t, m.Fitted, len(records))
	require.Len(t, m.Residuals, len(records))

	design, err := BuildDesign(records, m.Spec)
	require.NoError(t, err)
	for i := range records {
		assert.InDelta(t, design.Y[i], m.Fitted[i]+m.Residuals[i], 1e-10)
	}
}

func TestFit_StandardErrorsAndPValues(t *testing.T) {
	records := syntheticRecords(100, 8, 11)
	m := fitSpec(t, records, DefaultCatalog()[0])

	for j := range m.Coef {
		assert.Greater(t, m.SE[j], 0.0, "SE for %s", m.CoefNames[j])
		assert.GreaterOrEqual(t, m.P[j], 0.0)
		assert.LessOrEqual(t, m.P[j], 1.0)
	}

	// The season trend is strong by construction.
	for j, n := range m.CoefNames {
		if n == "season_continuous" {
			assert.Less(t, m.P[j], 0.001)
		}
	}
}

func TestFit_RandomInterceptsCenterNearZero(t *testing.T) {
	records := syntheticRecords(120, 6, 3)
	m := fitSpec(t, records, DefaultCatalog()[0])

	require.Len(t, m.RandomIntercepts, 120)
	sum := 0.0
	for _, b := range m.RandomIntercepts {
		sum += b
	}
	assert.InDelta(t, 0, sum/120, 0.01)
}

func TestFit_RankDeficientDesignIsModelFitError(t *testing.T) {
	records := syntheticRecords(60, 5, 9)
	for i := range records {
		records[i].Height = 79 // collinear with the intercept
	}

	design, err := BuildDesign(records, DefaultCatalog()[0])
	require.NoError(t, err)

	_, err = Fit(design, DefaultFitOptions())
	var fitErr *ModelFitError
	require.ErrorAs(t, err, &fitErr)
	assert.Contains(t, fitErr.Reason, "rank-deficient")
}

func TestFit_TooFewObservationsIsModelFitError(t *testing.T) {
	records := syntheticRecords(2, 2, 1)

	design, err := BuildDesign(records, DefaultCatalog()[0])
	require.NoError(t, err)

	_, err = Fit(design, DefaultFitOptions())
	var fitErr *ModelFitError
	require.True(t, errors.As(err, &fitErr))
}

func TestFit_LogitResponseVariant(t *testing.T) {
	records := syntheticRecords(80, 6, 21)
	m := fitSpec(t, records, ModelSpec{
		Name:     "logit_response",
		Response: ResponseLogit,
		Season:   SeasonContinuous,
		Age:      AgeRaw,
		Shape:    ShapeLinear,
	})

	// The logit is locally linear around 0.55; the season trend survives
	// the transform with slope roughly 1/(p(1-p)) times the raw slope.
	slope := coefByName(t, m, "season_continuous")
	assert.Greater(t, slope, 0.0)
	assert.False(t, math.IsNaN(m.AIC))
}
