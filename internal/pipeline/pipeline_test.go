package pipeline

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willtack/nba-longitudinal-efficiency/internal/descriptive"
	"github.com/willtack/nba-longitudinal-efficiency/pkg/config"
)

// writeTestCSV produces a small but fit-able panel: 45 players over six
// seasons with a mild upward season trend and player-specific baselines.
func writeTestCSV(t *testing.T) string {
	t.Helper()
	rng := rand.New(rand.NewSource(99))

	var b strings.Builder
	b.WriteString(",player_name,season,draft_round,gp,ts_pct,player_height,player_weight,age,pts\n")

	idx := 0
	for p := 0; p < 45; p++ {
		round := []string{"1", "2", "Undrafted"}[p%3]
		height := 72 + p%13
		weight := 180 + (p*7)%60
		base := 0.45 + 0.001*float64(p%13) + rng.NormFloat64()*0.03
		for s := 0; s < 6; s++ {
			year := 1996 + s
			season := fmt.Sprintf("%d-%02d", year, (year+1)%100)
			ts := base + 0.003*float64(s) + rng.NormFloat64()*0.02
			gp := 55 + (p+s)%25
			age := 20 + p%8 + s
			fmt.Fprintf(&b, "%d,Player %02d,%s,%s,%d,%.4f,%d,%d,%d,%.1f\n",
				idx, p, season, round, gp, ts, height, weight, age, 10.0)
			idx++
		}
	}

	// Rows the filters must remove: low participation and a bad category.
	b.WriteString("998,Bench Guy,1998-99,1,20,0.5000,78,200,24,2.0\n")
	b.WriteString("999,Odd Round,2000-01,7,80,0.5000,78,200,24,2.0\n")

	path := filepath.Join(t.TempDir(), "players.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func testConfig(input string) *config.Config {
	return &config.Config{
		Env:              "test",
		InputFile:        input,
		MinGpPct:         0.5,
		MaxFitIterations: 1000,
		VIFThreshold:     5,
		SummaryDecimals:  2,
	}
}

func TestRun_FullPipeline(t *testing.T) {
	res, err := Run(testConfig(writeTestCSV(t)))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.NotEmpty(t, res.RunID)

	// Filtering removed the short-participation and bad-category rows.
	assert.Equal(t, 272, res.FilterReport.InputRows)
	assert.Equal(t, 1, res.FilterReport.DroppedInvalidDraft)
	assert.GreaterOrEqual(t, res.FilterReport.DroppedStrictGpPct, 1)
	assert.Equal(t, len(res.Records), res.FilterReport.OutputRows)

	for _, r := range res.Records {
		assert.Greater(t, r.GpPct, 0.5)
	}

	// Descriptive summary covers all groups.
	require.NotNil(t, res.Summary)
	assert.Len(t, res.Summary.Groups, 4)
	overall := res.Summary.Group(descriptive.GroupOverall)
	require.NotNil(t, overall)
	assert.Equal(t, len(res.Records), overall.N)

	// The whole catalog fits on this table.
	assert.Empty(t, res.FitErrors)
	assert.Len(t, res.Models, 6)
	require.NotNil(t, res.BestModel)
	assert.Len(t, res.AICRows, len(res.Models))
	assert.Equal(t, res.AICRows[0].Model, res.BestModel.Spec.Name)

	// The cross-scale pair is rejected by the guard, never computed.
	require.NotEmpty(t, res.AnovaRejections)
	found := false
	for _, msg := range res.AnovaRejections {
		if strings.Contains(msg, "response scales") {
			found = true
		}
	}
	assert.True(t, found, "expected a cross-scale rejection, got %v", res.AnovaRejections)
	for _, a := range res.Anovas {
		assert.NotEqual(t, "logit_response", a.Larger)
	}

	// Diagnostics are produced for the AIC-best model.
	require.NotNil(t, res.Residuals)
	assert.Len(t, res.Residuals.Residuals, len(res.Records))
	require.NotNil(t, res.RandomEffects)
	assert.Equal(t, 45, res.RandomEffects.N)
	assert.NotEmpty(t, res.VIFs)
}

func TestRun_MissingInputAborts(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "missing.csv"))
	_, err := Run(cfg)
	require.Error(t, err)
}

func TestRun_SkipModels(t *testing.T) {
	cfg := testConfig(writeTestCSV(t))
	cfg.SkipModels = []string{"season_factor", "spline_anthro"}

	res, err := Run(cfg)
	require.NoError(t, err)
	assert.Len(t, res.Models, 4)
	assert.Nil(t, res.Model("season_factor"))
	assert.Nil(t, res.Model("spline_anthro"))
}

func TestRun_SchemaErrorAborts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b,c\n1,2,3\n"), 0o644))

	_, err := Run(testConfig(path))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required columns")
}
