package lmm

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/willtack/nba-longitudinal-efficiency/internal/derive"
)

// Design is the numeric realization of a ModelSpec over the analytic
// table: response vector, fixed-effect matrix, and the player grouping
// used by the random intercept.
type Design struct {
	Spec ModelSpec

	Y        []float64
	X        *mat.Dense
	ColNames []string

	// GroupIndex[i] is the player index of row i; Players is the stable
	// name per index, established once over the whole table.
	GroupIndex []int
	Players    []string
}

// NObs returns the number of observations.
func (d *Design) NObs() int { return len(d.Y) }

// NFixef returns the number of fixed-effect columns.
func (d *Design) NFixef() int { return len(d.ColNames) }

// BuildDesign constructs the design for one model variant. The player
// grouping and season levels are derived from the full table so every
// variant shares the same categorical coding.
func BuildDesign(records []derive.Record, spec ModelSpec) (*Design, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("empty analytic table")
	}

	d := &Design{Spec: spec}

	// Stable player coding across the whole lifecycle.
	playerIdx := make(map[string]int)
	for _, r := range records {
		if _, ok := playerIdx[r.PlayerName]; !ok {
			playerIdx[r.PlayerName] = len(d.Players)
			d.Players = append(d.Players, r.PlayerName)
		}
	}
	d.GroupIndex = make([]int, len(records))
	for i, r := range records {
		d.GroupIndex[i] = playerIdx[r.PlayerName]
	}

	// Response.
	d.Y = make([]float64, len(records))
	for i, r := range records {
		switch spec.Response {
		case ResponseLogit:
			v, err := Logit(r.TSPct)
			if err != nil {
				return nil, err
			}
			d.Y[i] = v
		default:
			d.Y[i] = r.TSPct
		}
	}

	// Season columns. The continuous term is centered on the first
	// season so the intercept stays interpretable.
	var seasonCols [][]float64
	var seasonNames []string
	switch spec.Season {
	case SeasonCategorical:
		levels := seasonLevels(records)
		for _, lvl := range levels[1:] { // first level is the reference
			col := make([]float64, len(records))
			for i, r := range records {
				if r.Season == lvl {
					col[i] = 1
				}
			}
			seasonCols = append(seasonCols, col)
			seasonNames = append(seasonNames, "season["+lvl+"]")
		}
	default:
		base := records[0].SeasonContinuous
		for _, r := range records {
			if r.SeasonContinuous < base {
				base = r.SeasonContinuous
			}
		}
		col := make([]float64, len(records))
		for i, r := range records {
			col[i] = float64(r.SeasonContinuous - base)
		}
		seasonCols = append(seasonCols, col)
		seasonNames = append(seasonNames, "season_continuous")
	}

	// Draft-round dummies, first round as reference.
	draftLevels := []string{derive.RoundSecond, derive.RoundUndrafted}
	draftCols := make([][]float64, len(draftLevels))
	for j, lvl := range draftLevels {
		col := make([]float64, len(records))
		for i, r := range records {
			if r.DraftRoundCombined == lvl {
				col[i] = 1
			}
		}
		draftCols[j] = col
	}

	cols := [][]float64{onesColumn(len(records))}
	names := []string{"(Intercept)"}

	for j := range seasonCols {
		cols = append(cols, seasonCols[j])
		names = append(names, seasonNames[j])
	}
	for j, lvl := range draftLevels {
		cols = append(cols, draftCols[j])
		names = append(names, "draft_round["+lvl+"]")
	}

	// Season x draft-round interaction.
	for sj := range seasonCols {
		for dj, lvl := range draftLevels {
			col := make([]float64, len(records))
			for i := range records {
				col[i] = seasonCols[sj][i] * draftCols[dj][i]
			}
			cols = append(cols, col)
			names = append(names, seasonNames[sj]+":draft_round["+lvl+"]")
		}
	}

	// Anthropometrics under the requested shape.
	heights := make([]float64, len(records))
	weights := make([]float64, len(records))
	for i, r := range records {
		heights[i] = r.Height
		weights[i] = r.Weight
	}
	hCols, hNames := shapeColumns(heights, "player_height", spec.Shape)
	wCols, wNames := shapeColumns(weights, "player_weight", spec.Shape)
	cols = append(cols, hCols...)
	names = append(names, hNames...)
	cols = append(cols, wCols...)
	names = append(names, wNames...)

	// Aging term.
	switch spec.Age {
	case AgeCareerStage:
		for _, stage := range []string{derive.StageMidCareer, derive.StageVeteran} {
			col := make([]float64, len(records))
			for i, r := range records {
				if r.CareerStage == stage {
					col[i] = 1
				}
			}
			cols = append(cols, col)
			names = append(names, "career_stage["+stage+"]")
		}
	default:
		col := make([]float64, len(records))
		for i, r := range records {
			col[i] = float64(r.Age)
		}
		cols = append(cols, col)
		names = append(names, "age")
	}

	d.ColNames = names
	d.X = mat.NewDense(len(records), len(cols), nil)
	for j, col := range cols {
		d.X.SetCol(j, col)
	}

	return d, nil
}

// Logit maps a proportion in (0,1) to the real line. Boundary values are
// undefined and rejected.
func Logit(p float64) (float64, error) {
	if p <= 0 || p >= 1 {
		return 0, &DomainError{Value: p, Reason: "ts_pct must lie strictly inside (0,1) for the logit transform"}
	}
	return math.Log(p / (1 - p)), nil
}

func onesColumn(n int) []float64 {
	col := make([]float64, n)
	for i := range col {
		col[i] = 1
	}
	return col
}

func seasonLevels(records []derive.Record) []string {
	seen := make(map[string]bool)
	var levels []string
	for _, r := range records {
		if !seen[r.Season] {
			seen[r.Season] = true
			levels = append(levels, r.Season)
		}
	}
	sort.Strings(levels)
	return levels
}

// shapeColumns expands a predictor into its basis under the requested
// shape: the raw column, raw plus square, or a 3-df natural cubic spline.
func shapeColumns(x []float64, name string, shape Shape) ([][]float64, []string) {
	switch shape {
	case ShapeQuadratic:
		sq := make([]float64, len(x))
		for i, v := range x {
			sq[i] = v * v
		}
		return [][]float64{append([]float64(nil), x...), sq}, []string{name, name + "^2"}
	case ShapeSpline:
		return naturalSplineBasis(x, name)
	default:
		return [][]float64{append([]float64(nil), x...)}, []string{name}
	}
}

// naturalSplineBasis builds the 3-df natural cubic spline basis with
// boundary knots at the observed min/max and interior knots at the
// tertiles (the ns() parameterization in Hastie et al.).
func naturalSplineBasis(x []float64, name string) ([][]float64, []string) {
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)

	knots := []float64{
		sorted[0],
		stat.Quantile(1.0/3.0, stat.Empirical, sorted, nil),
		stat.Quantile(2.0/3.0, stat.Empirical, sorted, nil),
		sorted[len(sorted)-1],
	}

	kLast := knots[len(knots)-1]
	kPrev := knots[len(knots)-2]
	dk := func(v, knot float64) float64 {
		num := pos3(v-knot) - pos3(v-kLast)
		return num / (kLast - knot)
	}

	linear := append([]float64(nil), x...)
	b1 := make([]float64, len(x))
	b2 := make([]float64, len(x))
	for i, v := range x {
		b1[i] = dk(v, knots[0]) - dk(v, kPrev)
		b2[i] = dk(v, knots[1]) - dk(v, kPrev)
	}

	return [][]float64{linear, b1, b2},
		[]string{"ns(" + name + ")1", "ns(" + name + ")2", "ns(" + name + ")3"}
}

func pos3(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return v * v * v
}
