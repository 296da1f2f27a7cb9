// Package descriptive computes the grouped summary statistics reported
// alongside the models.
package descriptive

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/willtack/nba-longitudinal-efficiency/internal/derive"
)

// Display labels for the draft-round groups.
const (
	GroupFirstRound  = "1st Round"
	GroupSecondRound = "2nd Round"
	GroupUndrafted   = "Undrafted"
	GroupOverall     = "Overall"
)

// Variables is the fixed set of numeric columns summarized per group.
var Variables = []string{"ts_pct", "player_height", "player_weight", "age", "gp_pct"}

// VarStats holds na-safe mean and standard deviation for one variable.
type VarStats struct {
	Mean float64
	SD   float64
	N    int // observations entering the mean/SD (NaN excluded)
}

// FormatMeanSD renders the conventional "mean (sd)" cell.
func (v VarStats) FormatMeanSD(decimals int) string {
	if v.N == 0 {
		return "-"
	}
	return fmt.Sprintf("%.*f (%.*f)", decimals, v.Mean, decimals, v.SD)
}

// GroupSummary is the summary block for one draft-round group.
type GroupSummary struct {
	Group string
	N     int
	Stats map[string]VarStats

	// Level counts for the categorical columns.
	CareerStageCounts map[string]int
	RoundBinaryCounts map[string]int
}

// Summary is the full descriptive table: the three draft-round groups in
// display order plus the Overall pseudo-group.
type Summary struct {
	Groups []GroupSummary
}

// Group returns the summary block for a display label, or nil.
func (s *Summary) Group(label string) *GroupSummary {
	for i := range s.Groups {
		if s.Groups[i].Group == label {
			return &s.Groups[i]
		}
	}
	return nil
}

var groupOrder = []struct {
	label string
	round string // "" means all rows
}{
	{GroupFirstRound, derive.RoundFirst},
	{GroupSecondRound, derive.RoundSecond},
	{GroupUndrafted, derive.RoundUndrafted},
	{GroupOverall, ""},
}

// Summarize computes mean/SD per variable and level counts per categorical
// column, grouped by the collapsed draft round plus an overall group.
// Missing values (NaN) are excluded from aggregation, never fatal.
func Summarize(records []derive.Record) *Summary {
	out := &Summary{}
	for _, g := range groupOrder {
		var rows []derive.Record
		if g.round == "" {
			rows = records
		} else {
			for _, r := range records {
				if r.DraftRoundCombined == g.round {
					rows = append(rows, r)
				}
			}
		}
		out.Groups = append(out.Groups, summarizeGroup(g.label, rows))
	}
	return out
}

func summarizeGroup(label string, rows []derive.Record) GroupSummary {
	gs := GroupSummary{
		Group:             label,
		N:                 len(rows),
		Stats:             make(map[string]VarStats, len(Variables)),
		CareerStageCounts: make(map[string]int),
		RoundBinaryCounts: make(map[string]int),
	}

	for _, v := range Variables {
		vals := make([]float64, 0, len(rows))
		for _, r := range rows {
			x := variableValue(r, v)
			if !math.IsNaN(x) {
				vals = append(vals, x)
			}
		}
		vs := VarStats{N: len(vals)}
		if len(vals) > 0 {
			vs.Mean = stat.Mean(vals, nil)
		}
		if len(vals) > 1 {
			vs.SD = stat.StdDev(vals, nil)
		}
		gs.Stats[v] = vs
	}

	for _, r := range rows {
		gs.CareerStageCounts[r.CareerStage]++
		gs.RoundBinaryCounts[r.DraftRoundCombinedNew]++
	}

	return gs
}

func variableValue(r derive.Record, name string) float64 {
	switch name {
	case "ts_pct":
		return r.TSPct
	case "player_height":
		return r.Height
	case "player_weight":
		return r.Weight
	case "age":
		return float64(r.Age)
	case "gp_pct":
		return r.GpPct
	default:
		return math.NaN()
	}
}
