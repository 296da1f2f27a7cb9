// Package derive applies the inclusion rules and derived columns that turn
// the raw player-season table into the analytic table used for summaries
// and modeling.
package derive

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/willtack/nba-longitudinal-efficiency/internal/dataset"
	"github.com/willtack/nba-longitudinal-efficiency/pkg/logger"
)

// Draft-round categories after collapsing the raw indicator.
const (
	RoundFirst     = "1"
	RoundSecond    = "2"
	RoundUndrafted = "Undrafted"

	// Binary collapse levels.
	RoundBinaryFirst = "1"
	RoundBinaryOther = "2_or_Undrafted"
)

// Career-stage buckets, assigned from age with right-closed boundaries.
const (
	StageRookie    = "Rookie"
	StageMidCareer = "Mid-Career"
	StageVeteran   = "Veteran"
)

// Config holds the fixed lookup tables and thresholds, injected rather
// than global so tests can exercise alternate seasons and eras.
type Config struct {
	// SeasonLengths maps season labels to scheduled games for seasons
	// that deviate from the default (lockouts).
	SeasonLengths map[string]int
	// DefaultSeasonLength applies to any season not in SeasonLengths.
	DefaultSeasonLength int
	// MinGpPct is the participation threshold. The strict pass keeps
	// gp_pct > MinGpPct; the second pass keeps gp_pct >= MinGpPct.
	MinGpPct float64
	// Age bucket boundaries, right-closed: (-inf, RookieMaxAge],
	// (RookieMaxAge, MidCareerMaxAge], (MidCareerMaxAge, +inf).
	RookieMaxAge    int
	MidCareerMaxAge int
}

// DefaultConfig returns the 1996-97 through 2022-23 era configuration.
func DefaultConfig() Config {
	return Config{
		SeasonLengths: map[string]int{
			"1998-99": 50,
			"2011-12": 66,
		},
		DefaultSeasonLength: 82,
		MinGpPct:            0.5,
		RookieMaxAge:        25,
		MidCareerMaxAge:     30,
	}
}

// Record is a source row extended with the derived analytic columns.
type Record struct {
	dataset.PlayerSeasonRecord

	GPSeason              int
	GpPct                 float64
	DraftRoundCombined    string
	DraftRoundCombinedNew string
	SeasonContinuous      int
	CareerStage           string
}

// FilterReport counts rows removed at each filtering step.
type FilterReport struct {
	InputRows              int
	DroppedInvalidDraft    int
	DroppedStrictGpPct     int
	DroppedMalformedSeason int
	DroppedNonStrictGpPct  int
	OutputRows             int
}

// MalformedSeasonError indicates a season label whose first four
// characters do not parse as a year.
type MalformedSeasonError struct {
	Season string
}

func (e *MalformedSeasonError) Error() string {
	return fmt.Sprintf("malformed season label %q", e.Season)
}

// InvalidCategoryError indicates a raw draft-round value outside
// {0, 1, 2, "Undrafted"}.
type InvalidCategoryError struct {
	Value string
}

func (e *InvalidCategoryError) Error() string {
	return fmt.Sprintf("invalid draft_round value %q", e.Value)
}

// Derive computes the derived columns and applies the inclusion filters.
// It is deterministic and leaves its input untouched. Row-level problems
// (invalid draft round, malformed season label) drop the row and are
// counted in the report; only configuration invariant violations abort.
func Derive(records []dataset.PlayerSeasonRecord, cfg Config) ([]Record, FilterReport, error) {
	report := FilterReport{InputRows: len(records)}

	if err := validateConfig(cfg); err != nil {
		return nil, report, err
	}

	out := make([]Record, 0, len(records))
	for _, src := range records {
		rec := Record{PlayerSeasonRecord: src}

		// Season schedule length from the fixed lookup.
		rec.GPSeason = cfg.DefaultSeasonLength
		if n, ok := cfg.SeasonLengths[src.Season]; ok {
			rec.GPSeason = n
		}

		// Collapse the raw draft-round indicator. Anything outside the
		// known levels drops the row before the participation filter.
		combined, err := CombineDraftRound(src.DraftRound)
		if err != nil {
			report.DroppedInvalidDraft++
			continue
		}
		rec.DraftRoundCombined = combined

		rec.GpPct = float64(src.GP) / float64(rec.GPSeason)

		// Strict participation filter.
		if !(rec.GpPct > cfg.MinGpPct) {
			report.DroppedStrictGpPct++
			continue
		}

		year, err := SeasonStartYear(src.Season)
		if err != nil {
			report.DroppedMalformedSeason++
			continue
		}
		rec.SeasonContinuous = year

		rec.DraftRoundCombinedNew = RoundBinaryOther
		if rec.DraftRoundCombined == RoundFirst {
			rec.DraftRoundCombinedNew = RoundBinaryFirst
		}

		// Second participation pass, non-strict. Redundant with the
		// strict pass above; counted separately so the redundancy
		// stays visible. TODO: confirm whether the second pass can be
		// retired.
		if !(rec.GpPct >= cfg.MinGpPct) {
			report.DroppedNonStrictGpPct++
			continue
		}

		rec.CareerStage = careerStage(src.Age, cfg)

		out = append(out, rec)
	}

	report.OutputRows = len(out)

	logger.GetLogger().WithFields(logrus.Fields{
		"rows_in":                 report.InputRows,
		"rows_out":                report.OutputRows,
		"dropped_invalid_draft":   report.DroppedInvalidDraft,
		"dropped_gp_pct":          report.DroppedStrictGpPct,
		"dropped_bad_season":      report.DroppedMalformedSeason,
		"dropped_gp_pct_2nd_pass": report.DroppedNonStrictGpPct,
	}).Info("Derived analytic table")

	return out, report, nil
}

// CombineDraftRound maps the raw draft-round token onto the three-level
// category: 0 or "Undrafted" become "Undrafted", 1 and 2 map to
// themselves, everything else is invalid.
func CombineDraftRound(raw string) (string, error) {
	switch raw {
	case "0", "Undrafted":
		return RoundUndrafted, nil
	case "1":
		return RoundFirst, nil
	case "2":
		return RoundSecond, nil
	default:
		return "", &InvalidCategoryError{Value: raw}
	}
}

// SeasonStartYear parses the first four characters of a season label
// ("2011-12" -> 2011).
func SeasonStartYear(season string) (int, error) {
	if len(season) < 4 {
		return 0, &MalformedSeasonError{Season: season}
	}
	year, err := strconv.Atoi(season[:4])
	if err != nil {
		return 0, &MalformedSeasonError{Season: season}
	}
	return year, nil
}

func careerStage(age int, cfg Config) string {
	switch {
	case age <= cfg.RookieMaxAge:
		return StageRookie
	case age <= cfg.MidCareerMaxAge:
		return StageMidCareer
	default:
		return StageVeteran
	}
}

func validateConfig(cfg Config) error {
	if cfg.DefaultSeasonLength <= 0 {
		return fmt.Errorf("invalid default season length %d", cfg.DefaultSeasonLength)
	}
	for season, n := range cfg.SeasonLengths {
		if n <= 0 {
			return fmt.Errorf("invalid season length %d for %s", n, season)
		}
	}
	if cfg.RookieMaxAge >= cfg.MidCareerMaxAge {
		return fmt.Errorf("age buckets out of order: %d >= %d", cfg.RookieMaxAge, cfg.MidCareerMaxAge)
	}
	return nil
}
