package dataset

import "fmt"

// PlayerSeasonRecord is one row of the source table: a single player's
// totals for a single season.
type PlayerSeasonRecord struct {
	PlayerName string
	Season     string // season label, e.g. "1996-97"
	DraftRound string // raw token: "1", "2", "0", "Undrafted"
	GP         int
	TSPct      float64
	Height     float64 // inches
	Weight     float64 // lbs
	Age        int

	// Passthrough stats, carried but never modeled.
	Pts    float64
	UsgPct float64
}

// RequiredColumns are the source columns the loader refuses to run without.
var RequiredColumns = []string{
	"season",
	"player_name",
	"draft_round",
	"gp",
	"ts_pct",
	"player_height",
	"player_weight",
	"age",
}

// DataSourceError indicates the input file is missing or structurally
// unusable (unreadable, or required columns absent). Row-level parse
// problems are not DataSourceErrors; those rows are dropped and counted.
type DataSourceError struct {
	Path   string
	Reason string
	Err    error
}

func (e *DataSourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data source %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("data source %s: %s", e.Path, e.Reason)
}

func (e *DataSourceError) Unwrap() error {
	return e.Err
}
