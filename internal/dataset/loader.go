package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/willtack/nba-longitudinal-efficiency/pkg/logger"
)

// LoadFile reads the per-player-per-season table from a CSV file on disk.
func LoadFile(path string) ([]PlayerSeasonRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DataSourceError{Path: path, Reason: "cannot open file", Err: err}
	}
	defer f.Close()

	records, err := Load(f, path)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Load parses CSV rows into PlayerSeasonRecords. The name argument is only
// used for error reporting. A leftover positional index column (empty header
// or "Unnamed: 0") is ignored because columns are resolved by name. Rows
// with unparseable numeric fields are dropped and counted, not fatal.
func Load(r io.Reader, name string) ([]PlayerSeasonRecord, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, &DataSourceError{Path: name, Reason: "cannot read header", Err: err}
	}

	colIdx := make(map[string]int, len(header))
	for i, col := range header {
		colIdx[strings.TrimSpace(col)] = i
	}

	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := colIdx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &DataSourceError{
			Path:   name,
			Reason: fmt.Sprintf("missing required columns: %s", strings.Join(missing, ", ")),
		}
	}

	var records []PlayerSeasonRecord
	skipped := 0
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			skipped++
			continue
		}

		rec, err := parseRow(row, colIdx)
		if err != nil {
			logger.GetLogger().WithFields(logrus.Fields{
				"line":  line,
				"error": err.Error(),
			}).Debug("Dropping unparseable row")
			skipped++
			continue
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, &DataSourceError{Path: name, Reason: "no parseable data rows"}
	}

	logger.WithDatasetContext(name, len(records)).
		WithField("rows_skipped", skipped).
		Info("Loaded player-season table")

	return records, nil
}

func parseRow(row []string, colIdx map[string]int) (PlayerSeasonRecord, error) {
	get := func(col string) string {
		i := colIdx[col]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	getOpt := func(col string) float64 {
		i, ok := colIdx[col]
		if !ok || i >= len(row) {
			return 0
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
		if err != nil {
			return 0
		}
		return v
	}

	var rec PlayerSeasonRecord
	rec.PlayerName = get("player_name")
	rec.Season = get("season")
	rec.DraftRound = get("draft_round")
	if rec.PlayerName == "" || rec.Season == "" {
		return rec, fmt.Errorf("empty player_name or season")
	}

	gp, err := strconv.Atoi(get("gp"))
	if err != nil {
		return rec, fmt.Errorf("gp: %w", err)
	}
	rec.GP = gp

	rec.TSPct, err = strconv.ParseFloat(get("ts_pct"), 64)
	if err != nil {
		return rec, fmt.Errorf("ts_pct: %w", err)
	}
	rec.Height, err = strconv.ParseFloat(get("player_height"), 64)
	if err != nil {
		return rec, fmt.Errorf("player_height: %w", err)
	}
	rec.Weight, err = strconv.ParseFloat(get("player_weight"), 64)
	if err != nil {
		return rec, fmt.Errorf("player_weight: %w", err)
	}

	// Ages occasionally come through as "23.0"
	ageF, err := strconv.ParseFloat(get("age"), 64)
	if err != nil {
		return rec, fmt.Errorf("age: %w", err)
	}
	rec.Age = int(ageF)

	rec.Pts = getOpt("pts")
	rec.UsgPct = getOpt("usg_pct")

	return rec, nil
}
