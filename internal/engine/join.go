package engine

import (
	"fmt"
	"sort"

	"healthmap/internal/models"
)

// JoinMode selects inner or left join semantics.
type JoinMode string

const (
	JoinInner JoinMode = "inner"
	JoinLeft  JoinMode = "left"
)

func ParseJoinMode(s string) (JoinMode, error) {
	switch JoinMode(s) {
	case JoinInner, "":
		return JoinInner, nil
	case JoinLeft:
		return JoinLeft, nil
	}
	return "", fmt.Errorf("unknown join mode %q", s)
}

// JoinResult is the joined record set plus its coverage counters.
type JoinResult struct {
	Records  []models.JoinedRecord
	Coverage models.Coverage
}

// Join equi-joins indicator rows (names already resolved) with boundary rows
// on exact country name. Inner output follows indicator order. Left output
// follows boundary order, each boundary expanding to its matching indicator
// rows or to one no-data row.
//
// When no indicator row matches, Join returns ErrEmptyJoin together with the
// coverage so callers can report it.
func Join(indicators []models.IndicatorRecord, boundaries []models.RegionBoundary, mode JoinMode) (JoinResult, error) {
	byName := make(map[string]int, len(boundaries))
	for i, b := range boundaries {
		// First boundary wins on duplicate names.
		if _, ok := byName[b.CountryName]; !ok {
			byName[b.CountryName] = i
		}
	}

	matchedBoundary := make([]bool, len(boundaries))
	rowsByBoundary := make([][]int, len(boundaries))
	unmatched := make(map[string]struct{})
	matched := 0
	for i, ind := range indicators {
		bi, ok := byName[ind.CountryName]
		if !ok {
			unmatched[ind.CountryName] = struct{}{}
			continue
		}
		matched++
		matchedBoundary[bi] = true
		rowsByBoundary[bi] = append(rowsByBoundary[bi], i)
	}

	cov := models.Coverage{
		IndicatorRows: len(indicators),
		MatchedRows:   matched,
		BoundaryRows:  len(boundaries),
		Unmatched:     sortedKeys(unmatched),
	}
	for _, m := range matchedBoundary {
		if m {
			cov.BoundaryMatched++
		}
	}
	if len(indicators) > 0 {
		cov.Ratio = float64(matched) / float64(len(indicators))
	}

	var out []models.JoinedRecord
	switch mode {
	case JoinLeft:
		out = make([]models.JoinedRecord, 0, len(boundaries)+matched)
		for bi, b := range boundaries {
			rows := rowsByBoundary[bi]
			if len(rows) == 0 {
				out = append(out, noDataRecord(b))
				continue
			}
			for _, ri := range rows {
				out = append(out, joinRecord(indicators[ri], b))
			}
		}
	default:
		out = make([]models.JoinedRecord, 0, matched)
		for _, ind := range indicators {
			if bi, ok := byName[ind.CountryName]; ok {
				out = append(out, joinRecord(ind, boundaries[bi]))
			}
		}
	}

	res := JoinResult{Records: out, Coverage: cov}
	if matched == 0 {
		return res, ErrEmptyJoin
	}
	return res, nil
}

func joinRecord(ind models.IndicatorRecord, b models.RegionBoundary) models.JoinedRecord {
	return models.JoinedRecord{
		CountryName: b.CountryName,
		Continent:   b.Continent,
		Subregion:   b.Subregion,
		Geometry:    b.Geometry,
		HasData:     true,
		Year:        ind.Year,
		Sex:         ind.Sex,
		Rate:        models.Measure(ind.Rate),
		Row:         ind.Row,
	}
}

func noDataRecord(b models.RegionBoundary) models.JoinedRecord {
	return models.JoinedRecord{
		CountryName: b.CountryName,
		Continent:   b.Continent,
		Subregion:   b.Subregion,
		Geometry:    b.Geometry,
		Rate:        models.NoData(),
		Row:         -1,
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
