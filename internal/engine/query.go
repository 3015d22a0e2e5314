package engine

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"

	"healthmap/internal/models"
)

// Query is one filter selection made by the dashboard. Zero fields do not
// filter. It doubles as the aggregate cache key.
type Query struct {
	View       string
	Year       int
	MinYear    int
	MaxYear    int
	Sex        models.Sex
	Level      GroupField
	Groups     []string
	Continents []string
	MinRate    *float64
	MaxRate    *float64
	N          int
}

// Apply narrows records to the selection. Filters run in a fixed order:
// year, year range, sex, continent, group, rate range.
func (q Query) Apply(records []models.JoinedRecord) []models.JoinedRecord {
	out := records
	if q.Year != 0 {
		out = FilterByYear(out, q.Year)
	}
	if q.MinYear != 0 || q.MaxYear != 0 {
		out = FilterByYearRange(out, q.MinYear, q.MaxYear)
	}
	if q.Sex != "" {
		out = FilterBySex(out, q.Sex)
	}
	if len(q.Continents) > 0 {
		out = FilterByGroup(out, GroupContinent, q.Continents)
	}
	if len(q.Groups) > 0 {
		level := q.Level
		if level == "" {
			level = GroupCountry
		}
		out = FilterByGroup(out, level, q.Groups)
	}
	if q.MinRate != nil || q.MaxRate != nil {
		lo, hi := math.Inf(-1), math.Inf(1)
		if q.MinRate != nil {
			lo = *q.MinRate
		}
		if q.MaxRate != nil {
			hi = *q.MaxRate
		}
		out = FilterByRateRange(out, lo, hi)
	}
	return out
}

// Key hashes q. The order of Groups and Continents does not matter.
func (q Query) Key() uint64 {
	var b strings.Builder
	b.WriteString(q.View)
	for _, part := range []string{
		strconv.Itoa(q.Year), strconv.Itoa(q.MinYear), strconv.Itoa(q.MaxYear),
		string(q.Sex), string(q.Level), joinSorted(q.Groups), joinSorted(q.Continents),
		formatBound(q.MinRate), formatBound(q.MaxRate),
		strconv.Itoa(q.N),
	} {
		b.WriteByte('\x1e')
		b.WriteString(part)
	}
	return xxh3.HashString(b.String())
}

func joinSorted(values []string) string {
	s := append([]string(nil), values...)
	sort.Strings(s)
	return strings.Join(s, "\x1f")
}

func formatBound(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}
