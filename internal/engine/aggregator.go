package engine

import (
	"fmt"
	"sort"

	"healthmap/internal/models"
)

// GroupField is a nominal field of a joined record.
type GroupField string

const (
	GroupContinent GroupField = "continent"
	GroupSubregion GroupField = "subregion"
	GroupCountry   GroupField = "country"
)

func ParseGroupField(s string) (GroupField, error) {
	switch GroupField(s) {
	case GroupContinent, GroupSubregion, GroupCountry:
		return GroupField(s), nil
	}
	return "", fmt.Errorf("unknown group level %q", s)
}

// Value returns the field value of r.
func (f GroupField) Value(r models.JoinedRecord) string {
	switch f {
	case GroupContinent:
		return r.Continent
	case GroupSubregion:
		return r.Subregion
	default:
		return r.CountryName
	}
}

// --- 1. FILTERS ---

func filter(records []models.JoinedRecord, keep func(models.JoinedRecord) bool) []models.JoinedRecord {
	out := make([]models.JoinedRecord, 0, len(records))
	for _, r := range records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// FilterByYear keeps records observed in year.
func FilterByYear(records []models.JoinedRecord, year int) []models.JoinedRecord {
	return filter(records, func(r models.JoinedRecord) bool { return r.HasData && r.Year == year })
}

// FilterByYearRange keeps records with lo <= year <= hi. A zero bound is open.
func FilterByYearRange(records []models.JoinedRecord, lo, hi int) []models.JoinedRecord {
	return filter(records, func(r models.JoinedRecord) bool {
		return r.HasData && (lo == 0 || r.Year >= lo) && (hi == 0 || r.Year <= hi)
	})
}

// FilterBySex keeps records of one sex.
func FilterBySex(records []models.JoinedRecord, sex models.Sex) []models.JoinedRecord {
	return filter(records, func(r models.JoinedRecord) bool { return r.HasData && r.Sex == sex })
}

// FilterByGroup keeps records whose field value is one of values. An empty
// values list keeps nothing.
func FilterByGroup(records []models.JoinedRecord, field GroupField, values []string) []models.JoinedRecord {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return filter(records, func(r models.JoinedRecord) bool {
		_, ok := set[field.Value(r)]
		return ok
	})
}

// FilterByRateRange keeps records with lo <= rate <= hi.
func FilterByRateRange(records []models.JoinedRecord, lo, hi float64) []models.JoinedRecord {
	return filter(records, func(r models.JoinedRecord) bool {
		if !r.HasData || !r.Rate.Valid() {
			return false
		}
		v := float64(r.Rate)
		return v >= lo && v <= hi
	})
}

// FilterIndicatorsByYear is FilterByYear for unjoined rows; the map view
// filters before a left join so that every boundary is kept.
func FilterIndicatorsByYear(records []models.IndicatorRecord, year int) []models.IndicatorRecord {
	out := make([]models.IndicatorRecord, 0, len(records))
	for _, r := range records {
		if r.Year == year {
			out = append(out, r)
		}
	}
	return out
}

// FilterIndicatorsBySex keeps unjoined rows of one sex.
func FilterIndicatorsBySex(records []models.IndicatorRecord, sex models.Sex) []models.IndicatorRecord {
	out := make([]models.IndicatorRecord, 0, len(records))
	for _, r := range records {
		if r.Sex == sex {
			out = append(out, r)
		}
	}
	return out
}

// --- 2. STATISTICS ---

type meanAcc struct {
	sum      float64
	n        int
	min, max float64
}

func (a *meanAcc) add(v float64) {
	if a.n == 0 || v < a.min {
		a.min = v
	}
	if a.n == 0 || v > a.max {
		a.max = v
	}
	a.sum += v
	a.n++
}

func (a meanAcc) mean() models.Measure {
	if a.n == 0 {
		return models.NoData()
	}
	return models.Measure(a.sum / float64(a.n))
}

func (a meanAcc) bounds() (models.Measure, models.Measure) {
	if a.n == 0 {
		return models.NoData(), models.NoData()
	}
	return models.Measure(a.min), models.Measure(a.max)
}

func hasRate(r models.JoinedRecord) bool { return r.HasData && r.Rate.Valid() }

// SexBreakdown returns mean and count per sex, in models.Sexes order. A sex
// without observations has a NoData mean.
func SexBreakdown(records []models.JoinedRecord) []models.SexMean {
	acc := make(map[models.Sex]*meanAcc, len(models.Sexes))
	for _, s := range models.Sexes {
		acc[s] = &meanAcc{}
	}
	for _, r := range records {
		if a, ok := acc[r.Sex]; ok && hasRate(r) {
			a.add(float64(r.Rate))
		}
	}
	out := make([]models.SexMean, 0, len(models.Sexes))
	for _, s := range models.Sexes {
		out = append(out, models.SexMean{Sex: s, Mean: acc[s].mean(), Count: acc[s].n})
	}
	return out
}

// MeanBySex maps every sex to its mean rate, NoData when absent.
func MeanBySex(records []models.JoinedRecord) map[models.Sex]models.Measure {
	out := make(map[models.Sex]models.Measure, len(models.Sexes))
	for _, m := range SexBreakdown(records) {
		out[m.Sex] = m.Mean
	}
	return out
}

// GroupStats returns mean, min and max per field value, ordered by mean
// descending and then by name.
func GroupStats(records []models.JoinedRecord, field GroupField) []models.GroupStat {
	acc := make(map[string]*meanAcc)
	for _, r := range records {
		if !hasRate(r) {
			continue
		}
		key := field.Value(r)
		a, ok := acc[key]
		if !ok {
			a = &meanAcc{}
			acc[key] = a
		}
		a.add(float64(r.Rate))
	}

	out := make([]models.GroupStat, 0, len(acc))
	for g, a := range acc {
		lo, hi := a.bounds()
		out = append(out, models.GroupStat{Group: g, Mean: a.mean(), Min: lo, Max: hi, Count: a.n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mean != out[j].Mean {
			return out[i].Mean > out[j].Mean
		}
		return out[i].Group < out[j].Group
	})
	return out
}

// TopBottomN returns the n highest rates (descending) and the n lowest
// (ascending). Ties keep source row order. With at least 2n rows the lists are
// disjoint, so a tie at the cut never puts one row in both; with fewer they
// overlap.
func TopBottomN(records []models.JoinedRecord, n int) models.TopBottom {
	res := models.TopBottom{Top: []models.RecordItem{}, Bottom: []models.RecordItem{}}
	if n <= 0 {
		return res
	}
	rows := make([]models.JoinedRecord, 0, len(records))
	for _, r := range records {
		if hasRate(r) {
			rows = append(rows, r)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Row < rows[j].Row })

	desc := make([]int, len(rows))
	asc := make([]int, len(rows))
	for i := range rows {
		desc[i], asc[i] = i, i
	}
	sort.SliceStable(desc, func(i, j int) bool { return rows[desc[i]].Rate > rows[desc[j]].Rate })
	sort.SliceStable(asc, func(i, j int) bool { return rows[asc[i]].Rate < rows[asc[j]].Rate })

	k := min(n, len(rows))
	inTop := make(map[int]struct{}, k)
	for _, i := range desc[:k] {
		inTop[i] = struct{}{}
		res.Top = append(res.Top, recordItem(rows[i]))
	}
	disjoint := len(rows) >= 2*n
	for _, i := range asc {
		if len(res.Bottom) == k {
			break
		}
		if _, ok := inTop[i]; ok && disjoint {
			continue
		}
		res.Bottom = append(res.Bottom, recordItem(rows[i]))
	}
	return res
}

// RecordItems strips geometry from records for tabular output.
func RecordItems(records []models.JoinedRecord) []models.RecordItem {
	out := make([]models.RecordItem, len(records))
	for i, r := range records {
		out[i] = recordItem(r)
	}
	return out
}

func recordItem(r models.JoinedRecord) models.RecordItem {
	return models.RecordItem{
		Country:   r.CountryName,
		Continent: r.Continent,
		Subregion: r.Subregion,
		Year:      r.Year,
		Sex:       r.Sex,
		Rate:      r.Rate,
	}
}

type seriesKey struct {
	group string
	year  int
}

// TimeSeries returns one mean per (group, year) present in records, ordered
// by group and then year. Absent pairs are omitted.
func TimeSeries(records []models.JoinedRecord, field GroupField) []models.SeriesPoint {
	acc := make(map[seriesKey]*meanAcc)
	for _, r := range records {
		if !hasRate(r) {
			continue
		}
		k := seriesKey{group: field.Value(r), year: r.Year}
		a, ok := acc[k]
		if !ok {
			a = &meanAcc{}
			acc[k] = a
		}
		a.add(float64(r.Rate))
	}
	out := make([]models.SeriesPoint, 0, len(acc))
	for k, a := range acc {
		out = append(out, models.SeriesPoint{Group: k.group, Year: k.year, Mean: a.mean()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Year < out[j].Year
	})
	return out
}

// GlobalTrend returns the mean rate per year across all records. Callers pass
// the unfiltered set so the trend can overlay a filtered series.
func GlobalTrend(records []models.JoinedRecord) []models.TrendPoint {
	acc := make(map[int]*meanAcc)
	for _, r := range records {
		if !hasRate(r) {
			continue
		}
		a, ok := acc[r.Year]
		if !ok {
			a = &meanAcc{}
			acc[r.Year] = a
		}
		a.add(float64(r.Rate))
	}
	out := make([]models.TrendPoint, 0, len(acc))
	for y, a := range acc {
		out = append(out, models.TrendPoint{Year: y, Mean: a.mean()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Year < out[j].Year })
	return out
}

// Years lists the distinct observation years, ascending.
func Years(records []models.JoinedRecord) []int {
	seen := make(map[int]struct{})
	for _, r := range records {
		if r.HasData {
			seen[r.Year] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for y := range seen {
		out = append(out, y)
	}
	sort.Ints(out)
	return out
}

// GroupValues lists the distinct non-empty values of field, sorted.
func GroupValues(records []models.JoinedRecord, field GroupField) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		if v := field.Value(r); v != "" {
			seen[v] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// Mean is the arithmetic mean of the valid rates of records, NoData when
// there are none.
func Mean(records []models.JoinedRecord) models.Measure {
	var a meanAcc
	for _, r := range records {
		if hasRate(r) {
			a.add(float64(r.Rate))
		}
	}
	return a.mean()
}
