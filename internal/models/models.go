package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"
)

// Sex is the sex dimension of an indicator observation.
type Sex string

const (
	SexMale   Sex = "MALE"
	SexFemale Sex = "FEMALE"
	SexBoth   Sex = "BOTH"
)

// Sexes lists every sex in display order.
var Sexes = []Sex{SexMale, SexFemale, SexBoth}

// ParseSex maps a raw sex code to a Sex. Aggregate codes used by the WHO
// exports (TOTAL, BTSX) collapse into SexBoth.
func ParseSex(code string) (Sex, error) {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "MALE", "MLE", "M":
		return SexMale, nil
	case "FEMALE", "FMLE", "F":
		return SexFemale, nil
	case "BOTH", "TOTAL", "BTSX", "ALL":
		return SexBoth, nil
	}
	return "", fmt.Errorf("unknown sex code %q", code)
}

// Measure is a rate that may be absent. NaN encodes "no data" and is written
// to JSON as null.
type Measure float64

// NoData returns the absent measure.
func NoData() Measure { return Measure(math.NaN()) }

// Valid reports whether the measure carries a value.
func (m Measure) Valid() bool { return !math.IsNaN(float64(m)) }

func (m Measure) MarshalJSON() ([]byte, error) {
	if !m.Valid() || math.IsInf(float64(m), 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, float64(m), 'f', -1, 64), nil
}

func (m *Measure) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*m = NoData()
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*m = Measure(f)
	return nil
}

// IndicatorRecord is one country/year/sex observation of the tabular source.
// Row is the zero-based position in the source and breaks ranking ties.
type IndicatorRecord struct {
	CountryName string
	RawName     string
	Year        int
	Sex         Sex
	Rate        float64
	Row         int
}

// RegionBoundary is one feature of the boundary source.
type RegionBoundary struct {
	CountryName string
	Continent   string
	Subregion   string
	Geometry    geom.T
}

// JoinedRecord carries indicator and boundary fields for one country name.
// HasData is false for boundary-only rows of a left join; Year and Sex are
// zero and Rate is NoData for those rows.
type JoinedRecord struct {
	CountryName string
	Continent   string
	Subregion   string
	Geometry    geom.T
	HasData     bool
	Year        int
	Sex         Sex
	Rate        Measure
	Row         int
}

// --- API payloads ---

type Coverage struct {
	IndicatorRows   int      `json:"indicator_rows"`
	MatchedRows     int      `json:"matched_rows"`
	Ratio           float64  `json:"ratio"`
	BoundaryRows    int      `json:"boundary_rows"`
	BoundaryMatched int      `json:"boundary_matched"`
	Unmatched       []string `json:"unmatched_names"`
	StaleAliases    []string `json:"stale_aliases"`
}

type SexMean struct {
	Sex   Sex     `json:"sex"`
	Mean  Measure `json:"mean"`
	Count int     `json:"count"`
}

type GroupStat struct {
	Group string  `json:"group"`
	Mean  Measure `json:"mean"`
	Min   Measure `json:"min"`
	Max   Measure `json:"max"`
	Count int     `json:"count"`
}

type RecordItem struct {
	Country   string  `json:"country"`
	Continent string  `json:"continent"`
	Subregion string  `json:"subregion"`
	Year      int     `json:"year"`
	Sex       Sex     `json:"sex"`
	Rate      Measure `json:"rate"`
}

type TopBottom struct {
	Top    []RecordItem `json:"top"`
	Bottom []RecordItem `json:"bottom"`
}

type SeriesPoint struct {
	Group string  `json:"group"`
	Year  int     `json:"year"`
	Mean  Measure `json:"mean"`
}

type TrendPoint struct {
	Year int     `json:"year"`
	Mean Measure `json:"mean"`
}

type Status struct {
	State    string    `json:"state"`
	Error    string    `json:"error,omitempty"`
	Coverage *Coverage `json:"coverage,omitempty"`
}
