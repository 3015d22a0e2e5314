package engine

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	arrowcsv "github.com/apache/arrow/go/v18/arrow/csv"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"healthmap/internal/models"
)

// Format selects the indicator table parser.
type Format string

const (
	FormatAuto Format = "auto"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// IndicatorColumns names the indicator table columns. Country lists every
// accepted header for the country-name field; the first present one wins.
type IndicatorColumns struct {
	Country []string `yaml:"country"`
	Year    string   `yaml:"year"`
	Sex     string   `yaml:"sex"`
	Rate    string   `yaml:"rate"`
}

// DefaultIndicatorColumns matches the WHO GHO flat export.
func DefaultIndicatorColumns() IndicatorColumns {
	return IndicatorColumns{
		Country: []string{"GEO_NAME_SHORT", "NAME", "COUNTRY", "country_name"},
		Year:    "DIM_TIME",
		Sex:     "DIM_SEX",
		Rate:    "RATE_PER_100_N",
	}
}

type IndicatorOptions struct {
	Columns  IndicatorColumns
	Format   Format
	Sheet    string // xlsx only; empty means the first sheet
	Encoding string // csv only; utf-8, latin1, cp850, windows-1252
	Chunk    int    // rows per arrow record batch
}

// LoadStats summarises one indicator load.
type LoadStats struct {
	Rows    int
	Skipped int
}

const sourceIndicators = "indicators"

// --- 1. TEXT DECODING ---

// DecodeReader wraps r so that it yields UTF-8. A UTF-8 byte order mark is
// dropped.
func DecodeReader(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.ReplaceAll(encoding, "_", "-")) {
	case "", "utf-8", "utf8":
		return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())), nil
	case "latin1", "latin-1", "iso-8859-1":
		return charmap.ISO8859_1.NewDecoder().Reader(r), nil
	case "cp850", "ibm850":
		return charmap.CodePage850.NewDecoder().Reader(r), nil
	case "cp1252", "windows-1252":
		return charmap.Windows1252.NewDecoder().Reader(r), nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", encoding)
}

// --- 2. COLUMN RESOLUTION ---

type resolvedColumns struct {
	country, year, sex, rate string
}

func (c resolvedColumns) names() []string {
	return []string{c.country, c.year, c.sex, c.rate}
}

// resolveColumns matches the configured names against the header, ignoring
// case and surrounding space, and returns the header spelling.
func resolveColumns(header []string, cols IndicatorColumns) (resolvedColumns, error) {
	lookup := make(map[string]string, len(header))
	for _, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, ok := lookup[key]; !ok {
			lookup[key] = h
		}
	}
	find := func(candidates ...string) (string, bool) {
		for _, c := range candidates {
			if h, ok := lookup[strings.ToLower(strings.TrimSpace(c))]; ok && c != "" {
				return h, true
			}
		}
		return "", false
	}

	var rc resolvedColumns
	var ok bool
	if rc.country, ok = find(cols.Country...); !ok {
		return rc, &ColumnError{Source: sourceIndicators, Column: "country", Tried: cols.Country}
	}
	if rc.year, ok = find(cols.Year); !ok {
		return rc, &ColumnError{Source: sourceIndicators, Column: cols.Year}
	}
	if rc.sex, ok = find(cols.Sex); !ok {
		return rc, &ColumnError{Source: sourceIndicators, Column: cols.Sex}
	}
	if rc.rate, ok = find(cols.Rate); !ok {
		return rc, &ColumnError{Source: sourceIndicators, Column: cols.Rate}
	}
	return rc, nil
}

// --- 3. MAIN LOADER ---

// LoadIndicators parses the indicator table. Rows with a null or malformed
// field or an unknown sex code are skipped and counted. A header without rows
// yields no records and no error.
func LoadIndicators(r io.Reader, opts IndicatorOptions) ([]models.IndicatorRecord, LoadStats, error) {
	if len(opts.Columns.Country) == 0 {
		opts.Columns = DefaultIndicatorColumns()
	}
	switch opts.Format {
	case FormatXLSX:
		return loadXLSX(r, opts)
	case FormatCSV, FormatAuto, "":
		return loadCSV(r, opts)
	}
	return nil, LoadStats{}, fmt.Errorf("unsupported indicator format %q", opts.Format)
}

type rowBuilder struct {
	records []models.IndicatorRecord
	stats   LoadStats
}

func (b *rowBuilder) add(name string, year int, sexCode string, rate float64) {
	row := b.stats.Rows
	b.stats.Rows++
	name = normalizeName(name)
	sex, err := models.ParseSex(sexCode)
	if name == "" || err != nil {
		b.stats.Skipped++
		return
	}
	b.records = append(b.records, models.IndicatorRecord{
		CountryName: name,
		RawName:     name,
		Year:        year,
		Sex:         sex,
		Rate:        rate,
		Row:         row,
	})
}

func (b *rowBuilder) skip() {
	b.stats.Rows++
	b.stats.Skipped++
}

func loadCSV(r io.Reader, opts IndicatorOptions) ([]models.IndicatorRecord, LoadStats, error) {
	dec, err := DecodeReader(r, opts.Encoding)
	if err != nil {
		return nil, LoadStats{}, err
	}

	// Peek the header so missing columns are reported before arrow sees them.
	br := bufio.NewReader(dec)
	headerLine, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, LoadStats{}, fmt.Errorf("read header: %w", err)
	}
	if strings.TrimSpace(headerLine) == "" {
		return nil, LoadStats{}, fmt.Errorf("%s: empty input", sourceIndicators)
	}
	header, err := csv.NewReader(strings.NewReader(headerLine)).Read()
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("parse header: %w", err)
	}
	cols, err := resolveColumns(header, opts.Columns)
	if err != nil {
		return nil, LoadStats{}, err
	}

	// Arrow's reader cannot build a schema from a header alone, so a body of
	// blank lines is settled here.
	empty, err := onlyBlankLines(br)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("read body: %w", err)
	}
	if empty {
		return []models.IndicatorRecord{}, LoadStats{}, nil
	}

	chunk := opts.Chunk
	if chunk <= 0 {
		chunk = 4096
	}
	// Every column is read as text; numbers go through strconv so that one
	// malformed cell ("<0.1") skips its row instead of failing the batch.
	rdr := arrowcsv.NewInferringReader(io.MultiReader(strings.NewReader(headerLine), br),
		arrowcsv.WithHeader(true),
		arrowcsv.WithChunk(chunk),
		arrowcsv.WithLazyQuotes(true),
		arrowcsv.WithIncludeColumns(cols.names()),
		arrowcsv.WithColumnTypes(map[string]arrow.DataType{
			cols.country: arrow.BinaryTypes.String,
			cols.year:    arrow.BinaryTypes.String,
			cols.sex:     arrow.BinaryTypes.String,
			cols.rate:    arrow.BinaryTypes.String,
		}),
		arrowcsv.WithNullReader(true, "", "NA", "NULL"),
	)
	defer rdr.Release()

	var b rowBuilder
	for rdr.Next() {
		rec := rdr.Record()
		names, nok := column[*array.String](rec, cols.country)
		years, yok := column[*array.String](rec, cols.year)
		sexes, sok := column[*array.String](rec, cols.sex)
		rates, rok := column[*array.String](rec, cols.rate)
		if !nok || !yok || !sok || !rok {
			return nil, b.stats, fmt.Errorf("%s: unexpected column layout", sourceIndicators)
		}
		for i := 0; i < int(rec.NumRows()); i++ {
			if names.IsNull(i) || years.IsNull(i) || sexes.IsNull(i) || rates.IsNull(i) {
				b.skip()
				continue
			}
			year, yerr := strconv.Atoi(strings.TrimSpace(years.Value(i)))
			rate, rerr := strconv.ParseFloat(strings.TrimSpace(rates.Value(i)), 64)
			if yerr != nil || rerr != nil {
				b.skip()
				continue
			}
			b.add(names.Value(i), year, sexes.Value(i), rate)
		}
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, b.stats, fmt.Errorf("%s: parse csv after %d rows: %w", sourceIndicators, b.stats.Rows, err)
	}
	if b.records == nil {
		b.records = []models.IndicatorRecord{}
	}
	return b.records, b.stats, nil
}

// onlyBlankLines consumes leading line breaks and reports whether the input
// ends there.
func onlyBlankLines(br *bufio.Reader) (bool, error) {
	for {
		c, err := br.ReadByte()
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		if c != '\n' && c != '\r' {
			return false, br.UnreadByte()
		}
	}
}

func column[T arrow.Array](rec arrow.Record, name string) (T, bool) {
	var zero T
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return zero, false
	}
	col, ok := rec.Column(idx[0]).(T)
	return col, ok
}

func loadXLSX(r io.Reader, opts IndicatorOptions) ([]models.IndicatorRecord, LoadStats, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, LoadStats{}, fmt.Errorf("%s: workbook has no sheets", sourceIndicators)
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, LoadStats{}, fmt.Errorf("%s: empty input", sourceIndicators)
	}

	header := rows[0]
	cols, err := resolveColumns(header, opts.Columns)
	if err != nil {
		return nil, LoadStats{}, err
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		if _, ok := pos[h]; !ok {
			pos[h] = i
		}
	}
	cell := func(row []string, name string) string {
		if i := pos[name]; i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	var b rowBuilder
	for _, row := range rows[1:] {
		if len(row) == 0 {
			continue
		}
		name, sex := cell(row, cols.country), cell(row, cols.sex)
		year, yerr := strconv.Atoi(cell(row, cols.year))
		rate, rerr := strconv.ParseFloat(cell(row, cols.rate), 64)
		if name == "" || sex == "" || yerr != nil || rerr != nil {
			b.skip()
			continue
		}
		b.add(name, year, sex, rate)
	}
	return b.records, b.stats, nil
}
