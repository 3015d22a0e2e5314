package engine

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"healthmap/internal/models"
)

const whoCSV = `IND_ID,IND_CODE,GEO_NAME_SHORT,DIM_TIME,DIM_SEX,RATE_PER_100_N,RATE_PER_100_NL
A1,NCD_BMI_30C,Bolivia (Plurinational State of),2020,MALE,22.5,18.1
A1,NCD_BMI_30C,Bolivia (Plurinational State of),2020,FEMALE,31.2,27.0
A1,NCD_BMI_30C,"occupied Palestinian territory, including east Jerusalem",2020,TOTAL,33.0,29.9
A1,NCD_BMI_30C,Chad,2020,MALE,,
A1,NCD_BMI_30C,Chad,2020,UNKNOWN,4.1,3.0
`

func TestLoadIndicatorsCSV(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "who_*.csv")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())
	if _, err := tmpFile.WriteString(whoCSV); err != nil {
		t.Fatal(err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(tmpFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	records, stats, err := LoadIndicators(f, IndicatorOptions{})
	if err != nil {
		t.Fatalf("LoadIndicators: %v", err)
	}

	if stats.Rows != 5 {
		t.Errorf("Expected 5 rows read, got %d", stats.Rows)
	}
	if stats.Skipped != 2 {
		t.Errorf("Expected 2 skipped rows (null rate, unknown sex), got %d", stats.Skipped)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}

	r0 := records[0]
	if r0.CountryName != "Bolivia (Plurinational State of)" || r0.Year != 2020 || r0.Sex != models.SexMale || r0.Rate != 22.5 {
		t.Errorf("Row 0 mismatch: %+v", r0)
	}
	if records[2].CountryName != "occupied Palestinian territory, including east Jerusalem" {
		t.Errorf("Quoted name not preserved: %q", records[2].CountryName)
	}
	if records[2].Sex != models.SexBoth {
		t.Errorf("TOTAL should map to BOTH, got %s", records[2].Sex)
	}
	if records[2].Row != 2 {
		t.Errorf("Expected source row 2, got %d", records[2].Row)
	}
}

func TestLoadIndicatorsAcceptsAlternateCountryHeader(t *testing.T) {
	in := "NAME,DIM_TIME,DIM_SEX,RATE_PER_100_N\nFrance,2016,FEMALE,21.0\n"
	records, _, err := LoadIndicators(strings.NewReader(in), IndicatorOptions{})
	if err != nil {
		t.Fatalf("LoadIndicators: %v", err)
	}
	if len(records) != 1 || records[0].CountryName != "France" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestLoadIndicatorsMissingColumn(t *testing.T) {
	in := "GEO_NAME_SHORT,DIM_TIME,DIM_SEX\nFrance,2016,MALE\n"
	_, _, err := LoadIndicators(strings.NewReader(in), IndicatorOptions{})
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("Expected ErrMissingColumn, got %v", err)
	}
	var colErr *ColumnError
	if !errors.As(err, &colErr) || colErr.Column != "RATE_PER_100_N" {
		t.Errorf("Expected ColumnError for RATE_PER_100_N, got %v", err)
	}
}

func TestLoadIndicatorsMissingCountryColumn(t *testing.T) {
	in := "ISO3,DIM_TIME,DIM_SEX,RATE_PER_100_N\nFRA,2016,MALE,1\n"
	_, _, err := LoadIndicators(strings.NewReader(in), IndicatorOptions{})
	var colErr *ColumnError
	if !errors.As(err, &colErr) || colErr.Column != "country" {
		t.Fatalf("Expected country ColumnError, got %v", err)
	}
}

func TestLoadIndicatorsEncoding(t *testing.T) {
	// 0x81 is u-umlaut in code page 850.
	in := "GEO_NAME_SHORT,DIM_TIME,DIM_SEX,RATE_PER_100_N\nT\x81rkiye,2022,MALE,30.1\n"
	records, _, err := LoadIndicators(strings.NewReader(in), IndicatorOptions{Encoding: "cp850"})
	if err != nil {
		t.Fatalf("LoadIndicators: %v", err)
	}
	if len(records) != 1 || records[0].CountryName != "Türkiye" {
		t.Fatalf("Expected Türkiye, got %+v", records)
	}

	if _, err := DecodeReader(strings.NewReader(""), "ebcdic"); err == nil {
		t.Error("Expected error for unsupported encoding")
	}
}

func TestLoadIndicatorsStripsBOM(t *testing.T) {
	in := "\ufeffGEO_NAME_SHORT,DIM_TIME,DIM_SEX,RATE_PER_100_N\nPeru,2010,BTSX,19.5\n"
	records, _, err := LoadIndicators(strings.NewReader(in), IndicatorOptions{})
	if err != nil {
		t.Fatalf("LoadIndicators: %v", err)
	}
	if len(records) != 1 || records[0].Sex != models.SexBoth {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestLoadIndicatorsXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	rows := [][]interface{}{
		{"GEO_NAME_SHORT", "DIM_TIME", "DIM_SEX", "RATE_PER_100_N"},
		{"Viet Nam", 2019, "FEMALE", 2.5},
		{"Viet Nam", 2019, "MALE", "n/a"},
		{"Japan", 2019, "MALE", 5.5},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}

	records, stats, err := LoadIndicators(buf, IndicatorOptions{Format: FormatXLSX})
	if err != nil {
		t.Fatalf("LoadIndicators: %v", err)
	}
	if stats.Skipped != 1 {
		t.Errorf("Expected 1 skipped row, got %d", stats.Skipped)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].CountryName != "Viet Nam" || records[0].Rate != 2.5 || records[0].Year != 2019 {
		t.Errorf("Row 0 mismatch: %+v", records[0])
	}
	if records[1].Row != 2 {
		t.Errorf("Expected source row 2 for Japan, got %d", records[1].Row)
	}
}

func TestLoadIndicatorsUnknownFormat(t *testing.T) {
	if _, _, err := LoadIndicators(strings.NewReader(""), IndicatorOptions{Format: "parquet"}); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func TestLoadIndicatorsHeaderOnly(t *testing.T) {
	header := "GEO_NAME_SHORT,DIM_TIME,DIM_SEX,RATE_PER_100_N"
	for _, in := range []string{header, header + "\n", header + "\r\n\r\n"} {
		records, stats, err := LoadIndicators(strings.NewReader(in), IndicatorOptions{})
		if err != nil {
			t.Fatalf("%q: LoadIndicators: %v", in, err)
		}
		if len(records) != 0 || stats.Rows != 0 {
			t.Errorf("%q: expected no rows, got %d records, %+v", in, len(records), stats)
		}
	}
}

func TestLoadIndicatorsSkipsMalformedNumbers(t *testing.T) {
	in := "GEO_NAME_SHORT,DIM_TIME,DIM_SEX,RATE_PER_100_N\n" +
		"Chad,2020,MALE,<0.1\n" +
		"Chad,20x0,MALE,1.0\n" +
		"Peru,2020,MALE,19.5\n"
	records, stats, err := LoadIndicators(strings.NewReader(in), IndicatorOptions{})
	if err != nil {
		t.Fatalf("LoadIndicators: %v", err)
	}
	if stats.Rows != 3 || stats.Skipped != 2 {
		t.Errorf("Expected 3 rows with 2 skipped, got %+v", stats)
	}
	if len(records) != 1 || records[0].CountryName != "Peru" || records[0].Row != 2 {
		t.Fatalf("unexpected records: %+v", records)
	}
}
