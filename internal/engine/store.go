package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"healthmap/internal/models"
)

// Opener opens a source by URI.
type Opener interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

type PipelineOptions struct {
	IndicatorURI string
	Indicator    IndicatorOptions
	BoundaryURI  string
	Boundary     BoundaryOptions
	Aliases      *AliasTable
	Join         JoinMode
}

// Dataset holds everything loaded once per process. It is read-only after
// Build returns and safe for concurrent readers.
type Dataset struct {
	Indicators []models.IndicatorRecord // names resolved through Aliases
	Boundaries []models.RegionBoundary
	Joined     []models.JoinedRecord
	Coverage   models.Coverage
	Stats      LoadStats
	Aliases    *AliasTable
	JoinMode   JoinMode
	LoadTime   time.Duration
}

// Build loads both sources concurrently, reconciles names and joins them.
// On ErrEmptyJoin the partially built dataset is returned alongside the
// error so the caller can report coverage.
func Build(ctx context.Context, open Opener, opts PipelineOptions) (*Dataset, error) {
	start := time.Now()
	aliases := opts.Aliases
	if aliases == nil {
		aliases = DefaultAliases()
	}
	if opts.Indicator.Format == FormatAuto || opts.Indicator.Format == "" {
		opts.Indicator.Format = formatFromURI(opts.IndicatorURI)
	}

	var (
		raw        []models.IndicatorRecord
		stats      LoadStats
		boundaries []models.RegionBoundary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rc, err := open.Open(gctx, opts.IndicatorURI)
		if err != nil {
			return fmt.Errorf("open indicators: %w", err)
		}
		defer rc.Close()
		raw, stats, err = LoadIndicators(rc, opts.Indicator)
		return err
	})
	g.Go(func() error {
		rc, err := open.Open(gctx, opts.BoundaryURI)
		if err != nil {
			return fmt.Errorf("open boundaries: %w", err)
		}
		defer rc.Close()
		boundaries, err = LoadBoundaries(rc, opts.Boundary)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	mode := opts.Join
	if mode == "" {
		mode = JoinInner
	}
	resolved := aliases.Apply(raw)
	res, err := Join(resolved, boundaries, mode)
	res.Coverage.StaleAliases = aliases.Stale(raw)

	ds := &Dataset{
		Indicators: resolved,
		Boundaries: boundaries,
		Joined:     res.Records,
		Coverage:   res.Coverage,
		Stats:      stats,
		Aliases:    aliases,
		JoinMode:   mode,
		LoadTime:   time.Since(start),
	}
	return ds, err
}

// MapView left-joins the indicator rows of one year and sex against every
// boundary, optionally restricted to a set of continents. Countries without
// data appear with the no-data marker.
func (d *Dataset) MapView(year int, sex models.Sex, continents []string) []models.JoinedRecord {
	rows := FilterIndicatorsBySex(FilterIndicatorsByYear(d.Indicators, year), sex)
	boundaries := d.Boundaries
	if len(continents) > 0 {
		keep := make(map[string]struct{}, len(continents))
		for _, c := range continents {
			keep[c] = struct{}{}
		}
		boundaries = make([]models.RegionBoundary, 0, len(d.Boundaries))
		for _, b := range d.Boundaries {
			if _, ok := keep[b.Continent]; ok {
				boundaries = append(boundaries, b)
			}
		}
	}
	// An empty year is a valid "no data for this filter" result, so the
	// empty-join error is not surfaced here.
	res, _ := Join(rows, boundaries, JoinLeft)
	return res.Records
}

func formatFromURI(uri string) Format {
	if strings.HasSuffix(strings.ToLower(uri), ".xlsx") {
		return FormatXLSX
	}
	return FormatCSV
}
