package engine

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"healthmap/internal/models"
)

// BoundaryFields names the feature properties of the boundary source.
type BoundaryFields struct {
	Name      string `yaml:"name"`
	Continent string `yaml:"continent"`
	Subregion string `yaml:"subregion"`
}

// DefaultBoundaryFields matches Natural Earth admin-0 countries.
func DefaultBoundaryFields() BoundaryFields {
	return BoundaryFields{Name: "NAME", Continent: "CONTINENT", Subregion: "SUBREGION"}
}

type BoundaryOptions struct {
	Fields BoundaryFields
	// Continent keeps only features on that continent when set.
	Continent string
}

const sourceBoundaries = "boundaries"

// LoadBoundaries reads a GeoJSON FeatureCollection of Polygon or MultiPolygon
// features. Every feature must carry the configured properties.
func LoadBoundaries(r io.Reader, opts BoundaryOptions) ([]models.RegionBoundary, error) {
	if opts.Fields.Name == "" {
		opts.Fields = DefaultBoundaryFields()
	}
	var fc geojson.FeatureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, fmt.Errorf("%s: decode geojson: %w", sourceBoundaries, err)
	}

	out := make([]models.RegionBoundary, 0, len(fc.Features))
	for i, f := range fc.Features {
		name, err := stringProperty(f, opts.Fields.Name)
		if err != nil {
			return nil, err
		}
		continent, err := stringProperty(f, opts.Fields.Continent)
		if err != nil {
			return nil, err
		}
		subregion, err := stringProperty(f, opts.Fields.Subregion)
		if err != nil {
			return nil, err
		}
		switch f.Geometry.(type) {
		case *geom.Polygon, *geom.MultiPolygon:
		case nil:
			return nil, fmt.Errorf("%s: feature %d (%s) has no geometry", sourceBoundaries, i, name)
		default:
			return nil, fmt.Errorf("%s: feature %d (%s): unsupported geometry %T", sourceBoundaries, i, name, f.Geometry)
		}
		if opts.Continent != "" && continent != opts.Continent {
			continue
		}
		out = append(out, models.RegionBoundary{
			CountryName: normalizeName(name),
			Continent:   normalizeName(continent),
			Subregion:   normalizeName(subregion),
			Geometry:    f.Geometry,
		})
	}
	return out, nil
}

func stringProperty(f *geojson.Feature, key string) (string, error) {
	v, ok := f.Properties[key]
	if !ok {
		return "", &ColumnError{Source: sourceBoundaries, Column: key}
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case nil:
		return "", nil
	default:
		return fmt.Sprint(s), nil
	}
}
