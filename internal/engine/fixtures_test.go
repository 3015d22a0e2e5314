package engine

import (
	"fmt"
	"strings"

	"github.com/twpayne/go-geom"

	"healthmap/internal/models"
)

// square returns a unit polygon anchored at (x, y).
func square(x, y float64) *geom.Polygon {
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{x, y}, {x + 1, y}, {x + 1, y + 1}, {x, y + 1}, {x, y},
	}})
}

func boundary(name, continent, subregion string, x float64) models.RegionBoundary {
	return models.RegionBoundary{CountryName: name, Continent: continent, Subregion: subregion, Geometry: square(x, 0)}
}

func indicator(name string, year int, sex models.Sex, rate float64, row int) models.IndicatorRecord {
	return models.IndicatorRecord{CountryName: name, RawName: name, Year: year, Sex: sex, Rate: rate, Row: row}
}

func joined(name, continent, subregion string, year int, sex models.Sex, rate float64, row int) models.JoinedRecord {
	return models.JoinedRecord{
		CountryName: name, Continent: continent, Subregion: subregion,
		HasData: true, Year: year, Sex: sex, Rate: models.Measure(rate), Row: row,
	}
}

// featureCollection renders one square feature per name as GeoJSON.
func featureCollection(props ...map[string]string) string {
	var feats []string
	for i, p := range props {
		var kv []string
		for k, v := range p {
			kv = append(kv, fmt.Sprintf("%q:%q", k, v))
		}
		x := float64(i)
		feats = append(feats, fmt.Sprintf(
			`{"type":"Feature","properties":{%s},"geometry":{"type":"Polygon","coordinates":[[[%g,0],[%g,0],[%g,1],[%g,1],[%g,0]]]}}`,
			strings.Join(kv, ","), x, x+1, x+1, x, x))
	}
	return `{"type":"FeatureCollection","features":[` + strings.Join(feats, ",") + `]}`
}

func ne(name, continent, subregion string) map[string]string {
	return map[string]string{"NAME": name, "CONTINENT": continent, "SUBREGION": subregion}
}
