package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"healthmap/internal/engine"
	"healthmap/internal/models"
)

func badRequest(format string, args ...any) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf(format, args...))
}

func intParam(c echo.Context, name string, def int) (int, error) {
	s := c.QueryParam(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, badRequest("%s: not an integer: %q", name, s)
	}
	return v, nil
}

func floatParam(c echo.Context, name string) (*float64, error) {
	s := c.QueryParam(name)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, badRequest("%s: not a finite number: %q", name, s)
	}
	return &v, nil
}

// parseQuery reads the filter parameters shared by every /api view.
// group and continent may repeat because country names contain commas.
func parseQuery(c echo.Context, view string) (engine.Query, error) {
	q := engine.Query{View: view, Level: engine.GroupCountry}
	var err error
	if q.Year, err = intParam(c, "year", 0); err != nil {
		return q, err
	}
	if q.MinYear, err = intParam(c, "min_year", 0); err != nil {
		return q, err
	}
	if q.MaxYear, err = intParam(c, "max_year", 0); err != nil {
		return q, err
	}
	if q.MinYear != 0 && q.MaxYear != 0 && q.MinYear > q.MaxYear {
		return q, badRequest("min_year %d is after max_year %d", q.MinYear, q.MaxYear)
	}
	if s := c.QueryParam("sex"); s != "" {
		if q.Sex, err = models.ParseSex(s); err != nil {
			return q, badRequest("sex: %v", err)
		}
	}
	if s := c.QueryParam("level"); s != "" {
		if q.Level, err = engine.ParseGroupField(s); err != nil {
			return q, badRequest("level: %v", err)
		}
	}
	if q.N, err = intParam(c, "n", 0); err != nil {
		return q, err
	}
	if q.N < 0 {
		return q, badRequest("n must be >= 0")
	}
	params := c.QueryParams()
	q.Groups = params["group"]
	q.Continents = params["continent"]
	if q.MinRate, err = floatParam(c, "min_rate"); err != nil {
		return q, err
	}
	if q.MaxRate, err = floatParam(c, "max_rate"); err != nil {
		return q, err
	}
	if q.MinRate != nil && q.MaxRate != nil && *q.MinRate > *q.MaxRate {
		return q, badRequest("min_rate %v is above max_rate %v", *q.MinRate, *q.MaxRate)
	}
	return q, nil
}

func getPaginationParams(c echo.Context, defaultLimit int) (int, int, error) {
	limit, err := intParam(c, "limit", defaultLimit)
	if err != nil {
		return 0, 0, err
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	offset, err := intParam(c, "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	if offset < 0 {
		return 0, 0, badRequest("offset must be >= 0")
	}
	return limit, offset, nil
}
