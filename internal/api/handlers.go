package api

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/twpayne/go-geom/encoding/geojson"

	"healthmap/internal/engine"
	"healthmap/internal/metrics"
	"healthmap/internal/models"
)

const (
	StateLoading   = "loading"
	StateReady     = "ready"
	StateFailed    = "failed"
	StateEmptyJoin = "empty_join"
)

const defaultTopN = 5

type snapshot struct {
	state string
	ds    *engine.Dataset
	err   error
}

// Handler serves the dashboard API. Until a dataset is published with
// SetData every data route answers 503.
type Handler struct {
	snap    atomic.Pointer[snapshot]
	cache   *engine.Cache
	metrics *metrics.Metrics
}

func NewHandler(ds *engine.Dataset, cache *engine.Cache, m *metrics.Metrics) *Handler {
	if m == nil {
		m = metrics.New()
	}
	h := &Handler{cache: cache, metrics: m}
	if ds != nil {
		h.SetData(ds)
	} else {
		h.snap.Store(&snapshot{state: StateLoading})
	}
	return h
}

// SetData publishes a ready dataset and drops cached aggregates.
func (h *Handler) SetData(ds *engine.Dataset) {
	h.cache.Reset()
	h.snap.Store(&snapshot{state: StateReady, ds: ds})
}

// SetError records a failed load. ds may carry the coverage of an empty join.
func (h *Handler) SetError(ds *engine.Dataset, err error) {
	state := StateFailed
	if errors.Is(err, engine.ErrEmptyJoin) {
		state = StateEmptyJoin
	}
	h.cache.Reset()
	h.snap.Store(&snapshot{state: state, ds: ds, err: err})
}

// Load runs build and publishes its outcome.
func (h *Handler) Load(ctx context.Context, build func(context.Context) (*engine.Dataset, error)) (*engine.Dataset, error) {
	t0 := time.Now()
	ds, err := build(ctx)
	if ds != nil {
		h.metrics.ObserveLoad(ds.Coverage, time.Since(t0))
	}
	if err != nil {
		h.metrics.LoadFailed()
		h.SetError(ds, err)
		return ds, err
	}
	h.SetData(ds)
	return ds, nil
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Healthz)
	e.GET("/metrics", echo.WrapHandler(h.metrics.Handler()))

	api := e.Group("/api")
	api.GET("/status", h.GetStatus)
	api.GET("/coverage", h.GetCoverage)
	api.GET("/years", h.GetYears)
	api.GET("/groups", h.GetGroups)
	api.GET("/map", h.GetMap)
	api.GET("/records", h.GetRecords)
	api.GET("/stats/sex", h.GetSexStats)
	api.GET("/stats/groups", h.GetGroupStats)
	api.GET("/stats/top", h.GetTopBottom)
	api.GET("/series", h.GetSeries)
	api.GET("/trend", h.GetTrend)
}

func (h *Handler) ready() (*engine.Dataset, error) {
	s := h.snap.Load()
	switch s.state {
	case StateReady:
		return s.ds, nil
	case StateLoading:
		return nil, echo.NewHTTPError(http.StatusServiceUnavailable, "data is loading")
	case StateEmptyJoin:
		return nil, echo.NewHTTPError(http.StatusUnprocessableEntity, s.err.Error())
	default:
		return nil, echo.NewHTTPError(http.StatusInternalServerError, s.err.Error())
	}
}

// view resolves the dataset and serves fn through the aggregate cache.
func (h *Handler) view(c echo.Context, name string, fn func(*engine.Dataset, engine.Query) any) error {
	ds, err := h.ready()
	if err != nil {
		return err
	}
	q, err := parseQuery(c, name)
	if err != nil {
		return err
	}
	v, hit, err := h.cache.Get(q, func() (any, error) { return fn(ds, q), nil })
	h.metrics.CacheLookup(hit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

// --- HANDLERS ---

func (h *Handler) Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func (h *Handler) GetStatus(c echo.Context) error {
	s := h.snap.Load()
	st := models.Status{State: s.state}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	if s.ds != nil {
		cov := s.ds.Coverage
		st.Coverage = &cov
	}
	return c.JSON(http.StatusOK, st)
}

// GetCoverage is also served for an empty join, where it explains the failure.
func (h *Handler) GetCoverage(c echo.Context) error {
	if s := h.snap.Load(); s.ds != nil {
		return c.JSON(http.StatusOK, s.ds.Coverage)
	}
	_, err := h.ready()
	return err
}

func (h *Handler) GetYears(c echo.Context) error {
	return h.view(c, "years", func(ds *engine.Dataset, q engine.Query) any {
		return engine.Years(q.Apply(ds.Joined))
	})
}

func (h *Handler) GetGroups(c echo.Context) error {
	return h.view(c, "groups", func(ds *engine.Dataset, q engine.Query) any {
		return engine.GroupValues(q.Apply(ds.Joined), q.Level)
	})
}

// GetMap returns every boundary as a GeoJSON feature carrying the rate of the
// selected year and sex, null where the country has no data. The year
// defaults to the latest one and the sex to BOTH.
func (h *Handler) GetMap(c echo.Context) error {
	ds, err := h.ready()
	if err != nil {
		return err
	}
	q, err := parseQuery(c, "map")
	if err != nil {
		return err
	}
	if q.Year == 0 {
		if years := engine.Years(ds.Joined); len(years) > 0 {
			q.Year = years[len(years)-1]
		}
	}
	if q.Sex == "" {
		q.Sex = models.SexBoth
	}
	v, hit, err := h.cache.Get(q, func() (any, error) {
		return featureCollection(ds.MapView(q.Year, q.Sex, q.Continents)), nil
	})
	h.metrics.CacheLookup(hit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func featureCollection(rows []models.JoinedRecord) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(rows))}
	for _, r := range rows {
		props := map[string]interface{}{
			"name":      r.CountryName,
			"continent": r.Continent,
			"subregion": r.Subregion,
			"has_data":  r.HasData,
			"rate":      r.Rate,
		}
		if r.HasData {
			props["year"] = r.Year
			props["sex"] = r.Sex
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         r.CountryName,
			Geometry:   r.Geometry,
			Properties: props,
		})
	}
	return fc
}

func (h *Handler) GetRecords(c echo.Context) error {
	ds, err := h.ready()
	if err != nil {
		return err
	}
	q, err := parseQuery(c, "records")
	if err != nil {
		return err
	}
	v, hit, err := h.cache.Get(q, func() (any, error) {
		return engine.RecordItems(q.Apply(ds.Joined)), nil
	})
	h.metrics.CacheLookup(hit)
	if err != nil {
		return err
	}
	items := v.([]models.RecordItem)

	total := len(items)
	limit, offset, err := getPaginationParams(c, total)
	if err != nil {
		return err
	}
	if offset >= total {
		items = []models.RecordItem{}
	} else {
		end := offset + limit
		if end > total {
			end = total
		}
		items = items[offset:end]
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":   items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handler) GetSexStats(c echo.Context) error {
	return h.view(c, "sex", func(ds *engine.Dataset, q engine.Query) any {
		return engine.SexBreakdown(q.Apply(ds.Joined))
	})
}

func (h *Handler) GetGroupStats(c echo.Context) error {
	return h.view(c, "groups_stats", func(ds *engine.Dataset, q engine.Query) any {
		return engine.GroupStats(q.Apply(ds.Joined), q.Level)
	})
}

// GetTopBottom ranks rows by rate; n defaults to 5 when absent or zero.
func (h *Handler) GetTopBottom(c echo.Context) error {
	return h.view(c, "top", func(ds *engine.Dataset, q engine.Query) any {
		n := q.N
		if n == 0 {
			n = defaultTopN
		}
		return engine.TopBottomN(q.Apply(ds.Joined), n)
	})
}

// GetSeries returns per-group yearly means plus the global trend of the same
// years and sex for overlay.
func (h *Handler) GetSeries(c echo.Context) error {
	return h.view(c, "series", func(ds *engine.Dataset, q engine.Query) any {
		global := engine.Query{Sex: q.Sex, MinYear: q.MinYear, MaxYear: q.MaxYear}
		return map[string]interface{}{
			"series": engine.TimeSeries(q.Apply(ds.Joined), q.Level),
			"global": engine.GlobalTrend(global.Apply(ds.Joined)),
		}
	})
}

func (h *Handler) GetTrend(c echo.Context) error {
	return h.view(c, "trend", func(ds *engine.Dataset, q engine.Query) any {
		return engine.GlobalTrend(q.Apply(ds.Joined))
	})
}
