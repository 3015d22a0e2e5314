package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthmap/internal/models"
)

func TestObserveLoad(t *testing.T) {
	m := New()
	m.ObserveLoad(models.Coverage{
		IndicatorRows: 4, MatchedRows: 3, Ratio: 0.75,
		Unmatched: []string{"Wakanda"}, StaleAliases: []string{"Swaziland", "Burma"},
	}, 2*time.Second)

	assert.Equal(t, 0.75, testutil.ToFloat64(m.coverage))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unmatched))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.staleAliases))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.loadSeconds))
}

func TestCacheLookupAndHandler(t *testing.T) {
	m := New()
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)
	m.LoadFailed()
	m.ObserveRequest("/api/years", "200", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "healthmap_load_failures_total 1"))
	assert.True(t, strings.Contains(body, `healthmap_http_request_duration_seconds_count{route="/api/years",status="200"} 1`))
}
