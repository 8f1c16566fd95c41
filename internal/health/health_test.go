package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"wgate/internal/traffic"
	"wgate/internal/traffic/jsonfile"
)

type failingDriver struct{ *jsonfile.Driver }

func (failingDriver) Ping(context.Context) error { return errors.New("connection refused") }

func get(r *mux.Router, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestReadiness(t *testing.T) {
	var current traffic.Driver
	r := mux.NewRouter()
	RegisterRoutesWithDriver(r, func() traffic.Driver { return current })

	assert.Equal(t, http.StatusOK, get(r, "/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(r, "/readyz").Code)

	current = jsonfile.New()
	assert.Equal(t, http.StatusOK, get(r, "/readyz").Code)

	current = failingDriver{jsonfile.New()}
	rec := get(r, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "jsonfile storage unreachable")
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "wgate_test_gauge", Help: "test"})
	reg.MustRegister(g)
	g.Set(3)

	r := mux.NewRouter()
	RegisterMetrics(r, reg)
	rec := get(r, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wgate_test_gauge 3")
}
