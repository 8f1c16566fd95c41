package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wgate/internal/traffic"
)

// Pinger — драйвер, умеющий проверить своё хранилище (например, database).
type Pinger interface {
	Ping(ctx context.Context) error
}

// DriverFunc возвращает текущий драйвер хранения трафика (nil — не настроен).
type DriverFunc func() traffic.Driver

const pingTimeout = 3 * time.Second

// RegisterRoutes — базовый liveness.
func RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", liveness).Methods(http.MethodGet)
}

// RegisterRoutesWithDriver — liveness + readiness (драйвер трафика настроен и доступен).
func RegisterRoutesWithDriver(r *mux.Router, driver DriverFunc) {
	RegisterRoutes(r)
	r.HandleFunc("/readyz", func(w http.ResponseWriter, req *http.Request) {
		d := driver()
		if d == nil {
			http.Error(w, "traffic driver not configured", http.StatusServiceUnavailable)
			return
		}
		if p, ok := d.(Pinger); ok {
			ctx, cancel := context.WithTimeout(req.Context(), pingTimeout)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				http.Error(w, d.Name()+" storage unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
}

// RegisterMetrics — /metrics для g (nil — prometheus.DefaultGatherer).
func RegisterMetrics(r *mux.Router, g prometheus.Gatherer) {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

func liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
