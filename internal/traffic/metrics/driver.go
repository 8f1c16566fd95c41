package metrics

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"wgate/internal/models"
	"wgate/internal/traffic"
)

const Name = "metrics"

// Driver публикует последние счётчики как gauges Prometheus.
// Load возвращает последний сохранённый снимок.
type Driver struct {
	*traffic.Base
	rx, tx *prometheus.GaugeVec

	mu   sync.Mutex
	last []models.TrafficData
}

// New регистрирует метрики в reg; повторная регистрация переиспользует существующие.
func New(reg prometheus.Registerer) *Driver {
	d := &Driver{Base: traffic.NewBase(Name, "Exports traffic counters as Prometheus gauges", nil)}
	d.rx = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "wgate",
		Name:      "peer_received_bytes",
		Help:      "Bytes received from a WireGuard peer at last collection.",
	}, []string{"peer", "kind"}))
	d.tx = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "wgate",
		Name:      "peer_sent_bytes",
		Help:      "Bytes sent to a WireGuard peer at last collection.",
	}, []string{"peer", "kind"}))
	return d
}

func register(reg prometheus.Registerer, g *prometheus.GaugeVec) *prometheus.GaugeVec {
	if reg == nil {
		return g
	}
	if err := reg.Register(g); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing
			}
		}
	}
	return g
}

func (d *Driver) Clone() traffic.Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &Driver{Base: d.CloneBase(), rx: d.rx, tx: d.tx, last: append([]models.TrafficData(nil), d.last...)}
}

func (d *Driver) Save(_ context.Context, data []models.TrafficData) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, td := range data {
		d.rx.WithLabelValues(td.PeerID.String(), string(td.Kind)).Set(float64(td.Received))
		d.tx.WithLabelValues(td.PeerID.String(), string(td.Kind)).Set(float64(td.Sent))
	}
	d.last = append(d.last[:0], data...)
	return nil
}

func (d *Driver) Load(_ context.Context) ([]models.TrafficData, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.TrafficData(nil), d.last...), nil
}
