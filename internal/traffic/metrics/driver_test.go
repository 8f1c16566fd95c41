package metrics

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wgate/internal/models"
)

func TestSaveSetsGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := New(reg)

	id := uuid.New()
	require.NoError(t, d.Save(context.Background(), []models.TrafficData{
		{PeerID: id, Kind: models.PeerKindClient, Received: 1403752, Sent: 19462368},
	}))

	assert.Equal(t, float64(1403752), testutil.ToFloat64(d.rx.WithLabelValues(id.String(), "client")))
	assert.Equal(t, float64(19462368), testutil.ToFloat64(d.tx.WithLabelValues(id.String(), "client")))

	got, err := d.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].PeerID)
}

func TestNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := New(reg)
	b := New(reg)
	assert.Same(t, a.rx, b.rx)
	assert.Same(t, a.tx, b.tx)
}
