package server

import (
	"context"
	"time"

	"wgate/internal/logs"
)

// collect — внешний таймер сбора трафика: раз в interval снимает dump
// всех интерфейсов через API-обработчик, под его блокировкой.
func (a *App) collect(ctx context.Context, interval time.Duration) {
	log := logs.Component("collector").WithField("interval", interval.String())
	log.Info("traffic collection started")

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("traffic collection stopped")
			return
		case <-t.C:
			data, err := a.API.CollectTraffic(ctx)
			if err != nil {
				log.WithError(err).Warn("traffic collection failed")
				continue
			}
			log.WithField("records", len(data)).Debug("traffic collected")
		}
	}
}
