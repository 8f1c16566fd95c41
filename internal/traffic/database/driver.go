package database

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"gorm.io/gorm"

	"wgate/internal/db"
	"wgate/internal/logs"
	"wgate/internal/models"
	"wgate/internal/repo"
	"wgate/internal/traffic"
)

const Name = "database"

// Driver хранит трафик в SQL-таблице через gorm (postgres | mysql).
// Подключение ленивое: открывается при первом Save/Load.
type Driver struct {
	*traffic.Base
	mu    sync.Mutex
	store *repo.TrafficStore
	open  func(driver, dsn string) (*gorm.DB, error)
}

func New() *Driver {
	return &Driver{
		Base: traffic.NewBase(Name, "Stores traffic records in PostgreSQL or MySQL", traffic.Options{
			"driver":      "postgres",
			"dsn":         "",
			"automigrate": "true",
			"retention":   "",
		}),
		open: db.Open,
	}
}

// WithDB — готовое подключение (тесты, общий пул).
func WithDB(gdb *gorm.DB) *Driver {
	d := New()
	d.store = repo.NewTrafficStore(gdb)
	return d
}

func (d *Driver) Clone() traffic.Driver {
	return &Driver{Base: d.CloneBase(), open: d.open}
}

func (d *Driver) ensure(ctx context.Context) (*repo.TrafficStore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.store != nil {
		return d.store, nil
	}
	opts := d.Options()
	if opts.Get("dsn", "") == "" {
		return nil, fmt.Errorf("%s driver: option dsn is empty", Name)
	}
	gdb, err := d.open(opts.Get("driver", "postgres"), opts.Get("dsn", ""))
	if err != nil {
		return nil, fmt.Errorf("%s driver: %w", Name, err)
	}
	store := repo.NewTrafficStore(gdb)
	if auto, _ := strconv.ParseBool(opts.Get("automigrate", "true")); auto {
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("%s driver: migrate: %w", Name, err)
		}
	}
	d.store = store
	return store, nil
}

func (d *Driver) Save(ctx context.Context, data []models.TrafficData) error {
	if len(data) == 0 {
		return nil
	}
	store, err := d.ensure(ctx)
	if err != nil {
		return err
	}
	recs := make([]models.TrafficRecord, 0, len(data))
	for _, td := range data {
		recs = append(recs, models.NewTrafficRecord(td, nil))
	}
	if err := store.Append(ctx, recs); err != nil {
		return err
	}
	if ret := d.Options().Get("retention", ""); ret != "" {
		if dur, err := time.ParseDuration(ret); err == nil && dur > 0 {
			if n, err := store.Prune(ctx, time.Now().Add(-dur)); err != nil {
				logs.Component("traffic.database").WithError(err).Warn("prune failed")
			} else if n > 0 {
				logs.Component("traffic.database").Debugf("pruned %d records", n)
			}
		}
	}
	return nil
}

func (d *Driver) Load(ctx context.Context) ([]models.TrafficData, error) {
	store, err := d.ensure(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := store.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	out := make([]models.TrafficData, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Data())
	}
	return out, nil
}

// Ping — проверка готовности для /readyz.
func (d *Driver) Ping(ctx context.Context) error {
	store, err := d.ensure(ctx)
	if err != nil {
		return err
	}
	return store.Ping(ctx)
}
