package traffic

import (
	"context"
	"sync"
	"time"

	"wgate/internal/models"
	"wgate/internal/plugins"
)

// DefaultInterval — период сбора трафика по умолчанию.
const DefaultInterval = 5 * time.Minute

// Options — произвольные строковые настройки драйвера.
type Options map[string]string

// Clone — глубокая копия.
func (o Options) Clone() Options {
	if o == nil {
		return nil
	}
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Get — значение или def, если ключ пуст.
func (o Options) Get(key, def string) string {
	if v, ok := o[key]; ok && v != "" {
		return v
	}
	return def
}

// Driver — способность "хранилище трафика".
type Driver interface {
	plugins.Plugin
	Interval() time.Duration
	SetInterval(d time.Duration)
	Options() Options
	SetOptions(o Options)
	Save(ctx context.Context, data []models.TrafficData) error
	Load(ctx context.Context) ([]models.TrafficData, error)
	Clone() Driver
}

// Base — общие поля драйверов. Драйверы встраивают *Base.
type Base struct {
	mu          sync.RWMutex
	name        string
	description string
	interval    time.Duration
	options     Options
	host        plugins.Host
}

func NewBase(name, description string, defaults Options) *Base {
	return &Base{name: name, description: description, interval: DefaultInterval, options: defaults.Clone()}
}

func (b *Base) Name() string        { return b.name }
func (b *Base) Description() string { return b.description }

func (b *Base) Interval() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.interval
}

func (b *Base) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	b.mu.Lock()
	b.interval = d
	b.mu.Unlock()
}

// Options возвращает копию: вызывающий не может изменить состояние драйвера.
func (b *Base) Options() Options {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.options.Clone()
}

// SetOptions накладывает значения поверх текущих.
func (b *Base) SetOptions(o Options) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.options == nil {
		b.options = Options{}
	}
	for k, v := range o {
		b.options[k] = v
	}
}

func (b *Base) Initialize(host plugins.Host) error {
	b.mu.Lock()
	b.host = host
	b.mu.Unlock()
	return nil
}

func (b *Base) Host() plugins.Host {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.host
}

// CloneBase — копия для Clone() конкретных драйверов.
func (b *Base) CloneBase() *Base {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return &Base{
		name:        b.name,
		description: b.description,
		interval:    b.interval,
		options:     b.options.Clone(),
		host:        b.host,
	}
}
