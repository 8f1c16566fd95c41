package plugins

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spf13/afero"
)

// Host — то, что плагин получает при инициализации (реализует configuration.Manager).
type Host interface {
	WorkDir() string
	Fs() afero.Fs
}

// Plugin — корневая способность любого плагина. Конкретные способности
// (например, traffic.Driver) расширяют этот интерфейс.
type Plugin interface {
	Name() string
	Description() string
	Initialize(host Host) error
}

// Registry — каталог загруженных плагинов по имени и по способности.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Plugin
}

// Default — реестр процесса.
var Default = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Plugin)}
}

// Add регистрирует плагин; имя должно быть уникальным.
func (r *Registry) Add(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	if name == "" {
		return fmt.Errorf("plugin %T has empty name", p)
	}
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("plugin %q already registered", name)
	}
	r.byName[name] = p
	return nil
}

func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// All — все плагины, отсортированные по имени.
func (r *Registry) All() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, 0, len(r.byName))
	for _, p := range r.byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Reset очищает реестр (повторная загрузка, тесты).
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName = make(map[string]Plugin)
}

// Of — все плагины, реализующие способность T.
func Of[T any](r *Registry) []T {
	var out []T
	for _, p := range r.All() {
		if v, ok := p.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// Lookup — плагин по имени, если он реализует T.
func Lookup[T any](r *Registry, name string) (T, bool) {
	var zero T
	p, ok := r.Get(name)
	if !ok {
		return zero, false
	}
	v, ok := p.(T)
	if !ok {
		return zero, false
	}
	return v, true
}
