package plugins

import (
	"errors"
	"fmt"
	"path/filepath"
	"plugin"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"wgate/internal/apperr"
	"wgate/internal/logs"
)

// Symbol — экспорт, который ищется в каждом .so:
//
//	func Plugins() []plugins.Plugin
const Symbol = "Plugins"

// Opener загружает один модуль и возвращает его плагины.
type Opener func(path string) ([]Plugin, error)

// OpenShared — загрузка через стандартный plugin.Open.
func OpenShared(path string) ([]Plugin, error) {
	so, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	sym, err := so.Lookup(Symbol)
	if err != nil {
		return nil, err
	}
	switch f := sym.(type) {
	case func() []Plugin:
		return f(), nil
	case *func() []Plugin:
		return (*f)(), nil
	default:
		return nil, fmt.Errorf("symbol %s has type %T, want func() []plugins.Plugin", Symbol, sym)
	}
}

// Engine сканирует каталог плагинов и наполняет реестр.
type Engine struct {
	Registry *Registry
	Host     Host
	Open     Opener
	Ext      string
}

func NewEngine(reg *Registry, host Host) *Engine {
	if reg == nil {
		reg = Default
	}
	return &Engine{Registry: reg, Host: host, Open: OpenShared, Ext: ".so"}
}

// Register — явная регистрация встроенных плагинов.
func (e *Engine) Register(ps ...Plugin) error {
	for _, p := range ps {
		if err := e.add(p); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) add(p Plugin) error {
	if e.Host != nil {
		if err := p.Initialize(e.Host); err != nil {
			return fmt.Errorf("initialize %s: %w", p.Name(), err)
		}
	}
	return e.Registry.Add(p)
}

func (e *Engine) fs() afero.Fs {
	if e.Host != nil && e.Host.Fs() != nil {
		return e.Host.Fs()
	}
	return afero.NewOsFs()
}

// LoadDirectory загружает все модули каталога (без рекурсии).
// Ошибка одного модуля логируется и не прерывает сканирование;
// все такие ошибки возвращаются списком PluginLoadError.
func (e *Engine) LoadDirectory(dir string) []error {
	log := logs.Component("plugins").WithField("dir", dir)
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	entries, err := afero.ReadDir(e.fs(), dir)
	if err != nil {
		log.WithError(err).Debug("plugin directory not readable, skipping")
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var errs []error
	for _, ent := range entries {
		if ent.IsDir() || !strings.EqualFold(filepath.Ext(ent.Name()), e.Ext) {
			continue
		}
		path := filepath.Join(dir, ent.Name())
		n, err := e.loadUnit(path)
		if err != nil {
			lerr := &apperr.PluginLoadError{Path: path, Err: err}
			log.WithError(lerr).Warn("plugin skipped")
			errs = append(errs, lerr)
			continue
		}
		log.WithField("unit", ent.Name()).Infof("loaded %d plugin(s)", n)
	}
	return errs
}

func (e *Engine) loadUnit(path string) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while loading: %v", rec)
		}
	}()
	ps, err := e.Open(path)
	if err != nil {
		return 0, err
	}
	if len(ps) == 0 {
		return 0, errors.New("unit exports no plugins")
	}
	var failed []error
	for _, p := range ps {
		if p == nil {
			continue
		}
		if err := e.add(p); err != nil {
			failed = append(failed, err)
			continue
		}
		n++
	}
	if n == 0 && len(failed) > 0 {
		return 0, errors.Join(failed...)
	}
	for _, f := range failed {
		logs.Component("plugins").WithError(f).Warn("plugin from unit skipped")
	}
	return n, nil
}
