package configuration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"wgate/internal/apperr"
	"wgate/internal/logs"
	"wgate/internal/models"
	"wgate/internal/plugins"
	"wgate/internal/shell"
	"wgate/internal/traffic"
	"wgate/internal/traffic/jsonfile"
	"wgate/internal/vpn/wireguard"
)

// Имена файлов конфигурации в порядке поиска.
var configNames = []string{"config.yaml", "config.yml", "config.json"}

const (
	DefaultConfigDirectory = "/etc/wireguard"
	DefaultPluginDirectory = "plugins"
	DefaultPrimaryDNS      = "1.1.1.1"
	DefaultSecondaryDNS    = "1.0.0.1"
)

// AddressResolver определяет публичный адрес хоста для endpoint по умолчанию.
type AddressResolver interface {
	PublicAddress(ctx context.Context) (string, error)
}

// HTTPResolver — GET на сервис, отвечающий адресом в теле.
type HTTPResolver struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

func (r HTTPResolver) PublicAddress(ctx context.Context) (string, error) {
	url := r.URL
	if url == "" {
		url = "https://api.ipify.org"
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: %s", url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	addr := strings.TrimSpace(string(body))
	if net.ParseIP(addr) == nil {
		return "", fmt.Errorf("%s: unexpected answer %q", url, addr)
	}
	return addr, nil
}

// Manager владеет графом конфигурации и его файлом. Реализует plugins.Host.
type Manager struct {
	root     string
	fs       afero.Fs
	gateway  shell.Gateway
	registry *plugins.Registry
	engine   *plugins.Engine
	resolver AddressResolver

	path   string
	format Format
	config *Configuration
}

type Option func(*Manager)

func WithFs(fs afero.Fs) Option { return func(m *Manager) { m.fs = fs } }

func WithGateway(gw shell.Gateway) Option { return func(m *Manager) { m.gateway = gw } }

func WithRegistry(reg *plugins.Registry) Option { return func(m *Manager) { m.registry = reg } }

func WithAddressResolver(r AddressResolver) Option { return func(m *Manager) { m.resolver = r } }

func NewManager(root string, opts ...Option) *Manager {
	m := &Manager{
		root:     root,
		fs:       afero.NewOsFs(),
		registry: plugins.Default,
		resolver: HTTPResolver{},
		config:   New(),
	}
	for _, o := range opts {
		o(m)
	}
	if m.gateway == nil {
		m.gateway = shell.NewExec(0)
	}
	m.engine = plugins.NewEngine(m.registry, m)
	return m
}

func (m *Manager) WorkDir() string               { return m.root }
func (m *Manager) Fs() afero.Fs                  { return m.fs }
func (m *Manager) Gateway() shell.Gateway        { return m.gateway }
func (m *Manager) Registry() *plugins.Registry   { return m.registry }
func (m *Manager) Engine() *plugins.Engine       { return m.engine }
func (m *Manager) Configuration() *Configuration { return m.config }
func (m *Manager) Path() string                  { return m.path }

// SetConfiguration заменяет граф целиком (импорт, тесты).
func (m *Manager) SetConfiguration(c *Configuration) { m.config = c }

// Tool — wg/wg-quick с бинарями из текущей конфигурации.
func (m *Manager) Tool() *wireguard.Tool {
	wg := m.config.WireGuard()
	return wireguard.NewTool(m.gateway, wg.WgBin, wg.WgQuickBin)
}

// Resolve — драйвер по имени из реестра. Отсутствие имени не заменяется дефолтом.
func (m *Manager) Resolve(name string) (traffic.Driver, error) {
	d, ok := plugins.Lookup[traffic.Driver](m.registry, name)
	if !ok {
		return nil, &apperr.PluginResolutionError{Name: name}
	}
	return d, nil
}

func (m *Manager) locate() (string, error) {
	for _, name := range configNames {
		p := filepath.Join(m.root, name)
		ok, err := afero.Exists(m.fs, p)
		if err != nil {
			return "", err
		}
		if ok {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: none of %s in %s", ErrNoConfiguration, strings.Join(configNames, ", "), m.root)
}

// pluginDir — каталог плагинов; относительный путь считается от root.
func (m *Manager) pluginDir(dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(m.root, dir)
}

// Load читает конфигурацию в два прохода: сначала каталог плагинов
// и загрузка плагинов, затем полный граф с разрешением драйвера по имени.
func (m *Manager) Load(ctx context.Context) error {
	log := logs.Component("configuration")

	path, err := m.locate()
	if err != nil {
		return &apperr.ConfigurationLoadError{Path: m.root, Err: err}
	}
	format, err := FormatFromPath(path)
	if err != nil {
		return &apperr.ConfigurationLoadError{Path: path, Err: err}
	}
	data, err := afero.ReadFile(m.fs, path)
	if err != nil {
		return &apperr.ConfigurationLoadError{Path: path, Err: err}
	}

	dir, err := PeekPluginDirectory(data, format)
	if err != nil {
		return &apperr.ConfigurationLoadError{Path: path, Err: err}
	}
	if dir != "" {
		if errs := m.engine.LoadDirectory(m.pluginDir(dir)); len(errs) > 0 {
			log.WithField("failed", len(errs)).Warn("some plugins were not loaded")
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg, err := Decode(data, format, m.Resolve)
	if err != nil {
		var pre *apperr.PluginResolutionError
		if errors.As(err, &pre) {
			return pre
		}
		return &apperr.ConfigurationLoadError{Path: path, Err: err}
	}

	m.config, m.path, m.format = cfg, path, format
	log.WithFields(logrus.Fields{
		"path":       path,
		"interfaces": len(cfg.WireGuard().Interfaces),
		"clients":    len(cfg.WireGuard().Clients),
	}).Info("configuration loaded")
	return nil
}

// Save пишет граф в файл, из которого он был загружен (по умолчанию config.yaml).
func (m *Manager) Save() error {
	if m.path == "" {
		m.path, m.format = filepath.Join(m.root, configNames[0]), FormatYAML
	}
	data, err := Encode(m.config, m.format)
	if err != nil {
		return err
	}
	if err := m.fs.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	if err := afero.WriteFile(m.fs, tmp, data, 0o600); err != nil {
		return err
	}
	return m.fs.Rename(tmp, m.path)
}

// Export сериализует граф в произвольный writer.
func (m *Manager) Export(w io.Writer, f Format) error {
	data, err := Encode(m.config, f)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, bytes.NewReader(data))
	return err
}

// LoadDefaults собирает конфигурацию по умолчанию для всех модулей.
func (m *Manager) LoadDefaults(ctx context.Context) {
	log := logs.Component("configuration")
	cfg := New()

	wg := cfg.WireGuard()
	wg.WgBin = wireguard.Which(ctx, m.gateway, "wg")
	wg.WgQuickBin = wireguard.Which(ctx, m.gateway, "wg-quick")
	wg.ConfigDirectory = DefaultConfigDirectory
	wg.DefaultDNS = models.DNS{Primary: DefaultPrimaryDNS, Secondary: DefaultSecondaryDNS}
	if m.resolver != nil {
		addr, err := m.resolver.PublicAddress(ctx)
		if err != nil {
			log.WithError(err).Debug("public address discovery failed")
		} else {
			wg.DefaultEndpoint = addr
		}
	}

	tr := cfg.Traffic()
	tr.PluginDirectory = DefaultPluginDirectory
	if d, err := m.Resolve(jsonfile.Name); err == nil {
		tr.Driver = d
		tr.Enabled = true
	}

	fw := cfg.Firewall()
	fw.IptablesBin = wireguard.Which(ctx, m.gateway, "iptables")
	fw.Ip6tablesBin = wireguard.Which(ctx, m.gateway, "ip6tables")

	m.config = cfg
	log.Info("default configuration loaded")
}
