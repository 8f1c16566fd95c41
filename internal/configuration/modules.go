package configuration

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"wgate/internal/models"
	"wgate/internal/traffic"
)

// Типы модулей; в YAML это теги !wireguard, !traffic, !firewall.
const (
	KindWireGuard = "wireguard"
	KindTraffic   = "traffic"
	KindFirewall  = "firewall"
)

var ErrNotFound = errors.New("not found")

// ErrNoConfiguration — в рабочем каталоге нет файла конфигурации.
var ErrNoConfiguration = errors.New("no configuration file")

// Module — полиморфная часть конфигурации.
type Module interface {
	Kind() string
}

func newModule(kind string) (Module, error) {
	switch kind {
	case KindWireGuard:
		return &WireGuardModule{}, nil
	case KindTraffic:
		return &TrafficModule{}, nil
	case KindFirewall:
		return &FirewallModule{}, nil
	default:
		return nil, fmt.Errorf("unknown configuration module %q", kind)
	}
}

// Configuration — корень графа конфигурации.
type Configuration struct {
	Modules []Module
}

func New() *Configuration { return &Configuration{} }

func find[T Module](c *Configuration, create func() T) T {
	for _, m := range c.Modules {
		if v, ok := m.(T); ok {
			return v
		}
	}
	v := create()
	c.Modules = append(c.Modules, v)
	return v
}

// WireGuard — модуль интерфейсов; создаётся при первом обращении.
func (c *Configuration) WireGuard() *WireGuardModule {
	return find(c, func() *WireGuardModule { return &WireGuardModule{} })
}

func (c *Configuration) Traffic() *TrafficModule {
	return find(c, func() *TrafficModule { return &TrafficModule{} })
}

func (c *Configuration) Firewall() *FirewallModule {
	return find(c, func() *FirewallModule { return &FirewallModule{} })
}

// FirewallModule — пути к NAT-утилитам для PostUp/PostDown правил.
type FirewallModule struct {
	IptablesBin  string `yaml:"iptables_bin" json:"iptables_bin"`
	Ip6tablesBin string `yaml:"ip6tables_bin" json:"ip6tables_bin"`
}

func (*FirewallModule) Kind() string { return KindFirewall }

// TrafficModule — сбор трафика и драйвер хранения.
// Driver разрешается по имени через реестр плагинов при декодировании.
type TrafficModule struct {
	Enabled         bool
	PluginDirectory string
	Driver          traffic.Driver
}

func (*TrafficModule) Kind() string { return KindTraffic }

// WireGuardModule хранит интерфейсы и клиентов в плоских коллекциях;
// принадлежность клиента — Client.InterfaceID.
type WireGuardModule struct {
	WgBin           string              `yaml:"wg_bin" json:"wg_bin"`
	WgQuickBin      string              `yaml:"wg_quick_bin" json:"wg_quick_bin"`
	ConfigDirectory string              `yaml:"config_directory" json:"config_directory"`
	DefaultDNS      models.DNS          `yaml:"default_dns,omitempty" json:"default_dns,omitempty"`
	DefaultEndpoint string              `yaml:"default_endpoint,omitempty" json:"default_endpoint,omitempty"`
	Interfaces      []*models.Interface `yaml:"interfaces" json:"interfaces"`
	Clients         []*models.Client    `yaml:"clients" json:"clients"`
}

func (*WireGuardModule) Kind() string { return KindWireGuard }

func (w *WireGuardModule) InterfaceByID(id uuid.UUID) (*models.Interface, bool) {
	for _, i := range w.Interfaces {
		if i.ID == id {
			return i, true
		}
	}
	return nil, false
}

func (w *WireGuardModule) InterfaceByName(name string) (*models.Interface, bool) {
	for _, i := range w.Interfaces {
		if i.Name == name {
			return i, true
		}
	}
	return nil, false
}

func (w *WireGuardModule) InterfaceByPublicKey(key string) (*models.Interface, bool) {
	if key == "" {
		return nil, false
	}
	for _, i := range w.Interfaces {
		if i.PublicKey == key {
			return i, true
		}
	}
	return nil, false
}

func (w *WireGuardModule) ClientByID(id uuid.UUID) (*models.Client, bool) {
	for _, c := range w.Clients {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// ClientsOf — клиенты интерфейса в порядке добавления.
func (w *WireGuardModule) ClientsOf(ifaceID uuid.UUID) []*models.Client {
	var out []*models.Client
	for _, c := range w.Clients {
		if c.InterfaceID == ifaceID {
			out = append(out, c)
		}
	}
	return out
}

// OwnerOf — интерфейс-владелец клиента.
func (w *WireGuardModule) OwnerOf(c *models.Client) (*models.Interface, bool) {
	return w.InterfaceByID(c.InterfaceID)
}

// AddInterface добавляет интерфейс; повтор ID — ошибка.
func (w *WireGuardModule) AddInterface(i *models.Interface) error {
	if _, ok := w.InterfaceByID(i.ID); ok {
		return fmt.Errorf("interface %s already exists", i.ID)
	}
	w.Interfaces = append(w.Interfaces, i)
	return nil
}

// RemoveInterface удаляет интерфейс вместе с его клиентами.
func (w *WireGuardModule) RemoveInterface(id uuid.UUID) (*models.Interface, error) {
	idx := -1
	for n, i := range w.Interfaces {
		if i.ID == id {
			idx = n
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("interface %s: %w", id, ErrNotFound)
	}
	removed := w.Interfaces[idx]
	w.Interfaces = append(w.Interfaces[:idx], w.Interfaces[idx+1:]...)
	kept := w.Clients[:0]
	for _, c := range w.Clients {
		if c.InterfaceID != id {
			kept = append(kept, c)
		}
	}
	w.Clients = kept
	return removed, nil
}

// AddClient регистрирует клиента в интерфейсе. Клиенты — множество по ID:
// запись с тем же ID заменяется.
func (w *WireGuardModule) AddClient(iface *models.Interface, c *models.Client) error {
	if _, ok := w.InterfaceByID(iface.ID); !ok {
		return fmt.Errorf("interface %s: %w", iface.ID, ErrNotFound)
	}
	c.InterfaceID = iface.ID
	for n, existing := range w.Clients {
		if existing.ID == c.ID {
			w.Clients[n] = c
			return nil
		}
	}
	w.Clients = append(w.Clients, c)
	return nil
}

func (w *WireGuardModule) RemoveClient(id uuid.UUID) (*models.Client, error) {
	for n, c := range w.Clients {
		if c.ID == id {
			w.Clients = append(w.Clients[:n], w.Clients[n+1:]...)
			return c, nil
		}
	}
	return nil, fmt.Errorf("client %s: %w", id, ErrNotFound)
}

// check — инварианты после декодирования: семейства адресов и ссылки на владельца.
func (w *WireGuardModule) check() error {
	for _, i := range w.Interfaces {
		if err := i.CheckFamilies(); err != nil {
			return fmt.Errorf("interface %q: %w", i.Name, err)
		}
	}
	for _, c := range w.Clients {
		if err := c.CheckFamilies(); err != nil {
			return fmt.Errorf("client %q: %w", c.Name, err)
		}
		if _, ok := w.OwnerOf(c); !ok {
			return fmt.Errorf("client %q references unknown interface %s", c.Name, c.InterfaceID)
		}
	}
	return nil
}
