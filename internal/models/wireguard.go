package models

import (
	"github.com/google/uuid"

	"wgate/internal/apperr"
	"wgate/internal/network"
)

// Peer — общая часть интерфейса и клиента. Идентичность только по ID.
type Peer struct {
	ID          uuid.UUID     `yaml:"id" json:"id"`
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	PrivateKey  string        `yaml:"private_key,omitempty" json:"private_key,omitempty"`
	PublicKey   string        `yaml:"public_key,omitempty" json:"public_key,omitempty"`
	IPv4        *network.CIDR `yaml:"ipv4,omitempty" json:"ipv4,omitempty"`
	IPv6        *network.CIDR `yaml:"ipv6,omitempty" json:"ipv6,omitempty"`
}

func NewPeer() Peer { return Peer{ID: uuid.New()} }

func (p *Peer) Equal(o *Peer) bool { return o != nil && p.ID == o.ID }

// SetIPv4 присваивает адрес, проверяя семейство и потолок префикса.
// nil сбрасывает поле.
func (p *Peer) SetIPv4(c *network.CIDR) error {
	if c != nil && !c.Is4() {
		return apperr.NewParseError(0, c.String(), "address is not IPv4")
	}
	if c != nil && !c.WithinCeiling() {
		return apperr.NewParseError(0, c.String(), "malformed CIDR")
	}
	p.IPv4 = c
	return nil
}

// SetIPv6 — то же для IPv6.
func (p *Peer) SetIPv6(c *network.CIDR) error {
	if c != nil && !c.Is6() {
		return apperr.NewParseError(0, c.String(), "address is not IPv6")
	}
	if c != nil && !c.WithinCeiling() {
		return apperr.NewParseError(0, c.String(), "malformed CIDR")
	}
	p.IPv6 = c
	return nil
}

// SetAddress раскладывает адрес по семейству.
func (p *Peer) SetAddress(c network.CIDR) {
	if c.Is4() {
		p.IPv4 = &c
	} else {
		p.IPv6 = &c
	}
}

// Addresses — присвоенные адреса в порядке IPv4, IPv6.
func (p *Peer) Addresses() []network.CIDR {
	var out []network.CIDR
	if p.IPv4 != nil {
		out = append(out, *p.IPv4)
	}
	if p.IPv6 != nil {
		out = append(out, *p.IPv6)
	}
	return out
}

// HostRoutes — /32 и/или /128 собственных адресов.
func (p *Peer) HostRoutes() []network.CIDR {
	addrs := p.Addresses()
	for i := range addrs {
		addrs[i] = addrs[i].HostRoute()
	}
	return addrs
}

// CheckFamilies проверяет семейства после декодирования из файла.
func (p *Peer) CheckFamilies() error {
	if err := p.SetIPv4(p.IPv4); err != nil {
		return err
	}
	return p.SetIPv6(p.IPv6)
}

// DNS — пара DNS-серверов.
type DNS struct {
	Primary   string `yaml:"primary,omitempty" json:"primary,omitempty"`
	Secondary string `yaml:"secondary,omitempty" json:"secondary,omitempty"`
}

func (d DNS) IsZero() bool { return d.Primary == "" && d.Secondary == "" }

// List — непустые значения по порядку.
func (d DNS) List() []string {
	var out []string
	for _, s := range []string{d.Primary, d.Secondary} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Interface — WireGuard-интерфейс на шлюзе.
type Interface struct {
	Peer       `yaml:",inline"`
	Gateway    string   `yaml:"gateway,omitempty" json:"gateway,omitempty"`
	ListenPort int      `yaml:"listen_port" json:"listen_port"`
	AutoStart  bool     `yaml:"auto_start" json:"auto_start"`
	UpRules    []string `yaml:"up_rules,omitempty" json:"up_rules,omitempty"`
	DownRules  []string `yaml:"down_rules,omitempty" json:"down_rules,omitempty"`
	DNS        DNS      `yaml:"dns,omitempty" json:"dns,omitempty"`
	Endpoint   string   `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	MTU        int      `yaml:"mtu,omitempty" json:"mtu,omitempty"`
	Table      string   `yaml:"table,omitempty" json:"table,omitempty"`
	PreUp      []string `yaml:"pre_up,omitempty" json:"pre_up,omitempty"`
	PreDown    []string `yaml:"pre_down,omitempty" json:"pre_down,omitempty"`
}

func NewInterface() *Interface { return &Interface{Peer: NewPeer()} }

// Client — удалённый пир, подключающийся через Interface.
type Client struct {
	Peer         `yaml:",inline"`
	InterfaceID  uuid.UUID      `yaml:"interface_id" json:"interface_id"`
	AllowedIPs   []network.CIDR `yaml:"allowed_ips,omitempty" json:"allowed_ips,omitempty"`
	NAT          bool           `yaml:"nat" json:"nat"`
	PrimaryDNS   string         `yaml:"primary_dns,omitempty" json:"primary_dns,omitempty"`
	SecondaryDNS string         `yaml:"secondary_dns,omitempty" json:"secondary_dns,omitempty"`
	Endpoint     string         `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

func NewClient() *Client { return &Client{Peer: NewPeer()} }

// AddAllowedIP добавляет сеть, если её ещё нет.
func (c *Client) AddAllowedIP(n network.CIDR) {
	for _, a := range c.AllowedIPs {
		if a == n {
			return
		}
	}
	c.AllowedIPs = append(c.AllowedIPs, n)
}

// DNSList — непустые primary/secondary.
func (c *Client) DNSList() []string {
	return DNS{Primary: c.PrimaryDNS, Secondary: c.SecondaryDNS}.List()
}
