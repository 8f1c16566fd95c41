package api

import (
	"time"

	"wgate/internal/models"
	"wgate/internal/network"
	"wgate/internal/plugins"
	"wgate/internal/traffic"
)

// Представления для API: приватные ключи наружу не отдаются.

type InterfaceDTO struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	PublicKey   string   `json:"public_key"`
	Address     []string `json:"address"`
	ListenPort  int      `json:"listen_port"`
	Gateway     string   `json:"gateway,omitempty"`
	AutoStart   bool     `json:"auto_start"`
	Clients     int      `json:"clients"`
}

type ClientDTO struct {
	ID          string   `json:"id"`
	InterfaceID string   `json:"interface_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	PublicKey   string   `json:"public_key"`
	Address     []string `json:"address"`
	AllowedIPs  []string `json:"allowed_ips"`
	Endpoint    string   `json:"endpoint,omitempty"`
	NAT         bool     `json:"nat"`
}

type PluginDTO struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Driver      bool   `json:"traffic_driver"`
	Interval    string `json:"interval,omitempty"`
}

type HandshakeResponse struct {
	ClientID      string     `json:"client_id"`
	LastHandshake *time.Time `json:"last_handshake"`
}

func strs(cidrs []network.CIDR) []string {
	out := make([]string, len(cidrs))
	for i, c := range cidrs {
		out[i] = c.String()
	}
	return out
}

func interfaceDTO(iface *models.Interface, clients int) InterfaceDTO {
	return InterfaceDTO{
		ID:          iface.ID.String(),
		Name:        iface.Name,
		Description: iface.Description,
		PublicKey:   iface.PublicKey,
		Address:     strs(iface.Addresses()),
		ListenPort:  iface.ListenPort,
		Gateway:     iface.Gateway,
		AutoStart:   iface.AutoStart,
		Clients:     clients,
	}
}

func clientDTO(c *models.Client) ClientDTO {
	return ClientDTO{
		ID:          c.ID.String(),
		InterfaceID: c.InterfaceID.String(),
		Name:        c.Name,
		Description: c.Description,
		PublicKey:   c.PublicKey,
		Address:     strs(c.Addresses()),
		AllowedIPs:  strs(c.AllowedIPs),
		Endpoint:    c.Endpoint,
		NAT:         c.NAT,
	}
}

func pluginDTO(p plugins.Plugin) PluginDTO {
	out := PluginDTO{Name: p.Name(), Description: p.Description()}
	if d, ok := p.(traffic.Driver); ok {
		out.Driver = true
		out.Interval = d.Interval().String()
	}
	return out
}
