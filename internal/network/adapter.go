package network

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// Adapter — системный сетевой адаптер, через который интерфейс WireGuard выходит наружу.
type Adapter struct {
	Name     string `json:"name"`
	Index    int    `json:"index"`
	Loopback bool   `json:"loopback"`
	Up       bool   `json:"up"`
}

// AdapterSource перечисляет адаптеры хоста.
type AdapterSource interface {
	Adapters() ([]Adapter, error)
}

// NetlinkSource читает список линков через netlink.
type NetlinkSource struct{}

func (NetlinkSource) Adapters() ([]Adapter, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	out := make([]Adapter, 0, len(links))
	for _, l := range links {
		a := l.Attrs()
		out = append(out, Adapter{
			Name:     a.Name,
			Index:    a.Index,
			Loopback: a.Flags&net.FlagLoopback != 0,
			Up:       a.Flags&net.FlagUp != 0,
		})
	}
	return out, nil
}

// StaticSource — фиксированный список (тесты, окружения без netlink).
type StaticSource []Adapter

func (s StaticSource) Adapters() ([]Adapter, error) { return append([]Adapter(nil), s...), nil }

// Gateways — адаптеры, пригодные в качестве шлюза (без loopback).
func Gateways(src AdapterSource) ([]Adapter, error) {
	all, err := src.Adapters()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, a := range all {
		if !a.Loopback {
			out = append(out, a)
		}
	}
	return out, nil
}
