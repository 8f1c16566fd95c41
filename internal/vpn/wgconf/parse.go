package wgconf

import (
	"errors"
	"strconv"
	"strings"

	"wgate/internal/apperr"
	"wgate/internal/configuration"
	"wgate/internal/models"
	"wgate/internal/network"
	"wgate/internal/vpn/wireguard"
)

type sectionKind int

const (
	sectionInterface sectionKind = iota + 1
	sectionPeer
)

// Допустимые ключи по секциям (в нижнем регистре).
var keys = map[sectionKind]map[string]bool{
	sectionInterface: {
		"address": true, "listenport": true, "privatekey": true, "dns": true, "table": true,
		"mtu": true, "preup": true, "predown": true, "postup": true, "postdown": true,
	},
	sectionPeer: {
		"allowedips": true, "endpoint": true, "publickey": true, "persistentkeepalive": true,
	},
}

type entry struct {
	key   string // нижний регистр
	value string
	line  int
}

type section struct {
	kind        sectionKind
	line        int
	name        string
	description string
	entries     []entry
}

// scan разбирает текст на секции. Ошибки несут номер строки.
func scan(text string) ([]*section, error) {
	var (
		out []*section
		cur *section
	)
	for n, raw := range strings.Split(text, "\n") {
		ln := n + 1
		s := strings.TrimSpace(raw)
		switch {
		case s == "":
			continue
		case strings.HasPrefix(s, "#"):
			if cur == nil {
				continue
			}
			k, v, ok := strings.Cut(strings.TrimSpace(strings.TrimPrefix(s, "#")), "=")
			if !ok {
				continue
			}
			switch strings.ToLower(strings.TrimSpace(k)) {
			case "name":
				cur.name = strings.TrimSpace(v)
			case "description":
				cur.description = strings.TrimSpace(v)
			}
		case strings.HasPrefix(s, "["):
			switch strings.ToLower(s) {
			case "[interface]":
				cur = &section{kind: sectionInterface, line: ln}
			case "[peer]":
				cur = &section{kind: sectionPeer, line: ln}
			default:
				return nil, apperr.NewParseError(ln, s, "unknown section")
			}
			out = append(out, cur)
		default:
			name, v, ok := strings.Cut(s, "=")
			name = strings.TrimSpace(name)
			k := strings.ToLower(name)
			if !ok || k == "" {
				return nil, apperr.NewParseError(ln, s, "expected key = value")
			}
			if cur == nil {
				return nil, apperr.NewParseError(ln, s, "option outside of a section")
			}
			if !keys[cur.kind][k] {
				return nil, apperr.NewParseError(ln, s, "unknown option %q", name)
			}
			cur.entries = append(cur.entries, entry{key: k, value: strings.TrimSpace(v), line: ln})
		}
	}
	return out, nil
}

// at проставляет номер строки в ParseError из нижележащих парсеров.
func at(ln int, err error) error {
	var pe *apperr.ParseError
	if errors.As(err, &pe) {
		return &apperr.ParseError{Line: ln, Input: pe.Input, Msg: pe.Msg}
	}
	return &apperr.ParseError{Line: ln, Msg: err.Error()}
}

func split(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseList разбирает список через запятую: адреса через network.ParseCIDR,
// маршруты AllowedIPs через network.ParseRoute.
func parseList(e entry, parse func(string) (network.CIDR, error)) ([]network.CIDR, error) {
	var out []network.CIDR
	for _, s := range split(e.value) {
		c, err := parse(s)
		if err != nil {
			return nil, at(e.line, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// setAddress — 1..2 адреса, не больше одного на семейство.
func setAddress(p *models.Peer, e entry) error {
	cidrs, err := parseList(e, network.ParseCIDR)
	if err != nil {
		return err
	}
	if len(cidrs) == 0 || len(cidrs) > 2 {
		return apperr.NewParseError(e.line, e.value, "address must list one or two networks")
	}
	var has4, has6 bool
	for _, c := range cidrs {
		if (c.Is4() && has4) || (c.Is6() && has6) {
			return apperr.NewParseError(e.line, e.value, "more than one address of the same family")
		}
		has4, has6 = has4 || c.Is4(), has6 || c.Is6()
		p.SetAddress(c)
	}
	return nil
}

func atoi(e entry) (int, error) {
	n, err := strconv.Atoi(e.value)
	if err != nil || n < 0 {
		return 0, apperr.NewParseError(e.line, e.value, "expected a non-negative number")
	}
	return n, nil
}

func setPrivateKey(p *models.Peer, e entry) error {
	pub, err := wireguard.PublicFromPrivate(e.value)
	if err != nil {
		return at(e.line, err)
	}
	p.PrivateKey, p.PublicKey = e.value, pub
	return nil
}

// ===== interface =====

// ParseInterface разбирает файл интерфейса. Секции [Peer] становятся
// облегчёнными клиентами: ключ, адреса из AllowedIPs, имя.
func ParseInterface(text string) (*models.Interface, []*models.Client, error) {
	sections, err := scan(text)
	if err != nil {
		return nil, nil, err
	}
	var (
		iface   *models.Interface
		clients []*models.Client
	)
	for _, s := range sections {
		if s.kind != sectionInterface {
			continue
		}
		if iface != nil {
			return nil, nil, apperr.NewParseError(s.line, "[Interface]", "duplicate [Interface] section")
		}
		if iface, err = interfaceFrom(s); err != nil {
			return nil, nil, err
		}
	}
	if iface == nil {
		return nil, nil, apperr.NewParseError(0, "", "missing [Interface] section")
	}
	for _, s := range sections {
		if s.kind != sectionPeer {
			continue
		}
		c, err := lightClient(iface, s)
		if err != nil {
			return nil, nil, err
		}
		clients = append(clients, c)
	}
	return iface, clients, nil
}

func interfaceFrom(s *section) (*models.Interface, error) {
	iface := models.NewInterface()
	iface.Name, iface.Description = s.name, s.description
	for _, e := range s.entries {
		var err error
		switch e.key {
		case "address":
			err = setAddress(&iface.Peer, e)
		case "listenport":
			iface.ListenPort, err = atoi(e)
		case "privatekey":
			err = setPrivateKey(&iface.Peer, e)
		case "dns":
			dns := split(e.value)
			if len(dns) > 0 {
				iface.DNS.Primary = dns[0]
			}
			if len(dns) > 1 {
				iface.DNS.Secondary = dns[1]
			}
		case "table":
			iface.Table = e.value
		case "mtu":
			iface.MTU, err = atoi(e)
		case "preup":
			iface.PreUp = append(iface.PreUp, e.value)
		case "predown":
			iface.PreDown = append(iface.PreDown, e.value)
		case "postup":
			iface.UpRules = append(iface.UpRules, e.value)
		case "postdown":
			iface.DownRules = append(iface.DownRules, e.value)
		}
		if err != nil {
			return nil, err
		}
	}
	if len(iface.Addresses()) == 0 {
		return nil, apperr.NewParseError(s.line, "[Interface]", "missing Address")
	}
	return iface, nil
}

// lightClient восстанавливает адрес клиента из его host-маршрута внутри
// сети интерфейса; остальные маршруты (подсети за пиром) остаются только
// в AllowedIPs.
func lightClient(iface *models.Interface, s *section) (*models.Client, error) {
	c := models.NewClient()
	c.Name, c.Description = s.name, s.description
	c.InterfaceID = iface.ID
	for _, e := range s.entries {
		switch e.key {
		case "publickey":
			if err := wireguard.CheckKey(e.value); err != nil {
				return nil, at(e.line, err)
			}
			c.PublicKey = e.value
		case "allowedips":
			routes, err := parseList(e, network.ParseRoute)
			if err != nil {
				return nil, err
			}
			for _, r := range routes {
				c.AddAllowedIP(r)
				if a, ok := hostIn(iface, r); ok && (a.Is4() && c.IPv4 == nil || a.Is6() && c.IPv6 == nil) {
					c.SetAddress(a)
				}
			}
		case "endpoint":
			c.Endpoint = e.value
		case "persistentkeepalive":
			n, err := atoi(e)
			if err != nil {
				return nil, err
			}
			c.NAT = n > 0
		}
	}
	if c.PublicKey == "" {
		return nil, apperr.NewParseError(s.line, "[Peer]", "missing PublicKey")
	}
	return c, nil
}

// hostIn — адрес пира с префиксом интерфейса, если r это host-маршрут
// в сети интерфейса того же семейства.
func hostIn(iface *models.Interface, r network.CIDR) (network.CIDR, bool) {
	own := iface.IPv4
	if r.Is6() {
		own = iface.IPv6
	}
	if !r.IsHostRoute() || own == nil || !own.Contains(r) {
		return network.CIDR{}, false
	}
	return r.WithBits(own.Bits()), true
}

// ===== client =====

// ParseClient разбирает файл клиента, находит интерфейс-владелец по PublicKey
// секции [Peer] и регистрирует клиента в нём.
func ParseClient(text string, wg *configuration.WireGuardModule) (*models.Client, error) {
	sections, err := scan(text)
	if err != nil {
		return nil, err
	}
	var ifs, peers []*section
	for _, s := range sections {
		if s.kind == sectionInterface {
			ifs = append(ifs, s)
		} else {
			peers = append(peers, s)
		}
	}
	if len(ifs) != 1 {
		return nil, apperr.NewParseError(0, "", "client config must contain exactly one [Interface] section")
	}
	if len(peers) != 1 {
		return nil, apperr.NewParseError(0, "", "client config must contain exactly one [Peer] section")
	}

	c := models.NewClient()
	c.Name, c.Description = ifs[0].name, ifs[0].description
	for _, e := range ifs[0].entries {
		switch e.key {
		case "address":
			if err := setAddress(&c.Peer, e); err != nil {
				return nil, err
			}
		case "privatekey":
			if err := setPrivateKey(&c.Peer, e); err != nil {
				return nil, err
			}
		case "dns":
			dns := split(e.value)
			if len(dns) > 0 {
				c.PrimaryDNS = dns[0]
			}
			if len(dns) > 1 {
				c.SecondaryDNS = dns[1]
			}
		}
	}
	if len(c.Addresses()) == 0 {
		return nil, apperr.NewParseError(ifs[0].line, "[Interface]", "missing Address")
	}

	var peerKey entry
	for _, e := range peers[0].entries {
		switch e.key {
		case "publickey":
			peerKey = e
		case "allowedips":
			routes, err := parseList(e, network.ParseRoute)
			if err != nil {
				return nil, err
			}
			for _, r := range routes {
				c.AddAllowedIP(r)
			}
		case "endpoint":
			c.Endpoint = e.value
		case "persistentkeepalive":
			n, err := atoi(e)
			if err != nil {
				return nil, err
			}
			c.NAT = n > 0
		}
	}
	if peerKey.value == "" {
		return nil, apperr.NewParseError(peers[0].line, "[Peer]", "missing PublicKey")
	}
	owner, ok := wg.InterfaceByPublicKey(peerKey.value)
	if !ok {
		return nil, apperr.NewParseError(peerKey.line, peerKey.value, "no interface with this public key")
	}
	if err := checkSubnets(owner, c, ifs[0].line); err != nil {
		return nil, err
	}

	if c.Endpoint == "" {
		c.Endpoint = owner.Endpoint
	}
	if c.Endpoint == "" {
		c.Endpoint = wg.DefaultEndpoint
	}
	if len(c.AllowedIPs) == 0 {
		c.AllowedIPs = c.HostRoutes()
	}
	if err := wg.AddClient(owner, c); err != nil {
		return nil, err
	}
	return c, nil
}

// checkSubnets — адрес клиента должен лежать в сети интерфейса того же семейства.
func checkSubnets(iface *models.Interface, c *models.Client, ln int) error {
	pairs := []struct {
		own, client *network.CIDR
	}{{iface.IPv4, c.IPv4}, {iface.IPv6, c.IPv6}}
	for _, p := range pairs {
		if p.client == nil {
			continue
		}
		if p.own == nil || !p.own.Contains(p.client.HostRoute()) {
			return apperr.NewParseError(ln, p.client.String(), "address is outside of interface %q network", iface.Name)
		}
	}
	return nil
}
