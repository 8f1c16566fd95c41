// Package generator создаёт новые интерфейсы и клиентов со свободными
// именами, портами, адресами и свежими ключами.
//
// Исчерпанные попытки оставляют поле пустым; ошибкой это не считается,
// проверку выполняет validation.Engine.
package generator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"strconv"

	"wgate/internal/configuration"
	"wgate/internal/logs"
	"wgate/internal/models"
	"wgate/internal/network"
	"wgate/internal/shell"
	"wgate/internal/vpn/wireguard"
)

const (
	Tries     = 100
	PortFirst = 51820
	PortLast  = 61820 // не включительно

	// hostScan ограничивает перебор адресов клиента в больших сетях.
	hostScan = 1 << 16
)

type Generator struct {
	Gateway  shell.Gateway
	Adapters network.AdapterSource
	Rand     *rand.Rand
}

func New(gw shell.Gateway, adapters network.AdapterSource) *Generator {
	return &Generator{Gateway: gw, Adapters: adapters}
}

func (g *Generator) intn(n int) int {
	if g.Rand != nil {
		return g.Rand.IntN(n)
	}
	return rand.IntN(n)
}

func (g *Generator) tool(wg *configuration.WireGuardModule) *wireguard.Tool {
	return wireguard.NewTool(g.Gateway, wg.WgBin, wg.WgQuickBin)
}

// ===== interface =====

// NewInterface возвращает интерфейс, ещё не добавленный в конфигурацию.
// Единственная ошибка — неуспешная генерация ключей (SystemCommandError).
func (g *Generator) NewInterface(ctx context.Context, cfg *configuration.Configuration) (*models.Interface, error) {
	wg := cfg.WireGuard()
	iface := models.NewInterface()
	iface.Gateway = g.gateway()
	iface.Name = g.interfaceName(wg)
	iface.ListenPort = g.port(wg)
	iface.IPv4 = g.subnet(wg, g.randomIPv4)
	iface.IPv6 = g.subnet(wg, g.randomIPv6)

	priv, pub, err := g.tool(wg).KeyPair(ctx)
	if err != nil {
		return nil, err
	}
	iface.PrivateKey, iface.PublicKey = priv, pub
	iface.UpRules, iface.DownRules = Rules(iface, cfg.Firewall())

	logs.Component("generator").WithField("interface", iface.Name).Debug("interface generated")
	return iface, nil
}

// Complete дополняет разобранный из файла интерфейс: пустые имя, шлюз
// и порт выбираются так же, как при генерации.
func (g *Generator) Complete(cfg *configuration.Configuration, iface *models.Interface) {
	wg := cfg.WireGuard()
	if iface.Name == "" {
		iface.Name = g.interfaceName(wg)
	}
	if iface.Gateway == "" {
		iface.Gateway = g.gateway()
	}
	if iface.ListenPort == 0 {
		iface.ListenPort = g.port(wg)
	}
}

func (g *Generator) gateway() string {
	if g.Adapters == nil {
		return ""
	}
	gws, err := network.Gateways(g.Adapters)
	if err != nil {
		logs.Component("generator").WithError(err).Warn("adapter enumeration failed")
		return ""
	}
	if len(gws) == 0 {
		return ""
	}
	return gws[g.intn(len(gws))].Name
}

func (g *Generator) interfaceName(wg *configuration.WireGuardModule) string {
	for n := 0; n < Tries; n++ {
		name := "wg" + strconv.Itoa(n)
		if _, used := wg.InterfaceByName(name); !used {
			return name
		}
	}
	return ""
}

func (g *Generator) port(wg *configuration.WireGuardModule) int {
	used := make(map[int]bool, len(wg.Interfaces))
	for _, i := range wg.Interfaces {
		used[i.ListenPort] = true
	}
	for n := 0; n < Tries; n++ {
		p := PortFirst + g.intn(PortLast-PortFirst)
		if !used[p] {
			return p
		}
	}
	return 0
}

// subnet выбирает случайную сеть, не пересекающуюся с адресами
// существующих интерфейсов того же семейства.
func (g *Generator) subnet(wg *configuration.WireGuardModule, random func() network.CIDR) *network.CIDR {
	for n := 0; n < Tries; n++ {
		c := random()
		if !overlapsAny(wg, c) {
			return &c
		}
	}
	return nil
}

func overlapsAny(wg *configuration.WireGuardModule, c network.CIDR) bool {
	for _, i := range wg.Interfaces {
		for _, a := range i.Addresses() {
			if a.Equal(c) || a.Overlaps(c) {
				return true
			}
		}
	}
	return false
}

// randomIPv4 — 10.a.b.1/24.
func (g *Generator) randomIPv4() network.CIDR {
	addr := netip.AddrFrom4([4]byte{10, byte(g.intn(256)), byte(g.intn(256)), 1})
	return network.MustParseCIDR(addr.String() + "/24")
}

// randomIPv6 — fdxx:xxxx:xxxx:xxxx::1/64 (ULA).
func (g *Generator) randomIPv6() network.CIDR {
	var b [16]byte
	b[0] = 0xfd
	for i := 1; i < 8; i++ {
		b[i] = byte(g.intn(256))
	}
	b[15] = 1
	return network.MustParseCIDR(netip.AddrFrom16(b).String() + "/64")
}

// Rules — PostUp/PostDown правила NAT для интерфейса.
func Rules(iface *models.Interface, fw *configuration.FirewallModule) (up, down []string) {
	if iface.Name == "" {
		return nil, nil
	}
	bins := []string{orDefault(fw.IptablesBin, "iptables")}
	if iface.IPv6 != nil {
		bins = append(bins, orDefault(fw.Ip6tablesBin, "ip6tables"))
	}
	for _, bin := range bins {
		for _, op := range []string{"-A", "-D"} {
			rules := []string{
				fmt.Sprintf("%s %s FORWARD -i %s -j ACCEPT", bin, op, iface.Name),
				fmt.Sprintf("%s %s FORWARD -o %s -j ACCEPT", bin, op, iface.Name),
			}
			if iface.Gateway != "" {
				rules = append(rules, fmt.Sprintf("%s -t nat %s POSTROUTING -o %s -j MASQUERADE", bin, op, iface.Gateway))
			}
			if op == "-A" {
				up = append(up, rules...)
			} else {
				down = append(down, rules...)
			}
		}
	}
	return up, down
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// ===== client =====

// NewClient возвращает клиента для iface, ещё не добавленного в конфигурацию.
func (g *Generator) NewClient(ctx context.Context, cfg *configuration.Configuration, iface *models.Interface) (*models.Client, error) {
	wg := cfg.WireGuard()
	c := models.NewClient()
	c.InterfaceID = iface.ID
	c.Name = clientName(wg)

	siblings := wg.ClientsOf(iface.ID)
	if iface.IPv4 != nil {
		c.IPv4 = freeHost(*iface.IPv4, siblings, func(p *models.Peer) *network.CIDR { return p.IPv4 })
	}
	if iface.IPv6 != nil {
		c.IPv6 = freeHost(*iface.IPv6, siblings, func(p *models.Peer) *network.CIDR { return p.IPv6 })
	}
	c.AllowedIPs = c.HostRoutes()

	dns := iface.DNS
	if dns.IsZero() {
		dns = wg.DefaultDNS
	}
	c.PrimaryDNS, c.SecondaryDNS = dns.Primary, dns.Secondary
	c.Endpoint = endpoint(iface, wg)

	priv, pub, err := g.tool(wg).KeyPair(ctx)
	if err != nil {
		return nil, err
	}
	c.PrivateKey, c.PublicKey = priv, pub

	logs.Component("generator").WithField("client", c.Name).Debug("client generated")
	return c, nil
}

func clientName(wg *configuration.WireGuardModule) string {
	used := make(map[string]bool, len(wg.Clients))
	for _, c := range wg.Clients {
		used[c.Name] = true
	}
	for n := 1; n <= Tries; n++ {
		name := "peer" + strconv.Itoa(n)
		if !used[name] {
			return name
		}
	}
	return ""
}

// freeHost — первый адрес сети интерфейса, не занятый ни интерфейсом,
// ни соседними клиентами. Пропускаются адрес сети и broadcast IPv4.
func freeHost(own network.CIDR, siblings []*models.Client, addrOf func(*models.Peer) *network.CIDR) *network.CIDR {
	taken := map[netip.Addr]bool{own.Addr(): true}
	for _, s := range siblings {
		if a := addrOf(&s.Peer); a != nil {
			taken[a.Addr()] = true
		}
	}
	last := uint64(hostScan)
	if size := own.Size(); size.IsUint64() {
		end := size.Uint64()
		if own.Is4() {
			end-- // broadcast
		}
		last = min(last, end)
	}
	for n := uint64(1); n < last; n++ {
		h, ok := own.Host(n)
		if !ok {
			break
		}
		if !taken[h.Addr()] {
			return &h
		}
	}
	return nil
}

// endpoint: интерфейс → значение модуля → пусто. К хосту без порта
// добавляется порт интерфейса.
func endpoint(iface *models.Interface, wg *configuration.WireGuardModule) string {
	ep := iface.Endpoint
	if ep == "" {
		ep = wg.DefaultEndpoint
	}
	if ep == "" || iface.ListenPort == 0 {
		return ep
	}
	if _, _, err := net.SplitHostPort(ep); err == nil {
		return ep
	}
	return net.JoinHostPort(ep, strconv.Itoa(iface.ListenPort))
}
