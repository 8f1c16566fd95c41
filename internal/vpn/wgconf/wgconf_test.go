package wgconf

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgate/internal/apperr"
	"wgate/internal/configuration"
	"wgate/internal/models"
	"wgate/internal/network"
)

func keyPair(t *testing.T) (string, string) {
	t.Helper()
	k, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)
	return k.String(), k.PublicKey().String()
}

func cidr(s string) *network.CIDR { return network.MustParseCIDR(s).Ptr() }

func newInterface(t *testing.T, v4, v6 string) *models.Interface {
	t.Helper()
	iface := models.NewInterface()
	iface.Name = "wg3"
	iface.Description = "office uplink"
	iface.ListenPort = 51999
	iface.PrivateKey, iface.PublicKey = keyPair(t)
	if v4 != "" {
		iface.IPv4 = cidr(v4)
	}
	if v6 != "" {
		iface.IPv6 = cidr(v6)
	}
	iface.UpRules = []string{"iptables -A FORWARD -i wg3 -j ACCEPT", "iptables -t nat -A POSTROUTING -o eth0 -j MASQUERADE"}
	iface.DownRules = []string{"iptables -D FORWARD -i wg3 -j ACCEPT"}
	return iface
}

func newClients(t *testing.T, iface *models.Interface, n int) []*models.Client {
	t.Helper()
	var out []*models.Client
	for i := 0; i < n; i++ {
		c := models.NewClient()
		c.Name = "peer" + string(rune('0'+i))
		_, c.PublicKey = keyPair(t)
		if iface.IPv4 != nil {
			h, ok := iface.IPv4.Host(uint64(i + 2))
			require.True(t, ok)
			c.IPv4 = &h
		}
		if iface.IPv6 != nil {
			h, ok := iface.IPv6.Host(uint64(i + 2))
			require.True(t, ok)
			c.IPv6 = &h
		}
		out = append(out, c)
	}
	return out
}

func TestInterfaceRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		v4, v6 string
	}{
		{"ipv4", "10.44.0.1/24", ""},
		{"ipv6", "", "fd12:3456:789a:1::1/64"},
		{"dual", "10.44.0.1/24", "fd12:3456:789a:1::1/64"},
	}
	for _, tc := range cases {
		for _, n := range []int{0, 1, 3} {
			t.Run(tc.name, func(t *testing.T) {
				iface := newInterface(t, tc.v4, tc.v6)
				clients := newClients(t, iface, n)

				got, peers, err := ParseInterface(GenerateInterface(iface, clients))
				require.NoError(t, err)

				assert.Equal(t, iface.IPv4, got.IPv4)
				assert.Equal(t, iface.IPv6, got.IPv6)
				assert.Equal(t, iface.ListenPort, got.ListenPort)
				assert.Equal(t, iface.Name, got.Name)
				assert.Equal(t, iface.Description, got.Description)
				assert.Equal(t, iface.PrivateKey, got.PrivateKey)
				assert.Equal(t, iface.PublicKey, got.PublicKey)
				assert.Equal(t, iface.UpRules, got.UpRules)
				assert.Equal(t, iface.DownRules, got.DownRules)

				require.Len(t, peers, n)
				for i, p := range peers {
					assert.Equal(t, clients[i].PublicKey, p.PublicKey)
					assert.Equal(t, clients[i].Name, p.Name)
					assert.Equal(t, clients[i].IPv4, p.IPv4)
					assert.Equal(t, clients[i].IPv6, p.IPv6)
					assert.Equal(t, clients[i].HostRoutes(), p.AllowedIPs)
					assert.Equal(t, got.ID, p.InterfaceID)
				}
			})
		}
	}
}

func TestGenerateInterfacePeerUsesHostRoutes(t *testing.T) {
	iface := newInterface(t, "10.44.0.1/24", "fd12:3456:789a:1::1/64")
	c := newClients(t, iface, 1)[0]
	c.AllowedIPs = []network.CIDR{network.MustParseCIDR("0.0.0.0/0")}

	out := GenerateInterface(iface, []*models.Client{c})
	assert.Contains(t, out, "AllowedIPs = 10.44.0.2/32, fd12:3456:789a:1::2/128\n")
	assert.NotContains(t, out, "0.0.0.0/0")
	assert.Contains(t, out, "Address = 10.44.0.1/24, fd12:3456:789a:1::1/64\n")
	assert.Contains(t, out, "PostUp = iptables -t nat -A POSTROUTING -o eth0 -j MASQUERADE\n")
}

func sampleClient() *models.Client {
	c := models.NewClient()
	c.Name = "peer1"
	c.PrivateKey = "yAnz5TF+lXXJte14tji3zlMNq+hd2rYUIgJBgB3fBmk="
	c.PublicKey = "xTIBA5rboUvnH4htodjb6e697QjLERt1NAB4mZqp8Dg="
	c.IPv4 = cidr("1.1.1.2/30")
	c.IPv6 = cidr("fd86:ea04:1115::4378/64")
	c.Endpoint = "vpn.example.com"
	c.NAT = true
	c.PrimaryDNS = "8.8.8.8"
	c.AllowedIPs = []network.CIDR{network.MustParseCIDR("1.1.2.0/24")}
	return c
}

func TestGenerateClient(t *testing.T) {
	want := `[Interface]
# Name = peer1
PrivateKey = yAnz5TF+lXXJte14tji3zlMNq+hd2rYUIgJBgB3fBmk=
Address = 1.1.1.2/30, fd86:ea04:1115::4378/64
DNS = 8.8.8.8

[Peer]
PublicKey = xTIBA5rboUvnH4htodjb6e697QjLERt1NAB4mZqp8Dg=
AllowedIPs = 1.1.2.0/24
Endpoint = vpn.example.com
PersistentKeepalive = 25
`
	c := sampleClient()
	assert.Equal(t, want, GenerateClient(c))

	c.NAT = false
	out := GenerateClient(c)
	assert.NotContains(t, out, "PersistentKeepalive")
	assert.Equal(t, want[:len(want)-len("PersistentKeepalive = 25\n")], out)

	c.SecondaryDNS = "8.8.4.4"
	assert.Contains(t, GenerateClient(c), "DNS = 8.8.8.8, 8.8.4.4\n")
}

func TestParseErrors(t *testing.T) {
	cases := map[string]struct {
		text string
		line int
	}{
		"unknown option":      {"[Interface]\nAddress = 10.0.0.1/24\nFoo = bar\n", 3},
		"unknown upper case":  {"[interface]\naddress = 10.0.0.1/24\nlistenport = 7\nFOO = 1\n", 4},
		"peer key in iface":   {"[Interface]\nEndpoint = a:1\n", 2},
		"no equals":           {"[Interface]\nAddress 10.0.0.1/24\n", 2},
		"outside section":     {"Address = 10.0.0.1/24\n", 1},
		"two ipv4":            {"[Interface]\nAddress = 10.0.0.1/24, 10.0.1.1/24\n", 2},
		"three addresses":     {"[Interface]\nAddress = 10.0.0.1/24, fd00::1/64, fd00::2/64\n", 2},
		"malformed cidr":      {"[Interface]\nAddress = 10.0.0.300/24\n", 2},
		"ipv6 prefix ceiling": {"[Interface]\nAddress = fd00::1/96\n", 2},
		"bad port":            {"[Interface]\nAddress = 10.0.0.1/24\nListenPort = x\n", 3},
		"unknown section":     {"[Interfaces]\n", 1},
		"missing address":     {"[Interface]\nListenPort = 1\n", 1},
		"peer without key":    {"[Interface]\nAddress = 10.0.0.1/24\n\n[Peer]\nAllowedIPs = 10.0.0.2/32\n", 4},
		"missing interface":   {"[Peer]\nPublicKey = xTIBA5rboUvnH4htodjb6e697QjLERt1NAB4mZqp8Dg=\n", 0},
		"bad private key":     {"[Interface]\nAddress = 10.0.0.1/24\nPrivateKey = nope\n", 3},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParseInterface(tc.text)
			var pe *apperr.ParseError
			require.True(t, errors.As(err, &pe), "got %v", err)
			assert.Equal(t, tc.line, pe.Line)
		})
	}
}

func TestParseCaseInsensitiveAndComments(t *testing.T) {
	text := `# generated
[INTERFACE]
# Name = wg7
# unrelated comment
address = 10.9.0.1/24
LISTENPORT = 51900
Mtu = 1420
Table = off
PreUp = echo up

[peer]
PUBLICKEY = xTIBA5rboUvnH4htodjb6e697QjLERt1NAB4mZqp8Dg=
allowedips = 10.9.0.5/32
PersistentKeepalive = 25
`
	iface, peers, err := ParseInterface(text)
	require.NoError(t, err)
	assert.Equal(t, "wg7", iface.Name)
	assert.Equal(t, 51900, iface.ListenPort)
	assert.Equal(t, 1420, iface.MTU)
	assert.Equal(t, "off", iface.Table)
	assert.Equal(t, []string{"echo up"}, iface.PreUp)
	require.Len(t, peers, 1)
	assert.Equal(t, "10.9.0.5/24", peers[0].IPv4.String())
	assert.True(t, peers[0].NAT)

	again, _, err := ParseInterface(GenerateInterface(iface, nil))
	require.NoError(t, err)
	assert.Equal(t, 1420, again.MTU)
	assert.Equal(t, "off", again.Table)
}

func moduleWith(t *testing.T) (*configuration.WireGuardModule, *models.Interface) {
	t.Helper()
	wg := &configuration.WireGuardModule{DefaultEndpoint: "198.51.100.1:51999"}
	iface := newInterface(t, "10.44.0.1/24", "fd12:3456:789a:1::1/64")
	require.NoError(t, wg.AddInterface(iface))
	return wg, iface
}

func TestParseClientResolvesOwner(t *testing.T) {
	wg, iface := moduleWith(t)
	priv, pub := keyPair(t)
	text := "[Interface]\n# Name = laptop\nPrivateKey = " + priv + "\nAddress = 10.44.0.9/24\nDNS = 1.1.1.1, 9.9.9.9\n\n" +
		"[Peer]\nPublicKey = " + iface.PublicKey + "\n"

	c, err := ParseClient(text, wg)
	require.NoError(t, err)
	assert.Equal(t, "laptop", c.Name)
	assert.Equal(t, pub, c.PublicKey)
	assert.Equal(t, "1.1.1.1", c.PrimaryDNS)
	assert.Equal(t, "9.9.9.9", c.SecondaryDNS)
	assert.Equal(t, "198.51.100.1:51999", c.Endpoint)
	assert.Equal(t, []network.CIDR{network.MustParseCIDR("10.44.0.9/32")}, c.AllowedIPs)
	assert.False(t, c.NAT)

	assert.Equal(t, iface.ID, c.InterfaceID)
	assert.Equal(t, []*models.Client{c}, wg.ClientsOf(iface.ID))
}

func TestParseClientKeepsExplicitValues(t *testing.T) {
	wg, iface := moduleWith(t)
	text := "[Interface]\nAddress = 10.44.0.9/24, fd12:3456:789a:1::9/64\n\n" +
		"[Peer]\nPublicKey = " + iface.PublicKey + "\nAllowedIPs = 0.0.0.0/0\nEndpoint = vpn.example.com:51999\nPersistentKeepalive = 25\n"

	c, err := ParseClient(text, wg)
	require.NoError(t, err)
	assert.Equal(t, "vpn.example.com:51999", c.Endpoint)
	assert.Equal(t, []network.CIDR{network.MustParseCIDR("0.0.0.0/0")}, c.AllowedIPs)
	assert.True(t, c.NAT)
}

func TestParseClientErrors(t *testing.T) {
	wg, iface := moduleWith(t)
	_, stranger := keyPair(t)

	cases := map[string]string{
		"unknown interface": "[Interface]\nAddress = 10.44.0.9/24\n\n[Peer]\nPublicKey = " + stranger + "\n",
		"outside subnet":    "[Interface]\nAddress = 10.45.0.9/24\n\n[Peer]\nPublicKey = " + iface.PublicKey + "\n",
		"no peer":           "[Interface]\nAddress = 10.44.0.9/24\n",
		"no peer key":       "[Interface]\nAddress = 10.44.0.9/24\n\n[Peer]\nEndpoint = x:1\n",
		"no address":        "[Interface]\nDNS = 1.1.1.1\n\n[Peer]\nPublicKey = " + iface.PublicKey + "\n",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseClient(text, wg)
			var pe *apperr.ParseError
			require.True(t, errors.As(err, &pe), "got %v", err)
		})
	}
	assert.Empty(t, wg.Clients)
}

func TestParseClientAcceptsIPv6HostRoutes(t *testing.T) {
	wg, iface := moduleWith(t)
	text := "[Interface]\nAddress = 10.44.0.9/24, fd12:3456:789a:1::9/64\n\n" +
		"[Peer]\nPublicKey = " + iface.PublicKey + "\nAllowedIPs = 10.44.0.9/32, fd12:3456:789a:1::9/128\n"

	c, err := ParseClient(text, wg)
	require.NoError(t, err)
	assert.Equal(t, cidr("fd12:3456:789a:1::9/64"), c.IPv6)
	assert.Equal(t, c.HostRoutes(), c.AllowedIPs)
}

func TestParseClientRejectsLongIPv6Address(t *testing.T) {
	wg, iface := moduleWith(t)
	text := "[Interface]\nAddress = fd12:3456:789a:1::9/128\n\n[Peer]\nPublicKey = " + iface.PublicKey + "\n"

	_, err := ParseClient(text, wg)
	var pe *apperr.ParseError
	require.True(t, errors.As(err, &pe), "got %v", err)
	assert.Equal(t, "malformed CIDR", pe.Msg)
	assert.Equal(t, 2, pe.Line)
}

func TestParseInterfaceSiteRoutesAreNotAddresses(t *testing.T) {
	iface := newInterface(t, "10.0.0.1/24", "")
	_, pub := keyPair(t)
	text := GenerateInterface(iface, nil) +
		"\n[Peer]\nPublicKey = " + pub + "\nAllowedIPs = 192.168.5.0/24, 10.0.0.2/32, 10.0.0.3/32\n"

	_, peers, err := ParseInterface(text)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, cidr("10.0.0.2/24"), peers[0].IPv4)
	assert.Nil(t, peers[0].IPv6)
	assert.Len(t, peers[0].AllowedIPs, 3)
}
