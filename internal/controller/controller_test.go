package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wgate/internal/configuration"
	"wgate/internal/generator"
	"wgate/internal/models"
	"wgate/internal/network"
	"wgate/internal/plugins"
	"wgate/internal/shell/shelltest"
	"wgate/internal/traffic/jsonfile"
	"wgate/internal/validation"
	"wgate/internal/vpn/wgconf"
	"wgate/internal/vpn/wgdump"
)

var adapters = network.StaticSource{
	{Name: "lo", Loopback: true},
	{Name: "eth0", Up: true},
}

type env struct {
	ctl *Controller
	fs  afero.Fs
	sh  *shelltest.Fake
}

func newEnv(t *testing.T) env {
	t.Helper()
	return newEnvOn(t, afero.NewMemMapFs())
}

func newEnvOn(t *testing.T, fs afero.Fs) env {
	t.Helper()
	sh := shelltest.WireGuard()
	m := configuration.NewManager("/srv/wgate",
		configuration.WithFs(fs),
		configuration.WithRegistry(plugins.NewRegistry()),
		configuration.WithGateway(sh),
	)
	driver := jsonfile.New()
	require.NoError(t, m.Engine().Register(driver))

	cfg := configuration.New()
	wg := cfg.WireGuard()
	wg.WgBin, wg.WgQuickBin, wg.ConfigDirectory = "wg", "wg-quick", "/etc/wireguard"
	wg.DefaultEndpoint = "vpn.example.com"
	wg.DefaultDNS = models.DNS{Primary: "1.1.1.1"}
	cfg.Firewall().IptablesBin = "iptables"
	cfg.Traffic().Enabled = true
	cfg.Traffic().Driver = driver
	m.SetConfiguration(cfg)

	ctl := New(m, generator.New(sh, adapters), validation.New(adapters))
	ctl.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return env{ctl: ctl, fs: fs, sh: sh}
}

func TestCreateInterfaceWritesFileAndSaves(t *testing.T) {
	e := newEnv(t)
	iface, err := e.ctl.CreateInterface(context.Background())
	require.NoError(t, err)

	text, err := afero.ReadFile(e.fs, "/etc/wireguard/"+iface.Name+".conf")
	require.NoError(t, err)
	assert.Contains(t, string(text), "[Interface]")
	assert.Contains(t, string(text), "PrivateKey = "+iface.PrivateKey)

	saved, err := afero.Exists(e.fs, "/srv/wgate/config.yaml")
	require.NoError(t, err)
	assert.True(t, saved)
}

func TestAddInterfaceRejectsDuplicateName(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first, err := e.ctl.CreateInterface(ctx)
	require.NoError(t, err)

	dup := models.NewInterface()
	dup.Name = first.Name
	dup.ListenPort = first.ListenPort + 1
	dup.Gateway = "eth0"
	dup.IPv4 = network.MustParseCIDR("192.168.77.1/24").Ptr()

	err = e.ctl.AddInterface(ctx, dup)
	var ve *validation.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.True(t, validation.Has(err, "Name", "already in use"))
	assert.Len(t, e.ctl.Manager.Configuration().WireGuard().Interfaces, 1)
}

func TestAddInterfaceRollsBackOnWriteFailure(t *testing.T) {
	e := newEnvOn(t, afero.NewReadOnlyFs(afero.NewMemMapFs()))
	_, err := e.ctl.CreateInterface(context.Background())
	require.Error(t, err)
	assert.Empty(t, e.ctl.Manager.Configuration().WireGuard().Interfaces)
}

func TestImportInterfaceRollsBackOnWriteFailure(t *testing.T) {
	src := newEnv(t)
	ctx := context.Background()
	iface, err := src.ctl.CreateInterface(ctx)
	require.NoError(t, err)
	_, err = src.ctl.CreateClient(ctx, iface.ID)
	require.NoError(t, err)
	text, err := src.ctl.InterfaceConfig(iface.ID)
	require.NoError(t, err)

	dst := newEnvOn(t, afero.NewReadOnlyFs(afero.NewMemMapFs()))
	_, err = dst.ctl.ImportInterface(ctx, text)
	require.Error(t, err)
	wg := dst.ctl.Manager.Configuration().WireGuard()
	assert.Empty(t, wg.Interfaces)
	assert.Empty(t, wg.Clients)
}

func TestClientLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	iface, err := e.ctl.CreateInterface(ctx)
	require.NoError(t, err)

	c, err := e.ctl.CreateClient(ctx, iface.ID)
	require.NoError(t, err)
	assert.Equal(t, "peer1", c.Name)

	path := e.ctl.ConfigPath(iface)
	text, err := afero.ReadFile(e.fs, path)
	require.NoError(t, err)
	assert.Contains(t, string(text), "PublicKey = "+c.PublicKey)

	conf, err := e.ctl.ClientConfig(c.ID)
	require.NoError(t, err)
	assert.Contains(t, conf, "PrivateKey = "+c.PrivateKey)

	require.NoError(t, e.ctl.RemoveClient(ctx, c.ID))
	text, err = afero.ReadFile(e.fs, path)
	require.NoError(t, err)
	assert.NotContains(t, string(text), c.PublicKey)

	_, err = e.ctl.ClientConfig(c.ID)
	assert.ErrorIs(t, err, configuration.ErrNotFound)
}

func TestDualStackClientSurvivesReload(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	iface, err := e.ctl.CreateInterface(ctx)
	require.NoError(t, err)
	require.NotNil(t, iface.IPv6)
	c, err := e.ctl.CreateClient(ctx, iface.ID)
	require.NoError(t, err)

	text, err := e.ctl.InterfaceConfig(iface.ID)
	require.NoError(t, err)
	_, peers, err := wgconf.ParseInterface(text)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, c.IPv6, peers[0].IPv6)

	m := configuration.NewManager("/srv/wgate",
		configuration.WithFs(e.fs),
		configuration.WithRegistry(plugins.NewRegistry()),
		configuration.WithGateway(e.sh),
	)
	require.NoError(t, m.Engine().Register(jsonfile.New()))
	require.NoError(t, m.Load(ctx))
	clients := m.Configuration().WireGuard().Clients
	require.Len(t, clients, 1)
	assert.Equal(t, c.IPv6, clients[0].IPv6)
	assert.Equal(t, c.AllowedIPs, clients[0].AllowedIPs)
}

func TestRemoveInterface(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	iface, err := e.ctl.CreateInterface(ctx)
	require.NoError(t, err)
	_, err = e.ctl.CreateClient(ctx, iface.ID)
	require.NoError(t, err)

	require.NoError(t, e.ctl.RemoveInterface(ctx, iface.ID))
	assert.True(t, e.sh.Called("wg-quick down"))

	exists, _ := afero.Exists(e.fs, e.ctl.ConfigPath(iface))
	assert.False(t, exists)
	wg := e.ctl.Manager.Configuration().WireGuard()
	assert.Empty(t, wg.Interfaces)
	assert.Empty(t, wg.Clients)

	assert.ErrorIs(t, e.ctl.RemoveInterface(ctx, iface.ID), configuration.ErrNotFound)
}

func TestImportInterfaceAndClient(t *testing.T) {
	src := newEnv(t)
	ctx := context.Background()
	iface, err := src.ctl.CreateInterface(ctx)
	require.NoError(t, err)
	c, err := src.ctl.CreateClient(ctx, iface.ID)
	require.NoError(t, err)
	ifaceText, err := src.ctl.InterfaceConfig(iface.ID)
	require.NoError(t, err)
	clientText, err := src.ctl.ClientConfig(c.ID)
	require.NoError(t, err)

	dst := newEnv(t)
	imported, err := dst.ctl.ImportInterface(ctx, ifaceText)
	require.NoError(t, err)
	assert.Equal(t, iface.Name, imported.Name)
	assert.Equal(t, iface.PublicKey, imported.PublicKey)
	assert.Equal(t, "eth0", imported.Gateway)
	wg := dst.ctl.Manager.Configuration().WireGuard()
	require.Len(t, wg.Clients, 1)
	_, err = wg.RemoveClient(wg.Clients[0].ID)
	require.NoError(t, err)

	// в [Peer] файла клиента пишется его собственный ключ; владелец ищется по ключу интерфейса
	clientText = strings.Replace(clientText, "PublicKey = "+c.PublicKey, "PublicKey = "+iface.PublicKey, 1)
	got, err := dst.ctl.ImportClient(ctx, clientText)
	require.NoError(t, err)
	assert.Equal(t, imported.ID, got.InterfaceID)
	assert.Equal(t, c.PublicKey, got.PublicKey)
}

func TestImportClientValidationFailureRollsBack(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	iface, err := e.ctl.CreateInterface(ctx)
	require.NoError(t, err)
	c, err := e.ctl.CreateClient(ctx, iface.ID)
	require.NoError(t, err)
	text, err := e.ctl.ClientConfig(c.ID)
	require.NoError(t, err)

	// другой ключ, но то же имя
	other, err := e.ctl.Generator.NewClient(ctx, e.ctl.Manager.Configuration(), iface)
	require.NoError(t, err)
	text = strings.Replace(text, c.PrivateKey, other.PrivateKey, 1)
	text = strings.Replace(text, "PublicKey = "+c.PublicKey, "PublicKey = "+iface.PublicKey, 1)

	_, err = e.ctl.ImportClient(ctx, text)
	assert.True(t, validation.Has(err, "Name", "already in use"))
	assert.Len(t, e.ctl.Manager.Configuration().WireGuard().Clients, 1)
}

func TestExportClients(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	iface, err := e.ctl.CreateInterface(ctx)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := e.ctl.CreateClient(ctx, iface.ID)
		require.NoError(t, err)
	}
	data, sum, err := e.ctl.ExportClients(iface.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Len(t, sum, 64)
}

func TestStartAutoStartCollectsErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, err := e.ctl.CreateInterface(ctx)
	require.NoError(t, err)
	b, err := e.ctl.CreateInterface(ctx)
	require.NoError(t, err)
	a.AutoStart, b.AutoStart = true, true

	e.sh.Handle(shelltest.Contains(b.Name+".conf", shelltest.Fail("RTNETLINK answers: Operation not permitted")))
	err = e.ctl.StartAutoStart(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RTNETLINK")
	assert.True(t, e.sh.Called(a.Name+".conf"))
}

func dumpFor(iface *models.Interface, clients []*models.Client) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\t%s\t%d\toff\n", iface.PrivateKey, iface.PublicKey, iface.ListenPort)
	for i, c := range clients {
		fmt.Fprintf(&b, "%s\t(none)\t198.51.100.%d:40000\t%s\t1714564800\t%d\t%d\toff\n",
			c.PublicKey, i+1, c.HostRoutes()[0], 100*(i+1), 10*(i+1))
	}
	return b.String()
}

func TestCollectTraffic(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	up, err := e.ctl.CreateInterface(ctx)
	require.NoError(t, err)
	down, err := e.ctl.CreateInterface(ctx)
	require.NoError(t, err)
	c, err := e.ctl.CreateClient(ctx, up.ID)
	require.NoError(t, err)

	wg := e.ctl.Manager.Configuration().WireGuard()
	e.sh.Handle(shelltest.Contains(up.Name+" dump", shelltest.OK(dumpFor(up, wg.ClientsOf(up.ID)))))
	e.sh.Handle(shelltest.Contains(down.Name+" dump", shelltest.Fail("Unable to access interface: No such device")))

	got, err := e.ctl.CollectTraffic(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	history, err := e.ctl.Traffic(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, d := range history {
		if d.PeerID == c.ID {
			assert.Equal(t, uint64(100), d.Received)
			assert.Equal(t, uint64(10), d.Sent)
		}
	}

	hs, err := e.ctl.LastHandshake(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1714564800), hs.Unix())
}

func TestTrafficWithoutDriver(t *testing.T) {
	e := newEnv(t)
	e.ctl.Manager.Configuration().Traffic().Driver = nil
	_, err := e.ctl.CollectTraffic(context.Background())
	assert.ErrorIs(t, err, ErrNoDriver)
	_, err = e.ctl.Traffic(context.Background())
	assert.ErrorIs(t, err, ErrNoDriver)
}

func TestLastHandshakeUnknownPeer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	iface, err := e.ctl.CreateInterface(ctx)
	require.NoError(t, err)
	c, err := e.ctl.CreateClient(ctx, iface.ID)
	require.NoError(t, err)
	e.sh.Handle(shelltest.Contains(" dump", shelltest.OK(dumpFor(iface, nil))))

	_, err = e.ctl.LastHandshake(ctx, c.ID)
	assert.ErrorIs(t, err, wgdump.ErrPeerNotFound)
}
