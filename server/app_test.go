package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wgate/config"
	"wgate/internal/apperr"
	"wgate/internal/network"
	"wgate/internal/plugins"
	"wgate/internal/shell/shelltest"
)

type fixedAddress struct{}

func (fixedAddress) PublicAddress(context.Context) (string, error) { return "203.0.113.10", nil }

func newApp(t *testing.T, fs afero.Fs) *App {
	t.Helper()
	var cfg config.Config
	cfg.Server.Address, cfg.Server.HTTPPort, cfg.Server.APIToken = "127.0.0.1", "0", "token"
	cfg.Core.WorkDir, cfg.Core.CommandTimeout = "/var/lib/wgate", time.Second
	cfg.Collector.Enabled = true

	app := &App{
		Fs:       fs,
		Gateway:  shelltest.WireGuard(),
		Adapters: network.StaticSource{{Name: "eth0", Up: true}},
		Registry: plugins.NewRegistry(),
		Resolver: fixedAddress{},
		Metrics:  prometheus.NewRegistry(),
	}
	require.NoError(t, app.Initialize(&cfg))
	return app
}

func serve(app *App, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)
	return rec
}

func TestInitializeFallsBackToDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	app := newApp(t, fs)

	saved, err := afero.Exists(fs, "/var/lib/wgate/config.yaml")
	require.NoError(t, err)
	assert.True(t, saved)

	wg := app.Manager.Configuration().WireGuard()
	assert.Equal(t, "203.0.113.10", wg.DefaultEndpoint)
	assert.Equal(t, "jsonfile", app.Manager.Configuration().Traffic().Driver.Name())
	assert.Equal(t, 3, app.Registry.Len())
}

func TestInitializeKeepsCorruptConfiguration(t *testing.T) {
	fs := afero.NewMemMapFs()
	corrupt := []byte("modules: [\n")
	require.NoError(t, afero.WriteFile(fs, "/var/lib/wgate/config.yaml", corrupt, 0o600))

	var cfg config.Config
	cfg.Server.Address, cfg.Server.HTTPPort = "127.0.0.1", "0"
	cfg.Core.WorkDir, cfg.Core.CommandTimeout = "/var/lib/wgate", time.Second
	app := &App{
		Fs:       fs,
		Gateway:  shelltest.WireGuard(),
		Adapters: network.StaticSource{{Name: "eth0", Up: true}},
		Registry: plugins.NewRegistry(),
		Resolver: fixedAddress{},
		Metrics:  prometheus.NewRegistry(),
	}
	var cle *apperr.ConfigurationLoadError
	require.ErrorAs(t, app.Initialize(&cfg), &cle)

	data, err := afero.ReadFile(fs, "/var/lib/wgate/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, corrupt, data)
}

func TestInitializeReloadsSavedConfiguration(t *testing.T) {
	fs := afero.NewMemMapFs()
	first := newApp(t, fs)
	iface, err := first.Controller.CreateInterface(context.Background())
	require.NoError(t, err)
	_, err = first.Controller.CreateClient(context.Background(), iface.ID)
	require.NoError(t, err)

	second := newApp(t, fs)
	wg := second.Manager.Configuration().WireGuard()
	require.Len(t, wg.Interfaces, 1)
	assert.Equal(t, "wg0", wg.Interfaces[0].Name)
	require.Len(t, wg.Clients, 1)
	assert.NotNil(t, wg.Clients[0].IPv6)
}

func TestRoutes(t *testing.T) {
	app := newApp(t, afero.NewMemMapFs())

	assert.Equal(t, http.StatusOK, serve(app, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, serve(app, http.MethodGet, "/readyz", "").Code)
	assert.Equal(t, http.StatusOK, serve(app, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(app, http.MethodGet, "/api/v1/interfaces", "").Code)
	assert.Equal(t, http.StatusOK, serve(app, http.MethodGet, "/api/v1/interfaces", "token").Code)

	rec := serve(app, http.MethodPost, "/api/v1/interfaces", "token")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestRunRequiresInitialize(t *testing.T) {
	assert.Error(t, (&App{}).Run())
}

func TestCollectStopsWithContext(t *testing.T) {
	app := newApp(t, afero.NewMemMapFs())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.collect(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
}
