package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"wgate/config"
	"wgate/internal/api"
	"wgate/internal/configuration"
	"wgate/internal/controller"
	"wgate/internal/generator"
	"wgate/internal/health"
	"wgate/internal/logs"
	"wgate/internal/middleware"
	"wgate/internal/network"
	"wgate/internal/plugins"
	"wgate/internal/shell"
	"wgate/internal/traffic"
	"wgate/internal/traffic/database"
	"wgate/internal/traffic/jsonfile"
	"wgate/internal/traffic/metrics"
	"wgate/internal/validation"
)

type App struct {
	cfg        *config.Config
	Manager    *configuration.Manager
	Controller *controller.Controller
	API        *api.Handler
	Router     *mux.Router
	httpServer *http.Server

	// Зависимости от хоста; нулевые значения — реальная ОС.
	Fs       afero.Fs
	Gateway  shell.Gateway
	Adapters network.AdapterSource
	Registry *plugins.Registry
	Resolver configuration.AddressResolver
	Metrics  prometheus.Registerer

	ctx    context.Context
	cancel context.CancelFunc
}

func (a *App) defaults() {
	if a.Fs == nil {
		a.Fs = afero.NewOsFs()
	}
	if a.Gateway == nil {
		a.Gateway = shell.NewExec(a.cfg.Core.CommandTimeout)
	}
	if a.Adapters == nil {
		a.Adapters = network.NetlinkSource{}
	}
	if a.Registry == nil {
		a.Registry = plugins.Default
	}
	if a.Resolver == nil {
		a.Resolver = configuration.HTTPResolver{}
	}
	if a.Metrics == nil {
		a.Metrics = prometheus.DefaultRegisterer
	}
}

func (a *App) Initialize(cfg *config.Config) error {
	a.cfg = cfg

	/* 1) Логи */
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})
	a.defaults()
	log := logs.Component("server")

	/* 2) Конфигурация модулей: встроенные драйверы регистрируются до декодирования */
	a.Manager = configuration.NewManager(a.cfg.Core.WorkDir,
		configuration.WithFs(a.Fs),
		configuration.WithGateway(a.Gateway),
		configuration.WithRegistry(a.Registry),
		configuration.WithAddressResolver(a.Resolver),
	)
	if err := a.Manager.Engine().Register(jsonfile.New(), database.New(), metrics.New(a.Metrics)); err != nil {
		return fmt.Errorf("register builtin drivers: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*a.cfg.Core.CommandTimeout)
	defer cancel()
	if err := a.Manager.Load(ctx); err != nil {
		// Повреждённый файл не перезаписывается: его правит администратор.
		if !errors.Is(err, configuration.ErrNoConfiguration) {
			return err
		}
		log.WithError(err).Warn("configuration not found, writing defaults")
		a.Manager.LoadDefaults(ctx)
		if err := a.Manager.Save(); err != nil {
			return fmt.Errorf("save default configuration: %w", err)
		}
	}

	a.Controller = controller.New(a.Manager, generator.New(a.Gateway, a.Adapters), validation.New(a.Adapters))
	a.API = api.NewHandler(a.Controller)

	/* 3) Router + middleware */
	a.Router = mux.NewRouter().StrictSlash(true)
	a.Router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.LoggerMW,
	)

	/* 4) Health + метрики */
	health.RegisterRoutesWithDriver(a.Router, a.driver)
	var gatherer prometheus.Gatherer
	if g, ok := a.Metrics.(prometheus.Gatherer); ok {
		gatherer = g
	}
	health.RegisterMetrics(a.Router, gatherer)

	/* 5) API */
	if a.cfg.Server.APIToken == "" {
		log.Warn("server.api_token is empty: API is served without authentication")
	}
	api.RegisterRoutes(a.Router, a.API, a.cfg.Server.APIToken)

	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := rt.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, _ := rt.GetMethods()
		if len(methods) == 0 {
			methods = []string{"ANY"}
		}
		log.Debugf("route: %-6v %s", methods, path)
		return nil
	})
	return nil
}

// driver — текущий драйвер трафика; nil, если сбор выключен.
func (a *App) driver() traffic.Driver {
	tr := a.Manager.Configuration().Traffic()
	if !tr.Enabled {
		return nil
	}
	return tr.Driver
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return fmt.Errorf("server not initialized")
	}
	log := logs.Component("server")

	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	defer a.cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigs:
			log.Infof("shutdown signal: %s", s)
			a.cancel()
		case <-a.ctx.Done():
		}
	}()

	if err := a.Controller.StartAutoStart(a.ctx); err != nil {
		log.WithError(err).Error("some interfaces failed to start")
	}
	if a.cfg.Collector.Enabled {
		if d := a.driver(); d != nil {
			go a.collect(a.ctx, d.Interval())
		} else {
			log.Info("traffic collection disabled: no driver configured")
		}
	}

	a.httpServer = &http.Server{
		Addr:              bind,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      a.cfg.Core.CommandTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
			a.cancel()
		}
	}()

	<-a.ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
	select {
	case err := <-errc:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Stop завершает Run так же, как сигнал.
func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}
