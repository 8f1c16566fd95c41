package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"wgate/internal/configuration"
	"wgate/internal/generator"
	"wgate/internal/logs"
	"wgate/internal/models"
	"wgate/internal/tarball"
	"wgate/internal/validation"
	"wgate/internal/vpn/wgconf"
	"wgate/internal/vpn/wgdump"
)

var ErrNoDriver = errors.New("traffic storage driver is not configured")

// Controller — команды верхнего уровня над конфигурацией: генерация,
// проверка, запись файлов wg-quick, запуск и сбор трафика.
// Не потокобезопасен: вызывающий сериализует изменяющие команды.
type Controller struct {
	Manager   *configuration.Manager
	Generator *generator.Generator
	Validator *validation.Engine
	Now       func() time.Time
}

func New(m *configuration.Manager, gen *generator.Generator, v *validation.Engine) *Controller {
	return &Controller{Manager: m, Generator: gen, Validator: v, Now: time.Now}
}

func (c *Controller) cfg() *configuration.Configuration  { return c.Manager.Configuration() }
func (c *Controller) wg() *configuration.WireGuardModule { return c.cfg().WireGuard() }
func (c *Controller) fs() afero.Fs                       { return c.Manager.Fs() }

func log() *logrus.Entry { return logs.Component("controller") }

// ConfigPath — <config_directory>/<name>.conf.
func (c *Controller) ConfigPath(iface *models.Interface) string {
	dir := c.wg().ConfigDirectory
	if dir == "" {
		dir = configuration.DefaultConfigDirectory
	}
	return filepath.Join(dir, iface.Name+".conf")
}

func (c *Controller) Interface(id uuid.UUID) (*models.Interface, error) {
	iface, ok := c.wg().InterfaceByID(id)
	if !ok {
		return nil, fmt.Errorf("interface %s: %w", id, configuration.ErrNotFound)
	}
	return iface, nil
}

func (c *Controller) Client(id uuid.UUID) (*models.Client, error) {
	cl, ok := c.wg().ClientByID(id)
	if !ok {
		return nil, fmt.Errorf("client %s: %w", id, configuration.ErrNotFound)
	}
	return cl, nil
}

func (c *Controller) owner(cl *models.Client) (*models.Interface, error) {
	iface, ok := c.wg().OwnerOf(cl)
	if !ok {
		return nil, fmt.Errorf("interface %s of client %q: %w", cl.InterfaceID, cl.Name, configuration.ErrNotFound)
	}
	return iface, nil
}

// ===== interfaces =====

// CreateInterface генерирует интерфейс и добавляет его.
func (c *Controller) CreateInterface(ctx context.Context) (*models.Interface, error) {
	iface, err := c.Generator.NewInterface(ctx, c.cfg())
	if err != nil {
		return nil, err
	}
	if err := c.AddInterface(ctx, iface); err != nil {
		return nil, err
	}
	return iface, nil
}

// AddInterface проверяет интерфейс, добавляет его, пишет его файл и сохраняет конфигурацию.
// При любой ошибке конфигурация не меняется; нарушения приходят как *validation.ValidationError.
func (c *Controller) AddInterface(_ context.Context, iface *models.Interface) (err error) {
	if err := validation.Check(c.Validator.ValidateInterface(c.cfg(), iface)); err != nil {
		return err
	}
	if err := c.wg().AddInterface(iface); err != nil {
		return err
	}
	defer c.undoInterface(iface, &err)
	if err := c.WriteInterfaceConfig(iface); err != nil {
		return err
	}
	log().WithField("interface", iface.Name).Info("interface added")
	return c.Manager.Save()
}

// undoInterface убирает только что добавленный интерфейс (вместе с его
// клиентами и файлом), если *err не nil.
func (c *Controller) undoInterface(iface *models.Interface, err *error) {
	if *err == nil {
		return
	}
	_, _ = c.wg().RemoveInterface(iface.ID)
	if rmErr := c.fs().Remove(c.ConfigPath(iface)); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		log().WithError(rmErr).WithField("interface", iface.Name).Warn("rollback: config file not removed")
	}
}

// RemoveInterface останавливает интерфейс (ошибка только логируется),
// удаляет его файл и клиентов.
func (c *Controller) RemoveInterface(ctx context.Context, id uuid.UUID) error {
	iface, err := c.Interface(id)
	if err != nil {
		return err
	}
	path := c.ConfigPath(iface)
	if err := c.Manager.Tool().Down(ctx, path); err != nil {
		log().WithError(err).WithField("interface", iface.Name).Warn("stop before removal failed")
	}
	if err := c.fs().Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	if _, err := c.wg().RemoveInterface(id); err != nil {
		return err
	}
	log().WithField("interface", iface.Name).Info("interface removed")
	return c.Manager.Save()
}

// WriteInterfaceConfig пишет <dir>/<name>.conf с текущим набором клиентов.
func (c *Controller) WriteInterfaceConfig(iface *models.Interface) error {
	path := c.ConfigPath(iface)
	if err := c.fs().MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	text := wgconf.GenerateInterface(iface, c.wg().ClientsOf(iface.ID))
	return afero.WriteFile(c.fs(), path, []byte(text), 0o600)
}

func (c *Controller) InterfaceConfig(id uuid.UUID) (string, error) {
	iface, err := c.Interface(id)
	if err != nil {
		return "", err
	}
	return wgconf.GenerateInterface(iface, c.wg().ClientsOf(iface.ID)), nil
}

// ImportInterface разбирает файл интерфейса; его [Peer] регистрируются как клиенты.
// Недостающие имя, шлюз и порт дополняются генератором.
func (c *Controller) ImportInterface(_ context.Context, text string) (_ *models.Interface, err error) {
	iface, peers, err := wgconf.ParseInterface(text)
	if err != nil {
		return nil, err
	}
	c.Generator.Complete(c.cfg(), iface)
	if err := validation.Check(c.Validator.ValidateInterface(c.cfg(), iface)); err != nil {
		return nil, err
	}
	wg := c.wg()
	if err := wg.AddInterface(iface); err != nil {
		return nil, err
	}
	defer c.undoInterface(iface, &err)
	for _, p := range peers {
		if err := wg.AddClient(iface, p); err != nil {
			return nil, err
		}
	}
	if err := c.WriteInterfaceConfig(iface); err != nil {
		return nil, err
	}
	if err := c.Manager.Save(); err != nil {
		return nil, err
	}
	log().WithFields(logrus.Fields{"interface": iface.Name, "clients": len(peers)}).Info("interface imported")
	return iface, nil
}

// ===== clients =====

// CreateClient генерирует клиента для интерфейса и добавляет его.
func (c *Controller) CreateClient(ctx context.Context, ifaceID uuid.UUID) (*models.Client, error) {
	iface, err := c.Interface(ifaceID)
	if err != nil {
		return nil, err
	}
	cl, err := c.Generator.NewClient(ctx, c.cfg(), iface)
	if err != nil {
		return nil, err
	}
	if err := c.AddClient(ctx, ifaceID, cl); err != nil {
		return nil, err
	}
	return cl, nil
}

// AddClient проверяет клиента, регистрирует его в интерфейсе и переписывает файл интерфейса.
func (c *Controller) AddClient(_ context.Context, ifaceID uuid.UUID, cl *models.Client) error {
	iface, err := c.Interface(ifaceID)
	if err != nil {
		return err
	}
	if err := validation.Check(c.Validator.ValidateClient(c.cfg(), cl)); err != nil {
		return err
	}
	if err := c.wg().AddClient(iface, cl); err != nil {
		return err
	}
	if err := c.WriteInterfaceConfig(iface); err != nil {
		return err
	}
	log().WithFields(logrus.Fields{"interface": iface.Name, "client": cl.Name}).Info("client added")
	return c.Manager.Save()
}

func (c *Controller) RemoveClient(_ context.Context, id uuid.UUID) error {
	cl, err := c.Client(id)
	if err != nil {
		return err
	}
	iface, err := c.owner(cl)
	if err != nil {
		return err
	}
	if _, err := c.wg().RemoveClient(id); err != nil {
		return err
	}
	if err := c.WriteInterfaceConfig(iface); err != nil {
		return err
	}
	log().WithFields(logrus.Fields{"interface": iface.Name, "client": cl.Name}).Info("client removed")
	return c.Manager.Save()
}

func (c *Controller) ClientConfig(id uuid.UUID) (string, error) {
	cl, err := c.Client(id)
	if err != nil {
		return "", err
	}
	return wgconf.GenerateClient(cl), nil
}

// ImportClient разбирает файл клиента; владелец определяется по ключу [Peer].
func (c *Controller) ImportClient(_ context.Context, text string) (*models.Client, error) {
	wg := c.wg()
	cl, err := wgconf.ParseClient(text, wg)
	if err != nil {
		return nil, err
	}
	if err := validation.Check(c.Validator.ValidateClient(c.cfg(), cl)); err != nil {
		_, _ = wg.RemoveClient(cl.ID)
		return nil, err
	}
	iface, err := c.owner(cl)
	if err != nil {
		return nil, err
	}
	if err := c.WriteInterfaceConfig(iface); err != nil {
		return nil, err
	}
	log().WithFields(logrus.Fields{"interface": iface.Name, "client": cl.Name}).Info("client imported")
	return cl, c.Manager.Save()
}

// ExportClients — tar.gz с файлами всех клиентов интерфейса: <iface>/<client>.conf.
func (c *Controller) ExportClients(ifaceID uuid.UUID) ([]byte, string, error) {
	iface, err := c.Interface(ifaceID)
	if err != nil {
		return nil, "", err
	}
	var files []tarball.File
	for _, cl := range c.wg().ClientsOf(iface.ID) {
		name := cl.Name
		if name == "" {
			name = cl.ID.String()
		}
		files = append(files, tarball.File{
			Name: iface.Name + "/" + name + ".conf",
			Data: []byte(wgconf.GenerateClient(cl)),
		})
	}
	return tarball.Build(files)
}

// ===== runtime =====

func (c *Controller) Start(ctx context.Context, id uuid.UUID) error {
	iface, err := c.Interface(id)
	if err != nil {
		return err
	}
	if err := c.WriteInterfaceConfig(iface); err != nil {
		return err
	}
	return c.Manager.Tool().Up(ctx, c.ConfigPath(iface))
}

func (c *Controller) Stop(ctx context.Context, id uuid.UUID) error {
	iface, err := c.Interface(id)
	if err != nil {
		return err
	}
	return c.Manager.Tool().Down(ctx, c.ConfigPath(iface))
}

// StartAutoStart поднимает интерфейсы с AutoStart; ошибки собираются.
func (c *Controller) StartAutoStart(ctx context.Context) error {
	var errs []error
	for _, iface := range c.wg().Interfaces {
		if !iface.AutoStart {
			continue
		}
		if err := c.Start(ctx, iface.ID); err != nil {
			log().WithError(err).WithField("interface", iface.Name).Error("auto start failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CollectTraffic снимает dump каждого интерфейса и сохраняет счётчики через драйвер.
// Интерфейсы, для которых dump недоступен (например, остановлены), пропускаются.
func (c *Controller) CollectTraffic(ctx context.Context) ([]models.TrafficData, error) {
	driver := c.cfg().Traffic().Driver
	if driver == nil {
		return nil, ErrNoDriver
	}
	tool := c.Manager.Tool()
	now := c.Now().UTC()

	var all []models.TrafficData
	for _, iface := range c.wg().Interfaces {
		dump, err := tool.Dump(ctx, iface.Name)
		if err != nil {
			log().WithError(err).WithField("interface", iface.Name).Debug("dump unavailable")
			continue
		}
		all = append(all, wgdump.Parse(dump, iface, c.wg().ClientsOf(iface.ID), now)...)
	}
	if len(all) == 0 {
		return nil, nil
	}
	if err := driver.Save(ctx, all); err != nil {
		return nil, fmt.Errorf("save traffic via %s: %w", driver.Name(), err)
	}
	log().WithFields(logrus.Fields{"records": len(all), "driver": driver.Name()}).Debug("traffic collected")
	return all, nil
}

// Traffic — история из драйвера хранения.
func (c *Controller) Traffic(ctx context.Context) ([]models.TrafficData, error) {
	driver := c.cfg().Traffic().Driver
	if driver == nil {
		return nil, ErrNoDriver
	}
	return driver.Load(ctx)
}

func (c *Controller) LastHandshake(ctx context.Context, clientID uuid.UUID) (time.Time, error) {
	cl, err := c.Client(clientID)
	if err != nil {
		return time.Time{}, err
	}
	iface, err := c.owner(cl)
	if err != nil {
		return time.Time{}, err
	}
	dump, err := c.Manager.Tool().Dump(ctx, iface.Name)
	if err != nil {
		return time.Time{}, err
	}
	return wgdump.LastHandshake(dump, cl)
}
