package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/spf13/afero"

	"wgate/internal/models"
	"wgate/internal/traffic"
)

const Name = "jsonfile"

// Driver хранит историю трафика одним JSON-массивом.
// Дозапись: прочитать, склеить, переписать через временный файл.
type Driver struct {
	*traffic.Base
	mu sync.Mutex
}

func New() *Driver {
	return &Driver{Base: traffic.NewBase(Name, "Stores traffic records in a JSON file", traffic.Options{
		"path":        "traffic.json",
		"max_records": "0",
	})}
}

func (d *Driver) Clone() traffic.Driver { return &Driver{Base: d.CloneBase()} }

func (d *Driver) fs() afero.Fs {
	if h := d.Host(); h != nil && h.Fs() != nil {
		return h.Fs()
	}
	return afero.NewOsFs()
}

// Path — путь файла; относительный путь считается от рабочего каталога.
func (d *Driver) Path() string {
	p := d.Options().Get("path", "traffic.json")
	if !filepath.IsAbs(p) {
		if h := d.Host(); h != nil {
			p = filepath.Join(h.WorkDir(), p)
		}
	}
	return p
}

func (d *Driver) Save(_ context.Context, data []models.TrafficData) error {
	if len(data) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, err := d.read()
	if err != nil {
		return err
	}
	all := append(existing, data...)
	if limit, _ := strconv.Atoi(d.Options().Get("max_records", "0")); limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return d.write(all)
}

func (d *Driver) Load(_ context.Context) ([]models.TrafficData, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out, err := d.read()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (d *Driver) read() ([]models.TrafficData, error) {
	b, err := afero.ReadFile(d.fs(), d.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", d.Path(), err)
	}
	if len(b) == 0 {
		return nil, nil
	}
	var out []models.TrafficData
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", d.Path(), err)
	}
	return out, nil
}

func (d *Driver) write(all []models.TrafficData) error {
	b, err := json.Marshal(all)
	if err != nil {
		return err
	}
	fsys, path := d.fs(), d.Path()
	if err := fsys.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(fsys, tmp, b, 0o640); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	return fsys.Rename(tmp, path)
}
