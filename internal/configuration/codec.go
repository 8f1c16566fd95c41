package configuration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"wgate/internal/traffic"
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath — формат по расширению файла.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported configuration format %q", filepath.Ext(path))
	}
}

// Resolver возвращает зарегистрированный драйвер по имени.
type Resolver func(name string) (traffic.Driver, error)

// trafficDoc — представление TrafficModule в файле; драйвер хранится по имени.
type trafficDoc struct {
	Enabled         bool       `yaml:"enabled" json:"enabled"`
	PluginDirectory string     `yaml:"plugin_directory" json:"plugin_directory"`
	Driver          *driverRef `yaml:"driver,omitempty" json:"driver,omitempty"`
}

type driverRef struct {
	Name     string          `yaml:"name" json:"name"`
	Interval string          `yaml:"interval,omitempty" json:"interval,omitempty"`
	Options  traffic.Options `yaml:"options,omitempty" json:"options,omitempty"`
}

func (t *TrafficModule) doc() trafficDoc {
	d := trafficDoc{Enabled: t.Enabled, PluginDirectory: t.PluginDirectory}
	if t.Driver != nil {
		d.Driver = &driverRef{
			Name:     t.Driver.Name(),
			Interval: t.Driver.Interval().String(),
			Options:  t.Driver.Options(),
		}
	}
	return d
}

func (d trafficDoc) module(resolve Resolver) (*TrafficModule, error) {
	m := &TrafficModule{Enabled: d.Enabled, PluginDirectory: d.PluginDirectory}
	if d.Driver == nil || d.Driver.Name == "" {
		return m, nil
	}
	drv, err := resolve(d.Driver.Name)
	if err != nil {
		return nil, err
	}
	if d.Driver.Interval != "" {
		iv, err := time.ParseDuration(d.Driver.Interval)
		if err != nil {
			return nil, fmt.Errorf("driver %s: interval: %w", d.Driver.Name, err)
		}
		drv.SetInterval(iv)
	}
	drv.SetOptions(d.Driver.Options)
	m.Driver = drv
	return m, nil
}

func encodable(m Module) any {
	if t, ok := m.(*TrafficModule); ok {
		return t.doc()
	}
	return m
}

// Encode сериализует граф в заданный формат.
func Encode(cfg *Configuration, f Format) ([]byte, error) {
	switch f {
	case FormatYAML:
		return encodeYAML(cfg)
	case FormatJSON:
		return encodeJSON(cfg)
	default:
		return nil, fmt.Errorf("unsupported configuration format %q", f)
	}
}

// Decode — полный (второй) проход: модули и драйвер через resolve.
func Decode(data []byte, f Format, resolve Resolver) (*Configuration, error) {
	var (
		cfg *Configuration
		err error
	)
	switch f {
	case FormatYAML:
		cfg, err = decodeYAML(data, resolve)
	case FormatJSON:
		cfg, err = decodeJSON(data, resolve)
	default:
		return nil, fmt.Errorf("unsupported configuration format %q", f)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.WireGuard().check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PeekPluginDirectory — первый проход: только traffic.plugin_directory.
func PeekPluginDirectory(data []byte, f Format) (string, error) {
	var peek struct {
		PluginDirectory string `yaml:"plugin_directory" json:"plugin_directory"`
	}
	switch f {
	case FormatYAML:
		items, err := yamlModules(data)
		if err != nil {
			return "", err
		}
		for _, it := range items {
			if yamlKind(it) == KindTraffic {
				if err := yamlDecode(it, &peek); err != nil {
					return "", err
				}
				return peek.PluginDirectory, nil
			}
		}
	case FormatJSON:
		var doc jsonDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return "", err
		}
		for _, it := range doc.Modules {
			if it.Type == KindTraffic {
				if err := json.Unmarshal(it.Module, &peek); err != nil {
					return "", err
				}
				return peek.PluginDirectory, nil
			}
		}
	default:
		return "", fmt.Errorf("unsupported configuration format %q", f)
	}
	return "", nil
}

// ---- YAML: элементы modules помечены явными тегами !kind ----

func encodeYAML(cfg *Configuration) ([]byte, error) {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, m := range cfg.Modules {
		item := &yaml.Node{}
		if err := item.Encode(encodable(m)); err != nil {
			return nil, fmt.Errorf("encode module %s: %w", m.Kind(), err)
		}
		item.Tag = "!" + m.Kind()
		seq.Content = append(seq.Content, item)
	}
	root := &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
		{Kind: yaml.ScalarNode, Value: "modules"},
		seq,
	}}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func yamlModules(data []byte) ([]*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: configuration root must be a mapping", root.Line)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "modules" {
			continue
		}
		seq := root.Content[i+1]
		if seq.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("line %d: modules must be a sequence", seq.Line)
		}
		return seq.Content, nil
	}
	return nil, nil
}

func yamlKind(n *yaml.Node) string {
	if strings.HasPrefix(n.Tag, "!!") {
		return ""
	}
	return strings.TrimPrefix(n.Tag, "!")
}

// yamlDecode снимает пользовательский тег и декодирует как обычный mapping.
func yamlDecode(n *yaml.Node, v any) error {
	plain := *n
	plain.Tag = "!!map"
	return plain.Decode(v)
}

func decodeYAML(data []byte, resolve Resolver) (*Configuration, error) {
	items, err := yamlModules(data)
	if err != nil {
		return nil, err
	}
	cfg := New()
	for _, it := range items {
		kind := yamlKind(it)
		if kind == "" {
			return nil, fmt.Errorf("line %d: module without type tag", it.Line)
		}
		m, err := decodeModule(kind, func(v any) error { return yamlDecode(it, v) }, resolve)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", it.Line, err)
		}
		cfg.Modules = append(cfg.Modules, m)
	}
	return cfg, nil
}

// ---- JSON: элементы modules — обёртки {"type": kind, "module": {...}} ----

type jsonDoc struct {
	Modules []jsonModule `json:"modules"`
}

type jsonModule struct {
	Type   string          `json:"type"`
	Module json.RawMessage `json:"module"`
}

func encodeJSON(cfg *Configuration) ([]byte, error) {
	doc := jsonDoc{Modules: make([]jsonModule, 0, len(cfg.Modules))}
	for _, m := range cfg.Modules {
		raw, err := json.Marshal(encodable(m))
		if err != nil {
			return nil, fmt.Errorf("encode module %s: %w", m.Kind(), err)
		}
		doc.Modules = append(doc.Modules, jsonModule{Type: m.Kind(), Module: raw})
	}
	return json.MarshalIndent(doc, "", "  ")
}

func decodeJSON(data []byte, resolve Resolver) (*Configuration, error) {
	var doc jsonDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	cfg := New()
	for n, it := range doc.Modules {
		if it.Type == "" {
			return nil, fmt.Errorf("modules[%d]: missing type", n)
		}
		m, err := decodeModule(it.Type, func(v any) error { return json.Unmarshal(it.Module, v) }, resolve)
		if err != nil {
			return nil, fmt.Errorf("modules[%d]: %w", n, err)
		}
		cfg.Modules = append(cfg.Modules, m)
	}
	return cfg, nil
}

func decodeModule(kind string, decode func(v any) error, resolve Resolver) (Module, error) {
	if kind == KindTraffic {
		var d trafficDoc
		if err := decode(&d); err != nil {
			return nil, err
		}
		return d.module(resolve)
	}
	m, err := newModule(kind)
	if err != nil {
		return nil, err
	}
	if err := decode(m); err != nil {
		return nil, err
	}
	return m, nil
}
