package apperr

import (
	"fmt"
	"strings"
)

// Подсказки для SystemCommandError.
const (
	HintCheckSettings = "verify WireGuard settings are correct"
	HintSuperUser     = "ensure the user can run as super-user"
)

// ParseError — ошибка разбора (CIDR, wg-конфиг, dump). Никогда не глотается.
type ParseError struct {
	Line  int // 0 — без номера строки
	Input string
	Msg   string
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString("parse error")
	if e.Line > 0 {
		fmt.Fprintf(&b, ": line %d", e.Line)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if e.Input != "" {
		fmt.Fprintf(&b, " (%q)", e.Input)
	}
	return b.String()
}

func NewParseError(line int, input, format string, args ...any) *ParseError {
	return &ParseError{Line: line, Input: input, Msg: fmt.Sprintf(format, args...)}
}

// SystemCommandError оборачивает неуспешную внешнюю команду.
type SystemCommandError struct {
	Command string
	Stdout  string
	Stderr  string
	Hints   []string
	Err     error
}

func (e *SystemCommandError) Error() string {
	msg := fmt.Sprintf("command %q failed", e.Command)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Hints) > 0 {
		msg += " (" + strings.Join(e.Hints, "; ") + ")"
	}
	return msg
}

func (e *SystemCommandError) Unwrap() error { return e.Err }

// ConfigurationLoadError — файл конфигурации отсутствует или повреждён.
type ConfigurationLoadError struct {
	Path string
	Err  error
}

func (e *ConfigurationLoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("configuration load: %v", e.Err)
	}
	return fmt.Sprintf("configuration load %s: %v", e.Path, e.Err)
}

func (e *ConfigurationLoadError) Unwrap() error { return e.Err }

// PluginLoadError — один модуль плагина не загрузился; сканирование продолжается.
type PluginLoadError struct {
	Path string
	Err  error
}

func (e *PluginLoadError) Error() string {
	return fmt.Sprintf("plugin %s: %v", e.Path, e.Err)
}

func (e *PluginLoadError) Unwrap() error { return e.Err }

// PluginResolutionError — драйвер с таким именем не зарегистрирован.
type PluginResolutionError struct {
	Name string
}

func (e *PluginResolutionError) Error() string {
	return fmt.Sprintf("plugin %q is not loaded", e.Name)
}
