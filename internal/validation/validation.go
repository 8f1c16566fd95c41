// Package validation проверяет интерфейсы и клиентов относительно текущей
// конфигурации. Все нарушения собираются, проверка не прерывается на первом.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"wgate/internal/configuration"
	"wgate/internal/models"
	"wgate/internal/network"
)

const msgInUse = "already in use"

var ifnameRegex = regexp.MustCompile(`^[a-z][a-z\-_0-9]+$`)

var validate = validator.New()

func init() {
	validate.RegisterValidation("ifname", func(fl validator.FieldLevel) bool {
		return ifnameRegex.MatchString(fl.Field().String())
	})
}

// Violation — одно нарушение правила.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v Violation) String() string { return v.Field + ": " + v.Message }

// ValidationError — непустой список нарушений.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Check возвращает ValidationError для непустого списка.
func Check(vs []Violation) error {
	if len(vs) == 0 {
		return nil
	}
	return &ValidationError{Violations: vs}
}

// Has — есть ли нарушение поля с таким сообщением.
func Has(err error, field, message string) bool {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return false
	}
	for _, v := range ve.Violations {
		if v.Field == field && v.Message == message {
			return true
		}
	}
	return false
}

// fieldRule — одно правило validator/v10 для одного поля. Правила поля
// проверяются независимо друг от друга; omitempty отключает правило
// для пустого значения, о котором уже сообщает required.
type fieldRule struct {
	field, tag, message string
}

var interfaceRules = []fieldRule{
	{"Name", "required", "must not be empty"},
	{"Name", "omitempty,min=2,max=15", "length must be between 2 and 15"},
	{"Name", "omitempty,ifname", "must match " + ifnameRegex.String()},
	{"ListenPort", "required", "must not be zero"},
	{"ListenPort", "omitempty,min=1,max=65535", "must be between 1 and 65535"},
}

var clientRules = []fieldRule{
	{"Name", "required", "must not be empty"},
	{"Endpoint", "required", "must not be empty"},
	{"AllowedIPs", "min=1", "must not be empty"},
}

func fieldRules(values map[string]any, rules []fieldRule) []Violation {
	var out []Violation
	for _, r := range rules {
		if err := validate.Var(values[r.field], r.tag); err != nil {
			out = append(out, Violation{Field: r.field, Message: r.message})
		}
	}
	return out
}

// Engine — набор правил. Adapters нужен для проверки шлюза.
type Engine struct {
	Adapters network.AdapterSource
}

func New(adapters network.AdapterSource) *Engine { return &Engine{Adapters: adapters} }

// ValidateInterface — правила интерфейса; сам iface исключается из проверок уникальности по ID.
func (e *Engine) ValidateInterface(cfg *configuration.Configuration, iface *models.Interface) []Violation {
	out := fieldRules(map[string]any{"Name": iface.Name, "ListenPort": iface.ListenPort}, interfaceRules)

	for _, other := range cfg.WireGuard().Interfaces {
		if other.ID == iface.ID {
			continue
		}
		if iface.Name != "" && other.Name == iface.Name {
			out = append(out, Violation{Field: "Name", Message: msgInUse})
		}
		if iface.ListenPort != 0 && other.ListenPort == iface.ListenPort {
			out = append(out, Violation{Field: "ListenPort", Message: msgInUse})
		}
	}

	if iface.IPv4 == nil && iface.IPv6 == nil {
		out = append(out, Violation{Field: "Address", Message: "IPv4 or IPv6 address is required"})
	}
	return append(out, e.gateway(iface.Gateway)...)
}

func (e *Engine) gateway(name string) []Violation {
	if name == "" {
		return []Violation{{Field: "Gateway", Message: "must not be empty"}}
	}
	if e.Adapters == nil {
		return []Violation{{Field: "Gateway", Message: "network adapters are unknown"}}
	}
	adapters, err := e.Adapters.Adapters()
	if err != nil {
		return []Violation{{Field: "Gateway", Message: fmt.Sprintf("cannot enumerate network adapters: %v", err)}}
	}
	for _, a := range adapters {
		if a.Name == name {
			return nil
		}
	}
	return []Violation{{Field: "Gateway", Message: fmt.Sprintf("unknown network adapter %q", name)}}
}

// ValidateClient — правила клиента. Имя уникально среди клиентов всех
// интерфейсов; сам клиент исключается по публичному ключу.
func (e *Engine) ValidateClient(cfg *configuration.Configuration, c *models.Client) []Violation {
	out := fieldRules(map[string]any{"Name": c.Name, "Endpoint": c.Endpoint, "AllowedIPs": c.AllowedIPs}, clientRules)

	if c.Name != "" {
		for _, other := range cfg.WireGuard().Clients {
			if other.PublicKey == c.PublicKey {
				continue
			}
			if other.Name == c.Name {
				out = append(out, Violation{Field: "Name", Message: msgInUse})
				break
			}
		}
	}
	if c.IPv4 == nil && c.IPv6 == nil {
		out = append(out, Violation{Field: "Address", Message: "IPv4 or IPv6 address is required"})
	}
	return out
}
