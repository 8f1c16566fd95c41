// Package shelltest — поддельный Command Gateway для тестов.
package shelltest

import (
	"context"
	"strings"
	"sync"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgate/internal/shell"
)

// Handler отвечает на команду; ok=false — команда не обработана.
type Handler func(command string) (shell.Result, bool)

// Fake записывает вызовы и отвечает первым подходящим обработчиком.
// Необработанные команды завершаются неуспешно.
type Fake struct {
	mu       sync.Mutex
	Calls    []string
	handlers []Handler
}

func New(handlers ...Handler) *Fake { return &Fake{handlers: handlers} }

func (f *Fake) Handle(h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
}

func (f *Fake) Run(_ context.Context, command string) shell.Result {
	f.mu.Lock()
	f.Calls = append(f.Calls, command)
	hs := append([]Handler(nil), f.handlers...)
	f.mu.Unlock()
	for i := len(hs) - 1; i >= 0; i-- {
		if res, ok := hs[i](command); ok {
			return res
		}
	}
	return shell.Result{Stderr: "unexpected command: " + command}
}

// Called — была ли команда, содержащая substr.
func (f *Fake) Called(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Calls {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

// Contains отвечает out на любую команду, содержащую substr.
func Contains(substr string, res shell.Result) Handler {
	return func(command string) (shell.Result, bool) {
		if strings.Contains(command, substr) {
			return res, true
		}
		return shell.Result{}, false
	}
}

// OK — успешный результат с выводом.
func OK(stdout string) shell.Result { return shell.Result{Stdout: stdout, Success: true} }

// Fail — неуспешный результат.
func Fail(stderr string) shell.Result { return shell.Result{Stderr: stderr} }

// WireGuard эмулирует genkey/pubkey/wg-quick/which с настоящими ключами wgtypes.
func WireGuard() *Fake {
	return New(
		Contains("which ", OK("")),
		Contains("wg-quick", OK("")),
		func(command string) (shell.Result, bool) {
			if !strings.HasSuffix(command, " genkey") {
				return shell.Result{}, false
			}
			k, err := wgtypes.GeneratePrivateKey()
			if err != nil {
				return Fail(err.Error()), true
			}
			return OK(k.String() + "\n"), true
		},
		func(command string) (shell.Result, bool) {
			if !strings.HasSuffix(command, " pubkey") {
				return shell.Result{}, false
			}
			// echo <key> | sudo wg pubkey
			fields := strings.Fields(command)
			if len(fields) < 2 {
				return Fail("bad pubkey command"), true
			}
			k, err := wgtypes.ParseKey(strings.Trim(fields[1], "'"))
			if err != nil {
				return Fail(err.Error()), true
			}
			return OK(k.PublicKey().String() + "\n"), true
		},
	)
}
