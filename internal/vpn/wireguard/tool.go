package wireguard

import (
	"context"
	"fmt"
	"strings"

	"wgate/internal/apperr"
	"wgate/internal/shell"
)

// Tool — шаблонные вызовы wg / wg-quick через Command Gateway.
type Tool struct {
	Gateway    shell.Gateway
	WgBin      string
	WgQuickBin string
}

func NewTool(gw shell.Gateway, wgBin, wgQuickBin string) *Tool {
	return &Tool{Gateway: gw, WgBin: orDefault(wgBin, "wg"), WgQuickBin: orDefault(wgQuickBin, "wg-quick")}
}

func (t *Tool) run(ctx context.Context, command string, hints ...string) (string, error) {
	return shell.Require(t.Gateway.Run(ctx, command), command, hints...)
}

// GenKey — sudo <wg> genkey.
func (t *Tool) GenKey(ctx context.Context) (string, error) {
	return t.run(ctx, fmt.Sprintf("sudo %s genkey", shell.Quote(t.WgBin)), apperr.HintSuperUser)
}

// PubKey — echo <key> | sudo <wg> pubkey.
func (t *Tool) PubKey(ctx context.Context, priv string) (string, error) {
	return t.run(ctx, fmt.Sprintf("echo %s | sudo %s pubkey", shell.Quote(priv), shell.Quote(t.WgBin)), apperr.HintSuperUser)
}

// KeyPair генерирует пару ключей и проверяет формат обоих.
func (t *Tool) KeyPair(ctx context.Context) (priv, pub string, err error) {
	if priv, err = t.GenKey(ctx); err != nil {
		return "", "", err
	}
	if err = CheckKey(priv); err != nil {
		return "", "", err
	}
	if pub, err = t.PubKey(ctx, priv); err != nil {
		return "", "", err
	}
	if err = CheckKey(pub); err != nil {
		return "", "", err
	}
	return priv, pub, nil
}

// Up — sudo <wg-quick> up <iface|path>.
func (t *Tool) Up(ctx context.Context, target string) error {
	_, err := t.run(ctx, fmt.Sprintf("sudo %s up %s", shell.Quote(t.WgQuickBin), shell.Quote(target)),
		apperr.HintCheckSettings, apperr.HintSuperUser)
	return err
}

// Down — sudo <wg-quick> down <iface|path>.
func (t *Tool) Down(ctx context.Context, target string) error {
	_, err := t.run(ctx, fmt.Sprintf("sudo %s down %s", shell.Quote(t.WgQuickBin), shell.Quote(target)),
		apperr.HintCheckSettings, apperr.HintSuperUser)
	return err
}

// Dump — <wg> show <iface> dump.
func (t *Tool) Dump(ctx context.Context, iface string) (string, error) {
	res := t.Gateway.Run(ctx, fmt.Sprintf("%s show %s dump", shell.Quote(t.WgBin), shell.Quote(iface)))
	if !res.Success {
		_, err := shell.Require(res, fmt.Sprintf("%s show %s dump", t.WgBin, iface), apperr.HintCheckSettings)
		return "", err
	}
	return res.Stdout, nil
}

// Which ищет бинарь через `which`; при неудаче возвращает имя как есть.
func Which(ctx context.Context, gw shell.Gateway, bin string) string {
	res := gw.Run(ctx, "which "+shell.Quote(bin))
	if p := strings.TrimSpace(res.Stdout); res.Success && p != "" {
		return p
	}
	return bin
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
