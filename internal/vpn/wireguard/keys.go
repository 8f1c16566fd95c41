package wireguard

import (
	"fmt"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// CheckKey проверяет, что строка — корректный base64-ключ Curve25519.
func CheckKey(s string) error {
	if _, err := wgtypes.ParseKey(s); err != nil {
		return fmt.Errorf("invalid wireguard key: %w", err)
	}
	return nil
}

// PublicFromPrivate вычисляет публичный ключ локально, без вызова wg.
func PublicFromPrivate(priv string) (string, error) {
	k, err := wgtypes.ParseKey(priv)
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}
	return k.PublicKey().String(), nil
}
