package network

import (
	"math/big"
	"net/netip"
	"strings"

	"wgate/internal/apperr"
)

// Верхние границы префикса. Для IPv6 это ограничение приложения, не протокола.
const (
	MaxPrefix4 = 32
	MaxPrefix6 = 64
)

// CIDR — неизменяемая пара адрес/префикс, например 10.0.0.1/24.
// Адрес хранится как есть (без маски); сравнение по (адрес, префикс).
type CIDR struct {
	p netip.Prefix
}

// ParseCIDR разбирает адрес пира "ip/prefix" с потолком MaxPrefix4/MaxPrefix6.
func ParseCIDR(s string) (CIDR, error) {
	c, err := ParseRoute(s)
	if err != nil {
		return CIDR{}, err
	}
	if !c.WithinCeiling() {
		return CIDR{}, apperr.NewParseError(0, c.String(), "malformed CIDR")
	}
	return c, nil
}

// ParseRoute разбирает элемент AllowedIPs: то же, что ParseCIDR,
// но host-маршрут (/32, /128) допустим всегда.
func ParseRoute(s string) (CIDR, error) {
	s = strings.TrimSpace(s)
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return CIDR{}, apperr.NewParseError(0, s, "malformed CIDR")
	}
	c := CIDR{p: p}
	if !c.WithinCeiling() && !c.IsHostRoute() {
		return CIDR{}, apperr.NewParseError(0, s, "malformed CIDR")
	}
	return c, nil
}

// MustParseCIDR — для констант и тестов. Принимает и host-маршруты.
func MustParseCIDR(s string) CIDR {
	c, err := ParseRoute(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c CIDR) Addr() netip.Addr     { return c.p.Addr() }
func (c CIDR) Bits() int            { return c.p.Bits() }
func (c CIDR) Is4() bool            { return c.p.Addr().Is4() }
func (c CIDR) Is6() bool            { return c.p.Addr().Is6() }
func (c CIDR) IsValid() bool        { return c.p.IsValid() }
func (c CIDR) Masked() netip.Prefix { return c.p.Masked() }

func (c CIDR) String() string {
	if !c.p.IsValid() {
		return ""
	}
	return c.p.String()
}

func (c CIDR) Equal(o CIDR) bool { return c.p == o.p }

// IsHostRoute — префикс покрывает ровно один адрес.
func (c CIDR) IsHostRoute() bool { return c.IsValid() && c.Bits() == c.Addr().BitLen() }

// WithinCeiling — префикс не длиннее потолка своего семейства.
func (c CIDR) WithinCeiling() bool {
	if c.Is4() {
		return c.Bits() <= MaxPrefix4
	}
	return c.Bits() <= MaxPrefix6
}

// Contains — сеть c целиком содержит сеть o.
func (c CIDR) Contains(o CIDR) bool {
	if !c.IsValid() || !o.IsValid() || c.Is4() != o.Is4() {
		return false
	}
	return c.Bits() <= o.Bits() && c.Masked().Contains(o.Addr())
}

// Overlaps — сети совпадают или одна вложена в другую.
func (c CIDR) Overlaps(o CIDR) bool {
	return c.Contains(o) || o.Contains(c)
}

// HostRoute — маршрут только на собственный адрес (/32 или /128).
func (c CIDR) HostRoute() CIDR {
	return CIDR{p: netip.PrefixFrom(c.Addr(), c.Addr().BitLen())}
}

// WithBits — тот же адрес с другим префиксом того же семейства.
func (c CIDR) WithBits(bits int) CIDR {
	return CIDR{p: netip.PrefixFrom(c.Addr(), bits)}
}

// Host возвращает n-й адрес сети c с тем же префиксом.
// ok=false, если n выходит за пределы сети.
func (c CIDR) Host(n uint64) (CIDR, bool) {
	base := c.Masked().Addr()
	size := new(big.Int).Lsh(big.NewInt(1), uint(base.BitLen()-c.Bits()))
	off := new(big.Int).SetUint64(n)
	if off.Cmp(size) >= 0 {
		return CIDR{}, false
	}
	v := new(big.Int).SetBytes(base.AsSlice())
	v.Add(v, off)
	buf := make([]byte, base.BitLen()/8)
	v.FillBytes(buf)
	addr, _ := netip.AddrFromSlice(buf)
	return CIDR{p: netip.PrefixFrom(addr, c.Bits())}, true
}

// Size — число адресов в сети (для IPv6 /64 это 2^64, поэтому big.Int).
func (c CIDR) Size() *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), uint(c.Addr().BitLen()-c.Bits()))
}

func (c CIDR) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText принимает и host-маршруты: так CIDR хранится в allowed_ips.
// Потолок адресов пиров проверяет Peer.CheckFamilies.
func (c *CIDR) UnmarshalText(b []byte) error {
	v, err := ParseRoute(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Ptr — удобство для опциональных полей.
func (c CIDR) Ptr() *CIDR { return &c }
