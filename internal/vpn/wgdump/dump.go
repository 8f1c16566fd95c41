// Package wgdump разбирает вывод `wg show <iface> dump`.
package wgdump

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"wgate/internal/apperr"
	"wgate/internal/models"
)

// Колонки строки пира в полной форме (с именем устройства):
// device, public-key, preshared-key, endpoint, allowed-ips,
// latest-handshake, transfer-rx, transfer-tx, persistent-keepalive.
const (
	colPublicKey = 1
	colMarker    = 2
	colHandshake = 5
	colReceived  = 6
	colSent      = 7
)

const none = "(none)"

var ErrPeerNotFound = errors.New("peer not found in dump")

// rows нормализует пробелы и приводит строки к форме с колонкой устройства:
// `wg show <iface> dump` печатает её только для `all`.
func rows(dump, device string) [][]string {
	var out [][]string
	for _, ln := range strings.Split(dump, "\n") {
		f := strings.Fields(ln)
		switch len(f) {
		case 0:
			continue
		case 4, 8:
			f = append([]string{device}, f...)
		}
		out = append(out, f)
	}
	return out
}

func counter(f []string, col int) uint64 {
	if col >= len(f) {
		return 0
	}
	n, err := strconv.ParseUint(f[col], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Parse возвращает счётчики клиентов интерфейса и агрегированную запись
// интерфейса (сумма по найденным клиентам) последней.
func Parse(dump string, iface *models.Interface, clients []*models.Client, now time.Time) []models.TrafficData {
	byKey := make(map[string]*models.Client, len(clients))
	for _, c := range clients {
		if c.PublicKey != "" {
			byKey[c.PublicKey] = c
		}
	}

	var (
		out    []models.TrafficData
		rx, tx uint64
	)
	for _, f := range rows(dump, iface.Name) {
		if len(f) <= colMarker || f[colMarker] != none {
			continue
		}
		c, ok := byKey[f[colPublicKey]]
		if !ok {
			continue
		}
		td := models.TrafficData{
			PeerID:    c.ID,
			PublicKey: c.PublicKey,
			Kind:      models.PeerKindClient,
			Received:  counter(f, colReceived),
			Sent:      counter(f, colSent),
			Timestamp: now,
		}
		rx += td.Received
		tx += td.Sent
		out = append(out, td)
	}
	return append(out, models.TrafficData{
		PeerID:    iface.ID,
		PublicKey: iface.PublicKey,
		Kind:      models.PeerKindInterface,
		Received:  rx,
		Sent:      tx,
		Timestamp: now,
	})
}

// LastHandshake — время последнего рукопожатия клиента; ноль, если его не было.
func LastHandshake(dump string, c *models.Client) (time.Time, error) {
	if c.PublicKey == "" {
		return time.Time{}, ErrPeerNotFound
	}
	for _, f := range rows(dump, "") {
		if len(f) <= colPublicKey || f[colPublicKey] != c.PublicKey {
			continue
		}
		if len(f) <= colHandshake {
			return time.Time{}, apperr.NewParseError(0, strings.Join(f, " "), "truncated dump row")
		}
		sec, err := strconv.ParseInt(f[colHandshake], 10, 64)
		if err != nil {
			return time.Time{}, apperr.NewParseError(0, f[colHandshake], "malformed handshake time")
		}
		if sec == 0 {
			return time.Time{}, nil
		}
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, ErrPeerNotFound
}
