// Package wgconf — перевод модели в текстовый формат wg-quick и обратно.
package wgconf

import (
	"fmt"
	"strconv"
	"strings"

	"wgate/internal/models"
	"wgate/internal/network"
)

const keepalive = 25

// ===== helpers =====

func line(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s = %s\n", key, value)
}

func meta(b *strings.Builder, p *models.Peer) {
	if p.Name != "" {
		fmt.Fprintf(b, "# Name = %s\n", p.Name)
	}
	if p.Description != "" {
		fmt.Fprintf(b, "# Description = %s\n", p.Description)
	}
}

func join(cidrs []network.CIDR) string {
	parts := make([]string, len(cidrs))
	for i, c := range cidrs {
		parts[i] = c.String()
	}
	return strings.Join(parts, ", ")
}

// ===== interface =====

// GenerateInterface — файл интерфейса на шлюзе: [Interface] и по [Peer] на клиента.
// AllowedIPs пира — собственные /32 и /128 клиента.
func GenerateInterface(iface *models.Interface, clients []*models.Client) string {
	var b strings.Builder
	b.WriteString("[Interface]\n")
	meta(&b, &iface.Peer)
	line(&b, "PrivateKey", iface.PrivateKey)
	line(&b, "Address", join(iface.Addresses()))
	if iface.ListenPort > 0 {
		line(&b, "ListenPort", strconv.Itoa(iface.ListenPort))
	}
	if iface.MTU > 0 {
		line(&b, "MTU", strconv.Itoa(iface.MTU))
	}
	line(&b, "Table", iface.Table)
	for _, r := range iface.PreUp {
		line(&b, "PreUp", r)
	}
	for _, r := range iface.PreDown {
		line(&b, "PreDown", r)
	}
	for _, r := range iface.UpRules {
		line(&b, "PostUp", r)
	}
	for _, r := range iface.DownRules {
		line(&b, "PostDown", r)
	}

	for _, c := range clients {
		b.WriteString("\n[Peer]\n")
		meta(&b, &models.Peer{Name: c.Name})
		line(&b, "PublicKey", c.PublicKey)
		line(&b, "AllowedIPs", join(c.HostRoutes()))
	}
	return b.String()
}

// ===== client =====

// GenerateClient — файл для устройства клиента.
// В [Peer] пишется собственный публичный ключ клиента.
func GenerateClient(c *models.Client) string {
	var b strings.Builder
	b.WriteString("[Interface]\n")
	meta(&b, &c.Peer)
	line(&b, "PrivateKey", c.PrivateKey)
	line(&b, "Address", join(c.Addresses()))
	line(&b, "DNS", strings.Join(c.DNSList(), ", "))

	b.WriteString("\n[Peer]\n")
	line(&b, "PublicKey", c.PublicKey)
	line(&b, "AllowedIPs", join(c.AllowedIPs))
	line(&b, "Endpoint", c.Endpoint)
	if c.NAT {
		line(&b, "PersistentKeepalive", strconv.Itoa(keepalive))
	}
	return b.String()
}
