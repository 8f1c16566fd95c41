package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type PeerKind string

const (
	PeerKindInterface PeerKind = "interface"
	PeerKindClient    PeerKind = "client"
)

// TrafficData — снимок счётчиков пира. Ссылка на пир слабая (ID и ключ), без владения.
type TrafficData struct {
	PeerID    uuid.UUID `json:"peer_id" yaml:"peer_id"`
	PublicKey string    `json:"public_key,omitempty" yaml:"public_key,omitempty"`
	Kind      PeerKind  `json:"kind" yaml:"kind"`
	Received  uint64    `json:"received" yaml:"received"`
	Sent      uint64    `json:"sent" yaml:"sent"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// TrafficRecord — строка таблицы для драйвера хранения "database".
type TrafficRecord struct {
	ID        uint      `gorm:"primaryKey"`
	PeerID    string    `gorm:"index;size:36;not null"`
	PublicKey string    `gorm:"size:64"`
	Kind      string    `gorm:"size:16"`
	Received  uint64    `gorm:"not null"`
	Sent      uint64    `gorm:"not null"`
	Timestamp time.Time `gorm:"index"`
	// Meta — произвольные метки (например, имя интерфейса на момент снятия).
	Meta      datatypes.JSONMap
	CreatedAt time.Time
}

func (r TrafficRecord) Data() TrafficData {
	id, _ := uuid.Parse(r.PeerID)
	return TrafficData{
		PeerID:    id,
		PublicKey: r.PublicKey,
		Kind:      PeerKind(r.Kind),
		Received:  r.Received,
		Sent:      r.Sent,
		Timestamp: r.Timestamp,
	}
}

func NewTrafficRecord(d TrafficData, meta map[string]any) TrafficRecord {
	return TrafficRecord{
		PeerID:    d.PeerID.String(),
		PublicKey: d.PublicKey,
		Kind:      string(d.Kind),
		Received:  d.Received,
		Sent:      d.Sent,
		Timestamp: d.Timestamp,
		Meta:      datatypes.JSONMap(meta),
	}
}
