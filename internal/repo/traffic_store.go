package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"wgate/internal/models"
)

type TrafficStore struct{ db *gorm.DB }

func NewTrafficStore(db *gorm.DB) *TrafficStore { return &TrafficStore{db: db} }

func (s *TrafficStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&models.TrafficRecord{})
}

// Append пишет пачку записей одной вставкой.
func (s *TrafficStore) Append(ctx context.Context, recs []models.TrafficRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&recs).Error
}

// List — записи по возрастанию времени; limit<=0 — без ограничения.
func (s *TrafficStore) List(ctx context.Context, limit int) ([]models.TrafficRecord, error) {
	var rows []models.TrafficRecord
	q := s.db.WithContext(ctx).Order("timestamp asc, id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Prune удаляет записи старше before.
func (s *TrafficStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("timestamp < ?", before).Delete(&models.TrafficRecord{})
	return res.RowsAffected, res.Error
}

func (s *TrafficStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
