package repo

import (
	"context"
	"time"

	"github.com/KNICEX/crypto-monitor/internal/entity"
	"gorm.io/gorm"
)

type AlertQuery struct {
	AlertType string
	Start     time.Time
	End       time.Time
	Limit     int
}

type AlertRepo interface {
	Create(ctx context.Context, alert entity.Alert) (int64, error)
	Find(ctx context.Context, query AlertQuery) ([]entity.Alert, error)
}

type alertRepo struct {
	db *gorm.DB
}

func NewAlertRepo(db *gorm.DB) AlertRepo {
	return &alertRepo{
		db: db,
	}
}

func (r *alertRepo) Create(ctx context.Context, alert entity.Alert) (int64, error) {
	err := r.db.WithContext(ctx).Create(&alert).Error
	if err != nil {
		return 0, err
	}
	return alert.Id, nil
}

func (r *alertRepo) Find(ctx context.Context, query AlertQuery) ([]entity.Alert, error) {
	tx := r.db.WithContext(ctx).Model(&entity.Alert{})
	if query.AlertType != "" {
		tx = tx.Where("alert_type = ?", query.AlertType)
	}
	if !query.Start.IsZero() {
		tx = tx.Where("fired_at >= ?", query.Start)
	}
	if !query.End.IsZero() {
		tx = tx.Where("fired_at <= ?", query.End)
	}
	if query.Limit > 0 {
		tx = tx.Limit(query.Limit)
	}

	var alerts []entity.Alert
	err := tx.Order("fired_at desc").Find(&alerts).Error
	if err != nil {
		return nil, err
	}
	return alerts, nil
}
