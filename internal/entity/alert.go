package entity

import (
	"time"
)

// Alert 已触发的警报记录
type Alert struct {
	Id        int64  `gorm:"primaryKey;autoIncrement"`
	Provider  string `gorm:"index"`
	Symbol    string `gorm:"index"`
	Message   string
	AlertType string `gorm:"index"` // price / bullish / bearish / ma_deviation / fast_move
	Timeframe string
	Period    int
	FiredAt   time.Time `gorm:"index"`
	CreatedAt time.Time
}
