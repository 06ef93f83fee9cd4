package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/example/lesion-intake/internal/logging"
)

// RequestLog is one served HTTP request.
type RequestLog struct {
	ID         uint      `gorm:"primaryKey"`
	RequestID  string    `gorm:"column:request_id;size:64;index"`
	Method     string    `gorm:"column:method;size:16"`
	Path       string    `gorm:"column:path;size:512"`
	OwnerID    string    `gorm:"column:owner_id;size:128;index"`
	ClientIP   string    `gorm:"column:client_ip;size:64"`
	StatusCode int       `gorm:"column:status_code"`
	LatencyMs  int64     `gorm:"column:latency_ms"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (RequestLog) TableName() string {
	return "request_logs"
}

type RequestLogRepository struct {
	db *gorm.DB
}

func NewRequestLogRepository(db *gorm.DB) *RequestLogRepository {
	return &RequestLogRepository{db: db}
}

func (r *RequestLogRepository) SaveRequestLog(ctx context.Context, log *RequestLog) error {
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		return logging.NewOperationError("repository.save_request_log", log.RequestID, err)
	}
	return nil
}
