package events

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/callsheet/internal/models"
	"gorm.io/gorm"
)

// DBLog records each CommentEvent as a comment_logs row.
type DBLog struct {
	db *gorm.DB
}

// NewDBLog creates a DBLog. The schema must already be migrated.
func NewDBLog(db *gorm.DB) (*DBLog, error) {
	if db == nil {
		return nil, fmt.Errorf("events: db is required")
	}
	return &DBLog{db: db}, nil
}

// Publish implements Publisher.
func (l *DBLog) Publish(ctx context.Context, ev CommentEvent) error {
	row := models.CommentLog{
		EventID:    ev.ID,
		TargetID:   ev.TargetID,
		TargetName: ev.TargetName,
		OperatorID: ev.OperatorID,
		Source:     ev.Source,
		Length:     ev.Length,
		CreatedAt:  ev.At,
	}
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("events: log comment %s: %w", ev.ID, err)
	}
	return nil
}

// CountSince returns how many comments were logged at or after t.
func (l *DBLog) CountSince(ctx context.Context, t time.Time) (int64, error) {
	var n int64
	if err := l.db.WithContext(ctx).Model(&models.CommentLog{}).Where("created_at >= ?", t).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("events: count comments: %w", err)
	}
	return n, nil
}
