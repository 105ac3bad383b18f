package models

import "time"

// CommentLog records one successful comment commit for operator stats,
// independent of which record store received the comment.
type CommentLog struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	EventID    string `gorm:"size:36;uniqueIndex"`
	TargetID   string `gorm:"size:64;index"`
	TargetName string `gorm:"size:256"`
	OperatorID string `gorm:"size:64;index"`
	Source     string `gorm:"size:8"`
	Length     int
	CreatedAt  time.Time `gorm:"index"`
}
