// Package sqlstore implements store.RecordStore on the drivers and
// driver_comments tables through GORM.
package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/callsheet/internal/models"
	"github.com/zulandar/callsheet/internal/store"
	"gorm.io/gorm"
)

// Store is a GORM-backed store.RecordStore.
type Store struct {
	db *gorm.DB
}

// New creates a Store. The schema must already be migrated.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: db is required")
	}
	return &Store{db: db}, nil
}

var _ store.RecordStore = (*Store)(nil)

// ListTargets returns every driver sorted by name.
func (s *Store) ListTargets(ctx context.Context) ([]store.Target, error) {
	var drivers []models.Driver
	if err := s.db.WithContext(ctx).Select("id", "name").Order("name ASC").Find(&drivers).Error; err != nil {
		return nil, fmt.Errorf("sqlstore: list targets: %w", err)
	}
	targets := make([]store.Target, 0, len(drivers))
	for _, d := range drivers {
		name := d.Name
		if name == "" {
			name = store.UntitledName
		}
		targets = append(targets, store.Target{ID: d.ID, Name: name})
	}
	return targets, nil
}

// GetTarget returns nil, nil for an unknown id.
func (s *Store) GetTarget(ctx context.Context, id string) (*store.TargetDetail, error) {
	var d models.Driver
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get target %s: %w", id, err)
	}
	name := d.Name
	if name == "" {
		name = store.UntitledName
	}
	return &store.TargetDetail{
		ID:      d.ID,
		Name:    name,
		Status:  d.Status,
		About:   d.About,
		Number:  d.Number,
		Date:    d.Date,
		Notes:   d.Notes,
		Trailer: d.Trailer,
	}, nil
}

// ListComments returns the driver's comments, oldest first.
func (s *Store) ListComments(ctx context.Context, id string) ([]store.Comment, error) {
	var rows []models.DriverComment
	if err := s.db.WithContext(ctx).Where("driver_id = ?", id).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlstore: list comments %s: %w", id, err)
	}
	comments := make([]store.Comment, 0, len(rows))
	for _, r := range rows {
		comments = append(comments, store.Comment{CreatedAt: r.CreatedAt, Text: r.Body})
	}
	return comments, nil
}

// AppendComment inserts a comment. It fails if the driver does not exist.
func (s *Store) AppendComment(ctx context.Context, id, text string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Driver{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("sqlstore: append comment %s: %w", id, err)
		}
		if count == 0 {
			return fmt.Errorf("sqlstore: append comment: driver %s not found", id)
		}
		if err := tx.Create(&models.DriverComment{DriverID: id, Body: text}).Error; err != nil {
			return fmt.Errorf("sqlstore: append comment %s: %w", id, err)
		}
		return nil
	})
}
