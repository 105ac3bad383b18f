package db

import (
	"fmt"

	"github.com/zulandar/callsheet/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model managed by callsheet.
func AllModels() []interface{} {
	return []interface{}{
		&models.Driver{},
		&models.DriverComment{},
		&models.CommentLog{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedDrivers upserts Driver rows keyed by ID. Comments on the seeded
// drivers are left untouched.
func SeedDrivers(db *gorm.DB, drivers []models.Driver) (int, error) {
	n := 0
	for _, d := range drivers {
		if d.ID == "" || d.Name == "" {
			return n, fmt.Errorf("db: seed driver #%d: id and name are required", n+1)
		}
		d.Comments = nil
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "status", "about", "number", "date", "notes", "trailer", "updated_at"}),
		}).Create(&d)
		if result.Error != nil {
			return n, fmt.Errorf("db: seed driver %q: %w", d.ID, result.Error)
		}
		n++
	}
	return n, nil
}
