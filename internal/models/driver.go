package models

import "time"

// Driver is a candidate record in the sql-backed record store.
type Driver struct {
	ID        string          `gorm:"primaryKey;size:64"`
	Name      string          `gorm:"size:256;not null;index"`
	Status    string          `gorm:"size:64"`
	About     string          `gorm:"type:text"`
	Number    string          `gorm:"size:64"`
	Date      string          `gorm:"size:32"`
	Notes     string          `gorm:"type:text"`
	Trailer   bool            `gorm:"default:false"`
	Comments  []DriverComment `gorm:"foreignKey:DriverID"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DriverComment is an operator comment appended to a Driver.
type DriverComment struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	DriverID  string    `gorm:"size:64;not null;index"`
	Body      string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}
