package model

import "time"

// Variant represents a part variant with its acceptance range in grams.
// Variant administration lives outside this service; the core only reads
// these rows.
type Variant struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:64;not null" json:"name"`
	MinG      float64   `gorm:"not null" json:"min_g"`
	MaxG      float64   `gorm:"not null" json:"max_g"`
	Unit      string    `gorm:"size:8;not null;default:g" json:"unit"`
	Enabled   bool      `gorm:"not null;default:true" json:"enabled"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}
