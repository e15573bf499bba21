package model

import "time"

// Calibration is one persisted calibration state. A new row is appended on
// every tare or calibrate-with-known so the history stays auditable; the
// newest row is authoritative at startup.
type Calibration struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	CreatedAt   time.Time `gorm:"not null"`
	ZeroOffset  int64     `gorm:"not null"` // raw counts
	ScaleFactor float64   `gorm:"not null"` // counts per gram, > 0
	Notes       string    `gorm:"size:200"`
}
