package model

import "time"

// WeighEvent is one committed weighing. The serial is unique across all
// variants; a commit against an existing serial either fails with a conflict
// or, with overwrite requested, replaces the mutable fields of this row.
type WeighEvent struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TS        time.Time `gorm:"column:ts;not null;index" json:"ts"`
	VariantID int64     `gorm:"not null;index" json:"variant_id"`
	Serial    string    `gorm:"uniqueIndex;size:64;not null" json:"serial"`
	Operator  string    `gorm:"size:64" json:"operator"`
	GrossG    float64   `gorm:"not null" json:"gross_g"`
	NetG      float64   `gorm:"not null" json:"net_g"`
	InRange   bool      `gorm:"not null" json:"in_range"`
	RawAvg    int64     `gorm:"not null" json:"raw_avg"`

	// Optional traceability metadata.
	Colour   string `gorm:"size:32" json:"colour,omitempty"`
	Contract string `gorm:"size:64" json:"contract,omitempty"`
	OrderNo  string `gorm:"size:64" json:"order_no,omitempty"`
	Serial2  string `gorm:"size:64" json:"serial2,omitempty"`
	Notes    string `gorm:"size:200" json:"notes,omitempty"`

	// Associations
	Variant Variant `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}
