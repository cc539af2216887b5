package models

import "time"

// DataPlan is a priced data bundle sold through the VTU provider.
type DataPlan struct {
	ID           uint   `gorm:"primarykey"`
	Code         string `gorm:"uniqueIndex;size:64;not null"`
	Network      string `gorm:"size:20;not null;index"`
	Name         string `gorm:"not null"`
	PriceMinor   int64  `gorm:"not null"`
	ValidityDays int
	Active       bool `gorm:"default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
