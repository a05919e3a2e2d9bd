package models

import (
	"time"

	"gorm.io/datatypes"
)

// DistributionJob persists a batch payment run. State holds the JSON snapshot
// of the processor's job (batches, items, errors).
type DistributionJob struct {
	ID              string         `gorm:"primaryKey" json:"id"`
	BatchSize       int            `json:"batch_size"`
	TotalRecipients int            `json:"total_recipients"`
	TotalBatches    int            `json:"total_batches"`
	Status          string         `gorm:"index" json:"status"`
	CurrentBatch    int            `json:"current_batch"`
	FailedItems     int            `json:"failed_items"`
	State           datatypes.JSON `json:"-"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
