package models

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEntry is a journal or invoice line eligible for matching. It is owned
// by the accounting store and read-only to reconciliation.
type LedgerEntry struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	AccountIdentifier string    `gorm:"index" json:"account_identifier"`
	AmountMinor       int64     `gorm:"index" json:"amount_minor"`
	PostingDate       time.Time `gorm:"index" json:"posting_date"`
	Reference         string    `gorm:"index" json:"reference"`
	Description       string    `json:"description"`
	CreatedAt         time.Time `json:"created_at"`
}
