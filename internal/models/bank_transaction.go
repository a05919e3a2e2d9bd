package models

import (
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Sign returns +1 for credits and -1 for debits.
func (d Direction) Sign() int64 {
	if d == DirectionDebit {
		return -1
	}
	return 1
}

func (d Direction) Valid() bool {
	return d == DirectionCredit || d == DirectionDebit
}

type BankTransaction struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID         uuid.UUID `gorm:"type:uuid;index" json:"session_id"`
	LineNumber        int       `json:"line_number"`
	AccountIdentifier string    `json:"account_identifier"`
	ValueDate         time.Time `gorm:"column:value_date" json:"value_date"`
	AmountMinor       int64     `gorm:"index" json:"amount_minor"`
	Direction         Direction `json:"direction"`
	Reference         string    `json:"reference"`
	BankReference     string    `json:"bank_reference,omitempty"`
	RawNarrative      string    `json:"raw_narrative"`
	NeedsReview       bool      `json:"needs_review"`
	CreatedAt         time.Time `json:"created_at"`
}

// SignedAmountMinor is the amount with the credit/debit sign applied.
func (t BankTransaction) SignedAmountMinor() int64 {
	return t.Direction.Sign() * t.AmountMinor
}
