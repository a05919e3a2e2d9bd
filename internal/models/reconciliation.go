package models

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionOpen       SessionStatus = "open"
	SessionReconciled SessionStatus = "reconciled"
)

type ReconciliationSession struct {
	ID                  uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	StatementID         string        `gorm:"index" json:"statement_id"`
	AccountIdentifier   string        `gorm:"index" json:"account_identifier"`
	Currency            string        `json:"currency"`
	Format              string        `json:"format"`
	OpeningBalanceMinor int64         `json:"opening_balance_minor"`
	ClosingBalanceMinor int64         `json:"closing_balance_minor"`
	Status              SessionStatus `gorm:"index" json:"status"`
	ClosedBy            string        `json:"closed_by,omitempty"`
	ClosedAt            *time.Time    `json:"closed_at,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// Match is a confirmed one-to-one pairing. ConfirmedBy is "auto" or a user id.
type Match struct {
	ID                       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID                uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_match_bank;uniqueIndex:idx_match_ledger" json:"session_id"`
	BankTransactionID        uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_match_bank" json:"bank_transaction_id"`
	LedgerEntryID            uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_match_ledger" json:"ledger_entry_id"`
	ConfirmedAt              time.Time `json:"confirmed_at"`
	ConfirmedBy              string    `json:"confirmed_by"`
	ConfidenceAtConfirmation float64   `json:"confidence_at_confirmation"`
}

const ConfirmedByAuto = "auto"

type ReconcilingKind string

const (
	OutstandingCheck ReconcilingKind = "outstanding_check"
	DepositInTransit ReconcilingKind = "deposit_in_transit"
)

func (k ReconcilingKind) Valid() bool {
	return k == OutstandingCheck || k == DepositInTransit
}

type ItemSide string

const (
	SideBank   ItemSide = "bank"
	SideLedger ItemSide = "ledger"
)

// ReconcilingItem tags a bank transaction or ledger entry as a known timing difference.
type ReconcilingItem struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID uuid.UUID       `gorm:"type:uuid;index" json:"session_id"`
	ItemID    uuid.UUID       `gorm:"type:uuid;index" json:"item_id"`
	Side      ItemSide        `json:"side"`
	Kind      ReconcilingKind `json:"kind"`
	TaggedBy  string          `json:"tagged_by"`
	TaggedAt  time.Time       `json:"tagged_at"`
}
