package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	AuditActionAutoMatch   = "auto_match"
	AuditActionManualMatch = "manual_match"
	AuditActionUnmatch     = "unmatch"
	AuditActionTag         = "tag_reconciling_item"
	AuditActionUntag       = "untag_reconciling_item"
	AuditActionClose       = "close"
	AuditActionAdjustment  = "adjustment"
)

type MatchAuditLog struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID     uuid.UUID      `gorm:"type:uuid;index" json:"session_id"`
	TransactionID *uuid.UUID     `gorm:"type:uuid;index" json:"transaction_id,omitempty"`
	LedgerEntryID *uuid.UUID     `gorm:"type:uuid" json:"ledger_entry_id,omitempty"`
	Action        string         `json:"action"`
	PerformedBy   string         `json:"performed_by"`
	Reason        string         `json:"reason,omitempty"`
	Details       datatypes.JSON `json:"details,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
