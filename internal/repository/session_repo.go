package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"waqf-reconciliation-backend/internal/models"
)

// SessionRecord is the persisted form of a reconciliation session.
type SessionRecord struct {
	Header       models.ReconciliationSession
	Transactions []models.BankTransaction
	Matches      []models.Match
	Reconciling  []models.ReconcilingItem
	Audit        []models.MatchAuditLog
}

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create stores a new session with its statement lines.
func (r *SessionRepository) Create(ctx context.Context, rec SessionRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec.Header).Error; err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		if len(rec.Transactions) > 0 {
			if err := tx.CreateInBatches(&rec.Transactions, 500).Error; err != nil {
				return fmt.Errorf("failed to store bank transactions: %w", err)
			}
		}
		if len(rec.Audit) > 0 {
			if err := tx.Create(&rec.Audit).Error; err != nil {
				return fmt.Errorf("failed to store audit log: %w", err)
			}
		}
		return nil
	})
}

func (r *SessionRepository) Load(ctx context.Context, id uuid.UUID) (SessionRecord, error) {
	var rec SessionRecord
	db := r.db.WithContext(ctx)
	if err := db.First(&rec.Header, "id = ?", id).Error; err != nil {
		return rec, err
	}
	if err := db.Where("session_id = ?", id).Order("line_number ASC").Find(&rec.Transactions).Error; err != nil {
		return rec, err
	}
	if err := db.Where("session_id = ?", id).Order("confirmed_at ASC").Find(&rec.Matches).Error; err != nil {
		return rec, err
	}
	if err := db.Where("session_id = ?", id).Order("tagged_at ASC").Find(&rec.Reconciling).Error; err != nil {
		return rec, err
	}
	if err := db.Where("session_id = ?", id).Order("created_at ASC").Find(&rec.Audit).Error; err != nil {
		return rec, err
	}
	return rec, nil
}

// Save writes the mutable parts of a session in one transaction. Matches and
// reconciling items are replaced; audit entries are only ever appended.
func (r *SessionRepository) Save(ctx context.Context, rec SessionRecord) error {
	id := rec.Header.ID
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&rec.Header).Error; err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}

		if err := tx.Where("session_id = ?", id).Delete(&models.Match{}).Error; err != nil {
			return err
		}
		if len(rec.Matches) > 0 {
			if err := tx.Create(&rec.Matches).Error; err != nil {
				return fmt.Errorf("failed to store matches: %w", err)
			}
		}

		if err := tx.Where("session_id = ?", id).Delete(&models.ReconcilingItem{}).Error; err != nil {
			return err
		}
		if len(rec.Reconciling) > 0 {
			if err := tx.Create(&rec.Reconciling).Error; err != nil {
				return fmt.Errorf("failed to store reconciling items: %w", err)
			}
		}

		if len(rec.Audit) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec.Audit).Error; err != nil {
				return fmt.Errorf("failed to append audit log: %w", err)
			}
		}
		return nil
	})
}

func (r *SessionRepository) List(ctx context.Context, status string, limit int) ([]models.ReconciliationSession, error) {
	var sessions []models.ReconciliationSession
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if status != "" && status != "all" {
		q = q.Where("status = ?", status)
	}
	if limit <= 0 {
		limit = 50
	}
	err := q.Limit(limit).Find(&sessions).Error
	return sessions, err
}

// FindByStatement looks up an existing session for a statement so imports are
// idempotent.
func (r *SessionRepository) FindByStatement(ctx context.Context, account, statementID string) (*models.ReconciliationSession, error) {
	var s models.ReconciliationSession
	err := r.db.WithContext(ctx).
		Where("account_identifier = ? AND statement_id = ?", account, statementID).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}
