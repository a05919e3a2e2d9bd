package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"waqf-reconciliation-backend/internal/models"
)

type LedgerEntryRepository struct {
	db *gorm.DB
}

func NewLedgerEntryRepository(db *gorm.DB) *LedgerEntryRepository {
	return &LedgerEntryRepository{db: db}
}

// FindCandidates returns the entries of an account posted within [from, to],
// in posting order. An empty account matches every account.
func (r *LedgerEntryRepository) FindCandidates(ctx context.Context, account string, from, to time.Time) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	q := r.db.WithContext(ctx).Where("posting_date BETWEEN ? AND ?", from, to)
	if account != "" {
		q = q.Where("account_identifier = ?", account)
	}
	err := q.Order("posting_date ASC, id ASC").Find(&entries).Error
	return entries, err
}

func (r *LedgerEntryRepository) FindByAmount(ctx context.Context, amountMinor int64) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("amount_minor = ?", amountMinor).
		Order("posting_date ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *LedgerEntryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := r.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// Search backs the manual lookup screen. All filters are optional.
func (r *LedgerEntryRepository) Search(ctx context.Context, query string, amountMinor int64, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	q := r.db.WithContext(ctx).Model(&models.LedgerEntry{})
	if query != "" {
		like := "%" + strings.ToLower(query) + "%"
		q = q.Where("LOWER(reference) LIKE ? OR LOWER(description) LIKE ?", like, like)
	}
	if amountMinor > 0 {
		q = q.Where("amount_minor = ?", amountMinor)
	}
	if limit <= 0 {
		limit = 50
	}
	err := q.Order("posting_date DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

// Create inserts entries, skipping ids that already exist.
func (r *LedgerEntryRepository) Create(ctx context.Context, entries []models.LedgerEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&entries, 500)
	return res.RowsAffected, res.Error
}

func (r *LedgerEntryRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.LedgerEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&entries).Error
	return entries, err
}
