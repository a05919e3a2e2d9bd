package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"waqf-reconciliation-backend/internal/models"
)

type DistributionRepository struct {
	db *gorm.DB
}

func NewDistributionRepository(db *gorm.DB) *DistributionRepository {
	return &DistributionRepository{db: db}
}

func (r *DistributionRepository) Create(ctx context.Context, job *models.DistributionJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *DistributionRepository) Get(ctx context.Context, id string) (*models.DistributionJob, error) {
	var job models.DistributionJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *DistributionRepository) Save(ctx context.Context, job *models.DistributionJob) error {
	return r.db.WithContext(ctx).Save(job).Error
}

// UpdateStatus changes only the status column, leaving the snapshot intact.
func (r *DistributionRepository) UpdateStatus(ctx context.Context, id, status string) error {
	return r.db.WithContext(ctx).Model(&models.DistributionJob{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()}).Error
}

func (r *DistributionRepository) List(ctx context.Context, limit int) ([]models.DistributionJob, error) {
	var jobs []models.DistributionJob
	if limit <= 0 {
		limit = 50
	}
	err := r.db.WithContext(ctx).Omit("state").Order("created_at DESC").Limit(limit).Find(&jobs).Error
	return jobs, err
}
