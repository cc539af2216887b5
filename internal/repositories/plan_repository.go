package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vtupay/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrPlanNotFound = errors.New("data plan not found")

// PlanRepository reads and maintains the data plan catalogue.
type PlanRepository interface {
	GetByCode(ctx context.Context, code string) (*models.DataPlan, error)
	ListByNetwork(ctx context.Context, network string) ([]models.DataPlan, error)
	Upsert(ctx context.Context, plans []models.DataPlan) error
}

type planRepository struct {
	db *gorm.DB
}

func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

func (r *planRepository) GetByCode(ctx context.Context, code string) (*models.DataPlan, error) {
	var plan models.DataPlan
	err := r.db.WithContext(ctx).Where("code = ? AND active = ?", code, true).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return &plan, nil
}

func (r *planRepository) ListByNetwork(ctx context.Context, network string) ([]models.DataPlan, error) {
	var plans []models.DataPlan
	db := r.db.WithContext(ctx).Where("active = ?", true)
	if network != "" {
		db = db.Where("network = ?", strings.ToLower(network))
	}
	if err := db.Order("price_minor").Find(&plans).Error; err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return plans, nil
}

// Upsert inserts plans or refreshes the existing ones by code.
func (r *planRepository) Upsert(ctx context.Context, plans []models.DataPlan) error {
	if len(plans) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"network", "name", "price_minor", "validity_days", "active", "updated_at"}),
	}).Create(&plans).Error
	if err != nil {
		return fmt.Errorf("failed to upsert plans: %w", err)
	}
	return nil
}
