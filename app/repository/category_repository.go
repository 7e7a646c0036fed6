package repository

import (
	"gorm.io/gorm"

	"github.com/technovacao/registration/app/models"
	"github.com/technovacao/registration/internal/pkg/capacity"
)

type categoryRepository struct {
	db *gorm.DB
}

// NewCategoryRepository creates a new category repository instance
func NewCategoryRepository(db *gorm.DB) CategoryRepository {
	return &categoryRepository{db: db}
}

func (r *categoryRepository) Create(category *models.Category) error {
	return r.db.Create(category).Error
}

func (r *categoryRepository) GetByID(id uint) (*models.Category, error) {
	var category models.Category
	if err := r.db.First(&category, id).Error; err != nil {
		return nil, err
	}
	return &category, nil
}

// ListWithStats returns every category ordered by name, with the number of
// registered robots and the number of those already paid. The counts come
// from the same queries the category ceiling uses.
func (r *categoryRepository) ListWithStats() ([]models.CategoryStats, error) {
	var categories []models.Category
	if err := r.db.Order("name ASC").Find(&categories).Error; err != nil {
		return nil, err
	}

	rows := make([]models.CategoryStats, 0, len(categories))
	for _, category := range categories {
		registered, err := capacity.RegisteredCount(r.db, category.ID)
		if err != nil {
			return nil, err
		}
		paid, err := capacity.ConfirmedPaidCount(r.db, category.ID)
		if err != nil {
			return nil, err
		}
		rows = append(rows, models.CategoryStats{
			ID:                 category.ID,
			Name:               category.Name,
			RobotLimit:         category.RobotLimit,
			RegisteredCount:    registered,
			ConfirmedPaidCount: paid,
		})
	}
	return rows, nil
}
