package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/technovacao/registration/app/models"
	"github.com/technovacao/registration/internal/pkg/capacity"
)

type robotRepository struct {
	db *gorm.DB
}

// NewRobotRepository creates a new robot repository instance
func NewRobotRepository(db *gorm.DB) RobotRepository {
	return &robotRepository{db: db}
}

// Create inserts a robot while the category row is locked, so the category
// limit check and the insert cannot interleave with another registration.
func (r *robotRepository) Create(robot *models.Robot) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if _, err := capacity.CheckCategoryTx(tx, robot.CategoryID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCategoryMissing
			}
			return err
		}
		return tx.Create(robot).Error
	})
}

// ListByTeam returns the team's robots with their category names.
func (r *robotRepository) ListByTeam(teamID string) ([]models.RobotView, error) {
	var rows []models.RobotView
	err := r.db.Table("robots").
		Select("robots.id, robots.name, robots.photo, robots.is_paid, categories.name AS category").
		Joins("JOIN categories ON categories.id = robots.category_id").
		Where("robots.team_id = ?", teamID).
		Order("robots.created_at ASC").
		Scan(&rows).Error
	return rows, err
}

// ListByCategory returns the category's robots with their team names.
func (r *robotRepository) ListByCategory(categoryID uint) ([]models.RobotView, error) {
	var rows []models.RobotView
	err := r.db.Table("robots").
		Select("robots.id, robots.name, robots.photo, robots.is_paid, teams.name AS team_name").
		Joins("JOIN teams ON teams.id = robots.team_id").
		Where("robots.category_id = ?", categoryID).
		Order("robots.created_at ASC").
		Scan(&rows).Error
	return rows, err
}
