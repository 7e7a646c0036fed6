package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/technovacao/registration/app/models"
)

type passwordResetRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewPasswordResetRepository creates a new password reset repository instance
func NewPasswordResetRepository(db *gorm.DB) PasswordResetRepository {
	return &passwordResetRepository{db: db, now: time.Now}
}

func (r *passwordResetRepository) Create(token *models.PasswordResetToken) error {
	return r.db.Create(token).Error
}

// Consume marks the token used and stores the new password hash. A token can
// be consumed once, and only before it expires.
func (r *passwordResetRepository) Consume(rawToken string, newPasswordHash string) (*models.User, error) {
	var user models.User
	now := r.now()
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var token models.PasswordResetToken
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token_hash = ?", models.HashResetToken(rawToken)).
			First(&token).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrResetTokenUsed
		}
		if err != nil {
			return err
		}
		if !token.Usable(now) {
			return ErrResetTokenUsed
		}

		res := tx.Model(&models.PasswordResetToken{}).
			Where("id = ? AND used_at IS NULL", token.ID).
			Update("used_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrResetTokenUsed
		}

		if err := tx.Model(&models.User{}).Where("id = ?", token.UserID).Update("password_hash", newPasswordHash).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", token.UserID).First(&user).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}
