package repository

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/technovacao/registration/app/models"
	"github.com/technovacao/registration/internal/pkg/capacity"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db    *gorm.DB
	guard *capacity.Guard
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB, guard *capacity.Guard) UserRepository {
	return &userRepository{db: db, guard: guard}
}

// Register inserts a new user while holding a registration slot. The
// email check and the slot share the transaction with the insert.
func (r *userRepository) Register(user *models.User) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.User{}).Where("email = ?", user.Email).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrEmailTaken
		}
		if r.guard != nil {
			if err := r.guard.ReserveTx(tx, capacity.Registrations, 1); err != nil {
				return err
			}
		}
		if err := tx.Create(user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrEmailTaken
			}
			return err
		}
		return nil
	})
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(id string) (*models.User, error) {
	var user models.User
	err := r.db.Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmail retrieves a user by their email address
func (r *userRepository) GetByEmail(email string) (*models.User, error) {
	var user models.User
	err := r.db.Where("email = ?", models.NormalizeEmail(email)).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Update updates an existing user
func (r *userRepository) Update(user *models.User) error {
	return r.db.Save(user).Error
}

func (r *userRepository) UpdatePassword(id, passwordHash string) error {
	res := r.db.Model(&models.User{}).Where("id = ?", id).Update("password_hash", passwordHash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetAccommodation switches the accommodation flag and moves one slot of the
// accommodation ceiling with it. Setting the current value is a no-op.
func (r *userRepository) SetAccommodation(id string, want bool) (*models.User, error) {
	var user models.User
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&user).Error; err != nil {
			return err
		}
		if user.Accommodation == want {
			return nil
		}
		if r.guard != nil {
			var err error
			if want {
				err = r.guard.ReserveTx(tx, capacity.Accommodation, 1)
			} else {
				err = r.guard.ReleaseTx(tx, capacity.Accommodation, 1)
			}
			if err != nil {
				return err
			}
		}
		user.Accommodation = want
		return tx.Model(&user).Update("accommodation", want).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Count returns the total number of users
func (r *userRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.User{}).Count(&count).Error
	return count, err
}
