package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	ROLE_USER  = "user"
	ROLE_ADMIN = "admin"
)

type User struct {
	ID            string     `gorm:"type:char(36);primaryKey" json:"id"`
	Name          string     `gorm:"type:varchar(150)" json:"name" validate:"required,min=2,max=150"`
	Email         string     `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,max=200"`
	PasswordHash  string     `gorm:"type:text" json:"-" validate:"required"`
	Birthdate     *time.Time `gorm:"type:date;default:null" json:"birthdate,omitempty"`
	Phone         string     `gorm:"type:varchar(30);default:''" json:"phone" validate:"max=30"`
	Photo         string     `gorm:"type:varchar(500);default:''" json:"photo"`
	Accommodation bool       `gorm:"default:false;index" json:"accommodation"`
	Role          string     `gorm:"type:varchar(20);default:'user'" json:"role" validate:"oneof=user admin"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// NewUser builds a validated user with a hashed password. It is not persisted.
func NewUser(name, email, password, phone string, birthdate *time.Time) (*User, error) {
	pw, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &User{
		Name:         strings.TrimSpace(name),
		Email:        NormalizeEmail(email),
		PasswordHash: pw,
		Phone:        strings.TrimSpace(phone),
		Birthdate:    birthdate,
		Role:         ROLE_USER,
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)

	return string(bytes), err
}

// CheckPassword verifies the provided password against the stored hash.
func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

func (u *User) SetPassword(password string) error {
	hashed, err := HashPassword(password)
	if err != nil {
		return err
	}
	u.PasswordHash = hashed
	return nil
}

func (u *User) IsAdmin() bool {
	return u.Role == ROLE_ADMIN
}
