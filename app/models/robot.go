package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Robot struct {
	ID         string     `gorm:"type:char(36);primaryKey" json:"id"`
	Name       string     `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=1,max=150"`
	Photo      string     `gorm:"type:varchar(500);default:''" json:"photo"`
	TeamID     string     `gorm:"type:char(36);not null;index" json:"team_id" validate:"required"`
	CategoryID uint       `gorm:"not null;index" json:"category_id" validate:"required"`
	IsPaid     bool       `gorm:"default:false;index" json:"is_paid"`
	PaidAt     *time.Time `gorm:"default:null" json:"paid_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r *Robot) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// RobotView is a robot listed with its category or team name.
type RobotView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Photo    string `json:"photo"`
	IsPaid   bool   `json:"is_paid"`
	Category string `json:"category,omitempty"`
	TeamName string `json:"team_name,omitempty"`
}
