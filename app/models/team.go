package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	TEAM_ROLE_LEADER = "leader"
	TEAM_ROLE_MEMBER = "member"
)

// Team is led by exactly one user; a user leads at most one team.
type Team struct {
	ID          string    `gorm:"type:char(36);primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=2,max=150"`
	Institution string    `gorm:"type:varchar(200);default:''" json:"institution" validate:"max=200"`
	Photo       string    `gorm:"type:varchar(500);default:''" json:"photo"`
	LeaderID    string    `gorm:"type:char(36);not null;uniqueIndex" json:"leader_id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t *Team) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// TeamMember is one roster entry; IsPaid is written only by payment reconciliation.
type TeamMember struct {
	TeamID    string     `gorm:"type:char(36);primaryKey" json:"team_id"`
	UserID    string     `gorm:"type:char(36);primaryKey;index" json:"user_id"`
	Role      string     `gorm:"type:varchar(20);not null;default:'member'" json:"role"`
	IsPaid    bool       `gorm:"default:false;index" json:"is_paid"`
	PaidAt    *time.Time `gorm:"default:null" json:"paid_at,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// TeamMemberView joins a roster entry with its user's public profile.
type TeamMemberView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Photo  string `json:"photo"`
	Role   string `json:"role"`
	IsPaid bool   `json:"is_paid"`
}

// TeamSummary is a team as seen by one of its members.
type TeamSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsLeader bool   `json:"is_leader"`
}
