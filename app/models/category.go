package models

import "time"

// Category is read-mostly reference data with a robot slot limit.
type Category struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"type:varchar(150);not null;uniqueIndex" json:"name"`
	RobotLimit int       `gorm:"not null;default:0" json:"robot_limit"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// CategoryStats reports both robot counts of a category: every registered
// robot and only the paid ones.
type CategoryStats struct {
	ID                 uint   `json:"id"`
	Name               string `json:"name"`
	RobotLimit         int    `json:"robot_limit"`
	RegisteredCount    int64  `json:"registered"`
	ConfirmedPaidCount int64  `json:"confirmed_paid"`
}
