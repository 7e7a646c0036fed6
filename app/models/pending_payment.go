package models

import "time"

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
)

// PendingPayment tracks one checkout attempt until the provider confirms it.
// The only transition is pending -> completed.
type PendingPayment struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UserID            string     `gorm:"type:char(36);not null;index:idx_pending_team_user_status,priority:2" json:"user_id"`
	TeamID            string     `gorm:"type:char(36);not null;index:idx_pending_team_user_status,priority:1" json:"team_id"`
	MemberIDs         []string   `gorm:"type:text;serializer:json" json:"member_ids"`
	RobotIDs          []string   `gorm:"type:text;serializer:json" json:"robot_ids"`
	AmountCents       int64      `gorm:"not null" json:"amount_cents"`
	Currency          string     `gorm:"type:varchar(3);not null;default:'BRL'" json:"currency"`
	PreferenceID      string     `gorm:"type:varchar(191);default:'';index" json:"preference_id"`
	ProviderPaymentID string     `gorm:"type:varchar(64);default:'';index" json:"provider_payment_id"`
	ExternalReference string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"external_reference"`
	Status            string     `gorm:"type:varchar(20);not null;default:'pending';index:idx_pending_team_user_status,priority:3" json:"status"`
	HeldSeats         int        `gorm:"not null;default:0" json:"held_seats"`
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	CompletedAt       *time.Time `gorm:"default:null" json:"completed_at,omitempty"`
}

func (p *PendingPayment) IsCompleted() bool {
	return p.Status == PaymentStatusCompleted
}
