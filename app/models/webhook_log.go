package models

import "time"

const (
	WebhookSourceMercadoPago = "mercadopago"
	WebhookSourceEven3       = "even3"
)

const (
	SignatureNotChecked = "unchecked"
	SignatureValid      = "valid"
	SignatureInvalid    = "invalid"
)

// WebhookLog is an append-only record of one inbound provider notification.
// Rows are ordered by ID, which follows arrival order.
type WebhookLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Source     string    `gorm:"type:varchar(20);not null;index" json:"source"`
	Action     string    `gorm:"type:varchar(100);not null;default:''" json:"action"`
	Payload    string    `gorm:"type:longtext;not null" json:"payload"`
	Headers    string    `gorm:"type:text" json:"headers"`
	Query      string    `gorm:"type:text" json:"query"`
	Signature  string    `gorm:"type:varchar(20);not null;default:'unchecked'" json:"signature"`
	ReceivedAt time.Time `gorm:"autoCreateTime;index" json:"received_at"`
}
