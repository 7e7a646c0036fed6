package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

const PasswordResetTTL = time.Hour

// PasswordResetToken stores the SHA-256 of a one-time reset token.
type PasswordResetToken struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    string     `gorm:"type:char(36);not null;index" json:"user_id"`
	TokenHash string     `gorm:"type:char(64);not null;uniqueIndex" json:"-"`
	ExpiresAt time.Time  `gorm:"not null" json:"expires_at"`
	UsedAt    *time.Time `gorm:"default:null" json:"used_at,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// NewPasswordResetToken returns the raw token to mail and the row to persist.
func NewPasswordResetToken(userID string, now time.Time) (string, *PasswordResetToken) {
	raw := uuid.NewString()
	return raw, &PasswordResetToken{
		UserID:    userID,
		TokenHash: HashResetToken(raw),
		ExpiresAt: now.Add(PasswordResetTTL),
	}
}

func HashResetToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Usable reports whether the token is unused and not expired at now.
func (t *PasswordResetToken) Usable(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}
