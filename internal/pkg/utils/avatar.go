package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

// GetGravatarURL generates a Gravatar URL for the given email address
// Default size is 200px if not specified
func GetGravatarURL(email string, size int) string {
	if size <= 0 {
		size = 200
	}

	email = strings.ToLower(strings.TrimSpace(email))
	hash := md5.Sum([]byte(email))

	return fmt.Sprintf("https://www.gravatar.com/avatar/%x?s=%d&d=mp", hash, size)
}

// AvatarURL returns the uploaded photo, or the Gravatar of email when the
// user never uploaded one.
func AvatarURL(photo, email string) string {
	if photo != "" {
		return photo
	}
	if strings.TrimSpace(email) == "" {
		return ""
	}
	return GetGravatarURL(email, 0)
}
