package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/technovacao/registration/app/models"
	"github.com/technovacao/registration/internal/pkg/security"
	icuser "github.com/technovacao/registration/internal/pkg/usercontext"
)

// RequireAuth validates the bearer token and installs the user context.
func RequireAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := security.BearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "missing bearer token",
				"code":    "unauthorized",
				"message": "missing bearer token",
			})
		}
		claims, err := security.VerifyToken(token, secret)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "invalid or expired token",
				"code":    "unauthorized",
				"message": "invalid or expired token",
			})
		}
		icuser.SetUserContext(c, icuser.UserContext{
			UserID:     claims.UserID,
			Email:      claims.Email,
			IsLoggedIn: true,
			IsAdmin:    claims.Role == models.ROLE_ADMIN,
		})
		return c.Next()
	}
}

// RequireAdmin ensures a logged-in admin. Must run after RequireAuth.
func RequireAdmin(c *fiber.Ctx) error {
	if !icuser.IsLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "login required",
			"code":    "unauthorized",
			"message": "login required",
		})
	}
	if !icuser.IsAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "admin role required",
			"code":    "forbidden",
			"message": "admin role required",
		})
	}
	return c.Next()
}
