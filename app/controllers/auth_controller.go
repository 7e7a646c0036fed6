package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/technovacao/registration/app/models"
	"github.com/technovacao/registration/app/repository"
	"github.com/technovacao/registration/internal/pkg/config"
	"github.com/technovacao/registration/internal/pkg/mail"
	"github.com/technovacao/registration/internal/pkg/media"
	"github.com/technovacao/registration/internal/pkg/security"
	"github.com/technovacao/registration/internal/pkg/usercontext"
	"github.com/technovacao/registration/internal/pkg/utils"
)

type registerRequest struct {
	Name      string `json:"name" form:"name" validate:"required,min=2,max=150"`
	Email     string `json:"email" form:"email" validate:"required,email,max=200"`
	Password  string `json:"password" form:"password" validate:"required,min=6,max=72"`
	Birthdate string `json:"birthdate" form:"birthdate" validate:"required,datetime=2006-01-02"`
	Phone     string `json:"phone" form:"phone" validate:"required,max=30"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type accommodationRequest struct {
	Accommodation *bool `json:"accommodation" validate:"required"`
}

// AuthController handles sign-up, login and account settings.
type AuthController struct {
	repos       *repository.Repositories
	uploader    media.Uploader
	mailer      mail.Sender
	jwt         config.JWT
	frontendURL string
}

func NewAuthController(repos *repository.Repositories, uploader media.Uploader, mailer mail.Sender, jwt config.JWT, frontendURL string) *AuthController {
	return &AuthController{
		repos:       repos,
		uploader:    uploader,
		mailer:      mailer,
		jwt:         jwt,
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}
}

func (ac *AuthController) HandleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "could not parse request body")
	}
	if err := validate.Struct(req); err != nil {
		return validationError(c, err)
	}
	birthdate, _ := time.Parse("2006-01-02", req.Birthdate)

	user, err := models.NewUser(req.Name, req.Email, req.Password, req.Phone, &birthdate)
	if err != nil {
		return validationError(c, err)
	}

	photo, err := uploadPhoto(c, ac.uploader, "users")
	if err != nil {
		return photoError(c, err)
	}
	user.Photo = photo

	if err := ac.repos.User.Register(user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return jsonError(c, fiber.StatusBadRequest, "email_taken", "email already registered")
		}
		if handled, rerr := capacityError(c, err); handled {
			return rerr
		}
		log.Errorf("[Auth] Failed to register %s: %v", user.Email, err)
		return jsonError(c, fiber.StatusInternalServerError, "register_failed", "could not create the account")
	}

	log.Infof("[Auth] Registered user %s", user.ID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":    user.ID,
		"name":  user.Name,
		"email": user.Email,
	})
}

func (ac *AuthController) HandleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "could not parse request body")
	}
	if err := validate.Struct(req); err != nil {
		return validationError(c, err)
	}

	user, err := ac.repos.User.GetByEmail(req.Email)
	if err != nil || !user.CheckPassword(req.Password) {
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Errorf("[Auth] Login lookup failed: %v", err)
		}
		return jsonError(c, fiber.StatusUnauthorized, "invalid_credentials", "invalid email or password")
	}

	token, err := security.GenerateToken(user.ID, user.Email, user.Role, ac.jwt.TTL, ac.jwt.Secret)
	if err != nil {
		log.Errorf("[Auth] Failed to issue token: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "token_failed", "could not issue a session token")
	}

	return c.JSON(fiber.Map{
		"token": token,
		"user": fiber.Map{
			"id":    user.ID,
			"name":  user.Name,
			"email": user.Email,
		},
	})
}

func (ac *AuthController) HandleMe(c *fiber.Ctx) error {
	user, err := ac.repos.User.GetByID(usercontext.GetUserID(c))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "user not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "failed to load user")
	}
	user.Photo = utils.AvatarURL(user.Photo, user.Email)
	return c.JSON(user)
}

// HandleForgotPassword always answers success so the endpoint does not
// reveal which emails are registered.
func (ac *AuthController) HandleForgotPassword(c *fiber.Ctx) error {
	var req forgotPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "could not parse request body")
	}
	if err := validate.Struct(req); err != nil {
		return validationError(c, err)
	}

	ok := fiber.Map{"success": true}
	user, err := ac.repos.User.GetByEmail(req.Email)
	if err != nil {
		return c.JSON(ok)
	}

	raw, token := models.NewPasswordResetToken(user.ID, time.Now())
	if err := ac.repos.PasswordReset.Create(token); err != nil {
		log.Errorf("[Auth] Failed to store reset token for %s: %v", user.ID, err)
		return c.JSON(ok)
	}
	if ac.mailer != nil {
		link := ac.frontendURL + "/reset-password.html?token=" + raw
		if err := ac.mailer.SendPasswordReset(user.Email, user.Name, link); err != nil {
			log.Errorf("[Auth] Failed to mail reset link to %s: %v", user.ID, err)
		}
	}
	return c.JSON(ok)
}

func (ac *AuthController) HandleResetPassword(c *fiber.Ctx) error {
	var req resetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "could not parse request body")
	}
	if err := validate.Struct(req); err != nil {
		return validationError(c, err)
	}

	hash, err := models.HashPassword(req.Password)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not hash password")
	}
	if _, err := ac.repos.PasswordReset.Consume(strings.TrimSpace(req.Token), hash); err != nil {
		if errors.Is(err, repository.ErrResetTokenUsed) {
			return jsonError(c, fiber.StatusBadRequest, "invalid_token", err.Error())
		}
		log.Errorf("[Auth] Password reset failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not reset password")
	}
	return c.JSON(fiber.Map{"success": true})
}

func (ac *AuthController) HandleAccommodation(c *fiber.Ctx) error {
	var req accommodationRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "could not parse request body")
	}
	if err := validate.Struct(req); err != nil {
		return validationError(c, err)
	}

	user, err := ac.repos.User.SetAccommodation(usercontext.GetUserID(c), *req.Accommodation)
	if err != nil {
		if handled, rerr := capacityError(c, err); handled {
			return rerr
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "user not found")
		}
		log.Errorf("[Auth] Accommodation update failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not update accommodation")
	}
	return c.JSON(fiber.Map{"accommodation": user.Accommodation})
}
