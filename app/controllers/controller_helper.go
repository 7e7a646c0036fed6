package controllers

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/technovacao/registration/internal/pkg/capacity"
	"github.com/technovacao/registration/internal/pkg/media"
)

var validate = validator.New()

// jsonError renders {error, code, message}. error holds the readable text
// the frontend shows as is; code is the stable machine value.
func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(errorBody(code, message))
}

func errorBody(code, message string) fiber.Map {
	return fiber.Map{
		"error":   message,
		"code":    code,
		"message": message,
	}
}

// validationError renders the first failing field of a validator error.
func validationError(c *fiber.Ctx, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return jsonError(c, fiber.StatusBadRequest, "validation_failed",
			strings.ToLower(fe.Field())+" failed on '"+fe.Tag()+"'")
	}
	return jsonError(c, fiber.StatusBadRequest, "validation_failed", err.Error())
}

// capacityError answers a denied ceiling with the remaining slots.
func capacityError(c *fiber.Ctx, err error) (bool, error) {
	var capErr *capacity.CapacityError
	if !errors.As(err, &capErr) {
		return false, nil
	}
	body := errorBody("capacity_exceeded", capErr.Error())
	body["remaining"] = capErr.Remaining
	return true, c.Status(fiber.StatusConflict).JSON(body)
}

// uploadPhoto stores the optional "photo" form file and returns its URL.
// A missing file or disabled media host yields "".
func uploadPhoto(c *fiber.Ctx, uploader media.Uploader, folder string) (string, error) {
	if uploader == nil {
		return "", nil
	}
	fh, err := c.FormFile("photo")
	if err != nil {
		return "", nil
	}
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	url, err := uploader.Upload(c.UserContext(), folder, fh.Filename, f)
	if errors.Is(err, media.ErrDisabled) {
		log.Debugf("[Media] Uploads disabled, ignoring photo %s", fh.Filename)
		return "", nil
	}
	return url, err
}

// isPhotoRejected reports whether an upload error is the client's fault.
func isPhotoRejected(err error) bool {
	return errors.Is(err, media.ErrTooLarge) ||
		errors.Is(err, media.ErrUnsupportedFormat) ||
		errors.Is(err, media.ErrScriptableContent)
}

func photoError(c *fiber.Ctx, err error) error {
	if isPhotoRejected(err) {
		return jsonError(c, fiber.StatusBadRequest, "invalid_photo", err.Error())
	}
	log.Errorf("[Media] Photo upload failed: %v", err)
	return jsonError(c, fiber.StatusBadGateway, "photo_upload_failed", "could not store the photo")
}
