// handlers/errors.go
package handlers

import (
	"errors"

	"event-passport/services"

	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"
)

// statusFor maps service errors to HTTP statuses. Unknown errors are 500s.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrPassportNotFound),
		errors.Is(err, services.ErrBadgeNotFound):
		return fiber.StatusNotFound
	case services.IsQrScanError(err):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, services.ErrSecretBadgeManual),
		errors.Is(err, services.ErrQrScanRequired),
		errors.Is(err, services.ErrQrNotConfigured),
		errors.Is(err, services.ErrNotQrBadge):
		return fiber.StatusForbidden
	case errors.Is(err, services.ErrHonorConfirmationRequired),
		errors.Is(err, services.ErrQrImageExists):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrInvalidPassportDocument),
		errors.Is(err, services.ErrBundleNoDocument):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrInvalidCredentials):
		return fiber.StatusUnauthorized
	case errors.Is(err, services.ErrAdminDisabled):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, services.ErrSessionClosed):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// errorCode is a stable machine-readable name for the errors a client is
// expected to handle.
func errorCode(err error) string {
	switch {
	case errors.Is(err, services.ErrHonorConfirmationRequired):
		return "honor_confirmation_required"
	case errors.Is(err, services.ErrQrScanRequired):
		return "qr_scan_required"
	case errors.Is(err, services.ErrQrImageExists):
		return "qr_image_exists"
	case errors.Is(err, services.ErrQrMalformed):
		return "qr_malformed"
	case errors.Is(err, services.ErrQrWrongPassport):
		return "qr_wrong_passport"
	case errors.Is(err, services.ErrQrWrongBadge):
		return "qr_wrong_badge"
	case errors.Is(err, services.ErrQrWrongSecret):
		return "qr_wrong_secret"
	}
	return ""
}

func writeError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	body := fiber.Map{"error": err.Error()}
	if code := errorCode(err); code != "" {
		body["code"] = code
	}
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		body["error"] = services.ErrInvalidPassportDocument.Error()
		body["problems"] = verr.Problems
	}
	if status == fiber.StatusInternalServerError {
		log.Errorf("❌ [HTTP] %s %s: %v", c.Method(), c.Path(), err)
		body = fiber.Map{"error": "internal server error"}
	}
	return c.Status(status).JSON(body)
}
